package ner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonkalabs/kpg-client/internal/sanitize"
	"github.com/gonkalabs/kpg-client/internal/upstream"
)

func TestAnalyseAndTokenise(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch r.URL.Path {
		case upstream.PathAnalyse:
			assert.JSONEq(t, `"Tan Mei Ling, NRIC S1234567A"`, string(body["text"]))
			_, _ = w.Write([]byte(`{"entities":[
				{"type":"PERSON_NAME","start":0,"end":12,"value":"Tan Mei Ling"},
				{"type":"NRIC","start":19,"end":28,"value":"S1234567A"}]}`))
		case upstream.PathTokenise:
			var ents []sanitize.Entity
			require.NoError(t, json.Unmarshal(body["entities"], &ents))
			assert.Len(t, ents, 2)
			_, _ = w.Write([]byte(`{"tokenisedText":"SUBJ_3D64, NRIC ID_9F1A"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(upstream.New(srv.URL, time.Second))
	ctx := context.Background()

	ents, err := c.Analyse(ctx, "Tan Mei Ling, NRIC S1234567A")
	require.NoError(t, err)
	require.Len(t, ents, 2)
	assert.Equal(t, sanitize.Entity{Type: "NRIC", Start: 19, End: 28, Value: "S1234567A"}, ents[1])

	tok, err := c.Tokenise(ctx, "Tan Mei Ling, NRIC S1234567A", ents)
	require.NoError(t, err)
	assert.Equal(t, "SUBJ_3D64, NRIC ID_9F1A", tok)
}

func TestTokenise_SendsEmptyArrayNotNull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "[]", string(body["entities"]))
		_, _ = w.Write([]byte(`{"tokenisedText":"plain"}`))
	}))
	defer srv.Close()

	tok, err := New(upstream.New(srv.URL, time.Second)).Tokenise(context.Background(), "plain", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", tok)
}

func TestAnalyse_BadResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"entities":"nope"}`))
	}))
	defer srv.Close()

	ents, err := New(upstream.New(srv.URL, time.Second)).Analyse(context.Background(), "x")
	assert.ErrorIs(t, err, upstream.ErrBadResponse)
	assert.Nil(t, ents)
}
