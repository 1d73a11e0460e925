package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", 2*time.Second)
}

func TestPost_DecodesValidResponse(t *testing.T) {
	var gotBody map[string]any
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, PathTokenise, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"tokenisedText":"SUBJ_3D64 holds ACC_77AB"}`))
	})

	var out struct {
		TokenisedText string `json:"tokenisedText"`
	}
	err := c.Post(context.Background(), PathTokenise, map[string]string{"text": "x"}, &out)

	require.NoError(t, err)
	assert.Equal(t, "SUBJ_3D64 holds ACC_77AB", out.TokenisedText)
	assert.Equal(t, "x", gotBody["text"])
}

func TestBaseURLTrailingSlash(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"answer":"ok"}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second)
	assert.Equal(t, srv.URL, c.BaseURL())
	require.NoError(t, c.Post(context.Background(), PathSummarise, struct{}{}, nil))
	assert.Equal(t, PathSummarise, gotPath)
}

func TestPost_Non2xxIsTransportFailure(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend exploded", http.StatusServiceUnavailable)
	})

	err := c.Post(context.Background(), PathSearch, struct{}{}, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.False(t, errors.Is(err, ErrBadResponse))
	assert.Contains(t, err.Error(), "503")
}

func TestPost_UnreachableIsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := New(url, time.Second).Post(context.Background(), PathAnalyse, struct{}{}, nil)

	assert.ErrorIs(t, err, ErrTransport)
}

func TestPost_BadResponses(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{"not json", PathAnalyse, `<html>oops</html>`},
		{"missing entities", PathAnalyse, `{"spans":[]}`},
		{"negative offset", PathAnalyse, `{"entities":[{"type":"NRIC","start":-1,"end":3}]}`},
		{"missing level", PathPolicy, `{"reasons":["x"]}`},
		{"confidence out of range", PathPolicy, `{"level":"green","confidence":1.5}`},
		{"empty audit hash", PathAuditLog, `{"hash":""}`},
		{"snippet without id", PathSearch, `{"snippets":[{"textSanitised":"t"}]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			})
			var out map[string]any
			err := c.Post(context.Background(), tc.path, struct{}{}, &out)
			assert.ErrorIs(t, err, ErrBadResponse)
		})
	}
}

func TestPost_RequestOptionsSeeBody(t *testing.T) {
	var header string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Test-Len")
		_, _ = w.Write([]byte(`{"hash":"h1"}`))
	})

	opt := func(req *http.Request, body []byte) {
		req.Header.Set("X-Test-Len", string(rune('0'+len(body)%10)))
	}
	err := c.Post(context.Background(), PathAuditLog, map[string]int{"a": 1}, nil, opt)

	require.NoError(t, err)
	// {"a":1} is 7 bytes
	assert.Equal(t, "7", header)
}

func TestPost_HonoursContext(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Post(ctx, PathSummarise, struct{}{}, nil)

	assert.ErrorIs(t, err, ErrTransport)
}

func TestSchemasCompileForEveryPath(t *testing.T) {
	for _, p := range []string{PathAnalyse, PathTokenise, PathPolicy, PathSearch, PathSummarise, PathAuditLog} {
		assert.NotNil(t, schemaFor(p), p)
	}
	assert.Nil(t, schemaFor("/unknown"))
}
