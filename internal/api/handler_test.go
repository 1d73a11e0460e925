package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonkalabs/kpg-client/internal/audit"
	"github.com/gonkalabs/kpg-client/internal/evidence"
	"github.com/gonkalabs/kpg-client/internal/logging"
	"github.com/gonkalabs/kpg-client/internal/policy"
	"github.com/gonkalabs/kpg-client/internal/sanitize"
	"github.com/gonkalabs/kpg-client/internal/sanitize/ner"
	"github.com/gonkalabs/kpg-client/internal/upstream"
	"github.com/gonkalabs/kpg-client/internal/workflow"
)

const caseText = "Tan Mei Ling, NRIC S1234567A"

var responses = map[string]string{
	upstream.PathAnalyse: `{"entities":[
		{"type":"PERSON_NAME","start":0,"end":12,"value":"Tan Mei Ling"},
		{"type":"NRIC","start":19,"end":28,"value":"S1234567A"}]}`,
	upstream.PathTokenise:  `{"tokenisedText":"SUBJ_3D64, NRIC ID_9F1A"}`,
	upstream.PathPolicy:    `{"level":"green","reasons":[],"requiredActions":[]}`,
	upstream.PathSearch:    `{"snippets":[{"id":"s1","textSanitised":"SUBJ_3D64 in registry","source":"acra"}]}`,
	upstream.PathSummarise: `{"answer":"Listed in registry.","citations":["acra"]}`,
}

type fixture struct {
	api       *httptest.Server
	hub       *Hub
	failPaths map[string]bool
	hashes    atomic.Int64
}

func newFixture(t *testing.T, failPaths ...string) *fixture {
	t.Helper()
	f := &fixture{failPaths: map[string]bool{}}
	for _, p := range failPaths {
		f.failPaths[p] = true
	}

	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.failPaths[r.URL.Path] {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.URL.Path == upstream.PathAuditLog {
			n := f.hashes.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]string{"hash": strings.Repeat("a", int(n))})
			return
		}
		_, _ = w.Write([]byte(responses[r.URL.Path]))
	}))
	t.Cleanup(gw.Close)

	up := upstream.New(gw.URL, 2*time.Second)
	log := logging.Nop()
	f.hub = NewHub(log)
	orch := workflow.New(ner.New(up), policy.NewClient(up), evidence.New(up), audit.NewRemote(up, nil),
		workflow.WithObserver(f.hub.Publish))
	h := New(orch, workflow.NewRegistry(), f.hub, []string{"http://ui.local"}, log)
	f.api = httptest.NewServer(h.Routes())
	t.Cleanup(f.api.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.api.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func (f *fixture) createCase(t *testing.T, text string) string {
	t.Helper()
	resp, view := f.do(t, http.MethodPost, "/cases", map[string]string{"text": text})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := view["caseId"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestCaseLifecycle(t *testing.T) {
	f := newFixture(t)
	id := f.createCase(t, caseText)

	resp, view := f.do(t, http.MethodPost, "/cases/"+id+"/analyse", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "analysed", view["state"])

	resp, body := f.do(t, http.MethodGet, "/cases/"+id+"/overlay", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runs, _ := body["runs"].([]any)
	require.Len(t, runs, 3)
	assert.Equal(t, map[string]any{"text": ", NRIC ", "kind": "plain"}, runs[1])

	resp, view = f.do(t, http.MethodPost, "/cases/"+id+"/tokenise", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", view["state"])
	assert.Equal(t, true, view["permitted"])

	resp, view = f.do(t, http.MethodPost, "/cases/"+id+"/search", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "done", view["state"])
	assert.Equal(t, "Listed in registry.", view["answer"])

	resp, view = f.do(t, http.MethodPost, "/cases/"+id+"/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "idle", view["state"])
	assert.Equal(t, caseText, view["text"])

	resp, view = f.do(t, http.MethodPut, "/cases/"+id+"/text", map[string]string{"text": "new text"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "new text", view["text"])

	resp, _ = f.do(t, http.MethodDelete, "/cases/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/cases/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestErrorStatuses(t *testing.T) {
	t.Run("unknown case", func(t *testing.T) {
		f := newFixture(t)
		resp, body := f.do(t, http.MethodPost, "/cases/case-nope/analyse", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Contains(t, body["error"], "case-nope")
	})

	t.Run("precondition", func(t *testing.T) {
		f := newFixture(t)
		id := f.createCase(t, caseText)
		resp, body := f.do(t, http.MethodPost, "/cases/"+id+"/search", nil)
		assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
		assert.Equal(t, "search", body["stage"])
		assert.NotNil(t, body["view"])
	})

	t.Run("collaborator failure", func(t *testing.T) {
		f := newFixture(t, upstream.PathAnalyse)
		id := f.createCase(t, caseText)
		resp, body := f.do(t, http.MethodPost, "/cases/"+id+"/analyse", nil)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		assert.Equal(t, "analyse", body["stage"])
		view, _ := body["view"].(map[string]any)
		assert.Equal(t, "idle", view["state"])
	})

	t.Run("bad json", func(t *testing.T) {
		f := newFixture(t)
		id := f.createCase(t, caseText)
		req, err := http.NewRequest(http.MethodPut, f.api.URL+"/cases/"+id+"/text", strings.NewReader("{"))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

type parkedPII struct {
	entered chan struct{}
	release chan struct{}
}

func (p *parkedPII) Analyse(context.Context, string) ([]sanitize.Entity, error) {
	close(p.entered)
	<-p.release
	return nil, nil
}

func (p *parkedPII) Tokenise(context.Context, string, []sanitize.Entity) (string, error) {
	return "", nil
}

type hashAppender struct{}

func (hashAppender) Append(context.Context, audit.Request) (string, error) { return "h", nil }

func TestBusyIs409(t *testing.T) {
	pii := &parkedPII{entered: make(chan struct{}), release: make(chan struct{})}
	log := logging.Nop()
	orch := workflow.New(pii, nil, nil, hashAppender{})
	srv := httptest.NewServer(New(orch, workflow.NewRegistry(), NewHub(log), []string{"*"}, log).Routes())
	defer srv.Close()
	f := &fixture{api: srv}
	id := f.createCase(t, caseText)

	done := make(chan int, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/cases/"+id+"/analyse", "application/json", nil)
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()
	<-pii.entered

	resp, _ := f.do(t, http.MethodPost, "/cases/"+id+"/tokenise", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, "/cases/"+id, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(pii.release)
	assert.Equal(t, http.StatusOK, <-done)

	resp, _ = f.do(t, http.MethodDelete, "/cases/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/cases/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodOptions, f.api.URL+"/cases", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://ui.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "http://ui.local", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebsocketFeed(t *testing.T) {
	f := newFixture(t)
	id := f.createCase(t, caseText)

	wsURL := "ws" + strings.TrimPrefix(f.api.URL, "http") + "/cases/" + id + "/ws"
	header := http.Header{"Origin": []string{"http://ui.local"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	var first workflow.View
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, id, first.CaseID)
	assert.Equal(t, workflow.StateIdle, first.State)

	require.Eventually(t, func() bool { return f.hub.Subscribers(id) == 1 }, time.Second, 10*time.Millisecond)
	r, _ := f.do(t, http.MethodPost, "/cases/"+id+"/analyse", nil)
	require.Equal(t, http.StatusOK, r.StatusCode)

	var states []workflow.State
	for {
		var v workflow.View
		require.NoError(t, conn.ReadJSON(&v))
		states = append(states, v.State)
		if v.State == workflow.StateAnalysed && !v.Busy {
			break
		}
	}
	assert.Contains(t, states, workflow.StateAnalysing)
}

func TestWebsocketRejectsForeignOrigin(t *testing.T) {
	f := newFixture(t)
	id := f.createCase(t, caseText)

	wsURL := "ws" + strings.TrimPrefix(f.api.URL, "http") + "/cases/" + id + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
