package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QTest-hq/riskplan/internal/changedetect"
	"github.com/QTest-hq/riskplan/internal/config"
	"github.com/QTest-hq/riskplan/internal/dispatch"
	"github.com/QTest-hq/riskplan/internal/localstore"
	"github.com/QTest-hq/riskplan/internal/modify"
	"github.com/QTest-hq/riskplan/internal/plan"
	"github.com/QTest-hq/riskplan/internal/planner"
	"github.com/QTest-hq/riskplan/internal/reasoning"
	"github.com/QTest-hq/riskplan/internal/scoring"
	"github.com/QTest-hq/riskplan/internal/selector"
	"github.com/QTest-hq/riskplan/internal/session"
	"github.com/QTest-hq/riskplan/internal/testutil"
	"github.com/QTest-hq/riskplan/internal/versions"
)

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()

	repo, err := localstore.Open(localstore.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	require.NoError(t, repo.ImportMetrics(context.Background(), testutil.SampleMetrics()))

	sessions := session.NewStore(0)
	t.Cleanup(sessions.Close)

	fake := &reasoning.Fake{}
	p := planner.New(planner.Deps{
		Sessions:  sessions,
		Detector:  changedetect.New(fake, nil, true),
		Selector:  selector.New(repo, scoring.NewEngine(scoring.NewMemoryRPN(0), nil), fake, selector.Options{}),
		Versions:  versions.NewStore(repo, nil),
		Modifier:  modify.New(repo, fake),
		Repo:      repo,
		Reasoning: fake,
	})

	cfg := &config.Config{ReasoningTimeout: config.DefaultReasoningTimeout}
	server, err := NewServer(cfg, p, opts...)
	require.NoError(t, err)
	return server
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func envelopeOf(t *testing.T, rr *httptest.ResponseRecorder) dispatch.Envelope {
	t.Helper()
	var env dispatch.Envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return env
}

var loginBody = map[string]any{
	"user_prompt":   "generate 5 test cases for module Login, class 1",
	"module":        []string{"Login"},
	"priority":      []string{"Class 1"},
	"output_counts": 5,
}

func TestGenerate_NewSession(t *testing.T) {
	s := newTestServer(t)

	rr := do(t, s, "POST", "/api/v1/sessions/generate", loginBody)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	env := envelopeOf(t, rr)
	assert.NotEmpty(t, env.SessionID)
	assert.Equal(t, dispatch.OpGenerate, env.Operation)
	assert.Equal(t, 1, env.Version)

	rr = do(t, s, "GET", "/api/v1/sessions/"+env.SessionID+"/versions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var metas []plan.VersionMeta
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &metas))
	require.Len(t, metas, 1)
	assert.Equal(t, plan.StatusSaved, metas[0].Status)
}

func TestGenerate_InvalidRequest(t *testing.T) {
	s := newTestServer(t)

	rr := do(t, s, "POST", "/api/v1/sessions/S1/generate", map[string]any{"module": []string{"Login"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	env := envelopeOf(t, rr)
	assert.Equal(t, dispatch.StatusError, env.Status)
	assert.Equal(t, "S1", env.SessionID)

	req := httptest.NewRequest("POST", "/api/v1/sessions/S1/generate", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionFlow(t *testing.T) {
	s := newTestServer(t)
	base := "/api/v1/sessions/S1"

	rr := do(t, s, "POST", base+"/generate", loginBody)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	generated := envelopeOf(t, rr)
	require.NotNil(t, generated.TCSData)
	first := generated.TCSData.TestCases[0].ID

	rr = do(t, s, "POST", base+"/remove", EditRequest{IDs: []int64{first}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	edit := envelopeOf(t, rr)
	assert.True(t, edit.AskToSave)
	assert.Equal(t, dispatch.OpDelete, edit.Operation)

	rr = do(t, s, "GET", base+"/plan", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var snap planner.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	require.NotNil(t, snap.Staged)
	assert.True(t, snap.Staged.RequiresConfirmation)

	rr = do(t, s, "POST", base+"/save", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Test plan saved as version 2.", envelopeOf(t, rr).Content)

	rr = do(t, s, "GET", base+"/versions/2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var v plan.Version
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	assert.Equal(t, 2, v.Number)
	assert.Equal(t, plan.StatusSaved, v.Status)

	rr = do(t, s, "POST", base+"/discard", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "There are no pending changes to discard.", envelopeOf(t, rr).Content)
}

func TestRemove_InvalidIDs(t *testing.T) {
	s := newTestServer(t)
	base := "/api/v1/sessions/S1"

	require.Equal(t, http.StatusOK, do(t, s, "POST", base+"/generate", loginBody).Code)

	rr := do(t, s, "POST", base+"/remove", EditRequest{IDs: []int64{404}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, []int64{404}, envelopeOf(t, rr).InvalidIDs)
}

func TestFilter_RequiresMessage(t *testing.T) {
	s := newTestServer(t)
	rr := do(t, s, "POST", "/api/v1/sessions/S1/filter", FilterRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReadEndpoints_NotFound(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"unknown_session_plan", "/api/v1/sessions/missing/plan", http.StatusNotFound},
		{"missing_version", "/api/v1/sessions/missing/versions/1", http.StatusNotFound},
		{"bad_version_number", "/api/v1/sessions/missing/versions/abc", http.StatusBadRequest},
		{"zero_version_number", "/api/v1/sessions/missing/versions/0", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, do(t, s, "GET", tt.path, nil).Code)
		})
	}

	rr := do(t, s, "GET", "/api/v1/sessions/missing/versions", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestEvictSession(t *testing.T) {
	s := newTestServer(t)

	require.Equal(t, http.StatusOK, do(t, s, "POST", "/api/v1/sessions/S1/generate", loginBody).Code)
	assert.Equal(t, http.StatusNoContent, do(t, s, "DELETE", "/api/v1/sessions/S1", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, "GET", "/api/v1/sessions/S1/plan", nil).Code)

	// committed versions survive eviction
	assert.Equal(t, http.StatusOK, do(t, s, "GET", "/api/v1/sessions/S1/versions/1", nil).Code)
}

func TestNormalizeTool(t *testing.T) {
	s := newTestServer(t)

	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", path, bytes.NewBufferString(body))
		rr := httptest.NewRecorder()
		s.Router().ServeHTTP(rr, req)
		return rr
	}

	rr := post("/api/v1/tools/save?session_id=S9", `{"status": 200, "version_saved": "2"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	env := envelopeOf(t, rr)
	assert.Equal(t, "Test plan saved as version 2.", env.Content)
	assert.Equal(t, "S9", env.SessionID)

	rr = post("/api/v1/tools/generate", "Sure! Here is your plan")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, dispatch.StatusError, envelopeOf(t, rr).Status)

	rr = post("/api/v1/tools/export", "{}")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
