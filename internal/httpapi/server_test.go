package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aulebatch/kernel/internal/config"
	"github.com/aulebatch/kernel/internal/domain"
	"github.com/aulebatch/kernel/internal/orchestrator"
	"github.com/aulebatch/kernel/internal/promptsynth"
	"github.com/aulebatch/kernel/internal/runner"
	"github.com/aulebatch/kernel/internal/store"
)

func fakeCLI(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func newTestServer(t *testing.T, cliBody string) (*httptest.Server, store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "httpapi.db")
	st, err := store.Open(context.Background(), dbPath, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cli := fakeCLI(t, cliBody)
	rnr := runner.New(cli, slog.Default())
	cfg := &config.Config{MaxWorkers: 2, MaxRetries: 1, SkipTest: true}
	orch := orchestrator.New(st, rnr, promptsynth.TemplateSynthesizer{}, cfg, dbPath)

	srv := New(st, orch, slog.Default(), cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestCreateJobThenGetJobThenListUnits(t *testing.T) {
	ts, _ := newTestServer(t, `echo '{"type":"result","is_error":false,"result":"ok"}'`)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("y"), 0o644))

	createResp := postJSON(t, ts.URL+"/api/jobs", map[string]any{
		"name":            "test job",
		"user_intent":     "summarize each file",
		"enumerator_type": "file",
		"enumerator_config": map[string]any{
			"pattern": filepath.Join(dir, "*.txt"),
		},
	})
	assert.Equal(t, http.StatusOK, createResp.StatusCode)
	var created map[string]any
	decodeBody(t, createResp, &created)
	jobID := created["job_id"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, float64(2), created["total_items"])

	getResp, err := http.Get(ts.URL + "/api/jobs/" + jobID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
	var job domain.Job
	decodeBody(t, getResp, &job)
	assert.Equal(t, domain.JobCreated, job.Status)
	assert.Equal(t, 2, job.TotalUnits)

	unitsResp, err := http.Get(ts.URL + "/api/jobs/" + jobID + "/units")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, unitsResp.StatusCode)
	var unitsBody map[string]any
	decodeBody(t, unitsResp, &unitsBody)
	assert.Equal(t, float64(2), unitsBody["count"])
}

func TestGetJob_UnknownIDReturnsErrorEnvelope(t *testing.T) {
	ts, _ := newTestServer(t, `true`)

	resp, err := http.Get(ts.URL + "/api/jobs/does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body errorBody
	decodeBody(t, resp, &body)
	assert.Equal(t, "JOB_NOT_FOUND", body.Error.Code)
}

func TestBypassFailures_RejectsWhenNotConfiguredOrIncomplete(t *testing.T) {
	ts, st := newTestServer(t, `echo '{"type":"result","is_error":false,"result":"ok"}'`)

	createResp := postJSON(t, ts.URL+"/api/jobs", map[string]any{
		"name":            "bypass job",
		"user_intent":     "do a thing",
		"enumerator_type": "json",
		"enumerator_config": map[string]any{
			"path": writeJSONFile(t, `[{"id": 1}]`),
		},
	})
	var created map[string]any
	decodeBody(t, createResp, &created)
	jobID := created["job_id"].(string)

	resp := postJSON(t, ts.URL+"/api/jobs/"+jobID+"/bypass", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body errorBody
	decodeBody(t, resp, &body)
	assert.NotEmpty(t, body.Error.Message)

	_, err := st.GetJob(context.Background(), domain.JobID(jobID))
	require.NoError(t, err)
}

func TestOpenAPISpec_ServesValidatedDocument(t *testing.T) {
	ts, _ := newTestServer(t, `true`)

	resp, err := http.Get(ts.URL + "/api/openapi.json")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var doc map[string]any
	decodeBody(t, resp, &doc)
	assert.Equal(t, "3.0.3", doc["openapi"])
}

func writeJSONFile(t *testing.T, items string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "items.json")
	require.NoError(t, os.WriteFile(path, []byte(items), 0o644))
	return path
}
