package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/modernizer/jobs"
	"github.com/c360studio/modernizer/metrics"
	"github.com/c360studio/modernizer/migration"
)

// stubRunner drives accepted jobs to a terminal status. When block is
// set the job waits for cancellation first.
type stubRunner struct {
	registry  *jobs.Registry
	bus       *jobs.Bus
	block     bool
	done      chan string
	seenToken string
}

func (r *stubRunner) Job(st *migration.State) func(ctx context.Context) {
	return func(ctx context.Context) {
		r.seenToken = st.CodeHostToken
		if r.block {
			<-ctx.Done()
			st.Status = migration.StatusError
			st.AddError("cancelled")
		} else {
			st.Status = migration.StatusDeployed
		}
		r.registry.Put(st)
		if r.bus != nil {
			r.bus.Publish(migration.NewEvent(migration.EventWorkflowComplete, st.ID))
		}
		r.done <- st.ID
	}
}

type testEnv struct {
	ts       *httptest.Server
	registry *jobs.Registry
	bus      *jobs.Bus
	pool     *jobs.Pool
	runner   *stubRunner
}

func newTestEnv(t *testing.T, block bool) *testEnv {
	t.Helper()
	registry := jobs.NewRegistry()
	bus := jobs.NewBus()
	pool := jobs.NewPool(2, nil)
	runner := &stubRunner{registry: registry, bus: bus, block: block, done: make(chan string, 16)}

	srv := New(Options{
		Registry:            registry,
		Bus:                 bus,
		Pool:                pool,
		Runner:              runner,
		Metrics:             metrics.NewRecorder(),
		DockerPing:          func(context.Context) error { return nil },
		ProvidersConfigured: 1,
		DefaultRetries:      3,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		// Unwind any still-blocked jobs so Stop can drain.
		items, _ := registry.List(100, 0)
		for _, st := range items {
			pool.Cancel(st.ID)
		}
		pool.Stop()
	})
	return &testEnv{ts: ts, registry: registry, bus: bus, pool: pool, runner: runner}
}

func (e *testEnv) start(t *testing.T, body string) map[string]string {
	t.Helper()
	resp, err := http.Post(e.ts.URL+"/api/migrations/start", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (e *testEnv) waitDone(t *testing.T) string {
	t.Helper()
	select {
	case id := <-e.runner.done:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
		return ""
	}
}

func TestStartRequestTokenReachesRunner(t *testing.T) {
	env := newTestEnv(t, false)
	out := env.start(t, `{"project_path": "/srv/app", "project_kind": "nodejs", "code_host_token": "ghp_request"}`)
	env.waitDone(t)

	assert.Equal(t, "ghp_request", env.runner.seenToken, "job carries the request token")

	// The record never serializes the token.
	resp, err := http.Get(env.ts.URL + "/api/migrations/" + out["migration_id"])
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "ghp_request")
}

func TestStartAcceptsAndRuns(t *testing.T) {
	env := newTestEnv(t, false)

	out := env.start(t, `{"project_path": "/srv/app", "project_kind": "nodejs"}`)
	assert.Equal(t, "accepted", out["status"])
	require.NotEmpty(t, out["migration_id"])

	env.waitDone(t)
	st, ok := env.registry.Get(out["migration_id"])
	require.True(t, ok)
	assert.Equal(t, migration.StatusDeployed, st.Status)
	assert.Equal(t, 3, st.RetryBudget)
}

func TestStartValidation(t *testing.T) {
	env := newTestEnv(t, false)

	cases := map[string]string{
		"missing path":  `{"project_kind": "nodejs"}`,
		"relative path": `{"project_path": "app", "project_kind": "nodejs"}`,
		"bad kind":      `{"project_path": "/srv/app", "project_kind": "rust"}`,
		"neg retries":   `{"project_path": "/srv/app", "project_kind": "python", "max_retries": -1}`,
		"broken json":   `{"project_path": `,
	}
	for name, body := range cases {
		resp, err := http.Post(env.ts.URL+"/api/migrations/start", "application/json", bytes.NewBufferString(body))
		require.NoError(t, err, name)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
	}
}

func TestStartOverridesRetryBudget(t *testing.T) {
	env := newTestEnv(t, false)

	out := env.start(t, `{"project_path": "/srv/app", "project_kind": "python", "max_retries": 1}`)
	env.waitDone(t)
	st, _ := env.registry.Get(out["migration_id"])
	assert.Equal(t, 1, st.RetryBudget)
	assert.Equal(t, migration.KindPython, st.ProjectKind)
}

func TestListPagination(t *testing.T) {
	env := newTestEnv(t, false)
	for i := 0; i < 5; i++ {
		env.start(t, `{"project_path": "/srv/app", "project_kind": "nodejs"}`)
		env.waitDone(t)
	}

	resp, err := http.Get(env.ts.URL + "/api/migrations?limit=2&offset=1")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		Items  []json.RawMessage `json:"items"`
		Total  int               `json:"total"`
		Limit  int               `json:"limit"`
		Offset int               `json:"offset"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Len(t, out.Items, 2)
	assert.Equal(t, 5, out.Total)
	assert.Equal(t, 2, out.Limit)
	assert.Equal(t, 1, out.Offset)
}

func TestGetWithReportLinks(t *testing.T) {
	env := newTestEnv(t, false)
	out := env.start(t, `{"project_path": "/srv/app", "project_kind": "nodejs"}`)
	env.waitDone(t)

	resp, err := http.Get(env.ts.URL + "/api/migrations/" + out["migration_id"])
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Migration migration.State   `json:"migration"`
		Reports   map[string]string `json:"reports"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, out["migration_id"], body.Migration.ID)
	assert.Contains(t, body.Reports["html"], "/report?type=html")
}

func TestGetNotFound(t *testing.T) {
	env := newTestEnv(t, false)
	resp, err := http.Get(env.ts.URL + "/api/migrations/ghost")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReportDownload(t *testing.T) {
	env := newTestEnv(t, false)
	out := env.start(t, `{"project_path": "/srv/app", "project_kind": "nodejs"}`)
	env.waitDone(t)
	id := out["migration_id"]

	resp, err := http.Get(fmt.Sprintf("%s/api/migrations/%s/report?type=markdown", env.ts.URL, id))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "migration-"+id+".md")

	badType, err := http.Get(fmt.Sprintf("%s/api/migrations/%s/report?type=pdf", env.ts.URL, id))
	require.NoError(t, err)
	badType.Body.Close()
	assert.Equal(t, http.StatusBadRequest, badType.StatusCode)

	missing, err := http.Get(env.ts.URL + "/api/migrations/ghost/report?type=json")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestReportContentEnvelope(t *testing.T) {
	env := newTestEnv(t, false)
	out := env.start(t, `{"project_path": "/srv/app", "project_kind": "nodejs"}`)
	env.waitDone(t)

	resp, err := http.Get(fmt.Sprintf("%s/api/migrations/%s/report_content?type=html", env.ts.URL, out["migration_id"]))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body struct {
		MigrationID string `json:"migration_id"`
		Type        string `json:"type"`
		Content     string `json:"content"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "html", body.Type)
	assert.Contains(t, body.Content, "<!DOCTYPE html>")
}

func doDelete(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestDeleteTerminal(t *testing.T) {
	env := newTestEnv(t, false)
	out := env.start(t, `{"project_path": "/srv/app", "project_kind": "nodejs"}`)
	env.waitDone(t)
	id := out["migration_id"]

	resp := doDelete(t, env.ts.URL+"/api/migrations/"+id)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, ok := env.registry.Get(id)
	assert.False(t, ok)
}

func TestDeleteRunningCancels(t *testing.T) {
	env := newTestEnv(t, true)
	out := env.start(t, `{"project_path": "/srv/app", "project_kind": "nodejs"}`)
	id := out["migration_id"]

	// Let the pool pick the job up before cancelling it.
	require.Eventually(t, func() bool {
		resp := doDelete(t, env.ts.URL+"/api/migrations/"+id)
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusAccepted
	}, 3*time.Second, 20*time.Millisecond)

	env.waitDone(t)
	st, ok := env.registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, migration.StatusError, st.Status)
	assert.Contains(t, st.Errors, "cancelled")

	resp := doDelete(t, env.ts.URL+"/api/migrations/"+id)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)

	resp, err := http.Get(env.ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status              string `json:"status"`
		DockerOK            bool   `json:"docker_ok"`
		ProvidersConfigured int    `json:"providers_configured"`
		ActiveJobs          int    `json:"active_jobs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.True(t, body.DockerOK)
	assert.Equal(t, 1, body.ProvidersConfigured)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	env.start(t, `{"project_path": "/srv/app", "project_kind": "nodejs"}`)
	env.waitDone(t)

	resp, err := http.Get(env.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)
	assert.Contains(t, buf.String(), "modernizer_migrations_started_total")
}
