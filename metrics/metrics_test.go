package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleCounters(t *testing.T) {
	r := NewRecorder()

	r.MigrationStarted()
	r.MigrationStarted()
	r.MigrationFinished("deployed", 1, 42*time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(r.migrationsStarted))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.migrationsFinished.WithLabelValues("deployed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.activeJobs))
}

func TestModelCallSpend(t *testing.T) {
	r := NewRecorder()

	r.ModelCall("planner", true, 0.01)
	r.ModelCall("planner", true, 0.02)
	r.ModelCall("analyzer", false, 0)

	assert.InDelta(t, 0.03, testutil.ToFloat64(r.modelCostUSD.WithLabelValues("planner")), 1e-9)
	assert.Equal(t, float64(1), testutil.ToFloat64(r.modelCalls.WithLabelValues("analyzer", "error")))
}

func TestHandlerServesTextFormat(t *testing.T) {
	r := NewRecorder()
	r.SandboxRun("success")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "modernizer_sandbox_runs_total")
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.MigrationStarted()
	r.MigrationFinished("error", 0, time.Second)
	r.ModelCall("planner", true, 0.1)
	r.SandboxRun("failure")
	assert.NotNil(t, r.Handler())
}
