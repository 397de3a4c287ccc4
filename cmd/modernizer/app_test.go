package main

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/modernizer/agents"
	"github.com/c360studio/modernizer/llm"
	"github.com/c360studio/modernizer/metrics"
	"github.com/c360studio/modernizer/migration"
)

type fakeCompleter struct {
	resp *llm.Response
	err  error
}

func (f fakeCompleter) Complete(context.Context, llm.Request) (*llm.Response, error) {
	return f.resp, f.err
}

func TestMeteredCompleterRecordsCalls(t *testing.T) {
	rec := metrics.NewRecorder()
	m := meteredCompleter{inner: fakeCompleter{resp: &llm.Response{CostUSD: 0.02}}, rec: rec}

	_, err := m.Complete(context.Background(), llm.Request{CallerTag: agents.NamePlanner})
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(rec.Registry(), "modernizer_model_calls_total", "modernizer_model_cost_usd_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one call series and one cost series")
}

func TestMeteredCompleterRecordsFailures(t *testing.T) {
	rec := metrics.NewRecorder()
	m := meteredCompleter{inner: fakeCompleter{err: errors.New("provider down")}, rec: rec}

	_, err := m.Complete(context.Background(), llm.Request{CallerTag: agents.NameAnalyzer})
	require.Error(t, err)

	n, err := testutil.GatherAndCount(rec.Registry(), "modernizer_model_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

type fakeValidator struct {
	res *agents.ValidationResult
	err error
}

func (f fakeValidator) Run(context.Context, string, migration.ProjectKind, *migration.Plan) (*agents.ValidationResult, agents.Spend, error) {
	return f.res, agents.Spend{}, f.err
}

func TestMeteredValidatorRecordsSandboxRuns(t *testing.T) {
	rec := metrics.NewRecorder()
	passing := &agents.ValidationResult{Outcome: &migration.ValidationOutcome{
		BuildOK: true, InstallOK: true, RuntimeOK: true, HealthOK: true,
	}}
	m := meteredValidator{inner: fakeValidator{res: passing}, rec: rec}

	_, _, err := m.Run(context.Background(), "/srv/app", migration.KindNodeJS, &migration.Plan{})
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(rec.Registry(), "modernizer_sandbox_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSandboxOutcomeLabels(t *testing.T) {
	ok := &agents.ValidationResult{Outcome: &migration.ValidationOutcome{
		BuildOK: true, InstallOK: true, RuntimeOK: true, HealthOK: true,
	}}
	failed := &agents.ValidationResult{Outcome: &migration.ValidationOutcome{BuildOK: true}}

	assert.Equal(t, "success", sandboxOutcome(ok, nil))
	assert.Equal(t, "failure", sandboxOutcome(failed, nil))
	assert.Equal(t, "timeout", sandboxOutcome(nil, migration.Errorf(migration.KindSandboxTimeout, "t")))
	assert.Equal(t, "unavailable", sandboxOutcome(nil, migration.Errorf(migration.KindSandboxUnavailable, "d")))
	assert.Equal(t, "failure", sandboxOutcome(nil, errors.New("boom")))
}
