package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/modernizer/agents"
	"github.com/c360studio/modernizer/jobs"
	"github.com/c360studio/modernizer/migration"
)

type scriptedPlanner struct {
	plan *migration.Plan
	err  error
}

func (p *scriptedPlanner) Run(context.Context, string, migration.ProjectKind) (*migration.Plan, agents.Spend, error) {
	if p.err != nil {
		return nil, agents.Spend{}, p.err
	}
	return p.plan, agents.Spend{InputTokens: 120, OutputTokens: 80, CostUSD: 0.01}, nil
}

type scriptedValidator struct {
	outcomes []*migration.ValidationOutcome
	errs     []error
	calls    int
	seenPlan []*migration.Plan
}

func (v *scriptedValidator) Run(_ context.Context, _ string, _ migration.ProjectKind, plan *migration.Plan) (*agents.ValidationResult, agents.Spend, error) {
	i := v.calls
	v.calls++
	snapshot := *plan
	snapshot.Dependencies = append([]migration.Dependency(nil), plan.Dependencies...)
	v.seenPlan = append(v.seenPlan, &snapshot)

	if i < len(v.errs) && v.errs[i] != nil {
		return nil, agents.Spend{}, v.errs[i]
	}
	outcome := v.outcomes[min(i, len(v.outcomes)-1)]
	verdict := migration.VerdictFix
	if outcome.Success() {
		verdict = migration.VerdictProceed
	}
	return &agents.ValidationResult{Outcome: outcome, Verdict: verdict}, agents.Spend{InputTokens: 40, OutputTokens: 20, CostUSD: 0.002}, nil
}

type scriptedAnalyzer struct {
	analyses []*migration.ErrorAnalysis
	calls    int
}

func (a *scriptedAnalyzer) Run(context.Context, *migration.ValidationOutcome, *migration.Plan) (*migration.ErrorAnalysis, agents.Spend, error) {
	i := a.calls
	a.calls++
	return a.analyses[min(i, len(a.analyses)-1)], agents.Spend{InputTokens: 60, OutputTokens: 30, CostUSD: 0.003}, nil
}

type scriptedDeployer struct {
	result *migration.DeploymentResult
	err    error
	calls  int
}

func (d *scriptedDeployer) Run(context.Context, *migration.State) (*migration.DeploymentResult, agents.Spend, error) {
	d.calls++
	if d.err != nil {
		return nil, agents.Spend{}, d.err
	}
	return d.result, agents.Spend{}, nil
}

func passing() *migration.ValidationOutcome {
	return &migration.ValidationOutcome{
		BuildOK: true, InstallOK: true, RuntimeOK: true, HealthOK: true,
		Tests: migration.TestRun{Ran: true, Passed: true, Summary: "5 passed, 5 total"},
	}
}

func failingInstall(log string) *migration.ValidationOutcome {
	return &migration.ValidationOutcome{BuildOK: true, InstallOK: false, InstallLog: log}
}

func twoDepPlan() *migration.Plan {
	return &migration.Plan{
		OverallRisk: migration.RiskLow,
		Dependencies: []migration.Dependency{
			{Name: "express", CurrentVersion: "4.16.0", TargetVersion: "4.19.2", Action: migration.ActionUpgrade},
			{Name: "cors", CurrentVersion: "2.8.4", TargetVersion: "2.8.5", Action: migration.ActionUpgrade},
		},
	}
}

func newEngine(p Planner, v Validator, a Analyzer, d Deployer) (*Engine, *jobs.Registry, *jobs.Bus) {
	registry := jobs.NewRegistry()
	bus := jobs.NewBus()
	return NewEngine(registry, bus, p, v, a, d, nil), registry, bus
}

func collectEvents(bus *jobs.Bus, id string) func() []migration.Event {
	ch, cancel := bus.Subscribe(id)
	return func() []migration.Event {
		cancel()
		var events []migration.Event
		for ev := range ch {
			events = append(events, ev)
		}
		return events
	}
}

func TestHappyPath(t *testing.T) {
	deployer := &scriptedDeployer{result: &migration.DeploymentResult{
		Branch: "upgrade/dependencies-20260826-143005",
		PRURL:  "https://mock.codehost.local/app/pull/1",
		Mock:   true,
	}}
	analyzer := &scriptedAnalyzer{}
	engine, registry, bus := newEngine(
		&scriptedPlanner{plan: twoDepPlan()},
		&scriptedValidator{outcomes: []*migration.ValidationOutcome{passing()}},
		analyzer,
		deployer,
	)

	st := migration.NewState("m1", "/srv/app", migration.KindNodeJS, "", 3)
	registry.Put(st)
	drain := collectEvents(bus, "m1")

	engine.Run(context.Background(), st)

	final, _ := registry.Get("m1")
	assert.Equal(t, migration.StatusDeployed, final.Status)
	assert.Equal(t, 0, final.RetryCount)
	assert.True(t, final.Deployment.Mock)
	assert.True(t, final.Validation.Success())
	assert.Zero(t, analyzer.calls, "analyzer never runs on the happy path")
	assert.Positive(t, final.TotalCostUSD)
	assert.Equal(t, 120, final.AgentCosts[agents.NamePlanner].InputTokens)
	assert.Equal(t, 80, final.AgentCosts[agents.NamePlanner].OutputTokens)
	assert.Equal(t, 20, final.AgentCosts[agents.NameValidator].OutputTokens)

	events := drain()
	require.NotEmpty(t, events)
	assert.Equal(t, migration.EventWorkflowStart, events[0].Type)
	assert.Equal(t, migration.EventWorkflowComplete, events[len(events)-1].Type)

	// Timestamps are non-decreasing in delivery order.
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp.Before(events[i-1].Timestamp))
	}
}

func TestOneShotRecovery(t *testing.T) {
	validator := &scriptedValidator{outcomes: []*migration.ValidationOutcome{
		failingInstall("npm ERR! peer dep missing"),
		passing(),
	}}
	analyzer := &scriptedAnalyzer{analyses: []*migration.ErrorAnalysis{{
		Category:    migration.CategoryPeerConflict,
		Recoverable: true,
		Suggestions: []migration.FixSuggestion{{
			Package: "dotenv", FromVersion: "16.4.5", ToVersion: "15.0.0", Priority: migration.PriorityHigh,
		}},
	}}}
	deployer := &scriptedDeployer{result: &migration.DeploymentResult{Branch: "b", Mock: true}}

	plan := &migration.Plan{Dependencies: []migration.Dependency{
		{Name: "dotenv", CurrentVersion: "6.0.0", TargetVersion: "16.4.5", Action: migration.ActionUpgrade},
	}}
	engine, registry, _ := newEngine(&scriptedPlanner{plan: plan}, validator, analyzer, deployer)

	st := migration.NewState("m2", "/srv/app", migration.KindNodeJS, "", 3)
	engine.Run(context.Background(), st)

	final, _ := registry.Get("m2")
	assert.Equal(t, migration.StatusDeployed, final.Status)
	assert.Equal(t, 1, final.RetryCount)
	assert.Equal(t, "15.0.0", final.Plan.Find("dotenv").TargetVersion)

	// The second validation ran against the adjusted plan.
	require.Equal(t, 2, validator.calls)
	assert.Equal(t, "16.4.5", validator.seenPlan[0].Find("dotenv").TargetVersion)
	assert.Equal(t, "15.0.0", validator.seenPlan[1].Find("dotenv").TargetVersion)
}

func TestBudgetExhaustion(t *testing.T) {
	validator := &scriptedValidator{outcomes: []*migration.ValidationOutcome{
		failingInstall("npm ERR! peer dep missing"),
	}}
	analyzer := &scriptedAnalyzer{analyses: []*migration.ErrorAnalysis{{
		Category:    migration.CategoryPeerConflict,
		Recoverable: true,
		Suggestions: []migration.FixSuggestion{{Package: "dotenv", ToVersion: "15.0.0"}},
	}}}
	deployer := &scriptedDeployer{}

	plan := &migration.Plan{Dependencies: []migration.Dependency{
		{Name: "dotenv", TargetVersion: "16.4.5", Action: migration.ActionUpgrade},
	}}
	engine, registry, _ := newEngine(&scriptedPlanner{plan: plan}, validator, analyzer, deployer)

	st := migration.NewState("m3", "/srv/app", migration.KindNodeJS, "", 3)
	engine.Run(context.Background(), st)

	final, _ := registry.Get("m3")
	assert.Equal(t, migration.StatusError, final.Status)
	assert.Contains(t, final.Errors, "budget_exhausted")
	assert.Equal(t, 3, analyzer.calls, "exactly budget analyzer rounds")
	assert.Equal(t, 3, final.RetryCount)
	assert.Nil(t, final.Deployment)
	assert.Zero(t, deployer.calls)
}

func TestZeroBudgetFailsImmediately(t *testing.T) {
	validator := &scriptedValidator{outcomes: []*migration.ValidationOutcome{failingInstall("boom")}}
	analyzer := &scriptedAnalyzer{}
	engine, registry, _ := newEngine(&scriptedPlanner{plan: twoDepPlan()}, validator, analyzer, &scriptedDeployer{})

	st := migration.NewState("m4", "/srv/app", migration.KindNodeJS, "", 0)
	engine.Run(context.Background(), st)

	final, _ := registry.Get("m4")
	assert.Equal(t, migration.StatusError, final.Status)
	assert.Zero(t, analyzer.calls)
	assert.Contains(t, final.Errors, "budget_exhausted")
}

func TestSandboxUnavailable(t *testing.T) {
	validator := &scriptedValidator{errs: []error{
		migration.Errorf(migration.KindSandboxUnavailable, "docker daemon unreachable"),
	}}
	analyzer := &scriptedAnalyzer{}
	engine, registry, bus := newEngine(&scriptedPlanner{plan: twoDepPlan()}, validator, analyzer, &scriptedDeployer{})

	st := migration.NewState("m5", "/srv/app", migration.KindNodeJS, "", 3)
	drain := collectEvents(bus, "m5")
	engine.Run(context.Background(), st)

	final, _ := registry.Get("m5")
	assert.Equal(t, migration.StatusError, final.Status)
	assert.Contains(t, final.Errors, "sandbox_unavailable")
	assert.Zero(t, analyzer.calls, "no analyzer on fatal error")

	events := drain()
	assert.Equal(t, migration.EventWorkflowError, events[len(events)-1].Type)
}

func TestCancellation(t *testing.T) {
	validator := &scriptedValidator{errs: []error{
		migration.NewError(migration.KindCancelled, context.Canceled),
	}}
	engine, registry, bus := newEngine(&scriptedPlanner{plan: twoDepPlan()}, validator, &scriptedAnalyzer{}, &scriptedDeployer{})

	st := migration.NewState("m6", "/srv/app", migration.KindNodeJS, "", 3)
	drain := collectEvents(bus, "m6")
	engine.Run(context.Background(), st)

	final, _ := registry.Get("m6")
	assert.Equal(t, migration.StatusError, final.Status)
	assert.Contains(t, final.Errors, "cancelled")

	events := drain()
	assert.Equal(t, migration.EventWorkflowError, events[len(events)-1].Type)
}

func TestUnrecoverableAnalysis(t *testing.T) {
	validator := &scriptedValidator{outcomes: []*migration.ValidationOutcome{failingInstall("weird")}}
	analyzer := &scriptedAnalyzer{analyses: []*migration.ErrorAnalysis{{
		Category:    migration.CategoryConfiguration,
		RootCause:   "missing DATABASE_URL",
		Recoverable: false,
	}}}
	engine, registry, _ := newEngine(&scriptedPlanner{plan: twoDepPlan()}, validator, analyzer, &scriptedDeployer{})

	st := migration.NewState("m7", "/srv/app", migration.KindNodeJS, "", 3)
	engine.Run(context.Background(), st)

	final, _ := registry.Get("m7")
	assert.Equal(t, migration.StatusError, final.Status)
	require.NotEmpty(t, final.Errors)
	assert.Contains(t, final.Errors[0], "missing DATABASE_URL")
	assert.Equal(t, 0, final.RetryCount, "retry count untouched by unrecoverable analysis")
}

func TestPlannerFailureTerminates(t *testing.T) {
	engine, registry, _ := newEngine(
		&scriptedPlanner{err: migration.Errorf(migration.KindPlanInputMissing, "manifest not found")},
		&scriptedValidator{}, &scriptedAnalyzer{}, &scriptedDeployer{},
	)

	st := migration.NewState("m8", "/srv/app", migration.KindNodeJS, "", 3)
	engine.Run(context.Background(), st)

	final, _ := registry.Get("m8")
	assert.Equal(t, migration.StatusError, final.Status)
	require.NotEmpty(t, final.Errors)
	assert.Contains(t, final.Errors[0], "manifest not found")
}

func TestRetryCountNeverExceedsBudget(t *testing.T) {
	// Always-failing validation with a recoverable analysis: the retry
	// count must climb monotonically and stop at the budget.
	validator := &scriptedValidator{outcomes: []*migration.ValidationOutcome{failingInstall("x")}}
	analyzer := &scriptedAnalyzer{analyses: []*migration.ErrorAnalysis{{
		Category: migration.CategoryTypeError, Recoverable: true,
		Suggestions: []migration.FixSuggestion{{Package: "express", ToVersion: "3.0.0"}},
	}}}
	engine, registry, _ := newEngine(&scriptedPlanner{plan: twoDepPlan()}, validator, analyzer, &scriptedDeployer{})

	st := migration.NewState("m9", "/srv/app", migration.KindNodeJS, "", 2)
	engine.Run(context.Background(), st)

	final, _ := registry.Get("m9")
	assert.Equal(t, 2, final.RetryCount)
	assert.LessOrEqual(t, final.RetryCount, final.RetryBudget)
}
