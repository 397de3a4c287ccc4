package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusInitializing, StatusPlanCreated, true},
		{StatusPlanCreated, StatusValidating, true},
		{StatusValidating, StatusAnalyzing, true},
		{StatusAnalyzing, StatusValidating, true}, // retry cycle
		{StatusValidating, StatusValidated, true},
		{StatusValidated, StatusDeploying, true},
		{StatusDeploying, StatusDeployed, true},
		{StatusInitializing, StatusError, true},
		{StatusValidated, StatusValidating, false}, // backward
		{StatusDeployed, StatusError, false},       // terminal
		{StatusError, StatusValidating, false},     // terminal
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestValidationOutcomeSuccess(t *testing.T) {
	ok := ValidationOutcome{BuildOK: true, InstallOK: true, RuntimeOK: true, HealthOK: true}
	assert.True(t, ok.Success())

	// Absent tests do not lower aggregate success.
	ok.Tests = TestRun{Ran: false}
	assert.True(t, ok.Success())

	// A test runner that ran and failed does.
	ok.Tests = TestRun{Ran: true, Passed: false}
	assert.False(t, ok.Success())

	failed := ValidationOutcome{BuildOK: true, InstallOK: false, RuntimeOK: true, HealthOK: true}
	assert.False(t, failed.Success())
}

func TestStateAddCost(t *testing.T) {
	s := NewState("m-1", "/tmp/project", KindNodeJS, "", 3)
	assert.Equal(t, "main", s.SourceBranch)

	s.AddCost("planner", 100, 50, 0.002)
	s.AddCost("planner", 10, 5, 0.001)
	s.AddCost("validator", 20, 10, 0.0005)

	assert.Equal(t, 110, s.AgentCosts["planner"].InputTokens)
	assert.Equal(t, 55, s.AgentCosts["planner"].OutputTokens)
	assert.InDelta(t, 0.003, s.AgentCosts["planner"].CostUSD, 1e-9)
	assert.InDelta(t, 0.0035, s.TotalCostUSD, 1e-9)
}

func TestStateClone(t *testing.T) {
	s := NewState("m-2", "/tmp/project", KindPython, "develop", 2)
	s.Plan = &Plan{
		Dependencies: []Dependency{{Name: "flask", CurrentVersion: "1.0", TargetVersion: "3.0", Action: ActionUpgrade, Risk: RiskHigh}},
		Phases:       [][]string{{"flask"}},
	}
	s.Analysis = &ErrorAnalysis{Suggestions: []FixSuggestion{{Package: "flask", ToVersion: "2.3"}}}
	s.AddError("first failure")

	clone := s.Clone()
	require.NotSame(t, s.Plan, clone.Plan)

	// Mutating the clone must not leak into the original.
	clone.Plan.Dependencies[0].TargetVersion = "9.9"
	clone.Errors = append(clone.Errors, "clone only")
	clone.Analysis.Suggestions[0].ToVersion = "0.0"

	assert.Equal(t, "3.0", s.Plan.Dependencies[0].TargetVersion)
	assert.Len(t, s.Errors, 1)
	assert.Equal(t, "2.3", s.Analysis.Suggestions[0].ToVersion)
}

func TestErrorKinds(t *testing.T) {
	err := Errorf(KindSandboxTimeout, "install exceeded %ds", 300)
	assert.Equal(t, KindSandboxTimeout, KindOf(err))
	assert.Contains(t, err.Error(), "sandbox_timeout")
	assert.False(t, IsFatalKind(KindSandboxTimeout))
	assert.True(t, IsFatalKind(KindSandboxUnavailable))
	assert.True(t, IsFatalKind(KindCancelled))
	assert.True(t, IsFatalKind(KindBudgetExhausted))
	assert.True(t, IsFatalKind(KindPlanInputMissing))
	assert.Equal(t, Kind(""), KindOf(assert.AnError))
}
