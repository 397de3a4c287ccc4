package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePlan_SnakeCaseList(t *testing.T) {
	raw := map[string]any{
		"dependencies": []any{
			map[string]any{
				"name":             "express",
				"current_version":  "4.16.0",
				"target_version":   "4.19.2",
				"risk":             "low",
				"action":           "upgrade",
				"breaking_changes": []any{"none known"},
			},
		},
		"summary": "one upgrade",
	}

	plan, err := NormalizePlan(raw)
	require.NoError(t, err)
	require.Len(t, plan.Dependencies, 1)

	dep := plan.Dependencies[0]
	assert.Equal(t, "express", dep.Name)
	assert.Equal(t, "4.16.0", dep.CurrentVersion)
	assert.Equal(t, "4.19.2", dep.TargetVersion)
	assert.Equal(t, ActionUpgrade, dep.Action)
	assert.Equal(t, RiskLow, dep.Risk)
	assert.Equal(t, []string{"none known"}, dep.BreakingChanges)
	assert.Equal(t, "one upgrade", plan.Summary)
}

func TestNormalizePlan_CamelCaseMapWithPhaseKeys(t *testing.T) {
	// Shape variation across providers: camelCase fields, map container,
	// phasing as sibling phase1/phase2/phase3 keys.
	raw := map[string]any{
		"dependencies": map[string]any{
			"express": map[string]any{
				"currentVersion": "4.16.0",
				"targetVersion":  "4.19.2",
				"riskLevel":      "minor bump",
			},
			"cors": map[string]any{
				"currentVersion": "2.8.4",
				"targetVersion":  "2.8.5",
				"riskLevel":      "low",
			},
		},
		"phase1": []any{"cors"},
		"phase2": []any{"express"},
		"phase3": map[string]any{"packages": []any{}},
	}

	plan, err := NormalizePlan(raw)
	require.NoError(t, err)
	require.Len(t, plan.Dependencies, 2)

	// Map container is sorted by name for determinism.
	assert.Equal(t, "cors", plan.Dependencies[0].Name)
	assert.Equal(t, "express", plan.Dependencies[1].Name)
	assert.Equal(t, RiskMedium, plan.Dependencies[1].Risk)

	require.Len(t, plan.Phases, 2)
	assert.Equal(t, []string{"cors"}, plan.Phases[0])
	assert.Equal(t, []string{"express"}, plan.Phases[1])
}

func TestNormalizePlan_PhasesAsListOfObjects(t *testing.T) {
	raw := map[string]any{
		"deps": []any{
			map[string]any{"package": "dotenv", "from": "6.0.0", "to": "16.4.5", "risk": "major"},
		},
		"phases": []any{
			map[string]any{"name": "low risk", "packages": []any{"dotenv"}},
		},
	}

	plan, err := NormalizePlan(raw)
	require.NoError(t, err)
	assert.Equal(t, "dotenv", plan.Dependencies[0].Name)
	assert.Equal(t, "6.0.0", plan.Dependencies[0].CurrentVersion)
	assert.Equal(t, "16.4.5", plan.Dependencies[0].TargetVersion)
	assert.Equal(t, RiskHigh, plan.Dependencies[0].Risk)
	assert.Equal(t, RiskHigh, plan.OverallRisk)
	require.Len(t, plan.Phases, 1)
	assert.Equal(t, []string{"dotenv"}, plan.Phases[0])
}

func TestNormalizePlan_UpgradeWithoutTargetBecomesKeep(t *testing.T) {
	raw := map[string]any{
		"dependencies": []any{
			map[string]any{"name": "lodash", "current": "4.17.21", "action": "upgrade"},
		},
	}

	plan, err := NormalizePlan(raw)
	require.NoError(t, err)
	assert.Equal(t, ActionKeep, plan.Dependencies[0].Action)
}

func TestNormalizePlan_FailsClosed(t *testing.T) {
	cases := map[string]map[string]any{
		"nil":              nil,
		"no container":     {"summary": "nothing here"},
		"scalar container": {"dependencies": 42},
		"empty list":       {"dependencies": []any{}},
		"non-object entry": {"dependencies": []any{"express"}},
		"nameless entry":   {"dependencies": []any{map[string]any{"target": "1.0.0"}}},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NormalizePlan(raw)
			assert.Error(t, err)
		})
	}
}

func TestParsePlanJSON(t *testing.T) {
	data := []byte(`{"dependencies":[{"name":"cors","current_version":"2.8.4","target_version":"2.8.5","risk":"low"}]}`)
	plan, err := ParsePlanJSON(data)
	require.NoError(t, err)
	assert.Equal(t, "cors", plan.Dependencies[0].Name)

	_, err = ParsePlanJSON([]byte("not json"))
	assert.Error(t, err)
}

func TestCoerceRisk(t *testing.T) {
	cases := map[string]Risk{
		"low":                    RiskLow,
		"MEDIUM":                 RiskMedium,
		"high":                   RiskHigh,
		"major version change":   RiskHigh,
		"potentially breaking":   RiskHigh,
		"minor patch":            RiskMedium,
		"probably fine":          RiskLow,
		"":                       RiskLow,
	}
	for in, want := range cases {
		assert.Equal(t, want, CoerceRisk(in), "input %q", in)
	}
}
