package migration

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// NormalizePlan converts a decoded LLM plan response into the canonical
// Plan shape. Providers disagree about field naming and container
// shapes, so the parser accepts a declared set of synonyms per field,
// a list or a map as the dependency container, and phasing expressed
// either as a "phases" list or as sibling phase1/phase2/... keys.
// Anything unrecognized after normalization fails closed.
func NormalizePlan(raw map[string]any) (*Plan, error) {
	if raw == nil {
		return nil, fmt.Errorf("empty plan response")
	}

	depsRaw, ok := firstKey(raw, "dependencies", "deps", "packages", "upgrades")
	if !ok {
		return nil, fmt.Errorf("plan response has no dependency container")
	}

	deps, err := normalizeDependencies(depsRaw)
	if err != nil {
		return nil, err
	}
	if len(deps) == 0 {
		return nil, fmt.Errorf("plan response contains no dependencies")
	}

	plan := &Plan{
		Dependencies: deps,
		Phases:       normalizePhases(raw),
	}
	if summary, ok := firstKey(raw, "summary", "description", "overview"); ok {
		if s, ok := summary.(string); ok {
			plan.Summary = strings.TrimSpace(s)
		}
	}
	if riskRaw, ok := firstKey(raw, "overall_risk", "overallRisk", "risk"); ok {
		if s, ok := riskRaw.(string); ok {
			plan.OverallRisk = CoerceRisk(s)
		}
	}
	// The model's overall risk is advisory; the component max wins.
	computed := RiskLow
	for _, d := range plan.Dependencies {
		computed = MaxRisk(computed, d.Risk)
	}
	plan.OverallRisk = MaxRisk(plan.OverallRisk, computed)

	return plan, nil
}

// normalizeDependencies accepts either a list of dependency objects or
// a map of name → dependency object.
func normalizeDependencies(raw any) ([]Dependency, error) {
	switch v := raw.(type) {
	case []any:
		deps := make([]Dependency, 0, len(v))
		for i, entry := range v {
			m, ok := entry.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("dependency %d is not an object", i)
			}
			dep, err := normalizeDependency("", m)
			if err != nil {
				return nil, err
			}
			deps = append(deps, dep)
		}
		return deps, nil

	case map[string]any:
		names := make([]string, 0, len(v))
		for name := range v {
			names = append(names, name)
		}
		sort.Strings(names)

		deps := make([]Dependency, 0, len(v))
		for _, name := range names {
			m, ok := v[name].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("dependency %q is not an object", name)
			}
			dep, err := normalizeDependency(name, m)
			if err != nil {
				return nil, err
			}
			deps = append(deps, dep)
		}
		return deps, nil

	default:
		return nil, fmt.Errorf("dependency container is neither a list nor a map")
	}
}

func normalizeDependency(name string, m map[string]any) (Dependency, error) {
	dep := Dependency{Name: name}

	if v, ok := firstKey(m, "name", "package", "package_name", "packageName"); ok {
		if s, ok := v.(string); ok && s != "" {
			dep.Name = s
		}
	}
	if dep.Name == "" {
		return dep, fmt.Errorf("dependency entry missing a name")
	}

	dep.CurrentVersion = stringKey(m, "current_version", "currentVersion", "current", "from", "from_version", "fromVersion")
	dep.TargetVersion = stringKey(m, "target_version", "targetVersion", "target", "to", "to_version", "toVersion", "latest_version", "latestVersion", "latest")

	dep.Risk = CoerceRisk(stringKey(m, "risk", "risk_level", "riskLevel"))

	switch strings.ToLower(stringKey(m, "action", "recommendation", "decision")) {
	case "keep", "skip", "hold":
		dep.Action = ActionKeep
	case "remove", "drop", "uninstall":
		dep.Action = ActionRemove
	case "upgrade", "update", "bump", "":
		dep.Action = ActionUpgrade
	default:
		dep.Action = ActionKeep
	}
	// An upgrade with no target to move to is a keep.
	if dep.Action == ActionUpgrade && dep.TargetVersion == "" {
		dep.Action = ActionKeep
	}

	if v, ok := firstKey(m, "breaking_changes", "breakingChanges", "breaking", "notes"); ok {
		dep.BreakingChanges = toStringList(v)
	}

	return dep, nil
}

// normalizePhases accepts phasing as a "phases" list (of lists, or of
// objects with a package list) or as sibling phase1/phase2/... keys.
func normalizePhases(raw map[string]any) [][]string {
	if v, ok := firstKey(raw, "phases", "phasing", "rollout"); ok {
		if list, ok := v.([]any); ok {
			var phases [][]string
			for _, entry := range list {
				switch e := entry.(type) {
				case []any:
					phases = append(phases, toStringList(e))
				case map[string]any:
					if pkgs, ok := firstKey(e, "packages", "dependencies", "deps", "names"); ok {
						phases = append(phases, toStringList(pkgs))
					}
				case string:
					phases = append(phases, []string{e})
				}
			}
			return phases
		}
	}

	// Sibling phase1/phase2/... keys.
	type numbered struct {
		n    int
		pkgs []string
	}
	var found []numbered
	for key, v := range raw {
		lower := strings.ToLower(key)
		if !strings.HasPrefix(lower, "phase") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(lower, "phase"))
		if err != nil {
			continue
		}
		pkgs := toStringList(v)
		if m, ok := v.(map[string]any); ok {
			if inner, ok := firstKey(m, "packages", "dependencies", "deps", "names"); ok {
				pkgs = toStringList(inner)
			}
		}
		if len(pkgs) > 0 {
			found = append(found, numbered{n: n, pkgs: pkgs})
		}
	}
	if len(found) == 0 {
		return nil
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })
	phases := make([][]string, 0, len(found))
	for _, f := range found {
		phases = append(phases, f.pkgs)
	}
	return phases
}

// ParsePlanJSON decodes raw JSON and normalizes it into a Plan.
func ParsePlanJSON(data []byte) (*Plan, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode plan JSON: %w", err)
	}
	return NormalizePlan(raw)
}

// firstKey returns the first present key from the synonym list.
func firstKey(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// stringKey returns the first present key's string value, or "".
func stringKey(m map[string]any, keys ...string) string {
	if v, ok := firstKey(m, keys...); ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// toStringList coerces a decoded JSON value to a list of strings.
func toStringList(v any) []string {
	switch list := v.(type) {
	case []any:
		out := make([]string, 0, len(list))
		for _, e := range list {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return list
	case string:
		if list == "" {
			return nil
		}
		return []string{list}
	default:
		return nil
	}
}
