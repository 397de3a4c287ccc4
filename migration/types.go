// Package migration defines the canonical data model for dependency
// migrations: plans, validation outcomes, error analyses, deployment
// results, and the per-job state record owned by the workflow engine.
package migration

import "strings"

// ProjectKind identifies the kind of project being migrated.
type ProjectKind string

// Supported project kinds.
const (
	KindNodeJS ProjectKind = "nodejs"
	KindPython ProjectKind = "python"
)

// ParseProjectKind normalizes a project kind string. Returns "" for
// unrecognized input.
func ParseProjectKind(s string) ProjectKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nodejs", "node", "node.js", "npm":
		return KindNodeJS
	case "python", "py", "pip":
		return KindPython
	default:
		return ""
	}
}

// Action is the decision taken for a single dependency.
type Action string

// Dependency actions.
const (
	ActionUpgrade Action = "upgrade"
	ActionKeep    Action = "keep"
	ActionRemove  Action = "remove"
)

// Risk classifies the expected blast radius of an upgrade.
type Risk string

// Risk levels, ordered low < medium < high.
const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// riskRank orders risks for max() comparisons.
func riskRank(r Risk) int {
	switch r {
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// MaxRisk returns the higher of two risk levels.
func MaxRisk(a, b Risk) Risk {
	if riskRank(b) > riskRank(a) {
		return b
	}
	return a
}

// CoerceRisk maps free-form risk text from an LLM onto the canonical
// levels. "major"/"breaking" imply high, "minor" implies medium,
// anything unrecognized defaults to low.
func CoerceRisk(s string) Risk {
	lower := strings.ToLower(strings.TrimSpace(s))
	switch lower {
	case "low", "medium", "high":
		return Risk(lower)
	}
	if strings.Contains(lower, "major") || strings.Contains(lower, "breaking") {
		return RiskHigh
	}
	if strings.Contains(lower, "minor") {
		return RiskMedium
	}
	return RiskLow
}

// Dependency is one entry of a migration plan.
type Dependency struct {
	// Name is the package name as it appears in the manifest.
	Name string `json:"name"`

	// CurrentVersion is the verbatim version string from the on-disk
	// manifest at plan-creation time. Agents downstream of the planner
	// never overwrite it.
	CurrentVersion string `json:"current_version"`

	// TargetVersion is the version the plan proposes to move to.
	TargetVersion string `json:"target_version"`

	Action Action `json:"action"`
	Risk   Risk   `json:"risk"`

	// BreakingChanges lists short notes about known breaking changes.
	BreakingChanges []string `json:"breaking_changes,omitempty"`

	// Dev marks devDependencies (nodejs only).
	Dev bool `json:"dev,omitempty"`
}

// Plan is the canonical, normalized upgrade plan for one project.
type Plan struct {
	Dependencies []Dependency `json:"dependencies"`

	// OverallRisk is the max of the component risks.
	OverallRisk Risk `json:"overall_risk"`

	// Phases optionally groups dependency names into ordered rollout
	// phases. Reporting only; validation always applies the whole plan.
	Phases [][]string `json:"phases,omitempty"`

	// Summary is a short model-provided description of the plan.
	Summary string `json:"summary,omitempty"`
}

// Upgrades returns the dependencies with action == upgrade.
func (p *Plan) Upgrades() []Dependency {
	var out []Dependency
	for _, d := range p.Dependencies {
		if d.Action == ActionUpgrade {
			out = append(out, d)
		}
	}
	return out
}

// Find returns a pointer to the named dependency, or nil.
func (p *Plan) Find(name string) *Dependency {
	for i := range p.Dependencies {
		if p.Dependencies[i].Name == name {
			return &p.Dependencies[i]
		}
	}
	return nil
}

// RecomputeOverallRisk recalculates OverallRisk from the components.
func (p *Plan) RecomputeOverallRisk() {
	risk := RiskLow
	for _, d := range p.Dependencies {
		risk = MaxRisk(risk, d.Risk)
	}
	p.OverallRisk = risk
}

// TestRun records the outcome of the project's own test suite inside
// the sandbox.
type TestRun struct {
	Ran     bool   `json:"ran"`
	Passed  bool   `json:"passed"`
	Summary string `json:"summary,omitempty"`
	Output  string `json:"output,omitempty"`
}

// ValidationOutcome is the structured result of one sandbox run.
type ValidationOutcome struct {
	ContainerID string `json:"container_id,omitempty"`

	BuildOK   bool `json:"build_ok"`
	InstallOK bool `json:"install_ok"`
	RuntimeOK bool `json:"runtime_ok"`
	HealthOK  bool `json:"health_ok"`

	Tests TestRun `json:"tests"`

	InstallLog string `json:"install_log,omitempty"`
	RuntimeLog string `json:"runtime_log,omitempty"`

	// FailureReason carries the error kind when a stage failed outright
	// (sandbox_timeout, sandbox_unavailable, cancelled).
	FailureReason string `json:"failure_reason,omitempty"`
}

// Success reports aggregate success: every required stage passed, and
// tests passed if a test runner actually ran.
func (v *ValidationOutcome) Success() bool {
	if !v.BuildOK || !v.InstallOK || !v.RuntimeOK || !v.HealthOK {
		return false
	}
	if v.Tests.Ran && !v.Tests.Passed {
		return false
	}
	return true
}

// Category classifies the root cause of a failed validation.
type Category string

// Error analysis categories.
const (
	CategoryMissingDependency Category = "missing_dependency"
	CategoryPeerConflict      Category = "peer_dependency_conflict"
	CategoryAPIBreakingChange Category = "api_breaking_change"
	CategoryConfiguration     Category = "configuration_error"
	CategoryTypeError         Category = "type_error"
	CategoryInstallFailure    Category = "install_failure"
	CategoryStartupFailure    Category = "startup_failure"
	CategoryUnknown           Category = "unknown"
)

// Priority ranks fix suggestions.
type Priority string

// Fix suggestion priorities.
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Confidence expresses how sure the analyzer is about its diagnosis.
type Confidence string

// Confidence levels.
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// FixSuggestion proposes a version change expected to unblock a failed
// validation. The engine applies it by mutating the plan's target
// version in place before the next validator round.
type FixSuggestion struct {
	Package     string   `json:"package"`
	FromVersion string   `json:"from_version,omitempty"`
	ToVersion   string   `json:"to_version"`
	Priority    Priority `json:"priority"`
	Rationale   string   `json:"rationale,omitempty"`
}

// ErrorAnalysis is the analyzer agent's diagnosis of a failed
// validation.
type ErrorAnalysis struct {
	Category    Category        `json:"category"`
	RootCause   string          `json:"root_cause"`
	Suggestions []FixSuggestion `json:"suggestions,omitempty"`
	Confidence  Confidence      `json:"confidence"`
	Recoverable bool            `json:"recoverable"`
}

// DeploymentResult records the artifacts produced by the deployer.
type DeploymentResult struct {
	Branch        string   `json:"branch"`
	CommitID      string   `json:"commit_id"`
	PRURL         string   `json:"pr_url"`
	Mock          bool     `json:"mock"`
	ModifiedPaths []string `json:"modified_paths,omitempty"`
}

// Verdict is the validator's classification of an outcome.
type Verdict string

// Validator verdicts.
const (
	VerdictProceed  Verdict = "proceed"
	VerdictFix      Verdict = "fix"
	VerdictRollback Verdict = "rollback"
)
