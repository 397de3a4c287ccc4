package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/c360studio/modernizer/llm"
	"github.com/c360studio/modernizer/migration"
	"github.com/c360studio/modernizer/model"
)

// Analyzer diagnoses failed validations and proposes plan fixes.
type Analyzer struct {
	caps Caps
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(caps Caps) *Analyzer {
	return &Analyzer{caps: caps}
}

// Run extracts error fragments from the logs, asks the model for a
// diagnosis, and falls back to mechanical categorization when the
// response cannot be parsed. A failed model call is fatal: only the
// validator may degrade when the model is down.
func (a *Analyzer) Run(ctx context.Context, outcome *migration.ValidationOutcome, plan *migration.Plan) (*migration.ErrorAnalysis, Spend, error) {
	fragments := extractFragments(outcome)

	done := a.caps.thinking(NameAnalyzer, "diagnosing validation failure")
	defer done()

	resp, err := a.caps.Model.Complete(ctx, llm.Request{
		Capability: string(model.CapabilityForAgent(NameAnalyzer)),
		CallerTag:  NameAnalyzer,
		Messages: []llm.Message{
			{Role: "system", Content: analyzerSystemPrompt},
			{Role: "user", Content: a.buildPrompt(fragments, plan, outcome)},
		},
	})
	if err != nil {
		return nil, Spend{}, migration.Errorf(migration.KindModelUnavailable, "analyzer model call: %v", err)
	}

	analysis := parseAnalysisResponse(resp.Content)
	if analysis == nil {
		a.caps.logger().Warn("analyzer response unparseable, using fallback categorizer")
		return a.fallback(fragments, plan), spendOf(resp), nil
	}

	// An analysis that claims recoverability but offers nothing to
	// apply cannot actually recover the plan.
	if analysis.Recoverable && len(applicableSuggestions(analysis.Suggestions, plan)) == 0 {
		analysis.Recoverable = false
	}
	return analysis, spendOf(resp), nil
}

func (a *Analyzer) buildPrompt(fragments []string, plan *migration.Plan, outcome *migration.ValidationOutcome) string {
	var b strings.Builder
	b.WriteString("Attempted upgrades:\n")
	for _, d := range plan.Upgrades() {
		fmt.Fprintf(&b, "- %s: %s -> %s\n", d.Name, d.CurrentVersion, d.TargetVersion)
	}
	fmt.Fprintf(&b, "\nStages: install_ok=%t runtime_ok=%t health_ok=%t tests_ran=%t tests_passed=%t\n",
		outcome.InstallOK, outcome.RuntimeOK, outcome.HealthOK, outcome.Tests.Ran, outcome.Tests.Passed)
	b.WriteString("\nError fragments:\n")
	for i, f := range fragments {
		fmt.Fprintf(&b, "--- fragment %d ---\n%s\n", i+1, f)
	}
	return b.String()
}

// fragment extraction ---------------------------------------------------

const fragmentContext = 3

var fragmentMarkers = []*regexp.Regexp{
	regexp.MustCompile(`npm ERR!`),
	regexp.MustCompile(`ERROR:`),
	regexp.MustCompile(`Traceback \(most recent call last\)`),
	regexp.MustCompile(`\b\w*Error\b`),
	regexp.MustCompile(`UnhandledPromiseRejection`),
	regexp.MustCompile(`is not a function`),
}

// extractFragments pulls marker lines plus a small context window from
// the install and runtime logs.
func extractFragments(outcome *migration.ValidationOutcome) []string {
	var fragments []string
	for _, log := range []string{outcome.InstallLog, outcome.RuntimeLog, outcome.Tests.Output} {
		if log == "" {
			continue
		}
		fragments = append(fragments, fragmentsFromLog(log)...)
	}
	if len(fragments) == 0 && outcome.FailureReason != "" {
		fragments = append(fragments, outcome.FailureReason)
	}
	return fragments
}

func fragmentsFromLog(log string) []string {
	lines := strings.Split(log, "\n")
	var fragments []string
	lastEnd := -1
	for i, line := range lines {
		if !markerLine(line) || i < lastEnd {
			continue
		}
		start := max(0, i-fragmentContext)
		end := min(len(lines), i+fragmentContext+1)
		fragments = append(fragments, strings.Join(lines[start:end], "\n"))
		lastEnd = end
	}
	return fragments
}

func markerLine(line string) bool {
	for _, m := range fragmentMarkers {
		if m.MatchString(line) {
			return true
		}
	}
	return false
}

// fallback categorization ----------------------------------------------

// categorize matches error text against ordered, non-overlapping
// patterns. "peer dep" is matched as a phrase, never the bare
// substring "peer": "TypeError" contains "peer" and must win the
// type-error category first.
func categorize(text string) migration.Category {
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "peer dep") || strings.Contains(lower, "eresolve"):
		return migration.CategoryPeerConflict
	case strings.Contains(lower, "typeerror") || strings.Contains(lower, "is not a function"):
		return migration.CategoryTypeError
	case strings.Contains(lower, "cannot find module") || strings.Contains(lower, "modulenotfounderror"):
		return migration.CategoryMissingDependency
	case strings.Contains(lower, "attributeerror") || strings.Contains(lower, "has no attribute"):
		return migration.CategoryAPIBreakingChange
	case strings.Contains(lower, "econnrefused") || strings.Contains(lower, "missing required env") ||
		strings.Contains(lower, "config"):
		return migration.CategoryConfiguration
	case strings.Contains(lower, "npm err!") || strings.Contains(lower, "pip install") ||
		strings.Contains(lower, "error:"):
		return migration.CategoryInstallFailure
	default:
		return migration.CategoryUnknown
	}
}

// fallback builds a mechanical analysis from the fragments alone.
func (a *Analyzer) fallback(fragments []string, plan *migration.Plan) *migration.ErrorAnalysis {
	joined := strings.Join(fragments, "\n")
	category := categorize(joined)

	analysis := &migration.ErrorAnalysis{
		Category:   category,
		RootCause:  rootCauseFor(category),
		Confidence: migration.ConfidenceLow,
	}

	analysis.Suggestions = suggestionTemplate(category, plan)
	analysis.Recoverable = len(analysis.Suggestions) > 0
	return analysis
}

func rootCauseFor(category migration.Category) string {
	switch category {
	case migration.CategoryPeerConflict:
		return "a peer dependency constraint rejects one of the upgraded versions"
	case migration.CategoryTypeError:
		return "an upgraded package changed an API used at runtime"
	case migration.CategoryMissingDependency:
		return "a module required at runtime is not installed"
	case migration.CategoryAPIBreakingChange:
		return "an upgraded package removed or renamed an API"
	case migration.CategoryConfiguration:
		return "the application configuration no longer matches its environment"
	case migration.CategoryInstallFailure:
		return "the package install step failed"
	default:
		return "the failure does not match a known pattern"
	}
}

// suggestionTemplate proposes a conservative downgrade for categories
// a version change can plausibly fix. Categories without a template
// yield no suggestions and the analysis is marked unrecoverable.
func suggestionTemplate(category migration.Category, plan *migration.Plan) []migration.FixSuggestion {
	switch category {
	case migration.CategoryPeerConflict, migration.CategoryTypeError,
		migration.CategoryMissingDependency, migration.CategoryAPIBreakingChange:
	default:
		return nil
	}

	var suggestions []migration.FixSuggestion
	for _, d := range plan.Upgrades() {
		to := previousMajor(d.TargetVersion)
		if to == "" {
			continue
		}
		suggestions = append(suggestions, migration.FixSuggestion{
			Package:     d.Name,
			FromVersion: d.TargetVersion,
			ToVersion:   to,
			Priority:    migration.PriorityHigh,
			Rationale:   fmt.Sprintf("step back one major version from %s", d.TargetVersion),
		})
	}
	return suggestions
}

var majorVersion = regexp.MustCompile(`^[~^]?(\d+)`)

// previousMajor returns "<major-1>.0.0", or "" when the version has no
// major to step back from.
func previousMajor(version string) string {
	m := majorVersion.FindStringSubmatch(version)
	if m == nil {
		return ""
	}
	major, err := strconv.Atoi(m[1])
	if err != nil || major == 0 {
		return ""
	}
	return fmt.Sprintf("%d.0.0", major-1)
}

// applicableSuggestions keeps suggestions naming a package the plan
// actually upgrades.
func applicableSuggestions(suggestions []migration.FixSuggestion, plan *migration.Plan) []migration.FixSuggestion {
	var out []migration.FixSuggestion
	for _, s := range suggestions {
		if s.ToVersion == "" {
			continue
		}
		if d := plan.Find(s.Package); d != nil && d.Action == migration.ActionUpgrade {
			out = append(out, s)
		}
	}
	return out
}

func parseAnalysisResponse(content string) *migration.ErrorAnalysis {
	raw := llm.ExtractJSON(content)
	if raw == "" {
		return nil
	}
	var analysis migration.ErrorAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return nil
	}
	if analysis.Category == "" {
		return nil
	}
	return &analysis
}
