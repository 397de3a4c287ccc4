// Package report renders a finished migration into shareable
// documents. Rendering is a pure function of the state snapshot; the
// same state always produces the same bytes (modulo the generation
// timestamp in headers).
package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360studio/modernizer/migration"
)

// Type names a report output format.
type Type string

// Supported report formats.
const (
	TypeJSON     Type = "json"
	TypeMarkdown Type = "markdown"
	TypeHTML     Type = "html"
)

// ParseType validates a user-supplied format name.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(s)) {
	case TypeJSON:
		return TypeJSON, nil
	case TypeMarkdown:
		return TypeMarkdown, nil
	case TypeHTML:
		return TypeHTML, nil
	default:
		return "", fmt.Errorf("unknown report type %q", s)
	}
}

// ContentType returns the MIME type for the format.
func (t Type) ContentType() string {
	switch t {
	case TypeHTML:
		return "text/html; charset=utf-8"
	case TypeMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "application/json"
	}
}

// FileName returns the attachment name for a migration's report.
func (t Type) FileName(migrationID string) string {
	ext := map[Type]string{TypeJSON: "json", TypeMarkdown: "md", TypeHTML: "html"}[t]
	return fmt.Sprintf("migration-%s.%s", migrationID, ext)
}

// Render produces the report bytes for one migration in the requested
// format.
func Render(st *migration.State, typ Type) ([]byte, error) {
	switch typ {
	case TypeJSON:
		return renderJSON(st)
	case TypeMarkdown:
		return []byte(renderMarkdown(st)), nil
	case TypeHTML:
		return renderHTML(st)
	default:
		return nil, fmt.Errorf("unknown report type %q", typ)
	}
}

// renderJSON is the canonical machine-readable report. The state's own
// JSON shape is the contract; sensitive fields are excluded by their
// struct tags.
func renderJSON(st *migration.State) ([]byte, error) {
	return json.MarshalIndent(st, "", "  ")
}

func renderMarkdown(st *migration.State) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Dependency Upgrade Report\n\n")
	fmt.Fprintf(&b, "- **Migration:** `%s`\n", st.ID)
	fmt.Fprintf(&b, "- **Project:** `%s` (%s)\n", st.ProjectPath, st.ProjectKind)
	fmt.Fprintf(&b, "- **Status:** %s\n", st.Status)
	fmt.Fprintf(&b, "- **Retries used:** %d of %d\n", st.RetryCount, st.RetryBudget)
	fmt.Fprintf(&b, "- **Model cost:** $%.4f\n", st.TotalCostUSD)
	fmt.Fprintf(&b, "- **Completed:** %s\n\n", st.UpdatedAt.Format("2006-01-02 15:04:05 UTC"))

	if st.Plan != nil && len(st.Plan.Dependencies) > 0 {
		fmt.Fprintf(&b, "## Upgrades (overall risk: %s)\n\n", st.Plan.OverallRisk)
		b.WriteString("| Dependency | Current | Target | Action | Risk |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, d := range st.Plan.Dependencies {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				d.Name, d.CurrentVersion, d.TargetVersion, d.Action, d.Risk)
		}
		b.WriteString("\n")
	}

	if v := st.Validation; v != nil {
		b.WriteString("## Validation\n\n")
		fmt.Fprintf(&b, "- Build: %s\n", checkbox(v.BuildOK))
		fmt.Fprintf(&b, "- Install: %s\n", checkbox(v.InstallOK))
		fmt.Fprintf(&b, "- Runtime: %s\n", checkbox(v.RuntimeOK))
		fmt.Fprintf(&b, "- Health: %s\n", checkbox(v.HealthOK))
		if v.Tests.Ran {
			fmt.Fprintf(&b, "- Tests: %s (%s)\n", checkbox(v.Tests.Passed), v.Tests.Summary)
		} else {
			b.WriteString("- Tests: not run\n")
		}
		b.WriteString("\n")
	}

	if a := st.Analysis; a != nil {
		b.WriteString("## Last Diagnosis\n\n")
		fmt.Fprintf(&b, "- Category: %s\n", a.Category)
		fmt.Fprintf(&b, "- Root cause: %s\n", a.RootCause)
		fmt.Fprintf(&b, "- Recoverable: %t\n\n", a.Recoverable)
	}

	if d := st.Deployment; d != nil {
		b.WriteString("## Deployment\n\n")
		fmt.Fprintf(&b, "- Branch: `%s`\n", d.Branch)
		pr := d.PRURL
		if d.Mock {
			pr += " *(mock — no code-host token configured)*"
		}
		fmt.Fprintf(&b, "- Pull request: %s\n", pr)
		if d.CommitID != "" {
			fmt.Fprintf(&b, "- Commit: `%s`\n", d.CommitID)
		}
		b.WriteString("\n")
	}

	if len(st.Errors) > 0 {
		b.WriteString("## Errors\n\n")
		for _, reason := range st.Errors {
			fmt.Fprintf(&b, "1. %s\n", reason)
		}
		b.WriteString("\n")
	}

	if len(st.AgentCosts) > 0 {
		b.WriteString("## Model Spend\n\n")
		b.WriteString("| Agent | Cost |\n|---|---|\n")
		for _, agent := range costOrder {
			if c, ok := st.AgentCosts[agent]; ok {
				fmt.Fprintf(&b, "| %s | $%.4f |\n", agent, c.CostUSD)
			}
		}
	}

	return b.String()
}

// costOrder fixes the agent row order so renders are deterministic.
var costOrder = []string{"planner", "validator", "analyzer", "deployer"}

func checkbox(ok bool) string {
	if ok {
		return "✅ passed"
	}
	return "❌ failed"
}
