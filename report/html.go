package report

import (
	"bytes"
	"html/template"

	"github.com/c360studio/modernizer/migration"
)

// renderHTML wraps the state in a small self-contained page. All state
// fields flow through html/template's contextual escaping, so log
// excerpts and model-produced text cannot inject markup.
func renderHTML(st *migration.State) ([]byte, error) {
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, htmlView{State: st}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type htmlView struct {
	*migration.State
}

func (v htmlView) StatusClass() string {
	switch v.Status {
	case migration.StatusDeployed:
		return "ok"
	case migration.StatusError:
		return "err"
	default:
		return "run"
	}
}

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"stage": func(ok bool) template.HTML {
		if ok {
			return `<span class="ok">passed</span>`
		}
		return `<span class="err">failed</span>`
	},
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Dependency Upgrade Report — {{.ID}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", sans-serif; max-width: 52rem; margin: 2rem auto; color: #1a1a2e; }
table { border-collapse: collapse; width: 100%; margin: 0.5rem 0 1.5rem; }
th, td { border: 1px solid #d0d0e0; padding: 0.4rem 0.7rem; text-align: left; }
th { background: #f3f3fa; }
.ok { color: #1a7f37; font-weight: 600; }
.err { color: #cf222e; font-weight: 600; }
.run { color: #9a6700; font-weight: 600; }
.mock { color: #57606a; font-style: italic; }
code { background: #f3f3fa; padding: 0.1rem 0.3rem; border-radius: 3px; }
ol.errors li { color: #cf222e; }
</style>
</head>
<body>
<h1>Dependency Upgrade Report</h1>
<p>
Migration <code>{{.ID}}</code> · <code>{{.ProjectPath}}</code> ({{.ProjectKind}})<br>
Status: <span class="{{.StatusClass}}">{{.Status}}</span> ·
Retries: {{.RetryCount}}/{{.RetryBudget}} ·
Model cost: ${{printf "%.4f" .TotalCostUSD}}
</p>

{{if .Plan}}{{if .Plan.Dependencies}}
<h2>Upgrades <small>(overall risk: {{.Plan.OverallRisk}})</small></h2>
<table>
<tr><th>Dependency</th><th>Current</th><th>Target</th><th>Action</th><th>Risk</th></tr>
{{range .Plan.Dependencies}}
<tr><td>{{.Name}}</td><td>{{.CurrentVersion}}</td><td>{{.TargetVersion}}</td><td>{{.Action}}</td><td>{{.Risk}}</td></tr>
{{end}}
</table>
{{end}}{{end}}

{{with .Validation}}
<h2>Validation</h2>
<table>
<tr><th>Stage</th><th>Result</th></tr>
<tr><td>Build</td><td>{{stage .BuildOK}}</td></tr>
<tr><td>Install</td><td>{{stage .InstallOK}}</td></tr>
<tr><td>Runtime</td><td>{{stage .RuntimeOK}}</td></tr>
<tr><td>Health</td><td>{{stage .HealthOK}}</td></tr>
{{if .Tests.Ran}}<tr><td>Tests</td><td>{{stage .Tests.Passed}} — {{.Tests.Summary}}</td></tr>
{{else}}<tr><td>Tests</td><td>not run</td></tr>{{end}}
</table>
{{end}}

{{with .Analysis}}
<h2>Last Diagnosis</h2>
<p>Category: <code>{{.Category}}</code> · Recoverable: {{.Recoverable}}<br>{{.RootCause}}</p>
{{end}}

{{with .Deployment}}
<h2>Deployment</h2>
<p>
Branch: <code>{{.Branch}}</code><br>
Pull request: <a href="{{.PRURL}}">{{.PRURL}}</a>{{if .Mock}} <span class="mock">(mock — no code-host token configured)</span>{{end}}<br>
{{if .CommitID}}Commit: <code>{{.CommitID}}</code>{{end}}
</p>
{{end}}

{{if .Errors}}
<h2>Errors</h2>
<ol class="errors">
{{range .Errors}}<li>{{.}}</li>
{{end}}</ol>
{{end}}

<p><small>Generated {{.UpdatedAt.Format "2006-01-02 15:04:05 UTC"}}</small></p>
</body>
</html>
`))
