package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/c360studio/modernizer/llm"
	"github.com/c360studio/modernizer/manifest"
	"github.com/c360studio/modernizer/migration"
	"github.com/c360studio/modernizer/model"
	"github.com/c360studio/modernizer/sandbox"
)

// SandboxRunner executes one plan validation; the sandbox driver
// satisfies it.
type SandboxRunner interface {
	Validate(ctx context.Context, proj sandbox.Project, plan *migration.Plan) (*migration.ValidationOutcome, error)
}

// ValidationResult pairs the sandbox outcome with the model's verdict.
type ValidationResult struct {
	Outcome *migration.ValidationOutcome
	Verdict migration.Verdict
	Reasons []string
}

// Validator runs plans through the sandbox and classifies the result.
type Validator struct {
	caps    Caps
	sandbox SandboxRunner
}

// NewValidator creates a validator.
func NewValidator(caps Caps, sb SandboxRunner) *Validator {
	return &Validator{caps: caps, sandbox: sb}
}

// Run validates the plan in the sandbox, then asks the model for a
// verdict. A failed model call degrades to a mechanical verdict; the
// sandbox outcome is authoritative either way.
func (v *Validator) Run(ctx context.Context, projectPath string, kind migration.ProjectKind, plan *migration.Plan) (*ValidationResult, Spend, error) {
	proj := sandbox.Project{Path: projectPath, Kind: kind}
	if info, err := manifest.Load(projectPath, kind); err == nil {
		proj.StartScript = info.StartScript
		proj.TestScript = info.TestScript
		proj.HealthPath = info.HealthPath
	}

	v.caps.emit(migration.EventToolUse, NameValidator, "sandbox validation started", nil)
	outcome, err := v.sandbox.Validate(ctx, proj, plan)
	if err != nil {
		return nil, Spend{}, err
	}
	v.caps.emit(migration.EventToolComplete, NameValidator, "sandbox validation finished", map[string]any{
		"success": outcome.Success(),
	})

	verdict, reasons, spend := v.classify(ctx, outcome)
	return &ValidationResult{Outcome: outcome, Verdict: verdict, Reasons: reasons}, spend, nil
}

func (v *Validator) classify(ctx context.Context, outcome *migration.ValidationOutcome) (migration.Verdict, []string, Spend) {
	summary, err := json.Marshal(outcome)
	if err != nil {
		return mechanicalVerdict(outcome)
	}

	done := v.caps.thinking(NameValidator, "classifying validation outcome")
	defer done()

	resp, err := v.caps.Model.Complete(ctx, llm.Request{
		Capability: string(model.CapabilityForAgent(NameValidator)),
		CallerTag:  NameValidator,
		Messages: []llm.Message{
			{Role: "system", Content: validatorSystemPrompt},
			{Role: "user", Content: "Validation outcome:\n" + string(summary)},
		},
	})
	if err != nil {
		v.caps.logger().Warn("validator model call failed, using mechanical verdict", "error", err)
		verdict, reasons, _ := mechanicalVerdict(outcome)
		return verdict, reasons, Spend{}
	}

	var parsed struct {
		Verdict string   `json:"verdict"`
		Reasons []string `json:"reasons"`
	}
	if raw := llm.ExtractJSON(resp.Content); raw != "" {
		if jerr := json.Unmarshal([]byte(raw), &parsed); jerr == nil {
			switch migration.Verdict(parsed.Verdict) {
			case migration.VerdictProceed, migration.VerdictFix, migration.VerdictRollback:
				return migration.Verdict(parsed.Verdict), parsed.Reasons, spendOf(resp)
			}
		}
	}
	v.caps.logger().Warn("validator verdict unparseable, using mechanical verdict")
	verdict, reasons, _ := mechanicalVerdict(outcome)
	return verdict, reasons, spendOf(resp)
}

// mechanicalVerdict synthesizes a verdict from the outcome alone.
func mechanicalVerdict(outcome *migration.ValidationOutcome) (migration.Verdict, []string, Spend) {
	if outcome.Success() {
		return migration.VerdictProceed, []string{"all validation stages passed"}, Spend{}
	}
	var reasons []string
	if !outcome.BuildOK {
		reasons = append(reasons, "sandbox build stage failed")
	}
	if !outcome.InstallOK {
		reasons = append(reasons, "dependency install failed")
	}
	if !outcome.RuntimeOK {
		reasons = append(reasons, "application did not stay running")
	}
	if !outcome.HealthOK {
		reasons = append(reasons, "health check failed")
	}
	if outcome.Tests.Ran && !outcome.Tests.Passed {
		reasons = append(reasons, fmt.Sprintf("test suite failed (%s)", outcome.Tests.Summary))
	}
	return migration.VerdictFix, reasons, Spend{}
}
