package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360studio/modernizer/llm"
	"github.com/c360studio/modernizer/manifest"
	"github.com/c360studio/modernizer/migration"
	"github.com/c360studio/modernizer/model"
	"github.com/c360studio/modernizer/registry"
)

// VersionProbe resolves latest published versions; the registry probe
// satisfies it.
type VersionProbe interface {
	LatestVersions(ctx context.Context, kind migration.ProjectKind, names []string) map[string]string
}

// Planner builds the upgrade plan for a project.
type Planner struct {
	caps  Caps
	probe VersionProbe
}

// NewPlanner creates a planner.
func NewPlanner(caps Caps, probe VersionProbe) *Planner {
	return &Planner{caps: caps, probe: probe}
}

// Run reads the manifest, resolves latest versions, and asks the model
// for a normalized plan. Current versions in the returned plan always
// equal the verbatim manifest strings.
func (p *Planner) Run(ctx context.Context, projectPath string, kind migration.ProjectKind) (*migration.Plan, Spend, error) {
	info, err := manifest.Load(projectPath, kind)
	if err != nil {
		return nil, Spend{}, err
	}
	if len(info.Dependencies) == 0 {
		return &migration.Plan{Summary: "no declared dependencies"}, Spend{}, nil
	}

	names := make([]string, 0, len(info.Dependencies))
	for _, d := range info.Dependencies {
		names = append(names, d.Name)
	}

	p.caps.emit(migration.EventToolUse, NamePlanner, "resolving latest versions", map[string]any{"packages": len(names)})
	latest := p.probe.LatestVersions(ctx, kind, names)
	p.caps.emit(migration.EventToolComplete, NamePlanner, "registry lookup complete", nil)

	userPrompt := p.buildPrompt(info, latest)

	done := p.caps.thinking(NamePlanner, "drafting upgrade plan")
	defer done()

	var spend Spend
	resp, err := p.caps.Model.Complete(ctx, llm.Request{
		Capability: string(model.CapabilityForAgent(NamePlanner)),
		CallerTag:  NamePlanner,
		Messages: []llm.Message{
			{Role: "system", Content: plannerSystemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return nil, spend, migration.Errorf(migration.KindModelUnavailable, "planner model call: %v", err)
	}
	spend = spend.plus(spendOf(resp))

	plan, perr := parsePlanResponse(resp.Content)
	if perr != nil {
		// One format-correction round before giving up.
		p.caps.logger().Warn("plan response unparseable, requesting correction", "error", perr)
		retry, rerr := p.caps.Model.Complete(ctx, llm.Request{
			Capability: string(model.CapabilityForAgent(NamePlanner)),
			CallerTag:  NamePlanner,
			Messages: []llm.Message{
				{Role: "system", Content: plannerSystemPrompt},
				{Role: "user", Content: userPrompt},
				{Role: "assistant", Content: resp.Content},
				{Role: "user", Content: plannerFormatCorrection},
			},
		})
		if rerr != nil {
			return nil, spend, migration.Errorf(migration.KindModelUnavailable, "planner correction call: %v", rerr)
		}
		spend = spend.plus(spendOf(retry))
		plan, perr = parsePlanResponse(retry.Content)
		if perr != nil {
			return nil, spend, migration.Errorf(migration.KindPlanParseFailed, "plan unparseable after correction: %v", perr)
		}
	}

	p.groundPlan(plan, info)
	return plan, spend, nil
}

// buildPrompt lists the declared dependencies with current and latest
// versions.
func (p *Planner) buildPrompt(info *manifest.Info, latest map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project kind: %s\nDeclared dependencies:\n", info.Kind)
	for _, d := range info.Dependencies {
		lv := latest[d.Name]
		if lv == "" {
			lv = registry.Unknown
		}
		dev := ""
		if d.Dev {
			dev = " (dev)"
		}
		fmt.Fprintf(&b, "- %s: current %q, latest %s%s\n", d.Name, d.Version, lv, dev)
	}
	b.WriteString("\nProduce the upgrade plan.")
	return b.String()
}

// groundPlan pins every dependency back to manifest reality: verbatim
// current versions, and no dependencies the manifest never declared.
func (p *Planner) groundPlan(plan *migration.Plan, info *manifest.Info) {
	kept := plan.Dependencies[:0]
	for _, d := range plan.Dependencies {
		declared := info.VersionOf(d.Name)
		if declared == "" && !declaredUnversioned(info, d.Name) {
			p.caps.logger().Warn("dropping undeclared dependency from plan", "package", d.Name)
			continue
		}
		d.CurrentVersion = declared
		kept = append(kept, d)
	}
	plan.Dependencies = kept
	plan.RecomputeOverallRisk()
}

// declaredUnversioned reports whether the manifest declares the name
// without a version pin.
func declaredUnversioned(info *manifest.Info, name string) bool {
	for _, d := range info.Dependencies {
		if d.Name == name {
			return true
		}
	}
	return false
}

func parsePlanResponse(content string) (*migration.Plan, error) {
	raw := llm.ExtractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return migration.NormalizePlan(decoded)
}
