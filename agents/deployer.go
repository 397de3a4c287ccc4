package agents

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/c360studio/modernizer/manifest"
	"github.com/c360studio/modernizer/migration"
	"github.com/c360studio/modernizer/tools"
)

// CodeHost is the slice of the tool host the deployer uses.
type CodeHost interface {
	ReadFile(ctx context.Context, path string) (tools.FileResult, error)
	WriteFile(ctx context.Context, path string, data []byte) (bool, error)
	CreateBranch(ctx context.Context, repo, fromRef, name string) (bool, error)
	Commit(ctx context.Context, repo, branch string, files map[string][]byte, message string) (tools.CommitResult, error)
	OpenPR(ctx context.Context, repo, head, base, title, body string) (tools.PRResult, error)
}

// Deployer writes the validated manifest and opens the upgrade PR.
type Deployer struct {
	caps Caps
	host CodeHost

	// now is the branch-name clock, overridable in tests.
	now func() time.Time
}

// NewDeployer creates a deployer.
func NewDeployer(caps Caps, host CodeHost) *Deployer {
	return &Deployer{caps: caps, host: host, now: time.Now}
}

// BranchName derives the upgrade branch name from a wall-clock instant
// in UTC.
func BranchName(t time.Time) string {
	return "upgrade/dependencies-" + t.UTC().Format("20060102-150405")
}

// Run patches the manifest on disk, creates the branch, commits, and
// opens the pull request. The deployer makes no model calls.
func (d *Deployer) Run(ctx context.Context, st *migration.State) (*migration.DeploymentResult, Spend, error) {
	if st.Plan == nil {
		return nil, Spend{}, migration.Errorf(migration.KindPlanInputMissing, "no plan to deploy")
	}

	fileName := manifest.FileName(st.ProjectKind)
	manifestPath := filepath.Join(st.ProjectPath, fileName)

	current, err := d.host.ReadFile(ctx, manifestPath)
	if err != nil {
		return nil, Spend{}, migration.Errorf(migration.KindToolUnavailable, "read manifest: %v", err)
	}

	patched := manifest.Patch(st.ProjectKind, current.Data, manifest.ChangesFromPlan(st.Plan))

	d.caps.emit(migration.EventToolUse, NameDeployer, "writing updated manifest", map[string]any{"path": fileName})
	if _, err := d.host.WriteFile(ctx, manifestPath, patched); err != nil {
		return nil, Spend{}, migration.Errorf(migration.KindToolUnavailable, "write manifest: %v", err)
	}
	d.caps.emit(migration.EventToolComplete, NameDeployer, "manifest updated", nil)

	repo := filepath.Base(strings.TrimRight(st.ProjectPath, "/"))
	branch := BranchName(d.now())
	upgrades := st.Plan.Upgrades()

	mock, err := d.host.CreateBranch(ctx, repo, st.SourceBranch, branch)
	if err != nil {
		return nil, Spend{}, migration.Errorf(migration.KindCodeHostDenied, "create branch: %v", err)
	}

	commit, err := d.host.Commit(ctx, repo, branch,
		map[string][]byte{fileName: patched}, commitMessage(upgrades))
	if err != nil {
		return nil, Spend{}, migration.Errorf(migration.KindCodeHostDenied, "commit: %v", err)
	}

	title := fmt.Sprintf("chore(deps): upgrade %d dependencies", len(upgrades))
	pr, err := d.host.OpenPR(ctx, repo, branch, st.SourceBranch, title, prBody(st, branch))
	if err != nil {
		return nil, Spend{}, migration.Errorf(migration.KindCodeHostDenied, "open pr: %v", err)
	}

	return &migration.DeploymentResult{
		Branch:        branch,
		CommitID:      commit.CommitID,
		PRURL:         pr.URL,
		Mock:          mock || commit.Mock || pr.Mock,
		ModifiedPaths: []string{fileName},
	}, Spend{}, nil
}

// commitMessage follows the conventional-commit form with a bullet per
// upgrade.
func commitMessage(upgrades []migration.Dependency) string {
	var b strings.Builder
	fmt.Fprintf(&b, "chore(deps): upgrade %d dependencies\n", len(upgrades))
	for _, d := range upgrades {
		fmt.Fprintf(&b, "\n- %s %s -> %s", d.Name, d.CurrentVersion, d.TargetVersion)
	}
	return b.String()
}

// prBody renders the PR description: plan summary, validation results,
// test summary, and a rollback snippet. No tokens or secrets appear
// here.
func prBody(st *migration.State, branch string) string {
	var b strings.Builder

	b.WriteString("## Dependency upgrades\n\n")
	if st.Plan.Summary != "" {
		b.WriteString(st.Plan.Summary + "\n\n")
	}
	b.WriteString("| Package | Current | Target | Risk |\n|---|---|---|---|\n")
	for _, d := range st.Plan.Upgrades() {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", d.Name, d.CurrentVersion, d.TargetVersion, d.Risk)
	}

	if v := st.Validation; v != nil {
		b.WriteString("\n## Validation\n\n")
		fmt.Fprintf(&b, "- install: %s\n", okString(v.InstallOK))
		fmt.Fprintf(&b, "- runtime: %s\n", okString(v.RuntimeOK))
		fmt.Fprintf(&b, "- health: %s\n", okString(v.HealthOK))
		if v.Tests.Ran {
			fmt.Fprintf(&b, "- tests: %s (%s)\n", okString(v.Tests.Passed), v.Tests.Summary)
		} else {
			b.WriteString("- tests: not declared\n")
		}
	}

	b.WriteString("\n## Rollback\n\n```\ngit revert --no-edit " + branch + "\n```\n")
	return b.String()
}

func okString(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
