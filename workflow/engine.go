// Package workflow drives one migration job through its state machine:
// plan, validate, and either deploy or analyze-and-retry within the
// retry budget. The engine is the sole writer of a job's state; after
// every node it persists the state and emits a progress event.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/c360studio/modernizer/agents"
	"github.com/c360studio/modernizer/jobs"
	"github.com/c360studio/modernizer/migration"
)

// Planner produces the upgrade plan.
type Planner interface {
	Run(ctx context.Context, projectPath string, kind migration.ProjectKind) (*migration.Plan, agents.Spend, error)
}

// Validator runs a plan through the sandbox.
type Validator interface {
	Run(ctx context.Context, projectPath string, kind migration.ProjectKind, plan *migration.Plan) (*agents.ValidationResult, agents.Spend, error)
}

// Analyzer diagnoses failed validations.
type Analyzer interface {
	Run(ctx context.Context, outcome *migration.ValidationOutcome, plan *migration.Plan) (*migration.ErrorAnalysis, agents.Spend, error)
}

// Deployer ships a validated plan.
type Deployer interface {
	Run(ctx context.Context, st *migration.State) (*migration.DeploymentResult, agents.Spend, error)
}

// Engine executes migration jobs.
type Engine struct {
	registry *jobs.Registry
	bus      *jobs.Bus
	logger   *slog.Logger

	planner   Planner
	validator Validator
	analyzer  Analyzer
	deployer  Deployer
}

// NewEngine wires an engine from its collaborators.
func NewEngine(registry *jobs.Registry, bus *jobs.Bus, planner Planner, validator Validator, analyzer Analyzer, deployer Deployer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry:  registry,
		bus:       bus,
		logger:    logger,
		planner:   planner,
		validator: validator,
		analyzer:  analyzer,
		deployer:  deployer,
	}
}

// Job returns the pool task that runs one migration to completion.
func (e *Engine) Job(st *migration.State) func(ctx context.Context) {
	return func(ctx context.Context) { e.Run(ctx, st) }
}

// Run drives a migration from initializing to a terminal status.
func (e *Engine) Run(ctx context.Context, st *migration.State) {
	log := e.logger.With("migration_id", st.ID, "project", st.ProjectPath)
	log.Info("workflow starting", "kind", st.ProjectKind, "retry_budget", st.RetryBudget)

	e.emit(st, migration.EventWorkflowStart, "", "migration started", nil)

	plan, spend, err := e.planner.Run(ctx, st.ProjectPath, st.ProjectKind)
	st.AddCost(agents.NamePlanner, spend.InputTokens, spend.OutputTokens, spend.CostUSD)
	if err != nil {
		e.fail(st, err)
		return
	}
	st.Plan = plan
	e.setStatus(st, migration.StatusPlanCreated)
	e.emit(st, migration.EventAgentCompletion, agents.NamePlanner,
		fmt.Sprintf("plan created: %d upgrades, overall risk %s", len(plan.Upgrades()), plan.OverallRisk),
		map[string]any{"upgrades": len(plan.Upgrades())})

	for {
		e.setStatus(st, migration.StatusValidating)

		res, spend, err := e.validator.Run(ctx, st.ProjectPath, st.ProjectKind, st.Plan)
		st.AddCost(agents.NameValidator, spend.InputTokens, spend.OutputTokens, spend.CostUSD)
		if err != nil {
			e.fail(st, err)
			return
		}
		st.Validation = res.Outcome
		e.persist(st)
		e.emit(st, migration.EventAgentCompletion, agents.NameValidator,
			fmt.Sprintf("validation %s, verdict %s", passFail(res.Outcome.Success()), res.Verdict),
			map[string]any{"success": res.Outcome.Success(), "verdict": string(res.Verdict)})

		if res.Outcome.Success() {
			e.deploy(ctx, st)
			return
		}

		if st.RetryCount >= st.RetryBudget {
			e.fail(st, migration.Errorf(migration.KindBudgetExhausted,
				"validation still failing after %d retries", st.RetryCount))
			return
		}

		e.setStatus(st, migration.StatusAnalyzing)
		analysis, spend, err := e.analyzer.Run(ctx, st.Validation, st.Plan)
		st.AddCost(agents.NameAnalyzer, spend.InputTokens, spend.OutputTokens, spend.CostUSD)
		if err != nil {
			e.fail(st, err)
			return
		}
		st.Analysis = analysis
		e.persist(st)
		e.emit(st, migration.EventAgentCompletion, agents.NameAnalyzer,
			fmt.Sprintf("diagnosis: %s (recoverable=%t)", analysis.Category, analysis.Recoverable),
			map[string]any{"category": string(analysis.Category), "recoverable": analysis.Recoverable})

		if !analysis.Recoverable {
			e.fail(st, fmt.Errorf("unrecoverable failure: %s", analysis.RootCause))
			return
		}

		applied := applySuggestions(st.Plan, analysis.Suggestions)
		if applied == 0 {
			e.fail(st, fmt.Errorf("no applicable fix for %s", analysis.Category))
			return
		}
		st.RetryCount++
		e.persist(st)
		e.logger.Info("retrying with adjusted plan",
			"migration_id", st.ID, "retry", st.RetryCount, "applied_fixes", applied)
	}
}

func (e *Engine) deploy(ctx context.Context, st *migration.State) {
	e.setStatus(st, migration.StatusValidated)
	e.setStatus(st, migration.StatusDeploying)

	result, spend, err := e.deployer.Run(ctx, st)
	st.AddCost(agents.NameDeployer, spend.InputTokens, spend.OutputTokens, spend.CostUSD)
	if err != nil {
		e.fail(st, err)
		return
	}
	st.Deployment = result
	e.setStatus(st, migration.StatusDeployed)
	e.emit(st, migration.EventAgentCompletion, agents.NameDeployer,
		"pull request opened: "+result.PRURL, map[string]any{"pr_url": result.PRURL, "mock": result.Mock})
	e.emit(st, migration.EventWorkflowComplete, "", "migration deployed",
		map[string]any{"branch": result.Branch, "total_cost_usd": st.TotalCostUSD})
	e.logger.Info("workflow deployed", "migration_id", st.ID, "branch", result.Branch, "mock", result.Mock)
}

// applySuggestions mutates the plan's target versions in place and
// returns how many suggestions landed.
func applySuggestions(plan *migration.Plan, suggestions []migration.FixSuggestion) int {
	applied := 0
	for _, s := range suggestions {
		if s.ToVersion == "" {
			continue
		}
		if d := plan.Find(s.Package); d != nil && d.Action == migration.ActionUpgrade {
			d.TargetVersion = s.ToVersion
			applied++
		}
	}
	return applied
}

// fail moves the job to the terminal error status with an ordered
// human-readable reason.
func (e *Engine) fail(st *migration.State, err error) {
	reason := err.Error()
	if errors.Is(err, context.Canceled) || migration.KindOf(err) == migration.KindCancelled {
		reason = string(migration.KindCancelled)
	} else if kind := migration.KindOf(err); kind == migration.KindBudgetExhausted || kind == migration.KindSandboxUnavailable {
		reason = string(kind)
	}
	st.AddError(reason)
	e.setStatus(st, migration.StatusError)
	e.emit(st, migration.EventWorkflowError, "", reason, map[string]any{"errors": st.Errors})
	e.logger.Error("workflow failed", "migration_id", st.ID, "reason", reason)
}

func (e *Engine) setStatus(st *migration.State, status migration.Status) {
	if !migration.CanTransition(st.Status, status) {
		e.logger.Error("illegal status transition", "migration_id", st.ID, "from", st.Status, "to", status)
		return
	}
	st.Status = status
	e.persist(st)
	e.emit(st, migration.EventWorkflowStatus, "", string(status), nil)
}

func (e *Engine) persist(st *migration.State) {
	st.Touch()
	e.registry.Put(st)
}

func (e *Engine) emit(st *migration.State, typ migration.EventType, agent, message string, payload map[string]any) {
	ev := migration.NewEvent(typ, st.ID)
	ev.Agent = agent
	ev.Status = st.Status
	ev.Message = message
	ev.Payload = payload
	e.bus.Publish(ev)
}

// Emitter adapts the engine's bus to the agents' event callback.
func (e *Engine) Emitter(migrationID string) agents.Emitter {
	return func(typ migration.EventType, agent, message string, payload map[string]any) {
		ev := migration.NewEvent(typ, migrationID)
		ev.Agent = agent
		ev.Message = message
		ev.Payload = payload
		e.bus.Publish(ev)
	}
}

func passFail(ok bool) string {
	if ok {
		return "passed"
	}
	return "failed"
}
