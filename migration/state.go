package migration

import (
	"time"
)

// Status is the workflow status tag of a migration job.
type Status string

// Workflow statuses. Transitions are monotone along the state graph;
// deployed and error are terminal.
const (
	StatusInitializing Status = "initializing"
	StatusPlanCreated  Status = "plan_created"
	StatusValidating   Status = "validating"
	StatusValidated    Status = "validated"
	StatusAnalyzing    Status = "analyzing"
	StatusDeploying    Status = "deploying"
	StatusDeployed     Status = "deployed"
	StatusError        Status = "error"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusDeployed || s == StatusError
}

// statusOrder ranks statuses so monotonicity can be checked. The two
// loop statuses (validating, analyzing) share a rank because the retry
// cycle legitimately alternates between them.
var statusOrder = map[Status]int{
	StatusInitializing: 0,
	StatusPlanCreated:  1,
	StatusValidating:   2,
	StatusAnalyzing:    2,
	StatusValidated:    3,
	StatusDeploying:    4,
	StatusDeployed:     5,
	StatusError:        5,
}

// CanTransition reports whether moving from to next respects the state
// graph. Backward transitions and transitions out of terminal states
// are rejected.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	return statusOrder[to] >= statusOrder[from]
}

// AgentCost records the model spend attributed to one agent.
type AgentCost struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// State is the full record of one migration job. It is created by the
// intake endpoint, mutated only by the workflow engine, and read-only
// once the status is terminal.
type State struct {
	ID          string      `json:"id"`
	ProjectPath string      `json:"project_path"`
	ProjectKind ProjectKind `json:"project_kind"`

	// SourceBranch is the branch the upgrade branch is cut from.
	SourceBranch string `json:"source_branch"`

	// CodeHostToken is never serialized; its presence selects the real
	// code host over the mock.
	CodeHostToken string `json:"-"`

	Status Status `json:"status"`

	Plan       *Plan              `json:"plan,omitempty"`
	Validation *ValidationOutcome `json:"validation,omitempty"`
	Analysis   *ErrorAnalysis     `json:"analysis,omitempty"`
	Deployment *DeploymentResult  `json:"deployment,omitempty"`

	RetryCount  int `json:"retry_count"`
	RetryBudget int `json:"retry_budget"`

	// Errors is the ordered list of human-readable failure reasons.
	Errors []string `json:"errors,omitempty"`

	// AgentCosts maps agent name to its accumulated model spend.
	AgentCosts   map[string]AgentCost `json:"agent_costs,omitempty"`
	TotalCostUSD float64              `json:"total_cost_usd"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState creates a fresh migration state in the initializing status.
func NewState(id, projectPath string, kind ProjectKind, sourceBranch string, retryBudget int) *State {
	now := time.Now().UTC()
	if sourceBranch == "" {
		sourceBranch = "main"
	}
	return &State{
		ID:           id,
		ProjectPath:  projectPath,
		ProjectKind:  kind,
		SourceBranch: sourceBranch,
		Status:       StatusInitializing,
		RetryBudget:  retryBudget,
		AgentCosts:   make(map[string]AgentCost),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// AddCost attributes model spend to an agent and the job total.
func (s *State) AddCost(agent string, inputTokens, outputTokens int, costUSD float64) {
	if s.AgentCosts == nil {
		s.AgentCosts = make(map[string]AgentCost)
	}
	c := s.AgentCosts[agent]
	c.InputTokens += inputTokens
	c.OutputTokens += outputTokens
	c.CostUSD += costUSD
	s.AgentCosts[agent] = c
	s.TotalCostUSD += costUSD
}

// Touch bumps the modification timestamp.
func (s *State) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// AddError appends a failure reason to the ordered error list.
func (s *State) AddError(reason string) {
	s.Errors = append(s.Errors, reason)
}

// Clone returns a deep copy so registry readers always see a
// consistent snapshot.
func (s *State) Clone() *State {
	out := *s

	if s.Plan != nil {
		plan := *s.Plan
		plan.Dependencies = append([]Dependency(nil), s.Plan.Dependencies...)
		for i, d := range plan.Dependencies {
			plan.Dependencies[i].BreakingChanges = append([]string(nil), d.BreakingChanges...)
		}
		plan.Phases = make([][]string, len(s.Plan.Phases))
		for i, phase := range s.Plan.Phases {
			plan.Phases[i] = append([]string(nil), phase...)
		}
		out.Plan = &plan
	}
	if s.Validation != nil {
		v := *s.Validation
		out.Validation = &v
	}
	if s.Analysis != nil {
		a := *s.Analysis
		a.Suggestions = append([]FixSuggestion(nil), s.Analysis.Suggestions...)
		out.Analysis = &a
	}
	if s.Deployment != nil {
		d := *s.Deployment
		d.ModifiedPaths = append([]string(nil), s.Deployment.ModifiedPaths...)
		out.Deployment = &d
	}

	out.Errors = append([]string(nil), s.Errors...)
	out.AgentCosts = make(map[string]AgentCost, len(s.AgentCosts))
	for k, v := range s.AgentCosts {
		out.AgentCosts[k] = v
	}
	return &out
}
