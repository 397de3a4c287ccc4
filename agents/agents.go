// Package agents implements the four migration agents: planner,
// validator, analyzer, and deployer. Each agent is a small struct
// built from an explicit capability bundle; there is no shared base
// and no shared mutable state beyond the values the engine passes in.
package agents

import (
	"context"
	"log/slog"

	"github.com/c360studio/modernizer/llm"
	"github.com/c360studio/modernizer/migration"
)

// Agent names, used for cost attribution and capability routing.
const (
	NamePlanner   = "planner"
	NameValidator = "validator"
	NameAnalyzer  = "analyzer"
	NameDeployer  = "deployer"
)

// Completer is the slice of the model gateway the agents use.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Spend is one agent run's model usage: tokens in and out plus the
// dollar cost from the pricing table. The engine attributes it to the
// agent on the migration state.
type Spend struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

func spendOf(resp *llm.Response) Spend {
	return Spend{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		CostUSD:      resp.CostUSD,
	}
}

func (s Spend) plus(o Spend) Spend {
	return Spend{
		InputTokens:  s.InputTokens + o.InputTokens,
		OutputTokens: s.OutputTokens + o.OutputTokens,
		CostUSD:      s.CostUSD + o.CostUSD,
	}
}

// Emitter receives progress events from agents. Implementations must
// be safe for the single-threaded per-job call pattern.
type Emitter func(eventType migration.EventType, agent, message string, payload map[string]any)

// Caps is the capability bundle every agent is built from.
type Caps struct {
	Model  Completer
	Logger *slog.Logger
	Emit   Emitter
}

func (c Caps) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c Caps) emit(eventType migration.EventType, agent, message string, payload map[string]any) {
	if c.Emit != nil {
		c.Emit(eventType, agent, message, payload)
	}
}

// thinking wraps a model call with the thinking start/complete event
// pair around it.
func (c Caps) thinking(agent, message string) func() {
	c.emit(migration.EventAgentThinking, agent, message, nil)
	return func() {
		c.emit(migration.EventAgentThinkingEnd, agent, "", nil)
	}
}
