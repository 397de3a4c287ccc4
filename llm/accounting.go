package llm

import "sync"

// Usage is the accumulated token and cost totals for one caller tag.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	Calls        int     `json:"calls"`
}

// Accounting is a process-wide accumulator of model spend broken down
// by caller tag, so the workflow engine can attribute cost per agent.
// Safe for concurrent use.
type Accounting struct {
	mu     sync.Mutex
	byTag  map[string]Usage
	totals Usage
}

// NewAccounting creates an empty accumulator.
func NewAccounting() *Accounting {
	return &Accounting{byTag: make(map[string]Usage)}
}

// Record adds one call's usage under the given tag.
func (a *Accounting) Record(tag string, inputTokens, outputTokens int, costUSD float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	u := a.byTag[tag]
	u.InputTokens += inputTokens
	u.OutputTokens += outputTokens
	u.CostUSD += costUSD
	u.Calls++
	a.byTag[tag] = u

	a.totals.InputTokens += inputTokens
	a.totals.OutputTokens += outputTokens
	a.totals.CostUSD += costUSD
	a.totals.Calls++
}

// Snapshot returns a copy of the per-tag usage map.
func (a *Accounting) Snapshot() map[string]Usage {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]Usage, len(a.byTag))
	for k, v := range a.byTag {
		out[k] = v
	}
	return out
}

// Totals returns the accumulated usage across all tags.
func (a *Accounting) Totals() Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totals
}
