package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "fenced block",
			in:   "Here is the plan:\n```json\n{\"a\": 1}\n```\nDone.",
			want: `{"a": 1}`,
		},
		{
			name: "bare object",
			in:   `prefix {"a": 1} suffix`,
			want: `{"a": 1}`,
		},
		{
			name: "trailing comma",
			in:   `{"a": 1,}`,
			want: `{"a": 1}`,
		},
		{
			name: "line comment",
			in:   "{\n\"a\": 1 // the answer\n}",
			want: "{\n\"a\": 1\n}",
		},
		{
			name: "url untouched",
			in:   `{"url": "https://example.com/x"}`,
			want: `{"url": "https://example.com/x"}`,
		},
		{
			name: "no json",
			in:   "sorry, I cannot help with that",
			want: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractJSON(tc.in))
		})
	}
}

func TestExtractJSON_ResultParses(t *testing.T) {
	in := "```json\n{\n  \"deps\": [\n    \"express\", // web framework\n    \"cors\",\n  ]\n}\n```"
	out := ExtractJSON(in)
	require.NotEmpty(t, out)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Len(t, decoded["deps"], 2)
}

func TestExtractJSONArray(t *testing.T) {
	assert.Equal(t, `["a", "b"]`, ExtractJSONArray("result: [\"a\", \"b\"]"))
	assert.Equal(t, "", ExtractJSONArray("nothing here"))
}

func TestPricing(t *testing.T) {
	// Longest prefix wins: gpt-4o-mini must not price as gpt-4.
	mini := PricingFor("gpt-4o-mini")
	assert.Equal(t, 0.15, mini.InputPerMillion)

	full := PricingFor("gpt-4o")
	assert.Equal(t, 2.50, full.InputPerMillion)

	free := PricingFor("qwen2.5-coder:14b")
	assert.Zero(t, free.InputPerMillion)

	cost := CostUSD("claude-sonnet-4-20250514", 1_000_000, 1_000_000)
	assert.InDelta(t, 18.0, cost, 1e-9)
}

func TestAccounting(t *testing.T) {
	a := NewAccounting()
	a.Record("planner", 100, 50, 0.01)
	a.Record("planner", 100, 50, 0.01)
	a.Record("validator", 10, 5, 0.001)

	snap := a.Snapshot()
	assert.Equal(t, 200, snap["planner"].InputTokens)
	assert.Equal(t, 2, snap["planner"].Calls)
	assert.Equal(t, 1, snap["validator"].Calls)

	totals := a.Totals()
	assert.Equal(t, 210, totals.InputTokens)
	assert.Equal(t, 105, totals.OutputTokens)
	assert.InDelta(t, 0.021, totals.CostUSD, 1e-9)
	assert.Equal(t, 3, totals.Calls)
}
