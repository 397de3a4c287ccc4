package llm

import "strings"

// ModelPricing holds the static per-model cost rates in USD per
// million tokens.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// pricingTable maps model identifier prefixes to their rates. Longest
// matching prefix wins. Models not listed (local Ollama, mock) cost
// nothing.
var pricingTable = map[string]ModelPricing{
	"claude-opus":   {InputPerMillion: 15.00, OutputPerMillion: 75.00},
	"claude-sonnet": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-haiku":  {InputPerMillion: 0.80, OutputPerMillion: 4.00},
	"gpt-4o-mini":   {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"gpt-4o":        {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4":         {InputPerMillion: 30.00, OutputPerMillion: 60.00},
}

// PricingFor returns the pricing for a model identifier, matching by
// longest prefix. The zero value means the model is free.
func PricingFor(model string) ModelPricing {
	var best string
	var found ModelPricing
	for prefix, p := range pricingTable {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
			found = p
		}
	}
	return found
}

// CostUSD computes the dollar cost of a call from its token counts.
func CostUSD(model string, inputTokens, outputTokens int) float64 {
	p := PricingFor(model)
	return float64(inputTokens)/1e6*p.InputPerMillion +
		float64(outputTokens)/1e6*p.OutputPerMillion
}
