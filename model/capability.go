// Package model provides capability-based model selection for the
// migration agents. Agents specify capabilities ("reasoning", "fast")
// rather than model names, and the registry resolves them to available
// endpoints with fallback chains.
package model

// Capability represents a semantic capability for model selection.
type Capability string

const (
	// CapabilityReasoning is for plan generation and error analysis,
	// where a reasoning-strong model pays for itself.
	CapabilityReasoning Capability = "reasoning"

	// CapabilityFast is for verdict classification and other cheap,
	// high-volume calls.
	CapabilityFast Capability = "fast"

	// CapabilityMock routes to the offline mock provider used by tests
	// and credential-free runs.
	CapabilityMock Capability = "mock"
)

// AgentCapabilities maps agent names to their default capability.
var AgentCapabilities = map[string]Capability{
	"planner":   CapabilityReasoning,
	"analyzer":  CapabilityReasoning,
	"validator": CapabilityFast,
	"deployer":  CapabilityFast,
}

// CapabilityForAgent returns the default capability for an agent.
// Unknown agents get the fast tier.
func CapabilityForAgent(agent string) Capability {
	if c, ok := AgentCapabilities[agent]; ok {
		return c
	}
	return CapabilityFast
}

// IsValid checks whether the capability is known.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityReasoning, CapabilityFast, CapabilityMock:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a string to a Capability, returning empty
// for invalid values.
func ParseCapability(s string) Capability {
	c := Capability(s)
	if c.IsValid() {
		return c
	}
	return ""
}
