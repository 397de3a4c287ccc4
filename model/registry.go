package model

import (
	"sync"
)

// Registry manages model selection based on capabilities.
// It maps capabilities to preferred endpoints with fallback chains.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[Capability]*CapabilityConfig
	endpoints    map[string]*EndpointConfig
	defaultModel string
	health       *healthState
}

// CapabilityConfig defines endpoint preferences for a capability.
type CapabilityConfig struct {
	// Description explains what this capability is for.
	Description string `json:"description"`

	// Preferred lists endpoints in order of preference.
	Preferred []string `json:"preferred"`

	// Fallback lists backup endpoints if all preferred fail.
	Fallback []string `json:"fallback,omitempty"`
}

// EndpointConfig defines an available model endpoint.
type EndpointConfig struct {
	// Provider is the model provider (anthropic, openai, ollama, mock).
	Provider string `json:"provider"`

	// URL is the API base URL. Empty for providers with a fixed default.
	URL string `json:"url,omitempty"`

	// Model is the identifier sent to the provider.
	Model string `json:"model"`

	// MaxTokens is the context window size.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// NewRegistry creates a registry with the given configuration.
func NewRegistry(caps map[Capability]*CapabilityConfig, endpoints map[string]*EndpointConfig) *Registry {
	return &Registry{
		capabilities: caps,
		endpoints:    endpoints,
		defaultModel: "mock",
	}
}

// NewDefaultRegistry creates a registry with sensible defaults: an
// Anthropic reasoning tier, an OpenAI cost tier, a local Ollama
// fallback, and the offline mock.
func NewDefaultRegistry() *Registry {
	return &Registry{
		capabilities: map[Capability]*CapabilityConfig{
			CapabilityReasoning: {
				Description: "Plan generation and failure analysis",
				Preferred:   []string{"claude-sonnet"},
				Fallback:    []string{"gpt-4o", "qwen"},
			},
			CapabilityFast: {
				Description: "Verdict classification, summaries",
				Preferred:   []string{"claude-haiku"},
				Fallback:    []string{"gpt-4o-mini", "qwen"},
			},
			CapabilityMock: {
				Description: "Offline deterministic responses",
				Preferred:   []string{"mock"},
			},
		},
		endpoints: map[string]*EndpointConfig{
			"claude-sonnet": {
				Provider:  "anthropic",
				Model:     "claude-sonnet-4-20250514",
				MaxTokens: 200000,
			},
			"claude-haiku": {
				Provider:  "anthropic",
				Model:     "claude-haiku-3-5-20241022",
				MaxTokens: 200000,
			},
			"gpt-4o": {
				Provider:  "openai",
				Model:     "gpt-4o",
				MaxTokens: 128000,
			},
			"gpt-4o-mini": {
				Provider:  "openai",
				Model:     "gpt-4o-mini",
				MaxTokens: 128000,
			},
			"qwen": {
				Provider:  "ollama",
				URL:       "http://localhost:11434/v1",
				Model:     "qwen2.5-coder:14b",
				MaxTokens: 128000,
			},
			"mock": {
				Provider: "mock",
				Model:    "mock-model",
			},
		},
		defaultModel: "mock",
	}
}

// NewMockRegistry creates a registry where every capability resolves to
// the offline mock endpoint. Used by tests and credential-free runs.
func NewMockRegistry() *Registry {
	mock := &CapabilityConfig{Preferred: []string{"mock"}}
	return &Registry{
		capabilities: map[Capability]*CapabilityConfig{
			CapabilityReasoning: mock,
			CapabilityFast:      mock,
			CapabilityMock:      mock,
		},
		endpoints: map[string]*EndpointConfig{
			"mock": {Provider: "mock", Model: "mock-model"},
		},
		defaultModel: "mock",
	}
}

// Resolve returns the preferred endpoint name for a capability.
func (r *Registry) Resolve(cap Capability) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.capabilities[cap]; ok && len(cfg.Preferred) > 0 {
		return cfg.Preferred[0]
	}
	return r.defaultModel
}

// GetFallbackChain returns all endpoints for a capability in order of
// preference.
func (r *Registry) GetFallbackChain(cap Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.capabilities[cap]; ok {
		chain := make([]string, 0, len(cfg.Preferred)+len(cfg.Fallback))
		chain = append(chain, cfg.Preferred...)
		chain = append(chain, cfg.Fallback...)
		return chain
	}
	return []string{r.defaultModel}
}

// GetEndpoint returns the endpoint configuration for a name, or nil.
func (r *Registry) GetEndpoint(name string) *EndpointConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.endpoints[name]
}

// SetCapability updates or adds a capability configuration.
func (r *Registry) SetCapability(cap Capability, cfg *CapabilityConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capabilities == nil {
		r.capabilities = make(map[Capability]*CapabilityConfig)
	}
	r.capabilities[cap] = cfg
}

// SetEndpoint updates or adds an endpoint configuration.
func (r *Registry) SetEndpoint(name string, cfg *EndpointConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.endpoints == nil {
		r.endpoints = make(map[string]*EndpointConfig)
	}
	r.endpoints[name] = cfg
}

// ListEndpoints returns all configured endpoint names.
func (r *Registry) ListEndpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	return names
}
