// Package config provides configuration loading for the modernizer
// service: defaults, a YAML file layer, and environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/modernizer/model"
	"github.com/c360studio/modernizer/tools"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Model    ModelConfig    `yaml:"model"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Workflow WorkflowConfig `yaml:"workflow"`
	NATS     NATSConfig     `yaml:"nats"`

	// Tools maps server name (filesystem, codehost) to its child
	// process launch command. Empty means in-process fallbacks only.
	Tools map[string]tools.ServerConfig `yaml:"tools"`

	// CodeHostToken is never read from the YAML file; it comes from
	// the CODE_HOST_TOKEN environment variable only.
	CodeHostToken string `yaml:"-"`
}

// ServerConfig configures the HTTP/WS listener.
type ServerConfig struct {
	// Addr is the listen address (host:port).
	Addr string `yaml:"addr"`
	// ShutdownGrace bounds graceful shutdown.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// ModelConfig configures language-model access.
type ModelConfig struct {
	// Provider selects the default provider (anthropic, openai,
	// ollama, mock). Empty selects mock when no credentials are set.
	Provider string `yaml:"provider"`
	// Overrides maps provider name to a model identifier that replaces
	// the registry default (e.g. openai: gpt-4o-mini).
	Overrides map[string]string `yaml:"overrides"`
	// Temperature for completions (0.0-1.0).
	Temperature float64 `yaml:"temperature"`
}

// SandboxConfig configures the Docker validation sandbox.
type SandboxConfig struct {
	// Cleanup removes containers after validation; false preserves
	// them for debugging. Unset means enabled.
	Cleanup *bool `yaml:"cleanup"`
	// TimeoutSeconds is the per-validation ceiling.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// WorkflowConfig configures job execution.
type WorkflowConfig struct {
	// MaxRetries is the default analyzer-driven retry budget.
	MaxRetries int `yaml:"max_retries"`
	// WorkerPoolSize caps concurrently running migrations.
	WorkerPoolSize int `yaml:"worker_pool_size"`
}

// NATSConfig configures the optional event mirror.
type NATSConfig struct {
	// URL of the NATS server; empty disables mirroring.
	URL string `yaml:"url"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:          ":8080",
			ShutdownGrace: 15 * time.Second,
		},
		Model: ModelConfig{
			Provider:    "",
			Temperature: 0.2,
		},
		Sandbox: SandboxConfig{
			TimeoutSeconds: 300,
		},
		Workflow: WorkflowConfig{
			MaxRetries:     3,
			WorkerPoolSize: 4,
		},
	}
}

// LoadFromFile loads configuration from a YAML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// Merge overlays non-zero fields of other onto c.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.ShutdownGrace != 0 {
		c.Server.ShutdownGrace = other.Server.ShutdownGrace
	}

	if other.Model.Provider != "" {
		c.Model.Provider = other.Model.Provider
	}
	if other.Model.Temperature != 0 {
		c.Model.Temperature = other.Model.Temperature
	}
	for provider, m := range other.Model.Overrides {
		if c.Model.Overrides == nil {
			c.Model.Overrides = make(map[string]string)
		}
		c.Model.Overrides[provider] = m
	}

	if other.Sandbox.Cleanup != nil {
		c.Sandbox.Cleanup = other.Sandbox.Cleanup
	}
	if other.Sandbox.TimeoutSeconds != 0 {
		c.Sandbox.TimeoutSeconds = other.Sandbox.TimeoutSeconds
	}

	if other.Workflow.MaxRetries != 0 {
		c.Workflow.MaxRetries = other.Workflow.MaxRetries
	}
	if other.Workflow.WorkerPoolSize != 0 {
		c.Workflow.WorkerPoolSize = other.Workflow.WorkerPoolSize
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}

	if len(other.Tools) > 0 {
		c.Tools = other.Tools
	}
	if other.CodeHostToken != "" {
		c.CodeHostToken = other.CodeHostToken
	}
}

// ApplyEnv overlays the supported environment variables onto c.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("MODEL_PROVIDER"); v != "" {
		c.Model.Provider = v
	}
	for _, provider := range []string{"anthropic", "openai", "ollama", "mock"} {
		key := "PROVIDER_" + strings.ToUpper(provider) + "_MODEL"
		if v := os.Getenv(key); v != "" {
			if c.Model.Overrides == nil {
				c.Model.Overrides = make(map[string]string)
			}
			c.Model.Overrides[provider] = v
		}
	}
	if v := os.Getenv("CODE_HOST_TOKEN"); v != "" {
		c.CodeHostToken = v
	}
	if v := os.Getenv("SANDBOX_CLEANUP"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Sandbox.Cleanup = &b
		}
	}
	if v := os.Getenv("SANDBOX_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Sandbox.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("MAX_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Workflow.MaxRetries = n
		}
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Workflow.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0 and 1")
	}
	if c.Sandbox.TimeoutSeconds <= 0 {
		return fmt.Errorf("sandbox.timeout_seconds must be positive")
	}
	if c.Workflow.MaxRetries < 0 {
		return fmt.Errorf("workflow.max_retries must not be negative")
	}
	if c.Workflow.WorkerPoolSize <= 0 {
		return fmt.Errorf("workflow.worker_pool_size must be positive")
	}
	switch c.Model.Provider {
	case "", "anthropic", "openai", "ollama", "mock":
	default:
		return fmt.Errorf("unknown model provider %q", c.Model.Provider)
	}
	return nil
}

// SandboxTimeout returns the validation ceiling as a duration.
func (c *Config) SandboxTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSeconds) * time.Second
}

// CleanupEnabled reports whether validation containers are removed
// after each run.
func (s SandboxConfig) CleanupEnabled() bool {
	return s.Cleanup == nil || *s.Cleanup
}

// ProvidersConfigured counts providers with credentials present. Ollama
// and mock need none, so they count when explicitly selected.
func (c *Config) ProvidersConfigured() int {
	n := 0
	if os.Getenv("PROVIDER_ANTHROPIC_KEY") != "" || os.Getenv("ANTHROPIC_API_KEY") != "" {
		n++
	}
	if os.Getenv("PROVIDER_OPENAI_KEY") != "" || os.Getenv("OPENAI_API_KEY") != "" {
		n++
	}
	if c.Model.Provider == "ollama" || c.Model.Provider == "mock" {
		n++
	}
	return n
}

// ModelRegistry builds the capability registry implied by the
// configuration. With no provider selected and no credentials present,
// everything resolves to the offline mock.
func (c *Config) ModelRegistry() *model.Registry {
	if c.Model.Provider == "mock" || (c.Model.Provider == "" && c.ProvidersConfigured() == 0) {
		return model.NewMockRegistry()
	}

	registry := model.NewDefaultRegistry()
	for provider, modelID := range c.Model.Overrides {
		for _, name := range registry.ListEndpoints() {
			ep := registry.GetEndpoint(name)
			if ep != nil && ep.Provider == provider {
				ep.Model = modelID
				registry.SetEndpoint(name, ep)
			}
		}
	}
	return registry
}
