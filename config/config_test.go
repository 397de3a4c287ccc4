package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.True(t, cfg.Sandbox.CleanupEnabled())
	assert.Equal(t, 3, cfg.Workflow.MaxRetries)
	assert.Equal(t, 4, cfg.Workflow.WorkerPoolSize)
	assert.Equal(t, 300*time.Second, cfg.SandboxTimeout())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modernizer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
sandbox:
  timeout_seconds: 120
workflow:
  max_retries: 5
tools:
  filesystem:
    command: fs-tool
    args: ["--root", "/srv"]
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 120, cfg.Sandbox.TimeoutSeconds)
	assert.Equal(t, 5, cfg.Workflow.MaxRetries)
	// File layers over defaults; untouched sections keep theirs.
	assert.Equal(t, 4, cfg.Workflow.WorkerPoolSize)

	fs, ok := cfg.Tools["filesystem"]
	require.True(t, ok)
	assert.Equal(t, "fs-tool", fs.Command)
	assert.Equal(t, []string{"--root", "/srv"}, fs.Args)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestMerge(t *testing.T) {
	base := DefaultConfig()
	base.Merge(&Config{
		Model:    ModelConfig{Provider: "openai", Overrides: map[string]string{"openai": "gpt-4o-mini"}},
		Workflow: WorkflowConfig{MaxRetries: 1},
	})

	assert.Equal(t, "openai", base.Model.Provider)
	assert.Equal(t, "gpt-4o-mini", base.Model.Overrides["openai"])
	assert.Equal(t, 1, base.Workflow.MaxRetries)
	assert.Equal(t, ":8080", base.Server.Addr)

	base.Merge(nil) // no-op
	assert.Equal(t, "openai", base.Model.Provider)
}

func TestMergePreservesCleanupFalse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modernizer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sandbox:\n  cleanup: false\n"), 0o644))

	fileCfg, err := LoadFromFile(path)
	require.NoError(t, err)

	base := DefaultConfig()
	base.Merge(fileCfg)
	assert.False(t, base.Sandbox.CleanupEnabled())

	// Absent from the overlay: the base keeps its value.
	base2 := DefaultConfig()
	base2.Merge(&Config{})
	assert.True(t, base2.Sandbox.CleanupEnabled())
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "anthropic")
	t.Setenv("PROVIDER_OPENAI_MODEL", "gpt-4o-mini")
	t.Setenv("CODE_HOST_TOKEN", "tok-123")
	t.Setenv("SANDBOX_CLEANUP", "false")
	t.Setenv("SANDBOX_TIMEOUT_SECONDS", "90")
	t.Setenv("MAX_RETRY_ATTEMPTS", "2")
	t.Setenv("WORKER_POOL_SIZE", "8")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.Model.Overrides["openai"])
	assert.Equal(t, "tok-123", cfg.CodeHostToken)
	assert.False(t, cfg.Sandbox.CleanupEnabled())
	assert.Equal(t, 90, cfg.Sandbox.TimeoutSeconds)
	assert.Equal(t, 2, cfg.Workflow.MaxRetries)
	assert.Equal(t, 8, cfg.Workflow.WorkerPoolSize)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("SANDBOX_TIMEOUT_SECONDS", "soon")
	t.Setenv("WORKER_POOL_SIZE", "-2")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	assert.Equal(t, 300, cfg.Sandbox.TimeoutSeconds)
	assert.Equal(t, 4, cfg.Workflow.WorkerPoolSize)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"empty addr":    func(c *Config) { c.Server.Addr = "" },
		"bad provider":  func(c *Config) { c.Model.Provider = "palm" },
		"zero timeout":  func(c *Config) { c.Sandbox.TimeoutSeconds = 0 },
		"neg retries":   func(c *Config) { c.Workflow.MaxRetries = -1 },
		"zero workers":  func(c *Config) { c.Workflow.WorkerPoolSize = 0 },
		"hot temp":      func(c *Config) { c.Model.Temperature = 1.5 },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestModelRegistryMockWhenUnconfigured(t *testing.T) {
	t.Setenv("PROVIDER_ANTHROPIC_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("PROVIDER_OPENAI_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg := DefaultConfig()
	registry := cfg.ModelRegistry()
	assert.Equal(t, "mock", registry.Resolve("reasoning"))
}

func TestModelRegistryOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.Provider = "openai"
	cfg.Model.Overrides = map[string]string{"openai": "gpt-4.1"}

	registry := cfg.ModelRegistry()
	ep := registry.GetEndpoint("gpt-4o")
	require.NotNil(t, ep)
	assert.Equal(t, "gpt-4.1", ep.Model)
}
