package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "inmemory", cfg.Memory.Driver)
	assert.Equal(t, 200, cfg.Memory.FragmentCap)
	assert.Equal(t, time.Hour, cfg.Memory.IdleTimeout)
	assert.Equal(t, 5, cfg.Orchestrator.MaxToolRounds)
	assert.Equal(t, "queue", cfg.Orchestrator.BusyPolicy)
	assert.Equal(t, 3, cfg.Model.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Model.Cooldown)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "polytool.yaml")
	yaml := `
server:
  addr: ":9999"
orchestrator:
  busy_policy: reject
  max_tool_rounds: 2
model:
  default: anthropic
  priority: [anthropic, openai]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "reject", cfg.Orchestrator.BusyPolicy)
	assert.Equal(t, 2, cfg.Orchestrator.MaxToolRounds)
	assert.Equal(t, "anthropic", cfg.Model.Default)
	assert.Equal(t, []string{"anthropic", "openai"}, cfg.Model.Priority)
	// Unset keys keep their defaults.
	assert.Equal(t, 200, cfg.Memory.FragmentCap)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("POLYTOOL_SERVER_ADDR", ":7070")
	t.Setenv("POLYTOOL_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingFileIsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "bad busy policy",
			mutate:  func(c *Config) { c.Orchestrator.BusyPolicy = "block" },
			wantErr: "busy_policy",
		},
		{
			name:    "bad driver",
			mutate:  func(c *Config) { c.Memory.Driver = "redis" },
			wantErr: "memory.driver",
		},
		{
			name: "postgres without dsn",
			mutate: func(c *Config) {
				c.Memory.Driver = "postgres"
				c.Memory.DSN = ""
			},
			wantErr: "memory.dsn",
		},
		{
			name: "recent window at cap",
			mutate: func(c *Config) {
				c.Memory.FragmentCap = 10
				c.Memory.MinRecentWindow = 10
			},
			wantErr: "min_recent_window",
		},
		{
			name:    "zero tool rounds",
			mutate:  func(c *Config) { c.Orchestrator.MaxToolRounds = 0 },
			wantErr: "max_tool_rounds",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
