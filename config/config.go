// Package config loads service configuration from defaults, an optional
// polytool.yaml file, and POLYTOOL_* environment variables, in increasing
// precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration tree.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Memory       MemoryConfig       `mapstructure:"memory"`
	Model        ModelConfig        `mapstructure:"model"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type OrchestratorConfig struct {
	Instructions  string  `mapstructure:"instructions"`
	MaxToolRounds int     `mapstructure:"max_tool_rounds"`
	ContextTopK   int     `mapstructure:"context_top_k"`
	RecentWindow  int     `mapstructure:"recent_window"`
	BusyPolicy    string  `mapstructure:"busy_policy"`
	Temperature   float64 `mapstructure:"temperature"`
	MaxTokens     int64   `mapstructure:"max_tokens"`
}

type MemoryConfig struct {
	// Driver selects the store: "inmemory" or "postgres".
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	FragmentCap     int           `mapstructure:"fragment_cap"`
	MinRecentWindow int           `mapstructure:"min_recent_window"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
}

type ModelConfig struct {
	Default             string        `mapstructure:"default"`
	Priority            []string      `mapstructure:"priority"`
	FailureThreshold    int           `mapstructure:"failure_threshold"`
	Cooldown            time.Duration `mapstructure:"cooldown"`
	MaxRateLimitRetries int           `mapstructure:"max_rate_limit_retries"`
	RateLimit           float64       `mapstructure:"rate_limit"`
	Burst               int           `mapstructure:"burst"`
	OpenAI              BackendConfig `mapstructure:"openai"`
	Anthropic           BackendConfig `mapstructure:"anthropic"`
}

type BackendConfig struct {
	Model string `mapstructure:"model"`
}

// Load reads configuration. path may name a config file directly; when
// empty, polytool.yaml is searched in the working directory and /etc/polytool.
// A missing file is not an error; environment variables and defaults apply
// regardless.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("orchestrator.instructions", "You are a helpful assistant.")
	v.SetDefault("orchestrator.max_tool_rounds", 5)
	v.SetDefault("orchestrator.context_top_k", 4)
	v.SetDefault("orchestrator.recent_window", 20)
	v.SetDefault("orchestrator.busy_policy", "queue")
	v.SetDefault("memory.driver", "inmemory")
	v.SetDefault("memory.fragment_cap", 200)
	v.SetDefault("memory.min_recent_window", 20)
	v.SetDefault("memory.idle_timeout", time.Hour)
	v.SetDefault("model.failure_threshold", 3)
	v.SetDefault("model.cooldown", 30*time.Second)
	v.SetDefault("model.max_rate_limit_retries", 3)

	v.SetEnvPrefix("POLYTOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("polytool")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/polytool")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the runtime cannot honor.
func (c *Config) Validate() error {
	switch c.Orchestrator.BusyPolicy {
	case "queue", "reject":
	default:
		return fmt.Errorf("orchestrator.busy_policy: %q is not queue or reject", c.Orchestrator.BusyPolicy)
	}
	switch c.Memory.Driver {
	case "inmemory", "postgres":
	default:
		return fmt.Errorf("memory.driver: %q is not inmemory or postgres", c.Memory.Driver)
	}
	if c.Memory.Driver == "postgres" && c.Memory.DSN == "" {
		return fmt.Errorf("memory.dsn: required when memory.driver is postgres")
	}
	if c.Memory.MinRecentWindow >= c.Memory.FragmentCap {
		return fmt.Errorf("memory.min_recent_window: must be below memory.fragment_cap (%d >= %d)",
			c.Memory.MinRecentWindow, c.Memory.FragmentCap)
	}
	if c.Orchestrator.MaxToolRounds < 1 {
		return fmt.Errorf("orchestrator.max_tool_rounds: must be at least 1")
	}
	return nil
}
