// Package config handles Tundra configuration
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cloud-shuttle/tundra/pkg/types"
)

// ErrInvalid is returned when a loaded configuration cannot be used
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix prefixes every environment override, e.g. TUNDRA_MAX_SESSIONS
const EnvPrefix = "TUNDRA"

// Config holds Tundra configuration
type Config struct {
	// PTY pool
	MaxSessions int `mapstructure:"max_sessions"`

	// Task runner and pipeline
	PhaseTimeout     time.Duration `mapstructure:"phase_timeout"`
	AgentType        string        `mapstructure:"agent_type"`
	MaxFixIterations int           `mapstructure:"max_fix_iterations"`
	DirectMode       bool          `mapstructure:"direct_mode"`
	WorktreeDir      string        `mapstructure:"worktree_dir"`

	// Stuck agent detection. Zero turns a check off.
	StuckTimeout    time.Duration `mapstructure:"stuck_timeout"`
	StuckByteBudget int           `mapstructure:"stuck_byte_budget"`

	// Event bus and journal
	BusBuffer   int    `mapstructure:"bus_buffer"`
	JournalPath string `mapstructure:"journal_path"`

	// Logging
	LogFormat string `mapstructure:"log_format"`
	Debug     bool   `mapstructure:"debug"`
}

// CLIType returns the configured agent CLI
func (c *Config) CLIType() types.CLIType {
	return types.ParseCLIType(c.AgentType)
}

var defaults = map[string]any{
	"max_sessions":       8,
	"phase_timeout":      5 * time.Minute,
	"agent_type":         string(types.CLIClaude),
	"max_fix_iterations": 3,
	"direct_mode":        false,
	"worktree_dir":       ".tundra/worktrees",
	"stuck_timeout":      10 * time.Minute,
	"stuck_byte_budget":  0,
	"bus_buffer":         1024,
	"journal_path":       ".tundra/events.db",
	"log_format":         "text",
	"debug":              false,
}

// Load builds the configuration from defaults, the optional file at path
// and TUNDRA_* environment overrides, in increasing order of precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the values Load cannot coerce
func (c *Config) Validate() error {
	switch {
	case c.MaxSessions <= 0:
		return fmt.Errorf("%w: max_sessions must be positive, got %d", ErrInvalid, c.MaxSessions)
	case c.PhaseTimeout <= 0:
		return fmt.Errorf("%w: phase_timeout must be positive, got %s", ErrInvalid, c.PhaseTimeout)
	case c.MaxFixIterations < 0:
		return fmt.Errorf("%w: max_fix_iterations must not be negative, got %d", ErrInvalid, c.MaxFixIterations)
	case c.StuckTimeout < 0 || c.StuckByteBudget < 0:
		return fmt.Errorf("%w: stuck detection limits must not be negative", ErrInvalid)
	case c.BusBuffer <= 0:
		return fmt.Errorf("%w: bus_buffer must be positive, got %d", ErrInvalid, c.BusBuffer)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format must be text or json, got %q", ErrInvalid, c.LogFormat)
	}
	return nil
}
