// Package config loads the appscout configuration: YAML file with
// defaults, overridden by environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"appscout/internal/logging"
)

// Config is the full appscout configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Explore   ExploreConfig   `yaml:"explore"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Planner   PlannerConfig   `yaml:"planner"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the device listener settings.
type ServerConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	RequestTimeout   string `yaml:"request_timeout"`
	HandshakeTimeout string `yaml:"handshake_timeout"`
}

// SessionConfig holds session manager settings.
type SessionConfig struct {
	MaxSessions int    `yaml:"max_sessions"`
	IdleTimeout string `yaml:"idle_timeout"`
}

// ExploreConfig bounds app exploration.
type ExploreConfig struct {
	MaxScreens      int    `yaml:"max_screens"`
	MaxDepth        int    `yaml:"max_depth"`
	MaxLoadWaits    int    `yaml:"max_load_waits"`
	MinLoadElements int    `yaml:"min_load_elements"`
	SettleDelay     string `yaml:"settle_delay"`

	// LearnOnConnect starts a batch learning pass over a device's
	// installed apps as soon as the device finishes its handshake.
	LearnOnConnect bool `yaml:"learn_on_connect"`
}

// KnowledgeConfig holds persistence settings.
type KnowledgeConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// PlannerConfig selects and configures the intent planner.
type PlannerConfig struct {
	Provider string `yaml:"provider"` // "rules" or "gemini"
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig controls the category file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// DefaultConfigPath is the standard location relative to the workspace.
const DefaultConfigPath = ".appscout/config.yaml"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "appscout",
		Version: "1.0.0",

		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			RequestTimeout:   "60s",
			HandshakeTimeout: "10s",
		},

		Session: SessionConfig{
			MaxSessions: 100,
			IdleTimeout: "30m",
		},

		Explore: ExploreConfig{
			MaxScreens:      15,
			MaxDepth:        5,
			MaxLoadWaits:    5,
			MinLoadElements: 5,
			SettleDelay:     "1500ms",
		},

		Knowledge: KnowledgeConfig{
			DatabasePath: "data/appscout.db",
		},

		Planner: PlannerConfig{
			Provider: "rules",
			Model:    "gemini-2.0-flash",
		},

		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment variables override either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Planner.APIKey = key
		c.Planner.Provider = "gemini"
	}
	if path := os.Getenv("APPSCOUT_DB"); path != "" {
		c.Knowledge.DatabasePath = path
	}
	if host := os.Getenv("APPSCOUT_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("APPSCOUT_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			c.Server.Port = n
		}
	}
	if os.Getenv("APPSCOUT_DEBUG") == "1" {
		c.Logging.DebugMode = true
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Explore.MaxScreens <= 0 {
		return fmt.Errorf("explore.max_screens must be positive")
	}
	if c.Explore.MaxDepth <= 0 {
		return fmt.Errorf("explore.max_depth must be positive")
	}
	if c.Knowledge.DatabasePath == "" {
		return fmt.Errorf("knowledge.database_path is required")
	}
	if c.Planner.Provider == "gemini" && c.Planner.APIKey == "" {
		return fmt.Errorf("planner.api_key is required for the gemini provider")
	}
	return nil
}

// RequestTimeout returns the device request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return parseDuration(c.Server.RequestTimeout, 60*time.Second)
}

// HandshakeTimeout returns the handshake deadline as a duration.
func (c *Config) HandshakeTimeout() time.Duration {
	return parseDuration(c.Server.HandshakeTimeout, 10*time.Second)
}

// SessionIdleTimeout returns the stale-session cutoff as a duration.
func (c *Config) SessionIdleTimeout() time.Duration {
	return parseDuration(c.Session.IdleTimeout, 30*time.Minute)
}

// SettleDelay returns the post-click settle delay as a duration.
func (c *Config) SettleDelay() time.Duration {
	return parseDuration(c.Explore.SettleDelay, 1500*time.Millisecond)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// LoggingSettings converts the logging section for logging.Initialize.
func (c *Config) LoggingSettings() logging.Settings {
	return logging.Settings{
		DebugMode:  c.Logging.DebugMode,
		Categories: c.Logging.Categories,
		Level:      c.Logging.Level,
		JSONFormat: c.Logging.JSONFormat,
	}
}
