// Package config loads and holds process configuration for the sandbox bot.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all process configuration.
type Config struct {
	Workspace WorkspaceConfig `yaml:"workspace"`
	Access    AccessConfig    `yaml:"access"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Patterns  PatternConfig   `yaml:"patterns"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Discord   DiscordConfig   `yaml:"discord"`
	Slack     SlackConfig     `yaml:"slack"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Server    ServerConfig    `yaml:"server"`
}

// WorkspaceConfig configures the per-user workspace root.
type WorkspaceConfig struct {
	Root string `yaml:"root"` // parent directory of all <userId> workspaces
}

// UserDir returns the workspace directory for a given user id.
func (w WorkspaceConfig) UserDir(userID int64) string {
	return filepath.Join(w.Root, fmt.Sprintf("%d", userID))
}

// SharedDir returns the operator-only shared directory, never exposed to any user.
func (w WorkspaceConfig) SharedDir() string {
	return filepath.Join(w.Root, "_shared")
}

// ActivityLogPath returns the path to the append-only activity log.
func (w WorkspaceConfig) ActivityLogPath() string {
	return filepath.Join(w.SharedDir(), "activity.md")
}

// EnsureRoot creates the workspace root and shared directory if missing.
func (w WorkspaceConfig) EnsureRoot() error {
	for _, dir := range []string{w.Root, w.SharedDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// AccessMode controls who may address the agent.
type AccessMode string

const (
	ModeAdminOnly AccessMode = "admin_only"
	ModeAllowlist AccessMode = "allowlist"
	ModePublic    AccessMode = "public"
)

// AccessConfig is the access-policy record (C2). Mutable at runtime via the
// operator interface; persisted as YAML and hot-read at each access check.
type AccessConfig struct {
	AdminUserID    int64      `yaml:"admin_user_id"`
	Mode           AccessMode `yaml:"mode"`
	Allowlist      []int64    `yaml:"allowlist"`
	BotEnabled     bool       `yaml:"bot_enabled"`
	UserbotEnabled bool       `yaml:"userbot_enabled"`
}

// SandboxConfig configures the per-user Docker sandbox manager (C6).
type SandboxConfig struct {
	Image                string  `yaml:"image"`                 // fixed image tag installed once per container
	BasePort             int     `yaml:"base_port"`             // port window base; window = base + (userId mod 10)*10 .. +9
	UserInactivityTTL    string  `yaml:"user_inactivity_ttl"`    // e.g. "30m"
	CommandTimeout       string  `yaml:"command_timeout"`        // e.g. "120s"
	MemoryLimitMB        int64   `yaml:"memory_limit_mb"`        // <= 512
	CPUFraction          float64 `yaml:"cpu_fraction"`           // <= 0.5 of one core
	PidsLimit            int64   `yaml:"pids_limit"`             // <= 100
	WorkspaceSoftLimitMB int64   `yaml:"workspace_soft_limit_mb"`
	RequireDocker        bool    `yaml:"require_docker"` // if true, shell commands fail instead of running on the host when Docker is unavailable
	SweepInterval        string  `yaml:"sweep_interval"` // cron-style periodic TTL sweep
}

// PatternConfig points at the pattern-list files backing the Pattern Library (C1).
// The files are hot-checked for modification before each classification.
type PatternConfig struct {
	Dir            string `yaml:"dir"` // directory of blocked.yaml, dangerous.yaml, injection.yaml, sensitive_files.yaml, secrets.yaml, blocked_urls.yaml
	ReloadInterval string `yaml:"reload_interval"`
}

// TelegramConfig configures the Telegram chat adapter.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// DiscordConfig configures the Discord chat adapter.
type DiscordConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// SlackConfig configures the Slack chat adapter (Socket Mode).
type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	AppToken string `yaml:"app_token"`
}

// RateLimitConfig configures the outbound send gate (C8).
type RateLimitConfig struct {
	GlobalRate    float64 `yaml:"global_rate"`  // sends/sec, default 5
	GlobalBurst   int     `yaml:"global_burst"` // default 1
	GroupInterval string  `yaml:"group_interval"`
	MaxRetries    int     `yaml:"max_retries"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
}

// ServerConfig configures the health/metrics HTTP surface and the concurrency gate.
type ServerConfig struct {
	HealthAddr         string `yaml:"health_addr"`
	MaxConcurrentUsers int    `yaml:"max_concurrent_users"` // global admission cap
}

// Default returns a config with conservative, secure-by-default values.
func Default() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			Root: "/workspace",
		},
		Access: AccessConfig{
			Mode:       ModeAdminOnly,
			BotEnabled: true,
		},
		Sandbox: SandboxConfig{
			Image:                "sandboxbot/runner:latest",
			BasePort:             20000,
			UserInactivityTTL:    "30m",
			CommandTimeout:       "120s",
			MemoryLimitMB:        512,
			CPUFraction:          0.5,
			PidsLimit:            100,
			WorkspaceSoftLimitMB: 500,
			RequireDocker:        false,
			SweepInterval:        "@every 3m",
		},
		Patterns: PatternConfig{
			Dir:            "/workspace/_shared/patterns",
			ReloadInterval: "30s",
		},
		Telegram: TelegramConfig{Enabled: false},
		Discord:  DiscordConfig{Enabled: false},
		Slack:    SlackConfig{Enabled: false},
		RateLimit: RateLimitConfig{
			GlobalRate:    5,
			GlobalBurst:   1,
			GroupInterval: "5s",
			MaxRetries:    3,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
		Server: ServerConfig{
			HealthAddr:         ":8081",
			MaxConcurrentUsers: 10,
		},
	}
}

// Load reads config from file and environment variables.
// It first loads any .env file in the current directory, then reads the YAML
// config file, then applies environment variable overrides.
func Load() (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	cfg := Default()

	if v := os.Getenv("WORKSPACE_ROOT"); v != "" {
		cfg.Workspace.Root = v
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = filepath.Join(cfg.Workspace.SharedDir(), "config.yaml")
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", configPath, err)
		}
	}

	if v := os.Getenv("WORKSPACE_ROOT"); v != "" {
		cfg.Workspace.Root = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
		cfg.Telegram.Enabled = true
	}
	if v := os.Getenv("DISCORD_BOT_TOKEN"); v != "" {
		cfg.Discord.Token = v
		cfg.Discord.Enabled = true
	}
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		cfg.Slack.BotToken = v
		cfg.Slack.Enabled = true
	}
	if v := os.Getenv("SLACK_APP_TOKEN"); v != "" {
		cfg.Slack.AppToken = v
	}
	if v := os.Getenv("ADMIN_USER_ID"); v != "" {
		var id int64
		if _, err := fmt.Sscanf(v, "%d", &id); err == nil {
			cfg.Access.AdminUserID = id
		}
	}
	if v := os.Getenv("HEALTH_ADDR"); v != "" {
		cfg.Server.HealthAddr = v
	}

	return cfg, nil
}
