// Package config holds the deca configuration: defaults, JSON5 file
// loading, and DECA_* environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Config is the full gateway configuration.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Provider  ProviderConfig  `json:"provider"`
	Channels  ChannelsConfig  `json:"channels"`
	Gateway   GatewayConfig   `json:"gateway"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Cron      CronConfig      `json:"cron"`
	Runner    RunnerConfig    `json:"runner"`
	Tools     ToolsConfig     `json:"tools"`
	Telemetry TelemetryConfig `json:"telemetry"`

	// StateDir roots all persistent state (sessions, memory, cron, run log).
	StateDir string `json:"stateDir"`
}

// AgentConfig parameterizes the turn loop.
type AgentConfig struct {
	ID                string  `json:"id"`
	Workspace         string  `json:"workspace"`
	SkillsDir         string  `json:"skillsDir"`
	MaxTurns          int     `json:"maxTurns"`
	MaxTokens         int     `json:"maxTokens"`
	Temperature       float64 `json:"temperature"`
	MemoryEnabled     bool    `json:"memoryEnabled"`
	AllowExec         bool    `json:"allowExec"`
	AllowWrite        bool    `json:"allowWrite"`
	Sandbox           bool    `json:"sandbox"`
	BootstrapMaxChars int     `json:"bootstrapMaxChars"`
}

// ProviderConfig selects and authenticates the model provider.
type ProviderConfig struct {
	APIKey        string `json:"apiKey"`
	Model         string `json:"model"`
	BaseURL       string `json:"baseUrl"`
	ContextWindow int    `json:"contextWindow"`
	MaxRetries    int    `json:"maxRetries"`
}

// AllowlistConfig mirrors the bus allowlist as plain string lists.
type AllowlistConfig struct {
	AllowUsers    []string `json:"allowUsers"`
	DenyUsers     []string `json:"denyUsers"`
	AllowGuilds   []string `json:"allowGuilds"`
	DenyGuilds    []string `json:"denyGuilds"`
	AllowChannels []string `json:"allowChannels"`
	DenyChannels  []string `json:"denyChannels"`
}

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Enabled        bool            `json:"enabled"`
	Token          string          `json:"token"`
	RequireMention bool            `json:"requireMention"`
	Allowlist      AllowlistConfig `json:"allowlist"`
}

// TelegramConfig configures the Telegram adapter.
type TelegramConfig struct {
	Enabled   bool            `json:"enabled"`
	Token     string          `json:"token"`
	Allowlist AllowlistConfig `json:"allowlist"`
}

// MainChannelConfig marks one platform channel as part of the shared
// operator session: messages arriving there route to the main scope
// instead of a per-channel one. Empty Platform or GuildID matches any.
type MainChannelConfig struct {
	Platform  string `json:"platform,omitempty"`
	GuildID   string `json:"guildId,omitempty"`
	ChannelID string `json:"channelId"`
}

// ChannelsConfig groups the platform adapters.
type ChannelsConfig struct {
	Discord      DiscordConfig       `json:"discord"`
	Telegram     TelegramConfig      `json:"telegram"`
	MainChannels []MainChannelConfig `json:"mainChannels,omitempty"`
}

// GatewayConfig configures the HTTP surface.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Key            string   `json:"key"`
	AllowedOrigins []string `json:"allowedOrigins"`
	RateLimitRPM   int      `json:"rateLimitRpm"`
}

// SchedulerConfig configures session lanes.
type SchedulerConfig struct {
	DebounceMs     int `json:"debounceMs"`
	MaxMergedChars int `json:"maxMergedChars"`
	LaneCapacity   int `json:"laneCapacity"`
}

// HeartbeatConfig configures the heartbeat pull loop. When Platform and
// ChatID are set, each heartbeat response is delivered there; responses
// that are just the ok token are suppressed on the way out.
type HeartbeatConfig struct {
	Enabled         bool   `json:"enabled"`
	IntervalMinutes int    `json:"intervalMinutes"`
	ActiveStart     string `json:"activeStart"` // "HH:MM", empty = always
	ActiveEnd       string `json:"activeEnd"`
	Platform        string `json:"platform,omitempty"`
	ChatID          string `json:"chatId,omitempty"`
}

// CronConfig configures the scheduler for timed jobs. Platform and ChatID
// pick the channel that receives job output; empty means events only.
type CronConfig struct {
	Enabled  bool   `json:"enabled"`
	Platform string `json:"platform,omitempty"`
	ChatID   string `json:"chatId,omitempty"`
}

// RunnerConfig configures command execution providers.
type RunnerConfig struct {
	Priority  []string `json:"priority"`
	TimeoutMs int      `json:"timeoutMs"`
}

// ToolsConfig holds tool credentials.
type ToolsConfig struct {
	TavilyAPIKey string `json:"tavilyApiKey"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	Insecure    bool   `json:"insecure"`
	ServiceName string `json:"serviceName"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			ID:            "deca",
			Workspace:     "~/.deca/workspace",
			MaxTurns:      10,
			MaxTokens:     8192,
			Temperature:   0.7,
			MemoryEnabled: true,
			AllowExec:     true,
			AllowWrite:    true,
		},
		Provider: ProviderConfig{
			Model:         "claude-sonnet-4-5-20250929",
			ContextWindow: 200000,
			MaxRetries:    3,
		},
		Gateway: GatewayConfig{
			Host:         "127.0.0.1",
			Port:         18790,
			RateLimitRPM: 60,
		},
		Heartbeat: HeartbeatConfig{
			IntervalMinutes: 30,
		},
		Runner: RunnerConfig{
			Priority:  []string{"codex", "claude", "opencode", "native", "applescript"},
			TimeoutMs: 30000,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "deca",
		},
		StateDir: "~/.deca",
	}
}

// SessionsDir returns the session storage directory.
func (c *Config) SessionsDir() string {
	return filepath.Join(ExpandHome(c.StateDir), "sessions")
}

// MemoryDir returns the memory storage directory.
func (c *Config) MemoryDir() string {
	return filepath.Join(ExpandHome(c.StateDir), "memory")
}

// CronPath returns the cron job storage file.
func (c *Config) CronPath() string {
	return filepath.Join(ExpandHome(c.StateDir), "cron.json")
}

// RunLogPath returns the SQLite run log file.
func (c *Config) RunLogPath() string {
	return filepath.Join(ExpandHome(c.StateDir), "deca.db")
}

// WorkspaceDir returns the expanded agent workspace.
func (c *Config) WorkspaceDir() string {
	return ExpandHome(c.Agent.Workspace)
}

// SkillsPath returns the skills directory, defaulting to workspace/skills.
func (c *Config) SkillsPath() string {
	if c.Agent.SkillsDir != "" {
		return ExpandHome(c.Agent.SkillsDir)
	}
	return filepath.Join(c.WorkspaceDir(), "skills")
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		if home != "" {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
