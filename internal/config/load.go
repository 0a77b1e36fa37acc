package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// DefaultPath is the standard config file location.
const DefaultPath = "~/.deca/config.json5"

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("DECA_ANTHROPIC_API_KEY", &c.Provider.APIKey)
	envStr("DECA_MODEL", &c.Provider.Model)
	envStr("DECA_PROVIDER_BASE_URL", &c.Provider.BaseURL)

	envStr("DECA_GATEWAY_KEY", &c.Gateway.Key)
	envStr("DECA_HOST", &c.Gateway.Host)
	if v := os.Getenv("DECA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("DECA_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("DECA_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("DECA_TAVILY_API_KEY", &c.Tools.TavilyAPIKey)

	// Credentials provided via env switch the channel on.
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}

	envStr("DECA_WORKSPACE", &c.Agent.Workspace)
	envStr("DECA_STATE_DIR", &c.StateDir)

	envStr("DECA_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envBool("DECA_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("DECA_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
}
