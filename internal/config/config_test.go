package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Agent.ID != "deca" || cfg.Agent.MaxTurns != 10 {
		t.Errorf("agent defaults = %+v", cfg.Agent)
	}
	if cfg.Gateway.Port != 18790 {
		t.Errorf("gateway port = %d", cfg.Gateway.Port)
	}
	if len(cfg.Runner.Priority) == 0 || cfg.Runner.Priority[0] != "codex" {
		t.Errorf("runner priority = %v", cfg.Runner.Priority)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.ID != "deca" {
		t.Errorf("agent id = %q", cfg.Agent.ID)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	body := `{
		// comments are allowed
		agent: { id: "ops", maxTurns: 5 },
		gateway: { port: 9999, key: "secret" },
		channels: { telegram: { enabled: true, token: "tg-token" } },
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.ID != "ops" || cfg.Agent.MaxTurns != 5 {
		t.Errorf("agent = %+v", cfg.Agent)
	}
	if cfg.Gateway.Port != 9999 || cfg.Gateway.Key != "secret" {
		t.Errorf("gateway = %+v", cfg.Gateway)
	}
	if !cfg.Channels.Telegram.Enabled || cfg.Channels.Telegram.Token != "tg-token" {
		t.Errorf("telegram = %+v", cfg.Channels.Telegram)
	}
	// Untouched sections keep defaults.
	if cfg.Provider.ContextWindow != 200000 {
		t.Errorf("context window = %d", cfg.Provider.ContextWindow)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DECA_ANTHROPIC_API_KEY", "sk-env")
	t.Setenv("DECA_PORT", "12345")
	t.Setenv("DECA_DISCORD_TOKEN", "dc-token")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.APIKey != "sk-env" {
		t.Errorf("api key = %q", cfg.Provider.APIKey)
	}
	if cfg.Gateway.Port != 12345 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
	if !cfg.Channels.Discord.Enabled || cfg.Channels.Discord.Token != "dc-token" {
		t.Errorf("discord = %+v", cfg.Channels.Discord)
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.StateDir = "/var/lib/deca"
	cfg.Agent.Workspace = "/srv/workspace"

	if got := cfg.SessionsDir(); got != "/var/lib/deca/sessions" {
		t.Errorf("sessions dir = %q", got)
	}
	if got := cfg.CronPath(); got != "/var/lib/deca/cron.json" {
		t.Errorf("cron path = %q", got)
	}
	if got := cfg.SkillsPath(); got != "/srv/workspace/skills" {
		t.Errorf("skills path = %q", got)
	}
	cfg.Agent.SkillsDir = "/etc/deca/skills"
	if got := cfg.SkillsPath(); got != "/etc/deca/skills" {
		t.Errorf("explicit skills path = %q", got)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		t.Skip("no home dir")
	}
	got := ExpandHome("~/.deca")
	if !strings.HasPrefix(got, home) || !strings.HasSuffix(got, ".deca") {
		t.Errorf("expanded = %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("absolute path changed: %q", got)
	}
}
