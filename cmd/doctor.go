package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/decahq/deca/internal/config"
	"github.com/decahq/deca/internal/runner"
	"github.com/decahq/deca/internal/sessions"
	"github.com/decahq/deca/internal/skills"
	"github.com/decahq/deca/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the local deca environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor()
		},
	}
}

func runDoctor() error {
	ok := func(label string) { fmt.Printf("  ok    %s\n", label) }
	warn := func(label string) { fmt.Printf("  warn  %s\n", label) }

	fmt.Println("config")
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("config unreadable: %w", err)
	}
	ok("config loaded from " + resolveConfigPath())
	if cfg.Provider.APIKey == "" {
		warn("no provider API key (set DECA_ANTHROPIC_API_KEY)")
	} else {
		ok("provider API key present")
	}

	fmt.Println("workspace")
	workspace := cfg.WorkspaceDir()
	if _, err := os.Stat(workspace); err != nil {
		warn("workspace missing: " + workspace + " (created on first gateway start)")
	} else {
		ok("workspace at " + workspace)
		loaded := skills.LoadDir(cfg.SkillsPath())
		fmt.Printf("  ok    %d skill(s) loaded\n", len(loaded))
	}

	fmt.Println("state")
	sessStore, err := sessions.NewStore(cfg.SessionsDir())
	if err != nil {
		warn("session store: " + err.Error())
	} else {
		fmt.Printf("  ok    %d session(s)\n", len(sessStore.List()))
	}
	runlog, err := store.Open(cfg.RunLogPath())
	if err != nil {
		warn("run log: " + err.Error())
	} else {
		defer runlog.Close()
		if n, err := runlog.Count(context.Background()); err == nil {
			fmt.Printf("  ok    run log with %d run(s)\n", n)
		}
	}

	fmt.Println("exec providers")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	router := runner.NewRouter(cfg.Runner.Priority, runner.DefaultProviders()...)
	for _, p := range router.Providers() {
		if p.IsAvailable(ctx) {
			ok(p.Type())
		} else {
			warn(p.Type() + " unavailable")
		}
	}

	fmt.Println("channels")
	if cfg.Channels.Discord.Enabled {
		ok("discord configured")
	}
	if cfg.Channels.Telegram.Enabled {
		ok("telegram configured")
	}
	if !cfg.Channels.Discord.Enabled && !cfg.Channels.Telegram.Enabled {
		warn("no chat channels configured (HTTP /chat still works)")
	}
	return nil
}
