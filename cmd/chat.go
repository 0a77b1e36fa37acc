package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/decahq/deca/internal/agent"
	"github.com/decahq/deca/internal/config"
	"github.com/decahq/deca/internal/cron"
	"github.com/decahq/deca/internal/memory"
	"github.com/decahq/deca/internal/sessions"
)

func chatCmd() *cobra.Command {
	var sessionName string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(sessionName)
		},
	}
	cmd.Flags().StringVar(&sessionName, "session", "main", "session scope (main or any user id)")
	return cmd
}

func runChat(sessionName string) error {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("no API key configured (set DECA_ANTHROPIC_API_KEY or provider.apiKey)")
	}

	client := buildClient(cfg)
	sessStore, err := sessions.NewStore(cfg.SessionsDir())
	if err != nil {
		return err
	}
	var mem *memory.Store
	if cfg.Agent.MemoryEnabled {
		if mem, err = memory.Open(cfg.MemoryDir()); err != nil {
			return err
		}
	}
	cronMgr := cron.NewManager(cfg.CronPath())
	if cfg.Cron.Enabled {
		if err := cronMgr.Initialize(); err != nil {
			return err
		}
		defer cronMgr.Shutdown()
	}
	loop := agent.New(agentConfig(cfg), client, sessStore, buildRegistry(cfg, cronMgr), mem)

	scope := sessions.MainScope()
	if sessionName != "" && sessionName != "main" {
		scope = sessions.UserScope(sessionName)
	}
	key := sessions.BuildKey(cfg.Agent.ID, scope)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("deca %s, session %s (ctrl-d to exit)\n", Version, key)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "/reset" {
			if err := loop.Reset(key); err != nil {
				fmt.Fprintln(os.Stderr, "reset failed:", err)
			} else {
				fmt.Println("session cleared")
			}
			continue
		}

		_, err := loop.Run(ctx, key, text, agent.Callbacks{
			OnTextDelta: func(delta string) { fmt.Print(delta) },
			OnToolStart: func(name string, _ map[string]any) {
				fmt.Fprintf(os.Stderr, "\n[tool: %s]\n", name)
			},
		})
		fmt.Println()
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
