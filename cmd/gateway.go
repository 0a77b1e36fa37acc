package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/decahq/deca/internal/agent"
	"github.com/decahq/deca/internal/bootstrap"
	"github.com/decahq/deca/internal/bus"
	"github.com/decahq/deca/internal/channels"
	"github.com/decahq/deca/internal/channels/discord"
	"github.com/decahq/deca/internal/channels/telegram"
	"github.com/decahq/deca/internal/config"
	"github.com/decahq/deca/internal/cron"
	"github.com/decahq/deca/internal/gateway"
	"github.com/decahq/deca/internal/memory"
	"github.com/decahq/deca/internal/providers"
	"github.com/decahq/deca/internal/runner"
	"github.com/decahq/deca/internal/scheduler"
	"github.com/decahq/deca/internal/sessions"
	"github.com/decahq/deca/internal/store"
	"github.com/decahq/deca/internal/subagent"
	"github.com/decahq/deca/internal/telemetry"
	"github.com/decahq/deca/internal/tools"
	"github.com/decahq/deca/pkg/protocol"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the agent gateway (channels, HTTP, cron, heartbeat)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway()
		},
	}
}

func runGateway() error {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("no API key configured (set DECA_ANTHROPIC_API_KEY or provider.apiKey)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTel, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry init failed, continuing without", "error", err)
	}

	workspace := cfg.WorkspaceDir()
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	if seeded, err := bootstrap.EnsureWorkspaceFiles(workspace); err != nil {
		slog.Warn("workspace seed failed", "error", err)
	} else if len(seeded) > 0 {
		slog.Info("workspace seeded", "files", seeded)
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
	runlog, err := store.Open(cfg.RunLogPath())
	if err != nil {
		return err
	}
	defer runlog.Close()

	cronMgr := cron.NewManager(cfg.CronPath())
	execRouter := runner.NewRouter(cfg.Runner.Priority, runner.DefaultProviders()...)
	registry := buildRegistry(cfg, cronMgr)

	loop := agent.New(agentConfig(cfg), client, sessStore, registry, mem)

	sched := scheduler.New(scheduler.Config{
		Debounce:       time.Duration(cfg.Scheduler.DebounceMs) * time.Millisecond,
		MaxMergedChars: cfg.Scheduler.MaxMergedChars,
		MailboxCap:     cfg.Scheduler.LaneCapacity,
	})

	host := subagent.NewHost(cfg.Agent.ID, loop, sched)
	loop.SetSpawn(host.Spawn)

	msgBus := bus.New()
	chMgr := channels.NewManager(msgBus)
	if err := registerAdapters(cfg, chMgr, msgBus); err != nil {
		return err
	}

	host.SetOnResult(func(parentKey, label string, receipt tools.SpawnReceipt, res agent.RunResult, runErr error) {
		payload := map[string]any{"runId": receipt.RunID, "session": receipt.SessionKey, "label": label}
		if runErr != nil {
			payload["error"] = runErr.Error()
			msgBus.Broadcast(bus.Event{Name: protocol.EventRunFailed, Payload: payload})
			return
		}
		payload["turns"] = res.Turns
		msgBus.Broadcast(bus.Event{Name: protocol.EventRunCompleted, Payload: payload})
	})

	if cfg.Cron.Enabled {
		if err := cronMgr.Initialize(); err != nil {
			slog.Error("cron init failed, starting empty", "error", err)
		}
		wireCron(cfg, cronMgr, sched, loop, msgBus)
		defer cronMgr.Shutdown()
	}

	hb := wireHeartbeat(cfg, workspace, sched, loop, msgBus)
	if hb != nil {
		if err := hb.Start(ctx); err != nil {
			slog.Error("heartbeat start failed", "error", err)
		} else {
			defer hb.Stop()
		}
	}

	server := gateway.New(cfg.Gateway, cfg.Agent.ID, loop, sched, execRouter, msgBus, runlog)

	go chMgr.Run(ctx)
	chMgr.StartAll(ctx)
	go consumeInbound(ctx, cfg, msgBus, sched, loop, runlog)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	// Shutdown: stop accepting new work, drain lanes, then cancel.
	slog.Info("shutting down")
	msgBus.Broadcast(bus.Event{Name: protocol.EventShutdown})
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutCtx); err != nil {
		slog.Warn("gateway shutdown", "error", err)
	}
	chMgr.StopAll(shutCtx)
	sched.Shutdown()
	if shutdownTel != nil {
		if err := shutdownTel(shutCtx); err != nil {
			slog.Debug("telemetry shutdown", "error", err)
		}
	}
	return nil
}

func buildClient(cfg *config.Config) providers.Client {
	opts := []providers.AnthropicOption{}
	if cfg.Provider.Model != "" {
		opts = append(opts, providers.WithModel(cfg.Provider.Model))
	}
	if cfg.Provider.BaseURL != "" {
		opts = append(opts, providers.WithBaseURL(cfg.Provider.BaseURL))
	}
	if cfg.Provider.ContextWindow > 0 {
		opts = append(opts, providers.WithContextWindow(cfg.Provider.ContextWindow))
	}
	return providers.NewAnthropic(cfg.Provider.APIKey, opts...)
}

func agentConfig(cfg *config.Config) agent.Config {
	ac := agent.DefaultConfig(cfg.Agent.ID, cfg.WorkspaceDir())
	ac.SkillsDir = cfg.SkillsPath()
	if cfg.Agent.MaxTurns > 0 {
		ac.MaxTurns = cfg.Agent.MaxTurns
	}
	if cfg.Agent.MaxTokens > 0 {
		ac.MaxTokens = cfg.Agent.MaxTokens
	}
	ac.Temperature = cfg.Agent.Temperature
	ac.MemoryEnabled = cfg.Agent.MemoryEnabled
	ac.Policy = tools.Policy{
		AllowExec:  cfg.Agent.AllowExec,
		AllowWrite: cfg.Agent.AllowWrite,
		Sandbox:    cfg.Agent.Sandbox,
	}
	if cfg.Agent.BootstrapMaxChars > 0 {
		ac.BootstrapMaxChars = cfg.Agent.BootstrapMaxChars
	}
	return ac
}

func buildRegistry(cfg *config.Config, cronMgr *cron.Manager) *tools.Registry {
	reg := tools.NewRegistry(
		&tools.ReadTool{},
		&tools.WriteTool{},
		&tools.EditTool{},
		&tools.ListTool{},
		&tools.GrepTool{},
		&tools.ExecTool{},
		&tools.MemorySearchTool{},
		&tools.MemoryGetTool{},
		&tools.SessionsSpawnTool{},
		tools.NewSearchTool(cfg.Tools.TavilyAPIKey),
		tools.NewResearchTool(cfg.Tools.TavilyAPIKey),
	)
	if cfg.Cron.Enabled {
		reg.Add(&tools.CronTool{Manager: cronMgr})
	}
	return reg
}

func registerAdapters(cfg *config.Config, chMgr *channels.Manager, msgBus *bus.MessageBus) error {
	if cfg.Channels.Discord.Enabled {
		ch, err := discord.New(discord.Config{
			Token:          cfg.Channels.Discord.Token,
			RequireMention: cfg.Channels.Discord.RequireMention,
			Allowlist:      toAllowlist(cfg.Channels.Discord.Allowlist),
		}, msgBus)
		if err != nil {
			return fmt.Errorf("discord adapter: %w", err)
		}
		chMgr.Register(ch)
	}
	if cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New(telegram.Config{
			Token:     cfg.Channels.Telegram.Token,
			Allowlist: toAllowlist(cfg.Channels.Telegram.Allowlist),
		}, msgBus)
		if err != nil {
			return fmt.Errorf("telegram adapter: %w", err)
		}
		chMgr.Register(ch)
	}
	return nil
}

func toAllowlist(cfg config.AllowlistConfig) bus.Allowlist {
	return bus.Allowlist{
		AllowUsers:    cfg.AllowUsers,
		DenyUsers:     cfg.DenyUsers,
		AllowGuilds:   cfg.AllowGuilds,
		DenyGuilds:    cfg.DenyGuilds,
		AllowChannels: cfg.AllowChannels,
		DenyChannels:  cfg.DenyChannels,
	}
}
