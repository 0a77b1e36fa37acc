package cmd

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/decahq/deca/internal/agent"
	"github.com/decahq/deca/internal/bus"
	"github.com/decahq/deca/internal/channels"
	"github.com/decahq/deca/internal/config"
	"github.com/decahq/deca/internal/cron"
	"github.com/decahq/deca/internal/heartbeat"
	"github.com/decahq/deca/internal/scheduler"
	"github.com/decahq/deca/internal/sessions"
	"github.com/decahq/deca/internal/store"
	"github.com/decahq/deca/pkg/protocol"
)

// consumeInbound pumps channel messages into session lanes and runs the
// agent on each dispatch, replying through the outbound bus.
func consumeInbound(ctx context.Context, cfg *config.Config, msgBus *bus.MessageBus, sched *scheduler.Scheduler, loop *agent.Loop, runlog *store.RunLog) {
	for {
		req, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}

		key := req.SessionKey
		if key == "" {
			key = sessionKeyFor(cfg.Agent.ID, req, cfg.Channels.MainChannels)
		}
		msg := req

		err := sched.Submit(key, scheduler.Item{
			Text:        msg.Content,
			Coalescable: true,
			Do: func(runCtx context.Context, text string) {
				runInbound(runCtx, key, text, msg, msgBus, loop, runlog)
			},
		})
		if err != nil {
			if errors.Is(err, scheduler.ErrLaneRejected) {
				slog.Warn("inbound: lane full, dropping message", "session", key)
				msgBus.PublishOutbound(bus.OutboundMessage{
					Platform: msg.Channel.Platform,
					ChatID:   msg.Channel.ID,
					Content:  "I'm handling too many messages right now, please try again shortly.",
					Kind:     bus.KindFinal,
				})
			}
			continue
		}
	}
}

func runInbound(ctx context.Context, key, text string, msg bus.MessageRequest, msgBus *bus.MessageBus, loop *agent.Loop, runlog *store.RunLog) {
	started := time.Now()
	runID := uuid.NewString()
	msgBus.Broadcast(bus.Event{Name: protocol.EventRunStarted, Payload: map[string]any{
		"runId": runID, "session": key, "platform": msg.Channel.Platform,
	}})

	// failed is written before Final, and the final emit runs on this
	// goroutine, so the closure reads it safely.
	failed := false
	queue := channels.NewReplyQueue(func(kind, text string) {
		if text == "" && kind != bus.KindFinal {
			return
		}
		out := bus.OutboundMessage{
			Platform: msg.Channel.Platform,
			ChatID:   msg.Channel.ID,
			Content:  text,
			Kind:     kind,
		}
		if kind == bus.KindFinal {
			out.ReplyToID = msg.MessageID
			out.Failed = failed
		}
		msgBus.PublishOutbound(out)
	}, 0)
	queue.Ack("On it.")

	cb := agent.Callbacks{
		OnToolStart: func(name string, _ map[string]any) {
			queue.Progress("[" + name + "]")
			msgBus.Broadcast(bus.Event{Name: protocol.EventToolCall, Payload: map[string]any{
				"runId": runID, "tool": name,
			}})
		},
		OnSkillMatch: func(name string) {
			msgBus.Broadcast(bus.Event{Name: protocol.EventSkill, Payload: map[string]any{
				"runId": runID, "skill": name,
			}})
		},
	}

	res, err := loop.Run(ctx, key, text, cb)

	if err != nil {
		slog.Error("inbound: run failed", "session", key, "error", err)
		failed = true
		queue.Final("Something went wrong handling that message.")
		msgBus.Broadcast(bus.Event{Name: protocol.EventRunFailed, Payload: map[string]any{
			"runId": runID, "session": key, "error": err.Error(),
		}})
	} else {
		queue.Final(res.Text)
		msgBus.Broadcast(bus.Event{Name: protocol.EventRunCompleted, Payload: map[string]any{
			"runId": runID, "session": key, "turns": res.Turns, "toolCalls": res.ToolCalls,
		}})
	}

	if runlog != nil {
		run := store.Run{
			ID:         runID,
			SessionKey: key,
			Channel:    msg.Channel.Platform,
			Status:     store.StatusOK,
			Turns:      res.Turns,
			ToolCalls:  res.ToolCalls,
			DurationMs: time.Since(started).Milliseconds(),
			StartedAt:  started,
		}
		run.InputTokens = res.Usage.Input
		run.OutputTokens = res.Usage.Output
		if err != nil {
			run.Status = store.StatusError
			run.Error = err.Error()
		}
		if werr := runlog.Record(ctx, run); werr != nil {
			slog.Warn("inbound: run log write failed", "error", werr)
		}
	}
}

// sessionKeyFor picks the conversation scope for an inbound message:
// configured main channels share the operator session, DMs share a
// per-user session, guild channels and threads each get their own.
func sessionKeyFor(agentID string, req bus.MessageRequest, mains []config.MainChannelConfig) string {
	for _, mc := range mains {
		if mc.ChannelID == "" || mc.ChannelID != req.Channel.ID {
			continue
		}
		if mc.Platform != "" && mc.Platform != req.Channel.Platform {
			continue
		}
		if mc.GuildID != "" && mc.GuildID != req.Channel.GuildID {
			continue
		}
		return sessions.BuildKey(agentID, sessions.MainScope())
	}

	switch req.Channel.Type {
	case bus.ChannelTypeThread:
		return sessions.BuildKey(agentID, sessions.ThreadScope(req.Channel.GuildID, req.Channel.ThreadID))
	case bus.ChannelTypeChannel:
		return sessions.BuildKey(agentID, sessions.ChannelScope(req.Channel.GuildID, req.Channel.ID))
	default:
		return sessions.BuildKey(agentID, sessions.UserScope(req.Sender.ID))
	}
}

// wireCron routes fired jobs through the main session lane so scheduled
// instructions serialize with live traffic. Job output goes to the
// configured cron channel, exempt from heartbeat stripping.
func wireCron(cfg *config.Config, cronMgr *cron.Manager, sched *scheduler.Scheduler, loop *agent.Loop, msgBus *bus.MessageBus) {
	key := sessions.BuildKey(cfg.Agent.ID, sessions.MainScope())
	cronMgr.SetOnTrigger(func(job cron.Job) error {
		return sched.Submit(key, scheduler.Item{
			Text: job.Instruction,
			Do: func(ctx context.Context, text string) {
				res, err := loop.Run(ctx, key, text, agent.Callbacks{})
				payload := map[string]any{"jobId": job.ID, "name": job.Name}
				if err != nil {
					slog.Error("cron: run failed", "job", job.ID, "error", err)
					payload["error"] = err.Error()
				} else {
					payload["response"] = res.Text
					if out, ok := cronOutbound(cfg, res.Text); ok {
						msgBus.PublishOutbound(out)
					}
				}
				msgBus.Broadcast(bus.Event{Name: protocol.EventCron, Payload: payload})
			},
		})
	})
}

// cronOutbound builds the channel delivery for one job's output. Returns
// false when no cron channel is configured or the job produced nothing.
func cronOutbound(cfg *config.Config, text string) (bus.OutboundMessage, bool) {
	if cfg.Cron.Platform == "" || cfg.Cron.ChatID == "" || strings.TrimSpace(text) == "" {
		return bus.OutboundMessage{}, false
	}
	return bus.OutboundMessage{
		Platform: cfg.Cron.Platform,
		ChatID:   cfg.Cron.ChatID,
		Content:  text,
		Kind:     bus.KindFinal,
		FromCron: true,
	}, true
}

// heartbeatOutbound builds the channel delivery for one heartbeat
// response. FromCron stays false so an ok-token response is stripped or
// suppressed by the manager.
func heartbeatOutbound(cfg *config.Config, text string) (bus.OutboundMessage, bool) {
	if cfg.Heartbeat.Platform == "" || cfg.Heartbeat.ChatID == "" || strings.TrimSpace(text) == "" {
		return bus.OutboundMessage{}, false
	}
	return bus.OutboundMessage{
		Platform: cfg.Heartbeat.Platform,
		ChatID:   cfg.Heartbeat.ChatID,
		Content:  text,
		Kind:     bus.KindFinal,
	}, true
}

// wireHeartbeat builds the heartbeat manager and registers the agent
// callback. Returns nil when heartbeat is disabled.
func wireHeartbeat(cfg *config.Config, workspace string, sched *scheduler.Scheduler, loop *agent.Loop, msgBus *bus.MessageBus) *heartbeat.Manager {
	if !cfg.Heartbeat.Enabled {
		return nil
	}

	hb := heartbeat.NewManager(heartbeat.Config{
		TaskFile:    filepath.Join(workspace, "HEARTBEAT.md"),
		Interval:    time.Duration(cfg.Heartbeat.IntervalMinutes) * time.Minute,
		ActiveStart: cfg.Heartbeat.ActiveStart,
		ActiveEnd:   cfg.Heartbeat.ActiveEnd,
	})

	key := sessions.BuildKey(cfg.Agent.ID, sessions.MainScope())
	hb.Register(func(ctx context.Context, tasks []heartbeat.Task, req heartbeat.Request) (string, error) {
		prompt := heartbeatPrompt(tasks)

		type outcome struct {
			text string
			err  error
		}
		done := make(chan outcome, 1)
		err := sched.Submit(key, scheduler.Item{
			Text: prompt,
			Do: func(runCtx context.Context, text string) {
				res, runErr := loop.Run(runCtx, key, text, agent.Callbacks{})
				done <- outcome{res.Text, runErr}
			},
		})
		if err != nil {
			return "", err
		}
		select {
		case out := <-done:
			if out.err != nil {
				return "", out.err
			}
			if msg, ok := heartbeatOutbound(cfg, out.text); ok {
				msgBus.PublishOutbound(msg)
			}
			msgBus.Broadcast(bus.Event{Name: protocol.EventHeartbeat, Payload: map[string]any{
				"reason": req.Reason, "response": out.text,
			}})
			return out.text, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	return hb
}

func heartbeatPrompt(tasks []heartbeat.Task) string {
	var b strings.Builder
	b.WriteString("Heartbeat check. Pending tasks from HEARTBEAT.md:\n")
	for _, t := range heartbeat.Pending(tasks) {
		b.WriteString("- ")
		b.WriteString(t.Text)
		b.WriteString("\n")
	}
	b.WriteString("\nWork on what you can now. If nothing needs attention, reply HEARTBEAT_OK.")
	return b.String()
}
