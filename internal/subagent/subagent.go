// Package subagent spawns detached agent runs on isolated session keys.
package subagent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/decahq/deca/internal/agent"
	"github.com/decahq/deca/internal/scheduler"
	"github.com/decahq/deca/internal/sessions"
	"github.com/decahq/deca/internal/tools"
)

// ResultFunc receives a finished subagent run. parentKey is the session
// that spawned it, label the caller-supplied tag (may be empty).
type ResultFunc func(parentKey, label string, receipt tools.SpawnReceipt, res agent.RunResult, err error)

// Host runs spawned tasks through the scheduler so each subagent gets its
// own FIFO lane and never blocks the parent session.
type Host struct {
	agentID  string
	loop     *agent.Loop
	sched    *scheduler.Scheduler
	onResult ResultFunc
}

// NewHost creates a host spawning under the given agent identity.
func NewHost(agentID string, loop *agent.Loop, sched *scheduler.Scheduler) *Host {
	return &Host{agentID: agentID, loop: loop, sched: sched}
}

// SetOnResult installs the completion callback.
func (h *Host) SetOnResult(fn ResultFunc) { h.onResult = fn }

// SpawnFunc returns the hook wired into the sessions_spawn tool.
func (h *Host) SpawnFunc() tools.SpawnFunc {
	return h.Spawn
}

// Spawn queues a detached run of task on a fresh subagent session. The
// receipt is returned immediately; the run itself executes on its own
// lane. With cleanup set, the subagent session is deleted after the run.
func (h *Host) Spawn(ctx context.Context, task, label string, cleanup bool) (tools.SpawnReceipt, error) {
	runID := uuid.NewString()
	short := strings.SplitN(runID, "-", 2)[0]
	key := sessions.BuildKey(h.agentID, sessions.SubagentScope(short))

	receipt := tools.SpawnReceipt{RunID: runID, SessionKey: key}
	parentKey, _ := tools.CallerSession(ctx)

	err := h.sched.Submit(key, scheduler.Item{
		Text: task,
		Do: func(runCtx context.Context, text string) {
			res, runErr := h.loop.Run(runCtx, key, text, agent.Callbacks{})
			if runErr != nil {
				slog.Error("subagent: run failed", "run", runID, "session", key, "error", runErr)
			} else {
				slog.Info("subagent: run finished",
					"run", runID, "session", key, "turns", res.Turns, "toolCalls", res.ToolCalls)
			}
			if h.onResult != nil {
				h.onResult(parentKey, label, receipt, res, runErr)
			}
			if cleanup {
				if rerr := h.loop.Reset(key); rerr != nil {
					slog.Warn("subagent: cleanup failed", "session", key, "error", rerr)
				}
			}
		},
	})
	if err != nil {
		return tools.SpawnReceipt{}, err
	}
	return receipt, nil
}
