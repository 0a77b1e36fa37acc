package tools

import (
	"context"
	"fmt"
)

type callerSessionKey struct{}

// WithCallerSession tags ctx with the session issuing a spawn, so the host
// can announce the result back to it.
func WithCallerSession(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, callerSessionKey{}, key)
}

// CallerSession extracts the spawning session from ctx, if tagged.
func CallerSession(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(callerSessionKey{}).(string)
	return key, ok && key != ""
}

// SessionsSpawnTool delegates a task to a fresh subagent session.
type SessionsSpawnTool struct{}

func (t *SessionsSpawnTool) Name() string { return "sessions_spawn" }
func (t *SessionsSpawnTool) Description() string {
	return "Delegate a task to a background subagent session"
}
func (t *SessionsSpawnTool) InputSchema() map[string]any {
	return schemaObject(map[string]any{
		"task":    prop("string", "Task description for the subagent"),
		"label":   prop("string", "Optional label for the run"),
		"cleanup": prop("boolean", "Reset the subagent session after completion"),
	}, "task")
}

func (t *SessionsSpawnTool) Execute(ctx context.Context, args map[string]any, tc *Context) string {
	if tc.Spawn == nil {
		return Errorf("subagents are not enabled")
	}
	task := strArg(args, "task")
	if task == "" {
		return Errorf("task is required")
	}

	receipt, err := tc.Spawn(WithCallerSession(ctx, tc.SessionKey), task, strArg(args, "label"), boolArg(args, "cleanup"))
	if err != nil {
		return Errorf("spawn failed: %v", err)
	}
	return fmt.Sprintf("Spawned subagent run %s (session %s)", receipt.RunID, receipt.SessionKey)
}
