// Package protocol names the events pushed to websocket clients.
// External consumers import these constants instead of matching strings.
package protocol

// Top-level event names.
const (
	EventRunStarted   = "run.started"
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
	EventToolCall     = "tool.call"
	EventToolResult   = "tool.result"
	EventChunk        = "chunk"
	EventSkill        = "skill.triggered"
	EventCron         = "cron.triggered"
	EventHeartbeat    = "heartbeat"
	EventShutdown     = "shutdown"
)
