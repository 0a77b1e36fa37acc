package agent

import (
	"github.com/decahq/deca/internal/sessions"
	"github.com/decahq/deca/internal/tools"
)

// SessionStatus describes one known session.
type SessionStatus struct {
	Key      string `json:"key"`
	Messages int    `json:"messages"`
	InFlight bool   `json:"inFlight"`
}

// SetSpawn installs the subagent spawn hook exposed through the
// sessions_spawn tool.
func (l *Loop) SetSpawn(fn tools.SpawnFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spawn = fn
}

func (l *Loop) spawnFunc() tools.SpawnFunc {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spawn
}

// GetHistory returns the persisted history of a session.
func (l *Loop) GetHistory(key string) []sessions.Message {
	return l.store.History(key)
}

// Reset clears a session's history and rolling summary.
func (l *Loop) Reset(key string) error {
	l.mu.Lock()
	delete(l.summaries, key)
	l.mu.Unlock()
	return l.store.Reset(key)
}

// ListSessions returns all known session keys.
func (l *Loop) ListSessions() []string {
	return l.store.List()
}

// Status reports every known session with its message count and whether a
// run is currently active on it.
func (l *Loop) Status() []SessionStatus {
	keys := l.store.List()

	l.mu.Lock()
	active := make(map[string]bool, len(l.inFlight))
	for k, n := range l.inFlight {
		if n > 0 {
			active[k] = true
		}
	}
	l.mu.Unlock()

	out := make([]SessionStatus, 0, len(keys))
	for _, k := range keys {
		out = append(out, SessionStatus{
			Key:      k,
			Messages: l.store.MessageCount(k),
			InFlight: active[k],
		})
	}
	return out
}
