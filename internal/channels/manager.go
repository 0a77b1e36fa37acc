package channels

import (
	"context"
	"log/slog"
	"sync"

	"github.com/decahq/deca/internal/bus"
)

// Manager owns the platform adapters and the outbound dispatch loop:
// messages consumed from the bus are heartbeat-stripped (except cron
// deliveries), chunked to the platform limit, rate limited per chat, and
// handed to the adapter.
type Manager struct {
	router  bus.MessageRouter
	limiter *ChatLimiter

	mu       sync.RWMutex
	adapters map[string]Channel
}

// NewManager creates a manager dispatching through router.
func NewManager(router bus.MessageRouter) *Manager {
	return &Manager{
		router:   router,
		limiter:  NewChatLimiter(1, 5),
		adapters: make(map[string]Channel),
	}
}

// Register adds a platform adapter.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[ch.Name()] = ch
}

// Get returns a registered adapter.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.adapters[name]
	return ch, ok
}

// Names lists registered adapters.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.adapters))
	for name := range m.adapters {
		out = append(out, name)
	}
	return out
}

// StartAll starts every adapter; a failing adapter is logged and skipped.
func (m *Manager) StartAll(ctx context.Context) {
	for _, ch := range m.snapshot() {
		if err := ch.Start(ctx); err != nil {
			slog.Error("channels: adapter failed to start", "channel", ch.Name(), "error", err)
		}
	}
}

// StopAll stops every adapter.
func (m *Manager) StopAll(ctx context.Context) {
	for _, ch := range m.snapshot() {
		if err := ch.Stop(ctx); err != nil {
			slog.Warn("channels: adapter failed to stop", "channel", ch.Name(), "error", err)
		}
	}
}

// Run consumes outbound messages until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	for {
		msg, ok := m.router.ConsumeOutbound(ctx)
		if !ok {
			return
		}
		m.Deliver(ctx, msg)
	}
}

// Deliver processes one outbound message end to end.
func (m *Manager) Deliver(ctx context.Context, msg bus.OutboundMessage) {
	content := msg.Content
	if !msg.FromCron {
		stripped, suppress := StripHeartbeatOK(content)
		if suppress {
			slog.Debug("channels: suppressing heartbeat-ok reply", "chat", msg.ChatID)
			return
		}
		content = stripped
	}

	ch, ok := m.Get(msg.Platform)
	if !ok {
		slog.Warn("channels: no adapter for platform", "platform", msg.Platform)
		return
	}

	for _, chunk := range SplitMessage(content, DefaultChunkSize) {
		if err := m.limiter.Reserve(msg.ChatID).Wait(ctx); err != nil {
			return
		}
		out := msg
		out.Content = chunk
		if err := ch.Send(ctx, out); err != nil {
			slog.Error("channels: send failed", "platform", msg.Platform, "chat", msg.ChatID, "error", err)
			return
		}
	}

	if msg.Kind == bus.KindFinal && msg.ReplyToID != "" {
		if r, ok := ch.(Reactor); ok {
			if err := r.React(ctx, msg); err != nil {
				slog.Debug("channels: reaction failed", "platform", msg.Platform, "chat", msg.ChatID, "error", err)
			}
		}
	}
}

func (m *Manager) snapshot() []Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Channel, 0, len(m.adapters))
	for _, ch := range m.adapters {
		out = append(out, ch)
	}
	return out
}
