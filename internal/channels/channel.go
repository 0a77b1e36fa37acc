// Package channels connects chat platforms to the agent runtime through
// the message bus, and owns outbound delivery: chunking, heartbeat token
// stripping, reply batching, and per-chat rate limiting.
package channels

import (
	"context"

	"github.com/decahq/deca/internal/bus"
)

// Channel is one platform adapter.
type Channel interface {
	// Name returns the platform identifier (e.g. "discord", "telegram").
	Name() string

	// Start begins listening for messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop shuts the adapter down.
	Stop(ctx context.Context) error

	// Send delivers one already-chunked outbound message.
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// Reactor is implemented by adapters that can mark the originating
// message with an outcome reaction after the final reply lands.
type Reactor interface {
	React(ctx context.Context, msg bus.OutboundMessage) error
}
