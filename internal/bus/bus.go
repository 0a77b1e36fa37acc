package bus

import (
	"context"
	"log/slog"
	"sync"
)

const defaultQueueDepth = 256

// MessageBus is the in-process implementation of MessageRouter and
// EventPublisher: buffered channels for messages, a subscriber map for
// events.
type MessageBus struct {
	inbound  chan MessageRequest
	outbound chan OutboundMessage

	mu   sync.RWMutex
	subs map[string]EventHandler
}

// New creates a bus with default queue depths.
func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan MessageRequest, defaultQueueDepth),
		outbound: make(chan OutboundMessage, defaultQueueDepth),
		subs:     make(map[string]EventHandler),
	}
}

// PublishInbound enqueues an inbound message, dropping with a warning
// when the queue is full.
func (b *MessageBus) PublishInbound(msg MessageRequest) {
	select {
	case b.inbound <- msg:
	default:
		slog.Warn("bus: inbound queue full, dropping message",
			"platform", msg.Channel.Platform, "sender", msg.Sender.ID)
	}
}

// ConsumeInbound blocks for the next inbound message; returns false when
// ctx is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (MessageRequest, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return MessageRequest{}, false
	}
}

// PublishOutbound enqueues a reply for delivery.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
		slog.Warn("bus: outbound queue full, dropping message",
			"platform", msg.Platform, "chat", msg.ChatID)
	}
}

// ConsumeOutbound blocks for the next outbound message; returns false
// when ctx is cancelled.
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// Subscribe registers an event handler under id, replacing any previous
// handler with the same id.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = handler
}

// Unsubscribe removes a handler.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Broadcast delivers an event to every subscriber synchronously.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
