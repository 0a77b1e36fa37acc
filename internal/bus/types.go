// Package bus carries messages and events between channel adapters, the
// gateway, and the agent runtime.
package bus

import "context"

// Channel types.
const (
	ChannelTypeDM      = "dm"
	ChannelTypeChannel = "channel"
	ChannelTypeThread  = "thread"
)

// Sender identifies who sent an inbound message.
type Sender struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
}

// ChannelRef locates where a message arrived.
type ChannelRef struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // dm, channel, thread
	Platform string `json:"platform,omitempty"`
	GuildID  string `json:"guildId,omitempty"`
	ThreadID string `json:"threadId,omitempty"`
}

// MessageRequest is one inbound message bound for the agent.
type MessageRequest struct {
	Content    string     `json:"content"`
	Sender     Sender     `json:"sender"`
	Channel    ChannelRef `json:"channel"`
	SessionKey string     `json:"sessionKey,omitempty"`
	MessageID  string     `json:"messageId,omitempty"`
}

// Delivery kinds for outbound messages.
const (
	KindAck      = "ack"
	KindProgress = "progress"
	KindFinal    = "final"
)

// OutboundMessage is reply text bound for a channel adapter. ReplyToID
// names the inbound message this answers, letting adapters mark it with
// an outcome reaction; Failed selects the failure mark.
type OutboundMessage struct {
	Platform  string `json:"platform"`
	ChatID    string `json:"chatId"`
	Content   string `json:"content"`
	Kind      string `json:"kind,omitempty"`
	FromCron  bool   `json:"fromCron,omitempty"`
	ReplyToID string `json:"replyToId,omitempty"`
	Failed    bool   `json:"failed,omitempty"`
}

// Event is a server-side event broadcast to WebSocket clients.
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast and subscription.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter routes inbound and outbound messages between channel
// adapters and the agent runtime.
type MessageRouter interface {
	PublishInbound(msg MessageRequest)
	ConsumeInbound(ctx context.Context) (MessageRequest, bool)
	PublishOutbound(msg OutboundMessage)
	ConsumeOutbound(ctx context.Context) (OutboundMessage, bool)
}
