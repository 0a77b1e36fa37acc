// Package telegram connects the gateway to Telegram through long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/decahq/deca/internal/bus"
)

// Config parameterizes the Telegram adapter.
type Config struct {
	Token     string
	Allowlist bus.Allowlist
}

// Channel is the Telegram adapter.
type Channel struct {
	bot    *telego.Bot
	cfg    Config
	router bus.MessageRouter
	dedupe *bus.DedupeCache
	cancel context.CancelFunc
}

// New creates a Telegram adapter.
func New(cfg Config, router bus.MessageRouter) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		bot:    bot,
		cfg:    cfg,
		router: router,
		dedupe: bus.NewDedupeCache(0, 0),
	}, nil
}

func (c *Channel) Name() string { return "telegram" }

// Start begins long polling for updates.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("telegram long polling: %w", err)
	}

	go func() {
		for update := range updates {
			if update.Message != nil {
				c.handleMessage(update.Message)
			}
		}
	}()

	slog.Info("telegram bot polling started")
	return nil
}

// Stop halts polling.
func (c *Channel) Stop(_ context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send delivers one chunk to a Telegram chat.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", msg.ChatID, err)
	}
	_, err = c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), msg.Content))
	return err
}

func (c *Channel) handleMessage(m *telego.Message) {
	if m.From == nil || m.From.IsBot {
		return
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}
	msgID := fmt.Sprintf("%d:%d", m.Chat.ID, m.MessageID)
	if c.dedupe.Seen(msgID) {
		return
	}

	chType := bus.ChannelTypeDM
	guildID := ""
	if m.Chat.Type == telego.ChatTypeGroup || m.Chat.Type == telego.ChatTypeSupergroup {
		chType = bus.ChannelTypeChannel
		guildID = strconv.FormatInt(m.Chat.ID, 10)
	}
	threadID := ""
	if m.MessageThreadID != 0 {
		chType = bus.ChannelTypeThread
		threadID = strconv.Itoa(m.MessageThreadID)
	}

	req := bus.MessageRequest{
		Content:   text,
		MessageID: msgID,
		Sender: bus.Sender{
			ID:       strconv.FormatInt(m.From.ID, 10),
			Username: m.From.Username,
		},
		Channel: bus.ChannelRef{
			ID:       strconv.FormatInt(m.Chat.ID, 10),
			Type:     chType,
			Platform: "telegram",
			GuildID:  guildID,
			ThreadID: threadID,
		},
	}
	if !c.cfg.Allowlist.Allowed(req) {
		slog.Debug("telegram: message rejected by allowlist", "sender", req.Sender.ID, "chat", req.Channel.ID)
		return
	}
	c.router.PublishInbound(req)
}
