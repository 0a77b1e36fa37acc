// Package discord connects the gateway to Discord through the bot API.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/decahq/deca/internal/bus"
)

// Config parameterizes the Discord adapter.
type Config struct {
	Token          string
	Allowlist      bus.Allowlist
	RequireMention bool // require @bot mention in guild channels
}

// Channel is the Discord adapter.
type Channel struct {
	session   *discordgo.Session
	cfg       Config
	router    bus.MessageRouter
	dedupe    *bus.DedupeCache
	botUserID string
	running   bool
}

// New creates a Discord adapter.
func New(cfg Config, router bus.MessageRouter) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		session: session,
		cfg:     cfg,
		router:  router,
		dedupe:  bus.NewDedupeCache(0, 0),
	}, nil
}

func (c *Channel) Name() string { return "discord" }

// Start opens the gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID
	c.running = true
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	c.running = false
	return c.session.Close()
}

// Send delivers one chunk to a Discord channel.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if !c.running {
		return fmt.Errorf("discord bot not running")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("empty chat id for discord send")
	}
	_, err := c.session.ChannelMessageSend(msg.ChatID, msg.Content)
	return err
}

// React marks the originating message with an outcome emoji.
func (c *Channel) React(_ context.Context, msg bus.OutboundMessage) error {
	if !c.running || msg.ReplyToID == "" {
		return nil
	}
	emoji := "✅"
	if msg.Failed {
		emoji = "❌"
	}
	return c.session.MessageReactionAdd(msg.ChatID, msg.ReplyToID, emoji)
}

func (c *Channel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}
	if c.dedupe.Seen(m.ID) {
		return
	}

	content := strings.TrimSpace(m.Content)
	isGuild := m.GuildID != ""
	if isGuild && c.cfg.RequireMention {
		mentioned := false
		for _, u := range m.Mentions {
			if u.ID == c.botUserID {
				mentioned = true
				break
			}
		}
		if !mentioned {
			return
		}
		content = stripMention(content, c.botUserID)
	}
	if content == "" {
		return
	}

	chType := bus.ChannelTypeDM
	threadID := ""
	if isGuild {
		chType = bus.ChannelTypeChannel
		if ch, err := s.State.Channel(m.ChannelID); err == nil && ch.IsThread() {
			chType = bus.ChannelTypeThread
			threadID = ch.ID
		}
	}

	req := bus.MessageRequest{
		Content:   content,
		MessageID: m.ID,
		Sender: bus.Sender{
			ID:       m.Author.ID,
			Username: m.Author.Username,
		},
		Channel: bus.ChannelRef{
			ID:       m.ChannelID,
			Type:     chType,
			Platform: "discord",
			GuildID:  m.GuildID,
			ThreadID: threadID,
		},
	}
	if !c.cfg.Allowlist.Allowed(req) {
		slog.Debug("discord: message rejected by allowlist", "sender", m.Author.ID, "channel", m.ChannelID)
		return
	}
	c.router.PublishInbound(req)
}

// stripMention removes the bot mention token from guild messages.
func stripMention(content, botID string) string {
	for _, form := range []string{"<@" + botID + ">", "<@!" + botID + ">"} {
		content = strings.ReplaceAll(content, form, "")
	}
	return strings.TrimSpace(content)
}
