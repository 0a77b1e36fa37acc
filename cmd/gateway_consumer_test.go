package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/decahq/deca/internal/agent"
	"github.com/decahq/deca/internal/bus"
	"github.com/decahq/deca/internal/config"
	"github.com/decahq/deca/internal/providers"
	"github.com/decahq/deca/internal/sessions"
	"github.com/decahq/deca/internal/tools"
)

func TestSessionKeyFor(t *testing.T) {
	mains := []config.MainChannelConfig{
		{Platform: "discord", GuildID: "g1", ChannelID: "ops"},
		{ChannelID: "anywhere"},
	}

	cases := []struct {
		name string
		req  bus.MessageRequest
		want string
	}{
		{
			"dm shares a per-user session",
			bus.MessageRequest{
				Sender:  bus.Sender{ID: "u1"},
				Channel: bus.ChannelRef{ID: "d1", Type: bus.ChannelTypeDM, Platform: "discord"},
			},
			"agent:deca:user:u1",
		},
		{
			"guild channel gets its own session",
			bus.MessageRequest{
				Sender:  bus.Sender{ID: "u1"},
				Channel: bus.ChannelRef{ID: "c1", Type: bus.ChannelTypeChannel, Platform: "discord", GuildID: "g1"},
			},
			"agent:deca:channel:g1:c1",
		},
		{
			"thread gets its own session",
			bus.MessageRequest{
				Sender:  bus.Sender{ID: "u1"},
				Channel: bus.ChannelRef{ID: "c1", Type: bus.ChannelTypeThread, Platform: "discord", GuildID: "g1", ThreadID: "t1"},
			},
			"agent:deca:thread:g1:t1",
		},
		{
			"configured main channel joins the operator session",
			bus.MessageRequest{
				Sender:  bus.Sender{ID: "u1"},
				Channel: bus.ChannelRef{ID: "ops", Type: bus.ChannelTypeChannel, Platform: "discord", GuildID: "g1"},
			},
			"agent:deca:main",
		},
		{
			"main entry with wildcards matches any platform",
			bus.MessageRequest{
				Sender:  bus.Sender{ID: "u1"},
				Channel: bus.ChannelRef{ID: "anywhere", Type: bus.ChannelTypeChannel, Platform: "telegram", GuildID: "g2"},
			},
			"agent:deca:main",
		},
		{
			"main entry on the wrong platform does not match",
			bus.MessageRequest{
				Sender:  bus.Sender{ID: "u1"},
				Channel: bus.ChannelRef{ID: "ops", Type: bus.ChannelTypeChannel, Platform: "telegram", GuildID: "g1"},
			},
			"agent:deca:channel:g1:ops",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sessionKeyFor("deca", tc.req, mains); got != tc.want {
				t.Errorf("sessionKeyFor = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCronOutbound(t *testing.T) {
	cfg := config.Default()
	if _, ok := cronOutbound(cfg, "report"); ok {
		t.Error("unconfigured cron channel should not deliver")
	}

	cfg.Cron.Platform = "discord"
	cfg.Cron.ChatID = "c1"
	out, ok := cronOutbound(cfg, "report")
	if !ok || out.Platform != "discord" || out.ChatID != "c1" || out.Content != "report" {
		t.Fatalf("cronOutbound = %+v, %v", out, ok)
	}
	if !out.FromCron || out.Kind != bus.KindFinal {
		t.Errorf("cron delivery must be final and exempt from stripping: %+v", out)
	}
	if _, ok := cronOutbound(cfg, "  "); ok {
		t.Error("empty job output should not deliver")
	}
}

func TestHeartbeatOutbound(t *testing.T) {
	cfg := config.Default()
	cfg.Heartbeat.Platform = "telegram"
	cfg.Heartbeat.ChatID = "42"

	out, ok := heartbeatOutbound(cfg, "disk almost full")
	if !ok || out.Platform != "telegram" || out.ChatID != "42" {
		t.Fatalf("heartbeatOutbound = %+v, %v", out, ok)
	}
	// Heartbeat deliveries go through ok-token stripping downstream.
	if out.FromCron {
		t.Error("heartbeat delivery must not bypass stripping")
	}
	if _, ok := heartbeatOutbound(config.Default(), "anything"); ok {
		t.Error("unconfigured heartbeat channel should not deliver")
	}
}

// stubClient answers every call with fixed text.
type stubClient struct{ text string }

func (c *stubClient) Stream(_ context.Context, _ providers.Request, _ func(string)) (*providers.Response, error) {
	return &providers.Response{
		Content:    []sessions.ContentBlock{sessions.TextBlock(c.text)},
		StopReason: providers.StopEnd,
	}, nil
}

func (c *stubClient) Complete(ctx context.Context, req providers.Request) (*providers.Response, error) {
	return c.Stream(ctx, req, nil)
}

func (c *stubClient) Model() string      { return "stub" }
func (c *stubClient) ContextWindow() int { return 200000 }

func TestRunInboundReplyStream(t *testing.T) {
	store, err := sessions.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := agent.DefaultConfig("test", t.TempDir())
	cfg.MemoryEnabled = false
	loop := agent.New(cfg, &stubClient{text: "hi there"}, store, tools.NewRegistry(), nil)

	msgBus := bus.New()
	msg := bus.MessageRequest{
		Content:   "hello",
		MessageID: "m1",
		Sender:    bus.Sender{ID: "u1"},
		Channel:   bus.ChannelRef{ID: "c1", Type: bus.ChannelTypeDM, Platform: "discord"},
	}
	runInbound(context.Background(), "agent:test:user:u1", "hello", msg, msgBus, loop, nil)

	drainCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	var outs []bus.OutboundMessage
	for {
		out, ok := msgBus.ConsumeOutbound(drainCtx)
		if !ok {
			break
		}
		outs = append(outs, out)
	}

	if len(outs) < 2 {
		t.Fatalf("outbound messages = %d, want ack and final", len(outs))
	}
	if outs[0].Kind != bus.KindAck {
		t.Errorf("first message kind = %q, want ack", outs[0].Kind)
	}
	final := outs[len(outs)-1]
	if final.Kind != bus.KindFinal || final.Content != "hi there" {
		t.Errorf("final = %+v", final)
	}
	if final.ReplyToID != "m1" || final.Failed {
		t.Errorf("final must carry the origin for the outcome mark: %+v", final)
	}
	if final.ChatID != "c1" || final.Platform != "discord" {
		t.Errorf("final addressed to %q/%q", final.Platform, final.ChatID)
	}
}
