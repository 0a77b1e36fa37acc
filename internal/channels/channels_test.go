package channels

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/decahq/deca/internal/bus"
)

func TestStripHeartbeatOK(t *testing.T) {
	cases := []struct {
		name     string
		in       string
		want     string
		suppress bool
	}{
		{"exact match suppresses", "HEARTBEAT_OK", "", true},
		{"exact with whitespace suppresses", "  HEARTBEAT_OK\n", "", true},
		{"leading token stripped", "HEARTBEAT_OK all good here", "all good here", false},
		{"trailing token stripped", "all good here HEARTBEAT_OK", "all good here", false},
		{"embedded unchanged", "before HEARTBEAT_OK after", "before HEARTBEAT_OK after", false},
		{"no token unchanged", "regular reply", "regular reply", false},
		{"prefix of a word unchanged", "HEARTBEAT_OKAY then", "HEARTBEAT_OKAY then", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, suppress := StripHeartbeatOK(tc.in)
			if suppress != tc.suppress || got != tc.want {
				t.Errorf("StripHeartbeatOK(%q) = (%q, %v), want (%q, %v)", tc.in, got, suppress, tc.want, tc.suppress)
			}
		})
	}
}

func TestReplyQueue(t *testing.T) {
	var mu sync.Mutex
	var emitted []string
	emit := func(kind, text string) {
		mu.Lock()
		emitted = append(emitted, kind+":"+text)
		mu.Unlock()
	}

	q := NewReplyQueue(emit, 50*time.Millisecond)
	q.Ack("working on it")

	mu.Lock()
	if len(emitted) != 1 || emitted[0] != "ack:working on it" {
		t.Errorf("ack not emitted immediately: %v", emitted)
	}
	mu.Unlock()

	q.Progress("step 1")
	q.Progress("step 2")

	time.Sleep(120 * time.Millisecond)
	mu.Lock()
	if len(emitted) < 2 || emitted[1] != "progress:step 1\nstep 2" {
		t.Errorf("progress not flushed as one batch: %v", emitted)
	}
	mu.Unlock()

	q.Progress("late step")
	q.Final("all done")

	mu.Lock()
	defer mu.Unlock()
	if emitted[len(emitted)-1] != "final:all done" {
		t.Errorf("final not last: %v", emitted)
	}
	joined := strings.Join(emitted, "|")
	if !strings.Contains(joined, "progress:late step") {
		t.Errorf("pending buffer not flushed before final: %v", emitted)
	}
}

func TestChatLimiter(t *testing.T) {
	l := NewChatLimiter(1, 2)

	if !l.Allow("chat1") || !l.Allow("chat1") {
		t.Error("burst should allow two sends")
	}
	if l.Allow("chat1") {
		t.Error("third immediate send should be limited")
	}
	// Other chats are independent.
	if !l.Allow("chat2") {
		t.Error("separate chat should not share the limit")
	}
}

// captureChannel records sends for manager tests.
type captureChannel struct {
	mu    sync.Mutex
	sends []string
}

func (c *captureChannel) Name() string                    { return "capture" }
func (c *captureChannel) Start(context.Context) error     { return nil }
func (c *captureChannel) Stop(context.Context) error      { return nil }
func (c *captureChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, msg.Content)
	return nil
}

func (c *captureChannel) contents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sends...)
}

func TestManagerDeliverChunksAndStrips(t *testing.T) {
	b := bus.New()
	m := NewManager(b)
	cap := &captureChannel{}
	m.Register(cap)

	m.Deliver(context.Background(), bus.OutboundMessage{
		Platform: "capture", ChatID: "c1", Content: "HEARTBEAT_OK nothing new",
	})
	if got := cap.contents(); len(got) != 1 || got[0] != "nothing new" {
		t.Errorf("delivered = %v", got)
	}
}

func TestManagerDeliverSuppressesHeartbeat(t *testing.T) {
	b := bus.New()
	m := NewManager(b)
	cap := &captureChannel{}
	m.Register(cap)

	m.Deliver(context.Background(), bus.OutboundMessage{
		Platform: "capture", ChatID: "c1", Content: "HEARTBEAT_OK",
	})
	if got := cap.contents(); len(got) != 0 {
		t.Errorf("heartbeat-only reply delivered: %v", got)
	}
}

// reactingChannel records reactions in addition to sends.
type reactingChannel struct {
	captureChannel
	reactions []bus.OutboundMessage
}

func (c *reactingChannel) React(_ context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reactions = append(c.reactions, msg)
	return nil
}

func TestManagerDeliverReactsOnFinal(t *testing.T) {
	b := bus.New()
	m := NewManager(b)
	ch := &reactingChannel{}
	m.Register(ch)

	m.Deliver(context.Background(), bus.OutboundMessage{
		Platform: "capture", ChatID: "c1", Content: "done",
		Kind: bus.KindFinal, ReplyToID: "m1",
	})
	m.Deliver(context.Background(), bus.OutboundMessage{
		Platform: "capture", ChatID: "c1", Content: "oops",
		Kind: bus.KindFinal, ReplyToID: "m2", Failed: true,
	})
	// Progress chunks and finals without an origin never react.
	m.Deliver(context.Background(), bus.OutboundMessage{
		Platform: "capture", ChatID: "c1", Content: "step",
		Kind: bus.KindProgress, ReplyToID: "m3",
	})
	m.Deliver(context.Background(), bus.OutboundMessage{
		Platform: "capture", ChatID: "c1", Content: "final",
		Kind: bus.KindFinal,
	})

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(ch.reactions) != 2 {
		t.Fatalf("reactions = %d, want 2", len(ch.reactions))
	}
	if ch.reactions[0].ReplyToID != "m1" || ch.reactions[0].Failed {
		t.Errorf("first reaction = %+v, want success mark on m1", ch.reactions[0])
	}
	if ch.reactions[1].ReplyToID != "m2" || !ch.reactions[1].Failed {
		t.Errorf("second reaction = %+v, want failure mark on m2", ch.reactions[1])
	}
}

func TestManagerDeliverCronSkipsStripping(t *testing.T) {
	b := bus.New()
	m := NewManager(b)
	cap := &captureChannel{}
	m.Register(cap)

	m.Deliver(context.Background(), bus.OutboundMessage{
		Platform: "capture", ChatID: "c1", Content: "HEARTBEAT_OK", FromCron: true,
	})
	if got := cap.contents(); len(got) != 1 || got[0] != "HEARTBEAT_OK" {
		t.Errorf("cron delivery = %v, want sentinel kept", got)
	}
}
