package bus

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestPublishConsumeInbound(t *testing.T) {
	b := New()
	b.PublishInbound(MessageRequest{Content: "hello", Sender: Sender{ID: "u1"}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := b.ConsumeInbound(ctx)
	if !ok || msg.Content != "hello" {
		t.Errorf("ConsumeInbound = %+v, %v", msg, ok)
	}
}

func TestConsumeInboundCancelled(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := b.ConsumeInbound(ctx); ok {
		t.Error("cancelled consume should return false")
	}
}

func TestBroadcast(t *testing.T) {
	b := New()
	var got []string
	b.Subscribe("a", func(e Event) { got = append(got, "a:"+e.Name) })
	b.Subscribe("b", func(e Event) { got = append(got, "b:"+e.Name) })
	b.Unsubscribe("b")

	b.Broadcast(Event{Name: "chat"})
	if len(got) != 1 || got[0] != "a:chat" {
		t.Errorf("broadcast handlers got %v", got)
	}
}

func TestDedupeCache(t *testing.T) {
	c := NewDedupeCache(time.Hour, 100)

	if c.Seen("m1") {
		t.Error("first sighting reported as seen")
	}
	if !c.Seen("m1") {
		t.Error("second sighting not deduped")
	}
	if c.Seen("") {
		t.Error("empty id should never dedupe")
	}
}

func TestDedupeCacheTTL(t *testing.T) {
	c := NewDedupeCache(time.Minute, 100)
	clock := time.Now()
	c.now = func() time.Time { return clock }

	c.Seen("m1")
	clock = clock.Add(2 * time.Minute)
	if c.Seen("m1") {
		t.Error("expired entry still deduped")
	}
}

func TestDedupeCacheCap(t *testing.T) {
	c := NewDedupeCache(time.Hour, 10)
	for i := 0; i < 25; i++ {
		c.Seen(fmt.Sprintf("m%d", i))
	}
	if c.Len() > 10 {
		t.Errorf("cache size %d exceeds cap", c.Len())
	}
	// Newest entries survive.
	if !c.Seen("m24") {
		t.Error("newest entry evicted")
	}
}

func TestAllowlist(t *testing.T) {
	req := func(user, guild, channel string) MessageRequest {
		return MessageRequest{
			Sender:  Sender{ID: user},
			Channel: ChannelRef{ID: channel, GuildID: guild},
		}
	}

	cases := []struct {
		name string
		list Allowlist
		req  MessageRequest
		want bool
	}{
		{"empty list allows all", Allowlist{}, req("u1", "g1", "c1"), true},
		{"deny user wins", Allowlist{AllowUsers: []string{"u1"}, DenyUsers: []string{"u1"}}, req("u1", "", "c1"), false},
		{"allow user passes", Allowlist{AllowUsers: []string{"u1"}}, req("u1", "", "c1"), true},
		{"unlisted user rejected", Allowlist{AllowUsers: []string{"u1"}}, req("u2", "", "c1"), false},
		{"deny guild", Allowlist{DenyGuilds: []string{"g1"}}, req("u1", "g1", "c1"), false},
		{"allow guild ignores DMs", Allowlist{AllowGuilds: []string{"g1"}}, req("u1", "", "c1"), true},
		{"wrong guild rejected", Allowlist{AllowGuilds: []string{"g1"}}, req("u1", "g2", "c1"), false},
		{"deny channel", Allowlist{DenyChannels: []string{"c1"}}, req("u1", "g1", "c1"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.list.Allowed(tc.req); got != tc.want {
				t.Errorf("Allowed = %v, want %v", got, tc.want)
			}
		})
	}
}
