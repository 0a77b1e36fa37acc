package compaction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/decahq/deca/internal/providers"
	"github.com/decahq/deca/internal/sessions"
)

func TestMessageChars(t *testing.T) {
	text := sessions.UserText("hello")
	if got := MessageChars(text); got != 5 {
		t.Errorf("text chars = %d", got)
	}

	use := sessions.Message{
		Role:    sessions.RoleAssistant,
		Content: []sessions.ContentBlock{sessions.ToolUseBlock("id", "exec", map[string]any{"command": "ls"})},
	}
	// serialized input plus the fixed block framing overhead
	want := len(`{"command":"ls"}`) + 16
	if got := MessageChars(use); got != want {
		t.Errorf("tool use chars = %d, want %d", got, want)
	}

	result := sessions.Message{
		Role:    sessions.RoleUser,
		Content: []sessions.ContentBlock{sessions.ToolResultBlock("id", "abcd")},
	}
	if got := MessageChars(result); got != 4 {
		t.Errorf("tool result chars = %d", got)
	}
}

func TestPruneUnderBudgetKeepsEverything(t *testing.T) {
	msgs := []sessions.Message{
		sessions.UserText("q"),
		sessions.AssistantText("a"),
	}
	res, err := Prune(msgs, 200000, DefaultPruneSettings())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Kept) != 2 || len(res.Dropped) != 0 {
		t.Errorf("result = kept %d, dropped %d", len(res.Kept), len(res.Dropped))
	}
}

func TestPruneDropsOldest(t *testing.T) {
	filler := strings.Repeat("x", 100)
	var msgs []sessions.Message
	for i := 0; i < 10; i++ {
		msgs = append(msgs, sessions.UserText(filler), sessions.AssistantText(filler))
	}
	// budget = 500 tokens * 4 chars * 0.5 = 1000 chars out of 2000
	res, err := Prune(msgs, 500, DefaultPruneSettings())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Dropped) == 0 {
		t.Fatal("nothing dropped")
	}
	if res.KeptChars > res.BudgetChars {
		t.Errorf("kept %d chars over budget %d", res.KeptChars, res.BudgetChars)
	}
	// Dropped messages are the oldest prefix.
	if res.Dropped[0].Text() != msgs[0].Text() || len(res.Kept)+len(res.Dropped) != len(msgs) {
		t.Errorf("drop set inconsistent: kept %d dropped %d", len(res.Kept), len(res.Dropped))
	}
}

func TestPruneProtectsLastAssistants(t *testing.T) {
	filler := strings.Repeat("x", 50)
	var msgs []sessions.Message
	for i := 0; i < 20; i++ {
		msgs = append(msgs, sessions.UserText(filler), sessions.AssistantText(filler))
	}
	s := DefaultPruneSettings()
	s.KeepLastAssistants = 3

	res, err := Prune(msgs, 250, s)
	if err != nil {
		t.Fatal(err)
	}
	// When the protected suffix fits the budget, the last 3 assistant
	// messages must all survive.
	assistants := 0
	for _, m := range res.Kept {
		if m.Role == sessions.RoleAssistant {
			assistants++
		}
	}
	if assistants < 3 {
		t.Errorf("only %d assistant messages kept", assistants)
	}
	if got := res.Kept[len(res.Kept)-1].Text(); got != filler {
		t.Errorf("last message = %q", got)
	}
}

func TestPruneSoftTrimsToolResults(t *testing.T) {
	big := strings.Repeat("r", 5000)
	msgs := []sessions.Message{
		{Role: sessions.RoleUser, Content: []sessions.ContentBlock{sessions.ToolResultBlock("tu", big)}},
		sessions.AssistantText("ok"),
	}
	res, err := Prune(msgs, 200000, DefaultPruneSettings())
	if err != nil {
		t.Fatal(err)
	}
	if res.TrimmedCount != 1 {
		t.Fatalf("trimmed count = %d", res.TrimmedCount)
	}
	trimmed := res.Kept[0].ToolResults()[0].Content
	if len(trimmed) >= 5000 {
		t.Errorf("tool result not shortened: %d chars", len(trimmed))
	}
	if !strings.Contains(trimmed, "Tool result trimmed") {
		t.Errorf("trim marker missing: %q", trimmed[len(trimmed)-80:])
	}
	// Original slice untouched.
	if len(msgs[0].ToolResults()[0].Content) != 5000 {
		t.Error("input mutated")
	}
}

func TestPruneInvalidSettings(t *testing.T) {
	msgs := []sessions.Message{sessions.UserText("x")}
	if _, err := Prune(msgs, 1000, PruneSettings{MaxHistoryShare: 0}); !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("zero share error = %v", err)
	}
	if _, err := Prune(msgs, 0, DefaultPruneSettings()); !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("zero window error = %v", err)
	}
}

func TestShouldCompact(t *testing.T) {
	small := []sessions.Message{sessions.UserText("hi")}
	if ShouldCompact(small, 200000, DefaultSettings()) {
		t.Error("small history should not compact")
	}
	big := []sessions.Message{sessions.UserText(strings.Repeat("x", 4000))}
	// 1000 estimated tokens against a 1000-token window exceeds 0.75.
	if !ShouldCompact(big, 1000, DefaultSettings()) {
		t.Error("oversized history should compact")
	}
}

// summaryClient scripts Complete calls for Summarize tests.
type summaryClient struct {
	replies []string
	calls   int
	fail    bool
}

func (c *summaryClient) Stream(ctx context.Context, req providers.Request, _ func(string)) (*providers.Response, error) {
	return c.Complete(ctx, req)
}

func (c *summaryClient) Complete(_ context.Context, _ providers.Request) (*providers.Response, error) {
	if c.fail {
		return nil, errors.New("provider down")
	}
	i := c.calls
	if i >= len(c.replies) {
		i = len(c.replies) - 1
	}
	c.calls++
	return &providers.Response{
		Content:    []sessions.ContentBlock{sessions.TextBlock(c.replies[i])},
		StopReason: providers.StopEnd,
	}, nil
}

func (c *summaryClient) Model() string      { return "fake" }
func (c *summaryClient) ContextWindow() int { return 1000 }

func TestSummarizeSingleChunk(t *testing.T) {
	client := &summaryClient{replies: []string{"the summary"}}
	msgs := []sessions.Message{sessions.UserText("short history")}

	got := Summarize(context.Background(), client, msgs, "", 200000)
	if got != "the summary" {
		t.Errorf("summary = %q", got)
	}
	if client.calls != 1 {
		t.Errorf("calls = %d", client.calls)
	}
}

func TestSummarizeFallsBackOnError(t *testing.T) {
	client := &summaryClient{fail: true}
	msgs := []sessions.Message{sessions.UserText("history")}

	if got := Summarize(context.Background(), client, msgs, "previous", 200000); got != "previous" {
		t.Errorf("fallback = %q, want previous summary", got)
	}
	if got := Summarize(context.Background(), client, msgs, "", 200000); got != NoHistorySummary {
		t.Errorf("fallback = %q, want %q", got, NoHistorySummary)
	}
}

func TestSummarizeEmptyHistory(t *testing.T) {
	client := &summaryClient{replies: []string{"unused"}}
	if got := Summarize(context.Background(), client, nil, "", 200000); got != NoHistorySummary {
		t.Errorf("empty summary = %q", got)
	}
	if client.calls != 0 {
		t.Error("no call expected for empty history")
	}
}

func TestSummarizeMergesChunks(t *testing.T) {
	client := &summaryClient{replies: []string{"part", "part", "merged"}}
	// Enough content against a small window to force multiple chunks.
	var msgs []sessions.Message
	for i := 0; i < 20; i++ {
		msgs = append(msgs, sessions.UserText(strings.Repeat("x", 200)))
	}

	got := Summarize(context.Background(), client, msgs, "", 1000)
	if got != "merged" {
		t.Errorf("summary = %q", got)
	}
	if client.calls < 3 {
		t.Errorf("calls = %d, want chunk calls plus merge", client.calls)
	}
}

func TestSummaryMessage(t *testing.T) {
	msg := SummaryMessage("facts here")
	if msg.Role != sessions.RoleUser {
		t.Errorf("role = %q", msg.Role)
	}
	if !strings.HasPrefix(msg.Text(), SummaryMarker) || !strings.Contains(msg.Text(), "facts here") {
		t.Errorf("text = %q", msg.Text())
	}
}
