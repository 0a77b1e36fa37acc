package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/decahq/deca/internal/providers"
	"github.com/decahq/deca/internal/sessions"
)

// Chunking ratios for staged summarization. The chunk budget starts at
// BaseChunkRatio of the context window and shrinks toward MinChunkRatio
// when the average message is large, so one oversized message cannot blow
// a chunk's token budget.
const (
	BaseChunkRatio = 0.4
	MinChunkRatio  = 0.15
)

// DefaultTriggerRatio is the history share of the context window at which
// compaction kicks in.
const DefaultTriggerRatio = 0.75

// SummaryMarker prefixes the synthetic summary message injected into
// history after compaction.
const SummaryMarker = "【历史摘要】"

// NoHistorySummary is the summary for an empty history.
const NoHistorySummary = "No prior history."

const summaryMaxTokens = 1024

// Settings controls compaction.
type Settings struct {
	TriggerRatio float64
}

// DefaultSettings returns the standard compaction policy.
func DefaultSettings() Settings {
	return Settings{TriggerRatio: DefaultTriggerRatio}
}

// ShouldCompact reports whether the history exceeds the trigger threshold.
func ShouldCompact(msgs []sessions.Message, contextWindow int, s Settings) bool {
	ratio := s.TriggerRatio
	if ratio <= 0 {
		ratio = DefaultTriggerRatio
	}
	return float64(EstimateTokens(msgs)) > ratio*float64(contextWindow)
}

// SummaryMessage wraps a summary string as the synthetic user message that
// is prepended to pruned history.
func SummaryMessage(summary string) sessions.Message {
	return sessions.UserText(SummaryMarker + "\n" + summary)
}

// Summarize produces a factual summary of msgs in stages: the history is
// split into roughly token-equal chunks, each chunk is summarized with a
// low-budget LLM call (carrying the running summary for continuity), and
// multiple chunk summaries are merged with a final call.
//
// Failures never propagate: on any LLM error the previous summary (or
// NoHistorySummary) is returned.
func Summarize(ctx context.Context, client providers.Client, msgs []sessions.Message, prevSummary string, contextWindow int) string {
	if len(msgs) == 0 {
		if prevSummary != "" {
			return prevSummary
		}
		return NoHistorySummary
	}

	fallback := prevSummary
	if fallback == "" {
		fallback = NoHistorySummary
	}

	chunks := splitByTokenShare(msgs, contextWindow)

	running := prevSummary
	partials := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		prompt := chunkPrompt(chunk, running)
		out, err := summaryCall(ctx, client, prompt)
		if err != nil {
			slog.Warn("compaction: chunk summary failed", "chunk", i, "error", err)
			return fallback
		}
		partials = append(partials, out)
		running = out
	}

	if len(partials) == 1 {
		return partials[0]
	}

	merged, err := summaryCall(ctx, client, mergePrompt(partials))
	if err != nil {
		slog.Warn("compaction: merge summary failed", "error", err)
		return fallback
	}
	return merged
}

// adaptiveChunkRatio lowers the chunk budget when the average message is
// large relative to the context window.
func adaptiveChunkRatio(msgs []sessions.Message, contextWindow int) float64 {
	if len(msgs) == 0 || contextWindow <= 0 {
		return BaseChunkRatio
	}
	avgTokens := float64(EstimateTokens(msgs)) / float64(len(msgs))
	avgShare := avgTokens / float64(contextWindow)
	// At avgShare >= 10% of the window, fall all the way to the floor.
	scale := math.Min(1, avgShare/0.1)
	return BaseChunkRatio - (BaseChunkRatio-MinChunkRatio)*scale
}

// splitByTokenShare partitions msgs into max(1, ceil(total/maxChunk))
// chunks of roughly equal token weight, preserving order.
func splitByTokenShare(msgs []sessions.Message, contextWindow int) [][]sessions.Message {
	total := EstimateTokens(msgs)
	maxChunkTokens := adaptiveChunkRatio(msgs, contextWindow) * float64(contextWindow)
	parts := 1
	if maxChunkTokens > 0 {
		parts = int(math.Max(1, math.Ceil(float64(total)/maxChunkTokens)))
	}
	if parts <= 1 {
		return [][]sessions.Message{msgs}
	}

	target := total/parts + 1
	var chunks [][]sessions.Message
	var current []sessions.Message
	currentTokens := 0
	for _, m := range msgs {
		current = append(current, m)
		currentTokens += MessageChars(m) / CharsPerToken
		if currentTokens >= target && len(chunks) < parts-1 {
			chunks = append(chunks, current)
			current = nil
			currentTokens = 0
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

func chunkPrompt(chunk []sessions.Message, prevSummary string) string {
	var b strings.Builder
	b.WriteString("Summarize the following conversation factually and concisely. ")
	b.WriteString("Keep decisions, open tasks, names, file paths, and stated preferences. ")
	b.WriteString("Do not add commentary.\n\n")
	if prevSummary != "" {
		b.WriteString("Summary so far:\n")
		b.WriteString(prevSummary)
		b.WriteString("\n\n")
	}
	b.WriteString("Conversation:\n")
	for _, m := range chunk {
		b.WriteString(renderForSummary(m))
		b.WriteString("\n")
	}
	return b.String()
}

func mergePrompt(partials []string) string {
	var b strings.Builder
	b.WriteString("Merge the following partial summaries of one conversation into a single factual summary. Do not add commentary.\n\n")
	for i, p := range partials {
		fmt.Fprintf(&b, "Part %d:\n%s\n\n", i+1, p)
	}
	return b.String()
}

func renderForSummary(m sessions.Message) string {
	var parts []string
	for _, b := range m.Content {
		switch b.Type {
		case sessions.BlockText:
			parts = append(parts, b.Text)
		case sessions.BlockToolUse:
			parts = append(parts, fmt.Sprintf("[tool call: %s]", b.Name))
		case sessions.BlockToolResult:
			excerpt := b.Content
			if len(excerpt) > 200 {
				excerpt = excerpt[:200] + "..."
			}
			parts = append(parts, fmt.Sprintf("[tool result: %s]", excerpt))
		}
	}
	return m.Role + ": " + strings.Join(parts, " ")
}

func summaryCall(ctx context.Context, client providers.Client, prompt string) (string, error) {
	resp, err := client.Complete(ctx, providers.Request{
		Messages:  []sessions.Message{sessions.UserText(prompt)},
		MaxTokens: summaryMaxTokens,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty summary response")
	}
	return text, nil
}
