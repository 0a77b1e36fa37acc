package compaction

import (
	"errors"
	"fmt"

	"github.com/decahq/deca/internal/sessions"
)

// SoftTrimSettings controls in-place shortening of oversized tool results.
type SoftTrimSettings struct {
	MaxChars  int
	HeadChars int
	TailChars int
}

// PruneSettings controls the history budget.
type PruneSettings struct {
	MaxHistoryShare    float64
	KeepLastAssistants int
	SoftTrim           SoftTrimSettings
}

// DefaultPruneSettings returns the standard pruning policy.
func DefaultPruneSettings() PruneSettings {
	return PruneSettings{
		MaxHistoryShare:    0.5,
		KeepLastAssistants: 3,
		SoftTrim:           SoftTrimSettings{MaxChars: 4000, HeadChars: 1500, TailChars: 1500},
	}
}

// ErrInvalidSettings reports unusable pruning parameters.
var ErrInvalidSettings = errors.New("invalid prune settings")

// PruneResult describes the outcome of a prune pass.
type PruneResult struct {
	Kept         []sessions.Message
	Dropped      []sessions.Message
	TrimmedCount int // tool results soft-trimmed
	KeptChars    int
	BudgetChars  int
}

// Prune shortens a history to fit the context budget. Tool results larger
// than SoftTrim.MaxChars are trimmed in place first; then, if the total
// still exceeds budgetChars = contextTokens * 4 * MaxHistoryShare, oldest
// messages are dropped while protecting the suffix that starts at the
// KeepLastAssistants-th last assistant message (when it fits).
func Prune(msgs []sessions.Message, contextTokens int, s PruneSettings) (PruneResult, error) {
	if s.MaxHistoryShare <= 0 || s.MaxHistoryShare > 1 {
		return PruneResult{}, fmt.Errorf("%w: max history share %v", ErrInvalidSettings, s.MaxHistoryShare)
	}
	if s.KeepLastAssistants < 0 {
		return PruneResult{}, fmt.Errorf("%w: keep last assistants %d", ErrInvalidSettings, s.KeepLastAssistants)
	}
	if contextTokens <= 0 {
		return PruneResult{}, fmt.Errorf("%w: context tokens %d", ErrInvalidSettings, contextTokens)
	}

	trimmed, trimCount := softTrimAll(msgs, s.SoftTrim)

	budget := int(float64(contextTokens) * CharsPerToken * s.MaxHistoryShare)
	total := TotalChars(trimmed)

	result := PruneResult{BudgetChars: budget, TrimmedCount: trimCount}

	if total <= budget || len(trimmed) == 0 {
		result.Kept = trimmed
		result.KeptChars = total
		return result, nil
	}

	// Locate the protected suffix: from the KeepLastAssistants-th last
	// assistant message to the end.
	protectStart := len(trimmed)
	seen := 0
	for i := len(trimmed) - 1; i >= 0 && s.KeepLastAssistants > 0; i-- {
		if trimmed[i].Role == sessions.RoleAssistant {
			seen++
			if seen == s.KeepLastAssistants {
				protectStart = i
				break
			}
		}
	}
	if seen < s.KeepLastAssistants {
		protectStart = 0
	}

	protected := trimmed[protectStart:]
	protectedChars := TotalChars(protected)

	if protectedChars > budget {
		// Even the protected suffix is over budget: drop oldest until it
		// fits, always keeping the most recent message.
		kept := trimmed
		for len(kept) > 1 && TotalChars(kept) > budget {
			result.Dropped = append(result.Dropped, kept[0])
			kept = kept[1:]
		}
		result.Kept = kept
		result.KeptChars = TotalChars(kept)
		return result, nil
	}

	// Prepend older messages newest-first until the budget is exhausted.
	kept := make([]sessions.Message, len(protected))
	copy(kept, protected)
	keptChars := protectedChars
	cut := protectStart
	for i := protectStart - 1; i >= 0; i-- {
		c := MessageChars(trimmed[i])
		if keptChars+c > budget {
			break
		}
		kept = append([]sessions.Message{trimmed[i]}, kept...)
		keptChars += c
		cut = i
	}
	result.Dropped = append(result.Dropped, trimmed[:cut]...)
	result.Kept = kept
	result.KeptChars = keptChars
	return result, nil
}

// softTrimAll rewrites oversized tool_result blocks to head + tail excerpts.
func softTrimAll(msgs []sessions.Message, s SoftTrimSettings) ([]sessions.Message, int) {
	if s.MaxChars <= 0 {
		return msgs, 0
	}
	out := make([]sessions.Message, len(msgs))
	copy(out, msgs)
	count := 0

	for i := range out {
		changed := false
		blocks := make([]sessions.ContentBlock, len(out[i].Content))
		copy(blocks, out[i].Content)
		for j := range blocks {
			b := blocks[j]
			if b.Type != sessions.BlockToolResult || len(b.Content) <= s.MaxChars {
				continue
			}
			head, tail := s.HeadChars, s.TailChars
			if head+tail > len(b.Content) {
				continue
			}
			blocks[j].Content = b.Content[:head] + "\n...\n" + b.Content[len(b.Content)-tail:] +
				fmt.Sprintf(" [Tool result trimmed: kept %d head and %d tail of %d chars.]", head, tail, len(b.Content))
			changed = true
			count++
		}
		if changed {
			out[i].Content = blocks
		}
	}
	return out, count
}
