// Package compaction implements the context pipeline: token estimation,
// pruning (soft-trim + budgeted dropping), and staged history summarization.
package compaction

import (
	"encoding/json"

	"github.com/decahq/deca/internal/sessions"
)

// CharsPerToken is the estimation ratio used across the pipeline.
const CharsPerToken = 4

// toolUseOverhead accounts for block framing around serialized tool input.
const toolUseOverhead = 16

// MessageChars estimates the character weight of one message: text blocks,
// JSON-serialized tool_use input plus framing overhead, and tool_result
// content.
func MessageChars(m sessions.Message) int {
	total := 0
	for _, b := range m.Content {
		switch b.Type {
		case sessions.BlockText:
			total += len(b.Text)
		case sessions.BlockToolUse:
			raw, err := json.Marshal(b.Input)
			if err == nil {
				total += len(raw)
			}
			total += toolUseOverhead
		case sessions.BlockToolResult:
			total += len(b.Content)
		}
	}
	return total
}

// TotalChars sums MessageChars over a history.
func TotalChars(msgs []sessions.Message) int {
	total := 0
	for _, m := range msgs {
		total += MessageChars(m)
	}
	return total
}

// EstimateTokens converts a history's character weight to tokens.
func EstimateTokens(msgs []sessions.Message) int {
	return TotalChars(msgs) / CharsPerToken
}
