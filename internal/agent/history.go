package agent

import "github.com/decahq/deca/internal/sessions"

const interruptedResult = "(tool result unavailable: run interrupted)"

// repairHistory makes a loaded history safe to send: every tool_use block
// in an assistant message must be answered by a tool_result in the next
// user message. A crash between dispatch and persist can leave the pair
// broken; missing results are synthesized in place.
func repairHistory(msgs []sessions.Message) []sessions.Message {
	out := make([]sessions.Message, 0, len(msgs))
	for i := 0; i < len(msgs); i++ {
		m := msgs[i]
		out = append(out, m)
		if m.Role != sessions.RoleAssistant {
			continue
		}
		uses := m.ToolUses()
		if len(uses) == 0 {
			continue
		}

		answered := make(map[string]bool)
		if i+1 < len(msgs) && msgs[i+1].Role == sessions.RoleUser {
			for _, r := range msgs[i+1].ToolResults() {
				answered[r.ToolUseID] = true
			}
		}

		var missing []sessions.ContentBlock
		for _, u := range uses {
			if !answered[u.ID] {
				missing = append(missing, sessions.ToolResultBlock(u.ID, interruptedResult))
			}
		}
		if len(missing) == 0 {
			continue
		}

		if i+1 < len(msgs) && msgs[i+1].Role == sessions.RoleUser && len(answered) > 0 {
			// Partial result message exists: extend it.
			next := msgs[i+1]
			next.Content = append(append([]sessions.ContentBlock(nil), next.Content...), missing...)
			out = append(out, next)
			i++
			continue
		}
		out = append(out, sessions.Message{
			Role:      sessions.RoleUser,
			Content:   missing,
			Timestamp: m.Timestamp,
		})
	}
	return out
}
