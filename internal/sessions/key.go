// Package sessions provides session key building, parsing, and JSONL
// persistence.
//
// Session keys follow the canonical unified format:
//
//	agent:{agentId}:{scope}
//
// Where {scope} is one of:
//
//	main                          shared operator session
//	user:{uid}                    per-user DM session
//	channel:{guildId}:{channelId} per-channel session
//	thread:{guildId}:{threadId}   per-thread session
//	subagent:{id}                 spawned subagent session
//
// Examples:
//
//	agent:deca:main
//	agent:deca:user:386246614
//	agent:deca:channel:100123:200456
//	agent:deca:thread:100123:300789
//	agent:deca:subagent:b3f2a1
package sessions

import (
	"fmt"
	"strings"
)

// Scope kinds.
const (
	ScopeMain     = "main"
	ScopeUser     = "user"
	ScopeChannel  = "channel"
	ScopeThread   = "thread"
	ScopeSubagent = "subagent"
)

const maxIDLen = 64

// NormalizeAgentID canonicalizes an agent identifier: lowercase, restricted
// to [a-z0-9_-], other runes replaced with '-', leading/trailing '-'
// stripped, clamped to 64 chars. An empty result collapses to "main".
func NormalizeAgentID(id string) string {
	out := normalizeSegment(id)
	if out == "" {
		return "main"
	}
	return out
}

// Scope identifies the conversation a session key addresses.
type Scope struct {
	Kind      string // ScopeMain, ScopeUser, ScopeChannel, ScopeThread, ScopeSubagent
	UserID    string // ScopeUser
	GuildID   string // ScopeChannel, ScopeThread
	ChannelID string // ScopeChannel
	ThreadID  string // ScopeThread
	ID        string // ScopeSubagent
}

// MainScope returns the shared main scope.
func MainScope() Scope { return Scope{Kind: ScopeMain} }

// UserScope returns a per-user DM scope.
func UserScope(uid string) Scope { return Scope{Kind: ScopeUser, UserID: uid} }

// ChannelScope returns a per-channel scope.
func ChannelScope(guildID, channelID string) Scope {
	return Scope{Kind: ScopeChannel, GuildID: guildID, ChannelID: channelID}
}

// ThreadScope returns a per-thread scope.
func ThreadScope(guildID, threadID string) Scope {
	return Scope{Kind: ScopeThread, GuildID: guildID, ThreadID: threadID}
}

// SubagentScope returns a subagent scope.
func SubagentScope(id string) Scope { return Scope{Kind: ScopeSubagent, ID: id} }

// String renders the scope portion of a session key.
func (s Scope) String() string {
	switch s.Kind {
	case ScopeUser:
		return fmt.Sprintf("user:%s", normalizeSegment(s.UserID))
	case ScopeChannel:
		return fmt.Sprintf("channel:%s:%s", normalizeSegment(s.GuildID), normalizeSegment(s.ChannelID))
	case ScopeThread:
		return fmt.Sprintf("thread:%s:%s", normalizeSegment(s.GuildID), normalizeSegment(s.ThreadID))
	case ScopeSubagent:
		return fmt.Sprintf("subagent:%s", normalizeSegment(s.ID))
	default:
		return ScopeMain
	}
}

// IsSubagent reports whether the scope addresses a spawned subagent.
func (s Scope) IsSubagent() bool { return s.Kind == ScopeSubagent }

// BuildKey builds the canonical unified session key for an agent + scope.
func BuildKey(agentID string, scope Scope) string {
	return fmt.Sprintf("agent:%s:%s", NormalizeAgentID(agentID), scope.String())
}

// ParseKey extracts the agent ID and scope from a canonical session key.
// Returns ok=false if the key is not in the unified format.
func ParseKey(key string) (agentID string, scope Scope, ok bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != "agent" {
		return "", Scope{}, false
	}
	agentID = parts[1]
	rest := parts[2]

	seg := strings.Split(rest, ":")
	switch seg[0] {
	case ScopeMain:
		if len(seg) != 1 {
			return "", Scope{}, false
		}
		return agentID, MainScope(), true
	case ScopeUser:
		if len(seg) != 2 {
			return "", Scope{}, false
		}
		return agentID, UserScope(seg[1]), true
	case ScopeChannel:
		if len(seg) != 3 {
			return "", Scope{}, false
		}
		return agentID, ChannelScope(seg[1], seg[2]), true
	case ScopeThread:
		if len(seg) != 3 {
			return "", Scope{}, false
		}
		return agentID, ThreadScope(seg[1], seg[2]), true
	case ScopeSubagent:
		if len(seg) != 2 {
			return "", Scope{}, false
		}
		return agentID, SubagentScope(seg[1]), true
	}
	return "", Scope{}, false
}

// IsSubagentKey reports whether a session key addresses a subagent session.
func IsSubagentKey(key string) bool {
	_, scope, ok := ParseKey(key)
	return ok && scope.IsSubagent()
}

// normalizeSegment applies the key character policy to a single scope
// segment, without the empty→main collapse.
func normalizeSegment(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > maxIDLen {
		out = strings.Trim(out[:maxIDLen], "-")
	}
	return out
}
