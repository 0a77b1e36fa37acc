package channels

import (
	"strings"
	"unicode"
)

// HeartbeatOK is the sentinel an agent emits when a heartbeat run found
// nothing worth reporting.
const HeartbeatOK = "HEARTBEAT_OK"

// StripHeartbeatOK handles the sentinel on received text: an exact match
// suppresses delivery entirely; a leading or trailing token (separated by
// whitespace) is stripped and the remainder delivered; a token embedded
// mid-text leaves the message unchanged.
func StripHeartbeatOK(text string) (out string, suppress bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == HeartbeatOK {
		return "", true
	}

	if rest, ok := strings.CutPrefix(trimmed, HeartbeatOK); ok && startsWithSpace(rest) {
		return strings.TrimSpace(rest), false
	}
	if rest, ok := strings.CutSuffix(trimmed, HeartbeatOK); ok && endsWithSpace(rest) {
		return strings.TrimSpace(rest), false
	}
	return text, false
}

func startsWithSpace(s string) bool {
	for _, r := range s {
		return unicode.IsSpace(r)
	}
	return false
}

func endsWithSpace(s string) bool {
	runes := []rune(s)
	if len(runes) == 0 {
		return false
	}
	return unicode.IsSpace(runes[len(runes)-1])
}
