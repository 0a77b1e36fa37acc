package channels

import "strings"

// DefaultChunkSize is the platform message length limit applied when a
// channel does not override it.
const DefaultChunkSize = 2000

// SplitMessage splits text into chunks of at most max runes, preferring
// newline boundaries, then spaces, with a hard break as last resort.
// Multi-byte code points are never split; continuation chunks have
// leading whitespace trimmed.
func SplitMessage(text string, max int) []string {
	if max <= 0 {
		max = DefaultChunkSize
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	var chunks []string
	for len(runes) > max {
		window := runes[:max+1]

		cut := lastBoundary(window, '\n')
		if cut <= 0 {
			cut = lastBoundary(window, ' ')
		}
		skip := 1
		if cut <= 0 {
			cut = max
			skip = 0
		}

		chunk := strings.TrimRight(string(runes[:cut]), " \t\n")
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		rest := runes[cut+skip:]
		for len(rest) > 0 && (rest[0] == ' ' || rest[0] == '\t' || rest[0] == '\n') {
			rest = rest[1:]
		}
		runes = rest
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

// lastBoundary finds the last sep strictly inside the window, excluding
// position 0 (a chunk must not be empty).
func lastBoundary(window []rune, sep rune) int {
	for i := len(window) - 1; i > 0; i-- {
		if window[i] == sep {
			return i
		}
	}
	return -1
}
