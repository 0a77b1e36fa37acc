package channels

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedChats caps the limiter map so rotating chat ids cannot
// exhaust memory.
const maxTrackedChats = 4096

// ChatLimiter rate-limits outbound sends per chat id. Safe for
// concurrent use.
type ChatLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewChatLimiter allows perSecond sustained sends per chat with the
// given burst.
func NewChatLimiter(perSecond float64, burst int) *ChatLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 5
	}
	return &ChatLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

// Allow reports whether a send to the chat may proceed now.
func (l *ChatLimiter) Allow(chatID string) bool {
	return l.limiterFor(chatID).Allow()
}

// Reserve returns the limiter for a chat so callers can wait instead of
// dropping.
func (l *ChatLimiter) Reserve(chatID string) *rate.Limiter {
	return l.limiterFor(chatID)
}

func (l *ChatLimiter) limiterFor(chatID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.limiters[chatID]; ok {
		return lim
	}
	if len(l.limiters) >= maxTrackedChats {
		for k := range l.limiters {
			delete(l.limiters, k)
			break
		}
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters[chatID] = lim
	return lim
}
