package channels

import (
	"strings"
	"sync"
	"time"

	"github.com/decahq/deca/internal/bus"
)

// defaultFlushInterval batches progress updates between flushes.
const defaultFlushInterval = 2 * time.Second

// ReplyQueue batches one message's reply stream: an ack emits right away
// and starts the flush timer, progress updates accumulate until the next
// flush, and the final reply flushes everything and stops the timer.
// Each emit carries the delivery kind (bus.KindAck, KindProgress,
// KindFinal) so the sink can label intermediate traffic.
type ReplyQueue struct {
	emit     func(kind, text string)
	interval time.Duration

	mu      sync.Mutex
	pending []string
	timer   *time.Ticker
	stop    chan struct{}
	stopped bool
}

// NewReplyQueue creates a queue delivering through emit. interval <= 0
// uses the default flush interval.
func NewReplyQueue(emit func(kind, text string), interval time.Duration) *ReplyQueue {
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return &ReplyQueue{emit: emit, interval: interval}
}

// Ack emits text immediately and starts the flush timer.
func (q *ReplyQueue) Ack(text string) {
	q.emit(bus.KindAck, text)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.timer != nil || q.stopped {
		return
	}
	q.timer = time.NewTicker(q.interval)
	q.stop = make(chan struct{})
	go q.flushLoop(q.timer, q.stop)
}

// Progress appends text to the pending buffer.
func (q *ReplyQueue) Progress(text string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.pending = append(q.pending, text)
}

// Final flushes any pending buffer, emits the final text, and stops the
// timer. The queue cannot be reused afterwards.
func (q *ReplyQueue) Final(text string) {
	q.mu.Lock()
	pending := q.drainLocked()
	q.stopped = true
	timer := q.timer
	stop := q.stop
	q.timer = nil
	q.stop = nil
	q.mu.Unlock()

	if timer != nil {
		timer.Stop()
		close(stop)
	}
	if pending != "" {
		q.emit(bus.KindProgress, pending)
	}
	q.emit(bus.KindFinal, text)
}

func (q *ReplyQueue) flushLoop(timer *time.Ticker, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-timer.C:
			q.mu.Lock()
			pending := q.drainLocked()
			q.mu.Unlock()
			if pending != "" {
				q.emit(bus.KindProgress, pending)
			}
		}
	}
}

func (q *ReplyQueue) drainLocked() string {
	if len(q.pending) == 0 {
		return ""
	}
	out := strings.Join(q.pending, "\n")
	q.pending = nil
	return out
}
