// Package scheduler serializes work per session key. Every key owns a
// FIFO lane: a bounded mailbox drained by a single worker, so at most one
// item per key runs at a time. Consecutive coalescable items arriving
// within the debounce window merge into one dispatch.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// GlobalLane serializes cross-session critical sections.
const GlobalLane = "lane:global"

// Defaults.
const (
	DefaultMailboxCap     = 64
	DefaultDebounce       = 3 * time.Second
	DefaultMaxMergedChars = 8000
	DefaultGrace          = 10 * time.Second
)

// ErrLaneRejected reports a full lane mailbox; the caller may re-queue
// or drop.
var ErrLaneRejected = errors.New("lane mailbox full")

// ErrShutdown reports a submit after Shutdown began.
var ErrShutdown = errors.New("scheduler shut down")

// Item is one unit of lane work. Coalescable items carry user text that
// may be merged with newline separators before Do runs; Do receives the
// (possibly merged) text.
type Item struct {
	Text        string
	Coalescable bool
	Do          func(ctx context.Context, text string)
}

// Config tunes the scheduler.
type Config struct {
	MailboxCap     int
	Debounce       time.Duration
	MaxMergedChars int
	Grace          time.Duration
}

func (c Config) withDefaults() Config {
	if c.MailboxCap <= 0 {
		c.MailboxCap = DefaultMailboxCap
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.MaxMergedChars <= 0 {
		c.MaxMergedChars = DefaultMaxMergedChars
	}
	if c.Grace <= 0 {
		c.Grace = DefaultGrace
	}
	return c
}

// Scheduler owns the lane map.
type Scheduler struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup
}

type lane struct {
	mailbox chan Item
}

// New creates a running scheduler.
func New(cfg Config) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:    cfg.withDefaults(),
		ctx:    ctx,
		cancel: cancel,
		lanes:  make(map[string]*lane),
	}
}

// Submit enqueues an item on the key's lane, creating the lane on first
// use. Fails with ErrLaneRejected when the mailbox is full. The send
// happens under the read lock so Shutdown cannot close the mailbox
// between the closed check and the send.
func (s *Scheduler) Submit(key string, item Item) error {
	for {
		s.mu.RLock()
		if s.closed {
			s.mu.RUnlock()
			return ErrShutdown
		}
		if l, ok := s.lanes[key]; ok {
			var err error
			select {
			case l.mailbox <- item:
			default:
				err = ErrLaneRejected
			}
			s.mu.RUnlock()
			return err
		}
		s.mu.RUnlock()

		if err := s.createLane(key); err != nil {
			return err
		}
	}
}

// SubmitGlobal enqueues on the shared cross-session lane.
func (s *Scheduler) SubmitGlobal(item Item) error {
	return s.Submit(GlobalLane, item)
}

// Pending returns the number of queued (not in-flight) items for a key.
func (s *Scheduler) Pending(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.lanes[key]; ok {
		return len(l.mailbox)
	}
	return 0
}

// Shutdown stops accepting work, waits up to the grace period for lanes
// to drain, then cancels in-flight work.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, l := range s.lanes {
		close(l.mailbox)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.Grace):
		s.cancel()
		<-done
	}
	s.cancel()
}

func (s *Scheduler) createLane(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShutdown
	}
	if _, ok := s.lanes[key]; ok {
		return nil
	}
	l := &lane{mailbox: make(chan Item, s.cfg.MailboxCap)}
	s.lanes[key] = l

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLane(l)
	}()
	return nil
}

// runLane drains one mailbox. Coalescable items open a debounce window
// during which further coalescable items merge; a non-coalescable arrival
// closes the window and runs right after the merged dispatch, preserving
// FIFO order.
func (s *Scheduler) runLane(l *lane) {
	for item := range l.mailbox {
		if !item.Coalescable {
			s.dispatch(item, item.Text)
			continue
		}

		texts := []string{item.Text}
		total := len(item.Text)
		var held *Item

		timer := time.NewTimer(s.cfg.Debounce)
	window:
		for total < s.cfg.MaxMergedChars {
			select {
			case <-timer.C:
				break window
			case next, ok := <-l.mailbox:
				if !ok {
					break window
				}
				if !next.Coalescable {
					held = &next
					break window
				}
				texts = append(texts, next.Text)
				total += len(next.Text) + 1
			case <-s.ctx.Done():
				break window
			}
		}
		timer.Stop()

		s.dispatch(item, strings.Join(texts, "\n"))
		if held != nil {
			s.dispatch(*held, held.Text)
		}
	}
}

func (s *Scheduler) dispatch(item Item, text string) {
	if item.Do == nil {
		return
	}
	item.Do(s.ctx, text)
}
