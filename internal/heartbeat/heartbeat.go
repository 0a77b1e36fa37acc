package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Trigger statuses.
const (
	StatusOK      = "ok"
	StatusSkipped = "skipped"
)

// Skip reasons.
const (
	ReasonOutOfHours     = "out-of-hours"
	ReasonNoPendingTasks = "no-pending-tasks"
	ReasonDuplicate      = "duplicate"
)

// Trigger reasons in descending priority.
const (
	ReasonExec      = "exec"
	ReasonCron      = "cron"
	ReasonInterval  = "interval"
	ReasonRequested = "requested"
)

var reasonPriority = map[string]int{
	ReasonExec:      3,
	ReasonCron:      2,
	ReasonInterval:  1,
	ReasonRequested: 0,
}

// Request describes why a trigger fired.
type Request struct {
	Reason string
	Source string
}

// Result is the outcome of one trigger.
type Result struct {
	Status   string
	Reason   string
	Response string
	Tasks    []Task
}

// Callback receives the pending tasks. The returned string is the
// delivered response text, used for duplicate suppression.
type Callback func(ctx context.Context, tasks []Task, req Request) (string, error)

// Config parameterizes the loop.
type Config struct {
	TaskFile        string
	Interval        time.Duration // default 30 min
	Coalesce        time.Duration // RequestNow merge window
	DuplicateWindow time.Duration // suppress identical responses within
	ActiveStart     string        // "HH:MM", empty = always active
	ActiveEnd       string
}

// Manager runs the heartbeat loop.
type Manager struct {
	cfg       Config
	callbacks []Callback

	mu           sync.Mutex
	pending      *Request
	coalesceTmr  *time.Timer
	lastResponse string
	lastDelivery time.Time

	fileMu sync.Mutex

	now    func() time.Time
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a stopped manager.
func NewManager(cfg Config) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}
	if cfg.Coalesce <= 0 {
		cfg.Coalesce = 250 * time.Millisecond
	}
	return &Manager{cfg: cfg, now: time.Now}
}

// Register appends a callback; callbacks run in registration order.
func (m *Manager) Register(cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Start launches the interval ticker and the task-file watcher. Stop with
// Stop or by cancelling ctx.
func (m *Manager) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return fmt.Errorf("heartbeat: create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(m.cfg.TaskFile)); err != nil {
		watcher.Close()
		cancel()
		return fmt.Errorf("heartbeat: watch task dir: %w", err)
	}

	go m.loop(ctx, watcher)
	return nil
}

// Stop halts the loop; safe to call repeatedly.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	if m.coalesceTmr != nil {
		m.coalesceTmr.Stop()
		m.coalesceTmr = nil
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (m *Manager) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(m.done)
	defer watcher.Close()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	taskFile := filepath.Clean(m.cfg.TaskFile)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RequestNow(ReasonInterval, "ticker")
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) == taskFile && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				m.RequestNow(ReasonExec, "task-file-change")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("heartbeat: watcher error", "error", err)
		}
	}
}

// RequestNow asks for a trigger. Calls within the coalescing window merge
// into one dispatch carrying the highest-priority reason.
func (m *Manager) RequestNow(reason, source string) {
	if _, ok := reasonPriority[reason]; !ok {
		reason = ReasonRequested
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != nil {
		if reasonPriority[reason] > reasonPriority[m.pending.Reason] {
			m.pending = &Request{Reason: reason, Source: source}
		}
		return
	}

	m.pending = &Request{Reason: reason, Source: source}
	m.coalesceTmr = time.AfterFunc(m.cfg.Coalesce, func() {
		m.mu.Lock()
		req := m.pending
		m.pending = nil
		m.coalesceTmr = nil
		m.mu.Unlock()
		if req == nil {
			return
		}
		result := m.Trigger(context.Background(), *req)
		slog.Debug("heartbeat: trigger finished",
			"reason", req.Reason, "source", req.Source,
			"status", result.Status, "skip", result.Reason)
	})
}

// Trigger evaluates the task file now and dispatches callbacks.
func (m *Manager) Trigger(ctx context.Context, req Request) Result {
	if !m.withinActiveHours(m.now()) {
		return Result{Status: StatusSkipped, Reason: ReasonOutOfHours}
	}

	content := ""
	if data, err := os.ReadFile(m.cfg.TaskFile); err == nil {
		content = string(data)
	}
	pending := Pending(ParseTasks(content))
	if len(pending) == 0 {
		return Result{Status: StatusSkipped, Reason: ReasonNoPendingTasks}
	}

	m.mu.Lock()
	callbacks := make([]Callback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	var response string
	got := false
	for i, cb := range callbacks {
		out, err := cb(ctx, pending, req)
		if err != nil {
			slog.Warn("heartbeat: callback failed", "index", i, "error", err)
			continue
		}
		response = out
		got = true
	}
	if !got {
		return Result{Status: StatusSkipped, Reason: "all-callbacks-failed", Tasks: pending}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.DuplicateWindow > 0 &&
		response != "" && response == m.lastResponse &&
		m.now().Sub(m.lastDelivery) < m.cfg.DuplicateWindow {
		return Result{Status: StatusSkipped, Reason: ReasonDuplicate, Tasks: pending}
	}
	m.lastResponse = response
	m.lastDelivery = m.now()

	return Result{Status: StatusOK, Response: response, Tasks: pending}
}

// withinActiveHours reports whether now falls inside the configured
// window. Overnight windows (start > end) wrap past midnight.
func (m *Manager) withinActiveHours(now time.Time) bool {
	if m.cfg.ActiveStart == "" || m.cfg.ActiveEnd == "" {
		return true
	}
	start, okS := parseClock(m.cfg.ActiveStart)
	end, okE := parseClock(m.cfg.ActiveEnd)
	if !okS || !okE {
		slog.Warn("heartbeat: invalid active hours", "start", m.cfg.ActiveStart, "end", m.cfg.ActiveEnd)
		return true
	}

	minutes := now.Hour()*60 + now.Minute()
	if start <= end {
		return minutes >= start && minutes < end
	}
	return minutes >= start || minutes < end
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	var h, min int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &min); err != nil {
		return 0, false
	}
	if h < 0 || h > 23 || min < 0 || min > 59 {
		return 0, false
	}
	return h*60 + min, true
}
