// Package cron schedules stored jobs with a single timer armed for the
// earliest next run across all enabled jobs.
package cron

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
)

// ErrInvalidCron reports an unparsable cron expression.
var ErrInvalidCron = errors.New("invalid cron expression")

// ErrUnknownJob reports an id with no stored job.
var ErrUnknownJob = errors.New("unknown cron job")

// Schedule is exactly one of At, Every or Cron.
type Schedule struct {
	At    *AtSchedule    `json:"at,omitempty"`
	Every *EverySchedule `json:"every,omitempty"`
	Cron  *CronSchedule  `json:"cron,omitempty"`
}

type AtSchedule struct {
	AtMs int64 `json:"atMs"`
}

type EverySchedule struct {
	EveryMs int64 `json:"everyMs"`
}

type CronSchedule struct {
	Expr string `json:"expr"`
}

// Job is one stored cron job.
type Job struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Instruction string   `json:"instruction"`
	Schedule    Schedule `json:"schedule"`
	Enabled     bool     `json:"enabled"`
	CreatedAtMs int64    `json:"createdAtMs"`
	LastRunAtMs *int64   `json:"lastRunAtMs,omitempty"`
	NextRunAtMs *int64   `json:"nextRunAtMs,omitempty"`
}

// JobSpec is the input to AddJob.
type JobSpec struct {
	Name        string
	Instruction string
	Schedule    Schedule
}

// Status summarizes the scheduler.
type Status struct {
	JobCount      int    `json:"jobCount"`
	NextTriggerMs *int64 `json:"nextTriggerMs,omitempty"`
}

// TriggerFunc receives a fired job. Errors are logged and swallowed.
type TriggerFunc func(job Job) error

// Manager owns the job map, the timer, and the storage file.
type Manager struct {
	mu          sync.Mutex
	storagePath string
	jobs        map[string]Job
	timer       *time.Timer
	onTrigger   TriggerFunc
	now         func() time.Time
	shutdown    bool
}

// NewManager creates an unstarted manager persisting to storagePath.
func NewManager(storagePath string) *Manager {
	return &Manager{
		storagePath: storagePath,
		jobs:        make(map[string]Job),
		now:         time.Now,
	}
}

// SetOnTrigger installs the fire callback. Triggers that fire while no
// callback is set are logged and skipped.
func (m *Manager) SetOnTrigger(cb TriggerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTrigger = cb
}

// Initialize loads persisted jobs, recomputes next runs for enabled jobs,
// and arms the timer.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = false

	data, err := os.ReadFile(m.storagePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cron: read storage: %w", err)
	}
	if err == nil {
		var stored struct {
			Jobs []Job `json:"jobs"`
		}
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("cron: parse storage: %w", err)
		}
		m.jobs = make(map[string]Job, len(stored.Jobs))
		for _, job := range stored.Jobs {
			if job.Enabled {
				job.NextRunAtMs = m.computeNext(job.Schedule)
			}
			m.jobs[job.ID] = job
		}
	}

	if err := m.persistLocked(); err != nil {
		return err
	}
	m.rescheduleLocked()
	return nil
}

// AddJob validates the spec, assigns an id, persists and reschedules.
func (m *Manager) AddJob(spec JobSpec) (Job, error) {
	if err := validateSchedule(spec.Schedule); err != nil {
		return Job{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job := Job{
		ID:          uuid.NewString(),
		Name:        spec.Name,
		Instruction: spec.Instruction,
		Schedule:    spec.Schedule,
		Enabled:     true,
		CreatedAtMs: m.now().UnixMilli(),
	}
	job.NextRunAtMs = m.computeNext(job.Schedule)
	m.jobs[job.ID] = job

	if err := m.persistLocked(); err != nil {
		delete(m.jobs, job.ID)
		return Job{}, err
	}
	m.rescheduleLocked()
	return job, nil
}

// RemoveJob deletes a job, reporting whether it existed.
func (m *Manager) RemoveJob(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[id]; !ok {
		return false, nil
	}
	delete(m.jobs, id)
	if err := m.persistLocked(); err != nil {
		return true, err
	}
	m.rescheduleLocked()
	return true, nil
}

// ListJobs returns all jobs sorted by creation time.
func (m *Manager) ListJobs() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtMs != out[j].CreatedAtMs {
			return out[i].CreatedAtMs < out[j].CreatedAtMs
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// GetJob returns a job by id.
func (m *Manager) GetJob(id string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	return job, ok
}

// GetStatus summarizes job count and the earliest pending trigger.
func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{JobCount: len(m.jobs)}
	if next, ok := m.earliestLocked(); ok {
		ms := next
		s.NextTriggerMs = &ms
	}
	return s
}

// RunJob fires a job immediately, regardless of schedule.
func (m *Manager) RunJob(id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	m.fireLocked(job)
	m.mu.Unlock()
	return nil
}

// Shutdown stops the timer. Safe to call repeatedly.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// fireLocked updates run bookkeeping, persists, and dispatches the
// callback without waiting for it.
func (m *Manager) fireLocked(job Job) {
	nowMs := m.now().UnixMilli()
	job.LastRunAtMs = &nowMs

	if job.Schedule.At != nil {
		job.Enabled = false
		job.NextRunAtMs = nil
	} else {
		job.NextRunAtMs = m.computeNext(job.Schedule)
	}
	m.jobs[job.ID] = job

	if err := m.persistLocked(); err != nil {
		slog.Error("cron: persist after fire failed", "job", job.ID, "error", err)
	}
	m.rescheduleLocked()

	cb := m.onTrigger
	if cb == nil {
		slog.Warn("cron: trigger fired with no callback set", "job", job.ID, "name", job.Name)
		return
	}
	go func(job Job) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("cron: trigger callback panicked", "job", job.ID, "panic", r)
			}
		}()
		if err := cb(job); err != nil {
			slog.Warn("cron: trigger callback failed", "job", job.ID, "error", err)
		}
	}(job)
}

// rescheduleLocked re-arms the single timer for the earliest next run.
func (m *Manager) rescheduleLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.shutdown {
		return
	}

	next, ok := m.earliestLocked()
	if !ok {
		return
	}
	delay := time.Duration(next-m.now().UnixMilli()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	m.timer = time.AfterFunc(delay, m.onTimer)
}

func (m *Manager) onTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return
	}

	nowMs := m.now().UnixMilli()
	for _, job := range m.jobs {
		if job.Enabled && job.NextRunAtMs != nil && *job.NextRunAtMs <= nowMs {
			m.fireLocked(job)
		}
	}
	m.rescheduleLocked()
}

func (m *Manager) earliestLocked() (int64, bool) {
	var best int64
	found := false
	for _, job := range m.jobs {
		if !job.Enabled || job.NextRunAtMs == nil {
			continue
		}
		if !found || *job.NextRunAtMs < best {
			best = *job.NextRunAtMs
			found = true
		}
	}
	return best, found
}

// computeNext returns the next run for a schedule, or nil when the
// schedule has no future occurrence.
func (m *Manager) computeNext(s Schedule) *int64 {
	now := m.now()
	switch {
	case s.At != nil:
		if s.At.AtMs > now.UnixMilli() {
			ms := s.At.AtMs
			return &ms
		}
		return nil
	case s.Every != nil:
		ms := now.UnixMilli() + s.Every.EveryMs
		return &ms
	case s.Cron != nil:
		next, err := gronx.NextTickAfter(s.Cron.Expr, now, false)
		if err != nil {
			return nil
		}
		ms := next.UnixMilli()
		return &ms
	}
	return nil
}

func validateSchedule(s Schedule) error {
	set := 0
	if s.At != nil {
		set++
	}
	if s.Every != nil {
		set++
		if s.Every.EveryMs <= 0 {
			return fmt.Errorf("every schedule requires a positive interval")
		}
	}
	if s.Cron != nil {
		set++
		if !gronx.New().IsValid(s.Cron.Expr) {
			return fmt.Errorf("%w: %s", ErrInvalidCron, s.Cron.Expr)
		}
	}
	if set != 1 {
		return fmt.Errorf("schedule must set exactly one of at, every, cron")
	}
	return nil
}

// persistLocked writes the job set atomically.
func (m *Manager) persistLocked() error {
	jobs := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAtMs != jobs[j].CreatedAtMs {
			return jobs[i].CreatedAtMs < jobs[j].CreatedAtMs
		}
		return jobs[i].ID < jobs[j].ID
	})

	data, err := json.MarshalIndent(struct {
		Jobs []Job `json:"jobs"`
	}{Jobs: jobs}, "", "  ")
	if err != nil {
		return fmt.Errorf("cron: marshal jobs: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.storagePath), 0755); err != nil {
		return fmt.Errorf("cron: create storage dir: %w", err)
	}
	tmp := m.storagePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("cron: write storage: %w", err)
	}
	if err := os.Rename(tmp, m.storagePath); err != nil {
		return fmt.Errorf("cron: rename storage: %w", err)
	}
	return nil
}
