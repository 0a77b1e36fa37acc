package cron

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(filepath.Join(t.TempDir(), "cron.json"))
	if err := m.Initialize(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Shutdown)
	return m
}

func TestAddJobValidation(t *testing.T) {
	m := newTestManager(t)

	cases := []struct {
		name     string
		schedule Schedule
		wantErr  bool
	}{
		{"valid cron", Schedule{Cron: &CronSchedule{Expr: "0 9 * * *"}}, false},
		{"invalid cron", Schedule{Cron: &CronSchedule{Expr: "not a cron"}}, true},
		{"valid every", Schedule{Every: &EverySchedule{EveryMs: 60000}}, false},
		{"zero every", Schedule{Every: &EverySchedule{EveryMs: 0}}, true},
		{"valid at", Schedule{At: &AtSchedule{AtMs: time.Now().Add(time.Hour).UnixMilli()}}, false},
		{"empty schedule", Schedule{}, true},
		{"two kinds set", Schedule{At: &AtSchedule{AtMs: 1}, Every: &EverySchedule{EveryMs: 1}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.AddJob(JobSpec{Name: tc.name, Instruction: "x", Schedule: tc.schedule})
			if (err != nil) != tc.wantErr {
				t.Errorf("AddJob err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestInvalidCronError(t *testing.T) {
	m := newTestManager(t)
	_, err := m.AddJob(JobSpec{Schedule: Schedule{Cron: &CronSchedule{Expr: "bad"}}})
	if !errors.Is(err, ErrInvalidCron) {
		t.Errorf("err = %v, want ErrInvalidCron", err)
	}
}

func TestAtJobInPastHasNoNextRun(t *testing.T) {
	m := newTestManager(t)
	job, err := m.AddJob(JobSpec{Schedule: Schedule{At: &AtSchedule{AtMs: time.Now().Add(-time.Hour).UnixMilli()}}})
	if err != nil {
		t.Fatal(err)
	}
	if job.NextRunAtMs != nil {
		t.Errorf("past at-job NextRunAtMs = %v, want nil", *job.NextRunAtMs)
	}
}

func TestPersistenceAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cron.json")
	m := NewManager(path)
	if err := m.Initialize(); err != nil {
		t.Fatal(err)
	}

	added, err := m.AddJob(JobSpec{Name: "daily", Instruction: "report", Schedule: Schedule{Cron: &CronSchedule{Expr: "0 9 * * *"}}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddJob(JobSpec{Name: "gone", Instruction: "x", Schedule: Schedule{Every: &EverySchedule{EveryMs: 60000}}}); err != nil {
		t.Fatal(err)
	}
	jobs := m.ListJobs()
	if removed, err := m.RemoveJob(jobs[1].ID); err != nil || !removed {
		t.Fatalf("RemoveJob = %v, %v", removed, err)
	}
	m.Shutdown()

	m2 := NewManager(path)
	if err := m2.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer m2.Shutdown()

	got := m2.ListJobs()
	if len(got) != 1 || got[0].ID != added.ID || got[0].Name != "daily" {
		t.Errorf("reloaded jobs = %+v, want the one remaining job", got)
	}
	if got[0].NextRunAtMs == nil {
		t.Error("enabled cron job should have NextRunAtMs after Initialize")
	}
}

func TestRunJobFiresCallback(t *testing.T) {
	m := newTestManager(t)

	var mu sync.Mutex
	var fired []string
	done := make(chan struct{}, 1)
	m.SetOnTrigger(func(job Job) error {
		mu.Lock()
		fired = append(fired, job.Name)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})

	job, err := m.AddJob(JobSpec{Name: "manual", Instruction: "x", Schedule: Schedule{Cron: &CronSchedule{Expr: "0 0 1 1 *"}}})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.RunJob(job.ID); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback not invoked")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 || fired[0] != "manual" {
		t.Errorf("fired = %v", fired)
	}

	got, _ := m.GetJob(job.ID)
	if got.LastRunAtMs == nil {
		t.Error("LastRunAtMs not recorded")
	}
}

func TestRunJobUnknown(t *testing.T) {
	m := newTestManager(t)
	if err := m.RunJob("missing"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("err = %v, want ErrUnknownJob", err)
	}
}

func TestAtJobDisablesAfterFire(t *testing.T) {
	m := newTestManager(t)
	done := make(chan struct{}, 1)
	m.SetOnTrigger(func(Job) error { done <- struct{}{}; return nil })

	job, err := m.AddJob(JobSpec{Name: "once", Schedule: Schedule{At: &AtSchedule{AtMs: time.Now().Add(10 * time.Millisecond).UnixMilli()}}})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("at-job did not fire")
	}

	got, _ := m.GetJob(job.ID)
	if got.Enabled {
		t.Error("at-job still enabled after firing")
	}
	if got.NextRunAtMs != nil {
		t.Error("at-job still scheduled after firing")
	}
}

func TestEveryJobReschedules(t *testing.T) {
	m := newTestManager(t)
	done := make(chan struct{}, 4)
	m.SetOnTrigger(func(Job) error { done <- struct{}{}; return nil })

	job, err := m.AddJob(JobSpec{Name: "tick", Schedule: Schedule{Every: &EverySchedule{EveryMs: 20}}})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("fire %d did not happen", i+1)
		}
	}

	got, _ := m.GetJob(job.ID)
	if !got.Enabled || got.NextRunAtMs == nil {
		t.Errorf("every job should stay scheduled: %+v", got)
	}
}

func TestCallbackErrorDoesNotStopScheduler(t *testing.T) {
	m := newTestManager(t)
	done := make(chan struct{}, 4)
	m.SetOnTrigger(func(Job) error {
		done <- struct{}{}
		return errors.New("boom")
	})

	if _, err := m.AddJob(JobSpec{Name: "flaky", Schedule: Schedule{Every: &EverySchedule{EveryMs: 20}}}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("scheduler stopped after callback error")
		}
	}
}

func TestGetStatus(t *testing.T) {
	m := newTestManager(t)
	if s := m.GetStatus(); s.JobCount != 0 || s.NextTriggerMs != nil {
		t.Errorf("empty status = %+v", s)
	}

	if _, err := m.AddJob(JobSpec{Name: "j", Schedule: Schedule{Every: &EverySchedule{EveryMs: 60000}}}); err != nil {
		t.Fatal(err)
	}
	s := m.GetStatus()
	if s.JobCount != 1 || s.NextTriggerMs == nil {
		t.Errorf("status = %+v, want one job with a trigger", s)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	m := newTestManager(t)
	m.Shutdown()
	m.Shutdown()
}
