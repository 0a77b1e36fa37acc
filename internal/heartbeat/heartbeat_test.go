package heartbeat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseTasks(t *testing.T) {
	content := `# Heading

- [ ] pending one
* [x] done one
+ no checkbox
- [X] done two
not a bullet

- [ ]
`
	tasks := ParseTasks(content)
	if len(tasks) != 4 {
		t.Fatalf("parsed %d tasks, want 4: %+v", len(tasks), tasks)
	}

	cases := []struct {
		text string
		done bool
	}{
		{"pending one", false},
		{"done one", true},
		{"no checkbox", false},
		{"done two", true},
	}
	for i, c := range cases {
		if tasks[i].Text != c.text || tasks[i].Done != c.done {
			t.Errorf("task %d = %+v, want %q done=%v", i, tasks[i], c.text, c.done)
		}
	}

	pending := Pending(tasks)
	if len(pending) != 2 {
		t.Errorf("pending = %+v, want 2", pending)
	}
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.TaskFile == "" {
		cfg.TaskFile = filepath.Join(t.TempDir(), "HEARTBEAT.md")
	}
	return NewManager(cfg)
}

func writeTasks(t *testing.T, m *Manager, content string) {
	t.Helper()
	if err := os.WriteFile(m.cfg.TaskFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestTriggerNoPendingTasks(t *testing.T) {
	m := newTestManager(t, Config{})
	writeTasks(t, m, "- [x] all done\n")

	res := m.Trigger(context.Background(), Request{Reason: ReasonInterval})
	if res.Status != StatusSkipped || res.Reason != ReasonNoPendingTasks {
		t.Errorf("result = %+v", res)
	}
}

func TestTriggerDispatchesPending(t *testing.T) {
	m := newTestManager(t, Config{})
	writeTasks(t, m, "- [ ] write report\n- [x] old\n")

	var got []Task
	m.Register(func(_ context.Context, tasks []Task, req Request) (string, error) {
		got = tasks
		return "done: report", nil
	})

	res := m.Trigger(context.Background(), Request{Reason: ReasonExec})
	if res.Status != StatusOK || res.Response != "done: report" {
		t.Fatalf("result = %+v", res)
	}
	if len(got) != 1 || got[0].Text != "write report" {
		t.Errorf("callback tasks = %+v", got)
	}
	if len(res.Tasks) != 1 {
		t.Errorf("result tasks = %+v", res.Tasks)
	}
}

func TestTriggerCallbackErrorIsolation(t *testing.T) {
	m := newTestManager(t, Config{})
	writeTasks(t, m, "- [ ] task\n")

	m.Register(func(context.Context, []Task, Request) (string, error) {
		return "", errors.New("boom")
	})
	m.Register(func(context.Context, []Task, Request) (string, error) {
		return "second ran", nil
	})

	res := m.Trigger(context.Background(), Request{})
	if res.Status != StatusOK || res.Response != "second ran" {
		t.Errorf("result = %+v, want last non-error callback result", res)
	}
}

func TestActiveHours(t *testing.T) {
	cases := []struct {
		name       string
		start, end string
		clock      string
		want       bool
	}{
		{"inside day window", "09:00", "17:00", "12:00", true},
		{"before day window", "09:00", "17:00", "08:59", false},
		{"after day window", "09:00", "17:00", "17:00", false},
		{"overnight late", "22:00", "06:00", "23:30", true},
		{"overnight early", "22:00", "06:00", "03:00", true},
		{"overnight midday", "22:00", "06:00", "12:00", false},
		{"unset always active", "", "", "04:00", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestManager(t, Config{ActiveStart: tc.start, ActiveEnd: tc.end})
			now, err := time.Parse("15:04", tc.clock)
			if err != nil {
				t.Fatal(err)
			}
			if got := m.withinActiveHours(now); got != tc.want {
				t.Errorf("withinActiveHours(%s) = %v, want %v", tc.clock, got, tc.want)
			}
		})
	}
}

func TestTriggerOutOfHours(t *testing.T) {
	m := newTestManager(t, Config{ActiveStart: "09:00", ActiveEnd: "17:00"})
	writeTasks(t, m, "- [ ] task\n")
	m.now = func() time.Time {
		return time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	}

	called := false
	m.Register(func(context.Context, []Task, Request) (string, error) {
		called = true
		return "", nil
	})

	res := m.Trigger(context.Background(), Request{})
	if res.Status != StatusSkipped || res.Reason != ReasonOutOfHours {
		t.Errorf("result = %+v", res)
	}
	if called {
		t.Error("callback ran out of hours")
	}
}

func TestDuplicateSuppression(t *testing.T) {
	m := newTestManager(t, Config{DuplicateWindow: time.Hour})
	writeTasks(t, m, "- [ ] task\n")
	m.Register(func(context.Context, []Task, Request) (string, error) {
		return "same text", nil
	})

	if res := m.Trigger(context.Background(), Request{}); res.Status != StatusOK {
		t.Fatalf("first trigger = %+v", res)
	}
	res := m.Trigger(context.Background(), Request{})
	if res.Status != StatusSkipped || res.Reason != ReasonDuplicate {
		t.Errorf("second trigger = %+v, want duplicate skip", res)
	}
}

func TestRequestNowCoalescing(t *testing.T) {
	m := newTestManager(t, Config{Coalesce: 40 * time.Millisecond})
	writeTasks(t, m, "- [ ] task\n")

	reasons := make(chan string, 4)
	m.Register(func(_ context.Context, _ []Task, req Request) (string, error) {
		reasons <- req.Reason
		return "ok", nil
	})

	m.RequestNow(ReasonRequested, "a")
	m.RequestNow(ReasonCron, "b")
	m.RequestNow(ReasonExec, "c")
	m.RequestNow(ReasonInterval, "d")

	select {
	case reason := <-reasons:
		if reason != ReasonExec {
			t.Errorf("coalesced reason = %q, want exec", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no trigger dispatched")
	}

	select {
	case reason := <-reasons:
		t.Errorf("second dispatch %q, want single coalesced trigger", reason)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestMarkCompleted(t *testing.T) {
	m := newTestManager(t, Config{})
	writeTasks(t, m, "- [ ] first\n- [ ] second\n")

	if err := m.MarkCompleted("first"); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(m.cfg.TaskFile)
	if !strings.Contains(string(data), "- [x] first") || !strings.Contains(string(data), "- [ ] second") {
		t.Errorf("file after MarkCompleted:\n%s", data)
	}

	if err := m.MarkCompleted("missing"); err == nil {
		t.Error("unknown task should error")
	}
}

func TestAddTask(t *testing.T) {
	m := newTestManager(t, Config{})
	writeTasks(t, m, "- [ ] existing")

	if err := m.AddTask("new task"); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(m.cfg.TaskFile)
	want := "- [ ] existing\n- [ ] new task\n"
	if string(data) != want {
		t.Errorf("file = %q, want %q", data, want)
	}
}

func TestWatcherTriggersOnFileChange(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, Config{
		TaskFile: filepath.Join(dir, "HEARTBEAT.md"),
		Coalesce: 20 * time.Millisecond,
		Interval: time.Hour,
	})
	writeTasks(t, m, "- [x] placeholder\n")

	reasons := make(chan string, 2)
	m.Register(func(_ context.Context, _ []Task, req Request) (string, error) {
		reasons <- req.Reason
		return "ok", nil
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	writeTasks(t, m, "- [ ] fresh task\n")

	select {
	case reason := <-reasons:
		if reason != ReasonExec {
			t.Errorf("watcher reason = %q, want exec", reason)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("file change did not trigger heartbeat")
	}
}
