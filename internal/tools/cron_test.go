package tools

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/decahq/deca/internal/cron"
)

func newCronTool(t *testing.T) *CronTool {
	t.Helper()
	m := cron.NewManager(filepath.Join(t.TempDir(), "cron.json"))
	if err := m.Initialize(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Shutdown)
	return &CronTool{Manager: m}
}

func TestCronToolAddListRemove(t *testing.T) {
	ct := newCronTool(t)
	ctx := context.Background()

	out := ct.Execute(ctx, map[string]any{
		"action": "add", "name": "daily", "instruction": "send report", "expr": "0 9 * * *",
	}, nil)
	if strings.HasPrefix(out, "错误:") {
		t.Fatalf("add failed: %q", out)
	}

	out = ct.Execute(ctx, map[string]any{"action": "list"}, nil)
	if !strings.Contains(out, "daily") || !strings.Contains(out, "send report") {
		t.Errorf("list = %q", out)
	}

	id := ct.Manager.ListJobs()[0].ID
	out = ct.Execute(ctx, map[string]any{"action": "remove", "id": id}, nil)
	if strings.HasPrefix(out, "错误:") {
		t.Errorf("remove failed: %q", out)
	}
	if out := ct.Execute(ctx, map[string]any{"action": "list"}, nil); out != "No cron jobs." {
		t.Errorf("list after remove = %q", out)
	}
}

func TestCronToolInvalidExpr(t *testing.T) {
	out := newCronTool(t).Execute(context.Background(), map[string]any{
		"action": "add", "instruction": "x", "expr": "bad expr",
	}, nil)
	if !strings.Contains(out, "invalid cron expression") {
		t.Errorf("invalid expr = %q", out)
	}
}

func TestCronToolUnknownAction(t *testing.T) {
	out := newCronTool(t).Execute(context.Background(), map[string]any{"action": "explode"}, nil)
	if !strings.HasPrefix(out, "错误:") {
		t.Errorf("unknown action = %q", out)
	}
}

func TestCronToolStatus(t *testing.T) {
	ct := newCronTool(t)
	out := ct.Execute(context.Background(), map[string]any{"action": "status"}, nil)
	if !strings.Contains(out, "0 jobs") {
		t.Errorf("status = %q", out)
	}
}
