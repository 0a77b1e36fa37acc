package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/decahq/deca/internal/cron"
)

// CronTool lets the model manage scheduled jobs.
type CronTool struct {
	Manager *cron.Manager
}

func (t *CronTool) Name() string        { return "cron" }
func (t *CronTool) Description() string { return "Manage scheduled jobs: add, list, remove, run, status" }
func (t *CronTool) InputSchema() map[string]any {
	return schemaObject(map[string]any{
		"action":      prop("string", "One of add, list, remove, run, status"),
		"name":        prop("string", "Job name (add)"),
		"instruction": prop("string", "Instruction dispatched when the job fires (add)"),
		"at_ms":       prop("integer", "One-shot epoch milliseconds (add)"),
		"every_ms":    prop("integer", "Repeat interval in milliseconds (add)"),
		"expr":        prop("string", "Five-field cron expression (add)"),
		"id":          prop("string", "Job id (remove, run)"),
	}, "action")
}

func (t *CronTool) Execute(_ context.Context, args map[string]any, _ *Context) string {
	if t.Manager == nil {
		return Errorf("cron is not enabled")
	}

	switch strArg(args, "action") {
	case "add":
		return t.add(args)
	case "list":
		return t.list()
	case "remove":
		return t.remove(args)
	case "run":
		return t.run(args)
	case "status":
		return t.status()
	default:
		return Errorf("unknown action %q, expected add, list, remove, run or status", strArg(args, "action"))
	}
}

func (t *CronTool) add(args map[string]any) string {
	instruction := strArg(args, "instruction")
	if instruction == "" {
		return Errorf("instruction is required")
	}

	var schedule cron.Schedule
	switch {
	case args["at_ms"] != nil:
		schedule.At = &cron.AtSchedule{AtMs: int64(intArg(args, "at_ms", 0))}
	case args["every_ms"] != nil:
		schedule.Every = &cron.EverySchedule{EveryMs: int64(intArg(args, "every_ms", 0))}
	case strArg(args, "expr") != "":
		schedule.Cron = &cron.CronSchedule{Expr: strArg(args, "expr")}
	default:
		return Errorf("schedule required: one of at_ms, every_ms, expr")
	}

	job, err := t.Manager.AddJob(cron.JobSpec{
		Name:        strArg(args, "name"),
		Instruction: instruction,
		Schedule:    schedule,
	})
	if err != nil {
		return Errorf("%v", err)
	}
	return fmt.Sprintf("Added job %s (%s), next run %s", job.ID, job.Name, formatNextRun(job))
}

func (t *CronTool) list() string {
	jobs := t.Manager.ListJobs()
	if len(jobs) == 0 {
		return "No cron jobs."
	}
	var b strings.Builder
	for _, job := range jobs {
		state := "enabled"
		if !job.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&b, "%s  %s  [%s]  next: %s\n  %s\n", job.ID, job.Name, state, formatNextRun(job), job.Instruction)
	}
	return strings.TrimSpace(b.String())
}

func (t *CronTool) remove(args map[string]any) string {
	id := strArg(args, "id")
	if id == "" {
		return Errorf("id is required")
	}
	removed, err := t.Manager.RemoveJob(id)
	if err != nil {
		return Errorf("%v", err)
	}
	if !removed {
		return Errorf("no job with id %s", id)
	}
	return fmt.Sprintf("Removed job %s", id)
}

func (t *CronTool) run(args map[string]any) string {
	id := strArg(args, "id")
	if id == "" {
		return Errorf("id is required")
	}
	if err := t.Manager.RunJob(id); err != nil {
		return Errorf("%v", err)
	}
	return fmt.Sprintf("Triggered job %s", id)
}

func (t *CronTool) status() string {
	s := t.Manager.GetStatus()
	if s.NextTriggerMs == nil {
		return fmt.Sprintf("%d jobs, nothing scheduled", s.JobCount)
	}
	next := time.UnixMilli(*s.NextTriggerMs).UTC().Format(time.RFC3339)
	return fmt.Sprintf("%d jobs, next trigger at %s", s.JobCount, next)
}

func formatNextRun(job cron.Job) string {
	if job.NextRunAtMs == nil {
		return "never"
	}
	return time.UnixMilli(*job.NextRunAtMs).UTC().Format(time.RFC3339)
}
