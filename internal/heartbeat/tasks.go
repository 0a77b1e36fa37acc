// Package heartbeat re-evaluates a workspace task file on an interval and
// on demand, dispatching pending tasks to registered callbacks.
package heartbeat

import (
	"fmt"
	"os"
	"strings"
)

// Task is one parsed bullet from the task file.
type Task struct {
	Text string
	Done bool
	Line int // 1-based line in the file
}

// ParseTasks extracts tasks from Markdown content. Headings and blank
// lines are ignored; list markers -, * and + are accepted with an
// optional [ ] / [x] checkbox. A bullet without a checkbox counts as
// pending.
func ParseTasks(content string) []Task {
	var tasks []Task
	for i, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		marker := false
		for _, m := range []string{"- ", "* ", "+ "} {
			if strings.HasPrefix(line, m) {
				line = strings.TrimSpace(line[len(m):])
				marker = true
				break
			}
		}
		if !marker {
			continue
		}

		done := false
		switch {
		case strings.HasPrefix(line, "[x]") || strings.HasPrefix(line, "[X]"):
			done = true
			line = strings.TrimSpace(line[3:])
		case strings.HasPrefix(line, "[ ]"):
			line = strings.TrimSpace(line[3:])
		}
		if line == "" {
			continue
		}
		tasks = append(tasks, Task{Text: line, Done: done, Line: i + 1})
	}
	return tasks
}

// Pending filters out completed tasks.
func Pending(tasks []Task) []Task {
	var out []Task
	for _, t := range tasks {
		if !t.Done {
			out = append(out, t)
		}
	}
	return out
}

// MarkCompleted rewrites the task file, checking off the first pending
// bullet whose text matches. The rewrite is atomic.
func (m *Manager) MarkCompleted(text string) error {
	m.fileMu.Lock()
	defer m.fileMu.Unlock()

	data, err := os.ReadFile(m.cfg.TaskFile)
	if err != nil {
		return fmt.Errorf("heartbeat: read task file: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	target := strings.TrimSpace(text)
	found := false
	for _, task := range ParseTasks(string(data)) {
		if task.Done || task.Text != target {
			continue
		}
		idx := task.Line - 1
		line := lines[idx]
		if strings.Contains(line, "[ ]") {
			lines[idx] = strings.Replace(line, "[ ]", "[x]", 1)
		} else {
			// Bullet without a checkbox: insert one.
			trimmed := strings.TrimLeft(line, " \t")
			indent := line[:len(line)-len(trimmed)]
			lines[idx] = indent + trimmed[:2] + "[x] " + strings.TrimSpace(trimmed[2:])
		}
		found = true
		break
	}
	if !found {
		return fmt.Errorf("heartbeat: no pending task matching %q", text)
	}
	return m.writeTaskFile(strings.Join(lines, "\n"))
}

// AddTask appends a pending bullet to the task file atomically.
func (m *Manager) AddTask(text string) error {
	m.fileMu.Lock()
	defer m.fileMu.Unlock()

	content := ""
	if data, err := os.ReadFile(m.cfg.TaskFile); err == nil {
		content = string(data)
	}
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += "- [ ] " + strings.TrimSpace(text) + "\n"
	return m.writeTaskFile(content)
}

func (m *Manager) writeTaskFile(content string) error {
	tmp := m.cfg.TaskFile + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		return fmt.Errorf("heartbeat: write task file: %w", err)
	}
	if err := os.Rename(tmp, m.cfg.TaskFile); err != nil {
		return fmt.Errorf("heartbeat: rename task file: %w", err)
	}
	return nil
}
