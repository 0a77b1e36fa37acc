package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const (
	defaultReadLimit = 500
	maxListEntries   = 100
	maxGrepHits      = 50
)

// grepExtensions lists the file types grep searches.
var grepExtensions = map[string]bool{
	".ts": true, ".js": true, ".json": true, ".md": true,
}

// grepExcludedDirs are skipped during the grep walk.
var grepExcludedDirs = map[string]bool{
	"node_modules": true, ".git": true, "dist": true, ".deca": true,
}

// ReadTool returns file contents with line numbers.
type ReadTool struct{}

func (t *ReadTool) Name() string        { return "read" }
func (t *ReadTool) Description() string { return "Read a file, returning numbered lines" }
func (t *ReadTool) InputSchema() map[string]any {
	return schemaObject(map[string]any{
		"file_path": prop("string", "Path to the file, relative to the workspace"),
		"limit":     prop("integer", "Maximum lines to return (default 500)"),
	}, "file_path")
}

func (t *ReadTool) Execute(_ context.Context, args map[string]any, tc *Context) string {
	path, err := resolvePath(tc.WorkspaceDir, strArg(args, "file_path"))
	if err != nil {
		return Errorf("%v", err)
	}
	limit := intArg(args, "limit", defaultReadLimit)
	if limit <= 0 {
		limit = defaultReadLimit
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Errorf("read %s: %v", strArg(args, "file_path"), err)
	}

	lines := strings.Split(string(data), "\n")
	truncated := false
	if len(lines) > limit {
		lines = lines[:limit]
		truncated = true
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = fmt.Sprintf("%d\t%s", i+1, line)
	}
	result := strings.Join(out, "\n")
	if truncated {
		result += fmt.Sprintf("\n[... %d lines shown, file continues ...]", limit)
	}
	return result
}

// WriteTool overwrites a file, creating parent directories.
type WriteTool struct{}

func (t *WriteTool) Name() string        { return "write" }
func (t *WriteTool) Description() string { return "Write content to a file, creating parents" }
func (t *WriteTool) InputSchema() map[string]any {
	return schemaObject(map[string]any{
		"file_path": prop("string", "Path to the file, relative to the workspace"),
		"content":   prop("string", "Full file content"),
	}, "file_path", "content")
}

func (t *WriteTool) Execute(_ context.Context, args map[string]any, tc *Context) string {
	path, err := resolvePath(tc.WorkspaceDir, strArg(args, "file_path"))
	if err != nil {
		return Errorf("%v", err)
	}
	content := strArg(args, "content")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Errorf("create parent dirs: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return Errorf("write %s: %v", strArg(args, "file_path"), err)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), strArg(args, "file_path"))
}

// EditTool replaces the first occurrence of a string in a file.
type EditTool struct{}

func (t *EditTool) Name() string        { return "edit" }
func (t *EditTool) Description() string { return "Replace the first occurrence of old_string with new_string" }
func (t *EditTool) InputSchema() map[string]any {
	return schemaObject(map[string]any{
		"file_path":  prop("string", "Path to the file, relative to the workspace"),
		"old_string": prop("string", "Exact text to find"),
		"new_string": prop("string", "Replacement text"),
	}, "file_path", "old_string", "new_string")
}

func (t *EditTool) Execute(_ context.Context, args map[string]any, tc *Context) string {
	path, err := resolvePath(tc.WorkspaceDir, strArg(args, "file_path"))
	if err != nil {
		return Errorf("%v", err)
	}
	oldStr := strArg(args, "old_string")
	if oldStr == "" {
		return Errorf("old_string is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Errorf("read %s: %v", strArg(args, "file_path"), err)
	}
	content := string(data)
	if !strings.Contains(content, oldStr) {
		return Errorf("old_string not found in %s", strArg(args, "file_path"))
	}

	content = strings.Replace(content, oldStr, strArg(args, "new_string"), 1)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return Errorf("write %s: %v", strArg(args, "file_path"), err)
	}
	return fmt.Sprintf("Edited %s", strArg(args, "file_path"))
}

// ListTool lists a directory.
type ListTool struct{}

func (t *ListTool) Name() string        { return "list" }
func (t *ListTool) Description() string { return "List directory entries (dirs 📁, files 📄)" }
func (t *ListTool) InputSchema() map[string]any {
	return schemaObject(map[string]any{
		"path":    prop("string", "Directory to list (default workspace root)"),
		"pattern": prop("string", "Optional glob filter on entry names"),
	})
}

func (t *ListTool) Execute(_ context.Context, args map[string]any, tc *Context) string {
	rel := strArg(args, "path")
	if rel == "" {
		rel = "."
	}
	path, err := resolvePath(tc.WorkspaceDir, rel)
	if err != nil {
		return Errorf("%v", err)
	}
	pattern := strArg(args, "pattern")

	entries, err := os.ReadDir(path)
	if err != nil {
		return Errorf("list %s: %v", rel, err)
	}

	var lines []string
	for _, e := range entries {
		if pattern != "" {
			if ok, _ := filepath.Match(pattern, e.Name()); !ok {
				continue
			}
		}
		if e.IsDir() {
			lines = append(lines, "📁 "+e.Name())
		} else {
			lines = append(lines, "📄 "+e.Name())
		}
	}
	sort.Strings(lines)
	if len(lines) > maxListEntries {
		lines = lines[:maxListEntries]
		lines = append(lines, fmt.Sprintf("[... truncated at %d entries ...]", maxListEntries))
	}
	if len(lines) == 0 {
		return "(empty)"
	}
	return strings.Join(lines, "\n")
}

// GrepTool searches text files recursively.
type GrepTool struct{}

func (t *GrepTool) Name() string { return "grep" }
func (t *GrepTool) Description() string {
	return "Search .ts/.js/.json/.md files recursively for a pattern"
}
func (t *GrepTool) InputSchema() map[string]any {
	return schemaObject(map[string]any{
		"pattern": prop("string", "Regular expression (falls back to literal match)"),
		"path":    prop("string", "Directory to search (default workspace root)"),
	}, "pattern")
}

func (t *GrepTool) Execute(_ context.Context, args map[string]any, tc *Context) string {
	pattern := strArg(args, "pattern")
	if pattern == "" {
		return Errorf("pattern is required")
	}
	rel := strArg(args, "path")
	if rel == "" {
		rel = "."
	}
	root, err := resolvePath(tc.WorkspaceDir, rel)
	if err != nil {
		return Errorf("%v", err)
	}

	re, reErr := regexp.Compile(pattern)
	match := func(line string) bool {
		if reErr != nil {
			return strings.Contains(line, pattern)
		}
		return re.MatchString(line)
	}

	var hits []string
	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if grepExcludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !grepExtensions[filepath.Ext(path)] || len(hits) >= maxGrepHits {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		relPath, _ := filepath.Rel(root, path)
		for i, line := range strings.Split(string(data), "\n") {
			if match(line) {
				hits = append(hits, fmt.Sprintf("%s:%d: %s", relPath, i+1, strings.TrimSpace(line)))
				if len(hits) >= maxGrepHits {
					break
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		return Errorf("search failed: %v", walkErr)
	}
	if len(hits) == 0 {
		return "No matches."
	}
	return strings.Join(hits, "\n")
}
