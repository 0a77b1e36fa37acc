package tools

import (
	"context"
	"fmt"
	"strings"
)

// MemorySearchTool queries the long-term memory store.
type MemorySearchTool struct{}

func (t *MemorySearchTool) Name() string        { return "memory_search" }
func (t *MemorySearchTool) Description() string { return "Search long-term memory" }
func (t *MemorySearchTool) InputSchema() map[string]any {
	return schemaObject(map[string]any{
		"query": prop("string", "Search terms"),
		"limit": prop("integer", "Maximum hits (default 5)"),
	}, "query")
}

func (t *MemorySearchTool) Execute(_ context.Context, args map[string]any, tc *Context) string {
	if tc.Memory == nil {
		return Errorf("memory is not enabled")
	}
	query := strArg(args, "query")
	if query == "" {
		return Errorf("query is required")
	}
	if tc.OnMemorySearch != nil {
		tc.OnMemorySearch(query)
	}

	hits := tc.Memory.Search(query, intArg(args, "limit", 0))
	if len(hits) == 0 {
		return "No memory entries matched."
	}

	var b strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&b, "[%s] (score %d) %s\n", h.Entry.ID, h.Score, h.Snippet)
	}
	return strings.TrimSpace(b.String())
}

// MemoryGetTool fetches one full memory entry.
type MemoryGetTool struct{}

func (t *MemoryGetTool) Name() string        { return "memory_get" }
func (t *MemoryGetTool) Description() string { return "Read a memory entry by id" }
func (t *MemoryGetTool) InputSchema() map[string]any {
	return schemaObject(map[string]any{
		"id": prop("string", "Entry id from memory_search"),
	}, "id")
}

func (t *MemoryGetTool) Execute(_ context.Context, args map[string]any, tc *Context) string {
	if tc.Memory == nil {
		return Errorf("memory is not enabled")
	}
	id := strArg(args, "id")
	if id == "" {
		return Errorf("id is required")
	}
	entry, ok := tc.Memory.GetByID(id)
	if !ok {
		return Errorf("no memory entry with id %s", id)
	}

	out := entry.Content
	if len(entry.Tags) > 0 {
		out += "\n(tags: " + strings.Join(entry.Tags, ", ") + ")"
	}
	return out
}
