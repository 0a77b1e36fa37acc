// Package tools holds the agent's built-in tool set. Tools return plain
// strings; failures come back as strings prefixed 错误: and never as
// errors, so the model always receives something to reason about.
package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/decahq/deca/internal/memory"
	"github.com/decahq/deca/internal/providers"
)

// SpawnReceipt identifies a spawned subagent run.
type SpawnReceipt struct {
	RunID      string
	SessionKey string
}

// SpawnFunc delegates a task to the subagent host.
type SpawnFunc func(ctx context.Context, task, label string, cleanup bool) (SpawnReceipt, error)

// Context carries per-run state into tool execution.
type Context struct {
	WorkspaceDir   string
	SessionKey     string
	Memory         *memory.Store
	OnMemorySearch func(query string)
	Spawn          SpawnFunc
}

// Tool is one callable tool.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Execute(ctx context.Context, args map[string]any, tc *Context) string
}

// Policy filters which tools a session may use.
type Policy struct {
	AllowExec  bool
	AllowWrite bool
	Sandbox    bool
}

// Registry holds tools in registration order.
type Registry struct {
	tools []Tool
}

func NewRegistry(ts ...Tool) *Registry {
	return &Registry{tools: ts}
}

func (r *Registry) Add(t Tool) {
	r.tools = append(r.tools, t)
}

// Get finds a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	for _, t := range r.tools {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// Filter returns the tools permitted by the policy. A sandboxed session
// without exec permission loses exec; without write permission, write and
// edit are removed.
func (r *Registry) Filter(p Policy) []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		switch t.Name() {
		case "exec":
			if p.Sandbox && !p.AllowExec {
				continue
			}
		case "write", "edit":
			if !p.AllowWrite {
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

// Defs converts the policy-filtered tool set to provider tool definitions.
func (r *Registry) Defs(p Policy) []providers.ToolDef {
	filtered := r.Filter(p)
	defs := make([]providers.ToolDef, 0, len(filtered))
	for _, t := range filtered {
		defs = append(defs, providers.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return defs
}

// Errorf renders a tool failure string.
func Errorf(format string, a ...any) string {
	return "错误: " + fmt.Sprintf(format, a...)
}

// strArg extracts a string argument, empty when absent or mistyped.
func strArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// intArg extracts an integer argument. JSON numbers arrive as float64.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

// resolvePath resolves p under the workspace and rejects escapes.
func resolvePath(workspace, p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("path is required")
	}
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(workspace, abs)
	}
	abs = filepath.Clean(abs)

	wsAbs, err := filepath.Abs(workspace)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(wsAbs, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", p)
	}
	return abs, nil
}

func schemaObject(props map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}
