package bootstrap

import (
	"fmt"
	"strings"
)

// SkillRef is the per-skill line included in the prompt.
type SkillRef struct {
	Name        string
	Description string
}

// PromptParams feeds SystemPrompt.
type PromptParams struct {
	Files         []File
	Skills        []SkillRef
	MemoryEnabled bool
	AllowExec     bool
	AllowWrite    bool
	Sandbox       bool
}

// SystemPrompt assembles the agent system prompt from the loaded workspace
// files plus skill, memory, and sandbox sections. Missing files contribute
// nothing; section order is stable.
func SystemPrompt(p PromptParams) string {
	var b strings.Builder

	// Project context: operating notes and task state.
	writeFileSection(&b, p.Files, "Project Context", AgentsFile, ToolsFile, HeartbeatFile, BootstrapFile)

	// Identity and soul.
	writeFileSection(&b, p.Files, "Identity", IdentityFile, SoulFile, UserFile)

	if len(p.Skills) > 0 {
		b.WriteString("# Available Skills\n\n")
		for _, s := range p.Skills {
			if s.Description != "" {
				fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
			} else {
				fmt.Fprintf(&b, "- %s\n", s.Name)
			}
		}
		b.WriteString("\n")
	}

	if p.MemoryEnabled {
		b.WriteString("# Memory\n\n")
		b.WriteString("Long-term memory is available. Use memory_search before answering questions about past conversations, and memory_get to read a full entry.\n")
		if f := findFile(p.Files, MemoryFile); f != nil && !f.Missing {
			b.WriteString("\n")
			b.WriteString(strings.TrimSpace(f.Content))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("# Execution Policy\n\n")
	switch {
	case p.Sandbox && !p.AllowExec:
		b.WriteString("Sandboxed session: shell execution is disabled.\n")
	case !p.AllowExec:
		b.WriteString("Shell execution is disabled for this session.\n")
	default:
		b.WriteString("Shell execution is allowed; commands run in the workspace directory.\n")
	}
	if !p.AllowWrite {
		b.WriteString("File writes are disabled; write and edit tools are unavailable.\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writeFileSection(b *strings.Builder, files []File, title string, names ...string) {
	var parts []string
	for _, name := range names {
		if f := findFile(files, name); f != nil && !f.Missing && strings.TrimSpace(f.Content) != "" {
			parts = append(parts, fmt.Sprintf("## %s\n\n%s", f.Name, strings.TrimSpace(f.Content)))
		}
	}
	if len(parts) == 0 {
		return
	}
	fmt.Fprintf(b, "# %s\n\n%s\n\n", title, strings.Join(parts, "\n\n"))
}

func findFile(files []File, name string) *File {
	for i := range files {
		if files[i].Name == name {
			return &files[i]
		}
	}
	return nil
}
