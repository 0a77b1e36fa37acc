// Package bootstrap loads the workspace Markdown files that shape the
// agent's system prompt, and seeds a fresh workspace with starter copies.
package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace file names. MEMORY.md has a legacy lowercase spelling that is
// accepted when the canonical file is absent.
const (
	AgentsFile      = "AGENTS.md"
	SoulFile        = "SOUL.md"
	ToolsFile       = "TOOLS.md"
	IdentityFile    = "IDENTITY.md"
	UserFile        = "USER.md"
	HeartbeatFile   = "HEARTBEAT.md"
	BootstrapFile   = "BOOTSTRAP.md"
	MemoryFile      = "MEMORY.md"
	memoryFileAlt   = "memory.md"
	WorkspaceSubdir = "workspace"
)

// DefaultMaxChars bounds each loaded file before prompt assembly.
const DefaultMaxChars = 20000

// File is one resolved bootstrap file.
type File struct {
	Name    string
	Path    string
	Content string
	Missing bool
}

// loadOrder is the prompt assembly order.
var loadOrder = []string{
	AgentsFile,
	SoulFile,
	ToolsFile,
	IdentityFile,
	UserFile,
	HeartbeatFile,
	BootstrapFile,
	MemoryFile,
}

// subagentFiles is the reduced set visible to subagent sessions.
var subagentFiles = map[string]bool{
	AgentsFile: true,
	ToolsFile:  true,
}

// ResolveWorkspace returns dir/workspace when that subdirectory holds any
// of SOUL.md, AGENTS.md or IDENTITY.md, otherwise dir itself.
func ResolveWorkspace(dir string) string {
	sub := filepath.Join(dir, WorkspaceSubdir)
	for _, name := range []string{SoulFile, AgentsFile, IdentityFile} {
		if _, err := os.Stat(filepath.Join(sub, name)); err == nil {
			return sub
		}
	}
	return dir
}

// Load reads the bootstrap file set from workspaceDir. Missing files are
// returned with Missing set so callers can report them; each present file
// is truncated to maxChars (DefaultMaxChars when maxChars <= 0).
func Load(workspaceDir string, maxChars int) []File {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	files := make([]File, 0, len(loadOrder))
	for _, name := range loadOrder {
		f := readOne(workspaceDir, name)
		if !f.Missing {
			f.Content = Truncate(f.Content, maxChars)
		}
		files = append(files, f)
	}
	return files
}

// FilterForSubagent keeps only the files subagent sessions may see.
func FilterForSubagent(files []File) []File {
	out := make([]File, 0, len(files))
	for _, f := range files {
		if subagentFiles[f.Name] {
			out = append(out, f)
		}
	}
	return out
}

func readOne(dir, name string) File {
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err == nil {
		return File{Name: name, Path: path, Content: string(data)}
	}
	if name == MemoryFile {
		alt := filepath.Join(dir, memoryFileAlt)
		if data, altErr := os.ReadFile(alt); altErr == nil {
			return File{Name: name, Path: alt, Content: string(data)}
		}
	}
	return File{Name: name, Path: path, Missing: true}
}

// Truncate shortens s to at most maxChars, keeping 70% from the head and
// 20% from the tail with a marker line in between. Counts are in bytes,
// adjusted so multi-byte runes are never split.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	head := maxChars * 70 / 100
	tail := maxChars * 20 / 100

	for head > 0 && !isRuneStart(s[head]) {
		head--
	}
	tailStart := len(s) - tail
	for tailStart < len(s) && !isRuneStart(s[tailStart]) {
		tailStart++
	}

	marker := fmt.Sprintf("\n\n[... truncated %d chars ...]\n\n", len(s)-head-(len(s)-tailStart))
	var b strings.Builder
	b.WriteString(s[:head])
	b.WriteString(marker)
	b.WriteString(s[tailStart:])
	return b.String()
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
