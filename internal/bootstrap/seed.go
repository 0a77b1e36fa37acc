package bootstrap

import (
	"log/slog"
	"os"
	"path/filepath"
)

// defaultTemplates holds the starter content seeded into new workspaces.
// BOOTSTRAP.md is handled separately (only seeded for brand-new workspaces).
var defaultTemplates = map[string]string{
	AgentsFile: `# AGENTS.md

Operating notes for this agent. Edit freely; the agent reads this file
at the start of every run.

- Keep replies concise.
- Prefer tools over guessing.
`,
	SoulFile: `# SOUL.md

Personality and tone. Describe how the agent should sound.
`,
	ToolsFile: `# TOOLS.md

Notes about the available tools and when to reach for each one.
`,
	IdentityFile: `# IDENTITY.md

Who this agent is: name, role, boundaries.
`,
	UserFile: `# USER.md

Facts about the user the agent should remember across conversations.
`,
	HeartbeatFile: `# HEARTBEAT.md

Tasks the heartbeat loop re-evaluates. One bullet per task.

- [ ] (example) check in if there are unread reports
`,
	BootstrapFile: `# BOOTSTRAP.md

First-run checklist. Delete this file once the workspace is set up.

- [ ] fill in IDENTITY.md
- [ ] fill in USER.md
`,
}

// seedOrder keeps workspace seeding deterministic.
var seedOrder = []string{
	AgentsFile,
	SoulFile,
	ToolsFile,
	IdentityFile,
	UserFile,
	HeartbeatFile,
}

// EnsureWorkspaceFiles seeds starter files into a workspace directory.
// Only writes files that don't already exist (will not overwrite).
// BOOTSTRAP.md is only seeded if the workspace is brand new (no AGENTS.md).
// Returns the list of files that were created.
func EnsureWorkspaceFiles(workspaceDir string) ([]string, error) {
	if err := os.MkdirAll(workspaceDir, 0755); err != nil {
		return nil, err
	}

	_, agentsErr := os.Stat(filepath.Join(workspaceDir, AgentsFile))
	isBrandNew := os.IsNotExist(agentsErr)

	var created []string
	for _, name := range seedOrder {
		ok, err := seedTemplate(workspaceDir, name)
		if err != nil {
			slog.Warn("bootstrap: failed to seed template", "file", name, "error", err)
			continue
		}
		if ok {
			created = append(created, name)
		}
	}

	if isBrandNew {
		ok, err := seedTemplate(workspaceDir, BootstrapFile)
		if err != nil {
			slog.Warn("bootstrap: failed to seed BOOTSTRAP.md", "error", err)
		} else if ok {
			created = append(created, BootstrapFile)
		}
	}

	return created, nil
}

// seedTemplate writes a starter file to the workspace if it doesn't exist.
// Returns true if the file was created, false if it already exists.
func seedTemplate(workspaceDir, name string) (bool, error) {
	dstPath := filepath.Join(workspaceDir, name)

	f, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	if _, err := f.WriteString(defaultTemplates[name]); err != nil {
		return false, err
	}
	return true, nil
}
