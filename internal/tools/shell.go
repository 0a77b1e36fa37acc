package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

const (
	defaultExecTimeoutMs = 30000
	maxExecBuffer        = 1 << 20 // 1 MB per stream
	maxExecOutput        = 30000   // chars returned to the model
)

// denyPatterns blocks clearly destructive shell commands before they run.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`\b(mkfs|diskpart)\b`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]\b`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bwget\b.*-O\s*-\s*\|\s*(ba)?sh\b`),
}

// ExecTool runs a shell command in the workspace directory.
type ExecTool struct{}

func (t *ExecTool) Name() string        { return "exec" }
func (t *ExecTool) Description() string { return "Run a shell command in the workspace" }
func (t *ExecTool) InputSchema() map[string]any {
	return schemaObject(map[string]any{
		"command": prop("string", "Shell command to run"),
		"timeout": prop("integer", "Timeout in milliseconds (default 30000)"),
	}, "command")
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]any, tc *Context) string {
	command := strArg(args, "command")
	if strings.TrimSpace(command) == "" {
		return Errorf("command is required")
	}
	for _, p := range denyPatterns {
		if p.MatchString(command) {
			return Errorf("command blocked by policy: %s", p.String())
		}
	}

	timeoutMs := intArg(args, "timeout", defaultExecTimeoutMs)
	if timeoutMs <= 0 {
		timeoutMs = defaultExecTimeoutMs
	}
	execCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	cmd.Dir = tc.WorkspaceDir
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr boundedBuffer
	stdout.limit = maxExecBuffer
	stderr.limit = maxExecBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	out := stdout.String()
	if s := strings.TrimSpace(stderr.String()); s != "" {
		out += "\n[STDERR]\n" + s
	}
	out = truncateOutput(out)

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return Errorf("command timed out after %dms\n%s", timeoutMs, out)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return Errorf("exit code %d\n%s", exitErr.ExitCode(), out)
		}
		return Errorf("%v", runErr)
	}
	if strings.TrimSpace(out) == "" {
		return "(no output)"
	}
	return out
}

func truncateOutput(s string) string {
	if len(s) <= maxExecOutput {
		return s
	}
	cut := maxExecOutput
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + fmt.Sprintf("\n[... output truncated at %d chars ...]", maxExecOutput)
}

// boundedBuffer drops writes past its limit instead of growing unbounded.
type boundedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *boundedBuffer) String() string { return b.buf.String() }
