package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"time"
)

const defaultExecTimeout = 30 * time.Second

// runCommand executes a prepared command and converts the outcome.
func runCommand(ctx context.Context, req ExecRequest, name string, args []string) ExecResult {
	timeout := defaultExecTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, name, args...)
	cmd.Dir = req.Cwd
	cmd.WaitDelay = 2 * time.Second
	if len(req.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range req.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start).Milliseconds()

	result := ExecResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ElapsedMs: elapsed,
	}
	switch {
	case err == nil:
		result.Success = true
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			if result.Stderr == "" {
				result.Stderr = err.Error()
			}
		}
	}
	return result
}

// probeCache remembers availability probes briefly so hot paths don't
// spawn a version-check subprocess per call.
type probeCache struct {
	mu      sync.Mutex
	checked time.Time
	ok      bool
	ttl     time.Duration
}

func (c *probeCache) get(ctx context.Context, probe func(ctx context.Context) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ttl == 0 {
		c.ttl = 30 * time.Second
	}
	if !c.checked.IsZero() && time.Since(c.checked) < c.ttl {
		return c.ok
	}
	c.ok = probe(ctx)
	c.checked = time.Now()
	return c.ok
}

// CLIProvider wraps an agent CLI binary (codex, claude, opencode). The
// probe runs a version check with a short timeout.
type CLIProvider struct {
	Name     string
	Bin      string
	Caps     Capabilities
	ExecArgs []string // prefix args before the command, e.g. ["exec"]

	probe probeCache
}

func NewCLIProvider(name, bin string, caps Capabilities, execArgs ...string) *CLIProvider {
	return &CLIProvider{Name: name, Bin: bin, Caps: caps, ExecArgs: execArgs}
}

func (p *CLIProvider) Type() string               { return p.Name }
func (p *CLIProvider) Capabilities() Capabilities { return p.Caps }

func (p *CLIProvider) IsAvailable(ctx context.Context) bool {
	return p.probe.get(ctx, func(ctx context.Context) bool {
		return exec.CommandContext(ctx, p.Bin, "--version").Run() == nil
	})
}

func (p *CLIProvider) Exec(ctx context.Context, req ExecRequest) ExecResult {
	args := append(append([]string{}, p.ExecArgs...), req.Command)
	args = append(args, req.Args...)
	return runCommand(ctx, req, p.Bin, args)
}

// NativeProvider runs commands directly through the shell. Always
// available; no isolation.
type NativeProvider struct{}

func (p *NativeProvider) Type() string { return "native" }
func (p *NativeProvider) Capabilities() Capabilities {
	return Capabilities{Isolation: IsolationNone, Networking: true, Workspace: true}
}
func (p *NativeProvider) IsAvailable(context.Context) bool { return true }

func (p *NativeProvider) Exec(ctx context.Context, req ExecRequest) ExecResult {
	shellCmd := req.Command
	for _, a := range req.Args {
		shellCmd += " " + a
	}
	return runCommand(ctx, req, "sh", []string{"-c", shellCmd})
}

// AppleScriptProvider runs commands through osascript. Only available
// where osascript exists on PATH.
type AppleScriptProvider struct {
	probe probeCache
}

func (p *AppleScriptProvider) Type() string { return "applescript" }
func (p *AppleScriptProvider) Capabilities() Capabilities {
	return Capabilities{Isolation: IsolationNone, Networking: false, Workspace: false}
}

func (p *AppleScriptProvider) IsAvailable(ctx context.Context) bool {
	return p.probe.get(ctx, func(context.Context) bool {
		_, err := exec.LookPath("osascript")
		return err == nil
	})
}

func (p *AppleScriptProvider) Exec(ctx context.Context, req ExecRequest) ExecResult {
	return runCommand(ctx, req, "osascript", append([]string{"-e", req.Command}, req.Args...))
}

// DefaultProviders builds the standard provider set in priority order.
func DefaultProviders() []Provider {
	return []Provider{
		NewCLIProvider("codex", "codex", Capabilities{Isolation: IsolationProcess, Networking: true, Workspace: true}, "exec"),
		NewCLIProvider("claude", "claude", Capabilities{Isolation: IsolationProcess, Networking: true, Workspace: true}, "-p"),
		NewCLIProvider("opencode", "opencode", Capabilities{Isolation: IsolationProcess, Networking: true, Workspace: true}, "run"),
		&NativeProvider{},
		&AppleScriptProvider{},
	}
}
