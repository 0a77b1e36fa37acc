// Package runner routes exec requests across execution providers with
// capability filtering and availability-probe fallback.
package runner

import (
	"context"
	"log/slog"
	"time"
)

// Isolation levels, weakest to strongest.
const (
	IsolationNone      = "none"
	IsolationProcess   = "process"
	IsolationContainer = "container"
	IsolationVM        = "vm"
)

// DefaultPriority orders providers when the request names none.
var DefaultPriority = []string{"codex", "claude", "opencode", "native", "applescript"}

// probeTimeout bounds the availability check.
const probeTimeout = 5 * time.Second

// Capabilities describes what a provider can offer a request.
type Capabilities struct {
	Isolation  string `json:"isolation"`
	Networking bool   `json:"networking"`
	Workspace  bool   `json:"workspace"`
}

// ExecRequest is one command to run.
type ExecRequest struct {
	Command        string            `json:"command"`
	Args           []string          `json:"args,omitempty"`
	Cwd            string            `json:"cwd,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	Provider       string            `json:"provider,omitempty"`
	NeedsNetwork   bool              `json:"needsNetwork,omitempty"`
	NeedsIsolation bool              `json:"needsIsolation,omitempty"`
	NeedsWorkspace bool              `json:"needsWorkspace,omitempty"`
	TimeoutMs      int               `json:"timeoutMs,omitempty"`
}

// Fallback records how the router arrived at the winning provider.
type Fallback struct {
	Used      bool     `json:"used"`
	Reason    string   `json:"reason,omitempty"`
	Attempted []string `json:"attempted,omitempty"`
}

// ExecResult is the outcome of one routed execution.
type ExecResult struct {
	Success   bool     `json:"success"`
	ExitCode  int      `json:"exitCode"`
	Stdout    string   `json:"stdout"`
	Stderr    string   `json:"stderr"`
	ElapsedMs int64    `json:"elapsedMs"`
	Provider  string   `json:"provider,omitempty"`
	Fallback  Fallback `json:"fallback"`
}

// Provider is one execution backend.
type Provider interface {
	Type() string
	Capabilities() Capabilities
	IsAvailable(ctx context.Context) bool
	Exec(ctx context.Context, req ExecRequest) ExecResult
}

// Router holds the registered providers and the priority order.
type Router struct {
	providers map[string]Provider
	priority  []string
}

// NewRouter builds a router. An empty priority falls back to
// DefaultPriority.
func NewRouter(priority []string, providers ...Provider) *Router {
	if len(priority) == 0 {
		priority = DefaultPriority
	}
	r := &Router{providers: make(map[string]Provider, len(providers)), priority: priority}
	for _, p := range providers {
		r.providers[p.Type()] = p
	}
	return r
}

// Providers lists registered providers in priority order.
func (r *Router) Providers() []Provider {
	out := make([]Provider, 0, len(r.providers))
	for _, name := range r.priority {
		if p, ok := r.providers[name]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Select returns the candidate providers for a request: the named provider
// alone when the request pins one (empty when unknown), otherwise the
// priority order filtered by capability constraints.
func (r *Router) Select(req ExecRequest) []Provider {
	if req.Provider != "" {
		if p, ok := r.providers[req.Provider]; ok {
			return []Provider{p}
		}
		return nil
	}

	var out []Provider
	for _, p := range r.Providers() {
		caps := p.Capabilities()
		if req.NeedsNetwork && !caps.Networking {
			continue
		}
		if req.NeedsWorkspace && !caps.Workspace {
			continue
		}
		if req.NeedsIsolation && caps.Isolation == IsolationNone {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Exec probes candidates in order and runs the request on the first
// available provider. When every candidate is unavailable, a synthetic
// failure with stderr "no_provider_available" is returned.
func (r *Router) Exec(ctx context.Context, req ExecRequest) ExecResult {
	candidates := r.Select(req)

	var attempted []string
	for _, p := range candidates {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		available := p.IsAvailable(probeCtx)
		cancel()
		if !available {
			slog.Debug("runner: provider unavailable", "provider", p.Type())
			attempted = append(attempted, p.Type())
			continue
		}

		result := p.Exec(ctx, req)
		result.Provider = p.Type()
		if len(attempted) > 0 {
			result.Fallback = Fallback{
				Used:      true,
				Reason:    "provider unavailable: " + attempted[len(attempted)-1],
				Attempted: attempted,
			}
		}
		return result
	}

	return ExecResult{
		Success:  false,
		ExitCode: -1,
		Stderr:   "no_provider_available",
		Fallback: Fallback{Used: len(attempted) > 0, Attempted: attempted},
	}
}
