// Package gateway serves the HTTP surface: health, auth key handoff,
// provider introspection, exec routing, programmatic chat, and the
// websocket event stream.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/decahq/deca/internal/agent"
	"github.com/decahq/deca/internal/bus"
	"github.com/decahq/deca/internal/config"
	"github.com/decahq/deca/internal/runner"
	"github.com/decahq/deca/internal/scheduler"
	"github.com/decahq/deca/internal/store"
)

// AuthHeader is the shared-secret header name.
const AuthHeader = "x-deca-key"

const shutdownGrace = 10 * time.Second

// AgentRunner is the slice of the agent loop the gateway drives.
type AgentRunner interface {
	Run(ctx context.Context, sessionKey, text string, cb agent.Callbacks) (agent.RunResult, error)
	Status() []agent.SessionStatus
}

// Server is the HTTP gateway.
type Server struct {
	cfg     config.GatewayConfig
	agentID string
	agent   AgentRunner
	sched   *scheduler.Scheduler
	exec    *runner.Router
	events  *bus.MessageBus
	runlog  *store.RunLog
	limiter *rate.Limiter

	srv *http.Server
}

// New builds a gateway server. runlog may be nil.
func New(cfg config.GatewayConfig, agentID string, ag AgentRunner, sched *scheduler.Scheduler, exec *runner.Router, events *bus.MessageBus, runlog *store.RunLog) *Server {
	rpm := cfg.RateLimitRPM
	if rpm <= 0 {
		rpm = 60
	}
	s := &Server{
		cfg:     cfg,
		agentID: agentID,
		agent:   ag,
		sched:   sched,
		exec:    exec,
		events:  events,
		runlog:  runlog,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
	}
	s.srv = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, used by tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /auth/key", s.handleAuthKey)
	mux.HandleFunc("GET /capabilities", s.auth(s.handleCapabilities))
	mux.HandleFunc("GET /providers", s.auth(s.handleProviders))
	mux.HandleFunc("GET /status", s.auth(s.handleStatus))
	mux.HandleFunc("POST /exec", s.auth(s.handleExec))
	mux.HandleFunc("POST /chat", s.auth(s.handleChat))
	mux.HandleFunc("/ws", s.auth(s.handleWS))
	return s.rateLimit(mux)
}

// Start begins serving. It returns when the listener stops.
func (s *Server) Start() error {
	slog.Info("gateway listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Shutdown stops the listener, allowing in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// auth enforces the shared-secret header. With no key configured the
// endpoint is open (local-only deployments).
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key != "" && r.Header.Get(AuthHeader) != s.cfg.Key {
			writeError(w, http.StatusUnauthorized, "invalid or missing "+AuthHeader)
			return
		}
		next(w, r)
	}
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("gateway: response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
