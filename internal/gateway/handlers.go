package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/decahq/deca/internal/agent"
	"github.com/decahq/deca/internal/runner"
	"github.com/decahq/deca/internal/scheduler"
	"github.com/decahq/deca/internal/sessions"
	"github.com/decahq/deca/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleAuthKey hands the shared secret to an origin-allowlisted caller,
// letting a browser-side client bootstrap its auth header.
func (s *Server) handleAuthKey(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if !s.originAllowed(origin) {
		writeError(w, http.StatusForbidden, "origin not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"key":    s.cfg.Key,
		"header": AuthHeader,
	})
}

func (s *Server) originAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

type providerInfo struct {
	Name         string              `json:"name"`
	Capabilities runner.Capabilities `json:"capabilities"`
	Available    *bool               `json:"available,omitempty"`
}

func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	var out []providerInfo
	for _, p := range s.exec.Providers() {
		out = append(out, providerInfo{Name: p.Type(), Capabilities: p.Capabilities()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	var out []providerInfo
	for _, p := range s.exec.Providers() {
		available := p.IsAvailable(r.Context())
		out = append(out, providerInfo{
			Name:         p.Type(),
			Capabilities: p.Capabilities(),
			Available:    &available,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"sessions": s.agent.Status()}
	if s.runlog != nil {
		if runs, err := s.runlog.Recent(r.Context(), 20); err == nil {
			resp["recentRuns"] = runs
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	var req runner.ExecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	writeJSON(w, http.StatusOK, s.exec.Exec(r.Context(), req))
}

type chatRequest struct {
	Message  string `json:"message"`
	SenderID string `json:"senderId"`
}

type chatResponse struct {
	Success  bool   `json:"success"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleChat runs the agent synchronously through the sender's session
// lane so HTTP traffic serializes with channel traffic on the same scope.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.SenderID == "" {
		req.SenderID = "http"
	}
	key := sessions.BuildKey(s.agentID, sessions.UserScope(req.SenderID))

	type outcome struct {
		res agent.RunResult
		err error
	}
	done := make(chan outcome, 1)
	started := time.Now()

	err := s.sched.Submit(key, scheduler.Item{
		Text: req.Message,
		Do: func(ctx context.Context, text string) {
			res, runErr := s.agent.Run(ctx, key, text, agent.Callbacks{})
			s.recordRun(ctx, key, started, res, runErr)
			done <- outcome{res, runErr}
		},
	})
	if err != nil {
		if errors.Is(err, scheduler.ErrLaneRejected) {
			writeError(w, http.StatusTooManyRequests, "session busy")
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	select {
	case out := <-done:
		if out.err != nil {
			writeJSON(w, http.StatusOK, chatResponse{Success: false, Error: out.err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Success: true, Response: out.res.Text})
	case <-r.Context().Done():
		// Client gone; the run finishes on its lane regardless.
	}
}

func (s *Server) recordRun(ctx context.Context, key string, started time.Time, res agent.RunResult, runErr error) {
	if s.runlog == nil {
		return
	}
	run := store.Run{
		ID:           uuid.NewString(),
		SessionKey:   key,
		Channel:      "http",
		Status:       store.StatusOK,
		Turns:        res.Turns,
		ToolCalls:    res.ToolCalls,
		InputTokens:  res.Usage.Input,
		OutputTokens: res.Usage.Output,
		DurationMs:   time.Since(started).Milliseconds(),
		StartedAt:    started,
	}
	if runErr != nil {
		run.Status = store.StatusError
		run.Error = runErr.Error()
	}
	if err := s.runlog.Record(ctx, run); err != nil {
		slog.Warn("gateway: run log write failed", "session", key, "error", err)
	}
}
