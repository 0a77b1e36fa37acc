package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/decahq/deca/internal/agent"
	"github.com/decahq/deca/internal/bus"
	"github.com/decahq/deca/internal/config"
	"github.com/decahq/deca/internal/runner"
	"github.com/decahq/deca/internal/scheduler"
)

type stubAgent struct {
	reply string
	err   error
	keys  []string
}

func (a *stubAgent) Run(_ context.Context, sessionKey, _ string, _ agent.Callbacks) (agent.RunResult, error) {
	a.keys = append(a.keys, sessionKey)
	return agent.RunResult{Text: a.reply, Turns: 1}, a.err
}

func (a *stubAgent) Status() []agent.SessionStatus {
	return []agent.SessionStatus{{Key: "agent:deca:main", Messages: 4}}
}

func newTestServer(t *testing.T, cfg config.GatewayConfig) (*httptest.Server, *stubAgent) {
	t.Helper()
	if cfg.RateLimitRPM == 0 {
		cfg.RateLimitRPM = 600
	}
	sched := scheduler.New(scheduler.Config{})
	t.Cleanup(sched.Shutdown)

	ag := &stubAgent{reply: "agent says hi"}
	router := runner.NewRouter([]string{"native"}, &runner.NativeProvider{})
	s := New(cfg, "deca", ag, sched, router, bus.New(), nil)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, ag
}

func TestHealthOpen(t *testing.T) {
	ts, _ := newTestServer(t, config.GatewayConfig{Key: "secret"})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
	var body map[string]bool
	json.NewDecoder(resp.Body).Decode(&body)
	if !body["ok"] {
		t.Errorf("health body = %v", body)
	}
}

func TestAuthRequired(t *testing.T) {
	ts, _ := newTestServer(t, config.GatewayConfig{Key: "secret"})

	resp, err := http.Get(ts.URL + "/providers")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no key status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/providers", nil)
	req.Header.Set(AuthHeader, "wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong key status = %d, want 401", resp.StatusCode)
	}

	req.Header.Set(AuthHeader, "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("good key status = %d", resp.StatusCode)
	}
	var body struct {
		Providers []providerInfo `json:"providers"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if len(body.Providers) != 1 || body.Providers[0].Name != "native" {
		t.Errorf("providers = %+v", body.Providers)
	}
	if body.Providers[0].Available == nil || !*body.Providers[0].Available {
		t.Errorf("native should be available: %+v", body.Providers[0])
	}
}

func TestAuthKeyOriginAllowlist(t *testing.T) {
	ts, _ := newTestServer(t, config.GatewayConfig{
		Key:            "secret",
		AllowedOrigins: []string{"https://app.example.com"},
	})

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/auth/key", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("no origin status = %d, want 403", resp.StatusCode)
	}

	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("bad origin status = %d, want 403", resp.StatusCode)
	}

	req.Header.Set("Origin", "https://app.example.com")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("allowed origin status = %d", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["key"] != "secret" || body["header"] != AuthHeader {
		t.Errorf("auth key body = %v", body)
	}
}

func TestExec(t *testing.T) {
	ts, _ := newTestServer(t, config.GatewayConfig{})

	payload := `{"command": "echo exec-ok"}`
	resp, err := http.Post(ts.URL+"/exec", "application/json", bytes.NewBufferString(payload))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("exec status = %d", resp.StatusCode)
	}
	var result runner.ExecResult
	json.NewDecoder(resp.Body).Decode(&result)
	if !result.Success || result.Provider != "native" {
		t.Errorf("exec result = %+v", result)
	}

	resp, err = http.Post(ts.URL+"/exec", "application/json", bytes.NewBufferString(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty command status = %d, want 400", resp.StatusCode)
	}
}

func TestChat(t *testing.T) {
	ts, ag := newTestServer(t, config.GatewayConfig{})

	payload := `{"message": "hello", "senderId": "42"}`
	resp, err := http.Post(ts.URL+"/chat", "application/json", bytes.NewBufferString(payload))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body chatResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if !body.Success || body.Response != "agent says hi" {
		t.Errorf("chat response = %+v", body)
	}
	if len(ag.keys) != 1 || ag.keys[0] != "agent:deca:user:42" {
		t.Errorf("session keys = %v", ag.keys)
	}
}

func TestChatMissingMessage(t *testing.T) {
	ts, _ := newTestServer(t, config.GatewayConfig{})

	resp, err := http.Post(ts.URL+"/chat", "application/json", bytes.NewBufferString(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	ts, _ := newTestServer(t, config.GatewayConfig{})

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Sessions []agent.SessionStatus `json:"sessions"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if len(body.Sessions) != 1 || body.Sessions[0].Key != "agent:deca:main" {
		t.Errorf("status sessions = %+v", body.Sessions)
	}
}

func TestRateLimit(t *testing.T) {
	ts, _ := newTestServer(t, config.GatewayConfig{RateLimitRPM: 1})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first request status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", resp.StatusCode)
	}
}
