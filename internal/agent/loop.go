// Package agent runs the model turn loop: skill rewriting, workspace
// bootstrap, history pruning and compaction, streaming model calls, and
// tool dispatch, with per-session persistence throughout.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/decahq/deca/internal/bootstrap"
	"github.com/decahq/deca/internal/compaction"
	"github.com/decahq/deca/internal/memory"
	"github.com/decahq/deca/internal/providers"
	"github.com/decahq/deca/internal/sessions"
	"github.com/decahq/deca/internal/skills"
	"github.com/decahq/deca/internal/tools"
)

// DefaultMaxTurns bounds the number of model calls in one run.
const DefaultMaxTurns = 10

const defaultMaxTokens = 8192

// maxParallelTools bounds concurrent tool executions within one turn.
const maxParallelTools = 4

// Callbacks receives progress events during a run. All fields are optional.
type Callbacks struct {
	OnTextDelta  func(delta string)
	OnToolStart  func(name string, input map[string]any)
	OnToolEnd    func(name, result string)
	OnSkillMatch func(name string)
}

// RunResult is the outcome of one agent run.
type RunResult struct {
	Text           string          `json:"text"`
	Turns          int             `json:"turns"`
	ToolCalls      int             `json:"toolCalls"`
	SkillTriggered string          `json:"skillTriggered,omitempty"`
	Usage          providers.Usage `json:"usage"`
}

// Config parameterizes the loop.
type Config struct {
	AgentID           string
	WorkspaceDir      string
	SkillsDir         string
	MaxTurns          int
	MaxTokens         int
	Temperature       float64
	MemoryEnabled     bool
	Policy            tools.Policy
	BootstrapMaxChars int
	Prune             compaction.PruneSettings
	Compact           compaction.Settings
}

// DefaultConfig returns the standard loop parameters for an agent rooted
// at workspaceDir.
func DefaultConfig(agentID, workspaceDir string) Config {
	return Config{
		AgentID:           agentID,
		WorkspaceDir:      workspaceDir,
		MaxTurns:          DefaultMaxTurns,
		MaxTokens:         defaultMaxTokens,
		MemoryEnabled:     true,
		Policy:            tools.Policy{AllowExec: true, AllowWrite: true},
		BootstrapMaxChars: bootstrap.DefaultMaxChars,
		Prune:             compaction.DefaultPruneSettings(),
		Compact:           compaction.DefaultSettings(),
	}
}

// Loop drives agent runs against one provider client and session store.
type Loop struct {
	cfg      Config
	client   providers.Client
	store    *sessions.Store
	registry *tools.Registry
	memory   *memory.Store
	tracer   trace.Tracer

	mu        sync.Mutex
	spawn     tools.SpawnFunc
	skills    []skills.Skill
	summaries map[string]string
	inFlight  map[string]int
}

// New creates a loop. memory may be nil when the memory system is disabled.
func New(cfg Config, client providers.Client, store *sessions.Store, registry *tools.Registry, mem *memory.Store) *Loop {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.BootstrapMaxChars <= 0 {
		cfg.BootstrapMaxChars = bootstrap.DefaultMaxChars
	}
	l := &Loop{
		cfg:       cfg,
		client:    client,
		store:     store,
		registry:  registry,
		memory:    mem,
		tracer:    otel.Tracer("deca/agent"),
		summaries: make(map[string]string),
		inFlight:  make(map[string]int),
	}
	l.ReloadSkills()
	return l
}

// ReloadSkills re-reads the skills directory.
func (l *Loop) ReloadSkills() {
	if l.cfg.SkillsDir == "" {
		return
	}
	loaded := skills.LoadDir(l.cfg.SkillsDir)
	l.mu.Lock()
	l.skills = loaded
	l.mu.Unlock()
}

// Skills returns the currently loaded skills.
func (l *Loop) Skills() []skills.Skill {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]skills.Skill(nil), l.skills...)
}

// Memory returns the memory store, nil when disabled.
func (l *Loop) Memory() *memory.Store { return l.memory }

// Run executes one agent turn loop for the session. The incoming text is
// skill-rewritten if a trigger matches, persisted, then fed to the model;
// tool calls stream back through cb until the model stops or the turn
// budget runs out.
func (l *Loop) Run(ctx context.Context, sessionKey, userText string, cb Callbacks) (RunResult, error) {
	ctx, span := l.tracer.Start(ctx, "agent.run",
		trace.WithAttributes(attribute.String("session.key", sessionKey)))
	defer span.End()

	l.markStart(sessionKey)
	defer l.markEnd(sessionKey)

	var res RunResult
	isSub := sessions.IsSubagentKey(sessionKey)

	// Skill rewrite happens before anything is persisted so the expanded
	// prompt is what the session history records.
	text := userText
	if sk, remainder, ok := skills.Match(l.Skills(), userText); ok && !isSub {
		text = skills.Rewrite(sk, remainder)
		res.SkillTriggered = sk.Name
		span.SetAttributes(attribute.String("skill.name", sk.Name))
		if cb.OnSkillMatch != nil {
			cb.OnSkillMatch(sk.Name)
		}
	}

	if err := l.store.Append(sessionKey, sessions.UserText(text)); err != nil {
		return res, fmt.Errorf("persist user message: %w", err)
	}

	system := l.systemBlocks(isSub)
	history := l.prepareHistory(ctx, sessionKey)

	defs, allowed := l.toolSurface(isSub)
	tc := &tools.Context{
		WorkspaceDir: bootstrap.ResolveWorkspace(l.cfg.WorkspaceDir),
		SessionKey:   sessionKey,
	}
	if l.cfg.MemoryEnabled {
		tc.Memory = l.memory
	}
	if !isSub {
		tc.Spawn = l.spawnFunc()
	}

	for res.Turns < l.cfg.MaxTurns {
		resp, err := l.modelCall(ctx, providers.Request{
			System:      system,
			Tools:       defs,
			Messages:    history,
			MaxTokens:   l.cfg.MaxTokens,
			Temperature: l.cfg.Temperature,
		}, cb.OnTextDelta)
		if err != nil {
			return res, fmt.Errorf("model call: %w", err)
		}
		res.Turns++
		res.Usage.Add(resp.Usage)

		assistant := sessions.Message{
			Role:      sessions.RoleAssistant,
			Content:   resp.Content,
			Timestamp: time.Now(),
		}
		if err := l.store.Append(sessionKey, assistant); err != nil {
			return res, fmt.Errorf("persist assistant message: %w", err)
		}
		history = append(history, assistant)
		if t := resp.Text(); t != "" {
			res.Text = t
		}

		// Any tool_use gets paired with results in this run, even when the
		// stop reason disagrees with the content.
		uses := resp.ToolUses()
		if len(uses) == 0 {
			break
		}

		results := l.dispatchTools(ctx, uses, allowed, tc, cb, &res)
		resultMsg := sessions.Message{
			Role:      sessions.RoleUser,
			Content:   results,
			Timestamp: time.Now(),
		}
		if err := l.store.Append(sessionKey, resultMsg); err != nil {
			return res, fmt.Errorf("persist tool results: %w", err)
		}
		history = append(history, resultMsg)

		if resp.StopReason != providers.StopToolUse {
			break
		}
	}

	if l.cfg.MemoryEnabled && l.memory != nil && !isSub && res.Text != "" {
		if _, err := l.memory.Add("Q: "+userText+"\nA: "+res.Text, []string{"conversation"}); err != nil {
			slog.Warn("agent: memory append failed", "session", sessionKey, "error", err)
		}
	}

	span.SetAttributes(
		attribute.Int("agent.turns", res.Turns),
		attribute.Int("agent.tool_calls", res.ToolCalls),
	)
	return res, nil
}

// prepareHistory loads, repairs, prunes, and (when over the trigger)
// compacts the session history for the next model call.
func (l *Loop) prepareHistory(ctx context.Context, sessionKey string) []sessions.Message {
	history := repairHistory(l.store.History(sessionKey))
	window := l.client.ContextWindow()

	pr, err := compaction.Prune(history, window, l.cfg.Prune)
	if err != nil {
		slog.Warn("agent: prune failed, using full history", "session", sessionKey, "error", err)
		return history
	}
	if len(pr.Dropped) == 0 {
		return pr.Kept
	}

	if !compaction.ShouldCompact(history, window, l.cfg.Compact) {
		return pr.Kept
	}

	summary := compaction.Summarize(ctx, l.client, pr.Dropped, l.prevSummary(sessionKey), window)
	l.setSummary(sessionKey, summary)
	slog.Info("agent: compacted history",
		"session", sessionKey, "dropped", len(pr.Dropped), "kept", len(pr.Kept))
	return append([]sessions.Message{compaction.SummaryMessage(summary)}, pr.Kept...)
}

// systemBlocks assembles the system prompt as cacheable blocks. Subagent
// sessions see only the operating files, never identity or skills.
func (l *Loop) systemBlocks(isSub bool) []providers.SystemBlock {
	workspace := bootstrap.ResolveWorkspace(l.cfg.WorkspaceDir)
	files := bootstrap.Load(workspace, l.cfg.BootstrapMaxChars)

	var refs []bootstrap.SkillRef
	if isSub {
		files = bootstrap.FilterForSubagent(files)
	} else {
		for _, s := range l.Skills() {
			refs = append(refs, bootstrap.SkillRef{Name: s.Name, Description: s.Description})
		}
	}

	prompt := bootstrap.SystemPrompt(bootstrap.PromptParams{
		Files:         files,
		Skills:        refs,
		MemoryEnabled: l.cfg.MemoryEnabled && l.memory != nil,
		AllowExec:     l.cfg.Policy.AllowExec,
		AllowWrite:    l.cfg.Policy.AllowWrite,
		Sandbox:       l.cfg.Policy.Sandbox,
	})
	return []providers.SystemBlock{providers.EphemeralSystemBlock(prompt)}
}

// toolSurface returns the tool defs offered to the model and the set of
// names the dispatcher will actually execute. Subagents cannot spawn.
func (l *Loop) toolSurface(isSub bool) ([]providers.ToolDef, map[string]bool) {
	defs := l.registry.Defs(l.cfg.Policy)
	if isSub {
		filtered := defs[:0:0]
		for _, d := range defs {
			if d.Name != "sessions_spawn" {
				filtered = append(filtered, d)
			}
		}
		defs = filtered
	}
	allowed := make(map[string]bool, len(defs))
	for _, d := range defs {
		allowed[d.Name] = true
	}
	return defs, allowed
}

func (l *Loop) modelCall(ctx context.Context, req providers.Request, onDelta func(string)) (*providers.Response, error) {
	ctx, span := l.tracer.Start(ctx, "agent.model_call",
		trace.WithAttributes(attribute.Int("request.messages", len(req.Messages))))
	defer span.End()

	resp, err := l.client.Stream(ctx, req, onDelta)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("response.stop_reason", resp.StopReason),
		attribute.Int("usage.input", resp.Usage.Input),
		attribute.Int("usage.output", resp.Usage.Output),
	)
	return resp, nil
}

// dispatchTools executes a turn's tool_use blocks (bounded parallelism,
// original order preserved) and returns the matching tool_result blocks.
// Every tool_use gets a result, including unknown tools and panics.
func (l *Loop) dispatchTools(ctx context.Context, uses []sessions.ContentBlock, allowed map[string]bool, tc *tools.Context, cb Callbacks, res *RunResult) []sessions.ContentBlock {
	results := make([]sessions.ContentBlock, len(uses))
	res.ToolCalls += len(uses)

	g := new(errgroup.Group)
	g.SetLimit(maxParallelTools)
	for i, use := range uses {
		i, use := i, use
		g.Go(func() error {
			if cb.OnToolStart != nil {
				cb.OnToolStart(use.Name, use.Input)
			}
			out := l.execTool(ctx, use, allowed, tc)
			if cb.OnToolEnd != nil {
				cb.OnToolEnd(use.Name, out)
			}
			results[i] = sessions.ToolResultBlock(use.ID, out)
			return nil
		})
	}
	g.Wait()
	return results
}

func (l *Loop) execTool(ctx context.Context, use sessions.ContentBlock, allowed map[string]bool, tc *tools.Context) (out string) {
	ctx, span := l.tracer.Start(ctx, "agent.tool",
		trace.WithAttributes(attribute.String("tool.name", use.Name)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			out = fmt.Sprintf("执行错误: %v", r)
			slog.Error("agent: tool panicked", "tool", use.Name, "panic", r)
		}
	}()

	t, ok := l.registry.Get(use.Name)
	if !ok || !allowed[use.Name] {
		return "未知工具: " + use.Name
	}
	return t.Execute(ctx, use.Input, tc)
}

func (l *Loop) prevSummary(key string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.summaries[key]
}

func (l *Loop) setSummary(key, summary string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summaries[key] = summary
}

func (l *Loop) markStart(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight[key]++
}

func (l *Loop) markEnd(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight[key]--; l.inFlight[key] <= 0 {
		delete(l.inFlight, key)
	}
}
