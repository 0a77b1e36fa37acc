package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/decahq/deca/internal/sessions"
)

const (
	defaultModel         = "claude-sonnet-4-5-20250929"
	defaultContextWindow = 200000
	anthropicAPIBase     = "https://api.anthropic.com/v1"
	anthropicAPIVersion  = "2023-06-01"
)

// Anthropic implements Client against the Anthropic messages API via net/http.
type Anthropic struct {
	apiKey        string
	baseURL       string
	model         string
	contextWindow int
	client        *http.Client
	retryConfig   RetryConfig
}

// NewAnthropic creates an Anthropic client.
func NewAnthropic(apiKey string, opts ...AnthropicOption) *Anthropic {
	p := &Anthropic{
		apiKey:        apiKey,
		baseURL:       anthropicAPIBase,
		model:         defaultModel,
		contextWindow: defaultContextWindow,
		client:        &http.Client{Timeout: 600 * time.Second},
		retryConfig:   DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type AnthropicOption func(*Anthropic)

func WithModel(model string) AnthropicOption {
	return func(p *Anthropic) {
		if model != "" {
			p.model = model
		}
	}
}

func WithBaseURL(baseURL string) AnthropicOption {
	return func(p *Anthropic) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithContextWindow(tokens int) AnthropicOption {
	return func(p *Anthropic) {
		if tokens > 0 {
			p.contextWindow = tokens
		}
	}
}

func WithHTTPClient(c *http.Client) AnthropicOption {
	return func(p *Anthropic) { p.client = c }
}

func (p *Anthropic) Model() string      { return p.model }
func (p *Anthropic) ContextWindow() int { return p.contextWindow }

// Complete sends a non-streaming messages request.
func (p *Anthropic) Complete(ctx context.Context, req Request) (*Response, error) {
	body := p.buildBody(req, false)

	return RetryDo(ctx, p.retryConfig, func() (*Response, error) {
		respBody, err := p.doRequest(ctx, body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var resp anthropicResponse
		if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
			return nil, fmt.Errorf("anthropic: decode response: %w", err)
		}
		return parseResponse(&resp), nil
	})
}

// Stream sends a streaming messages request, emitting text deltas through
// onDelta. Only the connection phase is retried; once bytes flow, a broken
// stream surfaces as an error.
func (p *Anthropic) Stream(ctx context.Context, req Request, onDelta func(string)) (*Response, error) {
	body := p.buildBody(req, true)

	respBody, err := RetryDo(ctx, p.retryConfig, func() (io.ReadCloser, error) {
		return p.doRequest(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	result := &Response{StopReason: StopEnd}
	// Raw JSON fragments of the current tool_use input, keyed by block index.
	inputJSON := make(map[int]string)
	blockIndex := -1

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var currentEvent string

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "event: ") {
			currentEvent = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		switch currentEvent {
		case "message_start":
			var ev messageStartEvent
			if err := json.Unmarshal([]byte(data), &ev); err == nil {
				result.Usage.Input = ev.Message.Usage.InputTokens
				result.Usage.CacheCreation = ev.Message.Usage.CacheCreationInputTokens
				result.Usage.CacheRead = ev.Message.Usage.CacheReadInputTokens
			}

		case "content_block_start":
			var ev contentBlockStartEvent
			if err := json.Unmarshal([]byte(data), &ev); err == nil {
				blockIndex++
				switch ev.ContentBlock.Type {
				case "text":
					result.Content = append(result.Content, sessions.TextBlock(""))
				case "tool_use":
					result.Content = append(result.Content, sessions.ToolUseBlock(
						ev.ContentBlock.ID,
						strings.TrimSpace(ev.ContentBlock.Name),
						map[string]any{},
					))
				}
			}

		case "content_block_delta":
			var ev contentBlockDeltaEvent
			if err := json.Unmarshal([]byte(data), &ev); err == nil && blockIndex >= 0 && blockIndex < len(result.Content) {
				switch ev.Delta.Type {
				case "text_delta":
					result.Content[blockIndex].Text += ev.Delta.Text
					if onDelta != nil && ev.Delta.Text != "" {
						onDelta(ev.Delta.Text)
					}
				case "input_json_delta":
					inputJSON[blockIndex] += ev.Delta.PartialJSON
				}
			}

		case "message_delta":
			var ev messageDeltaEvent
			if err := json.Unmarshal([]byte(data), &ev); err == nil {
				if ev.Delta.StopReason != "" {
					result.StopReason = normalizeStopReason(ev.Delta.StopReason)
				}
				if ev.Usage.OutputTokens > 0 {
					result.Usage.Output = ev.Usage.OutputTokens
				}
			}

		case "error":
			var ev errorEvent
			if err := json.Unmarshal([]byte(data), &ev); err == nil {
				return nil, fmt.Errorf("anthropic stream error: %s: %s", ev.Error.Type, ev.Error.Message)
			}

		case "message_stop":
			// stream complete
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: read stream: %w", err)
	}

	// Parse accumulated tool input fragments.
	for idx, raw := range inputJSON {
		if raw == "" || idx >= len(result.Content) {
			continue
		}
		input := make(map[string]any)
		if err := json.Unmarshal([]byte(raw), &input); err == nil {
			result.Content[idx].Input = input
		}
	}

	return result, nil
}

func (p *Anthropic) buildBody(req Request, stream bool) map[string]any {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	var messages []map[string]any
	for _, msg := range req.Messages {
		messages = append(messages, map[string]any{
			"role":    msg.Role,
			"content": wireContent(msg.Content),
		})
	}

	body := map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages":   messages,
	}
	if stream {
		body["stream"] = true
	}
	if len(req.System) > 0 {
		body["system"] = req.System
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
	}
	return body
}

// wireContent converts session content blocks to the API wire shape.
func wireContent(blocks []sessions.ContentBlock) []map[string]any {
	out := make([]map[string]any, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case sessions.BlockText:
			out = append(out, map[string]any{"type": "text", "text": b.Text})
		case sessions.BlockToolUse:
			input := b.Input
			if input == nil {
				input = map[string]any{}
			}
			out = append(out, map[string]any{"type": "tool_use", "id": b.ID, "name": b.Name, "input": input})
		case sessions.BlockToolResult:
			out = append(out, map[string]any{"type": "tool_result", "tool_use_id": b.ToolUseID, "content": b.Content})
		}
	}
	return out
}

func (p *Anthropic) doRequest(ctx context.Context, body any) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("anthropic: %s", string(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}

func parseResponse(resp *anthropicResponse) *Response {
	result := &Response{StopReason: normalizeStopReason(resp.StopReason)}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			result.Content = append(result.Content, sessions.TextBlock(block.Text))
		case "tool_use":
			input := make(map[string]any)
			_ = json.Unmarshal(block.Input, &input)
			result.Content = append(result.Content, sessions.ToolUseBlock(block.ID, block.Name, input))
		}
	}
	result.Usage = Usage{
		Input:         resp.Usage.InputTokens,
		Output:        resp.Usage.OutputTokens,
		CacheCreation: resp.Usage.CacheCreationInputTokens,
		CacheRead:     resp.Usage.CacheReadInputTokens,
	}
	return result
}

func normalizeStopReason(s string) string {
	switch s {
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	default:
		return StopEnd
	}
}

// Wire types.

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      anthropicUsage `json:"usage"`
}

type messageStartEvent struct {
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
}

type contentBlockStartEvent struct {
	Index        int `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
}

type contentBlockDeltaEvent struct {
	Index int `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

type messageDeltaEvent struct {
	Delta struct {
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type errorEvent struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
