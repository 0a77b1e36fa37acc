package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	tavilySearchURL        = "https://api.tavily.com/search"
	defaultSearchResults   = 5
	defaultResearchModel   = "standard"
	searchRequestTimeout   = 30 * time.Second
	researchRequestTimeout = 120 * time.Second
)

// SearchTool queries an external web search API.
type SearchTool struct {
	APIKey string
	Client *http.Client
}

func NewSearchTool(apiKey string) *SearchTool {
	return &SearchTool{APIKey: apiKey, Client: &http.Client{Timeout: searchRequestTimeout}}
}

func (t *SearchTool) Name() string        { return "search" }
func (t *SearchTool) Description() string { return "Search the web" }
func (t *SearchTool) InputSchema() map[string]any {
	return schemaObject(map[string]any{
		"query":        prop("string", "Search query"),
		"max_results":  prop("integer", "Maximum results (default 5)"),
		"search_depth": prop("string", "basic or advanced"),
		"topic":        prop("string", "general or news"),
	}, "query")
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]any, _ *Context) string {
	if t.APIKey == "" {
		return Errorf("search API key not configured")
	}
	query := strArg(args, "query")
	if query == "" {
		return Errorf("query is required")
	}

	body := map[string]any{
		"api_key":     t.APIKey,
		"query":       query,
		"max_results": intArg(args, "max_results", defaultSearchResults),
	}
	if depth := strArg(args, "search_depth"); depth != "" {
		body["search_depth"] = depth
	}
	if topic := strArg(args, "topic"); topic != "" {
		body["topic"] = topic
	}

	var resp struct {
		Answer  string `json:"answer"`
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := postJSON(ctx, t.Client, tavilySearchURL, body, &resp); err != nil {
		return Errorf("search failed: %v", err)
	}

	var b strings.Builder
	if resp.Answer != "" {
		b.WriteString(resp.Answer)
		b.WriteString("\n\n")
	}
	for i, r := range resp.Results {
		fmt.Fprintf(&b, "%d. %s\n%s\n%s\n\n", i+1, r.Title, r.URL, r.Content)
	}
	if b.Len() == 0 {
		return "No results."
	}
	return strings.TrimSpace(b.String())
}

// ResearchTool runs a deeper multi-source search pass.
type ResearchTool struct {
	APIKey string
	Client *http.Client
}

func NewResearchTool(apiKey string) *ResearchTool {
	return &ResearchTool{APIKey: apiKey, Client: &http.Client{Timeout: researchRequestTimeout}}
}

func (t *ResearchTool) Name() string        { return "research" }
func (t *ResearchTool) Description() string { return "Research a topic in depth across sources" }
func (t *ResearchTool) InputSchema() map[string]any {
	return schemaObject(map[string]any{
		"topic": prop("string", "Topic to research"),
		"model": prop("string", "Research effort level"),
	}, "topic")
}

func (t *ResearchTool) Execute(ctx context.Context, args map[string]any, _ *Context) string {
	if t.APIKey == "" {
		return Errorf("search API key not configured")
	}
	topic := strArg(args, "topic")
	if topic == "" {
		return Errorf("topic is required")
	}
	model := strArg(args, "model")
	if model == "" {
		model = defaultResearchModel
	}

	body := map[string]any{
		"api_key":            t.APIKey,
		"query":              topic,
		"search_depth":       "advanced",
		"include_answer":     true,
		"include_raw_content": model == "deep",
		"max_results":        10,
	}

	var resp struct {
		Answer  string `json:"answer"`
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := postJSON(ctx, t.Client, tavilySearchURL, body, &resp); err != nil {
		return Errorf("research failed: %v", err)
	}

	var b strings.Builder
	if resp.Answer != "" {
		b.WriteString(resp.Answer)
		b.WriteString("\n\nSources:\n")
	}
	for _, r := range resp.Results {
		fmt.Fprintf(&b, "- %s (%s)\n", r.Title, r.URL)
	}
	if b.Len() == 0 {
		return "No research results."
	}
	return strings.TrimSpace(b.String())
}

func postJSON(ctx context.Context, client *http.Client, url string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
