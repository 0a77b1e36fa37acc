// Package memory implements the agent's long-term store: an append-only
// entry log plus a JSON index, with substring-token search.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	indexFile = "index.json"
	logFile   = "entries.jsonl"

	// DefaultSearchLimit caps search results when the caller passes 0.
	DefaultSearchLimit = 5

	snippetWindow = 160
)

// Entry is one remembered item.
type Entry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// SearchHit pairs an entry with its score and a snippet around the first
// matching token.
type SearchHit struct {
	Entry   Entry
	Score   int
	Snippet string
}

// Store holds the in-memory entry list backed by dir/index.json and an
// append log. Safe for concurrent use: a single mutex serializes writes
// and the index rewrite behind them.
type Store struct {
	dir string

	mu      sync.Mutex
	entries []Entry
}

// Open loads the index from dir, creating the directory if needed. A
// missing index yields an empty store.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("memory: create dir: %w", err)
	}
	s := &Store{dir: dir}

	data, err := os.ReadFile(filepath.Join(dir, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("memory: read index: %w", err)
	}
	var idx struct {
		Entries []Entry `json:"entries"`
	}
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("memory: parse index: %w", err)
	}
	s.entries = idx.Entries
	return s, nil
}

// Add appends a new entry and persists the index.
func (s *Store) Add(content string, tags []string) (Entry, error) {
	entry := Entry{
		ID:        uuid.NewString(),
		Content:   content,
		Tags:      tags,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)

	if err := s.appendLog(entry); err != nil {
		return Entry{}, err
	}
	if err := s.writeIndex(); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// GetByID returns the full entry, or false when unknown.
func (s *Store) GetByID(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Count returns the number of stored entries.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Search tokenizes query on whitespace and scores each entry by how many
// query tokens occur as case-insensitive substrings of its content or
// tags. Ties break toward newer entries. Returns the top limit hits.
func (s *Store) Search(query string, limit int) []SearchHit {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	s.mu.Lock()
	entries := s.entries[:len(s.entries):len(s.entries)]
	s.mu.Unlock()

	var hits []SearchHit
	for i, e := range entries {
		lower := strings.ToLower(e.Content)
		tagText := strings.ToLower(strings.Join(e.Tags, " "))

		score := 0
		firstMatch := -1
		for _, tok := range tokens {
			idx := strings.Index(lower, tok)
			if idx < 0 && strings.Contains(tagText, tok) {
				idx = 0
			}
			if idx >= 0 {
				score++
				if firstMatch < 0 || idx < firstMatch {
					firstMatch = idx
				}
			}
		}
		if score == 0 {
			continue
		}
		hits = append(hits, SearchHit{
			Entry:   entries[i],
			Score:   score,
			Snippet: snippet(e.Content, firstMatch),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Entry.CreatedAt.After(hits[j].Entry.CreatedAt)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// snippet returns a window of content around the first match offset.
func snippet(content string, at int) string {
	if at < 0 {
		at = 0
	}
	start := at - snippetWindow/4
	if start < 0 {
		start = 0
	}
	end := start + snippetWindow
	if end > len(content) {
		end = len(content)
	}
	for start > 0 && !isRuneStart(content[start]) {
		start--
	}
	for end < len(content) && !isRuneStart(content[end]) {
		end++
	}
	snip := content[start:end]
	if start > 0 {
		snip = "..." + snip
	}
	if end < len(content) {
		snip += "..."
	}
	return snip
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func (s *Store) appendLog(entry Entry) error {
	f, err := os.OpenFile(filepath.Join(s.dir, logFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("memory: open log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("memory: marshal entry: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("memory: append log: %w", err)
	}
	return nil
}

func (s *Store) writeIndex() error {
	data, err := json.MarshalIndent(struct {
		Entries []Entry `json:"entries"`
	}{Entries: s.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("memory: marshal index: %w", err)
	}

	path := filepath.Join(s.dir, indexFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("memory: write index: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("memory: rename index: %w", err)
	}
	return nil
}
