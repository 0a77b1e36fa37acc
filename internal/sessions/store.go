package sessions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Store persists per-session message history as one line-delimited JSON file
// per session key (filename = URL-encoded key + ".jsonl"). Sessions are
// loaded lazily on first access and flushed on every append.
//
// The store tolerates a trailing partial line left by a crash: the broken
// line is discarded on load and overwritten by the next append.
type Store struct {
	dir string

	mu     sync.RWMutex
	loaded map[string][]Message
}

// NewStore creates a session store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Store{dir: dir, loaded: make(map[string][]Message)}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) pathFor(key string) string {
	return filepath.Join(s.dir, url.QueryEscape(key)+".jsonl")
}

// Append adds a message to the session and flushes it to disk.
func (s *Store) Append(key string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.loaded[key]; !ok {
		s.loaded[key] = s.loadFile(key)
	}

	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	f, err := os.OpenFile(s.pathFor(key), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append session file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync session file: %w", err)
	}

	s.loaded[key] = append(s.loaded[key], msg)
	return nil
}

// History returns a copy of the session's messages, loading lazily.
func (s *Store) History(key string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, ok := s.loaded[key]
	if !ok {
		msgs = s.loadFile(key)
		s.loaded[key] = msgs
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// MessageCount returns the number of messages in a session.
func (s *Store) MessageCount(key string) int {
	return len(s.History(key))
}

// Reset deletes the session file and drops the cached history.
func (s *Store) Reset(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.loaded, key)
	if err := os.Remove(s.pathFor(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// List returns all known session keys (on disk plus in memory), sorted.
func (s *Store) List() []string {
	s.mu.RLock()
	keys := make(map[string]bool, len(s.loaded))
	for k := range s.loaded {
		keys[k] = true
	}
	s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err == nil {
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".jsonl") {
				continue
			}
			key, err := url.QueryUnescape(strings.TrimSuffix(name, ".jsonl"))
			if err != nil {
				continue
			}
			keys[key] = true
		}
	}

	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// loadFile reads a session file, discarding any trailing partial line.
// Caller holds the lock.
func (s *Store) loadFile(key string) []Message {
	f, err := os.Open(s.pathFor(key))
	if err != nil {
		return nil
	}
	defer f.Close()

	var msgs []Message
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var m Message
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			// A broken line is either crash debris at the tail or
			// corruption; skip it and keep loading.
			slog.Warn("sessions: skipping unreadable line", "session", key, "error", err)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs
}
