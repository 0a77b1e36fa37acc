// Package skills loads prompt-rewriting skills from workspace Markdown
// files. A skill is a Markdown file with YAML frontmatter (name,
// description, triggers) and a prompt body; when a trigger matches an
// incoming message, the message is rewritten around the skill prompt.
package skills

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

const frontmatterDelimiter = "---"

// Skill is one loaded skill definition.
type Skill struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Triggers    []string `yaml:"triggers"`
	Prompt      string   `yaml:"-"`
	Path        string   `yaml:"-"`
}

// LoadDir loads every *.md skill file directly under dir, sorted by name.
// Files that fail to parse are skipped with a warning; a missing directory
// yields an empty set.
func LoadDir(dir string) []Skill {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("skills: read dir failed", "dir", dir, "error", err)
		}
		return nil
	}

	var out []Skill
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		skill, err := ParseFile(path)
		if err != nil {
			slog.Warn("skills: skipping unparsable skill", "path", path, "error", err)
			continue
		}
		out = append(out, *skill)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ParseFile parses one skill file.
func ParseFile(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill: %w", err)
	}
	skill, err := Parse(data)
	if err != nil {
		return nil, err
	}
	skill.Path = path
	return skill, nil
}

// Parse parses skill file content: YAML frontmatter plus prompt body.
func Parse(data []byte) (*Skill, error) {
	frontmatter, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	var skill Skill
	if err := yaml.Unmarshal(frontmatter, &skill); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if skill.Name == "" {
		return nil, fmt.Errorf("skill name is required")
	}
	if len(skill.Triggers) == 0 {
		return nil, fmt.Errorf("skill %q has no triggers", skill.Name)
	}

	skill.Prompt = strings.TrimSpace(string(body))
	if skill.Prompt == "" {
		return nil, fmt.Errorf("skill %q has an empty prompt", skill.Name)
	}
	return &skill, nil
}

func splitFrontmatter(data []byte) ([]byte, []byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != frontmatterDelimiter {
		return nil, nil, fmt.Errorf("missing opening frontmatter delimiter")
	}

	var fm []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == frontmatterDelimiter {
			closed = true
			break
		}
		fm = append(fm, line)
	}
	if !closed {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter")
	}

	var body []string
	for scanner.Scan() {
		body = append(body, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return []byte(strings.Join(fm, "\n")), []byte(strings.Join(body, "\n")), nil
}

// Match scans text against each skill's triggers (case-insensitive
// substring, first skill in load order wins) and returns the matched
// skill plus the remainder of the text with the trigger removed.
func Match(loaded []Skill, text string) (*Skill, string, bool) {
	lower, offsets := foldWithOffsets(text)
	for i := range loaded {
		for _, trigger := range loaded[i].Triggers {
			t := strings.ToLower(strings.TrimSpace(trigger))
			if t == "" {
				continue
			}
			idx := strings.Index(lower, t)
			if idx < 0 {
				continue
			}
			start, end := offsets[idx], offsets[idx+len(t)]
			remainder := strings.TrimSpace(text[:start] + text[end:])
			return &loaded[i], remainder, true
		}
	}
	return nil, "", false
}

// foldWithOffsets lowercases s and maps every byte position of the
// result back to the original. Lowering can change byte length (U+0130
// folds to a one-byte 'i'), so indexes into the folded string cannot be
// used to slice s directly. offsets has one extra entry for len(folded).
func foldWithOffsets(s string) (string, []int) {
	var b strings.Builder
	b.Grow(len(s))
	offsets := make([]int, 0, len(s)+1)
	for i, r := range s {
		lr := unicode.ToLower(r)
		for n := utf8.RuneLen(lr); n > 0; n-- {
			offsets = append(offsets, i)
		}
		b.WriteRune(lr)
	}
	offsets = append(offsets, len(s))
	return b.String(), offsets
}

// Rewrite produces the message sent in place of the user's text when a
// skill matched.
func Rewrite(skill *Skill, remainder string) string {
	return skill.Prompt + "\n\n用户请求: " + remainder
}
