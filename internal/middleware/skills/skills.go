// Package skills implements the Skills/Memory Middleware (SPEC_FULL.md
// §4.H): at startup it loads SKILL.md/AGENTS.md-style files from configured
// source paths, parses their front matter, and prepends a compact index to
// the system prompt. It never mutates persistent state.
package skills

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/deepagent/internal/kernel"
	"github.com/nextlevelbuilder/deepagent/internal/state"
	"github.com/nextlevelbuilder/deepagent/internal/tracing"
)

// Entry is one parsed skill or memory file.
type Entry struct {
	Name        string
	Description string
	Path        string
	Body        string
	MaxBodyLen  int
}

// Source is one configured directory to scan, tagged by which filename
// pattern it scans for. Sources are applied in order; later sources
// override earlier ones on name collision (last-wins, §4.H).
type Source struct {
	Dir      string
	FileName string // "SKILL.md" or "AGENTS.md"
	IsMemory bool
}

const defaultMaxBodyLen = 4000

// Config configures the middleware.
type Config struct {
	Sources     []Source
	ExtraKey    string // Extra map key this middleware stores its index under; defaults to "skills_metadata"
	Watch       bool   // enable fsnotify-based cache invalidation
}

// Middleware is the Skills/Memory Middleware.
type Middleware struct {
	kernel.Base
	cfg Config

	mu      sync.Mutex
	loaded  bool
	index   string
	watcher *fsnotify.Watcher
	dirty   bool
}

func New(cfg Config) *Middleware {
	return &Middleware{cfg: cfg}
}

func (m *Middleware) Name() string { return "skills" }

// BeforeModel loads the index on first call (and whenever fsnotify has
// flagged the cache dirty), then stashes it in state.Extra for the kernel's
// system-prompt builder to prepend.
func (m *Middleware) BeforeModel(ctx context.Context, s *state.AgentState) (*state.AgentState, *kernel.Command, error) {
	_, span := tracing.StartPhaseSpan(ctx, m.Name(), "before_model")
	defer span.End()

	m.mu.Lock()
	needsLoad := !m.loaded || m.dirty
	m.mu.Unlock()

	if needsLoad {
		index, err := m.rebuild()
		if err != nil {
			return s, nil, nil
		}
		m.mu.Lock()
		m.index = index
		m.loaded = true
		m.dirty = false
		m.mu.Unlock()
		if m.cfg.Watch && m.watcher == nil {
			m.startWatch()
		}
	}

	m.mu.Lock()
	index := m.index
	m.mu.Unlock()
	if index == "" {
		return s, nil, nil
	}

	next := s.Clone()
	if next.Extra == nil {
		next.Extra = make(map[string]any)
	}
	key := m.cfg.ExtraKey
	if key == "" {
		key = "skills_metadata"
	}
	next.Extra[key] = index
	return next, nil, nil
}

func (m *Middleware) rebuild() (string, error) {
	byName := make(map[string]Entry)
	for _, src := range m.cfg.Sources {
		entries, err := scanSource(src)
		if err != nil {
			continue
		}
		for _, e := range entries {
			byName[e.Name] = e // last source wins on collision
		}
	}
	if len(byName) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("<available_skills>\n")
	for _, e := range byName {
		fmt.Fprintf(&sb, "  <skill name=%q path=%q>%s</skill>\n", e.Name, e.Path, e.Description)
	}
	sb.WriteString("</available_skills>\n")
	return sb.String(), nil
}

func scanSource(src Source) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(src.Dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || d.Name() != src.FileName {
			return nil
		}
		e, perr := parseFile(path, src.IsMemory)
		if perr != nil {
			return nil
		}
		entries = append(entries, e)
		return nil
	})
	return entries, err
}

// parseFile parses a SKILL.md/AGENTS.md front-matter block (JSON5-ish:
// `---\n{ name: "...", description: "...", max_body_len: 2000 }\n---`)
// followed by the body. Grounded in internal/config/config_load.go's json5
// parsing idiom, adapted from whole-file config to a front-matter header.
func parseFile(path string, isMemory bool) (Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return Entry{}, err
	}
	defer f.Close()

	var frontMatter, body strings.Builder
	scanner := bufio.NewScanner(f)
	inFront := false
	sawFront := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "---" {
			if !sawFront {
				inFront = true
				sawFront = true
				continue
			}
			inFront = false
			continue
		}
		if inFront {
			frontMatter.WriteString(line)
			frontMatter.WriteString("\n")
		} else {
			body.WriteString(line)
			body.WriteString("\n")
		}
	}

	type meta struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		MaxBodyLen  int    `json:"max_body_len"`
	}
	var m meta
	if frontMatter.Len() > 0 {
		_ = json5.Unmarshal([]byte("{"+frontMatter.String()+"}"), &m)
	}
	if m.Name == "" {
		m.Name = filepath.Base(filepath.Dir(path))
	}
	if m.MaxBodyLen <= 0 {
		m.MaxBodyLen = defaultMaxBodyLen
	}

	bodyText := body.String()
	truncated := bodyText
	if len(truncated) > m.MaxBodyLen {
		truncated = truncated[:m.MaxBodyLen] + "\n[truncated]"
	}

	return Entry{
		Name:        m.Name,
		Description: m.Description,
		Path:        path,
		Body:        truncated,
		MaxBodyLen:  m.MaxBodyLen,
	}, nil
}

// startWatch installs an fsnotify watcher over every configured source
// directory, marking the cache dirty on any write/create/remove event
// rather than relying on a lazy mtime check at next request (§4.H).
func (m *Middleware) startWatch() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	for _, src := range m.cfg.Sources {
		_ = watcher.Add(src.Dir)
	}
	m.watcher = watcher
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					m.mu.Lock()
					m.dirty = true
					m.mu.Unlock()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// Close releases the fsnotify watcher, if one was started.
func (m *Middleware) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
