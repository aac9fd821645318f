// Package statebackend implements the Backend Protocol's state-checkpointed
// variant: files live inside the agent's AgentState.Files map rather than on
// disk, and every mutation returns a files_update patch for the engine to
// merge rather than mutating in place — this is what lets reference-identity
// diffing (state.DiffFiles) work for sub-agent reconciliation.
package statebackend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nextlevelbuilder/deepagent/internal/backend"
	"github.com/nextlevelbuilder/deepagent/internal/state"
)

const defaultReadLimit = 500

// Backend reads a consistent snapshot of files taken at construction time;
// kernel wiring constructs a fresh Backend per request via a
// backend.Factory so state-aware backends always see the current snapshot.
type Backend struct {
	files state.Files
}

func New(files state.Files) *Backend {
	if files == nil {
		files = make(state.Files)
	}
	return &Backend{files: files}
}

// Factory adapts New to the backend.Factory shape expected by the kernel.
func Factory(s *state.AgentState, _ any) backend.Backend {
	return New(s.Files)
}

func (b *Backend) LsInfo(ctx context.Context, path string) ([]state.FileInfo, error) {
	prefix := normalizeDir(path)
	seen := map[string]bool{}
	var out []state.FileInfo
	for p, data := range b.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if rest == "" {
			continue
		}
		if idx := strings.Index(rest, "/"); idx >= 0 {
			dirName := rest[:idx+1]
			if !seen[dirName] {
				seen[dirName] = true
				out = append(out, state.FileInfo{Path: dirName, IsDir: true})
			}
			continue
		}
		mt := data.ModifiedAt
		out = append(out, state.FileInfo{Path: rest, Size: totalLen(data.Content), ModifiedAt: &mt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (b *Backend) Read(ctx context.Context, path string, offset, limit int) (string, error) {
	if limit == 0 {
		limit = defaultReadLimit
	}
	data, ok := b.files[path]
	if !ok {
		return fmt.Sprintf("Error: File '%s' not found", path), nil
	}
	if len(data.Content) == 0 || (len(data.Content) == 1 && data.Content[0] == "") {
		return "System reminder: File exists but has empty contents", nil
	}

	var sb strings.Builder
	end := offset + limit
	if end > len(data.Content) {
		end = len(data.Content)
	}
	for i := offset; i < end; i++ {
		fmt.Fprintf(&sb, "%6d\t%s\n", i+1, data.Content[i])
	}
	return strings.TrimSuffix(sb.String(), "\n"), nil
}

func (b *Backend) ReadRaw(ctx context.Context, path string) (*state.FileData, error) {
	data, ok := b.files[path]
	if !ok {
		return nil, fmt.Errorf("file_not_found")
	}
	return data, nil
}

func (b *Backend) Write(ctx context.Context, path, content string) (*backend.WriteResult, error) {
	if _, exists := b.files[path]; exists {
		return &backend.WriteResult{Error: fmt.Sprintf("file already exists: %s", path)}, nil
	}
	now := time.Now()
	var fd *state.FileData
	if content == "" {
		fd = state.NewEmptyFile(now)
	} else {
		fd = &state.FileData{Content: splitLines(content), CreatedAt: now, ModifiedAt: now}
	}
	return &backend.WriteResult{Path: path, FilesUpdate: state.Files{path: fd}}, nil
}

func (b *Backend) Edit(ctx context.Context, path, oldText, newText string, replaceAll bool) (*backend.EditResult, error) {
	existing, exists := b.files[path]

	if oldText == "" {
		if exists && !isEmptyContent(existing.Content) {
			return &backend.EditResult{Error: "old_text must be non-empty on a non-empty file"}, nil
		}
		now := time.Now()
		fd := &state.FileData{Content: splitLines(newText), ModifiedAt: now}
		if exists {
			fd.CreatedAt = existing.CreatedAt
		} else {
			fd.CreatedAt = now
		}
		return &backend.EditResult{Path: path, Occurrences: 0, FilesUpdate: state.Files{path: fd}}, nil
	}

	if !exists {
		return &backend.EditResult{Error: fmt.Sprintf("File '%s' not found", path)}, nil
	}

	content := strings.Join(existing.Content, "\n")
	count := strings.Count(content, oldText)
	if count == 0 {
		return &backend.EditResult{Error: fmt.Sprintf("text not found in %s", path)}, nil
	}
	if count > 1 && !replaceAll {
		return &backend.EditResult{Error: fmt.Sprintf("%d matches found; pass replace_all to replace them all", count)}, nil
	}

	var replaced string
	occurrences := count
	if replaceAll {
		replaced = strings.ReplaceAll(content, oldText, newText)
	} else {
		replaced = strings.Replace(content, oldText, newText, 1)
		occurrences = 1
	}

	fd := &state.FileData{Content: splitLines(replaced), CreatedAt: existing.CreatedAt, ModifiedAt: time.Now()}
	return &backend.EditResult{Path: path, Occurrences: occurrences, FilesUpdate: state.Files{path: fd}}, nil
}

func (b *Backend) GrepRaw(ctx context.Context, pattern, path, glob string) ([]state.GrepMatch, error) {
	prefix := normalizeDir(path)
	var matches []state.GrepMatch
	for p, data := range b.files {
		if path != "" && !strings.HasPrefix(p, prefix) {
			continue
		}
		if glob != "" {
			base := p
			if idx := strings.LastIndex(p, "/"); idx >= 0 {
				base = p[idx+1:]
			}
			if ok, _ := filepathMatch(glob, base); !ok {
				continue
			}
		}
		for i, line := range data.Content {
			if strings.Contains(line, pattern) {
				matches = append(matches, state.GrepMatch{Path: p, Line: i + 1, Text: line})
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Path != matches[j].Path {
			return matches[i].Path < matches[j].Path
		}
		return matches[i].Line < matches[j].Line
	})
	return matches, nil
}

func (b *Backend) GlobInfo(ctx context.Context, pattern, path string) ([]state.FileInfo, error) {
	prefix := normalizeDir(path)
	var out []state.FileInfo
	for p, data := range b.files {
		if path != "" && !strings.HasPrefix(p, prefix) {
			continue
		}
		rel := strings.TrimPrefix(p, prefix)
		if ok, _ := filepathMatch(pattern, rel); ok {
			mt := data.ModifiedAt
			out = append(out, state.FileInfo{Path: p, Size: totalLen(data.Content), ModifiedAt: &mt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (b *Backend) Capabilities() backend.Capabilities { return backend.Capabilities{} }

func (b *Backend) UploadFiles(ctx context.Context, items []backend.UploadItem) ([]backend.UploadItem, error) {
	return nil, &backend.UnsupportedError{Op: "upload_files"}
}

func (b *Backend) DownloadFiles(ctx context.Context, paths []string) ([]backend.DownloadItem, error) {
	return nil, &backend.UnsupportedError{Op: "download_files"}
}

func (b *Backend) Execute(ctx context.Context, command string) (*backend.ExecResult, error) {
	return nil, &backend.UnsupportedError{Op: "execute"}
}

func normalizeDir(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return path
}

func isEmptyContent(lines []string) bool {
	return len(lines) == 0 || (len(lines) == 1 && lines[0] == "")
}

func splitLines(s string) []string {
	if s == "" {
		return []string{""}
	}
	return strings.Split(s, "\n")
}

func totalLen(lines []string) int64 {
	n := int64(0)
	for i, l := range lines {
		if i > 0 {
			n++
		}
		n += int64(len(l))
	}
	return n
}

// filepathMatch supports "*"/"?"/"[...]" plus "**" crossing "/", matching
// the glob_info contract; thin wrapper so this package doesn't need a
// path/filepath import solely for Match semantics on non-OS paths. "**" is
// rewritten to a "\x00" marker that globMatchRunes lets cross "/".
func filepathMatch(pattern, name string) (bool, error) {
	if strings.Contains(pattern, "**") {
		regexLike := strings.ReplaceAll(pattern, "**", "\x00")
		return simpleGlobMatch(regexLike, name), nil
	}
	return simpleGlobMatch(pattern, name), nil
}

// simpleGlobMatch implements *, ?, [...] over POSIX-style state paths
// regardless of host OS (invariant #5): "*" never matches "/", while the
// "\x00" marker filepathMatch substitutes for "**" matches anything.
func simpleGlobMatch(pattern, name string) bool {
	return globMatchRunes([]rune(pattern), []rune(name))
}

func globMatchRunes(pattern, name []rune) bool {
	if len(pattern) == 0 {
		return len(name) == 0
	}
	switch pattern[0] {
	case '*', '\x00':
		if globMatchRunes(pattern[1:], name) {
			return true
		}
		for i := 0; i < len(name); i++ {
			if pattern[0] == '*' && name[i] == '/' {
				return false
			}
			if globMatchRunes(pattern[1:], name[i+1:]) {
				return true
			}
		}
		return false
	case '?':
		if len(name) == 0 {
			return false
		}
		return globMatchRunes(pattern[1:], name[1:])
	case '[':
		if len(name) == 0 {
			return false
		}
		closeIdx := indexRune(pattern, ']')
		if closeIdx < 0 {
			return false
		}
		class := pattern[1:closeIdx]
		if !runeInClass(class, name[0]) {
			return false
		}
		return globMatchRunes(pattern[closeIdx+1:], name[1:])
	default:
		if len(name) == 0 || pattern[0] != name[0] {
			return false
		}
		return globMatchRunes(pattern[1:], name[1:])
	}
}

func indexRune(runes []rune, target rune) int {
	for i, r := range runes {
		if r == target {
			return i
		}
	}
	return -1
}

func runeInClass(class []rune, r rune) bool {
	for i := 0; i < len(class); i++ {
		if i+2 < len(class) && class[i+1] == '-' {
			if class[i] <= r && r <= class[i+2] {
				return true
			}
			i += 2
			continue
		}
		if class[i] == r {
			return true
		}
	}
	return false
}
