// Package hostbackend implements the Backend Protocol's host-filesystem
// variant: operations run against a real directory tree rooted at a
// configured root, in "virtual mode" where paths beginning with "/" are
// sandboxed under that root (traversal and symlink escapes rejected via
// internal/backend/pathsec, generalized from
// internal/tools/filesystem.go's ReadFileTool path-security helpers).
package hostbackend

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/deepagent/internal/backend"
	"github.com/nextlevelbuilder/deepagent/internal/backend/pathsec"
	"github.com/nextlevelbuilder/deepagent/internal/state"
)

const defaultReadLimit = 500

// Backend is a host-filesystem-backed implementation of backend.Backend.
type Backend struct {
	Root            string
	Restrict        bool // virtual mode: "/" paths sandboxed under Root
	AllowedPrefixes []string
	DeniedPrefixes  []string
}

func New(root string, restrict bool) *Backend {
	return &Backend{Root: root, Restrict: restrict}
}

func (b *Backend) resolve(path string) (string, error) {
	resolved, err := pathsec.ResolveWithAllowed(path, b.Root, b.Restrict, b.AllowedPrefixes)
	if err != nil {
		return "", err
	}
	if err := pathsec.CheckDenied(resolved, b.Root, b.DeniedPrefixes); err != nil {
		return "", err
	}
	return resolved, nil
}

func (b *Backend) LsInfo(ctx context.Context, path string) ([]state.FileInfo, error) {
	resolved, err := b.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return []state.FileInfo{}, nil
		}
		return nil, err
	}

	out := make([]state.FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		fi := state.FileInfo{Path: e.Name()}
		if e.IsDir() {
			fi.Path += "/"
			fi.IsDir = true
		} else {
			fi.Size = info.Size()
		}
		mt := info.ModTime()
		fi.ModifiedAt = &mt
		out = append(out, fi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (b *Backend) Read(ctx context.Context, path string, offset, limit int) (string, error) {
	if limit == 0 {
		limit = defaultReadLimit
	}
	resolved, err := b.resolve(path)
	if err != nil {
		return fmt.Sprintf("Error: File '%s' not found", path), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return fmt.Sprintf("Error: File '%s' not found", path), nil
	}
	if len(data) == 0 {
		return "System reminder: File exists but has empty contents", nil
	}

	lines := splitLines(string(data))
	var sb strings.Builder
	end := offset + limit
	if end > len(lines) {
		end = len(lines)
	}
	for i := offset; i < end; i++ {
		fmt.Fprintf(&sb, "%6d\t%s\n", i+1, lines[i])
	}
	return strings.TrimSuffix(sb.String(), "\n"), nil
}

func (b *Backend) ReadRaw(ctx context.Context, path string) (*state.FileData, error) {
	resolved, err := b.resolve(path)
	if err != nil {
		return nil, fmt.Errorf("file_not_found")
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("file_not_found")
	}
	info, statErr := os.Stat(resolved)
	fd := &state.FileData{Content: splitLines(string(data))}
	if statErr == nil {
		fd.ModifiedAt = info.ModTime()
	}
	return fd, nil
}

func (b *Backend) Write(ctx context.Context, path, content string) (*backend.WriteResult, error) {
	resolved, err := b.resolve(path)
	if err != nil {
		return &backend.WriteResult{Error: err.Error()}, nil
	}
	if _, statErr := os.Stat(resolved); statErr == nil {
		return &backend.WriteResult{Error: fmt.Sprintf("file already exists: %s", path)}, nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return &backend.WriteResult{Error: err.Error()}, nil
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return &backend.WriteResult{Error: err.Error()}, nil
	}
	// Host backend mutates external storage directly; no files_update patch.
	return &backend.WriteResult{Path: path}, nil
}

func (b *Backend) Edit(ctx context.Context, path, oldText, newText string, replaceAll bool) (*backend.EditResult, error) {
	resolved, err := b.resolve(path)
	if err != nil {
		return &backend.EditResult{Error: err.Error()}, nil
	}
	data, readErr := os.ReadFile(resolved)
	content := string(data)
	exists := readErr == nil

	if oldText == "" {
		if exists && content != "" {
			return &backend.EditResult{Error: "old_text must be non-empty on a non-empty file"}, nil
		}
		if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
			return &backend.EditResult{Error: err.Error()}, nil
		}
		if err := os.WriteFile(resolved, []byte(newText), 0o644); err != nil {
			return &backend.EditResult{Error: err.Error()}, nil
		}
		return &backend.EditResult{Path: path, Occurrences: 0}, nil
	}

	if !exists {
		return &backend.EditResult{Error: fmt.Sprintf("File '%s' not found", path)}, nil
	}

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
	if err := os.WriteFile(resolved, []byte(replaced), 0o644); err != nil {
		return &backend.EditResult{Error: err.Error()}, nil
	}
	return &backend.EditResult{Path: path, Occurrences: occurrences}, nil
}

func (b *Backend) GrepRaw(ctx context.Context, pattern, path, glob string) ([]state.GrepMatch, error) {
	root := b.Root
	if path != "" {
		resolved, err := b.resolve(path)
		if err != nil {
			return nil, err
		}
		root = resolved
	}

	var matches []state.GrepMatch
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if glob != "" {
			if ok, _ := filepath.Match(glob, filepath.Base(p)); !ok {
				return nil
			}
		}
		f, openErr := os.Open(p)
		if openErr != nil {
			return nil
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			text := scanner.Text()
			if strings.Contains(text, pattern) {
				rel, _ := filepath.Rel(b.Root, p)
				matches = append(matches, state.GrepMatch{Path: "/" + filepath.ToSlash(rel), Line: lineNo, Text: text})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
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
	root := b.Root
	if path != "" {
		resolved, err := b.resolve(path)
		if err != nil {
			return nil, err
		}
		root = resolved
	}

	var out []state.FileInfo
	recursive := strings.Contains(pattern, "**")
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		rel = filepath.ToSlash(rel)
		var ok bool
		if recursive {
			ok = matchDoubleStarGlob(pattern, rel)
		} else {
			ok, _ = filepath.Match(pattern, filepath.Base(p))
		}
		if !ok {
			return nil
		}
		info, statErr := d.Info()
		fi := state.FileInfo{Path: "/" + rel}
		if statErr == nil {
			fi.Size = info.Size()
			mt := info.ModTime()
			fi.ModifiedAt = &mt
		}
		out = append(out, fi)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// matchDoubleStarGlob supports "**" crossing directory separators, on top
// of filepath.Match's single-segment "*", "?", "[...]".
func matchDoubleStarGlob(pattern, path string) bool {
	regexLike := strings.ReplaceAll(pattern, "**", "\x00")
	regexLike = strings.ReplaceAll(regexLike, "\x00", ".*")
	ok, err := filepath.Match(regexLike, path)
	if err == nil && ok {
		return true
	}
	// filepath.Match treats "/" specially; fall back to a simple suffix/
	// prefix heuristic for the common "**/*.ext" and "dir/**" shapes.
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return strings.HasPrefix(path, prefix+"/")
	}
	if idx := strings.Index(pattern, "**/"); idx >= 0 {
		suffix := pattern[idx+len("**/"):]
		m, _ := filepath.Match(suffix, filepath.Base(path))
		return m
	}
	return false
}

func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{UploadFiles: true, DownloadFiles: true}
}

func (b *Backend) UploadFiles(ctx context.Context, items []backend.UploadItem) ([]backend.UploadItem, error) {
	out := make([]backend.UploadItem, len(items))
	for i, item := range items {
		resolved, err := b.resolve(item.Path)
		if err != nil {
			out[i] = backend.UploadItem{Path: item.Path, Error: err.Error()}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
			out[i] = backend.UploadItem{Path: item.Path, Error: err.Error()}
			continue
		}
		if err := os.WriteFile(resolved, item.Bytes, 0o644); err != nil {
			out[i] = backend.UploadItem{Path: item.Path, Error: err.Error()}
			continue
		}
		out[i] = backend.UploadItem{Path: item.Path}
	}
	return out, nil
}

func (b *Backend) DownloadFiles(ctx context.Context, paths []string) ([]backend.DownloadItem, error) {
	out := make([]backend.DownloadItem, len(paths))
	for i, p := range paths {
		resolved, err := b.resolve(p)
		if err != nil {
			out[i] = backend.DownloadItem{Path: p, Error: err.Error()}
			continue
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			out[i] = backend.DownloadItem{Path: p, Error: err.Error()}
			continue
		}
		out[i] = backend.DownloadItem{Path: p, Bytes: data}
	}
	return out, nil
}

func (b *Backend) Execute(ctx context.Context, command string) (*backend.ExecResult, error) {
	return nil, &backend.UnsupportedError{Op: "execute"}
}

func splitLines(s string) []string {
	if s == "" {
		return []string{""}
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
