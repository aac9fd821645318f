// Package backend defines the Backend Protocol: the abstract file-operation
// surface every filesystem-touching middleware is written against. Concrete
// variants (state-checkpointed, host-filesystem, sandboxed-shell) live in
// sibling packages and all satisfy the same Backend interface so the
// filesystem middleware, summarization middleware, and skills middleware
// never need to know which one is in play.
package backend

import (
	"context"

	"github.com/nextlevelbuilder/deepagent/internal/state"
)

// WriteResult is returned by Write. FilesUpdate is non-nil for
// state-checkpointed backends (the engine must merge it into state); it is
// nil when the backend already mutated external storage directly.
type WriteResult struct {
	Path        string
	Error       string
	FilesUpdate state.Files
}

// EditResult is returned by Edit.
type EditResult struct {
	Path        string
	Error       string
	FilesUpdate state.Files
	Occurrences int
}

// UploadItem is one file to upload in a batch; Error is set independently
// per item so a batch of 10 with one bad path still reports 9 successes.
type UploadItem struct {
	Path  string
	Bytes []byte
	Error string
}

// DownloadItem is one file downloaded in a batch.
type DownloadItem struct {
	Path  string
	Bytes []byte
	Error string
}

// ExecResult is returned by a sandbox-capable backend's Execute.
type ExecResult struct {
	Output    string // combined stdout+stderr
	ExitCode  int
	Truncated bool
}

// Backend is the full file-operation contract. Execute, UploadFiles, and
// DownloadFiles are optional: implementations that don't support them return
// an *UnsupportedError (ErrUnsupported itself, or one naming the operation),
// and callers check Capabilities() before invoking them.
type Backend interface {
	LsInfo(ctx context.Context, path string) ([]state.FileInfo, error)
	Read(ctx context.Context, path string, offset, limit int) (string, error)
	ReadRaw(ctx context.Context, path string) (*state.FileData, error)
	Write(ctx context.Context, path, content string) (*WriteResult, error)
	Edit(ctx context.Context, path, oldText, newText string, replaceAll bool) (*EditResult, error)
	GrepRaw(ctx context.Context, pattern, path, glob string) ([]state.GrepMatch, error)
	GlobInfo(ctx context.Context, pattern, path string) ([]state.FileInfo, error)

	Capabilities() Capabilities
	UploadFiles(ctx context.Context, items []UploadItem) ([]UploadItem, error)
	DownloadFiles(ctx context.Context, paths []string) ([]DownloadItem, error)
	Execute(ctx context.Context, command string) (*ExecResult, error)
}

// Capabilities reports which optional operations a Backend actually
// implements, so middleware can fail fast with a clear message instead of
// getting ErrUnsupported deep in a call stack.
type Capabilities struct {
	Execute       bool
	UploadFiles   bool
	DownloadFiles bool
}

// Factory builds a Backend that can see the current state snapshot and
// store reference. Required for the state-checkpointed variant; host and
// sandboxed-shell backends are typically passed as a plain Backend instance
// instead, per design note "Backend factory vs. instance".
type Factory func(s *state.AgentState, store any) Backend

// ErrUnsupported is the generic *UnsupportedError with no operation named.
// Some backends return their own *UnsupportedError naming the operation
// instead; errors.Is against ErrUnsupported does not match those.
var ErrUnsupported = &UnsupportedError{}

type UnsupportedError struct{ Op string }

func (e *UnsupportedError) Error() string {
	if e.Op == "" {
		return "backend: operation not supported"
	}
	return "backend: " + e.Op + " not supported"
}
