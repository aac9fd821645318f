package state

import "time"

// FileData is the content of one virtual file, plus timestamps. Equality of
// two *FileData pointers (not their content) is what the runtime treats as
// "unchanged" — see DiffFiles.
type FileData struct {
	Content    []string  `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// NewEmptyFile returns the canonical empty file: one empty-string line.
func NewEmptyFile(now time.Time) *FileData {
	return &FileData{Content: []string{""}, CreatedAt: now, ModifiedAt: now}
}

// FileInfo is a non-recursive listing record. Directories carry a trailing
// "/" in Path and IsDir=true.
type FileInfo struct {
	Path       string     `json:"path"`
	IsDir      bool       `json:"is_dir,omitempty"`
	Size       int64      `json:"size,omitempty"`
	ModifiedAt *time.Time `json:"modified_at,omitempty"`
}

// GrepMatch is one line matched by a literal-substring grep, 1-indexed.
type GrepMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Files is the state's path -> FileData mapping.
type Files map[string]*FileData

// DiffFiles returns the keys present in post whose *FileData pointer differs
// from pre's (or that are entirely new in post). Content equality is
// deliberately not used: two sub-agents that each rewrite the same path with
// identical bytes would otherwise appear as "no change" to one of them and
// silently drop the other's intent to have written it. Reference identity
// is the correctness-preserving choice (invariant #3).
func DiffFiles(pre, post Files) Files {
	out := make(Files)
	for path, postData := range post {
		preData, existed := pre[path]
		if !existed || preData != postData {
			out[path] = postData
		}
	}
	return out
}

// MergeFiles applies a files update onto current with last-write-wins
// semantics per path. Nil entries in update delete the path (used by
// backends that need to express "this file no longer exists").
func MergeFiles(current Files, update Files) Files {
	if update == nil {
		return current
	}
	next := make(Files, len(current)+len(update))
	for k, v := range current {
		next[k] = v
	}
	for k, v := range update {
		if v == nil {
			delete(next, k)
			continue
		}
		next[k] = v
	}
	return next
}
