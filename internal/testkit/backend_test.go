package testkit_test

import (
	"context"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/deepagent/internal/testkit"
)

func TestMemoryBackend_WriteReadGrepGlob(t *testing.T) {
	b := testkit.NewMemoryBackend()
	ctx := context.Background()

	if _, err := b.Write(ctx, "/notes/todo.md", "buy milk\nwalk the dog"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out, err := b.Read(ctx, "/notes/todo.md", 0, 10)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !strings.Contains(out, "buy milk") {
		t.Fatalf("unexpected read output: %q", out)
	}

	matches, err := b.GrepRaw(ctx, "dog", "", "")
	if err != nil {
		t.Fatalf("GrepRaw: %v", err)
	}
	if len(matches) != 1 || matches[0].Path != "/notes/todo.md" {
		t.Fatalf("unexpected grep matches: %+v", matches)
	}

	infos, err := b.GlobInfo(ctx, "*.md", "/notes")
	if err != nil {
		t.Fatalf("GlobInfo: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("expected 1 glob match, got %d", len(infos))
	}
}

func TestMemoryBackend_WriteFailsIfFileExists(t *testing.T) {
	b := testkit.NewMemoryBackend()
	ctx := context.Background()

	if _, err := b.Write(ctx, "/a.txt", "x"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	res, err := b.Write(ctx, "/a.txt", "y")
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res.Error == "" {
		t.Fatalf("expected an error writing over an existing file")
	}
}

func TestMemoryBackend_EditReplacesUniqueOccurrence(t *testing.T) {
	b := testkit.NewMemoryBackend()
	ctx := context.Background()
	if _, err := b.Write(ctx, "/a.txt", "hello world"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	res, err := b.Edit(ctx, "/a.txt", "world", "there", false)
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if res.Error != "" {
		t.Fatalf("unexpected edit error: %s", res.Error)
	}
	if res.Occurrences != 1 {
		t.Fatalf("expected 1 occurrence replaced, got %d", res.Occurrences)
	}

	out, _ := b.Read(ctx, "/a.txt", 0, 10)
	if !strings.Contains(out, "hello there") {
		t.Fatalf("expected edited content, got %q", out)
	}
}

func TestMemoryBackend_EditFailsWhenOldStringMissing(t *testing.T) {
	b := testkit.NewMemoryBackend()
	ctx := context.Background()
	if _, err := b.Write(ctx, "/a.txt", "hello world"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	res, err := b.Edit(ctx, "/a.txt", "goodbye", "hi", false)
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if res.Error == "" {
		t.Fatalf("expected an error when old_string is not found")
	}
}
