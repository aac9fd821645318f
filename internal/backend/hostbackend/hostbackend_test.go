package hostbackend

import (
	"context"
	"testing"
)

func TestWriteReadEditRoundtrip(t *testing.T) {
	ctx := context.Background()
	b := New(t.TempDir(), true)

	if res, err := b.Write(ctx, "/notes.txt", "hello world"); err != nil || res.Error != "" {
		t.Fatalf("write failed: %v %+v", err, res)
	}

	got, err := b.Read(ctx, "/notes.txt", 0, 0)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if got != "     1\thello world" {
		t.Fatalf("unexpected read output: %q", got)
	}

	edit, err := b.Edit(ctx, "/notes.txt", "hello", "hi", false)
	if err != nil || edit.Error != "" || edit.Occurrences != 1 {
		t.Fatalf("edit failed: %v %+v", err, edit)
	}

	got, err = b.Read(ctx, "/notes.txt", 0, 0)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if got != "     1\thi world" {
		t.Fatalf("unexpected post-edit read output: %q", got)
	}
}

func TestWriteFailsIfExists(t *testing.T) {
	ctx := context.Background()
	b := New(t.TempDir(), true)
	if _, err := b.Write(ctx, "/a.txt", "one"); err != nil {
		t.Fatal(err)
	}
	res, err := b.Write(ctx, "/a.txt", "two")
	if err != nil {
		t.Fatal(err)
	}
	if res.Error == "" {
		t.Fatalf("expected error writing to an existing file")
	}
}

func TestPathTraversalRejected(t *testing.T) {
	ctx := context.Background()
	b := New(t.TempDir(), true)
	res, err := b.Write(ctx, "/../../etc/passwd", "pwned")
	if err != nil {
		t.Fatal(err)
	}
	if res.Error == "" {
		t.Fatalf("expected traversal to be rejected")
	}
}

func TestReadEmptyFileSentinel(t *testing.T) {
	ctx := context.Background()
	b := New(t.TempDir(), true)
	if _, err := b.Write(ctx, "/empty.txt", ""); err != nil {
		t.Fatal(err)
	}
	got, err := b.Read(ctx, "/empty.txt", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != "System reminder: File exists but has empty contents" {
		t.Fatalf("unexpected sentinel: %q", got)
	}
}

func TestReadMissingFile(t *testing.T) {
	ctx := context.Background()
	b := New(t.TempDir(), true)
	got, err := b.Read(ctx, "/missing.txt", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != "Error: File '/missing.txt' not found" {
		t.Fatalf("unexpected message: %q", got)
	}
}
