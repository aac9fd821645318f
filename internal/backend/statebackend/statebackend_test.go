package statebackend

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/deepagent/internal/state"
)

func TestWriteReadEditRoundtrip(t *testing.T) {
	ctx := context.Background()
	files := make(state.Files)
	b := New(files)

	wres, err := b.Write(ctx, "/notes.txt", "hello world")
	if err != nil || wres.Error != "" {
		t.Fatalf("write failed: %v %+v", err, wres)
	}
	files = state.MergeFiles(files, wres.FilesUpdate)
	b = New(files)

	got, err := b.Read(ctx, "/notes.txt", 0, 0)
	if err != nil || got != "     1\thello world" {
		t.Fatalf("unexpected read: %v %q", err, got)
	}

	eres, err := b.Edit(ctx, "/notes.txt", "hello", "hi", false)
	if err != nil || eres.Error != "" || eres.Occurrences != 1 {
		t.Fatalf("edit failed: %v %+v", err, eres)
	}
	files = state.MergeFiles(files, eres.FilesUpdate)
	b = New(files)

	got, err = b.Read(ctx, "/notes.txt", 0, 0)
	if err != nil || got != "     1\thi world" {
		t.Fatalf("unexpected post-edit read: %v %q", err, got)
	}
}

func TestWriteNeverMutatesInPlace(t *testing.T) {
	ctx := context.Background()
	files := make(state.Files)
	b := New(files)
	res, err := b.Write(ctx, "/a.txt", "x")
	if err != nil {
		t.Fatal(err)
	}
	if _, present := files["/a.txt"]; present {
		t.Fatalf("Write must not mutate the snapshot it was constructed with")
	}
	if _, present := res.FilesUpdate["/a.txt"]; !present {
		t.Fatalf("expected a files_update patch for the new file")
	}
}
