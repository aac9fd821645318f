package local

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestExecuteRunsCommand(t *testing.T) {
	b := New("sbx-1", t.TempDir(), true)
	res, err := b.Execute(context.Background(), "echo hello")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(res.Output) != "hello" || res.ExitCode != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExecuteDeniesDestructivePattern(t *testing.T) {
	b := New("sbx-2", t.TempDir(), true)
	_, err := b.Execute(context.Background(), "rm -rf /")
	if err == nil {
		t.Fatalf("expected rm -rf to be denied")
	}
}

func TestExecuteTimesOut(t *testing.T) {
	b := New("sbx-3", t.TempDir(), true)
	b.Timeout = 50 * time.Millisecond
	res, err := b.Execute(context.Background(), "sleep 2")
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 124 {
		t.Fatalf("expected exit code 124 on timeout, got %d: %q", res.ExitCode, res.Output)
	}
}

func TestExecuteCapturesStderr(t *testing.T) {
	b := New("sbx-4", t.TempDir(), true)
	res, err := b.Execute(context.Background(), "echo oops 1>&2")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Output, "STDERR:\noops") {
		t.Fatalf("expected stderr to be captured with prefix, got %q", res.Output)
	}
}

func TestCapabilitiesIncludeExecute(t *testing.T) {
	b := New("sbx-5", t.TempDir(), true)
	if !b.Capabilities().Execute {
		t.Fatalf("expected local sandbox backend to report Execute capability")
	}
}
