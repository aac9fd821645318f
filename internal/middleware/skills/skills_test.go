package skills_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/deepagent/internal/middleware/skills"
	"github.com/nextlevelbuilder/deepagent/internal/state"
)

func writeSkillFile(t *testing.T, dir, name, frontMatter, body string) {
	t.Helper()
	sub := filepath.Join(dir, name)
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	content := "---\n" + frontMatter + "\n---\n" + body
	if err := os.WriteFile(filepath.Join(sub, "SKILL.md"), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestBeforeModel_IndexesSkillsIntoExtra(t *testing.T) {
	dir := t.TempDir()
	writeSkillFile(t, dir, "pdf-tools", `name: "pdf-tools", description: "Extract text from PDFs"`, "Use pdftotext.")

	m := skills.New(skills.Config{
		Sources: []skills.Source{{Dir: dir, FileName: "SKILL.md"}},
	})

	s := state.New()
	next, cmd, err := m.BeforeModel(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd != nil {
		t.Fatalf("BeforeModel should never return a Command, got %+v", cmd)
	}

	index, ok := next.Extra["skills_metadata"].(string)
	if !ok || index == "" {
		t.Fatalf("expected a skills_metadata index in Extra, got %+v", next.Extra)
	}
	if !strings.Contains(index, "pdf-tools") || !strings.Contains(index, "Extract text from PDFs") {
		t.Fatalf("expected the index to mention the skill name and description, got %q", index)
	}
}

func TestBeforeModel_LastSourceWinsOnNameCollision(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	writeSkillFile(t, dirA, "shared", `name: "shared", description: "from A"`, "")
	writeSkillFile(t, dirB, "shared", `name: "shared", description: "from B"`, "")

	m := skills.New(skills.Config{
		Sources: []skills.Source{
			{Dir: dirA, FileName: "SKILL.md"},
			{Dir: dirB, FileName: "SKILL.md"},
		},
	})

	s := state.New()
	next, _, err := m.BeforeModel(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	index := next.Extra["skills_metadata"].(string)
	if !strings.Contains(index, "from B") {
		t.Fatalf("expected the later source to win on name collision, got %q", index)
	}
	if strings.Contains(index, "from A") {
		t.Fatalf("expected the earlier source's entry to be overridden, got %q", index)
	}
}

func TestBeforeModel_NoSourcesLeavesExtraUntouched(t *testing.T) {
	m := skills.New(skills.Config{})
	s := state.New()

	next, _, err := m.BeforeModel(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := next.Extra["skills_metadata"]; ok {
		t.Fatalf("expected no skills_metadata entry when no sources are configured")
	}
}
