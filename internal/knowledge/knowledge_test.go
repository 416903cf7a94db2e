package knowledge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestExtractTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"h1", "# Project Plan\n\nDetails here.", "Project Plan"},
		{"h1 not first line", "intro text\n# Agenda\nmore", "Agenda"},
		{"h2 when no h1", "prose\n## Sprint Goals\nmore", "Sprint Goals"},
		{"first line fallback", "Release checklist\nitem one", "Release checklist"},
		{"long first line clipped", strings.Repeat("a", 60), strings.Repeat("a", 47) + "..."},
		{"empty", "", "Untitled"},
		{"whitespace only", "  \n\t\n", "Untitled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ExtractTitle(tt.content); got != tt.want {
				t.Errorf("ExtractTitle(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestBase_RenderJoinsOldestFirst(t *testing.T) {
	t.Parallel()

	b := NewBase()
	b.Add("", "# One\nfirst")
	b.Add("", "# Two\nsecond")

	got, truncated := b.Render(0)
	want := "# One\nfirst\n\n---\n\n# Two\nsecond"
	if got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
	if truncated {
		t.Error("Render reported truncation with no budget")
	}
}

func TestBase_RenderDropsOldestOverBudget(t *testing.T) {
	t.Parallel()

	b := NewBase()
	b.Add("", "old "+strings.Repeat("x", 100))
	b.Add("", "new doc")

	got, truncated := b.Render(20)
	if !truncated {
		t.Error("Render should report truncation")
	}
	if got != "new doc" {
		t.Errorf("Render = %q, want only the newest document", got)
	}

	// The newest document always survives even when it alone overflows.
	got, _ = b.Render(3)
	if got != "new doc" {
		t.Errorf("Render = %q, want the newest document kept whole", got)
	}
}

func TestBase_RenderEmpty(t *testing.T) {
	t.Parallel()

	got, truncated := NewBase().Render(100)
	if got != "" || truncated {
		t.Errorf("Render on empty base = (%q, %v), want (\"\", false)", got, truncated)
	}
}

func TestBase_SetAllReplaces(t *testing.T) {
	t.Parallel()

	b := NewBase()
	b.Add("", "stale")
	docs := b.SetAll([]string{"# First\na", "# Second\nb"})
	if len(docs) != 2 || b.Len() != 2 {
		t.Fatalf("SetAll left %d documents, want 2", b.Len())
	}
	if docs[0].Title != "First" || docs[1].Title != "Second" {
		t.Errorf("titles = %q, %q", docs[0].Title, docs[1].Title)
	}
	got, _ := b.Render(0)
	if strings.Contains(got, "stale") {
		t.Error("SetAll should drop previous documents")
	}
	// Insertion order is preserved.
	if !strings.HasPrefix(got, "# First") {
		t.Errorf("Render = %q, want first document first", got)
	}
}

func TestBase_LoadDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("agenda.md", "# Standup Agenda\nitems")
	write("notes.txt", "Raw notes line")
	write("image.png", "binary junk")

	b := NewBase()
	n, err := b.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if n != 2 {
		t.Fatalf("loaded %d documents, want 2 (.png skipped)", n)
	}

	stats := b.Stats()
	titles := strings.Join(stats.Titles, ",")
	if !strings.Contains(titles, "Standup Agenda") || !strings.Contains(titles, "Raw notes line") {
		t.Errorf("titles = %q", titles)
	}
	for _, d := range b.Documents() {
		if d.Source == "" {
			t.Errorf("document %q has no source path", d.Title)
		}
		if d.ID == "" {
			t.Errorf("document %q has no id", d.Title)
		}
		if d.AddedAt.After(time.Now()) {
			t.Errorf("document %q added in the future", d.Title)
		}
	}
}

func TestBase_LoadDirMissingIsNotAnError(t *testing.T) {
	t.Parallel()

	n, err := NewBase().LoadDir(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("LoadDir on missing dir: %v", err)
	}
	if n != 0 {
		t.Errorf("loaded %d documents from missing dir, want 0", n)
	}
}
