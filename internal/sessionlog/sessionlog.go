// Package sessionlog writes the session record to disk: the full transcript,
// every retained insight, and the Q&A history as one timestamped markdown
// file. The pipeline calls it once on shutdown; nothing here is hot-path.
package sessionlog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/livetranscripts/livetranscripts/internal/session"
	"github.com/livetranscripts/livetranscripts/internal/transcript"
)

// Record carries everything that goes into one session file.
type Record struct {
	StartedAt time.Time
	Focus     string
	Snapshot  transcript.Snapshot
	Insights  []session.Insight
	History   []session.Exchange
}

// Writer persists session records under a directory. The zero directory
// disables writing.
type Writer struct {
	dir string
	log *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New returns a writer that stores records under dir. An empty dir yields a
// disabled writer whose Write is a no-op.
func New(dir string, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{dir: dir, log: log, now: time.Now}
}

// Enabled reports whether a session directory is configured.
func (w *Writer) Enabled() bool { return w.dir != "" }

// Write renders rec as markdown and writes it to a timestamped file,
// creating the directory if needed. Returns the file path.
func (w *Writer) Write(rec Record) (string, error) {
	if !w.Enabled() {
		return "", nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("sessionlog: create directory: %w", err)
	}

	path := filepath.Join(w.dir, "session_"+w.now().Format("20060102_150405")+".md")
	if err := os.WriteFile(path, []byte(render(rec)), 0o644); err != nil {
		return "", fmt.Errorf("sessionlog: write %s: %w", path, err)
	}
	w.log.Info("session record written", "path", path, "entries", len(rec.Snapshot.Entries))
	return path, nil
}

func render(rec Record) string {
	var b strings.Builder
	b.WriteString("# Live Transcripts Session\n\n")
	if !rec.StartedAt.IsZero() {
		fmt.Fprintf(&b, "Started: %s\n\n", rec.StartedAt.Format(time.RFC3339))
	}
	if rec.Focus != "" {
		fmt.Fprintf(&b, "Focus: %s\n\n", rec.Focus)
	}

	b.WriteString("## Transcript\n\n")
	text, _ := rec.Snapshot.Render(0)
	if text == "" {
		b.WriteString("_No transcript captured._\n")
	} else {
		b.WriteString(text)
		b.WriteString("\n")
	}

	if len(rec.Insights) > 0 {
		b.WriteString("\n## Insights\n\n")
		for _, in := range rec.Insights {
			fmt.Fprintf(&b, "- **%s** [%s] %s\n",
				in.Kind, in.GeneratedAt.Format("15:04:05"), in.Text)
		}
	}

	if len(rec.History) > 0 {
		b.WriteString("\n## Questions\n\n")
		for _, ex := range rec.History {
			fmt.Fprintf(&b, "**Q [%s]:** %s\n\n", ex.AskedAt.Format("15:04:05"), ex.Question)
			if ex.Failed {
				b.WriteString("**A:** _(failed)_\n\n")
			} else {
				fmt.Fprintf(&b, "**A:** %s\n\n", ex.Answer)
			}
		}
	}
	return b.String()
}
