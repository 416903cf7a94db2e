// Package knowledge stores the background documents that ground AI answers:
// meeting agendas, design docs, glossaries. Documents are loaded from disk at
// startup or pushed over the session protocol, and rendered into one context
// block for generation prompts.
package knowledge

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// docSeparator joins documents in the rendered context block.
const docSeparator = "\n\n---\n\n"

// titleLimit is the maximum length of a title derived from body text.
const titleLimit = 47

// Document is one knowledge base entry.
type Document struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Content string    `json:"content"`
	Source  string    `json:"source,omitempty"` // file path when loaded from disk
	AddedAt time.Time `json:"added_at"`
}

// Stats summarises the knowledge base for the /stats endpoint.
type Stats struct {
	Documents  int      `json:"documents"`
	TotalBytes int      `json:"total_bytes"`
	Titles     []string `json:"titles"`
}

// Base is the in-memory document store. Safe for concurrent use.
type Base struct {
	mu   sync.RWMutex
	docs []Document
}

// NewBase returns an empty knowledge base.
func NewBase() *Base {
	return &Base{}
}

// Add stores content as a new document and returns it. An empty title is
// derived from the content.
func (b *Base) Add(title, content string) Document {
	if title == "" {
		title = ExtractTitle(content)
	}
	doc := Document{
		ID:      uuid.NewString(),
		Title:   title,
		Content: content,
		AddedAt: time.Now(),
	}
	b.mu.Lock()
	b.docs = append(b.docs, doc)
	b.mu.Unlock()
	return doc
}

// SetAll replaces every document with the given contents, in order. Used by
// the set_knowledge operation, which is a full overwrite rather than a merge.
func (b *Base) SetAll(contents []string) []Document {
	now := time.Now()
	docs := make([]Document, 0, len(contents))
	for i, c := range contents {
		docs = append(docs, Document{
			ID:      uuid.NewString(),
			Title:   ExtractTitle(c),
			Content: c,
			// Preserve ordering under a shared wall clock reading.
			AddedAt: now.Add(time.Duration(i)),
		})
	}
	b.mu.Lock()
	b.docs = docs
	b.mu.Unlock()
	return docs
}

// ReplaceAll replaces every document with the given ones, in order. Missing
// ids and titles are filled in. Like [Base.SetAll] this is a full overwrite.
func (b *Base) ReplaceAll(docs []Document) []Document {
	now := time.Now()
	for i := range docs {
		if docs[i].ID == "" {
			docs[i].ID = uuid.NewString()
		}
		if docs[i].Title == "" {
			docs[i].Title = ExtractTitle(docs[i].Content)
		}
		docs[i].AddedAt = now.Add(time.Duration(i))
	}
	b.mu.Lock()
	b.docs = docs
	b.mu.Unlock()
	return docs
}

// LoadDir reads every .md and .txt file directly under dir into the base,
// with the file modification time as the document age. Returns the number of
// documents loaded. A missing directory is not an error; it just loads
// nothing.
func (b *Base) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("knowledge: read dir: %w", err)
	}

	loaded := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".md" && ext != ".txt" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return loaded, fmt.Errorf("knowledge: read %s: %w", path, err)
		}
		info, err := e.Info()
		addedAt := time.Now()
		if err == nil {
			addedAt = info.ModTime()
		}
		doc := Document{
			ID:      uuid.NewString(),
			Title:   ExtractTitle(string(content)),
			Content: string(content),
			Source:  path,
			AddedAt: addedAt,
		}
		b.mu.Lock()
		b.docs = append(b.docs, doc)
		b.mu.Unlock()
		loaded++
		slog.Debug("knowledge document loaded", "path", path, "title", doc.Title)
	}
	if loaded > 0 {
		slog.Info("knowledge base loaded", "dir", dir, "documents", loaded)
	}
	return loaded, nil
}

// Len returns the number of documents.
func (b *Base) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.docs)
}

// Documents returns a copy of all documents sorted oldest first.
func (b *Base) Documents() []Document {
	b.mu.RLock()
	docs := make([]Document, len(b.docs))
	copy(docs, b.docs)
	b.mu.RUnlock()
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].AddedAt.Before(docs[j].AddedAt) })
	return docs
}

// Stats returns a summary of the base.
func (b *Base) Stats() Stats {
	docs := b.Documents()
	s := Stats{Documents: len(docs), Titles: make([]string, 0, len(docs))}
	for _, d := range docs {
		s.TotalBytes += len(d.Content)
		s.Titles = append(s.Titles, d.Title)
	}
	return s
}

// Render joins all documents oldest first, separated by a horizontal rule.
// When byteBudget is positive and the joined text exceeds it, the oldest
// documents are dropped until the remainder fits, and truncated reports the
// omission. byteBudget <= 0 means no limit. An empty base renders to "".
func (b *Base) Render(byteBudget int) (text string, truncated bool) {
	docs := b.Documents()
	if len(docs) == 0 {
		return "", false
	}
	parts := make([]string, len(docs))
	total := 0
	for i, d := range docs {
		parts[i] = d.Content
		total += len(d.Content)
		if i > 0 {
			total += len(docSeparator)
		}
	}
	start := 0
	if byteBudget > 0 {
		for start < len(parts)-1 && total > byteBudget {
			total -= len(parts[start]) + len(docSeparator)
			start++
		}
		truncated = start > 0
	}
	return strings.Join(parts[start:], docSeparator), truncated
}

// ExtractTitle derives a document title from its content: the first H1
// heading, else the first H2, else the first non-empty line clipped to 47
// characters plus an ellipsis.
func ExtractTitle(content string) string {
	lines := strings.Split(content, "\n")
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if rest, ok := strings.CutPrefix(l, "# "); ok {
			return strings.TrimSpace(rest)
		}
	}
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if rest, ok := strings.CutPrefix(l, "## "); ok {
			return strings.TrimSpace(rest)
		}
	}
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if len(l) > titleLimit {
			return l[:titleLimit] + "..."
		}
		return l
	}
	return "Untitled"
}
