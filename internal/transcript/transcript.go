// Package transcript holds the append-only meeting transcript: the single
// source of truth the AI layer reads and the dispatcher writes.
package transcript

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Transcription is one committed transcript entry, exactly one per utterance
// that entered the dispatcher.
type Transcription struct {
	// BatchSeq is the utterance's batch sequence number. Entries are
	// appended in dense, strictly increasing order.
	BatchSeq uint64

	// Text is the verbatim model output. Empty for failed or silent
	// utterances.
	Text string

	// ModelUsed names the model that produced Text; empty when every model
	// failed or the utterance was dropped before transcription.
	ModelUsed string

	// Latency is the end-to-end dispatch time for this utterance, including
	// retries and fallbacks.
	Latency time.Duration

	// Timestamp is when the entry was committed. Append fills it with the
	// current time when zero.
	Timestamp time.Time

	// ErrorKind is the terminal failure class ("timeout", "client_error",
	// "dropped", ...) when the utterance produced no text; empty on success.
	ErrorKind string

	// ErrorMsg carries the terminal failure detail for logs and the session
	// record. Never sent to subscribers verbatim.
	ErrorMsg string
}

// Failed reports whether the entry records a failure instead of text.
func (t Transcription) Failed() bool { return t.ErrorKind != "" }

// Transcript is an append-only log of transcriptions with a version counter
// that increments exactly once per append. Readers work on snapshots;
// nothing is ever mutated or removed in place.
//
// Safe for concurrent use.
type Transcript struct {
	mu      sync.RWMutex
	entries []Transcription
	version uint64
}

// New returns an empty transcript at version 0.
func New() *Transcript {
	return &Transcript{}
}

// Append commits an entry and returns the new version. The caller is
// responsible for ordering; a gap or regression in batch seq is logged but
// still appended, since a partial transcript beats a lost one.
func (t *Transcript) Append(entry Transcription) uint64 {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.entries); n > 0 && entry.BatchSeq != t.entries[n-1].BatchSeq+1 {
		slog.Warn("transcript: non-consecutive batch seq appended",
			"prev", t.entries[n-1].BatchSeq, "got", entry.BatchSeq)
	}
	t.entries = append(t.entries, entry)
	t.version++
	return t.version
}

// Version returns the current version: the number of appends so far.
func (t *Transcript) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Snapshot returns a consistent copy of the transcript. The returned entries
// slice is owned by the caller.
func (t *Transcript) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entries := make([]Transcription, len(t.entries))
	copy(entries, t.entries)
	return Snapshot{Version: t.version, Entries: entries}
}

// Snapshot is an immutable view of the transcript at one version.
type Snapshot struct {
	Version uint64
	Entries []Transcription
}

// HasText reports whether the snapshot contains at least one successful
// entry with non-empty text.
func (s Snapshot) HasText() bool {
	for _, e := range s.Entries {
		if !e.Failed() && e.Text != "" {
			return true
		}
	}
	return false
}

// Render formats the transcript as timestamped lines:
//
//	[15:04:05] the spoken text
//
// Failed and empty entries are skipped. When byteBudget is positive and the
// full text exceeds it, the oldest lines are dropped until the remainder
// fits, and truncated reports that the caller must flag the omission.
// byteBudget <= 0 means no limit.
func (s Snapshot) Render(byteBudget int) (text string, truncated bool) {
	lines := make([]string, 0, len(s.Entries))
	total := 0
	for _, e := range s.Entries {
		if e.Failed() || e.Text == "" {
			continue
		}
		line := "[" + e.Timestamp.Format("15:04:05") + "] " + e.Text
		lines = append(lines, line)
		total += len(line) + 1 // newline
	}
	if len(lines) == 0 {
		return "", false
	}
	start := 0
	if byteBudget > 0 {
		for start < len(lines)-1 && total-1 > byteBudget {
			total -= len(lines[start]) + 1
			start++
		}
		truncated = start > 0
	}
	return strings.Join(lines[start:], "\n"), truncated
}
