package batch

import (
	"context"
	"testing"
	"time"

	"github.com/livetranscripts/livetranscripts/internal/ring"
)

const testRate = 16000

// voice returns d worth of loud samples at the test rate.
func voice(d time.Duration) []byte {
	n := int(d.Seconds() * testRate)
	return constPCM(3000, n)
}

// silence returns d worth of zero samples at the test rate.
func silence(d time.Duration) []byte {
	n := int(d.Seconds() * testRate)
	return constPCM(0, n)
}

// newTestBatcher returns a batcher over a 60 s ring with the default window
// settings and a queue wide enough that tests never block on Put.
func newTestBatcher(t *testing.T) (*Batcher, *ring.Buffer, *Queue) {
	t.Helper()
	rb, err := ring.New(60 * testRate)
	if err != nil {
		t.Fatalf("ring.New: %v", err)
	}
	q := NewQueue(32, nil)
	b := NewBatcher(rb, q, NewDetector(500), BatcherConfig{
		SampleRate:       testRate,
		MinBatch:         3 * time.Second,
		MaxBatch:         30 * time.Second,
		SilenceThreshold: 500 * time.Millisecond,
		Overlap:          500 * time.Millisecond,
	})
	return b, rb, q
}

// drainAll feeds everything currently in the ring through the batcher.
func drainAll(t *testing.T, b *Batcher) {
	t.Helper()
	if err := b.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

// collect empties the queue without blocking.
func collect(t *testing.T, q *Queue) []Utterance {
	t.Helper()
	var out []Utterance
	for q.Len() > 0 {
		u, ok, err := q.Get(context.Background())
		if err != nil || !ok {
			t.Fatalf("Get: ok=%v err=%v", ok, err)
		}
		out = append(out, u)
	}
	return out
}

func TestBatcher_SilenceBoundaryAfterMinBatch(t *testing.T) {
	t.Parallel()
	b, rb, q := newTestBatcher(t)

	// 2 s voice, 0.6 s silence, 2 s voice, 0.6 s silence. The first silence
	// falls before minBatch, so the run is collapsed and exactly one
	// utterance of roughly the 4 s of voiced content comes out after the
	// second silence.
	rb.Write(voice(2 * time.Second))
	rb.Write(silence(600 * time.Millisecond))
	rb.Write(voice(2 * time.Second))
	rb.Write(silence(600 * time.Millisecond))
	drainAll(t, b)

	got := collect(t, q)
	if len(got) != 1 {
		t.Fatalf("emitted %d utterances, want 1", len(got))
	}
	u := got[0]
	if u.Seq != 1 {
		t.Errorf("seq = %d, want 1", u.Seq)
	}
	d := u.Duration(testRate)
	if d < 3900*time.Millisecond || d > 4300*time.Millisecond {
		t.Errorf("duration = %v, want ≈4 s", d)
	}
}

func TestBatcher_MaxDurationForceCut(t *testing.T) {
	t.Parallel()
	b, rb, q := newTestBatcher(t)

	rb.Write(voice(31 * time.Second))
	drainAll(t, b)

	got := collect(t, q)
	if len(got) != 1 {
		t.Fatalf("emitted %d utterances, want 1", len(got))
	}
	if d := got[0].Duration(testRate); d != 30*time.Second {
		t.Errorf("forced cut duration = %v, want exactly 30 s", d)
	}
	if b.Stats().ForceCuts != 1 {
		t.Errorf("force cuts = %d, want 1", b.Stats().ForceCuts)
	}

	// The in-flight successor starts half a second before the cut.
	wantStart := int64(29500 * testRate / 1000)
	if b.startAbs != wantStart {
		t.Errorf("next utterance start = %d samples, want %d (0.5 s before the cut)", b.startAbs, wantStart)
	}
}

func TestBatcher_RecordsEmittedUtterances(t *testing.T) {
	t.Parallel()

	m, reader := newBatchMetrics(t)
	rb, err := ring.New(60 * testRate)
	if err != nil {
		t.Fatalf("ring.New: %v", err)
	}
	q := NewQueue(32, nil)
	b := NewBatcher(rb, q, NewDetector(500), BatcherConfig{
		SampleRate:       testRate,
		MinBatch:         3 * time.Second,
		MaxBatch:         30 * time.Second,
		SilenceThreshold: 500 * time.Millisecond,
		Overlap:          500 * time.Millisecond,
		Metrics:          m,
	})

	rb.Write(voice(4 * time.Second))
	rb.Write(silence(600 * time.Millisecond))
	drainAll(t, b)

	if got := collect(t, q); len(got) != 1 {
		t.Fatalf("emitted %d utterances, want 1", len(got))
	}
	if got := sumValue(t, reader, "livetranscripts.utterances.emitted"); got != 1 {
		t.Errorf("emitted counter = %d, want 1", got)
	}
}

func TestBatcher_PureSilenceEmitsNothing(t *testing.T) {
	t.Parallel()
	b, rb, q := newTestBatcher(t)

	rb.Write(silence(35 * time.Second))
	drainAll(t, b)

	if got := collect(t, q); len(got) != 0 {
		t.Fatalf("emitted %d utterances from pure silence, want 0", len(got))
	}
}

func TestBatcher_ConsecutiveUtterances(t *testing.T) {
	t.Parallel()
	b, rb, q := newTestBatcher(t)

	rb.Write(voice(4 * time.Second))
	rb.Write(silence(time.Second))
	rb.Write(voice(4 * time.Second))
	rb.Write(silence(time.Second))
	drainAll(t, b)

	got := collect(t, q)
	if len(got) != 2 {
		t.Fatalf("emitted %d utterances, want 2", len(got))
	}
	u1, u2 := got[0], got[1]
	if u1.Seq != 1 || u2.Seq != 2 {
		t.Errorf("seqs = %d,%d, want dense 1,2", u1.Seq, u2.Seq)
	}
	overlapSamples := int64(testRate / 2)
	if u1.End > u2.Start+overlapSamples {
		t.Errorf("u1.End (%d) > u2.Start (%d) + overlap (%d)", u1.End, u2.Start, overlapSamples)
	}
	// The second utterance carries the overlap prefix on top of its voice.
	if d := u2.Duration(testRate); d < 4400*time.Millisecond {
		t.Errorf("u2 duration = %v, want ≥4.4 s (4 s voice + 0.5 s overlap)", d)
	}
}

func TestBatcher_PauseDropsAccumulation(t *testing.T) {
	t.Parallel()
	b, rb, q := newTestBatcher(t)

	rb.Write(voice(2 * time.Second))
	drainAll(t, b)

	b.SetPaused(true)
	rb.Write(voice(5 * time.Second))
	drainAll(t, b)
	if got := collect(t, q); len(got) != 0 {
		t.Fatalf("emitted %d utterances while paused, want 0", len(got))
	}

	b.SetPaused(false)
	rb.Write(voice(3500 * time.Millisecond))
	rb.Write(silence(time.Second))
	drainAll(t, b)

	got := collect(t, q)
	if len(got) != 1 {
		t.Fatalf("emitted %d utterances after resume, want 1", len(got))
	}
	// Only post-resume audio: nothing near the 7 s that came before.
	if d := got[0].Duration(testRate); d > 4*time.Second {
		t.Errorf("post-resume duration = %v, pre-pause audio leaked in", d)
	}
}

func TestBatcher_RingTruncationResets(t *testing.T) {
	t.Parallel()

	rb, err := ring.New(1 * testRate) // 1 s window
	if err != nil {
		t.Fatalf("ring.New: %v", err)
	}
	q := NewQueue(32, nil)
	b := NewBatcher(rb, q, NewDetector(500), BatcherConfig{
		SampleRate:       testRate,
		MinBatch:         3 * time.Second,
		MaxBatch:         30 * time.Second,
		SilenceThreshold: 500 * time.Millisecond,
		Overlap:          500 * time.Millisecond,
	})

	// Overrun the window before the batcher gets a chance to read.
	rb.Write(voice(2 * time.Second))
	drainAll(t, b)
	if b.Stats().Truncations != 1 {
		t.Fatalf("truncations = %d, want 1", b.Stats().Truncations)
	}

	rb.Write(silence(900 * time.Millisecond))
	drainAll(t, b)
	if got := collect(t, q); len(got) != 0 {
		t.Fatalf("emitted %d utterances across a truncation, want 0", len(got))
	}
}

func TestBatcher_FlushTailAtEndOfInput(t *testing.T) {
	t.Parallel()
	b, rb, q := newTestBatcher(t)

	rb.Write(voice(3500 * time.Millisecond))
	drainAll(t, b)
	b.flush(context.Background())

	got := collect(t, q)
	if len(got) != 1 {
		t.Fatalf("flushed %d utterances, want 1", len(got))
	}
	if !got[0].Final {
		t.Error("flushed utterance should be marked Final")
	}
}

func TestBatcher_ShortTailNotFlushed(t *testing.T) {
	t.Parallel()
	b, rb, q := newTestBatcher(t)

	rb.Write(voice(time.Second))
	drainAll(t, b)
	b.flush(context.Background())

	if got := collect(t, q); len(got) != 0 {
		t.Fatalf("flushed %d utterances below minBatch, want 0", len(got))
	}
}

func TestBatcher_RunClosesQueueOnCloseInput(t *testing.T) {
	t.Parallel()
	b, rb, q := newTestBatcher(t)

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	rb.Write(voice(4 * time.Second))
	rb.Write(silence(time.Second))
	b.CloseInput()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after CloseInput")
	}

	got := collect(t, q)
	if len(got) != 1 {
		t.Fatalf("emitted %d utterances, want 1", len(got))
	}
	if _, ok, _ := q.Get(context.Background()); ok {
		t.Error("queue should be closed and drained")
	}
}
