// Package mock provides an in-memory implementation of
// [transcribe.Transcriber] for use in unit tests.
//
// The mock is safe for concurrent use. Outcomes are served from an exported
// Script in call order (the last entry repeats once the script is
// exhausted), or computed by Fn when set. Every call is recorded so tests
// can assert on payloads and counts.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/livetranscripts/livetranscripts/pkg/provider/transcribe"
)

// Outcome is one scripted Transcribe result.
type Outcome struct {
	// Result is returned when Err is nil.
	Result transcribe.Result

	// Err, when set, is returned instead of Result.
	Err error

	// Delay is slept (context-aware) before returning. Use it to control
	// completion order in concurrency tests.
	Delay time.Duration
}

// Call records the arguments of a single Transcribe invocation.
type Call struct {
	// PCMBytes is the payload length in bytes.
	PCMBytes int

	// SampleRate is the sampleRate argument.
	SampleRate int
}

// Transcriber is a mock implementation of [transcribe.Transcriber].
type Transcriber struct {
	mu sync.Mutex

	// ModelID is returned by Model. Defaults to "mock" if empty.
	ModelID string

	// Script holds outcomes served in call order. When exhausted, the last
	// entry repeats. An empty script yields empty results.
	Script []Outcome

	// Fn, when set, overrides Script entirely.
	Fn func(ctx context.Context, pcm []byte, sampleRate int) (transcribe.Result, error)

	// Calls records all Transcribe invocations in order.
	Calls []Call

	next int
}

// Ensure Transcriber implements the transcribe.Transcriber interface.
var _ transcribe.Transcriber = (*Transcriber)(nil)

// Transcribe implements [transcribe.Transcriber].
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (transcribe.Result, error) {
	t.mu.Lock()
	t.Calls = append(t.Calls, Call{PCMBytes: len(pcm), SampleRate: sampleRate})
	fn := t.Fn
	var out Outcome
	if fn == nil && len(t.Script) > 0 {
		i := min(t.next, len(t.Script)-1)
		out = t.Script[i]
		t.next++
	}
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, pcm, sampleRate)
	}
	if out.Delay > 0 {
		timer := time.NewTimer(out.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return transcribe.Result{}, ctx.Err()
		}
	}
	if out.Err != nil {
		return transcribe.Result{}, out.Err
	}
	return out.Result, nil
}

// Model implements [transcribe.Transcriber].
func (t *Transcriber) Model() string {
	if t.ModelID == "" {
		return "mock"
	}
	return t.ModelID
}

// CallCount returns how many times Transcribe was called.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}
