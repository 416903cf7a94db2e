// Package dispatch pulls batched utterances off the queue, runs them through
// the transcription model chain, and commits the results to the transcript in
// batch order.
package dispatch

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/livetranscripts/livetranscripts/internal/batch"
	"github.com/livetranscripts/livetranscripts/internal/observe"
	"github.com/livetranscripts/livetranscripts/internal/resilience"
	"github.com/livetranscripts/livetranscripts/internal/transcript"
	"github.com/livetranscripts/livetranscripts/pkg/provider/fault"
	"github.com/livetranscripts/livetranscripts/pkg/provider/transcribe"
)

// errorKindDropped marks utterances evicted from a full queue. They never
// reached a provider, so no fault class applies.
const errorKindDropped = "dropped"

// ModelStats accumulates per-model request counters.
type ModelStats struct {
	TotalRequests      uint64        `json:"total_requests"`
	SuccessfulRequests uint64        `json:"successful_requests"`
	FailedRequests     uint64        `json:"failed_requests"`
	AudioDuration      time.Duration `json:"audio_duration_ns"`
	ProcessingTime     time.Duration `json:"processing_time_ns"`
}

// Stats is a point-in-time snapshot of dispatcher counters.
type Stats struct {
	Committed uint64                `json:"transcriptions_committed"`
	Dropped   uint64                `json:"utterances_dropped"`
	PerModel  map[string]ModelStats `json:"per_model"`
}

// Config holds the dispatch policy.
type Config struct {
	// SampleRate of utterance PCM in Hz.
	SampleRate int

	// Parallelism is the number of concurrent transcription workers.
	// Default 1, which makes commits trivially ordered; higher values rely
	// on the committer's reorder buffer.
	Parallelism int

	// MaxRetries is the number of attempts per model before falling over to
	// the next one. Default 3.
	MaxRetries int

	// RetryDelay is the base backoff. Attempt k waits
	// RetryDelay * 2^(k-1) plus jitter, or the server's retry hint when that
	// is longer. Default 1 s.
	RetryDelay time.Duration

	// OnCommit, when set, is invoked after each transcript append with the
	// committed entry and the new transcript version. Called from the
	// committer goroutine only, in batch-seq order.
	OnCommit func(entry transcript.Transcription, version uint64)

	// Metrics receives per-attempt instrumentation. Nil disables it.
	Metrics *observe.Metrics
}

func (c *Config) withDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 1
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
}

// completion is the terminal outcome of one utterance, success or not.
// Exactly one completion exists per batch seq.
type completion struct {
	entry transcript.Transcription
}

// Dispatcher owns the worker pool between the utterance queue and the
// transcript. Each utterance is tried against the model chain: the primary
// first with up to MaxRetries attempts, then each fallback the same way.
// Outcomes are funneled through a single committer goroutine that appends to
// the transcript strictly by batch seq, holding back out-of-order completions
// until the gap fills.
type Dispatcher struct {
	queue *batch.Queue
	tr    *transcript.Transcript
	group *resilience.FallbackGroup[transcribe.Transcriber]
	cfg   Config

	completions chan completion

	mu        sync.Mutex
	perModel  map[string]*ModelStats
	committed uint64
	dropped   uint64
}

// New wires a Dispatcher between the queue and the transcript. The fallback
// group's registration order is the model preference order.
func New(q *batch.Queue, tr *transcript.Transcript, group *resilience.FallbackGroup[transcribe.Transcriber], cfg Config) *Dispatcher {
	cfg.withDefaults()
	return &Dispatcher{
		queue:       q,
		tr:          tr,
		group:       group,
		cfg:         cfg,
		completions: make(chan completion, 128),
		perModel:    make(map[string]*ModelStats),
	}
}

// MarkDropped records an utterance evicted from the queue before any worker
// saw it. The placeholder entry keeps the transcript's batch seq dense. Wire
// this as the queue's drop callback.
func (d *Dispatcher) MarkDropped(u batch.Utterance) {
	d.mu.Lock()
	d.dropped++
	d.mu.Unlock()
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.UtterancesDropped.Add(context.Background(), 1)
	}
	d.completions <- completion{entry: transcript.Transcription{
		BatchSeq:  u.Seq,
		ErrorKind: errorKindDropped,
		ErrorMsg:  "utterance evicted from full transcription queue",
	}}
}

// Stats returns a snapshot of dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	per := make(map[string]ModelStats, len(d.perModel))
	for name, s := range d.perModel {
		per[name] = *s
	}
	return Stats{Committed: d.committed, Dropped: d.dropped, PerModel: per}
}

// Run processes the queue until it is closed and drained, or the context is
// cancelled. On a clean queue close it commits everything in flight and
// returns nil.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	var workers sync.WaitGroup
	for i := 0; i < d.cfg.Parallelism; i++ {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			return d.worker(ctx)
		})
	}
	go func() {
		// No drops can arrive after the queue closes, so once the workers
		// are done the completion stream is complete.
		workers.Wait()
		close(d.completions)
	}()
	g.Go(func() error {
		d.commitLoop()
		return nil
	})
	return g.Wait()
}

func (d *Dispatcher) worker(ctx context.Context) error {
	for {
		u, ok, err := d.queue.Get(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		d.completions <- completion{entry: d.transcribeUtterance(ctx, u)}
	}
}

// transcribeUtterance walks the model chain for one utterance and returns the
// entry to commit, which records a failure class when every model gave up.
func (d *Dispatcher) transcribeUtterance(ctx context.Context, u batch.Utterance) transcript.Transcription {
	start := time.Now()
	var lastClass fault.Class

	type outcome struct {
		text  string
		model string
	}
	res, err := resilience.ExecuteWithResult(d.group, func(t transcribe.Transcriber) (outcome, error) {
		text, err := d.callWithRetry(ctx, t, u)
		if err != nil {
			lastClass = fault.ClassOf(err)
			return outcome{}, err
		}
		return outcome{text: text, model: t.Model()}, nil
	})

	entry := transcript.Transcription{
		BatchSeq: u.Seq,
		Latency:  time.Since(start),
	}
	if err != nil {
		if lastClass == "" {
			lastClass = fault.ClassOf(err)
		}
		entry.ErrorKind = lastClass.String()
		entry.ErrorMsg = err.Error()
		slog.Error("utterance failed on every model",
			"seq", u.Seq, "class", entry.ErrorKind, "error", err)
		return entry
	}
	entry.Text = res.text
	entry.ModelUsed = res.model
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.TranscriptionDuration.Record(ctx, entry.Latency.Seconds(),
			metric.WithAttributes(observe.Attr("model", res.model)))
	}
	return entry
}

// callWithRetry runs up to MaxRetries attempts against a single model.
// Transient failures back off exponentially with jitter, stretched to the
// server's retry hint when one is present. A permanent failure aborts the
// model immediately.
func (d *Dispatcher) callWithRetry(ctx context.Context, t transcribe.Transcriber, u batch.Utterance) (string, error) {
	model := t.Model()
	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxRetries; attempt++ {
		callStart := time.Now()
		res, err := t.Transcribe(ctx, u.PCM, d.cfg.SampleRate)
		elapsed := time.Since(callStart)
		d.recordAttempt(ctx, model, elapsed, u, err)
		if err == nil {
			return res.Text, nil
		}
		lastErr = err

		class := fault.ClassOf(err)
		if !class.Transient() {
			slog.Warn("permanent transcription failure, not retrying",
				"model", model, "seq", u.Seq, "class", class, "error", err)
			return "", err
		}
		if attempt == d.cfg.MaxRetries {
			break
		}

		delay := d.backoff(attempt)
		if hint, ok := fault.RetryAfterOf(err); ok && hint > delay {
			delay = hint
		}
		slog.Debug("transcription attempt failed, backing off",
			"model", model, "seq", u.Seq, "attempt", attempt,
			"class", class, "delay", delay)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return "", lastErr
}

// backoff returns RetryDelay * 2^(attempt-1) with up to 25% jitter.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.cfg.RetryDelay << (attempt - 1)
	if j := delay / 4; j > 0 {
		delay += rand.N(j)
	}
	return delay
}

// recordAttempt updates per-model counters and metrics for one provider call.
func (d *Dispatcher) recordAttempt(ctx context.Context, model string, elapsed time.Duration, u batch.Utterance, err error) {
	d.mu.Lock()
	s := d.perModel[model]
	if s == nil {
		s = &ModelStats{}
		d.perModel[model] = s
	}
	s.TotalRequests++
	s.ProcessingTime += elapsed
	if err != nil {
		s.FailedRequests++
	} else {
		s.SuccessfulRequests++
		s.AudioDuration += u.Duration(d.cfg.SampleRate)
	}
	d.mu.Unlock()

	if d.cfg.Metrics == nil {
		return
	}
	if err != nil {
		d.cfg.Metrics.RecordProviderRequest(ctx, model, "transcription", "failure")
		d.cfg.Metrics.RecordProviderError(ctx, model, fault.ClassOf(err).String())
	} else {
		d.cfg.Metrics.RecordProviderRequest(ctx, model, "transcription", "success")
	}
}

// commitLoop serialises transcript appends. Completions may arrive out of seq
// order when Parallelism > 1; entries are held back until every earlier seq
// has been committed.
func (d *Dispatcher) commitLoop() {
	pending := make(map[uint64]transcript.Transcription)
	next := uint64(1)

	commit := func(e transcript.Transcription) {
		version := d.tr.Append(e)
		d.mu.Lock()
		d.committed++
		d.mu.Unlock()
		if d.cfg.OnCommit != nil {
			d.cfg.OnCommit(e, version)
		}
	}

	for c := range d.completions {
		pending[c.entry.BatchSeq] = c.entry
		for {
			e, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			commit(e)
			next++
		}
	}

	// Input ended. A gap here means an utterance was lost to cancellation
	// mid-flight; commit the stragglers in order rather than hold them
	// hostage.
	if len(pending) == 0 {
		return
	}
	seqs := make([]uint64, 0, len(pending))
	for seq := range pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for _, seq := range seqs {
		commit(pending[seq])
	}
}
