// Package app wires all Live Transcripts subsystems into a running
// application.
//
// The App struct owns the full lifecycle: New creates and connects the
// pipeline stages, Run drives them until the context is cancelled or the
// capture stream ends, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via the Providers struct (a mock
// audio source, mock transcribers, a mock generator) and functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/livetranscripts/livetranscripts/internal/batch"
	"github.com/livetranscripts/livetranscripts/internal/config"
	"github.com/livetranscripts/livetranscripts/internal/dispatch"
	"github.com/livetranscripts/livetranscripts/internal/health"
	"github.com/livetranscripts/livetranscripts/internal/knowledge"
	"github.com/livetranscripts/livetranscripts/internal/observe"
	"github.com/livetranscripts/livetranscripts/internal/resilience"
	"github.com/livetranscripts/livetranscripts/internal/ring"
	"github.com/livetranscripts/livetranscripts/internal/server"
	"github.com/livetranscripts/livetranscripts/internal/session"
	"github.com/livetranscripts/livetranscripts/internal/sessionlog"
	"github.com/livetranscripts/livetranscripts/internal/transcript"
	"github.com/livetranscripts/livetranscripts/pkg/audio"
	"github.com/livetranscripts/livetranscripts/pkg/provider/genai"
	"github.com/livetranscripts/livetranscripts/pkg/provider/transcribe"
)

// Providers holds the external provider slots the pipeline depends on.
// Populated by main.go from the config; tests pass mocks.
type Providers struct {
	// Source is the audio capture source.
	Source audio.Source

	// Transcribers is the transcription model chain in preference order.
	Transcribers *resilience.FallbackGroup[transcribe.Transcriber]

	// Generator backs answers, insights, and suggested questions.
	Generator genai.Generator
}

// App owns all subsystem lifetimes and orchestrates the capture → batch →
// transcribe → session pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	metrics   *observe.Metrics

	// Pipeline stages, wired in New.
	ringBuf    *ring.Buffer
	detector   *batch.Detector
	queue      *batch.Queue
	batcher    *batch.Batcher
	dispatcher *dispatch.Dispatcher
	tr         *transcript.Transcript
	kb         *knowledge.Base
	cm         *session.ContextManager
	hub        *session.Hub
	insights   *session.InsightTicker
	questions  *session.DynamicQuestionTicker
	srv        *server.Server
	sessionLog *sessionlog.Writer

	startedAt time.Time

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects a metrics instance instead of the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithKnowledgeBase injects a pre-populated knowledge base instead of
// creating one from config.
func WithKnowledgeBase(kb *knowledge.Base) Option {
	return func(a *App) { a.kb = kb }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring the pipeline end to end: ring buffer → VAD
// batcher → utterance queue → transcription dispatcher → transcript, plus
// the session hub, the AI tickers, and the HTTP/WebSocket server. Providers
// come from main.go; use Option functions to inject test doubles.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Source == nil {
		return nil, fmt.Errorf("app: no audio source configured")
	}
	if providers.Transcribers == nil {
		return nil, fmt.Errorf("app: no transcriber configured")
	}
	if providers.Generator == nil {
		return nil, fmt.Errorf("app: no generator configured")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
		startedAt: time.Now(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Capture ring buffer ───────────────────────────────────────────
	rb, err := ring.New(audio.SampleCount(cfg.BufferLen(), cfg.SampleRate))
	if err != nil {
		return nil, fmt.Errorf("app: create ring buffer: %w", err)
	}
	a.ringBuf = rb

	// ── 2. VAD, queue, batcher ───────────────────────────────────────────
	a.detector = batch.NewDetector(cfg.SilenceThreshold)
	a.queue = batch.NewQueue(cfg.BatchQueueCapacity, func(u batch.Utterance) {
		a.dispatcher.MarkDropped(u)
	}, batch.WithQueueMetrics(a.metrics))
	a.batcher = batch.NewBatcher(a.ringBuf, a.queue, a.detector, batch.BatcherConfig{
		SampleRate:       cfg.SampleRate,
		MinBatch:         cfg.MinBatch(),
		MaxBatch:         cfg.MaxBatch(),
		SilenceThreshold: cfg.SilenceBoundary(),
		Overlap:          cfg.Overlap(),
		EnqueueWait:      cfg.EnqueueTimeout(),
		Metrics:          a.metrics,
	})

	// ── 3. Transcript and dispatcher ─────────────────────────────────────
	a.tr = transcript.New()
	a.dispatcher = dispatch.New(a.queue, a.tr, providers.Transcribers, dispatch.Config{
		SampleRate:  cfg.SampleRate,
		Parallelism: cfg.TranscriptionParallelism,
		MaxRetries:  cfg.MaxRetries,
		RetryDelay:  cfg.RetryBackoff(),
		OnCommit: func(entry transcript.Transcription, _ uint64) {
			a.hub.Broadcast(session.NewTranscriptionEvent(
				entry.Text, entry.BatchSeq, entry.Timestamp, entry.ErrorKind != ""))
		},
		Metrics: a.metrics,
	})

	// ── 4. Knowledge base ────────────────────────────────────────────────
	if a.kb == nil {
		a.kb = knowledge.NewBase()
		if cfg.KnowledgeDir != "" {
			n, err := a.kb.LoadDir(cfg.KnowledgeDir)
			if err != nil {
				return nil, fmt.Errorf("app: load knowledge dir: %w", err)
			}
			a.log.Info("loaded knowledge documents", "dir", cfg.KnowledgeDir, "count", n)
		}
	}

	// ── 5. Context manager and session hub ───────────────────────────────
	a.cm = session.NewContextManager(a.tr, a.kb, providers.Generator, session.ContextConfig{
		KnowledgeByteBudget:  cfg.KnowledgeByteBudget,
		TranscriptByteBudget: cfg.TranscriptByteBudget,
		NumDynamicQuestions:  cfg.NumDynamicQuestions,
		MaxTokens:            cfg.AI.MaxTokens,
		Temperature:          cfg.AI.Temperature,
		RequestTimeout:       cfg.RequestTimeout(),
		Metrics:              a.metrics,
	})
	a.hub = session.NewHub(a.cm, a.kb, session.HubConfig{
		OnRecordingChange: func(recording bool) {
			a.batcher.SetPaused(!recording)
		},
		Logger:  a.log,
		Metrics: a.metrics,
	})
	// The hub starts paused; keep the batcher in step.
	a.batcher.SetPaused(true)

	// ── 6. AI tickers ────────────────────────────────────────────────────
	a.insights = session.NewInsightTicker(a.cm, a.hub, cfg.InsightEvery(), a.log)
	a.questions = session.NewDynamicQuestionTicker(a.cm, a.hub, cfg.QuestionsEvery(), a.log)

	// ── 7. HTTP/WebSocket server ─────────────────────────────────────────
	a.srv = server.New(a.hub, server.Config{
		Host:     cfg.ServerHost,
		Port:     cfg.ServerPort,
		Stats:    a.pipelineStats,
		Checkers: a.healthCheckers(),
		Logger:   a.log,
		Metrics:  a.metrics,
	})

	// ── 8. Session log ───────────────────────────────────────────────────
	a.sessionLog = sessionlog.New(cfg.SessionLogDir, a.log)

	a.closers = append(a.closers,
		a.writeSessionLog,
		providers.Source.Close,
	)
	return a, nil
}

// pipelineStats snapshots the pipeline counters for the /stats endpoint.
func (a *App) pipelineStats() server.PipelineStats {
	return server.PipelineStats{
		TranscriptVersion: a.tr.Version(),
		Batcher:           a.batcher.Stats(),
		Dispatcher:        a.dispatcher.Stats(),
		History:           a.cm.History(),
	}
}

// healthCheckers builds the /readyz probes.
func (a *App) healthCheckers() []health.Checker {
	return []health.Checker{
		{
			Name: "session",
			Check: func(context.Context) error {
				if a.hub.State() == session.StateStopped {
					return fmt.Errorf("session stopped")
				}
				return nil
			},
		},
		{
			Name: "queue",
			Check: func(context.Context) error {
				if depth := a.queue.Len(); depth >= a.cfg.BatchQueueCapacity {
					return fmt.Errorf("transcription queue full (%d utterances)", depth)
				}
				return nil
			},
		},
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts every pipeline stage and blocks until the context is cancelled
// or a stage fails. When the capture source reports end of stream, the
// pipeline drains in order (batcher flush, dispatcher commit) and Run keeps
// serving clients until ctx is done.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.captureLoop(ctx) })
	g.Go(func() error { return a.batcher.Run(ctx) })
	g.Go(func() error { return a.dispatcher.Run(ctx) })
	g.Go(func() error { return a.hub.Run(ctx) })
	g.Go(func() error { return a.insights.Run(ctx) })
	g.Go(func() error { return a.questions.Run(ctx) })
	g.Go(func() error { return a.srv.Run(ctx) })

	a.log.Info("app running", "addr", a.srv.Addr(), "sample_rate", a.cfg.SampleRate)

	err := g.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("app: pipeline: %w", err)
}

// captureLoop reads chunks from the audio source into the ring buffer. A
// clean end of stream closes the batcher input so the tail utterance is
// flushed; any other read error aborts the pipeline.
func (a *App) captureLoop(ctx context.Context) error {
	var chunks uint64
	for {
		chunk, err := a.providers.Source.ReadChunk(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				a.log.Info("audio stream ended", "chunks", chunks)
				a.batcher.CloseInput()
				return nil
			}
			a.hub.Terminate("audio_capture", err.Error())
			return fmt.Errorf("app: audio capture: %w", err)
		}
		chunks = chunk.Seq
		a.ringBuf.Write(chunk.Data)
	}
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyDiff applies the hot-reloadable parts of a config change to the
// running pipeline. Log level changes are handled by the caller (the level
// var lives in main).
func (a *App) ApplyDiff(d config.ConfigDiff) {
	if d.SilenceThresholdChanged {
		a.detector.SetEnterThreshold(d.NewSilenceThreshold)
		a.log.Info("applied VAD threshold", "threshold", d.NewSilenceThreshold)
	}
	if d.InsightIntervalChanged {
		a.insights.SetInterval(time.Duration(d.NewInsightInterval * float64(time.Second)))
		a.log.Info("applied insight interval", "seconds", d.NewInsightInterval)
	}
	if d.QuestionIntervalChanged {
		a.questions.SetInterval(time.Duration(d.NewQuestionInterval * float64(time.Second)))
		a.log.Info("applied question interval", "seconds", d.NewQuestionInterval)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the session and tears down all subsystems in order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		// Terminate the session first so subscribers see the final state
		// before the server's listener goes away.
		a.hub.Stop()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// writeSessionLog persists the session record when a log directory is
// configured.
func (a *App) writeSessionLog() error {
	if !a.sessionLog.Enabled() {
		return nil
	}
	path, err := a.sessionLog.Write(sessionlog.Record{
		StartedAt: a.startedAt,
		Focus:     a.cm.Focus(),
		Snapshot:  a.tr.Snapshot(),
		Insights:  a.cm.Insights(),
		History:   a.cm.History(),
	})
	if err != nil {
		return err
	}
	a.log.Info("wrote session log", "path", path)
	return nil
}
