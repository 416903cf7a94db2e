package session

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// tickerTask is the shared loop under both AI tickers. Each tick runs fire in
// its own goroutine so a stop never waits on an in-flight AI call; the call
// completes detached and its broadcast lands on an already-drained hub.
//
// The interval is atomic so configuration reloads can retune a running
// ticker; the new interval takes effect after the pending tick.
type tickerTask struct {
	name     string
	log      *slog.Logger
	interval atomic.Int64
	fire     func(ctx context.Context)
}

// SetInterval retunes the ticker. Non-positive values are ignored.
func (t *tickerTask) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	t.interval.Store(int64(d))
}

// Interval returns the current tick interval.
func (t *tickerTask) Interval() time.Duration {
	return time.Duration(t.interval.Load())
}

// Run ticks until ctx ends. Ticks are never queued: a tick whose fire is
// still running when the next one is due is simply late.
func (t *tickerTask) Run(ctx context.Context) error {
	timer := time.NewTimer(t.Interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			t.fire(context.WithoutCancel(ctx))
		}()
		select {
		case <-done:
		case <-ctx.Done():
			t.log.Debug("ticker stopping with call in flight", "ticker", t.name)
			return nil
		}
		timer.Reset(t.Interval())
	}
}

// InsightTicker periodically generates insights over the transcript and
// broadcasts them. Ticks are skipped while the session is not recording and
// when the transcript has not grown since the last successful generation, so
// an idle meeting costs no AI calls.
type InsightTicker struct {
	tickerTask
	cm  *ContextManager
	hub *Hub

	lastVersion atomic.Uint64
}

// NewInsightTicker creates an insight ticker. Run must be called to start it.
func NewInsightTicker(cm *ContextManager, hub *Hub, interval time.Duration, log *slog.Logger) *InsightTicker {
	if log == nil {
		log = slog.Default()
	}
	t := &InsightTicker{cm: cm, hub: hub}
	t.name = "insights"
	t.log = log
	t.interval.Store(int64(interval))
	t.fire = t.tick
	return t
}

func (t *InsightTicker) tick(ctx context.Context) {
	if t.hub.State() != StateRecording {
		return
	}
	version := t.cm.TranscriptVersion()
	if version == t.lastVersion.Load() {
		t.log.Debug("insight tick skipped, transcript unchanged")
		return
	}

	insights, err := t.cm.GenerateInsights(ctx)
	if err != nil {
		// Clients never see a failed tick; the next one retries.
		t.log.Warn("insight generation failed", "error", err)
		return
	}
	// Advance even when the output parsed to zero insights, so an unchanged
	// transcript is not re-sent next tick.
	t.lastVersion.Store(version)
	now := time.Now()
	for _, in := range insights {
		t.hub.Broadcast(InsightEvent{Type: "insight", Kind: in.Kind, Text: in.Text, TS: now})
	}
	t.log.Debug("insights broadcast", "count", len(insights))
}

// DynamicQuestionTicker rotates one suggested-question slot per tick and
// broadcasts the full list. Ticks are skipped while the session is not
// recording and while the transcript is still empty.
type DynamicQuestionTicker struct {
	tickerTask
	cm  *ContextManager
	hub *Hub
}

// NewDynamicQuestionTicker creates a question ticker. Run must be called to
// start it.
func NewDynamicQuestionTicker(cm *ContextManager, hub *Hub, interval time.Duration, log *slog.Logger) *DynamicQuestionTicker {
	if log == nil {
		log = slog.Default()
	}
	t := &DynamicQuestionTicker{cm: cm, hub: hub}
	t.name = "questions"
	t.log = log
	t.interval.Store(int64(interval))
	t.fire = t.tick
	return t
}

func (t *DynamicQuestionTicker) tick(ctx context.Context) {
	if t.hub.State() != StateRecording {
		return
	}
	if !t.cm.TranscriptHasText() {
		t.log.Debug("question tick skipped, transcript empty")
		return
	}

	sq, err := t.cm.SuggestQuestions(ctx)
	if err != nil {
		t.hub.ReportError("question_generation", err.Error())
		return
	}
	t.hub.Broadcast(SuggestedQuestionsEvent{
		Type:         "suggested_questions",
		Questions:    sq.Questions,
		RotatedIndex: sq.RotatedIndex,
	})
}
