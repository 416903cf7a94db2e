package session

import (
	"context"
	"testing"
	"time"

	"github.com/livetranscripts/livetranscripts/internal/transcript"
	"github.com/livetranscripts/livetranscripts/pkg/provider/genai"
	"github.com/livetranscripts/livetranscripts/pkg/provider/genai/mock"
)

func TestInsightTickerSkipsWhilePaused(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t, HubConfig{})
	f.tr.Append(transcript.Transcription{Text: "some discussion"})
	tick := NewInsightTicker(f.cm, f.hub, time.Minute, nil)

	tick.tick(context.Background())
	if got := f.gen.CallCount(); got != 0 {
		t.Errorf("generator called %d times while paused, want 0", got)
	}
}

func TestInsightTickerSkipsUnchangedTranscript(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t, HubConfig{})
	f.gen.Script = []mock.Outcome{
		{Response: genai.Response{Text: "The team aligned on scope."}},
	}
	f.tr.Append(transcript.Transcription{Text: "scope discussion"})
	if err := f.hub.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	sub := f.hub.Subscribe()
	defer f.hub.Unsubscribe(sub)

	tick := NewInsightTicker(f.cm, f.hub, time.Minute, nil)
	tick.tick(context.Background())
	if got := f.gen.CallCount(); got != 1 {
		t.Fatalf("generator called %d times on first tick, want 1", got)
	}
	in := awaitEvent(t, sub, "insight").(InsightEvent)
	if in.Kind != InsightSummary || in.Text != "The team aligned on scope." {
		t.Errorf("insight = %+v, want the scripted summary", in)
	}

	// No new transcript entries: the next tick must not call the AI.
	tick.tick(context.Background())
	if got := f.gen.CallCount(); got != 1 {
		t.Errorf("generator called %d times after unchanged tick, want 1", got)
	}

	// New audio arrived: the version moved, so the ticker fires again.
	f.tr.Append(transcript.Transcription{Text: "new decisions"})
	tick.tick(context.Background())
	if got := f.gen.CallCount(); got != 2 {
		t.Errorf("generator called %d times after transcript growth, want 2", got)
	}
}

func TestInsightTickerFailureIsSilentAndRetried(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t, HubConfig{})
	f.gen.Script = []mock.Outcome{
		{Err: context.DeadlineExceeded},
		{Response: genai.Response{Text: "The team aligned on scope."}},
	}
	f.tr.Append(transcript.Transcription{Text: "scope discussion"})
	if err := f.hub.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	sub := f.hub.Subscribe()
	defer f.hub.Unsubscribe(sub)

	tick := NewInsightTicker(f.cm, f.hub, time.Minute, nil)

	// A failed generation reaches no subscriber.
	tick.tick(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if ev, err := sub.Next(ctx); err == nil {
		t.Fatalf("subscriber received %q event after failed tick, want none", ev.EventType())
	}

	// The transcript is unchanged, yet the next tick retries because the
	// failure did not advance the covered version.
	tick.tick(context.Background())
	if got := f.gen.CallCount(); got != 2 {
		t.Fatalf("generator called %d times, want 2 (retry after failure)", got)
	}
	in := awaitEvent(t, sub, "insight").(InsightEvent)
	if in.Text != "The team aligned on scope." {
		t.Errorf("insight text = %q, want the scripted summary", in.Text)
	}
}

func TestInsightTickerEmptyParseStillAdvancesVersion(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t, HubConfig{})
	f.gen.Script = []mock.Outcome{
		{Response: genai.Response{Text: ""}},
	}
	f.tr.Append(transcript.Transcription{Text: "scope discussion"})
	if err := f.hub.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	tick := NewInsightTicker(f.cm, f.hub, time.Minute, nil)
	tick.tick(context.Background())
	if got := f.gen.CallCount(); got != 1 {
		t.Fatalf("generator called %d times on first tick, want 1", got)
	}

	// The output parsed to zero insights, but the transcript was covered:
	// an unchanged transcript must not be re-sent.
	tick.tick(context.Background())
	if got := f.gen.CallCount(); got != 1 {
		t.Errorf("generator called %d times after unchanged tick, want 1", got)
	}
}

func TestDynamicQuestionTickerBroadcastsRotation(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t, HubConfig{})
	f.gen.Script = []mock.Outcome{
		{Response: genai.Response{Text: "What is the new scope?"}},
	}
	f.tr.Append(transcript.Transcription{Text: "scope discussion"})
	if err := f.hub.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	sub := f.hub.Subscribe()
	defer f.hub.Unsubscribe(sub)

	NewDynamicQuestionTicker(f.cm, f.hub, time.Minute, nil).tick(context.Background())
	sq := awaitEvent(t, sub, "suggested_questions").(SuggestedQuestionsEvent)
	if len(sq.Questions) != 5 {
		t.Fatalf("question count = %d, want 5", len(sq.Questions))
	}
	if sq.Questions[0] != summarizeQuestion {
		t.Errorf("questions[0] = %q, want %q", sq.Questions[0], summarizeQuestion)
	}
	if sq.RotatedIndex != 1 || sq.Questions[1] != "What is the new scope?" {
		t.Errorf("rotation = index %d question %q, want slot 1 regenerated", sq.RotatedIndex, sq.Questions[1])
	}
}

func TestDynamicQuestionTickerSkipsEmptyTranscript(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t, HubConfig{})
	if err := f.hub.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	NewDynamicQuestionTicker(f.cm, f.hub, time.Minute, nil).tick(context.Background())
	if got := f.gen.CallCount(); got != 0 {
		t.Errorf("generator called %d times on empty transcript, want 0", got)
	}
}

func TestTickerRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t, HubConfig{})
	tick := NewInsightTicker(f.cm, f.hub, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = tick.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ticker Run did not stop on context cancel")
	}
}

func TestTickerSetInterval(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t, HubConfig{})
	tick := NewDynamicQuestionTicker(f.cm, f.hub, 15*time.Second, nil)

	tick.SetInterval(3 * time.Second)
	if got := tick.Interval(); got != 3*time.Second {
		t.Errorf("Interval = %v, want %v", got, 3*time.Second)
	}
	tick.SetInterval(0)
	if got := tick.Interval(); got != 3*time.Second {
		t.Errorf("Interval after invalid update = %v, want unchanged %v", got, 3*time.Second)
	}
}
