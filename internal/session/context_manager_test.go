package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/livetranscripts/livetranscripts/internal/knowledge"
	"github.com/livetranscripts/livetranscripts/internal/transcript"
	"github.com/livetranscripts/livetranscripts/pkg/provider/genai"
	"github.com/livetranscripts/livetranscripts/pkg/provider/genai/mock"
)

func newTestManager(gen *mock.Generator) (*ContextManager, *transcript.Transcript) {
	tr := transcript.New()
	cm := NewContextManager(tr, knowledge.NewBase(), gen, ContextConfig{
		RequestTimeout: time.Second,
	})
	return cm, tr
}

func appendText(tr *transcript.Transcript, texts ...string) {
	for _, text := range texts {
		tr.Append(transcript.Transcription{Text: text})
	}
}

func TestAnswerQuestionPromptAndVersion(t *testing.T) {
	t.Parallel()

	gen := &mock.Generator{Script: []mock.Outcome{
		{Response: genai.Response{Text: "The beta ships in May."}},
	}}
	cm, tr := newTestManager(gen)
	cm.SetFocus("beta planning")
	appendText(tr, "let's target May for the beta")

	ans, err := cm.AnswerQuestion(context.Background(), "When does the beta ship?")
	if err != nil {
		t.Fatalf("AnswerQuestion returned error: %v", err)
	}
	if ans.Text != "The beta ships in May." {
		t.Errorf("answer = %q, want %q", ans.Text, "The beta ships in May.")
	}
	if ans.CoversUpToVersion != tr.Version() {
		t.Errorf("CoversUpToVersion = %d, want %d", ans.CoversUpToVersion, tr.Version())
	}

	prompt := gen.LastRequest().Prompt
	for _, want := range []string{"beta planning", "let's target May for the beta", "When does the beta ship?"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	hist := cm.History()
	if len(hist) != 1 || hist[0].Failed {
		t.Errorf("history = %+v, want one successful exchange", hist)
	}
}

func TestAnswerQuestionFailureRecorded(t *testing.T) {
	t.Parallel()

	gen := &mock.Generator{Script: []mock.Outcome{{Err: errors.New("upstream down")}}}
	cm, tr := newTestManager(gen)
	appendText(tr, "some discussion")

	_, err := cm.AnswerQuestion(context.Background(), "anything?")
	if err == nil {
		t.Fatal("AnswerQuestion did not return the generation error")
	}
	hist := cm.History()
	if len(hist) != 1 || !hist[0].Failed {
		t.Errorf("history = %+v, want one failed exchange", hist)
	}
}

func TestHistoryBounded(t *testing.T) {
	t.Parallel()

	gen := &mock.Generator{Script: []mock.Outcome{{Response: genai.Response{Text: "ok"}}}}
	tr := transcript.New()
	cm := NewContextManager(tr, knowledge.NewBase(), gen, ContextConfig{HistorySize: 3})
	appendText(tr, "text")

	for range 5 {
		if _, err := cm.AnswerQuestion(context.Background(), "q?"); err != nil {
			t.Fatalf("AnswerQuestion returned error: %v", err)
		}
	}
	if got := len(cm.History()); got != 3 {
		t.Errorf("history length = %d, want 3", got)
	}
}

func TestGenerateInsightsClassifies(t *testing.T) {
	t.Parallel()

	gen := &mock.Generator{Script: []mock.Outcome{
		{Response: genai.Response{Text: "The group reviewed the incident.\n- File the postmortem\nWhat caused the outage?"}},
	}}
	cm, tr := newTestManager(gen)
	appendText(tr, "the outage lasted an hour")

	insights, err := cm.GenerateInsights(context.Background())
	if err != nil {
		t.Fatalf("GenerateInsights returned error: %v", err)
	}
	wantKinds := []InsightKind{InsightSummary, InsightActionItem, InsightQuestion}
	if len(insights) != len(wantKinds) {
		t.Fatalf("got %d insights, want %d: %+v", len(insights), len(wantKinds), insights)
	}
	for i, k := range wantKinds {
		if insights[i].Kind != k {
			t.Errorf("insight %d kind = %s, want %s", i, insights[i].Kind, k)
		}
		if insights[i].CoversUpToVersion != tr.Version() {
			t.Errorf("insight %d CoversUpToVersion = %d, want %d", i, insights[i].CoversUpToVersion, tr.Version())
		}
	}
}

func TestSuggestQuestionsDefaultsOnEmptyTranscript(t *testing.T) {
	t.Parallel()

	gen := &mock.Generator{}
	cm, _ := newTestManager(gen)

	sq, err := cm.SuggestQuestions(context.Background())
	if err != nil {
		t.Fatalf("SuggestQuestions returned error: %v", err)
	}
	if len(sq.Questions) != 5 {
		t.Fatalf("question count = %d, want 5", len(sq.Questions))
	}
	if sq.Questions[0] != summarizeQuestion {
		t.Errorf("questions[0] = %q, want %q", sq.Questions[0], summarizeQuestion)
	}
	if sq.RotatedIndex != 0 {
		t.Errorf("rotated index = %d, want 0 for default refill", sq.RotatedIndex)
	}
	if gen.CallCount() != 0 {
		t.Errorf("generator called %d times on empty transcript, want 0", gen.CallCount())
	}
}

func TestSuggestQuestionsRotatesRoundRobin(t *testing.T) {
	t.Parallel()

	gen := &mock.Generator{Script: []mock.Outcome{
		{Response: genai.Response{Text: "Is the budget approved?\nWho owns the deploy?"}},
	}}
	cm, tr := newTestManager(gen)
	appendText(tr, "budget and deploy planning")

	first, err := cm.SuggestQuestions(context.Background())
	if err != nil {
		t.Fatalf("first SuggestQuestions returned error: %v", err)
	}
	if first.RotatedIndex != 1 {
		t.Errorf("first rotated index = %d, want 1", first.RotatedIndex)
	}
	if first.Questions[1] != "Is the budget approved?" {
		t.Errorf("questions[1] = %q, want the regenerated question", first.Questions[1])
	}
	if first.Questions[2] != defaultQuestions[1] {
		t.Errorf("questions[2] = %q, want untouched default %q", first.Questions[2], defaultQuestions[1])
	}

	// The script repeats, so the first candidate now duplicates a slot and
	// the second one must be chosen for the next cursor position.
	second, err := cm.SuggestQuestions(context.Background())
	if err != nil {
		t.Fatalf("second SuggestQuestions returned error: %v", err)
	}
	if second.RotatedIndex != 2 {
		t.Errorf("second rotated index = %d, want 2", second.RotatedIndex)
	}
	if second.Questions[2] != "Who owns the deploy?" {
		t.Errorf("questions[2] = %q, want the deduplicated candidate", second.Questions[2])
	}
	if second.Questions[1] != "Is the budget approved?" {
		t.Errorf("questions[1] = %q, want the slot from the previous tick preserved", second.Questions[1])
	}
}

func TestSuggestQuestionsFallbackWhenNothingUsable(t *testing.T) {
	t.Parallel()

	gen := &mock.Generator{Script: []mock.Outcome{
		{Response: genai.Response{Text: "no questions here, just prose"}},
	}}
	cm, tr := newTestManager(gen)
	appendText(tr, "some discussion")

	sq, err := cm.SuggestQuestions(context.Background())
	if err != nil {
		t.Fatalf("SuggestQuestions returned error: %v", err)
	}
	if sq.Questions[1] != fallbackQuestions[0] {
		t.Errorf("questions[1] = %q, want fallback %q", sq.Questions[1], fallbackQuestions[0])
	}
}

func TestSuggestQuestionsPropagatesGenerationError(t *testing.T) {
	t.Parallel()

	gen := &mock.Generator{Script: []mock.Outcome{{Err: errors.New("rate limited")}}}
	cm, tr := newTestManager(gen)
	appendText(tr, "some discussion")

	if _, err := cm.SuggestQuestions(context.Background()); err == nil {
		t.Error("SuggestQuestions did not propagate the generation error")
	}
}
