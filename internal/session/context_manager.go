package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/livetranscripts/livetranscripts/internal/knowledge"
	"github.com/livetranscripts/livetranscripts/internal/observe"
	"github.com/livetranscripts/livetranscripts/internal/transcript"
	"github.com/livetranscripts/livetranscripts/pkg/provider/fault"
	"github.com/livetranscripts/livetranscripts/pkg/provider/genai"
)

// Answer is the outcome of one Q&A call.
type Answer struct {
	Text              string
	Latency           time.Duration
	CoversUpToVersion uint64
}

// Insight is one classified observation derived from the transcript.
type Insight struct {
	Kind              InsightKind
	Text              string
	GeneratedAt       time.Time
	CoversUpToVersion uint64
}

// SuggestedQuestions is one rotation tick's full question list.
type SuggestedQuestions struct {
	// Questions holds K+1 entries; Questions[0] is always the fixed
	// summarize prompt.
	Questions []string

	// RotatedIndex is the index into Questions of the slot regenerated this
	// tick, 0 when the whole list was refilled from the static defaults.
	RotatedIndex int

	CoversUpToVersion uint64
}

// Exchange is one remembered question/answer pair.
type Exchange struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	AskedAt  time.Time `json:"asked_at"`
	Failed   bool      `json:"failed,omitempty"`
}

// ContextConfig configures a [ContextManager].
type ContextConfig struct {
	// KnowledgeByteBudget truncates rendered knowledge in prompts, oldest
	// documents first. 0 means no limit.
	KnowledgeByteBudget int

	// TranscriptByteBudget truncates the rendered transcript in prompts,
	// oldest lines first. 0 means the entire transcript, always.
	TranscriptByteBudget int

	// NumDynamicQuestions is the rotating slot count. Defaults to 4.
	NumDynamicQuestions int

	// MaxTokens and Temperature are passed through to every generation.
	MaxTokens   int
	Temperature float64

	// RequestTimeout bounds each AI call. Defaults to 30s.
	RequestTimeout time.Duration

	// HistorySize is how many Q&A exchanges are retained. Defaults to 20.
	HistorySize int

	// Metrics receives per-call instrumentation. Nil disables it.
	Metrics *observe.Metrics
}

func (c *ContextConfig) withDefaults() {
	if c.NumDynamicQuestions <= 0 {
		c.NumDynamicQuestions = 4
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 20
	}
}

// ContextManager derives AI content from the session: answers to live
// questions, periodic insights, and the rotating suggested question list.
// Every operation snapshots the transcript before calling the backend, so
// results always carry the exact transcript version they cover. The manager
// performs no retries and no rate limiting; callers own both.
//
// All methods are safe for concurrent use.
type ContextManager struct {
	tr  *transcript.Transcript
	kb  *knowledge.Base
	gen genai.Generator
	cfg ContextConfig

	mu       sync.Mutex
	focus    string
	slots    []string
	cursor   int
	history  []Exchange
	insights []Insight
}

// maxRetainedInsights bounds the in-memory insight log kept for the session
// record.
const maxRetainedInsights = 200

// NewContextManager creates a ContextManager over the transcript, knowledge
// base, and generative backend. The rotating slots start from the static
// default questions.
func NewContextManager(tr *transcript.Transcript, kb *knowledge.Base, gen genai.Generator, cfg ContextConfig) *ContextManager {
	cfg.withDefaults()
	cm := &ContextManager{tr: tr, kb: kb, gen: gen, cfg: cfg}
	cm.slots = defaultSlots(cfg.NumDynamicQuestions)
	return cm
}

// defaultSlots fills k slots by cycling the static default list.
func defaultSlots(k int) []string {
	slots := make([]string, k)
	for i := range slots {
		slots[i] = defaultQuestions[i%len(defaultQuestions)]
	}
	return slots
}

// SetFocus updates the session focus used by subsequent prompts.
func (cm *ContextManager) SetFocus(focus string) {
	cm.mu.Lock()
	cm.focus = focus
	cm.mu.Unlock()
}

// Focus returns the current session focus.
func (cm *ContextManager) Focus() string {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.focus
}

// History returns a copy of the remembered Q&A exchanges, oldest first.
func (cm *ContextManager) History() []Exchange {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return slices.Clone(cm.history)
}

// TranscriptVersion returns the transcript's current append counter.
func (cm *ContextManager) TranscriptVersion() uint64 {
	return cm.tr.Snapshot().Version
}

// TranscriptHasText reports whether any committed transcription carried text.
func (cm *ContextManager) TranscriptHasText() bool {
	return cm.tr.Snapshot().HasText()
}

// promptInputs gathers everything a prompt needs without holding the lock
// across the AI call.
func (cm *ContextManager) promptInputs() (in promptContext, snap transcript.Snapshot) {
	cm.mu.Lock()
	in.focus = cm.focus
	cm.mu.Unlock()
	in.knowledge, in.knowledgeTruncated = cm.kb.Render(cm.cfg.KnowledgeByteBudget)
	snap = cm.tr.Snapshot()
	in.transcript, in.transcriptTruncated = snap.Render(cm.cfg.TranscriptByteBudget)
	return in, snap
}

// generate runs one bounded AI call with instrumentation.
func (cm *ContextManager) generate(ctx context.Context, kind, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, cm.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	resp, err := cm.gen.Generate(ctx, genai.Request{
		Prompt:      prompt,
		MaxTokens:   cm.cfg.MaxTokens,
		Temperature: cm.cfg.Temperature,
	})
	elapsed := time.Since(start)

	if m := cm.cfg.Metrics; m != nil {
		if err != nil {
			m.RecordProviderRequest(ctx, cm.gen.Model(), kind, "failure")
			m.RecordProviderError(ctx, cm.gen.Model(), fault.ClassOf(err).String())
		} else {
			m.RecordProviderRequest(ctx, cm.gen.Model(), kind, "success")
			m.GenerationDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					observe.Attr("kind", kind),
					observe.Attr("model", cm.gen.Model())))
		}
	}
	if err != nil {
		return "", fmt.Errorf("session: %s generation: %w", kind, err)
	}
	return resp.Text, nil
}

// AnswerQuestion answers q over the transcript as it stood when the call
// began. The exchange is recorded in the history either way; the error is
// returned alongside so the hub can shape the failure reply.
func (cm *ContextManager) AnswerQuestion(ctx context.Context, q string) (Answer, error) {
	in, snap := cm.promptInputs()

	start := time.Now()
	text, err := cm.generate(ctx, "qa", qaPrompt(in, q))
	ans := Answer{
		Text:              text,
		Latency:           time.Since(start),
		CoversUpToVersion: snap.Version,
	}

	cm.mu.Lock()
	cm.history = append(cm.history, Exchange{
		Question: q,
		Answer:   text,
		AskedAt:  start,
		Failed:   err != nil,
	})
	if n := len(cm.history) - cm.cfg.HistorySize; n > 0 {
		cm.history = slices.Delete(cm.history, 0, n)
	}
	cm.mu.Unlock()

	return ans, err
}

// GenerateInsights runs one insight generation over the transcript and parses
// the free-form result into classified insights.
func (cm *ContextManager) GenerateInsights(ctx context.Context) ([]Insight, error) {
	in, snap := cm.promptInputs()

	raw, err := cm.generate(ctx, "insights", insightsPrompt(in))
	if err != nil {
		return nil, err
	}
	now := time.Now()
	insights := parseInsights(raw)
	for i := range insights {
		insights[i].GeneratedAt = now
		insights[i].CoversUpToVersion = snap.Version
	}

	cm.mu.Lock()
	cm.insights = append(cm.insights, insights...)
	if n := len(cm.insights) - maxRetainedInsights; n > 0 {
		cm.insights = slices.Delete(cm.insights, 0, n)
	}
	cm.mu.Unlock()
	return insights, nil
}

// Insights returns a copy of every retained insight, oldest first.
func (cm *ContextManager) Insights() []Insight {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return slices.Clone(cm.insights)
}

// SuggestQuestions produces the K+1 question list, regenerating exactly one
// rotating slot per call. On an empty transcript the slots are reset to the
// static defaults without an AI call.
func (cm *ContextManager) SuggestQuestions(ctx context.Context) (SuggestedQuestions, error) {
	in, snap := cm.promptInputs()

	if !snap.HasText() {
		cm.mu.Lock()
		cm.slots = defaultSlots(cm.cfg.NumDynamicQuestions)
		cm.cursor = 0
		list := cm.questionListLocked()
		cm.mu.Unlock()
		return SuggestedQuestions{Questions: list, RotatedIndex: 0, CoversUpToVersion: snap.Version}, nil
	}

	raw, err := cm.generate(ctx, "questions", questionsPrompt(in, cm.cfg.NumDynamicQuestions))
	if err != nil {
		return SuggestedQuestions{}, err
	}
	candidates := cleanQuestionLines(raw)

	cm.mu.Lock()
	defer cm.mu.Unlock()
	replacement := pickQuestion(candidates, cm.slots)
	if replacement == "" {
		replacement = pickQuestion(fallbackQuestions, cm.slots)
	}
	if replacement != "" {
		cm.slots[cm.cursor] = replacement
	}
	rotated := cm.cursor + 1 // slot index shifted past the fixed summarize entry
	cm.cursor = (cm.cursor + 1) % len(cm.slots)
	return SuggestedQuestions{
		Questions:         cm.questionListLocked(),
		RotatedIndex:      rotated,
		CoversUpToVersion: snap.Version,
	}, nil
}

// questionListLocked builds the K+1 wire list. Caller holds cm.mu.
func (cm *ContextManager) questionListLocked() []string {
	list := make([]string, 0, len(cm.slots)+1)
	list = append(list, summarizeQuestion)
	return append(list, cm.slots...)
}

// pickQuestion returns the first candidate not already occupying a slot.
func pickQuestion(candidates, slots []string) string {
	for _, c := range candidates {
		if !slices.Contains(slots, c) {
			return c
		}
	}
	return ""
}
