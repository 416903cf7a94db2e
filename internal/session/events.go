// Package session implements the live session: the hub that serializes all
// state changes and fans events out to subscribers, the context manager that
// turns the transcript into AI answers, insights and suggested questions, and
// the periodic tickers that drive the AI layer while recording.
package session

import "time"

// RecordingState is the session's recording state machine. PAUSED and
// RECORDING toggle freely; STOPPED is terminal and tears the session down.
type RecordingState string

const (
	StatePaused    RecordingState = "PAUSED"
	StateRecording RecordingState = "RECORDING"
	StateStopped   RecordingState = "STOPPED"
)

// InsightKind classifies a generated insight line.
type InsightKind string

const (
	InsightSummary    InsightKind = "SUMMARY"
	InsightActionItem InsightKind = "ACTION_ITEM"
	InsightQuestion   InsightKind = "QUESTION"
)

// Event is one server-to-client message. Every concrete event carries a
// `type` JSON field so clients can dispatch on it.
type Event interface {
	// EventType returns the wire value of the `type` field.
	EventType() string
}

// TranscriptionEvent is broadcast on every transcript append. Failed
// utterances are still delivered, with empty text and Error set, so clients
// see continuity gaps.
type TranscriptionEvent struct {
	Type     string    `json:"type"`
	Text     string    `json:"text"`
	BatchSeq uint64    `json:"batch_seq"`
	TS       time.Time `json:"ts"`
	Error    bool      `json:"error,omitempty"`
}

func (TranscriptionEvent) EventType() string { return "transcription" }

// NewTranscriptionEvent fills the type tag.
func NewTranscriptionEvent(text string, batchSeq uint64, ts time.Time, failed bool) TranscriptionEvent {
	return TranscriptionEvent{Type: "transcription", Text: text, BatchSeq: batchSeq, TS: ts, Error: failed}
}

// AnswerEvent is the unicast reply to a question command. Error marks an
// apology answer produced when the AI call failed.
type AnswerEvent struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Answer    string `json:"answer"`
	LatencyMS int64  `json:"latency_ms"`
	Error     bool   `json:"error,omitempty"`
}

func (AnswerEvent) EventType() string { return "answer" }

// InsightEvent is broadcast on each successful insight generation.
type InsightEvent struct {
	Type string      `json:"type"`
	Kind InsightKind `json:"kind"`
	Text string      `json:"text"`
	TS   time.Time   `json:"ts"`
}

func (InsightEvent) EventType() string { return "insight" }

// SuggestedQuestionsEvent carries the full K+1 question list. RotatedIndex
// is the index of the slot regenerated this tick, 0 when the whole list was
// (re)filled from the static defaults.
type SuggestedQuestionsEvent struct {
	Type         string   `json:"type"`
	Questions    []string `json:"questions"`
	RotatedIndex int      `json:"rotated_index"`
}

func (SuggestedQuestionsEvent) EventType() string { return "suggested_questions" }

// StateEvent is broadcast on every recording-state or focus change.
type StateEvent struct {
	Type      string         `json:"type"`
	Recording RecordingState `json:"recording"`
	Focus     string         `json:"focus"`
}

func (StateEvent) EventType() string { return "state" }

// ErrorEvent reports a non-fatal failure, or the reason for a fatal stop.
type ErrorEvent struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (ErrorEvent) EventType() string { return "error" }

// PongEvent answers a ping.
type PongEvent struct {
	Type string `json:"type"`
}

func (PongEvent) EventType() string { return "pong" }

// KnowledgeItem is the payload of a set_knowledge command.
type KnowledgeItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Text string `json:"text"`
}
