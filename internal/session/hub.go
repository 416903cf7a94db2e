package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/livetranscripts/livetranscripts/internal/knowledge"
	"github.com/livetranscripts/livetranscripts/internal/observe"
)

// HubConfig configures a [Hub].
type HubConfig struct {
	// SubscriberBuffer is the per-subscriber send buffer size. Defaults to
	// [DefaultSubscriberBuffer].
	SubscriberBuffer int

	// OnRecordingChange is invoked, outside the hub lock, whenever the
	// session toggles between PAUSED and RECORDING. Used to pause the
	// upstream batcher.
	OnRecordingChange func(recording bool)

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// HubStats is a point-in-time snapshot for the stats endpoint.
type HubStats struct {
	Recording     RecordingState `json:"recording"`
	Focus         string         `json:"focus"`
	Subscribers   int            `json:"subscribers"`
	EventsDropped uint64         `json:"events_dropped"`
	Broadcasts    uint64         `json:"broadcasts"`
	StartedAt     time.Time      `json:"started_at"`
}

// Hub is the single point of serialization for session state. Every mutation
// of the recording state, focus, and knowledge passes through its lock, and
// every pipeline event fans out through it to the subscriber set.
//
// Slow subscribers never back-pressure the pipeline: Broadcast only ever
// performs non-blocking sends, and a subscriber that cannot keep up with
// transcriptions is closed (see [Subscriber.Send]).
type Hub struct {
	cm  *ContextManager
	kb  *knowledge.Base
	cfg HubConfig
	log *slog.Logger

	mu         sync.Mutex
	state      RecordingState
	subs       map[string]*Subscriber
	inflight   map[string]map[string]context.CancelFunc // subscriber id -> request id
	broadcasts uint64
	dropped    uint64

	startedAt time.Time
	done      chan struct{}
	stopOnce  sync.Once
}

// NewHub creates a hub in the PAUSED state with no subscribers.
func NewHub(cm *ContextManager, kb *knowledge.Base, cfg HubConfig) *Hub {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		cm:        cm,
		kb:        kb,
		cfg:       cfg,
		log:       log.With("component", "hub"),
		state:     StatePaused,
		subs:      make(map[string]*Subscriber),
		inflight:  make(map[string]map[string]context.CancelFunc),
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Run blocks until ctx ends or the session is stopped, then tears down every
// subscriber. The hub accepts no new subscribers afterwards.
func (h *Hub) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		h.Stop()
	case <-h.done:
	}
	return nil
}

// Done is closed once the session reached STOPPED.
func (h *Hub) Done() <-chan struct{} { return h.done }

// State returns the current recording state.
func (h *Hub) State() RecordingState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Stats snapshots the hub for the stats endpoint.
func (h *Hub) Stats() HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	dropped := h.dropped
	for _, s := range h.subs {
		dropped += s.Dropped()
	}
	return HubStats{
		Recording:     h.state,
		Focus:         h.cm.Focus(),
		Subscribers:   len(h.subs),
		EventsDropped: dropped,
		Broadcasts:    h.broadcasts,
		StartedAt:     h.startedAt,
	}
}

// Subscribe registers a new subscriber and immediately queues it the current
// state. Returns nil once the session stopped.
func (h *Hub) Subscribe() *Subscriber {
	h.mu.Lock()
	if h.state == StateStopped {
		h.mu.Unlock()
		return nil
	}
	sub := newSubscriber(h.cfg.SubscriberBuffer)
	h.subs[sub.id] = sub
	state := h.stateEventLocked()
	h.mu.Unlock()

	sub.Send(state)
	if m := h.cfg.Metrics; m != nil {
		m.ActiveSubscribers.Add(context.Background(), 1)
	}
	h.log.Info("subscriber joined", "subscriber", sub.id)
	return sub
}

// Unsubscribe removes and closes the subscriber and cancels its in-flight
// question calls.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	_, present := h.subs[sub.id]
	delete(h.subs, sub.id)
	cancels := h.inflight[sub.id]
	delete(h.inflight, sub.id)
	h.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	sub.Close()
	if present {
		if m := h.cfg.Metrics; m != nil {
			m.ActiveSubscribers.Add(context.Background(), -1)
		}
		h.log.Info("subscriber left", "subscriber", sub.id, "dropped", sub.Dropped(), "lagging", sub.Lagging())
	}
}

// Start transitions PAUSED to RECORDING. A repeat start is a no-op; a start
// after STOPPED is an error.
func (h *Hub) Start() error {
	return h.setRecording(StateRecording)
}

// Pause transitions RECORDING to PAUSED. The transcript is retained, so a
// later Start resumes the same session. A repeat pause is a no-op.
func (h *Hub) Pause() error {
	return h.setRecording(StatePaused)
}

func (h *Hub) setRecording(target RecordingState) error {
	h.mu.Lock()
	if h.state == StateStopped {
		h.mu.Unlock()
		return fmt.Errorf("session: hub stopped")
	}
	if h.state == target {
		h.mu.Unlock()
		return nil
	}
	h.state = target
	ev := h.stateEventLocked()
	h.mu.Unlock()

	h.log.Info("recording state changed", "state", target)
	if f := h.cfg.OnRecordingChange; f != nil {
		f(target == StateRecording)
	}
	h.Broadcast(ev)
	return nil
}

// SetFocus updates the session focus. Setting the same focus twice yields a
// single state broadcast.
func (h *Hub) SetFocus(focus string) {
	if h.cm.Focus() == focus {
		return
	}
	h.cm.SetFocus(focus)
	h.log.Info("session focus updated", "focus", focus)
	h.mu.Lock()
	ev := h.stateEventLocked()
	h.mu.Unlock()
	h.Broadcast(ev)
}

// SetKnowledge replaces the session knowledge with the given items and
// broadcasts the state as acknowledgement.
func (h *Hub) SetKnowledge(items []KnowledgeItem) {
	docs := make([]knowledge.Document, 0, len(items))
	for _, it := range items {
		docs = append(docs, knowledge.Document{ID: it.ID, Title: it.Name, Content: it.Text})
	}
	h.kb.ReplaceAll(docs)
	h.log.Info("session knowledge replaced", "documents", len(docs))
	h.mu.Lock()
	ev := h.stateEventLocked()
	h.mu.Unlock()
	h.Broadcast(ev)
}

// Ask answers a question asynchronously and unicasts exactly one answer event
// with the given request id back to the asking subscriber. A failed AI call
// still produces an answer, apologetic and flagged.
//
// The call is detached from the session lifecycle: stopping the hub does not
// cancel it, but the reply is discarded once the subscriber is closed.
// Disconnecting the subscriber cancels the call best-effort.
func (h *Hub) Ask(sub *Subscriber, requestID, question string) {
	ctx, cancel := context.WithCancel(context.Background())

	h.mu.Lock()
	if _, ok := h.subs[sub.id]; !ok {
		h.mu.Unlock()
		cancel()
		return
	}
	if h.inflight[sub.id] == nil {
		h.inflight[sub.id] = make(map[string]context.CancelFunc)
	}
	h.inflight[sub.id][requestID] = cancel
	h.mu.Unlock()

	go func() {
		defer cancel()
		ans, err := h.cm.AnswerQuestion(ctx, question)

		h.mu.Lock()
		delete(h.inflight[sub.id], requestID)
		h.mu.Unlock()

		ev := AnswerEvent{
			Type:      "answer",
			RequestID: requestID,
			Answer:    ans.Text,
			LatencyMS: ans.Latency.Milliseconds(),
		}
		if err != nil {
			h.log.Warn("question failed", "request_id", requestID, "error", err)
			ev.Answer = fmt.Sprintf("Sorry, I encountered an error processing your question: %v", err)
			ev.Error = true
		}
		sub.Send(ev)
	}()
}

// Ping unicasts a pong.
func (h *Hub) Ping(sub *Subscriber) {
	sub.Send(PongEvent{Type: "pong"})
}

// Broadcast fans ev out to every live subscriber without blocking. Closed and
// newly lagging subscribers are pruned from the set.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	h.broadcasts++
	targets := make([]*Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	for _, s := range targets {
		before := s.Dropped()
		if !s.Send(ev) {
			h.Unsubscribe(s)
			continue
		}
		if m := h.cfg.Metrics; m != nil && s.Dropped() > before {
			m.RecordEventDropped(context.Background(), ev.EventType())
		}
	}
}

// ReportError broadcasts a non-fatal failure to all subscribers.
func (h *Hub) ReportError(kind, message string) {
	h.log.Warn("session error", "kind", kind, "message", message)
	h.Broadcast(ErrorEvent{Type: "error", Kind: kind, Message: message})
}

// Stop transitions the session to the terminal STOPPED state, notifies and
// closes every subscriber, and releases Run. Idempotent.
func (h *Hub) Stop() {
	h.Terminate("", "")
}

// Terminate is Stop with a final error event explaining why, broadcast before
// the state change when kind is non-empty.
func (h *Hub) Terminate(kind, message string) {
	h.stopOnce.Do(func() {
		if kind != "" {
			h.log.Error("session terminating", "kind", kind, "message", message)
			h.Broadcast(ErrorEvent{Type: "error", Kind: kind, Message: message})
		}

		h.mu.Lock()
		h.state = StateStopped
		ev := h.stateEventLocked()
		subs := make([]*Subscriber, 0, len(h.subs))
		for _, s := range h.subs {
			subs = append(subs, s)
		}
		h.subs = make(map[string]*Subscriber)
		inflight := h.inflight
		h.inflight = make(map[string]map[string]context.CancelFunc)
		h.mu.Unlock()

		for _, s := range subs {
			s.Send(ev)
			s.Close()
		}
		for _, reqs := range inflight {
			for _, cancel := range reqs {
				cancel()
			}
		}
		if m := h.cfg.Metrics; m != nil {
			m.ActiveSubscribers.Add(context.Background(), int64(-len(subs)))
		}
		h.log.Info("session stopped", "subscribers", len(subs))
		close(h.done)
	})
}

// stateEventLocked builds the current state event. Caller holds h.mu.
func (h *Hub) stateEventLocked() StateEvent {
	return StateEvent{Type: "state", Recording: h.state, Focus: h.cm.Focus()}
}
