package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultSubscriberBuffer is the per-subscriber event buffer size.
const DefaultSubscriberBuffer = 64

// ErrSubscriberClosed is returned by Next once the subscriber is closed and
// its buffer drained.
var ErrSubscriberClosed = errors.New("session: subscriber closed")

// Subscriber is one connected client's send side: a bounded FIFO of events
// between the hub and the connection's write loop.
//
// The hub pushes with Send, which never blocks. On overflow the oldest
// non-transcription event is discarded first; when the buffer is full of
// transcriptions and another arrives, the subscriber is lagging beyond help
// and is closed instead. The connection's write loop drains with Next.
type Subscriber struct {
	id    string
	limit int

	mu      sync.Mutex
	buf     []Event
	dropped uint64
	lagging bool
	closed  bool

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscriber(limit int) *Subscriber {
	if limit <= 0 {
		limit = DefaultSubscriberBuffer
	}
	return &Subscriber{
		id:     uuid.NewString(),
		limit:  limit,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// ID returns the subscriber's unique id.
func (s *Subscriber) ID() string { return s.id }

// Send enqueues ev without blocking. It reports whether the event was
// buffered; false means the subscriber is closed (possibly by this call, if
// it was lagging).
func (s *Subscriber) Send(ev Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, ev)
		s.mu.Unlock()
		s.signal()
		return true
	}

	// Overflow. Sacrifice the oldest non-transcription event first.
	if i := s.oldestDroppable(); i >= 0 {
		dropped := s.buf[i]
		s.buf = append(s.buf[:i], s.buf[i+1:]...)
		s.buf = append(s.buf, ev)
		s.dropped++
		s.mu.Unlock()
		slog.Debug("subscriber buffer full, dropped event",
			"subscriber", s.id, "type", dropped.EventType())
		s.signal()
		return true
	}

	// Buffer is all transcriptions. A non-transcription arrival is itself
	// the most expendable event; a transcription arrival means the client
	// cannot keep up with the pipeline at all.
	if _, ok := ev.(TranscriptionEvent); !ok {
		s.dropped++
		s.mu.Unlock()
		slog.Debug("subscriber buffer full, dropped incoming event",
			"subscriber", s.id, "type", ev.EventType())
		return true
	}
	s.lagging = true
	s.mu.Unlock()
	slog.Warn("subscriber lagging on transcriptions, closing", "subscriber", s.id)
	s.Close()
	return false
}

// oldestDroppable returns the index of the oldest buffered non-transcription
// event, or -1. Caller holds the lock.
func (s *Subscriber) oldestDroppable() int {
	for i, ev := range s.buf {
		if _, ok := ev.(TranscriptionEvent); !ok {
			return i
		}
	}
	return -1
}

func (s *Subscriber) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available, the subscriber is closed and
// drained, or the context ends. Events are returned in send order.
func (s *Subscriber) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			ev := s.buf[0]
			s.buf = s.buf[1:]
			s.mu.Unlock()
			return ev, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, ErrSubscriberClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			// Re-check the buffer so queued events are not lost.
		case <-s.notify:
		}
	}
}

// Close marks the subscriber closed. Buffered events remain readable through
// Next until drained. Idempotent.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
}

// Closed reports whether Close has been called.
func (s *Subscriber) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Lagging reports whether the subscriber was closed for falling behind on
// transcriptions.
func (s *Subscriber) Lagging() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lagging
}

// Dropped returns how many events were discarded from this subscriber's
// buffer.
func (s *Subscriber) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
