package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/livetranscripts/livetranscripts/internal/observe"
)

// Queue is the bounded buffer between the batcher and the transcription
// dispatcher. The batcher treats the dispatcher as the rate limiter only up
// to the configured bound: past it, the OLDEST queued utterance is evicted
// so that the most recent audio is always preserved.
//
// Evictions are reported through the drop handler so the dispatcher can
// commit a placeholder entry and keep the transcript's batch sequence dense.
//
// Safe for concurrent use by one producer and any number of consumers.
type Queue struct {
	mu      sync.Mutex
	items   []Utterance
	cap     int
	notify  chan struct{}
	onDrop  func(Utterance)
	closed  bool
	metrics *observe.Metrics
}

// QueueOption configures a [Queue].
type QueueOption func(*Queue)

// WithQueueMetrics publishes the queue depth gauge through m.
func WithQueueMetrics(m *observe.Metrics) QueueOption {
	return func(q *Queue) {
		q.metrics = m
	}
}

// NewQueue returns a Queue holding at most capacity utterances. onDrop, when
// non-nil, is called (outside the queue lock) for every evicted utterance.
func NewQueue(capacity int, onDrop func(Utterance), opts ...QueueOption) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &Queue{
		cap:    capacity,
		notify: make(chan struct{}, 1),
		onDrop: onDrop,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// recordDepth moves the queue depth gauge by delta.
func (q *Queue) recordDepth(ctx context.Context, delta int64) {
	if q.metrics != nil {
		q.metrics.QueueDepth.Add(ctx, delta)
	}
}

// Put enqueues u. When the queue is full, Put blocks cooperatively for up to
// wait; if space never frees, the oldest queued utterance is evicted to make
// room and reported to the drop handler. The newest utterance is never the
// one dropped.
func (q *Queue) Put(ctx context.Context, u Utterance, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return context.Canceled
		}
		if len(q.items) < q.cap {
			q.items = append(q.items, u)
			q.mu.Unlock()
			q.recordDepth(ctx, 1)
			q.signal()
			return nil
		}
		if wait <= 0 || !time.Now().Before(deadline) {
			oldest := q.items[0]
			q.items = append(q.items[:0], q.items[1:]...)
			q.items = append(q.items, u)
			q.mu.Unlock()
			// One in, one out: the depth gauge is unchanged.
			q.signal()
			slog.Warn("batch queue full, dropped oldest utterance",
				"dropped_seq", oldest.Seq, "queued_seq", u.Seq)
			if q.onDrop != nil {
				q.onDrop(oldest)
			}
			return nil
		}
		q.mu.Unlock()

		timer := time.NewTimer(10 * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Get dequeues the next utterance, blocking until one is available, the
// queue is closed (ok=false), or the context is cancelled.
func (q *Queue) Get(ctx context.Context) (Utterance, bool, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			u := q.items[0]
			q.items = append(q.items[:0], q.items[1:]...)
			q.mu.Unlock()
			q.recordDepth(ctx, -1)
			return u, true, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			q.signal() // cascade the wakeup to other waiting consumers
			return Utterance{}, false, nil
		}
		select {
		case <-ctx.Done():
			return Utterance{}, false, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len returns the number of queued utterances.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue as closed. Queued utterances remain readable;
// consumers see ok=false once the queue drains. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
