package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func mustNext(t *testing.T, s *Subscriber) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next returned error: %v", err)
	}
	return ev
}

func TestSubscriberFIFO(t *testing.T) {
	t.Parallel()

	s := newSubscriber(8)
	s.Send(NewTranscriptionEvent("one", 1, time.Now(), false))
	s.Send(PongEvent{Type: "pong"})
	s.Send(NewTranscriptionEvent("two", 2, time.Now(), false))

	wantTypes := []string{"transcription", "pong", "transcription"}
	for i, want := range wantTypes {
		if got := mustNext(t, s).EventType(); got != want {
			t.Errorf("event %d type = %q, want %q", i, got, want)
		}
	}
}

func TestSubscriberOverflowDropsOldestNonTranscription(t *testing.T) {
	t.Parallel()

	s := newSubscriber(3)
	s.Send(NewTranscriptionEvent("one", 1, time.Now(), false))
	s.Send(PongEvent{Type: "pong"})
	s.Send(NewTranscriptionEvent("two", 2, time.Now(), false))

	if !s.Send(NewTranscriptionEvent("three", 3, time.Now(), false)) {
		t.Fatal("Send on overflow with a droppable event returned false")
	}
	if got := s.Dropped(); got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}

	var seqs []uint64
	for range 3 {
		ev := mustNext(t, s)
		tr, ok := ev.(TranscriptionEvent)
		if !ok {
			t.Fatalf("buffered event type = %q, want only transcriptions left", ev.EventType())
		}
		seqs = append(seqs, tr.BatchSeq)
	}
	for i, want := range []uint64{1, 2, 3} {
		if seqs[i] != want {
			t.Errorf("seqs[%d] = %d, want %d", i, seqs[i], want)
		}
	}
}

func TestSubscriberOverflowDropsIncomingNonTranscription(t *testing.T) {
	t.Parallel()

	s := newSubscriber(2)
	s.Send(NewTranscriptionEvent("one", 1, time.Now(), false))
	s.Send(NewTranscriptionEvent("two", 2, time.Now(), false))

	if !s.Send(PongEvent{Type: "pong"}) {
		t.Error("Send of an expendable event on a transcription-full buffer returned false")
	}
	if s.Closed() {
		t.Error("subscriber closed by a droppable incoming event")
	}
	if got := s.Dropped(); got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
}

func TestSubscriberLaggingOnTranscriptionOverflow(t *testing.T) {
	t.Parallel()

	s := newSubscriber(2)
	s.Send(NewTranscriptionEvent("one", 1, time.Now(), false))
	s.Send(NewTranscriptionEvent("two", 2, time.Now(), false))

	if s.Send(NewTranscriptionEvent("three", 3, time.Now(), false)) {
		t.Error("Send of a transcription on a transcription-full buffer returned true")
	}
	if !s.Lagging() {
		t.Error("subscriber not marked lagging")
	}
	if !s.Closed() {
		t.Error("lagging subscriber not closed")
	}
}

func TestSubscriberDrainsAfterClose(t *testing.T) {
	t.Parallel()

	s := newSubscriber(8)
	s.Send(NewTranscriptionEvent("one", 1, time.Now(), false))
	s.Send(NewTranscriptionEvent("two", 2, time.Now(), false))
	s.Close()

	if s.Send(PongEvent{Type: "pong"}) {
		t.Error("Send after Close returned true")
	}
	mustNext(t, s)
	mustNext(t, s)
	if _, err := s.Next(context.Background()); !errors.Is(err, ErrSubscriberClosed) {
		t.Errorf("Next after drain = %v, want ErrSubscriberClosed", err)
	}
}

func TestSubscriberNextHonoursContext(t *testing.T) {
	t.Parallel()

	s := newSubscriber(8)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next on empty buffer = %v, want context.DeadlineExceeded", err)
	}
}
