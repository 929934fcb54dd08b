package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"tracker/cmd/internal/timer"
)

type memSink struct {
	mu     sync.Mutex
	events []timer.Event
	fail   bool
	block  chan struct{}
}

func (s *memSink) Name() string { return "mem" }

func (s *memSink) Publish(_ context.Context, ev timer.Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("broker down")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestAsync_DeliversInOrderAndDrainsOnClose(t *testing.T) {
	t.Parallel()

	sink := &memSink{}
	a := NewAsync(sink, 16, discard(), nil)

	for i := int64(1); i <= 5; i++ {
		a.Notify(context.Background(), timer.Event{Type: timer.EventTimerStarted, IntervalID: i})
	}
	a.Close()

	if sink.count() != 5 {
		t.Fatalf("delivered=%d want=5", sink.count())
	}
	for i, ev := range sink.events {
		if ev.IntervalID != int64(i+1) {
			t.Fatalf("event %d out of order: %+v", i, ev)
		}
	}

	// Notify after Close is a no-op.
	a.Notify(context.Background(), timer.Event{})
	a.Close()
}

func TestAsync_DropsWhenFull(t *testing.T) {
	t.Parallel()

	sink := &memSink{block: make(chan struct{})}
	a := NewAsync(sink, 1, discard(), nil)

	// The worker takes the first event and blocks; one more fits the buffer; the rest drop.
	for i := 0; i < 10; i++ {
		a.Notify(context.Background(), timer.Event{IntervalID: int64(i)})
	}
	close(sink.block)
	a.Close()

	if n := sink.count(); n < 1 || n > 2 {
		t.Fatalf("delivered=%d want 1..2", n)
	}
}

func TestAsync_PublishFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	sink := &memSink{fail: true}
	a := NewAsync(sink, 4, discard(), nil)
	a.Notify(context.Background(), timer.Event{Type: timer.EventTimerAborted})
	a.Close()

	if sink.count() != 0 {
		t.Fatalf("failed publish must not record")
	}
}

func TestMulti(t *testing.T) {
	t.Parallel()

	var got []string
	m := Multi{
		timer.NotifierFunc(func(context.Context, timer.Event) { got = append(got, "a") }),
		nil,
		timer.NotifierFunc(func(context.Context, timer.Event) { got = append(got, "b") }),
	}
	m.Notify(context.Background(), timer.Event{})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("fan-out order=%v", got)
	}
}
