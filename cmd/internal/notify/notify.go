package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tracker/cmd/internal/metrics"
	"tracker/cmd/internal/timer"
)

// Sink publishes one event synchronously.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev timer.Event) error
}

// Multi fans an event out to several notifiers in order.
type Multi []timer.Notifier

// Notify forwards ev to every non-nil notifier.
func (m Multi) Notify(ctx context.Context, ev timer.Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, ev)
		}
	}
}

// Async buffers events for one Sink and publishes them from a worker goroutine.
type Async struct {
	sink    Sink
	log     *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	queue chan timer.Event
	done  chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewAsync starts a worker that drains up to buffer pending events into sink.
func NewAsync(sink Sink, buffer int, log *slog.Logger, m *metrics.Metrics) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = slog.Default()
	}
	a := &Async{
		sink:    sink,
		log:     log,
		metrics: m,
		timeout: 5 * time.Second,
		queue:   make(chan timer.Event, buffer),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Notify enqueues ev without blocking.
func (a *Async) Notify(_ context.Context, ev timer.Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return
	}
	select {
	case a.queue <- ev:
	default:
		a.log.Warn("notify.drop", "sink", a.sink.Name(), "type", ev.Type, "user_id", ev.UserID)
		a.metrics.PublishFailed(a.sink.Name())
	}
}

// Close stops accepting events, drains what is queued and waits for the worker.
func (a *Async) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
	})
	<-a.done
}

func (a *Async) run() {
	defer close(a.done)

	for ev := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.sink.Publish(ctx, ev)
		cancel()
		if err != nil {
			a.log.Error("notify.publish.fail", "sink", a.sink.Name(), "type", ev.Type, "err", err)
			a.metrics.PublishFailed(a.sink.Name())
		}
	}
}
