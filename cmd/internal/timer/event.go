package timer

import "context"

// EventType names a committed timer change.
type EventType string

const (
	EventTimerStarted EventType = "timer.started"
	EventTimerStopped EventType = "timer.stopped"
	EventTimerAborted EventType = "timer.aborted"
	EventEntryCreated EventType = "entry.created"
	EventEntryUpdated EventType = "entry.updated"
	EventEntryDeleted EventType = "entry.deleted"
)

// Event is emitted after a mutating operation commits.
type Event struct {
	Type       EventType `json:"type"`
	UserID     int64     `json:"user_id"`
	IntervalID int64     `json:"interval_id"`
	IssueID    int64     `json:"issue_id"`
	StartTime  int64     `json:"start_time,omitempty"`
	StopTime   *int64    `json:"stop_time,omitempty"`
	At         int64     `json:"at"`
}

// Notifier receives committed events. Delivery is best-effort and must not block for long.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) {}
