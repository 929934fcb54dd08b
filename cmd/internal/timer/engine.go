package timer

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"tracker/cmd/internal/clock"
	"tracker/cmd/internal/metrics"
)

const (
	maxManualHours   = 24
	maxManualMinutes = 59
)

// Engine is the timer state machine.
type Engine struct {
	store    Store
	clock    clock.Clock
	notifier Notifier
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the clock used for start and stop times.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithNotifier sets the sink for committed timer events.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine returns an Engine over store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		clock:    clock.System{},
		notifier: nopNotifier{},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins timing issueID for userID. A running timer is closed at the same
// instant in the same transaction.
func (e *Engine) Start(ctx context.Context, userID, issueID int64) (res StartResult, err error) {
	const op = "timer.start"
	defer e.observe(op, time.Now(), &err)

	if userID <= 0 {
		return StartResult{}, invalid(op, "user_id is required")
	}
	if issueID <= 0 {
		return StartResult{}, invalid(op, "issue_id is required")
	}

	now := clock.Unix(e.clock)
	var closed *Interval

	err = e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		open, err := tx.OpenInterval(ctx, userID)
		if err != nil {
			return err
		}
		if open != nil {
			stop := closingTime(open.StartTime, now)
			if err := tx.SetTimes(ctx, open.ID, open.StartTime, &stop); err != nil {
				return err
			}
			open.StopTime = &stop
			closed = open
		}

		id, err := tx.InsertInterval(ctx, Interval{UserID: userID, IssueID: issueID, StartTime: now})
		if err != nil {
			return err
		}
		res = StartResult{IntervalID: id, IssueID: issueID, StartTime: now}
		if closed != nil {
			res.ClosedIntervalID = &closed.ID
		}
		return nil
	})
	if err != nil {
		return StartResult{}, storage(op, err)
	}

	if closed != nil {
		e.emit(ctx, Event{Type: EventTimerStopped, UserID: userID, IntervalID: closed.ID, IssueID: closed.IssueID, StartTime: closed.StartTime, StopTime: closed.StopTime, At: now})
	}
	e.emit(ctx, Event{Type: EventTimerStarted, UserID: userID, IntervalID: res.IntervalID, IssueID: issueID, StartTime: now, At: now})
	return res, nil
}

// Stop closes the running timer at the current time.
func (e *Engine) Stop(ctx context.Context, userID int64) (res StopResult, err error) {
	const op = "timer.stop"
	defer e.observe(op, time.Now(), &err)

	if userID <= 0 {
		return StopResult{}, invalid(op, "user_id is required")
	}

	now := clock.Unix(e.clock)
	return e.closeOpen(ctx, op, userID, func(start int64) int64 { return closingTime(start, now) })
}

// StopManual closes the running timer at start + hours*3600 + minutes*60.
func (e *Engine) StopManual(ctx context.Context, userID int64, hours, minutes int) (res StopResult, err error) {
	const op = "timer.stop_manual"
	defer e.observe(op, time.Now(), &err)

	if userID <= 0 {
		return StopResult{}, invalid(op, "user_id is required")
	}
	if hours < 0 || hours > maxManualHours {
		return StopResult{}, invalid(op, "hours must be between 0 and 24")
	}
	if minutes < 0 || minutes > maxManualMinutes {
		return StopResult{}, invalid(op, "minutes must be between 0 and 59")
	}

	d := int64(hours)*3600 + int64(minutes)*60
	return e.closeOpen(ctx, op, userID, func(start int64) int64 { return start + d })
}

func (e *Engine) closeOpen(ctx context.Context, op string, userID int64, stopAt func(start int64) int64) (StopResult, error) {
	var res StopResult

	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		open, err := tx.OpenInterval(ctx, userID)
		if err != nil {
			return err
		}
		if open == nil {
			return noActive(op, "no active timer found")
		}

		stop := stopAt(open.StartTime)
		if err := tx.SetTimes(ctx, open.ID, open.StartTime, &stop); err != nil {
			return err
		}
		res = StopResult{
			IntervalID:      open.ID,
			IssueID:         open.IssueID,
			StartTime:       open.StartTime,
			StopTime:        stop,
			DurationSeconds: stop - open.StartTime,
		}
		return nil
	})
	if err != nil {
		return StopResult{}, storage(op, err)
	}

	stop := res.StopTime
	e.emit(ctx, Event{Type: EventTimerStopped, UserID: userID, IntervalID: res.IntervalID, IssueID: res.IssueID, StartTime: res.StartTime, StopTime: &stop, At: clock.Unix(e.clock)})
	return res, nil
}

// Abort discards the running timer without recording any time.
func (e *Engine) Abort(ctx context.Context, userID int64) (err error) {
	const op = "timer.abort"
	defer e.observe(op, time.Now(), &err)

	if userID <= 0 {
		return invalid(op, "user_id is required")
	}

	var aborted Interval
	err = e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		open, err := tx.OpenInterval(ctx, userID)
		if err != nil {
			return err
		}
		if open == nil {
			return noActive(op, "no active timer to abort")
		}
		aborted = *open
		return tx.DeleteInterval(ctx, open.ID)
	})
	if err != nil {
		return storage(op, err)
	}

	e.emit(ctx, Event{Type: EventTimerAborted, UserID: userID, IntervalID: aborted.ID, IssueID: aborted.IssueID, StartTime: aborted.StartTime, At: clock.Unix(e.clock)})
	return nil
}

// CreateEntry records a closed historical interval.
func (e *Engine) CreateEntry(ctx context.Context, userID, issueID, start, stop int64) (iv Interval, err error) {
	const op = "timer.entry.create"
	defer e.observe(op, time.Now(), &err)

	if userID <= 0 {
		return Interval{}, invalid(op, "user_id is required")
	}
	if issueID <= 0 {
		return Interval{}, invalid(op, "issue_id is required")
	}
	if err := checkRange(op, start, stop); err != nil {
		return Interval{}, err
	}

	iv = Interval{UserID: userID, IssueID: issueID, StartTime: start, StopTime: &stop}
	err = e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		id, err := tx.InsertInterval(ctx, iv)
		if err != nil {
			return err
		}
		iv.ID = id
		return nil
	})
	if err != nil {
		return Interval{}, storage(op, err)
	}

	e.emit(ctx, Event{Type: EventEntryCreated, UserID: userID, IntervalID: iv.ID, IssueID: issueID, StartTime: start, StopTime: &stop, At: clock.Unix(e.clock)})
	return iv, nil
}

// UpdateEntry overwrites the start and stop of an existing interval.
// Updating a running interval closes it.
func (e *Engine) UpdateEntry(ctx context.Context, id, start, stop int64) (iv Interval, err error) {
	const op = "timer.entry.update"
	defer e.observe(op, time.Now(), &err)

	if id <= 0 {
		return Interval{}, invalid(op, "id is required")
	}
	if err := checkRange(op, start, stop); err != nil {
		return Interval{}, err
	}

	err = e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		cur, err := e.lockEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := tx.SetTimes(ctx, id, start, &stop); err != nil {
			return err
		}
		cur.StartTime = start
		cur.StopTime = &stop
		iv = cur
		return nil
	})
	if err != nil {
		return Interval{}, storage(op, err)
	}

	e.emit(ctx, Event{Type: EventEntryUpdated, UserID: iv.UserID, IntervalID: id, IssueID: iv.IssueID, StartTime: start, StopTime: &stop, At: clock.Unix(e.clock)})
	return iv, nil
}

// DeleteEntry removes an interval in any state.
func (e *Engine) DeleteEntry(ctx context.Context, id int64) (err error) {
	const op = "timer.entry.delete"
	defer e.observe(op, time.Now(), &err)

	if id <= 0 {
		return invalid(op, "id is required")
	}

	var gone Interval
	err = e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		cur, err := e.lockEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		gone = cur
		return tx.DeleteInterval(ctx, id)
	})
	if err != nil {
		return storage(op, err)
	}

	e.emit(ctx, Event{Type: EventEntryDeleted, UserID: gone.UserID, IntervalID: id, IssueID: gone.IssueID, StartTime: gone.StartTime, StopTime: gone.StopTime, At: clock.Unix(e.clock)})
	return nil
}

// lockEntry takes the owner's lock, then the row lock. The owner is re-checked
// after locking because the row may have been deleted in between.
func (e *Engine) lockEntry(ctx context.Context, tx Tx, id int64) (Interval, error) {
	peek, err := tx.GetInterval(ctx, id, false)
	if err != nil {
		return Interval{}, err
	}
	if err := tx.LockUser(ctx, peek.UserID); err != nil {
		return Interval{}, err
	}
	cur, err := tx.GetInterval(ctx, id, true)
	if err != nil {
		return Interval{}, err
	}
	if cur.UserID != peek.UserID {
		// Owner never changes; treat a mismatch as a vanished row.
		return Interval{}, ErrNotFound
	}
	return cur, nil
}

// GetActiveTimer returns the running timer for userID or nil when idle.
func (e *Engine) GetActiveTimer(ctx context.Context, userID int64) (at *ActiveTimer, err error) {
	const op = "timer.active"
	defer e.observe(op, time.Now(), &err)

	if userID <= 0 {
		return nil, invalid(op, "user_id is required")
	}

	at, err = e.store.ActiveTimer(ctx, userID)
	if err != nil {
		return nil, storage(op, err)
	}
	if at != nil {
		at.ElapsedSeconds = max(clock.Unix(e.clock)-at.StartTime, 0)
	}
	return at, nil
}

// GetTimeStats aggregates closed time per issue and per project.
func (e *Engine) GetTimeStats(ctx context.Context, filter StatsFilter) (st Stats, err error) {
	const op = "timer.stats"
	defer e.observe(op, time.Now(), &err)

	if filter.UserID < 0 || filter.IssueID < 0 || filter.ProjectID < 0 {
		return Stats{}, invalid(op, "filter ids must be positive")
	}

	totals, err := e.store.IssueTotals(ctx, filter)
	if err != nil {
		return Stats{}, storage(op, err)
	}
	return aggregate(totals), nil
}

func aggregate(totals []IssueTotal) Stats {
	st := Stats{Issues: make([]IssueStat, 0, len(totals)), Projects: []ProjectStat{}}
	byProject := make(map[int64]*ProjectStat)

	for _, t := range totals {
		st.TotalSeconds += t.TotalSeconds
		st.Issues = append(st.Issues, IssueStat{
			IssueID:      t.IssueID,
			IssueTitle:   t.IssueTitle,
			ProjectID:    t.ProjectID,
			ProjectName:  t.ProjectName,
			TotalSeconds: t.TotalSeconds,
			TotalHours:   Hours(t.TotalSeconds),
		})

		if t.ProjectID == 0 {
			continue
		}
		p, ok := byProject[t.ProjectID]
		if !ok {
			p = &ProjectStat{ProjectID: t.ProjectID, ProjectName: t.ProjectName}
			byProject[t.ProjectID] = p
		}
		p.TotalSeconds += t.TotalSeconds
	}

	for _, p := range byProject {
		p.TotalHours = Hours(p.TotalSeconds)
		st.Projects = append(st.Projects, *p)
	}

	sort.SliceStable(st.Issues, func(i, j int) bool {
		if st.Issues[i].TotalSeconds != st.Issues[j].TotalSeconds {
			return st.Issues[i].TotalSeconds > st.Issues[j].TotalSeconds
		}
		return st.Issues[i].IssueID < st.Issues[j].IssueID
	})
	sort.Slice(st.Projects, func(i, j int) bool {
		if st.Projects[i].TotalSeconds != st.Projects[j].TotalSeconds {
			return st.Projects[i].TotalSeconds > st.Projects[j].TotalSeconds
		}
		return st.Projects[i].ProjectID < st.Projects[j].ProjectID
	})

	st.TotalHours = Hours(st.TotalSeconds)
	return st
}

// GetTimerEntries lists every interval recorded against issueID, newest first.
func (e *Engine) GetTimerEntries(ctx context.Context, issueID int64) (out []Entry, err error) {
	const op = "timer.entries"
	defer e.observe(op, time.Now(), &err)

	if issueID <= 0 {
		return nil, invalid(op, "issue_id is required")
	}

	rows, err := e.store.Entries(ctx, issueID)
	if err != nil {
		return nil, storage(op, err)
	}

	out = make([]Entry, 0, len(rows))
	for _, iv := range rows {
		out = append(out, Entry{
			ID:              iv.ID,
			UserID:          iv.UserID,
			IssueID:         iv.IssueID,
			StartTime:       iv.StartTime,
			StopTime:        iv.StopTime,
			DurationSeconds: iv.Duration(),
			CreatedAt:       iv.CreatedAt,
		})
	}
	return out, nil
}

func (e *Engine) emit(ctx context.Context, ev Event) {
	e.notifier.Notify(context.WithoutCancel(ctx), ev)
}

func (e *Engine) observe(op string, began time.Time, errp *error) {
	result := "ok"
	if err := *errp; err != nil {
		switch {
		case errors.Is(err, ErrInvalidArgument):
			result = "invalid"
		case errors.Is(err, ErrNotFound):
			result = "not_found"
		case errors.Is(err, ErrConflict):
			result = "conflict"
		default:
			result = "error"
			e.log.Error(op+".fail", "err", err)
		}
	}
	e.metrics.TimerOp(op, result, time.Since(began))
}

func checkRange(op string, start, stop int64) error {
	if start < 0 {
		return invalid(op, "start_time must not be negative")
	}
	if stop <= start {
		return invalid(op, "stop_time must be after start_time")
	}
	return nil
}

// closingTime never lets a stop precede its start when the clock steps backwards.
func closingTime(start, now int64) int64 {
	if now < start {
		return start
	}
	return now
}
