package timer

import "context"

// Store persists intervals. Mutations happen only through Tx inside InTx.
type Store interface {
	// InTx runs fn in one transaction. It commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// ActiveTimer returns the newest open interval for userID, or nil when idle.
	ActiveTimer(ctx context.Context, userID int64) (*ActiveTimer, error)

	// IssueTotals sums closed durations per issue under filter. Open rows contribute 0.
	IssueTotals(ctx context.Context, filter StatsFilter) ([]IssueTotal, error)

	// Entries lists every interval of issueID, newest start first.
	Entries(ctx context.Context, issueID int64) ([]Interval, error)
}

// Tx is the transactional view used by Engine.
type Tx interface {
	// LockUser serializes writers for userID until the transaction ends.
	LockUser(ctx context.Context, userID int64) error

	// OpenInterval returns the newest open interval for userID, or nil when idle.
	OpenInterval(ctx context.Context, userID int64) (*Interval, error)

	// GetInterval loads an interval by id or returns ErrNotFound.
	// forUpdate takes the row lock (call LockUser for the owner first).
	GetInterval(ctx context.Context, id int64, forUpdate bool) (Interval, error)

	// InsertInterval inserts iv (open when StopTime is nil) and returns its id.
	InsertInterval(ctx context.Context, iv Interval) (int64, error)

	// SetTimes overwrites start and stop of an interval.
	SetTimes(ctx context.Context, id, start int64, stop *int64) error

	// DeleteInterval removes an interval.
	DeleteInterval(ctx context.Context, id int64) error
}
