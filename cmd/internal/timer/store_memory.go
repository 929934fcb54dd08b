package timer

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync"
	"time"
)

// errOpenIntervalExists mirrors the one-open-per-user unique index.
var errOpenIntervalExists = errors.New("open interval already exists for user")

// IssueInfo is the display data for an issue in the in-memory catalog.
type IssueInfo struct {
	Title       string
	ProjectID   int64
	ProjectName string
}

// MemoryStore is an in-process Store for dev mode and tests.
// Transactions are serialized behind one mutex and applied only on commit.
type MemoryStore struct {
	mu     sync.Mutex
	rows   map[int64]Interval
	nextID int64
	issues map[int64]IssueInfo
	now    func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:   make(map[int64]Interval),
		issues: make(map[int64]IssueInfo),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RegisterIssue adds display data used by ActiveTimer and IssueTotals.
func (s *MemoryStore) RegisterIssue(issueID int64, info IssueInfo) {
	s.mu.Lock()
	s.issues[issueID] = info
	s.mu.Unlock()
}

// Rows returns a snapshot of every interval ordered by id.
func (s *MemoryStore) Rows() []Interval {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Interval, 0, len(s.rows))
	for _, iv := range s.rows {
		out = append(out, iv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{s: s, rows: maps.Clone(s.rows), nextID: s.nextID}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkOneOpen(tx.rows); err != nil {
		return err
	}

	s.rows = tx.rows
	s.nextID = tx.nextID
	return nil
}

func checkOneOpen(rows map[int64]Interval) error {
	open := make(map[int64]bool)
	for _, iv := range rows {
		if !iv.Open() {
			continue
		}
		if open[iv.UserID] {
			return errOpenIntervalExists
		}
		open[iv.UserID] = true
	}
	return nil
}

func (s *MemoryStore) ActiveTimer(_ context.Context, userID int64) (*ActiveTimer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	iv := newestOpen(s.rows, userID)
	if iv == nil {
		return nil, nil
	}
	info := s.issues[iv.IssueID]
	return &ActiveTimer{
		ID:          iv.ID,
		UserID:      iv.UserID,
		IssueID:     iv.IssueID,
		StartTime:   iv.StartTime,
		IssueTitle:  info.Title,
		ProjectID:   info.ProjectID,
		ProjectName: info.ProjectName,
	}, nil
}

func (s *MemoryStore) IssueTotals(_ context.Context, f StatsFilter) ([]IssueTotal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byIssue := make(map[int64]*IssueTotal)
	for _, iv := range s.rows {
		info := s.issues[iv.IssueID]
		if f.UserID != 0 && iv.UserID != f.UserID {
			continue
		}
		if f.IssueID != 0 && iv.IssueID != f.IssueID {
			continue
		}
		if f.ProjectID != 0 && info.ProjectID != f.ProjectID {
			continue
		}

		t, ok := byIssue[iv.IssueID]
		if !ok {
			t = &IssueTotal{IssueID: iv.IssueID, IssueTitle: info.Title, ProjectID: info.ProjectID, ProjectName: info.ProjectName}
			byIssue[iv.IssueID] = t
		}
		t.TotalSeconds += iv.Duration()
	}

	out := make([]IssueTotal, 0, len(byIssue))
	for _, t := range byIssue {
		out = append(out, *t)
	}
	return out, nil
}

func (s *MemoryStore) Entries(_ context.Context, issueID int64) ([]Interval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Interval
	for _, iv := range s.rows {
		if iv.IssueID == issueID {
			out = append(out, iv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime > out[j].StartTime
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func newestOpen(rows map[int64]Interval, userID int64) *Interval {
	var best *Interval
	for _, iv := range rows {
		if iv.UserID != userID || !iv.Open() {
			continue
		}
		if best == nil || iv.StartTime > best.StartTime || (iv.StartTime == best.StartTime && iv.ID > best.ID) {
			cp := iv
			best = &cp
		}
	}
	return best
}

// memTx works on a private copy of the rows; the store mutex is held for its lifetime.
type memTx struct {
	s      *MemoryStore
	rows   map[int64]Interval
	nextID int64
}

func (tx *memTx) LockUser(context.Context, int64) error { return nil }

func (tx *memTx) OpenInterval(_ context.Context, userID int64) (*Interval, error) {
	return newestOpen(tx.rows, userID), nil
}

func (tx *memTx) GetInterval(_ context.Context, id int64, _ bool) (Interval, error) {
	iv, ok := tx.rows[id]
	if !ok {
		return Interval{}, ErrNotFound
	}
	return iv, nil
}

func (tx *memTx) InsertInterval(_ context.Context, iv Interval) (int64, error) {
	tx.nextID++
	iv.ID = tx.nextID
	iv.CreatedAt = tx.s.now()
	tx.rows[iv.ID] = iv
	return iv.ID, nil
}

func (tx *memTx) SetTimes(_ context.Context, id, start int64, stop *int64) error {
	iv, ok := tx.rows[id]
	if !ok {
		return ErrNotFound
	}
	iv.StartTime = start
	if stop != nil {
		v := *stop
		iv.StopTime = &v
	} else {
		iv.StopTime = nil
	}
	tx.rows[id] = iv
	return nil
}

func (tx *memTx) DeleteInterval(_ context.Context, id int64) error {
	if _, ok := tx.rows[id]; !ok {
		return ErrNotFound
	}
	delete(tx.rows, id)
	return nil
}
