package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for dev mode and tests.
type MemoryStore struct {
	mu     sync.Mutex
	byHash map[string]Row

	// failNext, when set, makes the next n Insert calls fail with err.
	failNext int
	failErr  error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byHash: make(map[string]Row)}
}

// FailInserts makes the next n Insert calls return err. Test hook.
func (s *MemoryStore) FailInserts(n int, err error) {
	s.mu.Lock()
	s.failNext = n
	s.failErr = err
	s.mu.Unlock()
}

func (s *MemoryStore) Insert(_ context.Context, row Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext > 0 {
		s.failNext--
		return s.failErr
	}
	if _, ok := s.byHash[row.TokenHash]; ok {
		return ErrTokenCollision
	}
	s.byHash[row.TokenHash] = row
	return nil
}

func (s *MemoryStore) GetByTokenHash(_ context.Context, tokenHash string) (Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.byHash[tokenHash]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	return row, nil
}

func (s *MemoryStore) DeleteByTokenHash(_ context.Context, tokenHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHash[tokenHash]; !ok {
		return false, nil
	}
	delete(s.byHash, tokenHash)
	return true, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for h, row := range s.byHash {
		if !row.ExpiresAt.After(now) {
			delete(s.byHash, h)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored rows.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byHash)
}
