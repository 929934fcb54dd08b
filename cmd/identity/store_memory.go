package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for dev mode and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[int64]User
	nextID int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[int64]User)}
}

// Add inserts a user with an already-hashed password and returns its id.
func (s *MemoryStore) Add(username, passwordHash string) (User, error) {
	const op = "identity.MemoryStore.Add"

	username = NormalizeUsername(username)
	if username == "" || passwordHash == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "username and hash are required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.byID {
		if strings.EqualFold(u.Username, username) {
			return User{}, ConflictError{Op: op, Field: "username"}
		}
	}
	s.nextID++
	u := User{ID: s.nextID, Username: username, PasswordHash: passwordHash, Active: true, CreatedAt: time.Now().UTC()}
	s.byID[u.ID] = u
	return u, nil
}

// SetActive toggles the active flag.
func (s *MemoryStore) SetActive(id int64, active bool) {
	s.mu.Lock()
	if u, ok := s.byID[id]; ok {
		u.Active = active
		s.byID[id] = u
	}
	s.mu.Unlock()
}

func (s *MemoryStore) FindByUsername(_ context.Context, username string) (User, error) {
	const op = "identity.FindByUsername"

	username = NormalizeUsername(username)
	if username == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "username is required"}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.byID {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return User{}, NotFoundError{Op: op, Resource: "user"}
}

func (s *MemoryStore) GetByID(_ context.Context, id int64) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return User{}, NotFoundError{Op: "identity.GetByID", Resource: "user"}
	}
	return u, nil
}

func (s *MemoryStore) UpdatePasswordHash(_ context.Context, id int64, hash string) error {
	const op = "identity.UpdatePasswordHash"

	if strings.TrimSpace(hash) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty hash"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	u.PasswordHash = hash
	s.byID[id] = u
	return nil
}
