package identity

import (
	"context"
	"time"
)

// User is the subset of a users row needed for login.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
}

// Store is the read side of the users table.
type Store interface {
	// FindByUsername loads a user by case-insensitive username.
	// Missing users return a NotFoundError.
	FindByUsername(ctx context.Context, username string) (User, error)

	// GetByID loads a user by id.
	GetByID(ctx context.Context, id int64) (User, error)

	// UpdatePasswordHash replaces the stored hash (used to upgrade legacy hashes on login).
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
}
