package session

import (
	"context"
	"time"
)

// Row mirrors a sessions row. The clear-text token is never persisted.
type Row struct {
	ID        string
	TokenHash string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store abstracts persistence for session rows.
type Store interface {
	// Insert persists a new row. A duplicate token hash returns ErrTokenCollision.
	Insert(ctx context.Context, row Row) error

	// GetByTokenHash loads a row by token digest or returns ErrSessionNotFound.
	GetByTokenHash(ctx context.Context, tokenHash string) (Row, error)

	// DeleteByTokenHash removes the row if present and reports whether one was removed.
	DeleteByTokenHash(ctx context.Context, tokenHash string) (bool, error)

	// DeleteExpired removes every row with expires_at <= now and returns the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
