package session

import "errors"

var (
	// ErrInvalidToken is returned when a token is empty or malformed.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidUser is returned when a session is requested for a non-positive user id.
	ErrInvalidUser = errors.New("invalid user id")

	// ErrSessionNotFound is returned by stores when no row matches a token hash.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionRevoked is returned by caches holding a logout tombstone for a token hash.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrTokenCollision is returned by stores when the token hash already exists.
	ErrTokenCollision = errors.New("session token collision")

	// ErrSessionCreateFailed is returned when every insert attempt failed.
	ErrSessionCreateFailed = errors.New("session create failed")

	// ErrStoreUnavailable wraps persistence failures surfaced to callers.
	ErrStoreUnavailable = errors.New("session store unavailable")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
