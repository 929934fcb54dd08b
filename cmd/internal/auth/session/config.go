package session

import (
	"os"
	"strconv"
	"time"
)

// Config defines runtime configuration for the session subsystem.
type Config struct {
	// TTL is the fixed session lifetime measured from creation.
	TTL time.Duration

	// TokenBytes is the number of random bytes behind each token (hex-encoded on the wire).
	TokenBytes int

	// CreateAttempts bounds insert attempts in CreateSession, including the first.
	CreateAttempts int

	// CreateBackoff is the pause between insert attempts.
	CreateBackoff time.Duration

	// CacheTTL caps how long a validated session may live in the read-through cache.
	CacheTTL time.Duration

	// SweepInterval enables the in-process janitor when > 0.
	SweepInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TTL:            24 * time.Hour,
		TokenBytes:     32,
		CreateAttempts: 3,
		CreateBackoff:  100 * time.Millisecond,
		CacheTTL:       5 * time.Minute,
		SweepInterval:  0,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - TRACKER_SESSION_TTL
//   - TRACKER_SESSION_TOKEN_BYTES (32..64)
//   - TRACKER_SESSION_CREATE_ATTEMPTS (1..10)
//   - TRACKER_SESSION_CREATE_BACKOFF
//   - TRACKER_SESSION_CACHE_TTL
//   - TRACKER_SESSION_SWEEP_INTERVAL
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("TRACKER_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.TTL = d
	}

	if v := os.Getenv("TRACKER_SESSION_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.TokenBytes = n
	}

	if v := os.Getenv("TRACKER_SESSION_CREATE_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 10 {
			return Config{}, ErrConfig
		}
		cfg.CreateAttempts = n
	}

	if v := os.Getenv("TRACKER_SESSION_CREATE_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.CreateBackoff = d
	}

	if v := os.Getenv("TRACKER_SESSION_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.CacheTTL = d
	}

	if v := os.Getenv("TRACKER_SESSION_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.SweepInterval = d
	}

	return cfg, nil
}
