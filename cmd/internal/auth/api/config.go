package authapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth API behavior and login throttling.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Per-IP failure window.
	LoginIPMax    int
	LoginIPWindow time.Duration

	// Per-username progressive lockout.
	LockoutShortThreshold  int
	LockoutShortDuration   time.Duration
	LockoutLongThreshold   int
	LockoutLongDuration    time.Duration
	LockoutSevereThreshold int
	LockoutSevereDuration  time.Duration

	// RehashOnLogin upgrades legacy or outdated password hashes after a successful login.
	RehashOnLogin bool
}

// DefaultConfig returns the settings used when no environment overrides are present.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:           1 << 20,
		LoginIPMax:             20,
		LoginIPWindow:          5 * time.Minute,
		LockoutShortThreshold:  5,
		LockoutShortDuration:   5 * time.Minute,
		LockoutLongThreshold:   10,
		LockoutLongDuration:    30 * time.Minute,
		LockoutSevereThreshold: 20,
		LockoutSevereDuration:  2 * time.Hour,
		RehashOnLogin:          true,
	}
}

// LoadConfigFromEnv loads auth config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	cfg := Config{
		TrustProxy:             envBool("TRACKER_AUTH_TRUST_PROXY", def.TrustProxy),
		MaxBodyBytes:           envInt64("TRACKER_AUTH_MAX_BODY_BYTES", def.MaxBodyBytes),
		LoginIPMax:             envInt("TRACKER_AUTH_LOGIN_IP_MAX", def.LoginIPMax),
		LoginIPWindow:          envDuration("TRACKER_AUTH_LOGIN_IP_WINDOW", def.LoginIPWindow),
		LockoutShortThreshold:  envInt("TRACKER_AUTH_LOCKOUT_SHORT_THRESHOLD", def.LockoutShortThreshold),
		LockoutShortDuration:   envDuration("TRACKER_AUTH_LOCKOUT_SHORT_DURATION", def.LockoutShortDuration),
		LockoutLongThreshold:   envInt("TRACKER_AUTH_LOCKOUT_LONG_THRESHOLD", def.LockoutLongThreshold),
		LockoutLongDuration:    envDuration("TRACKER_AUTH_LOCKOUT_LONG_DURATION", def.LockoutLongDuration),
		LockoutSevereThreshold: envInt("TRACKER_AUTH_LOCKOUT_SEVERE_THRESHOLD", def.LockoutSevereThreshold),
		LockoutSevereDuration:  envDuration("TRACKER_AUTH_LOCKOUT_SEVERE_DURATION", def.LockoutSevereDuration),
		RehashOnLogin:          envBool("TRACKER_AUTH_REHASH_ON_LOGIN", def.RehashOnLogin),
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.LoginIPWindow <= 0 {
		cfg.LoginIPWindow = def.LoginIPWindow
	}
	return cfg
}

func (c Config) lockoutTiers() []lockoutTier {
	return []lockoutTier{
		{Threshold: c.LockoutSevereThreshold, Duration: c.LockoutSevereDuration},
		{Threshold: c.LockoutLongThreshold, Duration: c.LockoutLongDuration},
		{Threshold: c.LockoutShortThreshold, Duration: c.LockoutShortDuration},
	}
}

// lockoutHorizon is how far back failures can still influence a lockout decision.
func (c Config) lockoutHorizon() time.Duration {
	h := c.LoginIPWindow
	for _, t := range c.lockoutTiers() {
		if t.Duration > h {
			h = t.Duration
		}
	}
	return h
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
