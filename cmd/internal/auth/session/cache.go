package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is an optional read-through cache in front of the Store.
//
// A cache miss is (Row{}, false, nil). A revoked token is (Row{}, false, ErrSessionRevoked).
// Fill never replaces an existing entry, so a tombstone written by Revoke wins
// over a validation that read the row before the logout committed.
// Cached rows are still checked against the clock by the Manager.
type Cache interface {
	Get(ctx context.Context, tokenHash string) (Row, bool, error)
	Fill(ctx context.Context, row Row, ttl time.Duration) error
	Revoke(ctx context.Context, tokenHash string, ttl time.Duration) error
}

const redisKeyPrefix = "tracker:session:"

// RedisCache stores session rows as JSON under tracker:session:<hash>.
type RedisCache struct {
	rdb redis.Cmdable
}

// NewRedisCache wraps a go-redis client.
func NewRedisCache(rdb redis.Cmdable) *RedisCache {
	return &RedisCache{rdb: rdb}
}

type cachedRow struct {
	ID        string    `json:"id,omitempty"`
	UserID    int64     `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked,omitempty"`
}

func (c *RedisCache) Get(ctx context.Context, tokenHash string) (Row, bool, error) {
	val, err := c.rdb.Get(ctx, redisKeyPrefix+tokenHash).Bytes()
	if errors.Is(err, redis.Nil) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, err
	}

	var cr cachedRow
	if err := json.Unmarshal(val, &cr); err != nil {
		return Row{}, false, fmt.Errorf("decode cached session: %w", err)
	}
	if cr.Revoked {
		return Row{}, false, ErrSessionRevoked
	}
	return Row{
		ID:        cr.ID,
		TokenHash: tokenHash,
		UserID:    cr.UserID,
		CreatedAt: cr.CreatedAt,
		ExpiresAt: cr.ExpiresAt,
	}, true, nil
}

// Fill caches row with SET NX; an existing entry or tombstone is left untouched.
func (c *RedisCache) Fill(ctx context.Context, row Row, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(cachedRow{
		ID:        row.ID,
		UserID:    row.UserID,
		CreatedAt: row.CreatedAt,
		ExpiresAt: row.ExpiresAt,
	})
	if err != nil {
		return err
	}
	return c.rdb.SetNX(ctx, redisKeyPrefix+row.TokenHash, data, ttl).Err()
}

// Revoke overwrites any cached row with a tombstone that lives for ttl.
func (c *RedisCache) Revoke(ctx context.Context, tokenHash string, ttl time.Duration) error {
	if ttl <= 0 {
		return c.rdb.Del(ctx, redisKeyPrefix+tokenHash).Err()
	}
	data, err := json.Marshal(cachedRow{Revoked: true})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, redisKeyPrefix+tokenHash, data, ttl).Err()
}

// MemoryCache is a map-backed Cache for tests and single-process dev runs.
// Expired entries are dropped on read and swept whenever the map doubles.
type MemoryCache struct {
	mu        sync.Mutex
	now       func() time.Time
	rows      map[string]memCacheEntry
	sweepSize int
}

type memCacheEntry struct {
	row      Row
	revoked  bool
	deadline time.Time
}

const minMemCacheSweep = 64

// NewMemoryCache returns an empty MemoryCache driven by now.
func NewMemoryCache(now func() time.Time) *MemoryCache {
	return &MemoryCache{now: now, rows: make(map[string]memCacheEntry), sweepSize: minMemCacheSweep}
}

func (c *MemoryCache) Get(_ context.Context, tokenHash string) (Row, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.rows[tokenHash]
	if !ok {
		return Row{}, false, nil
	}
	if !c.now().Before(e.deadline) {
		delete(c.rows, tokenHash)
		return Row{}, false, nil
	}
	if e.revoked {
		return Row{}, false, ErrSessionRevoked
	}
	return e.row, true, nil
}

func (c *MemoryCache) Fill(_ context.Context, row Row, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.rows[row.TokenHash]; ok && now.Before(e.deadline) {
		return nil
	}
	c.rows[row.TokenHash] = memCacheEntry{row: row, deadline: now.Add(ttl)}
	c.maybeSweepLocked(now)
	return nil
}

func (c *MemoryCache) Revoke(_ context.Context, tokenHash string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		delete(c.rows, tokenHash)
		return nil
	}
	now := c.now()
	c.rows[tokenHash] = memCacheEntry{revoked: true, deadline: now.Add(ttl)}
	c.maybeSweepLocked(now)
	return nil
}

// Len reports the number of entries held, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rows)
}

func (c *MemoryCache) maybeSweepLocked(now time.Time) {
	if len(c.rows) < c.sweepSize {
		return
	}
	for k, e := range c.rows {
		if !now.Before(e.deadline) {
			delete(c.rows, k)
		}
	}
	c.sweepSize = max(2*len(c.rows), minMemCacheSweep)
}
