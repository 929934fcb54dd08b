package authapi

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"tracker/cmd/internal/httpx"
)

type lockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// sweepAbove triggers a full prune when a failure map grows past this many keys.
const sweepAbove = 4096

// loginThrottle remembers recent login failures per client IP and per username.
type loginThrottle struct {
	cfg Config

	mu     sync.Mutex
	byIP   map[string][]time.Time
	byUser map[string][]time.Time
}

func newLoginThrottle(cfg Config) *loginThrottle {
	return &loginThrottle{
		cfg:    cfg,
		byIP:   make(map[string][]time.Time),
		byUser: make(map[string][]time.Time),
	}
}

// check reports whether a login attempt from ip for username must be rejected.
func (t *loginThrottle) check(ip, username string, now time.Time) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ip != "" && t.cfg.LoginIPMax > 0 {
		if blocked, retry := evaluateWindowThrottle(now, t.byIP[ip], t.cfg.LoginIPMax, t.cfg.LoginIPWindow); blocked {
			return true, retry
		}
	}
	if username != "" {
		if blocked, retry := evaluateProgressiveLockout(now, t.byUser[username], t.cfg.lockoutTiers()); blocked {
			return true, retry
		}
	}
	return false, 0
}

func (t *loginThrottle) recordFailure(ip, username string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cut := now.Add(-t.cfg.lockoutHorizon())
	if ip != "" {
		t.byIP[ip] = append(prune(t.byIP[ip], cut), now)
	}
	if username != "" {
		t.byUser[username] = append(prune(t.byUser[username], cut), now)
	}
	if len(t.byIP) > sweepAbove || len(t.byUser) > sweepAbove {
		sweep(t.byIP, cut)
		sweep(t.byUser, cut)
	}
}

// reset forgets username failures after a successful login. IP failures are kept.
func (t *loginThrottle) reset(username string) {
	if username == "" {
		return
	}
	t.mu.Lock()
	delete(t.byUser, username)
	t.mu.Unlock()
}

func prune(ts []time.Time, cut time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cut) {
		i++
	}
	return ts[i:]
}

func sweep(m map[string][]time.Time, cut time.Time) {
	for k, ts := range m {
		ts = prune(ts, cut)
		if len(ts) == 0 {
			delete(m, k)
			continue
		}
		m[k] = ts
	}
}

// evaluateWindowThrottle blocks once max failures fall inside window.
// The retry duration is the time until enough of them age out.
func evaluateWindowThrottle(now time.Time, failures []time.Time, max int, window time.Duration) (bool, time.Duration) {
	if max <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)
	in := make([]time.Time, 0, len(failures))
	for _, f := range failures {
		if f.After(cut) && !f.After(now) {
			in = append(in, f)
		}
	}
	if len(in) < max {
		return false, 0
	}
	sort.Slice(in, func(i, j int) bool { return in[i].Before(in[j]) })
	until := in[len(in)-max].Add(window)
	return true, until.Sub(now)
}

// evaluateProgressiveLockout applies the first tier (highest threshold first) whose
// threshold is reached, locking until Duration after the most recent failure.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []lockoutTier) (bool, time.Duration) {
	if len(failures) == 0 {
		return false, 0
	}
	var latest time.Time
	for _, f := range failures {
		if f.After(latest) {
			latest = f
		}
	}
	for _, tier := range tiers {
		if tier.Threshold <= 0 || tier.Duration <= 0 || len(failures) < tier.Threshold {
			continue
		}
		until := latest.Add(tier.Duration)
		if now.Before(until) {
			return true, until.Sub(now)
		}
		return false, 0
	}
	return false, 0
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}

func throttleKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
