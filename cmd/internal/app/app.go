// Package app wires the tracker server runtime: config, logging, storage, HTTP routes and the realtime gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tracker/cmd/identity"
	authapi "tracker/cmd/internal/auth/api"
	"tracker/cmd/internal/auth/session"
	"tracker/cmd/internal/clock"
	"tracker/cmd/internal/metrics"
	"tracker/cmd/internal/notify"
	"tracker/cmd/internal/realtime"
	"tracker/cmd/internal/timer"
	timerapi "tracker/cmd/internal/timer/api"
	"tracker/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// backends groups the persistence ports for one runtime.
type backends struct {
	Store

	users    identity.Store
	sessions session.Store
	timers   timer.Store

	pool *pgxpool.Pool
}

// App is the tracker server runtime: it owns HTTP server wiring and realtime gateway dependencies.
type App struct {
	cfg   Config
	log   Logger
	clock clock.Clock

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	redis  *redis.Client
	amqp   *notify.AMQPPublisher
	events *notify.Async

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	sessionCfg session.Config
	sessions   *session.Manager
	engine     *timer.Engine
	hub        *realtime.Hub
	ws         *realtime.WSGateway

	auth   *authapi.Handler
	timers *timerapi.Handler

	handler http.Handler
}

// Option customizes New.
type Option func(*options)

type options struct {
	clock    clock.Clock
	password *password.Config
}

// WithClock overrides the wall clock for sessions and timers.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithPasswordConfig overrides the Argon2id cost loaded from the environment.
func WithPasswordConfig(c password.Config) Option {
	return func(o *options) { o.password = &c }
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	}
	o := options{clock: clock.System{}}
	for _, opt := range opts {
		opt(&o)
	}

	hasher, err := ValidateSecurityConfig(cfg)
	if err != nil {
		return nil, err
	}

	pw := password.DefaultConfig()
	if o.password != nil {
		pw = *o.password
	} else if pw, err = password.FromEnv(); err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	reg := metrics.NewRegistry()
	mx := metrics.New(reg)

	ctx := context.Background()
	be, err := newStore(ctx, cfg, log, pw)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:        cfg,
		log:        log,
		clock:      o.clock,
		store:      be,
		dbPool:     be.pool,
		dbEnabled:  be.pool != nil,
		registry:   reg,
		metrics:    mx,
		sessionCfg: sessCfg,
	}

	cache, err := a.newSessionCache(ctx)
	if err != nil {
		_ = be.Close(ctx)
		return nil, err
	}

	sessOpts := []session.Option{
		session.WithClock(o.clock),
		session.WithLogger(log),
		session.WithMetrics(mx),
	}
	if cache != nil {
		sessOpts = append(sessOpts, session.WithCache(cache))
	}
	a.sessions = session.NewManager(sessCfg, be.sessions, hasher, sessOpts...)

	a.hub = realtime.NewHub(log, o.clock, mx)
	notifiers := notify.Multi{a.hub}
	if cfg.AMQPURL != "" {
		a.amqp = notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPQueue)
		a.events = notify.NewAsync(a.amqp, 1024, log, mx)
		notifiers = append(notifiers, a.events)
		log.Info("notify.amqp.enabled", "queue", cfg.AMQPQueue)
	}

	a.engine = timer.NewEngine(be.timers,
		timer.WithClock(o.clock),
		timer.WithNotifier(notifiers),
		timer.WithLogger(log),
		timer.WithMetrics(mx),
	)

	a.auth, err = authapi.NewHandler(log, authapi.LoadConfigFromEnv(), be.users, pw, a.sessions, authapi.WithClock(o.clock))
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	a.timers, err = timerapi.NewHandler(log, a.engine, a.auth)
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	a.ws, err = realtime.NewWSGateway(log, realtime.LoadGatewayConfigFromEnv(), a.hub, a.sessions, a.engine, o.clock)
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.registry, a.ws, a.auth, a.timers)
	a.handler = WithRequestID(WithRequestLogging(WithSecurityHeaders(WithCORS(mux, cfg, log)), log, mx))

	return a, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", base,
		"ws_url", wsBaseURL(base)+"/ws/timer",
		"db_enabled", a.dbEnabled,
		"redis_enabled", a.redis != nil,
		"amqp_enabled", a.events != nil,
	)

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	if a.sessionCfg.SweepInterval > 0 {
		a.log.Info("session.janitor.start", "interval", a.sessionCfg.SweepInterval.String())
		go a.sessions.RunJanitor(janitorCtx, a.sessionCfg.SweepInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		_ = a.close(context.Background())
		return err
	}

	stopJanitor()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

// close releases publishers, caches and the store, in that order.
func (a *App) close(ctx context.Context) error {
	var errs []error
	if a.events != nil {
		a.events.Close()
	}
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newSessionCache picks the read-through cache: Redis when configured,
// a process-local cache in in-memory mode, none otherwise.
func (a *App) newSessionCache(ctx context.Context) (session.Cache, error) {
	if a.cfg.RedisURL != "" {
		ropts, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse TRACKER_REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(ropts)

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.redis = rdb
		a.log.Info("session.cache.redis")
		return session.NewRedisCache(rdb), nil
	}
	if !a.dbEnabled {
		return session.NewMemoryCache(a.clock.Now), nil
	}
	return nil, nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStore decides between Postgres-backed persistence and in-memory dev store.
func newStore(ctx context.Context, cfg Config, log Logger, pw password.Config) (backends, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		users := identity.NewMemoryStore()
		if err := seedDevUser(users, cfg, pw, log); err != nil {
			return backends{}, err
		}
		return backends{
			Store:    nopStore{},
			users:    users,
			sessions: session.NewMemoryStore(),
			timers:   timer.NewMemoryStore(),
		}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return backends{}, err
	}

	if cfg.MigrateOnStart {
		if err := migrateDB(ctx, pool, log); err != nil {
			pool.Close()
			return backends{}, err
		}
	}

	log.Info("db.enabled.postgres_store")

	// Ownership model:
	// - app owns pool lifecycle
	// - the Postgres stores only borrow it
	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return backends{}, err
	}

	return backends{
		Store:    dbStore{pool: pool},
		users:    users,
		sessions: session.NewPostgresStore(pool),
		timers:   timer.NewPostgresStore(pool, cfg.TimerLockTimeout),
		pool:     pool,
	}, nil
}

func seedDevUser(users *identity.MemoryStore, cfg Config, pw password.Config, log Logger) error {
	if cfg.DevUsername == "" || cfg.DevPassword == "" {
		return nil
	}
	if cfg.Production() {
		return errors.New("TRACKER_DEV_USERNAME is not allowed when TRACKER_ENV=production")
	}
	hash, err := pw.Hash(cfg.DevPassword)
	if err != nil {
		return fmt.Errorf("hash dev password: %w", err)
	}
	u, err := users.Add(cfg.DevUsername, hash)
	if err != nil {
		return err
	}
	log.Info("identity.dev_user.seeded", "user_id", u.ID, "username", u.Username)
	return nil
}

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
