package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	// Env names the deployment. "production" disables .env loading.
	Env string

	HTTPAddr  string
	LogLevel  string
	LogFormat string
	LogColor  bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// MigrateOnStart applies the embedded schema after the pool is up.
	MigrateOnStart bool

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, TRACKER_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and session digests are HMAC-based.
	RequireTokenHMAC bool

	// RedisURL enables the shared session cache when set.
	RedisURL string

	// AMQPURL enables publishing timer events when set.
	AMQPURL   string
	AMQPQueue string

	TimerLockTimeout time.Duration

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// DevUsername and DevPassword seed one account in in-memory mode.
	DevUsername string
	DevPassword string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		Env: EnvString("TRACKER_ENV", "development"),

		HTTPAddr:  EnvString("TRACKER_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("TRACKER_LOG_LEVEL", "info"),
		LogFormat: EnvString("TRACKER_LOG_FORMAT", "json"),
		LogColor:  EnvBool("TRACKER_LOG_COLOR", false),

		ReadHeaderTimeout: EnvDuration("TRACKER_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("TRACKER_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("TRACKER_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("TRACKER_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("TRACKER_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:    EnvString("TRACKER_DATABASE_URL", ""),
		DBMaxConns:     EnvInt32("TRACKER_DB_MAX_CONNS", 10),
		DBMinConns:     EnvInt32("TRACKER_DB_MIN_CONNS", 0),
		MigrateOnStart: EnvBool("TRACKER_MIGRATE_ON_START", true),

		ReadinessRequireDB: EnvBool("TRACKER_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("TRACKER_REQUIRE_TOKEN_HMAC", false),

		RedisURL: EnvString("TRACKER_REDIS_URL", ""),

		AMQPURL:   EnvString("TRACKER_AMQP_URL", ""),
		AMQPQueue: EnvString("TRACKER_AMQP_QUEUE", "tracker.timer.events"),

		TimerLockTimeout: EnvDuration("TRACKER_TIMER_LOCK_TIMEOUT", 5*time.Second),

		CORSAllowedOrigins:   EnvCSV("TRACKER_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("TRACKER_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("TRACKER_CORS_MAX_AGE_SECONDS", 600),

		DevUsername: EnvString("TRACKER_DEV_USERNAME", ""),
		DevPassword: EnvString("TRACKER_DEV_PASSWORD", ""),
	}
}

// Production reports whether the runtime is configured as production.
func (c Config) Production() bool {
	return c.Env == "production"
}
