package app

import (
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // "json" (default) or "pretty"

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBMigrate   bool

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Push delivery. An empty PushURL logs pushes instead of sending them.
	PushURL         string
	PushTimeout     time.Duration
	PushAccessToken string
	PushWorkers     int

	NotifyLanguage  string
	DefaultTimeZone string

	JoinRateEvents int
	JoinRateWindow time.Duration

	StreamQueue     int
	StreamHeartbeat time.Duration
}

// LoadConfig loads Config from the environment with defaults. A .env file in the working
// directory is read first; variables already set in the environment win.
func LoadConfig() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:  EnvString("ACTEEZER_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("ACTEEZER_LOG_LEVEL", "info"),
		LogFormat: EnvString("ACTEEZER_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("ACTEEZER_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("ACTEEZER_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("ACTEEZER_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("ACTEEZER_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("ACTEEZER_HTTP_MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      EnvInt64("ACTEEZER_MAX_BODY_BYTES", 64<<10),

		CORSAllowedOrigins:   EnvCSV("ACTEEZER_CORS_ALLOWED_ORIGINS", "http://localhost,http://127.0.0.1"),
		CORSAllowCredentials: EnvBool("ACTEEZER_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("ACTEEZER_CORS_MAX_AGE_SECONDS", 600),

		DatabaseURL: EnvString("ACTEEZER_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("ACTEEZER_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("ACTEEZER_DB_MIN_CONNS", 0),
		DBMigrate:   EnvBool("ACTEEZER_DB_MIGRATE", false),

		ReadinessRequireDB: EnvBool("ACTEEZER_READINESS_REQUIRE_DB", false),

		PushURL:         EnvString("ACTEEZER_PUSH_URL", ""),
		PushTimeout:     EnvDuration("ACTEEZER_PUSH_TIMEOUT", 10*time.Second),
		PushAccessToken: EnvString("ACTEEZER_PUSH_ACCESS_TOKEN", ""),
		PushWorkers:     EnvInt("ACTEEZER_PUSH_WORKERS", 4),

		NotifyLanguage:  EnvString("ACTEEZER_NOTIFY_LANGUAGE", "en"),
		DefaultTimeZone: EnvString("ACTEEZER_DEFAULT_TIMEZONE", "UTC"),

		JoinRateEvents: EnvInt("ACTEEZER_JOIN_RATE_EVENTS", 10),
		JoinRateWindow: EnvDuration("ACTEEZER_JOIN_RATE_WINDOW", time.Minute),

		StreamQueue:     EnvInt("ACTEEZER_STREAM_QUEUE", 64),
		StreamHeartbeat: EnvDuration("ACTEEZER_STREAM_HEARTBEAT_INTERVAL", 25*time.Second),
	}
}
