// Package config defines the process configuration for the AgroAlert service.
// Configuration is loaded once at startup and immutable thereafter; it follows
// 12-Factor principles by strictly separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> Struct Defaults (Lowest)
//
// Any missing required value or invalid format fails the process immediately
// on startup.
package config

import (
	"time"

	"agroalert/internal/rules"
	"agroalert/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used in configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific subsets they require.
type Config struct {
	// System metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"agroalert"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	// Domain configurations
	Server     ServerConfig
	Database   DatabaseConfig
	Weather    WeatherConfig
	Telegram   TelegramConfig
	Scheduler  SchedulerConfig
	Demo       DemoConfig
	Thresholds rules.Thresholds
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds Postgres connection and pool tuning parameters. An
// empty URL selects the in-memory alert store and the fixture directory.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// WeatherConfig holds the forecast provider settings. An empty BaseURL skips
// the HTTP provider entirely and serves forecasts from the synthetic source.
type WeatherConfig struct {
	BaseURL string        `envconfig:"WEATHER_BASE_URL" validate:"omitempty,url"`
	Timeout time.Duration `envconfig:"WEATHER_TIMEOUT" default:"10s"`
	// SyntheticFallback keeps evaluation running on synthetic data when the
	// provider is configured but unreachable.
	SyntheticFallback bool `envconfig:"WEATHER_SYNTHETIC_FALLBACK" default:"true"`
}

// TelegramConfig holds the outbound channel credentials. An empty token
// selects the simulated channel adapter.
type TelegramConfig struct {
	BotToken    SecretString  `envconfig:"TELEGRAM_BOT_TOKEN"`
	SendTimeout time.Duration `envconfig:"TELEGRAM_SEND_TIMEOUT" default:"15s"`
}

// SchedulerConfig holds tick cadence and pipeline tuning.
type SchedulerConfig struct {
	EvalInterval        time.Duration `envconfig:"SCHED_EVAL_INTERVAL" default:"30m"`
	DispatchInterval    time.Duration `envconfig:"SCHED_DISPATCH_INTERVAL" default:"5m"`
	MaintenanceInterval time.Duration `envconfig:"SCHED_MAINTENANCE_INTERVAL" default:"1h"`
	Retention           time.Duration `envconfig:"SCHED_RETENTION" default:"48h"`
	EvalWorkers         int           `envconfig:"SCHED_EVAL_WORKERS" default:"8"`
	DispatchWorkers     int           `envconfig:"SCHED_DISPATCH_WORKERS" default:"4"`
	DispatchBatchLimit  int           `envconfig:"SCHED_DISPATCH_BATCH" default:"100"`
	PastDays            int           `envconfig:"SCHED_PAST_DAYS" default:"4"`
	FutureDays          int           `envconfig:"SCHED_FUTURE_DAYS" default:"2"`
	ActivityDays        int           `envconfig:"SCHED_ACTIVITY_DAYS" default:"7"`
	ArchiveDir          string        `envconfig:"SCHED_ARCHIVE_DIR" default:"./archive"`
}

// DemoConfig holds the fixture-backed demo directory settings, used when no
// database is configured.
type DemoConfig struct {
	FixtureDir string `envconfig:"DEMO_FIXTURE_DIR" default:"./fixtures/users"`
}
