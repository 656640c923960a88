package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fee-reconciliation-backend/internal/services/reconciliation"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds application configuration. Every key can be set from the
// environment: scheduler.batch_size is SCHEDULER_BATCH_SIZE.
type Config struct {
	Port                  string
	DBDriver              string
	DatabaseURL           string
	CORSOrigins           []string
	LogLevel              string
	LogFormat             string
	Scheduler             SchedulerConfig
	CandidateLookbackDays int
	// NotifyRateLimit is the sustained notifications per second accepted by
	// the intake endpoint; zero disables throttling.
	NotifyRateLimit float64
	NotifyBurst     int
}

type SchedulerConfig struct {
	BatchSize   int
	MaxRetries  int
	RetryDelay  time.Duration
	Concurrency int
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("db_driver", DriverPostgres)
	v.SetDefault("database_url", "")
	v.SetDefault("cors_origins", "http://localhost:3000")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("scheduler.batch_size", reconciliation.DefaultBatchSize)
	v.SetDefault("scheduler.max_retries", 5)
	v.SetDefault("scheduler.retry_delay", reconciliation.DefaultRetryDelay)
	v.SetDefault("scheduler.concurrency", reconciliation.DefaultConcurrency)
	v.SetDefault("candidate_lookback_days", 0)
	v.SetDefault("notify.rate_limit", 50)
	v.SetDefault("notify.burst", 100)
}

// New returns a viper instance reading the environment, with .env loaded
// first when present.
func New() *viper.Viper {
	v := viper.New()
	Configure(v)
	return v
}

// Configure registers defaults and environment lookup on v. Flags bound to v
// beforehand keep precedence over both.
func Configure(v *viper.Viper) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on system env")
	}

	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from .env and the environment.
func Load() (Config, error) {
	return FromViper(New())
}

func FromViper(v *viper.Viper) (Config, error) {
	c := Config{
		Port:        v.GetString("port"),
		DBDriver:    strings.ToLower(v.GetString("db_driver")),
		DatabaseURL: v.GetString("database_url"),
		CORSOrigins: splitList(v.GetString("cors_origins")),
		LogLevel:    strings.ToLower(v.GetString("log_level")),
		LogFormat:   strings.ToLower(v.GetString("log_format")),
		Scheduler: SchedulerConfig{
			BatchSize:   v.GetInt("scheduler.batch_size"),
			MaxRetries:  v.GetInt("scheduler.max_retries"),
			RetryDelay:  v.GetDuration("scheduler.retry_delay"),
			Concurrency: v.GetInt("scheduler.concurrency"),
		},
		CandidateLookbackDays: v.GetInt("candidate_lookback_days"),
		NotifyRateLimit:       v.GetFloat64("notify.rate_limit"),
		NotifyBurst:           v.GetInt("notify.burst"),
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Scheduler.BatchSize <= 0 {
		errs = append(errs, errors.New("SCHEDULER_BATCH_SIZE must be positive"))
	}
	if c.Scheduler.MaxRetries <= 0 {
		errs = append(errs, errors.New("SCHEDULER_MAX_RETRIES must be positive"))
	}
	if c.Scheduler.RetryDelay <= 0 {
		errs = append(errs, errors.New("SCHEDULER_RETRY_DELAY must be positive"))
	}
	if c.Scheduler.Concurrency <= 0 {
		errs = append(errs, errors.New("SCHEDULER_CONCURRENCY must be positive"))
	}
	if c.CandidateLookbackDays < 0 {
		errs = append(errs, errors.New("CANDIDATE_LOOKBACK_DAYS must not be negative"))
	}
	if c.NotifyRateLimit < 0 {
		errs = append(errs, errors.New("NOTIFY_RATE_LIMIT must not be negative"))
	}
	if c.NotifyRateLimit > 0 && c.NotifyBurst <= 0 {
		errs = append(errs, errors.New("NOTIFY_BURST must be positive when NOTIFY_RATE_LIMIT is set"))
	}
	return errors.Join(errs...)
}

// Reconciliation maps the configuration onto the engine's tunables.
func (c Config) Reconciliation() reconciliation.Config {
	return reconciliation.Config{
		BatchSize:         c.Scheduler.BatchSize,
		MaxRetries:        c.Scheduler.MaxRetries,
		RetryDelay:        c.Scheduler.RetryDelay,
		Concurrency:       c.Scheduler.Concurrency,
		CandidateLookback: time.Duration(c.CandidateLookbackDays) * 24 * time.Hour,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
