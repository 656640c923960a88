package reconciliation

import (
	"log/slog"
	"time"

	"fee-reconciliation-backend/internal/models"
)

// Config holds the tunables of the engine. Zero values fall back to the
// defaults below.
type Config struct {
	BatchSize   int
	MaxRetries  int
	RetryDelay  time.Duration
	Concurrency int
	// CandidateLookback bounds the candidate pool to payments within this
	// distance of the reported date. Zero means no bound.
	CandidateLookback time.Duration
	SuggestionLimit   int
}

const (
	DefaultBatchSize       = 50
	DefaultRetryDelay      = 5 * time.Minute
	DefaultConcurrency     = 4
	DefaultSuggestionLimit = 5

	ActorScheduler = "system:scheduler"
	ActorImport    = "system:import"
	ActorIntake    = "system:intake"
)

func DefaultConfig() Config {
	return Config{
		BatchSize:       DefaultBatchSize,
		MaxRetries:      models.DefaultMaxRetries,
		RetryDelay:      DefaultRetryDelay,
		Concurrency:     DefaultConcurrency,
		SuggestionLimit: DefaultSuggestionLimit,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.SuggestionLimit <= 0 {
		c.SuggestionLimit = d.SuggestionLimit
	}
	return c
}

type options struct {
	now    func() time.Time
	logger *slog.Logger
}

// Option customizes a Service or Scheduler.
type Option func(*options)

// WithClock replaces time.Now. Tests use it to step through retry windows.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
