package config

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper(values map[string]any) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestFromViper_Defaults(t *testing.T) {
	cfg, err := FromViper(newTestViper(map[string]any{"database_url": "postgres://localhost/fees"}))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
	assert.Equal(t, 50, cfg.Scheduler.BatchSize)
	assert.Equal(t, 5, cfg.Scheduler.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.RetryDelay)
	assert.Equal(t, 4, cfg.Scheduler.Concurrency)
	assert.Zero(t, cfg.CandidateLookbackDays)
	assert.Equal(t, 50.0, cfg.NotifyRateLimit)
	assert.Equal(t, 100, cfg.NotifyBurst)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("DATABASE_URL", "file:fees.db")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("SCHEDULER_BATCH_SIZE", "25")
	t.Setenv("SCHEDULER_RETRY_DELAY", "90s")
	t.Setenv("CANDIDATE_LOOKBACK_DAYS", "30")
	t.Setenv("NOTIFY_RATE_LIMIT", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "file:fees.db", cfg.DatabaseURL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 25, cfg.Scheduler.BatchSize)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.RetryDelay)
	assert.Equal(t, 30, cfg.CandidateLookbackDays)
	assert.Equal(t, 2.5, cfg.NotifyRateLimit)
}

func TestFromViper_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]any
		want   string
	}{
		{"missing url", map[string]any{}, "DATABASE_URL"},
		{"bad driver", map[string]any{"database_url": "x", "db_driver": "mysql"}, "DB_DRIVER"},
		{"bad level", map[string]any{"database_url": "x", "log_level": "loud"}, "invalid log level"},
		{"zero batch", map[string]any{"database_url": "x", "scheduler.batch_size": 0}, "SCHEDULER_BATCH_SIZE"},
		{"negative lookback", map[string]any{"database_url": "x", "candidate_lookback_days": -1}, "CANDIDATE_LOOKBACK_DAYS"},
		{"rate without burst", map[string]any{"database_url": "x", "notify.burst": 0}, "NOTIFY_BURST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromViper(newTestViper(tt.values))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReconciliation(t *testing.T) {
	cfg := Config{
		Scheduler:             SchedulerConfig{BatchSize: 10, MaxRetries: 3, RetryDelay: time.Minute, Concurrency: 2},
		CandidateLookbackDays: 7,
	}
	rc := cfg.Reconciliation()
	assert.Equal(t, 10, rc.BatchSize)
	assert.Equal(t, 3, rc.MaxRetries)
	assert.Equal(t, time.Minute, rc.RetryDelay)
	assert.Equal(t, 2, rc.Concurrency)
	assert.Equal(t, 7*24*time.Hour, rc.CandidateLookback)
}

func TestSetupLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	require.NoError(t, setupLogger(&buf, "warn", "json"))
	slog.Info("hidden")
	slog.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	assert.Error(t, setupLogger(&buf, "loud", "json"))
	assert.Error(t, setupLogger(&buf, "info", "xml"))
}
