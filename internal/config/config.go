package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/disease-trend-forecast/internal/logging"
)

// Backend names accepted in BACKEND. BackendMemory keeps history in process,
// seeded with synthetic data at startup; it is meant for development.
const (
	BackendNone       = "none"
	BackendMemory     = "memory"
	BackendSQLite     = "sqlite"
	BackendPostgreSQL = "postgresql"
	BackendMySQL      = "mysql"
)

type AppConfig struct {
	Port string `validate:"required,numeric"`

	LogLevel  string `validate:"oneof=trace debug info warn error fatal panic disabled"`
	LogFormat string `validate:"oneof=json console"`

	// Backend selects the SeriesStore strategy once at startup.
	Backend        string        `validate:"oneof=none memory sqlite postgresql mysql"`
	BackendDSN     string        `validate:"required_if=Backend postgresql,required_if=Backend mysql"`
	BackendTimeout time.Duration `validate:"gt=0"`

	// Optional Redis cache in front of the backend.
	RedisURL        string        `validate:"omitempty,url"`
	HistoryCacheTTL time.Duration `validate:"gt=0"`

	ForecastTTL time.Duration `validate:"gt=0"`

	LiveInterval time.Duration `validate:"gt=0"`
	LiveBuffer   int           `validate:"gt=0"`

	// Forecast prewarming.
	PrewarmInterval time.Duration `validate:"gt=0"`
	PrewarmCities   []string
	PrewarmDiseases []string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		logging.Debug().Err(err).Msg("no .env file loaded")
	}
	cfg := &AppConfig{}

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", "info"))
	cfg.LogFormat = strings.ToLower(getenvDefault("LOG_FORMAT", "json"))

	cfg.Backend = strings.ToLower(getenvDefault("BACKEND", BackendNone))
	cfg.BackendDSN = os.Getenv("BACKEND_DSN")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.LiveBuffer = getenvInt("LIVE_BUFFER", 16)

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"BACKEND_TIMEOUT", "2s", &cfg.BackendTimeout},
		{"HISTORY_CACHE_TTL", "5m", &cfg.HistoryCacheTTL},
		{"FORECAST_TTL", "10m", &cfg.ForecastTTL},
		{"LIVE_INTERVAL", "10s", &cfg.LiveInterval},
		{"PREWARM_INTERVAL", "15m", &cfg.PrewarmInterval},
	}
	for _, d := range durations {
		v, err := getenvDuration(d.key, d.def)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	cfg.PrewarmCities = splitList(os.Getenv("PREWARM_CITIES"))
	cfg.PrewarmDiseases = splitList(os.Getenv("PREWARM_DISEASES"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *AppConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// LoggingConfig returns the logger settings.
func (c *AppConfig) LoggingConfig() logging.Config {
	return logging.Config{Level: c.LogLevel, Format: c.LogFormat}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// splitList splits a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
