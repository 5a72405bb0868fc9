// Package config loads the gateway's read-only Settings value from the
// environment. Settings is treated as already-populated data by every
// other package; loading it is an ambient concern, not part of the
// streaming pipeline itself.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/fenglin-dev/voicegate/internal/logging"
)

// VolcengineConfig holds the upstream ASR provider's credentials.
type VolcengineConfig struct {
	AppKey     string
	AccessKey  string
	ResourceID string
	StreamURL  string
}

// Valid reports whether enough is configured to open an upstream session.
func (v VolcengineConfig) Valid() bool {
	return strings.TrimSpace(v.AppKey) != "" &&
		strings.TrimSpace(v.AccessKey) != "" &&
		strings.TrimSpace(v.ResourceID) != ""
}

// ArkConfig holds the LLM rewrite provider's credentials.
type ArkConfig struct {
	APIKey  string
	ModelID string
}

// Valid reports whether the Ark rewrite client can be exercised.
func (a ArkConfig) Valid() bool {
	return strings.TrimSpace(a.APIKey) != "" && strings.TrimSpace(a.ModelID) != ""
}

// PostgresConfig configures the optional finalized-transcript record
// store. Persistence is an external collaborator per spec — a pool is
// only created when DSN is non-empty.
type PostgresConfig struct {
	DSN               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
}

// Settings is the gateway's complete runtime configuration.
type Settings struct {
	ServerAddr     string
	IdleTimeoutSec float64
	Volcengine     VolcengineConfig
	Ark            ArkConfig
	Postgres       PostgresConfig
	Logging        logging.Config
}

var (
	settings *Settings
	loadErr  error
	once     sync.Once
)

// Load reads Settings from the environment (optionally seeded by a
// config/.env file) exactly once per process.
func Load() (*Settings, error) {
	once.Do(func() {
		if err := loadEnvFiles(); err != nil {
			loadErr = fmt.Errorf("load env files: %w", err)
			return
		}

		settings = &Settings{
			ServerAddr:     getEnv("SERVER_ADDR", ":8080"),
			IdleTimeoutSec: parsePositiveFloat(getEnv("TRANSCRIBE_WS_IDLE_TIMEOUT_SEC", "5"), 5),
			Volcengine: VolcengineConfig{
				AppKey:     strings.TrimSpace(os.Getenv("VOLC_APP_KEY")),
				AccessKey:  strings.TrimSpace(os.Getenv("VOLC_ACCESS_KEY")),
				ResourceID: getEnv("VOLC_RESOURCE_ID", "volc.seedasr.sauc.duration"),
				StreamURL:  getEnv("VOLC_ASR_STREAM_URL", "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async"),
			},
			Ark: ArkConfig{
				APIKey:  strings.TrimSpace(os.Getenv("ARK_API_KEY")),
				ModelID: strings.TrimSpace(os.Getenv("ARK_MODEL_ID")),
			},
			Postgres: PostgresConfig{
				DSN:               strings.TrimSpace(os.Getenv("RECORDS_DB_URL")),
				MaxConns:          int32(parsePositiveInt(getEnv("RECORDS_DB_MAX_CONNS", "4"), 4)),
				MinConns:          int32(parsePositiveInt(getEnv("RECORDS_DB_MIN_CONNS", "0"), 0)),
				MaxConnLifetime:   parseDuration(getEnv("RECORDS_DB_MAX_CONN_LIFETIME", "1h"), time.Hour),
				MaxConnIdleTime:   parseDuration(getEnv("RECORDS_DB_MAX_CONN_IDLE", "30m"), 30*time.Minute),
				HealthCheckPeriod: parseDuration(getEnv("RECORDS_DB_HEALTH_CHECK_PERIOD", "1m"), time.Minute),
				ConnectTimeout:    parseDuration(getEnv("RECORDS_DB_CONNECT_TIMEOUT", "5s"), 5*time.Second),
			},
			Logging: logging.Config{
				Level:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
				Encoding:     strings.ToLower(getEnv("LOG_ENCODING", "console")),
				Development:  parseBool(getEnv("LOG_DEVELOPMENT", "false"), false),
				EnableCaller: parseBool(getEnv("LOG_CALLER", "false"), false),
				ServiceName:  getEnv("SERVICE_NAME", "voicegate"),
			},
		}
	})

	return settings, loadErr
}

func loadEnvFiles() error {
	if err := godotenv.Load("config/.env"); err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return nil
		}
		return err
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return strings.TrimSpace(fallback)
}

func parsePositiveInt(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func parsePositiveFloat(raw string, fallback float64) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return d
}

func parseBool(raw string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return v
}

// ClampIdleTimeout applies the [1, 600] bound spec.md §3/§4.F requires
// for a client-supplied idle_timeout_sec, falling back to cfg's default
// when none was supplied.
func ClampIdleTimeout(requested *int, fallback float64) float64 {
	const (
		min = 1
		max = 600
	)
	if requested == nil {
		return fallback
	}
	v := *requested
	if v < min {
		v = min
	}
	if v > max {
		v = max
	}
	return float64(v)
}
