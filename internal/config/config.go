package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var ErrMissingStreamURL = errors.New("STREAM_URL is required")

type Config struct {
	// Stream
	StreamURL            string        `validate:"required,url"`
	ReconnectBase        time.Duration `validate:"gt=0"`
	ReconnectCap         time.Duration `validate:"gtefield=ReconnectBase"`
	ReconnectMaxAttempts int           `validate:"gte=0"`
	FlushInterval        time.Duration `validate:"gt=0"`
	MonitorInterval      time.Duration `validate:"gt=0"`
	SlowThreshold        time.Duration `validate:"gt=0"`
	StaleThreshold       time.Duration `validate:"gtfield=SlowThreshold"`

	// Geospatial
	GridCellDeg       float64       `validate:"gt=0"`
	FrameInterval     time.Duration `validate:"gt=0"`
	ReportingInterval time.Duration `validate:"gt=0"`
	JitterMeters      float64       `validate:"gte=0"`
	GeofenceFile      string
	DemoGeofences     bool
	DemoSeed          uint64

	// Alerts
	AlertCap           int           `validate:"gt=0"`
	AlertPruneAge      time.Duration `validate:"gt=0"`
	AlertPruneInterval time.Duration `validate:"gt=0"`
	SpeedLimitKmh      float64       `validate:"gt=0"`

	// HTTP
	HTTPPort string `validate:"required,numeric"`

	// TimescaleDB, disabled when DBHost is empty
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32

	// Redis, disabled when RedisAddr is empty
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// RabbitMQ, disabled when RabbitMQURL is empty
	RabbitMQURL      string `validate:"omitempty,url"`
	RabbitMQExchange string

	// Pipeline channels
	HistoryChannelSize int `validate:"gt=0"`
	StateChannelSize   int `validate:"gt=0"`
	RuleChannelSize    int `validate:"gt=0"`
	EventChannelSize   int `validate:"gt=0"`

	// History writer tuning
	HistoryBatchSize     int           `validate:"gt=0"`
	HistoryFlushInterval time.Duration `validate:"gt=0"`

	// Auth
	AuthCacheTTLSeconds int
	ValidAPIKeys        []string

	// Routing
	RouteServiceURL string `validate:"omitempty,url"`
}

func Load() *Config {
	return &Config{
		StreamURL:            getEnv("STREAM_URL", ""),
		ReconnectBase:        getEnvMillis("RECONNECT_BASE_MS", 1000),
		ReconnectCap:         getEnvMillis("RECONNECT_CAP_MS", 30000),
		ReconnectMaxAttempts: getEnvInt("RECONNECT_MAX_ATTEMPTS", 5),
		FlushInterval:        getEnvMillis("FLUSH_INTERVAL_MS", 500),
		MonitorInterval:      getEnvMillis("MONITOR_INTERVAL_MS", 2000),
		SlowThreshold:        getEnvMillis("SLOW_THRESHOLD_MS", 4000),
		StaleThreshold:       getEnvMillis("STALE_THRESHOLD_MS", 10000),
		GridCellDeg:          getEnvFloat("GRID_CELL_DEG", 0.01),
		FrameInterval:        getEnvMillis("FRAME_INTERVAL_MS", 16),
		ReportingInterval:    getEnvMillis("REPORTING_INTERVAL_MS", 1000),
		JitterMeters:         getEnvFloat("JITTER_METERS", 1),
		GeofenceFile:         getEnv("GEOFENCE_FILE", ""),
		DemoGeofences:        getEnvBool("DEMO_GEOFENCES", false),
		DemoSeed:             uint64(getEnvInt("DEMO_SEED", 42)),
		AlertCap:             getEnvInt("ALERT_CAP", 200),
		AlertPruneAge:        getEnvMillis("ALERT_PRUNE_AGE_MS", 300000),
		AlertPruneInterval:   getEnvMillis("ALERT_PRUNE_INTERVAL_MS", 60000),
		SpeedLimitKmh:        getEnvFloat("SPEED_LIMIT_KMH", 75),
		HTTPPort:             getEnv("HTTP_PORT", "8002"),
		DBHost:               getEnv("DB_HOST", ""),
		DBPort:               getEnv("DB_PORT", "5432"),
		DBUser:               getEnv("DB_USER", "fleet_user"),
		DBPassword:           getEnv("DB_PASSWORD", "fleet_password"),
		DBName:               getEnv("DB_NAME", "fleet_monitor"),
		DBMaxConns:           int32(getEnvInt("DB_MAX_CONNS", 5)),
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		RabbitMQURL:          getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange:     getEnv("RABBITMQ_EXCHANGE", "geofence_transitions"),
		HistoryChannelSize:   getEnvInt("HISTORY_CHANNEL_SIZE", 10000),
		StateChannelSize:     getEnvInt("STATE_CHANNEL_SIZE", 10000),
		RuleChannelSize:      getEnvInt("RULE_CHANNEL_SIZE", 10000),
		EventChannelSize:     getEnvInt("EVENT_CHANNEL_SIZE", 10000),
		HistoryBatchSize:     getEnvInt("HISTORY_BATCH_SIZE", 200),
		HistoryFlushInterval: getEnvMillis("HISTORY_FLUSH_INTERVAL_MS", 1000),
		AuthCacheTTLSeconds:  getEnvInt("AUTH_CACHE_TTL_SECONDS", 300),
		ValidAPIKeys:         splitList(getEnv("VALID_API_KEYS", "")),
		RouteServiceURL:      getEnv("ROUTE_SERVICE_URL", ""),
	}
}

var validate = validator.New()

// Validate fails fast on settings the process cannot run without.
func (c *Config) Validate() error {
	if c.StreamURL == "" {
		return ErrMissingStreamURL
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) RedisEnabled() bool    { return c.RedisAddr != "" }
func (c *Config) DBEnabled() bool       { return c.DBHost != "" }
func (c *Config) RabbitMQEnabled() bool { return c.RabbitMQURL != "" }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvMillis(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Millisecond
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
