package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Storage backends for the profile and session scopes.
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
	StorageMongo    = "mongo"
)

// database/sql driver names for the postgres backend.
const (
	PostgresDriverPgx = "pgx"
	PostgresDriverPQ  = "postgres"
)

// Tracker backends the façade forwards to once consent is granted.
const (
	TrackerNone        = "none"
	TrackerMeasurement = "measurement"
	TrackerKafka       = "kafka"
	TrackerClickHouse  = "clickhouse"
)

// Config is the full process configuration, read from the environment.
type Config struct {
	Server    Server
	Log       Log
	Storage   Storage
	Redis     RedisConfig
	Tracker   Tracker
	Buffer    Buffer
	RateLimit RateLimit
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr string `env:"BEACON_ADDR" envDefault:":8080"`
	// ScopeSigningKey signs the profile/session scope cookies.
	ScopeSigningKey string        `env:"BEACON_SCOPE_SIGNING_KEY" envDefault:"dev-scope-key-change-in-production"`
	ProfileTTL      time.Duration `env:"BEACON_PROFILE_TTL" envDefault:"8760h"`
	SecureCookies   bool          `env:"BEACON_SECURE_COOKIES" envDefault:"false"`
	// Debug exposes the consent reset and buffer inspection endpoints.
	Debug bool `env:"BEACON_DEBUG" envDefault:"false"`
	// AdminToken, when set, is required on the debug endpoints. Plain or bcrypt hash.
	AdminToken      string        `env:"BEACON_ADMIN_TOKEN"`
	RequestTimeout  time.Duration `env:"BEACON_REQUEST_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"BEACON_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	AllowedOrigin   string        `env:"BEACON_ALLOWED_ORIGIN"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `env:"BEACON_LOG_LEVEL" envDefault:"info"`
	Format string `env:"BEACON_LOG_FORMAT" envDefault:"json"`
}

// Storage selects the key/value backend behind both storage scopes.
type Storage struct {
	Backend     string        `env:"BEACON_STORAGE" envDefault:"memory"`
	PostgresDSN string        `env:"BEACON_POSTGRES_DSN"`
	// PostgresDriver is pgx by default; "postgres" selects lib/pq.
	PostgresDriver string `env:"BEACON_POSTGRES_DRIVER" envDefault:"pgx"`
	MongoURI    string        `env:"BEACON_MONGO_URI"`
	MongoDB     string        `env:"BEACON_MONGO_DB" envDefault:"beacon"`
	SessionTTL  time.Duration `env:"BEACON_SESSION_TTL" envDefault:"30m"`
	// FailureThreshold consecutive storage failures switch to the in-memory fallback.
	FailureThreshold int           `env:"BEACON_STORAGE_FAILURE_THRESHOLD" envDefault:"3"`
	FallbackCooldown time.Duration `env:"BEACON_STORAGE_FALLBACK_COOLDOWN" envDefault:"1m"`
}

// RedisConfig mirrors go-redis pool options.
type RedisConfig struct {
	URL          string        `env:"BEACON_REDIS_URL"`
	PoolSize     int           `env:"BEACON_REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"BEACON_REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"BEACON_REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"BEACON_REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"BEACON_REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// Tracker configures the third-party forwarding backends.
type Tracker struct {
	Backends      []string `env:"BEACON_TRACKERS" envSeparator:"," envDefault:"none"`
	MeasurementID string   `env:"BEACON_MEASUREMENT_ID"`
	// PendingLimit bounds calls queued while the tracker is still loading.
	PendingLimit int           `env:"BEACON_TRACKER_PENDING_LIMIT" envDefault:"500"`
	LoadTimeout  time.Duration `env:"BEACON_TRACKER_LOAD_TIMEOUT" envDefault:"15s"`

	CollectURL    string        `env:"BEACON_COLLECT_URL"`
	CollectSecret string        `env:"BEACON_COLLECT_API_SECRET"`
	CollectBatch  int           `env:"BEACON_COLLECT_BATCH" envDefault:"25"`
	FlushInterval time.Duration `env:"BEACON_COLLECT_FLUSH_INTERVAL" envDefault:"2s"`

	KafkaBrokers []string `env:"BEACON_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"BEACON_KAFKA_TOPIC" envDefault:"site-analytics"`

	ClickHouseAddr     string `env:"BEACON_CLICKHOUSE_ADDR"`
	ClickHouseDatabase string `env:"BEACON_CLICKHOUSE_DB" envDefault:"default"`
	ClickHouseUser     string `env:"BEACON_CLICKHOUSE_USER" envDefault:"default"`
	ClickHousePassword string `env:"BEACON_CLICKHOUSE_PASSWORD"`
}

// Buffer bounds the locally retained records.
type Buffer struct {
	PageViewCap int `env:"BEACON_PAGEVIEW_CAP" envDefault:"100"`
	EventCap    int `env:"BEACON_EVENT_CAP" envDefault:"200"`
}

// RateLimit throttles clients per IP. Limits are requests per minute; zero
// leaves that class unthrottled.
type RateLimit struct {
	Enabled          bool `env:"BEACON_RATELIMIT_ENABLED" envDefault:"true"`
	TrackPerMinute   int  `env:"BEACON_RATELIMIT_TRACK_PER_MIN" envDefault:"120"`
	ConsentPerMinute int  `env:"BEACON_RATELIMIT_CONSENT_PER_MIN" envDefault:"30"`
}

// Load reads an optional .env file and then the environment.
func Load(dotenvFiles ...string) (Config, error) {
	if len(dotenvFiles) > 0 {
		// Missing files are fine; the process environment is authoritative.
		_ = godotenv.Load(dotenvFiles...)
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Tracker.Backends = normalizeList(cfg.Tracker.Backends)
	cfg.Tracker.KafkaBrokers = normalizeList(cfg.Tracker.KafkaBrokers)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalizeList trims entries and drops blanks and repeats, keeping order.
func normalizeList(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Validate checks that the selected backends have what they need.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("BEACON_REDIS_URL is required for redis storage"))
		}
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("BEACON_POSTGRES_DSN is required for postgres storage"))
		}
		if d := c.Storage.PostgresDriver; d != PostgresDriverPgx && d != PostgresDriverPQ {
			errs = append(errs, fmt.Errorf("unknown postgres driver %q", d))
		}
	case StorageMongo:
		if c.Storage.MongoURI == "" {
			errs = append(errs, errors.New("BEACON_MONGO_URI is required for mongo storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	for _, backend := range c.Tracker.Backends {
		switch backend {
		case TrackerNone:
		case TrackerMeasurement:
			if c.Tracker.CollectURL == "" {
				errs = append(errs, errors.New("BEACON_COLLECT_URL is required for the measurement tracker"))
			}
		case TrackerKafka:
			if len(c.Tracker.KafkaBrokers) == 0 {
				errs = append(errs, errors.New("BEACON_KAFKA_BROKERS is required for the kafka tracker"))
			}
		case TrackerClickHouse:
			if c.Tracker.ClickHouseAddr == "" {
				errs = append(errs, errors.New("BEACON_CLICKHOUSE_ADDR is required for the clickhouse tracker"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown tracker backend %q", backend))
		}
	}

	if c.Buffer.PageViewCap <= 0 || c.Buffer.EventCap <= 0 {
		errs = append(errs, errors.New("buffer caps must be positive"))
	}
	if c.RateLimit.TrackPerMinute < 0 || c.RateLimit.ConsentPerMinute < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	if len(c.Server.ScopeSigningKey) < 16 {
		errs = append(errs, errors.New("BEACON_SCOPE_SIGNING_KEY must be at least 16 bytes"))
	}
	return errors.Join(errs...)
}
