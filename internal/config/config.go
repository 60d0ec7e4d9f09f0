package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers understood by the ticket store factory.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverMemory   = "memory"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	SQLite   SQLiteConfig
	Store    StoreConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Queue    QueueConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	CORSOrigins           string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
	// LockTimeoutMillis bounds how long a unit of work waits for its
	// department's sequence row lock. Zero leaves the server default.
	LockTimeoutMillis int32
	ApplicationName   string
}

// SQLiteConfig holds the embedded database location.
type SQLiteConfig struct {
	Path string
}

// StoreConfig selects the ticket store backend.
type StoreConfig struct {
	Driver string
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	EventsChannel string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines token verification parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// QueueConfig holds department directory and dispatch policy settings.
type QueueConfig struct {
	DepartmentsFile       string
	DefaultCapacity       int
	OneLiveTicketPerOwner bool
	PollIntervalSeconds   int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))
	lockTimeout := int32(getEnvAsInt("POSTGRES_LOCK_TIMEOUT_MS", 5000))
	dsn := os.Getenv("POSTGRES_DSN")

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "queue-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 10),
			CORSOrigins:           getEnv("HTTP_CORS_ORIGINS", "*"),
		},
		Postgres: PostgresConfig{
			DSN:               dsn,
			MaxConns:          maxConns,
			MinConns:          minConns,
			RunMigrations:     runMigrations,
			MigrationsDir:     getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec:    connMaxIdle,
			ConnMaxLifeSec:    connMaxLife,
			LockTimeoutMillis: lockTimeout,
			ApplicationName:   getEnv("POSTGRES_APPLICATION_NAME", getEnv("APP_NAME", "queue-service")),
		},
		SQLite: SQLiteConfig{
			Path: getEnv("SQLITE_PATH", "queue.db"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("QUEUE_STORE", defaultDriver(dsn))),
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:      os.Getenv("REDIS_PASSWORD"),
			DB:            redisDB,
			EventsChannel: getEnv("QUEUE_EVENTS_CHANNEL", "queue-events"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Queue: QueueConfig{
			DepartmentsFile:       os.Getenv("QUEUE_DEPARTMENTS_FILE"),
			DefaultCapacity:       getEnvAsInt("QUEUE_DEFAULT_CAPACITY", 30),
			OneLiveTicketPerOwner: getEnvAsBool("QUEUE_ONE_LIVE_TICKET_PER_OWNER", true),
			PollIntervalSeconds:   getEnvAsInt("QUEUE_POLL_INTERVAL_SECONDS", 3),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("QUEUE_STORE=postgres requires POSTGRES_DSN")
		}
	case StoreDriverSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("QUEUE_STORE=sqlite requires SQLITE_PATH")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown QUEUE_STORE %q", c.Store.Driver)
	}
	if c.Queue.DefaultCapacity <= 0 {
		return fmt.Errorf("QUEUE_DEFAULT_CAPACITY must be positive, got %d", c.Queue.DefaultCapacity)
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// PollInterval clamps the advertised client polling cadence to 2-5 seconds.
func (q QueueConfig) PollInterval() time.Duration {
	seconds := q.PollIntervalSeconds
	if seconds < 2 {
		seconds = 2
	}
	if seconds > 5 {
		seconds = 5
	}
	return time.Duration(seconds) * time.Second
}

func defaultDriver(dsn string) string {
	if dsn != "" {
		return StoreDriverPostgres
	}
	return StoreDriverSQLite
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
