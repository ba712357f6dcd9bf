package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for a service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Services ServicesConfig
	Filter   FilterConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines token lifetimes and password hashing parameters.
type AuthConfig struct {
	AccessTokenTTLSeconds     int
	RefreshTokenTTLSeconds    int
	BcryptCost                int
	ValidationCacheTTLSeconds int
	SweepIntervalSeconds      int
}

// ServicesConfig locates peer services.
type ServicesConfig struct {
	AuthURL           string
	UserDataURL       string
	CallTimeoutMillis int
}

// FilterConfig configures the token-validating request filter.
type FilterConfig struct {
	PublicPaths  []string
	FallbackMode string
	SigningKey   string
}

// Option adjusts the defaults Load falls back to.
type Option func(*loadDefaults)

type loadDefaults struct {
	port string
}

// WithDefaultPort sets the listen port used when APP_PORT is unset, so each
// binary gets the port its peers expect.
func WithDefaultPort(port string) Option {
	return func(d *loadDefaults) { d.port = port }
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load(opts ...Option) (*Config, error) {
	_ = godotenv.Load()

	defaults := loadDefaults{port: "8080"}
	for _, opt := range opts {
		opt(&defaults)
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "patient-track"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", defaults.port),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
			Prefix:   getEnv("REDIS_PREFIX", "patienttrack:"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			AccessTokenTTLSeconds:     getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_SECONDS", 3600),
			RefreshTokenTTLSeconds:    getEnvAsInt("AUTH_REFRESH_TOKEN_TTL_SECONDS", 2592000),
			BcryptCost:                getEnvAsInt("AUTH_BCRYPT_COST", 12),
			ValidationCacheTTLSeconds: getEnvAsInt("AUTH_VALIDATION_CACHE_TTL_SECONDS", 60),
			SweepIntervalSeconds:      getEnvAsInt("AUTH_SWEEP_INTERVAL_SECONDS", 300),
		},
		Services: ServicesConfig{
			AuthURL:           strings.TrimRight(getEnv("SERVICE_AUTH_URL", "http://auth-service:8081"), "/"),
			UserDataURL:       strings.TrimRight(getEnv("SERVICE_USER_DATA_URL", "http://user-data-service:8082"), "/"),
			CallTimeoutMillis: getEnvAsInt("SERVICE_CALL_TIMEOUT_MILLIS", 2000),
		},
		Filter: FilterConfig{
			PublicPaths:  getEnvAsList("AUTH_PUBLIC_PATHS", []string{"/health/", "/metrics", "/internal/", "/actuator/"}),
			FallbackMode: strings.ToLower(getEnv("AUTH_FALLBACK_MODE", "unverified")),
			SigningKey:   os.Getenv("AUTH_FALLBACK_SIGNING_KEY"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.AccessTokenTTLSeconds <= 0 {
		return fmt.Errorf("AUTH_ACCESS_TOKEN_TTL_SECONDS must be positive")
	}
	if c.Auth.RefreshTokenTTLSeconds < c.Auth.AccessTokenTTLSeconds {
		return fmt.Errorf("AUTH_REFRESH_TOKEN_TTL_SECONDS must not be shorter than the access token TTL")
	}
	switch c.Filter.FallbackMode {
	case "unverified", "disabled":
	case "verified":
		if c.Filter.SigningKey == "" {
			return fmt.Errorf("AUTH_FALLBACK_SIGNING_KEY is required when AUTH_FALLBACK_MODE=verified")
		}
	default:
		return fmt.Errorf("invalid AUTH_FALLBACK_MODE %q", c.Filter.FallbackMode)
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

// AccessTTL returns the access token lifetime.
func (a AuthConfig) AccessTTL() time.Duration {
	return time.Duration(a.AccessTokenTTLSeconds) * time.Second
}

// RefreshTTL returns the refresh token lifetime.
func (a AuthConfig) RefreshTTL() time.Duration {
	return time.Duration(a.RefreshTokenTTLSeconds) * time.Second
}

// ValidationCacheTTL returns how long a validation result may be cached.
func (a AuthConfig) ValidationCacheTTL() time.Duration {
	if a.ValidationCacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(a.ValidationCacheTTLSeconds) * time.Second
}

// SweepInterval returns the expired token sweep period; zero disables sweeping.
func (a AuthConfig) SweepInterval() time.Duration {
	if a.SweepIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(a.SweepIntervalSeconds) * time.Second
}

// CallTimeout bounds outbound service calls.
func (s ServicesConfig) CallTimeout() time.Duration {
	if s.CallTimeoutMillis <= 0 {
		return 2 * time.Second
	}
	return time.Duration(s.CallTimeoutMillis) * time.Millisecond
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

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
