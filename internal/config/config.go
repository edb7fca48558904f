// Package config assembles process configuration from .env, the environment
// and an optional YAML file of booking and materializer tunables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/passbi/intercity/internal/cache"
	"github.com/passbi/intercity/internal/db"
)

type APIConfig struct {
	Port               int    `yaml:"port" validate:"gt=0,lt=65536"`
	JWTSecret          string `yaml:"-"`
	EnableAuth         bool   `yaml:"enable_auth"`
	EnableRateLimit    bool   `yaml:"enable_rate_limit"`
	RateLimitPerSecond int    `yaml:"rate_limit_per_second" validate:"gte=0"`
	RateLimitPerDay    int    `yaml:"rate_limit_per_day" validate:"gte=0"`
}

type BookingConfig struct {
	HoldTTL      time.Duration `yaml:"hold_ttl" validate:"gt=0"`
	ReapInterval time.Duration `yaml:"reap_interval" validate:"gt=0"`
	ReapBatch    int           `yaml:"reap_batch" validate:"gt=0"`
	CacheTTL     time.Duration `yaml:"cache_ttl" validate:"gte=0"`
}

type MaterializerConfig struct {
	HorizonDays int           `yaml:"horizon_days" validate:"gte=1,lte=366"`
	Strategy    string        `yaml:"strategy" validate:"oneof=random first least_used"`
	LockTTL     time.Duration `yaml:"lock_ttl" validate:"gt=0"`
}

type EventsConfig struct {
	NATSURL     string `yaml:"nats_url"`
	Prefix      string `yaml:"prefix" validate:"required"`
	LogSubjects bool   `yaml:"log_subjects"`
}

// Config is the root configuration of every binary
type Config struct {
	StoreDriver  string             `yaml:"store_driver" validate:"oneof=memory postgres"`
	AutoMigrate  bool               `yaml:"auto_migrate"`
	API          APIConfig          `yaml:"api"`
	Booking      BookingConfig      `yaml:"booking"`
	Materializer MaterializerConfig `yaml:"materializer"`
	Events       EventsConfig       `yaml:"events"`
	MetricsAddr  string             `yaml:"metrics_addr"`
	UseRedis     bool               `yaml:"use_redis"`

	DB       *db.Config     `yaml:"-" validate:"-"`
	Redis    *cache.Config  `yaml:"-" validate:"-"`
	Location *time.Location `yaml:"-" validate:"-"`
}

// Load reads .env (if present), the environment and then CONFIG_FILE
func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.Overlay(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a config from environment variables only
func FromEnv() (*Config, error) {
	cfg := &Config{
		StoreDriver: getEnv("STORE_DRIVER", "postgres"),
		AutoMigrate: getEnvBool("AUTO_MIGRATE", false),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
		UseRedis:    getEnvBool("USE_REDIS", true),
		DB:          db.LoadConfigFromEnv(),
		Redis:       cache.LoadConfigFromEnv(),
		Events: EventsConfig{
			NATSURL:     os.Getenv("NATS_URL"),
			Prefix:      getEnv("NATS_SUBJECT_PREFIX", "intercity"),
			LogSubjects: getEnvBool("LOG_NATS_SUBJECTS", false),
		},
	}

	var err error
	if cfg.API.Port, err = getEnvInt("API_PORT", 8080); err != nil {
		return nil, err
	}
	cfg.API.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.API.EnableAuth = getEnvBool("ENABLE_AUTH", true)
	cfg.API.EnableRateLimit = getEnvBool("ENABLE_RATE_LIMIT", true)
	if cfg.API.RateLimitPerSecond, err = getEnvInt("RATE_LIMIT_PER_SECOND", 20); err != nil {
		return nil, err
	}
	if cfg.API.RateLimitPerDay, err = getEnvInt("RATE_LIMIT_PER_DAY", 50000); err != nil {
		return nil, err
	}

	if cfg.Booking.HoldTTL, err = getEnvDuration("HOLD_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Booking.ReapInterval, err = getEnvDuration("REAP_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Booking.ReapBatch, err = getEnvInt("REAP_BATCH", 200); err != nil {
		return nil, err
	}
	cfg.Booking.CacheTTL = cfg.Redis.TTL

	if cfg.Materializer.HorizonDays, err = getEnvInt("MATERIALIZE_HORIZON_DAYS", 30); err != nil {
		return nil, err
	}
	cfg.Materializer.Strategy = getEnv("SELECTION_STRATEGY", "random")
	if cfg.Materializer.LockTTL, err = getEnvDuration("MATERIALIZE_LOCK_TTL", 5*time.Minute); err != nil {
		return nil, err
	}

	// Time zone used to derive "today" and departure instants
	if tz := os.Getenv("TZ"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	} else {
		cfg.Location = time.Local
	}

	return cfg, nil
}

// Overlay decodes the YAML file at path over cfg. Keys absent from the file keep their value.
func (c *Config) Overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks tunables and cross-field rules
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.API.EnableAuth && c.API.JWTSecret == "" {
		return fmt.Errorf("invalid configuration: JWT_SECRET is required when ENABLE_AUTH is true")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}
