package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	LogLevel    string
	ServiceName string
	ServiceID   string
	Port        int

	Postgres   PostgresConfig
	Redis      RedisConfig
	RabbitMQ   RabbitMQConfig
	Consul     ConsulConfig
	Dispatcher DispatcherConfig
}

type PostgresConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Enabled bool
	Host    string
	Port    int
	TTL     time.Duration
}

type RabbitMQConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Queue    string
}

type ConsulConfig struct {
	Enabled bool
	Host    string
	Port    int
}

type DispatcherConfig struct {
	PollInterval time.Duration
	GracePeriod  time.Duration
	BatchSize    int
	Workers      int
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{
		Env:         getEnv("APP_ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		ServiceName: getEnv("SERVICE_NAME", "shop-service"),
		ServiceID:   getEnv("SERVICE_ID", "shop-service-1"),
		Port:        getEnvInt("PORT", 8080),
		Postgres: PostgresConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "minisys"),
			Password:     getEnv("DB_PASSWORD", ""),
			DBName:       getEnv("DB_NAME", "shopsaga"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
			AutoMigrate:  getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Enabled: getEnvBool("REDIS_ENABLED", false),
			Host:    getEnv("REDIS_HOST", "localhost"),
			Port:    getEnvInt("REDIS_PORT", 6379),
			TTL:     getEnvDuration("REDIS_TTL", 5*time.Minute),
		},
		RabbitMQ: RabbitMQConfig{
			Enabled:  getEnvBool("RABBITMQ_ENABLED", false),
			Host:     getEnv("RABBITMQ_HOST", "localhost"),
			Port:     getEnvInt("RABBITMQ_PORT", 5672),
			User:     getEnv("RABBITMQ_USER", "guest"),
			Password: getEnv("RABBITMQ_PASSWORD", "guest"),
			Queue:    getEnv("RABBITMQ_ORDER_EVENTS_QUEUE", "order.events"),
		},
		Consul: ConsulConfig{
			Enabled: getEnvBool("CONSUL_ENABLED", false),
			Host:    getEnv("CONSUL_HOST", "localhost"),
			Port:    getEnvInt("CONSUL_PORT", 8500),
		},
		Dispatcher: DispatcherConfig{
			PollInterval: getEnvDuration("DISPATCHER_POLL_INTERVAL", 5*time.Second),
			GracePeriod:  getEnvDuration("DISPATCHER_GRACE_PERIOD", 2*time.Second),
			BatchSize:    getEnvInt("DISPATCHER_BATCH_SIZE", 100),
			Workers:      getEnvInt("DISPATCHER_WORKERS", 4),
			MaxAttempts:  getEnvInt("DISPATCHER_MAX_ATTEMPTS", 5),
			BackoffBase:  getEnvDuration("DISPATCHER_BACKOFF_BASE", time.Second),
			BackoffMax:   getEnvDuration("DISPATCHER_BACKOFF_MAX", 5*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var problems []string
	if c.Port <= 0 {
		problems = append(problems, "PORT must be positive")
	}
	if c.Postgres.Password == "" {
		problems = append(problems, "DB_PASSWORD is required")
	}
	d := c.Dispatcher
	if d.PollInterval <= 0 {
		problems = append(problems, "DISPATCHER_POLL_INTERVAL must be positive")
	}
	if d.GracePeriod < 0 {
		problems = append(problems, "DISPATCHER_GRACE_PERIOD must not be negative")
	}
	if d.BatchSize <= 0 || d.Workers <= 0 || d.MaxAttempts <= 0 {
		problems = append(problems, "DISPATCHER_BATCH_SIZE, DISPATCHER_WORKERS and DISPATCHER_MAX_ATTEMPTS must be positive")
	}
	if d.BackoffBase <= 0 || d.BackoffMax < d.BackoffBase {
		problems = append(problems, "DISPATCHER_BACKOFF_BASE must be positive and not above DISPATCHER_BACKOFF_MAX")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvBool(key string, fallback bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}
