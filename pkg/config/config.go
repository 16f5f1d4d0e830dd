package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/gymowl/gymowl/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Billing       BillingConfig
	Scheduler     SchedulerConfig
	Archive       ArchiveConfig
	TenantCache   TenantCacheConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// RequireTenantHeader makes the tenant-scoped routes demand X-Tenant-ID
	RequireTenantHeader bool

	// RateLimitPerMinute caps requests per tenant (or client IP). Zero
	// disables rate limiting.
	RateLimitPerMinute int
	RateLimitBurst     int
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig holds PostgreSQL settings. An empty URL selects the
// in-memory stores, which is only meant for local development.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// RedisConfig holds Redis settings. Redis is optional.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int

	// SequenceEnabled draws invoice numbers from Redis INCR instead of
	// the Postgres counter table.
	SequenceEnabled bool
}

// BillingConfig holds billing rules that vary per deployment
type BillingConfig struct {
	Timezone         string
	Location         *time.Location
	PlanCatalogPath  string
	ReminderDays     int
	PaymentTermsDays int
}

// SchedulerConfig holds the cron schedules for billing jobs
type SchedulerConfig struct {
	Enabled      bool
	ReminderCron string
	RenewalCron  string
	OverdueCron  string
	JobTimeout   time.Duration
	LockTTL      time.Duration
}

// ArchiveConfig holds S3 settings for the invoice archive
type ArchiveConfig struct {
	Enabled      bool
	Bucket       string
	Region       string
	Endpoint     string
	Prefix       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	CreateBucket bool
}

// TenantCacheConfig sizes the in-process tenant lookup cache
type TenantCacheConfig struct {
	Size int
	TTL  time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRate     float64
}

// LoadConfig loads configuration from the environment. A .env file in the
// working directory is read first if present; real environment variables
// take precedence over it.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Billing:       loadBillingConfig(),
		Scheduler:     loadSchedulerConfig(),
		Archive:       loadArchiveConfig(),
		TenantCache:   loadTenantCacheConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GYMOWL_HOST", "0.0.0.0"),
		Port:            getEnv("GYMOWL_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GYMOWL_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GYMOWL_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GYMOWL_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GYMOWL_SHUTDOWN_TIMEOUT", 30*time.Second),

		RequireTenantHeader: getEnvBool("GYMOWL_REQUIRE_TENANT_HEADER", false),
		RateLimitPerMinute:  getEnvInt("GYMOWL_RATE_LIMIT_PER_MINUTE", 600),
		RateLimitBurst:      getEnvInt("GYMOWL_RATE_LIMIT_BURST", 50),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("GYMOWL_DATABASE_URL", ""),
		MaxOpenConns:    getEnvInt("GYMOWL_DATABASE_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("GYMOWL_DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("GYMOWL_DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		AutoMigrate:     getEnvBool("GYMOWL_DATABASE_AUTO_MIGRATE", true),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:             getEnv("GYMOWL_REDIS_URL", ""),
		Password:        getEnv("GYMOWL_REDIS_PASSWORD", ""),
		DB:              getEnvInt("GYMOWL_REDIS_DB", 0),
		PoolSize:        getEnvInt("GYMOWL_REDIS_POOL_SIZE", 10),
		MaxRetries:      getEnvInt("GYMOWL_REDIS_MAX_RETRIES", 3),
		SequenceEnabled: getEnvBool("GYMOWL_REDIS_SEQUENCE_ENABLED", false),
	}
}

func loadBillingConfig() BillingConfig {
	return BillingConfig{
		Timezone:         getEnv("GYMOWL_BILLING_TIMEZONE", "UTC"),
		PlanCatalogPath:  getEnv("GYMOWL_BILLING_PLAN_CATALOG", ""),
		ReminderDays:     getEnvInt("GYMOWL_BILLING_REMINDER_DAYS", 7),
		PaymentTermsDays: getEnvInt("GYMOWL_BILLING_PAYMENT_TERMS_DAYS", 7),
	}
}

func loadSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:      getEnvBool("GYMOWL_SCHEDULER_ENABLED", true),
		ReminderCron: getEnv("GYMOWL_SCHEDULER_REMINDER_CRON", "0 8 * * *"),
		RenewalCron:  getEnv("GYMOWL_SCHEDULER_RENEWAL_CRON", "0 1 * * *"),
		OverdueCron:  getEnv("GYMOWL_SCHEDULER_OVERDUE_CRON", "0 9 * * *"),
		JobTimeout:   getEnvDuration("GYMOWL_SCHEDULER_JOB_TIMEOUT", 30*time.Minute),
		LockTTL:      getEnvDuration("GYMOWL_SCHEDULER_LOCK_TTL", 45*time.Minute),
	}
}

func loadArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		Enabled:      getEnvBool("GYMOWL_ARCHIVE_ENABLED", false),
		Bucket:       getEnv("GYMOWL_ARCHIVE_S3_BUCKET", ""),
		Region:       getEnv("GYMOWL_ARCHIVE_S3_REGION", "us-east-1"),
		Endpoint:     getEnv("GYMOWL_ARCHIVE_S3_ENDPOINT", ""),
		Prefix:       getEnv("GYMOWL_ARCHIVE_S3_PREFIX", "invoices"),
		AccessKey:    getEnv("GYMOWL_ARCHIVE_S3_ACCESS_KEY", ""),
		SecretKey:    getEnv("GYMOWL_ARCHIVE_S3_SECRET_KEY", ""),
		UsePathStyle: getEnvBool("GYMOWL_ARCHIVE_S3_USE_PATH_STYLE", false),
		CreateBucket: getEnvBool("GYMOWL_ARCHIVE_S3_CREATE_BUCKET", false),
	}
}

func loadTenantCacheConfig() TenantCacheConfig {
	return TenantCacheConfig{
		Size: getEnvInt("GYMOWL_TENANT_CACHE_SIZE", 1024),
		TTL:  getEnvDuration("GYMOWL_TENANT_CACHE_TTL", 30*time.Second),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("GYMOWL_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GYMOWL_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GYMOWL_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GYMOWL_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GYMOWL_OTEL_SERVICE_NAME", "gymowl-billing"),
		OTelServiceVersion: getEnv("GYMOWL_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GYMOWL_OTEL_INSECURE", true),
		OTelSampleRate:     getEnvFloat("GYMOWL_OTEL_SAMPLE_RATE", 1.0),
	}
}

// Validate checks if the configuration is valid. It also resolves the
// billing time zone into Billing.Location.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	loc, err := time.LoadLocation(c.Billing.Timezone)
	if err != nil {
		return fmt.Errorf("invalid billing timezone %q: %w", c.Billing.Timezone, err)
	}
	c.Billing.Location = loc

	if c.Billing.ReminderDays < 1 {
		return fmt.Errorf("billing reminder days must be at least 1")
	}
	if c.Billing.PaymentTermsDays < 0 {
		return fmt.Errorf("billing payment terms cannot be negative")
	}

	if c.Redis.SequenceEnabled && c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required when the redis invoice sequence is enabled")
	}

	if c.Scheduler.Enabled {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		for name, spec := range map[string]string{
			"reminder": c.Scheduler.ReminderCron,
			"renewal":  c.Scheduler.RenewalCron,
			"overdue":  c.Scheduler.OverdueCron,
		} {
			if _, err := parser.Parse(spec); err != nil {
				return fmt.Errorf("invalid %s cron schedule %q: %w", name, spec, err)
			}
		}
		if c.Scheduler.JobTimeout <= 0 {
			return fmt.Errorf("scheduler job timeout must be positive")
		}
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("S3 bucket is required when the invoice archive is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRate < 0 || c.Observability.OTelSampleRate > 1 {
			return fmt.Errorf("OpenTelemetry sample rate must be between 0 and 1")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
