package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StorageDriverSupabase = "supabase"
	StorageDriverS3       = "s3"

	QueueDriverMemory   = "memory"
	QueueDriverRabbitMQ = "rabbitmq"
)

type Config struct {
	// Supabase
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseJWTSecret     string
	SupabaseStorageBucket string

	// Database
	DatabaseURL string

	// Object storage
	StorageDriver     string
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	PublicBaseURL     string

	// Version pipeline
	MaxVersionsPerPrototype int
	MaxArchiveBytes         int64
	MaxExtractedBytes       int64
	IngestStepTimeout       time.Duration
	IngestStepRetries       int
	PublishConcurrency      int
	WorkerConcurrency       int
	StaleAfter              time.Duration
	SweepInterval           time.Duration

	// Queue
	QueueDriver   string
	RabbitMQURL   string
	RabbitMQQueue string

	// Events
	RedisAddr          string
	RedisChannelPrefix string

	// Rollout gate
	Flags           map[string]bool
	ProfileCacheTTL time.Duration

	// Tracing
	OtelEnabled  bool
	OtelEndpoint string

	// Server
	Port        string
	Environment string
	BaseURL     string
}

// Load reads configuration from the environment, optionally layered over a
// YAML file named by CONFIG_FILE.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SUPABASE_STORAGE_BUCKET", "prototype-bundles")
	v.SetDefault("STORAGE_DRIVER", StorageDriverSupabase)
	v.SetDefault("S3_REGION", "us-east-1")

	v.SetDefault("MAX_VERSIONS_PER_PROTOTYPE", 20)
	v.SetDefault("MAX_ARCHIVE_BYTES", int64(100<<20))
	v.SetDefault("MAX_EXTRACTED_BYTES", int64(500<<20))
	v.SetDefault("INGEST_STEP_TIMEOUT", "60s")
	v.SetDefault("INGEST_STEP_RETRIES", 3)
	v.SetDefault("PUBLISH_CONCURRENCY", 8)
	v.SetDefault("WORKER_CONCURRENCY", 4)
	v.SetDefault("STALE_AFTER", "30m")
	v.SetDefault("SWEEP_INTERVAL", "5m")

	v.SetDefault("QUEUE_DRIVER", QueueDriverMemory)
	v.SetDefault("RABBITMQ_QUEUE", "prototype-version-ingest")
	v.SetDefault("REDIS_CHANNEL_PREFIX", "prototype")

	v.SetDefault("FLAG_UI_ROLLOUT", false)
	v.SetDefault("FLAG_UPLOAD_ROLLOUT", false)
	v.SetDefault("PROFILE_CACHE_TTL", "1m")

	v.SetDefault("OTEL_ENABLED", false)

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("BASE_URL", "http://localhost:8080")
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		SupabaseURL:           v.GetString("SUPABASE_URL"),
		SupabaseServiceKey:    v.GetString("SUPABASE_SERVICE_KEY"),
		SupabaseJWTSecret:     v.GetString("SUPABASE_JWT_SECRET"),
		SupabaseStorageBucket: v.GetString("SUPABASE_STORAGE_BUCKET"),

		DatabaseURL: v.GetString("DATABASE_URL"),

		StorageDriver:     strings.ToLower(v.GetString("STORAGE_DRIVER")),
		S3Bucket:          v.GetString("S3_BUCKET"),
		S3Region:          v.GetString("S3_REGION"),
		S3Endpoint:        v.GetString("S3_ENDPOINT"),
		S3AccessKeyID:     v.GetString("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: v.GetString("S3_SECRET_ACCESS_KEY"),
		PublicBaseURL:     strings.TrimSuffix(v.GetString("PUBLIC_BASE_URL"), "/"),

		MaxVersionsPerPrototype: v.GetInt("MAX_VERSIONS_PER_PROTOTYPE"),
		MaxArchiveBytes:         v.GetInt64("MAX_ARCHIVE_BYTES"),
		MaxExtractedBytes:       v.GetInt64("MAX_EXTRACTED_BYTES"),
		IngestStepTimeout:       v.GetDuration("INGEST_STEP_TIMEOUT"),
		IngestStepRetries:       v.GetInt("INGEST_STEP_RETRIES"),
		PublishConcurrency:      v.GetInt("PUBLISH_CONCURRENCY"),
		WorkerConcurrency:       v.GetInt("WORKER_CONCURRENCY"),
		StaleAfter:              v.GetDuration("STALE_AFTER"),
		SweepInterval:           v.GetDuration("SWEEP_INTERVAL"),

		QueueDriver:   strings.ToLower(v.GetString("QUEUE_DRIVER")),
		RabbitMQURL:   v.GetString("RABBITMQ_URL"),
		RabbitMQQueue: v.GetString("RABBITMQ_QUEUE"),

		RedisAddr:          v.GetString("REDIS_ADDR"),
		RedisChannelPrefix: v.GetString("REDIS_CHANNEL_PREFIX"),

		Flags: map[string]bool{
			"ui_rollout":     v.GetBool("FLAG_UI_ROLLOUT"),
			"upload_rollout": v.GetBool("FLAG_UPLOAD_ROLLOUT"),
		},
		ProfileCacheTTL: v.GetDuration("PROFILE_CACHE_TTL"),

		OtelEnabled:  v.GetBool("OTEL_ENABLED"),
		OtelEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),

		Port:        v.GetString("PORT"),
		Environment: v.GetString("ENVIRONMENT"),
		BaseURL:     v.GetString("BASE_URL"),
	}
}

func (c *Config) Validate() error {
	if c.SupabaseJWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch c.StorageDriver {
	case StorageDriverSupabase:
		if c.SupabaseURL == "" {
			return fmt.Errorf("SUPABASE_URL is required")
		}
		if c.SupabaseServiceKey == "" {
			return fmt.Errorf("SUPABASE_SERVICE_KEY is required")
		}
	case StorageDriverS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_DRIVER=s3")
		}
		if c.PublicBaseURL == "" {
			return fmt.Errorf("PUBLIC_BASE_URL is required when STORAGE_DRIVER=s3")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	switch c.QueueDriver {
	case QueueDriverMemory:
	case QueueDriverRabbitMQ:
		if c.RabbitMQURL == "" {
			return fmt.Errorf("RABBITMQ_URL is required when QUEUE_DRIVER=rabbitmq")
		}
	default:
		return fmt.Errorf("unknown QUEUE_DRIVER %q", c.QueueDriver)
	}
	if c.MaxVersionsPerPrototype < 1 {
		return fmt.Errorf("MAX_VERSIONS_PER_PROTOTYPE must be positive")
	}
	if c.IngestStepTimeout <= 0 {
		return fmt.Errorf("INGEST_STEP_TIMEOUT must be positive")
	}
	if c.StaleAfter <= c.IngestStepTimeout {
		return fmt.Errorf("STALE_AFTER must be longer than INGEST_STEP_TIMEOUT")
	}
	return nil
}
