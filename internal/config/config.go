package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the DepthFlow API and its workers.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Storage  StorageConfig
	Render   RenderConfig
	Worker   WorkerConfig
	Upload   UploadConfig
	Auth     AuthConfig
	Notify   NotifyConfig
}

type ServerConfig struct {
	Port     int
	Env      string
	LogLevel slog.Level
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type QueueConfig struct {
	URL        string
	Exchange   string
	Queue      string
	RoutingKey string
}

type StorageConfig struct {
	Backend  string
	LocalDir string
	S3       S3Config
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type RenderConfig struct {
	ServiceURL    string
	CLIPath       string
	Timeout       time.Duration
	MaxConcurrent int
	SlotLeaseTTL  time.Duration
}

type WorkerConfig struct {
	ID             string
	Concurrency    int
	TempDir        string
	ReaperInterval time.Duration
	StaleAfter     time.Duration
	RequeueAfter   time.Duration
}

type UploadConfig struct {
	MaxBytes int64
}

type AuthConfig struct {
	Enabled           bool
	RequestsPerMinute int
}

type NotifyConfig struct {
	NATSURL     string
	NATSSubject string
}

var validBackends = map[string]bool{
	"s3":    true,
	"local": true,
}

var defaults = map[string]any{
	"DEPTHFLOW_PORT":             8080,
	"DEPTHFLOW_ENV":              "development",
	"LOG_LEVEL":                  "info",
	"DATABASE_MAX_OPEN_CONNS":    25,
	"DATABASE_MAX_IDLE_CONNS":    5,
	"DATABASE_CONN_MAX_LIFETIME": 5 * time.Minute,
	"AMQP_EXCHANGE":              "depthflow.jobs",
	"AMQP_QUEUE":                 "depthflow.render",
	"AMQP_ROUTING_KEY":           "render.request",
	"STORAGE_BACKEND":            "local",
	"STORAGE_LOCAL_DIR":          "./storage",
	"S3_USE_SSL":                 false,
	"RENDER_CLI_PATH":            "depthflow",
	"RENDER_TIMEOUT":             10 * time.Minute,
	"RENDER_MAX_CONCURRENT":      3,
	"RENDER_SLOT_LEASE_TTL":      15 * time.Minute,
	"WORKER_CONCURRENCY":         2,
	"WORKER_REAPER_INTERVAL":     time.Minute,
	"WORKER_STALE_AFTER":         15 * time.Minute,
	"WORKER_REQUEUE_AFTER":       5 * time.Minute,
	"UPLOAD_MAX_BYTES":           10 << 20,
	"AUTH_ENABLED":               false,
	"RATE_LIMIT_PER_MINUTE":      60,
	"NATS_SUBJECT":               "depthflow.jobs.completed",
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	hostname, _ := os.Hostname()
	v.SetDefault("WORKER_ID", hostname)
	v.SetDefault("WORKER_TEMP_DIR", os.TempDir())

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetInt("DEPTHFLOW_PORT"),
			Env:      v.GetString("DEPTHFLOW_ENV"),
			LogLevel: parseLevel(v.GetString("LOG_LEVEL")),
		},
		Database: DatabaseConfig{
			URL:             v.GetString("DATABASE_URL"),
			MaxOpenConns:    v.GetInt("DATABASE_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DATABASE_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DATABASE_CONN_MAX_LIFETIME"),
		},
		Redis: RedisConfig{
			URL: v.GetString("REDIS_URL"),
		},
		Queue: QueueConfig{
			URL:        v.GetString("AMQP_URL"),
			Exchange:   v.GetString("AMQP_EXCHANGE"),
			Queue:      v.GetString("AMQP_QUEUE"),
			RoutingKey: v.GetString("AMQP_ROUTING_KEY"),
		},
		Storage: StorageConfig{
			Backend:  strings.ToLower(v.GetString("STORAGE_BACKEND")),
			LocalDir: v.GetString("STORAGE_LOCAL_DIR"),
			S3: S3Config{
				Endpoint:  v.GetString("S3_ENDPOINT"),
				AccessKey: v.GetString("S3_ACCESS_KEY"),
				SecretKey: v.GetString("S3_SECRET_KEY"),
				Bucket:    v.GetString("S3_BUCKET"),
				UseSSL:    v.GetBool("S3_USE_SSL"),
			},
		},
		Render: RenderConfig{
			ServiceURL:    strings.TrimRight(v.GetString("RENDER_SERVICE_URL"), "/"),
			CLIPath:       v.GetString("RENDER_CLI_PATH"),
			Timeout:       v.GetDuration("RENDER_TIMEOUT"),
			MaxConcurrent: v.GetInt("RENDER_MAX_CONCURRENT"),
			SlotLeaseTTL:  v.GetDuration("RENDER_SLOT_LEASE_TTL"),
		},
		Worker: WorkerConfig{
			ID:             v.GetString("WORKER_ID"),
			Concurrency:    v.GetInt("WORKER_CONCURRENCY"),
			TempDir:        v.GetString("WORKER_TEMP_DIR"),
			ReaperInterval: v.GetDuration("WORKER_REAPER_INTERVAL"),
			StaleAfter:     v.GetDuration("WORKER_STALE_AFTER"),
			RequeueAfter:   v.GetDuration("WORKER_REQUEUE_AFTER"),
		},
		Upload: UploadConfig{
			MaxBytes: v.GetInt64("UPLOAD_MAX_BYTES"),
		},
		Auth: AuthConfig{
			Enabled:           v.GetBool("AUTH_ENABLED"),
			RequestsPerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),
		},
		Notify: NotifyConfig{
			NATSURL:     v.GetString("NATS_URL"),
			NATSSubject: v.GetString("NATS_SUBJECT"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Queue.URL == "" {
		return fmt.Errorf("AMQP_URL is required")
	}
	if !strings.HasPrefix(c.Queue.URL, "amqp://") && !strings.HasPrefix(c.Queue.URL, "amqps://") {
		return fmt.Errorf("AMQP_URL must start with amqp:// or amqps://, got %q", c.Queue.URL)
	}

	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("STORAGE_BACKEND must be one of s3, local; got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "s3" {
		if c.Storage.S3.Endpoint == "" || c.Storage.S3.Bucket == "" {
			return fmt.Errorf("S3_ENDPOINT and S3_BUCKET are required when STORAGE_BACKEND is s3")
		}
		if c.Storage.S3.AccessKey == "" || c.Storage.S3.SecretKey == "" {
			return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required when STORAGE_BACKEND is s3")
		}
	}
	if c.Storage.Backend == "local" && c.Storage.LocalDir == "" {
		return fmt.Errorf("STORAGE_LOCAL_DIR is required when STORAGE_BACKEND is local")
	}

	if c.Render.ServiceURL != "" &&
		!strings.HasPrefix(c.Render.ServiceURL, "http://") && !strings.HasPrefix(c.Render.ServiceURL, "https://") {
		return fmt.Errorf("RENDER_SERVICE_URL must start with http:// or https://, got %q", c.Render.ServiceURL)
	}
	if c.Render.ServiceURL == "" && c.Render.CLIPath == "" {
		return fmt.Errorf("one of RENDER_SERVICE_URL or RENDER_CLI_PATH is required")
	}
	if c.Render.Timeout <= 0 {
		return fmt.Errorf("RENDER_TIMEOUT must be positive")
	}
	if c.Render.MaxConcurrent < 1 {
		return fmt.Errorf("RENDER_MAX_CONCURRENT must be at least 1, got %d", c.Render.MaxConcurrent)
	}
	if c.Render.SlotLeaseTTL < c.Render.Timeout {
		return fmt.Errorf("RENDER_SLOT_LEASE_TTL (%s) must not be shorter than RENDER_TIMEOUT (%s)",
			c.Render.SlotLeaseTTL, c.Render.Timeout)
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.StaleAfter <= c.Render.Timeout {
		return fmt.Errorf("WORKER_STALE_AFTER (%s) must be longer than RENDER_TIMEOUT (%s)",
			c.Worker.StaleAfter, c.Render.Timeout)
	}

	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("UPLOAD_MAX_BYTES must be positive")
	}

	if c.Notify.NATSURL != "" &&
		!strings.HasPrefix(c.Notify.NATSURL, "nats://") && !strings.HasPrefix(c.Notify.NATSURL, "tls://") {
		return fmt.Errorf("NATS_URL must start with nats:// or tls://, got %q", c.Notify.NATSURL)
	}

	return nil
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
