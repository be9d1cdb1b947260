// Package config provides configuration management for vodarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vodarr/vodarr/pkg/bytesize"
)

// Default configuration values.
const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute

	defaultUploadURLExpiry  = time.Hour
	defaultMaxVideosPerUser = 100

	defaultWorkerCount   = 2
	defaultPollInterval  = 5 * time.Second
	defaultJobTimeout    = time.Hour
	defaultLockTimeout   = 30 * time.Minute
	defaultJobRetention  = 7 * 24 * time.Hour
	defaultRetentionDays = 30
	defaultCleanupBatch  = 100
	defaultOrphanGrace   = 24 * time.Hour
)

// Config holds all configuration for the application.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Encoding EncodingConfig `mapstructure:"encoding"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds object storage (S3-compatible) configuration.
type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
	// TempDir is the local scratch directory for downloads and encode output.
	TempDir string `mapstructure:"temp_dir"`
}

// RedisConfig holds the progress/notification transport configuration.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// UploadConfig holds upload orchestration configuration.
type UploadConfig struct {
	// MaxSizeBytes is the upload size cap.
	MaxSizeBytes int64 `mapstructure:"max_size_bytes"`
	// URLExpiry is the presigned upload URL lifetime.
	URLExpiry time.Duration `mapstructure:"url_expiry"`
	// MaxVideosPerUser caps the number of non-deleted videos per account.
	MaxVideosPerUser int64 `mapstructure:"max_videos_per_user"`
}

// EncodingConfig holds encoding engine configuration.
type EncodingConfig struct {
	FFmpegPath  string   `mapstructure:"ffmpeg_path"`  // empty = find in PATH
	FFprobePath string   `mapstructure:"ffprobe_path"` // empty = find in PATH
	Qualities   []string `mapstructure:"qualities"`
	// SegmentSeconds is the HLS segment target duration.
	SegmentSeconds int `mapstructure:"segment_seconds"`
}

// WorkerConfig holds job worker pool configuration.
type WorkerConfig struct {
	Count        int           `mapstructure:"count"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	JobTimeout   time.Duration `mapstructure:"job_timeout"`
	LockTimeout  time.Duration `mapstructure:"lock_timeout"`
	JobRetention time.Duration `mapstructure:"job_retention"`
}

// CleanupConfig holds lifecycle reconciliation configuration.
type CleanupConfig struct {
	// TrashRetentionDays is the grace period between soft delete and purge.
	TrashRetentionDays int `mapstructure:"trash_retention_days"`
	// BatchSize caps videos processed per trash sweep.
	BatchSize int `mapstructure:"batch_size"`
	// OrphanGrace is how long an unconfirmed raw object may linger.
	OrphanGrace time.Duration `mapstructure:"orphan_grace"`
	// TrashCron is the 6-field cron expression for the trash sweep.
	TrashCron string `mapstructure:"trash_cron"`
	// OrphanCron is the 6-field cron expression for the orphan sweep.
	OrphanCron string `mapstructure:"orphan_cron"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with VODARR_ using underscores for nesting, e.g.
// VODARR_STORAGE_BUCKET=videos.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/vodarr")
		v.AddConfigPath("$HOME/.vodarr")
	}

	v.SetEnvPrefix("VODARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK: defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This must be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "vodarr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.bucket", "vodarr")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.temp_dir", "/tmp/vodarr")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Upload defaults
	v.SetDefault("upload.max_size_bytes", bytesize.MustParse("2GiB").Int64())
	v.SetDefault("upload.url_expiry", defaultUploadURLExpiry)
	v.SetDefault("upload.max_videos_per_user", defaultMaxVideosPerUser)

	// Encoding defaults
	v.SetDefault("encoding.ffmpeg_path", "")
	v.SetDefault("encoding.ffprobe_path", "")
	v.SetDefault("encoding.qualities", []string{"360p", "480p", "720p", "1080p"})
	v.SetDefault("encoding.segment_seconds", 6)

	// Worker defaults
	v.SetDefault("worker.count", defaultWorkerCount)
	v.SetDefault("worker.poll_interval", defaultPollInterval)
	v.SetDefault("worker.job_timeout", defaultJobTimeout)
	v.SetDefault("worker.lock_timeout", defaultLockTimeout)
	v.SetDefault("worker.job_retention", defaultJobRetention)

	// Cleanup defaults
	v.SetDefault("cleanup.trash_retention_days", defaultRetentionDays)
	v.SetDefault("cleanup.batch_size", defaultCleanupBatch)
	v.SetDefault("cleanup.orphan_grace", defaultOrphanGrace)
	v.SetDefault("cleanup.trash_cron", "0 0 3 * * *")
	v.SetDefault("cleanup.orphan_cron", "0 30 */6 * * *")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validDrivers := map[string]bool{"sqlite": true, "postgres": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if c.Storage.Endpoint == "" {
		return fmt.Errorf("storage.endpoint is required")
	}

	if c.Upload.MaxSizeBytes < 1 {
		return fmt.Errorf("upload.max_size_bytes must be positive")
	}
	if c.Upload.URLExpiry <= 0 {
		return fmt.Errorf("upload.url_expiry must be positive")
	}

	for _, q := range c.Encoding.Qualities {
		switch q {
		case "360p", "480p", "720p", "1080p":
		default:
			return fmt.Errorf("encoding.qualities contains unknown tier: %s", q)
		}
	}
	if len(c.Encoding.Qualities) == 0 {
		return fmt.Errorf("encoding.qualities must not be empty")
	}

	if c.Worker.Count < 1 {
		return fmt.Errorf("worker.count must be at least 1")
	}

	if c.Cleanup.TrashRetentionDays < 1 {
		return fmt.Errorf("cleanup.trash_retention_days must be at least 1")
	}
	if c.Cleanup.BatchSize < 1 {
		return fmt.Errorf("cleanup.batch_size must be at least 1")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// TrashRetention returns the trash retention window as a duration.
func (c *CleanupConfig) TrashRetention() time.Duration {
	return time.Duration(c.TrashRetentionDays) * 24 * time.Hour
}
