package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName        string `mapstructure:"app_name"`
	Env            string `mapstructure:"app_env"`
	LogLevel       string `mapstructure:"log_level"`
	EndpointsFile  string `mapstructure:"endpoints_file"`
	PublishersFile string `mapstructure:"publishers_file"`

	HTTPTimeoutSeconds int64         `mapstructure:"http_timeout_seconds"`
	HTTPTimeout        time.Duration `mapstructure:"-"`
	UserAgent          string        `mapstructure:"user_agent"`
	AcceptBrotli       bool          `mapstructure:"accept_brotli"`

	ImageConcurrency    int  `mapstructure:"image_concurrency"`
	ThumbnailMaxSize    int  `mapstructure:"thumbnail_max_size"`
	EnrichMissingImages bool `mapstructure:"enrich_missing_images"`
	EnrichDelayMs       int  `mapstructure:"enrich_delay_ms"`

	StorageType            string        `mapstructure:"storage_type"`
	BBoltPath              string        `mapstructure:"bbolt_path"`
	StorageTTLSeconds      int64         `mapstructure:"storage_ttl_seconds"`
	StorageCleanupSeconds  int64         `mapstructure:"storage_cleanup_interval_seconds"`
	StorageTTL             time.Duration `mapstructure:"-"`
	StorageCleanupInterval time.Duration `mapstructure:"-"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetDefault("app_name", "samvad-course-client")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("endpoints_file", "./configs/endpoints.yaml")
	v.SetDefault("publishers_file", "")
	v.SetDefault("http_timeout_seconds", 30)
	v.SetDefault("user_agent", "samvad-course-client")
	v.SetDefault("accept_brotli", false)
	v.SetDefault("image_concurrency", 4)
	v.SetDefault("thumbnail_max_size", 0)
	v.SetDefault("enrich_missing_images", true)
	v.SetDefault("enrich_delay_ms", 250)
	v.SetDefault("storage_type", "bbolt")
	v.SetDefault("bbolt_path", "./data/courses.db")
	v.SetDefault("storage_ttl_seconds", int64((30*24*time.Hour)/time.Second))
	v.SetDefault("storage_cleanup_interval_seconds", int64((12*time.Hour)/time.Second))

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.HTTPTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("invalid http_timeout_seconds (must be positive seconds)")
	}
	cfg.HTTPTimeout = time.Duration(cfg.HTTPTimeoutSeconds) * time.Second

	if cfg.ImageConcurrency <= 0 {
		return nil, fmt.Errorf("invalid image_concurrency (must be positive)")
	}
	if cfg.ThumbnailMaxSize < 0 {
		return nil, fmt.Errorf("invalid thumbnail_max_size (must be zero or positive)")
	}
	if cfg.EnrichDelayMs < 0 {
		return nil, fmt.Errorf("invalid enrich_delay_ms (must be zero or positive)")
	}

	if cfg.StorageTTLSeconds <= 0 {
		return nil, fmt.Errorf("invalid storage_ttl_seconds (must be positive seconds)")
	}
	if cfg.StorageCleanupSeconds <= 0 {
		return nil, fmt.Errorf("invalid storage_cleanup_interval_seconds (must be positive seconds)")
	}
	cfg.StorageTTL = time.Duration(cfg.StorageTTLSeconds) * time.Second
	cfg.StorageCleanupInterval = time.Duration(cfg.StorageCleanupSeconds) * time.Second
	cfg.EndpointsFile = strings.TrimSpace(cfg.EndpointsFile)
	cfg.PublishersFile = strings.TrimSpace(cfg.PublishersFile)

	return &cfg, nil
}
