package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	API       APIConfig     `mapstructure:"api"`
	Session   SessionConfig `mapstructure:"session"`
	Import    ImportConfig  `mapstructure:"import"`
	Classes   []ClassOption `mapstructure:"classes" validate:"dive"`
	Storage   StorageConfig
	Tracing   TracingConfig   `mapstructure:"tracing"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `validate:"required"`
	Mode string `validate:"omitempty,oneof=debug release test"`
}

// APIConfig 远端考勤服务
type APIConfig struct {
	BaseURL     string        `mapstructure:"base_url" validate:"required,url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	ClassesPath string        `mapstructure:"classes_path"`
}

type SessionConfig struct {
	// 提交成功后的行为：reload / redirect / inline_report
	PostSubmit     string        `mapstructure:"post_submit" validate:"oneof=reload redirect inline_report"`
	ReportURL      string        `mapstructure:"report_url"`
	SeedFromServer bool          `mapstructure:"seed_from_server"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	CookieName     string        `mapstructure:"cookie_name" validate:"required"`
}

type ImportConfig struct {
	MaxBytes    int64         `mapstructure:"max_bytes" validate:"gt=0"`
	ReloadDelay time.Duration `mapstructure:"reload_delay"`
}

// ClassOption 下拉框中的班级
type ClassOption struct {
	ID    string `mapstructure:"id" json:"id" validate:"required"`
	Grade string `mapstructure:"grade" json:"grade"`
	Name  string `mapstructure:"name" json:"name" validate:"required"`
}

type StorageConfig struct {
	Type          string `mapstructure:"type" validate:"omitempty,oneof=none local minio"`
	LocalPath     string `mapstructure:"local_path"`
	MinioEndpoint string `mapstructure:"minio_endpoint"`
	MinioAccessID string `mapstructure:"minio_access_key"`
	MinioSecret   string `mapstructure:"minio_secret_key"`
	MinioBucket   string `mapstructure:"minio_bucket"`
	MinioUseSSL   bool   `mapstructure:"minio_use_ssl"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

type LogConfig struct {
	File string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("api.base_url", "http://127.0.0.1:5000")
	v.SetDefault("api.timeout", 10*time.Second)
	v.SetDefault("session.post_submit", "reload")
	v.SetDefault("session.report_url", "/report")
	v.SetDefault("session.seed_from_server", true)
	v.SetDefault("session.idle_timeout", 2*time.Hour)
	v.SetDefault("session.cookie_name", "attendance_session")
	v.SetDefault("import.max_bytes", 5<<20)
	v.SetDefault("import.reload_delay", 2*time.Second)
	v.SetDefault("storage.type", "none")
	v.SetDefault("storage.local_path", "uploads/imports")
	v.SetDefault("rate_limit.max_requests", 6000)
	v.SetDefault("rate_limit.window_minutes", 1)
	v.SetDefault("log.file", "logs/app.log")
}

func LoadConfig(path string) (*Config, error) {
	// .env 不存在时忽略
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("ATTENDANCE")
	v.AutomaticEnv()

	setDefaults(v)

	// Server
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.mode", "SERVER_MODE")

	// Remote API
	v.BindEnv("api.base_url", "API_BASE_URL")
	v.BindEnv("api.classes_path", "API_CLASSES_PATH")

	// Session
	v.BindEnv("session.post_submit", "POST_SUBMIT_BEHAVIOR")
	v.BindEnv("session.report_url", "REPORT_URL")

	// Storage / MinIO
	v.BindEnv("storage.type", "STORAGE_TYPE")
	v.BindEnv("storage.minio_endpoint", "MINIO_ENDPOINT")
	v.BindEnv("storage.minio_access_key", "MINIO_ACCESS_KEY")
	v.BindEnv("storage.minio_secret_key", "MINIO_SECRET_KEY")
	v.BindEnv("storage.minio_bucket", "MINIO_BUCKET")

	// Tracing
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Storage.Type == "local" {
		if _, err := os.Stat(cfg.Storage.LocalPath); os.IsNotExist(err) {
			os.MkdirAll(cfg.Storage.LocalPath, 0755)
		}
	}

	return &cfg, nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Storage.Type == "minio" && (c.Storage.MinioEndpoint == "" || c.Storage.MinioBucket == "") {
		return errors.New("invalid config: minio storage needs minio_endpoint and minio_bucket")
	}
	if c.Session.PostSubmit == "redirect" && c.Session.ReportURL == "" {
		return errors.New("invalid config: redirect post-submit behavior needs session.report_url")
	}
	return nil
}
