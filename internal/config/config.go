// Package config loads and validates the pipeline's operator-tunable
// settings: a DefaultConfig() baseline overridable by LoadFromEnv(),
// plus a YAML file loader and a live-reload watch on top of it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DatabaseConfig configures the Postgres connection pool.
type DatabaseConfig struct {
	Host                   string `yaml:"host" validate:"required"`
	Port                   int    `yaml:"port" validate:"required"`
	Database               string `yaml:"database" validate:"required"`
	Username               string `yaml:"username" validate:"required"`
	Password               string `yaml:"password" json:"-"`
	SSLMode                string `yaml:"ssl_mode"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig configures the one thing Redis backs in this pipeline:
// throttling repeat dead-letter notifications.
// The queue itself lives in Postgres.
type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"required"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db"`
}

// SlackConfig configures dead-letter operator notifications. A blank
// BotToken is a valid configuration: notifications are simply skipped.
type SlackConfig struct {
	BotToken        string `yaml:"bot_token" json:"-"`
	Channel         string `yaml:"channel"`
	ThrottleSeconds int    `yaml:"throttle_seconds"`
}

func (s SlackConfig) Throttle() time.Duration {
	return time.Duration(s.ThrottleSeconds) * time.Second
}

// PipelineConfig is the full set of operator-visible controls named in
// the pipeline's operator-tunable thresholds, plus the ambient
// stack's wiring (DB, Redis, Slack).
type PipelineConfig struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Slack    SlackConfig    `yaml:"slack"`

	ImageRoot string `yaml:"image_root" validate:"required"`

	DetectorConfidence float64 `yaml:"detector_confidence" validate:"gte=0,lte=1"`
	IoUDedupThreshold  float64 `yaml:"iou_dedup_threshold" validate:"gte=0,lte=1"`
	BurstWindowSeconds int     `yaml:"burst_window_seconds" validate:"gte=0"`
	ReIDThreshold      float64 `yaml:"reid_threshold" validate:"gte=-1,lte=1"`
	EnsemblePrimaryW   float64 `yaml:"ensemble_primary_weight"`
	EnsembleAuxiliaryW float64 `yaml:"ensemble_auxiliary_weight"`
	ProfileEMAAlpha    float64 `yaml:"profile_ema_alpha" validate:"gte=0,lte=1"`
	DetectConcurrency  int     `yaml:"detect_concurrency" validate:"gte=1"`
	ReIDConcurrency    int     `yaml:"reid_concurrency" validate:"gte=1"`
	DetectDeadlineMS   int     `yaml:"detect_deadline_ms" validate:"gte=1"`
	ReIDDeadlineMS     int     `yaml:"reid_deadline_ms" validate:"gte=1"`
	MaxRetries         int     `yaml:"max_retries" validate:"gte=0"`
	RecordNonDeer      bool    `yaml:"record_non_deer_detections"`
	EmbeddingDimension int     `yaml:"embedding_dimension" validate:"gte=1"`
	VectorBackend      string  `yaml:"vector_backend" validate:"oneof=postgres memory"`
	LogLevel           string  `yaml:"log_level"`

	InferenceBaseURL     string       `yaml:"inference_base_url" validate:"required"`
	InferenceTimeoutMS   int          `yaml:"inference_timeout_ms" validate:"gte=1"`
	InferenceAuth        OAuth2Config `yaml:"inference_auth"`
	EmbeddingVersion     string       `yaml:"embedding_version" validate:"required"`
	BreakerFailThreshold int          `yaml:"breaker_fail_threshold" validate:"gte=1"`
	BreakerOpenSeconds   int          `yaml:"breaker_open_seconds" validate:"gte=1"`
}

// OAuth2Config names the client-credentials grant used to authenticate
// against the inference sidecar. A blank ClientID leaves the sidecar
// call unauthenticated.
type OAuth2Config struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret" json:"-"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
}

func (c *PipelineConfig) InferenceTimeout() time.Duration {
	return time.Duration(c.InferenceTimeoutMS) * time.Millisecond
}

func (c *PipelineConfig) BreakerOpenTimeout() time.Duration {
	return time.Duration(c.BreakerOpenSeconds) * time.Second
}

// DefaultConfig returns the baseline configuration with every threshold
// set to its documented default (tau_det=0.5, tau_iou=0.5,
// Delta_burst=5s, tau_reid=0.7, ensemble weights 0.6/0.4, alpha=0.3).
func DefaultConfig() *PipelineConfig {
	return &PipelineConfig{
		Database: DatabaseConfig{
			Host:                   "localhost",
			Port:                   5432,
			Database:               "trailcam",
			Username:               "trailcam",
			SSLMode:                "disable",
			MaxOpenConns:           25,
			MaxIdleConns:           5,
			ConnMaxLifetimeMinutes: 5,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Slack: SlackConfig{
			ThrottleSeconds: 300,
		},
		ImageRoot:          "/var/lib/trailcam/images",
		DetectorConfidence: 0.5,
		IoUDedupThreshold:  0.5,
		BurstWindowSeconds: 5,
		ReIDThreshold:      0.70,
		EnsemblePrimaryW:   0.6,
		EnsembleAuxiliaryW: 0.4,
		ProfileEMAAlpha:    0.3,
		DetectConcurrency:  2,
		ReIDConcurrency:    16,
		DetectDeadlineMS:   30_000,
		ReIDDeadlineMS:     10_000,
		MaxRetries:         5,
		RecordNonDeer:      true,
		EmbeddingDimension: 512,
		VectorBackend:      "postgres",
		LogLevel:           "info",

		InferenceBaseURL:     "http://localhost:8500",
		InferenceTimeoutMS:   5_000,
		EmbeddingVersion:     "v1",
		BreakerFailThreshold: 5,
		BreakerOpenSeconds:   30,
	}
}

// Load reads a YAML file over the default configuration and validates
// the result.
func Load(path string) (*PipelineConfig, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.LoadFromEnv()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs struct-tag validation and the cross-field checks that
// validator tags cannot express (ensemble weights summing to 1).
func Validate(cfg *PipelineConfig) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	if w := cfg.EnsemblePrimaryW + cfg.EnsembleAuxiliaryW; w < 0.999 || w > 1.001 {
		return fmt.Errorf("config: ensemble_weights must sum to 1, got %v", w)
	}
	return nil
}

// LoadFromEnv overrides cfg in place from environment variables,
// DB_HOST/DB_PORT/... extended to the pipeline's own tunables.
func (c *PipelineConfig) LoadFromEnv() {
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Database.Port = n
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.Database.Username = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database.Database = v
	}
	if v := os.Getenv("DB_SSL_MODE"); v != "" {
		c.Database.SSLMode = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		c.Slack.BotToken = v
	}
	if v := os.Getenv("DETECTOR_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.DetectorConfidence = f
		}
	}
	if v := os.Getenv("REID_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.ReIDThreshold = f
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// ConnMaxLifetime returns the configured connection lifetime as a
// time.Duration.
func (d DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(d.ConnMaxLifetimeMinutes) * time.Minute
}

// DetectDeadline and ReIDDeadline convert the millisecond config fields
// into time.Duration for use as context deadlines.
func (c *PipelineConfig) DetectDeadline() time.Duration {
	return time.Duration(c.DetectDeadlineMS) * time.Millisecond
}

func (c *PipelineConfig) ReIDDeadline() time.Duration {
	return time.Duration(c.ReIDDeadlineMS) * time.Millisecond
}

func (c *PipelineConfig) BurstWindow() time.Duration {
	return time.Duration(c.BurstWindowSeconds) * time.Second
}
