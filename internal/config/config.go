// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	DB        DBConfig        `mapstructure:"db"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory
// stores.
type DBConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	ConnLifetimeMinute int    `mapstructure:"conn_lifetime_minutes"`
}

// JobsConfig governs job execution.
type JobsConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// FetcherConfig controls the default HTTP fetcher.
type FetcherConfig struct {
	UserAgent   string  `mapstructure:"user_agent"`
	GlobalRPS   float64 `mapstructure:"global_rps"`
	GlobalBurst int     `mapstructure:"global_burst"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MaxParallel int  `mapstructure:"max_parallel"`
}

// RateLimitConfig sets the default per-domain pacing rule.
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
	CooldownSeconds   int `mapstructure:"cooldown_seconds"`
}

// DedupConfig tunes the duplicate admission checks.
type DedupConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	RecentLimit         int     `mapstructure:"recent_limit"`
}

// PubSubConfig holds the queue topics for downstream collaborators. Empty
// topic names disable the corresponding collaborator.
type PubSubConfig struct {
	ProjectID      string `mapstructure:"project_id"`
	EmbeddingTopic string `mapstructure:"embedding_topic"`
	GraphTopic     string `mapstructure:"graph_topic"`
}

// ArchiveConfig controls blob archiving of admitted content. An empty
// bucket disables archiving.
type ArchiveConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("jobs.max_concurrent", 5)
	v.SetDefault("fetcher.user_agent", "crawld/1.0")
	v.SetDefault("fetcher.global_rps", 10)
	v.SetDefault("fetcher.global_burst", 5)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("rate_limit.requests_per_minute", 30)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("rate_limit.cooldown_seconds", 60)
	v.SetDefault("dedup.similarity_threshold", 0.85)
	v.SetDefault("dedup.recent_limit", 1000)
	v.SetDefault("archive.prefix", "content")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Jobs.MaxConcurrent <= 0 {
		return fmt.Errorf("jobs.max_concurrent must be > 0")
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must be > 0")
	}
	if c.Dedup.SimilarityThreshold <= 0 || c.Dedup.SimilarityThreshold > 1 {
		return fmt.Errorf("dedup.similarity_threshold must be in (0, 1]")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if (c.PubSub.EmbeddingTopic != "" || c.PubSub.GraphTopic != "") && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when a topic is configured")
	}
	return nil
}

// ServerTimeout returns the HTTP handler timeout.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// DefaultCooldown returns the rate limit cooldown as a duration.
func (c Config) DefaultCooldown() time.Duration {
	return time.Duration(c.RateLimit.CooldownSeconds) * time.Second
}

// ConnLifetime returns the Postgres connection lifetime as a duration.
func (c Config) ConnLifetime() time.Duration {
	return time.Duration(c.DB.ConnLifetimeMinute) * time.Minute
}
