// Package config loads and validates synapsed configuration: sensible
// defaults registered with viper, overridden by a YAML file discovered on a
// search path, validated once after unmarshal.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Profile      string             `mapstructure:"profile"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Embedding    EmbeddingConfig    `mapstructure:"embedding"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Scoring      ScoringConfig      `mapstructure:"scoring"`
	EventTrigger EventTriggerConfig `mapstructure:"event_trigger"`
	TierManager  TierManagerConfig  `mapstructure:"tier_manager"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	RestAPI      RestAPIConfig      `mapstructure:"rest_api"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// DatabaseConfig holds the Postgres+pgvector connection configuration.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	VectorDimension int           `mapstructure:"vector_dimension"`
}

// EmbeddingConfig holds the embedding-provider configuration.
type EmbeddingConfig struct {
	Provider  string        `mapstructure:"provider"` // "ollama" or "mock"
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	Dimension int           `mapstructure:"dimension"`
	BatchSize int           `mapstructure:"batch_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// CacheConfig holds embedding-cache sizing.
type CacheConfig struct {
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ScoringConfig holds the three-component scorer weights.
type ScoringConfig struct {
	RecencyWeight    float64 `mapstructure:"recency_weight"`
	ImportanceWeight float64 `mapstructure:"importance_weight"`
	RelevanceWeight  float64 `mapstructure:"relevance_weight"`
	RecencyLambda    float64 `mapstructure:"recency_lambda"`
}

// EventTriggerConfig points at the hot-reloadable trigger pattern file.
type EventTriggerConfig struct {
	PatternFile      string        `mapstructure:"pattern_file"`
	ReloadDebounce   time.Duration `mapstructure:"reload_debounce"`
	ProcessingBudget time.Duration `mapstructure:"processing_budget"`
}

// TierManagerConfig holds the background migrator's tunables.
type TierManagerConfig struct {
	Enabled                 bool          `mapstructure:"enabled"`
	ScanInterval            time.Duration `mapstructure:"scan_interval"`
	MigrationBatchSize      int           `mapstructure:"migration_batch_size"`
	MaxConcurrentMigrations int           `mapstructure:"max_concurrent_migrations"`

	WorkingMinAgeHours float64 `mapstructure:"working_min_age_hours"`
	WarmMinAgeHours    float64 `mapstructure:"warm_min_age_hours"`
	ColdMinAgeHours    float64 `mapstructure:"cold_min_age_hours"`

	WorkingToWarmThreshold float64 `mapstructure:"working_to_warm_threshold"`
	WarmToColdThreshold    float64 `mapstructure:"warm_to_cold_threshold"`
	ColdToFrozenThreshold  float64 `mapstructure:"cold_to_frozen_threshold"`

	HighImportanceProtection  float64 `mapstructure:"high_importance_protection"`
	HighImportanceRecallFloor float64 `mapstructure:"high_importance_recall_floor"`
	FrequentAccessCount       int     `mapstructure:"frequent_access_count"`

	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
}

// SchedulerConfig holds the cron-driven consolidation runner's tunables.
type SchedulerConfig struct {
	Enabled               bool          `mapstructure:"enabled"`
	CronExpression        string        `mapstructure:"cron_expression"`
	MaxProcessingDuration time.Duration `mapstructure:"max_processing_duration"`
	RunOnStartup          bool          `mapstructure:"run_on_startup"`
	MinInterval           time.Duration `mapstructure:"min_interval"`
	MaxTierLoadThreshold  float64       `mapstructure:"max_tier_load_threshold"`
	TimeOfDayOptimization bool          `mapstructure:"time_of_day_optimization"`
}

// RestAPIConfig holds REST API server configuration.
type RestAPIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	CORS    bool   `mapstructure:"cors"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns configuration with sensible component defaults
// (tier thresholds, scorer weights, scheduler cadence).
func DefaultConfig() *Config {
	return &Config{
		Profile: "default",
		Database: DatabaseConfig{
			DSN:             "postgres://localhost:5432/synapsed?sslmode=disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			AutoMigrate:     true,
			VectorDimension: 768,
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			BaseURL:   "http://localhost:11434",
			Model:     "nomic-embed-text",
			Dimension: 768,
			BatchSize: 32,
			Timeout:   30 * time.Second,
		},
		Cache: CacheConfig{
			Capacity: 4096,
			TTL:      10 * time.Minute,
		},
		Scoring: ScoringConfig{
			RecencyWeight:    0.4,
			ImportanceWeight: 0.3,
			RelevanceWeight:  0.3,
			RecencyLambda:    0.005,
		},
		EventTrigger: EventTriggerConfig{
			PatternFile:      "",
			ReloadDebounce:   500 * time.Millisecond,
			ProcessingBudget: 50 * time.Millisecond,
		},
		TierManager: TierManagerConfig{
			Enabled:                   true,
			ScanInterval:              time.Minute,
			MigrationBatchSize:        20,
			MaxConcurrentMigrations:   2,
			WorkingMinAgeHours:        1,
			WarmMinAgeHours:           24,
			ColdMinAgeHours:           168,
			WorkingToWarmThreshold:    0.7,
			WarmToColdThreshold:       0.5,
			ColdToFrozenThreshold:     0.2,
			HighImportanceProtection:  0.85,
			HighImportanceRecallFloor: 0.5,
			FrequentAccessCount:       10,
			ShutdownGracePeriod:       5 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			Enabled:               true,
			CronExpression:        "0 0 * * * *",
			MaxProcessingDuration: 30 * time.Minute,
			RunOnStartup:          false,
			MinInterval:           time.Minute,
			MaxTierLoadThreshold:  0.8,
			TimeOfDayOptimization: true,
		},
		RestAPI: RestAPIConfig{
			Enabled: true,
			Host:    "localhost",
			Port:    8088,
			CORS:    true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file, searching the current
// directory, ~/.synapsed, and /etc/synapsed, falling back to defaults when
// no file is found.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	homeDir, _ := os.UserHomeDir()
	v.AddConfigPath(filepath.Join(homeDir, ".synapsed"))
	v.AddConfigPath("/etc/synapsed")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("profile", d.Profile)

	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	v.SetDefault("database.auto_migrate", d.Database.AutoMigrate)
	v.SetDefault("database.vector_dimension", d.Database.VectorDimension)

	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.base_url", d.Embedding.BaseURL)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimension", d.Embedding.Dimension)
	v.SetDefault("embedding.batch_size", d.Embedding.BatchSize)
	v.SetDefault("embedding.timeout", d.Embedding.Timeout)

	v.SetDefault("cache.capacity", d.Cache.Capacity)
	v.SetDefault("cache.ttl", d.Cache.TTL)

	v.SetDefault("scoring.recency_weight", d.Scoring.RecencyWeight)
	v.SetDefault("scoring.importance_weight", d.Scoring.ImportanceWeight)
	v.SetDefault("scoring.relevance_weight", d.Scoring.RelevanceWeight)
	v.SetDefault("scoring.recency_lambda", d.Scoring.RecencyLambda)

	v.SetDefault("event_trigger.pattern_file", d.EventTrigger.PatternFile)
	v.SetDefault("event_trigger.reload_debounce", d.EventTrigger.ReloadDebounce)
	v.SetDefault("event_trigger.processing_budget", d.EventTrigger.ProcessingBudget)

	v.SetDefault("tier_manager.enabled", d.TierManager.Enabled)
	v.SetDefault("tier_manager.scan_interval", d.TierManager.ScanInterval)
	v.SetDefault("tier_manager.migration_batch_size", d.TierManager.MigrationBatchSize)
	v.SetDefault("tier_manager.max_concurrent_migrations", d.TierManager.MaxConcurrentMigrations)
	v.SetDefault("tier_manager.working_min_age_hours", d.TierManager.WorkingMinAgeHours)
	v.SetDefault("tier_manager.warm_min_age_hours", d.TierManager.WarmMinAgeHours)
	v.SetDefault("tier_manager.cold_min_age_hours", d.TierManager.ColdMinAgeHours)
	v.SetDefault("tier_manager.working_to_warm_threshold", d.TierManager.WorkingToWarmThreshold)
	v.SetDefault("tier_manager.warm_to_cold_threshold", d.TierManager.WarmToColdThreshold)
	v.SetDefault("tier_manager.cold_to_frozen_threshold", d.TierManager.ColdToFrozenThreshold)
	v.SetDefault("tier_manager.high_importance_protection", d.TierManager.HighImportanceProtection)
	v.SetDefault("tier_manager.high_importance_recall_floor", d.TierManager.HighImportanceRecallFloor)
	v.SetDefault("tier_manager.frequent_access_count", d.TierManager.FrequentAccessCount)
	v.SetDefault("tier_manager.shutdown_grace_period", d.TierManager.ShutdownGracePeriod)

	v.SetDefault("scheduler.enabled", d.Scheduler.Enabled)
	v.SetDefault("scheduler.cron_expression", d.Scheduler.CronExpression)
	v.SetDefault("scheduler.max_processing_duration", d.Scheduler.MaxProcessingDuration)
	v.SetDefault("scheduler.run_on_startup", d.Scheduler.RunOnStartup)
	v.SetDefault("scheduler.min_interval", d.Scheduler.MinInterval)
	v.SetDefault("scheduler.max_tier_load_threshold", d.Scheduler.MaxTierLoadThreshold)
	v.SetDefault("scheduler.time_of_day_optimization", d.Scheduler.TimeOfDayOptimization)

	v.SetDefault("rest_api.enabled", d.RestAPI.Enabled)
	v.SetDefault("rest_api.host", d.RestAPI.Host)
	v.SetDefault("rest_api.port", d.RestAPI.Port)
	v.SetDefault("rest_api.cors", d.RestAPI.CORS)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate validates the configuration, rejecting scorer weight
// configurations with any negative weight.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.RestAPI.Enabled {
		if c.RestAPI.Port < 1 || c.RestAPI.Port > 65535 {
			return fmt.Errorf("rest_api.port must be between 1 and 65535")
		}
		if c.RestAPI.Host == "" {
			return fmt.Errorf("rest_api.host is required when the REST API is enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: console, json")
	}

	if c.Scoring.RecencyWeight < 0 || c.Scoring.ImportanceWeight < 0 || c.Scoring.RelevanceWeight < 0 {
		return fmt.Errorf("scoring weights must be non-negative")
	}

	if c.Embedding.Provider != "ollama" && c.Embedding.Provider != "mock" {
		return fmt.Errorf("embedding.provider must be 'ollama' or 'mock'")
	}

	if c.TierManager.MaxConcurrentMigrations < 1 {
		return fmt.Errorf("tier_manager.max_concurrent_migrations must be >= 1")
	}

	return nil
}

// ConfigDir returns the default configuration directory.
func ConfigDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".synapsed")
}
