// Package config provides configuration management. A YAML file supplies
// the base configuration; a handful of environment variables override the
// deployment-specific values. Every threshold the failover and
// consolidation paths depend on is an explicit field here, never a
// hard-coded constant.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spotguard/spotguard/internal/logging"
)

// Config is the main application configuration
type Config struct {
	// DatabaseURL is the PostgreSQL connection string
	DatabaseURL string `yaml:"database_url"`

	// Port is the API server listen port
	Port int `yaml:"port"`

	// JWTSecret signs agent session tokens
	JWTSecret string `yaml:"jwt_secret"`

	// PoolCatalogDir holds the YAML pool definitions
	PoolCatalogDir string `yaml:"pool_catalog_dir"`

	Ingest       IngestConfig       `yaml:"ingest"`
	Consolidator ConsolidatorConfig `yaml:"consolidator"`
	Decision     DecisionConfig     `yaml:"decision"`
	Failover     FailoverConfig     `yaml:"failover"`
	Commands     CommandConfig      `yaml:"commands"`
	Notify       NotifyConfig       `yaml:"notify"`
	Logging      logging.Config     `yaml:"logging"`
}

// IngestConfig bounds what the ingestion validator accepts
type IngestConfig struct {
	// MinPrice and MaxPrice clamp reported prices to a sane positive range
	MinPrice string `yaml:"min_price"`
	MaxPrice string `yaml:"max_price"`

	// MaxFutureSkew rejects samples timestamped too far in the future
	MaxFutureSkew time.Duration `yaml:"max_future_skew"`

	// MaxAge rejects samples older than this
	MaxAge time.Duration `yaml:"max_age"`

	// RatePerAgent and RateBurst bound report throughput per agent
	RatePerAgent float64 `yaml:"rate_per_agent"`
	RateBurst    int     `yaml:"rate_burst"`
}

// ConsolidatorConfig tunes the pricing consolidation job
type ConsolidatorConfig struct {
	// Interval between scheduled runs
	Interval time.Duration `yaml:"interval"`

	// BucketWidth is the fixed canonical bucket size
	BucketWidth time.Duration `yaml:"bucket_width"`

	// MaxGap is the widest stretch of empty buckets interpolation may fill;
	// anything wider is reported as an unfilled gap
	MaxGap time.Duration `yaml:"max_gap"`

	// DisagreementTolerance is the absolute price delta beyond which
	// primary and replica samples are averaged with reduced confidence
	DisagreementTolerance string `yaml:"disagreement_tolerance"`

	// ConfidenceDecay is the confidence lost per bucket of distance from
	// the nearest measured point; ConfidenceFloor is the minimum
	ConfidenceDecay float64 `yaml:"confidence_decay"`
	ConfidenceFloor float64 `yaml:"confidence_floor"`

	// StaleAfter is how long a RUNNING job may go without heartbeat before
	// it is considered crashed and resumed from its checkpoint
	StaleAfter time.Duration `yaml:"stale_after"`
}

// DecisionConfig tunes the decision gateway
type DecisionConfig struct {
	// Provider selects the decision provider: rules, remote, disabled
	Provider string `yaml:"provider"`

	// RemoteURL is the endpoint of the remote provider when selected
	RemoteURL string `yaml:"remote_url"`

	// ProviderTimeout bounds the provider call; on timeout the
	// deterministic fallback rule answers instead
	ProviderTimeout time.Duration `yaml:"provider_timeout"`

	// SwitchRatio: switch when discounted price < ratio * stable price
	SwitchRatio string `yaml:"switch_ratio"`

	// MinDwell is how long an instance must sit in its pool before a
	// cost-driven switch is recommended
	MinDwell time.Duration `yaml:"min_dwell"`

	// EvaluateInterval is how often the advisor evaluates running
	// primaries against consolidated prices
	EvaluateInterval time.Duration `yaml:"evaluate_interval"`
}

// FailoverConfig tunes the emergency orchestrator
type FailoverConfig struct {
	// PromotionBudget is the hard latency budget from termination notice
	// to completed promotion
	PromotionBudget time.Duration `yaml:"promotion_budget"`

	// ZombieGrace is how long a zombie survives before the reaper issues
	// termination
	ZombieGrace time.Duration `yaml:"zombie_grace"`
}

// CommandConfig tunes the command queue
type CommandConfig struct {
	// Expiry is how long an unacknowledged command lives before it is
	// marked EXPIRED and surfaced
	Expiry time.Duration `yaml:"expiry"`

	// PollLimit caps commands handed out per poll
	PollLimit int `yaml:"poll_limit"`
}

// NotifyConfig configures the notification collaborator
type NotifyConfig struct {
	// URL of the notification service; empty disables notifications
	URL string `yaml:"url"`

	// Timeout for fire-and-forget posts
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration defaults
func Default() *Config {
	return &Config{
		DatabaseURL:    "postgres://localhost:5432/spotguard?sslmode=disable",
		Port:           8080,
		JWTSecret:      "change-me-in-production-min-32-chars",
		PoolCatalogDir: "internal/pool/catalog",
		Ingest: IngestConfig{
			MinPrice:      "0.0001",
			MaxPrice:      "100",
			MaxFutureSkew: 2 * time.Minute,
			MaxAge:        24 * time.Hour,
			RatePerAgent:  5,
			RateBurst:     20,
		},
		Consolidator: ConsolidatorConfig{
			Interval:              6 * time.Hour,
			BucketWidth:           5 * time.Minute,
			MaxGap:                30 * time.Minute,
			DisagreementTolerance: "0.001",
			ConfidenceDecay:       0.1,
			ConfidenceFloor:       0.5,
			StaleAfter:            30 * time.Minute,
		},
		Decision: DecisionConfig{
			Provider:         "rules",
			ProviderTimeout:  2 * time.Second,
			SwitchRatio:      "0.6",
			MinDwell:         30 * time.Minute,
			EvaluateInterval: 15 * time.Minute,
		},
		Failover: FailoverConfig{
			PromotionBudget: 15 * time.Second,
			ZombieGrace:     10 * time.Minute,
		},
		Commands: CommandConfig{
			Expiry:    15 * time.Minute,
			PollLimit: 10,
		},
		Notify: NotifyConfig{
			Timeout: 3 * time.Second,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads configuration from path (optional) and applies environment
// overrides. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config YAML %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("POOL_CATALOG_DIR"); v != "" {
		cfg.PoolCatalogDir = v
	}
	if v := os.Getenv("DECISION_PROVIDER"); v != "" {
		cfg.Decision.Provider = v
	}
	if v := os.Getenv("DECISION_REMOTE_URL"); v != "" {
		cfg.Decision.RemoteURL = v
	}
	if v := os.Getenv("NOTIFY_URL"); v != "" {
		cfg.Notify.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
