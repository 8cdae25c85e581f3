package model

import "time"

// Config is the full runtime configuration. Each pipeline run receives an
// immutable snapshot so concurrent runs under different tuning don't
// interfere.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Cache       CacheConfig       `yaml:"cache"`
	Extractor   ExtractorConfig   `yaml:"extractor"`
	SSOT        SSOTConfig        `yaml:"ssot"`
	Thresholds  Thresholds        `yaml:"thresholds"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Store       StoreConfig       `yaml:"store"`
	Server      ServerConfig      `yaml:"server"`
	LogLevel    string            `yaml:"log_level"`
}

// HTTPConfig controls document fetching.
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	UserAgent     string        `yaml:"user_agent"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes"`
	RespectRobots bool          `yaml:"respect_robots"`
	HTTPProxy     string        `yaml:"http_proxy"`
	HTTPSProxy    string        `yaml:"https_proxy"`
}

// CacheConfig controls the document and extraction caches.
type CacheConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Dir             string        `yaml:"dir"`
	MemoryTTL       time.Duration `yaml:"memory_ttl"`
	CacheExpiryDays int           `yaml:"cache_expiry_days"`
}

// DocumentTTL is how long a fetched document stays reusable on disk.
func (c CacheConfig) DocumentTTL() time.Duration {
	days := c.CacheExpiryDays
	if days <= 0 {
		days = 365
	}
	return time.Duration(days) * 24 * time.Hour
}

// ExtractorConfig controls the extraction oracle.
type ExtractorConfig struct {
	Provider      string        `yaml:"provider"`
	Model         string        `yaml:"model"`
	APIKey        string        `yaml:"-"`
	BaseURL       string        `yaml:"base_url"`
	PromptVersion string        `yaml:"prompt_version"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxTokens     int           `yaml:"max_tokens"`
}

// SSOTConfig controls the external record store client.
type SSOTConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Token     string        `yaml:"-"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
	RateBurst int           `yaml:"rate_burst"`
}

// Thresholds are the tunables of the resolution engine. Semantics are fixed;
// only the values are overridable.
type Thresholds struct {
	AutoStoreConfidence float64 `yaml:"confidence_threshold_auto_store"`
	ReviewConfidence    float64 `yaml:"confidence_threshold_review"`
	AlwaysReview        bool    `yaml:"always_review"`
	BirthToleranceDays  int     `yaml:"date_tolerance_birth_days"`
	DeathToleranceDays  int     `yaml:"date_tolerance_death_days"`
	AmbiguousScoreDiff  float64 `yaml:"ambiguous_match_score_diff"`
	FuzzyMatchThreshold float64 `yaml:"fuzzy_match_threshold"`
	MinCandidateScore   float64 `yaml:"min_candidate_score"`
	MaxRetryAttempts    int     `yaml:"max_retry_attempts"`
}

// ConcurrencyConfig controls batch processing.
type ConcurrencyConfig struct {
	Workers    int           `yaml:"workers"`
	RunCeiling time.Duration `yaml:"run_ceiling"`
}

// StoreConfig controls local persistence.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig controls the review API server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Timeout:       30 * time.Second,
			UserAgent:     "Kinforge/0.1 (genealogy research; contact operator)",
			MaxBodyBytes:  2_000_000,
			RespectRobots: true,
		},
		Cache: CacheConfig{
			Enabled:         true,
			Dir:             "",
			MemoryTTL:       30 * time.Minute,
			CacheExpiryDays: 365,
		},
		Extractor: ExtractorConfig{
			Provider:      "openai",
			Model:         "gpt-4o-mini",
			PromptVersion: "v2",
			Timeout:       60 * time.Second,
			MaxTokens:     4000,
		},
		SSOT: SSOTConfig{
			Timeout:   15 * time.Second,
			RateLimit: 5,
			RateBurst: 5,
		},
		Thresholds: Thresholds{
			AutoStoreConfidence: 0.85,
			ReviewConfidence:    0.60,
			AlwaysReview:        false,
			BirthToleranceDays:  30,
			DeathToleranceDays:  7,
			AmbiguousScoreDiff:  0.15,
			FuzzyMatchThreshold: 0.85,
			MinCandidateScore:   0.70,
			MaxRetryAttempts:    3,
		},
		Concurrency: ConcurrencyConfig{
			Workers:    4,
			RunCeiling: 5 * time.Minute,
		},
		Store: StoreConfig{
			Path: "", // resolved to ~/.kinforge/kinforge.db at startup
		},
		Server: ServerConfig{
			Addr: ":8480",
		},
		LogLevel: "info",
	}
}
