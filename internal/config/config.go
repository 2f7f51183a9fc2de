package config

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Provider  ProviderConfig  `yaml:"provider" mapstructure:"provider"`
	Profile   ProfileConfig   `yaml:"profile" mapstructure:"profile"`
	Sources   []SourceConfig  `yaml:"sources" mapstructure:"sources"`
	Filters   FilterConfig    `yaml:"filters" mapstructure:"filters"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Sponsors  SponsorConfig   `yaml:"sponsors" mapstructure:"sponsors"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
}

// ProviderConfig selects and configures the AI backend.
type ProviderConfig struct {
	Name       string `yaml:"name" mapstructure:"name"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	Key        string `yaml:"key" mapstructure:"key"`
	Model      string `yaml:"model" mapstructure:"model"`
	MaxRetries int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// ProfileConfig is the candidate profile scored against each job.
type ProfileConfig struct {
	Summary  string   `yaml:"summary" mapstructure:"summary"`
	Keywords []string `yaml:"keywords" mapstructure:"keywords"`
}

// SourceConfig declares one named discovery source bound to an adapter.
type SourceConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Adapter string `yaml:"adapter" mapstructure:"adapter"`
	Board   string `yaml:"board" mapstructure:"board"`
}

// CityRule declares one requested city with its match leniency. A lenient
// rule keeps items whose location does not mention the city; a strict rule
// drops them.
type CityRule struct {
	City    string `yaml:"city" mapstructure:"city"`
	Country string `yaml:"country" mapstructure:"country"`
	Lenient bool   `yaml:"lenient" mapstructure:"lenient"`
}

// FilterConfig configures discovery post-processing.
type FilterConfig struct {
	Cities            []CityRule `yaml:"cities" mapstructure:"cities"`
	EmployerBlocklist []string   `yaml:"employer_blocklist" mapstructure:"employer_blocklist"`
}

// ScoringConfig configures the scoring stage.
type ScoringConfig struct {
	// AutoSkipBelow marks freshly scored items as skipped when their score
	// falls strictly below it. Nil disables auto-skip.
	AutoSkipBelow *float64 `yaml:"auto_skip_below" mapstructure:"auto_skip_below"`
	RatePerSecond float64  `yaml:"rate_per_second" mapstructure:"rate_per_second"`
}

// DiscoveryConfig configures the discovery fan-out.
type DiscoveryConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PipelineConfig configures the orchestrator.
type PipelineConfig struct {
	TopN int `yaml:"top_n" mapstructure:"top_n"`
}

// NotifyConfig configures the optional completion webhook.
type NotifyConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// SponsorConfig configures the sponsor-register lookup.
type SponsorConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("JOBGRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "jobgrid.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("provider.name", "openai")
	v.SetDefault("provider.max_retries", 3)
	v.SetDefault("scoring.rate_per_second", 1.0)
	v.SetDefault("discovery.concurrency", 4)
	v.SetDefault("discovery.timeout_secs", 120)
	v.SetDefault("pipeline.top_n", 10)
	v.SetDefault("notify.timeout_secs", 10)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	// A NaN threshold means auto-skip was configured garbage; treat as absent.
	if cfg.Scoring.AutoSkipBelow != nil && math.IsNaN(*cfg.Scoring.AutoSkipBelow) {
		cfg.Scoring.AutoSkipBelow = nil
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
