package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Cluster   ClusterConfig   `yaml:"cluster" mapstructure:"cluster"`
	Merge     MergeConfig     `yaml:"merge" mapstructure:"merge"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Compile   CompileConfig   `yaml:"compile" mapstructure:"compile"`
	Registry  RegistryConfig  `yaml:"registry" mapstructure:"registry"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ClusterConfig configures identity clustering.
type ClusterConfig struct {
	FamilyThreshold int `yaml:"family_threshold" mapstructure:"family_threshold"`
}

// MergeConfig configures the merged item-form layer.
type MergeConfig struct {
	// SourcePriority lists source labels most-authoritative first.
	SourcePriority []string `yaml:"source_priority" mapstructure:"source_priority"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// CompileConfig configures the compilation run loop.
type CompileConfig struct {
	Workers       int `yaml:"workers" mapstructure:"workers"`
	Limit         int `yaml:"limit" mapstructure:"limit"`
	ItemBatchSize int `yaml:"item_batch_size" mapstructure:"item_batch_size"`
}

// RegistryConfig holds external identity registry settings.
type RegistryConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	Key              string  `yaml:"key" mapstructure:"key"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxIDsPerRequest int     `yaml:"max_ids_per_request" mapstructure:"max_ids_per_request"`
	CircuitThreshold int     `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetSecs int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// EnrichConfig configures registry enrichment.
type EnrichConfig struct {
	Workers          int `yaml:"workers" mapstructure:"workers"`
	RetryAttempts    int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
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
	v.SetEnvPrefix("INGREDIENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "ingredient.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("cluster.family_threshold", 5)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("compile.workers", 1)
	v.SetDefault("compile.item_batch_size", 10)
	v.SetDefault("registry.rate_limit", 5)
	v.SetDefault("registry.max_ids_per_request", 50)
	v.SetDefault("enrich.workers", 1)
	v.SetDefault("enrich.retry_attempts", 3)

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

	return &cfg, nil
}

// Validate checks that the configuration can support the given mode.
// Modes correspond to command groups: "compile" and "batch" need model
// credentials, "enrich" needs registry credentials, "store" only needs
// a reachable database.
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		problems = append(problems, "store.path is required for the sqlite driver")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required for the postgres driver")
	}
	if c.Cluster.FamilyThreshold < 2 {
		problems = append(problems, "cluster.family_threshold must be >= 2")
	}

	switch mode {
	case "store":
		// Database checks above are enough.
	case "compile", "batch":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Compile.Workers < 1 || c.Compile.Workers > 32 {
			problems = append(problems, "compile.workers must be between 1 and 32")
		}
		if c.Compile.ItemBatchSize < 1 {
			problems = append(problems, "compile.item_batch_size must be >= 1")
		}
	case "enrich":
		if c.Registry.BaseURL == "" {
			problems = append(problems, "registry.base_url is required")
		}
		if c.Registry.Key == "" {
			problems = append(problems, "registry.key is required")
		}
		if c.Registry.RateLimit <= 0 {
			problems = append(problems, "registry.rate_limit must be > 0")
		}
		if c.Enrich.Workers < 1 || c.Enrich.Workers > 32 {
			problems = append(problems, "enrich.workers must be between 1 and 32")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
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
