package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Predize   PredizeConfig   `yaml:"predize" mapstructure:"predize"`
	Warehouse WarehouseConfig `yaml:"warehouse" mapstructure:"warehouse"`
	Model     ModelConfig     `yaml:"model" mapstructure:"model"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Sync      SyncConfig      `yaml:"sync" mapstructure:"sync"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// PredizeConfig holds Predize helpdesk API credentials and settings.
type PredizeConfig struct {
	Email    string  `yaml:"email" mapstructure:"email"`
	Password string  `yaml:"password" mapstructure:"password"`
	BaseURL  string  `yaml:"base_url" mapstructure:"base_url"`
	RateRPS  float64 `yaml:"rate_rps" mapstructure:"rate_rps"`
}

// WarehouseConfig configures the postgres warehouse connection.
type WarehouseConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ModelConfig configures the topic model server and the topic name mapping.
type ModelConfig struct {
	ServerURL  string `yaml:"server_url" mapstructure:"server_url"`
	NamesPath  string `yaml:"names_path" mapstructure:"names_path"`
	TimeoutSec int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// NotifyConfig configures the error-notification webhook.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// SyncConfig configures pipeline behavior and business filters.
type SyncConfig struct {
	LookbackMinutes     int     `yaml:"lookback_minutes" mapstructure:"lookback_minutes"`
	MaxWorkers          int     `yaml:"max_workers" mapstructure:"max_workers"`
	TicketType          string  `yaml:"ticket_type" mapstructure:"ticket_type"`
	Channel             string  `yaml:"channel" mapstructure:"channel"`
	Topic               string  `yaml:"topic" mapstructure:"topic"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	PageLimit           int     `yaml:"page_limit" mapstructure:"page_limit"`
}

// Lookback returns the lookback window as a duration.
func (s SyncConfig) Lookback() time.Duration {
	return time.Duration(s.LookbackMinutes) * time.Minute
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
	v.SetEnvPrefix("PREDIZE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("predize.base_url", "https://api.predize.com")
	v.SetDefault("predize.rate_rps", 1.0)
	v.SetDefault("warehouse.max_conns", 10)
	v.SetDefault("warehouse.min_conns", 2)
	v.SetDefault("model.names_path", "topic_names.txt")
	v.SetDefault("model.timeout_secs", 60)
	v.SetDefault("sync.lookback_minutes", 15)
	v.SetDefault("sync.max_workers", 10)
	v.SetDefault("sync.ticket_type", "POST_ORDER")
	v.SetDefault("sync.channel", "mercadolivre")
	v.SetDefault("sync.topic", "tracking")
	v.SetDefault("sync.confidence_threshold", 0.8)
	v.SetDefault("sync.page_limit", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
