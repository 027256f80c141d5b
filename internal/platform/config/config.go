package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Webhooks  WebhooksConfig  `mapstructure:"webhooks"`
	Workflows WorkflowsConfig `mapstructure:"workflows"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type WebhooksConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	InitialDelay      time.Duration `mapstructure:"initial_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	PumpInterval      time.Duration `mapstructure:"pump_interval"`
	DeliveriesPerSec  float64       `mapstructure:"deliveries_per_sec"`
	PumpBatchSize     int           `mapstructure:"pump_batch_size"`
}

type WorkflowsConfig struct {
	ActionTimeout      time.Duration `mapstructure:"action_timeout"`
	HTTPRequestTimeout time.Duration `mapstructure:"http_request_timeout"`
	MaxWaitDelay       time.Duration `mapstructure:"max_wait_delay"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.path", "data/bindery.db")
	viper.SetDefault("database.max_connections", 10)
	viper.SetDefault("webhooks.max_attempts", 5)
	viper.SetDefault("webhooks.initial_delay", "1s")
	viper.SetDefault("webhooks.backoff_multiplier", 2.0)
	viper.SetDefault("webhooks.max_delay", "1h")
	viper.SetDefault("webhooks.request_timeout", "30s")
	viper.SetDefault("webhooks.pump_interval", "1s")
	viper.SetDefault("webhooks.deliveries_per_sec", 50.0)
	viper.SetDefault("webhooks.pump_batch_size", 50)
	viper.SetDefault("workflows.action_timeout", "30s")
	viper.SetDefault("workflows.http_request_timeout", "30s")
	viper.SetDefault("workflows.max_wait_delay", "5m")
	viper.SetDefault("logging.level", "info")
}
