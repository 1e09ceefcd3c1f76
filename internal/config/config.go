// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreDriverMongo  = "mongo"
	StoreDriverMemory = "memory"
)

// MaxFeedLimit caps the number of posts a list response may carry.
const MaxFeedLimit = 20

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port           string `mapstructure:"PORT"`
	Env            string `mapstructure:"APP_ENV"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	MongoURI               string        `mapstructure:"MONGODB_URI"`
	MongoDatabase          string        `mapstructure:"MONGODB_DATABASE"`
	StoreDriver            string        `mapstructure:"STORE_DRIVER"`
	StoreReconnectInterval time.Duration `mapstructure:"STORE_RECONNECT_INTERVAL"`
	StoreDialTimeout       time.Duration `mapstructure:"STORE_DIAL_TIMEOUT"`
	FeedLimit              int           `mapstructure:"FEED_LIMIT"`

	RedisURL string        `mapstructure:"REDIS_URL"`
	CacheTTL time.Duration `mapstructure:"CACHE_TTL"`

	TracingEnabled      bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter     string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint        string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSamplerRatio float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// LoadConfig loads application configuration from .env, an optional config file and environment variables.
func LoadConfig() (*Config, error) {
	// A missing .env is the normal case outside local development.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.SetDefault("PORT", "3000")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("ALLOWED_ORIGINS", "*")
	viper.SetDefault("MONGODB_URI", "")
	viper.SetDefault("MONGODB_DATABASE", "posts_db")
	viper.SetDefault("STORE_DRIVER", StoreDriverMongo)
	viper.SetDefault("STORE_RECONNECT_INTERVAL", "5s")
	viper.SetDefault("STORE_DIAL_TIMEOUT", "10s")
	viper.SetDefault("FEED_LIMIT", 20)
	viper.SetDefault("REDIS_URL", "")
	viper.SetDefault("CACHE_TTL", "30s")
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// IsProduction reports whether the service runs with a production profile.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Validate ensures that required configuration values are present and consistent.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}

	switch c.StoreDriver {
	case StoreDriverMongo:
		if c.MongoURI == "" {
			return errors.New("MONGODB_URI is required when STORE_DRIVER is mongo")
		}
	case StoreDriverMemory:
		if c.IsProduction() {
			return errors.New("STORE_DRIVER memory is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.MongoDatabase == "" {
		return errors.New("MONGODB_DATABASE is required")
	}
	if c.StoreReconnectInterval <= 0 {
		return errors.New("STORE_RECONNECT_INTERVAL must be positive")
	}
	if c.StoreDialTimeout <= 0 {
		return errors.New("STORE_DIAL_TIMEOUT must be positive")
	}
	if c.FeedLimit <= 0 || c.FeedLimit > MaxFeedLimit {
		return fmt.Errorf("FEED_LIMIT must be between 1 and %d", MaxFeedLimit)
	}
	if c.CacheTTL < 0 {
		return errors.New("CACHE_TTL must not be negative")
	}

	if c.IsProduction() && c.AllowedOrigins == "*" {
		log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
	}

	return nil
}
