package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:                   "3000",
		Env:                    "development",
		AllowedOrigins:         "*",
		MongoURI:               "mongodb://localhost:27017",
		MongoDatabase:          "posts_db",
		StoreDriver:            StoreDriverMongo,
		StoreReconnectInterval: 5 * time.Second,
		StoreDialTimeout:       10 * time.Second,
		FeedLimit:              20,
		CacheTTL:               30 * time.Second,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
	}{
		{"Valid mongo config", func(c *Config) {}, false},
		{"Missing port", func(c *Config) { c.Port = "" }, true},
		{"Mongo driver without URI", func(c *Config) { c.MongoURI = "" }, true},
		{"Memory driver without URI", func(c *Config) {
			c.StoreDriver = StoreDriverMemory
			c.MongoURI = ""
		}, false},
		{"Memory driver in production", func(c *Config) {
			c.StoreDriver = StoreDriverMemory
			c.Env = "production"
		}, true},
		{"Unknown driver", func(c *Config) { c.StoreDriver = "cassandra" }, true},
		{"Missing database", func(c *Config) { c.MongoDatabase = "" }, true},
		{"Zero reconnect interval", func(c *Config) { c.StoreReconnectInterval = 0 }, true},
		{"Zero dial timeout", func(c *Config) { c.StoreDialTimeout = 0 }, true},
		{"Zero feed limit", func(c *Config) { c.FeedLimit = 0 }, true},
		{"Smaller feed limit", func(c *Config) { c.FeedLimit = 5 }, false},
		{"Feed limit above the list window", func(c *Config) { c.FeedLimit = MaxFeedLimit + 1 }, true},
		{"Negative cache TTL", func(c *Config) { c.CacheTTL = -time.Second }, true},
		{"Zero cache TTL", func(c *Config) { c.CacheTTL = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)

			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	defer viper.Reset()
	defer os.Unsetenv("MONGODB_URI")

	os.Setenv("MONGODB_URI", "mongodb://db.internal:27017")

	c, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "3000", c.Port)
	assert.Equal(t, "posts_db", c.MongoDatabase)
	assert.Equal(t, StoreDriverMongo, c.StoreDriver)
	assert.Equal(t, 5*time.Second, c.StoreReconnectInterval)
	assert.Equal(t, 10*time.Second, c.StoreDialTimeout)
	assert.Equal(t, 20, c.FeedLimit)
	assert.Equal(t, 30*time.Second, c.CacheTTL)
	assert.Equal(t, "*", c.AllowedOrigins)
	assert.Equal(t, "mongodb://db.internal:27017", c.MongoURI)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	defer viper.Reset()
	defer os.Unsetenv("STORE_DRIVER")
	defer os.Unsetenv("STORE_RECONNECT_INTERVAL")
	defer os.Unsetenv("PORT")

	os.Setenv("STORE_DRIVER", "  MEMORY ")
	os.Setenv("STORE_RECONNECT_INTERVAL", "250ms")
	os.Setenv("PORT", "8080")

	c, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, StoreDriverMemory, c.StoreDriver)
	assert.Equal(t, 250*time.Millisecond, c.StoreReconnectInterval)
	assert.Equal(t, "8080", c.Port)
}

func TestLoadConfig_MissingMongoURI(t *testing.T) {
	defer viper.Reset()
	os.Unsetenv("MONGODB_URI")

	_, err := LoadConfig()
	assert.Error(t, err)
}
