// Package bootstrap builds the process-wide store handle and Redis client from configuration.
package bootstrap

import (
	"fmt"

	"postservice/internal/cache"
	"postservice/internal/config"
	"postservice/internal/middleware"
	"postservice/internal/store"
	"postservice/internal/store/memstore"

	"github.com/redis/go-redis/v9"
)

// NewDialer returns the store driver selected by cfg.StoreDriver.
func NewDialer(cfg *config.Config) (store.Dialer, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMongo:
		return store.MongoDialer{URI: cfg.MongoURI, Database: cfg.MongoDatabase}, nil
	case config.StoreDriverMemory:
		middleware.Logger.Warn("using in-memory document store; data is lost on exit")
		return memstore.NewServer(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// InitRuntime creates the store handle and connects Redis. The handle is
// started but not yet connected; callers that need a connection Acquire one.
// The Redis client is nil when REDIS_URL is unset or unreachable.
func InitRuntime(cfg *config.Config) (*store.Handle, *redis.Client, error) {
	dialer, err := NewDialer(cfg)
	if err != nil {
		return nil, nil, err
	}

	handle := store.New(dialer,
		store.WithReconnectInterval(cfg.StoreReconnectInterval),
		store.WithDialTimeout(cfg.StoreDialTimeout),
	)
	handle.Start()

	return handle, cache.Connect(cfg.RedisURL), nil
}
