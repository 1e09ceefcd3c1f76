package bootstrap

import (
	"context"
	"testing"
	"time"

	"postservice/internal/config"
	"postservice/internal/store"
	"postservice/internal/store/memstore"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Port:                   "3000",
		Env:                    "test",
		StoreDriver:            config.StoreDriverMemory,
		MongoDatabase:          "posts_db",
		StoreReconnectInterval: 20 * time.Millisecond,
		StoreDialTimeout:       time.Second,
		FeedLimit:              20,
	}
}

func TestNewDialer(t *testing.T) {
	cfg := memoryConfig()
	d, err := NewDialer(cfg)
	require.NoError(t, err)
	assert.IsType(t, &memstore.Server{}, d)

	cfg.StoreDriver = config.StoreDriverMongo
	cfg.MongoURI = "mongodb://localhost:27017"
	d, err = NewDialer(cfg)
	require.NoError(t, err)
	assert.Equal(t, store.MongoDialer{URI: "mongodb://localhost:27017", Database: "posts_db"}, d)

	cfg.StoreDriver = "cassandra"
	_, err = NewDialer(cfg)
	assert.Error(t, err)
}

func TestInitRuntime_MemoryWithoutRedis(t *testing.T) {
	handle, rdb, err := InitRuntime(memoryConfig())
	require.NoError(t, err)
	defer func() { _ = handle.Close(context.Background()) }()

	assert.Nil(t, rdb)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = handle.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.StateConnected, handle.State())
}

func TestInitRuntime_WithRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := memoryConfig()
	cfg.RedisURL = "redis://" + mr.Addr()

	handle, rdb, err := InitRuntime(cfg)
	require.NoError(t, err)
	defer func() { _ = handle.Close(context.Background()) }()
	require.NotNil(t, rdb)
	defer func() { _ = rdb.Close() }()

	assert.NoError(t, rdb.Ping(context.Background()).Err())
}
