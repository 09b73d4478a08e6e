package redisStore

import (
	"context"
	"sync"

	"github.com/akolanti/kbchat/internal/config"
	"github.com/akolanti/kbchat/pkg/logger_i"
	"github.com/redis/go-redis/v9"
)

var (
	instances    = make(map[int]*Store)
	mu           sync.RWMutex
	registryLog  = logger_i.NewLogger("RedisStores")
	shutdownOnce sync.Once
)

// Store is one logical redis database. Jobs and chats live in separate databases
// so either can be flushed without touching the other.
type Store struct {
	client *redis.Client
	Type   int
	logger *logger_i.Logger
}

// GetRedisStore returns one client per logical database, or nil when redis is unreachable.
func GetRedisStore(ctx context.Context, settings *config.Settings, dbType int) *Store {
	mu.RLock()
	instance, exists := instances[dbType]
	mu.RUnlock()
	if exists {
		return instance
	}

	mu.Lock()
	defer mu.Unlock()
	if instance, exists = instances[dbType]; exists {
		return instance
	}
	return createNewStore(ctx, settings, dbType)
}

// Ping reports whether the database answers within the health timeout.
func (s *Store) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, config.RedisPingTimeout)
	defer cancel()
	return s.client.Ping(pingCtx).Err()
}

func closeRedisStores(ctx context.Context) {
	<-ctx.Done()
	registryLog.Info("Closing Redis stores")
	mu.Lock()
	defer mu.Unlock()
	for dbType, store := range instances {
		if err := store.client.Close(); err != nil {
			store.logger.Error("Error closing redis client", "error", err)
		}
		delete(instances, dbType)
	}
	registryLog.Info("Redis stores closed")
}

// caller holds mu
func createNewStore(ctx context.Context, settings *config.Settings, dbType int) *Store {
	newClient := redis.NewClient(&redis.Options{
		Addr:                  settings.RedisAddr,
		Password:              settings.RedisPass,
		DB:                    dbType,
		ContextTimeoutEnabled: true,
		ReadTimeout:           config.RedisIOTimeout,
		WriteTimeout:          config.RedisIOTimeout,
	})
	newStore := &Store{
		client: newClient,
		Type:   dbType,
		logger: logger_i.NewLogger("RedisStore").With("db", dbType),
	}

	if err := newStore.Ping(ctx); err != nil {
		newStore.logger.Error("Redis is offline", "addr", settings.RedisAddr, "error", err.Error())
		_ = newClient.Close()
		return nil
	}
	newStore.logger.Info("Redis store ready")

	instances[dbType] = newStore
	shutdownOnce.Do(func() {
		go closeRedisStores(ctx)
	})
	return newStore
}

// NewTestStore wraps an existing client, typically one pointed at miniredis.
func NewTestStore(client *redis.Client) *Store {
	return &Store{client: client, Type: -1, logger: logger_i.NewLogger("RedisStore").With("db", "test")}
}
