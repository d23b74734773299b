package cache

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xammer/billops/internal/infrastructure/config"
)

// StoreFactory creates cache stores based on configuration
type StoreFactory struct {
	redisConfig           config.RedisConfig
	defaultTTL            time.Duration
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// StoreFactoryOption is a functional option for configuring the factory
type StoreFactoryOption func(*StoreFactory)

// WithLogger sets the logger for the factory and the stores it creates
func WithLogger(logger *zap.Logger) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to the in-memory store
// when Redis is unavailable. Default is true.
func WithInMemoryFallback(allow bool) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// WithDefaultTTL sets the TTL used by created stores when callers pass none
func WithDefaultTTL(ttl time.Duration) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.defaultTTL = ttl
	}
}

// NewStoreFactory creates a new factory
func NewStoreFactory(cfg config.RedisConfig, opts ...StoreFactoryOption) *StoreFactory {
	f := &StoreFactory{
		redisConfig:           cfg,
		defaultTTL:            defaultTTL,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateRedisStore creates a Redis-backed store
func (f *StoreFactory) CreateRedisStore() (*RedisStore, error) {
	store, err := NewRedisStore(RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	}, WithRedisLogger(f.logger), WithRedisDefaultTTL(f.defaultTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis cache store: %w", err)
	}
	return store, nil
}

// CreateInMemoryStore creates an in-memory store.
// In-memory stores do not share state across process instances.
func (f *StoreFactory) CreateInMemoryStore() *MemoryStore {
	return NewMemoryStore(WithMemoryLogger(f.logger), WithMemoryDefaultTTL(f.defaultTTL))
}

// CreateStore tries Redis first and falls back to memory when allowed
func (f *StoreFactory) CreateStore() (Store, error) {
	store, err := f.CreateRedisStore()
	if err == nil {
		f.logger.Info("using Redis cache store")
		return store, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("Redis required for cache but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory cache store. "+
		"Cached views will not be shared between instances.",
		zap.Error(err),
	)
	return f.CreateInMemoryStore(), nil
}
