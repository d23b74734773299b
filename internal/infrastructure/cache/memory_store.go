package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Constants for in-memory cache configuration
const (
	defaultCleanupInterval = 30 * time.Second
)

// MemoryStore implements Store in process memory. It does not share state
// across instances and is meant for single-node deployments and tests.
type MemoryStore struct {
	entries    sync.Map // map[string]*cacheEntry
	defaultTTL time.Duration
	logger     *zap.Logger
	stopCh     chan struct{}
	stopped    int32

	hits   int64
	misses int64
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e *cacheEntry) isExpired() bool {
	return time.Now().After(e.expiresAt)
}

// MemoryStoreOption is a functional option for configuring the store
type MemoryStoreOption func(*MemoryStore)

// WithMemoryLogger sets the logger for the store
func WithMemoryLogger(logger *zap.Logger) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.logger = logger
	}
}

// WithMemoryDefaultTTL sets the TTL used when callers pass none
func WithMemoryDefaultTTL(ttl time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// NewMemoryStore creates a store and starts its cleanup goroutine
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		defaultTTL: defaultTTL,
		logger:     zap.NewNop(),
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupExpired()

	return s
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Get retrieves a value
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if v, ok := s.entries.Load(key); ok {
		entry := v.(*cacheEntry)
		if !entry.isExpired() {
			atomic.AddInt64(&s.hits, 1)
			return entry.value, true, nil
		}
		s.entries.Delete(key)
	}
	atomic.AddInt64(&s.misses, 1)
	return nil, false, nil
}

// PutWithTTL stores a copy of value with expiry
func (s *MemoryStore) PutWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	s.entries.Store(key, &cacheEntry{value: buf, expiresAt: time.Now().Add(ttl)})
	return nil
}

// Evict removes a key
func (s *MemoryStore) Evict(_ context.Context, key string) error {
	s.entries.Delete(key)
	return nil
}

// EvictPrefix removes keys by prefix
func (s *MemoryStore) EvictPrefix(_ context.Context, prefix string) (int64, error) {
	var deleted int64
	s.entries.Range(func(k, _ any) bool {
		if strings.HasPrefix(k.(string), prefix) {
			s.entries.Delete(k)
			deleted++
		}
		return true
	})
	return deleted, nil
}

// Close stops the cleanup goroutine
func (s *MemoryStore) Close() error {
	if atomic.CompareAndSwapInt32(&s.stopped, 0, 1) {
		close(s.stopCh)
	}
	return nil
}

// GetStats returns cache statistics
func (s *MemoryStore) GetStats() (hits, misses int64) {
	return atomic.LoadInt64(&s.hits), atomic.LoadInt64(&s.misses)
}

// Count returns the number of live and expired-but-unswept entries
func (s *MemoryStore) Count() int {
	n := 0
	s.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *MemoryStore) cleanupExpired() {
	ticker := time.NewTicker(defaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						s.logger.Error("Panic in cache cleanup", zap.Any("panic", r))
					}
				}()
				s.doCleanup()
			}()
		}
	}
}

func (s *MemoryStore) doCleanup() {
	removed := 0
	s.entries.Range(func(k, v any) bool {
		if v.(*cacheEntry).isExpired() {
			s.entries.Delete(k)
			removed++
		}
		return true
	})
	if removed > 0 {
		s.logger.Debug("Cleaned up expired cache entries", zap.Int("removed", removed))
	}
}

var _ Store = (*MemoryStore)(nil)
