package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultWarmConcurrency = 4

// Coordinator layers cache-aside reads, explicit invalidation and bulk
// warm-up over a Store. Cache failures never fail the caller: reads fall
// through to the computation and write errors are only logged.
type Coordinator struct {
	store           Store
	warmConcurrency int
	logger          *zap.Logger
}

// CoordinatorOption configures a Coordinator
type CoordinatorOption func(*Coordinator)

// WithCoordinatorLogger sets the logger
func WithCoordinatorLogger(logger *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithWarmConcurrency bounds how many warm tasks run at once
func WithWarmConcurrency(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.warmConcurrency = n
		}
	}
}

// NewCoordinator creates a Coordinator over store
func NewCoordinator(store Store, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:           store,
		warmConcurrency: defaultWarmConcurrency,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCompute returns the cached value under key, or runs compute, caches
// its result for ttl and returns it. Errors from compute are returned and
// nothing is cached.
func GetOrCompute[T any](ctx context.Context, c *Coordinator, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	if v, ok := lookup[T](ctx, c, key); ok {
		return v, nil
	}

	v, err := compute(ctx)
	if err != nil {
		return v, err
	}
	c.Put(ctx, key, v, ttl)
	return v, nil
}

// Get returns the decoded value under key. Read and decode failures are
// logged and reported as a miss.
func Get[T any](ctx context.Context, c *Coordinator, key string) (T, bool) {
	return lookup[T](ctx, c, key)
}

func lookup[T any](ctx context.Context, c *Coordinator, key string) (T, bool) {
	var zero T
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Cache read failed, computing value", zap.String("key", key), zap.Error(err))
		return zero, false
	}
	if !ok {
		c.logger.Debug("Cache miss", zap.String("key", key))
		return zero, false
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Warn("Dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		_ = c.store.Evict(ctx, key)
		return zero, false
	}
	c.logger.Debug("Cache hit", zap.String("key", key))
	return v, true
}

// Put serialises v as JSON and stores it. Failures are logged.
func (c *Coordinator) Put(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("Failed to encode cache value", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.PutWithTTL(ctx, key, data, ttl); err != nil {
		c.logger.Warn("Failed to write cache entry", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate evicts each key. A key ending in "*" evicts by prefix.
// Failures are logged and the remaining keys are still evicted.
func (c *Coordinator) Invalidate(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if prefix, ok := strings.CutSuffix(key, "*"); ok {
			n, err := c.store.EvictPrefix(ctx, prefix)
			if err != nil {
				c.logger.Warn("Failed to evict cache prefix", zap.String("prefix", prefix), zap.Error(err))
				continue
			}
			c.logger.Debug("Evicted cache prefix", zap.String("prefix", prefix), zap.Int64("count", n))
			continue
		}
		if err := c.store.Evict(ctx, key); err != nil {
			c.logger.Warn("Failed to evict cache key", zap.String("key", key), zap.Error(err))
		}
	}
}

// WarmTask recomputes one cache entry.
type WarmTask struct {
	Key     string
	TTL     time.Duration
	Compute func(ctx context.Context) (any, error)
	// Stored means Compute writes the entry itself; Warm only counts it.
	Stored bool
}

// WarmSummary reports the outcome of a Warm call.
type WarmSummary struct {
	Attempted int
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// Warm recomputes and stores every task through a bounded pool. A failing
// task is logged and the batch continues. Tasks run with a context that is
// not cancelled together with ctx, so a batch always completes.
func (c *Coordinator) Warm(ctx context.Context, tasks []WarmTask) WarmSummary {
	start := time.Now()
	results := make([]bool, len(tasks))
	taskCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(c.warmConcurrency)
	for i, task := range tasks {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("Panic while warming cache", zap.String("key", task.Key), zap.Any("panic", r))
				}
			}()
			v, err := task.Compute(taskCtx)
			if err != nil {
				c.logger.Warn("Cache warm task failed", zap.String("key", task.Key), zap.Error(err))
				return nil
			}
			if !task.Stored {
				c.Put(taskCtx, task.Key, v, task.TTL)
			}
			results[i] = true
			return nil
		})
	}
	_ = g.Wait()

	summary := WarmSummary{Attempted: len(tasks), Duration: time.Since(start)}
	for _, ok := range results {
		if ok {
			summary.Succeeded++
		}
	}
	summary.Failed = summary.Attempted - summary.Succeeded

	c.logger.Info("Cache warm-up finished",
		zap.Int("attempted", summary.Attempted),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.Duration))
	return summary
}

// Store returns the underlying store
func (c *Coordinator) Store() Store {
	return c.store
}
