package event

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xammer/billops/internal/domain/shared"
	"github.com/xammer/billops/internal/infrastructure/cache"
)

// DefaultDedupTTL is how long a handled event is remembered.
const DefaultDedupTTL = 7 * 24 * time.Hour

// DedupHandler wraps a handler so that one event type is handled at most
// once per aggregate while the marker lives in the store. It is best
// effort: a store failure lets the event through.
type DedupHandler struct {
	handler shared.EventHandler
	store   cache.Store
	ttl     time.Duration
	logger  *zap.Logger
}

// NewDedupHandler wraps handler with a marker kept in store for ttl
// (DefaultDedupTTL when zero).
func NewDedupHandler(handler shared.EventHandler, store cache.Store, ttl time.Duration, logger *zap.Logger) *DedupHandler {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DedupHandler{handler: handler, store: store, ttl: ttl, logger: logger}
}

// EventTypes returns the wrapped handler's event types
func (h *DedupHandler) EventTypes() []string {
	return h.handler.EventTypes()
}

// Handle runs the wrapped handler unless the aggregate was already handled.
// The marker is written only after success so a failed event can be retried.
func (h *DedupHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	key := cache.ProcessedEventKey(event.TenantID(), event.EventType(), event.AggregateID())

	_, seen, err := h.store.Get(ctx, key)
	if err != nil {
		h.logger.Warn("dedup lookup failed, handling anyway",
			zap.String("event_type", event.EventType()),
			zap.String("aggregate_id", event.AggregateID().String()),
			zap.Error(err),
		)
	} else if seen {
		h.logger.Debug("duplicate event skipped",
			zap.String("event_type", event.EventType()),
			zap.String("aggregate_id", event.AggregateID().String()),
		)
		return nil
	}

	if err := h.handler.Handle(ctx, event); err != nil {
		return err
	}

	if err := h.store.PutWithTTL(ctx, key, []byte(event.EventID().String()), h.ttl); err != nil {
		h.logger.Warn("failed to record handled event",
			zap.String("event_type", event.EventType()),
			zap.Error(err),
		)
	}
	return nil
}

var _ shared.EventHandler = (*DedupHandler)(nil)
