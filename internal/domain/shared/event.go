package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DomainEvent is a fact raised by an aggregate, dispatched in-process after
// the aggregate has been persisted.
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
	AggregateID() uuid.UUID
	TenantID() uuid.UUID
}

// EventHeader implements DomainEvent; concrete events embed it and add
// their payload fields.
type EventHeader struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Aggregate uuid.UUID `json:"aggregate_id"`
	Tenant    uuid.UUID `json:"tenant_id"`
}

// NewEventHeader stamps a new event of eventType raised by aggregateID.
func NewEventHeader(eventType string, aggregateID, tenantID uuid.UUID) EventHeader {
	return EventHeader{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now(),
		Aggregate: aggregateID,
		Tenant:    tenantID,
	}
}

func (e *EventHeader) EventID() uuid.UUID     { return e.ID }
func (e *EventHeader) EventType() string      { return e.Type }
func (e *EventHeader) OccurredAt() time.Time  { return e.Timestamp }
func (e *EventHeader) AggregateID() uuid.UUID { return e.Aggregate }
func (e *EventHeader) TenantID() uuid.UUID    { return e.Tenant }

// EventHandler reacts to domain events. An empty EventTypes result
// subscribes the handler to every type.
type EventHandler interface {
	Handle(ctx context.Context, event DomainEvent) error
	EventTypes() []string
}

// EventPublisher publishes domain events
type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// EventBus is the publisher side plus handler registration and lifecycle.
type EventBus interface {
	EventPublisher
	Subscribe(handler EventHandler, eventTypes ...string)
	Unsubscribe(handler EventHandler)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
