package domain

import "github.com/google/uuid"

type EventKind string

const (
	EventCreated  EventKind = "created"
	EventUpdated  EventKind = "updated"
	EventDeleted  EventKind = "deleted"
	EventAssigned EventKind = "assigned"
	EventRevoked  EventKind = "revoked"
)

// Event notifies that a mutation has been committed.
type Event struct {
	Kind   EventKind
	Entity string
	ID     uuid.UUID
}

// EventSink receives events after the transaction which caused them
// has committed. Emit must not block the store; failures are the
// sink's own business.
type EventSink interface {
	Emit(Event)
}

type nullSink struct{}

func (nullSink) Emit(Event) {}

// NullSink discards all events.
func NullSink() EventSink {
	return nullSink{}
}
