// Package store provides the durable conversation event archive.
package store

import (
	"context"

	"github.com/ashureev/shopilots-chat/internal/domain"
)

// DefaultListLimit caps ListEvents when no limit is given.
const DefaultListLimit = 100

// EventFilter selects archived events. An empty SessionID matches all sessions.
type EventFilter struct {
	SessionID string
	Limit     int
}

// EventStore persists conversation events so they outlive the analytics
// ring buffer and process restarts.
type EventStore interface {
	// SaveEvent appends one event to the archive.
	SaveEvent(ctx context.Context, ev domain.ConversationEvent) error

	// ListEvents returns the newest matching events, oldest first.
	ListEvents(ctx context.Context, filter EventFilter) ([]domain.ConversationEvent, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
