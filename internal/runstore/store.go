// Package runstore persists run, lane, and stage lifecycle events so past
// runs can be inspected after the process exits.
package runstore

import (
	"context"
	"time"
)

// Store defines the interface for persisting and retrieving run events.
type Store interface {
	// Append adds a new event to the store.
	Append(ctx context.Context, runID, eventType string, payload []byte, metadata map[string]string) error

	// GetByRunID retrieves all events for a specific run, in append order.
	GetByRunID(ctx context.Context, runID string) ([]Event, error)

	// RecentRuns returns the ids of the most recent runs, newest first.
	RecentRuns(ctx context.Context, limit int) ([]string, error)

	// Close closes the store and releases resources.
	Close() error
}

// Event is one persisted lifecycle event.
type Event struct {
	ID        int64
	RunID     string
	Type      string
	Timestamp time.Time
	Payload   []byte
	Metadata  map[string]string
}
