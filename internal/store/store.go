// Package store persists the client-local session cache.
package store

import (
	"context"
	"errors"

	"github.com/zhouzirui/storyline/internal/model/session"
)

// SessionKey is the fixed key the live session is cached under.
const SessionKey = "storyline.session"

// ErrCorruptRecord is returned when a cached value cannot be decoded.
var ErrCorruptRecord = errors.New("corrupt session record")

// Repository defines the client-local key-value cache for the live session.
type Repository interface {
	// LoadSession returns the cached snapshot, or nil when nothing is cached.
	LoadSession(ctx context.Context) (*session.Snapshot, error)

	// SaveSession replaces the cached snapshot.
	SaveSession(ctx context.Context, snap session.Snapshot) error

	// ClearSession removes the cached snapshot. Clearing an empty cache is not an error.
	ClearSession(ctx context.Context) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing store.
	Close() error
}
