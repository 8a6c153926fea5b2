// Package cache provides the advisory key-value layer used for vote markers and result
// snapshots.
//
// Every implementation fails open: a lookup against an unreachable backend reports a miss,
// and writes or deletes against it are dropped after being logged. No method returns an
// error to its caller and none of them panic on a nil receiver.
package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Cache is the contract consumed by the poll services.
type Cache interface {
	// Get returns the stored value and true, or nil and false when the key is absent,
	// expired or the backend is unavailable.
	Get(ctx context.Context, key string) ([]byte, bool)
	// SetWithExpiry stores value under key for ttl. Failures are logged and dropped.
	SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration)
	// Delete removes key. Failures are logged and dropped.
	Delete(ctx context.Context, key string)
	// Close releases backend resources.
	Close() error
}

// FailureObserver is notified whenever a backend operation fails and is swallowed.
type FailureObserver func(operation string)

const (
	operationGet    = "get"
	operationSet    = "set"
	operationDelete = "delete"
)

var noOpLogger = zap.NewNop()

// Nop is a cache that stores nothing.
type Nop struct{}

// NewNop returns a cache that misses on every lookup.
func NewNop() Nop {
	return Nop{}
}

func (Nop) Get(context.Context, string) ([]byte, bool) {
	return nil, false
}

func (Nop) SetWithExpiry(context.Context, string, []byte, time.Duration) {}

func (Nop) Delete(context.Context, string) {}

func (Nop) Close() error {
	return nil
}

func cloneBytes(value []byte) []byte {
	if value == nil {
		return nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out
}
