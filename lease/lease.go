// Package lease provides scoped, expiring claims on a key so that one source
// is never scraped by two workers at once.
package lease

import (
	"context"
	"errors"
	"strconv"
	"time"
)

var (
	// ErrHeld is returned by Acquire when another holder owns the key.
	ErrHeld = errors.New("lease held")
	// ErrNotHeld is returned by Release when the lease expired or was taken over.
	ErrNotHeld = errors.New("lease not held")
)

// Lease is a claim returned by Acquire. Extend and Release are safe to call
// once the lease has expired; they report ErrNotHeld in that case.
type Lease interface {
	Key() string
	// Extend resets the remaining lifetime to ttl.
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// SourceKey is the lease key for one source.
func SourceKey(sourceID int64) string {
	return "source:" + strconv.FormatInt(sourceID, 10)
}
