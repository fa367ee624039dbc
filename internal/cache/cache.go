// Package cache stores derived entitlement snapshots per user.
package cache

import (
	"context"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
)

// Entry is a cached entitlement and the time it was stored.
type Entry struct {
	Entitlement domain.Entitlement `json:"entitlement"`
	StoredAt    time.Time          `json:"storedAt"`
}

// Fresh reports whether e is younger than ttl at now.
func (e *Entry) Fresh(ttl time.Duration, now time.Time) bool {
	return now.Sub(e.StoredAt) < ttl
}

// Cache is the resolver's per-user store. Entries outlive their freshness TTL
// so the last known value can be served when recomputation fails; Invalidate
// removes them entirely. Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the entry for userID, or nil on a miss.
	Get(ctx context.Context, userID string) (*Entry, error)
	Set(ctx context.Context, userID string, ent domain.Entitlement) error
	Invalidate(ctx context.Context, userID string) error
}
