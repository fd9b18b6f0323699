package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryDedup remembers signatures for a time-to-live window. It is safe for
// concurrent use. Expired entries are swept lazily, at most once per TTL.
type MemoryDedup struct {
	cache *ttlcache.Cache[string, struct{}]
	ttl   time.Duration

	mu        sync.Mutex
	lastSweep time.Time
}

// NewMemoryDedup creates a MemoryDedup that treats a key as a duplicate if it
// was first seen less than ttl ago.
func NewMemoryDedup(ttl time.Duration) *MemoryDedup {
	return &MemoryDedup{
		cache: ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](ttl),
			// A redelivery must not extend the window of the first sighting.
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		),
		ttl: ttl,
	}
}

// FirstSeen records key and reports whether it was unseen within the TTL.
func (d *MemoryDedup) FirstSeen(_ context.Context, key string) (bool, error) {
	d.sweep()
	_, seen := d.cache.GetOrSet(key, struct{}{})
	return !seen, nil
}

// Len returns the number of remembered keys.
func (d *MemoryDedup) Len() int {
	return d.cache.Len()
}

func (d *MemoryDedup) sweep() {
	d.mu.Lock()
	due := time.Since(d.lastSweep) >= d.ttl
	if due {
		d.lastSweep = time.Now()
	}
	d.mu.Unlock()
	if due {
		d.cache.DeleteExpired()
	}
}
