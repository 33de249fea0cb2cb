// Package certcache is the concurrent, fingerprint-keyed store of
// known certificates. The Core applies diffs to it; the HTTP server
// and CLI only ever read snapshots from it.
package certcache

import (
	"sort"
	"sync"
	"time"

	"github.com/doomsday-project/doomsday/internal/doomsdaytypes"
)

const expiringSoonWindow = 30 * 24 * time.Hour

// Cache is a mapping from fingerprintSHA1 to CacheEntry, safe for
// concurrent readers and writers.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]doomsdaytypes.CacheEntry
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]doomsdaytypes.CacheEntry)}
}

// Get looks up a single entry by fingerprint.
func (c *Cache) Get(fingerprint string) (doomsdaytypes.CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[fingerprint]
	return entry, ok
}

// List returns every entry as a CacheItem, sorted ascending by
// notAfter.
func (c *Cache) List() []doomsdaytypes.CacheItem {
	return c.ListFiltered(nil)
}

// ListFiltered is equivalent to List then filtering by pred; a nil
// pred keeps everything. Ordering is preserved.
func (c *Cache) ListFiltered(pred func(doomsdaytypes.CacheEntry) bool) []doomsdaytypes.CacheItem {
	c.mu.RLock()
	snapshot := make([]doomsdaytypes.CacheEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		snapshot = append(snapshot, entry)
	}
	c.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].NotAfter.Before(snapshot[j].NotAfter)
	})

	items := make([]doomsdaytypes.CacheItem, 0, len(snapshot))
	for _, entry := range snapshot {
		if pred != nil && !pred(entry) {
			continue
		}
		items = append(items, doomsdaytypes.CacheItem{
			Subject:  entry.Subject,
			NotAfter: entry.NotAfter,
			Paths:    entry.Paths,
		})
	}
	return items
}

// ApplyDiff removes every fingerprint in diff.Removed, then upserts
// every entry in diff.Added. The whole operation holds the write lock
// for its duration, so a concurrent List sees the pre- or post-diff
// state, never a partial one. Concurrent ApplyDiff calls are
// serialized by that same lock, in arrival order.
func (c *Cache) ApplyDiff(diff doomsdaytypes.CacheDiff) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, fp := range diff.Removed {
		delete(c.entries, fp)
	}
	for fp, entry := range diff.Added {
		c.entries[fp] = entry
	}
}

// EntriesForBackend returns the current entries that have at least
// one PathRef for the given backend, keyed by fingerprint. Used by a
// scoped refresh to determine which entries might need removal.
func (c *Cache) EntriesForBackend(backend string) map[string]doomsdaytypes.CacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]doomsdaytypes.CacheEntry)
	for fp, entry := range c.entries {
		for _, p := range entry.Paths {
			if p.Backend == backend {
				out[fp] = entry
				break
			}
		}
	}
	return out
}

// Stats summarizes the cache relative to now.
func (c *Cache) Stats(now time.Time) doomsdaytypes.CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := doomsdaytypes.CacheStats{Total: len(c.entries)}
	for _, entry := range c.entries {
		remaining := entry.NotAfter.Sub(now)
		switch {
		case remaining < 0:
			stats.Expired++
		case remaining <= expiringSoonWindow:
			stats.ExpiringSoon++
		default:
			stats.OK++
		}
	}
	return stats
}
