package scheduling

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fieldline-inc/fieldline-engine/pkg/dataverse"
)

// availabilityCache memoizes search results for a short TTL. It only ever
// serves the read path: the booking chain always re-queries so a customer
// never books a slot the cache remembers but the org has since given away.
type availabilityCache struct {
	ttl     time.Duration
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	result  *SearchResult
	expires time.Time
}

func newAvailabilityCache(ttl time.Duration) *availabilityCache {
	return &availabilityCache{
		ttl:     ttl,
		entries: map[string]cacheEntry{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// cacheKey covers the full parameter tuple. The stored result is already
// truncated to the caller's slot cap, so the cap is part of the key: a
// wider search must never be served a narrower caller's leftovers.
func cacheKey(q AvailabilityQuery, maxSlots int) string {
	return strings.Join([]string{
		strings.ToLower(q.RequirementID),
		dataverse.FormatISO(q.WindowStart),
		dataverse.FormatISO(q.WindowEnd),
		q.Duration.String(),
		strconv.Itoa(maxSlots),
		strings.ToLower(q.OnlyResourceID),
	}, "|")
}

func (c *availabilityCache) get(q AvailabilityQuery, maxSlots int) (*SearchResult, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(q, maxSlots)
	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.result, true
}

func (c *availabilityCache) put(q AvailabilityQuery, maxSlots int, result *SearchResult) {
	if c.ttl <= 0 || result == nil || result.Status != "ok" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(q, maxSlots)] = cacheEntry{result: result, expires: c.now().Add(c.ttl)}
}
