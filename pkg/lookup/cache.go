package lookup

import (
	"sync"
	"time"

	"github.com/rdehuyss/oxalis/pkg/identifier"
)

// cacheKey compares document type and process by URI so that an acronym
// and its raw identifier share an entry.
type cacheKey struct {
	participant  identifier.ParticipantIdentifier
	documentType string
	process      string
}

func newCacheKey(participant identifier.ParticipantIdentifier, documentType identifier.DocumentTypeIdentifier, process identifier.ProcessIdentifier) cacheKey {
	return cacheKey{
		participant:  participant,
		documentType: documentType.URI(),
		process:      process.URI(),
	}
}

type cacheEntry struct {
	endpoint  *EndpointData
	expiresAt time.Time
}

// endpointCache is a bounded TTL map. Reads take the read lock only; expired
// entries are dropped when a write needs room.
type endpointCache struct {
	mu         sync.RWMutex
	entries    map[cacheKey]cacheEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func newEndpointCache(ttl time.Duration, maxEntries int, now func() time.Time) *endpointCache {
	return &endpointCache{
		entries:    make(map[cacheKey]cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        now,
	}
}

func (c *endpointCache) get(key cacheKey) (*EndpointData, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.endpoint, true
}

// set stores endpoint and returns the number of entries evicted to make room.
func (c *endpointCache) set(key cacheKey, endpoint *EndpointData) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		evicted = c.makeRoomLocked()
	}
	c.entries[key] = cacheEntry{endpoint: endpoint, expiresAt: c.now().Add(c.ttl)}
	return evicted
}

// makeRoomLocked drops expired entries, or the entry closest to expiry when
// none has expired.
func (c *endpointCache) makeRoomLocked() int {
	now := c.now()
	evicted := 0

	var (
		oldestKey cacheKey
		oldestAt  time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			evicted++
			continue
		}
		if !found || e.expiresAt.Before(oldestAt) {
			oldestKey, oldestAt, found = k, e.expiresAt, true
		}
	}
	if evicted == 0 && found {
		delete(c.entries, oldestKey)
		evicted++
	}
	return evicted
}

func (c *endpointCache) delete(key cacheKey) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *endpointCache) deleteParticipant(participant identifier.ParticipantIdentifier) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.entries {
		if k.participant == participant {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *endpointCache) purge() {
	c.mu.Lock()
	c.entries = make(map[cacheKey]cacheEntry)
	c.mu.Unlock()
}

func (c *endpointCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
