package utils

import (
	"sync"
	"time"
)

// DefaultStructureTTL bounds how stale a cached course structure may be.
const DefaultStructureTTL = 15 * time.Minute

type cachedStructure struct {
	structure *CourseStructure
	fetchedAt time.Time
}

// CourseStructureCache caches course structures per course id with a
// bounded TTL. Constructed once per process and passed by reference;
// the clock is injected so tests control expiry.
type CourseStructureCache struct {
	mu      sync.Mutex
	entries map[string]cachedStructure
	ttl     time.Duration
	now     func() time.Time
}

func NewCourseStructureCache(ttl time.Duration, now func() time.Time) *CourseStructureCache {
	if ttl <= 0 {
		ttl = DefaultStructureTTL
	}
	if now == nil {
		now = time.Now
	}
	return &CourseStructureCache{
		entries: make(map[string]cachedStructure),
		ttl:     ttl,
		now:     now,
	}
}

// Get returns the cached structure for courseID, calling fetch on a
// miss or expired entry. Fetch errors are not cached.
func (c *CourseStructureCache) Get(courseID string, fetch func(string) (*CourseStructure, error)) (*CourseStructure, error) {
	c.mu.Lock()
	entry, ok := c.entries[courseID]
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return entry.structure, nil
	}
	c.mu.Unlock()

	structure, err := fetch(courseID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[courseID] = cachedStructure{structure: structure, fetchedAt: c.now()}
	c.mu.Unlock()
	return structure, nil
}
