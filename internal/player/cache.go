// internal/player/cache.go
package player

import "sync"

// Location records where a selector resolved during the current run.
type Location int

const (
	LocUnknown Location = iota
	LocMain
	LocFrame
)

func (l Location) String() string {
	switch l {
	case LocMain:
		return "main"
	case LocFrame:
		return "frame"
	}
	return "unknown"
}

// ElementCache remembers where selectors last resolved during one run so
// later lookups go straight to that document. Only hits are kept: a miss
// forgets the selector, since elements that were still rendering must be
// searched again on retry. It is owned by a single Player and reset whenever
// the page navigates.
type ElementCache struct {
	mu      sync.Mutex
	entries map[string]Location
	hits    int
}

// NewElementCache creates an empty cache.
func NewElementCache() *ElementCache {
	return &ElementCache{entries: make(map[string]Location)}
}

// Get returns the known location of selector.
func (c *ElementCache) Get(selector string) Location {
	c.mu.Lock()
	defer c.mu.Unlock()
	loc, ok := c.entries[selector]
	if ok {
		c.hits++
	}
	return loc
}

// Set records the location of selector.
func (c *ElementCache) Set(selector string, loc Location) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[selector] = loc
}

// Forget drops what is known about selector.
func (c *ElementCache) Forget(selector string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, selector)
}

// Reset forgets everything.
func (c *ElementCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Location)
}

// Hits returns how many lookups were answered from the cache.
func (c *ElementCache) Hits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}
