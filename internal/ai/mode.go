package ai

import "sync"

// Mode is the style of structured-output constraint requested from a
// provider, in decreasing order of strictness.
type Mode string

const (
	// ModeJSONSchema constrains the reply to a caller-supplied JSON schema.
	ModeJSONSchema Mode = "json_schema"
	// ModeJSONObject constrains the reply to any JSON object.
	ModeJSONObject Mode = "json_object"
	// ModeText requests plain text; the sanitizer recovers the structure.
	ModeText Mode = "text"
	// ModeNone sends no format constraint at all.
	ModeNone Mode = "none"
)

// ModeCache remembers the last response mode that succeeded per
// (provider, baseURL) so later calls skip straight to it. Safe for
// concurrent use and shareable across gateway instances.
type ModeCache struct {
	mu    sync.RWMutex
	modes map[string]Mode
}

// NewModeCache creates an empty cache.
func NewModeCache() *ModeCache {
	return &ModeCache{modes: make(map[string]Mode)}
}

func cacheKey(provider, baseURL string) string {
	return provider + "|" + baseURL
}

// Get returns the cached working mode for the provider endpoint, if any.
func (c *ModeCache) Get(provider, baseURL string) (Mode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modes[cacheKey(provider, baseURL)]
	return m, ok
}

// Put records a mode that just succeeded.
func (c *ModeCache) Put(provider, baseURL string, mode Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modes[cacheKey(provider, baseURL)] = mode
}
