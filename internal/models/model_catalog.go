package models

import (
	"sort"
	"strings"
	"sync"
)

// ModelCatalogEntry is one row of the discoverable model listing surfaced
// to clients (a flatter shape than the capability-rich Model).
type ModelCatalogEntry struct {
	Id        string `json:"id"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	Reasoning bool   `json:"reasoning,omitempty"`
}

// ModelDiscoverer supplies catalog entries from a live source (a provider's
// model-listing API). When absent, the common presets serve as the listing.
type ModelDiscoverer interface {
	DiscoverModels() ([]ModelCatalogEntry, error)
}

// ModelCatalog caches a discovered model listing. Loads are serialized so
// concurrent callers trigger a single discovery; errors and empty results
// are never cached, so the next call retries.
type ModelCatalog struct {
	mu             sync.Mutex
	discoverer     ModelDiscoverer
	entries        []ModelCatalogEntry
	cached         bool
	logger         func(format string, args ...interface{})
	hasLoggedError bool
}

// NewModelCatalog creates a catalog backed by the common presets.
func NewModelCatalog() *ModelCatalog {
	return &ModelCatalog{}
}

// NewModelCatalogWithDiscoverer creates a catalog backed by a live source.
func NewModelCatalogWithDiscoverer(d ModelDiscoverer) *ModelCatalog {
	return &ModelCatalog{discoverer: d}
}

// SetDiscoverer replaces the discovery source.
func (c *ModelCatalog) SetDiscoverer(d ModelDiscoverer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discoverer = d
}

// SetLogger installs a printf-style logger for discovery failures. Only the
// first failure is logged until the cache is reset.
func (c *ModelCatalog) SetLogger(logger func(format string, args ...interface{})) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
}

// LoadCatalog returns the model listing. With useCache, a previous non-empty
// result is returned without re-discovery.
func (c *ModelCatalog) LoadCatalog(useCache bool) ([]ModelCatalogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if useCache && c.cached {
		return cloneEntries(c.entries), nil
	}

	var raw []ModelCatalogEntry
	var err error
	if c.discoverer != nil {
		raw, err = c.discoverer.DiscoverModels()
	} else {
		raw = GetCommonModelPresets()
	}
	if err != nil {
		if c.logger != nil && !c.hasLoggedError {
			c.logger("model discovery failed: %v", err)
			c.hasLoggedError = true
		}
		return nil, err
	}

	entries := validateEntries(raw)
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Provider != entries[j].Provider {
			return entries[i].Provider < entries[j].Provider
		}
		return entries[i].Name < entries[j].Name
	})

	// Empty listings are not cached; the next call tries again.
	if len(entries) > 0 {
		c.entries = entries
		c.cached = true
	}
	return cloneEntries(entries), nil
}

// IsCached reports whether a listing is cached.
func (c *ModelCatalog) IsCached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cached
}

// ResetCache drops the cached listing and re-arms error logging.
func (c *ModelCatalog) ResetCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.cached = false
	c.hasLoggedError = false
}

// GetModel returns the cached entry with the given id, or nil when the
// catalog is not loaded or the id is unknown.
func (c *ModelCatalog) GetModel(id string) *ModelCatalogEntry {
	id = strings.TrimSpace(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cached {
		return nil
	}
	for i := range c.entries {
		if c.entries[i].Id == id {
			entry := c.entries[i]
			return &entry
		}
	}
	return nil
}

// GetModelsByProvider returns cached entries for one provider
// (case-insensitive), or nil when the catalog is not loaded.
func (c *ModelCatalog) GetModelsByProvider(provider string) []ModelCatalogEntry {
	provider = strings.ToLower(strings.TrimSpace(provider))
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cached {
		return nil
	}
	var out []ModelCatalogEntry
	for _, entry := range c.entries {
		if strings.ToLower(entry.Provider) == provider {
			out = append(out, entry)
		}
	}
	return out
}

// ListAllModels returns the cached listing, or nil when not loaded.
func (c *ModelCatalog) ListAllModels() []ModelCatalogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cached {
		return nil
	}
	return cloneEntries(c.entries)
}

// validateEntries drops rows with no usable id or provider and defaults a
// missing name to the id.
func validateEntries(raw []ModelCatalogEntry) []ModelCatalogEntry {
	out := make([]ModelCatalogEntry, 0, len(raw))
	for _, entry := range raw {
		entry.Id = strings.TrimSpace(entry.Id)
		if entry.Id == "" || strings.TrimSpace(entry.Provider) == "" {
			continue
		}
		if entry.Name == "" {
			entry.Name = entry.Id
		}
		out = append(out, entry)
	}
	return out
}

func cloneEntries(entries []ModelCatalogEntry) []ModelCatalogEntry {
	out := make([]ModelCatalogEntry, len(entries))
	copy(out, entries)
	return out
}

// GetCommonModelPresets is the static fallback listing used when no live
// discoverer is configured.
func GetCommonModelPresets() []ModelCatalogEntry {
	return []ModelCatalogEntry{
		{Id: "claude-opus-4", Name: "Claude Opus 4", Provider: "anthropic"},
		{Id: "claude-3-5-sonnet-latest", Name: "Claude 3.5 Sonnet", Provider: "anthropic"},
		{Id: "claude-3-opus-20240229", Name: "Claude 3 Opus", Provider: "anthropic"},
		{Id: "gpt-4o", Name: "GPT-4o", Provider: "openai"},
		{Id: "gpt-4", Name: "GPT-4", Provider: "openai"},
		{Id: "o1", Name: "o1", Provider: "openai", Reasoning: true},
		{Id: "o3-mini", Name: "o3-mini", Provider: "openai", Reasoning: true},
		{Id: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", Provider: "google"},
		{Id: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", Provider: "google"},
	}
}
