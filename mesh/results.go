package mesh

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DefaultResultsCachePath is the default path for the registration results cache
const DefaultResultsCachePath = ".registration-cache.json"

// ResultCache persists the latest result of every named registration
type ResultCache struct {
	Results     map[string]AlignmentResult `json:"results"`
	LastUpdated int64                      `json:"lastUpdated"`
}

// NewResultCache returns an empty cache
func NewResultCache() *ResultCache {
	return &ResultCache{Results: make(map[string]AlignmentResult)}
}

// LoadResults loads the results cache from a JSON file.
// A missing file is not an error and yields nil.
func LoadResults(path string) (*ResultCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // Nothing cached yet
		}
		return nil, fmt.Errorf("reading results file: %w", err)
	}

	var cache ResultCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("parsing results file: %w", err)
	}
	if cache.Results == nil {
		cache.Results = make(map[string]AlignmentResult)
	}

	return &cache, nil
}

// SaveResults writes the cache to a JSON file, creating parent directories
func SaveResults(path string, cache *ResultCache) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating results directory: %w", err)
	}

	cache.LastUpdated = time.Now().Unix()

	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling results: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing results file: %w", err)
	}

	return nil
}

// Put stores result under name, replacing any earlier result
func (c *ResultCache) Put(name string, result AlignmentResult) {
	if c.Results == nil {
		c.Results = make(map[string]AlignmentResult)
	}
	result.Name = name
	if result.Timestamp == 0 {
		result.Timestamp = time.Now().Unix()
	}
	c.Results[name] = result
}

// GetTransform returns the cached transform for name.
// Returns identity if not found.
func (c *ResultCache) GetTransform(name string) Transform {
	if c == nil || c.Results == nil {
		return IdentityTransform()
	}
	if r, ok := c.Results[name]; ok {
		return r.Transform
	}
	return IdentityTransform()
}

// Names returns the cached registration names in sorted order
func (c *ResultCache) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Results))
	for name := range c.Results {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NeedsRefresh reports whether the cache is missing or older than maxAge
func (c *ResultCache) NeedsRefresh(maxAge time.Duration) bool {
	if c == nil || c.LastUpdated == 0 {
		return true
	}
	return time.Since(time.Unix(c.LastUpdated, 0)) > maxAge
}
