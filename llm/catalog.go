package llm

import (
	"io"
	"sort"
	"sync"
)

// Catalog maps provider names, as referenced by agent configs, to
// providers. It is safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{providers: make(map[string]Provider)}
}

// Register adds or replaces the provider under name.
func (c *Catalog) Register(name string, p Provider) {
	c.mu.Lock()
	c.providers[name] = p
	c.mu.Unlock()
}

// Lookup returns the provider registered under name.
func (c *Catalog) Lookup(name string) (Provider, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.providers[name]
	return p, ok
}

// Names returns the registered names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.providers))
	for name := range c.providers {
		names = append(names, name)
	}
	c.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Close releases providers that hold resources.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, p := range c.providers {
		if closer, ok := p.(io.Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
