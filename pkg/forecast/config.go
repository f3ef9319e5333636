package forecast

import (
	"fmt"
	"sync"
)

// Configured sets up the price provider map based on flags.
func Configured() *Map {
	m := NewMap()
	m.SetProvider("pse_rce", configuredPSE())
	return m
}

// Map manages multiple price providers.
type Map struct {
	mu        sync.Mutex
	providers map[string]PriceProvider
}

// NewMap creates a new provider Map.
func NewMap() *Map {
	return &Map{
		providers: make(map[string]PriceProvider),
	}
}

// Provider returns the provider for the given name.
func (m *Map) Provider(name string) (PriceProvider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prov, ok := m.providers[name]; ok {
		return prov, nil
	}
	return nil, fmt.Errorf("unknown price provider: %s", name)
}

// SetProvider sets the provider for the given name. This is primarily used
// for testing.
func (m *Map) SetProvider(name string, provider PriceProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[name] = provider
}
