package syncrun

import (
	"sync"

	"github.com/samber/lo"
)

// Registry holds the configured connectors keyed by platform. An unresolved
// lookup is a configuration error, never a silent no-op.
type Registry struct {
	mu         sync.RWMutex
	connectors map[Platform]Connector
}

func NewRegistry() *Registry {
	return &Registry{
		connectors: map[Platform]Connector{},
	}
}

// Register adds a connector. Registering the same platform twice is a
// configuration error.
func (r *Registry) Register(connector Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.connectors[connector.Platform()]; ok {
		return NewSyncError(ErrCodeConfig, "connector for platform '%v' has already been registered", connector.Platform())
	}
	r.connectors[connector.Platform()] = connector
	return nil
}

// Unregister removes a connector.
func (r *Registry) Unregister(connector Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connectors, connector.Platform())
}

// Lookup resolves the connector for a platform.
func (r *Registry) Lookup(platform Platform) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connector, ok := r.connectors[platform]
	return connector, ok
}

// All returns the registered connectors.
func (r *Registry) All() []Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.connectors)
}
