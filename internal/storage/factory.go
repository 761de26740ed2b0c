// factory.go implements the workspace backend registry, mapping backend names
// (local, s3, gcs, azure) to constructor functions.
package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/opsconsole/opsconsole/internal/config"
)

// FactoryFunc creates a workspace backend from configuration.
type FactoryFunc func(*config.Config) (Workspace, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]FactoryFunc)
)

// Register registers a workspace backend factory
func Register(name string, factory FactoryFunc) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// Backends returns the registered backend names in sorted order.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewWorkspace creates the backend selected by cfg.Workspace.Backend.
func NewWorkspace(cfg *config.Config) (Workspace, error) {
	factoriesMu.RLock()
	factory, ok := factories[cfg.Workspace.Backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported workspace backend: %s (registered: %v)", cfg.Workspace.Backend, Backends())
	}

	return factory(cfg)
}
