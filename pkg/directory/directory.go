// Package directory replaces the module-level mutable globals (gPortsOrch,
// gNeighOrch, and similar C++ singletons the original orchagent relies on)
// with a single process-wide registry injected into constructors. Each
// orchestrator component registers the lookups it exposes to collaborators
// at construction time; nothing is package-level or implicitly global.
package directory

import (
	"fmt"
	"sync"
)

// Directory is a typed, concurrency-safe registry of named components.
// Components are registered once at daemon wiring time and looked up by
// collaborators that need cross-component state (e.g. the Interface manager
// asking the VLAN manager's view of SVI bindings).
type Directory struct {
	mu    sync.RWMutex
	items map[string]interface{}
}

// New creates an empty Directory.
func New() *Directory {
	return &Directory{items: make(map[string]interface{})}
}

// Register binds name to value. Registering the same name twice is a
// programming error and panics — it would silently hide which component
// actually owns a concern.
func (d *Directory) Register(name string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.items[name]; exists {
		panic(fmt.Sprintf("directory: %q already registered", name))
	}
	d.items[name] = value
}

// Lookup returns the value registered under name, or ok=false if nothing is
// registered there yet (e.g. a component that has not finished wiring).
func (d *Directory) Lookup(name string) (interface{}, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.items[name]
	return v, ok
}
