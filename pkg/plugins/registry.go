// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package plugins

import (
	"fmt"
	"strings"
	"sync"
)

// Registry holds the registered plugins of every family. It is an explicit
// handle passed through the call graph rather than a process singleton, so
// concurrent builds can scope registrations independently.
type Registry struct {
	mu          sync.RWMutex
	lock        map[string]LockPlugin
	storage     map[string]StoragePlugin
	traitConfig map[string]TraitConfigPlugin

	// parent, when set, is consulted after local lookups miss. Child
	// registries let a task register plugins without touching shared state;
	// a local registration shadows the parent's under the same name.
	parent *Registry
}

// Child returns an empty registry falling back to r on lookup misses.
func (r *Registry) Child() *Registry {
	child := NewRegistry()
	child.parent = r
	return child
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		lock:        map[string]LockPlugin{},
		storage:     map[string]StoragePlugin{},
		traitConfig: map[string]TraitConfigPlugin{},
	}
}

// Register sorts the plugin into every family it implements. A name already
// registered in any of those families is rejected.
func (r *Registry) Register(plugin Plugin) error {
	name := strings.ToLower(plugin.Name())
	if name == "" {
		return fmt.Errorf("plugin name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	families := 0
	if p, ok := plugin.(LockPlugin); ok {
		if _, exists := r.lock[name]; exists {
			return fmt.Errorf("lock plugin %q is already registered", name)
		}
		r.lock[name] = p
		families++
	}
	if p, ok := plugin.(StoragePlugin); ok {
		if _, exists := r.storage[name]; exists {
			return fmt.Errorf("storage plugin %q is already registered", name)
		}
		r.storage[name] = p
		families++
	}
	if p, ok := plugin.(TraitConfigPlugin); ok {
		if _, exists := r.traitConfig[name]; exists {
			return fmt.Errorf("trait-config plugin %q is already registered", name)
		}
		r.traitConfig[name] = p
		families++
	}

	if families == 0 {
		return fmt.Errorf("plugin %q implements no known plugin family", name)
	}
	return nil
}

// Unregister removes the named plugin from every family. Unknown names are
// a no-op so scoped teardown is safe on all exit paths.
func (r *Registry) Unregister(name string) {
	name = strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lock, name)
	delete(r.storage, name)
	delete(r.traitConfig, name)
}

// LockPlugin looks a lock plugin up by name, case-insensitively.
func (r *Registry) LockPlugin(name string) (LockPlugin, error) {
	r.mu.RLock()
	p, ok := r.lock[strings.ToLower(name)]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}
	if r.parent != nil {
		return r.parent.LockPlugin(name)
	}
	return nil, &PluginNotFoundError{Kind: "lock", Name: name, Available: r.LockPluginNames()}
}

// StoragePlugin looks a storage plugin up by name, case-insensitively.
func (r *Registry) StoragePlugin(name string) (StoragePlugin, error) {
	r.mu.RLock()
	p, ok := r.storage[strings.ToLower(name)]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}
	if r.parent != nil {
		return r.parent.StoragePlugin(name)
	}
	return nil, &PluginNotFoundError{Kind: "storage", Name: name, Available: r.StoragePluginNames()}
}

// TraitConfigPlugin looks a trait-config plugin up by name.
func (r *Registry) TraitConfigPlugin(name string) (TraitConfigPlugin, error) {
	r.mu.RLock()
	p, ok := r.traitConfig[strings.ToLower(name)]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}
	if r.parent != nil {
		return r.parent.TraitConfigPlugin(name)
	}
	return nil, &PluginNotFoundError{Kind: "trait-config", Name: name, Available: keys(r.traitConfig)}
}

// LockPluginNames returns the registered lock plugin names, including the
// parent chain's.
func (r *Registry) LockPluginNames() []string {
	r.mu.RLock()
	names := keys(r.lock)
	r.mu.RUnlock()
	if r.parent != nil {
		names = append(names, r.parent.LockPluginNames()...)
	}
	return names
}

// StoragePluginNames returns the registered storage plugin names, including
// the parent chain's.
func (r *Registry) StoragePluginNames() []string {
	r.mu.RLock()
	names := keys(r.storage)
	r.mu.RUnlock()
	if r.parent != nil {
		names = append(names, r.parent.StoragePluginNames()...)
	}
	return names
}

func keys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Scoped registers plugins for the dynamic extent of a task and returns the
// release function undoing the registrations. Release runs exactly once and
// is safe to defer on all exit paths.
func (r *Registry) Scoped(ps ...Plugin) (release func(), err error) {
	registered := make([]string, 0, len(ps))
	cleanup := func() {
		for _, name := range registered {
			r.Unregister(name)
		}
	}

	for _, p := range ps {
		if err := r.Register(p); err != nil {
			cleanup()
			return nil, err
		}
		registered = append(registered, p.Name())
	}

	var once sync.Once
	return func() { once.Do(cleanup) }, nil
}
