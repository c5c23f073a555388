package provider

import "fmt"

// Registry is a table lookup from a payment's provider key to the adapter
// instance that handles it, built once at startup.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds an empty registry; callers register adapters with
// Register before handing the registry to the poller.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its provider key.
func (r *Registry) Register(providerKey string, a Adapter) {
	r.adapters[providerKey] = a
}

// Get resolves the adapter for a provider key. Callers (the poller) treat a
// missing adapter as a defensive "skip this payment" case. The selection
// query already excludes providers outside the configured whitelist, so
// this should only trigger on operator misconfiguration.
func (r *Registry) Get(providerKey string) (Adapter, error) {
	a, ok := r.adapters[providerKey]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %q", providerKey)
	}
	return a, nil
}

// Providers returns the registered provider keys in no particular order;
// callers needing the polling whitelist should consult config instead.
func (r *Registry) Providers() []string {
	out := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		out = append(out, k)
	}
	return out
}
