package payment

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps payment method names to their gateways
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

// NewRegistry creates a registry holding the given gateways
func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, g := range gateways {
		r.Register(g)
	}
	return r
}

// Register adds or replaces the gateway for g.Method()
func (r *Registry) Register(g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[g.Method()] = g
}

// Get returns the gateway for method
func (r *Registry) Get(method string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[method]
	if !ok {
		return nil, fmt.Errorf("unsupported payment method %q", method)
	}
	return g, nil
}

// Methods lists registered method names in sorted order
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	methods := make([]string, 0, len(r.gateways))
	for m := range r.gateways {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}
