package endpoint

import (
	"errors"
	"fmt"
)

// ErrNoEndpoints is returned when a registry is constructed with an
// empty endpoint list.
var ErrNoEndpoints = errors.New("endpoint list is empty")

// Spec is the configuration for one registry entry.
type Spec struct {
	URL    string
	Weight int
	Paths  []string
}

// Registry holds the process-lifetime set of endpoints. Indices are
// stable: the endpoint at index i never changes, only its health flag
// does. There is no dynamic add or remove.
type Registry struct {
	endpoints []*Endpoint
	pinned    map[string]int
}

// NewRegistry builds a registry from endpoint specs. It fails on an
// empty list, a non-positive weight, an unparsable URL, or a pinned
// path claimed by more than one endpoint.
func NewRegistry(specs []Spec) (*Registry, error) {
	if len(specs) == 0 {
		return nil, ErrNoEndpoints
	}

	endpoints := make([]*Endpoint, 0, len(specs))
	pinned := make(map[string]int)

	for i, spec := range specs {
		if spec.Weight < 1 {
			return nil, fmt.Errorf("endpoint %q: weight must be at least 1, got %d", spec.URL, spec.Weight)
		}

		ep, err := newEndpoint(spec.URL, spec.Weight, spec.Paths)
		if err != nil {
			return nil, fmt.Errorf("endpoint %q: %w", spec.URL, err)
		}

		for _, p := range spec.Paths {
			if prev, ok := pinned[p]; ok {
				return nil, fmt.Errorf("path %q pinned to both %q and %q", p, specs[prev].URL, spec.URL)
			}
			pinned[p] = i
		}

		endpoints = append(endpoints, ep)
	}

	return &Registry{endpoints: endpoints, pinned: pinned}, nil
}

// All returns the ordered endpoint list.
func (r *Registry) All() []*Endpoint {
	return r.endpoints
}

// At returns the endpoint at index i.
func (r *Registry) At(i int) *Endpoint {
	return r.endpoints[i]
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	return len(r.endpoints)
}

// PinnedIndex returns the index of the endpoint a path is pinned to.
func (r *Registry) PinnedIndex(path string) (int, bool) {
	i, ok := r.pinned[path]
	return i, ok
}

// HealthSnapshot returns the current health flag of every endpoint,
// ordered by index.
func (r *Registry) HealthSnapshot() []bool {
	healthy := make([]bool, len(r.endpoints))
	for i, ep := range r.endpoints {
		healthy[i] = ep.IsHealthy()
	}
	return healthy
}

// Weights returns the configured weight of every endpoint, ordered by index.
func (r *Registry) Weights() []int {
	weights := make([]int, len(r.endpoints))
	for i, ep := range r.endpoints {
		weights[i] = ep.Weight()
	}
	return weights
}
