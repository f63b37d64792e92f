package dispatch

import (
	"github.com/aphrodite-engine/aphrodite-loadbalancer/internal/endpoint"
	"github.com/aphrodite-engine/aphrodite-loadbalancer/internal/selection"
)

// CompletionPath is the request path served by the dedicated completion
// cursor, keeping token-streaming traffic balanced independently of
// everything else.
const CompletionPath = "/v1/completions"

// Resolver decides which endpoint receives a request.
type Resolver struct {
	registry *endpoint.Registry
	selector *selection.Selector
}

func New(registry *endpoint.Registry, selector *selection.Selector) *Resolver {
	return &Resolver{
		registry: registry,
		selector: selector,
	}
}

// Resolve returns the index of the endpoint that should serve the given
// request path. A healthy pinned endpoint wins without consuming a
// cursor slot; an unhealthy pinned endpoint falls back to normal cursor
// selection, so a pinned completion path falls back to the completion
// cursor. Always yields an index: the registry is non-empty by
// construction and the selector degrades to uniform routing when every
// endpoint is down.
func (r *Resolver) Resolve(path string) int {
	if i, ok := r.registry.PinnedIndex(path); ok && r.registry.At(i).IsHealthy() {
		return i
	}

	if path == CompletionPath {
		return r.selector.Next(selection.Completion)
	}

	return r.selector.Next(selection.General)
}
