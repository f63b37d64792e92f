package endpoint

import (
	"net/url"
	"strings"
	"sync"
)

// Endpoint represents one backend server: an immutable base URL, weight
// and pinned path set, plus a mutable health flag owned by the health
// monitor.
type Endpoint struct {
	url    *url.URL
	base   string
	weight int
	pinned map[string]struct{}

	mutex   sync.Mutex
	healthy bool
}

func newEndpoint(rawURL string, weight int, paths []string) (*Endpoint, error) {
	base := strings.TrimRight(rawURL, "/")

	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}

	pinned := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		pinned[p] = struct{}{}
	}

	return &Endpoint{
		url:     u,
		base:    base,
		weight:  weight,
		pinned:  pinned,
		healthy: true,
	}, nil
}

// URL returns the parsed base URL.
func (e *Endpoint) URL() *url.URL {
	return e.url
}

// Base returns the base URL string with trailing slashes stripped,
// ready for concatenation with a request path.
func (e *Endpoint) Base() string {
	return e.base
}

// Weight returns the endpoint's relative traffic share.
func (e *Endpoint) Weight() int {
	return e.weight
}

// PinnedPaths returns the literal request paths pinned to this endpoint.
func (e *Endpoint) PinnedPaths() []string {
	paths := make([]string, 0, len(e.pinned))
	for p := range e.pinned {
		paths = append(paths, p)
	}
	return paths
}

// IsHealthy returns true if the endpoint is currently healthy.
func (e *Endpoint) IsHealthy() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.healthy
}

// SetHealthy updates the endpoint's health status.
// Returns true if the status changed, false if it was already in that state.
func (e *Endpoint) SetHealthy(healthy bool) (changed bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.healthy == healthy {
		return false
	}

	e.healthy = healthy
	return true
}
