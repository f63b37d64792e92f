package selection

import (
	"math/rand/v2"
	"sync/atomic"
)

// Class names one of the two independent round-robin cursors.
type Class int

const (
	// General serves every request that is neither pinned nor a
	// completion request.
	General Class = iota
	// Completion serves requests on the completion path.
	Completion
)

// sequence is one immutable shuffled run of endpoint indices together
// with the cursor position iterating it. A rebuild installs a fresh
// sequence, so the position implicitly resets with it.
type sequence struct {
	indices []int
	pos     atomic.Uint64
}

func (s *sequence) next() int {
	n := s.pos.Add(1)
	return s.indices[(n-1)%uint64(len(s.indices))]
}

// Selector owns the weighted selection sequences for both traffic
// classes. Rebuild swaps whole sequences atomically, so Next never
// observes a half-built one and never needs a lock.
type Selector struct {
	weights    []int
	general    atomic.Pointer[sequence]
	completion atomic.Pointer[sequence]
}

// New creates a selector for endpoints with the given weights, with an
// initial sequence treating every endpoint as healthy.
func New(weights []int) *Selector {
	s := &Selector{weights: weights}

	healthy := make([]bool, len(weights))
	for i := range healthy {
		healthy[i] = true
	}
	s.Rebuild(healthy)

	return s
}

// Rebuild derives a fresh shuffled weighted sequence from the given
// health flags and installs it for both cursors, resetting each to the
// start. Each healthy endpoint's index appears weight times; if no
// endpoint is healthy the sequence degrades to every index once so
// traffic keeps flowing. Safe to call concurrently with Next: in-flight
// calls see either the old or the new sequence in its entirety.
func (s *Selector) Rebuild(healthy []bool) {
	var indices []int
	for i, h := range healthy {
		if !h {
			continue
		}
		for range s.weights[i] {
			indices = append(indices, i)
		}
	}

	if len(indices) == 0 {
		indices = make([]int, len(s.weights))
		for i := range indices {
			indices[i] = i
		}
	}

	rand.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})

	s.general.Store(&sequence{indices: indices})

	completion := make([]int, len(indices))
	copy(completion, indices)
	s.completion.Store(&sequence{indices: completion})
}

// Next returns the next endpoint index for the named cursor, advancing
// it and wrapping at the end of the sequence. The advance is a single
// atomic step, so concurrent calls never observe the same position.
func (s *Selector) Next(class Class) int {
	if class == Completion {
		return s.completion.Load().next()
	}
	return s.general.Load().next()
}
