// Package selection implements weighted round-robin endpoint selection
// over a shuffled sequence of endpoint indices, with independent cursors
// for completion and general traffic. Health changes swap in a freshly
// built sequence atomically rather than mutating the current one, which
// keeps the per-request path lock-free.
package selection
