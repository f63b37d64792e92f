// Package dispatch resolves an inbound request path to an endpoint
// index: pinned paths first, then the completion or general round-robin
// cursor.
package dispatch
