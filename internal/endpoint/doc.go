// Package endpoint holds the registry of backend endpoints: immutable
// URL, weight and pinned-path configuration plus the mutable per-endpoint
// health flag updated by the health monitor.
package endpoint
