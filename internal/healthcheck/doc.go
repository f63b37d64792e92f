// Package healthcheck implements the background health monitor. It
// probes every endpoint's /health sub-path on a fixed interval, updates
// the registry's health flags, and triggers a selection rebuild once per
// pass in which any flag changed.
package healthcheck
