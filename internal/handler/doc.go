// Package handler is the HTTP entry point: it short-circuits OPTIONS
// preflights, resolves each request to an endpoint, forwards it, and
// maps forwarding failures to client-visible error responses.
package handler
