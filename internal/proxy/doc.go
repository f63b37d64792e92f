// Package proxy implements the streaming forwarder: it relays an
// inbound request to a resolved backend and streams the response back
// chunk-by-chunk, merging in permissive CORS headers and surfacing
// transport failures as BackendUnavailableError.
package proxy
