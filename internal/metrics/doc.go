// Package metrics provides real-time metrics collection for the load balancer.
//
// It uses a channel-based event pipeline to asynchronously collect metrics about:
//   - Request counts per endpoint
//   - Endpoint selection frequencies
//   - Response times with percentile calculations (P50, P95, P99)
//   - HTTP status code distribution
//   - Health status transitions from the health monitor
//
// The collector runs in a dedicated goroutine and processes events without
// blocking the request path. Events are sent via buffered channels with
// non-blocking semantics so a full buffer drops events instead of stalling
// forwarding. Remaining events are drained on shutdown.
package metrics
