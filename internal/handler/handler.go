package handler

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aphrodite-engine/aphrodite-loadbalancer/internal/dispatch"
	"github.com/aphrodite-engine/aphrodite-loadbalancer/internal/endpoint"
	"github.com/aphrodite-engine/aphrodite-loadbalancer/internal/metrics"
	"github.com/aphrodite-engine/aphrodite-loadbalancer/internal/proxy"
)

type LoadBalancerHandler struct {
	logger           *slog.Logger
	resolver         *dispatch.Resolver
	registry         *endpoint.Registry
	forwarder        *proxy.Forwarder
	metricsCollector *metrics.Collector
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (lb *LoadBalancerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := extractClientIP(r)

	lb.logger.Info("received request",
		slog.String("from", clientIP),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("proto", r.Proto),
		slog.String("host", r.Host))

	// Preflight requests are answered here; no backend is contacted and
	// no cursor advances.
	if r.Method == http.MethodOptions {
		proxy.ApplyCORS(w.Header())
		w.WriteHeader(http.StatusOK)
		return
	}

	idx := lb.resolver.Resolve(r.URL.Path)
	target := lb.registry.At(idx)

	lb.emitEvent(metrics.MetricEvent{
		Type:      metrics.EventRequestReceived,
		Timestamp: time.Now(),
		Endpoint:  target.Base(),
	})

	lb.emitEvent(metrics.MetricEvent{
		Type:      metrics.EventEndpointSelected,
		Timestamp: time.Now(),
		Endpoint:  target.Base(),
	})

	lb.logger.Info("forwarding to endpoint",
		slog.String("client", clientIP),
		slog.String("endpoint", target.Base()))

	start := time.Now()
	wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

	err := lb.forwarder.Forward(wrapped, r, target.Base())
	duration := time.Since(start)

	if err != nil {
		var unavailable *proxy.BackendUnavailableError
		if errors.As(err, &unavailable) {
			lb.logger.Warn("endpoint unavailable",
				slog.String("endpoint", target.Base()),
				slog.Any("err", err))
			proxy.ApplyCORS(w.Header())
			http.Error(w, "backend unavailable", http.StatusBadGateway)
			wrapped.statusCode = http.StatusBadGateway
		} else {
			// Response head already sent; nothing left but to log.
			lb.logger.Warn("forwarding aborted mid-stream",
				slog.String("endpoint", target.Base()),
				slog.Any("err", err))
		}
	}

	lb.emitEvent(metrics.MetricEvent{
		Type:       metrics.EventResponseCompleted,
		Timestamp:  time.Now(),
		Endpoint:   target.Base(),
		Duration:   duration,
		StatusCode: wrapped.statusCode,
	})
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func (lb *LoadBalancerHandler) emitEvent(event metrics.MetricEvent) {
	if lb.metricsCollector == nil {
		return
	}

	select {
	case lb.metricsCollector.EventChannel() <- event:
	default:
	}
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer's
// Flush through the recorder.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func NewLoadBalancerHandler(
	logger *slog.Logger,
	resolver *dispatch.Resolver,
	registry *endpoint.Registry,
	forwarder *proxy.Forwarder,
	collector *metrics.Collector,
) *LoadBalancerHandler {
	return &LoadBalancerHandler{
		logger:           logger,
		resolver:         resolver,
		registry:         registry,
		forwarder:        forwarder,
		metricsCollector: collector,
	}
}
