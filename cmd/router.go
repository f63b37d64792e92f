package main

import (
	"net/http"

	"github.com/aphrodite-engine/aphrodite-loadbalancer/internal/handler"
	"github.com/aphrodite-engine/aphrodite-loadbalancer/internal/metrics"
)

// setupRouter reserves /metrics for the collector snapshot; every other
// path on any method is forwarded by the balancer.
func setupRouter(balancerHandler *handler.LoadBalancerHandler, metricsCollector *metrics.Collector) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", balancerHandler.ServeHTTP)
	mux.HandleFunc("/metrics", metricsCollector.Handler("weighted-round-robin"))

	return mux
}
