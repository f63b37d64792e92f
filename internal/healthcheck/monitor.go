package healthcheck

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aphrodite-engine/aphrodite-loadbalancer/internal/endpoint"
	"github.com/aphrodite-engine/aphrodite-loadbalancer/internal/metrics"
)

// ProbeFunc reports whether an endpoint is currently reachable. Probe
// failures are absorbed here as an unhealthy result; they never
// propagate further.
type ProbeFunc func(ctx context.Context, ep *endpoint.Endpoint) bool

// HTTPProbe returns a ProbeFunc that issues GET <base>/health through
// the given client and treats any status other than 200, or any
// transport error, as unhealthy. The client's timeout bounds the probe.
func HTTPProbe(client *http.Client) ProbeFunc {
	return func(ctx context.Context, ep *endpoint.Endpoint) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.Base()+"/health", nil)
		if err != nil {
			return false
		}

		res, err := client.Do(req)
		if err != nil {
			return false
		}
		defer res.Body.Close()

		return res.StatusCode == http.StatusOK
	}
}

// Config carries the monitor's collaborators.
type Config struct {
	Registry *endpoint.Registry
	Probe    ProbeFunc
	Interval time.Duration
	Logger   *slog.Logger
	// OnChange is invoked once per probe pass in which at least one
	// endpoint's health flag flipped.
	OnChange func()
	// Clock defaults to the real clock; tests inject a fake one.
	Clock clockwork.Clock
	// Collector receives health transition events; may be nil.
	Collector *metrics.Collector
}

// Monitor periodically probes every registered endpoint and flips its
// health flag on transitions. It is the only writer of health state.
type Monitor struct {
	registry  *endpoint.Registry
	probe     ProbeFunc
	interval  time.Duration
	logger    *slog.Logger
	onChange  func()
	clock     clockwork.Clock
	collector *metrics.Collector
}

func New(cfg Config) *Monitor {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Monitor{
		registry:  cfg.Registry,
		probe:     cfg.Probe,
		interval:  cfg.Interval,
		logger:    cfg.Logger,
		onChange:  cfg.OnChange,
		clock:     clock,
		collector: cfg.Collector,
	}
}

// Run probes all endpoints every interval until the context is
// cancelled. Cancellation is normal termination and returns nil; probe
// failures never terminate the loop.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped")
			return nil

		case <-ticker.Chan():
			m.sweep(ctx)
		}
	}
}

// sweep probes every endpoint once. Probes within a pass are
// independent and run concurrently; flags are applied after all probes
// return, and a changed pass triggers exactly one rebuild.
func (m *Monitor) sweep(ctx context.Context) {
	endpoints := m.registry.All()
	results := make([]bool, len(endpoints))

	var wg sync.WaitGroup
	for i, ep := range endpoints {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = m.probe(ctx, ep)
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return
	}

	changed := false
	down := 0

	for i, ep := range endpoints {
		healthy := results[i]
		if !healthy {
			down++
		}

		if !ep.SetHealthy(healthy) {
			continue
		}
		changed = true

		if healthy {
			m.logger.Info("endpoint is back up", slog.String("endpoint", ep.Base()))
		} else {
			m.logger.Warn("endpoint is down", slog.String("endpoint", ep.Base()))
		}

		m.emitEvent(metrics.MetricEvent{
			Type:      metrics.EventHealthChanged,
			Timestamp: m.clock.Now(),
			Endpoint:  ep.Base(),
			Healthy:   healthy,
		})
	}

	if down == len(endpoints) {
		m.logger.Warn("all endpoints unhealthy, degrading to uniform routing")
	}

	if changed && m.onChange != nil {
		m.onChange()
	}
}

func (m *Monitor) emitEvent(event metrics.MetricEvent) {
	if m.collector == nil {
		return
	}

	select {
	case m.collector.EventChannel() <- event:
	default:
	}
}
