package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aphrodite-engine/aphrodite-loadbalancer/config"
	"github.com/aphrodite-engine/aphrodite-loadbalancer/internal/dispatch"
	"github.com/aphrodite-engine/aphrodite-loadbalancer/internal/endpoint"
	"github.com/aphrodite-engine/aphrodite-loadbalancer/internal/handler"
	"github.com/aphrodite-engine/aphrodite-loadbalancer/internal/healthcheck"
	"github.com/aphrodite-engine/aphrodite-loadbalancer/internal/httpserver"
	"github.com/aphrodite-engine/aphrodite-loadbalancer/internal/metrics"
	"github.com/aphrodite-engine/aphrodite-loadbalancer/internal/proxy"
	"github.com/aphrodite-engine/aphrodite-loadbalancer/internal/selection"
	"github.com/aphrodite-engine/aphrodite-loadbalancer/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	if err := run(cfg, log); err != nil {
		log.Error("load balancer exited", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("initializing endpoints: %w", err)
	}

	for _, ep := range registry.All() {
		log.Info("registered endpoint",
			slog.String("url", ep.Base()),
			slog.Int("weight", ep.Weight()),
			slog.String("pinned_paths", strings.Join(ep.PinnedPaths(), ",")))
	}

	selector := selection.New(registry.Weights())

	// One outbound connection pool for forwarding and probing alike.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	defer transport.CloseIdleConnections()

	interval, err := time.ParseDuration(cfg.HealthCheck.Interval)
	if err != nil {
		return err
	}
	probeTimeout, err := time.ParseDuration(cfg.HealthCheck.Timeout)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(1024, log)
	collector.Start(ctx)

	monitor := healthcheck.New(healthcheck.Config{
		Registry: registry,
		Probe: healthcheck.HTTPProbe(&http.Client{
			Transport: transport,
			Timeout:   probeTimeout,
		}),
		Interval: interval,
		Logger:   log,
		OnChange: func() {
			selector.Rebuild(registry.HealthSnapshot())
		},
		Collector: collector,
	})

	forwarder := proxy.New(proxy.NewClient(transport, proxy.DefaultTimeout), log)
	resolver := dispatch.New(registry, selector)
	balancerHandler := handler.NewLoadBalancerHandler(log, resolver, registry, forwarder, collector)

	srv, err := httpserver.New(fmt.Sprintf(":%d", cfg.Port), setupRouter(balancerHandler, collector))
	if err != nil {
		return err
	}

	if err := srv.Listen(); err != nil {
		return fmt.Errorf("binding port %d: %w", cfg.Port, err)
	}
	log.Info("load balancer listening", slog.Int("port", cfg.Port))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return monitor.Run(gctx)
	})

	g.Go(srv.Serve)

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down gracefully...")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}

func buildRegistry(cfg *config.Config) (*endpoint.Registry, error) {
	specs := make([]endpoint.Spec, 0, len(cfg.Endpoints))

	for _, ec := range cfg.Endpoints {
		specs = append(specs, endpoint.Spec{
			URL:    ec.URL,
			Weight: ec.Weight,
			Paths:  ec.Paths,
		})
	}

	return endpoint.NewRegistry(specs)
}
