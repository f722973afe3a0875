// Package daemon wires the trackers, pipeline, broker, and schedulers into one
// long-running agent process.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/screenmon/agent/internal/aggregate"
	"github.com/screenmon/agent/internal/config"
	"github.com/screenmon/agent/internal/domain"
	"github.com/screenmon/agent/internal/health"
	"github.com/screenmon/agent/internal/infra"
	"github.com/screenmon/agent/internal/ingest"
	"github.com/screenmon/agent/internal/ipc"
	"github.com/screenmon/agent/internal/storage"
	"github.com/screenmon/agent/internal/sysmetrics"
	"github.com/screenmon/agent/internal/telemetry"
	"github.com/screenmon/agent/internal/tracker"
)

// Agent is the fully wired monitoring daemon.
type Agent struct {
	cfg *config.Config

	store      domain.Store
	focus      *infra.ChannelFocusSource
	foreground *tracker.Foreground
	background *tracker.Background
	collector  *ingest.Collector
	broker     *ipc.Broker
	sampler    *sysmetrics.Sampler
	aggregator *aggregate.Aggregator
	checker    *health.Checker

	rec      telemetry.Recorder
	registry *prometheus.Registry
	logger   *zap.Logger
	now      func() time.Time
}

// New builds the agent from configuration: opens the encrypted store and wires
// every component together. Call Run to start it and Close to release the store.
func New(cfg *config.Config, logger *zap.Logger) (*Agent, error) {
	store, err := storage.New(cfg.Storage.DataDir, []byte(cfg.Storage.EncryptionKey), logger)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := telemetry.NewMetrics(registry)

	collector := ingest.NewCollector(ingest.Config{
		QueueCapacity:        cfg.Pipeline.QueueCapacity,
		EnqueueTimeout:       cfg.Pipeline.EnqueueTimeout,
		FlushInterval:        cfg.Pipeline.FlushInterval,
		RetentionDays:        cfg.Pipeline.RetentionDays,
		ShutdownFlushTimeout: cfg.Pipeline.ShutdownFlushTimeout,
	}, store, metrics, logger)

	foreground := tracker.NewForeground(collector, logger)
	foreground.SetDebounceWindow(cfg.Tracking.DebounceWindow)

	background := tracker.NewBackground(infra.NewProcessProvider(), store, collector, logger)
	focus := infra.NewChannelFocusSource(cfg.Tracking.FocusBuffer)

	broker := ipc.NewBroker(cfg.IPC.SocketPath, background, metrics, logger)
	sampler := sysmetrics.NewSampler(collector, logger)
	aggregator := aggregate.NewAggregator(store, store, logger)
	checker := health.NewChecker(store, background, collector,
		cfg.Tracking.ScanInterval, cfg.Pipeline.FlushInterval, logger)

	return &Agent{
		cfg:        cfg,
		store:      store,
		focus:      focus,
		foreground: foreground,
		background: background,
		collector:  collector,
		broker:     broker,
		sampler:    sampler,
		aggregator: aggregator,
		checker:    checker,
		rec:        metrics,
		registry:   registry,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// FocusSource returns the push endpoint for the platform focus hook.
func (a *Agent) FocusSource() *infra.ChannelFocusSource {
	return a.focus
}

// Run starts all workers and blocks until the context is cancelled. Shutdown
// order matters: the trackers close their open sessions first, then the
// pipeline performs its final flush.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent starting",
		zap.Duration("scan_interval", a.cfg.Tracking.ScanInterval),
		zap.Duration("flush_interval", a.cfg.Pipeline.FlushInterval),
		zap.String("socket", a.cfg.IPC.SocketPath))

	g, gctx := errgroup.WithContext(ctx)

	// The collector outlives the other workers so the final flush can drain
	// whatever the trackers enqueue during shutdown.
	pipelineCtx, stopPipeline := context.WithCancel(context.Background())
	defer stopPipeline()

	g.Go(func() error {
		err := a.collector.Run(pipelineCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		a.foreground.Close()
		a.background.Close()
		stopPipeline()
		return nil
	})

	g.Go(func() error { return a.runFocusLoop(gctx) })
	g.Go(func() error { return a.runScanLoop(gctx) })

	g.Go(func() error {
		err := a.broker.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if a.cfg.Metrics.Enabled {
		g.Go(func() error {
			err := a.sampler.Run(gctx, a.cfg.Metrics.SampleInterval)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if a.cfg.Aggregation.Enabled {
		g.Go(func() error { return a.runAggregationLoop(gctx) })
	}

	if a.cfg.HTTP.Enabled {
		g.Go(func() error { return a.runHTTPServer(gctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.logger.Info("agent stopped")
	return err
}

// Close releases the store. Call after Run returns.
func (a *Agent) Close() error {
	return a.store.Close()
}

func (a *Agent) runFocusLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-a.focus.Events():
			if !ok {
				return nil
			}
			a.foreground.HandleEvent(ev)
		}
	}
}

func (a *Agent) runScanLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Tracking.ScanInterval)
	defer ticker.Stop()

	a.background.Scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.background.Scan(ctx)
			a.rec.SetTrackedProcesses(a.background.TrackedCount())
		}
	}
}

// runAggregationLoop summarizes the previous day once per calendar day,
// shortly after midnight.
func (a *Agent) runAggregationLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Aggregation.CheckInterval)
	defer ticker.Stop()

	var lastRun time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			today := a.now().UTC().Truncate(24 * time.Hour)
			if lastRun.Equal(today) {
				continue
			}
			yesterday := today.Add(-24 * time.Hour)
			if _, err := a.aggregator.AggregateDay(ctx, yesterday); err != nil {
				a.logger.Error("daily aggregation failed",
					zap.Time("date", yesterday), zap.Error(err))
				continue
			}
			lastRun = today
		}
	}
}

func (a *Agent) runHTTPServer(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		report := a.checker.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !report.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	})

	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	a.logger.Info("observability listener started", zap.String("addr", a.cfg.HTTP.Addr))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
