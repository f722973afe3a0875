// Package health checks storage reachability and worker liveness.
package health

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/screenmon/agent/internal/domain"
)

// Pinger is the storage probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ScanReporter exposes the background tracker's last successful scan time.
type ScanReporter interface {
	LastScan() time.Time
}

// FlushReporter exposes ingestion pipeline counters.
type FlushReporter interface {
	Stats() domain.PipelineStats
}

// staleFactor: a worker is unhealthy once it has missed this many cycles.
const staleFactor = 3

// Checker evaluates the agent's health on demand.
type Checker struct {
	store    Pinger
	tracker  ScanReporter
	pipeline FlushReporter

	scanInterval  time.Duration
	flushInterval time.Duration

	logger *zap.Logger
	now    func() time.Time
}

// NewChecker wires the probes together. scanInterval and flushInterval are the
// configured cadences of the tracker and the pipeline; staleness is judged
// relative to them.
func NewChecker(store Pinger, tracker ScanReporter, pipeline FlushReporter,
	scanInterval, flushInterval time.Duration, logger *zap.Logger) *Checker {
	return &Checker{
		store:         store,
		tracker:       tracker,
		pipeline:      pipeline,
		scanInterval:  scanInterval,
		flushInterval: flushInterval,
		logger:        logger,
		now:           time.Now,
	}
}

// Check runs all probes and returns a combined report. A worker that has not
// completed a cycle yet (zero timestamp) counts as healthy during startup.
func (c *Checker) Check(ctx context.Context) domain.HealthReport {
	now := c.now()
	report := domain.HealthReport{
		StorageHealthy:  true,
		TrackerHealthy:  true,
		PipelineHealthy: true,
		LastCheck:       now.UTC(),
	}

	if err := c.store.Ping(ctx); err != nil {
		report.StorageHealthy = false
		report.LastError = err.Error()
		c.logger.Warn("storage health check failed", zap.Error(err))
	}

	if last := c.tracker.LastScan(); !last.IsZero() {
		if age := now.Sub(last); age > staleFactor*c.scanInterval {
			report.TrackerHealthy = false
			c.logger.Warn("process tracker is stale", zap.Duration("age", age))
		}
	}

	if last := c.pipeline.Stats().LastFlush; !last.IsZero() {
		if age := now.Sub(last); age > staleFactor*c.flushInterval {
			report.PipelineHealthy = false
			c.logger.Warn("ingestion pipeline is stale", zap.Duration("age", age))
		}
	}

	report.Healthy = report.StorageHealthy && report.TrackerHealthy && report.PipelineHealthy
	return report
}
