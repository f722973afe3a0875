// Package sysmetrics samples host resource usage (CPU, memory, disk IO) and
// feeds snapshots into the ingestion pipeline.
package sysmetrics

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/screenmon/agent/internal/domain"
)

// DefaultSampleInterval is how often a resource snapshot is taken.
const DefaultSampleInterval = 5 * time.Second

// readings abstracts gopsutil so tests can inject fixed values.
type readings interface {
	CPUPercent(ctx context.Context) (float64, error)
	Memory(ctx context.Context) (usedMB int64, percent float64, err error)
	DiskIO(ctx context.Context) (readBytes, writeBytes int64, err error)
}

type hostReadings struct{}

func (hostReadings) CPUPercent(ctx context.Context) (float64, error) {
	// interval 0 compares against the previous call instead of blocking
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0], nil
}

func (hostReadings) Memory(ctx context.Context) (int64, float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}
	return int64(vm.Used / 1024 / 1024), vm.UsedPercent, nil
}

func (hostReadings) DiskIO(ctx context.Context) (int64, int64, error) {
	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}
	var read, write uint64
	for _, c := range counters {
		read += c.ReadBytes
		write += c.WriteBytes
	}
	return int64(read), int64(write), nil
}

// Sampler periodically captures a SystemMetric and enqueues it.
type Sampler struct {
	src    readings
	sink   domain.MetricSink
	logger *zap.Logger
	now    func() time.Time
}

// NewSampler creates a sampler backed by gopsutil host readings.
func NewSampler(sink domain.MetricSink, logger *zap.Logger) *Sampler {
	return &Sampler{
		src:    hostReadings{},
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// Sample captures one snapshot. A failed reading leaves that field zero; the
// snapshot is dropped only when every probe fails.
func (s *Sampler) Sample(ctx context.Context) {
	m := domain.SystemMetric{Timestamp: s.now().UTC()}
	failures := 0

	cpuPct, err := s.src.CPUPercent(ctx)
	if err != nil {
		s.logger.Debug("cpu probe failed", zap.Error(err))
		failures++
	} else {
		m.CPUPercent = cpuPct
	}

	usedMB, memPct, err := s.src.Memory(ctx)
	if err != nil {
		s.logger.Debug("memory probe failed", zap.Error(err))
		failures++
	} else {
		m.MemoryUsedMB = usedMB
		m.MemoryPercent = memPct
	}

	readB, writeB, err := s.src.DiskIO(ctx)
	if err != nil {
		s.logger.Debug("disk probe failed", zap.Error(err))
		failures++
	} else {
		m.DiskReadBytes = readB
		m.DiskWriteBytes = writeB
	}

	if failures == 3 {
		s.logger.Warn("skipping metric snapshot, all probes failed")
		return
	}
	s.sink.EnqueueMetric(&m)
}

// Run samples on the given interval until the context is cancelled.
func (s *Sampler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("system metrics sampler started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("system metrics sampler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Sample(ctx)
		}
	}
}
