package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/screenmon/agent/internal/domain"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeScan struct{ last time.Time }

func (f fakeScan) LastScan() time.Time { return f.last }

type fakeFlush struct{ last time.Time }

func (f fakeFlush) Stats() domain.PipelineStats { return domain.PipelineStats{LastFlush: f.last} }

func newTestChecker(store Pinger, scan ScanReporter, flush FlushReporter, now time.Time) *Checker {
	c := NewChecker(store, scan, flush, 3*time.Second, 30*time.Second, zap.NewNop())
	c.now = func() time.Time { return now }
	return c
}

func TestAllHealthy(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	c := newTestChecker(fakePinger{}, fakeScan{now.Add(-time.Second)}, fakeFlush{now.Add(-10 * time.Second)}, now)

	report := c.Check(context.Background())

	assert.True(t, report.Healthy)
	assert.True(t, report.StorageHealthy)
	assert.True(t, report.TrackerHealthy)
	assert.True(t, report.PipelineHealthy)
	assert.Empty(t, report.LastError)
	assert.Equal(t, now, report.LastCheck)
}

func TestStorageFailure(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	c := newTestChecker(fakePinger{err: errors.New("database is locked")},
		fakeScan{now}, fakeFlush{now}, now)

	report := c.Check(context.Background())

	assert.False(t, report.Healthy)
	assert.False(t, report.StorageHealthy)
	assert.Equal(t, "database is locked", report.LastError)
}

func TestStaleTracker(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	// three missed 3s scan cycles
	c := newTestChecker(fakePinger{}, fakeScan{now.Add(-10 * time.Second)}, fakeFlush{now}, now)

	report := c.Check(context.Background())

	assert.False(t, report.Healthy)
	assert.False(t, report.TrackerHealthy)
	assert.True(t, report.StorageHealthy)
}

func TestStalePipeline(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	c := newTestChecker(fakePinger{}, fakeScan{now}, fakeFlush{now.Add(-2 * time.Minute)}, now)

	report := c.Check(context.Background())

	assert.False(t, report.Healthy)
	assert.False(t, report.PipelineHealthy)
}

func TestZeroTimestampsHealthyDuringStartup(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	c := newTestChecker(fakePinger{}, fakeScan{}, fakeFlush{}, now)

	report := c.Check(context.Background())

	assert.True(t, report.Healthy)
}
