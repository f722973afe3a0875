package domain

import (
	"context"
	"time"
)

// SessionRepository persists completed usage sessions.
type SessionRepository interface {
	// CreateSession inserts a closed session. Sessions are never updated.
	CreateSession(ctx context.Context, s *UsageSession) error

	// SessionsByDate returns all sessions whose start falls on the given
	// calendar day, ordered by start time.
	SessionsByDate(ctx context.Context, date time.Time) ([]UsageSession, error)

	// SessionsByApp returns sessions for one app within [start, end).
	SessionsByApp(ctx context.Context, appName string, start, end time.Time) ([]UsageSession, error)

	// HistoricalTotal returns the summed duration of all completed sessions
	// previously persisted for the app (case-insensitive).
	HistoricalTotal(ctx context.Context, appName string) (int64, error)

	// DeleteSessionsBefore removes sessions older than the cutoff.
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) error
}

// MetricRepository persists system metric snapshots.
type MetricRepository interface {
	CreateMetric(ctx context.Context, m *SystemMetric) error

	// LatestMetrics returns up to count most recent metrics, oldest first.
	LatestMetrics(ctx context.Context, count int) ([]SystemMetric, error)

	// DeleteMetricsBefore removes metrics older than the cutoff.
	DeleteMetricsBefore(ctx context.Context, cutoff time.Time) error
}

// SummaryRepository persists daily per-app summaries.
type SummaryRepository interface {
	// UpsertSummary replaces any prior summary for (app, date).
	UpsertSummary(ctx context.Context, s *DailyAppSummary) error

	// SummariesByDate returns all summaries for a day, ordered by app name.
	SummariesByDate(ctx context.Context, date time.Time) ([]DailyAppSummary, error)
}

// Store bundles the repositories plus lifecycle operations.
type Store interface {
	SessionRepository
	MetricRepository
	SummaryRepository

	// Ping verifies the storage layer is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// ProcessProvider supplies periodic snapshots of running OS processes.
// Implementation: gopsutil (internal/infra).
type ProcessProvider interface {
	// Snapshot lists currently running processes. Per-process inspection
	// errors skip that process only; the snapshot as a whole never fails
	// because of a single process.
	Snapshot(ctx context.Context) ([]ProcessInfo, error)
}

// FocusSource supplies foreground focus-change events. The OS hook that
// produces them is outside this module; tests and platform shims push events
// through an implementation of this interface.
type FocusSource interface {
	// Events returns the channel focus events arrive on. The channel is
	// closed when the source shuts down.
	Events() <-chan FocusEvent
}

// SessionSink accepts closed sessions from the trackers. Implementations must
// not block the caller indefinitely.
type SessionSink interface {
	EnqueueSession(s *UsageSession)
}

// MetricSink accepts metric snapshots from the sampler.
type MetricSink interface {
	EnqueueMetric(m *SystemMetric)
}
