// Package domain contains core business entities and interfaces.
// This is the innermost layer - no external dependencies.
package domain

import "time"

// UsageSession represents one contiguous period an application was in use,
// either holding input focus or present as a tracked background process.
// A session is mutable only while open; once closed it is handed to the
// ingestion pipeline and never modified again.
type UsageSession struct {
	ID          int64
	AppName     string
	WindowTitle string
	ProcessID   int
	Start       time.Time
	End         *time.Time // nil while the session is open
	DurationMs  int64
	CreatedAt   time.Time
}

// Close stamps the end time and computes the duration.
func (s *UsageSession) Close(end time.Time) {
	s.End = &end
	s.DurationMs = end.Sub(s.Start).Milliseconds()
}

// Closed reports whether the session has an end timestamp.
func (s *UsageSession) Closed() bool {
	return s.End != nil
}

// FocusEvent is one foreground-focus change delivered by the OS feed.
type FocusEvent struct {
	ProcessID   int
	AppName     string
	WindowTitle string
	Timestamp   time.Time
}

// ProcessInfo is one entry of a periodic process snapshot.
type ProcessInfo struct {
	PID              int
	Name             string
	HasVisibleWindow bool
}

// SystemMetric is a point-in-time resource snapshot. Append-only; purged by age.
type SystemMetric struct {
	ID             int64
	Timestamp      time.Time
	CPUPercent     float64
	MemoryUsedMB   int64
	MemoryPercent  float64
	DiskReadBytes  int64
	DiskWriteBytes int64
}

// DailyAppSummary is one row per (application, calendar day), produced by the
// daily aggregator from merged raw sessions.
type DailyAppSummary struct {
	ID           int64
	AppName      string
	SummaryDate  time.Time // truncated to midnight UTC
	TotalUsageMs int64
	UsageCount   int
	FirstUse     time.Time
	LastUse      time.Time
}

// AppStats is a live per-application view over currently tracked processes.
type AppStats struct {
	TotalMs   int64
	FirstSeen time.Time
	LastSeen  time.Time
}

// RunningApp is one entry of a live-snapshot query, aggregated by app name.
type RunningApp struct {
	AppName    string
	DurationMs int64
}

// PipelineStats reports ingestion pipeline counters for health checks.
type PipelineStats struct {
	ItemsProcessed int64
	ItemsFailed    int64
	LastFlush      time.Time
}

// HealthReport combines storage reachability and worker liveness.
type HealthReport struct {
	Healthy         bool      `json:"healthy"`
	StorageHealthy  bool      `json:"storage_healthy"`
	TrackerHealthy  bool      `json:"tracker_healthy"`
	PipelineHealthy bool      `json:"pipeline_healthy"`
	LastCheck       time.Time `json:"last_check"`
	LastError       string    `json:"last_error,omitempty"`
}
