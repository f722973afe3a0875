package tracker

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/screenmon/agent/internal/classify"
	"github.com/screenmon/agent/internal/domain"
)

// DefaultScanInterval is how often the process table is snapshotted.
const DefaultScanInterval = 3 * time.Second

// procTracker follows one OS process instance from first observation until it
// disappears from a scan. In-memory only, owned exclusively by Background.
type procTracker struct {
	pid          int
	name         string
	firstSeen    time.Time
	lastSeen     time.Time
	totalMs      int64 // cumulative observed duration, monotonically non-decreasing
	baselineMs   int64 // totalMs at the moment the live UI last connected
	historicalMs int64 // sum of prior persisted sessions, loaded once
	sessionStart time.Time
	background   bool
}

// Background tracks running processes independent of focus. Each scan adds the
// elapsed wall time to every still-present tracker; a tracker whose process
// disappeared is turned into a closed session and handed to the sink.
type Background struct {
	mu       sync.Mutex
	tracked  map[int]*procTracker
	lastScan time.Time

	provider domain.ProcessProvider
	sessions domain.SessionRepository
	sink     domain.SessionSink
	logger   *zap.Logger
	now      func() time.Time
}

// NewBackground creates a background presence tracker.
func NewBackground(provider domain.ProcessProvider, sessions domain.SessionRepository, sink domain.SessionSink, logger *zap.Logger) *Background {
	return &Background{
		tracked:  make(map[int]*procTracker),
		provider: provider,
		sessions: sessions,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
	}
}

// Scan runs one snapshot pass: updates durations for observed processes,
// starts tracking newcomers, and closes out processes that disappeared.
// A failed snapshot skips the pass; it never aborts the tracker.
func (b *Background) Scan(ctx context.Context) {
	procs, err := b.provider.Snapshot(ctx)
	if err != nil {
		b.logger.Warn("process snapshot failed", zap.Error(err))
		return
	}

	now := b.now()

	b.mu.Lock()
	var elapsed time.Duration
	if !b.lastScan.IsZero() {
		elapsed = now.Sub(b.lastScan)
	}
	b.lastScan = now

	seen := make(map[int]bool, len(procs))
	var newcomers []domain.ProcessInfo

	for _, p := range procs {
		if p.Name == "" || classify.IsSystemProcess(p.Name) || !p.HasVisibleWindow {
			continue
		}
		seen[p.PID] = true

		if t, ok := b.tracked[p.PID]; ok {
			t.totalMs += elapsed.Milliseconds()
			t.lastSeen = now
		} else {
			newcomers = append(newcomers, p)
		}
	}

	var ended []*procTracker
	for pid, t := range b.tracked {
		if !seen[pid] {
			delete(b.tracked, pid)
			ended = append(ended, t)
		}
	}
	b.mu.Unlock()

	// Historical totals are fetched outside the lock so live queries are not
	// held up by storage.
	for _, p := range newcomers {
		historical, err := b.sessions.HistoricalTotal(ctx, p.Name)
		if err != nil {
			b.logger.Debug("historical total lookup failed",
				zap.String("app", p.Name), zap.Error(err))
			historical = 0
		}

		t := &procTracker{
			pid:          p.PID,
			name:         p.Name,
			firstSeen:    now,
			lastSeen:     now,
			historicalMs: historical,
			sessionStart: now,
			background:   classify.IsBackgroundApp(p.Name),
		}

		b.mu.Lock()
		if _, exists := b.tracked[p.PID]; !exists {
			b.tracked[p.PID] = t
		}
		b.mu.Unlock()

		if t.background || historical > 0 {
			b.logger.Info("tracking process",
				zap.String("app", p.Name),
				zap.Int("pid", p.PID),
				zap.Int64("historical_ms", historical))
		}
	}

	for _, t := range ended {
		b.closeTracker(t, now)
	}
}

// closeTracker synthesizes a closed session for a disappeared process when it
// accumulated time beyond its baseline.
func (b *Background) closeTracker(t *procTracker, now time.Time) {
	duration := t.totalMs - t.baselineMs
	if duration <= 0 {
		return
	}

	end := now
	session := &domain.UsageSession{
		AppName:    t.name,
		ProcessID:  t.pid,
		Start:      t.sessionStart,
		End:        &end,
		DurationMs: duration,
		CreatedAt:  now,
	}
	b.sink.EnqueueSession(session)

	b.logger.Info("process ended, session recorded",
		zap.String("app", t.name),
		zap.Int("pid", t.pid),
		zap.Int64("duration_ms", duration))
}

// ResetSessionTracking rebases every tracker's baseline to its current
// cumulative total. Invoked when a live client connects so subsequent live
// queries report time since that connection. Historical and persisted totals
// are unaffected.
func (b *Background) ResetSessionTracking() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range b.tracked {
		t.baselineMs = t.totalMs
	}
	b.logger.Info("session tracking rebased", zap.Int("trackers", len(b.tracked)))
}

// GetAllRunningApps returns currently tracked applications grouped by name
// (case-insensitive), each with the sum across instances of
// max(0, (cumulative - baseline) + historical). Sorted by name.
func (b *Background) GetAllRunningApps() []domain.RunningApp {
	b.mu.Lock()
	defer b.mu.Unlock()

	type group struct {
		name  string
		total int64
	}
	groups := make(map[string]*group)

	for _, t := range b.tracked {
		key := strings.ToLower(t.name)
		g, ok := groups[key]
		if !ok {
			g = &group{name: t.name}
			groups[key] = g
		}
		live := (t.totalMs - t.baselineMs) + t.historicalMs
		if live < 0 {
			live = 0
		}
		g.total += live
	}

	apps := make([]domain.RunningApp, 0, len(groups))
	for _, g := range groups {
		apps = append(apps, domain.RunningApp{AppName: g.name, DurationMs: g.total})
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].AppName < apps[j].AppName })
	return apps
}

// GetBackgroundApps returns trackers on the background whitelist with their
// raw cumulative totals.
func (b *Background) GetBackgroundApps() []domain.RunningApp {
	b.mu.Lock()
	defer b.mu.Unlock()

	var apps []domain.RunningApp
	for _, t := range b.tracked {
		if t.background {
			apps = append(apps, domain.RunningApp{AppName: t.name, DurationMs: t.totalMs})
		}
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].AppName < apps[j].AppName })
	return apps
}

// GetAppStats sums live usage for one application across its instances.
// Returns nil when the app is not currently tracked.
func (b *Background) GetAppStats(appName string) *domain.AppStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	var stats *domain.AppStats
	for _, t := range b.tracked {
		if !strings.EqualFold(t.name, appName) {
			continue
		}
		if stats == nil {
			stats = &domain.AppStats{FirstSeen: t.firstSeen, LastSeen: t.lastSeen}
		}
		stats.TotalMs += t.totalMs
		if t.firstSeen.Before(stats.FirstSeen) {
			stats.FirstSeen = t.firstSeen
		}
		if t.lastSeen.After(stats.LastSeen) {
			stats.LastSeen = t.lastSeen
		}
	}
	return stats
}

// ClearTracking drops all tracker state without recording sessions.
func (b *Background) ClearTracking() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tracked = make(map[int]*procTracker)
	b.logger.Info("process tracking cleared")
}

// Close ends every open tracker and records the accumulated time as sessions.
// Called on daemon shutdown, before the final pipeline flush.
func (b *Background) Close() {
	b.mu.Lock()
	tracked := b.tracked
	b.tracked = make(map[int]*procTracker)
	b.mu.Unlock()

	now := b.now()
	for _, t := range tracked {
		b.closeTracker(t, now)
	}
}

// TrackedCount returns the number of tracked process instances.
func (b *Background) TrackedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tracked)
}

// LastScan reports when the most recent scan pass ran. Used by health checks.
func (b *Background) LastScan() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastScan
}
