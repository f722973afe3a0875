// Package aggregate merges a day's raw usage sessions into per-app summaries.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/screenmon/agent/internal/domain"
)

// mergeGap is the largest gap between sessions that still merges them into
// one span. Overlapping and near-adjacent sessions collapse together so
// duplicated intervals are not double-counted.
const mergeGap = time.Second

type span struct {
	start time.Time
	end   time.Time
}

func (s span) durationMs() int64 {
	return s.end.Sub(s.start).Milliseconds()
}

// Aggregator recomputes daily per-app summaries from raw sessions.
type Aggregator struct {
	sessions  domain.SessionRepository
	summaries domain.SummaryRepository
	logger    *zap.Logger
	now       func() time.Time
}

// NewAggregator creates a daily aggregator over the given repositories.
func NewAggregator(sessions domain.SessionRepository, summaries domain.SummaryRepository, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		sessions:  sessions,
		summaries: summaries,
		logger:    logger,
		now:       time.Now,
	}
}

// AggregateDay reads all raw sessions starting on the given calendar day,
// merges them per application, and upserts one summary per app. Re-running
// for the same day on unchanged data yields identical summaries.
func (a *Aggregator) AggregateDay(ctx context.Context, date time.Time) ([]domain.DailyAppSummary, error) {
	day := date.UTC().Truncate(24 * time.Hour)

	sessions, err := a.sessions.SessionsByDate(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions for %s: %w", day.Format("2006-01-02"), err)
	}

	summaries := Summarize(sessions, day, a.now())

	for i := range summaries {
		if err := a.summaries.UpsertSummary(ctx, &summaries[i]); err != nil {
			return nil, fmt.Errorf("failed to store summary for %s: %w", summaries[i].AppName, err)
		}
	}

	a.logger.Info("daily aggregation completed",
		zap.String("date", day.Format("2006-01-02")),
		zap.Int("raw_sessions", len(sessions)),
		zap.Int("summaries", len(summaries)))

	return summaries, nil
}

// Summarize merges raw sessions per application (case-insensitive) into
// summaries for the given day. An open session is treated as ending at now.
// Pure function; results are ordered by app name.
func Summarize(sessions []domain.UsageSession, day time.Time, now time.Time) []domain.DailyAppSummary {
	groups := make(map[string][]domain.UsageSession)
	names := make(map[string]string)

	for _, s := range sessions {
		key := strings.ToLower(s.AppName)
		groups[key] = append(groups[key], s)
		if _, ok := names[key]; !ok {
			names[key] = s.AppName
		}
	}

	summaries := make([]domain.DailyAppSummary, 0, len(groups))
	for key, group := range groups {
		spans := mergeSpans(group, now)
		if len(spans) == 0 {
			continue
		}

		var totalMs int64
		for _, sp := range spans {
			totalMs += sp.durationMs()
		}

		summaries = append(summaries, domain.DailyAppSummary{
			AppName:      names[key],
			SummaryDate:  day,
			TotalUsageMs: totalMs,
			UsageCount:   len(spans),
			FirstUse:     spans[0].start,
			LastUse:      spans[len(spans)-1].end,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return strings.ToLower(summaries[i].AppName) < strings.ToLower(summaries[j].AppName)
	})
	return summaries
}

// mergeSpans sorts one app's sessions by start and folds overlapping or
// near-adjacent ones into single spans. A span's duration is end-start, not
// the sum of its parts, so overlap is never counted twice.
func mergeSpans(sessions []domain.UsageSession, now time.Time) []span {
	if len(sessions) == 0 {
		return nil
	}

	sorted := make([]domain.UsageSession, len(sessions))
	copy(sorted, sessions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	end := func(s domain.UsageSession) time.Time {
		if s.End != nil {
			return *s.End
		}
		return now
	}

	spans := []span{{start: sorted[0].Start, end: end(sorted[0])}}

	for _, s := range sorted[1:] {
		current := &spans[len(spans)-1]
		sEnd := end(s)

		if !s.Start.After(current.end.Add(mergeGap)) {
			if sEnd.After(current.end) {
				current.end = sEnd
			}
		} else {
			spans = append(spans, span{start: s.Start, end: sEnd})
		}
	}

	return spans
}
