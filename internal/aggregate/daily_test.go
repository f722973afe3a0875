package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/screenmon/agent/internal/domain"
)

var day = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func rawSession(app string, startOffset, endOffset time.Duration) domain.UsageSession {
	start := day.Add(startOffset)
	end := day.Add(endOffset)
	return domain.UsageSession{
		AppName:    app,
		Start:      start,
		End:        &end,
		DurationMs: end.Sub(start).Milliseconds(),
	}
}

// Worked example: [09:00-09:10], [09:05-09:20], [09:25-09:30] merge into two
// spans of 20min and 5min; the 5min overlap is not double-counted.
func TestSummarize_MergesOverlappingSessions(t *testing.T) {
	sessions := []domain.UsageSession{
		rawSession("AppX", 9*time.Hour, 9*time.Hour+10*time.Minute),
		rawSession("AppX", 9*time.Hour+5*time.Minute, 9*time.Hour+20*time.Minute),
		rawSession("AppX", 9*time.Hour+25*time.Minute, 9*time.Hour+30*time.Minute),
	}

	summaries := Summarize(sessions, day, day.Add(24*time.Hour))

	require.Len(t, summaries, 1)
	s := summaries[0]
	assert.Equal(t, "AppX", s.AppName)
	assert.Equal(t, 2, s.UsageCount)
	assert.Equal(t, int64(1_500_000), s.TotalUsageMs)
	assert.Equal(t, day.Add(9*time.Hour), s.FirstUse)
	assert.Equal(t, day.Add(9*time.Hour+30*time.Minute), s.LastUse)
}

func TestSummarize_AdjacentWithinOneSecondMerges(t *testing.T) {
	sessions := []domain.UsageSession{
		rawSession("AppX", 0, 10*time.Second),
		rawSession("AppX", 10*time.Second+500*time.Millisecond, 20*time.Second),
	}

	summaries := Summarize(sessions, day, day.Add(24*time.Hour))

	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].UsageCount)
	assert.Equal(t, int64(20_000), summaries[0].TotalUsageMs)
}

func TestSummarize_GapOverOneSecondSplits(t *testing.T) {
	sessions := []domain.UsageSession{
		rawSession("AppX", 0, 10*time.Second),
		rawSession("AppX", 12*time.Second, 20*time.Second),
	}

	summaries := Summarize(sessions, day, day.Add(24*time.Hour))

	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].UsageCount)
	assert.Equal(t, int64(18_000), summaries[0].TotalUsageMs)
}

// A session fully contained in an earlier one must not extend the span.
func TestSummarize_ContainedSessionDoesNotExtend(t *testing.T) {
	sessions := []domain.UsageSession{
		rawSession("AppX", 0, 30*time.Minute),
		rawSession("AppX", 5*time.Minute, 10*time.Minute),
	}

	summaries := Summarize(sessions, day, day.Add(24*time.Hour))

	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].UsageCount)
	assert.Equal(t, int64(30*60*1000), summaries[0].TotalUsageMs)
}

func TestSummarize_GroupsAppsCaseInsensitively(t *testing.T) {
	sessions := []domain.UsageSession{
		rawSession("chrome", 0, time.Minute),
		rawSession("Chrome", 10*time.Minute, 11*time.Minute),
		rawSession("Code", 20*time.Minute, 21*time.Minute),
	}

	summaries := Summarize(sessions, day, day.Add(24*time.Hour))

	require.Len(t, summaries, 2)
	assert.Equal(t, "chrome", summaries[0].AppName)
	assert.Equal(t, 2, summaries[0].UsageCount)
	assert.Equal(t, "Code", summaries[1].AppName)
}

func TestSummarize_UsageCountNeverExceedsRawCount(t *testing.T) {
	sessions := []domain.UsageSession{
		rawSession("AppX", 0, time.Minute),
		rawSession("AppX", 30*time.Second, 2*time.Minute),
		rawSession("AppX", 10*time.Minute, 11*time.Minute),
	}

	summaries := Summarize(sessions, day, day.Add(24*time.Hour))

	require.Len(t, summaries, 1)
	assert.LessOrEqual(t, summaries[0].UsageCount, len(sessions))
}

func TestSummarize_Empty(t *testing.T) {
	assert.Empty(t, Summarize(nil, day, day))
}

type memRepo struct {
	sessions  []domain.UsageSession
	summaries map[string]domain.DailyAppSummary
	upserts   int
}

func (m *memRepo) CreateSession(context.Context, *domain.UsageSession) error { return nil }
func (m *memRepo) SessionsByDate(context.Context, time.Time) ([]domain.UsageSession, error) {
	return m.sessions, nil
}
func (m *memRepo) SessionsByApp(context.Context, string, time.Time, time.Time) ([]domain.UsageSession, error) {
	return nil, nil
}
func (m *memRepo) HistoricalTotal(context.Context, string) (int64, error) { return 0, nil }
func (m *memRepo) DeleteSessionsBefore(context.Context, time.Time) error { return nil }
func (m *memRepo) UpsertSummary(_ context.Context, s *domain.DailyAppSummary) error {
	if m.summaries == nil {
		m.summaries = make(map[string]domain.DailyAppSummary)
	}
	m.summaries[s.AppName] = *s
	m.upserts++
	return nil
}
func (m *memRepo) SummariesByDate(context.Context, time.Time) ([]domain.DailyAppSummary, error) {
	return nil, nil
}

// Re-running aggregation on unchanged raw data replaces summaries with
// identical values.
func TestAggregateDay_Idempotent(t *testing.T) {
	repo := &memRepo{sessions: []domain.UsageSession{
		rawSession("AppX", 9*time.Hour, 9*time.Hour+10*time.Minute),
		rawSession("AppX", 9*time.Hour+5*time.Minute, 9*time.Hour+20*time.Minute),
	}}
	agg := NewAggregator(repo, repo, zap.NewNop())

	first, err := agg.AggregateDay(context.Background(), day)
	require.NoError(t, err)
	stored := repo.summaries["AppX"]

	second, err := agg.AggregateDay(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, stored, repo.summaries["AppX"])
	assert.Equal(t, 2, repo.upserts)
}
