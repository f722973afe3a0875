package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/screenmon/agent/internal/domain"
)

type captureSink struct {
	sessions []*domain.UsageSession
}

func (c *captureSink) EnqueueSession(s *domain.UsageSession) {
	c.sessions = append(c.sessions, s)
}

func (c *captureSink) EnqueueMetric(*domain.SystemMetric) {}

func focusEvent(app, title string, pid int, at time.Time) domain.FocusEvent {
	return domain.FocusEvent{ProcessID: pid, AppName: app, WindowTitle: title, Timestamp: at}
}

func newTestForeground(sink domain.SessionSink) *Foreground {
	return NewForeground(sink, zap.NewNop())
}

func TestForeground_FirstEventOpensSession(t *testing.T) {
	sink := &captureSink{}
	fg := newTestForeground(sink)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	fg.HandleEvent(focusEvent("Chrome", "Inbox", 100, t0))

	cur := fg.Current()
	require.NotNil(t, cur)
	assert.Equal(t, "Chrome", cur.AppName)
	assert.Equal(t, t0, cur.Start)
	assert.Empty(t, sink.sessions, "no session closed yet")
}

func TestForeground_SwitchClosesPreviousSession(t *testing.T) {
	sink := &captureSink{}
	fg := newTestForeground(sink)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	fg.HandleEvent(focusEvent("Chrome", "Inbox", 100, t0))
	fg.HandleEvent(focusEvent("Code", "main.go", 200, t0.Add(10*time.Second)))

	require.Len(t, sink.sessions, 1)
	closed := sink.sessions[0]
	assert.Equal(t, "Chrome", closed.AppName)
	assert.True(t, closed.Closed())
	assert.Equal(t, int64(10_000), closed.DurationMs)

	cur := fg.Current()
	require.NotNil(t, cur)
	assert.Equal(t, "Code", cur.AppName)
}

// A same-app event replaces the open session with a fresh one; the previous
// elapsed time is discarded, not recorded. Long-standing behavior kept on
// purpose.
func TestForeground_SameAppReplacesWithoutClosing(t *testing.T) {
	sink := &captureSink{}
	fg := newTestForeground(sink)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	fg.HandleEvent(focusEvent("Chrome", "Inbox", 100, t0))
	fg.HandleEvent(focusEvent("Chrome", "Calendar", 100, t0.Add(30*time.Second)))

	assert.Empty(t, sink.sessions, "same-app change must not emit a session")

	cur := fg.Current()
	require.NotNil(t, cur)
	assert.Equal(t, "Calendar", cur.WindowTitle)
	assert.Equal(t, t0.Add(30*time.Second), cur.Start, "session restarted at the title change")
}

func TestForeground_SameAppComparisonIsCaseInsensitive(t *testing.T) {
	sink := &captureSink{}
	fg := newTestForeground(sink)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	fg.HandleEvent(focusEvent("chrome", "Inbox", 100, t0))
	fg.HandleEvent(focusEvent("Chrome", "Docs", 100, t0.Add(5*time.Second)))

	assert.Empty(t, sink.sessions)
}

// A brief flicker to another app (< debounce window, with an earlier transition
// on record) is ignored entirely: nothing closes, nothing opens.
func TestForeground_DebounceIgnoresFlicker(t *testing.T) {
	sink := &captureSink{}
	fg := newTestForeground(sink)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	fg.HandleEvent(focusEvent("Slack", "general", 50, t0))
	fg.HandleEvent(focusEvent("Chrome", "Inbox", 100, t0.Add(5*time.Second)))
	require.Len(t, sink.sessions, 1, "Slack closed by the real switch")

	// Notification toast 200ms later: ignored.
	fg.HandleEvent(focusEvent("Teams", "Incoming message", 300, t0.Add(5*time.Second+200*time.Millisecond)))

	assert.Len(t, sink.sessions, 1, "flicker must not close anything")
	cur := fg.Current()
	require.NotNil(t, cur)
	assert.Equal(t, "Chrome", cur.AppName)
	assert.Equal(t, t0.Add(5*time.Second), cur.Start, "current session unchanged")
}

// Without a prior transition on record the debounce rule does not apply: the
// very first switch closes the session even if it comes quickly.
func TestForeground_NoDebounceWithoutPendingPrevious(t *testing.T) {
	sink := &captureSink{}
	fg := newTestForeground(sink)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	fg.HandleEvent(focusEvent("Chrome", "Inbox", 100, t0))
	fg.HandleEvent(focusEvent("Code", "main.go", 200, t0.Add(100*time.Millisecond)))

	require.Len(t, sink.sessions, 1)
	assert.Equal(t, "Chrome", sink.sessions[0].AppName)
}

func TestForeground_SystemWindowsFiltered(t *testing.T) {
	sink := &captureSink{}
	fg := newTestForeground(sink)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	fg.HandleEvent(focusEvent("dwm", "Desktop Window Manager", 10, t0))
	fg.HandleEvent(focusEvent("Chrome", "", 100, t0))

	assert.Nil(t, fg.Current(), "filtered events never open a session")
}

func TestForeground_CloseFlushesOpenSession(t *testing.T) {
	sink := &captureSink{}
	fg := NewForeground(sink, zap.NewNop())
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	fg.now = func() time.Time { return t0.Add(42 * time.Second) }

	fg.HandleEvent(focusEvent("Chrome", "Inbox", 100, t0))
	fg.Close()

	require.Len(t, sink.sessions, 1)
	closed := sink.sessions[0]
	assert.True(t, closed.Closed())
	assert.Equal(t, int64(42_000), closed.DurationMs)
	assert.Nil(t, fg.Current())
}

func TestForeground_CloseWithoutSessionIsNoop(t *testing.T) {
	sink := &captureSink{}
	fg := newTestForeground(sink)

	fg.Close()

	assert.Empty(t, sink.sessions)
}

// One closed session per distinct dwell period for a well-spaced event stream.
func TestForeground_OneSessionPerDwellPeriod(t *testing.T) {
	sink := &captureSink{}
	fg := newTestForeground(sink)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	apps := []string{"Chrome", "Code", "Slack", "Chrome", "Terminal"}
	for i, app := range apps {
		fg.HandleEvent(focusEvent(app, app+" window", 100+i, t0.Add(time.Duration(i)*time.Minute)))
	}
	fg.Close()

	require.Len(t, sink.sessions, len(apps))
	for i, want := range apps {
		assert.Equal(t, want, sink.sessions[i].AppName)
	}
}
