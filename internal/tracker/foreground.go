// Package tracker converts raw OS focus and process signals into usage sessions.
package tracker

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/screenmon/agent/internal/classify"
	"github.com/screenmon/agent/internal/domain"
)

// DefaultDebounceWindow is the threshold below which a focus change is treated
// as a transient flicker (notification toast, tooltip) and ignored.
const DefaultDebounceWindow = 500 * time.Millisecond

// Foreground tracks the application holding input focus. It consumes a
// serialized stream of focus-change events, keeps at most one open session,
// and hands closed sessions to the sink.
//
// Known quirk, kept deliberately: a focus event for the same application
// (e.g. a window-title change) replaces the open session with a fresh one,
// discarding the elapsed time instead of closing it. Changing this needs
// product sign-off since persisted history would shift.
type Foreground struct {
	mu             sync.Mutex
	current        *domain.UsageSession
	pending        *domain.UsageSession
	lastTransition time.Time

	debounce time.Duration
	sink     domain.SessionSink
	logger   *zap.Logger
	now      func() time.Time
}

// NewForeground creates a foreground session tracker.
func NewForeground(sink domain.SessionSink, logger *zap.Logger) *Foreground {
	return &Foreground{
		debounce: DefaultDebounceWindow,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
	}
}

// SetDebounceWindow overrides the flicker threshold. Call before the first
// event is delivered.
func (f *Foreground) SetDebounceWindow(d time.Duration) {
	if d >= 0 {
		f.debounce = d
	}
}

// HandleEvent processes one focus-change event. Events are expected in arrival
// order; the call never blocks on the sink.
func (f *Foreground) HandleEvent(ev domain.FocusEvent) {
	if classify.IsSystemWindow(ev.AppName, ev.WindowTitle) {
		return
	}

	now := ev.Timestamp
	if now.IsZero() {
		now = f.now()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current != nil && !strings.EqualFold(f.current.AppName, ev.AppName) {
		elapsed := now.Sub(f.lastTransition)

		if elapsed < f.debounce && f.pending != nil {
			// Brief focus flicker: ignore, keep the current session open.
			f.logger.Debug("transient focus change ignored",
				zap.String("app", ev.AppName),
				zap.Duration("elapsed", elapsed))
			return
		}

		f.current.Close(now)
		f.sink.EnqueueSession(f.current)
		f.logger.Debug("session closed",
			zap.String("app", f.current.AppName),
			zap.Int64("duration_ms", f.current.DurationMs))
	}

	f.pending = f.current
	f.current = newSession(ev, now)
	f.lastTransition = now
}

// Current returns a copy of the open session, if any.
func (f *Foreground) Current() *domain.UsageSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return nil
	}
	cp := *f.current
	return &cp
}

// Close ends the open session, if any, and hands it to the sink.
func (f *Foreground) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current == nil {
		return
	}
	f.current.Close(f.now())
	f.sink.EnqueueSession(f.current)
	f.current = nil
	f.pending = nil
}

func newSession(ev domain.FocusEvent, now time.Time) *domain.UsageSession {
	return &domain.UsageSession{
		AppName:     ev.AppName,
		WindowTitle: ev.WindowTitle,
		ProcessID:   ev.ProcessID,
		Start:       now,
		CreatedAt:   now,
	}
}
