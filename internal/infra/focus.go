package infra

import (
	"github.com/screenmon/agent/internal/domain"
)

// ChannelFocusSource is a push-based domain.FocusSource. The platform hook
// that observes foreground changes calls Push; consumers range over Events.
type ChannelFocusSource struct {
	ch chan domain.FocusEvent
}

// NewChannelFocusSource creates a focus source with a small buffer so a slow
// consumer does not stall the OS hook thread.
func NewChannelFocusSource(buffer int) *ChannelFocusSource {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelFocusSource{ch: make(chan domain.FocusEvent, buffer)}
}

// Push delivers one focus-change event. If the buffer is full the event is
// dropped rather than blocking the caller.
func (s *ChannelFocusSource) Push(ev domain.FocusEvent) bool {
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

// Events returns the delivery channel.
func (s *ChannelFocusSource) Events() <-chan domain.FocusEvent {
	return s.ch
}

// Close shuts the source down. Push must not be called afterwards.
func (s *ChannelFocusSource) Close() {
	close(s.ch)
}

var _ domain.FocusSource = (*ChannelFocusSource)(nil)
