// Package priority keeps user actions ahead of routine polling.
package priority

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Class is the priority of a unit of work.
type Class int

const (
	// Low is routine background polling.
	Low Class = iota
	// High is an explicit user action: guess, set secret, start, manual refresh.
	High
)

func (c Class) String() string {
	if c == High {
		return "high"
	}
	return "low"
}

// DefaultWindow is how long a high-priority submission holds back background work.
const DefaultWindow = 500 * time.Millisecond

// Prioritizer is owned by the engine goroutine and is not safe for concurrent use.
// The owner must select on WindowClosed and call Release to drain deferred work.
type Prioritizer struct {
	clock     clockwork.Clock
	window    time.Duration
	highUntil time.Time
	timer     clockwork.Timer
	queue     []func()
}

// New creates a prioritizer. A non-positive window falls back to DefaultWindow.
func New(clock clockwork.Clock, window time.Duration) *Prioritizer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Prioritizer{clock: clock, window: window}
}

// Submit runs work now unless it is low priority and the high-priority window is
// open, in which case it is queued. It reports whether work was queued.
func (p *Prioritizer) Submit(class Class, work func()) bool {
	if class == High {
		p.openWindow()
		work()
		return false
	}
	if p.HighActive() {
		p.queue = append(p.queue, work)
		return true
	}
	work()
	return false
}

// HighActive reports whether the exclusivity window is open.
func (p *Prioritizer) HighActive() bool {
	return !p.highUntil.IsZero() && p.clock.Now().Before(p.highUntil)
}

// Queued is the number of deferred low-priority items.
func (p *Prioritizer) Queued() int {
	return len(p.queue)
}

// WindowClosed fires when the current window ends. Nil when no window is open.
func (p *Prioritizer) WindowClosed() <-chan time.Time {
	if p.timer == nil {
		return nil
	}
	return p.timer.Chan()
}

// Release drains queued work in FIFO order once the window has closed and returns
// how many items ran.
func (p *Prioritizer) Release() int {
	if p.HighActive() {
		// window was extended after the timer fired
		p.armTimer(p.highUntil.Sub(p.clock.Now()))
		return 0
	}
	p.stopTimer()
	p.highUntil = time.Time{}

	queued := p.queue
	p.queue = nil
	for _, work := range queued {
		work()
	}
	if len(queued) > 0 {
		log.Debug().Int("count", len(queued)).Msg("drained deferred background work")
	}
	return len(queued)
}

// Clear closes the window and forgets queued work, e.g. when the session ends.
func (p *Prioritizer) Clear() {
	p.stopTimer()
	p.highUntil = time.Time{}
	p.queue = nil
}

// openWindow starts or extends the single exclusivity window.
func (p *Prioritizer) openWindow() {
	p.highUntil = p.clock.Now().Add(p.window)
	p.armTimer(p.window)
}

func (p *Prioritizer) armTimer(d time.Duration) {
	p.stopTimer()
	p.timer = p.clock.NewTimer(d)
}

func (p *Prioritizer) stopTimer() {
	if p.timer == nil {
		return
	}
	if !p.timer.Stop() {
		select {
		case <-p.timer.Chan():
		default:
		}
	}
	p.timer = nil
}
