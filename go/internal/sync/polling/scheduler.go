// Package polling owns the adaptive polling cadences of the sync engine.
package polling

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/mcdev12/numguess/go/internal/sync/health"
)

// Path identifies one of the two polling cadences.
type Path string

const (
	// PathQuick is the cheap turn/state-only poll.
	PathQuick Path = "quick"
	// PathFull is the state + history poll.
	PathFull Path = "full"
)

// Options configures a Scheduler.
type Options struct {
	Quick         Config         `yaml:"quick"`
	Full          Config         `yaml:"full"`
	HistoryScales []HistoryScale `yaml:"history_scales"`
	// QuickMinGap suppresses quick-status requests fired closer together than this.
	QuickMinGap time.Duration `yaml:"quick_min_gap"`
}

// DefaultOptions returns the stock cadences.
func DefaultOptions() Options {
	return Options{
		Quick:         DefaultQuickConfig(),
		Full:          DefaultFullConfig(),
		HistoryScales: DefaultHistoryScales(),
		QuickMinGap:   100 * time.Millisecond,
	}
}

type cadence struct {
	cfg    Config
	timer  clockwork.Timer
	cancel chan struct{}
	gen    uint64
}

// Scheduler drives two repeating timers whose periods adapt to request outcomes.
// Ticks are delivered through the OnTick callback from a timer goroutine; the
// callback must not block.
type Scheduler struct {
	clock   clockwork.Clock
	metrics health.MetricsCollector

	mu         sync.Mutex
	cadences   map[Path]*cadence
	scales     []HistoryScale
	historyLen int
	floor      time.Duration
	floorUntil time.Time
	running    bool
	paused     bool
	onTick     func(Path)

	quickLimiter *rate.Limiter
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(clock clockwork.Clock, opts Options, metrics health.MetricsCollector) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if metrics == nil {
		metrics = &health.NoOpMetricsCollector{}
	}
	quick := opts.Quick
	quick.Reset()
	full := opts.Full
	full.Reset()

	gap := opts.QuickMinGap
	if gap <= 0 {
		gap = 100 * time.Millisecond
	}

	return &Scheduler{
		clock:   clock,
		metrics: metrics,
		cadences: map[Path]*cadence{
			PathQuick: {cfg: quick},
			PathFull:  {cfg: full},
		},
		scales:       opts.HistoryScales,
		quickLimiter: rate.NewLimiter(rate.Every(gap), 1),
	}
}

// OnTick registers the tick callback. It replaces any previous callback.
func (s *Scheduler) OnTick(fn func(Path)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTick = fn
}

// Start arms both cadences. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.paused = false
	s.armAll()
	log.Debug().
		Dur("quick", s.cadences[PathQuick].cfg.Current).
		Dur("full", s.cadences[PathFull].cfg.Current).
		Msg("polling scheduler started")
}

// Stop cancels every timer. No tick fires after Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.cancelAll()
	log.Debug().Msg("polling scheduler stopped")
}

// Pause cancels timers without forgetting the adapted intervals.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.paused {
		return
	}
	s.paused = true
	s.cancelAll()
}

// Resume re-arms timers after Pause.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || !s.paused {
		return
	}
	s.paused = false
	s.armAll()
}

// Paused reports whether ticks are currently suspended.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Reset restores both paths to their base interval, e.g. for a new session.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cadences {
		c.cfg.Reset()
	}
	s.historyLen = 0
	s.floorUntil = time.Time{}
	s.quickLimiter = rate.NewLimiter(s.quickLimiter.Limit(), 1)
	if s.running && !s.paused {
		s.armAll()
	}
}

// ReportOutcome adapts the path's interval and re-arms its timer.
func (s *Scheduler) ReportOutcome(path Path, success bool) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cadences[path]
	if !ok {
		return 0
	}
	prev := c.cfg.Current
	next := c.cfg.Apply(success)
	s.metrics.RecordPollInterval(string(path), next)

	if prev != next {
		log.Debug().
			Str("path", string(path)).
			Bool("success", success).
			Dur("from", prev).
			Dur("to", next).
			Msg("polling interval adjusted")
	}

	if s.running && !s.paused {
		s.arm(path)
	}
	return next
}

// SetHistoryLength updates the displayed history size used to scale the full path.
func (s *Scheduler) SetHistoryLength(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := ScaleFor(s.scales, s.historyLen)
	s.historyLen = n
	if ScaleFor(s.scales, n) != before && s.running && !s.paused {
		s.arm(PathFull)
	}
}

// Widen enforces a minimum delay on both paths for the given duration.
func (s *Scheduler) Widen(floor, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.floor = floor
	s.floorUntil = s.clock.Now().Add(duration)
	log.Info().Dur("floor", floor).Dur("for", duration).Msg("polling cadence widened")
	if s.running && !s.paused {
		s.armAll()
	}
}

// AllowQuick reports whether a quick-status request may be issued now.
func (s *Scheduler) AllowQuick() bool {
	return s.quickLimiter.AllowN(s.clock.Now(), 1)
}

// Interval returns a copy of a path's config.
func (s *Scheduler) Interval(path Path) Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cadences[path].cfg
}

// EffectiveDelay is the delay the next timer for path is armed with.
func (s *Scheduler) EffectiveDelay(path Path) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveDelay(path)
}

func (s *Scheduler) effectiveDelay(path Path) time.Duration {
	d := s.cadences[path].cfg.Current
	if path == PathFull {
		d = time.Duration(float64(d) * ScaleFor(s.scales, s.historyLen))
	}
	if !s.floorUntil.IsZero() && s.clock.Now().Before(s.floorUntil) && d < s.floor {
		d = s.floor
	}
	return d
}

func (s *Scheduler) armAll() {
	s.arm(PathQuick)
	s.arm(PathFull)
}

func (s *Scheduler) cancelAll() {
	for _, c := range s.cadences {
		s.replaceTimer(c, nil, nil)
	}
}

// arm cancels any pending timer for path and schedules a fresh one. mu must be held.
func (s *Scheduler) arm(path Path) {
	c := s.cadences[path]
	delay := s.effectiveDelay(path)
	timer := s.clock.NewTimer(delay)
	cancel := make(chan struct{})

	s.replaceTimer(c, timer, cancel)
	c.gen++
	go s.wait(path, timer, cancel, c.gen)
}

// replaceTimer stops the existing timer for a cadence and installs the new one.
func (s *Scheduler) replaceTimer(c *cadence, timer clockwork.Timer, cancel chan struct{}) {
	if c.timer != nil {
		stopAndDrainTimer(c.timer)
		close(c.cancel)
	}
	c.timer = timer
	c.cancel = cancel
	if timer == nil {
		c.gen++
	}
}

func (s *Scheduler) wait(path Path, timer clockwork.Timer, cancel chan struct{}, gen uint64) {
	select {
	case <-timer.Chan():
		s.mu.Lock()
		c := s.cadences[path]
		if !s.running || s.paused || c.gen != gen {
			s.mu.Unlock()
			return
		}
		cb := s.onTick
		// repeating: the next period starts now
		s.arm(path)
		s.mu.Unlock()

		if cb != nil {
			cb(path)
		}
	case <-cancel:
	}
}

// stopAndDrainTimer safely stops a timer and drains its channel.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
