// Package recovery decides when the engine stops trusting live polling, falls back
// to the last good snapshot, and how it eases back in.
//
// States move Normal -> Degrading -> Recovering -> Normal. The controller only
// decides; the engine owns the timers and the HTTP calls.
package recovery

import (
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/numguess/go/internal/sync/health"
	"github.com/mcdev12/numguess/go/internal/sync/polling"
)

// State of the controller.
type State string

const (
	StateNormal     State = "normal"
	StateDegrading  State = "degrading"
	StateRecovering State = "recovering"
)

// Config tunes recovery.
type Config struct {
	FailureThreshold int                    `yaml:"failure_threshold"`
	ResumeBaseDelay  time.Duration          `yaml:"resume_base_delay"`
	MaxResumeDelay   time.Duration          `yaml:"max_resume_delay"`
	HistoryScales    []polling.HistoryScale `yaml:"history_scales"`
	WarmUpTimeout    time.Duration          `yaml:"warm_up_timeout"`
	WidenFloor       time.Duration          `yaml:"widen_floor"`
	WidenFor         time.Duration          `yaml:"widen_for"`
}

// DefaultConfig returns the stock recovery tuning.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		ResumeBaseDelay:  2 * time.Second,
		MaxResumeDelay:   30 * time.Second,
		HistoryScales:    polling.DefaultHistoryScales(),
		WarmUpTimeout:    20 * time.Second,
		WidenFloor:       2 * time.Second,
		WidenFor:         30 * time.Second,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.FailureThreshold < 1 {
		return errors.New("failure threshold must be at least 1")
	}
	if c.ResumeBaseDelay <= 0 || c.MaxResumeDelay < c.ResumeBaseDelay {
		return errors.New("resume delays must be positive and max >= base")
	}
	if c.WarmUpTimeout <= 0 {
		return errors.New("warm-up timeout must be positive")
	}
	return nil
}

// Decision tells the engine what to do after a failure.
type Decision struct {
	// EnterRecovering: show the cached snapshot, pause polling, set the indicator.
	EnterRecovering bool
	// ResumeAfter is the delay before the single resumption attempt.
	ResumeAfter time.Duration
	// WarmUp: ping the health endpoint before polling again.
	WarmUp bool
}

// Controller is owned by the engine goroutine and is not safe for concurrent use.
type Controller struct {
	cfg     Config
	clock   clockwork.Clock
	metrics health.MetricsCollector

	state          State
	retries        int
	cycles         int
	awaitingResume bool
	warming        bool
	warmCooldown   time.Time
}

// NewController creates a controller in the Normal state.
func NewController(cfg Config, clock clockwork.Clock, metrics health.MetricsCollector) *Controller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if metrics == nil {
		metrics = &health.NoOpMetricsCollector{}
	}
	return &Controller{cfg: cfg, clock: clock, metrics: metrics, state: StateNormal}
}

// OnFailure folds a failed background request into the state machine.
// historyLen scales the resume delay for long matches.
func (c *Controller) OnFailure(kind FailureKind, historyLen int) Decision {
	if kind == KindRejected {
		return Decision{}
	}

	var d Decision
	c.retries++

	if kind == KindColdStart && !c.warming && !c.clock.Now().Before(c.warmCooldown) {
		c.warming = true
		d.WarmUp = true
		log.Warn().Msg("backend looks cold, scheduling warm-up ping")
	}

	// one entry per cycle: failures while the resume attempt is pending don't count again
	if c.awaitingResume {
		return d
	}

	if c.retries < c.cfg.FailureThreshold {
		c.state = StateDegrading
		return d
	}

	c.state = StateRecovering
	c.awaitingResume = true
	c.retries = 0
	c.cycles++
	d.EnterRecovering = true
	d.ResumeAfter = c.ResumeDelay(historyLen)
	c.metrics.RecordRecoveryEntered(kind == KindColdStart)

	log.Warn().
		Int("cycle", c.cycles).
		Str("kind", string(kind)).
		Dur("resume_after", d.ResumeAfter).
		Msg("entering recovery mode")
	return d
}

// OnSuccess returns the controller to Normal. It reports whether it was recovering
// or degrading before.
func (c *Controller) OnSuccess() bool {
	was := c.state != StateNormal
	c.state = StateNormal
	c.retries = 0
	c.cycles = 0
	c.awaitingResume = false
	if was {
		log.Info().Msg("connection recovered")
	}
	return was
}

// ResumeDue marks the scheduled resumption attempt as started. Failures after this
// point count toward the next cycle.
func (c *Controller) ResumeDue() {
	c.awaitingResume = false
}

// WarmUpFinished ends the warm-up and returns the widened cadence the engine should
// apply. Further warm-ups are suppressed while the widened cadence is in effect.
func (c *Controller) WarmUpFinished(ok bool) (floor, duration time.Duration) {
	c.warming = false
	c.warmCooldown = c.clock.Now().Add(c.cfg.WidenFor)
	log.Info().Bool("healthy", ok).Msg("warm-up ping finished")
	return c.cfg.WidenFloor, c.cfg.WidenFor
}

// ResumeDelay is the wait before a resumption attempt: base scaled by history
// length, doubled per consecutive cycle, capped.
func (c *Controller) ResumeDelay(historyLen int) time.Duration {
	d := time.Duration(float64(c.cfg.ResumeBaseDelay) * polling.ScaleFor(c.cfg.HistoryScales, historyLen))
	for i := 1; i < c.cycles && d < c.cfg.MaxResumeDelay; i++ {
		d *= 2
	}
	if d > c.cfg.MaxResumeDelay {
		d = c.cfg.MaxResumeDelay
	}
	return d
}

// Reset forgets everything, e.g. for a new session.
func (c *Controller) Reset() {
	c.state = StateNormal
	c.retries = 0
	c.cycles = 0
	c.awaitingResume = false
	c.warming = false
	c.warmCooldown = time.Time{}
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// Retries is the failure count of the current cycle.
func (c *Controller) Retries() int {
	return c.retries
}

// Cycles is the number of consecutive recovery cycles since the last success.
func (c *Controller) Cycles() int {
	return c.cycles
}

func (c *Controller) WarmingUp() bool {
	return c.warming
}

func (c *Controller) AwaitingResume() bool {
	return c.awaitingResume
}

func (c *Controller) WarmUpTimeout() time.Duration {
	return c.cfg.WarmUpTimeout
}

// Reconnecting drives the non-blocking indicator.
func (c *Controller) Reconnecting() bool {
	return c.state == StateRecovering || c.warming
}
