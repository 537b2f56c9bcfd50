package polling

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the adaptive interval for one polling path.
// Invariant: Min <= Current <= Max.
type Config struct {
	Base            time.Duration `yaml:"base"`
	Current         time.Duration `yaml:"-"`
	Min             time.Duration `yaml:"min"`
	Max             time.Duration `yaml:"max"`
	ErrorMultiplier float64       `yaml:"error_multiplier"`
	SuccessDivider  float64       `yaml:"success_divider"`
}

// DefaultQuickConfig is the fast "quick status" cadence.
func DefaultQuickConfig() Config {
	return Config{
		Base:            500 * time.Millisecond,
		Current:         500 * time.Millisecond,
		Min:             200 * time.Millisecond,
		Max:             5 * time.Second,
		ErrorMultiplier: 1.5,
		SuccessDivider:  1.2,
	}
}

// DefaultFullConfig is the background state + history cadence.
func DefaultFullConfig() Config {
	return Config{
		Base:            3 * time.Second,
		Current:         3 * time.Second,
		Min:             2 * time.Second,
		Max:             15 * time.Second,
		ErrorMultiplier: 1.5,
		SuccessDivider:  1.2,
	}
}

// Validate checks the static bounds of the config.
func (c Config) Validate() error {
	if c.Min <= 0 {
		return errors.New("min interval must be positive")
	}
	if c.Min > c.Max {
		return fmt.Errorf("min interval %s exceeds max interval %s", c.Min, c.Max)
	}
	if c.Base < c.Min || c.Base > c.Max {
		return fmt.Errorf("base interval %s outside [%s, %s]", c.Base, c.Min, c.Max)
	}
	if c.ErrorMultiplier <= 1 {
		return fmt.Errorf("error multiplier must be > 1, got %v", c.ErrorMultiplier)
	}
	if c.SuccessDivider <= 1 {
		return fmt.Errorf("success divider must be > 1, got %v", c.SuccessDivider)
	}
	return nil
}

// Reset puts Current back to Base.
func (c *Config) Reset() {
	c.Current = c.clamp(c.Base)
}

// Apply adjusts Current for one request outcome and returns the new value.
func (c *Config) Apply(success bool) time.Duration {
	cur := c.clamp(c.Current)
	if success {
		cur = time.Duration(float64(cur) / c.SuccessDivider)
		if cur < c.Min {
			cur = c.Min
		}
	} else {
		cur = time.Duration(float64(cur) * c.ErrorMultiplier)
		if cur > c.Max {
			cur = c.Max
		}
	}
	c.Current = c.clamp(cur)
	return c.Current
}

func (c Config) clamp(d time.Duration) time.Duration {
	if d < c.Min {
		return c.Min
	}
	if d > c.Max {
		return c.Max
	}
	return d
}

// HistoryScale slows the full-sync path as a match grows.
type HistoryScale struct {
	Above  int     `yaml:"above"`
	Factor float64 `yaml:"factor"`
}

// DefaultHistoryScales: x1.5 past 20 entries, x2 past 40.
func DefaultHistoryScales() []HistoryScale {
	return []HistoryScale{
		{Above: 20, Factor: 1.5},
		{Above: 40, Factor: 2},
	}
}

// ScaleFor returns the factor for a history length; 1 when no tier applies.
func ScaleFor(scales []HistoryScale, historyLen int) float64 {
	factor := 1.0
	best := -1
	for _, s := range scales {
		if historyLen > s.Above && s.Above > best {
			best = s.Above
			factor = s.Factor
		}
	}
	return factor
}
