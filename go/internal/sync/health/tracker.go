// Package health keeps the rolling network health picture used by the polling
// scheduler and the connection-quality indicator.
package health

import "time"

// Sample is a point-in-time copy of the tracked network health.
type Sample struct {
	SuccessRate        float64 `json:"successRate"`
	AvgLatencyMs       float64 `json:"avgLatencyMs"`
	ConsecutiveErrors  int     `json:"consecutiveErrors"`
	TotalRequests      int     `json:"totalRequests"`
	SuccessfulRequests int     `json:"successfulRequests"`
}

// Quality is a coarse bucket suitable for an indicator.
type Quality string

const (
	QualityGood Quality = "good"
	QualityFair Quality = "fair"
	QualityPoor Quality = "poor"
)

// QualityThresholds decide how a Sample maps onto a Quality.
type QualityThresholds struct {
	GoodSuccessRate float64       `yaml:"good_success_rate"`
	GoodMaxLatency  time.Duration `yaml:"good_max_latency"`
	PoorSuccessRate float64       `yaml:"poor_success_rate"`
	PoorConsecutive int           `yaml:"poor_consecutive_errors"`
}

// DefaultQualityThresholds returns the thresholds used by the mobile client.
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		GoodSuccessRate: 0.9,
		GoodMaxLatency:  500 * time.Millisecond,
		PoorSuccessRate: 0.5,
		PoorConsecutive: 3,
	}
}

// latencyWeight is the EWMA weight given to the newest latency sample.
const latencyWeight = 0.2

// Tracker is plain bookkeeping; it is owned by the engine goroutine and is not
// safe for concurrent use.
type Tracker struct {
	sample     Sample
	thresholds QualityThresholds
	metrics    MetricsCollector
}

// NewTracker creates a tracker. A fresh tracker reports a success rate of 1.
func NewTracker(thresholds QualityThresholds, metrics MetricsCollector) *Tracker {
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}
	return &Tracker{
		sample:     Sample{SuccessRate: 1},
		thresholds: thresholds,
		metrics:    metrics,
	}
}

// RecordSuccess folds a successful request into the sample.
func (t *Tracker) RecordSuccess(latency time.Duration) {
	ms := float64(latency) / float64(time.Millisecond)
	if ms < 0 {
		ms = 0
	}

	if t.sample.SuccessfulRequests == 0 {
		t.sample.AvgLatencyMs = ms
	} else {
		t.sample.AvgLatencyMs = latencyWeight*ms + (1-latencyWeight)*t.sample.AvgLatencyMs
	}
	t.sample.SuccessfulRequests++
	t.sample.TotalRequests++
	t.sample.ConsecutiveErrors = 0
	t.recomputeRate()

	t.metrics.RecordHealth(t.sample)
}

// RecordFailure folds a failed (or timed out) request into the sample.
func (t *Tracker) RecordFailure() {
	t.sample.TotalRequests++
	t.sample.ConsecutiveErrors++
	t.recomputeRate()

	t.metrics.RecordHealth(t.sample)
}

// Current returns a copy of the current sample.
func (t *Tracker) Current() Sample {
	return t.sample
}

// Quality classifies the current sample.
func (t *Tracker) Quality() Quality {
	s := t.sample
	th := t.thresholds
	switch {
	case s.SuccessRate < th.PoorSuccessRate || s.ConsecutiveErrors >= th.PoorConsecutive:
		return QualityPoor
	case s.SuccessRate >= th.GoodSuccessRate &&
		s.ConsecutiveErrors == 0 &&
		s.AvgLatencyMs < float64(th.GoodMaxLatency)/float64(time.Millisecond):
		return QualityGood
	default:
		return QualityFair
	}
}

func (t *Tracker) recomputeRate() {
	if t.sample.TotalRequests == 0 {
		t.sample.SuccessRate = 1
		return
	}
	t.sample.SuccessRate = float64(t.sample.SuccessfulRequests) / float64(t.sample.TotalRequests)
}
