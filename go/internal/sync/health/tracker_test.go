package health

import (
	"math/rand"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_SuccessResetsConsecutiveErrors(t *testing.T) {
	tr := NewTracker(DefaultQualityThresholds(), nil)

	tr.RecordFailure()
	tr.RecordFailure()
	require.Equal(t, 2, tr.Current().ConsecutiveErrors)

	tr.RecordSuccess(100 * time.Millisecond)
	s := tr.Current()
	assert.Equal(t, 0, s.ConsecutiveErrors)
	assert.Equal(t, 3, s.TotalRequests)
	assert.Equal(t, 1, s.SuccessfulRequests)
	assert.InDelta(t, 1.0/3.0, s.SuccessRate, 1e-9)
}

func TestTracker_LatencyEWMA(t *testing.T) {
	tr := NewTracker(DefaultQualityThresholds(), nil)

	tr.RecordSuccess(100 * time.Millisecond)
	assert.InDelta(t, 100, tr.Current().AvgLatencyMs, 1e-9)

	tr.RecordSuccess(200 * time.Millisecond)
	assert.InDelta(t, 120, tr.Current().AvgLatencyMs, 1e-9)

	// failures never touch latency
	tr.RecordFailure()
	assert.InDelta(t, 120, tr.Current().AvgLatencyMs, 1e-9)
}

func TestTracker_ConsecutiveErrorsInvariant(t *testing.T) {
	tr := NewTracker(DefaultQualityThresholds(), nil)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		before := tr.Current().ConsecutiveErrors
		if rng.Intn(3) == 0 {
			tr.RecordSuccess(time.Duration(rng.Intn(300)) * time.Millisecond)
			assert.Equal(t, 0, tr.Current().ConsecutiveErrors)
		} else {
			tr.RecordFailure()
			assert.Equal(t, before+1, tr.Current().ConsecutiveErrors)
		}
		s := tr.Current()
		assert.GreaterOrEqual(t, s.SuccessRate, 0.0)
		assert.LessOrEqual(t, s.SuccessRate, 1.0)
		assert.GreaterOrEqual(t, s.AvgLatencyMs, 0.0)
	}
}

func TestTracker_Quality(t *testing.T) {
	tr := NewTracker(DefaultQualityThresholds(), nil)
	assert.Equal(t, QualityGood, tr.Quality(), "no latency data yet still counts as fast")

	tr.RecordSuccess(50 * time.Millisecond)
	assert.Equal(t, QualityGood, tr.Quality())

	tr.RecordFailure()
	assert.Equal(t, QualityFair, tr.Quality())

	tr.RecordFailure()
	tr.RecordFailure()
	assert.Equal(t, QualityPoor, tr.Quality())
}

func TestPrometheusMetrics_RecordsRequestsAndHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)
	tr := NewTracker(DefaultQualityThresholds(), m)

	m.RecordRequest("/room/quick-status", true, 40*time.Millisecond)
	m.RecordRequest("/room/quick-status", false, 3*time.Second)
	tr.RecordFailure()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/room/quick-status", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.consecutiveErrors))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.successRate))
}
