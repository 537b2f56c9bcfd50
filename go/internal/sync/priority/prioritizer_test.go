package priority

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrioritizer_LowRunsImmediatelyWhenIdle(t *testing.T) {
	p := New(clockwork.NewFakeClock(), 0)

	ran := false
	queued := p.Submit(Low, func() { ran = true })
	assert.False(t, queued)
	assert.True(t, ran)
	assert.Nil(t, p.WindowClosed())
}

func TestPrioritizer_HighDefersLowUntilWindowCloses(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := New(clock, 500*time.Millisecond)

	var order []string
	p.Submit(High, func() { order = append(order, "guess") })
	assert.True(t, p.HighActive())

	assert.True(t, p.Submit(Low, func() { order = append(order, "quick") }))
	assert.True(t, p.Submit(Low, func() { order = append(order, "full") }))
	assert.Equal(t, 2, p.Queued())
	assert.Equal(t, []string{"guess"}, order)

	clock.Advance(500 * time.Millisecond)
	select {
	case <-p.WindowClosed():
	case <-time.After(time.Second):
		t.Fatal("window never closed")
	}

	assert.Equal(t, 2, p.Release())
	assert.Equal(t, []string{"guess", "quick", "full"}, order)
	assert.False(t, p.HighActive())
	assert.Zero(t, p.Queued())
}

func TestPrioritizer_HighRunsDuringWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := New(clock, 0)

	count := 0
	p.Submit(High, func() { count++ })
	clock.Advance(200 * time.Millisecond)
	queued := p.Submit(High, func() { count++ })
	assert.False(t, queued)
	assert.Equal(t, 2, count)

	// second submission extends the single window
	clock.Advance(400 * time.Millisecond)
	assert.True(t, p.HighActive())
}

func TestPrioritizer_ReleaseBeforeExtendedWindowEnds(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := New(clock, 500*time.Millisecond)

	p.Submit(High, func() {})
	p.Submit(Low, func() {})
	clock.Advance(300 * time.Millisecond)
	p.Submit(High, func() {})

	assert.Equal(t, 0, p.Release(), "window still open")
	assert.Equal(t, 1, p.Queued())
	require.NotNil(t, p.WindowClosed())

	clock.Advance(500 * time.Millisecond)
	assert.Equal(t, 1, p.Release())
}

func TestPrioritizer_Clear(t *testing.T) {
	p := New(clockwork.NewFakeClock(), 0)
	p.Submit(High, func() {})
	p.Submit(Low, func() {})

	p.Clear()
	assert.False(t, p.HighActive())
	assert.Zero(t, p.Queued())
	assert.Nil(t, p.WindowClosed())
}
