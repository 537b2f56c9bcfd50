package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mcdev12/numguess/go/internal/models"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func entry(actor, guess string, exact, partial, sec int) models.HistoryEntry {
	return models.HistoryEntry{
		Actor:          actor,
		Guess:          guess,
		ExactMatches:   exact,
		PartialMatches: partial,
		Timestamp:      base.Add(time.Duration(sec) * time.Second),
	}
}

func TestReconciler_FirstSyncIsRebuild(t *testing.T) {
	r := NewReconciler()
	a, b := entry("p1", "12", 0, 1, 1), entry("p2", "34", 1, 0, 2)

	res := r.Reconcile([]models.HistoryEntry{a, b})
	assert.True(t, res.Rebuild)
	assert.True(t, res.Changed)
	assert.Equal(t, []models.HistoryEntry{a, b}, res.New)
	assert.Equal(t, 2, r.Len())
}

func TestReconciler_AppendsOnlyNew(t *testing.T) {
	r := NewReconciler()
	a, b, c, d := entry("p1", "12", 0, 1, 1), entry("p2", "34", 1, 0, 2), entry("p1", "56", 0, 0, 3), entry("p2", "78", 2, 0, 4)

	first := r.Reconcile([]models.HistoryEntry{a, b, c})
	res := r.Reconcile([]models.HistoryEntry{a, b, c, d})

	assert.False(t, res.Rebuild)
	assert.Equal(t, []models.HistoryEntry{d}, res.New)
	assert.NotEqual(t, first.Signature, res.Signature)
	assert.Equal(t, ComputeSignature([]models.HistoryEntry{a, b, c, d}), res.Signature)
	assert.Equal(t, []models.HistoryEntry{a, b, c, d}, r.Displayed())
}

func TestReconciler_Idempotent(t *testing.T) {
	r := NewReconciler()
	list := []models.HistoryEntry{entry("p1", "12", 0, 1, 1), entry("p2", "34", 1, 0, 2)}

	r.Reconcile(list)
	res := r.Reconcile(list)
	assert.False(t, res.Changed)
	assert.Empty(t, res.New)
}

func TestReconciler_SupersetReturnsDifferenceInServerOrder(t *testing.T) {
	r := NewReconciler()
	a, b := entry("p1", "12", 0, 1, 1), entry("p2", "34", 1, 0, 2)
	x, y := entry("p1", "90", 0, 2, 5), entry("p2", "11", 0, 0, 3)

	r.Reconcile([]models.HistoryEntry{a, b})
	res := r.Reconcile([]models.HistoryEntry{a, x, b, y})
	assert.Equal(t, []models.HistoryEntry{x, y}, res.New)
}

func TestReconciler_ShorterServerListNeverRemoves(t *testing.T) {
	r := NewReconciler()
	a, b := entry("p1", "12", 0, 1, 1), entry("p2", "34", 1, 0, 2)

	r.Reconcile([]models.HistoryEntry{a, b})
	res := r.Reconcile([]models.HistoryEntry{a})
	assert.True(t, res.Changed)
	assert.Empty(t, res.New)
	assert.Equal(t, 2, r.Len())
}

func TestReconciler_ResetForcesRebuild(t *testing.T) {
	r := NewReconciler()
	list := []models.HistoryEntry{entry("p1", "12", 0, 1, 1)}
	r.Reconcile(list)

	r.Reset()
	assert.Zero(t, r.Len())
	assert.True(t, r.Signature().IsZero())

	res := r.Reconcile(list)
	assert.True(t, res.Rebuild)
	assert.Equal(t, list, res.New)
}

func TestComputeSignature(t *testing.T) {
	a, b := entry("p1", "12", 0, 1, 1), entry("p2", "34", 1, 0, 2)

	assert.Equal(t, ComputeSignature([]models.HistoryEntry{a, b}), ComputeSignature([]models.HistoryEntry{a, b}))
	assert.NotEqual(t, ComputeSignature([]models.HistoryEntry{a, b}), ComputeSignature([]models.HistoryEntry{b, a}), "order matters")

	changed := a
	changed.ExactMatches = 2
	assert.NotEqual(t, ComputeSignature([]models.HistoryEntry{a}), ComputeSignature([]models.HistoryEntry{changed}))

	// "1"+"23" must not collide with "12"+"3"
	left := models.HistoryEntry{Actor: "1", Guess: "23", Timestamp: base}
	right := models.HistoryEntry{Actor: "12", Guess: "3", Timestamp: base}
	assert.NotEqual(t, ComputeSignature([]models.HistoryEntry{left}), ComputeSignature([]models.HistoryEntry{right}))

	empty := ComputeSignature(nil)
	assert.Equal(t, 0, empty.Count)
}
