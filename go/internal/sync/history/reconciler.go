// Package history merges server move lists into the displayed history without
// redrawing what is already on screen.
package history

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/mcdev12/numguess/go/internal/models"
)

// Signature is an ordered content digest of a history list.
type Signature struct {
	Sum   uint64 `json:"sum"`
	Count int    `json:"count"`
}

// IsZero reports whether no signature has been computed yet.
func (s Signature) IsZero() bool {
	return s == Signature{}
}

// ComputeSignature digests actor|guess|exact|partial|timestamp for every entry in
// order. Fields are length-prefixed so adjacent values cannot run together.
func ComputeSignature(entries []models.HistoryEntry) Signature {
	d := xxhash.New()
	var buf [8]byte
	writeInt := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = d.Write(buf[:])
	}
	writeStr := func(s string) {
		writeInt(int64(len(s)))
		_, _ = d.WriteString(s)
	}

	for _, e := range entries {
		writeStr(e.Actor)
		writeStr(e.Guess)
		writeInt(int64(e.ExactMatches))
		writeInt(int64(e.PartialMatches))
		writeInt(e.Timestamp.UnixNano())
	}
	return Signature{Sum: d.Sum64(), Count: len(entries)}
}

// Result describes one reconciliation.
type Result struct {
	// New holds the entries to render, in server order. On a rebuild it is the whole list.
	New       []models.HistoryEntry
	Rebuild   bool
	Changed   bool
	Signature Signature
}

// Reconciler keeps the displayed history. It is not safe for concurrent use.
type Reconciler struct {
	displayed []models.HistoryEntry
	index     map[models.HistoryKey]int
	sig       Signature
	primed    bool
}

// NewReconciler returns a reconciler whose first Reconcile is a full rebuild.
func NewReconciler() *Reconciler {
	return &Reconciler{index: make(map[models.HistoryKey]int)}
}

// Reconcile merges a server list. Identical input is a no-op; otherwise only
// entries whose identity is not yet displayed are appended. Displayed entries are
// never removed by a shorter server list.
func (r *Reconciler) Reconcile(server []models.HistoryEntry) Result {
	sig := ComputeSignature(server)
	if r.primed && sig == r.sig {
		return Result{Signature: sig}
	}

	if !r.primed {
		r.primed = true
		r.sig = sig
		for _, e := range server {
			r.appendEntry(e)
		}
		return Result{
			New:       r.Displayed(),
			Rebuild:   true,
			Changed:   true,
			Signature: sig,
		}
	}

	var fresh []models.HistoryEntry
	for _, e := range server {
		if r.appendEntry(e) {
			fresh = append(fresh, e)
		}
	}
	r.sig = sig
	return Result{New: fresh, Changed: true, Signature: sig}
}

// Reset clears the displayed set; the next Reconcile rebuilds from scratch.
func (r *Reconciler) Reset() {
	r.displayed = nil
	r.index = make(map[models.HistoryKey]int)
	r.sig = Signature{}
	r.primed = false
}

// Displayed returns a copy of the displayed entries.
func (r *Reconciler) Displayed() []models.HistoryEntry {
	return append([]models.HistoryEntry(nil), r.displayed...)
}

// Len is the number of displayed entries.
func (r *Reconciler) Len() int {
	return len(r.displayed)
}

// Signature of the last reconciled server list.
func (r *Reconciler) Signature() Signature {
	return r.sig
}

func (r *Reconciler) appendEntry(e models.HistoryEntry) bool {
	k := e.Key()
	if _, ok := r.index[k]; ok {
		return false
	}
	r.index[k] = len(r.displayed)
	r.displayed = append(r.displayed, e)
	return true
}
