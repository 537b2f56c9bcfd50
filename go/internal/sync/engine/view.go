package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/numguess/go/internal/models"
	"github.com/mcdev12/numguess/go/internal/sync/health"
	"github.com/mcdev12/numguess/go/internal/sync/history"
	"github.com/mcdev12/numguess/go/internal/sync/ledger"
	"github.com/mcdev12/numguess/go/internal/sync/polling"
	"github.com/mcdev12/numguess/go/internal/sync/recovery"
)

// HistoryLine is one rendered history row. Optimistic rows carry the id of the
// action that produced them.
type HistoryLine struct {
	models.HistoryEntry
	Pending  bool       `json:"pending,omitempty"`
	ActionID *uuid.UUID `json:"actionId,omitempty"`
}

// View is an immutable copy of everything the presentation layer renders.
type View struct {
	Session *models.RoomSession `json:"session,omitempty"`
	Players []models.Player     `json:"players"`
	History []HistoryLine       `json:"history"`
	// NewEntries are the entries appended by the last reconcile; the whole list
	// when Rebuild is set.
	NewEntries []models.HistoryEntry  `json:"newEntries,omitempty"`
	Rebuild    bool                   `json:"rebuild"`
	Signature  history.Signature      `json:"signature"`
	Pending    []ledger.PendingAction `json:"pending"`
	// Sending counts actions still waiting for the server.
	Sending int    `json:"sending"`
	Winner  string `json:"winner,omitempty"`

	Health       health.Sample  `json:"health"`
	Quality      health.Quality `json:"quality"`
	Recovery     recovery.State `json:"recovery"`
	Reconnecting bool           `json:"reconnecting"`
	// Stale is set while a cached snapshot is shown instead of live data.
	Stale      bool      `json:"stale"`
	SnapshotAt time.Time `json:"snapshotAt"`

	QuickInterval time.Duration `json:"quickInterval"`
	FullInterval  time.Duration `json:"fullInterval"`

	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MyTurn reports whether the local player is expected to act.
func (v View) MyTurn() bool {
	return v.Session != nil && v.Session.MyTurn()
}

// View returns the latest published view. Safe from any goroutine.
func (e *Engine) View() View {
	return *e.view.Load()
}

// Subscribe returns a channel that always holds the most recent view. Slow
// readers skip intermediate versions. The returned func unsubscribes.
func (e *Engine) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	ch <- e.View()

	e.subsMu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	e.subsMu.Unlock()

	var once bool
	return ch, func() {
		e.subsMu.Lock()
		defer e.subsMu.Unlock()
		if once {
			return
		}
		once = true
		delete(e.subs, id)
		close(ch)
	}
}

// publishView replaces the published view and fans it out without blocking.
func (e *Engine) publishView() {
	e.updateAbsorbed()
	e.version++
	v := e.buildView()
	e.view.Store(&v)

	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, ch := range e.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

func (e *Engine) buildView() View {
	v := View{
		Pending:      e.ledger.Snapshot(),
		Sending:      e.ledger.PendingCount(),
		Health:       e.health.Current(),
		Quality:      e.health.Quality(),
		Recovery:     e.recovery.State(),
		Reconnecting: e.recovery.Reconnecting(),
		Version:      e.version,
		UpdatedAt:    e.clock.Now(),
	}
	if e.session == nil {
		return v
	}

	sess := *e.session
	v.Session = &sess
	v.QuickInterval = e.sched.EffectiveDelay(polling.PathQuick)
	v.FullInterval = e.sched.EffectiveDelay(polling.PathFull)
	v.Signature = e.recon.Signature()

	var entries []models.HistoryEntry
	if e.stale && e.snapshot != nil {
		snap := e.snapshot.Clone()
		v.Stale = true
		v.SnapshotAt = snap.CapturedAt
		v.Players = snap.Players
		v.Winner = snap.Winner
		entries = snap.History
	} else {
		v.Players = append([]models.Player(nil), e.players...)
		v.Winner = e.winner
		v.NewEntries = append([]models.HistoryEntry(nil), e.lastNew...)
		v.Rebuild = e.lastRebuild
		entries = e.recon.Displayed()
		if e.snapshot != nil {
			v.SnapshotAt = e.snapshot.CapturedAt
		}
	}

	v.History = make([]HistoryLine, 0, len(entries)+len(e.baselines))
	for _, h := range entries {
		v.History = append(v.History, HistoryLine{HistoryEntry: h})
	}
	for _, a := range v.Pending {
		if a.Kind != ledger.KindGuess || e.absorbed[a.ID] {
			continue
		}
		id := a.ID
		line := HistoryLine{
			HistoryEntry: models.HistoryEntry{
				Actor:     sess.PlayerID,
				Guess:     a.Payload,
				Timestamp: a.CreatedAt,
			},
			Pending:  a.Status == ledger.StatusPending,
			ActionID: &id,
		}
		if a.Outcome != nil && a.Outcome.Guess != nil {
			line.ExactMatches = a.Outcome.Guess.ExactMatches
			line.PartialMatches = a.Outcome.Guess.PartialMatches
		}
		v.History = append(v.History, line)
	}
	return v
}

// updateAbsorbed hides optimistic guess lines once the server history holds the
// matching entry past the length recorded when the guess was made. Each server
// entry absorbs at most one guess.
func (e *Engine) updateAbsorbed() {
	if e.session == nil || len(e.baselines) == 0 {
		return
	}
	displayed := e.recon.Displayed()
	claimed := make(map[int]bool)

	for _, a := range e.ledger.Snapshot() {
		if a.Kind != ledger.KindGuess {
			continue
		}
		base, ok := e.baselines[a.ID]
		if !ok {
			continue
		}
		for i := base; i < len(displayed); i++ {
			if claimed[i] || displayed[i].Guess != a.Payload || !e.isMine(displayed[i].Actor) {
				continue
			}
			claimed[i] = true
			e.absorbed[a.ID] = true
			break
		}
	}

	// forget bookkeeping for actions the ledger no longer holds
	for id := range e.baselines {
		if _, ok := e.ledger.Get(id); !ok {
			delete(e.baselines, id)
			delete(e.absorbed, id)
		}
	}
}

// isMine matches history actors, which the server reports by id or by name.
func (e *Engine) isMine(actor string) bool {
	if actor == e.session.PlayerID {
		return true
	}
	for _, p := range e.players {
		if p.ID == e.session.PlayerID {
			return p.Name != "" && p.Name == actor
		}
	}
	return false
}
