// Package ledger tracks locally initiated actions from optimistic display until the
// server confirms or rejects them.
package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/numguess/go/internal/models"
)

var (
	ErrNotFound        = errors.New("pending action not found")
	ErrAlreadyResolved = errors.New("pending action already resolved")
)

// DefaultRetention is how long confirmed actions stay visible before Purge drops them.
const DefaultRetention = 5 * time.Minute

// Kind is the type of user action.
type Kind string

const (
	KindGuess     Kind = "guess"
	KindSetSecret Kind = "set-secret"
	KindStartGame Kind = "start-game"
	KindSkipTurn  Kind = "skip-turn"
)

// Status moves pending -> confirmed | failed exactly once.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Outcome is what the server said about an action.
type Outcome struct {
	Guess     *models.GuessResult `json:"guess,omitempty"`
	GameState models.GameState    `json:"gameState,omitempty"`
	Message   string              `json:"message,omitempty"`
}

// PendingAction is one optimistic user action.
type PendingAction struct {
	ID         uuid.UUID `json:"id"`
	Kind       Kind      `json:"kind"`
	Payload    string    `json:"payload"`
	CreatedAt  time.Time `json:"createdAt"`
	Status     Status    `json:"status"`
	Outcome    *Outcome  `json:"outcome,omitempty"`
	ResolvedAt time.Time `json:"resolvedAt"`
}

func (a *PendingAction) clone() PendingAction {
	out := *a
	if a.Outcome != nil {
		o := *a.Outcome
		if a.Outcome.Guess != nil {
			g := *a.Outcome.Guess
			o.Guess = &g
		}
		out.Outcome = &o
	}
	return out
}

// Ledger is owned by a single goroutine and is not safe for concurrent use.
type Ledger struct {
	clock     clockwork.Clock
	retention time.Duration
	actions   []*PendingAction
}

// New creates an empty ledger. A non-positive retention falls back to DefaultRetention.
func New(clock clockwork.Clock, retention time.Duration) *Ledger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Ledger{clock: clock, retention: retention}
}

// AddPending records a new action and returns its id. The id doubles as the
// idempotency key sent to the server.
func (l *Ledger) AddPending(kind Kind, payload string) uuid.UUID {
	a := &PendingAction{
		ID:        uuid.New(),
		Kind:      kind,
		Payload:   payload,
		CreatedAt: l.clock.Now(),
		Status:    StatusPending,
	}
	l.actions = append(l.actions, a)
	return a.ID
}

// Confirm resolves the action with the given id.
func (l *Ledger) Confirm(id uuid.UUID, outcome Outcome) (PendingAction, error) {
	i := l.indexOf(id)
	if i < 0 {
		return PendingAction{}, ErrNotFound
	}
	return l.confirmAt(i, outcome)
}

// ConfirmMatch resolves the earliest pending action with the same kind and payload.
// Used when the server response does not echo the client action id.
func (l *Ledger) ConfirmMatch(kind Kind, payload string, outcome Outcome) (PendingAction, error) {
	for i, a := range l.actions {
		if a.Status == StatusPending && a.Kind == kind && a.Payload == payload {
			return l.confirmAt(i, outcome)
		}
	}
	return PendingAction{}, ErrNotFound
}

// Resolve confirms by id when the server echoed one, falling back to kind+payload.
func (l *Ledger) Resolve(echoedID string, kind Kind, payload string, outcome Outcome) (PendingAction, error) {
	if echoedID != "" {
		if id, err := uuid.Parse(echoedID); err == nil {
			if a, err := l.Confirm(id, outcome); !errors.Is(err, ErrNotFound) {
				return a, err
			}
		}
	}
	return l.ConfirmMatch(kind, payload, outcome)
}

// Rollback marks the action failed and removes it from the ledger.
func (l *Ledger) Rollback(id uuid.UUID) (PendingAction, error) {
	i := l.indexOf(id)
	if i < 0 {
		return PendingAction{}, ErrNotFound
	}
	a := l.actions[i]
	if a.Status.Terminal() {
		return a.clone(), ErrAlreadyResolved
	}
	a.Status = StatusFailed
	a.ResolvedAt = l.clock.Now()
	l.actions = append(l.actions[:i], l.actions[i+1:]...)
	return a.clone(), nil
}

// Get returns a copy of an action.
func (l *Ledger) Get(id uuid.UUID) (PendingAction, bool) {
	i := l.indexOf(id)
	if i < 0 {
		return PendingAction{}, false
	}
	return l.actions[i].clone(), true
}

// Snapshot returns copies of every tracked action in creation order.
func (l *Ledger) Snapshot() []PendingAction {
	out := make([]PendingAction, 0, len(l.actions))
	for _, a := range l.actions {
		out = append(out, a.clone())
	}
	return out
}

// PendingCount is the number of unresolved actions.
func (l *Ledger) PendingCount() int {
	n := 0
	for _, a := range l.actions {
		if a.Status == StatusPending {
			n++
		}
	}
	return n
}

// Purge drops confirmed actions older than the retention window and returns how
// many were removed. Pending actions are never purged by age.
func (l *Ledger) Purge() int {
	cutoff := l.clock.Now().Add(-l.retention)
	kept := l.actions[:0]
	removed := 0
	for _, a := range l.actions {
		if a.Status == StatusConfirmed && a.ResolvedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	for i := len(kept); i < len(l.actions); i++ {
		l.actions[i] = nil
	}
	l.actions = kept
	return removed
}

// Clear forgets everything, e.g. when the session ends.
func (l *Ledger) Clear() {
	l.actions = nil
}

func (l *Ledger) confirmAt(i int, outcome Outcome) (PendingAction, error) {
	a := l.actions[i]
	if a.Status.Terminal() {
		return a.clone(), ErrAlreadyResolved
	}
	a.Status = StatusConfirmed
	a.ResolvedAt = l.clock.Now()
	a.Outcome = &outcome
	return a.clone(), nil
}

func (l *Ledger) indexOf(id uuid.UUID) int {
	for i, a := range l.actions {
		if a.ID == id {
			return i
		}
	}
	return -1
}
