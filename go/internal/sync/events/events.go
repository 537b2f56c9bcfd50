// Package events carries sync engine notifications to out-of-process observers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Type names a sync event.
type Type string

const (
	TypeSessionJoined   Type = "session_joined"
	TypeSessionLeft     Type = "session_left"
	TypeTurnChanged     Type = "turn_changed"
	TypeStateChanged    Type = "state_changed"
	TypeHistoryAppended Type = "history_appended"
	TypeHistoryRebuilt  Type = "history_rebuilt"
	TypeActionConfirmed Type = "action_confirmed"
	TypeActionFailed    Type = "action_failed"
	TypeRecoveryEntered Type = "recovery_entered"
	TypeRecovered       Type = "recovered"
	TypeWarmUp          Type = "warm_up"
)

// Event is the envelope published for every notification.
type Event struct {
	ID        uuid.UUID       `json:"eventId"`
	Type      Type            `json:"eventType"`
	RoomID    string          `json:"roomId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// New builds an event, marshalling payload when non-nil.
func New(t Type, roomID string, at time.Time, payload interface{}) (Event, error) {
	ev := Event{
		ID:        uuid.New(),
		Type:      t,
		RoomID:    roomID,
		Timestamp: at,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
		}
		ev.Payload = data
	}
	return ev, nil
}

// Publisher delivers events. Implementations must not block the caller for long;
// the engine treats every error as log-and-continue.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NoOpPublisher drops every event.
type NoOpPublisher struct{}

func (NoOpPublisher) Publish(ctx context.Context, event Event) error { return nil }

// LogPublisher writes events to the debug log.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, event Event) error {
	log.Debug().
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.Type)).
		Str("room_id", event.RoomID).
		Msg("sync event")
	return nil
}

// MultiPublisher fans an event out to every publisher and returns the first error.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, event Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
