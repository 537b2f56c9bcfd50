package models

import "time"

// SyncSnapshot is the last-known-good full server state. It is only displayed while
// the engine is recovering and is never newer than the latest applied update.
type SyncSnapshot struct {
	Session    RoomSession    `json:"session"`
	Players    []Player       `json:"players"`
	History    []HistoryEntry `json:"history"`
	Winner     string         `json:"winner,omitempty"`
	CapturedAt time.Time      `json:"capturedAt"`
}

// Clone returns a deep copy so readers never share slices with the writer.
func (s SyncSnapshot) Clone() SyncSnapshot {
	out := s
	out.Players = append([]Player(nil), s.Players...)
	out.History = append([]HistoryEntry(nil), s.History...)
	return out
}
