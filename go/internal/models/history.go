package models

import "time"

// HistoryEntry is one recorded guess. Entries are immutable once created.
type HistoryEntry struct {
	Actor          string    `json:"actor"`
	Guess          string    `json:"guess"`
	ExactMatches   int       `json:"exactMatches"`
	PartialMatches int       `json:"partialMatches"`
	Timestamp      time.Time `json:"timestamp"`
}

// HistoryKey is the identity of an entry for de-duplication.
type HistoryKey struct {
	Actor string
	Guess string
	At    int64
}

// Key returns the (actor, guess, timestamp) identity tuple.
func (h HistoryEntry) Key() HistoryKey {
	return HistoryKey{Actor: h.Actor, Guess: h.Guess, At: h.Timestamp.UnixNano()}
}
