package game_api_client

import (
	"time"

	"github.com/mcdev12/numguess/go/internal/models"
)

type JoinRequest struct {
	RoomID     string `json:"roomId,omitempty"`
	PlayerName string `json:"playerName"`
}

type JoinResponse struct {
	RoomID    string `json:"roomId"`
	PlayerID  string `json:"playerId"`
	Position  int    `json:"position"`
	GameState string `json:"gameState"`
	Digits    int    `json:"digits,omitempty"`
}

type PlayerInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Position  int    `json:"position"`
	SecretSet bool   `json:"secretSet"`
}

type RoomStatus struct {
	GameState    string       `json:"gameState"`
	Players      []PlayerInfo `json:"players"`
	CurrentTurn  string       `json:"currentTurn"`
	HistoryCount int          `json:"historyCount"`
	Digits       int          `json:"digits,omitempty"`
}

type StatusResponse struct {
	Room RoomStatus `json:"room"`
}

type QuickRoomStatus struct {
	GameState    string `json:"gameState"`
	CurrentTurn  string `json:"currentTurn"`
	HistoryCount int    `json:"historyCount"`
}

type QuickStatusResponse struct {
	Room QuickRoomStatus `json:"room"`
}

type sessionRequest struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
}

type SetSecretRequest struct {
	RoomID         string `json:"roomId"`
	PlayerID       string `json:"playerId"`
	Secret         string `json:"secret"`
	ClientActionID string `json:"clientActionId,omitempty"`
}

type SelectDigitsRequest struct {
	RoomID         string `json:"roomId"`
	PlayerID       string `json:"playerId"`
	Digits         int    `json:"digits"`
	ClientActionID string `json:"clientActionId,omitempty"`
}

type ActionResponse struct {
	Success        bool   `json:"success"`
	GameState      string `json:"gameState"`
	Message        string `json:"message,omitempty"`
	Error          string `json:"error,omitempty"`
	ClientActionID string `json:"clientActionId,omitempty"`
}

type GuessRequest struct {
	RoomID         string `json:"roomId"`
	PlayerID       string `json:"playerId"`
	Guess          string `json:"guess"`
	ClientActionID string `json:"clientActionId,omitempty"`
}

type GuessResultInfo struct {
	ExactMatches   int  `json:"exactMatches"`
	PartialMatches int  `json:"partialMatches"`
	IsWinning      bool `json:"isWinning"`
}

type GuessResponse struct {
	Result         *GuessResultInfo `json:"result"`
	Error          string           `json:"error,omitempty"`
	ClientActionID string           `json:"clientActionId,omitempty"`
}

type HistoryItem struct {
	Actor          string    `json:"actor"`
	Guess          string    `json:"guess"`
	ExactMatches   int       `json:"exactMatches"`
	PartialMatches int       `json:"partialMatches"`
	Timestamp      time.Time `json:"timestamp"`
}

type HistoryResponse struct {
	History []HistoryItem `json:"history"`
	Winner  *string       `json:"winner,omitempty"`
}

type SkipTurnResponse struct {
	Message        string  `json:"message"`
	NextPlayer     *string `json:"nextPlayer,omitempty"`
	ClientActionID string  `json:"clientActionId,omitempty"`
}

// ToModel converts the wire result into the domain type.
func (g GuessResultInfo) ToModel() models.GuessResult {
	return models.GuessResult{
		ExactMatches:   g.ExactMatches,
		PartialMatches: g.PartialMatches,
		IsWinning:      g.IsWinning,
	}
}

// Entries converts the wire history into domain entries, preserving order.
func (h HistoryResponse) Entries() []models.HistoryEntry {
	out := make([]models.HistoryEntry, 0, len(h.History))
	for _, item := range h.History {
		out = append(out, models.HistoryEntry{
			Actor:          item.Actor,
			Guess:          item.Guess,
			ExactMatches:   item.ExactMatches,
			PartialMatches: item.PartialMatches,
			Timestamp:      item.Timestamp,
		})
	}
	return out
}

// PlayersModel converts the player list into domain players.
func (r RoomStatus) PlayersModel() []models.Player {
	out := make([]models.Player, 0, len(r.Players))
	for _, p := range r.Players {
		out = append(out, models.Player{ID: p.ID, Name: p.Name, Position: p.Position, SecretSet: p.SecretSet})
	}
	return out
}
