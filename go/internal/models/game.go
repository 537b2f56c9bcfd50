package models

import (
	"strings"
)

// GameState defines the phase a room is in.
type GameState string

const (
	GameStateUnknown          GameState = ""
	GameStateWaiting          GameState = "waiting"
	GameStateSecretSetting    GameState = "secret-setting"
	GameStateActive           GameState = "active"
	GameStateFinished         GameState = "finished"
	GameStateContinueGuessing GameState = "continue-guessing"
)

// gameStateAliases maps the spellings the backend has used over time.
var gameStateAliases = map[string]GameState{
	"waiting":           GameStateWaiting,
	"waiting_players":   GameStateWaiting,
	"lobby":             GameStateWaiting,
	"secret-setting":    GameStateSecretSetting,
	"secret_setting":    GameStateSecretSetting,
	"setting_secret":    GameStateSecretSetting,
	"selecting_digits":  GameStateSecretSetting,
	"active":            GameStateActive,
	"playing":           GameStateActive,
	"in_progress":       GameStateActive,
	"finished":          GameStateFinished,
	"completed":         GameStateFinished,
	"game_over":         GameStateFinished,
	"continue-guessing": GameStateContinueGuessing,
	"continue_guessing": GameStateContinueGuessing,
}

// ParseGameState normalizes a server-provided state string.
func ParseGameState(s string) GameState {
	if gs, ok := gameStateAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return gs
	}
	return GameStateUnknown
}

var gameStateRanks = map[GameState]int{
	GameStateWaiting:          1,
	GameStateSecretSetting:    2,
	GameStateActive:           3,
	GameStateFinished:         4,
	GameStateContinueGuessing: 5,
}

// rank orders states along the room lifecycle. Unknown ranks 0.
func (g GameState) rank() int {
	return gameStateRanks[g]
}

// Precedes reports whether g is an earlier lifecycle phase than other. A room
// never moves backwards, so a reply carrying an earlier phase is out of date.
// Unknown states precede nothing.
func (g GameState) Precedes(other GameState) bool {
	return g != GameStateUnknown && g.rank() < other.rank()
}

// Player is a participant in a room.
type Player struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Position  int    `json:"position"`
	SecretSet bool   `json:"secretSet"`
}

// RoomSession is the client's view of the room it joined. It is created on join
// and discarded on leave/disconnect.
type RoomSession struct {
	RoomID         string    `json:"roomId"`
	PlayerID       string    `json:"playerId"`
	Position       int       `json:"position"`
	DigitsExpected int       `json:"digitsExpected"`
	CurrentTurn    string    `json:"currentTurn"`
	GameState      GameState `json:"gameState"`
	HistoryCount   int       `json:"historyCount"`
}

// MyTurn reports whether the local player is expected to act.
func (s RoomSession) MyTurn() bool {
	return s.CurrentTurn != "" && s.CurrentTurn == s.PlayerID
}

// GuessResult is the server's verdict for a single guess.
type GuessResult struct {
	ExactMatches   int  `json:"exactMatches"`
	PartialMatches int  `json:"partialMatches"`
	IsWinning      bool `json:"isWinning"`
}
