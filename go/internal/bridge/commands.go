package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcdev12/numguess/go/internal/models"
	"github.com/mcdev12/numguess/go/internal/sync/engine"
)

// Commander is the part of the engine observers may drive.
type Commander interface {
	Join(ctx context.Context, req engine.JoinRequest) (models.RoomSession, error)
	SetSecret(ctx context.Context, secret string) error
	SelectDigits(ctx context.Context, digits int) error
	Guess(ctx context.Context, value string) (models.GuessResult, error)
	SkipTurn(ctx context.Context) error
	Refresh(ctx context.Context) error
	Leave(ctx context.Context) error
}

// Command actions accepted over the websocket.
const (
	ActionJoin         = "join"
	ActionSetSecret    = "set_secret"
	ActionSelectDigits = "select_digits"
	ActionGuess        = "guess"
	ActionSkipTurn     = "skip_turn"
	ActionRefresh      = "refresh"
	ActionLeave        = "leave"
)

// Command is a client request. ID is echoed in the result.
type Command struct {
	ID         string `json:"id,omitempty"`
	Action     string `json:"action"`
	RoomID     string `json:"roomId,omitempty"`
	PlayerName string `json:"playerName,omitempty"`
	Value      string `json:"value,omitempty"`
	Digits     int    `json:"digits,omitempty"`
}

// ActionResult answers a Command.
type ActionResult struct {
	ID      string              `json:"id,omitempty"`
	Action  string              `json:"action"`
	OK      bool                `json:"ok"`
	Error   string              `json:"error,omitempty"`
	Guess   *models.GuessResult `json:"guess,omitempty"`
	Session *models.RoomSession `json:"session,omitempty"`
}

// Execute runs cmd against c and folds the outcome into an ActionResult.
func Execute(ctx context.Context, c Commander, cmd Command) ActionResult {
	res := ActionResult{ID: cmd.ID, Action: cmd.Action}

	var err error
	switch cmd.Action {
	case ActionJoin:
		var sess models.RoomSession
		sess, err = c.Join(ctx, engine.JoinRequest{RoomID: cmd.RoomID, PlayerName: cmd.PlayerName})
		if err == nil {
			res.Session = &sess
		}
	case ActionSetSecret:
		err = c.SetSecret(ctx, cmd.Value)
	case ActionSelectDigits:
		err = c.SelectDigits(ctx, cmd.Digits)
	case ActionGuess:
		var g models.GuessResult
		g, err = c.Guess(ctx, cmd.Value)
		if err == nil {
			res.Guess = &g
		}
	case ActionSkipTurn:
		err = c.SkipTurn(ctx)
	case ActionRefresh:
		err = c.Refresh(ctx)
	case ActionLeave:
		err = c.Leave(ctx)
	default:
		err = fmt.Errorf("unknown action %q", cmd.Action)
	}

	if err != nil {
		res.Error = userMessage(err)
		return res
	}
	res.OK = true
	return res
}

func userMessage(err error) string {
	var actionErr *engine.ActionError
	if errors.As(err, &actionErr) {
		return actionErr.Message
	}
	return err.Error()
}
