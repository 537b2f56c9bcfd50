package engine

import (
	"errors"
	"fmt"

	"github.com/mcdev12/numguess/go/clients/game_api_client"
	"github.com/mcdev12/numguess/go/internal/sync/recovery"
)

var (
	ErrNoSession      = errors.New("no active room session")
	ErrSessionEnded   = errors.New("session ended before the request completed")
	ErrEngineStopped  = errors.New("sync engine is not running")
	ErrAlreadyRunning = errors.New("sync engine is already running")
)

// ActionError is returned for a failed user-initiated action. Message is safe to
// show to the player.
type ActionError struct {
	Action  string
	Message string
	Err     error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Action, e.Message)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Rejected reports whether the server refused the action, as opposed to the
// request never getting an answer.
func (e *ActionError) Rejected() bool {
	return recovery.Classify(e.Err) == recovery.KindRejected
}

func newActionError(action string, err error) *ActionError {
	ae := &ActionError{Action: action, Err: err}

	var rejected *game_api_client.RejectedError
	switch {
	case errors.As(err, &rejected):
		ae.Message = rejected.Message
	case errors.Is(err, ErrNoSession):
		ae.Message = "join a room first"
	case errors.Is(err, ErrSessionEnded):
		ae.Message = "you left the room"
	default:
		switch recovery.Classify(err) {
		case recovery.KindMalformed:
			ae.Message = "the game server sent an unexpected response"
		case recovery.KindColdStart:
			ae.Message = "the game server is waking up, try again in a moment"
		default:
			ae.Message = "could not reach the game server"
		}
	}
	return ae
}
