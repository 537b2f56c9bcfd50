package engine

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/numguess/go/clients/game_api_client"
	"github.com/mcdev12/numguess/go/internal/models"
	"github.com/mcdev12/numguess/go/internal/sync/events"
	"github.com/mcdev12/numguess/go/internal/sync/ledger"
	"github.com/mcdev12/numguess/go/internal/sync/priority"
	"github.com/mcdev12/numguess/go/internal/sync/recovery"
)

// actionReply is the part of a server answer the engine applies locally.
type actionReply struct {
	echoedID string
	outcome  ledger.Outcome
	nextTurn *string
}

type actionCall func(ctx context.Context, sess models.RoomSession, actionID string) (actionReply, error)

type actionSpec struct {
	name     string
	kind     ledger.Kind
	payload  string
	endpoint string
	call     actionCall
}

type actionResult struct {
	outcome ledger.Outcome
	err     error
}

// Guess submits a guess. The guess shows up as a pending history line until the
// server answers.
func (e *Engine) Guess(ctx context.Context, value string) (models.GuessResult, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return models.GuessResult{}, &ActionError{Action: "guess", Message: "enter a guess"}
	}

	out, err := e.runUserAction(ctx, actionSpec{
		name:     "guess",
		kind:     ledger.KindGuess,
		payload:  value,
		endpoint: game_api_client.GuessEndpoint,
		call: func(ctx context.Context, sess models.RoomSession, actionID string) (actionReply, error) {
			resp, err := e.client.Guess(ctx, game_api_client.GuessRequest{
				RoomID:         sess.RoomID,
				PlayerID:       sess.PlayerID,
				Guess:          value,
				ClientActionID: actionID,
			})
			if err != nil {
				return actionReply{}, err
			}
			result := resp.Result.ToModel()
			reply := actionReply{echoedID: resp.ClientActionID, outcome: ledger.Outcome{Guess: &result}}
			if result.IsWinning {
				reply.outcome.GameState = models.GameStateFinished
			}
			return reply, nil
		},
	})
	if err != nil {
		return models.GuessResult{}, err
	}
	if out.Guess == nil {
		return models.GuessResult{}, nil
	}
	return *out.Guess, nil
}

// SetSecret submits the player's secret number.
func (e *Engine) SetSecret(ctx context.Context, secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &ActionError{Action: "set secret", Message: "enter a secret number"}
	}
	_, err := e.runUserAction(ctx, actionSpec{
		name:     "set secret",
		kind:     ledger.KindSetSecret,
		payload:  secret,
		endpoint: game_api_client.SetSecretEndpoint,
		call: func(ctx context.Context, sess models.RoomSession, actionID string) (actionReply, error) {
			resp, err := e.client.SetSecret(ctx, game_api_client.SetSecretRequest{
				RoomID:         sess.RoomID,
				PlayerID:       sess.PlayerID,
				Secret:         secret,
				ClientActionID: actionID,
			})
			if err != nil {
				return actionReply{}, err
			}
			return actionReplyFrom(resp), nil
		},
	})
	return err
}

// SelectDigits picks the number length, which starts the game.
func (e *Engine) SelectDigits(ctx context.Context, digits int) error {
	if digits <= 0 {
		return &ActionError{Action: "start game", Message: "digit count must be positive"}
	}
	_, err := e.runUserAction(ctx, actionSpec{
		name:     "start game",
		kind:     ledger.KindStartGame,
		payload:  strconv.Itoa(digits),
		endpoint: game_api_client.SelectDigitsEndpoint,
		call: func(ctx context.Context, sess models.RoomSession, actionID string) (actionReply, error) {
			resp, err := e.client.SelectDigits(ctx, game_api_client.SelectDigitsRequest{
				RoomID:         sess.RoomID,
				PlayerID:       sess.PlayerID,
				Digits:         digits,
				ClientActionID: actionID,
			})
			if err != nil {
				return actionReply{}, err
			}
			return actionReplyFrom(resp), nil
		},
	})
	return err
}

// SkipTurn passes the turn to the opponent.
func (e *Engine) SkipTurn(ctx context.Context) error {
	_, err := e.runUserAction(ctx, actionSpec{
		name:     "skip turn",
		kind:     ledger.KindSkipTurn,
		endpoint: game_api_client.SkipTurnEndpoint,
		call: func(ctx context.Context, sess models.RoomSession, actionID string) (actionReply, error) {
			resp, err := e.client.SkipTurn(ctx, sess.RoomID, sess.PlayerID, actionID)
			if err != nil {
				return actionReply{}, err
			}
			return actionReply{
				echoedID: resp.ClientActionID,
				outcome:  ledger.Outcome{Message: resp.Message},
				nextTurn: resp.NextPlayer,
			}, nil
		},
	})
	return err
}

// Refresh forces a full sync ahead of background polling and waits for it.
func (e *Engine) Refresh(ctx context.Context) error {
	waiter := make(chan error, 1)
	if err := e.do(ctx, func(e *Engine) {
		e.prio.Submit(priority.High, func() { e.startFull(waiter) })
		e.publishView()
	}); err != nil {
		return err
	}

	select {
	case err := <-waiter:
		if err != nil {
			return newActionError("refresh", err)
		}
		return nil
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func actionReplyFrom(resp *game_api_client.ActionResponse) actionReply {
	return actionReply{
		echoedID: resp.ClientActionID,
		outcome: ledger.Outcome{
			GameState: models.ParseGameState(resp.GameState),
			Message:   resp.Message,
		},
	}
}

// runUserAction records the action optimistically, sends it as high-priority work
// and blocks until the server answers or the session ends.
func (e *Engine) runUserAction(ctx context.Context, spec actionSpec) (ledger.Outcome, error) {
	out := make(chan actionResult, 1)
	if err := e.do(ctx, func(e *Engine) {
		if e.session == nil {
			out <- actionResult{err: newActionError(spec.name, ErrNoSession)}
			return
		}
		id := e.ledger.AddPending(spec.kind, spec.payload)
		if spec.kind == ledger.KindGuess {
			e.baselines[id] = e.recon.Len()
		}
		e.publishView()

		epoch, sess, sctx := e.epoch, *e.session, e.sessionCtx
		timeout := e.cfg.Timeouts.Action
		e.prio.Submit(priority.High, func() {
			e.spawn(func() {
				actx, cancel := context.WithTimeout(sctx, timeout)
				defer cancel()
				start := e.clock.Now()
				reply, err := spec.call(actx, sess, id.String())
				latency := e.clock.Since(start)
				e.post(func(e *Engine) { e.finishAction(epoch, id, spec, reply, err, latency, out) })
			})
		})
	}); err != nil {
		return ledger.Outcome{}, err
	}

	select {
	case r := <-out:
		return r.outcome, r.err
	case <-e.done:
		return ledger.Outcome{}, ErrEngineStopped
	case <-ctx.Done():
		return ledger.Outcome{}, ctx.Err()
	}
}

func (e *Engine) finishAction(epoch uint64, id uuid.UUID, spec actionSpec, reply actionReply, err error, latency time.Duration, out chan<- actionResult) {
	if epoch != e.epoch || e.session == nil {
		out <- actionResult{err: newActionError(spec.name, ErrSessionEnded)}
		return
	}
	e.metrics.RecordRequest(spec.endpoint, err == nil, latency)

	if err != nil {
		if _, rerr := e.ledger.Rollback(id); rerr != nil {
			log.Debug().Err(rerr).Str("action_id", id.String()).Msg("rollback of unknown action")
		}
		delete(e.baselines, id)
		if recovery.Classify(err) != recovery.KindRejected {
			// the server refusing an action says nothing about the network
			e.health.RecordFailure()
		}
		log.Warn().
			Err(err).
			Str("action", spec.name).
			Str("action_id", id.String()).
			Msg("user action failed")
		e.emit(events.TypeActionFailed, map[string]string{
			"actionId": id.String(),
			"kind":     string(spec.kind),
			"error":    err.Error(),
		})
		e.publishView()
		out <- actionResult{err: newActionError(spec.name, err)}
		return
	}

	e.health.RecordSuccess(latency)
	confirmed, rerr := e.ledger.Resolve(reply.echoedID, spec.kind, spec.payload, reply.outcome)
	if rerr != nil {
		log.Debug().Err(rerr).Str("action_id", id.String()).Msg("no pending action to confirm")
	}

	if s := reply.outcome.GameState; s != models.GameStateUnknown && !s.Precedes(e.session.GameState) {
		e.setGameState(s)
	}
	if reply.nextTurn != nil && *reply.nextTurn != e.session.CurrentTurn {
		e.applySessionState(models.GameStateUnknown, *reply.nextTurn, e.session.HistoryCount)
	}

	log.Info().
		Str("action", spec.name).
		Str("action_id", id.String()).
		Dur("latency", latency).
		Msg("user action confirmed")
	if rerr == nil {
		e.emit(events.TypeActionConfirmed, confirmed)
	}
	e.publishView()
	e.requestFull()

	out <- actionResult{outcome: reply.outcome}
}
