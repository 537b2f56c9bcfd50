package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/numguess/go/clients/game_api_client"
	"github.com/mcdev12/numguess/go/internal/models"
	"github.com/mcdev12/numguess/go/internal/sync/events"
	"github.com/mcdev12/numguess/go/internal/sync/history"
	"github.com/mcdev12/numguess/go/internal/sync/priority"
	"github.com/mcdev12/numguess/go/internal/sync/snapshotstore"
)

// JoinRequest identifies the room to join. An empty RoomID asks the server to
// create or match a room.
type JoinRequest struct {
	RoomID     string
	PlayerName string
}

// Join joins a room and starts polling it. Any previous session is left first.
func (e *Engine) Join(ctx context.Context, req JoinRequest) (models.RoomSession, error) {
	if strings.TrimSpace(req.PlayerName) == "" {
		return models.RoomSession{}, &ActionError{Action: "join", Message: "player name is required"}
	}

	actx, cancel := context.WithTimeout(ctx, e.cfg.Timeouts.Action)
	defer cancel()

	start := e.clock.Now()
	resp, err := e.client.Join(actx, game_api_client.JoinRequest{RoomID: req.RoomID, PlayerName: req.PlayerName})
	latency := e.clock.Since(start)

	type joinReply struct {
		session models.RoomSession
		err     error
	}
	reply := make(chan joinReply, 1)
	if derr := e.do(ctx, func(e *Engine) {
		e.metrics.RecordRequest(game_api_client.JoinEndpoint, err == nil, latency)
		if err != nil {
			log.Warn().Err(err).Str("room_id", req.RoomID).Msg("failed to join room")
			reply <- joinReply{err: newActionError("join", err)}
			e.publishView()
			return
		}
		e.health.RecordSuccess(latency)
		reply <- joinReply{session: e.startSession(resp)}
	}); derr != nil {
		return models.RoomSession{}, derr
	}

	select {
	case r := <-reply:
		return r.session, r.err
	case <-e.done:
		return models.RoomSession{}, ErrEngineStopped
	case <-ctx.Done():
		return models.RoomSession{}, ctx.Err()
	}
}

// Leave ends the session locally right away and notifies the server in the
// background. Late responses for the old session are dropped.
func (e *Engine) Leave(ctx context.Context) error {
	errCh := make(chan error, 1)
	if err := e.do(ctx, func(e *Engine) {
		if e.session == nil {
			errCh <- ErrNoSession
			return
		}
		sess := *e.session
		e.endSession("left room", true)

		timeout := e.cfg.Timeouts.Leave
		client := e.client
		e.spawn(func() {
			lctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := client.Leave(lctx, sess.RoomID, sess.PlayerID); err != nil {
				log.Warn().Err(err).Str("room_id", sess.RoomID).Msg("leave notification failed")
			}
		})
		errCh <- nil
	}); err != nil {
		return err
	}

	select {
	case err := <-errCh:
		return err
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startSession installs a fresh session and kicks off the first full sync.
func (e *Engine) startSession(resp *game_api_client.JoinResponse) models.RoomSession {
	if e.session != nil {
		prev := *e.session
		e.endSession("joined another room", false)
		client, timeout := e.client, e.cfg.Timeouts.Leave
		e.spawn(func() {
			lctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			_ = client.Leave(lctx, prev.RoomID, prev.PlayerID)
		})
	}

	e.epoch++
	e.sessionCtx, e.sessionCancel = context.WithCancel(e.runCtx)
	e.session = &models.RoomSession{
		RoomID:         resp.RoomID,
		PlayerID:       resp.PlayerID,
		Position:       resp.Position,
		DigitsExpected: resp.Digits,
		GameState:      models.ParseGameState(resp.GameState),
	}

	e.ledger.Clear()
	e.recon.Reset()
	e.recovery.Reset()
	e.prio.Clear()
	e.sched.Reset()
	e.baselines = make(map[uuid.UUID]int)
	e.absorbed = make(map[uuid.UUID]bool)
	e.loadSnapshot()
	e.sched.Start()

	log.Info().
		Str("room_id", resp.RoomID).
		Str("player_id", resp.PlayerID).
		Int("position", resp.Position).
		Msg("joined room")

	e.emit(events.TypeSessionJoined, e.session)
	e.publishView()
	e.prio.Submit(priority.Low, func() { e.startFull(nil) })
	return *e.session
}

// endSession invalidates timers, in-flight work and cached state.
func (e *Engine) endSession(reason string, notify bool) {
	if e.session == nil {
		return
	}
	roomID := e.session.RoomID
	if notify {
		e.emit(events.TypeSessionLeft, map[string]string{"reason": reason})
	}

	e.epoch++
	if e.sessionCancel != nil {
		e.sessionCancel()
	}
	e.sched.Stop()
	e.stopResumeTimer()
	e.prio.Clear()
	e.ledger.Clear()
	e.recon.Reset()
	e.recovery.Reset()

	for _, w := range e.fullWaiters {
		w <- ErrSessionEnded
	}
	e.fullWaiters = nil
	e.quickInFlight = false
	e.fullInFlight = false
	e.fullAgain = false

	e.session = nil
	e.players = nil
	e.winner = ""
	e.snapshot = nil
	e.stale = false
	e.lastNew = nil
	e.lastRebuild = false
	e.savedSig = history.Signature{}

	log.Info().Str("room_id", roomID).Str("reason", reason).Msg("session ended")
	e.publishView()
}

// loadSnapshot seeds the recovery fallback from the persistent store.
func (e *Engine) loadSnapshot() {
	if e.store == nil || e.session == nil {
		return
	}
	ctx, cancel := context.WithTimeout(e.sessionCtx, e.cfg.Timeouts.Quick)
	defer cancel()

	snap, err := e.store.Load(ctx, e.session.RoomID)
	switch {
	case errors.Is(err, snapshotstore.ErrNotFound):
		return
	case err != nil:
		log.Warn().Err(err).Str("room_id", e.session.RoomID).Msg("failed to load cached snapshot")
		return
	case snap.Session.PlayerID != e.session.PlayerID:
		return
	}
	e.snapshot = &snap
	log.Debug().
		Str("room_id", snap.Session.RoomID).
		Time("captured_at", snap.CapturedAt).
		Int("history", len(snap.History)).
		Msg("loaded cached snapshot")
}

// saveSnapshot persists the current snapshot when it differs from the last save.
func (e *Engine) saveSnapshot() {
	if e.store == nil || e.snapshot == nil {
		return
	}
	if e.recon.Signature() == e.savedSig && e.snapshot.Session == e.savedSession {
		return
	}
	e.savedSig = e.recon.Signature()
	e.savedSession = e.snapshot.Session

	snap := e.snapshot.Clone()
	store, timeout := e.store, e.cfg.Timeouts.Full
	e.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := store.Save(ctx, snap); err != nil {
			log.Warn().Err(err).Str("room_id", snap.Session.RoomID).Msg("failed to persist snapshot")
		}
	})
}
