package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/numguess/go/clients/game_api_client"
	"github.com/mcdev12/numguess/go/internal/models"
	"github.com/mcdev12/numguess/go/internal/sync/events"
	"github.com/mcdev12/numguess/go/internal/sync/ledger"
	"github.com/mcdev12/numguess/go/internal/sync/polling"
	"github.com/mcdev12/numguess/go/internal/sync/priority"
	"github.com/mcdev12/numguess/go/internal/sync/recovery"
)

const fullSyncEndpoint = "full-sync"

// onTick routes a scheduler tick through the prioritizer as background work.
func (e *Engine) onTick(path polling.Path) {
	if e.session == nil {
		return
	}
	switch path {
	case polling.PathQuick:
		e.prio.Submit(priority.Low, e.startQuick)
	case polling.PathFull:
		e.prio.Submit(priority.Low, func() { e.startFull(nil) })
	}
}

// requestFull asks for a full sync as background work; it is deferred while a
// user action holds the priority window.
func (e *Engine) requestFull() {
	e.prio.Submit(priority.Low, func() { e.startFull(nil) })
}

func (e *Engine) startQuick() {
	if e.session == nil || e.quickInFlight {
		return
	}
	if !e.sched.AllowQuick() {
		log.Debug().Msg("quick status suppressed by rate gate")
		return
	}
	e.quickInFlight = true

	epoch, sess, sctx := e.epoch, *e.session, e.sessionCtx
	client, timeout := e.client, e.cfg.Timeouts.Quick
	e.spawn(func() {
		ctx, cancel := context.WithTimeout(sctx, timeout)
		defer cancel()
		start := e.clock.Now()
		resp, err := client.QuickStatus(ctx, sess.RoomID, sess.PlayerID)
		latency := e.clock.Since(start)
		e.post(func(e *Engine) { e.onQuickResult(epoch, resp, err, latency) })
	})
}

func (e *Engine) onQuickResult(epoch uint64, resp *game_api_client.QuickStatusResponse, err error, latency time.Duration) {
	if epoch != e.epoch || e.session == nil {
		return
	}
	e.quickInFlight = false
	e.metrics.RecordRequest(game_api_client.QuickStatusEndpoint, err == nil, latency)

	if err != nil {
		e.onBackgroundFailure(polling.PathQuick, err)
		e.publishView()
		return
	}
	e.onBackgroundSuccess(polling.PathQuick, latency)

	room := resp.Room
	state := models.ParseGameState(room.GameState)
	if room.HistoryCount < e.session.HistoryCount || state.Precedes(e.session.GameState) {
		// older than what was already applied
		e.publishView()
		return
	}
	changed := state != e.session.GameState ||
		room.CurrentTurn != e.session.CurrentTurn ||
		room.HistoryCount != e.session.HistoryCount

	if changed {
		e.applySessionState(state, room.CurrentTurn, room.HistoryCount)
		e.requestFull()
	}
	e.publishView()
}

// startFull runs the counting join of room status and history. waiter, when
// non-nil, receives the outcome.
func (e *Engine) startFull(waiter chan error) {
	if e.session == nil {
		if waiter != nil {
			waiter <- ErrNoSession
		}
		return
	}
	if waiter != nil {
		e.fullWaiters = append(e.fullWaiters, waiter)
	}
	if e.fullInFlight {
		// results of the in-flight join may predate the caller's change
		e.fullAgain = true
		return
	}
	e.fullInFlight = true

	epoch, sess, sctx := e.epoch, *e.session, e.sessionCtx
	client, timeout := e.client, e.cfg.Timeouts.Full
	e.spawn(func() {
		ctx, cancel := context.WithTimeout(sctx, timeout)
		defer cancel()
		start := e.clock.Now()

		var (
			status *game_api_client.StatusResponse
			hist   *game_api_client.HistoryResponse
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			status, err = client.Status(gctx, sess.RoomID, sess.PlayerID)
			return err
		})
		g.Go(func() error {
			var err error
			hist, err = client.History(gctx, sess.RoomID)
			return err
		})
		err := g.Wait()
		latency := e.clock.Since(start)
		e.post(func(e *Engine) { e.onFullResult(epoch, status, hist, err, latency) })
	})
}

func (e *Engine) onFullResult(epoch uint64, status *game_api_client.StatusResponse, hist *game_api_client.HistoryResponse, err error, latency time.Duration) {
	if epoch != e.epoch || e.session == nil {
		return
	}
	e.fullInFlight = false
	e.metrics.RecordRequest(fullSyncEndpoint, err == nil, latency)

	waiters := e.fullWaiters
	e.fullWaiters = nil

	if err != nil {
		e.onBackgroundFailure(polling.PathFull, err)
	} else {
		e.onBackgroundSuccess(polling.PathFull, latency)
		e.applyFull(status, hist)
	}
	for _, w := range waiters {
		w <- err
	}

	if e.fullAgain && e.session != nil {
		e.fullAgain = false
		e.requestFull()
	}
	e.publishView()
}

// applyFull merges a full sync by content and refreshes the last-good snapshot.
func (e *Engine) applyFull(status *game_api_client.StatusResponse, hist *game_api_client.HistoryResponse) {
	room := status.Room
	state := models.ParseGameState(room.GameState)
	if state.Precedes(e.session.GameState) {
		// issued before a transition that already requested a fresh full sync
		log.Debug().
			Str("room_id", e.session.RoomID).
			Str("reply_state", string(state)).
			Str("state", string(e.session.GameState)).
			Msg("dropped out-of-date full sync")
		return
	}

	// the state transition must run before reconciling so a continue-guessing
	// reset rebuilds from this response
	if room.HistoryCount >= e.session.HistoryCount || state != e.session.GameState {
		e.applySessionState(state, room.CurrentTurn, room.HistoryCount)
	}
	if room.Digits > 0 {
		e.session.DigitsExpected = room.Digits
	}
	e.players = room.PlayersModel()
	if hist.Winner != nil {
		e.winner = *hist.Winner
	}

	res := e.recon.Reconcile(hist.Entries())
	e.lastNew = res.New
	e.lastRebuild = res.Rebuild
	if res.Changed {
		switch {
		case res.Rebuild:
			e.emit(events.TypeHistoryRebuilt, map[string]int{"entries": e.recon.Len()})
		case len(res.New) > 0:
			e.emit(events.TypeHistoryAppended, res.New)
		}
		log.Debug().
			Int("new", len(res.New)).
			Bool("rebuild", res.Rebuild).
			Uint64("signature", res.Signature.Sum).
			Msg("history reconciled")
	}
	e.sched.SetHistoryLength(e.recon.Len())
	if e.recon.Len() > e.session.HistoryCount {
		e.session.HistoryCount = e.recon.Len()
	}

	e.snapshot = &models.SyncSnapshot{
		Session:    *e.session,
		Players:    append([]models.Player(nil), e.players...),
		History:    e.recon.Displayed(),
		Winner:     e.winner,
		CapturedAt: e.clock.Now(),
	}
	e.stale = false
	e.saveSnapshot()
}

// applySessionState updates turn/state and handles the continue-guessing reset.
func (e *Engine) applySessionState(state models.GameState, turn string, historyCount int) {
	prevState, prevTurn := e.session.GameState, e.session.CurrentTurn

	if state != models.GameStateUnknown {
		e.setGameState(state)
	}
	e.session.CurrentTurn = turn
	e.session.HistoryCount = historyCount

	if turn != prevTurn {
		e.emit(events.TypeTurnChanged, map[string]interface{}{
			"previous": prevTurn,
			"current":  turn,
			"myTurn":   e.session.MyTurn(),
		})
	}
	if e.session.GameState != prevState {
		log.Info().
			Str("room_id", e.session.RoomID).
			Str("from", string(prevState)).
			Str("to", string(e.session.GameState)).
			Msg("game state changed")
	}
}

func (e *Engine) setGameState(state models.GameState) {
	prev := e.session.GameState
	if state == prev {
		return
	}
	e.session.GameState = state
	e.emit(events.TypeStateChanged, map[string]string{"from": string(prev), "to": string(state)})

	if state == models.GameStateContinueGuessing {
		// explicit mode reset: the next reconcile redraws everything
		e.recon.Reset()
		for _, a := range e.ledger.Snapshot() {
			if a.Kind != ledger.KindGuess {
				continue
			}
			if a.Status == ledger.StatusConfirmed {
				e.absorbed[a.ID] = true
			} else {
				e.baselines[a.ID] = 0
			}
		}
	}
}

func (e *Engine) onBackgroundSuccess(path polling.Path, latency time.Duration) {
	e.health.RecordSuccess(latency)
	e.sched.ReportOutcome(path, true)

	if e.recovery.OnSuccess() {
		e.stopResumeTimer()
		e.stale = false
		if e.sched.Paused() && !e.recovery.WarmingUp() {
			e.sched.Resume()
		}
		e.emit(events.TypeRecovered, e.health.Current())
	}
}

func (e *Engine) onBackgroundFailure(path polling.Path, err error) {
	kind := recovery.Classify(err)
	if kind == recovery.KindRejected {
		// a 4xx on a poll (room gone, bad session) is still a failed poll
		kind = recovery.KindTransient
	}
	log.Warn().
		Err(err).
		Str("path", string(path)).
		Str("kind", string(kind)).
		Msg("background sync failed")

	e.health.RecordFailure()
	e.sched.ReportOutcome(path, false)

	d := e.recovery.OnFailure(kind, e.recon.Len())
	if d.WarmUp {
		e.startWarmUp()
	}
	if d.EnterRecovering {
		e.enterRecovering(d.ResumeAfter)
	}
}

func (e *Engine) enterRecovering(resumeAfter time.Duration) {
	e.stale = e.snapshot != nil
	e.sched.Pause()
	e.stopResumeTimer()
	e.resumeTimer = e.clock.NewTimer(resumeAfter)

	e.emit(events.TypeRecoveryEntered, map[string]interface{}{
		"resumeAfterMs": resumeAfter.Milliseconds(),
		"cycle":         e.recovery.Cycles(),
		"showingCached": e.stale,
	})
}

// onResumeDue fires the single resumption attempt of a recovery cycle.
func (e *Engine) onResumeDue() {
	e.resumeTimer = nil
	e.recovery.ResumeDue()
	if e.session == nil || e.recovery.WarmingUp() {
		// warm-up completion resumes polling
		return
	}
	log.Info().Msg("attempting to resume polling")
	e.sched.Resume()
	e.requestFull()
}

func (e *Engine) startWarmUp() {
	if e.session == nil {
		return
	}
	e.sched.Pause()
	e.emit(events.TypeWarmUp, nil)

	epoch, sctx := e.epoch, e.sessionCtx
	client, timeout := e.client, e.recovery.WarmUpTimeout()
	e.spawn(func() {
		ctx, cancel := context.WithTimeout(sctx, timeout)
		defer cancel()
		start := e.clock.Now()
		err := client.Health(ctx)
		latency := e.clock.Since(start)
		e.post(func(e *Engine) { e.onWarmUpDone(epoch, err, latency) })
	})
	e.publishView()
}

func (e *Engine) onWarmUpDone(epoch uint64, err error, latency time.Duration) {
	if epoch != e.epoch || e.session == nil {
		return
	}
	e.metrics.RecordRequest(game_api_client.HealthEndpoint, err == nil, latency)
	if err != nil {
		log.Warn().Err(err).Msg("warm-up ping failed")
	}

	floor, dur := e.recovery.WarmUpFinished(err == nil)
	e.sched.Widen(floor, dur)
	if !e.recovery.AwaitingResume() {
		e.sched.Resume()
		e.requestFull()
	}
	e.publishView()
}
