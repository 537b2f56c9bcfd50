package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/numguess/go/clients/game_api_client"
	"github.com/mcdev12/numguess/go/internal/models"
	"github.com/mcdev12/numguess/go/internal/sync/events"
	"github.com/mcdev12/numguess/go/internal/sync/ledger"
	"github.com/mcdev12/numguess/go/internal/sync/polling"
	"github.com/mcdev12/numguess/go/internal/sync/recovery"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeGame is an in-memory game backend.
type fakeGame struct {
	mu          sync.Mutex
	state       string
	turn        string
	history     []game_api_client.HistoryItem
	statusCode  int
	statusBody  string
	guessCode   int
	guessBody   string
	guessResult game_api_client.GuessResultInfo
	guessGate   chan struct{}
	statusGate  chan struct{}
	hits        map[string]int
}

func newFakeGame() *fakeGame {
	return &fakeGame{
		state: "active",
		turn:  "p1",
		history: []game_api_client.HistoryItem{
			{Actor: "p1", Guess: "12", ExactMatches: 0, PartialMatches: 1, Timestamp: t0},
			{Actor: "p2", Guess: "45", ExactMatches: 1, PartialMatches: 0, Timestamp: t0.Add(time.Second)},
		},
		hits: make(map[string]int),
	}
}

func (f *fakeGame) hitCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *fakeGame) update(fn func(f *fakeGame)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeGame) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits[r.URL.Path]++
	f.mu.Unlock()

	switch r.URL.Path {
	case game_api_client.JoinEndpoint:
		writeJSON(w, game_api_client.JoinResponse{RoomID: "room-1", PlayerID: "p1", Position: 1, GameState: "active", Digits: 2})

	case game_api_client.StatusEndpoint, game_api_client.QuickStatusEndpoint:
		f.mu.Lock()
		code, body := f.statusCode, f.statusBody
		var gate chan struct{}
		if r.URL.Path == game_api_client.StatusEndpoint {
			// holds back one full status reply, as captured now
			gate, f.statusGate = f.statusGate, nil
		}
		room := game_api_client.RoomStatus{
			GameState: f.state,
			Players: []game_api_client.PlayerInfo{
				{ID: "p1", Name: "alice", Position: 1, SecretSet: true},
				{ID: "p2", Name: "bob", Position: 2, SecretSet: true},
			},
			CurrentTurn:  f.turn,
			HistoryCount: len(f.history),
			Digits:       2,
		}
		f.mu.Unlock()
		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		if code != 0 {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(body))
			return
		}
		writeJSON(w, game_api_client.StatusResponse{Room: room})

	case game_api_client.HistoryEndpoint:
		f.mu.Lock()
		resp := game_api_client.HistoryResponse{History: append([]game_api_client.HistoryItem(nil), f.history...)}
		f.mu.Unlock()
		writeJSON(w, resp)

	case game_api_client.GuessEndpoint:
		var req game_api_client.GuessRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		gate, code, body, result := f.guessGate, f.guessCode, f.guessBody, f.guessResult
		f.mu.Unlock()
		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		if code != 0 {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(body))
			return
		}
		writeJSON(w, game_api_client.GuessResponse{Result: &result, ClientActionID: req.ClientActionID})

	case game_api_client.LeaveEndpoint, game_api_client.HealthEndpoint:
		writeJSON(w, map[string]bool{"ok": true})

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestEngine(t *testing.T, game *fakeGame, opts ...Option) (*Engine, *clockwork.FakeClock) {
	t.Helper()
	e, clock, _ := startTestEngine(t, game, opts...)
	return e, clock
}

// startTestEngine also returns stop, which cancels Run and waits for it and its
// background work to finish.
func startTestEngine(t *testing.T, game *fakeGame, opts ...Option) (*Engine, *clockwork.FakeClock, func()) {
	t.Helper()
	srv := httptest.NewServer(game)
	t.Cleanup(srv.Close)

	clock := clockwork.NewFakeClock()
	opts = append([]Option{WithClock(clock)}, opts...)
	e, err := New(DefaultConfig(), game_api_client.NewGameApiClient(srv.URL), opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
	t.Cleanup(stop)
	return e, clock, stop
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) ofType(typ events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// stateTransitions lists the "to" side of every state change, in publish order.
func (r *recordingPublisher) stateTransitions(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, ev := range r.ofType(events.TypeStateChanged) {
		var change map[string]string
		require.NoError(t, json.Unmarshal(ev.Payload, &change))
		out = append(out, change["to"])
	}
	return out
}

func joinAndSync(t *testing.T, e *Engine) models.RoomSession {
	t.Helper()
	sess, err := e.Join(context.Background(), JoinRequest{PlayerName: "alice"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(e.View().History) == 2
	}, 2*time.Second, 10*time.Millisecond)
	return sess
}

func guessLines(v View, guess string) []HistoryLine {
	var out []HistoryLine
	for _, l := range v.History {
		if l.Guess == guess {
			out = append(out, l)
		}
	}
	return out
}

func TestEngine_JoinRunsInitialFullSync(t *testing.T) {
	game := newFakeGame()
	e, _ := newTestEngine(t, game)

	sess := joinAndSync(t, e)
	assert.Equal(t, "room-1", sess.RoomID)
	assert.Equal(t, "p1", sess.PlayerID)

	v := e.View()
	require.NotNil(t, v.Session)
	assert.True(t, v.Rebuild)
	assert.Len(t, v.NewEntries, 2)
	assert.Len(t, v.Players, 2)
	assert.True(t, v.MyTurn())
	assert.Equal(t, recovery.StateNormal, v.Recovery)
	assert.False(t, v.Signature.IsZero())
	assert.Equal(t, 1, game.hitCount(game_api_client.StatusEndpoint))
	assert.Equal(t, 1, game.hitCount(game_api_client.HistoryEndpoint))
}

func TestEngine_GuessShowsOptimisticLineUntilConfirmed(t *testing.T) {
	game := newFakeGame()
	gate := make(chan struct{})
	game.update(func(f *fakeGame) {
		f.guessGate = gate
		f.guessResult = game_api_client.GuessResultInfo{ExactMatches: 1, PartialMatches: 1}
	})
	e, clock := newTestEngine(t, game)
	joinAndSync(t, e)

	type guessOutcome struct {
		result models.GuessResult
		err    error
	}
	outcome := make(chan guessOutcome, 1)
	go func() {
		r, err := e.Guess(context.Background(), "37")
		outcome <- guessOutcome{r, err}
	}()

	require.Eventually(t, func() bool {
		lines := guessLines(e.View(), "37")
		return len(lines) == 1 && lines[0].Pending
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, e.View().Pending, 1)

	game.update(func(f *fakeGame) {
		f.history = append(f.history, game_api_client.HistoryItem{
			Actor: "p1", Guess: "37", ExactMatches: 1, PartialMatches: 1, Timestamp: t0.Add(2 * time.Second),
		})
		f.turn = "p2"
	})
	close(gate)

	select {
	case out := <-outcome:
		require.NoError(t, out.err)
		assert.Equal(t, models.GuessResult{ExactMatches: 1, PartialMatches: 1}, out.result)
	case <-time.After(2 * time.Second):
		t.Fatal("guess did not return")
	}

	lines := guessLines(e.View(), "37")
	require.Len(t, lines, 1)
	assert.False(t, lines[0].Pending)
	assert.Equal(t, 1, lines[0].ExactMatches)
	assert.Equal(t, 1, lines[0].PartialMatches)

	// the follow-up full sync waits for the priority window to close
	clock.Advance(DefaultConfig().PriorityWindow)
	require.Eventually(t, func() bool {
		v := e.View()
		return len(v.History) == 3 && v.Session.CurrentTurn == "p2"
	}, 2*time.Second, 10*time.Millisecond)

	lines = guessLines(e.View(), "37")
	require.Len(t, lines, 1)
	assert.False(t, lines[0].Pending)
	assert.Equal(t, "p1", lines[0].Actor)
}

func TestEngine_RejectedGuessRollsBack(t *testing.T) {
	game := newFakeGame()
	game.update(func(f *fakeGame) {
		f.guessCode = http.StatusBadRequest
		f.guessBody = `{"error":"not your turn"}`
	})
	e, _ := newTestEngine(t, game)
	joinAndSync(t, e)

	_, err := e.Guess(context.Background(), "99")
	var actionErr *ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.True(t, actionErr.Rejected())
	assert.Equal(t, "not your turn", actionErr.Message)

	v := e.View()
	assert.Empty(t, guessLines(v, "99"))
	assert.Empty(t, v.Pending)
	assert.Equal(t, 0, v.Health.ConsecutiveErrors)
	assert.Equal(t, recovery.StateNormal, v.Recovery)
}

func TestEngine_GuessWithoutSession(t *testing.T) {
	e, _ := newTestEngine(t, newFakeGame())

	_, err := e.Guess(context.Background(), "12")
	require.ErrorIs(t, err, ErrNoSession)
}

func TestEngine_SustainedFailuresShowCachedSnapshot(t *testing.T) {
	game := newFakeGame()
	e, clock := newTestEngine(t, game)
	joinAndSync(t, e)

	game.update(func(f *fakeGame) {
		f.statusCode = http.StatusServiceUnavailable
		f.statusBody = "Service Unavailable"
	})
	for i := 0; i < 3; i++ {
		err := e.Refresh(context.Background())
		var actionErr *ActionError
		require.ErrorAs(t, err, &actionErr)
		assert.False(t, actionErr.Rejected())
	}

	require.Eventually(t, func() bool {
		v := e.View()
		return v.Recovery == recovery.StateRecovering && v.Reconnecting
	}, 2*time.Second, 10*time.Millisecond)
	v := e.View()
	assert.True(t, v.Stale)
	assert.Len(t, v.History, 2)
	assert.False(t, v.SnapshotAt.IsZero())
	assert.Equal(t, 3, v.Health.ConsecutiveErrors)

	game.update(func(f *fakeGame) { f.statusCode = 0 })
	clock.Advance(DefaultConfig().Recovery.ResumeBaseDelay)

	require.Eventually(t, func() bool {
		v := e.View()
		return v.Recovery == recovery.StateNormal && !v.Reconnecting && !v.Stale
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_QuickStatusChangeTriggersFullSync(t *testing.T) {
	game := newFakeGame()
	e, _ := newTestEngine(t, game)
	joinAndSync(t, e)

	game.update(func(f *fakeGame) {
		f.history = append(f.history, game_api_client.HistoryItem{
			Actor: "p2", Guess: "78", PartialMatches: 2, Timestamp: t0.Add(3 * time.Second),
		})
		f.turn = "p2"
	})
	e.post(func(e *Engine) { e.onTick(polling.PathQuick) })

	require.Eventually(t, func() bool {
		v := e.View()
		return len(v.History) == 3 && len(v.NewEntries) == 1
	}, 2*time.Second, 10*time.Millisecond)

	v := e.View()
	assert.False(t, v.Rebuild)
	assert.Equal(t, "78", v.NewEntries[0].Guess)
	assert.Equal(t, "p2", v.Session.CurrentTurn)
	assert.False(t, v.MyTurn())
	assert.Equal(t, 1, game.hitCount(game_api_client.QuickStatusEndpoint))
	assert.Equal(t, 2, game.hitCount(game_api_client.HistoryEndpoint))
}

func TestEngine_LeaveDropsInFlightAction(t *testing.T) {
	game := newFakeGame()
	game.update(func(f *fakeGame) { f.guessGate = make(chan struct{}) })
	e, _ := newTestEngine(t, game)
	joinAndSync(t, e)

	errCh := make(chan error, 1)
	go func() {
		_, err := e.Guess(context.Background(), "37")
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		return game.hitCount(game_api_client.GuessEndpoint) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, e.Leave(context.Background()))
	assert.Nil(t, e.View().Session)

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrSessionEnded))
	case <-time.After(2 * time.Second):
		t.Fatal("guess did not return after leave")
	}

	require.Eventually(t, func() bool {
		return game.hitCount(game_api_client.LeaveEndpoint) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, e.Leave(context.Background()), ErrNoSession)
}

func TestEngine_InternalErrorTriggersWarmUp(t *testing.T) {
	game := newFakeGame()
	e, clock := newTestEngine(t, game)
	joinAndSync(t, e)

	game.update(func(f *fakeGame) {
		f.statusCode = http.StatusInternalServerError
		f.statusBody = "Internal Server Error"
	})
	require.Error(t, e.Refresh(context.Background()))

	require.Eventually(t, func() bool {
		return game.hitCount(game_api_client.HealthEndpoint) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		v := e.View()
		return !v.Reconnecting && v.QuickInterval >= DefaultConfig().Recovery.WidenFloor
	}, 2*time.Second, 10*time.Millisecond)

	// a second cold-start failure inside the widened window does not ping again
	require.Error(t, e.Refresh(context.Background()))
	assert.Equal(t, 1, game.hitCount(game_api_client.HealthEndpoint))

	game.update(func(f *fakeGame) { f.statusCode = 0 })
	clock.Advance(DefaultConfig().PriorityWindow)
	require.Eventually(t, func() bool {
		return e.View().Recovery == recovery.StateNormal
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_SubscribeReceivesLatestView(t *testing.T) {
	e, _ := newTestEngine(t, newFakeGame())

	views, unsubscribe := e.Subscribe()
	defer unsubscribe()

	first := <-views
	assert.Nil(t, first.Session)

	_, err := e.Join(context.Background(), JoinRequest{PlayerName: "alice"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case v := <-views:
			return len(v.History) == 2
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_JoinRequiresName(t *testing.T) {
	e, _ := newTestEngine(t, newFakeGame())

	_, err := e.Join(context.Background(), JoinRequest{})
	var actionErr *ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, "join", actionErr.Action)
}

func TestEngine_LateFullSyncDoesNotRegressState(t *testing.T) {
	game := newFakeGame()
	rec := &recordingPublisher{}
	e, _, stop := startTestEngine(t, game, WithPublisher(rec))
	joinAndSync(t, e)

	gate := make(chan struct{})
	game.update(func(f *fakeGame) { f.statusGate = gate })
	e.post(func(e *Engine) { e.onTick(polling.PathFull) })
	require.Eventually(t, func() bool {
		return game.hitCount(game_api_client.StatusEndpoint) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// the room moves on while the "active" reply is still on its way
	game.update(func(f *fakeGame) { f.state = "continue-guessing" })
	e.post(func(e *Engine) { e.onTick(polling.PathQuick) })
	require.Eventually(t, func() bool {
		return e.View().Session.GameState == models.GameStateContinueGuessing
	}, 2*time.Second, 10*time.Millisecond)

	close(gate)
	require.Eventually(t, func() bool {
		v := e.View()
		return game.hitCount(game_api_client.StatusEndpoint) == 3 && len(v.History) == 2
	}, 2*time.Second, 10*time.Millisecond)

	v := e.View()
	assert.Equal(t, models.GameStateContinueGuessing, v.Session.GameState)
	assert.True(t, v.Rebuild)

	stop()
	assert.Equal(t, []string{string(models.GameStateContinueGuessing)}, rec.stateTransitions(t))
	// one rebuild on join, one for the mode reset
	assert.Len(t, rec.ofType(events.TypeHistoryRebuilt), 2)
}

func TestEngine_ContinueGuessingRebuildsOnceAndKeepsPendingGuess(t *testing.T) {
	game := newFakeGame()
	gate := make(chan struct{})
	game.update(func(f *fakeGame) {
		f.guessGate = gate
		f.guessResult = game_api_client.GuessResultInfo{ExactMatches: 2}
	})
	rec := &recordingPublisher{}
	e, clock, stop := startTestEngine(t, game, WithPublisher(rec))
	joinAndSync(t, e)

	errCh := make(chan error, 1)
	go func() {
		_, err := e.Guess(context.Background(), "37")
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		return game.hitCount(game_api_client.GuessEndpoint) == 1
	}, 2*time.Second, 10*time.Millisecond)

	game.update(func(f *fakeGame) { f.state = "continue-guessing" })
	clock.Advance(DefaultConfig().PriorityWindow)
	e.post(func(e *Engine) { e.onTick(polling.PathQuick) })

	require.Eventually(t, func() bool {
		v := e.View()
		return v.Session.GameState == models.GameStateContinueGuessing && v.Rebuild && len(v.History) == 3
	}, 2*time.Second, 10*time.Millisecond)
	lines := guessLines(e.View(), "37")
	require.Len(t, lines, 1)
	assert.True(t, lines[0].Pending)
	require.NotNil(t, lines[0].ActionID)

	game.update(func(f *fakeGame) {
		f.history = append(f.history, game_api_client.HistoryItem{
			Actor: "p1", Guess: "37", ExactMatches: 2, Timestamp: t0.Add(5 * time.Second),
		})
	})
	close(gate)
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("guess did not return")
	}

	require.Eventually(t, func() bool {
		v := e.View()
		lines := guessLines(v, "37")
		return len(v.History) == 3 && len(lines) == 1 && !lines[0].Pending && lines[0].ActionID == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, e.View().Rebuild)

	stop()
	assert.Len(t, rec.ofType(events.TypeHistoryRebuilt), 2)
	assert.Len(t, rec.ofType(events.TypeHistoryAppended), 1)
}

func TestEngine_StopReleasesWaitingCallers(t *testing.T) {
	game := newFakeGame()
	game.update(func(f *fakeGame) { f.guessGate = make(chan struct{}) })
	e, _, stop := startTestEngine(t, game)
	joinAndSync(t, e)

	errCh := make(chan error, 1)
	go func() {
		_, err := e.Guess(context.Background(), "37")
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		return game.hitCount(game_api_client.GuessEndpoint) == 1
	}, 2*time.Second, 10*time.Millisecond)

	stop()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrEngineStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("guess still blocked after the engine stopped")
	}

	_, err := e.Guess(context.Background(), "38")
	assert.ErrorIs(t, err, ErrEngineStopped)
	assert.ErrorIs(t, e.Refresh(context.Background()), ErrEngineStopped)
	assert.ErrorIs(t, e.Leave(context.Background()), ErrEngineStopped)
}

func TestEngine_UnmatchedConfirmationPublishesNothing(t *testing.T) {
	rec := &recordingPublisher{}
	e, _, stop := startTestEngine(t, newFakeGame(), WithPublisher(rec))
	joinAndSync(t, e)

	out := make(chan actionResult, 1)
	e.post(func(e *Engine) {
		spec := actionSpec{name: "skip turn", kind: ledger.KindSkipTurn, endpoint: game_api_client.SkipTurnEndpoint}
		e.finishAction(e.epoch, uuid.New(), spec, actionReply{}, nil, time.Millisecond, out)
	})
	select {
	case r := <-out:
		require.NoError(t, r.err)
	case <-time.After(2 * time.Second):
		t.Fatal("action did not finish")
	}

	stop()
	assert.Empty(t, rec.ofType(events.TypeActionConfirmed))
}

func TestHistoryLine_ServerLinesOmitActionID(t *testing.T) {
	server, err := json.Marshal(HistoryLine{HistoryEntry: models.HistoryEntry{Actor: "p2", Guess: "45"}})
	require.NoError(t, err)
	assert.NotContains(t, string(server), "actionId")

	id := uuid.New()
	pending, err := json.Marshal(HistoryLine{Pending: true, ActionID: &id})
	require.NoError(t, err)
	assert.Contains(t, string(pending), id.String())
}

func TestEngine_QuickTickBacklogKeepsFullTick(t *testing.T) {
	e, err := New(DefaultConfig(), game_api_client.NewGameApiClient("http://127.0.0.1:0"), WithClock(clockwork.NewFakeClock()))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		e.queueTick(polling.PathQuick)
	}
	e.queueTick(polling.PathFull)

	assert.Len(t, e.quickTicks, 1)
	assert.Len(t, e.fullTicks, 1)
}
