package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/numguess/go/internal/bridge"
	"github.com/mcdev12/numguess/go/internal/models"
	"github.com/mcdev12/numguess/go/internal/sync/engine"
	"github.com/mcdev12/numguess/go/internal/sync/history"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    bridge.Command
		wantErr string
	}{
		{name: "blank", line: "   ", want: bridge.Command{}},
		{name: "join with room", line: "join alice r1", want: bridge.Command{Action: bridge.ActionJoin, PlayerName: "alice", RoomID: "r1"}},
		{name: "join new room", line: "JOIN bob", want: bridge.Command{Action: bridge.ActionJoin, PlayerName: "bob"}},
		{name: "join needs name", line: "join", wantErr: "usage: join"},
		{name: "digits", line: "digits 4", want: bridge.Command{Action: bridge.ActionSelectDigits, Digits: 4}},
		{name: "digits must be numeric", line: "digits four", wantErr: "positive number"},
		{name: "secret", line: "secret 1234", want: bridge.Command{Action: bridge.ActionSetSecret, Value: "1234"}},
		{name: "guess", line: "guess 5678", want: bridge.Command{Action: bridge.ActionGuess, Value: "5678"}},
		{name: "bare number guesses", line: "0420", want: bridge.Command{Action: bridge.ActionGuess, Value: "0420"}},
		{name: "skip", line: "skip", want: bridge.Command{Action: bridge.ActionSkipTurn}},
		{name: "refresh shorthand", line: "r", want: bridge.Command{Action: bridge.ActionRefresh}},
		{name: "leave", line: "leave", want: bridge.Command{Action: bridge.ActionLeave}},
		{name: "view", line: "status", want: bridge.Command{Action: "view"}},
		{name: "unknown", line: "dance", wantErr: "unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCommand(tt.line)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommand_Quit(t *testing.T) {
	for _, line := range []string{"quit", "exit", "q"} {
		_, err := parseCommand(line)
		assert.ErrorIs(t, err, errQuit, line)
	}
}

func testView(turn string) engine.View {
	return engine.View{
		Session: &models.RoomSession{
			RoomID:      "r1",
			PlayerID:    "p1",
			Position:    1,
			CurrentTurn: turn,
			GameState:   models.GameStateActive,
		},
		Players: []models.Player{
			{ID: "p1", Name: "alice", Position: 1},
			{ID: "p2", Name: "bob", Position: 2},
		},
	}
}

func TestDescribeChanges_JoinAndTurn(t *testing.T) {
	next := testView("p1")
	msgs := describeChanges(engine.View{}, next)
	assert.Equal(t, []string{"game is in progress", "your turn"}, msgs)

	later := testView("p2")
	assert.Equal(t, []string{"waiting for bob"}, describeChanges(next, later))
}

func TestDescribeChanges_NewEntriesOncePerSignature(t *testing.T) {
	prev := testView("p2")
	next := testView("p1")
	next.NewEntries = []models.HistoryEntry{{Actor: "p2", Guess: "1234", ExactMatches: 1, PartialMatches: 2}}
	next.Signature = history.Signature{Sum: 42, Count: 1}

	msgs := describeChanges(prev, next)
	assert.Contains(t, msgs, "  bob guessed 1234: 1 exact, 2 partial")
	assert.Contains(t, msgs, "your turn")

	// republishing the same history must not repeat it
	assert.Empty(t, describeChanges(next, next))
}

func TestDescribeChanges_Connection(t *testing.T) {
	prev := testView("p1")
	next := prev
	next.Reconnecting = true
	assert.Equal(t, []string{"connection lost, reconnecting..."}, describeChanges(prev, next))
	assert.Equal(t, []string{"connection restored"}, describeChanges(next, prev))

	assert.Equal(t, []string{"left the room"}, describeChanges(prev, engine.View{}))
}

func TestDescribeChanges_Winner(t *testing.T) {
	prev := testView("p1")
	next := testView("")
	next.Session.GameState = models.GameStateFinished
	next.Winner = "p1"

	msgs := describeChanges(prev, next)
	assert.Equal(t, []string{"game is over", "you win!"}, msgs)
}

func TestRenderView(t *testing.T) {
	assert.Equal(t, "not in a room\n", renderView(engine.View{}))

	v := testView("p1")
	v.Quality = "good"
	v.Sending = 1
	v.History = []engine.HistoryLine{
		{HistoryEntry: models.HistoryEntry{Actor: "p2", Guess: "1111", ExactMatches: 0, PartialMatches: 1}},
		{HistoryEntry: models.HistoryEntry{Actor: "p1", Guess: "2222"}, Pending: true},
	}

	out := renderView(v)
	assert.Contains(t, out, "room r1, in progress, connection good")
	assert.Contains(t, out, "player 2: bob")
	assert.Contains(t, out, "bob guessed 1111: 0 exact, 1 partial")
	assert.Contains(t, out, "you guessed 2222: 0 exact, 0 partial (sending)")
	assert.Contains(t, out, "waiting on the server for 1 action(s)")
	assert.True(t, strings.HasSuffix(out, "your turn\n"))
}

// scriptedEngine answers commands without a server.
type scriptedEngine struct {
	mu      sync.Mutex
	views   chan engine.View
	guesses []string
}

func (s *scriptedEngine) View() engine.View { return testView("p1") }

func (s *scriptedEngine) Subscribe() (<-chan engine.View, func()) {
	return s.views, func() {}
}

func (s *scriptedEngine) Join(ctx context.Context, req engine.JoinRequest) (models.RoomSession, error) {
	return models.RoomSession{RoomID: "r9", PlayerID: "p1", Position: 1}, nil
}

func (s *scriptedEngine) SetSecret(ctx context.Context, secret string) error {
	return nil
}

func (s *scriptedEngine) SelectDigits(ctx context.Context, digits int) error {
	return nil
}

func (s *scriptedEngine) Guess(ctx context.Context, value string) (models.GuessResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guesses = append(s.guesses, value)
	return models.GuessResult{ExactMatches: 4, IsWinning: true}, nil
}

func (s *scriptedEngine) SkipTurn(ctx context.Context) error {
	return nil
}

func (s *scriptedEngine) Refresh(ctx context.Context) error {
	return nil
}

func (s *scriptedEngine) Leave(ctx context.Context) error {
	return nil
}

func TestRepl_RunsCommandsUntilQuit(t *testing.T) {
	eng := &scriptedEngine{views: make(chan engine.View)}
	in := strings.NewReader("bogus\nguess 1234\nview\nquit\n")
	var out bytes.Buffer

	err := repl(context.Background(), eng, "alice", "", in, &out)
	require.NoError(t, err)

	got := out.String()
	assert.Contains(t, got, "joined room r9 as player 1")
	assert.Contains(t, got, `unknown command "bogus"`)
	assert.Contains(t, got, "1234 -> 4 exact, 0 partial")
	assert.Contains(t, got, "you cracked it!")
	assert.Contains(t, got, "room r1, in progress")
	assert.Equal(t, []string{"1234"}, eng.guesses)
}

func TestHealthCmd(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("NUMGUESS_CONFIG", "")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"health", "--base-url", srv.URL, "--timeout", "2s"})
	t.Cleanup(func() { baseURL, configPath, logLevel = "", "", "" })

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), srv.URL+" is up")
}

func TestHealthCmd_ServerDown(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("NUMGUESS_CONFIG", "")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"health", "--base-url", srv.URL, "--timeout", time.Second.String()})
	t.Cleanup(func() { baseURL, configPath, logLevel = "", "", "" })

	assert.Error(t, root.Execute())
}
