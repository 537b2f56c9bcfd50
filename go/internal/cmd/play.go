package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/numguess/go/internal/bridge"
	"github.com/mcdev12/numguess/go/internal/models"
	"github.com/mcdev12/numguess/go/internal/sync/engine"
)

const playHelp = `commands:
  join <name> [room]   join a room (a new one when room is omitted)
  digits <n>           choose the number length and start the game
  secret <number>      set your secret number
  guess <number>       guess the opponent's number (a bare number works too)
  skip                 pass your turn
  refresh              sync with the server now
  view                 print the current game state
  leave                leave the room
  quit                 exit`

var errQuit = errors.New("quit")

func newPlayCmd() *cobra.Command {
	var name, room string

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play interactively from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlay(cmd.Context(), name, room, os.Stdin, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "player name; joins immediately when set")
	cmd.Flags().StringVar(&room, "room", "", "room to join")
	return cmd
}

func runPlay(ctx context.Context, name, room string, in io.Reader, out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	services, err := setupServices(cfg)
	if err != nil {
		return err
	}
	defer services.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := services.Engine.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if services.Bridge != nil {
		g.Go(func() error { return services.Bridge.Run(gctx) })
	}
	g.Go(func() error {
		defer cancel()
		return repl(gctx, services.Engine, name, room, in, out)
	})
	return g.Wait()
}

func repl(ctx context.Context, eng bridge.Engine, name, room string, in io.Reader, out io.Writer) error {
	views, unsubscribe := eng.Subscribe()
	defer unsubscribe()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(out, "type 'help' for commands")
	if name != "" {
		runCommand(ctx, eng, out, bridge.Command{Action: bridge.ActionJoin, PlayerName: name, RoomID: room})
	}

	var last engine.View
	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-views:
			if !ok {
				return nil
			}
			for _, msg := range describeChanges(last, v) {
				fmt.Fprintln(out, msg)
			}
			last = v
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, err := parseCommand(line)
			switch {
			case errors.Is(err, errQuit):
				return nil
			case err != nil:
				fmt.Fprintln(out, err)
			case cmd.Action == "help":
				fmt.Fprintln(out, playHelp)
			case cmd.Action == "view":
				fmt.Fprint(out, renderView(eng.View()))
			case cmd.Action != "":
				runCommand(ctx, eng, out, cmd)
			}
		}
	}
}

func runCommand(ctx context.Context, eng bridge.Engine, out io.Writer, cmd bridge.Command) {
	if cmd.Action == bridge.ActionGuess {
		fmt.Fprintf(out, "guessing %s...\n", cmd.Value)
	}
	res := bridge.Execute(ctx, eng, cmd)
	if !res.OK {
		fmt.Fprintf(out, "%s: %s\n", strings.ReplaceAll(res.Action, "_", " "), res.Error)
		return
	}
	switch {
	case res.Guess != nil:
		fmt.Fprintf(out, "%s -> %d exact, %d partial\n", cmd.Value, res.Guess.ExactMatches, res.Guess.PartialMatches)
		if res.Guess.IsWinning {
			fmt.Fprintln(out, "you cracked it!")
		}
	case res.Session != nil:
		fmt.Fprintf(out, "joined room %s as player %d\n", res.Session.RoomID, res.Session.Position)
	default:
		fmt.Fprintln(out, "ok")
	}
}

// parseCommand turns a typed line into a command. An empty Action means nothing to do.
func parseCommand(line string) (bridge.Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return bridge.Command{}, nil
	}

	verb, args := strings.ToLower(fields[0]), fields[1:]
	need := func(n int, usage string) error {
		if len(args) < n {
			return fmt.Errorf("usage: %s", usage)
		}
		return nil
	}

	switch verb {
	case "quit", "exit", "q":
		return bridge.Command{}, errQuit
	case "help", "?":
		return bridge.Command{Action: "help"}, nil
	case "view", "status":
		return bridge.Command{Action: "view"}, nil
	case "join":
		if err := need(1, "join <name> [room]"); err != nil {
			return bridge.Command{}, err
		}
		cmd := bridge.Command{Action: bridge.ActionJoin, PlayerName: args[0]}
		if len(args) > 1 {
			cmd.RoomID = args[1]
		}
		return cmd, nil
	case "digits", "start":
		if err := need(1, "digits <n>"); err != nil {
			return bridge.Command{}, err
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return bridge.Command{}, fmt.Errorf("digits must be a positive number")
		}
		return bridge.Command{Action: bridge.ActionSelectDigits, Digits: n}, nil
	case "secret":
		if err := need(1, "secret <number>"); err != nil {
			return bridge.Command{}, err
		}
		return bridge.Command{Action: bridge.ActionSetSecret, Value: args[0]}, nil
	case "guess", "g":
		if err := need(1, "guess <number>"); err != nil {
			return bridge.Command{}, err
		}
		return bridge.Command{Action: bridge.ActionGuess, Value: args[0]}, nil
	case "skip":
		return bridge.Command{Action: bridge.ActionSkipTurn}, nil
	case "refresh", "r":
		return bridge.Command{Action: bridge.ActionRefresh}, nil
	case "leave":
		return bridge.Command{Action: bridge.ActionLeave}, nil
	}

	if _, err := strconv.Atoi(verb); err == nil && len(args) == 0 {
		return bridge.Command{Action: bridge.ActionGuess, Value: verb}, nil
	}
	return bridge.Command{}, fmt.Errorf("unknown command %q, type 'help'", verb)
}

// describeChanges reports what changed between two views worth telling the player.
func describeChanges(prev, next engine.View) []string {
	var out []string

	if next.Reconnecting != prev.Reconnecting {
		if next.Reconnecting {
			out = append(out, "connection lost, reconnecting...")
		} else {
			out = append(out, "connection restored")
		}
	}

	if next.Session == nil {
		if prev.Session != nil {
			out = append(out, "left the room")
		}
		return out
	}

	if prev.Session == nil || next.Session.GameState != prev.Session.GameState {
		out = append(out, fmt.Sprintf("game is %s", describeState(next.Session.GameState)))
	}

	if next.Signature != prev.Signature && !next.Stale {
		entries := next.NewEntries
		if next.Rebuild && len(entries) > 0 {
			out = append(out, "history:")
		}
		for _, h := range entries {
			out = append(out, "  "+formatEntry(h, next))
		}
	}

	if next.Session.CurrentTurn != "" && (prev.Session == nil || next.Session.CurrentTurn != prev.Session.CurrentTurn) {
		if next.MyTurn() {
			out = append(out, "your turn")
		} else {
			out = append(out, fmt.Sprintf("waiting for %s", playerName(next, next.Session.CurrentTurn)))
		}
	}

	if next.Winner != "" && next.Winner != prev.Winner {
		if next.Winner == next.Session.PlayerID {
			out = append(out, "you win!")
		} else {
			out = append(out, fmt.Sprintf("%s wins!", playerName(next, next.Winner)))
		}
	}
	return out
}

func renderView(v engine.View) string {
	if v.Session == nil {
		return "not in a room\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "room %s, %s, connection %s\n", v.Session.RoomID, describeState(v.Session.GameState), v.Quality)
	for _, p := range v.Players {
		fmt.Fprintf(&b, "  player %d: %s\n", p.Position, p.Name)
	}
	if v.Stale {
		fmt.Fprintf(&b, "showing cached state from %s\n", v.SnapshotAt.Format("15:04:05"))
	}
	for _, line := range v.History {
		suffix := ""
		if line.Pending {
			suffix = " (sending)"
		}
		fmt.Fprintf(&b, "  %s%s\n", formatEntry(line.HistoryEntry, v), suffix)
	}
	if v.Sending > 0 {
		fmt.Fprintf(&b, "waiting on the server for %d action(s)\n", v.Sending)
	}
	if v.MyTurn() {
		b.WriteString("your turn\n")
	}
	return b.String()
}

func formatEntry(h models.HistoryEntry, v engine.View) string {
	return fmt.Sprintf("%s guessed %s: %d exact, %d partial", playerName(v, h.Actor), h.Guess, h.ExactMatches, h.PartialMatches)
}

func playerName(v engine.View, id string) string {
	if v.Session != nil && id == v.Session.PlayerID {
		return "you"
	}
	for _, p := range v.Players {
		if p.ID == id {
			return p.Name
		}
	}
	return id
}

func describeState(s models.GameState) string {
	switch s {
	case models.GameStateWaiting:
		return "waiting for an opponent"
	case models.GameStateSecretSetting:
		return "setting secrets"
	case models.GameStateActive:
		return "in progress"
	case models.GameStateFinished:
		return "over"
	case models.GameStateContinueGuessing:
		return "in continue-guessing mode"
	default:
		return "in an unknown state"
	}
}
