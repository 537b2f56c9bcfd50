package snapshotstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/numguess/go/internal/models"
	"github.com/mcdev12/numguess/go/internal/sqlutil"

	_ "modernc.org/sqlite" // SQLite driver.
)

// SQLiteStore persists snapshots in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies migrations.
func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot db: %w", err)
	}
	// a single writer keeps sqlite from returning SQLITE_BUSY under the engine's saves
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate snapshot db: %w", err)
	}
	log.Info().Str("path", path).Msg("snapshot store opened")
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			room_id TEXT PRIMARY KEY,
			player_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			digits_expected INTEGER NOT NULL,
			current_turn TEXT,
			game_state TEXT NOT NULL,
			history_count INTEGER NOT NULL,
			winner TEXT,
			captured_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS snapshot_players (
			room_id TEXT NOT NULL,
			player_id TEXT NOT NULL,
			name TEXT NOT NULL,
			position INTEGER NOT NULL,
			secret_set INTEGER NOT NULL,
			PRIMARY KEY (room_id, player_id)
		);`,
		`CREATE TABLE IF NOT EXISTS snapshot_history (
			room_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			actor TEXT NOT NULL,
			guess TEXT NOT NULL,
			exact_matches INTEGER NOT NULL,
			partial_matches INTEGER NOT NULL,
			recorded_at TEXT,
			PRIMARY KEY (room_id, seq)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Save replaces the stored snapshot for the snapshot's room.
func (s *SQLiteStore) Save(ctx context.Context, snap models.SyncSnapshot) error {
	if snap.Session.RoomID == "" {
		return errors.New("snapshot has no room id")
	}
	err := sqlutil.Run(ctx, s.db, newQueries, func(q *queries) error {
		if err := q.deleteRoom(ctx, snap.Session.RoomID); err != nil {
			return err
		}
		if err := q.insertSnapshot(ctx, snap); err != nil {
			return err
		}
		for _, p := range snap.Players {
			if err := q.insertPlayer(ctx, snap.Session.RoomID, p); err != nil {
				return err
			}
		}
		for i, h := range snap.History {
			if err := q.insertHistory(ctx, snap.Session.RoomID, i, h); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot or ErrNotFound.
func (s *SQLiteStore) Load(ctx context.Context, roomID string) (models.SyncSnapshot, error) {
	var (
		snap       models.SyncSnapshot
		turn       sql.NullString
		state      string
		winner     sql.NullString
		capturedAt sql.NullString
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT room_id, player_id, position, digits_expected, current_turn, game_state, history_count, winner, captured_at
		 FROM snapshots WHERE room_id = ?`, roomID)
	err := row.Scan(
		&snap.Session.RoomID,
		&snap.Session.PlayerID,
		&snap.Session.Position,
		&snap.Session.DigitsExpected,
		&turn,
		&state,
		&snap.Session.HistoryCount,
		&winner,
		&capturedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SyncSnapshot{}, ErrNotFound
	}
	if err != nil {
		return models.SyncSnapshot{}, fmt.Errorf("failed to load snapshot: %w", err)
	}
	snap.Session.CurrentTurn = sqlutil.FromSqlString(turn, "")
	snap.Session.GameState = models.GameState(state)
	snap.Winner = sqlutil.FromSqlString(winner, "")
	if snap.CapturedAt, err = sqlutil.FromSqlTime(capturedAt); err != nil {
		return models.SyncSnapshot{}, fmt.Errorf("failed to parse captured_at: %w", err)
	}

	if snap.Players, err = s.loadPlayers(ctx, roomID); err != nil {
		return models.SyncSnapshot{}, err
	}
	if snap.History, err = s.loadHistory(ctx, roomID); err != nil {
		return models.SyncSnapshot{}, err
	}
	return snap, nil
}

// Delete removes a room's snapshot. Deleting a missing room is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, roomID string) error {
	err := sqlutil.Run(ctx, s.db, newQueries, func(q *queries) error {
		return q.deleteRoom(ctx, roomID)
	})
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadPlayers(ctx context.Context, roomID string) ([]models.Player, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT player_id, name, position, secret_set FROM snapshot_players WHERE room_id = ? ORDER BY position`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load players: %w", err)
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		var p models.Player
		if err := rows.Scan(&p.ID, &p.Name, &p.Position, &p.SecretSet); err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (s *SQLiteStore) loadHistory(ctx context.Context, roomID string) ([]models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT actor, guess, exact_matches, partial_matches, recorded_at FROM snapshot_history WHERE room_id = ? ORDER BY seq`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var history []models.HistoryEntry
	for rows.Next() {
		var (
			h  models.HistoryEntry
			ts sql.NullString
		)
		if err := rows.Scan(&h.Actor, &h.Guess, &h.ExactMatches, &h.PartialMatches, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		if h.Timestamp, err = sqlutil.FromSqlTime(ts); err != nil {
			return nil, fmt.Errorf("failed to parse history timestamp: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// queries binds statements to one transaction.
type queries struct {
	tx *sql.Tx
}

func newQueries(tx *sql.Tx) *queries {
	return &queries{tx: tx}
}

func (q *queries) deleteRoom(ctx context.Context, roomID string) error {
	for _, stmt := range []string{
		`DELETE FROM snapshot_history WHERE room_id = ?`,
		`DELETE FROM snapshot_players WHERE room_id = ?`,
		`DELETE FROM snapshots WHERE room_id = ?`,
	} {
		if _, err := q.tx.ExecContext(ctx, stmt, roomID); err != nil {
			return err
		}
	}
	return nil
}

func (q *queries) insertSnapshot(ctx context.Context, snap models.SyncSnapshot) error {
	_, err := q.tx.ExecContext(ctx,
		`INSERT INTO snapshots (room_id, player_id, position, digits_expected, current_turn, game_state, history_count, winner, captured_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.Session.RoomID,
		snap.Session.PlayerID,
		snap.Session.Position,
		snap.Session.DigitsExpected,
		sqlutil.ToSqlString(snap.Session.CurrentTurn),
		string(snap.Session.GameState),
		snap.Session.HistoryCount,
		sqlutil.ToSqlString(snap.Winner),
		sqlutil.ToSqlTime(snap.CapturedAt),
	)
	return err
}

func (q *queries) insertPlayer(ctx context.Context, roomID string, p models.Player) error {
	_, err := q.tx.ExecContext(ctx,
		`INSERT INTO snapshot_players (room_id, player_id, name, position, secret_set) VALUES (?, ?, ?, ?, ?)`,
		roomID, p.ID, p.Name, p.Position, p.SecretSet)
	return err
}

func (q *queries) insertHistory(ctx context.Context, roomID string, seq int, h models.HistoryEntry) error {
	_, err := q.tx.ExecContext(ctx,
		`INSERT INTO snapshot_history (room_id, seq, actor, guess, exact_matches, partial_matches, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		roomID, seq, h.Actor, h.Guess, h.ExactMatches, h.PartialMatches, sqlutil.ToSqlTime(h.Timestamp))
	return err
}
