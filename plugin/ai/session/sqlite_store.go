package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	// SQLite driver (pure Go).
	_ "modernc.org/sqlite"

	"github.com/hrygo/mindloop/plugin/ai/mindstate"
)

// SQLiteStore persists sessions in a SQLite database. Turns are stored as one
// JSON document per row and never updated.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteStore opens (or creates) the database at dsn and migrates the schema.
func OpenSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open session db: %w", err)
	}
	// A single writer keeps SQLite from returning SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session (
			user_id TEXT PRIMARY KEY,
			last_mindstate TEXT,
			created_ts INTEGER NOT NULL,
			updated_ts INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS session_turn (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_turn_user ON session_turn (user_id, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate session db: %w", err)
		}
	}
	return nil
}

// Get returns the user's session with all turns in commit order.
func (s *SQLiteStore) Get(ctx context.Context, userID string) (*Session, bool, error) {
	if userID == "" {
		return nil, false, ErrEmptyUserID
	}

	var (
		result    = Session{UserID: userID, Turns: []mindstate.Turn{}}
		lastMS    sql.NullString
		createdTs int64
		updatedTs int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT last_mindstate, created_ts, updated_ts FROM session WHERE user_id = ?`, userID,
	).Scan(&lastMS, &createdTs, &updatedTs)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load session: %w", err)
	}
	result.CreatedAt = time.Unix(0, createdTs)
	result.UpdatedAt = time.Unix(0, updatedTs)

	if lastMS.Valid && lastMS.String != "" {
		var ms mindstate.Mindstate
		if err := json.Unmarshal([]byte(lastMS.String), &ms); err != nil {
			slog.Warn("failed to unmarshal last mindstate", "user_id", userID, "error", err)
		} else {
			result.LastMindstate = &ms
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM session_turn WHERE user_id = ? ORDER BY seq ASC`, userID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load turns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, false, fmt.Errorf("failed to scan turn: %w", err)
		}
		var turn mindstate.Turn
		if err := json.Unmarshal([]byte(data), &turn); err != nil {
			return nil, false, fmt.Errorf("failed to unmarshal turn: %w", err)
		}
		result.Turns = append(result.Turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to iterate turns: %w", err)
	}

	return &result, true, nil
}

// GetOrCreate returns the user's session, inserting an empty row if needed.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	now := s.now().UnixNano()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO session (user_id, created_ts, updated_ts) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO NOTHING`, userID, now, now); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	sess, _, err := s.Get(ctx, userID)
	return sess, err
}

// Append stores the turn and updates the session's last mindstate atomically.
func (s *SQLiteStore) Append(ctx context.Context, userID string, turn mindstate.Turn) error {
	if userID == "" {
		return ErrEmptyUserID
	}

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}
	var lastMS []byte
	if turn.Mindstate != nil {
		if lastMS, err = json.Marshal(turn.Mindstate); err != nil {
			return fmt.Errorf("failed to marshal mindstate: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := s.now().UnixNano()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session (user_id, last_mindstate, created_ts, updated_ts) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
			last_mindstate = EXCLUDED.last_mindstate,
			updated_ts = EXCLUDED.updated_ts`,
		userID, string(lastMS), now, now); err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session_turn (id, user_id, data) VALUES (?, ?, ?)`,
		turn.ID, userID, string(data)); err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}
	return tx.Commit()
}

// Clear deletes the session and its turns.
func (s *SQLiteStore) Clear(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin clear: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_turn WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete turns: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return tx.Commit()
}

// CleanupExpired removes sessions idle for longer than idle.
func (s *SQLiteStore) CleanupExpired(ctx context.Context, idle time.Duration) (int64, error) {
	cutoff := s.now().Add(-idle).UnixNano()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM session_turn WHERE user_id IN (SELECT user_id FROM session WHERE updated_ts < ?)`,
		cutoff); err != nil {
		return 0, fmt.Errorf("failed to cleanup expired turns: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE updated_ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired sessions: %w", err)
	}
	return result.RowsAffected()
}

var (
	_ Store   = (*SQLiteStore)(nil)
	_ Expirer = (*SQLiteStore)(nil)
)
