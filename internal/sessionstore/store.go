// Package sessionstore keeps conversation sessions and their turns in SQLite
// so a summary can be requested after the conversation ends.
package sessionstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/koscakluka/ema-voice/internal/config"
	_ "modernc.org/sqlite"
)

var ErrNoSession = errors.New("no session recorded")

type Session struct {
	ID             string
	UserID         string
	PartnerUserID  string
	StartedAt      time.Time
	EndedAt        time.Time
	Summary        string
	ChemistryIndex int
}

type Turn struct {
	ID         int64
	SessionID  string
	TurnID     string
	Reply      string
	AudioBytes int
	CreatedAt  time.Time
}

// Store is a no-op when retention is ephemeral.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	clock func() time.Time
}

func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	if cfg.RetentionMode == config.RetentionEphemeral {
		return &Store{cfg: cfg, clock: time.Now}, nil
	}

	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(2000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	if err := s.Prune(ctx); err != nil {
		logger.Warn("session store prune on open failed", "error", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    user_id TEXT,
    partner_user_id TEXT,
    started_at INTEGER NOT NULL,
    ended_at INTEGER,
    summary TEXT,
    chemistry_index INTEGER
);
CREATE TABLE IF NOT EXISTS turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    turn_id TEXT,
    reply TEXT,
    audio_bytes INTEGER,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_turns_session_created ON turns(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) enabled() bool {
	return s != nil && s.db != nil
}

func (s *Store) Close() error {
	if !s.enabled() {
		return nil
	}
	return s.db.Close()
}

// StartSession records a session the backend issued. Starting a known
// session again keeps its original start time.
func (s *Store) StartSession(ctx context.Context, sessionID, userID, partnerUserID string) error {
	if !s.enabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, user_id, partner_user_id, started_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET user_id=excluded.user_id, partner_user_id=excluded.partner_user_id`,
		sessionID, userID, partnerUserID, s.clock().UnixMilli())
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return nil
}

func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	if !s.enabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET ended_at = ? WHERE session_id = ?`, s.clock().UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

func (s *Store) AppendTurn(ctx context.Context, turn Turn) error {
	if !s.enabled() {
		return nil
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns(session_id, turn_id, reply, audio_bytes, created_at) VALUES(?, ?, ?, ?, ?)`,
		turn.SessionID, turn.TurnID, turn.Reply, turn.AudioBytes, turn.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (s *Store) SaveSummary(ctx context.Context, sessionID, summary string, chemistryIndex int) error {
	if !s.enabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET summary = ?, chemistry_index = ? WHERE session_id = ?`,
		summary, chemistryIndex, sessionID)
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

// LastSession returns the most recently started session, or ErrNoSession.
func (s *Store) LastSession(ctx context.Context) (Session, error) {
	if !s.enabled() {
		return Session{}, ErrNoSession
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, partner_user_id, started_at, ended_at, summary, chemistry_index
		 FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT 1`)

	var (
		session        Session
		userID         sql.NullString
		partnerUserID  sql.NullString
		startedAt      int64
		endedAt        sql.NullInt64
		summary        sql.NullString
		chemistryIndex sql.NullInt64
	)
	if err := row.Scan(&session.ID, &userID, &partnerUserID, &startedAt, &endedAt, &summary, &chemistryIndex); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNoSession
		}
		return Session{}, fmt.Errorf("last session: %w", err)
	}
	session.UserID = userID.String
	session.PartnerUserID = partnerUserID.String
	session.StartedAt = time.UnixMilli(startedAt)
	if endedAt.Valid {
		session.EndedAt = time.UnixMilli(endedAt.Int64)
	}
	session.Summary = summary.String
	session.ChemistryIndex = int(chemistryIndex.Int64)
	return session, nil
}

// ListTurns returns up to limit turns of a session, oldest first.
func (s *Store) ListTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if !s.enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, turn_id, reply, audio_bytes, created_at
		 FROM turns WHERE session_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			turn    Turn
			created int64
		)
		if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.TurnID, &turn.Reply, &turn.AudioBytes, &created); err != nil {
			return nil, err
		}
		turn.CreatedAt = time.UnixMilli(created)
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// Prune drops sessions older than the retention window and keeps at most
// MaxSessions of the newest.
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.enabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UnixMilli()
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE started_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions); err != nil {
			return err
		}
	}
	return tx.Commit()
}
