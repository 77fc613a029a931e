package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store on a local sqlite database. It suits
// single-instance deployments that need sessions to survive restarts
// without running a redis server.
type SQLiteStore struct {
	db     *sql.DB
	ttl    time.Duration
	now    func() time.Time
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (or creates) the database at path and prepares the schema.
func NewSQLiteStore(path string, ttl time.Duration) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:  db,
		ttl: ttl,
		now: time.Now,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates the session and lease tables
func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			record TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);

		CREATE TABLE IF NOT EXISTS leases (
			session_id TEXT PRIMARY KEY,
			token TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Get returns the record for sessionID, expiry-adjusted.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (Record, error) {
	if err := s.guard(); err != nil {
		return Record{}, err
	}

	var data string
	err := s.db.QueryRowContext(ctx, "SELECT record FROM sessions WHERE session_id = ?", sessionID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get session: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return withExpiry(rec, s.now(), s.ttl), nil
}

// Put creates or overwrites the record.
func (s *SQLiteStore) Put(ctx context.Context, rec Record) error {
	if err := s.guard(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO sessions (session_id, state, record, created_at) VALUES (?, ?, ?, ?)",
		rec.SessionID, string(rec.State), string(data), rec.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// CompareAndTransition atomically moves the record from expected to next. The
// final UPDATE is guarded by the previously read state so a concurrent writer
// from another process surfaces as ErrStaleState.
func (s *SQLiteStore) CompareAndTransition(ctx context.Context, sessionID string, expected, next State, mutate func(*Record)) (Record, error) {
	if err := s.guard(); err != nil {
		return Record{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var data string
	err = tx.QueryRowContext(ctx, "SELECT record FROM sessions WHERE session_id = ?", sessionID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get session: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal record: %w", err)
	}

	stored := rec.State
	observed := withExpiry(rec, s.now(), s.ttl)
	if observed.State != expected {
		return Record{}, ErrStaleState
	}

	rec.State = next
	if mutate != nil {
		mutate(&rec)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("marshal record: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE sessions SET state = ?, record = ? WHERE session_id = ? AND state = ?",
		string(rec.State), string(payload), sessionID, string(stored))
	if err != nil {
		return Record{}, fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Record{}, fmt.Errorf("update session: %w", err)
	}
	if affected == 0 {
		return Record{}, ErrStaleState
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit transaction: %w", err)
	}
	return rec, nil
}

// AcquireLease claims the finalize lease for sessionID.
func (s *SQLiteStore) AcquireLease(ctx context.Context, sessionID string, ttl time.Duration) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	var expiresAt int64
	err = tx.QueryRowContext(ctx, "SELECT expires_at FROM leases WHERE session_id = ?", sessionID).Scan(&expiresAt)
	if err == nil && expiresAt > now.UnixNano() {
		return "", ErrLeaseHeld
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("check lease: %w", err)
	}

	token, err := gonanoid.New()
	if err != nil {
		return "", err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO leases (session_id, token, expires_at) VALUES (?, ?, ?)",
		sessionID, token, now.Add(ttl).UnixNano())
	if err != nil {
		return "", fmt.Errorf("acquire lease: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit transaction: %w", err)
	}
	return token, nil
}

// ReleaseLease deletes the lease only while token still owns it.
func (s *SQLiteStore) ReleaseLease(ctx context.Context, sessionID, token string) error {
	if err := s.guard(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, "DELETE FROM leases WHERE session_id = ? AND token = ?", sessionID, token)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// List returns all records ordered by session id, expiry-adjusted.
func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT record FROM sessions ORDER BY session_id")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	now := s.now()
	var records []Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		records = append(records, withExpiry(rec, now, s.ttl))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return records, nil
}

// Delete removes the record and any lease for sessionID.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.guard(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM leases WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("delete lease: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
