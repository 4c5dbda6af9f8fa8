package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/streamrec/internal/foundation/errors"
)

// SQLiteLog implements Logger and keeps entries queryable.
type SQLiteLog struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// NewSQLiteLog opens (or creates) the activity database.
// Use ":memory:" for in-memory database, or a file path for persistent storage.
func NewSQLiteLog(dbPath string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryActivity, "open sqlite database").Build()
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteLog{db: db, now: time.Now}
	if err := store.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, errors.WrapError(err, errors.CategoryActivity, "initialize schema").Build()
	}
	return store, nil
}

func (s *SQLiteLog) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS activity (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		timestamp INTEGER NOT NULL,
		user TEXT NOT NULL,
		action TEXT NOT NULL,
		subject TEXT NOT NULL,
		details TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_activity_timestamp ON activity(timestamp);
	CREATE INDEX IF NOT EXISTS idx_activity_action ON activity(action);
	`
	_, err := s.db.Exec(schema)
	return err
}

// LogActivity implements Logger.
func (s *SQLiteLog) LogActivity(ctx context.Context, user, action, subject string) error {
	return s.Append(ctx, Entry{User: user, Action: action, Subject: subject})
}

// Append stores e, filling in ID and Time when empty.
func (s *SQLiteLog) Append(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = s.now()
	}

	var details []byte
	if len(e.Details) > 0 {
		var err error
		details, err = json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO activity (id, timestamp, user, action, subject, details) VALUES (?, ?, ?, ?, ?, ?)",
		e.ID, e.Time.UnixNano(), e.User, e.Action, e.Subject, string(details),
	)
	if err != nil {
		return errors.WrapError(err, errors.CategoryActivity, "insert activity").Build()
	}
	return nil
}

// Recent returns up to limit entries, newest first, optionally filtered by action.
func (s *SQLiteLog) Recent(ctx context.Context, limit int, action string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	query := "SELECT id, timestamp, user, action, subject, details FROM activity"
	args := []any{}
	if action != "" {
		query += " WHERE action = ?"
		args = append(args, action)
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Range returns entries in [start, end], oldest first.
func (s *SQLiteLog) Range(ctx context.Context, start, end time.Time) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, timestamp, user, action, subject, details FROM activity WHERE timestamp >= ? AND timestamp <= ? ORDER BY seq",
		start.UnixNano(), end.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Prune deletes entries older than before and returns how many were removed.
func (s *SQLiteLog) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM activity WHERE timestamp < ?", before.UnixNano())
	if err != nil {
		return 0, errors.WrapError(err, errors.CategoryActivity, "prune activity").Build()
	}
	return res.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		var details sql.NullString
		if err := rows.Scan(&e.ID, &ts, &e.User, &e.Action, &e.Subject, &details); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		e.Time = time.Unix(0, ts)
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshal details: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return entries, nil
}

// Close closes the database connection.
func (s *SQLiteLog) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
