package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	ceerrors "github.com/randalmurphal/ceroute/pkg/ceroute/errors"
	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
)

// SQLiteBackend persists events to a SQLite table.
type SQLiteBackend struct {
	db     *sql.DB
	table  string
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteBackend opens path and creates table if it does not exist.
// table must already be a validated identifier.
func NewSQLiteBackend(path, table string) (*SQLiteBackend, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and writes serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			id TEXT NOT NULL,
			type TEXT NOT NULL,
			stored_at TEXT NOT NULL,
			data BLOB NOT NULL,
			UNIQUE (source, id)
		)
	`, table)); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteBackend{db: db, table: table}, nil
}

// Append implements Backend.
func (s *SQLiteBackend) Append(ctx context.Context, evt *event.Event) (bool, error) {
	data, err := event.Encode(evt)
	if err != nil {
		return false, ceerrors.Permanent(err, "encode event")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (source, id, type, stored_at, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source, id) DO NOTHING
	`, s.table), evt.Source(), evt.ID(), evt.Type(), time.Now().UTC().Format(time.RFC3339Nano), data)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	return n == 1, nil
}

// List implements Backend.
func (s *SQLiteBackend) List(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT source, id, type, stored_at, data
		FROM %s
		ORDER BY seq
	`, s.table))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec      Record
			storedAt string
			data     []byte
		)
		if err := rows.Scan(&rec.Source, &rec.ID, &rec.Type, &storedAt, &data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.StoredAt, _ = time.Parse(time.RFC3339Nano, storedAt)
		if rec.Event, err = event.Decode(data); err != nil {
			return nil, fmt.Errorf("decode stored event %s: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

// Close implements Backend.
func (s *SQLiteBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
