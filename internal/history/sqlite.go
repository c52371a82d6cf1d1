package history

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store on a single SQLite connection.
type SQLiteStore struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// NewSQLiteStore opens (creating if needed) the database at path and applies
// the schema. Use ":memory:" for a throwaway store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	if path == ":memory:" {
		dsn = path
	}
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	s := &SQLiteStore{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS predictions (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		sha256 TEXT NOT NULL,
		label TEXT NOT NULL,
		class_index INTEGER NOT NULL,
		confidence REAL NOT NULL,
		duration_ms INTEGER DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
	CREATE INDEX IF NOT EXISTS idx_predictions_sha256 ON predictions(sha256);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// Insert stores rec, filling ID and CreatedAt when they are unset.
func (s *SQLiteStore) Insert(rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		INSERT INTO predictions (id, filename, sha256, label, class_index, confidence, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Filename, rec.SHA256, rec.Label, rec.ClassIndex, rec.Confidence, rec.DurationMS, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *SQLiteStore) Recent(limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT id, filename, sha256, label, class_index, confidence, duration_ms, created_at
		FROM predictions ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Filename, &rec.SHA256, &rec.Label, &rec.ClassIndex,
			&rec.Confidence, &rec.DurationMS, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM predictions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count predictions: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}
