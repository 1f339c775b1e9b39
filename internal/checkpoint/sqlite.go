package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the latest record per instance in a SQLite file.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteStore creates a store for path. Call Init before use.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

// Init opens the database and creates the checkpoints table.
func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", s.path))
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			instance TEXT PRIMARY KEY,
			generation INTEGER NOT NULL,
			payload BLOB NOT NULL,
			saved_at TEXT NOT NULL
		);
	`)
	if err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Save upserts rec as the instance's latest checkpoint.
func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(rec.Population)
	if err != nil {
		return fmt.Errorf("encode population: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO checkpoints (instance, generation, payload, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(instance) DO UPDATE SET
			generation = excluded.generation,
			payload = excluded.payload,
			saved_at = excluded.saved_at
	`, rec.Instance, rec.Generation, payload, rec.SavedAt.Format(time.RFC3339Nano))
	return err
}

// Load returns the instance's latest checkpoint.
func (s *SQLiteStore) Load(ctx context.Context, instance string) (Record, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return Record{}, false, err
	}

	var (
		generation int
		payload    []byte
		savedAt    string
	)
	err = db.QueryRowContext(ctx,
		`SELECT generation, payload, saved_at FROM checkpoints WHERE instance = ?`, instance,
	).Scan(&generation, &payload, &savedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}

	rec := Record{Instance: instance, Generation: generation}
	if err := json.Unmarshal(payload, &rec.Population); err != nil {
		return Record{}, false, fmt.Errorf("decode checkpoint %s: %w", instance, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, savedAt); err == nil {
		rec.SavedAt = t
	}
	return rec, true, nil
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}
