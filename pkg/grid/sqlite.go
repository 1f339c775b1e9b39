package grid

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Compile-time contract assertions.
var (
	_ Store             = (*SQLiteStore)(nil)
	_ ConditionalWriter = (*SQLiteStore)(nil)
	_ Pinger            = (*SQLiteStore)(nil)
)

// SQLiteStore keeps a grid in a single SQLite file. Several processes on the same
// host may share the file; writers wait on the busy timeout instead of failing.
type SQLiteStore struct {
	path         string
	instanceName string

	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteStore creates a store for path. Call Init before use.
func NewSQLiteStore(path, instanceName string) *SQLiteStore {
	return &SQLiteStore{path: path, instanceName: instanceName}
}

// Init opens the database and creates the cells table if needed.
func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.instanceName == "" {
		return errors.New("instance name cannot be empty")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", sqliteDSN(s.path))
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createCellsTable(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

// Close closes the database. Safe to call more than once.
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

// Ping verifies the database is open and reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// Read returns the trimmed content of r.
func (s *SQLiteStore) Read(ctx context.Context, r Range) (Matrix, error) {
	first, last, err := r.columnIndexes()
	if err != nil {
		return nil, err
	}
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	m, err := readCells(ctx, db, s.instanceName, r, first, last)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from sqlite: %w", r, err)
	}
	return Trim(m), nil
}

// Write overwrites r with m in one transaction.
func (s *SQLiteStore) Write(ctx context.Context, r Range, m Matrix) (int, error) {
	if err := checkShape(r, m); err != nil {
		return 0, err
	}
	first, _, _ := r.columnIndexes()
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin write of %s: %w", r, err)
	}
	updated, err := writeCells(ctx, tx, s.instanceName, r, first, m)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to write %s to sqlite: %w", r, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit write of %s: %w", r, err)
	}
	return updated, nil
}

// Clear deletes every cell in r.
func (s *SQLiteStore) Clear(ctx context.Context, r Range) error {
	first, last, err := r.columnIndexes()
	if err != nil {
		return err
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		DELETE FROM cells
		WHERE instance = ? AND col BETWEEN ? AND ? AND row BETWEEN ? AND ?
	`, s.instanceName, first, last, r.FirstRow, r.LastRow)
	if err != nil {
		return fmt.Errorf("failed to clear %s in sqlite: %w", r, err)
	}
	return nil
}

// WriteIfEmpty takes the database write lock with BEGIN IMMEDIATE, so the
// emptiness check and the write cannot interleave with another writer.
func (s *SQLiteStore) WriteIfEmpty(ctx context.Context, r Range, m Matrix) (bool, error) {
	if err := checkShape(r, m); err != nil {
		return false, err
	}
	first, last, _ := r.columnIndexes()
	db, err := s.getDB()
	if err != nil {
		return false, err
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return false, fmt.Errorf("failed to lock sqlite for %s: %w", r, err)
	}
	rollback := func() { _, _ = conn.ExecContext(context.Background(), "ROLLBACK") }

	var count int
	err = conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM cells
		WHERE instance = ? AND col BETWEEN ? AND ? AND row BETWEEN ? AND ? AND value <> ''
	`, s.instanceName, first, last, r.FirstRow, r.LastRow).Scan(&count)
	if err != nil {
		rollback()
		return false, fmt.Errorf("failed to check %s: %w", r, err)
	}
	if count > 0 {
		rollback()
		return false, nil
	}

	if _, err := writeCells(ctx, conn, s.instanceName, r, first, m); err != nil {
		rollback()
		return false, fmt.Errorf("failed to conditionally write %s: %w", r, err)
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		rollback()
		return false, fmt.Errorf("failed to commit %s: %w", r, err)
	}
	return true, nil
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func writeCells(ctx context.Context, db execer, instance string, r Range, first int, m Matrix) (int, error) {
	updated := 0
	for i, row := range m {
		for j, v := range row {
			col, rowNum := first+j, r.FirstRow+i
			var err error
			if v == "" {
				_, err = db.ExecContext(ctx,
					`DELETE FROM cells WHERE instance = ? AND col = ? AND row = ?`,
					instance, col, rowNum)
			} else {
				_, err = db.ExecContext(ctx, `
					INSERT INTO cells (instance, col, row, value)
					VALUES (?, ?, ?, ?)
					ON CONFLICT(instance, col, row) DO UPDATE SET value = excluded.value
				`, instance, col, rowNum, v)
			}
			if err != nil {
				return updated, err
			}
			updated++
		}
	}
	return updated, nil
}

func readCells(ctx context.Context, db *sql.DB, instance string, r Range, first, last int) (Matrix, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT col, row, value FROM cells
		WHERE instance = ? AND col BETWEEN ? AND ? AND row BETWEEN ? AND ?
		ORDER BY row, col
	`, instance, first, last, r.FirstRow, r.LastRow)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var m Matrix
	for rows.Next() {
		var col, row int
		var value string
		if err := rows.Scan(&col, &row, &value); err != nil {
			return nil, err
		}
		i := row - r.FirstRow
		for len(m) <= i {
			m = append(m, make([]string, last-first+1))
		}
		m[i][col-first] = value
	}
	return m, rows.Err()
}

func sqliteDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
}

func createCellsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cells (
			instance TEXT NOT NULL,
			col INTEGER NOT NULL,
			row INTEGER NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (instance, col, row)
		);
	`)
	return err
}
