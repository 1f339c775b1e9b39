package grid

import (
	"context"
	"sync"
)

// Compile-time contract assertions.
var (
	_ Store             = (*MemoryStore)(nil)
	_ ConditionalWriter = (*MemoryStore)(nil)
	_ Pinger            = (*MemoryStore)(nil)
)

type cellKey struct {
	col int
	row int
}

// MemoryStore is an in-process grid. It is safe for concurrent use, which lets
// tests run a coordinator and several workers against one instance.
type MemoryStore struct {
	mu    sync.RWMutex
	cells map[cellKey]string
}

// NewMemoryStore creates an empty in-memory grid.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cells: make(map[cellKey]string)}
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Read returns the trimmed content of r.
func (s *MemoryStore) Read(ctx context.Context, r Range) (Matrix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	first, last, err := r.columnIndexes()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.readLocked(r, first, last), nil
}

func (s *MemoryStore) readLocked(r Range, first, last int) Matrix {
	m := make(Matrix, 0)
	lastContent := -1
	for row := r.FirstRow; row <= r.LastRow; row++ {
		values := make([]string, last-first+1)
		hasContent := false
		for col := first; col <= last; col++ {
			v := s.cells[cellKey{col: col, row: row}]
			values[col-first] = v
			if v != "" {
				hasContent = true
			}
		}
		m = append(m, values)
		if hasContent {
			lastContent = len(m) - 1
		}
	}
	return Trim(m[:lastContent+1])
}

// Write overwrites the cells of r with m.
func (s *MemoryStore) Write(ctx context.Context, r Range, m Matrix) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := checkShape(r, m); err != nil {
		return 0, err
	}
	first, _, _ := r.columnIndexes()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeLocked(r, first, m), nil
}

func (s *MemoryStore) writeLocked(r Range, first int, m Matrix) int {
	updated := 0
	for i, row := range m {
		for j, v := range row {
			key := cellKey{col: first + j, row: r.FirstRow + i}
			if v == "" {
				delete(s.cells, key)
			} else {
				s.cells[key] = v
			}
			updated++
		}
	}
	return updated
}

// Clear empties every cell in r.
func (s *MemoryStore) Clear(ctx context.Context, r Range) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	first, last, err := r.columnIndexes()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for row := r.FirstRow; row <= r.LastRow; row++ {
		for col := first; col <= last; col++ {
			delete(s.cells, cellKey{col: col, row: row})
		}
	}
	return nil
}

// WriteIfEmpty writes m only when every cell of r is empty.
func (s *MemoryStore) WriteIfEmpty(ctx context.Context, r Range, m Matrix) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := checkShape(r, m); err != nil {
		return false, err
	}
	first, last, _ := r.columnIndexes()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.readLocked(r, first, last).IsEmpty() {
		return false, nil
	}
	s.writeLocked(r, first, m)
	return true, nil
}

// Len returns the number of non-empty cells. Intended for tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cells)
}
