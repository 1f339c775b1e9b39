package grid

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type conditionalStore interface {
	Store
	ConditionalWriter
}

// backends returns a constructor per backend so every behaviour below runs
// against memory, Redis and SQLite alike.
func backends() map[string]func(t *testing.T) conditionalStore {
	return map[string]func(t *testing.T) conditionalStore{
		BackendMemory: func(t *testing.T) conditionalStore {
			return NewMemoryStore()
		},
		BackendRedis: func(t *testing.T) conditionalStore {
			mr := miniredis.NewMiniRedis()
			require.NoError(t, mr.Start())
			t.Cleanup(mr.Close)

			store, err := NewRedisStore(&redis.Options{Addr: mr.Addr()}, "test-instance")
			require.NoError(t, err)
			t.Cleanup(func() { store.Close() })
			return store
		},
		BackendSQLite: func(t *testing.T) conditionalStore {
			store := NewSQLiteStore(filepath.Join(t.TempDir(), "grid.db"), "test-instance")
			require.NoError(t, store.Init(context.Background()))
			t.Cleanup(func() { store.Close() })
			return store
		},
	}
}

func TestStoreBehaviour(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("empty range reads as empty", func(t *testing.T) {
				store := newStore(t)
				m, err := store.Read(ctx, ColumnRange("F", 1, DefaultMaxRows))
				require.NoError(t, err)
				assert.True(t, m.IsEmpty())
				assert.Len(t, m, 0)
			})

			t.Run("write then read returns trimmed content", func(t *testing.T) {
				store := newStore(t)
				n, err := store.Write(ctx, ColumnRange("G", 1, 3), ColumnMatrix([]string{"1,2,3,", "4,5,", "6,"}))
				require.NoError(t, err)
				assert.Equal(t, 3, n)

				m, err := store.Read(ctx, ColumnRange("G", 1, 100))
				require.NoError(t, err)
				assert.Equal(t, []string{"1,2,3,", "4,5,", "6,"}, m.FirstColumn())
			})

			t.Run("interior empty rows are kept", func(t *testing.T) {
				store := newStore(t)
				_, err := store.Write(ctx, ColumnRange("F", 1, 3), ColumnMatrix([]string{"1.0", "", "3.0"}))
				require.NoError(t, err)

				m, err := store.Read(ctx, ColumnRange("F", 1, 10))
				require.NoError(t, err)
				require.Len(t, m, 3)
				assert.Equal(t, "", m.Cell(1, 0))
				assert.Equal(t, "3.0", m.Cell(2, 0))
			})

			t.Run("writing empty string clears a cell", func(t *testing.T) {
				store := newStore(t)
				_, err := store.Write(ctx, ColumnRange("D", 5, 6), Fill(2, 1, DefaultClaimSentinel))
				require.NoError(t, err)
				_, err = store.Write(ctx, ColumnRange("D", 5, 6), Fill(2, 1, ""))
				require.NoError(t, err)

				m, err := store.Read(ctx, ColumnRange("D", 1, 10))
				require.NoError(t, err)
				assert.True(t, m.IsEmpty())
			})

			t.Run("multi column write and read", func(t *testing.T) {
				store := newStore(t)
				r := Range{FirstColumn: "E", LastColumn: "F", FirstRow: 2, LastRow: 3}
				_, err := store.Write(ctx, r, Matrix{{"0.5", "1.5"}, {"", "2.5"}})
				require.NoError(t, err)

				m, err := store.Read(ctx, Range{FirstColumn: "E", LastColumn: "F", FirstRow: 1, LastRow: 3})
				require.NoError(t, err)
				require.Len(t, m, 3)
				assert.Equal(t, "", m.Cell(0, 0))
				assert.Equal(t, "0.5", m.Cell(1, 0))
				assert.Equal(t, "1.5", m.Cell(1, 1))
				assert.Equal(t, "2.5", m.Cell(2, 1))
			})

			t.Run("clear removes the whole range", func(t *testing.T) {
				store := newStore(t)
				_, err := store.Write(ctx, ColumnRange("G", 1, 2), ColumnMatrix([]string{"1,", "2,"}))
				require.NoError(t, err)
				_, err = store.Write(ctx, ColumnRange("F", 1, 1), ColumnMatrix([]string{"9.0"}))
				require.NoError(t, err)

				require.NoError(t, store.Clear(ctx, DefaultLayout().Span()))

				m, err := store.Read(ctx, DefaultLayout().Span())
				require.NoError(t, err)
				assert.True(t, m.IsEmpty())
			})

			t.Run("rejects matrix larger than range", func(t *testing.T) {
				store := newStore(t)
				_, err := store.Write(ctx, ColumnRange("G", 1, 1), ColumnMatrix([]string{"1,", "2,"}))
				assert.ErrorIs(t, err, ErrInvalidRange)
			})

			t.Run("rejects inverted range", func(t *testing.T) {
				store := newStore(t)
				_, err := store.Read(ctx, ColumnRange("G", 5, 1))
				assert.ErrorIs(t, err, ErrInvalidRange)
			})

			t.Run("write if empty succeeds once", func(t *testing.T) {
				store := newStore(t)
				r := ColumnRange("D", 1, 4)

				ok, err := store.WriteIfEmpty(ctx, r, Fill(4, 1, DefaultClaimSentinel))
				require.NoError(t, err)
				assert.True(t, ok)

				ok, err = store.WriteIfEmpty(ctx, r, Fill(4, 1, "other"))
				require.NoError(t, err)
				assert.False(t, ok)

				m, err := store.Read(ctx, r)
				require.NoError(t, err)
				assert.Equal(t, Fill(4, 1, DefaultClaimSentinel).FirstColumn(), m.FirstColumn())
			})

			t.Run("write if empty refuses partially filled range", func(t *testing.T) {
				store := newStore(t)
				_, err := store.Write(ctx, ColumnRange("D", 3, 3), ColumnMatrix([]string{DefaultClaimSentinel}))
				require.NoError(t, err)

				ok, err := store.WriteIfEmpty(ctx, ColumnRange("D", 1, 4), Fill(4, 1, DefaultClaimSentinel))
				require.NoError(t, err)
				assert.False(t, ok)

				m, err := store.Read(ctx, ColumnRange("D", 1, 2))
				require.NoError(t, err)
				assert.True(t, m.IsEmpty())
			})
		})
	}
}

func TestWriteIfEmptyConcurrentClaims(t *testing.T) {
	// miniredis serializes scripts, the memory store holds its lock and SQLite
	// takes the write lock, so exactly one contender may win each time.
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			ctx := context.Background()
			r := ColumnRange("D", 1, 8)

			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := store.WriteIfEmpty(ctx, r, Fill(8, 1, DefaultClaimSentinel))
					assert.NoError(t, err)
					if ok {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), wins.Load())
		})
	}
}

func TestRedisStoreInstanceIsolation(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)
	ctx := context.Background()

	a, err := NewRedisStore(&redis.Options{Addr: mr.Addr()}, "run-a")
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	b, err := NewRedisStore(&redis.Options{Addr: mr.Addr()}, "run-b")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	_, err = a.Write(ctx, ColumnRange("G", 1, 1), ColumnMatrix([]string{"1,"}))
	require.NoError(t, err)

	m, err := b.Read(ctx, ColumnRange("G", 1, 10))
	require.NoError(t, err)
	assert.True(t, m.IsEmpty())

	assert.True(t, mr.Exists("genegrid:run-a:col:G"))
	assert.Equal(t, "1,", mr.HGet("genegrid:run-a:col:G", "1"))
}

func TestNewRedisStore(t *testing.T) {
	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewRedisStore(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})
}

func TestSQLiteStoreRequiresInit(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "grid.db"), "test-instance")
	_, err := store.Read(context.Background(), ColumnRange("G", 1, 1))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}

func TestSQLiteStoreSharedFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "grid.db")

	writer := NewSQLiteStore(path, "shared")
	require.NoError(t, writer.Init(ctx))
	t.Cleanup(func() { writer.Close() })
	reader := NewSQLiteStore(path, "shared")
	require.NoError(t, reader.Init(ctx))
	t.Cleanup(func() { reader.Close() })

	_, err := writer.Write(ctx, ColumnRange("F", 1, 2), ColumnMatrix([]string{"1.0", "2.0"}))
	require.NoError(t, err)

	m, err := reader.Read(ctx, ColumnRange("F", 1, 10))
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0", "2.0"}, m.FirstColumn())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults to memory", func(t *testing.T) {
		store, err := Open(ctx, Options{})
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, store)
		assert.NoError(t, Close(store))
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.NewMiniRedis()
		require.NoError(t, mr.Start())
		t.Cleanup(mr.Close)

		store, err := Open(ctx, Options{Backend: BackendRedis, Instance: "x", RedisURL: "redis://" + mr.Addr()})
		require.NoError(t, err)
		assert.IsType(t, &RedisStore{}, store)
		assert.NoError(t, Close(store))
	})

	t.Run("sqlite", func(t *testing.T) {
		store, err := Open(ctx, Options{Backend: BackendSQLite, Instance: "x", SQLitePath: filepath.Join(t.TempDir(), "g.db")})
		require.NoError(t, err)
		assert.IsType(t, &SQLiteStore{}, store)
		assert.NoError(t, Close(store))
	})

	t.Run("unreachable redis", func(t *testing.T) {
		_, err := Open(ctx, Options{Backend: BackendRedis, Instance: "x", RedisURL: "redis://127.0.0.1:1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis not accessible")
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := Open(ctx, Options{Backend: "sheets"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported grid backend")
	})
}
