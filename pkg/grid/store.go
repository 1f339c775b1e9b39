package grid

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrInvalidRange is returned for malformed ranges and for matrices that do not
// fit the range they are written to. Retrying such a call can never succeed.
var ErrInvalidRange = errors.New("invalid grid range")

// Store is the range-addressed grid client consumed by the coordinator and the
// workers. Every call may fail transiently; none of them is atomic with respect
// to other processes.
type Store interface {
	// Read returns the content of r, trimmed as described in the package docs.
	Read(ctx context.Context, r Range) (Matrix, error)

	// Write overwrites the cells of r with m, starting at the top-left corner.
	// Returns the number of cells written.
	Write(ctx context.Context, r Range, m Matrix) (int, error)

	// Clear empties every cell in r.
	Clear(ctx context.Context, r Range) error
}

// ConditionalWriter is implemented by backends that can write a range only when
// all of its cells are empty, as one atomic step.
type ConditionalWriter interface {
	WriteIfEmpty(ctx context.Context, r Range, m Matrix) (bool, error)
}

// Pinger is implemented by backends that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Options selects and configures a backend for Open.
type Options struct {
	Backend    string
	Instance   string
	RedisURL   string
	SQLitePath string
}

// Open creates the store named by opts.Backend and verifies it is reachable.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil

	case BackendRedis:
		redisOpts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		store, err := NewRedisStore(redisOpts, opts.Instance)
		if err != nil {
			return nil, err
		}
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("redis not accessible: %w", err)
		}
		return store, nil

	case BackendSQLite:
		store := NewSQLiteStore(opts.SQLitePath, opts.Instance)
		if err := store.Init(ctx); err != nil {
			return nil, fmt.Errorf("failed to open sqlite grid: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported grid backend: %s", opts.Backend)
	}
}

// Close releases the store's resources when the backend holds any.
func Close(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
