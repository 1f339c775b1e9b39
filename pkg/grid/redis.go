package grid

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Compile-time contract assertions.
var (
	_ Store             = (*RedisStore)(nil)
	_ ConditionalWriter = (*RedisStore)(nil)
	_ Pinger            = (*RedisStore)(nil)
)

// redisChunk bounds the number of fields sent in a single HMGET or HDEL.
const redisChunk = 5000

// writeIfEmptyScript checks every target field and writes only if all are empty.
// KEYS: one hash per column. ARGV: first row, row count, column count, then the
// cell values row by row.
var writeIfEmptyScript = redis.NewScript(`
local first = tonumber(ARGV[1])
local nrows = tonumber(ARGV[2])
local ncols = tonumber(ARGV[3])
for c = 1, ncols do
  for r = 0, nrows - 1 do
    local v = redis.call('HGET', KEYS[c], tostring(first + r))
    if v and v ~= '' then
      return 0
    end
  end
end
local i = 4
for r = 0, nrows - 1 do
  for c = 1, ncols do
    local v = ARGV[i]
    if v ~= '' then
      redis.call('HSET', KEYS[c], tostring(first + r), v)
    end
    i = i + 1
  end
end
return 1
`)

// RedisStore provides instance-scoped grid operations on Redis.
// Each column is a hash at genegrid:{instance}:col:{letter} keyed by row number.
// The store is safe for concurrent use.
type RedisStore struct {
	rdb          *redis.Client
	instanceName string
}

// NewRedisStore creates a grid client for the specified instance.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: genegrid instance identifier (must not be empty)
//
// Returns an error if instanceName is empty.
func NewRedisStore(redisOpts *redis.Options, instanceName string) (*RedisStore, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &RedisStore{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Read fetches r column by column with chunked HMGETs in one pipeline.
func (s *RedisStore) Read(ctx context.Context, r Range) (Matrix, error) {
	first, last, err := r.columnIndexes()
	if err != nil {
		return nil, err
	}

	fields := rowFields(r.FirstRow, r.LastRow)
	pipe := s.rdb.Pipeline()
	cmds := make([][]*redis.SliceCmd, 0, last-first+1)
	for col := first; col <= last; col++ {
		key := ColumnKey(s.instanceName, ColumnAt(col))
		var colCmds []*redis.SliceCmd
		for start := 0; start < len(fields); start += redisChunk {
			end := min(start+redisChunk, len(fields))
			colCmds = append(colCmds, pipe.HMGet(ctx, key, fields[start:end]...))
		}
		cmds = append(cmds, colCmds)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read %s from Redis: %w", r, err)
	}

	m := make(Matrix, r.Rows())
	for i := range m {
		m[i] = make([]string, last-first+1)
	}
	for c, colCmds := range cmds {
		row := 0
		for _, cmd := range colCmds {
			for _, v := range cmd.Val() {
				if s, ok := v.(string); ok {
					m[row][c] = s
				}
				row++
			}
		}
	}

	return Trim(m), nil
}

// Write overwrites r with m inside a MULTI/EXEC block. Empty values delete the
// field so a cleared cell and a never-written cell look the same.
func (s *RedisStore) Write(ctx context.Context, r Range, m Matrix) (int, error) {
	if err := checkShape(r, m); err != nil {
		return 0, err
	}
	first, _, _ := r.columnIndexes()

	updated := 0
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		sets := make(map[int]map[string]interface{})
		dels := make(map[int][]string)
		for i, row := range m {
			field := strconv.Itoa(r.FirstRow + i)
			for j, v := range row {
				col := first + j
				if v == "" {
					dels[col] = append(dels[col], field)
				} else {
					if sets[col] == nil {
						sets[col] = make(map[string]interface{})
					}
					sets[col][field] = v
				}
				updated++
			}
		}
		for col, values := range sets {
			pipe.HSet(ctx, ColumnKey(s.instanceName, ColumnAt(col)), values)
		}
		for col, fields := range dels {
			pipe.HDel(ctx, ColumnKey(s.instanceName, ColumnAt(col)), fields...)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to write %s to Redis: %w", r, err)
	}

	return updated, nil
}

// Clear deletes every field of r.
func (s *RedisStore) Clear(ctx context.Context, r Range) error {
	first, last, err := r.columnIndexes()
	if err != nil {
		return err
	}

	fields := rowFields(r.FirstRow, r.LastRow)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for col := first; col <= last; col++ {
			key := ColumnKey(s.instanceName, ColumnAt(col))
			for start := 0; start < len(fields); start += redisChunk {
				end := min(start+redisChunk, len(fields))
				pipe.HDel(ctx, key, fields[start:end]...)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear %s in Redis: %w", r, err)
	}
	return nil
}

// WriteIfEmpty runs the check and the write as one Lua script.
func (s *RedisStore) WriteIfEmpty(ctx context.Context, r Range, m Matrix) (bool, error) {
	if err := checkShape(r, m); err != nil {
		return false, err
	}
	first, last, _ := r.columnIndexes()

	keys := make([]string, 0, last-first+1)
	for col := first; col <= last; col++ {
		keys = append(keys, ColumnKey(s.instanceName, ColumnAt(col)))
	}

	args := []interface{}{r.FirstRow, r.Rows(), len(keys)}
	for i := 0; i < r.Rows(); i++ {
		for j := range keys {
			args = append(args, m.Cell(i, j))
		}
	}

	written, err := writeIfEmptyScript.Run(ctx, s.rdb, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("failed to conditionally write %s to Redis: %w", r, err)
	}
	return written == 1, nil
}

func rowFields(firstRow, lastRow int) []string {
	fields := make([]string, 0, lastRow-firstRow+1)
	for row := firstRow; row <= lastRow; row++ {
		fields = append(fields, strconv.Itoa(row))
	}
	return fields
}
