package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/genegrid/internal/logging"
	"github.com/dyluth/genegrid/pkg/grid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("503 service unavailable")

// flakyStore fails the first n calls. With partial set, a failing Write still
// applies its first row, as a store that times out mid-request might.
type flakyStore struct {
	mu      sync.Mutex
	next    *grid.MemoryStore
	fails   int
	partial bool
	calls   int
}

func (f *flakyStore) fail() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return true
	}
	return false
}

func (f *flakyStore) Read(ctx context.Context, r grid.Range) (grid.Matrix, error) {
	if f.fail() {
		return nil, errTransient
	}
	return f.next.Read(ctx, r)
}

func (f *flakyStore) Write(ctx context.Context, r grid.Range, m grid.Matrix) (int, error) {
	if f.fail() {
		if f.partial && len(m) > 0 {
			_, _ = f.next.Write(ctx, grid.ColumnRange(r.FirstColumn, r.FirstRow, r.FirstRow), m[:1])
		}
		return 0, errTransient
	}
	return f.next.Write(ctx, r, m)
}

func (f *flakyStore) Clear(ctx context.Context, r grid.Range) error {
	if f.fail() {
		return errTransient
	}
	return f.next.Clear(ctx, r)
}

// plainStore hides the MemoryStore's conditional write.
type plainStore struct{ grid.Store }

func fastPolicy() Policy {
	return Policy{Strategy: StrategyConstant, Delay: time.Millisecond}
}

func TestWrap_RetriesUntilSuccess(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{next: grid.NewMemoryStore(), fails: 3}
	store := Wrap(flaky, fastPolicy(), logging.Discard())

	r := grid.ColumnRange("G", 1, 2)
	n, err := store.Write(ctx, r, grid.ColumnMatrix([]string{"1,", "2,"}))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 4, flaky.calls)

	m, err := store.Read(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, []string{"1,", "2,"}, m.FirstColumn())
}

func TestWrap_IdempotentWriteAfterPartialFailure(t *testing.T) {
	ctx := context.Background()
	values := grid.ColumnMatrix([]string{"10.0", "20.0", "30.0"})
	r := grid.ColumnRange("F", 1, 3)

	reference := grid.NewMemoryStore()
	_, err := reference.Write(ctx, r, values)
	require.NoError(t, err)

	flaky := &flakyStore{next: grid.NewMemoryStore(), fails: 2, partial: true}
	store := Wrap(flaky, fastPolicy(), logging.Discard())
	_, err = store.Write(ctx, r, values)
	require.NoError(t, err)

	want, err := reference.Read(ctx, grid.DefaultLayout().Span())
	require.NoError(t, err)
	got, err := flaky.next.Read(ctx, grid.DefaultLayout().Span())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestWrap_InvalidRangeIsNotRetried(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{next: grid.NewMemoryStore()}
	store := Wrap(flaky, fastPolicy(), logging.Discard())

	_, err := store.Read(ctx, grid.ColumnRange("G", 10, 1))
	assert.ErrorIs(t, err, grid.ErrInvalidRange)
	assert.Equal(t, 1, flaky.calls)
}

func TestWrap_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	flaky := &flakyStore{next: grid.NewMemoryStore(), fails: 1 << 30}
	store := Wrap(flaky, Policy{Delay: 5 * time.Millisecond}, logging.Discard())

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := store.Clear(ctx, grid.DefaultLayout().Span())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWrap_BoundedPolicyExhausts(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{next: grid.NewMemoryStore(), fails: 100}
	policy := Policy{Strategy: StrategyExponential, Delay: time.Millisecond, MaxDelay: 4 * time.Millisecond, MaxAttempts: 4}
	store := Wrap(flaky, policy, logging.Discard())

	_, err := store.Read(ctx, grid.ColumnRange("F", 1, 10))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 4, flaky.calls)
}

func TestWrap_ConditionalWriterPassthrough(t *testing.T) {
	ctx := context.Background()

	wrapped := Wrap(grid.NewMemoryStore(), fastPolicy(), logging.Discard())
	cw, ok := wrapped.(grid.ConditionalWriter)
	require.True(t, ok, "memory store supports conditional writes")

	r := grid.ColumnRange("D", 1, 2)
	written, err := cw.WriteIfEmpty(ctx, r, grid.Fill(2, 1, grid.DefaultClaimSentinel))
	require.NoError(t, err)
	assert.True(t, written)

	written, err = cw.WriteIfEmpty(ctx, r, grid.Fill(2, 1, grid.DefaultClaimSentinel))
	require.NoError(t, err)
	assert.False(t, written)

	plain := Wrap(plainStore{grid.NewMemoryStore()}, fastPolicy(), logging.Discard())
	_, ok = plain.(grid.ConditionalWriter)
	assert.False(t, ok)
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.Equal(t, 30*time.Second, DefaultPolicy().Delay)
	assert.Zero(t, DefaultPolicy().MaxAttempts)

	tests := []struct {
		name   string
		policy Policy
	}{
		{"unknown strategy", Policy{Strategy: "linear", Delay: time.Second}},
		{"zero delay", Policy{Strategy: StrategyConstant}},
		{"negative cap", Policy{Delay: time.Second, MaxDelay: -1}},
		{"negative attempts", Policy{Delay: time.Second, MaxAttempts: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.policy.Validate())
		})
	}
}

func TestWrap_InvalidPolicyFallsBackToDefault(t *testing.T) {
	store := Wrap(grid.NewMemoryStore(), Policy{}, nil)
	rs, ok := store.(*conditionalStore)
	require.True(t, ok)
	assert.Equal(t, DefaultPolicy(), rs.policy)
}
