package worker

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/dyluth/genegrid/internal/claim"
	"github.com/dyluth/genegrid/internal/fitness"
	"github.com/dyluth/genegrid/internal/logging"
	"github.com/dyluth/genegrid/pkg/grid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// plainStore hides the MemoryStore's conditional write.
type plainStore struct{ grid.Store }

func fastOptions(start, size int) Options {
	return Options{
		Instance:     "test-instance",
		StartRow:     start,
		BlockSize:    size,
		PollInterval: 2 * time.Millisecond,
		ClaimedWait:  2 * time.Millisecond,
	}
}

func newTestWorker(t *testing.T, store grid.Store, eval fitness.Evaluator, opts Options) *Engine {
	t.Helper()
	w, err := NewEngine(store, eval, opts, logging.Discard())
	require.NoError(t, err)
	return w
}

func publish(t *testing.T, store grid.Store, genomes ...string) {
	t.Helper()
	_, err := store.Write(context.Background(), grid.ColumnRange("G", 1, len(genomes)), grid.ColumnMatrix(genomes))
	require.NoError(t, err)
}

func readColumn(t *testing.T, store grid.Store, col grid.Column) []string {
	t.Helper()
	m, err := store.Read(context.Background(), grid.DefaultLayout().ColumnRange(col))
	require.NoError(t, err)
	return m.FirstColumn()
}

func TestNewEngine(t *testing.T) {
	store := grid.NewMemoryStore()

	t.Run("applies defaults", func(t *testing.T) {
		w := newTestWorker(t, store, fitness.Constant(1), Options{StartRow: 1})
		assert.Equal(t, 100, w.Block().Count)
		assert.Equal(t, 100, w.Block().LastRow())
		assert.Equal(t, DefaultPollInterval, w.opts.PollInterval)
		assert.Equal(t, DefaultClaimedWait, w.opts.ClaimedWait)
		assert.Equal(t, claim.ModeNaive, w.claimer.Mode())
	})

	t.Run("rejects start row zero", func(t *testing.T) {
		_, err := NewEngine(store, fitness.Constant(1), Options{StartRow: 0}, nil)
		assert.Error(t, err)
	})

	t.Run("rejects block past the last row", func(t *testing.T) {
		_, err := NewEngine(store, fitness.Constant(1), Options{StartRow: grid.DefaultMaxRows, BlockSize: 2}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds")
	})

	t.Run("conditional mode needs a conditional store", func(t *testing.T) {
		opts := Options{StartRow: 1, ClaimMode: claim.ModeConditional}
		_, err := NewEngine(plainStore{store}, fitness.Constant(1), opts, nil)
		assert.ErrorIs(t, err, claim.ErrNoConditionalWrite)
	})

	t.Run("requires an evaluator", func(t *testing.T) {
		_, err := NewEngine(store, nil, Options{StartRow: 1}, nil)
		assert.Error(t, err)
	})
}

func TestCycle_ClaimsEvaluatesAndReports(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := grid.NewMemoryStore()
	publish(t, store, "1,2,3,", "4,5,", "6,")
	w := newTestWorker(t, store, fitness.Sum(), fastOptions(1, 5))

	report, err := w.Cycle(ctx)
	require.NoError(t, err)
	assert.False(t, report.Released)
	assert.Equal(t, 3, report.Evaluated)
	assert.Equal(t, 0, report.Skipped)

	assert.Equal(t, []string{"6.0", "9.0", "6.0"}, readColumn(t, store, "F"))
	assert.Equal(t, []string{"2.0", "4.5", "6.0"}, readColumn(t, store, "E"))
	assert.Equal(t, grid.Fill(5, 1, grid.DefaultClaimSentinel).FirstColumn(), readColumn(t, store, "D"))

	status := w.Status()
	assert.Equal(t, 1, status.Cycles)
	assert.Equal(t, 3, status.Evaluated)
	assert.Equal(t, StateWaiting, status.State)
}

func TestCycle_SkipsRowsWithoutGenome(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := grid.NewMemoryStore()
	publish(t, store, "1,", "", "3,")
	w := newTestWorker(t, store, fitness.Constant(100), fastOptions(1, 4))

	report, err := w.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Evaluated)
	assert.Equal(t, 1, report.Skipped)

	assert.Equal(t, []string{"100.0", "", "100.0"}, readColumn(t, store, "F"))
}

func TestCycle_ReleasesBlockPastPopulation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := grid.NewMemoryStore()
	publish(t, store, "1,", "2,")
	w := newTestWorker(t, store, fitness.Constant(1), fastOptions(10, 5))

	report, err := w.Cycle(ctx)
	require.NoError(t, err)
	assert.True(t, report.Released)
	assert.Zero(t, report.Evaluated)

	assert.Empty(t, readColumn(t, store, "D"), "claim given back")
	assert.Empty(t, readColumn(t, store, "F"))
}

func TestCycle_WaitsForPublishedGenomes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := grid.NewMemoryStore()
	w := newTestWorker(t, store, fitness.Constant(1), fastOptions(1, 2))

	done := make(chan error, 1)
	go func() {
		_, err := w.Cycle(ctx)
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("cycle finished on an empty grid: %v", err)
	case <-time.After(30 * time.Millisecond):
	}
	assert.Empty(t, readColumn(t, store, "D"), "no claim before publish")
	assert.Equal(t, StateWaiting, w.Status().State)

	publish(t, store, "1,", "2,")
	require.NoError(t, <-done)
	assert.Equal(t, []string{"1.0", "1.0"}, readColumn(t, store, "F"))
}

func TestCycle_WaitsOnSameBlockWhileClaimed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := grid.NewMemoryStore()
	publish(t, store, "1,", "2,", "3,", "4,")
	_, err := store.Write(ctx, grid.ColumnRange("D", 2, 2), grid.ColumnMatrix([]string{grid.DefaultClaimSentinel}))
	require.NoError(t, err)

	w := newTestWorker(t, store, fitness.Constant(7), fastOptions(1, 2))

	done := make(chan error, 1)
	go func() {
		_, err := w.Cycle(ctx)
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("claimed a busy block: %v", err)
	case <-time.After(30 * time.Millisecond):
	}
	assert.Equal(t, StateClaimBusy, w.Status().State)
	assert.Empty(t, readColumn(t, store, "F"), "never moves to another block")

	require.NoError(t, store.Clear(ctx, grid.ColumnRange("D", 1, 4)))
	require.NoError(t, <-done)
	assert.Equal(t, []string{"7.0", "7.0"}, readColumn(t, store, "F"))
}

func TestCycle_EvaluatorFailureKeepsClaim(t *testing.T) {
	ctx := context.Background()
	store := grid.NewMemoryStore()
	publish(t, store, "1,", "2,")

	boom := errors.New("simulator crashed")
	eval := fitness.EvaluatorFunc(func(ctx context.Context, genome []int) (fitness.Result, error) {
		return fitness.Result{}, boom
	})
	w := newTestWorker(t, store, eval, fastOptions(1, 2))

	_, err := w.Cycle(ctx)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "row 1")

	assert.Len(t, readColumn(t, store, "D"), 2, "claim stays held")
	assert.Empty(t, readColumn(t, store, "F"))
}

func TestCycle_NonFiniteScoreIsAnError(t *testing.T) {
	store := grid.NewMemoryStore()
	publish(t, store, "1,")
	w := newTestWorker(t, store, fitness.Constant(math.NaN()), fastOptions(1, 1))

	_, err := w.Cycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-finite")
}

func TestCycle_MalformedGenome(t *testing.T) {
	store := grid.NewMemoryStore()
	publish(t, store, "1,", "2,x,")
	w := newTestWorker(t, store, fitness.Constant(1), fastOptions(1, 2))

	_, err := w.Cycle(context.Background())
	assert.ErrorIs(t, err, grid.ErrMalformedGenome)
}

func TestRun_ReturnsEvaluatorError(t *testing.T) {
	store := grid.NewMemoryStore()
	publish(t, store, "1,")
	w := newTestWorker(t, store, fitness.Constant(math.Inf(1)), fastOptions(1, 1))

	err := w.Run(context.Background())
	assert.Error(t, err)
}

func TestRun_CancelIsCleanShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := newTestWorker(t, grid.NewMemoryStore(), fitness.Constant(1), fastOptions(1, 1))

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

func TestConditionalClaim_OwnerHintRecognisesOwnClaim(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := grid.NewMemoryStore()
	publish(t, store, "1,", "2,")

	opts := fastOptions(1, 2)
	opts.ClaimMode = claim.ModeConditional
	opts.OwnerHint = "worker-a"

	// A claim that landed but whose acknowledgement was lost.
	_, err := store.Write(ctx, grid.ColumnRange("D", 1, 2), grid.Fill(2, 1, grid.DefaultClaimSentinel+":worker-a"))
	require.NoError(t, err)

	w := newTestWorker(t, store, fitness.Constant(3), opts)
	report, err := w.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Evaluated)
}
