package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/genegrid/internal/claim"
	"github.com/dyluth/genegrid/internal/fitness"
	"github.com/dyluth/genegrid/pkg/grid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockstepStore holds the first two reads of the Claim column until both have
// returned, so both workers observe an unclaimed block before either writes.
type lockstepStore struct {
	grid.Store
	claimCol grid.Column

	mu      sync.Mutex
	reads   int
	arrived sync.WaitGroup
}

func newLockstepStore(next grid.Store) *lockstepStore {
	s := &lockstepStore{Store: next, claimCol: grid.DefaultLayout().Claim}
	s.arrived.Add(2)
	return s
}

func (s *lockstepStore) Read(ctx context.Context, r grid.Range) (grid.Matrix, error) {
	m, err := s.Store.Read(ctx, r)
	if r.FirstColumn != s.claimCol {
		return m, err
	}

	s.mu.Lock()
	gated := s.reads < 2
	s.reads++
	s.mu.Unlock()

	if gated {
		s.arrived.Done()
		s.arrived.Wait()
	}
	return m, err
}

func cellsOf(values ...string) []string { return values }

// TestNaiveClaimRace reproduces the known gap of read-then-write claims: two
// workers launched at the same start row both claim, both evaluate and the
// last write wins without any error.
func TestNaiveClaimRace(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mem := grid.NewMemoryStore()
	publish(t, mem, "1,", "2,", "3,")
	store := newLockstepStore(mem)

	a := newTestWorker(t, store, fitness.Constant(1), fastOptions(1, 3))
	b := newTestWorker(t, store, fitness.Constant(2), fastOptions(1, 3))

	var wg sync.WaitGroup
	reports := make([]*CycleReport, 2)
	errs := make([]error, 2)
	for i, w := range []*Engine{a, b} {
		wg.Add(1)
		go func(i int, w *Engine) {
			defer wg.Done()
			reports[i], errs[i] = w.Cycle(ctx)
		}(i, w)
	}
	wg.Wait()

	for i := range reports {
		require.NoError(t, errs[i])
		assert.Equal(t, 3, reports[i].Evaluated, "both workers believe they hold the block")
	}

	fitnessCol := readColumn(t, mem, "F")
	assert.Contains(t, [][]string{cellsOf("1.0", "1.0", "1.0"), cellsOf("2.0", "2.0", "2.0")}, fitnessCol)
	validationCol := readColumn(t, mem, "E")
	assert.Contains(t, [][]string{cellsOf("1.0", "1.0", "1.0"), cellsOf("2.0", "2.0", "2.0")}, validationCol)
}

// TestConditionalClaimClosesRace runs the same launch with conditional claims:
// exactly one worker evaluates and the other keeps waiting on the block.
func TestConditionalClaimClosesRace(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := grid.NewMemoryStore()
	publish(t, store, "1,", "2,", "3,")

	newWorker := func(score float64, owner string) *Engine {
		opts := fastOptions(1, 3)
		opts.ClaimMode = claim.ModeConditional
		opts.OwnerHint = owner
		return newTestWorker(t, store, fitness.Constant(score), opts)
	}
	workers := []*Engine{newWorker(1, "worker-a"), newWorker(2, "worker-b")}

	type outcome struct {
		idx    int
		report *CycleReport
		err    error
	}
	cycleCtx, stop := context.WithCancel(ctx)
	defer stop()

	results := make(chan outcome, 2)
	for i, w := range workers {
		go func(i int, w *Engine) {
			r, err := w.Cycle(cycleCtx)
			results <- outcome{idx: i, report: r, err: err}
		}(i, w)
	}

	winner := <-results
	require.NoError(t, winner.err)
	assert.Equal(t, 3, winner.report.Evaluated)

	// The loser never gets the block this generation.
	select {
	case other := <-results:
		t.Fatalf("second worker finished a cycle: %+v", other)
	case <-time.After(30 * time.Millisecond):
	}
	stop()
	loser := <-results
	assert.ErrorIs(t, loser.err, context.Canceled)
	assert.Equal(t, StateClaimBusy, workers[loser.idx].Status().State)

	want := grid.FormatScore(float64(winner.idx + 1))
	assert.Equal(t, cellsOf(want, want, want), readColumn(t, store, "F"))

	owner := []string{"worker-a", "worker-b"}[winner.idx]
	claims := readColumn(t, store, "D")
	for _, c := range claims {
		assert.Equal(t, grid.DefaultClaimSentinel+":"+owner, c)
	}
}
