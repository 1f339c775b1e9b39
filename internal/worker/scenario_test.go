package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/dyluth/genegrid/internal/coordinator"
	"github.com/dyluth/genegrid/internal/evolve"
	"github.com/dyluth/genegrid/internal/fitness"
	"github.com/dyluth/genegrid/internal/logging"
	"github.com/dyluth/genegrid/internal/population"
	"github.com/dyluth/genegrid/internal/retry"
	"github.com/dyluth/genegrid/internal/worker"
	"github.com/dyluth/genegrid/pkg/grid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEndToEndGeneration runs a coordinator and one worker against a shared
// grid: population 4, one worker with block size 4 starting at row 1.
func TestEndToEndGeneration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger := logging.Discard()
	store := retry.Wrap(grid.NewMemoryStore(), retry.Policy{Delay: time.Millisecond}, logger)
	layout := grid.DefaultLayout()

	genomes := [][]int{{1, 2, 3}, {4, 5}, {6}, {7, 8, 9}}
	coord, err := coordinator.NewEngine(store, evolve.Static(genomes), nil, coordinator.Options{
		Instance:     "scenario",
		PollInterval: 5 * time.Millisecond,
		IdleInterval: 5 * time.Millisecond,
	}, logger)
	require.NoError(t, err)
	require.NoError(t, coord.Init(ctx))
	startGen := coord.Generation().Number

	// Record what the worker decodes so the wire format is checked too.
	var decoded [][]int
	eval := fitness.EvaluatorFunc(func(ctx context.Context, genome []int) (fitness.Result, error) {
		decoded = append(decoded, genome)
		return fitness.Result{Fitness: 100.0, ValidationFitness: 100.0}, nil
	})

	w, err := worker.NewEngine(store, eval, worker.Options{
		Instance:     "scenario",
		StartRow:     1,
		BlockSize:    4,
		PollInterval: 2 * time.Millisecond,
		ClaimedWait:  2 * time.Millisecond,
	}, logger)
	require.NoError(t, err)

	coordDone := make(chan error, 1)
	go func() { coordDone <- coord.RunGeneration(ctx) }()

	report, err := w.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Block.StartRow)
	assert.Equal(t, 4, report.Block.LastRow())
	assert.Equal(t, 4, report.Evaluated)
	assert.Equal(t, genomes, decoded)

	require.NoError(t, <-coordDone)

	harvested := coord.Harvested()
	require.Len(t, harvested, 4)
	for _, ind := range harvested {
		require.True(t, ind.Evaluated())
		assert.Equal(t, 100.0, *ind.Fitness)
		assert.Equal(t, 100.0, *ind.ValidationFitness)
	}

	assert.Equal(t, startGen+1, coord.Generation().Number)
	assert.Equal(t, population.StateCleared, coord.Generation().State)

	m, err := store.Read(ctx, layout.ColumnRange(layout.Genome))
	require.NoError(t, err)
	assert.True(t, m.IsEmpty(), "genome column cleared after harvest")
}

// TestEndToEndSeveralWorkers splits a population over disjoint blocks and
// runs a few generations with the worker loops running continuously.
func TestEndToEndSeveralWorkers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger := logging.Discard()
	store := grid.NewMemoryStore()

	cfg := evolve.DefaultConfig()
	cfg.PopulationSize = 10
	cfg.GenomeLength = 4
	cfg.Seed = 42
	ga, err := evolve.NewGA(cfg)
	require.NoError(t, err)

	coord, err := coordinator.NewEngine(store, ga, nil, coordinator.Options{
		Instance:       "scenario",
		PollInterval:   2 * time.Millisecond,
		IdleInterval:   2 * time.Millisecond,
		MaxGenerations: 3,
	}, logger)
	require.NoError(t, err)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	workerErrs := make(chan error, 3)
	for _, start := range []int{1, 5, 9} {
		w, err := worker.NewEngine(store, fitness.Sum(), worker.Options{
			Instance:     "scenario",
			StartRow:     start,
			BlockSize:    4,
			PollInterval: time.Millisecond,
			ClaimedWait:  time.Millisecond,
		}, logger)
		require.NoError(t, err)
		go func() { workerErrs <- w.Run(workerCtx) }()
	}

	require.NoError(t, coord.Run(ctx))
	assert.Equal(t, 3, coord.Generation().Number)

	for _, ind := range coord.Harvested() {
		require.True(t, ind.Evaluated())
		sum := 0
		for _, g := range ind.Genome {
			sum += g
		}
		assert.Equal(t, float64(sum), *ind.Fitness)
	}

	stopWorkers()
	for i := 0; i < 3; i++ {
		assert.NoError(t, <-workerErrs)
	}
}
