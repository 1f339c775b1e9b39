// Package coordinator drives generations through the grid: it publishes
// genomes, waits at the generation barrier, harvests scores and advances.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dyluth/genegrid/internal/checkpoint"
	"github.com/dyluth/genegrid/internal/evolve"
	"github.com/dyluth/genegrid/internal/metrics"
	"github.com/dyluth/genegrid/internal/population"
	"github.com/dyluth/genegrid/pkg/grid"
)

// Default polling intervals.
const (
	DefaultPollInterval = 10 * time.Second
	DefaultIdleInterval = 20 * time.Second
)

// Options configures an Engine.
type Options struct {
	Instance       string
	Layout         grid.Layout
	Delimiter      rune
	PollInterval   time.Duration
	IdleInterval   time.Duration
	MaxGenerations int // 0 = run until cancelled
}

func (o *Options) applyDefaults() {
	if o.Layout == (grid.Layout{}) {
		o.Layout = grid.DefaultLayout()
	}
	if o.Delimiter == 0 {
		o.Delimiter = grid.DefaultDelimiter
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.IdleInterval <= 0 {
		o.IdleInterval = DefaultIdleInterval
	}
}

// Engine is the single coordinator of a genegrid instance.
type Engine struct {
	store       grid.Store
	evolver     evolve.Evolver
	checkpoints checkpoint.Store
	opts        Options
	logger      *slog.Logger

	mu         sync.RWMutex
	generation population.Generation
	pop        population.Population
	harvested  population.Population
}

// NewEngine creates a coordinator. store should already be wrapped for
// retries; checkpoints may be nil.
func NewEngine(store grid.Store, evolver evolve.Evolver, checkpoints checkpoint.Store, opts Options, logger *slog.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("grid store is required")
	}
	if evolver == nil {
		return nil, errors.New("evolver is required")
	}
	opts.applyDefaults()
	if err := opts.Layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid grid layout: %w", err)
	}
	if opts.MaxGenerations < 0 {
		return nil, fmt.Errorf("max generations must be >= 0, got %d", opts.MaxGenerations)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:       store,
		evolver:     evolver,
		checkpoints: checkpoints,
		opts:        opts,
		logger:      logger,
		generation:  population.Generation{State: population.StateCleared},
	}, nil
}

// Generation returns a snapshot of the coordinator's progress.
func (e *Engine) Generation() population.Generation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.generation
}

// Population returns a copy of the current population.
func (e *Engine) Population() population.Population {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pop.Clone()
}

// Harvested returns a copy of the last scored population, or nil before the
// first harvest.
func (e *Engine) Harvested() population.Population {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.harvested == nil {
		return nil
	}
	return e.harvested.Clone()
}

func (e *Engine) initialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.pop) > 0
}

// Init loads the latest checkpoint, or asks the evolver for a fresh population.
// Run calls Init when it has not been called.
func (e *Engine) Init(ctx context.Context) error {
	if e.checkpoints != nil {
		rec, ok, err := e.checkpoints.Load(ctx, e.opts.Instance)
		if err != nil {
			return fmt.Errorf("failed to load checkpoint: %w", err)
		}
		if ok && len(rec.Population) > 0 {
			if err := e.setPopulation(rec.Generation, rec.Population); err != nil {
				return err
			}
			e.logger.Info("Resumed from checkpoint",
				"generation", rec.Generation,
				"population", len(rec.Population),
				"saved_at", rec.SavedAt)
			return nil
		}
	}

	pop, err := e.evolver.Initialize(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize population: %w", err)
	}
	if err := e.setPopulation(0, pop); err != nil {
		return err
	}
	e.logger.Info("Initialized population", "population", len(pop))
	return nil
}

func (e *Engine) setPopulation(generation int, pop population.Population) error {
	if len(pop) == 0 {
		return errors.New("population is empty")
	}
	if len(pop) > e.opts.Layout.MaxRows {
		return fmt.Errorf("population of %d does not fit in %d grid rows", len(pop), e.opts.Layout.MaxRows)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.pop = pop
	e.generation.Number = generation
	metrics.Generation.Set(float64(generation))
	return nil
}

// Run executes generations until ctx is cancelled or MaxGenerations is reached.
// Cancellation is a clean shutdown and returns nil.
func (e *Engine) Run(ctx context.Context) error {
	if !e.initialized() {
		if err := e.Init(ctx); err != nil {
			return err
		}
	}

	e.logger.Info("Coordinator starting",
		"generation", e.Generation().Number,
		"max_generations", e.opts.MaxGenerations)

	for {
		if e.opts.MaxGenerations > 0 && e.Generation().Number >= e.opts.MaxGenerations {
			e.logger.Info("Reached generation limit", "generation", e.Generation().Number)
			return nil
		}

		if err := e.RunGeneration(ctx); err != nil {
			if ctx.Err() != nil {
				e.logger.Info("Shutting down...")
				return nil
			}
			return err
		}
	}
}

// RunGeneration executes one full cycle: clear, publish, await, harvest,
// clear genomes and advance.
func (e *Engine) RunGeneration(ctx context.Context) error {
	if !e.initialized() {
		if err := e.Init(ctx); err != nil {
			return err
		}
	}

	start := time.Now()
	layout := e.opts.Layout
	pop := e.Population()
	n := len(pop)
	genNumber := e.Generation().Number

	// Clear
	if err := e.store.Clear(ctx, layout.Span()); err != nil {
		return fmt.Errorf("failed to clear grid: %w", err)
	}
	e.logger.Debug("Grid cleared", "range", layout.Span().String())

	// Publish
	e.setState(population.StatePublishing)
	cells := make([]string, n)
	for i, ind := range pop {
		cell, err := grid.EncodeGenome(ind.Genome, e.opts.Delimiter)
		if err != nil {
			return fmt.Errorf("failed to encode genome %d: %w", i, err)
		}
		cells[i] = cell
	}
	updated, err := e.store.Write(ctx, grid.ColumnRange(layout.Genome, 1, n), grid.ColumnMatrix(cells))
	if err != nil {
		return fmt.Errorf("failed to publish genomes: %w", err)
	}
	e.logger.Info("Published generation",
		"generation", genNumber,
		"population", n,
		"cells_updated", updated)

	// Await and harvest
	e.setState(population.StateAwaitingResults)
	fitness, validation, err := e.awaitResults(ctx, n)
	if err != nil {
		return err
	}
	if err := pop.Assign(fitness, validation); err != nil {
		return err
	}
	e.mu.Lock()
	e.harvested = pop.Clone()
	e.mu.Unlock()

	// Clear genomes
	if err := e.store.Clear(ctx, layout.ColumnRange(layout.Genome)); err != nil {
		return fmt.Errorf("failed to clear genomes: %w", err)
	}
	e.setState(population.StateCleared)

	if best, ok := pop.Best(); ok {
		metrics.BestFitness.Set(*best.Fitness)
		e.logger.Info("Harvested generation",
			"generation", genNumber,
			"best_fitness", *best.Fitness,
			"best_row", best.Row())
	}

	// Advance
	next, err := e.evolver.Next(ctx, pop)
	if err != nil {
		return fmt.Errorf("failed to evolve generation %d: %w", genNumber, err)
	}
	if err := e.setPopulation(genNumber+1, next); err != nil {
		return err
	}
	metrics.GenerationDuration.Observe(time.Since(start).Seconds())

	if e.checkpoints != nil {
		rec := checkpoint.Record{
			Instance:   e.opts.Instance,
			Generation: genNumber + 1,
			Population: next,
			SavedAt:    time.Now().UTC(),
		}
		if err := e.checkpoints.Save(ctx, rec); err != nil {
			// The grid protocol does not depend on checkpoints.
			e.logger.Warn("Failed to save checkpoint", "generation", genNumber+1, "error", err)
		}
	}

	e.logger.Info("Advanced generation",
		"generation", genNumber+1,
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// awaitResults polls until both score columns pass the barrier and parse.
// Nothing here is an error except cancellation or a store that gave up.
func (e *Engine) awaitResults(ctx context.Context, n int) ([]float64, []float64, error) {
	layout := e.opts.Layout
	for {
		m, err := e.store.Read(ctx, layout.ColumnRange(layout.Fitness))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to poll fitness: %w", err)
		}

		if m.IsEmpty() {
			e.logger.Debug("No results yet", "wait", e.opts.IdleInterval)
			if err := sleep(ctx, e.opts.IdleInterval); err != nil {
				return nil, nil, err
			}
			continue
		}

		cells := m.FirstColumn()
		if !Ready(cells, n) {
			e.logger.Debug("Generation incomplete", "rows", len(cells), "population", n)
			if err := sleep(ctx, e.opts.PollInterval); err != nil {
				return nil, nil, err
			}
			continue
		}

		e.setState(population.StateHarvesting)
		fitness, validation, err := e.harvest(ctx, n)
		if err == nil {
			return fitness, validation, nil
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if !errors.Is(err, errNotReady) {
			return nil, nil, err
		}

		e.logger.Info("Harvest deferred", "reason", err.Error())
		e.setState(population.StateAwaitingResults)
		if err := sleep(ctx, e.opts.PollInterval); err != nil {
			return nil, nil, err
		}
	}
}

// errNotReady marks a harvest that found incomplete or unparsable scores.
var errNotReady = errors.New("scores not ready")

func (e *Engine) harvest(ctx context.Context, n int) ([]float64, []float64, error) {
	layout := e.opts.Layout

	fm, err := e.store.Read(ctx, layout.ColumnRange(layout.Fitness))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read fitness: %w", err)
	}
	vm, err := e.store.Read(ctx, layout.ColumnRange(layout.ValidationFitness))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read validation fitness: %w", err)
	}

	fcells, vcells := fm.FirstColumn(), vm.FirstColumn()
	if !Ready(fcells, n) {
		return nil, nil, fmt.Errorf("%w: fitness column changed", errNotReady)
	}
	if !Ready(vcells, n) {
		return nil, nil, fmt.Errorf("%w: validation fitness incomplete (%d of %d rows)", errNotReady, len(vcells), n)
	}

	fitness, err := parseScores(fcells, n)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: fitness %v", errNotReady, err)
	}
	validation, err := parseScores(vcells, n)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: validation fitness %v", errNotReady, err)
	}
	return fitness, validation, nil
}

func (e *Engine) setState(state population.State) {
	e.mu.Lock()
	e.generation.State = state
	gen := e.generation.Number
	e.mu.Unlock()

	for _, s := range population.States {
		v := 0.0
		if s == state {
			v = 1
		}
		metrics.GenerationState.WithLabelValues(string(s)).Set(v)
	}
	e.logger.Debug("State changed", "generation", gen, "state", state)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
