// Package worker implements the evaluation loop run by each worker process:
// wait for a published generation, claim a static block of rows, evaluate the
// genomes in it and report both scores back to the grid.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dyluth/genegrid/internal/claim"
	"github.com/dyluth/genegrid/internal/fitness"
	"github.com/dyluth/genegrid/internal/metrics"
	"github.com/dyluth/genegrid/pkg/grid"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultBlockSize    = 100
	DefaultPollInterval = 18 * time.Second
	DefaultClaimedWait  = 18 * time.Second
)

// Options configures an Engine.
type Options struct {
	Instance  string
	Layout    grid.Layout
	Delimiter rune

	// StartRow is the first row of this worker's static block.
	StartRow  int
	BlockSize int

	PollInterval time.Duration
	ClaimedWait  time.Duration

	ClaimMode claim.Mode
	Sentinel  string
	// OwnerHint tags conditional claims so a retried claim can be recognised.
	OwnerHint string
}

func (o *Options) applyDefaults() {
	if o.Layout == (grid.Layout{}) {
		o.Layout = grid.DefaultLayout()
	}
	if o.Delimiter == 0 {
		o.Delimiter = grid.DefaultDelimiter
	}
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.ClaimedWait <= 0 {
		o.ClaimedWait = DefaultClaimedWait
	}
	if o.ClaimMode == "" {
		o.ClaimMode = claim.ModeNaive
	}
}

// CycleReport summarises one claim-evaluate-report cycle.
type CycleReport struct {
	Block claim.Block
	// Released is set when the claimed block held no genomes and the claim
	// was given back.
	Released  bool
	Evaluated int
	Skipped   int
	Duration  time.Duration
}

// Status is a snapshot of the worker for the health endpoint.
type Status struct {
	StartRow  int       `json:"start_row"`
	BlockSize int       `json:"block_size"`
	ClaimMode string    `json:"claim_mode"`
	State     string    `json:"state"`
	Cycles    int       `json:"cycles"`
	Evaluated int       `json:"evaluated"`
	LastCycle time.Time `json:"last_cycle,omitempty"`
}

// Worker states reported by Status.
const (
	StateWaiting    = "waiting_for_genomes"
	StateClaimBusy  = "claim_busy"
	StateEvaluating = "evaluating"
	StateReporting  = "reporting"
)

// Engine runs the worker loop for one static block.
type Engine struct {
	store     grid.Store
	claimer   *claim.Claimer
	evaluator fitness.Evaluator
	opts      Options
	block     claim.Block
	logger    *slog.Logger

	mu     sync.RWMutex
	status Status
}

// NewEngine creates a worker. store should already be wrapped for retries.
func NewEngine(store grid.Store, evaluator fitness.Evaluator, opts Options, logger *slog.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("grid store is required")
	}
	if evaluator == nil {
		return nil, errors.New("evaluator is required")
	}
	opts.applyDefaults()
	if err := opts.Layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid grid layout: %w", err)
	}

	block, err := claim.BlockAt(opts.StartRow, opts.BlockSize)
	if err != nil {
		return nil, err
	}
	if block.LastRow() > opts.Layout.MaxRows {
		return nil, fmt.Errorf("block %s exceeds the grid's %d rows", block, opts.Layout.MaxRows)
	}
	block.OwnerHint = opts.OwnerHint

	claimer, err := claim.NewClaimer(store, opts.Layout.Claim, opts.ClaimMode, opts.Sentinel)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:     store,
		claimer:   claimer,
		evaluator: evaluator,
		opts:      opts,
		block:     block,
		logger:    logger.With("start_row", block.StartRow),
		status: Status{
			StartRow:  block.StartRow,
			BlockSize: block.Count,
			ClaimMode: string(claimer.Mode()),
			State:     StateWaiting,
		},
	}, nil
}

// Block returns the worker's static claim block.
func (e *Engine) Block() claim.Block {
	return e.block
}

// Status returns a snapshot of the worker's progress.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

func (e *Engine) setState(state string) {
	e.mu.Lock()
	e.status.State = state
	e.mu.Unlock()
}

// Run repeats Cycle until ctx is cancelled. Cancellation returns nil; an
// evaluation failure is returned with the claim still held.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("Worker starting",
		"block", e.block.String(),
		"claim_mode", e.claimer.Mode())

	for {
		report, err := e.Cycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				e.logger.Info("Shutting down...")
				return nil
			}
			return err
		}
		if report.Released {
			continue
		}
		e.logger.Info("Reported block",
			"block", report.Block.String(),
			"evaluated", report.Evaluated,
			"skipped", report.Skipped,
			"duration", report.Duration.Round(time.Millisecond))
	}
}

// Cycle runs one claim-evaluate-report cycle. It blocks until genomes are
// published and the block can be claimed.
func (e *Engine) Cycle(ctx context.Context) (*CycleReport, error) {
	if err := e.claim(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	report := &CycleReport{Block: e.block}

	layout := e.opts.Layout
	m, err := e.store.Read(ctx, e.block.Range(layout.Genome))
	if err != nil {
		return nil, fmt.Errorf("failed to read claimed genomes: %w", err)
	}
	if m.IsEmpty() {
		// Population ends before this block, or the grid was cleared under us.
		if err := e.claimer.Release(ctx, e.block); err != nil {
			return nil, err
		}
		metrics.ClaimsTotal.WithLabelValues(string(e.claimer.Mode()), "empty").Inc()
		e.logger.Debug("Claimed block holds no genomes, released", "block", e.block.String())
		report.Released = true
		report.Duration = time.Since(start)
		return report, nil
	}

	e.setState(StateEvaluating)
	cells := m.FirstColumn()
	fitnessCells := make([]string, len(cells))
	validationCells := make([]string, len(cells))
	for i, cell := range cells {
		row := e.block.StartRow + i
		if strings.TrimSpace(cell) == "" {
			report.Skipped++
			continue
		}

		genome, err := grid.DecodeGenome(cell, e.opts.Delimiter)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		result, err := e.evaluator.Evaluate(ctx, genome)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate row %d: %w", row, err)
		}
		if !result.Finite() {
			return nil, fmt.Errorf("row %d: evaluator returned non-finite scores (fitness=%v, validation=%v)",
				row, result.Fitness, result.ValidationFitness)
		}

		fitnessCells[i] = grid.FormatScore(result.Fitness)
		validationCells[i] = grid.FormatScore(result.ValidationFitness)
		report.Evaluated++
		metrics.RowsEvaluated.Inc()
	}

	// Fitness first, then ValidationFitness.
	e.setState(StateReporting)
	rows := grid.ColumnRange(layout.Fitness, e.block.StartRow, e.block.StartRow+len(cells)-1)
	if _, err := e.store.Write(ctx, rows, grid.ColumnMatrix(fitnessCells)); err != nil {
		return nil, fmt.Errorf("failed to write fitness: %w", err)
	}
	rows = grid.ColumnRange(layout.ValidationFitness, e.block.StartRow, e.block.StartRow+len(cells)-1)
	if _, err := e.store.Write(ctx, rows, grid.ColumnMatrix(validationCells)); err != nil {
		return nil, fmt.Errorf("failed to write validation fitness: %w", err)
	}

	report.Duration = time.Since(start)
	e.mu.Lock()
	e.status.Cycles++
	e.status.Evaluated += report.Evaluated
	e.status.LastCycle = time.Now().UTC()
	e.status.State = StateWaiting
	e.mu.Unlock()
	return report, nil
}

// claim waits for published genomes, then takes the block. A busy block is
// retried at the same rows; the worker never moves to another block.
func (e *Engine) claim(ctx context.Context) error {
	for {
		if err := e.awaitGenomes(ctx); err != nil {
			return err
		}

		claimed, err := e.claimer.TryClaim(ctx, e.block)
		if err != nil {
			return err
		}
		if claimed {
			e.logger.Debug("Claimed block", "block", e.block.String())
			return nil
		}

		e.setState(StateClaimBusy)
		e.logger.Debug("Block already claimed, waiting", "block", e.block.String(), "wait", e.opts.ClaimedWait)
		if err := sleep(ctx, e.opts.ClaimedWait); err != nil {
			return err
		}
	}
}

// awaitGenomes polls the Genome column until a generation is published.
func (e *Engine) awaitGenomes(ctx context.Context) error {
	layout := e.opts.Layout
	for {
		m, err := e.store.Read(ctx, layout.ColumnRange(layout.Genome))
		if err != nil {
			return fmt.Errorf("failed to poll genomes: %w", err)
		}
		if !m.IsEmpty() {
			return nil
		}

		e.setState(StateWaiting)
		if err := sleep(ctx, e.opts.PollInterval); err != nil {
			return err
		}
	}
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
