// Package claim implements the best-effort row-block claim protocol used by
// workers. A claim is a run of sentinel values in the Claim column.
//
// In naive mode the claim is a read followed by a write, so two workers racing
// on the same block can both believe they hold it. Conditional mode closes the
// race on backends that provide grid.ConditionalWriter.
package claim

import (
	"context"
	"errors"
	"fmt"

	"github.com/dyluth/genegrid/internal/metrics"
	"github.com/dyluth/genegrid/pkg/grid"
)

// ErrNoConditionalWrite is returned when conditional mode is requested on a
// store that cannot write conditionally.
var ErrNoConditionalWrite = errors.New("grid store does not support conditional writes")

// Block is the contiguous row range a worker tries to claim.
type Block struct {
	StartRow  int
	Count     int
	OwnerHint string
}

// BlockAt returns the block covering rows [start, start+count-1].
func BlockAt(start, count int) (Block, error) {
	if start < 1 {
		return Block{}, fmt.Errorf("start row must be >= 1, got %d", start)
	}
	if count < 1 {
		return Block{}, fmt.Errorf("block size must be >= 1, got %d", count)
	}
	return Block{StartRow: start, Count: count}, nil
}

// LastRow returns the final row of the block.
func (b Block) LastRow() int {
	return b.StartRow + b.Count - 1
}

// Range returns the block's rows in col.
func (b Block) Range(col grid.Column) grid.Range {
	return grid.ColumnRange(col, b.StartRow, b.LastRow())
}

func (b Block) String() string {
	return fmt.Sprintf("rows %d-%d", b.StartRow, b.LastRow())
}

// Mode selects how a claim is taken.
type Mode string

const (
	ModeNaive       Mode = "naive"
	ModeConditional Mode = "conditional"
)

// Validate checks that the mode is known.
func (m Mode) Validate() error {
	switch m {
	case ModeNaive, ModeConditional:
		return nil
	default:
		return fmt.Errorf("invalid claim mode: %s (must be 'naive' or 'conditional')", m)
	}
}

// Claimer takes and releases claims on one Claim column.
type Claimer struct {
	store    grid.Store
	cw       grid.ConditionalWriter
	column   grid.Column
	mode     Mode
	sentinel string
}

// NewClaimer creates a claimer. Conditional mode requires store to implement
// grid.ConditionalWriter.
func NewClaimer(store grid.Store, column grid.Column, mode Mode, sentinel string) (*Claimer, error) {
	if mode == "" {
		mode = ModeNaive
	}
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	if err := column.Validate(); err != nil {
		return nil, err
	}
	if sentinel == "" {
		sentinel = grid.DefaultClaimSentinel
	}

	c := &Claimer{store: store, column: column, mode: mode, sentinel: sentinel}
	if mode == ModeConditional {
		cw, ok := store.(grid.ConditionalWriter)
		if !ok {
			return nil, ErrNoConditionalWrite
		}
		c.cw = cw
	}
	return c, nil
}

// Mode returns the claim mode in use.
func (c *Claimer) Mode() Mode {
	return c.mode
}

// TryClaim attempts to claim block. It returns false when any Claim cell in the
// block is already set.
func (c *Claimer) TryClaim(ctx context.Context, block Block) (bool, error) {
	var claimed bool
	var err error
	if c.mode == ModeConditional {
		claimed, err = c.tryConditional(ctx, block)
	} else {
		claimed, err = c.tryNaive(ctx, block)
	}
	if err != nil {
		return false, err
	}

	outcome := "busy"
	if claimed {
		outcome = "claimed"
	}
	metrics.ClaimsTotal.WithLabelValues(string(c.mode), outcome).Inc()
	return claimed, nil
}

func (c *Claimer) tryNaive(ctx context.Context, block Block) (bool, error) {
	r := block.Range(c.column)
	current, err := c.store.Read(ctx, r)
	if err != nil {
		return false, fmt.Errorf("failed to read claim range %s: %w", r, err)
	}
	if !current.IsEmpty() {
		return false, nil
	}

	if _, err := c.store.Write(ctx, r, grid.Fill(block.Count, 1, c.sentinel)); err != nil {
		return false, fmt.Errorf("failed to write claim range %s: %w", r, err)
	}
	return true, nil
}

// tryConditional tags the sentinel with the owner hint so that a write whose
// acknowledgement was lost can be recognised as ours on the retry.
func (c *Claimer) tryConditional(ctx context.Context, block Block) (bool, error) {
	r := block.Range(c.column)
	value := c.ownedSentinel(block)

	written, err := c.cw.WriteIfEmpty(ctx, r, grid.Fill(block.Count, 1, value))
	if err != nil {
		return false, fmt.Errorf("failed to conditionally claim %s: %w", r, err)
	}
	if written || block.OwnerHint == "" {
		return written, nil
	}

	current, err := c.store.Read(ctx, r)
	if err != nil {
		return false, fmt.Errorf("failed to read claim range %s: %w", r, err)
	}
	cells := current.FirstColumn()
	if len(cells) != block.Count {
		return false, nil
	}
	for _, cell := range cells {
		if cell != value {
			return false, nil
		}
	}
	return true, nil
}

func (c *Claimer) ownedSentinel(block Block) string {
	if block.OwnerHint == "" {
		return c.sentinel
	}
	return c.sentinel + ":" + block.OwnerHint
}

// Release clears the block's Claim cells.
func (c *Claimer) Release(ctx context.Context, block Block) error {
	r := block.Range(c.column)
	if err := c.store.Clear(ctx, r); err != nil {
		return fmt.Errorf("failed to release claim range %s: %w", r, err)
	}
	return nil
}
