package grid

import "fmt"

// DefaultMaxRows bounds the population size a grid can hold.
const DefaultMaxRows = 50000

// Layout assigns the semantic columns and the row bound of a grid.
type Layout struct {
	Claim             Column `yaml:"claim"`
	ValidationFitness Column `yaml:"validation_fitness"`
	Fitness           Column `yaml:"fitness"`
	Genome            Column `yaml:"genome"`
	MaxRows           int    `yaml:"max_rows"`
}

// DefaultLayout returns the D/E/F/G layout with DefaultMaxRows rows.
func DefaultLayout() Layout {
	return Layout{
		Claim:             "D",
		ValidationFitness: "E",
		Fitness:           "F",
		Genome:            "G",
		MaxRows:           DefaultMaxRows,
	}
}

// Validate checks that the four columns are well-formed and in ascending
// Claim < ValidationFitness < Fitness < Genome order.
func (l Layout) Validate() error {
	if l.MaxRows < 1 {
		return fmt.Errorf("max_rows must be >= 1, got %d", l.MaxRows)
	}

	order := []struct {
		name string
		col  Column
	}{
		{"claim", l.Claim},
		{"validation_fitness", l.ValidationFitness},
		{"fitness", l.Fitness},
		{"genome", l.Genome},
	}

	prev := 0
	for _, c := range order {
		idx, err := c.col.Index()
		if err != nil {
			return fmt.Errorf("invalid %s column: %w", c.name, err)
		}
		if idx <= prev {
			return fmt.Errorf("%s column %s must come after the previous semantic column", c.name, c.col)
		}
		prev = idx
	}
	return nil
}

// ColumnRange returns rows 1..MaxRows of col.
func (l Layout) ColumnRange(col Column) Range {
	return ColumnRange(col, 1, l.MaxRows)
}

// Span returns the rectangle covering all four semantic columns, rows 1..MaxRows.
func (l Layout) Span() Range {
	return Range{
		FirstColumn: l.Claim,
		LastColumn:  l.Genome,
		FirstRow:    1,
		LastRow:     l.MaxRows,
	}
}

// Redis key helpers
//
// All Redis keys are namespaced by instance name so several genegrid runs can
// share one Redis server.
//
// Key pattern: genegrid:{instance_name}:col:{column}

// ColumnKey returns the Redis hash key holding one column's cells.
// Pattern: genegrid:{instance_name}:col:{column}
func ColumnKey(instanceName string, col Column) string {
	return fmt.Sprintf("genegrid:%s:col:%s", instanceName, col)
}
