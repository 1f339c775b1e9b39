// Package fitness provides the Evaluator contract used by workers and a few
// stock evaluators selectable from genegrid.yml.
package fitness

import (
	"context"
	"fmt"
	"math"
)

// Result is the pair of scores reported for one genome.
type Result struct {
	Fitness           float64 `json:"fitness"`
	ValidationFitness float64 `json:"validation_fitness"`
}

// Finite reports whether both scores are finite numbers.
func (r Result) Finite() bool {
	return !math.IsNaN(r.Fitness) && !math.IsInf(r.Fitness, 0) &&
		!math.IsNaN(r.ValidationFitness) && !math.IsInf(r.ValidationFitness, 0)
}

// Evaluator scores a decoded genome.
type Evaluator interface {
	Evaluate(ctx context.Context, genome []int) (Result, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, genome []int) (Result, error)

// Evaluate calls f.
func (f EvaluatorFunc) Evaluate(ctx context.Context, genome []int) (Result, error) {
	return f(ctx, genome)
}

// Evaluator kinds accepted by New.
const (
	KindConstant = "constant"
	KindSum      = "sum"
	KindCommand  = "command"
)

// DefaultConstant is the score the constant evaluator reports.
const DefaultConstant = 100.0

// Config selects and parameterises an evaluator.
type Config struct {
	Kind    string   `yaml:"kind"`
	Value   *float64 `yaml:"value,omitempty"`
	Command []string `yaml:"command,omitempty"`
}

// Validate checks the evaluator configuration.
func (c Config) Validate() error {
	switch c.Kind {
	case "", KindConstant, KindSum:
		return nil
	case KindCommand:
		if len(c.Command) == 0 {
			return fmt.Errorf("evaluator kind 'command' requires a command")
		}
		return nil
	default:
		return fmt.Errorf("unknown evaluator kind: %s (must be 'constant', 'sum' or 'command')", c.Kind)
	}
}

// New builds the evaluator described by cfg.
func New(cfg Config) (Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case KindSum:
		return Sum(), nil
	case KindCommand:
		return NewCommand(cfg.Command), nil
	default:
		value := DefaultConstant
		if cfg.Value != nil {
			value = *cfg.Value
		}
		return Constant(value), nil
	}
}

// Constant scores every genome with value for both fitness and validation.
func Constant(value float64) Evaluator {
	return EvaluatorFunc(func(ctx context.Context, genome []int) (Result, error) {
		return Result{Fitness: value, ValidationFitness: value}, nil
	})
}

// Sum scores a genome by the sum of its genes; validation is the mean gene.
func Sum() Evaluator {
	return EvaluatorFunc(func(ctx context.Context, genome []int) (Result, error) {
		total := 0
		for _, g := range genome {
			total += g
		}
		mean := 0.0
		if len(genome) > 0 {
			mean = float64(total) / float64(len(genome))
		}
		return Result{Fitness: float64(total), ValidationFitness: mean}, nil
	})
}
