// Package population holds the in-memory model of a generation: the individuals
// the coordinator publishes and the scores it harvests back.
package population

import (
	"fmt"
	"math"
)

// Individual is one candidate solution. Index is the 0-based position in the
// population; it lives on grid row Index+1. Nil scores are absent.
type Individual struct {
	Index             int      `json:"index"`
	Genome            []int    `json:"genome"`
	Fitness           *float64 `json:"fitness,omitempty"`
	ValidationFitness *float64 `json:"validation_fitness,omitempty"`
}

// Row returns the 1-based grid row of the individual.
func (i Individual) Row() int {
	return i.Index + 1
}

// Evaluated reports whether both scores are present.
func (i Individual) Evaluated() bool {
	return i.Fitness != nil && i.ValidationFitness != nil
}

// Population is an ordered set of individuals; position i maps to grid row i+1.
type Population []Individual

// New builds a population from genomes, indexing them in order.
func New(genomes [][]int) Population {
	pop := make(Population, len(genomes))
	for i, g := range genomes {
		pop[i] = Individual{Index: i, Genome: g}
	}
	return pop
}

// Genomes returns the genomes in row order.
func (p Population) Genomes() [][]int {
	genomes := make([][]int, len(p))
	for i, ind := range p {
		genomes[i] = ind.Genome
	}
	return genomes
}

// Assign sets both scores positionally. Both slices must match the population size.
func (p Population) Assign(fitness, validation []float64) error {
	if len(fitness) != len(p) || len(validation) != len(p) {
		return fmt.Errorf("score count mismatch: population %d, fitness %d, validation %d",
			len(p), len(fitness), len(validation))
	}
	for i := range p {
		f, v := fitness[i], validation[i]
		p[i].Fitness = &f
		p[i].ValidationFitness = &v
	}
	return nil
}

// ResetScores clears every score, as at the start of a generation.
func (p Population) ResetScores() {
	for i := range p {
		p[i].Fitness = nil
		p[i].ValidationFitness = nil
	}
}

// Best returns the individual with the highest fitness. ok is false when no
// individual has been scored.
func (p Population) Best() (best Individual, ok bool) {
	top := math.Inf(-1)
	for _, ind := range p {
		if ind.Fitness != nil && *ind.Fitness > top {
			top = *ind.Fitness
			best = ind
			ok = true
		}
	}
	return best, ok
}

// Clone returns a deep copy.
func (p Population) Clone() Population {
	out := make(Population, len(p))
	for i, ind := range p {
		c := Individual{Index: ind.Index, Genome: append([]int(nil), ind.Genome...)}
		if ind.Fitness != nil {
			f := *ind.Fitness
			c.Fitness = &f
		}
		if ind.ValidationFitness != nil {
			v := *ind.ValidationFitness
			c.ValidationFitness = &v
		}
		out[i] = c
	}
	return out
}

// State is the coordinator's position within a generation.
type State string

const (
	StatePublishing      State = "publishing"
	StateAwaitingResults State = "awaiting_results"
	StateHarvesting      State = "harvesting"
	StateCleared         State = "cleared"
)

// States lists every state in cycle order.
var States = []State{StatePublishing, StateAwaitingResults, StateHarvesting, StateCleared}

// Generation is a snapshot of the coordinator's progress.
type Generation struct {
	Number int   `json:"number"`
	State  State `json:"state"`
}
