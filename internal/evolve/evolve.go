// Package evolve produces successive populations. The coordinator only sees
// the Evolver interface; GA is a small default implementation.
package evolve

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/dyluth/genegrid/internal/population"
)

// Evolver creates the first population and derives each next one from a
// fully scored population.
type Evolver interface {
	Initialize(ctx context.Context) (population.Population, error)
	Next(ctx context.Context, pop population.Population) (population.Population, error)
}

// Defaults for Config.
const (
	DefaultPopulationSize = 32
	DefaultGenomeLength   = 16
	DefaultMaxGene        = 255
	DefaultEliteCount     = 4
	DefaultTournamentSize = 3
	DefaultMutationRate   = 0.2
	DefaultCrossoverRate  = 0.7
)

// Config parameterises the GA.
type Config struct {
	PopulationSize int     `yaml:"population_size"`
	GenomeLength   int     `yaml:"genome_length"`
	MaxGene        int     `yaml:"max_gene"`
	EliteCount     int     `yaml:"elite_count"`
	TournamentSize int     `yaml:"tournament_size"`
	MutationRate   float64 `yaml:"mutation_rate"`
	CrossoverRate  float64 `yaml:"crossover_rate"`
	Seed           int64   `yaml:"seed"`
}

// DefaultConfig returns the stock GA parameters.
func DefaultConfig() Config {
	return Config{
		PopulationSize: DefaultPopulationSize,
		GenomeLength:   DefaultGenomeLength,
		MaxGene:        DefaultMaxGene,
		EliteCount:     DefaultEliteCount,
		TournamentSize: DefaultTournamentSize,
		MutationRate:   DefaultMutationRate,
		CrossoverRate:  DefaultCrossoverRate,
	}
}

// Validate checks the GA parameters.
func (c Config) Validate() error {
	if c.PopulationSize < 1 {
		return fmt.Errorf("population_size must be >= 1, got %d", c.PopulationSize)
	}
	if c.GenomeLength < 1 {
		return fmt.Errorf("genome_length must be >= 1, got %d", c.GenomeLength)
	}
	if c.MaxGene < 0 {
		return fmt.Errorf("max_gene must be >= 0, got %d", c.MaxGene)
	}
	if c.EliteCount < 0 || c.EliteCount > c.PopulationSize {
		return fmt.Errorf("elite_count must be between 0 and population_size, got %d", c.EliteCount)
	}
	if c.TournamentSize < 1 {
		return fmt.Errorf("tournament_size must be >= 1, got %d", c.TournamentSize)
	}
	if c.MutationRate < 0 || c.MutationRate > 1 {
		return fmt.Errorf("mutation_rate must be within [0, 1], got %g", c.MutationRate)
	}
	if c.CrossoverRate < 0 || c.CrossoverRate > 1 {
		return fmt.Errorf("crossover_rate must be within [0, 1], got %g", c.CrossoverRate)
	}
	return nil
}

// GA is a generational genetic algorithm over non-negative integer genomes:
// elitism, tournament selection, one-point crossover and per-gene mutation.
type GA struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGA creates a GA. A zero seed draws one from the clock.
func NewGA(cfg Config) (*GA, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &GA{cfg: cfg, rng: rand.New(rand.NewSource(seed))}, nil
}

// Initialize returns a random population.
func (g *GA) Initialize(ctx context.Context) (population.Population, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	genomes := make([][]int, g.cfg.PopulationSize)
	for i := range genomes {
		genome := make([]int, g.cfg.GenomeLength)
		for j := range genome {
			genome[j] = g.rng.Intn(g.cfg.MaxGene + 1)
		}
		genomes[i] = genome
	}
	return population.New(genomes), nil
}

// Next breeds the next population from a fully scored one.
func (g *GA) Next(ctx context.Context, pop population.Population) (population.Population, error) {
	if len(pop) == 0 {
		return nil, fmt.Errorf("cannot evolve an empty population")
	}
	for _, ind := range pop {
		if ind.Fitness == nil {
			return nil, fmt.Errorf("individual %d has no fitness", ind.Index)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	ranked := pop.Clone()
	sort.SliceStable(ranked, func(i, j int) bool {
		return *ranked[i].Fitness > *ranked[j].Fitness
	})

	size := len(pop)
	genomes := make([][]int, 0, size)
	for i := 0; i < g.cfg.EliteCount && i < size; i++ {
		genomes = append(genomes, append([]int(nil), ranked[i].Genome...))
	}

	for len(genomes) < size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a := g.tournament(ranked)
		b := g.tournament(ranked)
		child := g.crossover(a.Genome, b.Genome)
		g.mutate(child)
		genomes = append(genomes, child)
	}

	return population.New(genomes), nil
}

func (g *GA) tournament(ranked population.Population) population.Individual {
	best := ranked[g.rng.Intn(len(ranked))]
	for i := 1; i < g.cfg.TournamentSize; i++ {
		c := ranked[g.rng.Intn(len(ranked))]
		if *c.Fitness > *best.Fitness {
			best = c
		}
	}
	return best
}

func (g *GA) crossover(a, b []int) []int {
	n := min(len(a), len(b))
	if n < 2 || g.rng.Float64() >= g.cfg.CrossoverRate {
		return append([]int(nil), a...)
	}

	cut := 1 + g.rng.Intn(n-1)
	child := make([]int, 0, len(b))
	child = append(child, a[:cut]...)
	child = append(child, b[cut:]...)
	return child
}

func (g *GA) mutate(genome []int) {
	for i := range genome {
		if g.rng.Float64() < g.cfg.MutationRate {
			genome[i] = g.rng.Intn(g.cfg.MaxGene + 1)
		}
	}
}

// Static returns the same genomes every generation. It is useful for tests
// and for benchmarking the grid protocol in isolation.
func Static(genomes [][]int) Evolver {
	return staticEvolver{genomes: genomes}
}

type staticEvolver struct {
	genomes [][]int
}

func (s staticEvolver) Initialize(ctx context.Context) (population.Population, error) {
	return population.New(s.genomes), nil
}

func (s staticEvolver) Next(ctx context.Context, pop population.Population) (population.Population, error) {
	return population.New(pop.Genomes()), nil
}
