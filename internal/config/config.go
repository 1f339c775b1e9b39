package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/dyluth/genegrid/internal/checkpoint"
	"github.com/dyluth/genegrid/internal/claim"
	"github.com/dyluth/genegrid/internal/coordinator"
	"github.com/dyluth/genegrid/internal/evolve"
	"github.com/dyluth/genegrid/internal/fitness"
	"github.com/dyluth/genegrid/internal/logging"
	"github.com/dyluth/genegrid/internal/retry"
	"github.com/dyluth/genegrid/internal/worker"
	"github.com/dyluth/genegrid/pkg/grid"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file name looked up in the working directory.
const DefaultFile = "genegrid.yml"

// Defaults for the fleet section.
const (
	DefaultImage      = "genegrid:latest"
	DefaultRedisImage = "redis:7-alpine"
	DefaultHealthPort = 8080
	DefaultRedisURL   = "redis://localhost:6379"
)

// Config represents the top-level genegrid.yml configuration
type Config struct {
	Version     string            `yaml:"version"`
	Instance    string            `yaml:"instance"`
	Grid        GridConfig        `yaml:"grid"`
	Retry       retry.Policy      `yaml:"retry"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Worker      WorkerConfig      `yaml:"worker"`
	Evolve      evolve.Config     `yaml:"evolve"`
	Logging     logging.Options   `yaml:"logging"`
	Fleet       FleetConfig       `yaml:"fleet"`
}

// GridConfig selects the grid backend and its column layout
type GridConfig struct {
	Backend    string      `yaml:"backend"`
	RedisURL   string      `yaml:"redis_url,omitempty"`
	SQLitePath string      `yaml:"sqlite_path,omitempty"`
	Layout     grid.Layout `yaml:"layout"`
	Delimiter  string      `yaml:"delimiter"`
	Sentinel   string      `yaml:"sentinel"`
}

// CoordinatorConfig controls the coordinator process
type CoordinatorConfig struct {
	PollInterval   time.Duration    `yaml:"poll_interval"`
	IdleInterval   time.Duration    `yaml:"idle_interval"`
	MaxGenerations int              `yaml:"max_generations"` // 0 = unlimited
	HealthAddr     string           `yaml:"health_addr"`
	Checkpoint     CheckpointConfig `yaml:"checkpoint"`
}

// CheckpointConfig selects where the coordinator saves its population
type CheckpointConfig struct {
	Kind string `yaml:"kind"` // none, memory or sqlite
	Path string `yaml:"path,omitempty"`
}

// WorkerConfig controls worker processes
type WorkerConfig struct {
	BlockSize    int            `yaml:"block_size"`
	PollInterval time.Duration  `yaml:"poll_interval"`
	ClaimedWait  time.Duration  `yaml:"claimed_wait"`
	ClaimMode    claim.Mode     `yaml:"claim_mode"`
	HealthPort   int            `yaml:"health_port"` // 0 disables the health server
	Evaluator    fitness.Config `yaml:"evaluator"`
}

// FleetConfig describes the containers started by `genegrid fleet up`
type FleetConfig struct {
	Image      string `yaml:"image"`
	Workers    int    `yaml:"workers"`
	RedisImage string `yaml:"redis_image"`
	// HealthPort is the host port mapped to the coordinator's health server.
	// 0 leaves it unpublished.
	HealthPort int `yaml:"health_port,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Version: "1.0"}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Instance == "" {
		c.Instance = "default"
	}

	// Coordinator and workers are separate processes, so the default grid
	// must be one they can all reach.
	if c.Grid.Backend == "" {
		c.Grid.Backend = grid.BackendRedis
	}
	if c.Grid.RedisURL == "" && c.Grid.Backend == grid.BackendRedis {
		c.Grid.RedisURL = DefaultRedisURL
	}
	if c.Grid.SQLitePath == "" && c.Grid.Backend == grid.BackendSQLite {
		c.Grid.SQLitePath = "genegrid.db"
	}
	if c.Grid.Layout == (grid.Layout{}) {
		c.Grid.Layout = grid.DefaultLayout()
	} else if c.Grid.Layout.MaxRows == 0 {
		c.Grid.Layout.MaxRows = grid.DefaultMaxRows
	}
	if c.Grid.Delimiter == "" {
		c.Grid.Delimiter = string(grid.DefaultDelimiter)
	}
	if c.Grid.Sentinel == "" {
		c.Grid.Sentinel = grid.DefaultClaimSentinel
	}

	if c.Retry == (retry.Policy{}) {
		c.Retry = retry.DefaultPolicy()
	} else if c.Retry.Strategy == "" {
		c.Retry.Strategy = retry.StrategyConstant
	}

	if c.Coordinator.PollInterval == 0 {
		c.Coordinator.PollInterval = coordinator.DefaultPollInterval
	}
	if c.Coordinator.IdleInterval == 0 {
		c.Coordinator.IdleInterval = coordinator.DefaultIdleInterval
	}
	if c.Coordinator.HealthAddr == "" {
		c.Coordinator.HealthAddr = coordinator.DefaultHealthAddr
	}
	if c.Coordinator.Checkpoint.Kind == "" {
		c.Coordinator.Checkpoint.Kind = checkpoint.KindNone
	}
	if c.Coordinator.Checkpoint.Kind == checkpoint.KindSQLite && c.Coordinator.Checkpoint.Path == "" {
		c.Coordinator.Checkpoint.Path = "genegrid-checkpoints.db"
	}

	if c.Worker.BlockSize == 0 {
		c.Worker.BlockSize = worker.DefaultBlockSize
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = worker.DefaultPollInterval
	}
	if c.Worker.ClaimedWait == 0 {
		c.Worker.ClaimedWait = worker.DefaultClaimedWait
	}
	if c.Worker.ClaimMode == "" {
		c.Worker.ClaimMode = claim.ModeNaive
	}
	if c.Worker.Evaluator.Kind == "" {
		c.Worker.Evaluator.Kind = fitness.KindConstant
	}

	def := evolve.DefaultConfig()
	if c.Evolve.PopulationSize == 0 {
		c.Evolve.PopulationSize = def.PopulationSize
	}
	if c.Evolve.GenomeLength == 0 {
		c.Evolve.GenomeLength = def.GenomeLength
	}
	if c.Evolve.MaxGene == 0 {
		c.Evolve.MaxGene = def.MaxGene
	}
	if c.Evolve.TournamentSize == 0 {
		c.Evolve.TournamentSize = def.TournamentSize
	}
	// Zero rates are meaningful, so only a fully unset block gets the stock rates.
	if c.Evolve.MutationRate == 0 && c.Evolve.CrossoverRate == 0 && c.Evolve.EliteCount == 0 {
		c.Evolve.MutationRate = def.MutationRate
		c.Evolve.CrossoverRate = def.CrossoverRate
		c.Evolve.EliteCount = min(def.EliteCount, c.Evolve.PopulationSize)
	}

	if c.Logging.Format == "" {
		c.Logging.Format = logging.FormatText
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Fleet.Image == "" {
		c.Fleet.Image = DefaultImage
	}
	if c.Fleet.RedisImage == "" {
		c.Fleet.RedisImage = DefaultRedisImage
	}
	if c.Fleet.Workers == 0 {
		c.Fleet.Workers = 1
	}
}

// applyEnv lets deployment environments override the file, mirroring how
// containers receive their settings. It runs before applyDefaults.
func (c *Config) applyEnv() error {
	if v := os.Getenv("GENEGRID_INSTANCE"); v != "" {
		c.Instance = v
	}
	if v := os.Getenv("GENEGRID_BACKEND"); v != "" {
		c.Grid.Backend = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Grid.RedisURL = v
	}
	if v := os.Getenv("GENEGRID_SQLITE_PATH"); v != "" {
		c.Grid.SQLitePath = v
	}
	if v := os.Getenv("GENEGRID_CHECKPOINT_PATH"); v != "" {
		c.Coordinator.Checkpoint.Path = v
	}
	if v := os.Getenv("GENEGRID_CLAIM_MODE"); v != "" {
		c.Worker.ClaimMode = claim.Mode(v)
	}
	if v := os.Getenv("GENEGRID_BLOCK_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GENEGRID_BLOCK_SIZE must be an integer: %w", err)
		}
		c.Worker.BlockSize = n
	}
	if v := os.Getenv("GENEGRID_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Validate performs strict validation on the configuration
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}
	if c.Instance == "" {
		return fmt.Errorf("instance is required")
	}

	switch c.Grid.Backend {
	case grid.BackendMemory:
	case grid.BackendRedis:
		if c.Grid.RedisURL == "" {
			return fmt.Errorf("grid.redis_url is required for the redis backend")
		}
	case grid.BackendSQLite:
		if c.Grid.SQLitePath == "" {
			return fmt.Errorf("grid.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("invalid grid.backend: %s (must be 'memory', 'redis' or 'sqlite')", c.Grid.Backend)
	}
	if err := c.Grid.Layout.Validate(); err != nil {
		return fmt.Errorf("grid.layout: %w", err)
	}
	if utf8.RuneCountInString(c.Grid.Delimiter) != 1 {
		return fmt.Errorf("grid.delimiter must be a single character, got %q", c.Grid.Delimiter)
	}
	if d := c.Delimiter(); d >= '0' && d <= '9' {
		return fmt.Errorf("grid.delimiter cannot be a digit, got %q", c.Grid.Delimiter)
	}

	if err := c.Retry.Validate(); err != nil {
		return err
	}

	if c.Coordinator.PollInterval < 0 || c.Coordinator.IdleInterval < 0 {
		return fmt.Errorf("coordinator intervals must be >= 0")
	}
	if c.Coordinator.MaxGenerations < 0 {
		return fmt.Errorf("coordinator.max_generations must be >= 0 (0 = unlimited), got %d", c.Coordinator.MaxGenerations)
	}
	switch c.Coordinator.Checkpoint.Kind {
	case checkpoint.KindNone, checkpoint.KindMemory, checkpoint.KindSQLite:
	default:
		return fmt.Errorf("invalid coordinator.checkpoint.kind: %s (must be 'none', 'memory' or 'sqlite')", c.Coordinator.Checkpoint.Kind)
	}

	if c.Worker.BlockSize < 1 {
		return fmt.Errorf("worker.block_size must be >= 1, got %d", c.Worker.BlockSize)
	}
	if c.Worker.BlockSize > c.Grid.Layout.MaxRows {
		return fmt.Errorf("worker.block_size %d exceeds grid.layout.max_rows %d", c.Worker.BlockSize, c.Grid.Layout.MaxRows)
	}
	if err := c.Worker.ClaimMode.Validate(); err != nil {
		return fmt.Errorf("worker.claim_mode: %w", err)
	}
	if c.Worker.HealthPort < 0 || c.Worker.HealthPort > 65535 {
		return fmt.Errorf("worker.health_port out of range: %d", c.Worker.HealthPort)
	}
	if err := c.Worker.Evaluator.Validate(); err != nil {
		return fmt.Errorf("worker.evaluator: %w", err)
	}

	if err := c.Evolve.Validate(); err != nil {
		return fmt.Errorf("evolve: %w", err)
	}
	if c.Evolve.PopulationSize > c.Grid.Layout.MaxRows {
		return fmt.Errorf("evolve.population_size %d exceeds grid.layout.max_rows %d", c.Evolve.PopulationSize, c.Grid.Layout.MaxRows)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Logging.Format != logging.FormatText && c.Logging.Format != logging.FormatJSON {
		return fmt.Errorf("invalid logging.format: %s (must be 'text' or 'json')", c.Logging.Format)
	}

	if c.Fleet.Workers < 1 {
		return fmt.Errorf("fleet.workers must be >= 1, got %d", c.Fleet.Workers)
	}
	if c.Fleet.HealthPort < 0 || c.Fleet.HealthPort > 65535 {
		return fmt.Errorf("fleet.health_port out of range: %d", c.Fleet.HealthPort)
	}
	return nil
}

// Delimiter returns the genome delimiter as a rune.
func (c *Config) Delimiter() rune {
	r, _ := utf8.DecodeRuneInString(c.Grid.Delimiter)
	return r
}

// GridOptions returns the options for grid.Open.
func (c *Config) GridOptions() grid.Options {
	return grid.Options{
		Backend:    c.Grid.Backend,
		Instance:   c.Instance,
		RedisURL:   c.Grid.RedisURL,
		SQLitePath: c.Grid.SQLitePath,
	}
}

// CoordinatorOptions returns the coordinator engine options.
func (c *Config) CoordinatorOptions() coordinator.Options {
	return coordinator.Options{
		Instance:       c.Instance,
		Layout:         c.Grid.Layout,
		Delimiter:      c.Delimiter(),
		PollInterval:   c.Coordinator.PollInterval,
		IdleInterval:   c.Coordinator.IdleInterval,
		MaxGenerations: c.Coordinator.MaxGenerations,
	}
}

// WorkerOptions returns the worker engine options for a block starting at startRow.
func (c *Config) WorkerOptions(startRow int) worker.Options {
	return worker.Options{
		Instance:     c.Instance,
		Layout:       c.Grid.Layout,
		Delimiter:    c.Delimiter(),
		StartRow:     startRow,
		BlockSize:    c.Worker.BlockSize,
		PollInterval: c.Worker.PollInterval,
		ClaimedWait:  c.Worker.ClaimedWait,
		ClaimMode:    c.Worker.ClaimMode,
		Sentinel:     c.Grid.Sentinel,
	}
}

// Parse decodes genegrid.yml content. ${VAR} references are expanded from the
// environment before decoding.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Overrides land before defaults so backend-dependent defaults follow them.
	if err := config.applyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Load reads and validates genegrid.yml from the specified path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}
