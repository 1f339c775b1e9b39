package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/genegrid/internal/checkpoint"
	"github.com/dyluth/genegrid/internal/coordinator"
	"github.com/dyluth/genegrid/internal/evolve"
	"github.com/dyluth/genegrid/pkg/grid"
	"github.com/spf13/cobra"
)

var coordinatorGenerations int

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Run the generation coordinator",
	Long: `Run the single coordinator of a genegrid instance.

Each generation the coordinator clears the grid, publishes the population's
genomes into the genome column and waits until workers have written both
fitness columns for every row. It then harvests the scores, clears the genomes
and breeds the next generation.

Only one coordinator may run per instance.`,
	Args: cobra.NoArgs,
	RunE: runCoordinator,
}

func init() {
	coordinatorCmd.Flags().IntVar(&coordinatorGenerations, "generations", 0, "Stop after this many generations (overrides coordinator.max_generations; 0 = unlimited)")
	rootCmd.AddCommand(coordinatorCmd)
}

func runCoordinator(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := setupLogger(cfg, "coordinator")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	raw, store, err := openGrid(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer grid.Close(raw)

	ga, err := evolve.NewGA(cfg.Evolve)
	if err != nil {
		return fmt.Errorf("invalid evolve configuration: %w", err)
	}

	checkpoints, err := checkpoint.NewStore(ctx, cfg.Coordinator.Checkpoint.Kind, cfg.Coordinator.Checkpoint.Path)
	if err != nil {
		return err
	}
	if closer, ok := checkpoints.(io.Closer); ok {
		defer closer.Close()
	}

	opts := cfg.CoordinatorOptions()
	if cmd.Flags().Changed("generations") {
		opts.MaxGenerations = coordinatorGenerations
	}

	engine, err := coordinator.NewEngine(store, ga, checkpoints, opts, logger)
	if err != nil {
		return err
	}

	pinger, _ := raw.(grid.Pinger)
	health := coordinator.NewHealthServer(cfg.Coordinator.HealthAddr, pinger, engine.Generation, logger)
	if err := health.Start(); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}
	logger.Info("Health server listening", "addr", health.Addr())
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		health.Shutdown(shutdownCtx)
	}()

	if err := engine.Run(ctx); err != nil {
		return fmt.Errorf("coordinator stopped: %w", err)
	}
	logger.Info("Coordinator stopped", "generation", engine.Generation().Number)
	return nil
}
