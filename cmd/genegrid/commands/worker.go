package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dyluth/genegrid/internal/fitness"
	"github.com/dyluth/genegrid/internal/worker"
	"github.com/dyluth/genegrid/pkg/grid"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker <start-row>",
	Short: "Run a worker for the block starting at <start-row>",
	Long: `Run a worker that owns the static block of rows starting at <start-row>.

The worker waits for the coordinator to publish genomes, claims its block,
evaluates every genome in it and writes fitness and validation fitness back.
Workers of one instance must use disjoint blocks: with block_size 100 the
start rows are 1, 101, 201, ...`,
	Example: `  genegrid worker 1
  GENEGRID_BLOCK_SIZE=50 genegrid worker 51`,
	Args: cobra.ExactArgs(1),
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func parseStartRow(arg string) (int, error) {
	start, err := strconv.Atoi(arg)
	if err != nil || start < 1 {
		return 0, fmt.Errorf("start row must be a positive integer, got %q", arg)
	}
	return start, nil
}

// ownerHint identifies this process in conditional claims.
func ownerHint() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
}

func runWorker(cmd *cobra.Command, args []string) error {
	start, err := parseStartRow(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := setupLogger(cfg, "worker")
	if err != nil {
		return err
	}

	evaluator, err := fitness.New(cfg.Worker.Evaluator)
	if err != nil {
		return fmt.Errorf("invalid evaluator configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	raw, store, err := openGrid(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer grid.Close(raw)

	opts := cfg.WorkerOptions(start)
	opts.OwnerHint = ownerHint()

	engine, err := worker.NewEngine(store, evaluator, opts, logger)
	if err != nil {
		return err
	}

	if cfg.Worker.HealthPort > 0 {
		pinger, _ := raw.(grid.Pinger)
		health := worker.NewHealthServer(cfg.Worker.HealthPort, pinger, engine.Status, logger)
		if err := health.Start(); err != nil {
			return err
		}
		logger.Info("Health server listening", "addr", health.Addr())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			health.Shutdown(shutdownCtx)
		}()
	}

	if err := engine.Run(ctx); err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}
	logger.Info("Worker stopped")
	return nil
}
