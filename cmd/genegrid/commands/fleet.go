package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	dockerpkg "github.com/dyluth/genegrid/internal/docker"
	"github.com/dyluth/genegrid/internal/fleet"
	"github.com/dyluth/genegrid/internal/printer"
	"github.com/spf13/cobra"
)

var (
	fleetName    string
	fleetWorkers int
	fleetImage   string
	fleetJSON    bool
)

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Run a genegrid instance in Docker",
	Long: `Launch, inspect and tear down a complete genegrid deployment in Docker:
an isolated network, a Redis grid, one coordinator and one worker per block.

The image must have the genegrid binary as its entrypoint. The current
directory is mounted read-only at /workspace so genegrid.yml and any command
evaluator are visible to every container.`,
}

var fleetUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Start a fleet",
	Long: `Start a fleet for the project in the current directory.

Workers get disjoint start rows 1, 1+K, 1+2K, ... where K is worker.block_size,
so that together they cover evolve.population_size rows.`,
	Args: cobra.NoArgs,
	RunE: runFleetUp,
}

var fleetDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop and remove a fleet",
	Args:  cobra.NoArgs,
	RunE:  runFleetDown,
}

var fleetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List fleets",
	Args:  cobra.NoArgs,
	RunE:  runFleetList,
}

func init() {
	fleetUpCmd.Flags().StringVarP(&fleetName, "name", "n", "", "Instance name (defaults to instance in genegrid.yml)")
	fleetUpCmd.Flags().IntVarP(&fleetWorkers, "workers", "w", 0, "Number of workers (defaults to one per block)")
	fleetUpCmd.Flags().StringVar(&fleetImage, "image", "", "genegrid image (defaults to fleet.image)")
	fleetDownCmd.Flags().StringVarP(&fleetName, "name", "n", "", "Instance name (defaults to instance in genegrid.yml)")
	fleetListCmd.Flags().BoolVar(&fleetJSON, "json", false, "Output in JSON format")

	fleetCmd.AddCommand(fleetUpCmd, fleetDownCmd, fleetListCmd)
	rootCmd.AddCommand(fleetCmd)
}

func runFleetUp(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	name := cfg.Instance
	if fleetName != "" {
		name = fleetName
	}
	if err := fleet.ValidateName(name); err != nil {
		return err
	}

	image := cfg.Fleet.Image
	if fleetImage != "" {
		image = fleetImage
	}

	workers := fleetWorkers
	if workers == 0 && !cmd.Flags().Changed("workers") {
		starts, err := fleet.BlockStarts(cfg.Evolve.PopulationSize, cfg.Worker.BlockSize)
		if err != nil {
			return err
		}
		workers = max(cfg.Fleet.Workers, len(starts))
	}
	starts, err := fleet.Plan(cfg.Evolve.PopulationSize, cfg.Worker.BlockSize, workers)
	if err != nil {
		return fail("not enough workers", err.Error(), nil,
			"Start one worker per block: genegrid fleet up",
			"Raise worker.block_size in genegrid.yml",
		)
	}

	workspace, err := workspacePath()
	if err != nil {
		return err
	}

	cli, err := dockerpkg.NewClient(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()

	redisPort, err := fleet.FindRedisHostPort(ctx, cli)
	if err != nil {
		return fmt.Errorf("failed to allocate Redis port: %w", err)
	}
	printer.Success("Allocated Redis port: %d\n", redisPort)

	spec := fleet.Spec{
		Instance:      name,
		RunID:         dockerpkg.GenerateRunID(),
		Image:         image,
		RedisImage:    cfg.Fleet.RedisImage,
		WorkspacePath: workspace,
		StartRows:     starts,
		BlockSize:     cfg.Worker.BlockSize,
		HealthPort:    cfg.Fleet.HealthPort,
		RedisHostPort: redisPort,
	}
	if err := fleet.Up(ctx, cli, spec); err != nil {
		return err
	}

	printer.Println()
	printer.Success("Fleet '%s' started with %d workers\n", name, len(starts))
	printer.Println("\nNext steps:")
	printer.Printf("  • Watch progress: REDIS_URL=redis://localhost:%d GENEGRID_INSTANCE=%s genegrid status\n", redisPort, name)
	printer.Printf("  • Stop the fleet: genegrid fleet down --name %s\n", name)
	return nil
}

// workspacePath returns the canonical absolute path of the working directory.
func workspacePath() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", cwd, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("failed to resolve symlinks in %s: %w", abs, err)
	}
	return resolved, nil
}

func runFleetDown(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	name := fleetName
	if name == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		name = cfg.Instance
	}

	cli, err := dockerpkg.NewClient(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()

	if err := fleet.Down(ctx, cli, name); err != nil {
		if errors.Is(err, fleet.ErrInstanceNotFound) {
			return fail(
				fmt.Sprintf("instance '%s' not found", name),
				"No containers or networks carry this instance name.",
				nil,
				"List fleets:\n  genegrid fleet list",
			)
		}
		return fmt.Errorf("failed to remove instance: %w", err)
	}

	printer.Success("Instance '%s' removed successfully\n", name)
	return nil
}

func runFleetList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cli, err := dockerpkg.NewClient(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()

	instances, err := fleet.List(ctx, cli)
	if err != nil {
		return err
	}

	if fleetJSON {
		if instances == nil {
			instances = []fleet.Instance{}
		}
		data, err := json.MarshalIndent(instances, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal instances: %w", err)
		}
		printer.Println(string(data))
		return nil
	}

	if len(instances) == 0 {
		printer.Println("No genegrid fleets found.")
		printer.Println()
		printer.Println("Run 'genegrid fleet up' to start one.")
		return nil
	}

	printer.Printf("%-20s %-10s %-12s %s\n", "INSTANCE", "STATUS", "COORDINATOR", "WORKERS")
	for _, inst := range instances {
		coord := inst.Coordinator
		if coord == "" {
			coord = "missing"
		}
		printer.Printf("%-20s %-10s %-12s %d/%d running\n", inst.Name, inst.Status, coord, inst.Running, inst.Workers)
	}
	return nil
}
