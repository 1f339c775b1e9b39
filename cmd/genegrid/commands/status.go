package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/dyluth/genegrid/internal/config"
	"github.com/dyluth/genegrid/internal/printer"
	"github.com/dyluth/genegrid/pkg/grid"
	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show progress of the current generation",
	Long: `Read the grid once and report how far the current generation has got:

  • Published - rows holding a genome
  • Claimed   - rows whose claim cell is set
  • Scored    - rows with a numeric fitness
  • Validated - rows with a numeric validation fitness

Use --json for machine-readable output.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(statusCmd)
}

// gridSummary counts the populated cells of each semantic column.
type gridSummary struct {
	Instance  string   `json:"instance"`
	Published int      `json:"published"`
	Claimed   int      `json:"claimed"`
	Scored    int      `json:"scored"`
	Validated int      `json:"validated"`
	Best      *float64 `json:"best_fitness,omitempty"`
}

func summarize(ctx context.Context, store grid.Store, layout grid.Layout) (gridSummary, error) {
	var s gridSummary
	m, err := store.Read(ctx, layout.Span())
	if err != nil {
		return s, fmt.Errorf("failed to read grid: %w", err)
	}

	base, _ := layout.Claim.Index()
	offset := func(c grid.Column) int {
		idx, _ := c.Index()
		return idx - base
	}
	claimCol := offset(layout.Claim)
	validationCol := offset(layout.ValidationFitness)
	fitnessCol := offset(layout.Fitness)
	genomeCol := offset(layout.Genome)

	best := math.Inf(-1)
	for row := range m {
		if m.Cell(row, genomeCol) != "" {
			s.Published++
		}
		if m.Cell(row, claimCol) != "" {
			s.Claimed++
		}
		if f, err := grid.ParseScore(m.Cell(row, fitnessCol)); err == nil {
			s.Scored++
			best = math.Max(best, f)
		}
		if _, err := grid.ParseScore(m.Cell(row, validationCol)); err == nil {
			s.Validated++
		}
	}
	if s.Scored > 0 {
		s.Best = &best
	}
	return s, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := setupLogger(cfg, "cli")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	raw, store, err := openGrid(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer grid.Close(raw)

	s, err := summarize(ctx, store, cfg.Grid.Layout)
	if err != nil {
		return err
	}
	s.Instance = cfg.Instance

	if statusJSON {
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		printer.Println(string(data))
		return nil
	}

	printStatus(cfg, s)
	return nil
}

func printStatus(cfg *config.Config, s gridSummary) {
	printer.Heading(fmt.Sprintf("Instance %s (%s grid)", s.Instance, cfg.Grid.Backend))
	if s.Published == 0 {
		printer.Warning("No genomes published. Is the coordinator running?\n")
		if s.Scored > 0 {
			printer.Info("  %d scores from the last generation are waiting to be cleared.\n", s.Scored)
		}
		return
	}

	printer.Progress("Claimed", s.Claimed, s.Published)
	printer.Progress("Scored", s.Scored, s.Published)
	printer.Progress("Validated", s.Validated, s.Published)
	if s.Best != nil {
		printer.Info("  Best fitness %s\n", grid.FormatScore(*s.Best))
	}
}
