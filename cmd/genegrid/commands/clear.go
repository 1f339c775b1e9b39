package commands

import (
	"context"
	"fmt"

	"github.com/dyluth/genegrid/internal/printer"
	"github.com/dyluth/genegrid/pkg/grid"
	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Wipe the claim, score and genome columns",
	Long: `Clear every cell of the four semantic columns for the configured instance.

Running coordinators and workers are not stopped: a coordinator mid-generation
will wait forever for the scores it published. Stop it first.`,
	Args: cobra.NoArgs,
	RunE: runClear,
}

func init() {
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) error {
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

	span := cfg.Grid.Layout.Span()
	if err := store.Clear(ctx, span); err != nil {
		return fmt.Errorf("failed to clear %s: %w", span, err)
	}
	printer.Success("Cleared %s for instance '%s'\n", span, cfg.Instance)
	return nil
}
