package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/dyluth/genegrid/internal/config"
	"github.com/dyluth/genegrid/internal/logging"
	"github.com/dyluth/genegrid/internal/printer"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string

	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "genegrid",
	Short: "genegrid - distributed genetic algorithm evaluation over a shared grid",
	Long: `genegrid coordinates a genetic algorithm across many machines using a
shared grid as the only channel between them.

The coordinator publishes each generation's genomes into the grid and waits
until every row has been scored. Workers claim a static block of rows,
evaluate the genomes in it and write the fitness scores back.`,
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; everything it sets can come from the real environment.
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	},
	// Show help rather than silently succeeding without a subcommand
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	// Enable strict flag parsing - unknown flags will cause an error
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	err := rootCmd.Execute()
	if err != nil && !printed(err) {
		printer.Error(err.Error(), "", nil)
	}
	return err
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultFile, "Path to genegrid.yml")
}

// reportedError marks an error whose details were already written by printer.
type reportedError struct{ err error }

func (e reportedError) Error() string { return e.err.Error() }
func (e reportedError) Unwrap() error { return e.err }

func printed(err error) bool {
	var r reportedError
	return errors.As(err, &r)
}

// fail prints a formatted error report and returns it marked as printed.
func fail(title, explanation string, context map[string]string, suggestions ...string) error {
	return reportedError{printer.ErrorWithContext(title, explanation, context, suggestions)}
}

// loadConfig reads --config and reports a missing or invalid file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fail(
			fmt.Sprintf("%s not found or invalid", configPath),
			err.Error(),
			nil,
			"Initialize your project first: genegrid init",
			"Point at another file: genegrid --config path/to/genegrid.yml ...",
		)
	}
	return cfg, nil
}

// setupLogger installs the default logger described by cfg and tags it with
// the component and instance.
func setupLogger(cfg *config.Config, component string) (*slog.Logger, error) {
	logger, err := logging.Init(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise logging: %w", err)
	}
	return tagLogger(logger, cfg, component), nil
}

// tagLogger is the only place component and instance are attached; engines
// and the retry wrapper log through the tagged logger as is.
func tagLogger(logger *slog.Logger, cfg *config.Config, component string) *slog.Logger {
	return logger.With("component", component, "instance", cfg.Instance)
}
