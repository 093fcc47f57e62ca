package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"solusiemas/api/internal/config"
	"solusiemas/api/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	exitUnconfigured = 1
	exitSyncFailed   = 2
)

var (
	verbose bool
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pricesync",
	Short: "Publish gold prices from the upstream API",
	Long: `Fetches EXTERNAL_API_URL once and commits the result as data/price.json.

Required environment:
  EXTERNAL_API_URL   upstream price endpoint
  REPO_OWNER         repository owner (or GITHUB_OWNER)
  REPO_NAME          repository name (or GITHUB_REPO)
  GITHUB_TOKEN       token with contents:write
  BRANCH             target branch, default main

Set PRICE_STORE_BACKEND=git or postgres to publish elsewhere.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "info"
		if verbose {
			level = "debug"
		}
		var err error
		logger, err = logging.New(level)
		if err != nil {
			return &setupError{err: fmt.Errorf("failed to initialize logger: %w", err)}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runSync,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &setupError{err: err}
	})
}

// setupError marks failures that happen before any work starts, such as bad
// flags. They exit like missing configuration.
type setupError struct {
	err error
}

func (e *setupError) Error() string { return e.err.Error() }

func (e *setupError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var missing *config.MissingError
	var setup *setupError
	if errors.As(err, &missing) || errors.As(err, &setup) {
		return exitUnconfigured
	}
	return exitSyncFailed
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if err := cfg.ValidateSync(); err != nil {
		return err
	}
	return syncOnce(cmd, cfg)
}
