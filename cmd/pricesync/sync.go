package main

import (
	"fmt"

	"solusiemas/api/internal/backend"
	"solusiemas/api/internal/config"
	"solusiemas/api/internal/pricesync"

	"github.com/spf13/cobra"
)

func syncOnce(cmd *cobra.Command, cfg config.Config) error {
	ctx := cmd.Context()
	store, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := pricesync.New(cfg.ExternalAPIURL, store.Writer, logger).Run(ctx)
	if err != nil {
		return err
	}
	if result.Commit != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Committed:", result.Commit.CommitSHA)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Written:", result.Path)
	}
	return nil
}
