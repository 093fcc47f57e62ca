package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"solusiemas/api/internal/backend"
	"solusiemas/api/internal/cache"
	"solusiemas/api/internal/config"
	"solusiemas/api/internal/pricedoc"
	"solusiemas/api/internal/resolver"

	"github.com/spf13/cobra"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll the price sources and keep the cache warm",
	Long: `Resolves the configured price sources immediately and then on every
interval, storing each valid document in the cache (Redis when REDIS_URL is
set). Stops on SIGINT or SIGTERM.

Example:
  REDIS_URL=redis://localhost:6379/0 pricesync watch --interval 5m`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchInterval, "interval", resolver.DefaultPollInterval, "Time between polls")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx := cmd.Context()

	priceResolver, closeStore, err := newResolver(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	slot, _, closeCache, err := backend.OpenCache(cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	sink := &printingSink{slot: slot, out: cmd.OutOrStdout()}
	return resolver.NewPoller(priceResolver, sink, watchInterval, logger).Run(ctx)
}

// printingSink reports each refreshed document before caching it.
type printingSink struct {
	slot cache.Slot
	out  io.Writer
}

func (s *printingSink) Set(ctx context.Context, doc pricedoc.Document) error {
	line := "-"
	if price, ok := doc.Price("24"); ok {
		line = pricedoc.FormatIDR(price)
	}
	fmt.Fprintf(s.out, "%s  K24 %s\n", doc.LastUpdated, line)
	return s.slot.Set(ctx, doc)
}
