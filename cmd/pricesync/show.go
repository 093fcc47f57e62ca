package main

import (
	"context"
	"fmt"
	"io"

	"solusiemas/api/internal/backend"
	"solusiemas/api/internal/config"
	"solusiemas/api/internal/pricedoc"
	"solusiemas/api/internal/resolver"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var showFull bool

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Resolve the current prices and print them",
	Long: `Tries each configured price source in order and prints the first valid
document as a table. Sources come from PRICE_SOURCES_FILE, PRICE_SOURCES, or
the public site locations under PRICE_BASE_URL. When every source fails the
last cached document is shown and marked stale.

Example:
  PRICE_BASE_URL=https://solusiemas.example pricesync show
  PRICE_SOURCES=file:data/price.json pricesync show --full`,
	RunE: runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().BoolVar(&showFull, "full", false, "Show every karat grade from 24 down to 6")
}

func runShow(cmd *cobra.Command, args []string) error {
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

	order := pricedoc.TableOrder
	if showFull {
		order = pricedoc.KaratOrder
	}

	previous, hasPrevious, _ := slot.Get(ctx)
	res, err := priceResolver.Resolve(ctx)
	if err != nil {
		if !hasPrevious {
			return err
		}
		logger.Warn("all price sources failed, showing cached prices")
		return renderTable(cmd.OutOrStdout(), previous, nil, "cache", true, order)
	}
	_ = slot.Set(ctx, res.Document)

	var prev *pricedoc.Document
	if hasPrevious {
		prev = &previous
	}
	return renderTable(cmd.OutOrStdout(), res.Document, prev, res.Source, false, order)
}

// newResolver builds the resolver from configuration. The configured store is
// only opened when a remote backend is selected.
func newResolver(ctx context.Context, cfg config.Config) (*resolver.Resolver, func() error, error) {
	var fallback resolver.Source = resolver.FileSource{Path: cfg.DataFile}
	closeStore := func() error { return nil }
	if cfg.StoreBackend() != config.BackendLocal {
		store, err := backend.Open(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		fallback = store.Reader
		closeStore = store.Close
	}

	sources, err := backend.Sources(cfg, fallback)
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}
	return resolver.New(sources, logger), closeStore, nil
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	staleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	upStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	downStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func renderTable(w io.Writer, doc pricedoc.Document, previous *pricedoc.Document, source string, stale bool, order []string) error {
	rows := pricedoc.Table(doc, previous, order)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Karat", "Harga", "Perubahan")
	for _, row := range rows {
		t.Row(row.Label, row.Display, change(row))
	}

	updated := doc.LastUpdated
	if updated == "" {
		updated = "-"
	}
	header := titleStyle.Render("Harga emas") + "  " + updated + "  (" + source + ")"
	if stale {
		header += "  " + staleStyle.Render("STALE")
	}
	_, err := fmt.Fprintf(w, "%s\n%s\n", header, t.Render())
	return err
}

func change(row pricedoc.Row) string {
	if !row.Known {
		return "-"
	}
	delta := row.Price - row.Previous
	switch {
	case delta > 0:
		return upStyle.Render("+" + pricedoc.FormatIDR(delta))
	case delta < 0:
		return downStyle.Render("-" + pricedoc.FormatIDR(-delta))
	default:
		return "="
	}
}
