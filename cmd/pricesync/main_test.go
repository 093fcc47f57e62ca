package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"solusiemas/api/internal/auth"
	"solusiemas/api/internal/cache"
	"solusiemas/api/internal/config"
	"solusiemas/api/internal/pricedoc"
	"solusiemas/api/internal/pricesync"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	missing := &config.MissingError{Names: []string{"EXTERNAL_API_URL"}}
	assert.Equal(t, exitUnconfigured, exitCode(missing))
	assert.Equal(t, exitUnconfigured, exitCode(fmt.Errorf("load: %w", missing)))
	assert.Equal(t, exitSyncFailed, exitCode(pricesync.ErrUpstream))
	assert.Equal(t, exitSyncFailed, exitCode(errors.New("boom")))
	assert.Equal(t, exitUnconfigured, exitCode(&setupError{err: errors.New("bad flag")}))
}

func TestUnknownFlagExitsAsUnconfigured(t *testing.T) {
	var stderr bytes.Buffer
	rootCmd.SetArgs([]string{"--no-such-flag"})
	rootCmd.SetErr(&stderr)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetErr(nil)
	})

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-flag")
	assert.Equal(t, exitUnconfigured, exitCode(err))
}

func sampleDoc(k24 int) pricedoc.Document {
	return pricedoc.Document{
		LastUpdated: "2025-05-06T07:08:09.000Z",
		Prices:      map[string]any{"24": k24, "22": 950000},
	}
}

func TestRenderTable(t *testing.T) {
	previous := sampleDoc(1000000)
	var out bytes.Buffer
	require.NoError(t, renderTable(&out, sampleDoc(1050000), &previous, "data/price.json", false, pricedoc.TableOrder))

	text := out.String()
	assert.Contains(t, text, "2025-05-06T07:08:09.000Z")
	assert.Contains(t, text, "data/price.json")
	assert.Contains(t, text, "K24")
	assert.Contains(t, text, "Rp 1.050.000")
	assert.Contains(t, text, "+Rp 50.000")
	assert.Contains(t, text, "K6")
	assert.NotContains(t, text, "STALE")
}

func TestRenderTableStale(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, renderTable(&out, sampleDoc(1000000), nil, "cache", true, pricedoc.KaratOrder))
	assert.Contains(t, out.String(), "STALE")
	assert.Contains(t, out.String(), "K23")
}

func TestChange(t *testing.T) {
	assert.Equal(t, "-", change(pricedoc.Row{}))
	assert.Equal(t, "=", change(pricedoc.Row{Known: true, Price: 10, Previous: 10}))
	assert.Contains(t, change(pricedoc.Row{Known: true, Price: 900, Previous: 1000}), "-Rp 100")
}

func TestPrintingSink(t *testing.T) {
	slot := cache.NewMemory()
	var out bytes.Buffer
	sink := &printingSink{slot: slot, out: &out}

	require.NoError(t, sink.Set(context.Background(), sampleDoc(1050000)))
	assert.Equal(t, "2025-05-06T07:08:09.000Z  K24 Rp 1.050.000\n", out.String())

	cached, ok, err := slot.Get(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2025-05-06T07:08:09.000Z", cached.LastUpdated)
}

func TestHashKeyFromStdin(t *testing.T) {
	var out bytes.Buffer
	hashKeyCmd.SetIn(strings.NewReader("s3cret\n"))
	hashKeyCmd.SetOut(&out)
	t.Cleanup(func() {
		hashKeyCmd.SetIn(nil)
		hashKeyCmd.SetOut(nil)
	})

	require.NoError(t, runHashKey(hashKeyCmd, nil))
	hash := strings.TrimSpace(out.String())
	assert.True(t, auth.Authorize("s3cret", hash))

	hashKeyCmd.SetIn(strings.NewReader(""))
	assert.Error(t, runHashKey(hashKeyCmd, nil))
}
