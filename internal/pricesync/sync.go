// Package pricesync pulls prices from an upstream API and publishes them.
package pricesync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"solusiemas/api/internal/pricedoc"
	"solusiemas/api/internal/publish"
	"solusiemas/api/internal/store"

	"go.uber.org/zap"
)

// Source is stamped on every document the sync job publishes.
const Source = "external-api"

// ErrUpstream matches failures to fetch or decode the upstream payload.
var ErrUpstream = errors.New("upstream price fetch failed")

type committer interface {
	Commit(ctx context.Context, doc pricedoc.Document, opts publish.CommitOptions) (publish.Result, error)
	Target() store.Target
}

type Syncer struct {
	upstream string
	client   *http.Client
	writer   committer
	now      func() time.Time
	logger   *zap.Logger
}

func New(upstream string, writer committer, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		upstream: upstream,
		client:   &http.Client{Timeout: 30 * time.Second},
		writer:   writer,
		now:      time.Now,
		logger:   logger,
	}
}

func (s *Syncer) WithClock(now func() time.Time) *Syncer {
	s.now = now
	return s
}

func (s *Syncer) WithHTTPClient(client *http.Client) *Syncer {
	if client != nil {
		s.client = client
	}
	return s
}

// Run fetches the upstream once and commits the mapped document. Nothing is
// retried.
func (s *Syncer) Run(ctx context.Context) (publish.Result, error) {
	s.logger.Info("fetching upstream prices", zap.String("url", s.upstream))
	payload, err := s.fetch(ctx)
	if err != nil {
		return publish.Result{}, err
	}

	now := s.now()
	doc, whole, err := MapPayload(payload, s.upstream, now)
	if err != nil {
		return publish.Result{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	if whole {
		s.logger.Warn("upstream payload has no prices field, publishing it whole", zap.String("url", s.upstream))
	}

	message := fmt.Sprintf("Auto-update %s from %s @ %s",
		path.Base(s.writer.Target().Path), s.upstream, now.UTC().Format(pricedoc.TimeLayout))
	result, err := s.writer.Commit(ctx, doc, publish.CommitOptions{Message: message, Source: Source})
	if err != nil {
		return publish.Result{}, err
	}
	if result.Commit != nil {
		s.logger.Info("prices synced", zap.String("commit", result.Commit.CommitSHA))
	}
	return result, nil
}

func (s *Syncer) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.upstream, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	return body, nil
}

// MapPayload builds the published document from an upstream payload. A
// "prices" object is used as is; when the field is absent or null the whole
// payload is taken as the prices mapping and whole is true.
func MapPayload(raw []byte, upstream string, now time.Time) (doc pricedoc.Document, whole bool, err error) {
	decoder := json.NewDecoder(bytes.NewReader(bytes.TrimSpace(raw)))
	decoder.UseNumber()
	var payload map[string]any
	if err := decoder.Decode(&payload); err != nil || payload == nil {
		return pricedoc.Document{}, false, fmt.Errorf("%w: upstream payload is not a JSON object", pricedoc.ErrMalformed)
	}

	prices := payload
	switch value := payload["prices"].(type) {
	case nil:
		whole = true
		delete(prices, "prices")
	case map[string]any:
		prices = value
	default:
		return pricedoc.Document{}, false, fmt.Errorf("%w: upstream prices is %T", pricedoc.ErrMissingPrices, value)
	}

	return pricedoc.Document{
		Prices:      prices,
		LastUpdated: now.UTC().Format(pricedoc.TimeLayout),
		Source:      Source,
		Meta:        map[string]any{"source": upstream},
	}, whole, nil
}
