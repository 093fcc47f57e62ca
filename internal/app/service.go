package app

import (
	"context"
	"errors"
	"net/http"

	"solusiemas/api/internal/auth"
	"solusiemas/api/internal/cache"
	"solusiemas/api/internal/config"
	"solusiemas/api/internal/pricedoc"
	"solusiemas/api/internal/publish"
	"solusiemas/api/internal/resolver"
	"solusiemas/api/internal/store"

	"go.uber.org/zap"
)

type priceWriter interface {
	Commit(ctx context.Context, doc pricedoc.Document, opts publish.CommitOptions) (publish.Result, error)
	Remote() bool
}

type priceResolver interface {
	Resolve(ctx context.Context) (resolver.Resolution, error)
}

const conflictMessage = "Someone else updated the price, reload and retry"

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	// Reader is where the published document lives: the configured store or
	// the local data file.
	Reader resolver.Source
	Writer priceWriter
	// Resolver feeds the table view. Defaults to Reader alone.
	Resolver priceResolver
	Cache    cache.Slot
	Checks   map[string]Pinger
	Logger   *zap.Logger
}

type Service struct {
	cfg          config.Config
	reader       resolver.Source
	writer       priceWriter
	resolver     priceResolver
	cache        cache.Slot
	checks       map[string]Pinger
	logger       *zap.Logger
	commitFailed string
}

type PriceTable struct {
	LastUpdated string         `json:"lastUpdated"`
	Source      string         `json:"source"`
	Stale       bool           `json:"stale"`
	Rows        []pricedoc.Row `json:"rows"`
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:          cfg,
		reader:       deps.Reader,
		writer:       deps.Writer,
		resolver:     deps.Resolver,
		cache:        deps.Cache,
		checks:       deps.Checks,
		logger:       deps.Logger,
		commitFailed: "Commit failed",
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.cache == nil {
		s.cache = cache.NewMemory()
	}
	if s.resolver == nil && s.reader != nil {
		s.resolver = resolver.New([]resolver.Source{s.reader}, s.logger)
	}
	if cfg.StoreBackend() == config.BackendGitHub {
		s.commitFailed = "GitHub commit failed"
	}
	return s
}

func (s *Service) Authorize(provided string) bool {
	return auth.Authorize(provided, s.cfg.AdminKey)
}

// CurrentPrice returns the published document exactly as stored, after
// checking that it is a usable price document.
func (s *Service) CurrentPrice(ctx context.Context) ([]byte, error) {
	raw, err := s.reader.Read(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, wrapDomainError(err, http.StatusNotFound, "NOT_FOUND", "price.json not found", nil)
	}
	if err != nil {
		return nil, wrapDomainError(err, http.StatusInternalServerError, "READ_FAILED", "Failed to read price.json", remoteDetail(err))
	}

	if _, err := pricedoc.Validate(raw); err != nil {
		if errors.Is(err, pricedoc.ErrEmpty) {
			return nil, wrapDomainError(err, http.StatusInternalServerError, "EMPTY", "price.json is empty", nil)
		}
		return nil, wrapDomainError(err, http.StatusInternalServerError, "READ_FAILED", "Failed to read price.json", err.Error())
	}
	return raw, nil
}

// UpdatePrice publishes doc and, on success, makes it the last known good
// document.
func (s *Service) UpdatePrice(ctx context.Context, doc pricedoc.Document) (publish.Result, error) {
	result, err := s.writer.Commit(ctx, doc, publish.CommitOptions{Source: "admin"})
	if err != nil {
		switch {
		case errors.Is(err, pricedoc.ErrMissingPrices):
			return publish.Result{}, wrapDomainError(err, http.StatusBadRequest, "MISSING_PRICES", "Missing prices object", nil)
		case errors.Is(err, store.ErrConflict):
			return publish.Result{}, wrapDomainError(err, http.StatusConflict, "CONFLICT", conflictMessage, remoteDetail(err))
		case errors.Is(err, publish.ErrLocalWrite):
			return publish.Result{}, wrapDomainError(err, http.StatusInternalServerError, "WRITE_FAILED", "Failed to write file", err.Error())
		default:
			return publish.Result{}, wrapDomainError(err, http.StatusInternalServerError, "COMMIT_FAILED", s.commitFailed, remoteDetail(err))
		}
	}

	if err := s.cache.Set(ctx, result.Document); err != nil {
		s.logger.Warn("cache published price failed", zap.Error(err))
	}
	return result, nil
}

// PriceTable resolves the current document and renders the table view. When
// every source fails, the cached document is served and marked stale.
func (s *Service) PriceTable(ctx context.Context) (PriceTable, error) {
	previous, hasPrevious, cacheErr := s.cache.Get(ctx)
	if cacheErr != nil {
		s.logger.Warn("read cached price failed", zap.Error(cacheErr))
	}

	res, err := s.resolver.Resolve(ctx)
	if err != nil {
		if !hasPrevious {
			return PriceTable{}, wrapDomainError(err, http.StatusServiceUnavailable, "UNAVAILABLE", "Price data unavailable", nil)
		}
		s.logger.Warn("serving cached price", zap.Error(err))
		return PriceTable{
			LastUpdated: previous.LastUpdated,
			Source:      "cache",
			Stale:       true,
			Rows:        pricedoc.Table(previous, nil, pricedoc.TableOrder),
		}, nil
	}

	if err := s.cache.Set(ctx, res.Document); err != nil {
		s.logger.Warn("cache resolved price failed", zap.Error(err))
	}
	var prev *pricedoc.Document
	if hasPrevious {
		prev = &previous
	}
	return PriceTable{
		LastUpdated: res.Document.LastUpdated,
		Source:      res.Source,
		Rows:        pricedoc.Table(res.Document, prev, pricedoc.TableOrder),
	}, nil
}

// Ready pings every configured dependency.
func (s *Service) Ready(ctx context.Context) (map[string]any, bool) {
	checks := make(map[string]any, len(s.checks))
	ready := true
	for name, dep := range s.checks {
		if err := dep.Ping(ctx); err != nil {
			ready = false
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	return checks, ready
}

func (s *Service) WriteMode() publish.Mode {
	if s.writer != nil && s.writer.Remote() {
		return publish.ModeRemote
	}
	return publish.ModeLocal
}
