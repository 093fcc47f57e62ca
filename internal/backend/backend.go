// Package backend opens the price store and cache selected by configuration.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"

	"solusiemas/api/internal/cache"
	"solusiemas/api/internal/config"
	"solusiemas/api/internal/github"
	"solusiemas/api/internal/gitrepo"
	"solusiemas/api/internal/publish"
	"solusiemas/api/internal/resolver"
	"solusiemas/api/internal/store"

	"go.uber.org/zap"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Backend is the store side of the service. Store is nil in local mode.
type Backend struct {
	Name   string
	Store  publish.ContentStore
	Reader resolver.Source
	Writer *publish.Writer
	Checks map[string]Pinger

	closers []func() error
}

func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Backend, error) {
	if err := cfg.ValidateStore(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Backend{Name: cfg.StoreBackend(), Checks: map[string]Pinger{}}
	switch b.Name {
	case config.BackendGitHub:
		b.Store = github.New(cfg.GitHubToken, github.WithBaseURL(cfg.GitHubAPIURL))
	case config.BackendGit:
		if err := os.MkdirAll(cfg.GitRepoDir, 0o755); err != nil {
			return nil, fmt.Errorf("create git repo dir: %w", err)
		}
		b.Store = gitrepo.New(cfg.GitRepoDir, "")
	case config.BackendPostgres:
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := store.ApplyMigrations(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		pg := store.NewPostgresStore(db)
		b.Store = pg
		b.Checks["database"] = pg
		b.closers = append(b.closers, db.Close)
	}

	target := cfg.Target()
	if b.Store != nil {
		b.Reader = resolver.StoreSource{Store: b.Store, Target: target}
	} else {
		b.Reader = resolver.FileSource{Path: cfg.DataFile}
	}
	b.Writer = publish.New(b.Store, target, cfg.DataFile, logger)

	logger.Info("price store ready", zap.String("backend", b.Name), zap.String("target", target.String()))
	return b, nil
}

func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// OpenCache returns the Redis slot when REDIS_URL is set and an in-process
// slot otherwise. The close function is never nil.
func OpenCache(cfg config.Config) (cache.Slot, Pinger, func() error, error) {
	if cfg.RedisURL == "" {
		return cache.NewMemory(), nil, func() error { return nil }, nil
	}
	slot, err := cache.NewRedis(cfg.RedisURL, cfg.CacheKey)
	if err != nil {
		return nil, nil, nil, err
	}
	return slot, slot, slot.Close, nil
}

// Sources returns the resolver candidates: the configured list, else the
// public site locations when a base URL is set, else fallback alone.
func Sources(cfg config.Config, fallback resolver.Source) ([]resolver.Source, error) {
	var base *url.URL
	if cfg.BaseURL != "" {
		parsed, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse PRICE_BASE_URL: %w", err)
		}
		base = parsed
	}

	specs, err := cfg.SourceSpecs()
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 && base != nil {
		specs = config.DefaultSiteSources
	}
	if len(specs) == 0 {
		if fallback == nil {
			return nil, errors.New("no price sources configured")
		}
		return []resolver.Source{fallback}, nil
	}
	return resolver.ParseSources(specs, base)
}
