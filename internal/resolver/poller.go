package resolver

import (
	"context"
	"time"

	"solusiemas/api/internal/pricedoc"

	"go.uber.org/zap"
)

const DefaultPollInterval = 5 * time.Minute

// Sink receives every successfully resolved document.
type Sink interface {
	Set(ctx context.Context, doc pricedoc.Document) error
}

// Poller re-resolves on a fixed interval and keeps a sink up to date.
type Poller struct {
	resolver *Resolver
	sink     Sink
	interval time.Duration
	logger   *zap.Logger
}

func NewPoller(resolver *Resolver, sink Sink, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{resolver: resolver, sink: sink, interval: interval, logger: logger}
}

// Run polls immediately and then once per interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("price poller started", zap.Duration("interval", p.interval))
	_, _ = p.Poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("price poller stopped")
			return nil
		case <-ticker.C:
			_, _ = p.Poll(ctx)
		}
	}
}

// Poll runs one resolution and stores the result. Failures leave the sink
// untouched.
func (p *Poller) Poll(ctx context.Context) (Resolution, error) {
	res, err := p.resolver.Resolve(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("price poll failed", zap.Error(err))
		}
		return Resolution{}, err
	}
	if err := p.sink.Set(ctx, res.Document); err != nil {
		p.logger.Warn("store resolved price failed", zap.String("source", res.Source), zap.Error(err))
		return res, err
	}
	p.logger.Debug("price refreshed", zap.String("source", res.Source), zap.String("lastUpdated", res.Document.LastUpdated))
	return res, nil
}
