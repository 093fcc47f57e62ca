// Package resolver finds the first usable price document among an ordered
// list of candidate sources.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"solusiemas/api/internal/pricedoc"

	"go.uber.org/zap"
)

// ErrUnavailable matches the error returned when every candidate failed.
var ErrUnavailable = errors.New("no price source available")

// Probe produces one candidate value.
type Probe[T any] func(ctx context.Context) (T, error)

type Attempt struct {
	Index  int
	Source string
	Err    error
}

// UnavailableError lists the failure of every candidate that was tried.
type UnavailableError struct {
	Attempts []Attempt
}

func (e *UnavailableError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrUnavailable.Error() + ": no candidates configured"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		name := a.Source
		if name == "" {
			name = fmt.Sprintf("#%d", a.Index)
		}
		parts = append(parts, fmt.Sprintf("%s: %v", name, a.Err))
	}
	return fmt.Sprintf("%s (%s)", ErrUnavailable, strings.Join(parts, "; "))
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

func (e *UnavailableError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// FirstValid runs probes in order and returns the first value that the probe
// produced without error and that valid accepts, along with its index. Later
// probes are not run. A nil valid accepts everything.
func FirstValid[T any](ctx context.Context, probes []Probe[T], valid func(T) error) (T, int, error) {
	var zero T
	attempts := make([]Attempt, 0, len(probes))
	for i, probe := range probes {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, Attempt{Index: i, Err: err})
			break
		}
		v, err := probe(ctx)
		if err == nil && valid != nil {
			err = valid(v)
		}
		if err == nil {
			return v, i, nil
		}
		attempts = append(attempts, Attempt{Index: i, Err: err})
	}
	return zero, -1, &UnavailableError{Attempts: attempts}
}

// Resolution is the winning document together with its exact bytes.
type Resolution struct {
	Document pricedoc.Document
	Raw      []byte
	Source   string
	Index    int
}

type Resolver struct {
	sources []Source
	logger  *zap.Logger
}

func New(sources []Source, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{sources: sources, logger: logger}
}

func (r *Resolver) Sources() []Source {
	return append([]Source(nil), r.sources...)
}

// Resolve reads each source at most once, in order, and returns the first
// one whose body validates as a price document.
func (r *Resolver) Resolve(ctx context.Context) (Resolution, error) {
	probes := make([]Probe[Resolution], len(r.sources))
	for i, src := range r.sources {
		probes[i] = func(ctx context.Context) (Resolution, error) {
			raw, err := src.Read(ctx)
			if err != nil {
				return Resolution{}, err
			}
			doc, err := pricedoc.Validate(raw)
			if err != nil {
				return Resolution{}, err
			}
			return Resolution{Document: doc, Raw: raw, Source: src.Name(), Index: i}, nil
		}
	}

	res, _, err := FirstValid(ctx, probes, nil)
	if err != nil {
		var unavailable *UnavailableError
		if errors.As(err, &unavailable) {
			for i := range unavailable.Attempts {
				a := &unavailable.Attempts[i]
				a.Source = r.sources[a.Index].Name()
				r.logger.Debug("price source failed", zap.String("source", a.Source), zap.Error(a.Err))
			}
		}
		return Resolution{}, err
	}
	if res.Index > 0 {
		r.logger.Debug("price resolved from fallback source", zap.String("source", res.Source), zap.Int("index", res.Index))
	}
	return res, nil
}
