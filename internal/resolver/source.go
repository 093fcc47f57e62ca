package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"solusiemas/api/internal/store"
)

// Source is one candidate location of the price document.
type Source interface {
	Name() string
	Read(ctx context.Context) ([]byte, error)
}

const maxBody = 1 << 20

var defaultHTTPClient = &http.Client{Timeout: 10 * time.Second}

type FileSource struct {
	Path string
}

func (s FileSource) Name() string {
	return "file:" + s.Path
}

// Read returns the file contents. A missing file matches store.ErrNotFound.
func (s FileSource) Read(ctx context.Context) ([]byte, error) {
	raw, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, s.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Path, err)
	}
	return raw, nil
}

// StatusError is a non-2xx answer from an HTTP source. A 404 matches
// store.ErrNotFound.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Status)
}

func (e *StatusError) Is(target error) bool {
	return target == store.ErrNotFound && e.Status == http.StatusNotFound
}

type HTTPSource struct {
	URL    string
	Client *http.Client
}

func (s HTTPSource) Name() string {
	return s.URL
}

// Read fetches the URL bypassing intermediate caches.
func (s HTTPSource) Read(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", s.URL, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	client := s.Client
	if client == nil {
		client = defaultHTTPClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return nil, &StatusError{URL: s.URL, Status: resp.StatusCode}
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.URL, err)
	}
	return raw, nil
}

// Fetcher is the read half of a versioned content store.
type Fetcher interface {
	Fetch(ctx context.Context, target store.Target) (store.FileMeta, error)
}

type StoreSource struct {
	Store  Fetcher
	Target store.Target
}

func (s StoreSource) Name() string {
	return "store:" + s.Target.WithDefaults().String()
}

func (s StoreSource) Read(ctx context.Context) ([]byte, error) {
	meta, err := s.Store.Fetch(ctx, s.Target.WithDefaults())
	if err != nil {
		return nil, err
	}
	return meta.Content, nil
}

// ParseSource turns a configured candidate into a Source. Accepted forms:
//
//	file:/srv/site/data/price.json   local file
//	https://example.com/price.json   absolute URL
//	/api/get-price, data/price.json  site-relative, joined against base
//
// Site-relative paths are read from disk when base is nil.
func ParseSource(spec string, base *url.URL) (Source, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("empty source")
	}
	if path, ok := strings.CutPrefix(spec, "file:"); ok {
		if path == "" {
			return nil, fmt.Errorf("source %q has no path", spec)
		}
		return FileSource{Path: path}, nil
	}

	ref, err := url.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse source %q: %w", spec, err)
	}
	switch ref.Scheme {
	case "http", "https":
		if ref.Host == "" {
			return nil, fmt.Errorf("source %q has no host", spec)
		}
		return HTTPSource{URL: ref.String()}, nil
	case "":
	default:
		return nil, fmt.Errorf("source %q: unsupported scheme %q", spec, ref.Scheme)
	}

	if base == nil {
		return FileSource{Path: spec}, nil
	}
	return HTTPSource{URL: base.ResolveReference(ref).String()}, nil
}

func ParseSources(specs []string, base *url.URL) ([]Source, error) {
	sources := make([]Source, 0, len(specs))
	for _, spec := range specs {
		src, err := ParseSource(spec, base)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}
