package resolver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"solusiemas/api/internal/cache"
	"solusiemas/api/internal/gitrepo"
	"solusiemas/api/internal/pricedoc"
	"solusiemas/api/internal/store"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

const validBody = `{"prices":{"24":1050000,"22":962500},"lastUpdated":"2025-01-02T03:04:05.000Z"}`

type countingServer struct {
	*httptest.Server
	hits    atomic.Int32
	headers atomic.Pointer[http.Header]
}

func serve(t *testing.T, status int, body string) *countingServer {
	t.Helper()
	cs := &countingServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)
		h := r.Header.Clone()
		cs.headers.Store(&h)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(cs.Close)
	return cs
}

func TestFirstValidStopsAtFirstSuccess(t *testing.T) {
	var calls []int
	probe := func(i int, v string, err error) Probe[string] {
		return func(context.Context) (string, error) {
			calls = append(calls, i)
			return v, err
		}
	}

	v, idx, err := FirstValid(context.Background(), []Probe[string]{
		probe(0, "", errors.New("down")),
		probe(1, "bad", nil),
		probe(2, "good", nil),
		probe(3, "never", nil),
	}, func(s string) error {
		if s == "bad" {
			return errors.New("rejected")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "good", v)
	assert.Equal(t, 2, idx)
	assert.Equal(t, []int{0, 1, 2}, calls)
}

func TestFirstValidAllFailing(t *testing.T) {
	boom := errors.New("boom")
	_, idx, err := FirstValid(context.Background(), []Probe[int]{
		func(context.Context) (int, error) { return 0, boom },
		func(context.Context) (int, error) { return 0, boom },
	}, nil)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, -1, idx)

	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Len(t, unavailable.Attempts, 2)
}

func TestFirstValidEmptyList(t *testing.T) {
	_, _, err := FirstValid[int](context.Background(), nil, nil)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestFirstValidCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, _, err := FirstValid(ctx, []Probe[int]{
		func(context.Context) (int, error) { called = true; return 1, nil },
	}, nil)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestResolveFallsBackInOrder(t *testing.T) {
	failing := serve(t, http.StatusInternalServerError, `{"error":"down"}`)
	good := serve(t, http.StatusOK, validBody)
	never := serve(t, http.StatusOK, validBody)

	r := New([]Source{
		HTTPSource{URL: failing.URL},
		HTTPSource{URL: good.URL},
		HTTPSource{URL: never.URL},
	}, nil)

	res, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Index)
	assert.Equal(t, good.URL, res.Source)
	assert.Equal(t, validBody, string(res.Raw))
	price, _ := res.Document.Price("24")
	assert.Equal(t, int64(1050000), price)

	assert.EqualValues(t, 1, failing.hits.Load())
	assert.EqualValues(t, 1, good.hits.Load())
	assert.EqualValues(t, 0, never.hits.Load())
}

func TestResolveSkipsInvalidBodies(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}

	r := New([]Source{
		FileSource{Path: filepath.Join(dir, "missing.json")},
		FileSource{Path: write("blank.json", "  \n\t")},
		FileSource{Path: write("broken.json", "{")},
		FileSource{Path: write("noprices.json", `{"prices":[1,2]}`)},
		FileSource{Path: write("good.json", validBody)},
	}, nil)

	res, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Index)
}

func TestResolveAllFailing(t *testing.T) {
	empty := serve(t, http.StatusOK, "")
	notFound := serve(t, http.StatusNotFound, "")

	r := New([]Source{
		HTTPSource{URL: empty.URL},
		HTTPSource{URL: notFound.URL},
	}, nil)

	_, err := r.Resolve(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, pricedoc.ErrEmpty)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Contains(t, err.Error(), notFound.URL)
}

func TestHTTPSourceBypassesCaches(t *testing.T) {
	srv := serve(t, http.StatusOK, validBody)

	_, err := HTTPSource{URL: srv.URL}.Read(context.Background())
	require.NoError(t, err)

	h := srv.headers.Load()
	require.NotNil(t, h)
	assert.Equal(t, "no-cache", h.Get("Cache-Control"))
	assert.Equal(t, "no-cache", h.Get("Pragma"))
}

func TestFileSourceMissingIsNotFound(t *testing.T) {
	_, err := FileSource{Path: filepath.Join(t.TempDir(), "price.json")}.Read(context.Background())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStoreSourceReadsCommittedContent(t *testing.T) {
	repo := gitrepo.New(t.TempDir(), "")
	target := store.Target{Branch: "main", Path: "data/price.json"}
	ctx := context.Background()

	src := StoreSource{Store: repo, Target: target}
	_, err := src.Read(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = repo.Commit(ctx, store.CommitRequest{
		Target:  target,
		Message: "seed",
		Content: "eyJwcmljZXMiOnsiMjQiOjF9fQ==",
	})
	require.NoError(t, err)

	raw, err := src.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"prices":{"24":1}}`, string(raw))
	assert.Equal(t, "store:local@main:data/price.json", src.Name())
}

func TestParseSource(t *testing.T) {
	base, err := url.Parse("https://solusiemas.test/")
	require.NoError(t, err)

	tests := []struct {
		spec string
		base *url.URL
		want Source
	}{
		{"file:/srv/data/price.json", base, FileSource{Path: "/srv/data/price.json"}},
		{"https://cdn.test/price.json?v=1", base, HTTPSource{URL: "https://cdn.test/price.json?v=1"}},
		{"/data/price.json", base, HTTPSource{URL: "https://solusiemas.test/data/price.json"}},
		{"data/price.json", base, HTTPSource{URL: "https://solusiemas.test/data/price.json"}},
		{"/.netlify/functions/get-price", base, HTTPSource{URL: "https://solusiemas.test/.netlify/functions/get-price"}},
		{"/api/get-price", base, HTTPSource{URL: "https://solusiemas.test/api/get-price"}},
		{"data/price.json", nil, FileSource{Path: "data/price.json"}},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseSource(tt.spec, tt.base)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("ParseSource(%q) mismatch (-want +got):\n%s", tt.spec, diff)
			}
		})
	}

	for _, bad := range []string{"", "   ", "file:", "ftp://x/y", "https:///nohost"} {
		_, err := ParseSource(bad, base)
		assert.Error(t, err, bad)
	}
}

func TestPollUpdatesSinkOnlyOnSuccess(t *testing.T) {
	good := serve(t, http.StatusOK, validBody)
	slot := cache.NewMemory()
	ctx := context.Background()

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	failing := NewPoller(New([]Source{HTTPSource{URL: closed.URL}}, nil), slot, time.Minute, nil)

	_, err := failing.Poll(ctx)
	require.ErrorIs(t, err, ErrUnavailable)
	_, ok, _ := slot.Get(ctx)
	assert.False(t, ok)

	healthy := NewPoller(New([]Source{HTTPSource{URL: good.URL}}, nil), slot, time.Minute, nil)
	_, err = healthy.Poll(ctx)
	require.NoError(t, err)
	doc, ok, _ := slot.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, "2025-01-02T03:04:05.000Z", doc.LastUpdated)

	_, err = failing.Poll(ctx)
	require.Error(t, err)
	doc, ok, _ = slot.Get(ctx)
	require.True(t, ok, "failure keeps the last good document")
	assert.Equal(t, "2025-01-02T03:04:05.000Z", doc.LastUpdated)
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	srv := serve(t, http.StatusOK, validBody)
	slot := cache.NewMemory()
	p := NewPoller(New([]Source{HTTPSource{URL: srv.URL}}, nil), slot, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return srv.hits.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
	_, ok, _ := slot.Get(context.Background())
	assert.True(t, ok)
}
