package github

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"solusiemas/api/internal/github/githubtest"
	"solusiemas/api/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var target = store.Target{Owner: "acme", Repo: "site", Branch: "main", Path: "data/price.json"}

func encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestFetchMissingFileIsNotFound(t *testing.T) {
	srv := githubtest.NewServer(t, "tok")
	client := New("tok", WithBaseURL(srv.URL))

	_, err := client.Fetch(context.Background(), target)
	require.ErrorIs(t, err, store.ErrNotFound)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/repos/acme/site/contents/data/price.json", reqs[0].Path)
	assert.Equal(t, "main", reqs[0].Ref)
	assert.Equal(t, "token tok", reqs[0].Authorization)
	assert.Equal(t, DefaultUserAgent, reqs[0].UserAgent)
}

func TestFetchDecodesWrappedContent(t *testing.T) {
	srv := githubtest.NewServer(t, "tok")
	long := `{"prices":{"24":1000000,"23":958000,"22":916000,"21":875000,"20":833000,"18":750000}}`
	sha := srv.Seed("main", "data/price.json", []byte(long))
	client := New("tok", WithBaseURL(srv.URL))

	meta, err := client.Fetch(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, sha, meta.SHA)
	assert.Equal(t, long, string(meta.Content))
}

func TestCommitCreatesWithoutSHA(t *testing.T) {
	srv := githubtest.NewServer(t, "tok")
	client := New("tok", WithBaseURL(srv.URL))

	result, err := client.Commit(context.Background(), store.CommitRequest{
		Target:  target,
		Message: "Update price.json via admin @ 2025-01-01T00:00:00.000Z",
		Content: encode(`{"prices":{"24":1}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, store.BlobSHA([]byte(`{"prices":{"24":1}}`)), result.ContentSHA)
	assert.NotEmpty(t, result.CommitSHA)
	assert.Contains(t, result.CommitURL, "/acme/site/commit/")

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	_, hasSHA := reqs[0].Body["sha"]
	assert.False(t, hasSHA, "create must not send a sha")
	assert.Equal(t, "main", reqs[0].Body["branch"])
}

func TestCommitConflicts(t *testing.T) {
	srv := githubtest.NewServer(t, "tok")
	srv.Seed("main", "data/price.json", []byte(`{"prices":{"24":1}}`))
	client := New("tok", WithBaseURL(srv.URL))
	ctx := context.Background()

	_, err := client.Commit(ctx, store.CommitRequest{Target: target, Message: "m", Content: encode(`{}`), SHA: "stale"})
	require.ErrorIs(t, err, store.ErrConflict)
	var remote *store.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusConflict, remote.Status)
	assert.Contains(t, string(remote.Body), "does not match")

	_, err = client.Commit(ctx, store.CommitRequest{Target: target, Message: "m", Content: encode(`{}`)})
	require.ErrorIs(t, err, store.ErrConflict, "create over an existing file is a lost race")
}

func TestBadCredentialsAreUnavailable(t *testing.T) {
	srv := githubtest.NewServer(t, "tok")
	client := New("wrong", WithBaseURL(srv.URL))

	_, err := client.Fetch(context.Background(), target)
	require.ErrorIs(t, err, store.ErrUnavailable)
	assert.False(t, errors.Is(err, store.ErrNotFound))

	var remote *store.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusUnauthorized, remote.Status)
	assert.JSONEq(t, `{"message":"Bad credentials"}`, string(remote.Body))
}

func TestNonJSONErrorBodyIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()
	client := New("tok", WithBaseURL(srv.URL))

	_, err := client.Commit(context.Background(), store.CommitRequest{Target: target, Message: "m", Content: encode(`{}`), SHA: "abc"})
	var remote *store.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.JSONEq(t, `{"raw":"upstream exploded"}`, string(remote.Body))
}

func TestTransportErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	_, err := New("tok", WithBaseURL(baseURL)).Fetch(context.Background(), target)
	require.ErrorIs(t, err, store.ErrUnavailable)
}
