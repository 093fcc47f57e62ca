// Package github talks to the GitHub repository contents API.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"solusiemas/api/internal/store"
)

const (
	DefaultBaseURL   = "https://api.github.com"
	DefaultUserAgent = "solusiemas-updater"
	acceptHeader     = "application/vnd.github.v3+json"
)

// Client implements Fetch and Commit against /repos/{owner}/{repo}/contents.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if strings.TrimSpace(baseURL) != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		if userAgent != "" {
			c.userAgent = userAgent
		}
	}
}

func New(token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		token:      token,
		userAgent:  DefaultUserAgent,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type contentResponse struct {
	Type     string `json:"type"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

type putResponse struct {
	Content struct {
		Path string `json:"path"`
		SHA  string `json:"sha"`
	} `json:"content"`
	Commit struct {
		SHA     string `json:"sha"`
		HTMLURL string `json:"html_url"`
		Message string `json:"message"`
	} `json:"commit"`
}

// Fetch returns the current revision of the target file. A 404 matches
// store.ErrNotFound so callers can treat the next commit as a creation.
func (c *Client) Fetch(ctx context.Context, target store.Target) (store.FileMeta, error) {
	target = target.WithDefaults()
	op := "fetch " + target.Path

	endpoint := c.contentsURL(target) + "?ref=" + url.QueryEscape(target.Branch)
	status, body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return store.FileMeta{}, store.NewRemoteError(op, store.ErrUnavailable, 0, nil, err)
	}
	if status == http.StatusNotFound {
		return store.FileMeta{}, store.NewRemoteError(op, store.ErrNotFound, status, body, nil)
	}
	if status < 200 || status >= 300 {
		return store.FileMeta{}, store.NewRemoteError(op, store.ErrUnavailable, status, body, nil)
	}

	var payload contentResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return store.FileMeta{}, store.NewRemoteError(op, store.ErrUnavailable, status, body, fmt.Errorf("decode contents response: %w", err))
	}
	if payload.SHA == "" {
		return store.FileMeta{}, store.NewRemoteError(op, store.ErrUnavailable, status, body, fmt.Errorf("contents response for %s has no sha", target.Path))
	}

	meta := store.FileMeta{Path: target.Path, Branch: target.Branch, SHA: payload.SHA}
	if payload.Encoding == "base64" && payload.Content != "" {
		// The API wraps base64 content at 60 columns.
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(payload.Content, "\n", ""))
		if err != nil {
			return store.FileMeta{}, store.NewRemoteError(op, store.ErrUnavailable, status, body, fmt.Errorf("decode file content: %w", err))
		}
		meta.Content = decoded
	}
	return meta, nil
}

// Commit creates or updates the target file. A 409, or a 422 on a create,
// means another writer got there first and matches store.ErrConflict.
func (c *Client) Commit(ctx context.Context, req store.CommitRequest) (store.CommitResult, error) {
	target := req.Target.WithDefaults()
	op := "commit " + target.Path

	payload, err := json.Marshal(putRequest{
		Message: req.Message,
		Content: req.Content,
		Branch:  target.Branch,
		SHA:     req.SHA,
	})
	if err != nil {
		return store.CommitResult{}, fmt.Errorf("marshal commit request: %w", err)
	}

	status, body, err := c.do(ctx, http.MethodPut, c.contentsURL(target), payload)
	if err != nil {
		return store.CommitResult{}, store.NewRemoteError(op, store.ErrUnavailable, 0, nil, err)
	}
	switch {
	case status == http.StatusConflict,
		status == http.StatusUnprocessableEntity && req.Creates():
		return store.CommitResult{}, store.NewRemoteError(op, store.ErrConflict, status, body, nil)
	case status < 200 || status >= 300:
		return store.CommitResult{}, store.NewRemoteError(op, store.ErrUnavailable, status, body, nil)
	}

	var decoded putResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return store.CommitResult{}, store.NewRemoteError(op, store.ErrUnavailable, status, body, fmt.Errorf("decode commit response: %w", err))
	}
	return store.CommitResult{
		Path:       target.Path,
		ContentSHA: decoded.Content.SHA,
		CommitSHA:  decoded.Commit.SHA,
		CommitURL:  decoded.Commit.HTMLURL,
		Message:    decoded.Commit.Message,
	}, nil
}

func (c *Client) contentsURL(target store.Target) string {
	segments := strings.Split(target.Path, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		c.baseURL,
		url.PathEscape(target.Owner),
		url.PathEscape(target.Repo),
		strings.Join(segments, "/"),
	)
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", acceptHeader)
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}
