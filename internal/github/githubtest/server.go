// Package githubtest provides an in-memory GitHub contents API for tests.
package githubtest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"solusiemas/api/internal/store"
)

// Request is what the server saw for one API call.
type Request struct {
	Method        string
	Path          string
	Ref           string
	Authorization string
	UserAgent     string
	Body          map[string]any
}

type file struct {
	content []byte
	sha     string
}

// Server checks sha preconditions the way the real contents API does:
// updates need the current sha, creates must omit it.
type Server struct {
	*httptest.Server

	token    string
	mu       sync.Mutex
	files    map[string]file
	requests []Request
	commits  int
}

func NewServer(t testing.TB, token string) *Server {
	t.Helper()
	s := &Server{token: token, files: make(map[string]file)}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}/contents/{path...}", s.handleGet)
	mux.HandleFunc("PUT /repos/{owner}/{repo}/contents/{path...}", s.handlePut)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Seed stores content on a branch and returns its sha.
func (s *Server) Seed(branch, path string, content []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sha := store.BlobSHA(content)
	s.files[key(branch, path)] = file{content: append([]byte(nil), content...), sha: sha}
	return sha
}

func (s *Server) File(branch, path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[key(branch, path)]
	return f.content, ok
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) record(r *http.Request, body map[string]any) {
	s.requests = append(s.requests, Request{
		Method:        r.Method,
		Path:          r.URL.Path,
		Ref:           r.URL.Query().Get("ref"),
		Authorization: r.Header.Get("Authorization"),
		UserAgent:     r.Header.Get("User-Agent"),
		Body:          body,
	})
}

func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	if s.token == "" || r.Header.Get("Authorization") == "token "+s.token {
		return true
	}
	writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Bad credentials"})
	return false
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(r, nil)
	if !s.authorized(w, r) {
		return
	}

	path := r.PathValue("path")
	branch := r.URL.Query().Get("ref")
	if branch == "" {
		branch = store.DefaultBranch
	}
	f, ok := s.files[key(branch, path)]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":     "file",
		"path":     path,
		"sha":      f.sha,
		"encoding": "base64",
		"content":  wrap(base64.StdEncoding.EncodeToString(f.content), 60),
	})
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var body struct {
		Message string `json:"message"`
		Content string `json:"content"`
		Branch  string `json:"branch"`
		SHA     string `json:"sha"`
	}
	payload, _ := io.ReadAll(r.Body)
	raw := map[string]any{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		s.record(r, nil)
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Problems parsing JSON"})
		return
	}
	s.record(r, raw)
	if !s.authorized(w, r) {
		return
	}
	_ = json.Unmarshal(payload, &body)

	content, err := base64.StdEncoding.DecodeString(body.Content)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": "content is not valid Base64"})
		return
	}
	branch := body.Branch
	if branch == "" {
		branch = store.DefaultBranch
	}
	path := r.PathValue("path")
	k := key(branch, path)
	current, exists := s.files[k]

	switch {
	case exists && body.SHA == "":
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": "Invalid request.\n\n\"sha\" wasn't supplied."})
		return
	case body.SHA != "" && (!exists || current.sha != body.SHA):
		writeJSON(w, http.StatusConflict, map[string]any{"message": fmt.Sprintf("%s does not match %s", path, body.SHA)})
		return
	}

	sha := store.BlobSHA(content)
	s.files[k] = file{content: content, sha: sha}
	s.commits++
	commitSHA := store.BlobSHA([]byte(fmt.Sprintf("commit %d %s", s.commits, sha)))

	status := http.StatusOK
	if !exists {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"content": map[string]any{"path": path, "sha": sha},
		"commit": map[string]any{
			"sha":      commitSHA,
			"html_url": fmt.Sprintf("https://github.test/%s/%s/commit/%s", r.PathValue("owner"), r.PathValue("repo"), commitSHA),
			"message":  body.Message,
		},
	})
}

func key(branch, path string) string {
	return branch + ":" + strings.TrimPrefix(path, "/")
}

func wrap(s string, width int) string {
	var b strings.Builder
	for len(s) > width {
		b.WriteString(s[:width])
		b.WriteByte('\n')
		s = s[width:]
	}
	b.WriteString(s)
	return b.String()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
