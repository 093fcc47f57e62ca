package store

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	DefaultBranch = "main"
	DefaultPath   = "data/price.json"
)

// Target names one file on one branch of a versioned content store.
type Target struct {
	Owner  string
	Repo   string
	Branch string
	Path   string
}

func (t Target) WithDefaults() Target {
	if strings.TrimSpace(t.Branch) == "" {
		t.Branch = DefaultBranch
	}
	if strings.TrimSpace(t.Path) == "" {
		t.Path = DefaultPath
	}
	t.Path = strings.TrimPrefix(t.Path, "/")
	return t
}

// Repository returns "owner/repo", or "local" when neither is set.
func (t Target) Repository() string {
	if t.Owner == "" && t.Repo == "" {
		return "local"
	}
	return t.Owner + "/" + t.Repo
}

func (t Target) String() string {
	return fmt.Sprintf("%s@%s:%s", t.Repository(), t.Branch, t.Path)
}

// FileMeta is the current revision of a file as reported by the store. It is
// fetched fresh for every write attempt.
type FileMeta struct {
	Path    string
	Branch  string
	SHA     string
	Content []byte
}

// CommitRequest is one conditional write. An empty SHA asks the store to
// create the file; otherwise the store rejects the write unless SHA is still
// the current revision.
type CommitRequest struct {
	Target  Target
	Message string
	Content string
	SHA     string
}

func (r CommitRequest) Creates() bool {
	return r.SHA == ""
}

func (r CommitRequest) DecodedContent() ([]byte, error) {
	content, err := base64.StdEncoding.DecodeString(r.Content)
	if err != nil {
		return nil, fmt.Errorf("decode commit content: %w", err)
	}
	return content, nil
}

// CommitResult describes the revision a store assigned to a successful write.
// ContentSHA is the new version token.
type CommitResult struct {
	Path       string `json:"path"`
	ContentSHA string `json:"contentSha"`
	CommitSHA  string `json:"commitSha"`
	CommitURL  string `json:"commitUrl,omitempty"`
	Message    string `json:"message,omitempty"`
}

// BlobSHA hashes content the way git hashes a blob object, which is also the
// sha GitHub reports for file contents.
func BlobSHA(content []byte) string {
	sum := sha1.New()
	_, _ = fmt.Fprintf(sum, "blob %d\x00", len(content))
	_, _ = sum.Write(content)
	return hex.EncodeToString(sum.Sum(nil))
}
