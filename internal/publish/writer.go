// Package publish writes price documents, either as a conditional commit to
// a versioned content store or, when none is configured, to a local file.
package publish

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"solusiemas/api/internal/pricedoc"
	"solusiemas/api/internal/store"

	"go.uber.org/zap"
)

// ErrLocalWrite matches failures of the local file fallback.
var ErrLocalWrite = errors.New("local price file write failed")

// ContentStore is a versioned file store with optimistic concurrency. Fetch
// reports a missing file with store.ErrNotFound; Commit rejects a stale or
// missing sha with store.ErrConflict.
type ContentStore interface {
	Fetch(ctx context.Context, target store.Target) (store.FileMeta, error)
	Commit(ctx context.Context, req store.CommitRequest) (store.CommitResult, error)
}

type Mode string

const (
	ModeRemote Mode = "remote"
	ModeLocal  Mode = "local"
)

type Result struct {
	Mode     Mode
	Document pricedoc.Document
	Commit   *store.CommitResult
	Created  bool
	Path     string
}

type CommitOptions struct {
	// Message overrides the default commit message. It should carry a
	// timestamp.
	Message string
	// Source is stamped on documents that arrive without one.
	Source string
}

type Writer struct {
	store     ContentStore
	target    store.Target
	localPath string
	now       func() time.Time
	logger    *zap.Logger
}

// New returns a writer that commits to contentStore, or writes localPath when
// contentStore is nil.
func New(contentStore ContentStore, target store.Target, localPath string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		store:     contentStore,
		target:    target.WithDefaults(),
		localPath: localPath,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock replaces the time source used for stamping and messages.
func (w *Writer) WithClock(now func() time.Time) *Writer {
	w.now = now
	return w
}

func (w *Writer) Remote() bool {
	return w.store != nil
}

func (w *Writer) Target() store.Target {
	return w.target
}

func (w *Writer) LocalPath() string {
	return w.localPath
}

// Commit stamps, serializes and writes doc. Remote writes fetch the current
// version token, then submit exactly one conditional commit; a conflict or
// any other failure is returned to the caller without retrying.
func (w *Writer) Commit(ctx context.Context, doc pricedoc.Document, opts CommitOptions) (Result, error) {
	if doc.Prices == nil {
		return Result{}, pricedoc.ErrMissingPrices
	}
	source := opts.Source
	if source == "" {
		source = "admin"
	}
	now := w.now()
	doc = doc.WithDefaults(now, source)

	content, err := pricedoc.Encode(doc)
	if err != nil {
		return Result{}, err
	}

	if w.store == nil {
		return w.writeLocal(doc, content)
	}

	sha := ""
	meta, err := w.store.Fetch(ctx, w.target)
	switch {
	case err == nil:
		sha = meta.SHA
	case errors.Is(err, store.ErrNotFound):
	default:
		w.logger.Warn("fetch current price file failed", zap.String("target", w.target.String()), zap.Error(err))
		return Result{}, fmt.Errorf("fetch current %s: %w", w.target.Path, err)
	}

	message := opts.Message
	if message == "" {
		message = DefaultMessage(w.target.Path, doc.Source, now)
	}

	commit, err := w.store.Commit(ctx, BuildCommitRequest(w.target, sha, content, message))
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			w.logger.Warn("price file changed since it was read", zap.String("target", w.target.String()), zap.String("sha", sha))
		} else {
			w.logger.Error("commit price file failed", zap.String("target", w.target.String()), zap.Error(err))
		}
		return Result{}, fmt.Errorf("commit %s: %w", w.target.Path, err)
	}

	w.logger.Info("price file committed",
		zap.String("target", w.target.String()),
		zap.String("commit", commit.CommitSHA),
		zap.String("sha", commit.ContentSHA),
		zap.Bool("created", sha == ""),
	)
	return Result{Mode: ModeRemote, Document: doc, Commit: &commit, Created: sha == ""}, nil
}

// BuildCommitRequest maps a version token and new content to a commit
// request. An empty sha yields a create.
func BuildCommitRequest(target store.Target, sha string, content []byte, message string) store.CommitRequest {
	return store.CommitRequest{
		Target:  target.WithDefaults(),
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		SHA:     sha,
	}
}

func DefaultMessage(filePath, source string, at time.Time) string {
	return fmt.Sprintf("Update %s via %s @ %s", path.Base(filePath), source, at.UTC().Format(pricedoc.TimeLayout))
}

// writeLocal replaces the local file. There is no concurrency protection:
// the last writer wins.
func (w *Writer) writeLocal(doc pricedoc.Document, content []byte) (Result, error) {
	if w.localPath == "" {
		return Result{}, fmt.Errorf("%w: no local path configured", ErrLocalWrite)
	}
	dir := filepath.Dir(w.localPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("%w: create %s: %v", ErrLocalWrite, dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".price-*.json")
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrLocalWrite, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return Result{}, fmt.Errorf("%w: %v", ErrLocalWrite, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return Result{}, fmt.Errorf("%w: %v", ErrLocalWrite, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return Result{}, fmt.Errorf("%w: %v", ErrLocalWrite, err)
	}
	if err := os.Rename(tmpName, w.localPath); err != nil {
		_ = os.Remove(tmpName)
		return Result{}, fmt.Errorf("%w: %v", ErrLocalWrite, err)
	}

	w.logger.Info("price file written locally", zap.String("path", w.localPath))
	return Result{Mode: ModeLocal, Document: doc, Path: w.localPath}, nil
}
