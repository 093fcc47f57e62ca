// Package gitrepo stores price files in a local git repository. The version
// token of a file is its blob hash on the branch head, so a commit request
// carrying a stale hash is rejected the same way a git hosting API would.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"solusiemas/api/internal/store"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

type Service struct {
	dir    string
	author string
	mu     sync.Mutex
}

func New(dir, author string) *Service {
	if author == "" {
		author = "price-bot"
	}
	return &Service{dir: dir, author: author}
}

func (s *Service) Fetch(ctx context.Context, target store.Target) (store.FileMeta, error) {
	if err := ctx.Err(); err != nil {
		return store.FileMeta{}, err
	}
	target = target.WithDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return store.FileMeta{}, fmt.Errorf("%w: %s", store.ErrNotFound, target)
	}
	if err != nil {
		return store.FileMeta{}, store.NewRemoteError("fetch "+target.Path, store.ErrUnavailable, http.StatusServiceUnavailable, nil, fmt.Errorf("open repo: %w", err))
	}

	file, err := headFile(repo, target)
	if err != nil {
		return store.FileMeta{}, store.NewRemoteError("fetch "+target.Path, store.ErrUnavailable, http.StatusServiceUnavailable, nil, err)
	}
	if file == nil {
		return store.FileMeta{}, fmt.Errorf("%w: %s", store.ErrNotFound, target)
	}
	contents, err := file.Contents()
	if err != nil {
		return store.FileMeta{}, store.NewRemoteError("fetch "+target.Path, store.ErrUnavailable, http.StatusServiceUnavailable, nil, fmt.Errorf("read blob: %w", err))
	}
	return store.FileMeta{
		Path:    target.Path,
		Branch:  target.Branch,
		SHA:     file.Hash.String(),
		Content: []byte(contents),
	}, nil
}

func (s *Service) Commit(ctx context.Context, req store.CommitRequest) (store.CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return store.CommitResult{}, err
	}
	target := req.Target.WithDefaults()
	op := "commit " + target.Path

	content, err := req.DecodedContent()
	if err != nil {
		return store.CommitResult{}, store.NewRemoteError(op, store.ErrUnavailable, http.StatusUnprocessableEntity, nil, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.openOrInit()
	if err != nil {
		return store.CommitResult{}, store.NewRemoteError(op, store.ErrUnavailable, http.StatusServiceUnavailable, nil, err)
	}

	current, err := headFile(repo, target)
	if err != nil {
		return store.CommitResult{}, store.NewRemoteError(op, store.ErrUnavailable, http.StatusServiceUnavailable, nil, err)
	}
	switch {
	case current != nil && req.Creates():
		return store.CommitResult{}, store.Conflict(op, fmt.Sprintf("%s already exists; a sha is required to update it", target.Path))
	case current == nil && !req.Creates():
		return store.CommitResult{}, store.Conflict(op, fmt.Sprintf("%s does not exist at %s", target.Path, req.SHA))
	case current != nil && current.Hash.String() != req.SHA:
		return store.CommitResult{}, store.Conflict(op, fmt.Sprintf("%s does not match %s", target.Path, req.SHA))
	}

	hash, err := s.commit(repo, target, content, req.Message)
	if err != nil {
		return store.CommitResult{}, store.NewRemoteError(op, store.ErrUnavailable, http.StatusInternalServerError, nil, err)
	}

	return store.CommitResult{
		Path:       target.Path,
		ContentSHA: store.BlobSHA(content),
		CommitSHA:  hash.String(),
		Message:    req.Message,
	}, nil
}

func (s *Service) openOrInit() (*git.Repository, error) {
	repo, err := git.PlainOpen(s.dir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(s.dir, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) commit(repo *git.Repository, target store.Target, content []byte, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	if err := checkoutBranch(repo, worktree, target.Branch); err != nil {
		return plumbing.ZeroHash, err
	}

	fullPath := filepath.Join(worktree.Filesystem.Root(), filepath.FromSlash(target.Path))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("create file dir: %w", err)
	}
	if err := os.WriteFile(fullPath, content, 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", target.Path, err)
	}
	if _, err := worktree.Add(target.Path); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add %s: %w", target.Path, err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  s.author,
			Email: fmt.Sprintf("%s@local.solusiemas", sanitizeEmail(s.author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit %s: %w", target.Path, err)
	}
	return hash, nil
}

// headFile returns the file at the head of the target branch, or nil when the
// branch or the file does not exist yet.
func headFile(repo *git.Repository, target store.Target) (*object.File, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(target.Branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", target.Branch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	file, err := commitObj.File(target.Path)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", target.Path, err)
	}
	return file, nil
}

func checkoutBranch(repo *git.Repository, worktree *git.Worktree, branchName string) error {
	branchRef := plumbing.NewBranchReferenceName(branchName)

	if _, err := repo.Head(); errors.Is(err, plumbing.ErrReferenceNotFound) {
		// Unborn repository: the first commit lands on whatever HEAD names.
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branchRef)); err != nil {
			return fmt.Errorf("point HEAD at %s: %w", branchName, err)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("resolve HEAD: %w", err)
	}

	if _, err := repo.Reference(branchRef, true); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Create: true}); err != nil {
				return fmt.Errorf("create branch checkout %s: %w", branchName, err)
			}
			return nil
		}
		return fmt.Errorf("resolve branch %s: %w", branchName, err)
	}

	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
		return fmt.Errorf("checkout branch %s: %w", branchName, err)
	}
	return nil
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "bot"
	}
	return string(out)
}
