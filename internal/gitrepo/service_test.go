package gitrepo

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"solusiemas/api/internal/store"
)

func commitRequest(target store.Target, sha, content string) store.CommitRequest {
	return store.CommitRequest{
		Target:  target,
		Message: "Update price.json @ test",
		Content: base64.StdEncoding.EncodeToString([]byte(content)),
		SHA:     sha,
	}
}

func TestPriceFileLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := New(filepath.Join(t.TempDir(), "prices"), "Price Bot")
	target := store.Target{Branch: "main", Path: "data/price.json"}

	if _, err := svc.Fetch(ctx, target); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Fetch() on empty repo error = %v, want ErrNotFound", err)
	}

	created, err := svc.Commit(ctx, commitRequest(target, "", `{"prices":{"24":1000000}}`))
	if err != nil {
		t.Fatalf("Commit() create error = %v", err)
	}
	if created.CommitSHA == "" || created.ContentSHA == "" {
		t.Fatalf("expected commit and content sha, got %+v", created)
	}

	meta, err := svc.Fetch(ctx, target)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if meta.SHA != created.ContentSHA {
		t.Fatalf("fetched sha = %s, want %s", meta.SHA, created.ContentSHA)
	}
	if string(meta.Content) != `{"prices":{"24":1000000}}` {
		t.Fatalf("unexpected content: %s", meta.Content)
	}

	updated, err := svc.Commit(ctx, commitRequest(target, meta.SHA, `{"prices":{"24":1050000}}`))
	if err != nil {
		t.Fatalf("Commit() update error = %v", err)
	}
	if updated.ContentSHA == created.ContentSHA {
		t.Fatal("expected a new content sha after update")
	}

	if _, err := os.Stat(filepath.Join(svc.dir, "data", "price.json")); err != nil {
		t.Fatalf("worktree file missing: %v", err)
	}
}

func TestCommitRejectsStaleAndMissingTokens(t *testing.T) {
	ctx := context.Background()
	svc := New(t.TempDir(), "")
	target := store.Target{Path: "data/price.json"}

	first, err := svc.Commit(ctx, commitRequest(target, "", `{"prices":{"24":1}}`))
	if err != nil {
		t.Fatalf("Commit() create error = %v", err)
	}
	if _, err := svc.Commit(ctx, commitRequest(target, first.ContentSHA, `{"prices":{"24":2}}`)); err != nil {
		t.Fatalf("Commit() update error = %v", err)
	}

	_, err = svc.Commit(ctx, commitRequest(target, first.ContentSHA, `{"prices":{"24":3}}`))
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("stale sha error = %v, want ErrConflict", err)
	}
	var remote *store.RemoteError
	if !errors.As(err, &remote) || remote.Status != 409 {
		t.Fatalf("expected 409 remote error, got %#v", err)
	}

	_, err = svc.Commit(ctx, commitRequest(target, "", `{"prices":{"24":4}}`))
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("create over existing file error = %v, want ErrConflict", err)
	}

	meta, err := svc.Fetch(ctx, target)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(meta.Content) != `{"prices":{"24":2}}` {
		t.Fatalf("rejected writes must not change content, got %s", meta.Content)
	}
}

func TestBranchesAreIndependent(t *testing.T) {
	ctx := context.Background()
	svc := New(t.TempDir(), "")
	main := store.Target{Branch: "main", Path: "data/price.json"}
	staging := store.Target{Branch: "staging", Path: "data/price.json"}

	if _, err := svc.Commit(ctx, commitRequest(main, "", `{"prices":{"24":1}}`)); err != nil {
		t.Fatalf("Commit() main error = %v", err)
	}
	if _, err := svc.Fetch(ctx, staging); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Fetch() staging error = %v, want ErrNotFound", err)
	}
	if _, err := svc.Commit(ctx, commitRequest(staging, "", `{"prices":{"24":2}}`)); err != nil {
		t.Fatalf("Commit() staging error = %v", err)
	}

	mainMeta, err := svc.Fetch(ctx, main)
	if err != nil {
		t.Fatalf("Fetch() main error = %v", err)
	}
	if string(mainMeta.Content) != `{"prices":{"24":1}}` {
		t.Fatalf("main content changed: %s", mainMeta.Content)
	}
}

func TestConcurrentCommitsWithSameTokenAdmitOne(t *testing.T) {
	ctx := context.Background()
	svc := New(t.TempDir(), "")
	target := store.Target{Path: "data/price.json"}

	initial, err := svc.Commit(ctx, commitRequest(target, "", `{"prices":{"24":1}}`))
	if err != nil {
		t.Fatalf("Commit() create error = %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := svc.Commit(ctx, commitRequest(target, initial.ContentSHA, fmt.Sprintf(`{"prices":{"24":%d}}`, 100+idx)))
			errCh <- err
		}(i)
	}
	wg.Wait()
	close(errCh)

	successes, conflicts := 0, 0
	for err := range errCh {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, store.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error = %v", err)
		}
	}
	if successes != 1 || conflicts != writers-1 {
		t.Fatalf("successes=%d conflicts=%d, want 1 and %d", successes, conflicts, writers-1)
	}
}

func TestSanitizeEmail(t *testing.T) {
	if got := sanitizeEmail("Price Bot_1"); got != "Price.Bot.1" {
		t.Fatalf("sanitizeEmail() = %q", got)
	}
	if got := sanitizeEmail("!!!"); got != "bot" {
		t.Fatalf("sanitizeEmail() = %q", got)
	}
}
