package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
)

// PostgresStore keeps versioned files in the price_files table. Writes are
// conditional on the stored sha, which gives the same optimistic concurrency
// as a git hosting contents API.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Fetch(ctx context.Context, target Target) (FileMeta, error) {
	target = target.WithDefaults()

	var meta FileMeta
	err := s.db.QueryRowContext(ctx, `
		SELECT content, sha
		FROM price_files
		WHERE repo=$1 AND branch=$2 AND path=$3
	`, target.Repository(), target.Branch, target.Path).Scan(&meta.Content, &meta.SHA)
	if errors.Is(err, sql.ErrNoRows) {
		return FileMeta{}, fmt.Errorf("%w: %s", ErrNotFound, target)
	}
	if err != nil {
		return FileMeta{}, NewRemoteError("fetch "+target.Path, ErrUnavailable, http.StatusServiceUnavailable, nil, err)
	}
	meta.Path = target.Path
	meta.Branch = target.Branch
	return meta, nil
}

func (s *PostgresStore) Commit(ctx context.Context, req CommitRequest) (CommitResult, error) {
	target := req.Target.WithDefaults()
	op := "commit " + target.Path

	content, err := req.DecodedContent()
	if err != nil {
		return CommitResult{}, NewRemoteError(op, ErrUnavailable, http.StatusUnprocessableEntity, nil, err)
	}
	sha := BlobSHA(content)

	var revision int64
	if req.Creates() {
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO price_files (repo, branch, path, content, sha, message)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (repo, branch, path) DO NOTHING
			RETURNING revision
		`, target.Repository(), target.Branch, target.Path, content, sha, req.Message).Scan(&revision)
		if errors.Is(err, sql.ErrNoRows) {
			return CommitResult{}, Conflict(op, fmt.Sprintf("%s already exists; a sha is required to update it", target.Path))
		}
	} else {
		err = s.db.QueryRowContext(ctx, `
			UPDATE price_files
			SET content=$4, sha=$5, message=$6, revision=revision+1, updated_at=NOW()
			WHERE repo=$1 AND branch=$2 AND path=$3 AND sha=$7
			RETURNING revision
		`, target.Repository(), target.Branch, target.Path, content, sha, req.Message, req.SHA).Scan(&revision)
		if errors.Is(err, sql.ErrNoRows) {
			return CommitResult{}, Conflict(op, fmt.Sprintf("%s does not match %s", target.Path, req.SHA))
		}
	}
	if err != nil {
		return CommitResult{}, NewRemoteError(op, ErrUnavailable, http.StatusServiceUnavailable, nil, err)
	}

	return CommitResult{
		Path:       target.Path,
		ContentSHA: sha,
		CommitSHA:  fmt.Sprintf("rev-%d", revision),
		Message:    req.Message,
	}, nil
}
