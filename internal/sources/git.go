package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/fyrsmithlabs/indexd/internal/ingest"
)

const (
	// gitSourceVersion tags the payload shape emitted by this source.
	gitSourceVersion = "git-log/1"

	defaultMaxCommits = 200
)

// timeNow is swapped in tests for stable IngestedAt stamps.
var timeNow = time.Now

// GitHistorySource reads recent commit history and emits one commit item
// per commit, newest first.
type GitHistorySource struct {
	maxCommits int
}

// NewGitHistorySource creates the git source. A non-positive cap falls
// back to the default.
func NewGitHistorySource(maxCommits int) *GitHistorySource {
	if maxCommits <= 0 {
		maxCommits = defaultMaxCommits
	}
	return &GitHistorySource{maxCommits: maxCommits}
}

func (s *GitHistorySource) Name() string { return "git-history" }

// Collect walks the log from HEAD. Workspaces that are not a repository,
// or repositories with no commits yet, yield no items.
func (s *GitHistorySource) Collect(ctx context.Context, root string) ([]ingest.Item, error) {
	repo, err := git.PlainOpen(root)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening repository: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{})
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading log: %w", err)
	}
	defer iter.Close()

	now := timeNow().UTC()
	var items []ingest.Item
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(items) >= s.maxCommits {
			return storer.ErrStop
		}
		hash := c.Hash.String()
		items = append(items, ingest.Item{
			ID:            "commit:" + hash,
			SourceType:    ingest.SourceTypeCommit,
			SourceVersion: gitSourceVersion,
			IngestedAt:    now,
			Payload: map[string]any{
				"hash":         hash,
				"author":       c.Author.Email,
				"message":      c.Message,
				"committed_at": c.Author.When.UTC().Format(time.RFC3339),
			},
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterating commits: %w", err)
	}
	return items, nil
}

var _ Source = (*GitHistorySource)(nil)
