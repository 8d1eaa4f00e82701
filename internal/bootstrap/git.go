package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	cosaierr "github.com/h8d13/cosai/internal/errors"
)

// CloneOptions selects what to clone and where.
type CloneOptions struct {
	URL    string
	Branch string
	Dir    string
	Depth  int
}

// Clone checks out the installer repository. An existing checkout at Dir is
// reused after a pull instead of being re-cloned.
func Clone(ctx context.Context, opts CloneOptions) error {
	if opts.Depth == 0 {
		opts.Depth = 1
	}

	if _, err := os.Stat(opts.Dir); err == nil {
		return pull(ctx, opts)
	}

	cloneOpts := &git.CloneOptions{
		URL:   opts.URL,
		Depth: opts.Depth,
	}
	if opts.Branch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(opts.Branch)
		cloneOpts.SingleBranch = true
	}

	start := time.Now()
	if _, err := git.PlainCloneContext(ctx, opts.Dir, false, cloneOpts); err != nil {
		return cosaierr.GitCloneError(opts.URL, err)
	}
	slog.Info("repository cloned", "url", opts.URL, "dir", opts.Dir, "duration", time.Since(start))
	return nil
}

func pull(ctx context.Context, opts CloneOptions) error {
	repo, err := git.PlainOpen(opts.Dir)
	if err != nil {
		return cosaierr.GitCloneError(opts.URL, fmt.Errorf("open existing checkout: %w", err))
	}
	wt, err := repo.Worktree()
	if err != nil {
		return cosaierr.GitCloneError(opts.URL, err)
	}

	err = wt.PullContext(ctx, &git.PullOptions{RemoteName: "origin", Depth: opts.Depth})
	if err == git.NoErrAlreadyUpToDate {
		slog.Debug("checkout already up to date", "dir", opts.Dir)
		return nil
	}
	if err != nil {
		return cosaierr.GitCloneError(opts.URL, err)
	}
	slog.Info("checkout updated", "dir", opts.Dir)
	return nil
}

// HeadCommit returns the short hash of the checkout's HEAD, for logging.
func HeadCommit(dir string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", err
	}
	return head.Hash().String()[:8], nil
}
