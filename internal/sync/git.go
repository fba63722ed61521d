package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alfredjeanlab/gatekeeper/internal/enforce"
)

// GitDestination commits the export to a file in a local clone and pushes
// it, one commit per change.
type GitDestination struct {
	repo   string
	file   string // relative to repo
	branch string
	runner enforce.Runner
}

// NewGitDestination returns a destination for an existing clone at repo.
func NewGitDestination(repo, file, branch string) *GitDestination {
	return &GitDestination{
		repo:   repo,
		file:   file,
		branch: branch,
		runner: enforce.ExecRunner{Timeout: enforce.MaxTimeout},
	}
}

// Name implements Destination.
func (d *GitDestination) Name() string { return "git:" + d.repo }

func (d *GitDestination) Write(ctx context.Context, data []byte) error {
	if _, err := d.git(ctx, "checkout", d.branch); err != nil {
		return err
	}
	// The remote may not have the branch yet.
	_, _ = d.git(ctx, "pull", "--ff-only", "origin", d.branch)

	path := filepath.Join(d.repo, d.file)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if _, err := d.git(ctx, "add", "--", d.file); err != nil {
		return err
	}
	// Exit status 0 means nothing staged.
	if _, err := d.git(ctx, "diff", "--cached", "--quiet"); err == nil {
		return nil
	}

	msg := "sync: update gatekeeper history"
	if n, ok := eventCount(data); ok {
		msg = fmt.Sprintf("sync: gatekeeper history (%d events)", n)
	}
	if _, err := d.git(ctx, "commit", "-m", msg); err != nil {
		return err
	}
	_, err := d.git(ctx, "push", "origin", d.branch)
	return err
}

func (d *GitDestination) git(ctx context.Context, args ...string) (string, error) {
	return d.runner.Run(ctx, "git", append([]string{"-C", d.repo}, args...)...)
}
