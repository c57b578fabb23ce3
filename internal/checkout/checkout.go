// Package checkout clones the project under verification into a lane
// workspace before provisioning. Checkout failures are infrastructure-class:
// the lane fails with zero stage results and the error is tagged retryable.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"git.home.luguber.info/inful/matrixci/internal/config"
	"git.home.luguber.info/inful/matrixci/internal/logfields"
)

// Client performs source checkouts into lane directories.
type Client struct {
	source config.SourceConfig
}

// NewClient creates a checkout client for the configured source.
func NewClient(source config.SourceConfig) *Client {
	return &Client{source: source}
}

// Checkout clones the source into dir and returns the directory stage
// commands should run from (dir, or its configured subdirectory).
func (c *Client) Checkout(ctx context.Context, laneID, dir string) (string, error) {
	opts := &git.CloneOptions{URL: c.source.URL}
	if c.source.Ref != "" {
		opts.ReferenceName = plumbing.ReferenceName("refs/heads/" + c.source.Ref)
		opts.SingleBranch = true
	}
	if c.source.Depth > 0 {
		opts.Depth = c.source.Depth
	}
	if c.source.Token != "" {
		opts.Auth = &http.BasicAuth{Username: c.source.User, Password: c.source.Token}
	}

	slog.Debug("Cloning source",
		logfields.Lane(laneID), logfields.URL(c.source.URL), logfields.Path(dir))

	repo, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		return "", classifyCloneError(c.source.URL, err)
	}
	if ref, herr := repo.Head(); herr == nil {
		slog.Info("Source checked out",
			logfields.Lane(laneID), logfields.URL(c.source.URL),
			slog.String("commit", ref.Hash().String()[:8]))
	}

	if c.source.SubDir != "" {
		return dir + "/" + c.source.SubDir, nil
	}
	return dir, nil
}

// AuthError indicates the remote rejected our credentials; not transient.
type AuthError struct {
	URL string
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("authentication failed for %s: %v", e.URL, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// NotFoundError indicates the repository does not exist; not transient.
type NotFoundError struct {
	URL string
	Err error
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("repository not found: %s: %v", e.URL, e.Err) }
func (e *NotFoundError) Unwrap() error { return e.Err }

// classifyCloneError wraps underlying go-git errors into typed failures so
// downstream retry classification needs no string parsing.
func classifyCloneError(url string, err error) error {
	l := strings.ToLower(err.Error())
	if strings.Contains(l, "authentication") || strings.Contains(l, "auth fail") || strings.Contains(l, "invalid username or password") {
		return &AuthError{URL: url, Err: err}
	}
	if strings.Contains(l, "not found") || strings.Contains(l, "repository does not exist") {
		return &NotFoundError{URL: url, Err: err}
	}
	return fmt.Errorf("failed to clone %s: %w", url, err)
}

// Permanent reports whether the checkout error can never succeed on retry.
func Permanent(err error) bool {
	var authErr *AuthError
	var notFoundErr *NotFoundError
	return errors.As(err, &authErr) || errors.As(err, &notFoundErr)
}
