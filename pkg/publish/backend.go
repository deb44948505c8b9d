package publish

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Backend when a branch, ref or object does not exist.
var ErrNotFound = errors.New("not found")

// Backend is the Git object model of a hosted repository. Refs are always
// passed in full form, e.g. "refs/heads/main".
type Backend interface {
	// DefaultBranch returns the name of the repository's default branch.
	DefaultBranch(ctx context.Context) (string, error)
	// GetBranch returns the commit at the tip of branch, or ErrNotFound.
	GetBranch(ctx context.Context, branch string) (string, error)
	// GetRef returns the commit a ref points at, or ErrNotFound.
	GetRef(ctx context.Context, ref string) (string, error)
	CreateRef(ctx context.Context, ref, sha string) error
	// UpdateRef moves ref to sha. Without force the update must be a fast-forward.
	UpdateRef(ctx context.Context, ref, sha string, force bool) error
	// CreateBlob stores content and returns its object id.
	CreateBlob(ctx context.Context, content []byte) (string, error)
	// CreateTree layers entries on top of baseTree and returns the new tree id.
	CreateTree(ctx context.Context, baseTree string, entries []TreeEntry) (string, error)
	CreateCommit(ctx context.Context, message, tree string, parents []string) (string, error)
	GetCommit(ctx context.Context, sha string) (*Commit, error)
}

// TreeEntry associates a path with a blob.
type TreeEntry struct {
	Path string
	SHA  string
}

// Commit is the part of a commit object the publisher needs.
type Commit struct {
	SHA     string
	Tree    string
	Parents []string
	Message string
}

// BranchRef returns the full ref name of branch.
func BranchRef(branch string) string {
	return "refs/heads/" + branch
}
