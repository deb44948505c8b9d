// Package publish commits a batch of screenshots to a content branch through the
// Git object model (blobs, trees, commits, refs) and derives their public URLs.
//
// A batch becomes visible only when the branch ref moves, which is the last step.
// Runs against the same branch are not synchronized: two runs that read the same
// tip race on the final ref update and one of them fails. There is no locking and
// no retry.
package publish

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/root4loot/prshot/pkg/capture"
	"github.com/root4loot/prshot/pkg/logging"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultBranch is the content branch used when none is configured.
	DefaultBranch = "prshot-screenshots"
	// DefaultRawBaseURL serves raw file contents of GitHub repositories.
	DefaultRawBaseURL = "https://raw.githubusercontent.com"

	manifestName = "README.md"
	latestName   = "latest"
)

// PublishedArtifact is an artifact that is reachable at PublicURL.
type PublishedArtifact struct {
	TargetName string
	EngineName string
	Path       string // path inside the content branch
	PublicURL  string
}

// Batch is the outcome of one Publish call.
type Batch struct {
	Commit    string
	Dir       string
	Artifacts []PublishedArtifact
}

// Options contains options for the Publisher.
type Options struct {
	Branch     string // Content branch
	RawBaseURL string // Base of public raw-content URLs
	Logger     *logrus.Entry
}

// DefaultOptions returns default options.
func DefaultOptions() *Options {
	return &Options{
		Branch:     DefaultBranch,
		RawBaseURL: DefaultRawBaseURL,
	}
}

// Publisher uploads artifacts to a content branch.
type Publisher struct {
	Options *Options
	backend Backend
	log     *logrus.Entry
}

// NewPublisher returns a Publisher writing through backend.
func NewPublisher(backend Backend, options *Options) *Publisher {
	if options == nil {
		options = DefaultOptions()
	}
	if options.Branch == "" {
		options.Branch = DefaultBranch
	}
	if options.RawBaseURL == "" {
		options.RawBaseURL = DefaultRawBaseURL
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.New("publish", logging.ModeInteractive)
	}
	return &Publisher{Options: options, backend: backend, log: logger}
}

// Publish commits artifacts as one new commit on the content branch and returns
// their public URLs in the order given. Any failure aborts the whole upload.
func (p *Publisher) Publish(ctx context.Context, run RunContext, artifacts []capture.Artifact) (*Batch, error) {
	if err := run.Validate(); err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		return nil, errors.New("no artifacts to publish")
	}

	branch := p.Options.Branch
	logger := p.log.WithFields(logrus.Fields{"branch": branch, "batch": run.BatchDir()})

	tip, err := p.resolveBranch(ctx, branch)
	if err != nil {
		return nil, err
	}

	base, err := p.backend.GetCommit(ctx, tip)
	if err != nil {
		return nil, fmt.Errorf("get commit %s: %w", tip, err)
	}

	dir := run.BatchDir()
	entries := make([]TreeEntry, 0, len(artifacts)+2)
	published := make([]PublishedArtifact, 0, len(artifacts))

	for _, a := range artifacts {
		content, err := os.ReadFile(a.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("read artifact %s: %w", a.LocalPath, err)
		}

		sha, err := p.backend.CreateBlob(ctx, content)
		if err != nil {
			return nil, fmt.Errorf("create blob for %s: %w", a.LocalPath, err)
		}

		path := dir + "/" + filepath.Base(a.LocalPath)
		entries = append(entries, TreeEntry{Path: path, SHA: sha})
		published = append(published, PublishedArtifact{
			TargetName: a.TargetName,
			EngineName: a.EngineName,
			Path:       path,
			PublicURL:  p.RawURL(run, path),
		})
		logger.WithField("path", path).Debug("blob created")
	}

	manifestSHA, err := p.backend.CreateBlob(ctx, []byte(Manifest(run, published)))
	if err != nil {
		return nil, fmt.Errorf("create manifest blob: %w", err)
	}
	entries = append(entries, TreeEntry{Path: dir + "/" + manifestName, SHA: manifestSHA})

	latestSHA, err := p.backend.CreateBlob(ctx, []byte(run.Stamp()+"\n"))
	if err != nil {
		return nil, fmt.Errorf("create latest pointer blob: %w", err)
	}
	entries = append(entries, TreeEntry{Path: LatestPath(run), SHA: latestSHA})

	tree, err := p.backend.CreateTree(ctx, base.Tree, entries)
	if err != nil {
		return nil, fmt.Errorf("create tree: %w", err)
	}

	message := fmt.Sprintf("Add screenshots for %s at %s", run.Prefix(), run.Stamp())
	commit, err := p.backend.CreateCommit(ctx, message, tree, []string{tip})
	if err != nil {
		return nil, fmt.Errorf("create commit: %w", err)
	}

	if err := p.backend.UpdateRef(ctx, BranchRef(branch), commit, false); err != nil {
		return nil, fmt.Errorf("update %s: %w", BranchRef(branch), err)
	}

	logger.WithFields(logrus.Fields{"commit": commit, "files": len(entries)}).Info("screenshots published")

	return &Batch{Commit: commit, Dir: dir, Artifacts: published}, nil
}

// resolveBranch returns the tip of branch, creating the branch from the
// default branch's tip when it does not exist yet.
func (p *Publisher) resolveBranch(ctx context.Context, branch string) (string, error) {
	tip, err := p.backend.GetBranch(ctx, branch)
	if err == nil {
		return tip, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("get branch %s: %w", branch, err)
	}

	def, err := p.backend.DefaultBranch(ctx)
	if err != nil {
		return "", fmt.Errorf("get default branch: %w", err)
	}

	tip, err = p.backend.GetRef(ctx, BranchRef(def))
	if err != nil {
		return "", fmt.Errorf("get %s: %w", BranchRef(def), err)
	}

	if err := p.backend.CreateRef(ctx, BranchRef(branch), tip); err != nil {
		return "", fmt.Errorf("create %s: %w", BranchRef(branch), err)
	}

	p.log.WithFields(logrus.Fields{"branch": branch, "from": def}).Info("content branch created")
	return tip, nil
}

// RawURL returns the public URL of path on the content branch.
func (p *Publisher) RawURL(run RunContext, path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join([]string{
		strings.TrimSuffix(p.Options.RawBaseURL, "/"),
		run.Owner,
		run.Repo,
		p.Options.Branch,
		strings.Join(segments, "/"),
	}, "/")
}

// LatestPath returns the path of the file naming the most recent batch of a PR or run.
func LatestPath(run RunContext) string {
	return run.Prefix() + "/" + latestName
}

// Manifest renders the README stored next to a batch.
func Manifest(run RunContext, published []PublishedArtifact) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Screenshots for %s\n\n", run.Prefix())
	fmt.Fprintf(&b, "Repository: %s/%s  \n", run.Owner, run.Repo)
	fmt.Fprintf(&b, "Captured: %s\n\n", run.Stamp())
	b.WriteString("| Target | Engine | File |\n")
	b.WriteString("|---|---|---|\n")
	for _, a := range published {
		name := a.Path[strings.LastIndex(a.Path, "/")+1:]
		fmt.Fprintf(&b, "| %s | %s | [%s](%s) |\n",
			EscapeMarkdown(a.TargetName), EscapeMarkdown(a.EngineName), EscapeMarkdown(name), url.PathEscape(name))
	}
	return b.String()
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"`", "\\`",
	"*", `\*`,
	"_", `\_`,
	"[", `\[`,
	"]", `\]`,
	"<", "&lt;",
	">", "&gt;",
	"|", `\|`,
)

// EscapeMarkdown makes a user-supplied name safe inside headings, links and
// table cells.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
