package publish

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrNotFastForward is returned by a Backend when a non-force ref update
// would drop commits.
var ErrNotFastForward = errors.New("update is not a fast-forward")

// MemoryBackend is an in-process, content-addressed Backend. It is used for
// dry runs and tests.
type MemoryBackend struct {
	mu            sync.Mutex
	defaultBranch string
	seq           int
	refs          map[string]string
	blobs         map[string][]byte
	trees         map[string]map[string]string
	commits       map[string]*Commit
}

// NewMemoryBackend returns a repository whose default branch holds one empty commit.
func NewMemoryBackend(defaultBranch string) *MemoryBackend {
	m := &MemoryBackend{
		defaultBranch: defaultBranch,
		refs:          map[string]string{},
		blobs:         map[string][]byte{},
		trees:         map[string]map[string]string{},
		commits:       map[string]*Commit{},
	}
	tree := m.putTree(map[string]string{})
	root := m.putCommit("Initial commit", tree, nil)
	m.refs[BranchRef(defaultBranch)] = root
	return m
}

func (m *MemoryBackend) DefaultBranch(ctx context.Context) (string, error) {
	return m.defaultBranch, nil
}

func (m *MemoryBackend) GetBranch(ctx context.Context, branch string) (string, error) {
	return m.GetRef(ctx, BranchRef(branch))
}

func (m *MemoryBackend) GetRef(ctx context.Context, ref string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sha, ok := m.refs[ref]
	if !ok {
		return "", fmt.Errorf("ref %s: %w", ref, ErrNotFound)
	}
	return sha, nil
}

func (m *MemoryBackend) CreateRef(ctx context.Context, ref, sha string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refs[ref]; ok {
		return fmt.Errorf("ref %s already exists", ref)
	}
	if _, ok := m.commits[sha]; !ok {
		return fmt.Errorf("commit %s: %w", sha, ErrNotFound)
	}
	m.refs[ref] = sha
	return nil
}

func (m *MemoryBackend) UpdateRef(ctx context.Context, ref, sha string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.refs[ref]
	if !ok {
		return fmt.Errorf("ref %s: %w", ref, ErrNotFound)
	}
	if _, ok := m.commits[sha]; !ok {
		return fmt.Errorf("commit %s: %w", sha, ErrNotFound)
	}
	if !force && !m.isAncestor(current, sha) {
		return fmt.Errorf("%s: %w", ref, ErrNotFastForward)
	}
	m.refs[ref] = sha
	return nil
}

func (m *MemoryBackend) CreateBlob(ctx context.Context, content []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sha := objectID("blob", content)
	m.blobs[sha] = append([]byte(nil), content...)
	return sha, nil
}

func (m *MemoryBackend) CreateTree(ctx context.Context, baseTree string, entries []TreeEntry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	files := map[string]string{}
	if baseTree != "" {
		base, ok := m.trees[baseTree]
		if !ok {
			return "", fmt.Errorf("tree %s: %w", baseTree, ErrNotFound)
		}
		for path, sha := range base {
			files[path] = sha
		}
	}
	for _, e := range entries {
		if _, ok := m.blobs[e.SHA]; !ok {
			return "", fmt.Errorf("blob %s: %w", e.SHA, ErrNotFound)
		}
		files[e.Path] = e.SHA
	}
	return m.putTree(files), nil
}

func (m *MemoryBackend) CreateCommit(ctx context.Context, message, tree string, parents []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trees[tree]; !ok {
		return "", fmt.Errorf("tree %s: %w", tree, ErrNotFound)
	}
	for _, p := range parents {
		if _, ok := m.commits[p]; !ok {
			return "", fmt.Errorf("commit %s: %w", p, ErrNotFound)
		}
	}
	return m.putCommit(message, tree, parents), nil
}

func (m *MemoryBackend) GetCommit(ctx context.Context, sha string) (*Commit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commits[sha]
	if !ok {
		return nil, fmt.Errorf("commit %s: %w", sha, ErrNotFound)
	}
	cp := *c
	cp.Parents = append([]string(nil), c.Parents...)
	return &cp, nil
}

// ReadFile returns the content of path at the tip of branch.
func (m *MemoryBackend) ReadFile(branch, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tip, ok := m.refs[BranchRef(branch)]
	if !ok {
		return nil, fmt.Errorf("branch %s: %w", branch, ErrNotFound)
	}
	sha, ok := m.trees[m.commits[tip].Tree][path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return append([]byte(nil), m.blobs[sha]...), nil
}

// Paths returns every file path at the tip of branch, sorted.
func (m *MemoryBackend) Paths(branch string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tip, ok := m.refs[BranchRef(branch)]
	if !ok {
		return nil, fmt.Errorf("branch %s: %w", branch, ErrNotFound)
	}
	var paths []string
	for p := range m.trees[m.commits[tip].Tree] {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func (m *MemoryBackend) putTree(files map[string]string) string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "%s\x00%s\n", p, files[p])
	}
	sha := objectID("tree", []byte(b.String()))
	m.trees[sha] = files
	return sha
}

func (m *MemoryBackend) putCommit(message, tree string, parents []string) string {
	m.seq++
	var b strings.Builder
	fmt.Fprintf(&b, "tree %s\n", tree)
	for _, p := range parents {
		fmt.Fprintf(&b, "parent %s\n", p)
	}
	fmt.Fprintf(&b, "seq %d\n\n%s", m.seq, message)

	sha := objectID("commit", []byte(b.String()))
	m.commits[sha] = &Commit{SHA: sha, Tree: tree, Parents: append([]string(nil), parents...), Message: message}
	return sha
}

// isAncestor reports whether ancestor is reachable from sha through parent links.
func (m *MemoryBackend) isAncestor(ancestor, sha string) bool {
	queue := []string{sha}
	seen := map[string]bool{}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == ancestor {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		if c, ok := m.commits[cur]; ok {
			queue = append(queue, c.Parents...)
		}
	}
	return false
}

func objectID(kind string, content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s %d\x00", kind, len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}
