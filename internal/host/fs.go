package host

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jward/reftrace/internal/scan"
)

// MetaSuffix is the extension of identity sidecar files.
const MetaSuffix = ".meta"

// DefaultIdentityCacheSize bounds the identity cache when no size is given.
const DefaultIdentityCacheSize = 4096

var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	"Library":      true,
	"Temp":         true,
}

// ErrOutsideRoot is returned for paths that resolve outside the project root.
var ErrOutsideRoot = errors.New("path is outside the project root")

// FSHost serves host capabilities from a directory tree.
type FSHost struct {
	root       string
	extensions map[string]bool
	identities *lru.Cache[string, string]
	logger     *slog.Logger
	useGit     bool
}

// FSOption configures an FSHost.
type FSOption func(*FSHost) error

// WithExtensions limits enumeration to the given extensions (".prefab",
// "png", ...). Matching is case-insensitive.
func WithExtensions(exts ...string) FSOption {
	return func(h *FSHost) error {
		if len(exts) == 0 {
			return nil
		}
		h.extensions = make(map[string]bool, len(exts))
		for _, e := range exts {
			e = strings.ToLower(strings.TrimSpace(e))
			if e == "" {
				continue
			}
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			h.extensions[e] = true
		}
		return nil
	}
}

// WithIdentityCacheSize sets the number of cached identities.
func WithIdentityCacheSize(n int) FSOption {
	return func(h *FSHost) error {
		if n < 1 {
			return fmt.Errorf("identity cache size must be positive, got %d", n)
		}
		c, err := lru.New[string, string](n)
		if err != nil {
			return err
		}
		h.identities = c
		return nil
	}
}

// WithHostLogger sets the logger used for enumeration diagnostics.
func WithHostLogger(l *slog.Logger) FSOption {
	return func(h *FSHost) error {
		if l != nil {
			h.logger = l
		}
		return nil
	}
}

// WithoutGit disables git ls-files enumeration.
func WithoutGit() FSOption {
	return func(h *FSHost) error {
		h.useGit = false
		return nil
	}
}

// NewFSHost creates a host rooted at root.
func NewFSHost(root string, opts ...FSOption) (*FSHost, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", abs)
	}

	h := &FSHost{
		root:   abs,
		logger: slog.New(slog.DiscardHandler),
		useGit: true,
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	if h.identities == nil {
		h.identities, err = lru.New[string, string](DefaultIdentityCacheSize)
		if err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Root returns the absolute project root.
func (h *FSHost) Root() string { return h.root }

// Rel converts p (absolute, or relative to the working directory or the
// root) into a slash-separated root-relative path.
func (h *FSHost) Rel(p string) (string, error) {
	if !filepath.IsAbs(p) {
		if _, err := os.Stat(filepath.Join(h.root, p)); err == nil {
			return cleanRel(p)
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", err
		}
		p = abs
	}
	rel, err := filepath.Rel(h.root, p)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	return cleanRel(rel)
}

func cleanRel(p string) (string, error) {
	rel := path.Clean(filepath.ToSlash(p))
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	return rel, nil
}

// Enumerate lists artifacts under scope in lexical path order. If the root
// is inside a git repository, git ls-files is used to respect .gitignore;
// otherwise the tree is walked.
func (h *FSHost) Enumerate(scope string) ([]scan.Item, error) {
	prefix := ""
	if scope != "" && scope != "." {
		rel, err := h.Rel(scope)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(filepath.Join(h.root, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("scope %s: %w", scope, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("scope %s is not a directory", scope)
		}
		if rel != "." {
			prefix = rel + "/"
		}
	}

	var paths []string
	var err error
	if h.useGit {
		paths, err = h.gitListFiles()
		if err != nil {
			h.logger.Debug("git enumeration unavailable, walking tree", "root", h.root, "error", err)
		}
	}
	if !h.useGit || err != nil {
		paths, err = h.walkListFiles()
		if err != nil {
			return nil, err
		}
	}

	items := make([]scan.Item, 0, len(paths))
	for _, p := range paths {
		if prefix != "" && !strings.HasPrefix(p, prefix) {
			continue
		}
		items = append(items, scan.Item{ID: p, Owner: ownerOf(p)})
	}
	slices.SortFunc(items, func(a, b scan.Item) int { return strings.Compare(a.ID, b.ID) })
	return items, nil
}

// ownerOf returns the top-level collection an artifact belongs to.
func ownerOf(rel string) string {
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return "."
}

func (h *FSHost) accept(rel string) bool {
	if strings.HasSuffix(rel, MetaSuffix) {
		return false
	}
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") || skipDirs[seg] {
			return false
		}
	}
	if h.extensions != nil && !h.extensions[strings.ToLower(path.Ext(rel))] {
		return false
	}
	return true
}

// gitListFiles uses git ls-files to discover tracked and untracked (but not
// ignored) files under the root.
func (h *FSHost) gitListFiles() ([]string, error) {
	// --cached: tracked files, --others: untracked files,
	// --exclude-standard: respect .gitignore, .git/info/exclude, global excludes.
	cmd := exec.Command("git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = h.root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var paths []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || seen[line] || !h.accept(line) {
			continue
		}
		// Deleted but still tracked files are listed by --cached.
		if _, err := os.Stat(filepath.Join(h.root, filepath.FromSlash(line))); err != nil {
			continue
		}
		seen[line] = true
		paths = append(paths, line)
	}
	return paths, nil
}

// walkListFiles walks the root, skipping hidden and dependency directories.
func (h *FSHost) walkListFiles() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(h.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p == h.root {
				return nil
			}
			name := d.Name()
			if strings.HasPrefix(name, ".") || skipDirs[name] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(h.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if h.accept(rel) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return paths, nil
}

// ReadContent reads an artifact.
func (h *FSHost) ReadContent(rel string) ([]byte, error) {
	clean, err := cleanRel(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(h.root, filepath.FromSlash(clean)))
}
