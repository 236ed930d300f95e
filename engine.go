package reftrace

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jward/reftrace/internal/host"
	"github.com/jward/reftrace/internal/runtime"
	"github.com/jward/reftrace/internal/scan"
	"github.com/jward/reftrace/internal/store"
	"github.com/jward/reftrace/scripts"
)

// Engine wires a project host, the scan scheduler, the dependency layerer,
// the classification runtime and the SQLite store together.
type Engine struct {
	store   *store.Store
	runtime *runtime.Runtime
	host    host.Host
	root    string
	logger  *slog.Logger

	scriptsDir string
	scriptsFS  fs.FS

	batchSize         int
	tickInterval      time.Duration
	tickBudget        time.Duration
	extensions        []string
	identityCacheSize int
	keepSessions      int

	// useParallel enables the parallel reference discovery pipeline in
	// Analyze.
	useParallel bool

	// ticks creates the tick source driving a scan. Tests replace it.
	ticks func(time.Duration) host.TickSource
}

// Option configures an Engine.
type Option func(*Engine)

// WithBatchSize sets how many items a scan processes per tick.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		e.batchSize = n
	}
}

// WithTickInterval sets how often scan ticks fire.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.tickInterval = d
	}
}

// WithTickBudget caps the wall time of a single tick. Zero disables the cap.
func WithTickBudget(d time.Duration) Option {
	return func(e *Engine) {
		e.tickBudget = d
	}
}

// WithExtensions restricts scans and analyses to files with the given
// extensions. Ignored when WithHost is used.
func WithExtensions(exts ...string) Option {
	return func(e *Engine) {
		e.extensions = exts
	}
}

// WithIdentityCacheSize sets the number of resolved identities the default
// host keeps. Ignored when WithHost is used.
func WithIdentityCacheSize(n int) Option {
	return func(e *Engine) {
		e.identityCacheSize = n
	}
}

// WithKeepSessions sets how many scan sessions are retained after each scan.
// Zero keeps everything.
func WithKeepSessions(n int) Option {
	return func(e *Engine) {
		e.keepSessions = n
	}
}

// WithParallel controls parallel reference discovery in Analyze. When true
// (default), artifacts are read and their references collected by a worker
// pool; the graph is still built and committed serially.
func WithParallel(parallel bool) Option {
	return func(e *Engine) {
		e.useParallel = parallel
	}
}

// WithScriptsFS loads classification scripts from fsys.
func WithScriptsFS(fsys fs.FS) Option {
	return func(e *Engine) {
		e.scriptsFS = fsys
	}
}

// WithScriptsDir loads classification scripts from a directory on disk.
func WithScriptsDir(dir string) Option {
	return func(e *Engine) {
		e.scriptsDir = dir
	}
}

// WithLogger sets the logger used by the Engine and everything it creates.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithHost replaces the filesystem host.
func WithHost(h host.Host) Option {
	return func(e *Engine) {
		e.host = h
	}
}

// New creates an Engine for the project at root, backed by a SQLite database
// at dbPath.
// Script loading priority:
//  1. If WithScriptsFS is set, use the provided fs.FS
//  2. If WithScriptsDir is set, use that directory on disk
//  3. Otherwise, use the scripts embedded in the binary
func New(dbPath, root string, opts ...Option) (*Engine, error) {
	e := &Engine{
		root:              root,
		logger:            slog.New(slog.DiscardHandler),
		batchSize:         scan.DefaultBatchSize,
		tickInterval:      time.Millisecond,
		identityCacheSize: host.DefaultIdentityCacheSize,
		useParallel:       true,
		ticks:             host.IntervalTicks,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.batchSize < 1 {
		return nil, fmt.Errorf("reftrace: %w: %d", scan.ErrInvalidBatchSize, e.batchSize)
	}

	if e.host == nil {
		h, err := host.NewFSHost(root,
			host.WithExtensions(e.extensions...),
			host.WithIdentityCacheSize(e.identityCacheSize),
			host.WithHostLogger(e.logger),
		)
		if err != nil {
			return nil, fmt.Errorf("reftrace: host: %w", err)
		}
		e.host = h
		e.root = h.Root()
	}

	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("reftrace: create database dir: %w", err)
		}
	}
	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("reftrace: create store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("reftrace: migrate: %w", err)
	}
	e.store = s

	rtOpts := []runtime.RuntimeOption{runtime.WithRuntimeLogger(e.logger)}
	switch {
	case e.scriptsFS != nil:
		rtOpts = append(rtOpts, runtime.WithRuntimeFS(e.scriptsFS))
	case e.scriptsDir == "":
		e.scriptsFS = scripts.FS
		rtOpts = append(rtOpts, runtime.WithRuntimeFS(scripts.FS))
	}
	e.runtime = runtime.NewRuntime(e.scriptsDir, rtOpts...)

	return e, nil
}

// Close releases the Engine's database resources.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Store returns the underlying Store for direct access.
func (e *Engine) Store() *Store {
	return e.store
}

// Root returns the project root.
func (e *Engine) Root() string {
	return e.root
}

// Query returns a QueryBuilder over the Engine's store.
func (e *Engine) Query() *QueryBuilder {
	return NewQueryBuilder(e.store)
}

// IdentityInfo describes how an artifact is referenced.
type IdentityInfo struct {
	Path     string
	Identity string
	Source   string // "meta" or "path"; empty for hosts that do not report it
}

// Identify resolves the identity of the artifact at p.
func (e *Engine) Identify(p string) (*IdentityInfo, error) {
	rel := e.relPath(p)
	if ws, ok := e.host.(interface {
		IdentityWithSource(string) (string, host.IdentitySource, error)
	}); ok {
		id, src, err := ws.IdentityWithSource(p)
		if err != nil {
			return nil, err
		}
		return &IdentityInfo{Path: rel, Identity: id, Source: string(src)}, nil
	}
	id, err := e.host.Identity(p)
	if err != nil {
		return nil, err
	}
	return &IdentityInfo{Path: rel, Identity: id}, nil
}

// relPath maps p to a root-relative path when the host can, and returns it
// slash-cleaned otherwise.
func (e *Engine) relPath(p string) string {
	if r, ok := e.host.(interface{ Rel(string) (string, error) }); ok {
		if rel, err := r.Rel(p); err == nil {
			return rel
		}
	}
	return filepath.ToSlash(filepath.Clean(p))
}

// scopeKey normalizes a scope for storage: "." for the whole project.
func (e *Engine) scopeKey(scope string) string {
	if scope == "" || scope == "." {
		return "."
	}
	return e.relPath(scope)
}

// ScriptsHash returns a SHA-256 over every classification script the Engine
// can load, so callers can tell whether stored classifications are stale.
func (e *Engine) ScriptsHash() string {
	var paths []string

	if e.scriptsFS != nil {
		fs.WalkDir(e.scriptsFS, ".", func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if !d.IsDir() && strings.HasSuffix(path, ".risor") {
				paths = append(paths, path)
			}
			return nil
		})
	} else if e.scriptsDir != "" {
		filepath.WalkDir(e.scriptsDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if !d.IsDir() && strings.HasSuffix(path, ".risor") {
				rel, _ := filepath.Rel(e.scriptsDir, path)
				paths = append(paths, rel)
			}
			return nil
		})
	}

	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		src, err := e.runtime.LoadScript(p)
		if err != nil {
			continue
		}
		h.Write([]byte(p))
		h.Write([]byte(src))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// isNotExist reports whether err means a path does not exist.
func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
