package runtime

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/compiler"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"
	"github.com/risor-io/risor/parser"
)

// DefaultClassifyScript is used when no extension-specific script exists.
const DefaultClassifyScript = "classify/default.risor"

// ErrNoScript is returned by Classify when neither an extension script nor
// the default script can be loaded.
var ErrNoScript = errors.New("runtime: no classification script")

// Runtime embeds a Risor VM and provides tree-sitter host functions to
// classification scripts.
type Runtime struct {
	scriptsDir string
	fsys       fs.FS
	logger     *slog.Logger

	mu      sync.Mutex
	scripts map[string]*script // ext -> resolved classification script

	// scopeDone, when set, sees every evaluation scope once the evaluation
	// has returned. Tests use it.
	scopeDone func(*evalScope)
}

// script is a classification script, compiled on first use. Every
// classification binds the same global names, so the code is reusable.
type script struct {
	path   string
	source string
	code   *compiler.Code
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS configures the Runtime to load scripts from an fs.FS
// instead of from disk. Also configures the Risor importer to use
// FSImporter for import statement resolution.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithRuntimeLogger sets the logger behind the scripts' log object.
func WithRuntimeLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRuntime creates a Runtime loading scripts from scriptsDir unless an
// fs.FS is supplied.
func NewRuntime(scriptsDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		scriptsDir: scriptsDir,
		logger:     slog.New(slog.DiscardHandler),
		scripts:    make(map[string]*script),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunScript loads and executes a Risor script with all standard globals
// plus any extra globals provided by the caller, returning the value of the
// script's last expression.
func (r *Runtime) RunScript(ctx context.Context, scriptPath string, extraGlobals map[string]any) (object.Object, error) {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return nil, err
	}
	return r.eval(ctx, src, scriptPath, newEvalScope(nil), extraGlobals)
}

// RunSource executes Risor source code directly with all standard globals
// plus any extra globals. Useful for testing without script files.
func (r *Runtime) RunSource(ctx context.Context, source string, extraGlobals map[string]any) (object.Object, error) {
	return r.eval(ctx, source, "<inline>", newEvalScope(nil), extraGlobals)
}

func (r *Runtime) eval(ctx context.Context, source, label string, scope *evalScope, extraGlobals map[string]any) (object.Object, error) {
	defer r.release(scope)

	result, err := risor.Eval(ctx, source, r.options(scope, extraGlobals)...)
	if err != nil {
		return nil, fmt.Errorf("runtime: script %s: %w", label, err)
	}
	return result, nil
}

// options binds the globals of one evaluation and wires the importer so
// Risor import statements resolve.
func (r *Runtime) options(scope *evalScope, extraGlobals map[string]any) []risor.Option {
	globals := r.buildGlobals(scope, extraGlobals)

	opts := make([]risor.Option, 0, len(globals)+1)
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}
	if imp := r.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}
	return opts
}

func (r *Runtime) release(scope *evalScope) {
	if r.scopeDone != nil {
		r.scopeDone(scope)
	}
}

// buildImporter returns a Risor importer configured for the Runtime's script source.
// Returns nil if neither fs.FS nor scriptsDir is configured.
func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}

	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if r.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript reads a .risor file and returns its source code.
// When an fs.FS is configured, uses fs.ReadFile on the embedded filesystem.
// Otherwise, uses os.ReadFile with scriptsDir as the base directory.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		// For fs.FS, strip any leading path separator so the path is
		// relative within the FS (e.g., "/classify/go.risor" -> "classify/go.risor").
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("runtime: loading script %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	fullPath := path
	if !filepath.IsAbs(path) {
		fullPath = filepath.Join(r.scriptsDir, path)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("runtime: loading script %s: %w", fullPath, err)
	}
	return string(data), nil
}

// ClassifyScriptPath returns the path of the classification script for a
// file extension (".prefab" -> "classify/prefab.risor").
func ClassifyScriptPath(ext string) string {
	name := strings.ToLower(strings.TrimPrefix(ext, "."))
	if name == "" {
		return DefaultClassifyScript
	}
	return filepath.ToSlash(filepath.Join("classify", name+".risor"))
}

// Match describes one scan hit handed to a classification script.
type Match struct {
	Path    string // root-relative artifact path
	Owner   string // collection the artifact was enumerated from
	Content []byte
	Target  string // identifier that was found
}

// Classify runs the classification script for m's extension and returns the
// string it evaluates to. Scripts see the globals path, ext, owner, target and
// content, and parse() reads the match's own content.
func (r *Runtime) Classify(ctx context.Context, m Match) (string, error) {
	ext := strings.ToLower(filepath.Ext(m.Path))
	sc, err := r.classifier(ext)
	if err != nil {
		return "", err
	}

	scope := newEvalScope(&m)
	defer r.release(scope)

	opts := r.options(scope, map[string]any{
		"path":    m.Path,
		"ext":     ext,
		"owner":   m.Owner,
		"target":  m.Target,
		"content": string(m.Content),
	})
	code, err := r.compile(ctx, sc, opts)
	if err != nil {
		return "", err
	}
	result, err := risor.EvalCode(ctx, code, opts...)
	if err != nil {
		return "", fmt.Errorf("runtime: script %s: %w", sc.path, err)
	}

	switch v := result.(type) {
	case *object.String:
		return v.Value(), nil
	case *object.NilType:
		return "", nil
	default:
		return "", fmt.Errorf("runtime: script %s returned %s, want string", sc.path, result.Type())
	}
}

// classifier resolves and caches the script for ext.
func (r *Runtime) classifier(ext string) (*script, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sc, ok := r.scripts[ext]; ok {
		return sc, nil
	}

	for _, p := range []string{ClassifyScriptPath(ext), DefaultClassifyScript} {
		src, err := r.LoadScript(p)
		if err != nil {
			continue
		}
		sc := &script{path: p, source: src}
		r.scripts[ext] = sc
		return sc, nil
	}
	return nil, fmt.Errorf("%w for %q", ErrNoScript, ext)
}

// compile returns sc's bytecode, compiling it against the global names in
// opts the first time.
func (r *Runtime) compile(ctx context.Context, sc *script, opts []risor.Option) (*compiler.Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sc.code != nil {
		return sc.code, nil
	}

	ast, err := parser.Parse(ctx, sc.source, parser.WithFilename(sc.path))
	if err != nil {
		return nil, fmt.Errorf("runtime: script %s: %w", sc.path, err)
	}
	code, err := compiler.Compile(ast, risor.NewConfig(opts...).CompilerOpts()...)
	if err != nil {
		return nil, fmt.Errorf("runtime: script %s: %w", sc.path, err)
	}
	sc.code = code
	return code, nil
}

// buildGlobals constructs the full set of globals exposed to Risor scripts.
func (r *Runtime) buildGlobals(scope *evalScope, extra map[string]any) map[string]any {
	globals := scope.globals()
	globals["log"] = mustProxy(&logObject{logger: r.logger.With("component", "script")})

	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}
