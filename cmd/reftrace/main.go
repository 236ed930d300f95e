package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jward/reftrace"
	"github.com/jward/reftrace/internal/config"
	"github.com/spf13/cobra"
)

var (
	flagDB      string
	flagFormat  string
	flagConfig  string
	flagVerbose bool
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

// stdout receives command results. Tests swap it for a buffer.
var stdout io.Writer = os.Stdout

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "reftrace",
	Short:             "Find what references an artifact and order artifacts by dependency",
	Long:              "Reftrace scans a project for artifacts that reference a target identifier and layers the project's reference graph, writing results to a SQLite database.",
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
	// No Run: prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default: .reftrace/index.db relative to repo root)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: .reftrace.yaml at the repo root)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log debug output to stderr")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(layersCmd)
	rootCmd.AddCommand(identifyCmd)
	rootCmd.AddCommand(queryCmd)
}

// newLogger returns the stderr logger used by every command.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// project bundles what a command needs to open an Engine for a directory.
type project struct {
	dir    string
	root   string
	dbPath string
	cfg    *config.Config
}

// loadProject resolves the project directory, its repo root, its config and
// its database path.
func loadProject(args []string) (*project, error) {
	dir, err := resolveTargetDir(args)
	if err != nil {
		return nil, err
	}
	root := findRepoRoot(dir)
	cfg, err := config.Load(root, flagConfig)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &project{dir: dir, root: root, dbPath: resolveDBPath(root, cfg), cfg: cfg}, nil
}

// openEngine creates an Engine for p using its config.
func (p *project) openEngine(extra ...reftrace.Option) (*reftrace.Engine, error) {
	opts := []reftrace.Option{
		reftrace.WithLogger(newLogger(os.Stderr)),
		reftrace.WithBatchSize(p.cfg.Scan.BatchSize),
		reftrace.WithTickInterval(p.cfg.Scan.TickInterval),
		reftrace.WithTickBudget(p.cfg.Scan.TickBudget),
		reftrace.WithExtensions(p.cfg.Scan.Extensions...),
		reftrace.WithKeepSessions(p.cfg.Scan.KeepSessions),
		reftrace.WithIdentityCacheSize(p.cfg.Identity.CacheSize),
	}
	if p.cfg.ScriptsDir != "" {
		dir := p.cfg.ScriptsDir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(p.root, dir)
		}
		opts = append(opts, reftrace.WithScriptsDir(dir))
	}
	opts = append(opts, extra...)

	e, err := reftrace.New(p.dbPath, p.dir, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return e, nil
}

// resolveTargetDir returns the absolute path of the project directory.
func resolveTargetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root without finding .git.
			return startDir
		}
		dir = parent
	}
}

// resolveDBPath returns the database path from the --db flag, or from the
// config relative to the repo root.
func resolveDBPath(repoRoot string, cfg *config.Config) string {
	if flagDB != "" {
		if filepath.IsAbs(flagDB) {
			return flagDB
		}
		return filepath.Join(repoRoot, flagDB)
	}
	return cfg.DatabasePath(repoRoot)
}
