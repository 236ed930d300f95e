package main

import (
	"fmt"
	"os"

	"github.com/jward/reftrace"
	"github.com/jward/reftrace/internal/store"
	"github.com/spf13/cobra"
)

var (
	flagLimit    int
	flagAnalysis string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query stored scan sessions and analyses",
	Long:  "Read back persisted results. Session arguments accept a full ID, a unique ID prefix or \"latest\"; " +
		"--analysis accepts an analysis ID, a scope or \"latest\".",
}

func init() {
	queryCmd.PersistentFlags().IntVar(&flagLimit, "limit", 20, "maximum sessions to list (0 for all)")
	queryCmd.PersistentFlags().StringVar(&flagAnalysis, "analysis", reftrace.LatestRef, "analysis ID, scope, or latest")

	queryCmd.AddCommand(sessionsCmd)
	queryCmd.AddCommand(sessionCmd)
	queryCmd.AddCommand(matchesCmd)
	queryCmd.AddCommand(errorsCmd)
	queryCmd.AddCommand(analysesCmd)
	queryCmd.AddCommand(artifactsCmd)
	queryCmd.AddCommand(orderCmd)
	queryCmd.AddCommand(edgesCmd)
	queryCmd.AddCommand(depsCmd)
	queryCmd.AddCommand(dependentsCmd)
}

// --- Helpers ---

// openStore opens the Store from the --db flag path (or the configured
// default).
func openStore() (*store.Store, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting cwd: %w", err)
	}
	p, err := loadProject([]string{cwd})
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(p.dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: %s (run 'reftrace scan' or 'reftrace layers' first)", p.dbPath)
	}
	return store.NewStore(p.dbPath)
}

// runQuery opens the store, runs fn and prints its result under command.
func runQuery(command string, fn func(q *reftrace.QueryBuilder) (any, error)) error {
	s, err := openStore()
	if err != nil {
		return outputError(command, err)
	}
	defer s.Close()

	results, err := fn(reftrace.NewQueryBuilder(s))
	if err != nil {
		return outputError(command, err)
	}
	return outputResult(CLIResult{Command: command, Results: results})
}

// sessionArg returns the optional session argument, defaulting to latest.
func sessionArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return reftrace.LatestRef
}

// --- Commands ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List scan sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error {
		return runQuery("sessions", func(q *reftrace.QueryBuilder) (any, error) {
			sessions, err := q.Sessions(flagLimit)
			if err != nil {
				return nil, err
			}
			out := make([]CLISession, len(sessions))
			for i, s := range sessions {
				out[i] = sessionToCLI(s)
			}
			return out, nil
		})
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session [id]",
	Short: "Show one scan session",
	Args:  cobra.MaximumNArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error {
		return runQuery("session", func(q *reftrace.QueryBuilder) (any, error) {
			s, err := q.Session(sessionArg(args))
			if err != nil {
				return nil, err
			}
			return sessionToCLI(s), nil
		})
	},
}

var matchesCmd = &cobra.Command{
	Use:   "matches [session]",
	Short: "List the matches of a scan session",
	Args:  cobra.MaximumNArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error {
		return runQuery("matches", func(q *reftrace.QueryBuilder) (any, error) {
			matches, err := q.Matches(sessionArg(args))
			if err != nil {
				return nil, err
			}
			out := make([]CLIMatch, len(matches))
			for i, m := range matches {
				out[i] = matchToCLI(*m)
			}
			return out, nil
		})
	},
}

var errorsCmd = &cobra.Command{
	Use:   "errors [session]",
	Short: "List the items a scan session could not read",
	Args:  cobra.MaximumNArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error {
		return runQuery("errors", func(q *reftrace.QueryBuilder) (any, error) {
			errs, err := q.ItemErrors(sessionArg(args))
			if err != nil {
				return nil, err
			}
			out := make([]CLIItemError, len(errs))
			for i, e := range errs {
				out[i] = itemErrorToCLI(*e)
			}
			return out, nil
		})
	},
}

var analysesCmd = &cobra.Command{
	Use:   "analyses",
	Short: "List stored analyses, newest first",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error {
		return runQuery("analyses", func(q *reftrace.QueryBuilder) (any, error) {
			analyses, err := q.Analyses()
			if err != nil {
				return nil, err
			}
			out := make([]CLIAnalysis, len(analyses))
			for i, a := range analyses {
				out[i] = analysisToCLI(a)
			}
			return out, nil
		})
	},
}

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "List the artifacts of an analysis with their layers",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error {
		return runQuery("artifacts", func(q *reftrace.QueryBuilder) (any, error) {
			arts, err := q.Layers(flagAnalysis)
			if err != nil {
				return nil, err
			}
			out := make([]CLIArtifact, len(arts))
			for i, a := range arts {
				out[i] = artifactToCLI(*a)
			}
			return out, nil
		})
	},
}

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Show the processing order of an analysis, grouped by layer",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error {
		return runQuery("order", func(q *reftrace.QueryBuilder) (any, error) {
			order, err := q.ProcessingOrder(flagAnalysis)
			if err != nil {
				return nil, err
			}
			return orderToCLI(order), nil
		})
	},
}

var edgesCmd = &cobra.Command{
	Use:   "edges",
	Short: "List every reference of an analysis",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error {
		return runQuery("edges", func(q *reftrace.QueryBuilder) (any, error) {
			edges, err := q.Edges(flagAnalysis)
			if err != nil {
				return nil, err
			}
			out := make([]CLIEdge, len(edges))
			for i, d := range edges {
				out[i] = edgeToCLI(*d)
			}
			return out, nil
		})
	},
}

var depsCmd = &cobra.Command{
	Use:   "deps <artifact>",
	Short: "List the artifacts an artifact references",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error {
		return runQuery("deps", func(q *reftrace.QueryBuilder) (any, error) {
			return nonNil(q.Dependencies(flagAnalysis, args[0]))
		})
	},
}

var dependentsCmd = &cobra.Command{
	Use:   "dependents <artifact>",
	Short: "List the artifacts that reference an artifact",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error {
		return runQuery("dependents", func(q *reftrace.QueryBuilder) (any, error) {
			return nonNil(q.Dependents(flagAnalysis, args[0]))
		})
	},
}

// nonNil makes an empty path list encode as [] rather than null.
func nonNil(paths []string, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if paths == nil {
		paths = []string{}
	}
	return CLIPaths(paths), nil
}
