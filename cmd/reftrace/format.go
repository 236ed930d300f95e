package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// formatMatchesText formats CLIMatch results as aligned columns.
func formatMatchesText(w io.Writer, matches []CLIMatch) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tPATH\tOWNER\tCLASS")
	for _, m := range matches {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", m.Seq, m.Path, m.Owner, m.Classification)
	}
	tw.Flush()
}

// formatItemErrorsText formats CLIItemError results as aligned columns.
func formatItemErrorsText(w io.Writer, errs []CLIItemError) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tOWNER\tERROR")
	for _, e := range errs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Path, e.Owner, e.Message)
	}
	tw.Flush()
}

// formatScanText formats a CLIScan as a summary followed by its matches.
func formatScanText(w io.Writer, s CLIScan) {
	fmt.Fprintf(w, "Session: %s\n", s.SessionID)
	if s.TargetPath != "" {
		fmt.Fprintf(w, "Target: %s (%s)\n", s.Target, s.TargetPath)
	} else {
		fmt.Fprintf(w, "Target: %s\n", s.Target)
	}
	fmt.Fprintf(w, "State: %s, %d/%d scanned in %d ticks (%s)\n",
		s.State, s.Processed, s.Total, s.Ticks, (time.Duration(s.DurationMS) * time.Millisecond).String())
	fmt.Fprintf(w, "Matches: %d, errors: %d\n", s.MatchCount, s.SoftErrorCount)

	if len(s.Matches) > 0 {
		fmt.Fprintln(w)
		formatMatchesText(w, s.Matches)
	}
	if len(s.Errors) > 0 {
		fmt.Fprintln(w)
		formatItemErrorsText(w, s.Errors)
	}
}

// formatSessionsText formats CLISession results as aligned columns.
func formatSessionsText(w io.Writer, sessions []CLISession) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTARGET\tSTATE\tSCANNED\tMATCHES\tERRORS\tSTARTED")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%d\t%s\n",
			shortID(s.ID), s.Target, s.State, s.Processed, s.Total, s.MatchCount, s.SoftErrorCount,
			s.StartedAt.Local().Format(time.DateTime))
	}
	tw.Flush()
}

// formatAnalysesText formats CLIAnalysis results as aligned columns.
func formatAnalysesText(w io.Writer, analyses []CLIAnalysis) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCOPE\tSTATUS\tNODES\tEDGES\tLAYERS\tCREATED")
	for _, a := range analyses {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			shortID(a.ID), a.Scope, a.Status, a.NodeCount, a.EdgeCount, a.MaxLayer,
			a.CreatedAt.Local().Format(time.DateTime))
	}
	tw.Flush()
}

// formatArtifactsText formats CLIArtifact results as aligned columns.
func formatArtifactsText(w io.Writer, arts []CLIArtifact) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LAYER\tPATH\tIDENTITY")
	for _, a := range arts {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", a.Layer, a.Path, a.Identity)
	}
	tw.Flush()
}

// formatEdgesText prints one reference per line.
func formatEdgesText(w io.Writer, edges []CLIEdge) {
	for _, e := range edges {
		fmt.Fprintf(w, "%s -> %s\n", e.From, e.To)
	}
}

// formatOrderText prints one block per layer.
func formatOrderText(w io.Writer, layers []CLILayer) {
	for i, l := range layers {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "Layer %d:\n", l.Layer)
		for _, p := range l.Paths {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
}

// formatAnalysisText formats a single analysis summary.
func formatAnalysisText(w io.Writer, a CLIAnalysis) {
	fmt.Fprintf(w, "Analysis: %s (scope %s)\n", a.ID, a.Scope)
	fmt.Fprintf(w, "Status: %s, %d artifacts, %d references, %d layers\n",
		a.Status, a.NodeCount, a.EdgeCount, a.MaxLayer)
	if len(a.CycleNodes) > 0 {
		fmt.Fprintln(w, "Cycle:")
		for _, n := range a.CycleNodes {
			fmt.Fprintf(w, "  %s\n", n)
		}
	}
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case CLIScan:
		formatScanText(w, v)
	case []CLIMatch:
		formatMatchesText(w, v)
	case []CLIItemError:
		formatItemErrorsText(w, v)
	case []CLISession:
		formatSessionsText(w, v)
	case CLISession:
		formatSessionsText(w, []CLISession{v})
	case []CLIAnalysis:
		formatAnalysesText(w, v)
	case CLIAnalysis:
		formatAnalysisText(w, v)
	case []CLIArtifact:
		formatArtifactsText(w, v)
	case []CLIEdge:
		formatEdgesText(w, v)
	case []CLILayer:
		formatOrderText(w, v)
	case CLILayers:
		formatAnalysisText(w, v.Analysis)
		fmt.Fprintln(w)
		formatOrderText(w, v.Layers)
	case CLIIdentity:
		fmt.Fprintf(w, "%s\t%s\t%s\n", v.Path, v.Identity, v.Source)
	case CLIPaths:
		for _, p := range v {
			fmt.Fprintln(w, p)
		}
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

// shortID trims a UUID to its first block for tables.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// outputResult marshals a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(stdout, result)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	return outputErrorWith(command, nil, err)
}

// outputErrorWith is outputError carrying partial results, such as the
// analysis record of a cyclic graph.
func outputErrorWith(command string, results any, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		if results != nil {
			_ = outputResultText(os.Stderr, CLIResult{Command: command, Results: results})
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	result := CLIResult{
		Command: command,
		Results: results,
		Error:   err.Error(),
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	return err
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
