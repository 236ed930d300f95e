package main

import (
	"time"

	"github.com/jward/reftrace"
)

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command string `json:"command"`
	Results any    `json:"results"`
	Error   string `json:"error,omitempty"`
}

// CLIMatch is a JSON-friendly scan match.
type CLIMatch struct {
	Seq            int    `json:"seq"`
	Path           string `json:"path"`
	Owner          string `json:"owner"`
	Identifier     string `json:"identifier"`
	Classification string `json:"classification,omitempty"`
}

// CLIItemError is a JSON-friendly soft item error.
type CLIItemError struct {
	Path    string `json:"path"`
	Owner   string `json:"owner"`
	Message string `json:"message"`
}

// CLIScan is the result of the scan command.
type CLIScan struct {
	SessionID      string         `json:"session_id"`
	Target         string         `json:"target"`
	TargetPath     string         `json:"target_path,omitempty"`
	Scope          string         `json:"scope"`
	State          string         `json:"state"`
	Total          int            `json:"total"`
	Processed      int            `json:"processed"`
	MatchCount     int            `json:"match_count"`
	SoftErrorCount int            `json:"soft_error_count"`
	Ticks          int            `json:"ticks"`
	DurationMS     int64          `json:"duration_ms"`
	Matches        []CLIMatch     `json:"matches"`
	Errors         []CLIItemError `json:"errors,omitempty"`
}

// CLISession is a JSON-friendly stored scan session.
type CLISession struct {
	ID             string    `json:"id"`
	Target         string    `json:"target"`
	TargetPath     string    `json:"target_path,omitempty"`
	Scope          string    `json:"scope"`
	State          string    `json:"state"`
	Total          int       `json:"total"`
	Processed      int       `json:"processed"`
	MatchCount     int       `json:"match_count"`
	SoftErrorCount int       `json:"soft_error_count"`
	BatchSize      int       `json:"batch_size"`
	Ticks          int       `json:"ticks"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// CLIAnalysis is a JSON-friendly stored analysis.
type CLIAnalysis struct {
	ID         string    `json:"id"`
	Scope      string    `json:"scope"`
	Status     string    `json:"status"`
	NodeCount  int       `json:"node_count"`
	EdgeCount  int       `json:"edge_count"`
	MaxLayer   int       `json:"max_layer"`
	CycleNodes []string  `json:"cycle_nodes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CLIArtifact is a JSON-friendly analysed artifact.
type CLIArtifact struct {
	Path     string `json:"path"`
	Owner    string `json:"owner"`
	Identity string `json:"identity"`
	Hash     string `json:"hash,omitempty"`
	Layer    int    `json:"layer"`
}

// CLIEdge is one reference between artifacts.
type CLIEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// CLILayer is one group of the processing order.
type CLILayer struct {
	Layer int      `json:"layer"`
	Paths []string `json:"paths"`
}

// CLILayers is the result of the layers command.
type CLILayers struct {
	Analysis CLIAnalysis `json:"analysis"`
	Layers   []CLILayer  `json:"layers"`
}

// CLIIdentity is the result of the identify command.
type CLIIdentity struct {
	Path     string `json:"path"`
	Identity string `json:"identity"`
	Source   string `json:"source,omitempty"`
}

// CLIPaths is a list of artifact paths.
type CLIPaths []string

func matchToCLI(m reftrace.Match) CLIMatch {
	return CLIMatch{
		Seq:            m.Seq,
		Path:           m.ItemID,
		Owner:          m.Owner,
		Identifier:     m.Identifier,
		Classification: m.Classification,
	}
}

func itemErrorToCLI(e reftrace.ItemError) CLIItemError {
	return CLIItemError{Path: e.ItemID, Owner: e.Owner, Message: e.Message}
}

func scanToCLI(r *reftrace.ScanReport) CLIScan {
	out := CLIScan{
		SessionID:      r.SessionID,
		Target:         r.Target,
		TargetPath:     r.TargetPath,
		Scope:          r.Scope,
		State:          r.State.String(),
		Total:          r.Progress.Total,
		Processed:      r.Progress.Processed,
		MatchCount:     r.Progress.MatchCount,
		SoftErrorCount: len(r.ItemErrors),
		Ticks:          r.Ticks,
		DurationMS:     r.Duration.Milliseconds(),
		Matches:        make([]CLIMatch, len(r.Matches)),
	}
	for i, m := range r.Matches {
		out.Matches[i] = matchToCLI(m)
	}
	for _, e := range r.ItemErrors {
		out.Errors = append(out.Errors, itemErrorToCLI(e))
	}
	return out
}

func sessionToCLI(s *reftrace.ScanSession) CLISession {
	return CLISession{
		ID:             s.ID,
		Target:         s.Target,
		TargetPath:     s.TargetPath,
		Scope:          s.Scope,
		State:          s.State,
		Total:          s.Total,
		Processed:      s.Processed,
		MatchCount:     s.MatchCount,
		SoftErrorCount: s.SoftErrorCount,
		BatchSize:      s.BatchSize,
		Ticks:          s.Ticks,
		StartedAt:      s.StartedAt,
		FinishedAt:     s.FinishedAt,
	}
}

func analysisToCLI(a *reftrace.Analysis) CLIAnalysis {
	return CLIAnalysis{
		ID:         a.ID,
		Scope:      a.Scope,
		Status:     a.Status,
		NodeCount:  a.NodeCount,
		EdgeCount:  a.EdgeCount,
		MaxLayer:   a.MaxLayer,
		CycleNodes: a.CycleNodes,
		CreatedAt:  a.CreatedAt,
	}
}

func artifactToCLI(a reftrace.Artifact) CLIArtifact {
	return CLIArtifact{
		Path:     a.Path,
		Owner:    a.Owner,
		Identity: a.Identity,
		Hash:     a.Hash,
		Layer:    a.Layer,
	}
}

func edgeToCLI(d reftrace.Dependency) CLIEdge {
	return CLIEdge{From: d.FromPath, To: d.ToPath}
}

func orderToCLI(order [][]string) []CLILayer {
	out := make([]CLILayer, len(order))
	for i, paths := range order {
		out[i] = CLILayer{Layer: i + 1, Paths: paths}
	}
	return out
}

func layersToCLI(r *reftrace.AnalysisReport) CLILayers {
	return CLILayers{
		Analysis: analysisToCLI(r.Analysis),
		Layers:   orderToCLI(r.Order),
	}
}
