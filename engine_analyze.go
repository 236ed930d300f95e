package reftrace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jward/reftrace/internal/depgraph"
	"github.com/jward/reftrace/internal/store"
)

// relaxationSlice is how many relaxation passes Analyze runs between context
// checks.
const relaxationSlice = 8

// AnalysisReport is the outcome of Analyze.
type AnalysisReport struct {
	Analysis  *Analysis
	Artifacts []Artifact
	Layers    depgraph.Assignment // nil for cyclic graphs
	Order     [][]string          // paths grouped by layer, lowest first
	Cycle     []string            // nodes still changing when a cycle was detected
	Duration  time.Duration
}

// Cyclic reports whether the graph could not be layered.
func (r *AnalysisReport) Cyclic() bool {
	return r.Analysis.Status == store.AnalysisCyclic
}

// Analyze builds the reference graph of scope, layers it and persists the
// result, replacing any earlier analysis of the same scope.
//
// A cyclic graph is still persisted, with status "cyclic" and every artifact
// at layer 0. In that case Analyze returns the report together with an error
// matching depgraph.ErrCyclicDependency.
func (e *Engine) Analyze(ctx context.Context, scope string) (*AnalysisReport, error) {
	start := time.Now()
	key := e.scopeKey(scope)
	logger := e.logger.With("component", "analyze", "scope", key)

	items, err := e.host.Enumerate(scope)
	if err != nil {
		return nil, fmt.Errorf("reftrace: enumerate %q: %w", key, err)
	}
	corpus := make([]string, len(items))
	for i, it := range items {
		corpus[i] = it.ID
	}

	oracle, err := e.host.Oracle(corpus)
	if err != nil {
		return nil, fmt.Errorf("reftrace: %w", err)
	}
	infos, err := e.discover(ctx, items, oracle)
	if err != nil {
		return nil, fmt.Errorf("reftrace: analyze %q: %w", key, err)
	}

	refs := make(map[string][]string, len(infos))
	for _, info := range infos {
		refs[info.item.ID] = info.refs
	}
	g, err := depgraph.Build(corpus, depgraph.OracleFunc(func(id string) ([]string, error) {
		return refs[id], nil
	}))
	if err != nil {
		return nil, fmt.Errorf("reftrace: build graph: %w", err)
	}
	logger.Debug("graph built", "nodes", g.Len(), "edges", g.EdgeCount())

	relax := depgraph.NewRelaxation(g)
	for !relax.Done() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("reftrace: analyze %q: %w", key, err)
		}
		relax.Step(relaxationSlice)
	}
	layers := relax.Result()

	a := &Analysis{
		ID:        newID(),
		Scope:     key,
		Status:    store.AnalysisOK,
		NodeCount: g.Len(),
		EdgeCount: g.EdgeCount(),
		MaxLayer:  layers.Max(),
		CreatedAt: start,
	}
	var cycle *depgraph.CycleError
	if errors.As(relax.Err(), &cycle) {
		a.Status = store.AnalysisCyclic
		a.CycleNodes = cycle.Nodes
	}

	artifacts := make([]Artifact, len(infos))
	for i, info := range infos {
		artifacts[i] = Artifact{
			AnalysisID: a.ID,
			Path:       info.item.ID,
			Owner:      info.item.Owner,
			Identity:   info.identity,
			Hash:       info.hash,
			Layer:      layers[info.item.ID],
		}
	}
	edges := g.Edges()
	deps := make([]Dependency, len(edges))
	for i, edge := range edges {
		deps[i] = Dependency{AnalysisID: a.ID, FromPath: edge.From, ToPath: edge.To}
	}

	if err := e.store.CommitAnalysis(a, artifacts, deps); err != nil {
		return nil, fmt.Errorf("reftrace: %w", err)
	}

	report := &AnalysisReport{
		Analysis:  a,
		Artifacts: artifacts,
		Layers:    layers,
		Order:     layers.Order(),
		Duration:  time.Since(start),
	}
	if cycle != nil {
		report.Cycle = cycle.Nodes
		logger.Warn("dependency cycle", "analysis", a.ID, "nodes", len(cycle.Nodes), "passes", relax.Passes())
		return report, fmt.Errorf("reftrace: analyze %q: %w", key, cycle)
	}

	logger.Info("analysis finished",
		"analysis", a.ID,
		"nodes", a.NodeCount,
		"edges", a.EdgeCount,
		"max_layer", a.MaxLayer,
		"passes", relax.Passes(),
	)
	return report, nil
}
