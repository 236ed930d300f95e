package reftrace

import (
	"fmt"
	"strings"

	"github.com/jward/reftrace/internal/depgraph"
	"github.com/jward/reftrace/internal/store"
)

// LatestRef selects the newest session or analysis wherever a reference is
// accepted. An empty reference means the same.
const LatestRef = "latest"

// QueryBuilder provides read access to persisted scan sessions and analyses.
type QueryBuilder struct {
	store *store.Store
}

// NewQueryBuilder returns a QueryBuilder over s.
func NewQueryBuilder(s *store.Store) *QueryBuilder {
	return &QueryBuilder{store: s}
}

// Sessions returns the newest sessions first. limit <= 0 returns all.
func (q *QueryBuilder) Sessions(limit int) ([]*ScanSession, error) {
	return q.store.Sessions(limit)
}

// Session resolves ref, a full session ID, a unique ID prefix or "latest".
func (q *QueryBuilder) Session(ref string) (*ScanSession, error) {
	if ref == "" || ref == LatestRef {
		sessions, err := q.store.Sessions(1)
		if err != nil {
			return nil, err
		}
		if len(sessions) == 0 {
			return nil, ErrSessionNotFound
		}
		return sessions[0], nil
	}

	sess, err := q.store.SessionByID(ref)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	ids, err := q.store.SessionIDsByPrefix(ref)
	if err != nil {
		return nil, err
	}
	switch len(ids) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, ref)
	case 1:
		return q.store.SessionByID(ids[0])
	default:
		return nil, fmt.Errorf("%w: %s matches %s", ErrAmbiguousSession, ref, strings.Join(ids, ", "))
	}
}

// Matches returns the matches of the referenced session in scan order.
func (q *QueryBuilder) Matches(ref string) ([]*Match, error) {
	sess, err := q.Session(ref)
	if err != nil {
		return nil, err
	}
	return q.store.MatchesBySession(sess.ID)
}

// ItemErrors returns the soft item errors of the referenced session.
func (q *QueryBuilder) ItemErrors(ref string) ([]*ItemError, error) {
	sess, err := q.Session(ref)
	if err != nil {
		return nil, err
	}
	return q.store.ItemErrorsBySession(sess.ID)
}

// Analyses returns every stored analysis, newest first.
func (q *QueryBuilder) Analyses() ([]*Analysis, error) {
	return q.store.Analyses()
}

// Analysis resolves ref, an analysis ID, a scope, or "latest".
func (q *QueryBuilder) Analysis(ref string) (*Analysis, error) {
	if ref == "" || ref == LatestRef {
		return q.latest("")
	}
	a, err := q.store.AnalysisByID(ref)
	if err != nil {
		return nil, err
	}
	if a != nil {
		return a, nil
	}
	return q.latest(ref)
}

func (q *QueryBuilder) latest(scope string) (*Analysis, error) {
	a, err := q.store.LatestAnalysis(scope)
	if err != nil {
		return nil, err
	}
	if a == nil {
		if scope == "" {
			return nil, ErrNoAnalysis
		}
		return nil, fmt.Errorf("%w for %s", ErrNoAnalysis, scope)
	}
	return a, nil
}

// Layers returns the artifacts of the referenced analysis ordered by layer
// then path.
func (q *QueryBuilder) Layers(ref string) ([]*Artifact, error) {
	a, err := q.Analysis(ref)
	if err != nil {
		return nil, err
	}
	return q.store.ArtifactsByAnalysis(a.ID)
}

// ProcessingOrder returns the referenced analysis's paths grouped by layer,
// lowest first. A cyclic analysis has no order and yields an error matching
// depgraph.ErrCyclicDependency.
func (q *QueryBuilder) ProcessingOrder(ref string) ([][]string, error) {
	a, err := q.Analysis(ref)
	if err != nil {
		return nil, err
	}
	if a.Status == store.AnalysisCyclic {
		return nil, &depgraph.CycleError{Nodes: a.CycleNodes}
	}
	arts, err := q.store.ArtifactsByAnalysis(a.ID)
	if err != nil {
		return nil, err
	}

	assign := make(depgraph.Assignment, len(arts))
	for _, art := range arts {
		assign[art.Path] = art.Layer
	}
	return assign.Order(), nil
}

// Edges returns every reference of the referenced analysis, ordered by
// source then target.
func (q *QueryBuilder) Edges(ref string) ([]*Dependency, error) {
	a, err := q.Analysis(ref)
	if err != nil {
		return nil, err
	}
	return q.store.DependenciesByAnalysis(a.ID)
}

// Dependencies returns what path references in the referenced analysis.
func (q *QueryBuilder) Dependencies(ref, path string) ([]string, error) {
	a, err := q.artifactAnalysis(ref, path)
	if err != nil {
		return nil, err
	}
	return q.store.DependenciesOf(a.ID, path)
}

// Dependents returns what references path in the referenced analysis.
func (q *QueryBuilder) Dependents(ref, path string) ([]string, error) {
	a, err := q.artifactAnalysis(ref, path)
	if err != nil {
		return nil, err
	}
	return q.store.DependentsOf(a.ID, path)
}

// artifactAnalysis resolves ref and checks that path is one of its artifacts.
func (q *QueryBuilder) artifactAnalysis(ref, path string) (*Analysis, error) {
	a, err := q.Analysis(ref)
	if err != nil {
		return nil, err
	}
	art, err := q.store.ArtifactByPath(a.ID, path)
	if err != nil {
		return nil, err
	}
	if art == nil {
		return nil, fmt.Errorf("artifact %s is not part of analysis %s (scope %s)", path, a.ID, a.Scope)
	}
	return a, nil
}
