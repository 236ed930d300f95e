package store

import (
	"database/sql"
	"fmt"
)

const analysisColumns = "id, scope, status, node_count, edge_count, max_layer, COALESCE(cycle_nodes, ''), created_at"

func scanAnalysis(scanner interface{ Scan(...any) error }) (*Analysis, error) {
	a := &Analysis{}
	var cycle string
	if err := scanner.Scan(&a.ID, &a.Scope, &a.Status, &a.NodeCount, &a.EdgeCount, &a.MaxLayer, &cycle, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.CycleNodes = unmarshalStrings(cycle)
	return a, nil
}

// Analyses returns all stored analyses, newest first.
func (s *Store) Analyses() ([]*Analysis, error) {
	rows, err := s.db.Query("SELECT " + analysisColumns + " FROM analyses ORDER BY created_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("analyses: %w", err)
	}
	defer rows.Close()

	var out []*Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("analyses: scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AnalysisByID returns the analysis with id, or nil if there is none.
func (s *Store) AnalysisByID(id string) (*Analysis, error) {
	a, err := scanAnalysis(s.db.QueryRow("SELECT "+analysisColumns+" FROM analyses WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("analysis by id: %w", err)
	}
	return a, nil
}

// LatestAnalysis returns the newest analysis of scope, or of any scope when
// scope is empty. Returns nil if there is none.
func (s *Store) LatestAnalysis(scope string) (*Analysis, error) {
	q := "SELECT " + analysisColumns + " FROM analyses"
	var args []any
	if scope != "" {
		q += " WHERE scope = ?"
		args = append(args, scope)
	}
	q += " ORDER BY created_at DESC, id LIMIT 1"

	a, err := scanAnalysis(s.db.QueryRow(q, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest analysis: %w", err)
	}
	return a, nil
}

// ArtifactsByAnalysis returns an analysis's artifacts ordered by layer then
// path.
func (s *Store) ArtifactsByAnalysis(analysisID string) ([]*Artifact, error) {
	rows, err := s.db.Query(
		`SELECT analysis_id, path, COALESCE(owner, ''), identity, COALESCE(hash, ''), layer
		 FROM artifacts WHERE analysis_id = ? ORDER BY layer, path`, analysisID,
	)
	if err != nil {
		return nil, fmt.Errorf("artifacts by analysis: %w", err)
	}
	defer rows.Close()

	var out []*Artifact
	for rows.Next() {
		a := &Artifact{}
		if err := rows.Scan(&a.AnalysisID, &a.Path, &a.Owner, &a.Identity, &a.Hash, &a.Layer); err != nil {
			return nil, fmt.Errorf("artifacts by analysis: scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ArtifactByPath returns one artifact of an analysis, or nil.
func (s *Store) ArtifactByPath(analysisID, path string) (*Artifact, error) {
	a := &Artifact{}
	err := s.db.QueryRow(
		`SELECT analysis_id, path, COALESCE(owner, ''), identity, COALESCE(hash, ''), layer
		 FROM artifacts WHERE analysis_id = ? AND path = ?`, analysisID, path,
	).Scan(&a.AnalysisID, &a.Path, &a.Owner, &a.Identity, &a.Hash, &a.Layer)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("artifact by path: %w", err)
	}
	return a, nil
}

// DependenciesOf returns the paths that path depends on within an analysis.
func (s *Store) DependenciesOf(analysisID, path string) ([]string, error) {
	return s.edgePaths(
		"SELECT to_path FROM dependencies WHERE analysis_id = ? AND from_path = ? ORDER BY to_path",
		analysisID, path,
	)
}

// DependentsOf returns the paths that depend on path within an analysis.
func (s *Store) DependentsOf(analysisID, path string) ([]string, error) {
	return s.edgePaths(
		"SELECT from_path FROM dependencies WHERE analysis_id = ? AND to_path = ? ORDER BY from_path",
		analysisID, path,
	)
}

// DependenciesByAnalysis returns every edge of an analysis.
func (s *Store) DependenciesByAnalysis(analysisID string) ([]*Dependency, error) {
	rows, err := s.db.Query(
		"SELECT analysis_id, from_path, to_path FROM dependencies WHERE analysis_id = ? ORDER BY from_path, to_path",
		analysisID,
	)
	if err != nil {
		return nil, fmt.Errorf("dependencies by analysis: %w", err)
	}
	defer rows.Close()

	var out []*Dependency
	for rows.Next() {
		d := &Dependency{}
		if err := rows.Scan(&d.AnalysisID, &d.FromPath, &d.ToPath); err != nil {
			return nil, fmt.Errorf("dependencies by analysis: scan: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) edgePaths(q, analysisID, path string) ([]string, error) {
	rows, err := s.db.Query(q, analysisID, path)
	if err != nil {
		return nil, fmt.Errorf("dependency edges: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
