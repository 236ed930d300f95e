package store

import (
	"database/sql"
	"fmt"
)

// CommitScan writes a session together with its matches and item errors in a
// single transaction. Re-committing a session ID replaces the earlier rows.
func (s *Store) CommitScan(batch *ScanBatch) error {
	batch.mu.Lock()
	defer batch.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("commit scan: begin: %w", err)
	}
	defer tx.Rollback()

	sess := batch.Session
	if _, err := tx.Exec("DELETE FROM scan_sessions WHERE id = ?", sess.ID); err != nil {
		return fmt.Errorf("commit scan: clear session: %w", err)
	}
	_, err = tx.Exec(
		`INSERT INTO scan_sessions (id, target, target_path, scope, state, total, processed,
		 match_count, soft_error_count, batch_size, ticks, scripts_hash, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Target, sess.TargetPath, sess.Scope, sess.State, sess.Total, sess.Processed,
		sess.MatchCount, sess.SoftErrorCount, sess.BatchSize, sess.Ticks, sess.ScriptsHash, sess.StartedAt, sess.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("commit scan: session %s: %w", sess.ID, err)
	}

	if err := insertMatchesTx(tx, sess.ID, batch.Matches); err != nil {
		return err
	}
	if err := insertItemErrorsTx(tx, sess.ID, batch.ItemErrors); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit scan: %w", err)
	}
	return nil
}

func insertMatchesTx(tx *sql.Tx, sessionID string, matches []Match) error {
	if len(matches) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(
		"INSERT INTO matches (session_id, seq, item_id, owner, identifier, classification) VALUES (?, ?, ?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("commit scan: prepare matches: %w", err)
	}
	defer stmt.Close()
	for _, m := range matches {
		if _, err := stmt.Exec(sessionID, m.Seq, m.ItemID, m.Owner, m.Identifier, m.Classification); err != nil {
			return fmt.Errorf("commit scan: match %q: %w", m.ItemID, err)
		}
	}
	return nil
}

func insertItemErrorsTx(tx *sql.Tx, sessionID string, errs []ItemError) error {
	if len(errs) == 0 {
		return nil
	}
	stmt, err := tx.Prepare("INSERT INTO item_errors (session_id, item_id, owner, message) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("commit scan: prepare item errors: %w", err)
	}
	defer stmt.Close()
	for _, e := range errs {
		if _, err := stmt.Exec(sessionID, e.ItemID, e.Owner, e.Message); err != nil {
			return fmt.Errorf("commit scan: item error %q: %w", e.ItemID, err)
		}
	}
	return nil
}

// CommitAnalysis writes an analysis with its artifacts and dependency edges
// in a single transaction, replacing every earlier analysis of the same
// scope.
func (s *Store) CommitAnalysis(a *Analysis, artifacts []Artifact, deps []Dependency) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("commit analysis: begin: %w", err)
	}
	defer tx.Rollback()

	// Cascades to artifacts and dependencies.
	if _, err := tx.Exec("DELETE FROM analyses WHERE scope = ? OR id = ?", a.Scope, a.ID); err != nil {
		return fmt.Errorf("commit analysis: replace scope %q: %w", a.Scope, err)
	}
	_, err = tx.Exec(
		`INSERT INTO analyses (id, scope, status, node_count, edge_count, max_layer, cycle_nodes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Scope, a.Status, a.NodeCount, a.EdgeCount, a.MaxLayer, marshalStrings(a.CycleNodes), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("commit analysis: %s: %w", a.ID, err)
	}

	if len(artifacts) > 0 {
		stmt, err := tx.Prepare(
			"INSERT INTO artifacts (analysis_id, path, owner, identity, hash, layer) VALUES (?, ?, ?, ?, ?, ?)",
		)
		if err != nil {
			return fmt.Errorf("commit analysis: prepare artifacts: %w", err)
		}
		defer stmt.Close()
		for _, art := range artifacts {
			if _, err := stmt.Exec(a.ID, art.Path, art.Owner, art.Identity, art.Hash, art.Layer); err != nil {
				return fmt.Errorf("commit analysis: artifact %q: %w", art.Path, err)
			}
		}
	}

	if len(deps) > 0 {
		stmt, err := tx.Prepare("INSERT INTO dependencies (analysis_id, from_path, to_path) VALUES (?, ?, ?)")
		if err != nil {
			return fmt.Errorf("commit analysis: prepare dependencies: %w", err)
		}
		defer stmt.Close()
		for _, d := range deps {
			if _, err := stmt.Exec(a.ID, d.FromPath, d.ToPath); err != nil {
				return fmt.Errorf("commit analysis: dependency %s -> %s: %w", d.FromPath, d.ToPath, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit analysis: %w", err)
	}
	return nil
}
