package store

import (
	"database/sql"
	"fmt"
)

const sessionColumns = `id, target, COALESCE(target_path, ''), COALESCE(scope, ''), state, total, processed,
	match_count, soft_error_count, batch_size, ticks, COALESCE(scripts_hash, ''), started_at, finished_at`

func scanSession(scanner interface{ Scan(...any) error }) (*ScanSession, error) {
	s := &ScanSession{}
	err := scanner.Scan(&s.ID, &s.Target, &s.TargetPath, &s.Scope, &s.State, &s.Total, &s.Processed,
		&s.MatchCount, &s.SoftErrorCount, &s.BatchSize, &s.Ticks, &s.ScriptsHash, &s.StartedAt, &s.FinishedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Sessions returns the most recent sessions first. limit <= 0 returns all.
func (s *Store) Sessions(limit int) ([]*ScanSession, error) {
	q := "SELECT " + sessionColumns + " FROM scan_sessions ORDER BY started_at DESC, id"
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}
	defer rows.Close()

	var out []*ScanSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("sessions: scan: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// SessionByID returns the session with id, or nil if there is none.
func (s *Store) SessionByID(id string) (*ScanSession, error) {
	sess, err := scanSession(s.db.QueryRow("SELECT "+sessionColumns+" FROM scan_sessions WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session by id: %w", err)
	}
	return sess, nil
}

// SessionIDsByPrefix returns the IDs of sessions whose ID starts with prefix.
func (s *Store) SessionIDsByPrefix(prefix string) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT id FROM scan_sessions WHERE substr(id, 1, ?) = ? ORDER BY id", len(prefix), prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("sessions by prefix: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MatchesBySession returns a session's matches in scan order.
func (s *Store) MatchesBySession(sessionID string) ([]*Match, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, seq, item_id, COALESCE(owner, ''), identifier, COALESCE(classification, '')
		 FROM matches WHERE session_id = ? ORDER BY seq`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("matches by session: %w", err)
	}
	defer rows.Close()

	var out []*Match
	for rows.Next() {
		m := &Match{}
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Seq, &m.ItemID, &m.Owner, &m.Identifier, &m.Classification); err != nil {
			return nil, fmt.Errorf("matches by session: scan: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ItemErrorsBySession returns a session's soft item errors in record order.
func (s *Store) ItemErrorsBySession(sessionID string) ([]*ItemError, error) {
	rows, err := s.db.Query(
		"SELECT id, session_id, item_id, COALESCE(owner, ''), message FROM item_errors WHERE session_id = ? ORDER BY id",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("item errors by session: %w", err)
	}
	defer rows.Close()

	var out []*ItemError
	for rows.Next() {
		e := &ItemError{}
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ItemID, &e.Owner, &e.Message); err != nil {
			return nil, fmt.Errorf("item errors by session: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteSessions removes sessions and, by cascade, their matches and errors.
func (s *Store) DeleteSessions(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(
		"DELETE FROM scan_sessions WHERE id IN ("+placeholderList(len(ids))+")", stringsToArgs(ids)...,
	)
	if err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	return nil
}

// PruneSessions keeps the newest keep sessions and deletes the rest. It
// returns the number of sessions removed.
func (s *Store) PruneSessions(keep int) (int, error) {
	if keep < 0 {
		return 0, nil
	}
	rows, err := s.db.Query(
		"SELECT id FROM scan_sessions ORDER BY started_at DESC, id LIMIT -1 OFFSET ?", keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		stale = append(stale, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return len(stale), s.DeleteSessions(stale)
}
