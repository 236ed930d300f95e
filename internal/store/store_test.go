package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testSession(id string, started time.Time) ScanSession {
	return ScanSession{
		ID:         id,
		Target:     "guid-1",
		TargetPath: "Assets/a.prefab",
		Scope:      "Assets",
		State:      "completed",
		Total:      3,
		Processed:  3,
		MatchCount: 2,
		BatchSize:  2,
		Ticks:      2,
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
	}
}

// commitTestSession stores a session with the given number of matches.
func commitTestSession(t *testing.T, s *Store, id string, started time.Time, matches int) *ScanBatch {
	t.Helper()
	b := NewScanBatch(testSession(id, started))
	for i := range matches {
		b.RecordMatch(Match{ItemID: fmt.Sprintf("Assets/m%d.prefab", i), Owner: "Assets", Identifier: "guid-1", Classification: "prefab"})
	}
	require.NoError(t, s.CommitScan(b))
	return b
}

// =============================================================================
// Schema
// =============================================================================

func TestMigrate_AllTablesExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	expectedTables := []string{
		"scan_sessions", "matches", "item_errors",
		"analyses", "artifacts", "dependencies",
	}

	for _, table := range expectedTables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	// Running migrate again should not error.
	require.NoError(t, s.Migrate())
}

func TestMigrate_WALMode(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	var mode string
	err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode)
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)
}

// =============================================================================
// Scan sessions
// =============================================================================

func TestCommitScan_RoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	b := NewScanBatch(testSession("s1", epoch))
	b.RecordMatch(Match{ItemID: "Assets/b.prefab", Owner: "Assets", Identifier: "guid-1", Classification: "prefab"})
	b.RecordItemError(ItemError{ItemID: "Assets/c.prefab", Owner: "Assets", Message: "permission denied"})
	b.RecordMatch(Match{ItemID: "Assets/a.unity", Owner: "Assets", Identifier: "guid-1", Classification: "scene"})
	require.NoError(t, s.CommitScan(b))

	sess, err := s.SessionByID("s1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "guid-1", sess.Target)
	assert.Equal(t, "Assets/a.prefab", sess.TargetPath)
	assert.Equal(t, "completed", sess.State)
	assert.Equal(t, 3, sess.Processed)
	assert.True(t, epoch.Equal(sess.StartedAt), "started_at %v", sess.StartedAt)

	matches, err := s.MatchesBySession("s1")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "Assets/b.prefab", matches[0].ItemID)
	assert.Equal(t, 0, matches[0].Seq)
	assert.Equal(t, "Assets/a.unity", matches[1].ItemID)
	assert.Equal(t, 1, matches[1].Seq)
	assert.Equal(t, "scene", matches[1].Classification)

	errs, err := s.ItemErrorsBySession("s1")
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "permission denied", errs[0].Message)
	assert.Equal(t, "s1", errs[0].SessionID)
}

func TestCommitScan_ReplacesSameSession(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	commitTestSession(t, s, "s1", epoch, 3)
	commitTestSession(t, s, "s1", epoch, 1)

	matches, err := s.MatchesBySession("s1")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestSessionByID_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	sess, err := s.SessionByID("missing")
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestSessions_NewestFirstWithLimit(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	commitTestSession(t, s, "old", epoch, 0)
	commitTestSession(t, s, "new", epoch.Add(time.Hour), 0)
	commitTestSession(t, s, "mid", epoch.Add(time.Minute), 0)

	all, err := s.Sessions(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{all[0].ID, all[1].ID, all[2].ID})

	two, err := s.Sessions(2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestSessionIDsByPrefix(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	commitTestSession(t, s, "abc-1", epoch, 0)
	commitTestSession(t, s, "abd-2", epoch, 0)

	ids, err := s.SessionIDsByPrefix("ab")
	require.NoError(t, err)
	assert.Equal(t, []string{"abc-1", "abd-2"}, ids)

	ids, err = s.SessionIDsByPrefix("abc")
	require.NoError(t, err)
	assert.Equal(t, []string{"abc-1"}, ids)
}

func TestPruneSessions_CascadesMatches(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	commitTestSession(t, s, "s1", epoch, 2)
	commitTestSession(t, s, "s2", epoch.Add(time.Minute), 2)
	commitTestSession(t, s, "s3", epoch.Add(2*time.Minute), 2)

	removed, err := s.PruneSessions(1)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	all, err := s.Sessions(0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "s3", all[0].ID)

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM matches").Scan(&n))
	assert.Equal(t, 2, n, "matches of pruned sessions are deleted")
}

func TestDeleteSessions_Empty(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.DeleteSessions(nil))
}

// =============================================================================
// Analyses
// =============================================================================

func testAnalysis(id, scope string, created time.Time) *Analysis {
	return &Analysis{ID: id, Scope: scope, Status: AnalysisOK, NodeCount: 3, EdgeCount: 2, MaxLayer: 3, CreatedAt: created}
}

func chainArtifacts(id string) ([]Artifact, []Dependency) {
	arts := []Artifact{
		{Path: "A", Owner: ".", Identity: "ga", Hash: ContentHash([]byte("A")), Layer: 3},
		{Path: "B", Owner: ".", Identity: "gb", Layer: 2},
		{Path: "C", Owner: ".", Identity: "gc", Layer: 1},
	}
	deps := []Dependency{
		{AnalysisID: id, FromPath: "A", ToPath: "B"},
		{AnalysisID: id, FromPath: "B", ToPath: "C"},
	}
	return arts, deps
}

func TestCommitAnalysis_RoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	arts, deps := chainArtifacts("a1")
	require.NoError(t, s.CommitAnalysis(testAnalysis("a1", "Assets", epoch), arts, deps))

	a, err := s.AnalysisByID("a1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, AnalysisOK, a.Status)
	assert.Equal(t, 3, a.MaxLayer)
	assert.Nil(t, a.CycleNodes)

	got, err := s.ArtifactsByAnalysis("a1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"C", "B", "A"}, []string{got[0].Path, got[1].Path, got[2].Path})
	assert.Equal(t, ContentHash([]byte("A")), got[2].Hash)

	art, err := s.ArtifactByPath("a1", "B")
	require.NoError(t, err)
	require.NotNil(t, art)
	assert.Equal(t, 2, art.Layer)

	missing, err := s.ArtifactByPath("a1", "Z")
	require.NoError(t, err)
	assert.Nil(t, missing)

	out, err := s.DependenciesOf("a1", "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, out)

	in, err := s.DependentsOf("a1", "C")
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, in)

	edges, err := s.DependenciesByAnalysis("a1")
	require.NoError(t, err)
	assert.Len(t, edges, 2)
}

func TestCommitAnalysis_ReplacesScope(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	arts, deps := chainArtifacts("a1")
	require.NoError(t, s.CommitAnalysis(testAnalysis("a1", "Assets", epoch), arts, deps))
	require.NoError(t, s.CommitAnalysis(testAnalysis("other", "Packages", epoch), nil, nil))

	arts2, deps2 := chainArtifacts("a2")
	require.NoError(t, s.CommitAnalysis(testAnalysis("a2", "Assets", epoch.Add(time.Hour)), arts2, deps2))

	old, err := s.AnalysisByID("a1")
	require.NoError(t, err)
	assert.Nil(t, old)

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM artifacts WHERE analysis_id = 'a1'").Scan(&n))
	assert.Zero(t, n)

	all, err := s.Analyses()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a2", all[0].ID)

	latest, err := s.LatestAnalysis("Packages")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "other", latest.ID)

	latest, err = s.LatestAnalysis("")
	require.NoError(t, err)
	assert.Equal(t, "a2", latest.ID)
}

func TestCommitAnalysis_Cyclic(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	a := &Analysis{ID: "c1", Scope: "", Status: AnalysisCyclic, NodeCount: 2, EdgeCount: 2, CycleNodes: []string{"A", "B"}, CreatedAt: epoch}
	require.NoError(t, s.CommitAnalysis(a, []Artifact{{Path: "A", Identity: "A"}, {Path: "B", Identity: "B"}}, nil))

	got, err := s.LatestAnalysis("")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, AnalysisCyclic, got.Status)
	assert.Equal(t, []string{"A", "B"}, got.CycleNodes)
	assert.Zero(t, got.MaxLayer)
}

func TestLatestAnalysis_None(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	a, err := s.LatestAnalysis("Assets")
	require.NoError(t, err)
	assert.Nil(t, a)
}

// =============================================================================
// Helpers
// =============================================================================

func TestContentHash(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ContentHash([]byte("x")), ContentHash([]byte("x")))
	assert.NotEqual(t, ContentHash([]byte("x")), ContentHash([]byte("y")))
	assert.Len(t, ContentHash(nil), 64)
}

func TestPlaceholderList(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", placeholderList(0))
	assert.Equal(t, "?", placeholderList(1))
	assert.Equal(t, "?,?,?", placeholderList(3))
}

func TestMarshalStrings(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "[]", marshalStrings(nil))
	assert.Equal(t, []string{"a", "b"}, unmarshalStrings(marshalStrings([]string{"a", "b"})))
	assert.Nil(t, unmarshalStrings(""))
}

func TestScanBatch_AssignsSeqAndSession(t *testing.T) {
	t.Parallel()
	b := NewScanBatch(ScanSession{ID: "sx"})
	b.RecordMatch(Match{ItemID: "a"})
	b.RecordMatch(Match{ItemID: "b"})
	b.RecordItemError(ItemError{ItemID: "c", Message: "boom"})

	require.Len(t, b.Matches, 2)
	assert.Equal(t, 1, b.Matches[1].Seq)
	assert.Equal(t, "sx", b.Matches[0].SessionID)
	assert.Equal(t, "sx", b.ItemErrors[0].SessionID)
}
