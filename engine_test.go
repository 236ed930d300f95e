package reftrace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/reftrace/internal/depgraph"
	"github.com/jward/reftrace/internal/host"
	"github.com/jward/reftrace/internal/scan"
	"github.com/jward/reftrace/internal/store"
)

const (
	playerGUID = "4f1e0c2a9b7d4e3f8a6b5c4d3e2f1a0b"
	enemyGUID  = "9a8b7c6d5e4f40312a1b0c9d8e7f6a5b"
)

func fixtureRoot(t *testing.T) string {
	t.Helper()
	root, err := filepath.Abs(filepath.Join("testdata", "project"))
	require.NoError(t, err)
	return root
}

func newTestEngine(t *testing.T, root string, opts ...Option) *Engine {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	e, err := New(dbPath, root, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

// stuckTicks never fires.
type stuckTicks struct{ c chan time.Time }

func (s stuckTicks) C() <-chan time.Time { return s.c }
func (s stuckTicks) Stop()               {}

// eagerTicks is always ready.
type eagerTicks struct{ c chan time.Time }

func newEagerTicks() eagerTicks {
	c := make(chan time.Time)
	close(c)
	return eagerTicks{c: c}
}

func (s eagerTicks) C() <-chan time.Time { return s.c }
func (s eagerTicks) Stop()               {}

// flakyHost fails to read one artifact.
type flakyHost struct {
	*host.FSHost
	broken string
}

func (h *flakyHost) ReadContent(rel string) ([]byte, error) {
	if rel == h.broken {
		return nil, fmt.Errorf("read %s: %w", rel, os.ErrPermission)
	}
	return h.FSHost.ReadContent(rel)
}

// bundleHost tags every item with one owner.
type bundleHost struct {
	*host.FSHost
	owner string
}

func (h *bundleHost) Enumerate(scope string) ([]scan.Item, error) {
	items, err := h.FSHost.Enumerate(scope)
	for i := range items {
		items[i].Owner = h.owner
	}
	return items, err
}

// countingHost counts content reads and oracle lookups that read again.
type countingHost struct {
	*host.FSHost
	reads   atomic.Int64
	lookups atomic.Int64
}

func (h *countingHost) ReadContent(rel string) ([]byte, error) {
	h.reads.Add(1)
	return h.FSHost.ReadContent(rel)
}

func (h *countingHost) Oracle(corpus []string) (host.ReferenceOracle, error) {
	o, err := h.FSHost.Oracle(corpus)
	if err != nil {
		return nil, err
	}
	return &countingOracle{ContentOracle: o.(host.ContentOracle), lookups: &h.lookups}, nil
}

type countingOracle struct {
	host.ContentOracle
	lookups *atomic.Int64
}

func (o *countingOracle) ReferencesOf(rel string) ([]string, error) {
	o.lookups.Add(1)
	return o.ContentOracle.ReferencesOf(rel)
}

func matchPaths(ms []Match) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ItemID
	}
	return out
}

func TestNew_DefaultsToEmbeddedScripts(t *testing.T) {
	e := newTestEngine(t, t.TempDir())

	require.NotNil(t, e.store)
	require.NotNil(t, e.runtime)
	require.NotNil(t, e.scriptsFS)
	assert.Len(t, e.ScriptsHash(), 64)
}

func TestNew_CreatesDatabaseDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", ".reftrace", "index.db")
	e, err := New(dbPath, t.TempDir())
	require.NoError(t, err)
	defer e.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestNew_InvalidBatchSize(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "test.db"), t.TempDir(), WithBatchSize(0))
	assert.ErrorIs(t, err, scan.ErrInvalidBatchSize)
}

func TestNew_MissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "test.db"), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestScriptsHash_ChangesWithScripts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "classify"), 0o755))
	script := filepath.Join(dir, "classify", "default.risor")
	require.NoError(t, os.WriteFile(script, []byte(`"one"`), 0o644))

	e := newTestEngine(t, t.TempDir(), WithScriptsDir(dir))
	before := e.ScriptsHash()
	require.NoError(t, os.WriteFile(script, []byte(`"two"`), 0o644))
	assert.NotEqual(t, before, e.ScriptsHash())
}

func TestIdentify(t *testing.T) {
	e := newTestEngine(t, fixtureRoot(t))

	info, err := e.Identify("Assets/Prefabs/Player.prefab")
	require.NoError(t, err)
	assert.Equal(t, "Assets/Prefabs/Player.prefab", info.Path)
	assert.Equal(t, playerGUID, info.Identity)
	assert.Equal(t, "meta", info.Source)

	info, err = e.Identify("Assets/Scenes/Empty.unity")
	require.NoError(t, err)
	assert.Equal(t, "Assets/Scenes/Empty.unity", info.Identity)
	assert.Equal(t, "path", info.Source)

	_, err = e.Identify("Assets/Missing.prefab")
	assert.Error(t, err)
}

func TestRunScan_ResolvesTargetIdentity(t *testing.T) {
	e := newTestEngine(t, fixtureRoot(t))

	rep, err := e.RunScan(context.Background(), ScanRequest{Target: "Assets/Prefabs/Player.prefab"})
	require.NoError(t, err)

	assert.Equal(t, playerGUID, rep.Target)
	assert.Equal(t, "Assets/Prefabs/Player.prefab", rep.TargetPath)
	assert.Equal(t, ".", rep.Scope)
	assert.Equal(t, scan.StateCompleted, rep.State)
	assert.False(t, rep.Cancelled())
	assert.Equal(t, Progress{Processed: 5, Total: 5, MatchCount: 3}, rep.Progress)
	assert.Equal(t, 1, rep.Ticks)
	assert.Empty(t, rep.ItemErrors)

	require.Len(t, rep.Matches, 3)
	assert.Equal(t, []string{
		"Assets/Prefabs/Enemy.prefab",
		"Assets/Scenes/Main.unity",
		"src/loader.go",
	}, matchPaths(rep.Matches))

	assert.Equal(t, "prefab", rep.Matches[0].Classification)
	assert.Equal(t, "scene", rep.Matches[1].Classification)
	assert.Equal(t, "comment", rep.Matches[2].Classification)
	assert.Equal(t, "Assets", rep.Matches[0].Owner)
	assert.Equal(t, "src", rep.Matches[2].Owner)
	for i, m := range rep.Matches {
		assert.Equal(t, i, m.Seq)
		assert.Equal(t, playerGUID, m.Identifier)
	}
}

func TestRunScan_PersistsSession(t *testing.T) {
	e := newTestEngine(t, fixtureRoot(t))

	rep, err := e.RunScan(context.Background(), ScanRequest{Target: "Assets/Prefabs/Player.prefab"})
	require.NoError(t, err)

	sess, err := e.Query().Session(rep.SessionID)
	require.NoError(t, err)
	assert.Equal(t, playerGUID, sess.Target)
	assert.Equal(t, "Assets/Prefabs/Player.prefab", sess.TargetPath)
	assert.Equal(t, "completed", sess.State)
	assert.Equal(t, 5, sess.Total)
	assert.Equal(t, 5, sess.Processed)
	assert.Equal(t, 3, sess.MatchCount)
	assert.Equal(t, scan.DefaultBatchSize, sess.BatchSize)
	assert.Equal(t, e.ScriptsHash(), sess.ScriptsHash)
	assert.False(t, sess.FinishedAt.Before(sess.StartedAt))

	matches, err := e.Query().Matches(rep.SessionID)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "Assets/Prefabs/Enemy.prefab", matches[0].ItemID)
	assert.Equal(t, "comment", matches[2].Classification)
}

func TestRunScan_LiteralTarget(t *testing.T) {
	e := newTestEngine(t, fixtureRoot(t))

	rep, err := e.RunScan(context.Background(), ScanRequest{Target: enemyGUID})
	require.NoError(t, err)

	assert.Equal(t, enemyGUID, rep.Target)
	assert.Empty(t, rep.TargetPath)
	assert.Equal(t, 6, rep.Progress.Total)
	assert.Equal(t, []string{"Assets/Scenes/Main.unity"}, matchPaths(rep.Matches))
}

func TestRunScan_EmptyTarget(t *testing.T) {
	e := newTestEngine(t, fixtureRoot(t))
	_, err := e.RunScan(context.Background(), ScanRequest{})
	assert.ErrorIs(t, err, ErrEmptyTarget)
}

func TestRunScan_Scope(t *testing.T) {
	e := newTestEngine(t, fixtureRoot(t))

	rep, err := e.RunScan(context.Background(), ScanRequest{
		Target: "Assets/Prefabs/Player.prefab",
		Scope:  "Assets/Scenes",
	})
	require.NoError(t, err)
	assert.Equal(t, "Assets/Scenes", rep.Scope)
	assert.Equal(t, 2, rep.Progress.Total)
	assert.Equal(t, []string{"Assets/Scenes/Main.unity"}, matchPaths(rep.Matches))
}

func TestRunScan_BadScopeIsStartFailure(t *testing.T) {
	e := newTestEngine(t, fixtureRoot(t))

	_, err := e.RunScan(context.Background(), ScanRequest{Target: "x", Scope: "NoSuchDir"})
	assert.ErrorIs(t, err, scan.ErrStartFailure)

	sessions, err := e.Query().Sessions(0)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRunScan_TicksAreCeilOfItemsOverBatch(t *testing.T) {
	e := newTestEngine(t, fixtureRoot(t), WithBatchSize(2))

	rep, err := e.RunScan(context.Background(), ScanRequest{Target: playerGUID})
	require.NoError(t, err)
	assert.Equal(t, 6, rep.Progress.Total)
	assert.Equal(t, 3, rep.Ticks)

	var seen []Progress
	rep, err = e.RunScan(context.Background(), ScanRequest{
		Target:     playerGUID,
		BatchSize:  4,
		OnProgress: func(p Progress) { seen = append(seen, p) },
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Ticks)
	require.NotEmpty(t, seen)
	assert.Equal(t, 6, seen[len(seen)-1].Processed)
}

func TestRunScan_CancelledBeforeFirstTick(t *testing.T) {
	e := newTestEngine(t, fixtureRoot(t))
	e.ticks = func(time.Duration) host.TickSource { return stuckTicks{c: make(chan time.Time)} }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := e.RunScan(ctx, ScanRequest{Target: playerGUID})
	require.NoError(t, err)
	assert.True(t, rep.Cancelled())
	assert.Equal(t, 0, rep.Progress.Processed)
	assert.Empty(t, rep.Matches)

	sess, err := e.Query().Session(LatestRef)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", sess.State)
	assert.Equal(t, 6, sess.Total)
}

func TestRunScan_CancelMidScan(t *testing.T) {
	files := make(map[string]string)
	for i := range 40 {
		files[fmt.Sprintf("data/%02d.txt", i)] = "needle"
	}
	e := newTestEngine(t, writeTree(t, files), WithBatchSize(1))
	e.ticks = func(time.Duration) host.TickSource { return newEagerTicks() }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rep, err := e.RunScan(ctx, ScanRequest{
		Target:     "needle",
		OnProgress: func(Progress) { cancel() },
	})
	require.NoError(t, err)
	assert.Equal(t, scan.StateCancelled, rep.State)
	assert.GreaterOrEqual(t, rep.Progress.Processed, 1)
	assert.Less(t, rep.Progress.Processed, 40)
	assert.Equal(t, rep.Progress.Processed, len(rep.Matches))
}

func TestRunScan_UnreadableItemIsSoftError(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.txt": "needle",
		"b.txt": "needle",
		"c.txt": "needle",
	})
	h, err := host.NewFSHost(root, host.WithoutGit())
	require.NoError(t, err)
	e := newTestEngine(t, root, WithHost(&flakyHost{FSHost: h, broken: "b.txt"}))

	rep, err := e.RunScan(context.Background(), ScanRequest{Target: "needle"})
	require.NoError(t, err)
	assert.Equal(t, scan.StateCompleted, rep.State)
	assert.Equal(t, 3, rep.Progress.Processed)
	assert.Equal(t, []string{"a.txt", "c.txt"}, matchPaths(rep.Matches))
	require.Len(t, rep.ItemErrors, 1)
	assert.Equal(t, "b.txt", rep.ItemErrors[0].ItemID)

	errs, err := e.Query().ItemErrors(rep.SessionID)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "permission denied")

	sess, err := e.Query().Session(rep.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.SoftErrorCount)
}

func TestRunScan_ScriptsSeeItemOwner(t *testing.T) {
	root := writeTree(t, map[string]string{
		"Assets/a.txt": "needle",
	})
	h, err := host.NewFSHost(root, host.WithoutGit())
	require.NoError(t, err)
	e := newTestEngine(t, root,
		WithHost(&bundleHost{FSHost: h, owner: "bundle-7"}),
		WithScriptsFS(fstest.MapFS{
			"classify/default.risor": &fstest.MapFile{Data: []byte(`owner`)},
		}),
	)

	rep, err := e.RunScan(context.Background(), ScanRequest{Target: "needle"})
	require.NoError(t, err)
	require.Len(t, rep.Matches, 1)
	assert.Equal(t, "bundle-7", rep.Matches[0].Owner)
	assert.Equal(t, "bundle-7", rep.Matches[0].Classification)
}

func TestRunScan_PrunesSessions(t *testing.T) {
	e := newTestEngine(t, fixtureRoot(t), WithKeepSessions(2))

	var last string
	for range 3 {
		rep, err := e.RunScan(context.Background(), ScanRequest{Target: playerGUID})
		require.NoError(t, err)
		last = rep.SessionID
	}

	sessions, err := e.Query().Sessions(0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, last, sessions[0].ID)
}

func TestAnalyze_FixtureLayers(t *testing.T) {
	for _, parallel := range []bool{true, false} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			e := newTestEngine(t, fixtureRoot(t), WithParallel(parallel))

			rep, err := e.Analyze(context.Background(), "")
			require.NoError(t, err)
			assert.False(t, rep.Cyclic())
			assert.Equal(t, ".", rep.Analysis.Scope)
			assert.Equal(t, 6, rep.Analysis.NodeCount)
			assert.Equal(t, 4, rep.Analysis.EdgeCount)
			assert.Equal(t, 3, rep.Analysis.MaxLayer)

			assert.Equal(t, [][]string{
				{"Assets/Prefabs/Player.prefab", "Assets/Scenes/Empty.unity", "README.md"},
				{"Assets/Prefabs/Enemy.prefab", "src/loader.go"},
				{"Assets/Scenes/Main.unity"},
			}, rep.Order)

			require.Len(t, rep.Artifacts, 6)
			for _, art := range rep.Artifacts {
				assert.Len(t, art.Hash, 64, art.Path)
				assert.Equal(t, rep.Layers[art.Path], art.Layer, art.Path)
			}
		})
	}
}

func TestAnalyze_PersistsGraph(t *testing.T) {
	e := newTestEngine(t, fixtureRoot(t))
	_, err := e.Analyze(context.Background(), ".")
	require.NoError(t, err)

	q := e.Query()
	order, err := q.ProcessingOrder(LatestRef)
	require.NoError(t, err)
	require.Len(t, order, 3)
	assert.Equal(t, []string{"Assets/Scenes/Main.unity"}, order[2])

	deps, err := q.Dependencies("", "Assets/Scenes/Main.unity")
	require.NoError(t, err)
	assert.Equal(t, []string{"Assets/Prefabs/Enemy.prefab", "Assets/Prefabs/Player.prefab"}, deps)

	dependents, err := q.Dependents("", "Assets/Prefabs/Player.prefab")
	require.NoError(t, err)
	assert.Equal(t, []string{"Assets/Prefabs/Enemy.prefab", "Assets/Scenes/Main.unity", "src/loader.go"}, dependents)

	arts, err := q.Layers(".")
	require.NoError(t, err)
	require.Len(t, arts, 6)
	assert.Equal(t, 1, arts[0].Layer)
	assert.Equal(t, "Assets/Scenes/Main.unity", arts[5].Path)
	assert.Equal(t, playerGUID, arts[0].Identity)
}

func TestAnalyze_Chain(t *testing.T) {
	root := writeTree(t, map[string]string{
		"top.txt":    "uses mid.txt",
		"mid.txt":    "uses leaf.txt",
		"leaf.txt":   "nothing here",
		"single.txt": "alone",
	})
	e := newTestEngine(t, root)

	rep, err := e.Analyze(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, depgraph.Assignment{
		"leaf.txt":   1,
		"single.txt": 1,
		"mid.txt":    2,
		"top.txt":    3,
	}, rep.Layers)
}

func TestAnalyze_GoImports(t *testing.T) {
	root := writeTree(t, map[string]string{
		"go.mod":            "module example.com/app\n",
		"main.go":           "package main\n\nimport \"example.com/app/util\"\n\nfunc main() { util.Do() }\n",
		"util/util.go":      "package util\n\nfunc Do() {}\n",
		"util/util_test.go": "package util\n",
	})
	e := newTestEngine(t, root, WithExtensions(".go"))

	rep, err := e.Analyze(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Layers["main.go"])
	assert.Equal(t, 1, rep.Layers["util/util.go"])
}

func TestAnalyze_Cycle(t *testing.T) {
	root := writeTree(t, map[string]string{
		"x.txt": "see y.txt",
		"y.txt": "see x.txt",
		"z.txt": "see x.txt",
	})
	e := newTestEngine(t, root)

	rep, err := e.Analyze(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, depgraph.ErrCyclicDependency)
	var ce *depgraph.CycleError
	require.True(t, errors.As(err, &ce))

	require.NotNil(t, rep)
	assert.True(t, rep.Cyclic())
	assert.Nil(t, rep.Layers)
	assert.Nil(t, rep.Order)
	assert.Subset(t, rep.Cycle, []string{"x.txt", "y.txt"})
	for _, art := range rep.Artifacts {
		assert.Equal(t, 0, art.Layer)
	}

	a, err := e.Query().Analysis(LatestRef)
	require.NoError(t, err)
	assert.Equal(t, store.AnalysisCyclic, a.Status)
	assert.Equal(t, rep.Cycle, a.CycleNodes)

	_, err = e.Query().ProcessingOrder(LatestRef)
	assert.ErrorIs(t, err, depgraph.ErrCyclicDependency)
}

func TestAnalyze_ReplacesScope(t *testing.T) {
	e := newTestEngine(t, fixtureRoot(t))

	first, err := e.Analyze(context.Background(), "")
	require.NoError(t, err)
	second, err := e.Analyze(context.Background(), ".")
	require.NoError(t, err)
	_, err = e.Analyze(context.Background(), "Assets")
	require.NoError(t, err)

	analyses, err := e.Query().Analyses()
	require.NoError(t, err)
	require.Len(t, analyses, 2)

	_, err = e.Query().Layers(first.Analysis.ID)
	assert.ErrorIs(t, err, ErrNoAnalysis)
	a, err := e.Query().Analysis(".")
	require.NoError(t, err)
	assert.Equal(t, second.Analysis.ID, a.ID)
}

func TestAnalyze_ReadsEachArtifactOnce(t *testing.T) {
	for _, parallel := range []bool{true, false} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			h, err := host.NewFSHost(fixtureRoot(t), host.WithoutGit())
			require.NoError(t, err)
			ch := &countingHost{FSHost: h}
			e := newTestEngine(t, fixtureRoot(t), WithHost(ch), WithParallel(parallel))

			rep, err := e.Analyze(context.Background(), "")
			require.NoError(t, err)
			assert.Equal(t, int64(rep.Analysis.NodeCount), ch.reads.Load())
			assert.Zero(t, ch.lookups.Load())
			assert.Equal(t, 3, rep.Analysis.MaxLayer)
		})
	}
}

func TestAnalyze_CancelledContext(t *testing.T) {
	e := newTestEngine(t, fixtureRoot(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Analyze(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)

	_, err = e.Query().Analysis(LatestRef)
	assert.ErrorIs(t, err, ErrNoAnalysis)
}
