// Package reftrace finds which artifacts in a project reference a given
// identifier, and orders a project's artifacts by their dependencies.
//
// # Scans
//
// A scan walks every artifact under a scope and reports the ones whose content
// contains the target identifier. Work is sliced into ticks so a scan never
// blocks its caller for long, and it can be cancelled between any two items:
//
//	e, err := reftrace.New(".reftrace/index.db", "path/to/project")
//	if err != nil { ... }
//	defer e.Close()
//
//	rep, err := e.RunScan(ctx, reftrace.ScanRequest{Target: "Assets/Player.prefab"})
//	for _, m := range rep.Matches {
//		fmt.Println(m.ItemID, m.Classification)
//	}
//
// A target naming an existing artifact is resolved to that artifact's
// identity (the guid in its .meta sidecar, or its relative path) before the
// scan starts. Anything else is searched for literally.
//
// Each match is classified by a Risor script chosen by file extension
// (scripts/classify/{ext}.risor, falling back to classify/default.risor).
//
// # Layering
//
// [Engine.Analyze] builds the reference graph of a scope and assigns each
// artifact a layer: one more than the highest layer among the artifacts it
// references, 1 for artifacts that reference nothing. Processing layers in
// ascending order visits every dependency before its dependents. Cyclic
// graphs are reported with [depgraph.ErrCyclicDependency].
//
// # Query API
//
// Scan sessions and analyses are persisted to SQLite. The [QueryBuilder]
// returned by [Engine.Query] reads them back: sessions, matches, item errors,
// layers, processing order, dependencies and dependents.
package reftrace
