// Package host defines the capabilities the scan and analysis core needs from
// its surroundings, and FSHost, which provides them for a project directory.
//
// Identifiers handed to and returned from these interfaces are artifact paths
// relative to the project root, slash-separated.
package host

import (
	"time"

	"github.com/jward/reftrace/internal/scan"
)

// IdentityResolver maps an artifact to the canonical token other artifacts
// use to reference it.
type IdentityResolver interface {
	Identity(path string) (string, error)
}

// CorpusEnumerator lists the artifacts under a scope. An empty scope is the
// whole project.
type CorpusEnumerator interface {
	Enumerate(scope string) ([]scan.Item, error)
}

// ContentReader returns the raw content of an artifact.
type ContentReader interface {
	ReadContent(path string) ([]byte, error)
}

// ReferenceOracle returns the direct references of an artifact.
type ReferenceOracle interface {
	ReferencesOf(path string) ([]string, error)
}

// ContentOracle is a ReferenceOracle that also works from content the
// caller has already read.
type ContentOracle interface {
	ReferenceOracle
	ReferencesIn(path string, content []byte) ([]string, error)
}

// TickSource is the periodic callback that drives scan ticks.
type TickSource interface {
	C() <-chan time.Time
	Stop()
}

// Host bundles the capabilities a project provides. The oracle is scoped to
// a corpus, so it is created per analysis.
type Host interface {
	IdentityResolver
	CorpusEnumerator
	ContentReader
	Oracle(corpus []string) (ReferenceOracle, error)
}

type intervalTicks struct {
	t *time.Ticker
}

// IntervalTicks returns a TickSource firing every d.
func IntervalTicks(d time.Duration) TickSource {
	if d <= 0 {
		d = time.Millisecond
	}
	return &intervalTicks{t: time.NewTicker(d)}
}

func (i *intervalTicks) C() <-chan time.Time { return i.t.C }
func (i *intervalTicks) Stop()               { i.t.Stop() }
