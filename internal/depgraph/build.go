package depgraph

import "fmt"

// ReferenceOracle reports the direct references of an artifact.
type ReferenceOracle interface {
	ReferencesOf(id string) ([]string, error)
}

// OracleFunc adapts a function to ReferenceOracle.
type OracleFunc func(id string) ([]string, error)

func (f OracleFunc) ReferencesOf(id string) ([]string, error) { return f(id) }

// Build creates a graph over corpus. Corpus order fixes node order and
// duplicates collapse. References outside the corpus are dropped; a reference
// to the artifact itself is kept and later surfaces as a cycle.
func Build(corpus []string, oracle ReferenceOracle) (*Graph, error) {
	g := New()
	for _, id := range corpus {
		g.AddNode(id)
	}
	if oracle == nil {
		return g, nil
	}

	for _, n := range g.nodes {
		refs, err := oracle.ReferencesOf(n.ID)
		if err != nil {
			return nil, fmt.Errorf("references of %s: %w", n.ID, err)
		}
		for _, ref := range refs {
			g.AddEdge(n.ID, ref)
		}
	}
	return g, nil
}
