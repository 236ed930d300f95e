package depgraph

import (
	"slices"
)

// Assignment maps identifiers to layers. Leaves are layer 1 and every edge
// A -> B satisfies layer(A) > layer(B).
type Assignment map[string]int

// Max returns the highest layer, or 0 for an empty assignment.
func (a Assignment) Max() int {
	m := 0
	for _, l := range a {
		m = max(m, l)
	}
	return m
}

// Order groups identifiers by layer, lowest first, sorted within a layer.
// Processing groups in order handles every dependency before its dependents.
func (a Assignment) Order() [][]string {
	top := a.Max()
	if top == 0 {
		return nil
	}
	groups := make([][]string, top)
	for id, l := range a {
		groups[l-1] = append(groups[l-1], id)
	}
	for _, grp := range groups {
		slices.Sort(grp)
	}
	return groups
}

// Layer assigns every node of g its layer. Cyclic graphs return a *CycleError
// and no assignment.
func Layer(g *Graph) (Assignment, error) {
	r := NewRelaxation(g)
	if _, err := r.Step(g.Len()); err != nil {
		return nil, err
	}
	return r.Result(), nil
}

// Relaxation is a resumable Layer computation. Each pass relaxes every edge
// once; a graph of V nodes settles within V passes or is cyclic.
type Relaxation struct {
	g      *Graph
	layers []int
	passes int
	done   bool
	err    error
}

// NewRelaxation starts a layering of g with every node at layer 1.
func NewRelaxation(g *Graph) *Relaxation {
	layers := make([]int, g.Len())
	for i := range layers {
		layers[i] = 1
	}
	return &Relaxation{g: g, layers: layers, done: g.Len() == 0}
}

// Step runs up to n passes. It reports done once the layering has settled or
// a cycle has been found.
func (r *Relaxation) Step(n int) (bool, error) {
	for i := 0; i < n && !r.done; i++ {
		r.passes++
		changed := r.pass()
		switch {
		case len(changed) == 0:
			r.done = true
		case r.passes >= r.g.Len():
			names := make([]string, len(changed))
			for j, idx := range changed {
				names[j] = r.g.nodes[idx].ID
			}
			slices.Sort(names)
			r.done = true
			r.err = &CycleError{Nodes: names}
		}
	}
	return r.done, r.err
}

// Passes is the number of passes run so far.
func (r *Relaxation) Passes() int { return r.passes }

// Done reports whether the computation has finished.
func (r *Relaxation) Done() bool { return r.done }

// Result returns the assignment once done without error, otherwise nil.
func (r *Relaxation) Result() Assignment {
	if !r.done || r.err != nil {
		return nil
	}
	out := make(Assignment, len(r.layers))
	for i, n := range r.g.nodes {
		out[n.ID] = r.layers[i]
	}
	return out
}

// Err returns the cycle error, if any.
func (r *Relaxation) Err() error { return r.err }

func (r *Relaxation) pass() []uint32 {
	var changed []uint32
	for i, n := range r.g.nodes {
		it := n.forward.Iterator()
		moved := false
		for it.HasNext() {
			dep := it.Next()
			if want := r.layers[dep] + 1; r.layers[i] < want {
				r.layers[i] = want
				moved = true
			}
		}
		if moved {
			changed = append(changed, uint32(i))
		}
	}
	return changed
}
