// Package depgraph builds corpus-scoped dependency graphs and assigns every
// artifact a layer: the length of its longest dependency chain down to a leaf.
//
// Nodes are interned to dense uint32 indices so edge sets can be held as
// roaring bitmaps. Forward edges point from an artifact to what it references;
// reverse edges are their exact inversion.
package depgraph

import (
	"github.com/RoaringBitmap/roaring"
)

// Node is one artifact in a Graph.
type Node struct {
	ID string

	idx     uint32
	g       *Graph
	forward *roaring.Bitmap
	reverse *roaring.Bitmap
}

// Forward returns the identifiers this node references, in node order.
func (n *Node) Forward() []string { return n.g.names(n.forward) }

// Reverse returns the identifiers that reference this node, in node order.
func (n *Node) Reverse() []string { return n.g.names(n.reverse) }

// OutDegree is the number of distinct forward edges.
func (n *Node) OutDegree() int { return int(n.forward.GetCardinality()) }

// InDegree is the number of distinct reverse edges.
func (n *Node) InDegree() int { return int(n.reverse.GetCardinality()) }

// Graph maps identifiers to nodes. It is not safe for concurrent mutation.
type Graph struct {
	nodes []*Node
	index map[string]uint32
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{index: make(map[string]uint32)}
}

// AddNode interns id and returns its node. Adding an existing id returns the
// existing node.
func (g *Graph) AddNode(id string) *Node {
	if i, ok := g.index[id]; ok {
		return g.nodes[i]
	}
	n := &Node{
		ID:      id,
		idx:     uint32(len(g.nodes)),
		g:       g,
		forward: roaring.New(),
		reverse: roaring.New(),
	}
	g.index[id] = n.idx
	g.nodes = append(g.nodes, n)
	return n
}

// AddEdge records from -> to together with its reverse edge. Both endpoints
// must already be nodes; the call reports whether the edge was added.
func (g *Graph) AddEdge(from, to string) bool {
	fi, ok := g.index[from]
	if !ok {
		return false
	}
	ti, ok := g.index[to]
	if !ok {
		return false
	}
	g.nodes[fi].forward.Add(ti)
	g.nodes[ti].reverse.Add(fi)
	return true
}

// Node returns the node for id.
func (g *Graph) Node(id string) (*Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.nodes[i], true
}

// Has reports whether id is a node.
func (g *Graph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// IDs returns node identifiers in insertion order.
func (g *Graph) IDs() []string {
	out := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.ID
	}
	return out
}

// Len is the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// EdgeCount is the number of distinct forward edges.
func (g *Graph) EdgeCount() int {
	total := 0
	for _, n := range g.nodes {
		total += n.OutDegree()
	}
	return total
}

// Edge is one forward edge, From depends on To.
type Edge struct {
	From string
	To   string
}

// Edges returns every forward edge ordered by source then target node order.
func (g *Graph) Edges() []Edge {
	var out []Edge
	for _, n := range g.nodes {
		it := n.forward.Iterator()
		for it.HasNext() {
			out = append(out, Edge{From: n.ID, To: g.nodes[it.Next()].ID})
		}
	}
	return out
}

func (g *Graph) names(bm *roaring.Bitmap) []string {
	out := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, g.nodes[it.Next()].ID)
	}
	return out
}
