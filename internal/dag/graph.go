package dag

import (
	"bytes"
	"encoding/binary"
	"sort"

	"brickflow/internal/brick"
	"brickflow/internal/core"
)

type edgeIndex struct {
	from int
	to   int
}

// Graph is an immutable, validated DAG of steps compiled from a brick tree.
//
// It is safe for concurrent read access.
type Graph struct {
	root *brick.Node

	stepsByID map[string]*Step
	steps     []*Step // canonical (declaration) order

	edges []edgeIndex // sorted

	outgoing [][]int // by canonical index, sorted ascending
	incoming [][]int // by canonical index, sorted ascending
	indeg    []int
	depth    []int
	order    []int

	hash GraphHash
}

// Compile flattens the tree rooted at root into a Graph.
//
// Every input slot must resolve, by following bindings structurally through
// parents, siblings and children, to either external files or exactly one
// producing output. A node depends on the producers of its inputs and of its
// bound outputs, and on each of its children. Any cycle fails compilation.
// No partial graph is returned on failure.
func Compile(root *brick.Node) (*Graph, error) {
	if root == nil {
		return nil, invalidf("no root node")
	}

	g := &Graph{root: root, stepsByID: make(map[string]*Step)}
	nodes := make(map[string]*brick.Node)
	err := root.Walk(func(n *brick.Node) error {
		if _, dup := g.stepsByID[n.ID]; dup {
			return invalidf("duplicate node id %q", n.ID)
		}
		s := &Step{Node: n, canonicalIndex: len(g.steps)}
		g.steps = append(g.steps, s)
		g.stepsByID[n.ID] = s
		nodes[n.ID] = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	r := &resolver{nodes: nodes, bindings: make(map[core.SlotID]brick.Binding)}
	for _, s := range g.steps {
		if err := r.collect(s.Node); err != nil {
			return nil, err
		}
	}
	for _, s := range g.steps {
		if err := r.resolveStep(s); err != nil {
			return nil, err
		}
	}

	if err := g.link(); err != nil {
		return nil, err
	}
	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}
	g.order = g.topoOrderIndices()
	g.depth = g.computeDepth()
	g.hash = g.computeGraphHash()
	return g, nil
}

// link derives the dependency edges from the resolved steps.
func (g *Graph) link() error {
	seen := make(map[edgeIndex]struct{})
	add := func(from string, to *Step) error {
		src, ok := g.stepsByID[from]
		if !ok {
			return invalidf("%s depends on unknown node %q", to.ID(), from)
		}
		if src == to {
			return cycleError([]string{to.ID(), to.ID()})
		}
		e := edgeIndex{from: src.canonicalIndex, to: to.canonicalIndex}
		if _, dup := seen[e]; dup {
			return nil
		}
		seen[e] = struct{}{}
		g.edges = append(g.edges, e)
		return nil
	}

	for _, s := range g.steps {
		for _, in := range s.Inputs {
			if in.IsExternal() {
				continue
			}
			if err := add(in.Producer.Node, s); err != nil {
				return err
			}
		}
		for _, out := range s.Outputs {
			if !out.Bound {
				continue
			}
			if err := add(out.Producer.Node, s); err != nil {
				return err
			}
		}
		for _, c := range s.Node.Children {
			if err := add(c.ID, s); err != nil {
				return err
			}
		}
	}

	sort.Slice(g.edges, func(i, j int) bool {
		a, b := g.edges[i], g.edges[j]
		if a.from != b.from {
			return a.from < b.from
		}
		return a.to < b.to
	})

	n := len(g.steps)
	g.outgoing = make([][]int, n)
	g.incoming = make([][]int, n)
	g.indeg = make([]int, n)
	for _, e := range g.edges {
		g.outgoing[e.from] = append(g.outgoing[e.from], e.to)
		g.incoming[e.to] = append(g.incoming[e.to], e.from)
		g.indeg[e.to]++
	}
	for i := range g.incoming {
		sort.Ints(g.incoming[i])
	}
	return nil
}

// Root returns the tree the graph was compiled from.
func (g *Graph) Root() *brick.Node { return g.root }

// Hash returns the stable identity for this graph.
func (g *Graph) Hash() GraphHash { return g.hash }

// Len returns the number of steps.
func (g *Graph) Len() int { return len(g.steps) }

// Step returns a step by node ID.
func (g *Graph) Step(id string) (*Step, bool) {
	s, ok := g.stepsByID[id]
	return s, ok
}

// Steps returns the steps in canonical order.
func (g *Graph) Steps() []*Step {
	out := make([]*Step, len(g.steps))
	copy(out, g.steps)
	return out
}

// Edges returns the dependency edges as (From, To) ID pairs in canonical order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, Edge{From: g.steps[e.from].ID(), To: g.steps[e.to].ID()})
	}
	return out
}

// TopoOrder returns the node IDs in a deterministic topological order. Ties
// among independent nodes are broken by declaration order.
func (g *Graph) TopoOrder() []string {
	ids := make([]string, 0, len(g.order))
	for _, idx := range g.order {
		ids = append(ids, g.steps[idx].ID())
	}
	return ids
}

// Depth returns the length of the longest dependency path ending at id.
func (g *Graph) Depth(id string) (int, bool) {
	s, ok := g.stepsByID[id]
	if !ok {
		return 0, false
	}
	return g.depth[s.canonicalIndex], true
}

// Dependencies returns the IDs id directly depends on, in canonical order.
func (g *Graph) Dependencies(id string) []string {
	s, ok := g.stepsByID[id]
	if !ok {
		return nil
	}
	return g.names(g.incoming[s.canonicalIndex])
}

// Dependents returns the IDs that directly depend on id, in canonical order.
func (g *Graph) Dependents(id string) []string {
	s, ok := g.stepsByID[id]
	if !ok {
		return nil
	}
	return g.names(g.outgoing[s.canonicalIndex])
}

// Downstream returns every node that transitively depends on id, in
// canonical order.
func (g *Graph) Downstream(id string) []string {
	s, ok := g.stepsByID[id]
	if !ok {
		return nil
	}
	return g.names(g.reachable(s.canonicalIndex))
}

func (g *Graph) names(idx []int) []string {
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		out = append(out, g.steps[i].ID())
	}
	return out
}

func (g *Graph) computeDepth() []int {
	depth := make([]int, len(g.steps))
	for _, u := range g.order {
		maxParent := 0
		for _, p := range g.incoming[u] {
			if cand := depth[p] + 1; cand > maxParent {
				maxParent = cand
			}
		}
		depth[u] = maxParent
	}
	return depth
}

func (g *Graph) computeGraphHash() GraphHash {
	var buf bytes.Buffer

	writeField := func(data []byte) {
		var length [8]byte
		binary.BigEndian.PutUint64(length[:], uint64(len(data)))
		buf.Write(length[:])
		buf.Write(data)
	}
	writeInt := func(v int) {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v))
		writeField(b[:])
	}

	writeInt(len(g.steps))
	for _, s := range g.steps {
		n := s.Node
		writeField([]byte(n.ID))
		writeField([]byte(n.Template))
		writeField([]byte(n.Run))
		cfg, err := core.MarshalCBOR(n.Config)
		if err != nil {
			// Config values come from YAML and always encode; keep the
			// hash total regardless.
			cfg = []byte(err.Error())
		}
		writeField(cfg)
		if n.Cache != nil {
			writeInt(n.Cache.Version + 1)
		} else {
			writeInt(0)
		}
		writeInt(len(s.Inputs))
		for _, in := range s.Inputs {
			writeField([]byte(in.Slot.Name))
			writeField([]byte(in.Slot.Kind))
			writeField([]byte(in.Producer.String()))
			writeInt(len(in.External))
			for _, p := range in.External {
				writeField([]byte(p))
			}
		}
		writeInt(len(s.Outputs))
		for _, out := range s.Outputs {
			writeField([]byte(out.Slot.Name))
			writeField([]byte(out.Slot.Kind))
			writeField([]byte(out.Producer.String()))
		}
	}

	writeInt(len(g.edges))
	for _, e := range g.edges {
		writeInt(e.from)
		writeInt(e.to)
	}

	return GraphHash(core.GraphDigest(buf.Bytes()))
}
