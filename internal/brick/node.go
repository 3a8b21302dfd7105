package brick

import (
	"brickflow/internal/core"
)

// CachePolicy marks a node's computation as cache-eligible.
// Version is part of the computation's variant tag.
type CachePolicy struct {
	Version int
}

// Binding is a directed edge from a source slot to a target slot meaning
// "target resolves to the same file(s) as source". A binding with no source
// names external files instead.
type Binding struct {
	Target core.SlotID
	Source core.SlotID

	// External holds the file locations of an external binding.
	// ExternalList marks them as one ordered file list.
	External     []string
	ExternalList bool
}

// IsExternal reports whether the binding names files outside the tree.
func (b Binding) IsExternal() bool {
	return b.Source == (core.SlotID{})
}

// Node is one brick in the composition tree.
//
// A node owns its children and its own slot and binding declarations. It
// never owns artifact bytes. Bindings declared on a node target either its
// own outputs (bound to a direct child's output), its children's inputs, or,
// for the root only, its own inputs (bound to external files).
//
// Nodes are built during composition and are read-only afterwards.
type Node struct {
	ID       string
	Name     string
	Template string

	// Chain is the template inheritance chain, leaf first.
	Chain []string

	Slots    []core.ArtifactSlot
	Children []*Node
	Bindings []Binding

	Run    string
	Config map[string]any
	Cache  *CachePolicy

	parent *Node
}

// NewRoot creates the root of a tree. Its ID is its name.
func NewRoot(name, template string) *Node {
	return &Node{ID: name, Name: name, Template: template}
}

// AddChild appends a child named name and returns it.
func (n *Node) AddChild(name, template string) *Node {
	child := &Node{
		ID:       n.ID + "/" + name,
		Name:     name,
		Template: template,
		parent:   n,
	}
	n.Children = append(n.Children, child)
	return child
}

// Parent returns the enclosing node, or nil for the root.
func (n *Node) Parent() *Node {
	return n.parent
}

// AddInput declares an input slot.
func (n *Node) AddInput(name string, kind core.ArtifactKind) *Node {
	n.Slots = append(n.Slots, core.ArtifactSlot{Name: name, Kind: kind, Direction: core.Input})
	return n
}

// AddOutput declares an output slot.
func (n *Node) AddOutput(name string, kind core.ArtifactKind) *Node {
	n.Slots = append(n.Slots, core.ArtifactSlot{Name: name, Kind: kind, Direction: core.Output})
	return n
}

// Bind declares that target resolves to source.
func (n *Node) Bind(target, source core.SlotID) {
	n.Bindings = append(n.Bindings, Binding{Target: target, Source: source})
}

// BindExternal binds target to one external file.
func (n *Node) BindExternal(target core.SlotID, path string) {
	n.Bindings = append(n.Bindings, Binding{Target: target, External: []string{path}})
}

// BindExternalList binds target to an ordered list of external files.
func (n *Node) BindExternalList(target core.SlotID, paths []string) {
	cp := make([]string, len(paths))
	copy(cp, paths)
	n.Bindings = append(n.Bindings, Binding{Target: target, External: cp, ExternalList: true})
}

// SlotID returns the identity of the named slot of n.
func (n *Node) SlotID(name string) core.SlotID {
	return core.SlotID{Node: n.ID, Name: name}
}

// Slot returns the named slot.
func (n *Node) Slot(name string) (core.ArtifactSlot, bool) {
	for _, s := range n.Slots {
		if s.Name == name {
			return s, true
		}
	}
	return core.ArtifactSlot{}, false
}

// Inputs returns the input slots in declaration order.
func (n *Node) Inputs() []core.ArtifactSlot {
	return n.slots(core.Input)
}

// Outputs returns the output slots in declaration order.
func (n *Node) Outputs() []core.ArtifactSlot {
	return n.slots(core.Output)
}

func (n *Node) slots(d core.Direction) []core.ArtifactSlot {
	var out []core.ArtifactSlot
	for _, s := range n.Slots {
		if s.Direction == d {
			out = append(out, s)
		}
	}
	return out
}

// Child returns the direct child named name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Walk visits n and its descendants in pre-order (declaration order).
// It stops at the first error.
func (n *Node) Walk(fn func(*Node) error) error {
	if err := fn(n); err != nil {
		return err
	}
	for _, c := range n.Children {
		if err := c.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the node with the given ID in the subtree rooted at n.
func (n *Node) Find(id string) *Node {
	var found *Node
	_ = n.Walk(func(x *Node) error {
		if x.ID == id {
			found = x
			return errStopWalk
		}
		return nil
	})
	return found
}
