package dag

import (
	"brickflow/internal/brick"
	"brickflow/internal/core"
)

// GraphHash is the deterministic identity of a compiled Graph.
//
// It is computed from the flattened node descriptions and the dependency
// structure, so the same tree always yields the same hash.
type GraphHash string

func (h GraphHash) String() string { return string(h) }

// Edge represents a dependency relation: To depends on From.
type Edge struct {
	From string
	To   string
}

// StepInput is an input slot resolved to the artifact that satisfies it:
// either a producing output of another node or a set of external files.
type StepInput struct {
	Slot     core.ArtifactSlot
	Producer core.SlotID

	External     []string
	ExternalList bool
}

// IsExternal reports whether the input resolves to files outside the tree.
func (in StepInput) IsExternal() bool {
	return in.Producer == (core.SlotID{})
}

// StepOutput is an output slot. Bound outputs are produced elsewhere in the
// subtree; Producer names the slot that actually writes the bytes.
type StepOutput struct {
	Slot     core.ArtifactSlot
	Bound    bool
	Producer core.SlotID
}

// Step is one schedulable node of the graph.
type Step struct {
	Node    *brick.Node
	Inputs  []StepInput
	Outputs []StepOutput

	canonicalIndex int
}

// ID returns the node ID of the step.
func (s *Step) ID() string { return s.Node.ID }

// CanonicalIndex returns the step's position in declaration (pre-order) order.
func (s *Step) CanonicalIndex() int { return s.canonicalIndex }

// OwnOutputs returns the outputs this step's work callback produces.
func (s *Step) OwnOutputs() []StepOutput {
	var out []StepOutput
	for _, o := range s.Outputs {
		if !o.Bound {
			out = append(out, o)
		}
	}
	return out
}

// CacheEligible reports whether the node declares a cacheable computation
// with at least one output of its own.
func (s *Step) CacheEligible() bool {
	return s.Node.Cache != nil && len(s.OwnOutputs()) > 0
}
