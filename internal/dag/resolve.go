package dag

import (
	"brickflow/internal/brick"
	"brickflow/internal/core"
)

// resolver checks binding declarations against the tree and follows binding
// chains to the artifact that satisfies each slot.
type resolver struct {
	nodes    map[string]*brick.Node
	bindings map[core.SlotID]brick.Binding // by target
}

// collect validates the bindings declared on owner and indexes them by
// target. A binding may target:
//   - an input of a direct child, sourced from owner's input, a child's
//     output, or external files
//   - an output of owner, sourced from a direct child's output
//   - an input of owner when owner is the root, sourced from external files
func (r *resolver) collect(owner *brick.Node) error {
	for _, b := range owner.Bindings {
		target, ok := r.nodes[b.Target.Node]
		if !ok {
			return invalidf("%s binds unknown node %q", owner.ID, b.Target.Node)
		}
		ts, ok := target.Slot(b.Target.Name)
		if !ok {
			return invalidf("%s binds undeclared slot %s", owner.ID, b.Target)
		}
		if _, dup := r.bindings[b.Target]; dup {
			return invalidf("%s is bound more than once", b.Target)
		}

		switch {
		case target == owner && ts.Direction == core.Input:
			if owner.Parent() != nil {
				return invalidf("%s: only the root binds its own inputs", b.Target)
			}
			if !b.IsExternal() {
				return invalidf("%s: root input must bind external files", b.Target)
			}
		case target == owner:
			if b.IsExternal() {
				return invalidf("%s: output cannot bind external files", b.Target)
			}
			src, ok := r.nodes[b.Source.Node]
			if !ok || src.Parent() != owner {
				return invalidf("%s: output may only bind an output of a direct part, got %s", b.Target, b.Source)
			}
			if err := r.expectSlot(src, b, core.Output, ts.Kind); err != nil {
				return err
			}
		case target.Parent() == owner && ts.Direction == core.Input:
			if b.IsExternal() {
				break
			}
			src, ok := r.nodes[b.Source.Node]
			if !ok {
				return invalidf("%s binds unknown node %q", b.Target, b.Source.Node)
			}
			switch {
			case src == owner:
				if err := r.expectSlot(src, b, core.Input, ts.Kind); err != nil {
					return err
				}
			case src.Parent() == owner:
				if err := r.expectSlot(src, b, core.Output, ts.Kind); err != nil {
					return err
				}
			default:
				return invalidf("%s: source %s is neither an input of %s nor an output of a sibling", b.Target, b.Source, owner.ID)
			}
		default:
			return invalidf("%s cannot bind %s", owner.ID, b.Target)
		}

		if b.IsExternal() {
			if len(b.External) == 0 {
				return invalidf("%s binds no files", b.Target)
			}
			if ts.Kind == core.SingleFile && (b.ExternalList || len(b.External) != 1) {
				return invalidf("%s is a single file but binds a file list", b.Target)
			}
		}
		r.bindings[b.Target] = b
	}
	return nil
}

func (r *resolver) expectSlot(src *brick.Node, b brick.Binding, dir core.Direction, kind core.ArtifactKind) error {
	s, ok := src.Slot(b.Source.Name)
	if !ok || s.Direction != dir {
		return invalidf("%s binds %s, which is not an %s of %s", b.Target, b.Source, dir, src.ID)
	}
	if s.Kind != kind {
		return invalidf("%s (%s) binds %s (%s)", b.Target, kind, b.Source, s.Kind)
	}
	return nil
}

// resolveStep fills the step's resolved inputs and outputs.
func (r *resolver) resolveStep(s *Step) error {
	for _, slot := range s.Node.Inputs() {
		in, err := r.resolveInput(s.Node.SlotID(slot.Name))
		if err != nil {
			return err
		}
		in.Slot = slot
		s.Inputs = append(s.Inputs, in)
	}
	for _, slot := range s.Node.Outputs() {
		id := s.Node.SlotID(slot.Name)
		out := StepOutput{Slot: slot, Producer: id}
		if _, bound := r.bindings[id]; bound {
			producer, err := r.follow(id, []core.SlotID{id})
			if err != nil {
				return err
			}
			out.Bound = true
			out.Producer = producer.Producer
		}
		s.Outputs = append(s.Outputs, out)
	}
	return nil
}

func (r *resolver) resolveInput(id core.SlotID) (StepInput, error) {
	if _, ok := r.bindings[id]; !ok {
		return StepInput{}, unresolvedf("input %s has no binding", id)
	}
	return r.follow(id, []core.SlotID{id})
}

// follow walks the binding chain starting at the bound slot id. path holds
// the slots visited so far and detects chains that loop.
func (r *resolver) follow(id core.SlotID, path []core.SlotID) (StepInput, error) {
	b := r.bindings[id]
	if b.IsExternal() {
		return StepInput{External: append([]string(nil), b.External...), ExternalList: b.ExternalList}, nil
	}

	src := b.Source
	for _, seen := range path {
		if seen == src {
			names := make([]string, 0, len(path)+1)
			for _, p := range path {
				names = append(names, p.String())
			}
			return StepInput{}, cycleError(append(names, src.String()))
		}
	}

	slot, _ := r.nodes[src.Node].Slot(src.Name)
	_, bound := r.bindings[src]
	switch {
	case slot.Direction == core.Input && !bound:
		return StepInput{}, unresolvedf("input %s (bound to %s) has no binding", src, id)
	case bound:
		return r.follow(src, append(path, src))
	default:
		return StepInput{Producer: src}, nil
	}
}
