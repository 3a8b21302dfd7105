package brick

import (
	"fmt"
	"path/filepath"
	"sort"

	"brickflow/internal/core"
)

// ComposeOptions tune composition.
type ComposeOptions struct {
	// Defaults supplies site-wide template configuration. May be nil.
	Defaults *Defaults

	// BaseDir resolves relative file: references. Empty means the current
	// directory.
	BaseDir string
}

// Compose builds the brick tree for an experiment.
//
// Every template is resolved through its inheritance chain first, so the
// resulting nodes are flat and already patched. Bindings are recorded as
// declared; whether they resolve is decided by the graph compiler.
//
// Configuration for a node is layered: the resolved template's config, then
// the defaults file (declared keys only), then the enclosing part's config
// (or the experiment's config for the root).
func Compose(exp Experiment, reg *Registry, opts ComposeOptions) (*Node, error) {
	if err := validName(exp.Name); err != nil {
		return nil, templatef("experiment: %v", err)
	}
	c := &composer{reg: reg, opts: opts}

	root := NewRoot(exp.Name, exp.Template)
	if err := c.build(root, exp.Template, exp.Config, nil); err != nil {
		return nil, err
	}

	for _, slot := range sortedRefKeys(exp.Inputs) {
		ref := exp.Inputs[slot]
		s, ok := root.Slot(slot)
		if !ok || s.Direction != core.Input {
			return nil, templatef("experiment %s: %s declares no input %q", exp.Name, exp.Template, slot)
		}
		if !ref.IsExternal() {
			return nil, templatef("experiment %s: input %s must reference files, got %s", exp.Name, slot, ref)
		}
		c.bindExternal(root, root.SlotID(slot), s.Kind, ref)
	}
	return root, nil
}

// ComposeFile registers the file's inline templates into reg and composes
// its experiment, resolving relative references against the file's directory.
func ComposeFile(f *ExperimentFile, reg *Registry, defaults *Defaults) (*Node, error) {
	if err := reg.Register(f.Templates...); err != nil {
		return nil, err
	}
	return Compose(f.Experiment, reg, ComposeOptions{Defaults: defaults, BaseDir: f.Dir()})
}

type composer struct {
	reg  *Registry
	opts ComposeOptions
}

// build fills n from template name. stack holds the templates of n's
// ancestors and rejects a template that contains itself.
func (c *composer) build(n *Node, name string, overrides map[string]any, stack []string) error {
	for _, s := range stack {
		if s == name {
			return templatef("template %s contains itself via %s", name, n.ID)
		}
	}
	t, err := c.reg.Resolve(name)
	if err != nil {
		return fmt.Errorf("%s: %w", n.ID, err)
	}
	chain, err := c.reg.Chain(name)
	if err != nil {
		return fmt.Errorf("%s: %w", n.ID, err)
	}

	n.Template = t.Name
	n.Chain = chain
	n.Run = t.Run
	if t.Cache != nil {
		n.Cache = &CachePolicy{Version: t.Cache.Version}
	}
	for _, in := range t.Inputs {
		kind, _ := core.ParseArtifactKind(in.Kind)
		n.AddInput(in.Name, kind)
	}
	for _, out := range t.Outputs {
		kind, _ := core.ParseArtifactKind(out.Kind)
		n.AddOutput(out.Name, kind)
	}

	cfg := t.Config
	if c.opts.Defaults != nil {
		cfg = c.opts.Defaults.Apply(chain, cfg)
	} else {
		cfg = cloneConfig(cfg)
	}
	for k, v := range overrides {
		if _, declared := cfg[k]; !declared {
			return templatef("%s: template %s declares no config key %q", n.ID, t.Name, k)
		}
		cfg[k] = v
	}
	n.Config = cfg

	stack = append(stack, name)
	for _, part := range t.Parts {
		child := n.AddChild(part.Name, part.Template)
		if err := c.build(child, part.Template, part.Config, stack); err != nil {
			return err
		}
		if err := c.bindPart(n, child, part); err != nil {
			return err
		}
	}

	for _, out := range t.Outputs {
		if out.Bind == "" {
			continue
		}
		ref, err := ParseRef(out.Bind)
		if err != nil {
			return templatef("%s: output %s: %v", n.ID, out.Name, err)
		}
		n.Bind(n.SlotID(out.Name), core.SlotID{Node: n.ID + "/" + ref.Part, Name: ref.Slot})
	}
	return nil
}

// bindPart records on parent the bindings for child's inputs.
func (c *composer) bindPart(parent, child *Node, part PartDecl) error {
	for name := range part.Inputs {
		s, ok := child.Slot(name)
		if !ok || s.Direction != core.Input {
			return templatef("%s: part %s: template %s declares no input %q", parent.ID, part.Name, child.Template, name)
		}
	}
	// Declaration order of the child's inputs keeps bindings deterministic.
	for _, in := range child.Inputs() {
		ref, ok := part.Inputs[in.Name]
		if !ok {
			continue
		}
		target := child.SlotID(in.Name)
		switch {
		case ref.Input != "":
			parent.Bind(target, parent.SlotID(ref.Input))
		case ref.Part != "":
			parent.Bind(target, core.SlotID{Node: parent.ID + "/" + ref.Part, Name: ref.Slot})
		default:
			c.bindExternal(parent, target, in.Kind, ref)
		}
	}
	return nil
}

func (c *composer) bindExternal(owner *Node, target core.SlotID, kind core.ArtifactKind, ref Ref) {
	paths := make([]string, len(ref.Files))
	for i, f := range ref.Files {
		paths[i] = c.resolvePath(f)
	}
	if ref.List || kind == core.FileList {
		owner.BindExternalList(target, paths)
		return
	}
	owner.BindExternal(target, paths[0])
}

func (c *composer) resolvePath(p string) string {
	if filepath.IsAbs(p) || c.opts.BaseDir == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(c.opts.BaseDir, p)
}

func sortedRefKeys(m map[string]Ref) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
