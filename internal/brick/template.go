package brick

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"brickflow/internal/core"
)

// Template is a declarative brick definition.
//
// A template may inherit from another; see Merge for how a child patches
// its base. Templates are data only: composition turns a resolved template
// into flat Nodes.
type Template struct {
	Name        string         `yaml:"name"`
	Inherits    string         `yaml:"inherits,omitempty"`
	Description string         `yaml:"description,omitempty"`
	Inputs      []SlotDecl     `yaml:"inputs,omitempty"`
	Outputs     []SlotDecl     `yaml:"outputs,omitempty"`
	Parts       []PartDecl     `yaml:"parts,omitempty"`
	Run         string         `yaml:"run,omitempty"`
	Config      map[string]any `yaml:"config,omitempty"`
	Cache       *CacheDecl     `yaml:"cache,omitempty"`
}

// SlotDecl declares an input or output. In YAML it is either a bare name or
// a mapping with name, kind, and (outputs only) bind.
type SlotDecl struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind,omitempty"`

	// Bind names a direct part's output as "part:slot".
	Bind string `yaml:"bind,omitempty"`
}

func (s *SlotDecl) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		s.Name = value.Value
		return nil
	}
	type plain SlotDecl
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*s = SlotDecl(p)
	return nil
}

// PartDecl declares a child brick.
type PartDecl struct {
	Name     string         `yaml:"name"`
	Template string         `yaml:"template"`
	Inputs   map[string]Ref `yaml:"inputs,omitempty"`
	Config   map[string]any `yaml:"config,omitempty"`
}

// CacheDecl marks a template's computation as cache-eligible.
type CacheDecl struct {
	Version int `yaml:"version"`
}

// Validate checks a single template in isolation.
func (t *Template) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return templatef("template name is required")
	}
	if strings.ContainsAny(t.Name, "/: ") {
		return templatef("template name %q contains '/', ':' or spaces", t.Name)
	}

	seen := make(map[string]string)
	check := func(decl SlotDecl, dir core.Direction) error {
		if err := validName(decl.Name); err != nil {
			return templatef("template %s: %s slot: %v", t.Name, dir, err)
		}
		if prev, ok := seen[decl.Name]; ok {
			return templatef("template %s: slot %q declared as both %s and %s", t.Name, decl.Name, prev, dir)
		}
		seen[decl.Name] = string(dir)
		if _, err := core.ParseArtifactKind(decl.Kind); err != nil {
			return templatef("template %s: slot %s: %v", t.Name, decl.Name, err)
		}
		if decl.Bind != "" {
			if dir != core.Output {
				return templatef("template %s: input %s cannot bind", t.Name, decl.Name)
			}
			ref, err := ParseRef(decl.Bind)
			if err != nil || ref.Part == "" {
				return templatef("template %s: output %s: bind must be part:slot, got %q", t.Name, decl.Name, decl.Bind)
			}
		}
		return nil
	}
	for _, in := range t.Inputs {
		if err := check(in, core.Input); err != nil {
			return err
		}
	}
	for _, out := range t.Outputs {
		if err := check(out, core.Output); err != nil {
			return err
		}
	}

	parts := make(map[string]bool, len(t.Parts))
	for _, p := range t.Parts {
		if err := validName(p.Name); err != nil {
			return templatef("template %s: part: %v", t.Name, err)
		}
		if parts[p.Name] {
			return templatef("template %s: duplicate part %q", t.Name, p.Name)
		}
		parts[p.Name] = true
		if strings.TrimSpace(p.Template) == "" {
			return templatef("template %s: part %s has no template", t.Name, p.Name)
		}
	}
	if t.Cache != nil && t.Cache.Version < 0 {
		return templatef("template %s: negative cache version", t.Name)
	}
	return nil
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(name, "/:\\ ") || name == "." || name == ".." {
		return fmt.Errorf("invalid name %q", name)
	}
	return nil
}

// clone returns a deep copy of the declaration lists and maps of t.
func (t *Template) clone() *Template {
	cp := *t
	cp.Inputs = cloneSlots(t.Inputs)
	cp.Outputs = cloneSlots(t.Outputs)
	if t.Parts != nil {
		cp.Parts = make([]PartDecl, len(t.Parts))
		for i, p := range t.Parts {
			cp.Parts[i] = p.clone()
		}
	}
	cp.Config = cloneConfig(t.Config)
	if t.Cache != nil {
		c := *t.Cache
		cp.Cache = &c
	}
	return &cp
}

func cloneSlots(s []SlotDecl) []SlotDecl {
	if s == nil {
		return nil
	}
	out := make([]SlotDecl, len(s))
	copy(out, s)
	return out
}

func (p PartDecl) clone() PartDecl {
	cp := p
	if p.Inputs != nil {
		cp.Inputs = make(map[string]Ref, len(p.Inputs))
		for k, v := range p.Inputs {
			cp.Inputs[k] = v.clone()
		}
	}
	cp.Config = cloneConfig(p.Config)
	return cp
}

func cloneConfig(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
