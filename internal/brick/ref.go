package brick

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Ref is a reference to the artifact that satisfies a part's input.
//
// Textual forms:
//
//	input:<name>     an input of the enclosing brick
//	<part>:<slot>    an output of a sibling part
//	file:<path>      an external file
//
// A YAML sequence of file: references is an external file list.
type Ref struct {
	Input string
	Part  string
	Slot  string
	Files []string
	List  bool
}

// ParseRef parses the textual form of a single reference.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	prefix, rest, ok := strings.Cut(s, ":")
	if !ok || rest == "" || prefix == "" {
		return Ref{}, fmt.Errorf("reference %q: want input:<name>, <part>:<slot> or file:<path>", s)
	}
	switch prefix {
	case "input":
		if err := validName(rest); err != nil {
			return Ref{}, fmt.Errorf("reference %q: %w", s, err)
		}
		return Ref{Input: rest}, nil
	case "file":
		return Ref{Files: []string{rest}}, nil
	default:
		if err := validName(prefix); err != nil {
			return Ref{}, fmt.Errorf("reference %q: %w", s, err)
		}
		if err := validName(rest); err != nil {
			return Ref{}, fmt.Errorf("reference %q: %w", s, err)
		}
		return Ref{Part: prefix, Slot: rest}, nil
	}
}

// IsExternal reports whether the reference names files.
func (r Ref) IsExternal() bool {
	return r.Input == "" && r.Part == ""
}

func (r Ref) String() string {
	switch {
	case r.Input != "":
		return "input:" + r.Input
	case r.Part != "":
		return r.Part + ":" + r.Slot
	case r.List:
		parts := make([]string, len(r.Files))
		for i, f := range r.Files {
			parts[i] = "file:" + f
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case len(r.Files) == 1:
		return "file:" + r.Files[0]
	default:
		return "<empty>"
	}
}

func (r Ref) clone() Ref {
	cp := r
	if r.Files != nil {
		cp.Files = make([]string, len(r.Files))
		copy(cp.Files, r.Files)
	}
	return cp
}

func (r *Ref) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		ref, err := ParseRef(value.Value)
		if err != nil {
			return err
		}
		*r = ref
		return nil
	case yaml.SequenceNode:
		files := make([]string, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: file list members must be file:<path> strings", item.Line)
			}
			ref, err := ParseRef(item.Value)
			if err != nil {
				return fmt.Errorf("line %d: %w", item.Line, err)
			}
			if !ref.IsExternal() {
				return fmt.Errorf("line %d: file list member %q is not a file: reference", item.Line, item.Value)
			}
			files = append(files, ref.Files...)
		}
		*r = Ref{Files: files, List: true}
		return nil
	default:
		return fmt.Errorf("line %d: reference must be a string or a list of file: references", value.Line)
	}
}

func (r Ref) MarshalYAML() (any, error) {
	if r.List {
		out := make([]string, len(r.Files))
		for i, f := range r.Files {
			out[i] = "file:" + f
		}
		return out, nil
	}
	return r.String(), nil
}
