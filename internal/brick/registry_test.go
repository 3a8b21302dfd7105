package brick

import (
	"errors"
	"reflect"
	"testing"
)

func TestMerge_ChildPatchesBase(t *testing.T) {
	base := &Template{
		Name:    "lm.Base",
		Run:     "build-lm",
		Inputs:  []SlotDecl{{Name: "text"}},
		Outputs: []SlotDecl{{Name: "lm"}},
		Parts: []PartDecl{
			{Name: "prep", Template: "Prep"},
			{Name: "count", Template: "Count"},
		},
		Config: map[string]any{"order": 3, "prune": "none"},
	}
	child := &Template{
		Name:     "lm.KenLM",
		Inherits: "lm.Base",
		Parts: []PartDecl{
			{Name: "count", Template: "FastCount"},
			{Name: "binarize", Template: "Binarize"},
		},
		Config: map[string]any{"order": 5},
		Cache:  &CacheDecl{Version: 2},
	}

	got := Merge(base, child)

	if got.Name != "lm.KenLM" || got.Inherits != "" {
		t.Errorf("name/inherits = %q/%q", got.Name, got.Inherits)
	}
	if got.Run != "build-lm" {
		t.Errorf("unset scalar was not inherited: run = %q", got.Run)
	}
	if !reflect.DeepEqual(got.Inputs, base.Inputs) {
		t.Errorf("inputs = %v, want inherited", got.Inputs)
	}
	wantParts := []string{"prep:Prep", "count:FastCount", "binarize:Binarize"}
	var gotParts []string
	for _, p := range got.Parts {
		gotParts = append(gotParts, p.Name+":"+p.Template)
	}
	if !reflect.DeepEqual(gotParts, wantParts) {
		t.Errorf("parts = %v, want %v", gotParts, wantParts)
	}
	if got.Config["order"] != 5 || got.Config["prune"] != "none" {
		t.Errorf("config = %v", got.Config)
	}
	if got.Cache == nil || got.Cache.Version != 2 {
		t.Errorf("cache = %v", got.Cache)
	}
	if base.Config["order"] != 3 {
		t.Error("Merge mutated the base template")
	}
}

func TestMerge_SlotsReplacedWholesale(t *testing.T) {
	base := &Template{Name: "A", Inputs: []SlotDecl{{Name: "x"}, {Name: "y"}}}
	child := &Template{Name: "B", Inputs: []SlotDecl{{Name: "z"}}}
	got := Merge(base, child)
	if len(got.Inputs) != 1 || got.Inputs[0].Name != "z" {
		t.Errorf("inputs = %v, want child's only", got.Inputs)
	}
}

func TestRegistry_ResolveChain(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(
		Template{Name: "Base", Run: "base", Config: map[string]any{"a": 1, "b": 1}},
		Template{Name: "Mid", Inherits: "Base", Config: map[string]any{"b": 2}},
		Template{Name: "Leaf", Inherits: "Mid", Run: "leaf"},
	)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	chain, err := reg.Chain("Leaf")
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if !reflect.DeepEqual(chain, []string{"Leaf", "Mid", "Base"}) {
		t.Errorf("chain = %v", chain)
	}

	leaf, err := reg.Resolve("Leaf")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if leaf.Run != "leaf" || leaf.Config["a"] != 1 || leaf.Config["b"] != 2 {
		t.Errorf("resolved = %+v", leaf)
	}

	// Memoized copies must not alias.
	leaf.Config["a"] = 99
	again, err := reg.Resolve("Leaf")
	if err != nil {
		t.Fatal(err)
	}
	if again.Config["a"] != 1 {
		t.Error("Resolve returned an aliased template")
	}
}

func TestRegistry_Errors(t *testing.T) {
	tests := []struct {
		name      string
		templates []Template
		resolve   string
	}{
		{
			name:      "cycle",
			templates: []Template{{Name: "A", Inherits: "B"}, {Name: "B", Inherits: "A"}},
			resolve:   "A",
		},
		{
			name:      "self cycle",
			templates: []Template{{Name: "A", Inherits: "A"}},
			resolve:   "A",
		},
		{
			name:      "unknown base",
			templates: []Template{{Name: "A", Inherits: "Missing"}},
			resolve:   "A",
		},
		{
			name:    "unknown template",
			resolve: "Nope",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			if err := reg.Register(tt.templates...); err != nil {
				t.Fatalf("Register: %v", err)
			}
			_, err := reg.Resolve(tt.resolve)
			if !errors.Is(err, ErrTemplate) {
				t.Fatalf("expected ErrTemplate, got %v", err)
			}
		})
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(Template{Name: "A"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(Template{Name: "A"}); !errors.Is(err, ErrTemplate) {
		t.Fatalf("expected ErrTemplate for duplicate, got %v", err)
	}
}

func TestTemplateValidate(t *testing.T) {
	tests := []struct {
		name string
		tmpl Template
	}{
		{"empty name", Template{}},
		{"slash in name", Template{Name: "a/b"}},
		{"duplicate slot", Template{Name: "A", Inputs: []SlotDecl{{Name: "x"}}, Outputs: []SlotDecl{{Name: "x"}}}},
		{"bad kind", Template{Name: "A", Inputs: []SlotDecl{{Name: "x", Kind: "blob"}}}},
		{"input bind", Template{Name: "A", Inputs: []SlotDecl{{Name: "x", Bind: "p:y"}}}},
		{"bind not part", Template{Name: "A", Outputs: []SlotDecl{{Name: "x", Bind: "input:y"}}}},
		{"duplicate part", Template{Name: "A", Parts: []PartDecl{{Name: "p", Template: "T"}, {Name: "p", Template: "T"}}}},
		{"part without template", Template{Name: "A", Parts: []PartDecl{{Name: "p"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.tmpl.Validate(); !errors.Is(err, ErrTemplate) {
				t.Fatalf("expected ErrTemplate, got %v", err)
			}
		})
	}
}
