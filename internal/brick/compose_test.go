package brick

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"brickflow/internal/core"
)

const pipelineYAML = `
experiment:
  name: Exp
  template: Pipeline
  inputs:
    src: file:data/src.txt
    extra:
      - file:data/a.txt
      - file:/abs/b.txt
  config:
    label: run0
templates:
  - name: Pipeline
    inputs:
      - src
      - {name: extra, kind: list}
    outputs:
      - {name: lm, bind: "build:lm"}
    config:
      label: none
    parts:
      - name: prep
        template: Prep
        inputs:
          raw: input:src
      - name: build
        template: lm.KenLM
        inputs:
          text: prep:clean
        config:
          order: 4
  - name: Prep
    inputs: [raw]
    outputs: [clean]
    run: tr A-Z a-z < input/raw > output/clean
  - name: lm.Base
    inputs: [text]
    outputs: [lm]
    run: lmplz
    config:
      order: 3
      mosesDir: /usr/local
  - name: lm.KenLM
    inherits: lm.Base
    cache:
      version: 1
`

func composeFixture(t *testing.T, defaults *Defaults) *Node {
	t.Helper()
	f, err := ParseExperimentYAML([]byte(pipelineYAML))
	if err != nil {
		t.Fatalf("ParseExperimentYAML: %v", err)
	}
	f.Path = "/work/exp.yaml"
	root, err := ComposeFile(f, NewRegistry(), defaults)
	if err != nil {
		t.Fatalf("ComposeFile: %v", err)
	}
	return root
}

func TestCompose_TreeShape(t *testing.T) {
	root := composeFixture(t, nil)

	var ids []string
	_ = root.Walk(func(n *Node) error {
		ids = append(ids, n.ID)
		return nil
	})
	want := []string{"Exp", "Exp/prep", "Exp/build"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("pre-order ids = %v, want %v", ids, want)
	}

	build := root.Find("Exp/build")
	if build == nil || build.Parent() != root {
		t.Fatal("Exp/build not found under root")
	}
	if build.Template != "lm.KenLM" {
		t.Errorf("template = %s", build.Template)
	}
	if !reflect.DeepEqual(build.Chain, []string{"lm.KenLM", "lm.Base"}) {
		t.Errorf("chain = %v", build.Chain)
	}
	if build.Run != "lmplz" || build.Cache == nil || build.Cache.Version != 1 {
		t.Errorf("inherited run/cache = %q/%v", build.Run, build.Cache)
	}
	if build.Config["order"] != 4 {
		t.Errorf("part override not applied: %v", build.Config)
	}
	if root.Config["label"] != "run0" {
		t.Errorf("experiment config not applied: %v", root.Config)
	}
	if s, ok := root.Slot("extra"); !ok || s.Kind != core.FileList {
		t.Errorf("extra slot = %+v", s)
	}
}

func TestCompose_Bindings(t *testing.T) {
	root := composeFixture(t, nil)

	want := []Binding{
		{Target: core.SlotID{Node: "Exp/prep", Name: "raw"}, Source: core.SlotID{Node: "Exp", Name: "src"}},
		{Target: core.SlotID{Node: "Exp/build", Name: "text"}, Source: core.SlotID{Node: "Exp/prep", Name: "clean"}},
		{Target: core.SlotID{Node: "Exp", Name: "lm"}, Source: core.SlotID{Node: "Exp/build", Name: "lm"}},
		{Target: core.SlotID{Node: "Exp", Name: "extra"}, External: []string{"/work/data/a.txt", "/abs/b.txt"}, ExternalList: true},
		{Target: core.SlotID{Node: "Exp", Name: "src"}, External: []string{"/work/data/src.txt"}},
	}
	if !reflect.DeepEqual(root.Bindings, want) {
		t.Fatalf("bindings:\n got %+v\nwant %+v", root.Bindings, want)
	}
}

func TestCompose_DefaultsOnlyOverrideDeclaredKeys(t *testing.T) {
	d, err := ParseDefaults([]byte(`
lm:
  Base:
    mosesDir: /opt/moses
    unknown: ignored
    order: 7
`))
	if err != nil {
		t.Fatalf("ParseDefaults: %v", err)
	}
	root := composeFixture(t, d)
	build := root.Find("Exp/build")
	if build.Config["mosesDir"] != "/opt/moses" {
		t.Errorf("defaults not applied via base template: %v", build.Config)
	}
	if _, ok := build.Config["unknown"]; ok {
		t.Error("defaults introduced an undeclared key")
	}
	if build.Config["order"] != 4 {
		t.Errorf("part config must win over defaults: order = %v", build.Config["order"])
	}
}

func TestDefaults_FirstTemplateInChainWins(t *testing.T) {
	d, err := ParseDefaults([]byte(`
lm:
  KenLM: {order: 5}
  Base: {order: 9, prune: yes}
`))
	if err != nil {
		t.Fatal(err)
	}
	got := d.Apply([]string{"lm.KenLM", "lm.Base"}, map[string]any{"order": 3, "prune": "no"})
	if got["order"] != 5 || got["prune"] != "no" {
		t.Errorf("Apply = %v, want only the leaf entry applied", got)
	}
}

func TestDefaultsFile_UserOverride(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	shipped := filepath.Join(t.TempDir(), "defaults.yaml")

	if got := DefaultsFile(shipped); got != shipped {
		t.Errorf("without override got %s, want shipped", got)
	}
	user := filepath.Join(xdg, "brickflow", "defaults.yaml")
	if err := os.MkdirAll(filepath.Dir(user), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(user, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := DefaultsFile(shipped); got != user {
		t.Errorf("with override got %s, want %s", got, user)
	}
}

func TestCompose_Errors(t *testing.T) {
	tests := []struct {
		name      string
		templates []Template
		exp       Experiment
	}{
		{
			name:      "unknown root template",
			templates: nil,
			exp:       Experiment{Name: "E", Template: "Missing"},
		},
		{
			name: "recursive part",
			templates: []Template{
				{Name: "Loop", Parts: []PartDecl{{Name: "again", Template: "Loop"}}},
			},
			exp: Experiment{Name: "E", Template: "Loop"},
		},
		{
			name: "undeclared part input",
			templates: []Template{
				{Name: "Leaf", Inputs: []SlotDecl{{Name: "x"}}},
				{Name: "Top", Parts: []PartDecl{{Name: "p", Template: "Leaf", Inputs: map[string]Ref{"y": {Files: []string{"f"}}}}}},
			},
			exp: Experiment{Name: "E", Template: "Top"},
		},
		{
			name: "undeclared config key",
			templates: []Template{
				{Name: "Leaf", Config: map[string]any{"a": 1}},
				{Name: "Top", Parts: []PartDecl{{Name: "p", Template: "Leaf", Config: map[string]any{"b": 2}}}},
			},
			exp: Experiment{Name: "E", Template: "Top"},
		},
		{
			name:      "experiment input not declared",
			templates: []Template{{Name: "Top"}},
			exp:       Experiment{Name: "E", Template: "Top", Inputs: map[string]Ref{"src": {Files: []string{"f"}}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			if err := reg.Register(tt.templates...); err != nil {
				t.Fatalf("Register: %v", err)
			}
			_, err := Compose(tt.exp, reg, ComposeOptions{})
			if !errors.Is(err, ErrTemplate) {
				t.Fatalf("expected ErrTemplate, got %v", err)
			}
		})
	}
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		in   string
		want Ref
		bad  bool
	}{
		{in: "input:src", want: Ref{Input: "src"}},
		{in: "prep:clean", want: Ref{Part: "prep", Slot: "clean"}},
		{in: "file:/data/x.txt", want: Ref{Files: []string{"/data/x.txt"}}},
		{in: "nocolon", bad: true},
		{in: "input:", bad: true},
		{in: "a/b:c", bad: true},
	}
	for _, tt := range tests {
		got, err := ParseRef(tt.in)
		if tt.bad {
			if err == nil {
				t.Errorf("ParseRef(%q) accepted malformed reference", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRef(%q): %v", tt.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseRef(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestLoadTemplateDir_MultiDocument(t *testing.T) {
	dir := t.TempDir()
	doc := "name: A\nrun: a\n---\nname: B\ninherits: A\n"
	if err := os.WriteFile(filepath.Join(dir, "lib.yaml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}
	ts, err := LoadTemplateDir(dir)
	if err != nil {
		t.Fatalf("LoadTemplateDir: %v", err)
	}
	if len(ts) != 2 || ts[0].Name != "A" || ts[1].Inherits != "A" {
		t.Fatalf("templates = %+v", ts)
	}

	missing, err := LoadTemplateDir(filepath.Join(dir, "absent"))
	if err != nil || missing != nil {
		t.Fatalf("missing dir = (%v, %v), want empty", missing, err)
	}
}

func TestParseExperimentYAML_RejectsUnknownFields(t *testing.T) {
	_, err := ParseExperimentYAML([]byte("experiment: {name: E, template: T, colour: red}\n"))
	if !errors.Is(err, ErrTemplate) {
		t.Fatalf("expected ErrTemplate, got %v", err)
	}
}
