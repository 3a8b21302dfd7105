package brick

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Experiment names the root brick of a run and binds its inputs.
type Experiment struct {
	Name     string         `yaml:"name"`
	Template string         `yaml:"template"`
	Inputs   map[string]Ref `yaml:"inputs,omitempty"`
	Config   map[string]any `yaml:"config,omitempty"`
}

// ExperimentFile is the on-disk experiment definition: the root plus any
// templates defined alongside it.
type ExperimentFile struct {
	Experiment Experiment `yaml:"experiment"`
	Templates  []Template `yaml:"templates,omitempty"`

	// Path is where the file was loaded from. Relative file: references
	// resolve against its directory.
	Path string `yaml:"-"`
}

// Dir returns the directory relative file references resolve against.
func (f *ExperimentFile) Dir() string {
	if f.Path == "" {
		return "."
	}
	return filepath.Dir(f.Path)
}

// Validate checks the experiment header and every inline template.
func (f *ExperimentFile) Validate() error {
	e := f.Experiment
	if err := validName(e.Name); err != nil {
		return templatef("experiment: %v", err)
	}
	if strings.TrimSpace(e.Template) == "" {
		return templatef("experiment %s: template is required", e.Name)
	}
	for slot, ref := range e.Inputs {
		if !ref.IsExternal() {
			return templatef("experiment %s: input %s must reference files, got %s", e.Name, slot, ref)
		}
	}
	for i := range f.Templates {
		if err := f.Templates[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ParseExperimentYAML decodes and validates an experiment definition.
func ParseExperimentYAML(data []byte) (*ExperimentFile, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, templatef("experiment definition is empty")
	}
	var f ExperimentFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: decode experiment: %v", ErrTemplate, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadExperimentFile reads and parses an experiment definition from disk.
func LoadExperimentFile(path string) (*ExperimentFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read experiment %s: %w", path, err)
	}
	f, err := ParseExperimentYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = filepath.Clean(path)
	return f, nil
}

// ParseTemplatesYAML decodes a stream of YAML documents, one template each.
func ParseTemplatesYAML(data []byte) ([]Template, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var out []Template
	for {
		var t Template
		err := dec.Decode(&t)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: decode template: %v", ErrTemplate, err)
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// LoadTemplateDir loads every *.yaml / *.yml file in dir, in name order.
// A missing directory holds no templates.
func LoadTemplateDir(dir string) ([]Template, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read template dir %s: %w", trimmed, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isYAMLFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []Template
	for _, name := range names {
		path := filepath.Join(trimmed, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", path, err)
		}
		ts, err := ParseTemplatesYAML(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, ts...)
	}
	return out, nil
}

func isYAMLFile(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}
