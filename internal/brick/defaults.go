package brick

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults holds site-wide default configuration for templates.
//
// The file is a nested mapping whose key path is the template name split on
// '.', e.g.
//
//	lm:
//	  KenLM:
//	    mosesDir: /opt/moses
type Defaults struct {
	tree map[string]any
	path string
}

// ParseDefaults decodes a defaults document. An empty document is valid.
func ParseDefaults(data []byte) (*Defaults, error) {
	d := &Defaults{tree: map[string]any{}}
	if len(bytes.TrimSpace(data)) == 0 {
		return d, nil
	}
	if err := yaml.Unmarshal(data, &d.tree); err != nil {
		return nil, fmt.Errorf("decode defaults: %w", err)
	}
	if d.tree == nil {
		d.tree = map[string]any{}
	}
	return d, nil
}

// LoadDefaults reads path. A missing file yields empty defaults.
func LoadDefaults(path string) (*Defaults, error) {
	if strings.TrimSpace(path) == "" {
		return &Defaults{tree: map[string]any{}}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Defaults{tree: map[string]any{}, path: path}, nil
		}
		return nil, fmt.Errorf("read defaults %s: %w", path, err)
	}
	d, err := ParseDefaults(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	d.path = path
	return d, nil
}

// Path returns the file the defaults were loaded from, if any.
func (d *Defaults) Path() string {
	if d == nil {
		return ""
	}
	return d.path
}

// UserDefaultsPath is the per-user override location:
// $XDG_CONFIG_HOME/brickflow/defaults.yaml, else ~/.config/brickflow/defaults.yaml.
func UserDefaultsPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "brickflow", "defaults.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "brickflow", "defaults.yaml")
}

// DefaultsFile picks the defaults file to load: the user override when it
// exists, otherwise shipped.
func DefaultsFile(shipped string) string {
	if user := UserDefaultsPath(); user != "" {
		if info, err := os.Stat(user); err == nil && !info.IsDir() {
			return user
		}
	}
	return shipped
}

// Lookup returns the defaults entry for one template name.
func (d *Defaults) Lookup(template string) (map[string]any, bool) {
	if d == nil {
		return nil, false
	}
	var cur any = d.tree
	for _, seg := range strings.Split(template, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	m, ok := cur.(map[string]any)
	return m, ok
}

// Apply overlays defaults onto cfg for a template with the given chain
// (leaf first). The first template in the chain with an entry wins, and only
// keys cfg already declares are overridden. cfg is not modified.
func (d *Defaults) Apply(chain []string, cfg map[string]any) map[string]any {
	out := cloneConfig(cfg)
	for _, name := range chain {
		entry, ok := d.Lookup(name)
		if !ok {
			continue
		}
		for k, v := range entry {
			if _, declared := out[k]; declared {
				out[k] = v
			}
		}
		break
	}
	return out
}
