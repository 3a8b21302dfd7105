package brick

import (
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// resolvedCacheSize bounds the memo of inheritance-merged templates.
const resolvedCacheSize = 1024

// Registry holds template definitions by name and resolves inheritance.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
	resolved  *lru.Cache[string, *Template]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	cache, err := lru.New[string, *Template](resolvedCacheSize)
	if err != nil {
		// Only a non-positive size fails.
		panic("brick: creating resolved template cache: " + err.Error())
	}
	return &Registry{
		templates: make(map[string]*Template),
		resolved:  cache,
	}
}

// Register validates and adds templates. A name may be registered once.
func (r *Registry) Register(templates ...Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range templates {
		t := templates[i].clone()
		if err := t.Validate(); err != nil {
			return err
		}
		if _, exists := r.templates[t.Name]; exists {
			return templatef("template %q is defined more than once", t.Name)
		}
		r.templates[t.Name] = t
	}
	r.resolved.Purge()
	return nil
}

// Names returns the registered template names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the unresolved definition of name.
func (r *Registry) Lookup(name string) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// Chain returns the inheritance chain of name, leaf first.
func (r *Registry) Chain(name string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain, err := r.chainLocked(name)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(chain))
	for i, t := range chain {
		names[i] = t.Name
	}
	return names, nil
}

func (r *Registry) chainLocked(name string) ([]*Template, error) {
	var chain []*Template
	visited := make(map[string]bool)
	current := name
	for {
		if visited[current] {
			return nil, templatef("inheritance cycle: %q appears twice in the chain of %q", current, name)
		}
		visited[current] = true

		t, ok := r.templates[current]
		if !ok {
			if current == name {
				return nil, templatef("unknown template %q", name)
			}
			return nil, templatef("template %q inherits unknown template %q", chain[len(chain)-1].Name, current)
		}
		chain = append(chain, t)
		if t.Inherits == "" {
			return chain, nil
		}
		current = t.Inherits
	}
}

// Resolve returns name with its whole inheritance chain merged, base first.
// The returned template is a private copy.
func (r *Registry) Resolve(name string) (*Template, error) {
	if t, ok := r.resolved.Get(name); ok {
		return t.clone(), nil
	}

	r.mu.RLock()
	chain, err := r.chainLocked(name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	result := *chain[len(chain)-1].clone()
	for i := len(chain) - 2; i >= 0; i-- {
		result = Merge(&result, chain[i])
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("resolving %s: %w", name, err)
	}

	r.resolved.Add(name, &result)
	return result.clone(), nil
}
