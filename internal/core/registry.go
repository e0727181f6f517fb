package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"metagraph/pkg/domain"
)

// GroupClass is the reserved class tag of transparent organisational nodes.
// Class-filtered neighbour queries recurse through nodes of this class.
const GroupClass = "Group"

// Class describes the behavior bound to a class tag.
type Class struct {
	// Tag is the class tag stamped on nodes of this class.
	Tag string
	// Base is the parent class tag. Empty means domain.BaseClass.
	Base    string
	Version float64
	// Locked, Private and Hidden seed the attribute registration sets of
	// every handle of this class.
	Locked  []string
	Private []string
	Hidden  []string
	// Init runs inside the creating transaction of a brand new node.
	Init func(ctx context.Context, n *MetaNode) error
	// Valid narrows validity beyond the graph-level check.
	Valid func(view domain.TransactionView, node domain.Node) bool
}

// Registry maps class tags to their behavior. It is populated once at
// startup; lookups never scan for types.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]*Class
	chains  map[string][]string
}

// NewRegistry returns a registry holding only the base class.
func NewRegistry() *Registry {
	r := &Registry{
		classes: make(map[string]*Class),
		chains:  make(map[string][]string),
	}
	base := &Class{Tag: domain.BaseClass, Version: 1}
	r.classes[base.Tag] = base
	r.chains[base.Tag] = []string{base.Tag}
	return r
}

// Register adds classes in order. A class must be registered after its base.
func (r *Registry) Register(classes ...Class) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range classes {
		c := classes[i]
		if c.Tag == "" {
			return fmt.Errorf("class tag required")
		}
		if _, exists := r.classes[c.Tag]; exists {
			return fmt.Errorf("class %s already registered", c.Tag)
		}
		if c.Base == "" {
			c.Base = domain.BaseClass
		}
		baseChain, ok := r.chains[c.Base]
		if !ok {
			return fmt.Errorf("class %s: unknown base %s", c.Tag, c.Base)
		}
		if c.Version == 0 {
			c.Version = 1
		}
		chain := append(append([]string(nil), baseChain...), c.Tag)
		r.classes[c.Tag] = &c
		r.chains[c.Tag] = chain
	}
	return nil
}

// Lookup returns the class registered under tag.
func (r *Registry) Lookup(tag string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[tag]
	return c, ok
}

// Resolve returns the class for tag, falling back to the base class. The
// boolean reports whether tag itself was registered.
func (r *Registry) Resolve(tag string) (*Class, bool) {
	if c, ok := r.Lookup(tag); ok {
		return c, true
	}
	base, _ := r.Lookup(domain.BaseClass)
	return base, false
}

// Chain returns the inheritance chain of tag, most-base first.
func (r *Registry) Chain(tag string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.chains[tag]...)
}

// Tags lists every registered class tag.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.classes))
	for tag := range r.classes {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Subclasses lists the tags whose chain contains tag, tag included.
func (r *Registry) Subclasses(tag string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for t, chain := range r.chains {
		for _, c := range chain {
			if c == tag {
				out = append(out, t)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
