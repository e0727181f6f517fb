package core

import (
	"fmt"
	"sort"
)

// Plugin describes a module that contributes behavior classes and rules.
type Plugin interface {
	Name() string
	Version() string
	Register(registry *PluginRegistry) error
}

// PluginRegistry accumulates plugin contributions during registration.
type PluginRegistry struct {
	rules   []Rule
	classes []Class
	seen    map[string]struct{}
}

// NewPluginRegistry constructs a plugin registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{seen: make(map[string]struct{})}
}

// RegisterRule adds an in-transaction rule contributed by the plugin.
func (r *PluginRegistry) RegisterRule(rule Rule) {
	if rule == nil {
		return
	}
	r.rules = append(r.rules, rule)
}

// RegisterClass stores a behavior class contributed by the plugin.
func (r *PluginRegistry) RegisterClass(class Class) error {
	if class.Tag == "" {
		return fmt.Errorf("class tag required")
	}
	if _, dup := r.seen[class.Tag]; dup {
		return fmt.Errorf("class %s registered twice", class.Tag)
	}
	r.seen[class.Tag] = struct{}{}
	r.classes = append(r.classes, class)
	return nil
}

// Rules returns a copy of registered rules.
func (r *PluginRegistry) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Classes returns a copy of registered classes in registration order.
func (r *PluginRegistry) Classes() []Class {
	out := make([]Class, len(r.classes))
	copy(out, r.classes)
	return out
}

// PluginMetadata stores metadata describing an installed plugin.
type PluginMetadata struct {
	Name    string
	Version string
	Classes []string
	Rules   []string
}

func newPluginMetadata(p Plugin, reg *PluginRegistry) PluginMetadata {
	meta := PluginMetadata{Name: p.Name(), Version: p.Version()}
	for _, c := range reg.classes {
		meta.Classes = append(meta.Classes, c.Tag)
	}
	for _, rule := range reg.rules {
		meta.Rules = append(meta.Rules, rule.Name())
	}
	sort.Strings(meta.Classes)
	return meta
}
