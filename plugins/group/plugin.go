// Package group provides the Group class: transparent organisational nodes
// that class-filtered neighbour queries look through.
package group

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"metagraph/internal/core"
)

const (
	// ClassTag is the tag stamped on group nodes.
	ClassTag = core.GroupClass
	// TypeAttr partitions groups; child and parent group queries only
	// return groups of the same type.
	TypeAttr = "GroupType"
	// NameAttr identifies a group among its siblings.
	NameAttr = "GroupName"
)

// Plugin registers the Group class.
type Plugin struct{}

// New constructs a group plugin instance.
func New() Plugin { return Plugin{} }

// Name returns the plugin identifier.
func (Plugin) Name() string { return "group" }

// Version returns the plugin semantic version.
func (Plugin) Version() string { return "0.1.0" }

// Register contributes the Group class.
func (Plugin) Register(registry *core.PluginRegistry) error {
	return registry.RegisterClass(core.Class{
		Tag:    ClassTag,
		Locked: []string{TypeAttr, NameAttr},
		Init: func(ctx context.Context, n *core.MetaNode) error {
			if err := n.SetInitialProperty(ctx, TypeAttr, "", core.RegisterLocked); err != nil {
				return err
			}
			return n.SetInitialProperty(ctx, NameAttr, "", core.RegisterLocked)
		},
	})
}

// Group is a handle on a node of ClassTag.
type Group struct {
	*core.MetaNode
}

// From wraps an existing handle, rejecting nodes of another class.
func From(h *core.MetaNode) (*Group, error) {
	if h.ClassTag() != ClassTag {
		return nil, fmt.Errorf("node %s is %s, not %s", h.ID(), h.ClassTag(), ClassTag)
	}
	return &Group{MetaNode: h}, nil
}

// Bind resolves id and wraps it as a group.
func Bind(ctx context.Context, svc *core.Service, id core.NodeID) (*Group, error) {
	h, err := svc.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	return From(h)
}

// Create makes a group of groupType named groupName. A non-empty parent
// links the group under it; children are linked under the group.
func Create(ctx context.Context, svc *core.Service, groupType, groupName string, parent core.NodeID, children ...core.NodeID) (*Group, error) {
	opts := []core.CreateOption{
		core.WithAttributes(map[string]any{TypeAttr: groupType, NameAttr: groupName}),
	}
	if groupName != "" {
		opts = append(opts, core.WithName(groupName))
	}
	if parent != "" {
		opts = append(opts, core.AsChildOf(parent))
	}
	for _, c := range children {
		opts = append(opts, core.AsParentOf(c))
	}
	h, err := svc.Create(ctx, ClassTag, opts...)
	if err != nil {
		return nil, err
	}
	return &Group{MetaNode: h}, nil
}

// Type returns the group type.
func (g *Group) Type(ctx context.Context) (string, error) { return g.stringAttr(ctx, TypeAttr) }

// GroupName returns the group name.
func (g *Group) GroupName(ctx context.Context) (string, error) { return g.stringAttr(ctx, NameAttr) }

func (g *Group) stringAttr(ctx context.Context, name string) (string, error) {
	v, err := g.Get(ctx, name)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// ChildGroups returns the direct child groups sharing this group's type.
func (g *Group) ChildGroups(ctx context.Context) ([]*Group, error) {
	ids, err := g.Service().Children(ctx, g.ID(), core.IncludeGroups(), core.OfClass(ClassTag))
	if err != nil {
		return nil, err
	}
	return g.sameType(ctx, ids)
}

// ParentGroups returns the direct parent groups sharing this group's type.
func (g *Group) ParentGroups(ctx context.Context) ([]*Group, error) {
	ids, err := g.Service().Parents(ctx, g.ID(), core.IncludeGroups(), core.OfClass(ClassTag))
	if err != nil {
		return nil, err
	}
	return g.sameType(ctx, ids)
}

func (g *Group) sameType(ctx context.Context, ids []core.NodeID) ([]*Group, error) {
	want, err := g.Type(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Group
	for _, id := range ids {
		other, err := Bind(ctx, g.Service(), id)
		if err != nil {
			return nil, err
		}
		typ, err := other.Type(ctx)
		if err != nil {
			return nil, err
		}
		if typ == want {
			out = append(out, other)
		}
	}
	return out, nil
}

// ChildGroup returns the child group named groupName, of any type.
func (g *Group) ChildGroup(ctx context.Context, groupName string) (*Group, bool, error) {
	ids, err := g.Service().Children(ctx, g.ID(), core.IncludeGroups(), core.OfClass(ClassTag))
	if err != nil {
		return nil, false, err
	}
	return findNamed(ctx, g.Service(), ids, groupName)
}

// ParentGroup returns the parent group named groupName, of any type.
func (g *Group) ParentGroup(ctx context.Context, groupName string) (*Group, bool, error) {
	ids, err := g.Service().Parents(ctx, g.ID(), core.IncludeGroups(), core.OfClass(ClassTag))
	if err != nil {
		return nil, false, err
	}
	return findNamed(ctx, g.Service(), ids, groupName)
}

func findNamed(ctx context.Context, svc *core.Service, ids []core.NodeID, groupName string) (*Group, bool, error) {
	for _, id := range ids {
		other, err := Bind(ctx, svc, id)
		if err != nil {
			return nil, false, err
		}
		name, err := other.GroupName(ctx)
		if err != nil {
			return nil, false, err
		}
		if name == groupName {
			return other, true, nil
		}
	}
	return nil, false, nil
}

// AddChildGroup creates a child group of the same type. An existing child of
// that name is returned instead, with a warning.
func (g *Group) AddChildGroup(ctx context.Context, groupName string) (*Group, error) {
	existing, ok, err := g.ChildGroup(ctx, groupName)
	if err != nil {
		return nil, err
	}
	if ok {
		g.Service().Logger().Warn("group already has child group",
			zap.String("group", string(g.ID())), zap.String("name", groupName))
		return existing, nil
	}
	typ, err := g.Type(ctx)
	if err != nil {
		return nil, err
	}
	return Create(ctx, g.Service(), typ, groupName, g.ID())
}
