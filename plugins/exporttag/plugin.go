// Package exporttag provides the ExportTag class, which marks the root
// member of an export. A member carries at most one export tag and tags
// never nest: no tagged member may sit above or below another.
package exporttag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"metagraph/internal/core"
)

const (
	// ClassTag is the tag stamped on export tag nodes.
	ClassTag = "ExportTag"

	NoteAttr       = "TagNote"
	ActiveAttr     = "TagActive"
	AutoUpdateAttr = "AutoUpdate"
	// TypeAttr is hidden: it lives on the handle and is never persisted.
	TypeAttr = "TagType"
	// TaskListAttr is private and locked.
	TaskListAttr = "TaskList"

	nestingRuleName = "export_tag_nesting"
)

// ErrNestedExportTag is returned when a new tag would sit above or below an
// existing one.
var ErrNestedExportTag = errors.New("nested export tag")

// Plugin registers the ExportTag class and its nesting rule.
type Plugin struct{}

// New constructs an export tag plugin instance.
func New() Plugin { return Plugin{} }

// Name returns the plugin identifier.
func (Plugin) Name() string { return "exporttag" }

// Version returns the plugin semantic version.
func (Plugin) Version() string { return "0.1.0" }

// Register contributes the ExportTag class and the nesting rule.
func (Plugin) Register(registry *core.PluginRegistry) error {
	if err := registry.RegisterClass(core.Class{
		Tag:     ClassTag,
		Private: []string{TaskListAttr},
		Hidden:  []string{TypeAttr},
		Init:    initTag,
		Valid: func(_ core.TransactionView, node core.Node) bool {
			return len(node.Tagged) > 0
		},
	}); err != nil {
		return err
	}
	registry.RegisterRule(nestingRule{})
	return nil
}

func initTag(ctx context.Context, n *core.MetaNode) error {
	defaults := []struct {
		name  string
		value any
		as    core.RegisterAs
	}{
		{NoteAttr, "", core.RegisterNone},
		{ActiveAttr, true, core.RegisterNone},
		{AutoUpdateAttr, true, core.RegisterNone},
		{TypeAttr, "", core.RegisterHidden},
		{TaskListAttr, "", core.RegisterPrivate},
	}
	for _, d := range defaults {
		if err := n.SetInitialProperty(ctx, d.name, d.value, d.as); err != nil {
			return err
		}
	}
	return n.SerializeForExport(ctx, NoteAttr, ActiveAttr, AutoUpdateAttr)
}

// Tag is a handle on a node of ClassTag.
type Tag struct {
	*core.MetaNode
}

// From wraps an existing handle, rejecting nodes of another class.
func From(h *core.MetaNode) (*Tag, error) {
	if h.ClassTag() != ClassTag {
		return nil, fmt.Errorf("node %s is %s, not %s", h.ID(), h.ClassTag(), ClassTag)
	}
	return &Tag{MetaNode: h}, nil
}

// Bind resolves id and wraps it as an export tag.
func Bind(ctx context.Context, svc *core.Service, id core.NodeID) (*Tag, error) {
	h, err := svc.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	return From(h)
}

// Add tags member for export under note. A member already carrying a tag is
// refused with core.AlreadyTaggedError; a tag above or below member is
// refused with ErrNestedExportTag.
func Add(ctx context.Context, svc *core.Service, member core.MemberID, note string) (*Tag, error) {
	owners, err := svc.MetaDataOf(ctx, member, ClassTag)
	if err != nil {
		return nil, err
	}
	if len(owners) > 0 {
		return nil, core.AlreadyTaggedError{Member: member, ClassTag: ClassTag, Owner: owners[0]}
	}
	above, err := FindAbove(ctx, svc, member)
	if err != nil {
		return nil, err
	}
	if len(above) > 0 {
		return nil, fmt.Errorf("%w: a parent of %s is already tagged", ErrNestedExportTag, member)
	}
	under, err := FindUnder(ctx, svc, member)
	if err != nil {
		return nil, err
	}
	if len(under) > 0 {
		return nil, fmt.Errorf("%w: a child of %s is already tagged", ErrNestedExportTag, member)
	}
	opts := []core.CreateOption{
		core.Tagging(member),
		core.WithAttributes(map[string]any{NoteAttr: note}),
	}
	if note != "" {
		opts = append(opts, core.WithName(note))
	}
	h, err := svc.Create(ctx, ClassTag, opts...)
	if err != nil {
		return nil, err
	}
	return &Tag{MetaNode: h}, nil
}

// Root returns the tagged member.
func (t *Tag) Root(ctx context.Context) (core.MemberID, bool, error) {
	members, err := t.Service().GetTagged(ctx, t.ID())
	if err != nil || len(members) == 0 {
		return "", false, err
	}
	return members[0], true, nil
}

// Note returns the tag note.
func (t *Tag) Note(ctx context.Context) (string, error) {
	v, err := t.Get(ctx, NoteAttr)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// SetNote updates the note and renames the node after it.
func (t *Tag) SetNote(ctx context.Context, note string) error {
	_, err := t.Service().Batch(ctx, func(ctx context.Context) error {
		if err := t.Set(ctx, NoteAttr, note); err != nil {
			return err
		}
		return t.SetName(ctx, note)
	})
	return err
}

// Active reports whether the tag takes part in exports.
func (t *Tag) Active(ctx context.Context) (bool, error) { return t.boolAttr(ctx, ActiveAttr) }

// SetActive toggles the tag.
func (t *Tag) SetActive(ctx context.Context, active bool) error {
	return t.Set(ctx, ActiveAttr, active)
}

// AutoUpdate reports whether the task list follows its template.
func (t *Tag) AutoUpdate(ctx context.Context) (bool, error) { return t.boolAttr(ctx, AutoUpdateAttr) }

func (t *Tag) boolAttr(ctx context.Context, name string) (bool, error) {
	v, err := t.Get(ctx, name)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

// Type returns the handle-local tag type.
func (t *Tag) Type(ctx context.Context) string {
	v, err := t.Get(ctx, TypeAttr)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// SetType sets the handle-local tag type.
func (t *Tag) SetType(ctx context.Context, typ string) error { return t.Set(ctx, TypeAttr, typ) }

// TaskList returns the stored task list document.
func (t *Tag) TaskList(ctx context.Context) (string, error) {
	v, err := t.Get(ctx, TaskListAttr)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// SetTaskList stores a task list document.
func (t *Tag) SetTaskList(ctx context.Context, doc string) error {
	return t.Set(ctx, TaskListAttr, doc)
}

// FindOptions filters Find.
type FindOptions struct {
	// ActiveOnly drops inactive tags.
	ActiveOnly bool
	// Notes keeps only tags whose note is listed.
	Notes []string
	// ValidOnly drops tags without a root member.
	ValidOnly bool
	// RemoveInvalid deletes the tags ValidOnly dropped.
	RemoveInvalid bool
}

// Find returns export tags ordered by upper-cased note.
func Find(ctx context.Context, svc *core.Service, opts FindOptions) ([]*Tag, error) {
	nodes, err := svc.NodesOfClass(ctx, ClassTag, true)
	if err != nil {
		return nil, err
	}
	type entry struct {
		tag  *Tag
		note string
	}
	var out []entry
	for _, node := range nodes {
		if opts.ValidOnly && len(node.Tagged) == 0 {
			if opts.RemoveInvalid {
				if err := svc.Delete(ctx, node.ID); err != nil {
					return nil, err
				}
			}
			continue
		}
		t, err := Bind(ctx, svc, node.ID)
		if err != nil {
			return nil, err
		}
		if opts.ActiveOnly {
			active, err := t.Active(ctx)
			if err != nil {
				return nil, err
			}
			if !active {
				continue
			}
		}
		note, err := t.Note(ctx)
		if err != nil {
			return nil, err
		}
		if len(opts.Notes) > 0 && !contains(opts.Notes, note) {
			continue
		}
		out = append(out, entry{tag: t, note: strings.ToUpper(note)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].note < out[j].note })
	tags := make([]*Tag, len(out))
	for i, e := range out {
		tags[i] = e.tag
	}
	return tags, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// FindUnder returns the tags whose root is root or lies below it.
func FindUnder(ctx context.Context, svc *core.Service, root core.MemberID) ([]*Tag, error) {
	return findByRoot(ctx, svc, func(m core.MemberID) bool {
		return m == root || root.IsAncestorOf(m)
	})
}

// FindAbove returns the tags whose root is member or one of its ancestors.
func FindAbove(ctx context.Context, svc *core.Service, member core.MemberID) ([]*Tag, error) {
	return findByRoot(ctx, svc, func(m core.MemberID) bool {
		return m == member || m.IsAncestorOf(member)
	})
}

func findByRoot(ctx context.Context, svc *core.Service, match func(core.MemberID) bool) ([]*Tag, error) {
	nodes, err := svc.NodesOfClass(ctx, ClassTag, true)
	if err != nil {
		return nil, err
	}
	var out []*Tag
	for _, node := range nodes {
		members := node.TaggedMembers()
		if len(members) == 0 || !match(members[0]) {
			continue
		}
		t, err := Bind(ctx, svc, node.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Remove deletes the export tags on members and returns how many went.
func Remove(ctx context.Context, svc *core.Service, members ...core.MemberID) (int, error) {
	removed := 0
	_, err := svc.Batch(ctx, func(ctx context.Context) error {
		for _, m := range members {
			owners, err := svc.MetaDataOf(ctx, m, ClassTag)
			if err != nil {
				return err
			}
			for _, id := range owners {
				if err := svc.Delete(ctx, id); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// RemoveInvalid deletes every tag left without a root member.
func RemoveInvalid(ctx context.Context, svc *core.Service) (int, error) {
	nodes, err := svc.NodesOfClass(ctx, ClassTag, true)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, node := range nodes {
		if len(node.Tagged) > 0 {
			continue
		}
		svc.Logger().Info("removing invalid export tag", zap.String("id", string(node.ID)))
		if err := svc.Delete(ctx, node.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// SetActive sets the active state of the tags on members.
func SetActive(ctx context.Context, svc *core.Service, active bool, members ...core.MemberID) error {
	_, err := svc.Batch(ctx, func(ctx context.Context) error {
		for _, m := range members {
			owners, err := svc.MetaDataOf(ctx, m, ClassTag)
			if err != nil {
				return err
			}
			for _, id := range owners {
				t, err := Bind(ctx, svc, id)
				if err != nil {
					return err
				}
				if err := t.SetActive(ctx, active); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return err
}

// Copy writes the unlocked public attributes of src onto dst. The note is
// left alone.
func Copy(ctx context.Context, src, dst *Tag) error {
	names, err := src.Attributes(ctx, false)
	if err != nil {
		return err
	}
	_, err = dst.Service().Batch(ctx, func(ctx context.Context) error {
		for _, name := range names {
			if name == NoteAttr {
				continue
			}
			slot, err := src.Slot(ctx, name)
			if err != nil {
				return err
			}
			if slot.Locked {
				continue
			}
			v, err := src.Get(ctx, name)
			if err != nil {
				return err
			}
			if err := dst.Set(ctx, name, v); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

// nestingRule blocks a commit that leaves two tags on one member or a tagged
// member inside another tagged hierarchy.
type nestingRule struct{}

func (nestingRule) Name() string { return nestingRuleName }

func (nestingRule) Evaluate(_ context.Context, view core.RuleView, _ []core.Change) (core.Result, error) {
	var res core.Result
	roots := map[core.MemberID]core.NodeID{}
	var order []core.MemberID
	for _, node := range view.ListNodes() {
		if node.ClassTag != ClassTag {
			continue
		}
		for _, m := range node.TaggedMembers() {
			if prev, dup := roots[m]; dup && prev != node.ID {
				res.Violations = append(res.Violations, violation(node.ID, fmt.Sprintf("member %s carries two export tags", m)))
				continue
			}
			roots[m] = node.ID
			order = append(order, m)
		}
	}
	for _, upper := range order {
		for _, lower := range order {
			if upper.IsAncestorOf(lower) {
				res.Violations = append(res.Violations, violation(roots[lower], fmt.Sprintf("export tag on %s is nested under %s", lower, upper)))
			}
		}
	}
	return res, nil
}

func violation(id core.NodeID, msg string) core.Violation {
	return core.Violation{
		Rule:     nestingRuleName,
		Severity: core.SeverityBlock,
		Message:  msg,
		Entity:   core.EntityNode,
		EntityID: string(id),
	}
}
