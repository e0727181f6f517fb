// Package asset provides the Asset class: a node that owns a set of members
// with exactly one root, stamped with a stable UUID.
package asset

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"metagraph/internal/core"
)

const (
	// ClassTag is the tag stamped on asset nodes.
	ClassTag = "Asset"
	// UUIDAttr holds the asset identity. It is locked.
	UUIDAttr = "UUID"

	rootKey = "Root"
	uuidKey = "UUID"

	exclusiveRuleName = "asset_member_exclusive"
)

// Plugin registers the Asset class and its membership rule.
type Plugin struct{}

// New constructs an asset plugin instance.
func New() Plugin { return Plugin{} }

// Name returns the plugin identifier.
func (Plugin) Name() string { return "asset" }

// Version returns the plugin semantic version.
func (Plugin) Version() string { return "0.1.0" }

// Register contributes the Asset class and the exclusive membership rule.
func (Plugin) Register(registry *core.PluginRegistry) error {
	if err := registry.RegisterClass(core.Class{
		Tag:    ClassTag,
		Locked: []string{UUIDAttr},
		Init: func(ctx context.Context, n *core.MetaNode) error {
			return n.SetInitialProperty(ctx, UUIDAttr, uuid.NewString(), core.RegisterLocked)
		},
	}); err != nil {
		return err
	}
	registry.RegisterRule(exclusiveRule{})
	return nil
}

// Asset is a handle on a node of ClassTag.
type Asset struct {
	*core.MetaNode
}

// From wraps an existing handle, rejecting nodes of another class.
func From(h *core.MetaNode) (*Asset, error) {
	if h.ClassTag() != ClassTag {
		return nil, fmt.Errorf("node %s is %s, not %s", h.ID(), h.ClassTag(), ClassTag)
	}
	return &Asset{MetaNode: h}, nil
}

// Bind resolves id and wraps it as an asset.
func Bind(ctx context.Context, svc *core.Service, id core.NodeID) (*Asset, error) {
	h, err := svc.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	return From(h)
}

// Create makes an asset named name owning members. The shallowest member
// becomes the root.
func Create(ctx context.Context, svc *core.Service, name string, members ...core.MemberID) (*Asset, error) {
	var a *Asset
	_, err := svc.Batch(ctx, func(ctx context.Context) error {
		opts := []core.CreateOption{}
		if name != "" {
			opts = append(opts, core.WithName(name))
		}
		h, err := svc.Create(ctx, ClassTag, opts...)
		if err != nil {
			return err
		}
		a = &Asset{MetaNode: h}
		if err := a.AddMembers(ctx, members...); err != nil {
			return err
		}
		if root, ok := shallowest(members); ok {
			return a.SetRoot(ctx, root)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func shallowest(members []core.MemberID) (core.MemberID, bool) {
	if len(members) == 0 {
		return "", false
	}
	best := members[0]
	for _, m := range members[1:] {
		if depth(m) < depth(best) {
			best = m
		}
	}
	return best, true
}

func depth(m core.MemberID) int {
	return strings.Count(strings.Trim(string(m), "|"), "|")
}

// UUID returns the asset identity.
func (a *Asset) UUID(ctx context.Context) (string, error) {
	v, err := a.Get(ctx, UUIDAttr)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// Members returns every member of the asset in slot order.
func (a *Asset) Members(ctx context.Context) ([]core.MemberID, error) {
	return a.Service().GetTagged(ctx, a.ID())
}

// AddMembers tags members as non-root parts. A member owned by another asset
// is refused with core.AlreadyTaggedError; members already owned by this
// asset keep their part data.
func (a *Asset) AddMembers(ctx context.Context, members ...core.MemberID) error {
	id, err := a.UUID(ctx)
	if err != nil {
		return err
	}
	svc := a.Service()
	for _, m := range members {
		if err := a.checkExclusive(ctx, m); err != nil {
			return err
		}
		isPart, err := svc.IsPart(ctx, a.ID(), m)
		if err != nil {
			return err
		}
		if isPart {
			continue
		}
		if err := svc.SetAsPart(ctx, a.ID(), m, partData(false, id)); err != nil {
			return err
		}
	}
	return nil
}

func (a *Asset) checkExclusive(ctx context.Context, m core.MemberID) error {
	owners, err := a.Service().MetaDataOf(ctx, m, ClassTag)
	if err != nil {
		return err
	}
	for _, owner := range owners {
		if owner != a.ID() {
			return core.AlreadyTaggedError{Member: m, ClassTag: ClassTag, Owner: owner}
		}
	}
	return nil
}

func partData(root bool, id string) map[string]any {
	return map[string]any{rootKey: root, uuidKey: id}
}

// Root returns the root member.
func (a *Asset) Root(ctx context.Context) (core.MemberID, bool, error) {
	found, err := a.Service().SearchParts(ctx, a.ID(), map[string]any{rootKey: true}, true)
	if err != nil || len(found) == 0 {
		return "", false, err
	}
	return found[0], true, nil
}

// NonRootMembers returns the members other than the root.
func (a *Asset) NonRootMembers(ctx context.Context) ([]core.MemberID, error) {
	members, err := a.Members(ctx)
	if err != nil {
		return nil, err
	}
	root, ok, err := a.Root(ctx)
	if err != nil || !ok {
		return members, err
	}
	return slices.DeleteFunc(members, func(m core.MemberID) bool { return m == root }), nil
}

// SetRoot makes member the root. The previous root and every member outside
// the new root's hierarchy are dropped from the asset.
func (a *Asset) SetRoot(ctx context.Context, member core.MemberID) error {
	svc := a.Service()
	_, err := svc.Batch(ctx, func(ctx context.Context) error {
		if err := a.checkExclusive(ctx, member); err != nil {
			return err
		}
		id, err := a.UUID(ctx)
		if err != nil {
			return err
		}
		if current, ok, err := a.Root(ctx); err != nil {
			return err
		} else if ok && current != member {
			if err := svc.RemovePart(ctx, a.ID(), current, true); err != nil {
				return err
			}
		}
		if err := svc.SetAsPart(ctx, a.ID(), member, partData(true, id)); err != nil {
			return err
		}
		others, err := a.NonRootMembers(ctx)
		if err != nil {
			return err
		}
		for _, m := range others {
			if member.IsAncestorOf(m) {
				continue
			}
			if err := svc.RemovePart(ctx, a.ID(), m, true); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

// RefreshUUID stamps a new identity on the asset and all of its members.
func (a *Asset) RefreshUUID(ctx context.Context) (string, error) {
	id := uuid.NewString()
	svc := a.Service()
	_, err := svc.Batch(ctx, func(ctx context.Context) error {
		if err := a.Set(ctx, UUIDAttr, id); err != nil {
			return err
		}
		parts, err := svc.GetParts(ctx, a.ID())
		if err != nil {
			return err
		}
		for _, p := range parts {
			root, _ := p.Data[rootKey].(bool)
			if err := svc.SetAsPart(ctx, a.ID(), p.Member, partData(root, id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// MembersWithSuffix returns members whose short name ends in one of the
// given "_SUFFIX" tokens. Trailing digits are ignored and matching is
// case-insensitive.
func (a *Asset) MembersWithSuffix(ctx context.Context, suffixes ...string) ([]core.MemberID, error) {
	members, err := a.Members(ctx)
	if err != nil {
		return nil, err
	}
	want := make(map[string]struct{}, len(suffixes))
	for _, s := range suffixes {
		want[strings.ToUpper(s)] = struct{}{}
	}
	var out []core.MemberID
	for _, m := range members {
		if _, ok := want[suffixOf(m)]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func suffixOf(m core.MemberID) string {
	name := strings.TrimRightFunc(m.ShortName(), unicode.IsDigit)
	parts := strings.Split(strings.ToUpper(name), "_")
	return parts[len(parts)-1]
}

// Of returns the asset owning member.
func Of(ctx context.Context, svc *core.Service, member core.MemberID) (*Asset, bool, error) {
	owners, err := svc.MetaDataOf(ctx, member, ClassTag)
	if err != nil || len(owners) == 0 {
		return nil, false, err
	}
	a, err := Bind(ctx, svc, owners[0])
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

// exclusiveRule blocks a commit that leaves a member owned by two assets.
type exclusiveRule struct{}

func (exclusiveRule) Name() string { return exclusiveRuleName }

func (exclusiveRule) Evaluate(_ context.Context, view core.RuleView, _ []core.Change) (core.Result, error) {
	var res core.Result
	for _, m := range view.ListMembers() {
		count := 0
		for _, owner := range m.OwnerIDs() {
			if n, ok := view.FindNode(owner); ok && n.ClassTag == ClassTag {
				count++
			}
		}
		if count > 1 {
			res.Violations = append(res.Violations, core.Violation{
				Rule:     exclusiveRuleName,
				Severity: core.SeverityBlock,
				Message:  fmt.Sprintf("member owned by %d assets", count),
				Entity:   core.EntityMember,
				EntityID: string(m.ID),
			})
		}
	}
	return res, nil
}

// IsExclusiveViolation reports whether err was raised by the membership rule.
func IsExclusiveViolation(err error) bool {
	var rv core.RuleViolationError
	if !errors.As(err, &rv) {
		return false
	}
	for _, v := range rv.Result.Violations {
		if v.Rule == exclusiveRuleName {
			return true
		}
	}
	return false
}
