package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metagraph/pkg/domain"
)

// maxChildrenRule blocks any commit that leaves a node with too many children.
type maxChildrenRule struct{ limit int }

func (maxChildrenRule) Name() string { return "max_children" }

func (r maxChildrenRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, n := range view.ListNodes() {
		if len(view.ChildrenOf(n.ID)) > r.limit {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "max_children",
				Severity: domain.SeverityBlock,
				Message:  "too many children",
				Entity:   domain.EntityNode,
				EntityID: string(n.ID),
			})
		}
	}
	return res, nil
}

type noteRule struct{}

func (noteRule) Name() string { return "note_creates" }

func (noteRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, c := range changes {
		if c.Entity == domain.EntityNode && c.Action == domain.ActionCreate {
			res.Violations = append(res.Violations, domain.Violation{Rule: "note_creates", Severity: domain.SeverityWarn, Message: "node created"})
		}
	}
	return res, nil
}

type testPlugin struct {
	name    string
	classes []Class
	rules   []Rule
}

func (p testPlugin) Name() string    { return p.name }
func (p testPlugin) Version() string { return "0.1.0" }

func (p testPlugin) Register(reg *PluginRegistry) error {
	for _, c := range p.classes {
		if err := reg.RegisterClass(c); err != nil {
			return err
		}
	}
	for _, r := range p.rules {
		reg.RegisterRule(r)
	}
	return nil
}

func TestBatchCommitsAsUnit(t *testing.T) {
	f := newFixture(t)
	var a, b *MetaNode
	_, err := f.svc.Batch(f.ctx, func(ctx context.Context) error {
		var err error
		if a, err = f.svc.Create(ctx, rigClass); err != nil {
			return err
		}
		if b, err = f.svc.Create(ctx, domain.BaseClass, AsChildOf(a.ID())); err != nil {
			return err
		}
		return b.Set(ctx, "side", "L")
	})
	require.NoError(t, err)
	children, err := f.svc.Children(f.ctx, a.ID())
	require.NoError(t, err)
	assert.Equal(t, []NodeID{b.ID()}, children)
}

func TestBatchRollsBackOnError(t *testing.T) {
	f := newFixture(t)
	keep := f.create(t, domain.BaseClass)
	require.NoError(t, keep.Set(f.ctx, "v", 1))

	boom := errors.New("boom")
	_, err := f.svc.Batch(f.ctx, func(ctx context.Context) error {
		if _, err := f.svc.Create(ctx, rigClass); err != nil {
			return err
		}
		if err := keep.Set(ctx, "v", 2); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	rigs, err := f.svc.NodesOfClass(f.ctx, rigClass, true)
	require.NoError(t, err)
	assert.Empty(t, rigs)
	got, err := f.svc.GetAttribute(f.ctx, keep.ID(), "v")
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestDocumentOperationsRejectedInsideBatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Batch(f.ctx, func(ctx context.Context) error {
		return f.svc.Reset(ctx)
	})
	require.ErrorIs(t, err, ErrInsideBatch)
}

func TestResetDropsDocumentAndHandles(t *testing.T) {
	f := newFixture(t)
	rig := f.create(t, rigClass)
	require.NoError(t, rig.Set(f.ctx, "cache", "warm"))

	require.NoError(t, f.svc.Reset(f.ctx))
	nodes, err := f.svc.NodesOfClass(f.ctx, rigClass, true)
	require.NoError(t, err)
	assert.Empty(t, nodes)
	_, err = f.svc.Resolve(f.ctx, rig.ID())
	var nf ErrNotFound
	require.ErrorAs(t, err, &nf)
}

func TestHandleEvictionLosesHiddenValues(t *testing.T) {
	f := newFixture(t, WithHandleCacheSize(1))
	first := f.create(t, rigClass)
	require.NoError(t, first.Set(f.ctx, "cache", "warm"))
	f.create(t, rigClass)

	again, err := f.svc.Resolve(f.ctx, first.ID())
	require.NoError(t, err)
	assert.NotSame(t, first, again)
	has, err := again.Has(f.ctx, "cache")
	require.NoError(t, err)
	assert.False(t, has)
	got, err := again.Get(f.ctx, "rigType")
	require.NoError(t, err)
	assert.Equal(t, "biped", got)
}

func TestDeleteUnknownNode(t *testing.T) {
	f := newFixture(t)
	var nf ErrNotFound
	require.ErrorAs(t, f.svc.Delete(f.ctx, "ghost"), &nf)
	assert.Equal(t, "node ghost not found", nf.Error())
}

func TestInstallPluginRegistersClassesAndRules(t *testing.T) {
	f := newFixture(t)
	plugin := testPlugin{
		name:    "limits",
		classes: []Class{{Tag: "Socket", Base: rigClass}},
		rules:   []Rule{maxChildrenRule{limit: 1}, noteRule{}},
	}
	meta, err := f.svc.InstallPlugin(plugin)
	require.NoError(t, err)
	assert.Equal(t, PluginMetadata{
		Name:    "limits",
		Version: "0.1.0",
		Classes: []string{"Socket"},
		Rules:   []string{"max_children", "note_creates"},
	}, meta)
	assert.Equal(t, []PluginMetadata{meta}, f.svc.RegisteredPlugins())

	_, err = f.svc.InstallPlugin(plugin)
	require.Error(t, err)

	socket := f.create(t, "Socket")
	assert.Equal(t, []string{domain.BaseClass, rigClass, "Socket"}, f.svc.Registry().Chain("Socket"))
	assert.Positive(t, f.warnings("node created"))

	f.create(t, domain.BaseClass, AsChildOf(socket.ID()))
	_, err = f.svc.Create(f.ctx, domain.BaseClass, AsChildOf(socket.ID()))
	var rv domain.RuleViolationError
	require.ErrorAs(t, err, &rv)
	assert.True(t, rv.Result.HasBlocking())
	assert.Equal(t, 1, f.warnings("transaction blocked"))

	children, err := f.svc.Children(f.ctx, socket.ID())
	require.NoError(t, err)
	assert.Len(t, children, 1)
}

func TestInstallPluginRejectsBadClasses(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.InstallPlugin(nil)
	require.Error(t, err)
	_, err = f.svc.InstallPlugin(testPlugin{name: "orphan", classes: []Class{{Tag: "Leaf", Base: "Nowhere"}}})
	require.Error(t, err)
	_, err = f.svc.InstallPlugin(testPlugin{name: "twice", classes: []Class{{Tag: "Dup"}, {Tag: "Dup"}}})
	require.Error(t, err)
	assert.Empty(t, f.svc.RegisteredPlugins())
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(testClasses()...))
	require.Error(t, reg.Register(Class{Tag: rigClass}))
	require.Error(t, reg.Register(Class{}))

	limb, ok := reg.Lookup(limbClass)
	require.True(t, ok)
	assert.Equal(t, rigClass, limb.Base)
	assert.Equal(t, 1.0, limb.Version)

	base, ok := reg.Resolve("Unknown")
	assert.False(t, ok)
	assert.Equal(t, domain.BaseClass, base.Tag)

	assert.Equal(t, []string{GroupClass, limbClass, domain.BaseClass, rigClass}, reg.Tags())
	assert.Equal(t, []string{limbClass, rigClass}, reg.Subclasses(rigClass))
}
