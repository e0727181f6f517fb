package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"metagraph/pkg/domain"
)

func TestCreateRunsClassInit(t *testing.T) {
	f := newFixture(t)
	rig := f.create(t, rigClass, WithName("arm"), WithAttributes(map[string]any{"side": "L"}))

	got, err := rig.Get(f.ctx, "rigType")
	require.NoError(t, err)
	assert.Equal(t, "biped", got)
	assert.True(t, rig.IsLocked("rigType"))
	require.ErrorIs(t, f.svc.SetAttribute(f.ctx, rig.ID(), "rigType", "quad"), domain.ErrAttributeLocked)

	rec, err := rig.Record(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "Rig_arm", rec.Name)
	assert.Equal(t, 2.0, rec.Version)
	assert.Equal(t, []string{domain.BaseClass, rigClass}, rec.Inheritance)
	assert.Equal(t, "L", rec.Attributes["side"].String)
}

func TestCreateUnregisteredClassFails(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(f.ctx, "Mystery")
	require.Error(t, err)
	nodes, err := f.svc.NodesOfClass(f.ctx, "Mystery", false)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestSetNamePrefixesClassTag(t *testing.T) {
	f := newFixture(t)
	rig := f.create(t, rigClass)
	cases := map[string]string{
		"arm":        "Rig_arm",
		"Rig_leg":    "Rig_leg",
		"chr:spine":  "chr:Rig_spine",
		"chr:Rig_fk": "chr:Rig_fk",
	}
	for in, want := range cases {
		require.NoError(t, rig.SetName(f.ctx, in))
		got, err := rig.Name(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

func TestPrivateAttributesAreHiddenFromListings(t *testing.T) {
	f := newFixture(t)
	rig := f.create(t, rigClass)
	require.NoError(t, rig.Set(f.ctx, "buildLog", []string{"step1"}))
	require.NoError(t, rig.Set(f.ctx, "side", "R"))

	public, err := rig.Attributes(f.ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"rigType", "side"}, public)
	all, err := rig.Attributes(f.ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"buildLog", "rigType", "side"}, all)

	slot, err := rig.Slot(f.ctx, "buildLog")
	require.NoError(t, err)
	assert.True(t, slot.Private)
	assert.True(t, slot.Locked)
	require.ErrorIs(t, rig.SetPropertyKeyable(f.ctx, "buildLog", true), ErrPropertyNotEditable)
	require.ErrorIs(t, f.svc.SetAttribute(f.ctx, rig.ID(), "buildLog", "x"), domain.ErrAttributeLocked)
}

func TestHiddenAttributesLiveOnTheHandle(t *testing.T) {
	f := newFixture(t)
	rig := f.create(t, rigClass)

	has, err := rig.Has(f.ctx, "cache")
	require.NoError(t, err)
	assert.False(t, has)
	_, err = rig.Get(f.ctx, "cache")
	require.ErrorIs(t, err, domain.ErrHostAttributeMissing)

	require.NoError(t, rig.Set(f.ctx, "cache", map[string]int{"hits": 3}))
	got, err := rig.Get(f.ctx, "cache")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"hits": 3}, got)
	assert.Equal(t, []string{"cache"}, rig.HiddenAttributes())

	rec, err := rig.Record(f.ctx)
	require.NoError(t, err)
	assert.NotContains(t, rec.Attributes, "cache")
	require.ErrorIs(t, rig.SetPropertyLocked(f.ctx, "cache", true), ErrPropertyNotEditable)

	require.NoError(t, rig.DeleteAttribute(f.ctx, "cache"))
	require.ErrorIs(t, rig.DeleteAttribute(f.ctx, "cache"), domain.ErrHostAttributeMissing)
}

func TestSetInitialPropertyKeepsExistingValue(t *testing.T) {
	f := newFixture(t)
	n := f.create(t, domain.BaseClass)
	require.NoError(t, n.Set(f.ctx, "mirror", true))
	require.NoError(t, n.SetInitialProperty(f.ctx, "mirror", false, RegisterLocked))
	got, err := n.Get(f.ctx, "mirror")
	require.NoError(t, err)
	assert.Equal(t, true, got)
	assert.True(t, n.IsLocked("mirror"))

	require.NoError(t, n.SetInitialProperty(f.ctx, "notes", "todo", RegisterPrivate))
	assert.True(t, n.IsPrivate("notes"))
	assert.True(t, n.IsLocked("notes"))

	require.NoError(t, n.SetInitialProperty(f.ctx, "scratch", 1, RegisterHidden))
	require.NoError(t, n.SetInitialProperty(f.ctx, "scratch", 2, RegisterHidden))
	got, err = n.Get(f.ctx, "scratch")
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestEnumAttributes(t *testing.T) {
	f := newFixture(t)
	n := f.create(t, domain.BaseClass)

	require.ErrorIs(t, n.Set(f.ctx, "mode", domain.EnumValue{Key: "ik", Index: 1}), domain.ErrInvalidEnumValue)

	require.NoError(t, n.Set(f.ctx, "mode", domain.NewEnum("mode", "fk", "ik")))
	got, err := n.Get(f.ctx, "mode")
	require.NoError(t, err)
	assert.Equal(t, domain.EnumValue{Enum: "mode", Index: 0, Key: "fk"}, got)

	require.NoError(t, n.Set(f.ctx, "mode", domain.EnumValue{Key: "ik", Index: 1}))
	got, err = n.Get(f.ctx, "mode")
	require.NoError(t, err)
	assert.Equal(t, "ik", got.(domain.EnumValue).Key)

	require.ErrorIs(t, n.Set(f.ctx, "mode", domain.EnumValue{Key: "ik", Index: 0}), domain.ErrInvalidEnumValue)
	require.ErrorIs(t, n.Set(f.ctx, "mode", domain.EnumValue{Index: 5}), domain.ErrInvalidEnumValue)
}

func TestRangeLimitsOnlyOnNumericSlots(t *testing.T) {
	f := newFixture(t)
	n := f.create(t, domain.BaseClass)
	require.NoError(t, n.Set(f.ctx, "blend", 0.5))
	require.NoError(t, n.Set(f.ctx, "label", "x"))

	require.NoError(t, n.SetPropertyMin(f.ctx, "blend", 0))
	require.NoError(t, n.SetPropertyMax(f.ctx, "blend", 1))
	slot, err := n.Slot(f.ctx, "blend")
	require.NoError(t, err)
	require.NotNil(t, slot.Min)
	require.NotNil(t, slot.Max)
	assert.Equal(t, 0.0, *slot.Min)
	assert.Equal(t, 1.0, *slot.Max)

	require.ErrorIs(t, n.SetPropertyMin(f.ctx, "label", 0), ErrPropertyNotEditable)
	require.ErrorIs(t, n.SetPropertyMax(f.ctx, "missing", 1), domain.ErrHostAttributeMissing)
}

func TestSerializeForExport(t *testing.T) {
	f := newFixture(t)
	n := f.create(t, domain.BaseClass)
	require.NoError(t, n.Set(f.ctx, "blend", 0.5))
	require.NoError(t, n.Set(f.ctx, "side", "L"))

	require.NoError(t, n.SerializeForExport(f.ctx, "blend", "side"))
	got, err := n.Get(f.ctx, ExportDescriptorAttr)
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"name": "blend", "type": "float", "animated": true},
		map[string]any{"name": "side", "type": "string", "animated": false},
	}, got)
	require.ErrorIs(t, f.svc.SetAttribute(f.ctx, n.ID(), ExportDescriptorAttr, "x"), domain.ErrAttributeLocked)

	require.ErrorIs(t, n.SerializeForExport(f.ctx, "missing"), domain.ErrHostAttributeMissing)
}

func TestResolveFallsBackToBaseClass(t *testing.T) {
	f := newFixture(t)
	rig := f.create(t, rigClass)

	obsCore, logs := observer.New(zapcore.WarnLevel)
	plain := NewService(f.svc.Store(), WithLogger(zap.New(obsCore)))
	h, err := plain.Resolve(f.ctx, rig.ID())
	require.NoError(t, err)
	assert.False(t, h.Resolved())
	assert.Equal(t, domain.BaseClass, h.ClassTag())
	assert.Equal(t, 1, logs.FilterMessage("unregistered class tag, using base class").Len())

	again, err := f.svc.Resolve(f.ctx, rig.ID())
	require.NoError(t, err)
	assert.Same(t, rig, again)
	assert.True(t, again.Resolved())

	_, err = f.svc.Resolve(f.ctx, "missing")
	var nf ErrNotFound
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, domain.EntityNode, nf.Entity)
}
