package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metagraph/pkg/domain"
)

func TestPrimitiveRoundTrip(t *testing.T) {
	f := newFixture(t)
	n := f.create(t, domain.BaseClass)
	values := map[string]any{
		"label":  "spine",
		"count":  7,
		"weight": 0.25,
		"active": true,
	}
	for name, v := range values {
		require.NoError(t, n.Set(f.ctx, name, v))
	}
	for name, want := range values {
		got, err := n.Get(f.ctx, name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestKindSwitchKeepsSingleSlot(t *testing.T) {
	f := newFixture(t)
	n := f.create(t, domain.BaseClass)

	require.NoError(t, n.Set(f.ctx, "payload", 5))
	require.NoError(t, n.Set(f.ctx, "payload", map[string]any{"a": 1, "b": []any{"x"}}))
	slot, err := n.Slot(f.ctx, "payload")
	require.NoError(t, err)
	assert.Equal(t, domain.KindJSON, slot.Kind)
	assert.Equal(t, "json_payload", slot.ShortName)
	got, err := n.Get(f.ctx, "payload")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1), "b": []any{"x"}}, got)

	require.NoError(t, n.Set(f.ctx, "payload", 9))
	slot, err = n.Slot(f.ctx, "payload")
	require.NoError(t, err)
	assert.Equal(t, domain.KindInt, slot.Kind)
	assert.Equal(t, "payload", slot.ShortName)

	names, err := n.Attributes(f.ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"payload"}, names)
}

func TestWalkOnCycleTerminates(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, domain.BaseClass)
	b := f.create(t, domain.BaseClass)
	c := f.create(t, domain.BaseClass)
	require.NoError(t, f.svc.SetChild(f.ctx, a.ID(), b.ID()))
	require.NoError(t, f.svc.SetChild(f.ctx, b.ID(), c.ID()))
	require.NoError(t, f.svc.SetChild(f.ctx, c.ID(), a.ID(), AllowCycles()))

	var seen []NodeID
	for id := range f.svc.Walk(f.ctx, a.ID(), true) {
		seen = append(seen, id)
	}
	assert.Equal(t, []NodeID{b.ID(), c.ID()}, seen)

	seen = nil
	for id := range f.svc.Walk(f.ctx, a.ID(), false) {
		seen = append(seen, id)
	}
	assert.ElementsMatch(t, []NodeID{b.ID(), c.ID()}, seen)
}

func TestAutoDisconnectLeavesSingleParent(t *testing.T) {
	f := newFixture(t)
	child := f.create(t, domain.BaseClass)
	p1 := f.create(t, domain.BaseClass)
	p2 := f.create(t, domain.BaseClass)
	p3 := f.create(t, domain.BaseClass)

	require.NoError(t, f.svc.SetParent(f.ctx, child.ID(), p1.ID()))
	require.NoError(t, f.svc.SetParent(f.ctx, child.ID(), p2.ID()))
	require.NoError(t, f.svc.SetChild(f.ctx, p3.ID(), child.ID()))

	parents, err := f.svc.Parents(f.ctx, child.ID())
	require.NoError(t, err)
	assert.Equal(t, []NodeID{p3.ID()}, parents)

	require.NoError(t, f.svc.SetParent(f.ctx, child.ID(), p1.ID(), KeepExistingParents()))
	parents, err = f.svc.Parents(f.ctx, child.ID())
	require.NoError(t, err)
	assert.ElementsMatch(t, []NodeID{p1.ID(), p3.ID()}, parents)

	require.NoError(t, f.svc.SetParent(f.ctx, child.ID(), p1.ID()))
	parents, err = f.svc.Parents(f.ctx, child.ID())
	require.NoError(t, err)
	assert.Equal(t, []NodeID{p1.ID()}, parents)
	assert.Zero(t, f.warnings("link already exists"))

	require.NoError(t, f.svc.SetChild(f.ctx, p1.ID(), child.ID()))
	assert.Equal(t, 1, f.warnings("link already exists"))
}

func TestLockedAttributeRejectsExternalWrites(t *testing.T) {
	f := newFixture(t)
	n := f.create(t, domain.BaseClass)
	require.NoError(t, n.Set(f.ctx, "side", "left"))
	require.NoError(t, f.svc.SetAttributeLocked(f.ctx, n.ID(), "side", true))

	err := f.svc.SetAttribute(f.ctx, n.ID(), "side", "right")
	require.ErrorIs(t, err, domain.ErrAttributeLocked)
	require.ErrorIs(t, f.svc.DeleteAttribute(f.ctx, n.ID(), "side"), domain.ErrAttributeLocked)
	got, err := f.svc.GetAttribute(f.ctx, n.ID(), "side")
	require.NoError(t, err)
	assert.Equal(t, "left", got)

	// The owning handle may still write; the slot stays locked afterwards.
	require.NoError(t, n.Set(f.ctx, "side", "centre"))
	slot, err := n.Slot(f.ctx, "side")
	require.NoError(t, err)
	assert.True(t, slot.Locked)

	require.NoError(t, f.svc.SetAttributeLocked(f.ctx, n.ID(), "side", false))
	require.NoError(t, f.svc.SetAttribute(f.ctx, n.ID(), "side", "right"))
	got, err = f.svc.GetAttribute(f.ctx, n.ID(), "side")
	require.NoError(t, err)
	assert.Equal(t, "right", got)
}

func TestDeleteSeversTags(t *testing.T) {
	f := newFixture(t)
	n := f.create(t, rigClass)
	member := MemberID("|rig|root_jnt")
	require.NoError(t, f.svc.SetAsPart(f.ctx, n.ID(), member, map[string]any{"Root": true}))

	has, err := f.svc.HasMetaData(f.ctx, member, rigClass, false)
	require.NoError(t, err)
	require.True(t, has)

	require.NoError(t, n.Delete(f.ctx))
	owners, err := f.svc.MetaDataOf(f.ctx, member, "")
	require.NoError(t, err)
	assert.Empty(t, owners)
	has, err = f.svc.HasMetaData(f.ctx, member, rigClass, true)
	require.NoError(t, err)
	assert.False(t, has)
	parts, err := f.svc.AllPartData(f.ctx, member)
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestGetPartsIgnoresSiblingData(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, domain.BaseClass)
	b := f.create(t, domain.BaseClass)
	m := MemberID("|grp|M")
	n := MemberID("|grp|N")
	require.NoError(t, f.svc.SetAsPart(f.ctx, a.ID(), m, map[string]any{"Root": true}))
	require.NoError(t, f.svc.SetAsPart(f.ctx, b.ID(), n, map[string]any{"Root": false}))

	parts, err := f.svc.GetParts(f.ctx, a.ID())
	require.NoError(t, err)
	assert.Equal(t, []Part{{Member: m, Data: map[string]any{"Root": true}}}, parts)
}
