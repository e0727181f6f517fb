package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSlotPrimitiveRoundTrip(t *testing.T) {
	cases := map[string]any{
		"MyString": "Test",
		"MyInt":    5,
		"MyFloat":  10.998547,
		"MyBool":   true,
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			slot, err := NewSlot(name, value)
			require.NoError(t, err)
			assert.True(t, slot.Kind.Primitive())
			assert.False(t, slot.IsJSON())
			assert.Equal(t, name, slot.ShortName)
			got, err := slot.Value()
			require.NoError(t, err)
			assert.Equal(t, value, got)
		})
	}
}

func TestNewSlotNarrowIntegersReadBackAsInt(t *testing.T) {
	slot, err := NewSlot("Count", int32(7))
	require.NoError(t, err)
	got, err := slot.Value()
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestNewSlotUnsignedIntegers(t *testing.T) {
	for _, value := range []any{uint(7), uint64(7), uint64(math.MaxInt64)} {
		slot, err := NewSlot("Count", value)
		require.NoError(t, err)
		assert.Equal(t, KindInt, slot.Kind)
		assert.False(t, slot.IsJSON())
	}

	slot, err := NewSlot("Count", uint64(math.MaxInt64))
	require.NoError(t, err)
	got, err := slot.Value()
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt64, got)

	for _, value := range []any{uint(math.MaxUint64), uint64(math.MaxInt64) + 1} {
		_, err := NewSlot("Count", value)
		require.ErrorIs(t, err, ErrIntegerOverflow)
	}

	slot, err = NewSlot("Count", 1)
	require.NoError(t, err)
	require.ErrorIs(t, slot.Assign(uint64(math.MaxUint64)), ErrIntegerOverflow)
	assert.Equal(t, int64(1), slot.Int)
}

func TestNewSlotJSONUsesPrefixedShortName(t *testing.T) {
	slot, err := NewSlot("Address", map[string]any{"Foo": "Bar"})
	require.NoError(t, err)
	assert.Equal(t, KindJSON, slot.Kind)
	assert.Equal(t, "json_Address", slot.ShortName)
	assert.Equal(t, "Address", slot.Name)
	got, err := slot.Value()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Foo": "Bar"}, got)
}

func TestSlotMalformedJSONReportsMissingAttribute(t *testing.T) {
	slot := Slot{Name: "Bad", ShortName: "json_Bad", Kind: KindJSON, JSON: []byte("{nope")}
	_, err := slot.Value()
	assert.ErrorIs(t, err, ErrHostAttributeMissing)
}

func TestEnumSlotStartsOnFirstField(t *testing.T) {
	slot, err := NewSlot("MyEnum", NewEnum("MyEnum", "Red", "Green", "Blue"))
	require.NoError(t, err)
	got, err := slot.Value()
	require.NoError(t, err)
	assert.Equal(t, EnumValue{Enum: "MyEnum", Index: 0, Key: "Red"}, got)

	require.NoError(t, slot.Assign(EnumValue{Enum: "MyEnum", Index: 2, Key: "Blue"}))
	got, err = slot.Value()
	require.NoError(t, err)
	assert.Equal(t, EnumValue{Enum: "MyEnum", Index: 2, Key: "Blue"}, got)

	require.NoError(t, slot.Assign(EnumValue{Index: 1}))
	assert.Equal(t, 1, slot.EnumIndex)
}

func TestEnumAssignOutsideDomain(t *testing.T) {
	slot, err := NewSlot("MyEnum", NewEnum("MyEnum", "Red", "Green"))
	require.NoError(t, err)

	for _, bad := range []EnumValue{
		{Key: "Purple", Index: 0},
		{Key: "Red", Index: 1},
		{Index: 9},
	} {
		err := slot.Assign(bad)
		assert.True(t, errors.Is(err, ErrInvalidEnumValue), "value %v", bad)
	}
	assert.Equal(t, 0, slot.EnumIndex)
}

func TestEnumValueCannotCreateSlot(t *testing.T) {
	_, err := NewSlot("Orphan", EnumValue{Key: "Red"})
	assert.ErrorIs(t, err, ErrInvalidEnumValue)

	_, err = NewSlot("Empty", Enum{Name: "Empty"})
	assert.ErrorIs(t, err, ErrInvalidEnumValue)
}

func TestSlotAssignRejectsKindChange(t *testing.T) {
	slot, err := NewSlot("Name", "a")
	require.NoError(t, err)
	assert.Error(t, slot.Assign(3))
	require.NoError(t, slot.Assign("b"))
	assert.Equal(t, "b", slot.String)
}

func TestSlotCloneIsIndependent(t *testing.T) {
	slot, err := NewSlot("E", NewEnum("E", "A", "B"))
	require.NoError(t, err)
	lo := 1.0
	slot.Min = &lo
	cp := slot.Clone()
	cp.Enum.Fields[0].Key = "Z"
	*cp.Min = 5
	assert.Equal(t, "A", slot.Enum.Fields[0].Key)
	assert.Equal(t, 1.0, *slot.Min)
}

func TestKindPredicates(t *testing.T) {
	assert.True(t, KindFloat.Animatable())
	assert.True(t, KindInt.Animatable())
	assert.False(t, KindEnum.Animatable())
	assert.False(t, KindString.Animatable())
	assert.False(t, KindJSON.Primitive())
	assert.Equal(t, KindJSON, InferKind([]int{1}))
	assert.Equal(t, KindEnum, InferKind(EnumValue{}))
}
