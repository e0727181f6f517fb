package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
)

// Kind is the storage kind of an attribute slot.
type Kind string

// Supported slot kinds. Everything that is not a primitive or enum is stored
// as an opaque JSON document.
const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindEnum   Kind = "enum"
	KindJSON   Kind = "json"
)

// JSONPrefix marks the short name of slots holding opaque JSON documents.
const JSONPrefix = "json_"

// Primitive reports whether the kind is stored natively rather than as JSON.
func (k Kind) Primitive() bool {
	return k != KindJSON && k != ""
}

// Animatable reports whether values of the kind can be exported as animated channels.
func (k Kind) Animatable() bool {
	return k == KindInt || k == KindFloat
}

// EnumField is a single key of an enum domain.
type EnumField struct {
	Key   string `json:"key"`
	Index int    `json:"index"`
}

// Enum declares an enum domain. Assigning an Enum to an attribute creates an
// enum slot positioned on its first field.
type Enum struct {
	Name   string      `json:"name"`
	Fields []EnumField `json:"fields"`
}

// NewEnum builds an enum whose indexes follow key order.
func NewEnum(name string, keys ...string) Enum {
	fields := make([]EnumField, len(keys))
	for i, k := range keys {
		fields[i] = EnumField{Key: k, Index: i}
	}
	return Enum{Name: name, Fields: fields}
}

// Lookup returns the field for key.
func (e Enum) Lookup(key string) (EnumField, bool) {
	for _, f := range e.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return EnumField{}, false
}

// AtIndex returns the field for index.
func (e Enum) AtIndex(index int) (EnumField, bool) {
	for _, f := range e.Fields {
		if f.Index == index {
			return f, true
		}
	}
	return EnumField{}, false
}

// Resolve validates v against the domain. A key and index given together
// must agree; an empty key selects by index alone.
func (e Enum) Resolve(v EnumValue) (EnumField, error) {
	if v.Key == "" {
		f, ok := e.AtIndex(v.Index)
		if !ok {
			return EnumField{}, fmt.Errorf("%w: index %d not in %s", ErrInvalidEnumValue, v.Index, e.Name)
		}
		return f, nil
	}
	f, ok := e.Lookup(v.Key)
	if !ok || f.Index != v.Index {
		return EnumField{}, fmt.Errorf("%w: %s=%d not in %s", ErrInvalidEnumValue, v.Key, v.Index, e.Name)
	}
	return f, nil
}

func (e Enum) clone() Enum {
	e.Fields = append([]EnumField(nil), e.Fields...)
	return e
}

// EnumValue is the value read from, or written to, an enum slot.
type EnumValue struct {
	Enum  string `json:"enum"`
	Index int    `json:"index"`
	Key   string `json:"key"`
}

func (v EnumValue) String() string {
	return fmt.Sprintf("%s(%d, %s)", v.Enum, v.Index, v.Key)
}

// Slot is a single typed storage slot on a node.
type Slot struct {
	Name      string          `json:"name"`
	ShortName string          `json:"short_name"`
	Kind      Kind            `json:"kind"`
	String    string          `json:"string,omitempty"`
	Int       int64           `json:"int,omitempty"`
	Float     float64         `json:"float,omitempty"`
	Bool      bool            `json:"bool,omitempty"`
	Enum      *Enum           `json:"enum,omitempty"`
	EnumIndex int             `json:"enum_index,omitempty"`
	JSON      json.RawMessage `json:"json,omitempty"`
	Locked    bool            `json:"locked,omitempty"`
	Private   bool            `json:"private,omitempty"`
	Keyable   bool            `json:"keyable,omitempty"`
	Min       *float64        `json:"min,omitempty"`
	Max       *float64        `json:"max,omitempty"`
}

// Clone returns a deep copy of the slot.
func (s Slot) Clone() Slot {
	out := s
	if s.Enum != nil {
		e := s.Enum.clone()
		out.Enum = &e
	}
	out.JSON = append(json.RawMessage(nil), s.JSON...)
	if s.Min != nil {
		m := *s.Min
		out.Min = &m
	}
	if s.Max != nil {
		m := *s.Max
		out.Max = &m
	}
	return out
}

// InferKind maps a Go value onto the slot kind it is stored as.
// EnumValue also maps to KindEnum; it can only update an existing enum slot.
func InferKind(value any) Kind {
	switch value.(type) {
	case string:
		return KindString
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, uintptr:
		return KindInt
	case float32, float64:
		return KindFloat
	case bool:
		return KindBool
	case Enum, *Enum, EnumValue, *EnumValue:
		return KindEnum
	default:
		return KindJSON
	}
}

// NewSlot builds a slot named name holding value. EnumValue cannot create a
// slot because it carries no domain.
func NewSlot(name string, value any) (Slot, error) {
	s := Slot{Name: name, ShortName: name, Kind: InferKind(value)}
	switch v := value.(type) {
	case EnumValue, *EnumValue:
		return Slot{}, fmt.Errorf("%w: %s has no declared enum domain", ErrInvalidEnumValue, name)
	case Enum:
		return enumSlot(s, v)
	case *Enum:
		if v == nil {
			return Slot{}, fmt.Errorf("%w: nil enum", ErrInvalidEnumValue)
		}
		return enumSlot(s, *v)
	}
	if err := s.assign(value); err != nil {
		return Slot{}, err
	}
	return s, nil
}

func enumSlot(s Slot, e Enum) (Slot, error) {
	if len(e.Fields) == 0 {
		return Slot{}, fmt.Errorf("%w: enum %s declares no fields", ErrInvalidEnumValue, e.Name)
	}
	cp := e.clone()
	s.Enum = &cp
	s.EnumIndex = cp.Fields[0].Index
	return s, nil
}

// Assign writes value into an existing slot of the same kind.
func (s *Slot) Assign(value any) error {
	if kind := InferKind(value); kind != s.Kind {
		return fmt.Errorf("slot %s holds %s, not %s", s.Name, s.Kind, kind)
	}
	return s.assign(value)
}

func (s *Slot) assign(value any) error {
	switch s.Kind {
	case KindString:
		s.String = value.(string)
	case KindInt:
		rv := reflect.ValueOf(value)
		if rv.CanUint() {
			if rv.Uint() > math.MaxInt64 {
				return fmt.Errorf("%w: %s value %d", ErrIntegerOverflow, s.Name, rv.Uint())
			}
			s.Int = int64(rv.Uint())
			return nil
		}
		s.Int = rv.Int()
	case KindFloat:
		s.Float = reflect.ValueOf(value).Convert(reflect.TypeOf(float64(0))).Float()
	case KindBool:
		s.Bool = value.(bool)
	case KindEnum:
		return s.assignEnum(value)
	case KindJSON:
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", s.Name, err)
		}
		s.JSON = raw
		s.ShortName = JSONPrefix + s.Name
	}
	return nil
}

func (s *Slot) assignEnum(value any) error {
	if s.Enum == nil {
		return fmt.Errorf("%w: %s has no declared enum domain", ErrInvalidEnumValue, s.Name)
	}
	var ev EnumValue
	switch v := value.(type) {
	case EnumValue:
		ev = v
	case *EnumValue:
		ev = *v
	default:
		return fmt.Errorf("%w: %s expects an enum value", ErrInvalidEnumValue, s.Name)
	}
	f, err := s.Enum.Resolve(ev)
	if err != nil {
		return err
	}
	s.EnumIndex = f.Index
	return nil
}

// IsJSON reports whether the slot stores an opaque JSON document.
func (s Slot) IsJSON() bool {
	return s.Kind == KindJSON && strings.HasPrefix(s.ShortName, JSONPrefix)
}

// Value decodes the slot. JSON slots decode into generic Go values, enum
// slots into EnumValue, integers into int.
func (s Slot) Value() (any, error) {
	if s.IsJSON() {
		var out any
		if err := json.Unmarshal(s.JSON, &out); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", ErrHostAttributeMissing, s.Name, err)
		}
		return out, nil
	}
	switch s.Kind {
	case KindString:
		return s.String, nil
	case KindInt:
		return int(s.Int), nil
	case KindFloat:
		return s.Float, nil
	case KindBool:
		return s.Bool, nil
	case KindEnum:
		ev := EnumValue{Enum: s.Name, Index: s.EnumIndex}
		if s.Enum != nil {
			if f, ok := s.Enum.AtIndex(s.EnumIndex); ok {
				ev.Key = f.Key
			}
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("%w: %s has unknown kind %q", ErrHostAttributeMissing, s.Name, s.Kind)
	}
}
