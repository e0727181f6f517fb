package core

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"metagraph/pkg/domain"
)

// ErrPropertyNotEditable is returned when slot flags are changed on a private
// or hidden attribute, or range limits on a non-numeric one.
var ErrPropertyNotEditable = errors.New("property flags not editable")

// ExportDescriptorAttr holds the export descriptor written by SerializeForExport.
const ExportDescriptorAttr = "SerializeForExport"

// ExportProperty describes one attribute listed for export.
type ExportProperty struct {
	Name     string      `json:"name"`
	Type     domain.Kind `json:"type"`
	Animated bool        `json:"animated"`
}

// Set writes an attribute as the node's own behavior. Locked slots are
// unlocked, written and relocked; slots whose storage kind or private status
// changes are deleted and recreated.
func (n *MetaNode) Set(ctx context.Context, name string, value any) error {
	return n.set(ctx, name, value, false)
}

func (n *MetaNode) set(ctx context.Context, name string, value any, external bool) error {
	if n.IsHidden(name) {
		n.setHiddenValue(name, value)
		return nil
	}
	_, err := n.svc.run(ctx, "set_attribute", func(_ context.Context, tx Transaction) error {
		if _, ok := tx.FindNode(n.id); !ok {
			return n.notFound()
		}
		_, err := tx.UpdateNode(n.id, func(node *Node) error {
			return n.writeSlot(node, name, value, external)
		})
		return err
	})
	return err
}

func (n *MetaNode) writeSlot(node *Node, name string, value any, external bool) error {
	existing, exists := node.Attributes[name]
	if external && exists && existing.Locked {
		return fmt.Errorf("%w: %s on %s", domain.ErrAttributeLocked, name, n.id)
	}
	private := n.IsPrivate(name)

	var slot Slot
	switch kind := domain.InferKind(value); {
	case isEnumValue(value):
		if !exists || existing.Kind != domain.KindEnum {
			return fmt.Errorf("%w: %s has no enum domain", domain.ErrInvalidEnumValue, name)
		}
		slot = existing.Clone()
		if err := slot.Assign(value); err != nil {
			return err
		}
	case !exists || existing.Kind != kind || kind == domain.KindEnum || existing.Private || private:
		fresh, err := domain.NewSlot(name, value)
		if err != nil {
			return err
		}
		fresh.Private = private
		slot = fresh
	default:
		slot = existing.Clone()
		if err := slot.Assign(value); err != nil {
			return err
		}
	}
	slot.Locked = n.IsLocked(name) || (exists && existing.Locked)
	if node.Attributes == nil {
		node.Attributes = make(map[string]Slot)
	}
	node.Attributes[name] = slot
	return nil
}

func isEnumValue(value any) bool {
	switch value.(type) {
	case domain.EnumValue, *domain.EnumValue:
		return true
	}
	return false
}

// Get decodes an attribute. JSON slots decode to generic values, enum slots to
// domain.EnumValue; hidden names read from handle memory.
func (n *MetaNode) Get(ctx context.Context, name string) (any, error) {
	if n.IsHidden(name) {
		v, ok := n.hiddenValue(name)
		if !ok {
			return nil, fmt.Errorf("%w: hidden %s on %s", domain.ErrHostAttributeMissing, name, n.id)
		}
		return v, nil
	}
	slot, err := n.Slot(ctx, name)
	if err != nil {
		return nil, err
	}
	return slot.Value()
}

// Slot returns the raw storage slot.
func (n *MetaNode) Slot(ctx context.Context, name string) (Slot, error) {
	node, err := n.Record(ctx)
	if err != nil {
		return Slot{}, err
	}
	slot, ok := node.Attributes[name]
	if !ok {
		return Slot{}, fmt.Errorf("%w: %s on %s", domain.ErrHostAttributeMissing, name, n.id)
	}
	return slot, nil
}

// Has reports whether the attribute exists in the store or handle memory.
func (n *MetaNode) Has(ctx context.Context, name string) (bool, error) {
	if n.IsHidden(name) {
		_, ok := n.hiddenValue(name)
		return ok, nil
	}
	node, err := n.Record(ctx)
	if err != nil {
		return false, err
	}
	_, ok := node.Attributes[name]
	return ok, nil
}

// DeleteAttribute unlocks and removes a slot.
func (n *MetaNode) DeleteAttribute(ctx context.Context, name string) error {
	return n.deleteAttribute(ctx, name, false)
}

func (n *MetaNode) deleteAttribute(ctx context.Context, name string, external bool) error {
	if n.IsHidden(name) {
		if !n.deleteHiddenValue(name) {
			return fmt.Errorf("%w: hidden %s on %s", domain.ErrHostAttributeMissing, name, n.id)
		}
		return nil
	}
	_, err := n.svc.run(ctx, "delete_attribute", func(_ context.Context, tx Transaction) error {
		node, ok := tx.FindNode(n.id)
		if !ok {
			return n.notFound()
		}
		slot, ok := node.Attributes[name]
		if !ok {
			return fmt.Errorf("%w: %s on %s", domain.ErrHostAttributeMissing, name, n.id)
		}
		if external && slot.Locked {
			return fmt.Errorf("%w: %s on %s", domain.ErrAttributeLocked, name, n.id)
		}
		_, err := tx.UpdateNode(n.id, func(node *Node) error {
			delete(node.Attributes, name)
			return nil
		})
		return err
	})
	return err
}

// SetInitialProperty registers name and writes value only when the attribute
// does not exist yet. Private registration also locks.
func (n *MetaNode) SetInitialProperty(ctx context.Context, name string, value any, as RegisterAs) error {
	switch as {
	case RegisterLocked:
		n.RegisterLocked(name)
	case RegisterPrivate:
		n.RegisterPrivate(name)
		n.RegisterLocked(name)
	case RegisterHidden:
		n.RegisterHidden(name)
		if _, ok := n.hiddenValue(name); !ok {
			n.setHiddenValue(name, value)
		}
		return nil
	}
	exists, err := n.Has(ctx, name)
	if err != nil || exists {
		return err
	}
	return n.Set(ctx, name, value)
}

// Attributes lists stored attribute names, skipping private slots unless
// includePrivate is set.
func (n *MetaNode) Attributes(ctx context.Context, includePrivate bool) ([]string, error) {
	node, err := n.Record(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(node.Attributes))
	for name, slot := range node.Attributes {
		if slot.Private && !includePrivate {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// HiddenAttributes lists the names currently held in handle memory.
func (n *MetaNode) HiddenAttributes() []string {
	return n.hiddenNames()
}

// SetPropertyMin sets the lower range limit of a numeric slot.
func (n *MetaNode) SetPropertyMin(ctx context.Context, name string, v float64) error {
	return n.editSlot(ctx, name, true, func(s *Slot) error {
		if !s.Kind.Animatable() {
			return fmt.Errorf("%w: %s is %s", ErrPropertyNotEditable, name, s.Kind)
		}
		s.Min = &v
		return nil
	})
}

// SetPropertyMax sets the upper range limit of a numeric slot.
func (n *MetaNode) SetPropertyMax(ctx context.Context, name string, v float64) error {
	return n.editSlot(ctx, name, true, func(s *Slot) error {
		if !s.Kind.Animatable() {
			return fmt.Errorf("%w: %s is %s", ErrPropertyNotEditable, name, s.Kind)
		}
		s.Max = &v
		return nil
	})
}

// SetPropertyKeyable toggles the keyable flag.
func (n *MetaNode) SetPropertyKeyable(ctx context.Context, name string, keyable bool) error {
	return n.editSlot(ctx, name, true, func(s *Slot) error {
		s.Keyable = keyable
		return nil
	})
}

// SetPropertyLocked sets the slot lock and keeps the registration in step so
// later internal writes relock, or stop relocking, accordingly.
func (n *MetaNode) SetPropertyLocked(ctx context.Context, name string, locked bool) error {
	err := n.editSlot(ctx, name, false, func(s *Slot) error {
		s.Locked = locked
		return nil
	})
	if err != nil {
		return err
	}
	if locked {
		n.RegisterLocked(name)
	} else {
		n.unregisterLocked(name)
	}
	return nil
}

func (n *MetaNode) editSlot(ctx context.Context, name string, rejectPrivate bool, edit func(*Slot) error) error {
	if n.IsHidden(name) {
		return fmt.Errorf("%w: %s is hidden", ErrPropertyNotEditable, name)
	}
	_, err := n.svc.run(ctx, "edit_slot", func(_ context.Context, tx Transaction) error {
		node, ok := tx.FindNode(n.id)
		if !ok {
			return n.notFound()
		}
		slot, ok := node.Attributes[name]
		if !ok {
			return fmt.Errorf("%w: %s on %s", domain.ErrHostAttributeMissing, name, n.id)
		}
		if rejectPrivate && (slot.Private || n.IsPrivate(name)) {
			return fmt.Errorf("%w: %s is private", ErrPropertyNotEditable, name)
		}
		_, err := tx.UpdateNode(n.id, func(node *Node) error {
			slot := node.Attributes[name].Clone()
			if err := edit(&slot); err != nil {
				return err
			}
			node.Attributes[name] = slot
			return nil
		})
		return err
	})
	return err
}

// SerializeForExport records which attributes an exporter should carry,
// flagging numeric ones as animated channels. The descriptor is locked.
func (n *MetaNode) SerializeForExport(ctx context.Context, props ...string) error {
	_, err := n.svc.run(ctx, "serialize_for_export", func(ctx context.Context, tx Transaction) error {
		node, ok := tx.FindNode(n.id)
		if !ok {
			return n.notFound()
		}
		desc := make([]ExportProperty, 0, len(props))
		for _, name := range props {
			slot, ok := node.Attributes[name]
			if !ok {
				return fmt.Errorf("%w: %s on %s", domain.ErrHostAttributeMissing, name, n.id)
			}
			desc = append(desc, ExportProperty{Name: name, Type: slot.Kind, Animated: slot.Kind.Animatable()})
		}
		n.RegisterLocked(ExportDescriptorAttr)
		return n.Set(ctx, ExportDescriptorAttr, desc)
	})
	return err
}

// SetAttribute writes an attribute as an external caller. Locked slots are
// rejected with domain.ErrAttributeLocked until unlocked via SetAttributeLocked.
func (s *Service) SetAttribute(ctx context.Context, id NodeID, name string, value any) error {
	h, err := s.Resolve(ctx, id)
	if err != nil {
		return err
	}
	return h.set(ctx, name, value, true)
}

// GetAttribute reads an attribute of id.
func (s *Service) GetAttribute(ctx context.Context, id NodeID, name string) (any, error) {
	h, err := s.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	return h.Get(ctx, name)
}

// DeleteAttribute removes an attribute as an external caller.
func (s *Service) DeleteAttribute(ctx context.Context, id NodeID, name string) error {
	h, err := s.Resolve(ctx, id)
	if err != nil {
		return err
	}
	return h.deleteAttribute(ctx, name, true)
}

// SetAttributeLocked is the explicit external lock toggle.
func (s *Service) SetAttributeLocked(ctx context.Context, id NodeID, name string, locked bool) error {
	h, err := s.Resolve(ctx, id)
	if err != nil {
		return err
	}
	return h.SetPropertyLocked(ctx, name, locked)
}
