package core

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"metagraph/pkg/domain"
)

// Part pairs a tagged member with the role data the owning class wrote on it.
type Part struct {
	Member MemberID
	Data   map[string]any
}

// SetAsPart connects member and writes roleData into the member's part slot
// for the node's class. The slot is left locked after the write.
func (s *Service) SetAsPart(ctx context.Context, id NodeID, member MemberID, roleData any) error {
	raw, err := json.Marshal(roleData)
	if err != nil {
		return fmt.Errorf("encode part data for %s: %w", member, err)
	}
	_, err = s.run(ctx, "set_as_part", func(_ context.Context, tx Transaction) error {
		if err := s.connect(tx, id, member); err != nil {
			return err
		}
		node, _ := tx.FindNode(id)
		key := domain.PartKey(node.ClassTag)
		_, err := tx.UpsertMember(member, func(m *Member) error {
			if m.Parts == nil {
				m.Parts = make(map[string]domain.PartSlot)
			}
			m.Parts[key] = domain.PartSlot{Data: raw, Locked: true}
			return nil
		})
		return err
	})
	return err
}

// GetParts returns the tagged members carrying part data of the node's class
// in slot order. Malformed part data decodes as an empty map.
func (s *Service) GetParts(ctx context.Context, id NodeID) ([]Part, error) {
	var out []Part
	err := s.view(ctx, func(v TransactionView) error {
		node, ok := v.FindNode(id)
		if !ok {
			return ErrNotFound{Entity: domain.EntityNode, ID: string(id)}
		}
		key := domain.PartKey(node.ClassTag)
		for _, member := range node.TaggedMembers() {
			rec, ok := v.FindMember(member)
			if !ok {
				continue
			}
			slot, ok := rec.Parts[key]
			if !ok {
				continue
			}
			out = append(out, Part{Member: member, Data: decodePart(slot.Data)})
		}
		return nil
	})
	return out, err
}

func decodePart(raw json.RawMessage) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

// RemovePart strips the node's part data from member and optionally severs
// the tag connection too.
func (s *Service) RemovePart(ctx context.Context, id NodeID, member MemberID, deleteConnection bool) error {
	_, err := s.run(ctx, "remove_part", func(ctx context.Context, tx Transaction) error {
		node, ok := tx.FindNode(id)
		if !ok {
			return ErrNotFound{Entity: domain.EntityNode, ID: string(id)}
		}
		if !isTagged(node, member) {
			return domain.NotConnectedError{Node: id, Member: member}
		}
		if _, err := tx.UpsertMember(member, func(m *Member) error {
			delete(m.Parts, domain.PartKey(node.ClassTag))
			return nil
		}); err != nil {
			return err
		}
		if deleteConnection {
			return s.DisconnectFrom(ctx, id, member)
		}
		return nil
	})
	return err
}

// IsPart reports whether member carries part data of the node's class.
func (s *Service) IsPart(ctx context.Context, id NodeID, member MemberID) (bool, error) {
	parts, err := s.GetParts(ctx, id)
	if err != nil {
		return false, err
	}
	for _, p := range parts {
		if p.Member == member {
			return true, nil
		}
	}
	return false, nil
}

// PartData returns the node's part data on member. Unless bypass is set the
// member must be connected; bypass also reads data left on a member whose
// connection was severed.
func (s *Service) PartData(ctx context.Context, id NodeID, member MemberID, bypass bool) (map[string]any, error) {
	var out map[string]any
	err := s.view(ctx, func(v TransactionView) error {
		node, ok := v.FindNode(id)
		if !ok {
			return ErrNotFound{Entity: domain.EntityNode, ID: string(id)}
		}
		if !bypass && !isTagged(node, member) {
			return domain.NotConnectedError{Node: id, Member: member}
		}
		rec, ok := v.FindMember(member)
		if !ok {
			return domain.NotConnectedError{Node: id, Member: member}
		}
		slot, ok := rec.Parts[domain.PartKey(node.ClassTag)]
		if !ok {
			return fmt.Errorf("%w: %s on %s", domain.ErrHostAttributeMissing, domain.PartKey(node.ClassTag), member)
		}
		out = decodePart(slot.Data)
		return nil
	})
	return out, err
}

// SearchParts matches part data against the given pairs. Absolute mode keeps
// members whose data matches every pair; relaxed mode keeps members matching
// any pair, ranked by hit count. Strings compare case-insensitively.
func (s *Service) SearchParts(ctx context.Context, id NodeID, match map[string]any, absolute bool) ([]MemberID, error) {
	parts, err := s.GetParts(ctx, id)
	if err != nil {
		return nil, err
	}
	type hit struct {
		member MemberID
		count  int
		order  int
	}
	var hits []hit
	for i, p := range parts {
		count := 0
		for k, want := range match {
			if got, ok := p.Data[k]; ok && partValueEqual(got, want) {
				count++
			}
		}
		if absolute && count != len(match) {
			continue
		}
		if count == 0 && len(match) > 0 {
			continue
		}
		hits = append(hits, hit{member: p.Member, count: count, order: i})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].count != hits[j].count {
			return hits[i].count > hits[j].count
		}
		return hits[i].order < hits[j].order
	})
	out := make([]MemberID, len(hits))
	for i, h := range hits {
		out[i] = h.member
	}
	return out, nil
}

func partValueEqual(got, want any) bool {
	gs, gok := got.(string)
	ws, wok := want.(string)
	if gok && wok {
		return strings.EqualFold(gs, ws)
	}
	// Decoded JSON numbers are float64; normalise the wanted side.
	if gf, ok := got.(float64); ok {
		switch w := want.(type) {
		case int:
			return gf == float64(w)
		case int64:
			return gf == float64(w)
		case float64:
			return gf == w
		}
	}
	return reflect.DeepEqual(got, want)
}

// AllPartData returns every part blob on member keyed by owning class tag.
func (s *Service) AllPartData(ctx context.Context, member MemberID) (map[string]map[string]any, error) {
	out := map[string]map[string]any{}
	err := s.view(ctx, func(v TransactionView) error {
		rec, ok := v.FindMember(member)
		if !ok {
			return nil
		}
		for key, slot := range rec.Parts {
			out[strings.TrimSuffix(key, "_Part")] = decodePart(slot.Data)
		}
		return nil
	})
	return out, err
}
