package core

import (
	"context"

	"metagraph/pkg/domain"
)

// ConnectTo tags member with node id. The member record is created on first
// use; both sides take the first free slot index. Connecting twice is a no-op.
func (s *Service) ConnectTo(ctx context.Context, id NodeID, member MemberID) error {
	_, err := s.run(ctx, "connect", func(_ context.Context, tx Transaction) error {
		return s.connect(tx, id, member)
	})
	return err
}

func (s *Service) connect(tx Transaction, id NodeID, member MemberID) error {
	node, ok := tx.FindNode(id)
	if !ok {
		return ErrNotFound{Entity: domain.EntityNode, ID: string(id)}
	}
	if isTagged(node, member) {
		return nil
	}
	if _, err := tx.UpdateNode(id, func(n *Node) error {
		if n.Tagged == nil {
			n.Tagged = make(map[int]MemberID)
		}
		n.Tagged[domain.NextFreeIndex(n.Tagged)] = member
		return nil
	}); err != nil {
		return err
	}
	_, err := tx.UpsertMember(member, func(m *Member) error {
		if m.Owners == nil {
			m.Owners = make(map[int]NodeID)
		}
		m.Owners[domain.NextFreeIndex(m.Owners)] = id
		return nil
	})
	return err
}

// DisconnectFrom severs the tag connection between id and member.
func (s *Service) DisconnectFrom(ctx context.Context, id NodeID, member MemberID) error {
	_, err := s.run(ctx, "disconnect", func(_ context.Context, tx Transaction) error {
		node, ok := tx.FindNode(id)
		if !ok {
			return ErrNotFound{Entity: domain.EntityNode, ID: string(id)}
		}
		if !isTagged(node, member) {
			return domain.NotConnectedError{Node: id, Member: member}
		}
		if err := s.dropConnection(tx, node, member); err != nil {
			return err
		}
		_, err := tx.UpdateNode(id, func(n *Node) error {
			for idx, m := range n.Tagged {
				if m == member {
					delete(n.Tagged, idx)
				}
			}
			return nil
		})
		return err
	})
	return err
}

// dropConnection clears the member side of a tag connection. Part data of the
// node's class is removed once no other node of that class tags the member,
// and a member left with no owners and no parts is deleted.
func (s *Service) dropConnection(tx Transaction, node Node, member MemberID) error {
	rec, ok := tx.FindMember(member)
	if !ok {
		return nil
	}
	shared := false
	for _, owner := range rec.OwnerIDs() {
		if owner == node.ID {
			continue
		}
		if other, ok := tx.FindNode(owner); ok && other.ClassTag == node.ClassTag {
			shared = true
			break
		}
	}
	updated, err := tx.UpsertMember(member, func(m *Member) error {
		for idx, owner := range m.Owners {
			if owner == node.ID {
				delete(m.Owners, idx)
			}
		}
		if !shared {
			delete(m.Parts, domain.PartKey(node.ClassTag))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(updated.Owners) == 0 && len(updated.Parts) == 0 {
		return tx.DeleteMember(member)
	}
	return nil
}

func isTagged(node Node, member MemberID) bool {
	for _, m := range node.Tagged {
		if m == member {
			return true
		}
	}
	return false
}

// IsTagged reports whether id is connected to member.
func (s *Service) IsTagged(ctx context.Context, id NodeID, member MemberID) (bool, error) {
	node, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return isTagged(node, member), nil
}

// GetTagged returns the members connected to id in slot order.
func (s *Service) GetTagged(ctx context.Context, id NodeID) ([]MemberID, error) {
	node, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return node.TaggedMembers(), nil
}

// MetaDataOf returns the nodes tagging member. A non-empty classFilter keeps
// only nodes of that class or a subclass.
func (s *Service) MetaDataOf(ctx context.Context, member MemberID, classFilter string) ([]NodeID, error) {
	var out []NodeID
	err := s.view(ctx, func(v TransactionView) error {
		rec, ok := v.FindMember(member)
		if !ok {
			return nil
		}
		for _, owner := range rec.OwnerIDs() {
			node, ok := v.FindNode(owner)
			if !ok {
				continue
			}
			if classFilter == "" || node.InheritsFrom(classFilter) {
				out = append(out, owner)
			}
		}
		return nil
	})
	return out, err
}

// HasMetaData reports whether member is tagged by a node of classTag. Relaxed
// matching accepts subclasses.
func (s *Service) HasMetaData(ctx context.Context, member MemberID, classTag string, relaxed bool) (bool, error) {
	owners, err := s.MetaDataOf(ctx, member, "")
	if err != nil {
		return false, err
	}
	for _, owner := range owners {
		node, err := s.Get(ctx, owner)
		if err != nil {
			return false, err
		}
		if node.ClassTag == classTag || (relaxed && node.InheritsFrom(classTag)) {
			return true, nil
		}
	}
	return false, nil
}

// Members lists every member record ordered by ID.
func (s *Service) Members(ctx context.Context) ([]Member, error) {
	var out []Member
	err := s.view(ctx, func(v TransactionView) error {
		out = v.ListMembers()
		return nil
	})
	return out, err
}
