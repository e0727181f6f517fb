package core

import (
	"context"

	"go.uber.org/zap"

	"metagraph/pkg/domain"
)

// LinkOption adjusts SetParent and SetChild.
type LinkOption func(*linkConfig)

type linkConfig struct {
	allowCycles    bool
	autoDisconnect bool
}

func newLinkConfig(opts []LinkOption) linkConfig {
	cfg := linkConfig{autoDisconnect: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// AllowCycles permits a link that closes a cycle.
func AllowCycles() LinkOption {
	return func(c *linkConfig) { c.allowCycles = true }
}

// KeepExistingParents skips the auto-disconnect step, letting a node gain a
// second parent.
func KeepExistingParents() LinkOption {
	return func(c *linkConfig) { c.autoDisconnect = false }
}

// SetParent links child under parent. By default the child is first detached
// from its other parents. A cycle or an existing edge is logged and ignored.
// An empty parent disconnects child from all parents.
func (s *Service) SetParent(ctx context.Context, child, parent NodeID, opts ...LinkOption) error {
	cfg := newLinkConfig(opts)
	_, err := s.run(ctx, "set_parent", func(_ context.Context, tx Transaction) error {
		if parent == "" {
			return s.clearParents(tx, child)
		}
		return s.link(tx, child, parent, cfg)
	})
	return err
}

// SetChild links child under parent. An empty child removes every child of parent.
func (s *Service) SetChild(ctx context.Context, parent, child NodeID, opts ...LinkOption) error {
	cfg := newLinkConfig(opts)
	_, err := s.run(ctx, "set_child", func(_ context.Context, tx Transaction) error {
		if child == "" {
			if _, ok := tx.FindNode(parent); !ok {
				return ErrNotFound{Entity: domain.EntityNode, ID: string(parent)}
			}
			for _, c := range tx.Snapshot().ChildrenOf(parent) {
				if err := s.unlink(tx, parent, c.ID); err != nil {
					return err
				}
			}
			return nil
		}
		return s.link(tx, child, parent, cfg)
	})
	return err
}

// RemoveChild severs every link slot of child that points at parent.
func (s *Service) RemoveChild(ctx context.Context, parent, child NodeID) error {
	_, err := s.run(ctx, "remove_child", func(_ context.Context, tx Transaction) error {
		if _, ok := tx.FindNode(parent); !ok {
			return ErrNotFound{Entity: domain.EntityNode, ID: string(parent)}
		}
		return s.unlink(tx, parent, child)
	})
	return err
}

func (s *Service) link(tx Transaction, child, parent NodeID, cfg linkConfig) error {
	childNode, ok := tx.FindNode(child)
	if !ok {
		return ErrNotFound{Entity: domain.EntityNode, ID: string(child)}
	}
	if _, ok := tx.FindNode(parent); !ok {
		return ErrNotFound{Entity: domain.EntityNode, ID: string(parent)}
	}
	// With auto-disconnect a shared parent still has to shed the others.
	if hasLink(childNode, parent) && (!cfg.autoDisconnect || len(childNode.ParentIDs()) == 1) {
		s.logger.Warn("link already exists", zap.String("parent", string(parent)), zap.String("child", string(child)))
		return nil
	}
	if !cfg.allowCycles && (child == parent || s.isAncestor(tx.Snapshot(), child, parent)) {
		s.logger.Warn("link rejected", zap.Error(domain.CyclicGraphError{Parent: parent, Child: child}))
		return nil
	}
	seq := tx.NextSeq()
	_, err := tx.UpdateNode(child, func(n *Node) error {
		if cfg.autoDisconnect {
			n.Links, n.LinkSeq = nil, nil
		}
		if n.Links == nil {
			n.Links = make(map[int]NodeID)
		}
		if n.LinkSeq == nil {
			n.LinkSeq = make(map[int]uint64)
		}
		idx := domain.NextFreeIndex(n.Links)
		n.Links[idx] = parent
		n.LinkSeq[idx] = seq
		return nil
	})
	return err
}

// isAncestor reports whether candidate is reachable from start by following
// parent links, start excluded.
func (s *Service) isAncestor(v TransactionView, candidate, start NodeID) bool {
	seen := map[NodeID]struct{}{start: {}}
	queue := []NodeID{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		node, ok := v.FindNode(cur)
		if !ok {
			continue
		}
		for _, p := range node.ParentIDs() {
			if p == candidate {
				return true
			}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			queue = append(queue, p)
		}
	}
	return false
}

func (s *Service) unlink(tx Transaction, parent, child NodeID) error {
	node, ok := tx.FindNode(child)
	if !ok {
		return ErrNotFound{Entity: domain.EntityNode, ID: string(child)}
	}
	if !hasLink(node, parent) {
		return nil
	}
	_, err := tx.UpdateNode(child, func(n *Node) error {
		for idx, p := range n.Links {
			if p == parent {
				delete(n.Links, idx)
				delete(n.LinkSeq, idx)
			}
		}
		return nil
	})
	return err
}

func (s *Service) clearParents(tx Transaction, child NodeID) error {
	node, ok := tx.FindNode(child)
	if !ok {
		return ErrNotFound{Entity: domain.EntityNode, ID: string(child)}
	}
	if len(node.Links) == 0 {
		return nil
	}
	_, err := tx.UpdateNode(child, func(n *Node) error {
		n.Links, n.LinkSeq = nil, nil
		return nil
	})
	return err
}

func hasLink(node Node, parent NodeID) bool {
	for _, p := range node.Links {
		if p == parent {
			return true
		}
	}
	return false
}

// QueryOption filters neighbour and search queries.
type QueryOption func(*queryConfig)

type queryConfig struct {
	classTag      string
	includeGroups bool
}

func newQueryConfig(opts []QueryOption) queryConfig {
	var cfg queryConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// OfClass keeps nodes whose class is tag or derives from it.
func OfClass(tag string) QueryOption {
	return func(c *queryConfig) { c.classTag = tag }
}

// IncludeGroups returns group nodes instead of recursing through them.
func IncludeGroups() QueryOption {
	return func(c *queryConfig) { c.includeGroups = true }
}

func (c queryConfig) matches(node Node) bool {
	return c.classTag == "" || node.InheritsFrom(c.classTag)
}

type direction int

const (
	upstream direction = iota
	downstream
)

func neighbours(v TransactionView, id NodeID, dir direction) []NodeID {
	if dir == downstream {
		children := v.ChildrenOf(id)
		out := make([]NodeID, len(children))
		for i, c := range children {
			out[i] = c.ID
		}
		return out
	}
	node, ok := v.FindNode(id)
	if !ok {
		return nil
	}
	return node.ParentIDs()
}

// adjacent returns direct neighbours of id. Unless groups are included, group
// nodes are replaced by their own neighbours in the same direction.
func adjacent(v TransactionView, id NodeID, dir direction, cfg queryConfig) []NodeID {
	var out []NodeID
	seen := map[NodeID]struct{}{id: {}}
	var visit func(NodeID)
	visit = func(cur NodeID) {
		for _, nb := range neighbours(v, cur, dir) {
			if _, dup := seen[nb]; dup {
				continue
			}
			seen[nb] = struct{}{}
			node, ok := v.FindNode(nb)
			if !ok {
				continue
			}
			if !cfg.includeGroups && node.ClassTag == GroupClass {
				visit(nb)
				continue
			}
			if cfg.matches(node) {
				out = append(out, nb)
			}
		}
	}
	visit(id)
	return out
}

func (s *Service) neighbourQuery(ctx context.Context, id NodeID, dir direction, opts []QueryOption) ([]NodeID, error) {
	cfg := newQueryConfig(opts)
	var out []NodeID
	err := s.view(ctx, func(v TransactionView) error {
		if _, ok := v.FindNode(id); !ok {
			return ErrNotFound{Entity: domain.EntityNode, ID: string(id)}
		}
		out = adjacent(v, id, dir, cfg)
		return nil
	})
	return out, err
}

// Parents returns the parents of id.
func (s *Service) Parents(ctx context.Context, id NodeID, opts ...QueryOption) ([]NodeID, error) {
	return s.neighbourQuery(ctx, id, upstream, opts)
}

// Children returns the children of id in link order.
func (s *Service) Children(ctx context.Context, id NodeID, opts ...QueryOption) ([]NodeID, error) {
	return s.neighbourQuery(ctx, id, downstream, opts)
}

// Siblings returns the other children of the parents of id.
func (s *Service) Siblings(ctx context.Context, id NodeID, opts ...QueryOption) ([]NodeID, error) {
	cfg := newQueryConfig(opts)
	var out []NodeID
	err := s.view(ctx, func(v TransactionView) error {
		node, ok := v.FindNode(id)
		if !ok {
			return ErrNotFound{Entity: domain.EntityNode, ID: string(id)}
		}
		seen := map[NodeID]struct{}{id: {}}
		for _, p := range node.ParentIDs() {
			for _, c := range adjacent(v, p, downstream, cfg) {
				if _, dup := seen[c]; dup {
					continue
				}
				seen[c] = struct{}{}
				out = append(out, c)
			}
		}
		return nil
	})
	return out, err
}

// IsParent reports whether parent is a direct parent of id.
func (s *Service) IsParent(ctx context.Context, id, parent NodeID) (bool, error) {
	node, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return hasLink(node, parent), nil
}

// IsChild reports whether child is a direct child of id.
func (s *Service) IsChild(ctx context.Context, id, child NodeID) (bool, error) {
	return s.IsParent(ctx, child, id)
}

// FindAncestorsOfClass searches transitively up the link graph for nodes of
// classTag. Group nodes are traversed but not returned unless IncludeGroups
// is given.
func (s *Service) FindAncestorsOfClass(ctx context.Context, start NodeID, classTag string, opts ...QueryOption) ([]NodeID, error) {
	return s.findOfClass(ctx, start, classTag, upstream, opts)
}

// FindDescendantsOfClass is the downstream counterpart of FindAncestorsOfClass.
func (s *Service) FindDescendantsOfClass(ctx context.Context, start NodeID, classTag string, opts ...QueryOption) ([]NodeID, error) {
	return s.findOfClass(ctx, start, classTag, downstream, opts)
}

func (s *Service) findOfClass(ctx context.Context, start NodeID, classTag string, dir direction, opts []QueryOption) ([]NodeID, error) {
	cfg := newQueryConfig(opts)
	cfg.classTag = classTag
	var out []NodeID
	err := s.view(ctx, func(v TransactionView) error {
		if _, ok := v.FindNode(start); !ok {
			return ErrNotFound{Entity: domain.EntityNode, ID: string(start)}
		}
		seen := map[NodeID]struct{}{start: {}}
		queue := []NodeID{start}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, nb := range neighbours(v, cur, dir) {
				if _, dup := seen[nb]; dup {
					continue
				}
				seen[nb] = struct{}{}
				queue = append(queue, nb)
				node, ok := v.FindNode(nb)
				if !ok {
					continue
				}
				if node.ClassTag == GroupClass && !cfg.includeGroups {
					continue
				}
				if cfg.matches(node) {
					out = append(out, nb)
				}
			}
		}
		return nil
	})
	return out, err
}
