package core

import (
	"context"
	"sort"
	"strings"
	"sync"

	"metagraph/pkg/domain"
)

// RegisterAs selects the registration set SetInitialProperty adds a name to.
type RegisterAs int

const (
	// RegisterNone writes the initial value without registering the name.
	RegisterNone RegisterAs = iota
	// RegisterLocked makes the slot read-only to external writers.
	RegisterLocked
	// RegisterPrivate hides the slot from generic listings and locks it.
	RegisterPrivate
	// RegisterHidden keeps the value in handle memory only.
	RegisterHidden
)

// MetaNode is the behavior handle bound to one persisted node. Its class
// decides the registration sets; hidden values live here and never reach
// the store.
type MetaNode struct {
	svc      *Service
	id       NodeID
	class    *Class
	resolved bool

	mu      sync.Mutex
	locked  map[string]struct{}
	private map[string]struct{}
	hidden  map[string]struct{}
	values  map[string]any
}

func newMetaNode(svc *Service, id NodeID, class *Class, resolved bool) *MetaNode {
	n := &MetaNode{
		svc:      svc,
		id:       id,
		class:    class,
		resolved: resolved,
		locked:   make(map[string]struct{}),
		private:  make(map[string]struct{}),
		hidden:   make(map[string]struct{}),
		values:   make(map[string]any),
	}
	for _, name := range class.Locked {
		n.locked[name] = struct{}{}
	}
	for _, name := range class.Private {
		n.private[name] = struct{}{}
		n.locked[name] = struct{}{}
	}
	for _, name := range class.Hidden {
		n.hidden[name] = struct{}{}
	}
	return n
}

// ID returns the node identifier.
func (n *MetaNode) ID() NodeID { return n.id }

// Class returns the behavior class bound to the handle.
func (n *MetaNode) Class() *Class { return n.class }

// ClassTag returns the tag of the bound class.
func (n *MetaNode) ClassTag() string { return n.class.Tag }

// Resolved is false when the stored class tag was not registered and the
// handle fell back to the base class.
func (n *MetaNode) Resolved() bool { return n.resolved }

// Service returns the owning graph store.
func (n *MetaNode) Service() *Service { return n.svc }

// Record reads the current node record.
func (n *MetaNode) Record(ctx context.Context) (Node, error) {
	return n.svc.Get(ctx, n.id)
}

// IsLocked reports whether name is registered locked.
func (n *MetaNode) IsLocked(name string) bool { return n.registered(n.locked, name) }

// IsPrivate reports whether name is registered private.
func (n *MetaNode) IsPrivate(name string) bool { return n.registered(n.private, name) }

// IsHidden reports whether name is registered hidden.
func (n *MetaNode) IsHidden(name string) bool { return n.registered(n.hidden, name) }

func (n *MetaNode) registered(set map[string]struct{}, name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := set[name]
	return ok
}

// RegisterLocked adds names to the locked set.
func (n *MetaNode) RegisterLocked(names ...string) { n.register(n.locked, names) }

// RegisterPrivate adds names to the private set.
func (n *MetaNode) RegisterPrivate(names ...string) { n.register(n.private, names) }

// RegisterHidden adds names to the hidden set.
func (n *MetaNode) RegisterHidden(names ...string) { n.register(n.hidden, names) }

func (n *MetaNode) register(set map[string]struct{}, names []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, name := range names {
		set[name] = struct{}{}
	}
}

func (n *MetaNode) unregisterLocked(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.locked, name)
}

func (n *MetaNode) hiddenValue(name string) (any, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.values[name]
	return v, ok
}

func (n *MetaNode) setHiddenValue(name string, value any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.values[name] = value
}

func (n *MetaNode) deleteHiddenValue(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.values[name]
	delete(n.values, name)
	return ok
}

func (n *MetaNode) hiddenNames() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.values))
	for name := range n.values {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Name returns the stored display name.
func (n *MetaNode) Name(ctx context.Context) (string, error) {
	node, err := n.Record(ctx)
	if err != nil {
		return "", err
	}
	return node.Name, nil
}

// SetName stores name prefixed with "<ClassTag>_" unless it already carries
// the prefix. A namespace ("ns:name") is kept in front of the prefix.
func (n *MetaNode) SetName(ctx context.Context, name string) error {
	full := prefixedName(n.class.Tag, name)
	_, err := n.svc.run(ctx, "set_name", func(_ context.Context, tx Transaction) error {
		_, err := tx.UpdateNode(n.id, func(node *Node) error {
			node.Name = full
			return nil
		})
		return err
	})
	return err
}

func prefixedName(classTag, name string) string {
	ns, short := "", name
	if idx := strings.LastIndex(name, ":"); idx >= 0 {
		ns, short = name[:idx+1], name[idx+1:]
	}
	prefix := classTag + "_"
	if strings.HasPrefix(short, prefix) {
		return name
	}
	return ns + prefix + short
}

// Delete destroys the node.
func (n *MetaNode) Delete(ctx context.Context) error {
	return n.svc.Delete(ctx, n.id)
}

// IsValid reports graph validity of the node.
func (n *MetaNode) IsValid(ctx context.Context) (bool, error) {
	return n.svc.IsValid(ctx, n.id)
}

func (n *MetaNode) notFound() error {
	return ErrNotFound{Entity: domain.EntityNode, ID: string(n.id)}
}
