// Package memory provides an in-memory implementation of the graph
// persistence store used for tests and ephemeral documents.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"metagraph/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Node aliases domain.Node for in-memory persistence operations.
	Node = domain.Node
	// Member aliases domain.Member.
	Member = domain.Member
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
	// Snapshot aliases domain.Snapshot.
	Snapshot = domain.Snapshot
)

type memoryState struct {
	nodes   map[domain.NodeID]Node
	members map[domain.MemberID]Member
	seq     uint64
}

func newMemoryState() memoryState {
	return memoryState{
		nodes:   make(map[domain.NodeID]Node),
		members: make(map[domain.MemberID]Member),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Nodes:   make(map[domain.NodeID]Node, len(state.nodes)),
		Members: make(map[domain.MemberID]Member, len(state.members)),
		Seq:     state.seq,
	}
	for k, v := range state.nodes {
		s.Nodes[k] = v.Clone()
	}
	for k, v := range state.members {
		s.Members[k] = v.Clone()
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	state.seq = s.Seq
	for k, v := range s.Nodes {
		state.nodes[k] = v.Clone()
	}
	for k, v := range s.Members {
		state.members[k] = v.Clone()
	}
	return state
}

// migrateSnapshot normalises documents written by older builds or edited by
// hand: it fills nil maps, drops connections to nodes that no longer exist
// and restores the sequence counter. The input snapshot is left untouched.
func migrateSnapshot(in Snapshot) Snapshot {
	snapshot := Snapshot{
		Nodes:   make(map[domain.NodeID]Node, len(in.Nodes)),
		Members: make(map[domain.MemberID]Member, len(in.Members)),
		Seq:     in.Seq,
	}
	for id, node := range in.Nodes {
		snapshot.Nodes[id] = node.Clone()
	}
	for id, member := range in.Members {
		snapshot.Members[id] = member.Clone()
	}
	var maxSeq uint64
	for id, node := range snapshot.Nodes {
		node.ID = id
		if node.Attributes == nil {
			node.Attributes = map[string]domain.Slot{}
		}
		if len(node.Inheritance) == 0 {
			node.Inheritance = []string{domain.BaseClass}
		}
		for idx, parent := range node.Links {
			if _, ok := snapshot.Nodes[parent]; !ok {
				delete(node.Links, idx)
				delete(node.LinkSeq, idx)
				continue
			}
			if node.LinkSeq[idx] > maxSeq {
				maxSeq = node.LinkSeq[idx]
			}
		}
		snapshot.Nodes[id] = node
	}
	for id, member := range snapshot.Members {
		member.ID = id
		for idx, owner := range member.Owners {
			if _, ok := snapshot.Nodes[owner]; !ok {
				delete(member.Owners, idx)
			}
		}
		snapshot.Members[id] = member
	}
	if snapshot.Seq < maxSeq {
		snapshot.Seq = maxSeq
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	return memoryStateFromSnapshot(snapshotFromMemoryState(s))
}

// Store provides an in-memory transactional store for the graph.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() domain.NodeID {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return domain.NodeID(hex.EncodeToString(b[:]))
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// Restore replaces the store state; memory has nothing further to flush.
func (s *Store) Restore(_ context.Context, snapshot Snapshot) error {
	s.ImportState(snapshot)
	return nil
}

// RulesEngine exposes the currently configured engine for integration points like plugins.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc overrides the clock, mainly for deterministic tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

// Close releases nothing for the memory store; it exists to satisfy the interface.
func (s *Store) Close() error { return nil }

// GetNode returns a node by ID from the committed state.
func (s *Store) GetNode(id domain.NodeID) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.state.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.Clone(), true
}

// ListNodes returns every committed node ordered by ID.
func (s *Store) ListNodes() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listNodes(&s.state)
}

// ListMembers returns every committed member ordered by ID.
func (s *Store) ListMembers() []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listMembers(&s.state)
}

// RunInTransaction executes fn against a cloned state, evaluates rules over
// the recorded changes and commits when no blocking violation is reported.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()

	view := newTransactionView(&snapshot)
	return fn(view)
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func listNodes(state *memoryState) []Node {
	out := make([]Node, 0, len(state.nodes))
	for _, n := range state.nodes {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func listMembers(state *memoryState) []Member {
	out := make([]Member, 0, len(state.members))
	for _, m := range state.members {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListNodes returns all nodes within the snapshot ordered by ID.
func (v transactionView) ListNodes() []Node { return listNodes(v.state) }

// ListMembers returns all members within the snapshot ordered by ID.
func (v transactionView) ListMembers() []Member { return listMembers(v.state) }

// FindNode looks up a node within the snapshot.
func (v transactionView) FindNode(id domain.NodeID) (Node, bool) {
	n, ok := v.state.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.Clone(), true
}

// FindMember looks up a member within the snapshot.
func (v transactionView) FindMember(id domain.MemberID) (Member, bool) {
	m, ok := v.state.members[id]
	if !ok {
		return Member{}, false
	}
	return m.Clone(), true
}

// ChildrenOf returns the nodes linked under parent ordered by the sequence of
// their earliest link slot to it.
func (v transactionView) ChildrenOf(parent domain.NodeID) []Node {
	type entry struct {
		node Node
		seq  uint64
	}
	var found []entry
	for _, n := range v.state.nodes {
		first, linked := uint64(0), false
		for idx, p := range n.Links {
			if p != parent {
				continue
			}
			seq := n.LinkSeq[idx]
			if !linked || seq < first {
				first = seq
			}
			linked = true
		}
		if linked {
			found = append(found, entry{node: n, seq: first})
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].seq != found[j].seq {
			return found[i].seq < found[j].seq
		}
		return found[i].node.ID < found[j].node.ID
	})
	out := make([]Node, len(found))
	for i, e := range found {
		out[i] = e.node.Clone()
	}
	return out
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// NextSeq advances the document sequence counter.
func (tx *transaction) NextSeq() uint64 {
	tx.state.seq++
	return tx.state.seq
}

// FindNode exposes node lookup within the transaction scope.
func (tx *transaction) FindNode(id domain.NodeID) (Node, bool) {
	return newTransactionView(&tx.state).FindNode(id)
}

// FindMember exposes member lookup within the transaction scope.
func (tx *transaction) FindMember(id domain.MemberID) (Member, bool) {
	return newTransactionView(&tx.state).FindMember(id)
}

// CreateNode stores a new node within the transaction.
func (tx *transaction) CreateNode(n Node) (Node, error) {
	if n.ID == "" {
		n.ID = tx.store.newID()
	}
	if _, exists := tx.state.nodes[n.ID]; exists {
		return Node{}, fmt.Errorf("node %q already exists", n.ID)
	}
	if n.Attributes == nil {
		n.Attributes = map[string]domain.Slot{}
	}
	n.CreatedAt = tx.now
	n.UpdatedAt = tx.now
	tx.state.nodes[n.ID] = n.Clone()
	tx.recordChange(Change{Entity: domain.EntityNode, Action: domain.ActionCreate, After: n.Clone()})
	return n.Clone(), nil
}

// UpdateNode mutates a node using the provided mutator function.
func (tx *transaction) UpdateNode(id domain.NodeID, mutator func(*Node) error) (Node, error) {
	current, ok := tx.state.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("node %q not found", id)
	}
	before := current.Clone()
	current = current.Clone()
	if err := mutator(&current); err != nil {
		return Node{}, err
	}
	current.ID = id
	current.ClassTag = before.ClassTag
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.nodes[id] = current.Clone()
	tx.recordChange(Change{Entity: domain.EntityNode, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return current.Clone(), nil
}

// DeleteNode removes a node and cascades the removal into every link slot and
// member back-reference that points at it.
func (tx *transaction) DeleteNode(id domain.NodeID) error {
	current, ok := tx.state.nodes[id]
	if !ok {
		return fmt.Errorf("node %q not found", id)
	}
	delete(tx.state.nodes, id)
	for otherID, other := range tx.state.nodes {
		if !hasValue(other.Links, id) {
			continue
		}
		before := other.Clone()
		for idx, p := range other.Links {
			if p == id {
				delete(other.Links, idx)
				delete(other.LinkSeq, idx)
			}
		}
		other.UpdatedAt = tx.now
		tx.state.nodes[otherID] = other
		tx.recordChange(Change{Entity: domain.EntityNode, Action: domain.ActionUpdate, Before: before, After: other.Clone()})
	}
	for memberID, member := range tx.state.members {
		if !hasValue(member.Owners, id) {
			continue
		}
		before := member.Clone()
		for idx, owner := range member.Owners {
			if owner == id {
				delete(member.Owners, idx)
			}
		}
		member.UpdatedAt = tx.now
		tx.state.members[memberID] = member
		tx.recordChange(Change{Entity: domain.EntityMember, Action: domain.ActionUpdate, Before: before, After: member.Clone()})
	}
	tx.recordChange(Change{Entity: domain.EntityNode, Action: domain.ActionDelete, Before: current.Clone()})
	return nil
}

// UpsertMember creates the member on first use and applies mutator.
func (tx *transaction) UpsertMember(id domain.MemberID, mutator func(*Member) error) (Member, error) {
	if id == "" {
		return Member{}, fmt.Errorf("member id required")
	}
	current, exists := tx.state.members[id]
	var before Member
	if exists {
		before = current.Clone()
		current = current.Clone()
	} else {
		current = Member{ID: id}
		current.CreatedAt = tx.now
	}
	if mutator != nil {
		if err := mutator(&current); err != nil {
			return Member{}, err
		}
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.members[id] = current.Clone()
	change := Change{Entity: domain.EntityMember, Action: domain.ActionCreate, After: current.Clone()}
	if exists {
		change.Action = domain.ActionUpdate
		change.Before = before
	}
	tx.recordChange(change)
	return current.Clone(), nil
}

// DeleteMember removes a member record and the tag slots of nodes that point at it.
func (tx *transaction) DeleteMember(id domain.MemberID) error {
	current, ok := tx.state.members[id]
	if !ok {
		return fmt.Errorf("member %q not found", id)
	}
	delete(tx.state.members, id)
	for nodeID, node := range tx.state.nodes {
		if !hasValue(node.Tagged, id) {
			continue
		}
		before := node.Clone()
		for idx, m := range node.Tagged {
			if m == id {
				delete(node.Tagged, idx)
			}
		}
		node.UpdatedAt = tx.now
		tx.state.nodes[nodeID] = node
		tx.recordChange(Change{Entity: domain.EntityNode, Action: domain.ActionUpdate, Before: before, After: node.Clone()})
	}
	tx.recordChange(Change{Entity: domain.EntityMember, Action: domain.ActionDelete, Before: current.Clone()})
	return nil
}

func hasValue[V comparable](slots map[int]V, want V) bool {
	for _, v := range slots {
		if v == want {
			return true
		}
	}
	return false
}
