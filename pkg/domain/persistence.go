package domain

import "context"

// Snapshot captures a point-in-time copy of a graph document.
type Snapshot struct {
	Nodes   map[NodeID]Node     `json:"nodes"`
	Members map[MemberID]Member `json:"members"`
	Seq     uint64              `json:"seq"`
}

// Transaction exposes the graph primitives that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateNode(Node) (Node, error)
	UpdateNode(id NodeID, mutator func(*Node) error) (Node, error)
	// DeleteNode removes the node and severs every link slot and member
	// back-reference pointing at it.
	DeleteNode(id NodeID) error
	FindNode(id NodeID) (Node, bool)
	// UpsertMember creates the member record on first use and applies mutator.
	UpsertMember(id MemberID, mutator func(*Member) error) (Member, error)
	DeleteMember(id MemberID) error
	FindMember(id MemberID) (Member, bool)
	// NextSeq returns a monotonically increasing sequence number.
	NextSeq() uint64
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	ListNodes() []Node
	FindNode(id NodeID) (Node, bool)
	ListMembers() []Member
	FindMember(id MemberID) (Member, bool)
	// ChildrenOf returns nodes holding a link slot to parent, ordered by link sequence.
	ChildrenOf(parent NodeID) []Node
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetNode(id NodeID) (Node, bool)
	ListNodes() []Node
	ListMembers() []Member
	ExportState() Snapshot
	ImportState(Snapshot)
	// Restore replaces the document with snapshot and makes it durable.
	Restore(ctx context.Context, snapshot Snapshot) error
	RulesEngine() *RulesEngine
	Close() error
}
