// Package domain defines the persistent graph entities, value types, and
// rule evaluation primitives used by metagraph.
package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// EntityType identifies the type of record stored in the graph.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityNode identifies a MetaNode record.
	EntityNode EntityType = "node"
	// EntityMember identifies an external member record carrying back-references.
	EntityMember EntityType = "member"
)

// BaseClass is the class tag every inheritance chain starts with.
const BaseClass = "MetaData"

// NodeID identifies a MetaNode.
type NodeID string

// MemberID identifies an external member object by its hierarchical path,
// for example "|rig|body|mesh".
type MemberID string

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all persisted records.
type Base struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Node is the persistent MetaNode: a class-tagged carrier of typed attributes,
// parent links and tag connections.
type Node struct {
	Base
	ID          NodeID          `json:"id"`
	Name        string          `json:"name"`
	ClassTag    string          `json:"class_tag"`
	Version     float64         `json:"version"`
	Inheritance []string        `json:"inheritance"`
	Attributes  map[string]Slot `json:"attributes"`
	// Links holds the indexed parent connections of this node.
	Links map[int]NodeID `json:"links,omitempty"`
	// LinkSeq records the store sequence at which each link slot was made.
	LinkSeq map[int]uint64 `json:"link_seq,omitempty"`
	// Tagged holds the indexed member connections of this node.
	Tagged map[int]MemberID `json:"tagged,omitempty"`
}

// InheritsFrom reports whether the node's class is tag or derives from it.
func (n Node) InheritsFrom(tag string) bool {
	if n.ClassTag == tag {
		return true
	}
	for _, c := range n.Inheritance {
		if c == tag {
			return true
		}
	}
	return false
}

// ParentIDs returns the distinct parents in slot index order.
func (n Node) ParentIDs() []NodeID {
	return distinctByIndex(n.Links)
}

// TaggedMembers returns the distinct tagged members in slot index order.
func (n Node) TaggedMembers() []MemberID {
	return distinctByIndex(n.Tagged)
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	out := n
	out.Inheritance = append([]string(nil), n.Inheritance...)
	out.Attributes = make(map[string]Slot, len(n.Attributes))
	for k, v := range n.Attributes {
		out.Attributes[k] = v.Clone()
	}
	out.Links = cloneIndex(n.Links)
	out.LinkSeq = cloneIndex(n.LinkSeq)
	out.Tagged = cloneIndex(n.Tagged)
	return out
}

// PartSlot is the role metadata a member carries for one owning class.
type PartSlot struct {
	Data   json.RawMessage `json:"data"`
	Locked bool            `json:"locked"`
}

// Member is the side-table entry for an external object tagged by one or more
// MetaNodes. It never owns the nodes it points at.
type Member struct {
	Base
	ID MemberID `json:"id"`
	// Owners holds the indexed back-references to tagging nodes.
	Owners map[int]NodeID `json:"owners,omitempty"`
	// Parts is keyed by "<Class>_Part".
	Parts map[string]PartSlot `json:"parts,omitempty"`
}

// OwnerIDs returns the distinct owners in slot index order.
func (m Member) OwnerIDs() []NodeID {
	return distinctByIndex(m.Owners)
}

// Clone returns a deep copy of the member.
func (m Member) Clone() Member {
	out := m
	out.Owners = cloneIndex(m.Owners)
	if m.Parts != nil {
		out.Parts = make(map[string]PartSlot, len(m.Parts))
		for k, v := range m.Parts {
			v.Data = append(json.RawMessage(nil), v.Data...)
			out.Parts[k] = v
		}
	}
	return out
}

// PartKey returns the part-data slot name used by the given class.
func PartKey(classTag string) string {
	return classTag + "_Part"
}

// NextFreeIndex returns the smallest index not occupied in a sparse indexed
// array. It searches {0..max+1} so holes are reused and a dense array always
// yields max+1.
func NextFreeIndex[V any](slots map[int]V) int {
	if len(slots) == 0 {
		return 0
	}
	maxIdx := 0
	for idx := range slots {
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	for i := 0; i <= maxIdx+1; i++ {
		if _, used := slots[i]; !used {
			return i
		}
	}
	return maxIdx + 1
}

// SortedIndexes returns the occupied indexes in ascending order.
func SortedIndexes[V any](slots map[int]V) []int {
	out := make([]int, 0, len(slots))
	for idx := range slots {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

func distinctByIndex[V comparable](slots map[int]V) []V {
	seen := make(map[V]struct{}, len(slots))
	out := make([]V, 0, len(slots))
	for _, idx := range SortedIndexes(slots) {
		v := slots[idx]
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func cloneIndex[V any](in map[int]V) map[int]V {
	if in == nil {
		return nil
	}
	out := make(map[int]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
