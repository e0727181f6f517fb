package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEnumValue is returned when an enum write falls outside the
	// slot's declared domain.
	ErrInvalidEnumValue = errors.New("invalid enum value")
	// ErrHostAttributeMissing is returned when an expected storage slot is
	// absent or unreadable.
	ErrHostAttributeMissing = errors.New("attribute missing")
	// ErrAttributeLocked is returned to external writers touching a locked slot.
	ErrAttributeLocked = errors.New("attribute locked")
	// ErrIntegerOverflow is returned for unsigned values an int slot cannot hold.
	ErrIntegerOverflow = errors.New("integer overflows int64")
)

// NotConnectedError reports an operation on a member the node never tagged.
type NotConnectedError struct {
	Node   NodeID
	Member MemberID
}

func (e NotConnectedError) Error() string {
	return fmt.Sprintf("member %s is not connected to node %s", e.Member, e.Node)
}

// AlreadyTaggedError reports an attempt to add a second tag of an exclusive class.
type AlreadyTaggedError struct {
	Member   MemberID
	ClassTag string
	Owner    NodeID
}

func (e AlreadyTaggedError) Error() string {
	return fmt.Sprintf("member %s already tagged by %s %s", e.Member, e.ClassTag, e.Owner)
}

// CyclicGraphError describes a rejected link. It is logged, not returned, by
// the default link policy.
type CyclicGraphError struct {
	Parent NodeID
	Child  NodeID
}

func (e CyclicGraphError) Error() string {
	return fmt.Sprintf("linking %s under %s would create a cycle", e.Child, e.Parent)
}
