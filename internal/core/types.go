package core

import "metagraph/pkg/domain"

type (
	// Node aliases the persisted MetaNode record.
	Node = domain.Node
	// Member aliases the tagged member side-table record.
	Member = domain.Member
	// NodeID identifies a MetaNode.
	NodeID = domain.NodeID
	// MemberID identifies an external member by path.
	MemberID = domain.MemberID
	// Slot aliases a typed attribute slot.
	Slot = domain.Slot
	// Change aliases a recorded transactional mutation.
	Change = domain.Change
	// Result aliases an aggregated rule evaluation result.
	Result = domain.Result
	// Violation aliases a single rule outcome.
	Violation = domain.Violation
	// Rule aliases the in-transaction rule contract.
	Rule = domain.Rule
	// RuleView aliases the read-only view handed to rules.
	RuleView = domain.RuleView
	// RulesEngine aliases the rule orchestrator.
	RulesEngine = domain.RulesEngine
	// Snapshot aliases a point-in-time document copy.
	Snapshot = domain.Snapshot
	// Transaction aliases the mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases the read-only unit of work.
	TransactionView = domain.TransactionView
	// PersistentStore aliases the backend contract.
	PersistentStore = domain.PersistentStore
	// Enum aliases an enum attribute domain.
	Enum = domain.Enum
	// EnumValue aliases a value read from an enum slot.
	EnumValue = domain.EnumValue
	// NotConnectedError aliases the missing tag connection error.
	NotConnectedError = domain.NotConnectedError
	// AlreadyTaggedError aliases the exclusive tag conflict error.
	AlreadyTaggedError = domain.AlreadyTaggedError
	// RuleViolationError aliases the blocked transaction error.
	RuleViolationError = domain.RuleViolationError
)

const (
	BaseClass     = domain.BaseClass
	EntityNode    = domain.EntityNode
	EntityMember  = domain.EntityMember
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

// Attribute errors re-exported for plugins, which never import pkg/domain.
var (
	ErrAttributeLocked      = domain.ErrAttributeLocked
	ErrHostAttributeMissing = domain.ErrHostAttributeMissing
	ErrInvalidEnumValue     = domain.ErrInvalidEnumValue
)

// NewRulesEngine constructs an empty rules engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}
