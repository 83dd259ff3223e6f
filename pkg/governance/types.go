package governance

import (
	"time"
)

// ProposalState is the lifecycle state of a proposal. Transitions are
// monotonic and one-directional; every state except Active and Succeeded
// is terminal.
type ProposalState int

const (
	StateActive ProposalState = iota
	StateCanceled
	StateDefeated
	StateSucceeded
	StateExecuted
	StateExpired
)

// String returns the state name
func (s ProposalState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCanceled:
		return "canceled"
	case StateDefeated:
		return "defeated"
	case StateSucceeded:
		return "succeeded"
	case StateExecuted:
		return "executed"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible from s
func (s ProposalState) Terminal() bool {
	return s == StateCanceled || s == StateDefeated || s == StateExecuted || s == StateExpired
}

// ProposalKind classifies what a proposal asks for
type ProposalKind string

const (
	KindParameterChange    ProposalKind = "parameter_change"
	KindTokenAllocation    ProposalKind = "token_allocation"
	KindInvestment         ProposalKind = "investment"
	KindDivestment         ProposalKind = "divestment"
	KindNodeRegistration   ProposalKind = "node_registration"
	KindNodeDeregistration ProposalKind = "node_deregistration"
)

// ActionKind is the closed set of operations a proposal may carry
type ActionKind string

const (
	ActionTransferFunds      ActionKind = "transfer_funds"
	ActionSetParam           ActionKind = "set_param"
	ActionRegisterNode       ActionKind = "register_node"
	ActionRemoveNode         ActionKind = "remove_node"
	ActionSetFeeRate         ActionKind = "set_fee_rate"
	ActionUpdateRewardConfig ActionKind = "update_reward_config"
)

// Action is one encoded operation dispatched during execution. Kind tags
// the variant; Params carries the kind-specific string-typed parameters.
type Action struct {
	Kind   ActionKind        `json:"kind"`
	Target string            `json:"target"`
	Value  uint64            `json:"value"`
	Params map[string]string `json:"params,omitempty"`
}

// Proposal is a governance record describing proposed actions awaiting a vote
type Proposal struct {
	ID             uint64        `json:"id"`
	Kind           ProposalKind  `json:"kind"`
	Proposer       string        `json:"proposer"`
	Description    string        `json:"description"`
	Actions        []Action      `json:"actions"`
	CreatedAt      time.Time     `json:"created_at"`
	VotingDeadline time.Time     `json:"voting_deadline"`
	DecidedAt      time.Time     `json:"decided_at,omitempty"`
	ForVotes       uint64        `json:"for_votes"`
	AgainstVotes   uint64        `json:"against_votes"`
	State          ProposalState `json:"state"`
	Executed       bool          `json:"executed"`
}

// Vote is a single weighted ballot; at most one exists per
// (proposal, voter) and it is never mutated after creation.
type Vote struct {
	ProposalID    uint64    `json:"proposal_id"`
	Voter         string    `json:"voter"`
	Support       bool      `json:"support"`
	Weight        uint64    `json:"weight"`
	Justification string    `json:"justification"`
	CastAt        time.Time `json:"cast_at"`
}
