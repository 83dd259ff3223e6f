package governance

// ProposalStore persists proposals and their votes
type ProposalStore interface {
	// SaveProposal inserts or replaces a proposal
	SaveProposal(proposal *Proposal) error

	// GetProposal returns a copy of the proposal, or nil when absent
	GetProposal(id uint64) (*Proposal, error)

	// ListProposals returns copies of all proposals
	ListProposals() ([]*Proposal, error)

	// ListProposalsByState returns copies of proposals in the given state
	ListProposalsByState(state ProposalState) ([]*Proposal, error)

	// AddVote records a ballot; a second ballot for the same
	// (proposal, voter) pair fails with ErrAlreadyVoted
	AddVote(vote *Vote) error

	// GetVote returns a copy of the ballot, or nil when absent
	GetVote(id uint64, voter string) (*Vote, error)

	// ListVotes returns copies of all ballots on the proposal
	ListVotes(id uint64) ([]*Vote, error)
}

// ActionExecutor validates and dispatches a proposal's encoded actions
type ActionExecutor interface {
	// Validate checks kind/action compatibility and parameter shape at
	// creation time
	Validate(proposal *Proposal) error

	// Execute dispatches every action atomically: either all actions are
	// applied or none are
	Execute(proposal *Proposal) error
}
