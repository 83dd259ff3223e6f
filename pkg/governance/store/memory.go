package store

import (
	"sync"

	"github.com/janteras/d-loop-sub002/pkg/governance"
)

type voteKey struct {
	proposalID uint64
	voter      string
}

// MemoryStore is the in-memory implementation of ProposalStore. It hands
// out copies so callers cannot mutate stored state behind its back.
type MemoryStore struct {
	proposals map[uint64]*governance.Proposal
	votes     map[voteKey]*governance.Vote
	// votesByProposal indexes ballots per proposal for tally queries
	votesByProposal map[uint64][]voteKey
	mutex           sync.RWMutex
}

// NewMemoryStore creates a new memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		proposals:       make(map[uint64]*governance.Proposal),
		votes:           make(map[voteKey]*governance.Vote),
		votesByProposal: make(map[uint64][]voteKey),
	}
}

// SaveProposal inserts or replaces a proposal
func (s *MemoryStore) SaveProposal(proposal *governance.Proposal) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	copy := *proposal
	copy.Actions = copyActions(proposal.Actions)
	s.proposals[proposal.ID] = &copy
	return nil
}

// GetProposal retrieves a proposal by id
func (s *MemoryStore) GetProposal(id uint64) (*governance.Proposal, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	proposal, exists := s.proposals[id]
	if !exists {
		return nil, nil
	}
	copy := *proposal
	copy.Actions = copyActions(proposal.Actions)
	return &copy, nil
}

// ListProposals lists all proposals
func (s *MemoryStore) ListProposals() ([]*governance.Proposal, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]*governance.Proposal, 0, len(s.proposals))
	for _, proposal := range s.proposals {
		copy := *proposal
		copy.Actions = copyActions(proposal.Actions)
		out = append(out, &copy)
	}
	return out, nil
}

// ListProposalsByState lists proposals in the given state
func (s *MemoryStore) ListProposalsByState(state governance.ProposalState) ([]*governance.Proposal, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]*governance.Proposal, 0)
	for _, proposal := range s.proposals {
		if proposal.State == state {
			copy := *proposal
			copy.Actions = copyActions(proposal.Actions)
			out = append(out, &copy)
		}
	}
	return out, nil
}

// AddVote records a ballot, enforcing one vote per (proposal, voter)
func (s *MemoryStore) AddVote(vote *governance.Vote) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := voteKey{proposalID: vote.ProposalID, voter: vote.Voter}
	if _, exists := s.votes[key]; exists {
		return governance.ErrAlreadyVoted
	}
	copy := *vote
	s.votes[key] = &copy
	s.votesByProposal[vote.ProposalID] = append(s.votesByProposal[vote.ProposalID], key)
	return nil
}

// GetVote retrieves a ballot by (proposal, voter)
func (s *MemoryStore) GetVote(id uint64, voter string) (*governance.Vote, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	vote, exists := s.votes[voteKey{proposalID: id, voter: voter}]
	if !exists {
		return nil, nil
	}
	copy := *vote
	return &copy, nil
}

// ListVotes lists all ballots on the proposal
func (s *MemoryStore) ListVotes(id uint64) ([]*governance.Vote, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	keys := s.votesByProposal[id]
	out := make([]*governance.Vote, 0, len(keys))
	for _, key := range keys {
		copy := *s.votes[key]
		out = append(out, &copy)
	}
	return out, nil
}

func copyActions(actions []governance.Action) []governance.Action {
	out := make([]governance.Action, len(actions))
	for i, action := range actions {
		out[i] = action
		if action.Params != nil {
			params := make(map[string]string, len(action.Params))
			for k, v := range action.Params {
				params[k] = v
			}
			out[i].Params = params
		}
	}
	return out
}
