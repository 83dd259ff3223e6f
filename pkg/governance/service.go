package governance

import (
	"math"
	"math/bits"
	"strconv"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/janteras/d-loop-sub002/pkg/events"
	"github.com/janteras/d-loop-sub002/pkg/roles"
	"github.com/janteras/d-loop-sub002/pkg/token"
)

const bpsDenominator uint64 = 10000

// Service is the proposal state machine. Every mutating operation runs
// under one lock, mirroring the serialized-transaction model: an operation
// either completes or aborts with no partial state visible to the next.
type Service struct {
	store    ProposalStore
	roles    *roles.Registry
	tokens   token.Ledger
	executor ActionExecutor
	events   *events.Recorder
	params   *Params
	log      zerolog.Logger

	nextID uint64
	mutex  sync.Mutex
	now    func() time.Time
}

// NewService creates a new governance service
func NewService(
	store ProposalStore,
	registry *roles.Registry,
	tokens token.Ledger,
	executor ActionExecutor,
	recorder *events.Recorder,
	params *Params,
	log zerolog.Logger,
) *Service {
	return &Service{
		store:    store,
		roles:    registry,
		tokens:   tokens,
		executor: executor,
		events:   recorder,
		params:   params,
		log:      log,
		nextID:   1,
		now:      time.Now,
	}
}

// Create opens a new proposal in the Active state with the voting deadline
// set from the current voting period.
func (s *Service) Create(kind ProposalKind, actions []Action, description string, caller string) (uint64, error) {
	if !s.roles.HasRole(roles.RoleProposer, caller) && !s.roles.HasRole(roles.RoleAdmin, caller) {
		return 0, roles.ErrUnauthorized
	}
	if err := validateActionSet(actions); err != nil {
		return 0, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	proposal := &Proposal{
		ID:             s.nextID,
		Kind:           kind,
		Proposer:       caller,
		Description:    description,
		Actions:        actions,
		CreatedAt:      now,
		VotingDeadline: now.Add(s.params.VotingPeriod()),
		State:          StateActive,
	}

	// kind/action compatibility and parameter shape
	if err := s.executor.Validate(proposal); err != nil {
		return 0, pkgerrors.Wrap(ErrInvalidActionSet, err.Error())
	}

	if err := s.store.SaveProposal(proposal); err != nil {
		return 0, pkgerrors.Wrap(err, "failed to save proposal")
	}
	s.nextID++

	s.log.Info().
		Uint64("proposal_id", proposal.ID).
		Str("kind", string(kind)).
		Str("proposer", caller).
		Msg("proposal created")
	s.events.Emit(events.TypeProposalCreated, map[string]string{
		events.AttrProposalID: strconv.FormatUint(proposal.ID, 10),
		"kind":                string(kind),
		"proposer":            caller,
	})
	return proposal.ID, nil
}

// Vote casts a weighted ballot on an active proposal. The weight is
// snapshotted at cast time and never recomputed.
func (s *Service) Vote(id uint64, support bool, weight uint64, justification string, caller string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	proposal, err := s.getProposal(id)
	if err != nil {
		return err
	}
	if proposal.State != StateActive {
		return ErrProposalNotActive
	}
	now := s.now()
	if !now.Before(proposal.VotingDeadline) {
		return ErrVotingPeriodEnded
	}
	if weight == 0 {
		return ErrZeroWeight
	}

	existing, err := s.store.GetVote(id, caller)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to get vote")
	}
	if existing != nil {
		return ErrAlreadyVoted
	}

	// tally first, ballot second: a refused ballot write compensates the
	// tally, so neither survives without the other
	if support {
		proposal.ForVotes += weight
	} else {
		proposal.AgainstVotes += weight
	}
	if err := s.store.SaveProposal(proposal); err != nil {
		return pkgerrors.Wrap(err, "failed to save proposal")
	}

	vote := &Vote{
		ProposalID:    id,
		Voter:         caller,
		Support:       support,
		Weight:        weight,
		Justification: justification,
		CastAt:        now,
	}
	if err := s.store.AddVote(vote); err != nil {
		if support {
			proposal.ForVotes -= weight
		} else {
			proposal.AgainstVotes -= weight
		}
		if serr := s.store.SaveProposal(proposal); serr != nil {
			s.log.Error().Uint64("proposal_id", id).Err(serr).Msg("failed to compensate vote tally")
		}
		return err
	}

	s.events.Emit(events.TypeVoteCast, map[string]string{
		events.AttrProposalID: strconv.FormatUint(id, 10),
		events.AttrVoter:      caller,
		"support":             strconv.FormatBool(support),
		"weight":              strconv.FormatUint(weight, 10),
	})
	return nil
}

// Decide settles the outcome of a proposal whose voting deadline has
// passed. Any caller may trigger it, exactly once. Quorum requires
// participation of at least quorumBps of the total supply; a tie is
// Defeated, never Succeeded.
func (s *Service) Decide(id uint64) (ProposalState, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	proposal, err := s.getProposal(id)
	if err != nil {
		return 0, err
	}
	if proposal.State != StateActive {
		return 0, ErrAlreadyDecided
	}
	now := s.now()
	if now.Before(proposal.VotingDeadline) {
		return 0, ErrVotingPeriodNotEnded
	}

	totalVotes := proposal.ForVotes + proposal.AgainstVotes
	if totalVotes < proposal.ForVotes {
		totalVotes = math.MaxUint64
	}
	participationBps := participation(totalVotes, s.tokens.TotalSupply())
	quorumMet := participationBps >= s.params.QuorumBps()

	if !quorumMet || proposal.ForVotes <= proposal.AgainstVotes {
		proposal.State = StateDefeated
	} else {
		proposal.State = StateSucceeded
	}
	proposal.DecidedAt = now
	if err := s.store.SaveProposal(proposal); err != nil {
		return 0, pkgerrors.Wrap(err, "failed to save proposal")
	}

	s.log.Info().
		Uint64("proposal_id", id).
		Str("outcome", proposal.State.String()).
		Uint64("for", proposal.ForVotes).
		Uint64("against", proposal.AgainstVotes).
		Uint64("participation_bps", participationBps).
		Msg("proposal decided")
	s.events.Emit(events.TypeProposalDecided, map[string]string{
		events.AttrProposalID: strconv.FormatUint(id, 10),
		events.AttrOutcome:    proposal.State.String(),
	})
	return proposal.State, nil
}

// Execute dispatches the proposal's actions once the timelock has elapsed.
// Dispatch is all-or-nothing: when the executor fails, the proposal stays
// Succeeded with the executed flag unset, and the call can be retried.
func (s *Service) Execute(id uint64, caller string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	proposal, err := s.getProposal(id)
	if err != nil {
		return err
	}
	if proposal.State == StateExecuted || proposal.Executed {
		return ErrAlreadyExecuted
	}
	if proposal.State != StateSucceeded {
		return ErrNotSucceeded
	}
	now := s.now()
	if now.Before(proposal.DecidedAt.Add(s.params.ExecutionDelay())) {
		return ErrTimelockNotElapsed
	}
	if now.After(proposal.DecidedAt.Add(s.params.ExecutionWindow())) {
		// lazy expiry: the window closed before anyone executed
		proposal.State = StateExpired
		if err := s.store.SaveProposal(proposal); err != nil {
			return pkgerrors.Wrap(err, "failed to save proposal")
		}
		s.events.Emit(events.TypeProposalExpired, map[string]string{
			events.AttrProposalID: strconv.FormatUint(id, 10),
		})
		return ErrProposalExpired
	}

	if err := s.executor.Execute(proposal); err != nil {
		s.log.Warn().Uint64("proposal_id", id).Err(err).Msg("proposal execution failed")
		return err
	}

	proposal.State = StateExecuted
	proposal.Executed = true
	if err := s.store.SaveProposal(proposal); err != nil {
		return pkgerrors.Wrap(err, "failed to save proposal")
	}

	s.log.Info().Uint64("proposal_id", id).Str("caller", caller).Msg("proposal executed")
	s.events.Emit(events.TypeProposalExecuted, map[string]string{
		events.AttrProposalID: strconv.FormatUint(id, 10),
		"caller":              caller,
	})
	return nil
}

// Cancel withdraws an active proposal. Only the proposer or an admin may
// cancel, and only while voting is open.
func (s *Service) Cancel(id uint64, caller string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	proposal, err := s.getProposal(id)
	if err != nil {
		return err
	}
	if proposal.State != StateActive {
		return ErrAlreadyTerminal
	}
	if caller != proposal.Proposer && !s.roles.HasRole(roles.RoleAdmin, caller) {
		return roles.ErrUnauthorized
	}

	proposal.State = StateCanceled
	if err := s.store.SaveProposal(proposal); err != nil {
		return pkgerrors.Wrap(err, "failed to save proposal")
	}

	s.events.Emit(events.TypeProposalCanceled, map[string]string{
		events.AttrProposalID: strconv.FormatUint(id, 10),
		"caller":              caller,
	})
	return nil
}

// Expire transitions a Succeeded proposal whose execution window has
// closed into the terminal Expired state.
func (s *Service) Expire(id uint64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	proposal, err := s.getProposal(id)
	if err != nil {
		return err
	}
	if proposal.State != StateSucceeded {
		return ErrNotSucceeded
	}
	if !s.now().After(proposal.DecidedAt.Add(s.params.ExecutionWindow())) {
		return ErrExecutionWindowOpen
	}

	proposal.State = StateExpired
	if err := s.store.SaveProposal(proposal); err != nil {
		return pkgerrors.Wrap(err, "failed to save proposal")
	}

	s.events.Emit(events.TypeProposalExpired, map[string]string{
		events.AttrProposalID: strconv.FormatUint(id, 10),
	})
	return nil
}

// GetProposal returns a proposal by id
func (s *Service) GetProposal(id uint64) (*Proposal, error) {
	proposal, err := s.store.GetProposal(id)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to get proposal")
	}
	if proposal == nil {
		return nil, ErrProposalNotFound
	}
	return proposal, nil
}

// ListProposals returns all proposals
func (s *Service) ListProposals() ([]*Proposal, error) {
	return s.store.ListProposals()
}

// ListProposalsByState returns proposals in the given state
func (s *Service) ListProposalsByState(state ProposalState) ([]*Proposal, error) {
	return s.store.ListProposalsByState(state)
}

// GetVote returns the ballot cast by voter on the proposal
func (s *Service) GetVote(id uint64, voter string) (*Vote, error) {
	vote, err := s.store.GetVote(id, voter)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to get vote")
	}
	return vote, nil
}

// ListVotes returns all ballots on the proposal
func (s *Service) ListVotes(id uint64) ([]*Vote, error) {
	return s.store.ListVotes(id)
}

func (s *Service) getProposal(id uint64) (*Proposal, error) {
	proposal, err := s.store.GetProposal(id)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to get proposal")
	}
	if proposal == nil {
		return nil, ErrProposalNotFound
	}
	return proposal, nil
}

// participation returns totalVotes*10000/totalSupply through a 128-bit
// intermediate, zero when the supply is zero, saturating when the quotient
// does not fit in uint64.
func participation(totalVotes, totalSupply uint64) uint64 {
	if totalSupply == 0 {
		return 0
	}
	hi, lo := bits.Mul64(totalVotes, bpsDenominator)
	if hi >= totalSupply {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, totalSupply)
	return q
}

// validateActionSet rejects empty or structurally broken action lists
func validateActionSet(actions []Action) error {
	if len(actions) == 0 {
		return ErrInvalidActionSet
	}
	for _, action := range actions {
		switch action.Kind {
		case ActionTransferFunds:
			if action.Target == "" || action.Value == 0 {
				return ErrInvalidActionSet
			}
		case ActionSetParam, ActionSetFeeRate, ActionUpdateRewardConfig:
			if len(action.Params) == 0 {
				return ErrInvalidActionSet
			}
		case ActionRegisterNode, ActionRemoveNode:
			if action.Target == "" {
				return ErrInvalidActionSet
			}
		default:
			return ErrInvalidActionSet
		}
	}
	return nil
}
