package governance

import "errors"

var (
	// ErrProposalNotFound indicates the proposal does not exist
	ErrProposalNotFound = errors.New("proposal not found")

	// ErrInvalidActionSet indicates an empty or malformed action list
	ErrInvalidActionSet = errors.New("invalid action set")

	// ErrProposalNotActive indicates the proposal has left the Active state
	ErrProposalNotActive = errors.New("proposal is not active")

	// ErrVotingPeriodEnded indicates the voting deadline has passed
	ErrVotingPeriodEnded = errors.New("voting period has ended")

	// ErrVotingPeriodNotEnded indicates the voting deadline has not passed yet
	ErrVotingPeriodNotEnded = errors.New("voting period has not ended")

	// ErrAlreadyVoted indicates the voter already cast a ballot on this proposal
	ErrAlreadyVoted = errors.New("already voted on this proposal")

	// ErrAlreadyDecided indicates the proposal outcome was already decided
	ErrAlreadyDecided = errors.New("proposal already decided")

	// ErrNotSucceeded indicates execution requires the Succeeded state
	ErrNotSucceeded = errors.New("proposal has not succeeded")

	// ErrAlreadyExecuted indicates the proposal was already executed
	ErrAlreadyExecuted = errors.New("proposal already executed")

	// ErrTimelockNotElapsed indicates the execution delay has not elapsed
	ErrTimelockNotElapsed = errors.New("execution timelock not elapsed")

	// ErrProposalExpired indicates the execution window has closed
	ErrProposalExpired = errors.New("execution window expired")

	// ErrExecutionWindowOpen indicates the execution window has not closed yet
	ErrExecutionWindowOpen = errors.New("execution window still open")

	// ErrAlreadyTerminal indicates the proposal is in a terminal state
	ErrAlreadyTerminal = errors.New("proposal is in a terminal state")

	// ErrZeroWeight indicates a vote carrying no weight
	ErrZeroWeight = errors.New("vote weight must be positive")
)
