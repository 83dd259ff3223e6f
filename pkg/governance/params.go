package governance

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cast"
)

// Parameter names accepted by Params.Set
const (
	ParamVotingPeriod    = "voting_period_seconds"
	ParamQuorumBps       = "quorum_bps"
	ParamExecutionDelay  = "execution_delay_seconds"
	ParamExecutionWindow = "execution_window_seconds"
)

// Params is the mutable runtime parameter set shared between the service
// and the action executor. Parameter-change proposals mutate it through Set.
type Params struct {
	votingPeriod    time.Duration
	quorumBps       uint64
	executionDelay  time.Duration
	executionWindow time.Duration
	mutex           sync.RWMutex
}

// NewParams creates the runtime parameter set
func NewParams(votingPeriod time.Duration, quorumBps uint64, executionDelay, executionWindow time.Duration) *Params {
	return &Params{
		votingPeriod:    votingPeriod,
		quorumBps:       quorumBps,
		executionDelay:  executionDelay,
		executionWindow: executionWindow,
	}
}

// VotingPeriod returns how long voting stays open after creation
func (p *Params) VotingPeriod() time.Duration {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.votingPeriod
}

// QuorumBps returns the minimum participation in basis points
func (p *Params) QuorumBps() uint64 {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.quorumBps
}

// ExecutionDelay returns the timelock between decision and execution
func (p *Params) ExecutionDelay() time.Duration {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.executionDelay
}

// ExecutionWindow returns how long a succeeded proposal stays executable
func (p *Params) ExecutionWindow() time.Duration {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.executionWindow
}

// Validate checks a parameter name and value without applying it
func (p *Params) Validate(name, value string) error {
	switch name {
	case ParamVotingPeriod, ParamExecutionDelay, ParamExecutionWindow:
		secs, err := cast.ToInt64E(value)
		if err != nil || secs <= 0 {
			return fmt.Errorf("parameter %s requires a positive integer, got %q", name, value)
		}
	case ParamQuorumBps:
		bps, err := cast.ToUint64E(value)
		if err != nil || bps > 10000 {
			return fmt.Errorf("parameter %s requires a value in 0..10000, got %q", name, value)
		}
	default:
		return fmt.Errorf("unknown parameter: %s", name)
	}
	return nil
}

// Set applies a validated parameter change and returns an undo function
// restoring the previous value.
func (p *Params) Set(name, value string) (func(), error) {
	if err := p.Validate(name, value); err != nil {
		return nil, err
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	switch name {
	case ParamVotingPeriod:
		prev := p.votingPeriod
		p.votingPeriod = time.Duration(cast.ToInt64(value)) * time.Second
		return func() { p.restoreDuration(&p.votingPeriod, prev) }, nil
	case ParamQuorumBps:
		prev := p.quorumBps
		p.quorumBps = cast.ToUint64(value)
		return func() {
			p.mutex.Lock()
			p.quorumBps = prev
			p.mutex.Unlock()
		}, nil
	case ParamExecutionDelay:
		prev := p.executionDelay
		p.executionDelay = time.Duration(cast.ToInt64(value)) * time.Second
		return func() { p.restoreDuration(&p.executionDelay, prev) }, nil
	case ParamExecutionWindow:
		prev := p.executionWindow
		p.executionWindow = time.Duration(cast.ToInt64(value)) * time.Second
		return func() { p.restoreDuration(&p.executionWindow, prev) }, nil
	}
	return nil, fmt.Errorf("unknown parameter: %s", name)
}

func (p *Params) restoreDuration(field *time.Duration, prev time.Duration) {
	p.mutex.Lock()
	*field = prev
	p.mutex.Unlock()
}
