package fees

import (
	"errors"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/janteras/d-loop-sub002/pkg/events"
	"github.com/janteras/d-loop-sub002/pkg/roles"
	"github.com/janteras/d-loop-sub002/pkg/token"
)

var (
	// ErrSplitMismatch indicates treasury and reward shares do not sum to 100%
	ErrSplitMismatch = errors.New("treasury and reward shares must sum to 10000 bps")

	// ErrTokenTransferFailed indicates the underlying ledger refused a transfer
	ErrTokenTransferFailed = errors.New("token transfer failed")
)

// Processor collects fees on value-moving operations and splits them
// between the treasury and the reward pool.
type Processor struct {
	calc         *Calculator
	roles        *roles.Registry
	events       *events.Recorder
	log          zerolog.Logger
	treasuryAddr string
	rewardPool   string

	treasuryBps uint64
	mutex       sync.RWMutex
}

// NewProcessor creates a fee processor. treasuryBps and rewardBps must sum
// to 10000.
func NewProcessor(
	calc *Calculator,
	registry *roles.Registry,
	recorder *events.Recorder,
	log zerolog.Logger,
	treasuryAddr string,
	rewardPool string,
	treasuryBps uint64,
	rewardBps uint64,
) (*Processor, error) {
	if treasuryBps+rewardBps != bpsDenominator {
		return nil, ErrSplitMismatch
	}
	return &Processor{
		calc:         calc,
		roles:        registry,
		events:       recorder,
		log:          log,
		treasuryAddr: treasuryAddr,
		rewardPool:   rewardPool,
		treasuryBps:  treasuryBps,
	}, nil
}

// Split returns the current treasury and reward shares in basis points
func (p *Processor) Split() (treasuryBps, rewardBps uint64) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return p.treasuryBps, bpsDenominator - p.treasuryBps
}

// SetSplit updates the fee split. Admin-gated; shares not summing to 10000
// are rejected and the previous split stays in effect.
func (p *Processor) SetSplit(treasuryBps, rewardBps uint64, caller string) error {
	if err := p.roles.Require(roles.RoleAdmin, caller); err != nil {
		return err
	}
	if treasuryBps+rewardBps != bpsDenominator {
		return ErrSplitMismatch
	}

	p.mutex.Lock()
	p.treasuryBps = treasuryBps
	p.mutex.Unlock()
	return nil
}

// Collect computes the fee for the operation, pulls it from the payer and
// forwards the split shares to the treasury and reward pool addresses.
// A zero fee is a no-op. Both pull-transfers happen or neither does: a
// failure on the second reverses the first before returning.
func (p *Processor) Collect(ledger token.Ledger, payer string, amount uint64, kind OperationKind, caller string) (uint64, error) {
	if err := p.roles.Require(roles.RoleAuthorizedContract, caller); err != nil {
		return 0, err
	}

	fee, err := p.calc.Fee(amount, kind)
	if err != nil {
		return 0, err
	}
	if fee == 0 {
		return 0, nil
	}

	p.mutex.RLock()
	treasuryShare := mulDivBps(fee, p.treasuryBps)
	p.mutex.RUnlock()
	rewardShare := fee - treasuryShare

	// Both legs must clear; refuse up front when the payer cannot cover
	// the full fee so no partial pull is attempted.
	if ledger.BalanceOf(payer) < fee || ledger.Allowance(payer, caller) < fee {
		return 0, ErrTokenTransferFailed
	}

	if treasuryShare > 0 {
		if err := ledger.TransferFrom(caller, payer, p.treasuryAddr, treasuryShare); err != nil {
			return 0, ErrTokenTransferFailed
		}
	}
	if rewardShare > 0 {
		if err := ledger.TransferFrom(caller, payer, p.rewardPool, rewardShare); err != nil {
			// undo the first leg so the failed collection has no effect
			if treasuryShare > 0 {
				if uerr := ledger.Transfer(p.treasuryAddr, payer, treasuryShare); uerr != nil {
					p.log.Error().Err(uerr).Str("payer", payer).Msg("failed to reverse treasury share")
				}
			}
			return 0, ErrTokenTransferFailed
		}
	}

	p.log.Info().
		Str("payer", payer).
		Str("kind", string(kind)).
		Uint64("fee", fee).
		Uint64("treasury_share", treasuryShare).
		Uint64("reward_share", rewardShare).
		Msg("fee collected")
	p.events.Emit(events.TypeFeeCollected, map[string]string{
		"payer":             payer,
		"kind":              string(kind),
		events.AttrAmount:   strconv.FormatUint(fee, 10),
		"treasury_share":    strconv.FormatUint(treasuryShare, 10),
		"reward_pool_share": strconv.FormatUint(rewardShare, 10),
	})
	return fee, nil
}
