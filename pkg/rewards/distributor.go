package rewards

import (
	"errors"
	"strconv"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/janteras/d-loop-sub002/pkg/events"
	"github.com/janteras/d-loop-sub002/pkg/roles"
	"github.com/janteras/d-loop-sub002/pkg/token"
)

var (
	// ErrZeroAddress indicates an empty recipient identity
	ErrZeroAddress = errors.New("recipient must not be empty")

	// ErrInvalidAmount indicates the computed reward was zero
	ErrInvalidAmount = errors.New("computed reward is zero")

	// ErrCooldownNotMet indicates the per-recipient cooldown has not elapsed
	ErrCooldownNotMet = errors.New("reward cooldown period not met")

	// ErrTokenTransferFailed indicates the reward token refused the transfer
	ErrTokenTransferFailed = errors.New("token transfer failed")
)

// IdentityRegistry is the read-only reputation collaborator
type IdentityRegistry interface {
	IsPrivileged(identity string) bool
	ReputationOf(identity string) int64
}

// Record is an append-only reward ledger entry
type Record struct {
	Recipient string    `json:"recipient"`
	Amount    uint64    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// Distributor applies the reward formula against the per-recipient
// cooldown and the append-only reward ledger.
type Distributor struct {
	roles    *roles.Registry
	identity IdentityRegistry
	ledger   token.Ledger
	events   *events.Recorder
	log      zerolog.Logger
	// poolAddr is the reward pool identity holding the reward token
	poolAddr string
	cooldown time.Duration

	cfg          Config
	records      []Record
	byRecipient  map[string][]int
	totalEarned  map[string]uint64
	lastRewardAt map[string]time.Time
	mutex        sync.Mutex
	now          func() time.Time
}

// NewDistributor creates a reward distributor
func NewDistributor(
	registry *roles.Registry,
	identity IdentityRegistry,
	ledger token.Ledger,
	recorder *events.Recorder,
	log zerolog.Logger,
	poolAddr string,
	cooldown time.Duration,
	cfg Config,
) (*Distributor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Distributor{
		roles:        registry,
		identity:     identity,
		ledger:       ledger,
		events:       recorder,
		log:          log,
		poolAddr:     poolAddr,
		cooldown:     cooldown,
		cfg:          cfg,
		byRecipient:  make(map[string][]int),
		totalEarned:  make(map[string]uint64),
		lastRewardAt: make(map[string]time.Time),
		now:          time.Now,
	}, nil
}

// Config returns the current reward configuration
func (d *Distributor) Config() Config {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.cfg
}

// UpdateConfig replaces the reward configuration. Admin-gated; an invalid
// configuration is rejected and the previous one stays in effect.
func (d *Distributor) UpdateConfig(cfg Config, caller string) error {
	if err := d.roles.Require(roles.RoleAdmin, caller); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	d.mutex.Lock()
	d.cfg = cfg
	d.mutex.Unlock()

	d.events.Emit(events.TypeRewardConfigUpdated, map[string]string{
		"base_reward": strconv.FormatUint(cfg.BaseReward, 10),
		"reward_cap":  strconv.FormatUint(cfg.RewardCap, 10),
	})
	return nil
}

// Distribute computes and credits a reward for the recipient. Distributor-
// role-gated. The ledger append, total update and cooldown timestamp are
// finalized before the token transfer is instructed; a refused transfer
// rolls all three back so a failed call leaves no trace.
func (d *Distributor) Distribute(recipient string, forVotes, againstVotes, totalSupply uint64, reason string, caller string) (uint64, error) {
	if err := d.roles.Require(roles.RoleDistributor, caller); err != nil {
		return 0, err
	}
	if recipient == "" {
		return 0, ErrZeroAddress
	}

	d.mutex.Lock()
	now := d.now()
	if last, ok := d.lastRewardAt[recipient]; ok && now.Before(last.Add(d.cooldown)) {
		d.mutex.Unlock()
		return 0, ErrCooldownNotMet
	}

	reward := Compute(forVotes, againstVotes, totalSupply, d.identity.IsPrivileged(recipient), d.cfg)
	if reward == 0 {
		d.mutex.Unlock()
		return 0, ErrInvalidAmount
	}

	// effects before interaction
	record := Record{Recipient: recipient, Amount: reward, Timestamp: now, Reason: reason}
	d.records = append(d.records, record)
	d.byRecipient[recipient] = append(d.byRecipient[recipient], len(d.records)-1)
	d.totalEarned[recipient] += reward
	prevLast, hadLast := d.lastRewardAt[recipient]
	// the cooldown timestamp updates unconditionally on success,
	// independent of which bonuses applied
	d.lastRewardAt[recipient] = now
	d.mutex.Unlock()

	if err := d.ledger.Transfer(d.poolAddr, recipient, reward); err != nil {
		d.mutex.Lock()
		d.records = d.records[:len(d.records)-1]
		idx := d.byRecipient[recipient]
		d.byRecipient[recipient] = idx[:len(idx)-1]
		d.totalEarned[recipient] -= reward
		if hadLast {
			d.lastRewardAt[recipient] = prevLast
		} else {
			delete(d.lastRewardAt, recipient)
		}
		d.mutex.Unlock()
		return 0, pkgerrors.Wrap(ErrTokenTransferFailed, err.Error())
	}

	d.log.Info().
		Str("recipient", recipient).
		Uint64("reward", reward).
		Str("reason", reason).
		Msg("reward distributed")
	d.events.Emit(events.TypeRewardDistributed, map[string]string{
		events.AttrRecipient: recipient,
		events.AttrAmount:    strconv.FormatUint(reward, 10),
		events.AttrReason:    reason,
	})
	return reward, nil
}

// TotalEarned returns the cumulative rewards credited to the recipient
func (d *Distributor) TotalEarned(recipient string) uint64 {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.totalEarned[recipient]
}

// LastRewardAt returns when the recipient was last rewarded
func (d *Distributor) LastRewardAt(recipient string) (time.Time, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	ts, ok := d.lastRewardAt[recipient]
	return ts, ok
}

// Records returns the recipient's reward ledger entries via the index,
// never by scanning the full ledger.
func (d *Distributor) Records(recipient string) []Record {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	idx := d.byRecipient[recipient]
	out := make([]Record, 0, len(idx))
	for _, i := range idx {
		out = append(out, d.records[i])
	}
	return out
}
