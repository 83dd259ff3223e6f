package rewards

import (
	"errors"
	"math"
	"math/bits"
)

const bpsDenominator uint64 = 10000

// participationBonusThresholdBps: bonuses kick in strictly above 20% turnout
const participationBonusThresholdBps uint64 = 2000

// qualityThresholdBps: the quality multiplier applies strictly above 75% approval
const qualityThresholdBps uint64 = 7500

// ErrInvalidConfig indicates a reward configuration outside the bps domain
var ErrInvalidConfig = errors.New("invalid reward configuration")

// Config is the tunable reward formula. Bonus percentages live in
// 0..10000; multipliers may exceed 10000 to express >1x.
type Config struct {
	BaseReward              uint64 `json:"base_reward"`
	ParticipationBonusBps   uint64 `json:"participation_bonus_bps"`
	QualityMultiplierBps    uint64 `json:"quality_multiplier_bps"`
	PrivilegedMultiplierBps uint64 `json:"privileged_multiplier_bps"`
	RewardCap               uint64 `json:"reward_cap"`
}

// Validate checks the bps domains
func (c Config) Validate() error {
	if c.ParticipationBonusBps > bpsDenominator {
		return ErrInvalidConfig
	}
	return nil
}

// Compute derives a participant reward from vote statistics and recipient
// attributes. Pure: identical inputs always yield identical output.
// All divisions truncate toward zero; intermediates use 128-bit arithmetic
// and saturate, so extreme weights cannot wrap before the cap clamp.
func Compute(forVotes, againstVotes, totalSupply uint64, privileged bool, cfg Config) uint64 {
	reward := cfg.BaseReward

	totalVotes := satAdd(forVotes, againstVotes)
	if mulDivBps(totalVotes, bpsDenominator, totalSupply) > participationBonusThresholdBps {
		reward = satAdd(reward, mulDivBps(cfg.BaseReward, cfg.ParticipationBonusBps, bpsDenominator))
	}

	if forVotes > againstVotes && totalVotes > 0 &&
		mulDivBps(forVotes, bpsDenominator, totalVotes) > qualityThresholdBps {
		reward = mulDivBps(reward, cfg.QualityMultiplierBps, bpsDenominator)
	}

	if privileged {
		reward = mulDivBps(reward, cfg.PrivilegedMultiplierBps, bpsDenominator)
	}

	if reward > cfg.RewardCap {
		reward = cfg.RewardCap
	}
	return reward
}

// mulDivBps returns x*y/z with a 128-bit intermediate, zero when z is
// zero, saturating at the uint64 maximum when the quotient does not fit
func mulDivBps(x, y, z uint64) uint64 {
	if z == 0 {
		return 0
	}
	hi, lo := bits.Mul64(x, y)
	if hi >= z {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, z)
	return q
}

func satAdd(x, y uint64) uint64 {
	sum := x + y
	if sum < x {
		return math.MaxUint64
	}
	return sum
}
