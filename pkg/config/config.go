package config

import (
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds every tunable of the engine. Values come from an optional
// YAML file, DLOOP_* environment variables, and built-in defaults, in that
// order of precedence.
type Config struct {
	APIPort int `mapstructure:"api_port"`

	GenesisAdmin    string `mapstructure:"genesis_admin"`
	TreasuryAddress string `mapstructure:"treasury_address"`
	RewardPool      string `mapstructure:"reward_pool"`
	ExecutorAddress string `mapstructure:"executor_address"`

	Governance GovernanceConfig `mapstructure:"governance"`
	Rewards    RewardsConfig    `mapstructure:"rewards"`
	Fees       FeesConfig       `mapstructure:"fees"`
	Nodes      NodesConfig      `mapstructure:"nodes"`
	Pricefeed  PricefeedConfig  `mapstructure:"pricefeed"`
	Genesis    GenesisConfig    `mapstructure:"genesis"`
}

// GenesisConfig seeds the in-memory ledgers at wiring time. Balances are
// minted on the value ledger and form the total supply that quorum is
// measured against; RewardPoolBalance funds the reward pool on the reward
// ledger so distributions have something to pay from.
type GenesisConfig struct {
	Balances          map[string]uint64 `mapstructure:"balances"`
	RewardPoolBalance uint64            `mapstructure:"reward_pool_balance"`
}

type GovernanceConfig struct {
	VotingPeriodSeconds    int64  `mapstructure:"voting_period_seconds"`
	QuorumBps              uint64 `mapstructure:"quorum_bps"`
	ExecutionDelaySeconds  int64  `mapstructure:"execution_delay_seconds"`
	ExecutionWindowSeconds int64  `mapstructure:"execution_window_seconds"`
}

type RewardsConfig struct {
	BaseReward              uint64 `mapstructure:"base_reward"`
	ParticipationBonusBps   uint64 `mapstructure:"participation_bonus_bps"`
	QualityMultiplierBps    uint64 `mapstructure:"quality_multiplier_bps"`
	PrivilegedMultiplierBps uint64 `mapstructure:"privileged_multiplier_bps"`
	RewardCap               uint64 `mapstructure:"reward_cap"`
	CooldownSeconds         int64  `mapstructure:"cooldown_seconds"`
}

type FeesConfig struct {
	InvestBps        uint64 `mapstructure:"invest_bps"`
	DivestBps        uint64 `mapstructure:"divest_bps"`
	EmergencyExitBps uint64 `mapstructure:"emergency_exit_bps"`
	TreasuryShareBps uint64 `mapstructure:"treasury_share_bps"`
	RewardShareBps   uint64 `mapstructure:"reward_share_bps"`
}

type NodesConfig struct {
	MinStake             uint64 `mapstructure:"min_stake"`
	PrivilegedReputation int64  `mapstructure:"privileged_reputation"`
}

type PricefeedConfig struct {
	MaxQuoteAgeSeconds int64 `mapstructure:"max_quote_age_seconds"`
}

func (c GovernanceConfig) VotingPeriod() time.Duration {
	return time.Duration(c.VotingPeriodSeconds) * time.Second
}

func (c GovernanceConfig) ExecutionDelay() time.Duration {
	return time.Duration(c.ExecutionDelaySeconds) * time.Second
}

func (c GovernanceConfig) ExecutionWindow() time.Duration {
	return time.Duration(c.ExecutionWindowSeconds) * time.Second
}

func (c RewardsConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

func (c PricefeedConfig) MaxQuoteAge() time.Duration {
	return time.Duration(c.MaxQuoteAgeSeconds) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_port", 8080)
	v.SetDefault("genesis_admin", "admin")
	v.SetDefault("treasury_address", "treasury")
	v.SetDefault("reward_pool", "reward-pool")
	v.SetDefault("executor_address", "executor")

	v.SetDefault("governance.voting_period_seconds", 7*24*3600)
	v.SetDefault("governance.quorum_bps", 1000)
	v.SetDefault("governance.execution_delay_seconds", 2*24*3600)
	v.SetDefault("governance.execution_window_seconds", 9*24*3600)

	v.SetDefault("rewards.base_reward", 100)
	v.SetDefault("rewards.participation_bonus_bps", 2000)
	v.SetDefault("rewards.quality_multiplier_bps", 15000)
	v.SetDefault("rewards.privileged_multiplier_bps", 12000)
	v.SetDefault("rewards.reward_cap", 500)
	v.SetDefault("rewards.cooldown_seconds", 86400)

	v.SetDefault("fees.invest_bps", 100)
	v.SetDefault("fees.divest_bps", 100)
	v.SetDefault("fees.emergency_exit_bps", 300)
	v.SetDefault("fees.treasury_share_bps", 7000)
	v.SetDefault("fees.reward_share_bps", 3000)

	v.SetDefault("nodes.min_stake", 1000)
	v.SetDefault("nodes.privileged_reputation", 100)

	v.SetDefault("pricefeed.max_quote_age_seconds", 3600)

	v.SetDefault("genesis.balances", map[string]uint64{"admin": 1_000_000})
	v.SetDefault("genesis.reward_pool_balance", 1_000_000)
}

// Load reads configuration from the optional file at path, overlaid by
// DLOOP_* environment variables, falling back to the built-in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DLOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, pkgerrors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to decode config")
	}
	return &cfg, nil
}
