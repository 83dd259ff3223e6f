package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janteras/d-loop-sub002/pkg/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.APIPort)
	assert.Equal(t, uint64(100), cfg.Rewards.BaseReward)
	assert.Equal(t, uint64(2000), cfg.Rewards.ParticipationBonusBps)
	assert.Equal(t, uint64(15000), cfg.Rewards.QualityMultiplierBps)
	assert.Equal(t, uint64(12000), cfg.Rewards.PrivilegedMultiplierBps)
	assert.Equal(t, uint64(500), cfg.Rewards.RewardCap)
	assert.Equal(t, 24*time.Hour, cfg.Rewards.Cooldown())
	assert.Equal(t, uint64(1000), cfg.Governance.QuorumBps)
	assert.Equal(t, uint64(7000), cfg.Fees.TreasuryShareBps)
	assert.Equal(t, uint64(3000), cfg.Fees.RewardShareBps)
	assert.NotEmpty(t, cfg.GenesisAdmin)
	assert.NotEmpty(t, cfg.TreasuryAddress)

	// genesis supply must be nonzero or no proposal could ever meet quorum
	assert.Equal(t, map[string]uint64{"admin": 1_000_000}, cfg.Genesis.Balances)
	assert.Equal(t, uint64(1_000_000), cfg.Genesis.RewardPoolBalance)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_port: 9090
genesis_admin: deployer
rewards:
  base_reward: 250
governance:
  quorum_bps: 2000
genesis:
  reward_pool_balance: 5000
  balances:
    deployer: 750000
    team: 250000
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.APIPort)
	assert.Equal(t, "deployer", cfg.GenesisAdmin)
	assert.Equal(t, uint64(250), cfg.Rewards.BaseReward)
	assert.Equal(t, uint64(2000), cfg.Governance.QuorumBps)

	assert.Equal(t, uint64(750_000), cfg.Genesis.Balances["deployer"])
	assert.Equal(t, uint64(250_000), cfg.Genesis.Balances["team"])
	assert.Equal(t, uint64(5000), cfg.Genesis.RewardPoolBalance)

	// untouched keys keep their defaults
	assert.Equal(t, uint64(500), cfg.Rewards.RewardCap)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
