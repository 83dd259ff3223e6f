package executor_test

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janteras/d-loop-sub002/pkg/events"
	"github.com/janteras/d-loop-sub002/pkg/fees"
	"github.com/janteras/d-loop-sub002/pkg/governance"
	"github.com/janteras/d-loop-sub002/pkg/governance/executor"
	"github.com/janteras/d-loop-sub002/pkg/nodes"
	"github.com/janteras/d-loop-sub002/pkg/pricefeed"
	"github.com/janteras/d-loop-sub002/pkg/rewards"
	"github.com/janteras/d-loop-sub002/pkg/roles"
	"github.com/janteras/d-loop-sub002/pkg/token"
	"github.com/janteras/d-loop-sub002/pkg/treasury"
)

const (
	admin        = "admin"
	operator     = "executor"
	treasuryAddr = "treasury"
	valueToken   = "dloop"
)

// blockingLedger refuses transfers to one recipient
type blockingLedger struct {
	*token.System
	blocked string
}

func (l *blockingLedger) Transfer(from, to string, amount uint64) error {
	if to == l.blocked {
		return errors.New("ledger refused")
	}
	return l.System.Transfer(from, to, amount)
}

type fixture struct {
	exec     *executor.Default
	nodes    *nodes.Manager
	custody  *treasury.Treasury
	feeCalc  *fees.Calculator
	rewards  *rewards.Distributor
	params   *governance.Params
	feed     *pricefeed.Static
	ledger   *token.System
}

func newFixture(t *testing.T, ledger token.Ledger, funded uint64) *fixture {
	recorder := events.NewRecorder(zerolog.Nop())
	registry := roles.NewRegistry(admin, recorder)
	for _, role := range []roles.Role{roles.RoleAdmin, roles.RoleTreasurer, roles.RoleDistributor} {
		require.NoError(t, registry.Grant(role, operator, admin))
	}

	var system *token.System
	switch l := ledger.(type) {
	case *token.System:
		system = l
	case *blockingLedger:
		system = l.System
	}

	nodeManager := nodes.NewManager(1000, 100)
	feed := pricefeed.NewStatic()

	custody := treasury.New(treasuryAddr, registry, recorder, zerolog.Nop())
	custody.RegisterLedger(valueToken, ledger)
	if funded > 0 {
		system.Mint("funder", funded)
		require.NoError(t, ledger.Approve("funder", treasuryAddr, funded))
		require.NoError(t, custody.Receive(valueToken, funded, "funder", operator))
	}

	feeCalc, err := fees.NewCalculator(map[fees.OperationKind]uint64{
		fees.OpInvest: 100,
		fees.OpDivest: 100,
	}, registry, recorder)
	require.NoError(t, err)

	distributor, err := rewards.NewDistributor(registry, nodeManager, ledger, recorder, zerolog.Nop(),
		"reward-pool", time.Hour, rewards.Config{
			BaseReward:              100,
			ParticipationBonusBps:   2000,
			QualityMultiplierBps:    15000,
			PrivilegedMultiplierBps: 12000,
			RewardCap:               500,
		})
	require.NoError(t, err)

	params := governance.NewParams(time.Hour, 1000, time.Hour, 2*time.Hour)
	exec := executor.New(nodeManager, custody, feeCalc, distributor, params, feed,
		time.Hour, operator, zerolog.Nop())
	return &fixture{
		exec:    exec,
		nodes:   nodeManager,
		custody: custody,
		feeCalc: feeCalc,
		rewards: distributor,
		params:  params,
		feed:    feed,
		ledger:  system,
	}
}

func proposal(kind governance.ProposalKind, actions ...governance.Action) *governance.Proposal {
	return &governance.Proposal{ID: 1, Kind: kind, Actions: actions}
}

func TestValidate(t *testing.T) {
	f := newFixture(t, token.NewSystem(), 0)

	specs := map[string]struct {
		proposal *governance.Proposal
		ok       bool
	}{
		"transfer on a token allocation": {
			proposal: proposal(governance.KindTokenAllocation, governance.Action{
				Kind: governance.ActionTransferFunds, Target: "grantee", Value: 100,
				Params: map[string]string{"token": valueToken},
			}),
			ok: true,
		},
		"transfer on a parameter change": {
			proposal: proposal(governance.KindParameterChange, governance.Action{
				Kind: governance.ActionTransferFunds, Target: "grantee", Value: 100,
				Params: map[string]string{"token": valueToken},
			}),
		},
		"transfer without a token parameter": {
			proposal: proposal(governance.KindTokenAllocation, governance.Action{
				Kind: governance.ActionTransferFunds, Target: "grantee", Value: 100,
			}),
		},
		"investment transfer without an asset": {
			proposal: proposal(governance.KindInvestment, governance.Action{
				Kind: governance.ActionTransferFunds, Target: "venture", Value: 100,
				Params: map[string]string{"token": valueToken},
			}),
		},
		"unknown runtime parameter": {
			proposal: proposal(governance.KindParameterChange, governance.Action{
				Kind:   governance.ActionSetParam,
				Params: map[string]string{"name": "block_size", "value": "42"},
			}),
		},
		"valid runtime parameter": {
			proposal: proposal(governance.KindParameterChange, governance.Action{
				Kind:   governance.ActionSetParam,
				Params: map[string]string{"name": governance.ParamQuorumBps, "value": "1500"},
			}),
			ok: true,
		},
		"fee rate above the maximum": {
			proposal: proposal(governance.KindParameterChange, governance.Action{
				Kind:   governance.ActionSetFeeRate,
				Params: map[string]string{"kind": "invest", "bps": "5001"},
			}),
		},
		"non-numeric fee rate": {
			proposal: proposal(governance.KindParameterChange, governance.Action{
				Kind:   governance.ActionSetFeeRate,
				Params: map[string]string{"kind": "invest", "bps": "lots"},
			}),
		},
		"reward config out of the bps domain": {
			proposal: proposal(governance.KindParameterChange, governance.Action{
				Kind:   governance.ActionUpdateRewardConfig,
				Params: map[string]string{"participation_bonus_bps": "20000"},
			}),
		},
	}
	for name, spec := range specs {
		t.Run(name, func(t *testing.T) {
			err := f.exec.Validate(spec.proposal)
			if spec.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestExecuteParameterChange(t *testing.T) {
	f := newFixture(t, token.NewSystem(), 0)

	p := proposal(governance.KindParameterChange,
		governance.Action{
			Kind:   governance.ActionSetParam,
			Params: map[string]string{"name": governance.ParamQuorumBps, "value": "2500"},
		},
		governance.Action{
			Kind:   governance.ActionSetFeeRate,
			Params: map[string]string{"kind": "invest", "bps": "200"},
		},
		governance.Action{
			Kind:   governance.ActionUpdateRewardConfig,
			Params: map[string]string{"base_reward": "150"},
		},
	)
	require.NoError(t, f.exec.Execute(p))

	assert.Equal(t, uint64(2500), f.params.QuorumBps())
	rate, err := f.feeCalc.Rate(fees.OpInvest)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), rate)
	assert.Equal(t, uint64(150), f.rewards.Config().BaseReward)
	// omitted reward fields keep their current values
	assert.Equal(t, uint64(500), f.rewards.Config().RewardCap)
}

func TestExecuteTokenAllocation(t *testing.T) {
	f := newFixture(t, token.NewSystem(), 10_000)

	p := proposal(governance.KindTokenAllocation,
		governance.Action{
			Kind: governance.ActionTransferFunds, Target: "grantee1", Value: 3_000,
			Params: map[string]string{"token": valueToken},
		},
		governance.Action{
			Kind: governance.ActionTransferFunds, Target: "grantee2", Value: 2_000,
			Params: map[string]string{"token": valueToken},
		},
	)
	require.NoError(t, f.exec.Execute(p))

	assert.Equal(t, uint64(3_000), f.ledger.BalanceOf("grantee1"))
	assert.Equal(t, uint64(2_000), f.ledger.BalanceOf("grantee2"))
	assert.Equal(t, uint64(5_000), f.custody.Balance(valueToken))
}

func TestExecuteInsufficientFunds(t *testing.T) {
	f := newFixture(t, token.NewSystem(), 1_000)

	p := proposal(governance.KindTokenAllocation, governance.Action{
		Kind: governance.ActionTransferFunds, Target: "grantee", Value: 2_000,
		Params: map[string]string{"token": valueToken},
	})
	assert.ErrorIs(t, f.exec.Execute(p), treasury.ErrInsufficientFunds)
	assert.Zero(t, f.ledger.BalanceOf("grantee"))
}

func TestExecuteNodeLifecycle(t *testing.T) {
	f := newFixture(t, token.NewSystem(), 0)

	register := proposal(governance.KindNodeRegistration, governance.Action{
		Kind: governance.ActionRegisterNode, Target: "node1", Value: 1_500,
		Params: map[string]string{"reputation": "50"},
	})
	require.NoError(t, f.exec.Execute(register))
	node, err := f.nodes.Get("node1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500), node.Staked)
	assert.Equal(t, int64(50), node.Reputation)

	t.Run("registering an existing node fails", func(t *testing.T) {
		assert.ErrorIs(t, f.exec.Execute(register), nodes.ErrNodeExists)
	})

	deregister := proposal(governance.KindNodeDeregistration, governance.Action{
		Kind: governance.ActionRemoveNode, Target: "node1",
	})
	require.NoError(t, f.exec.Execute(deregister))
	assert.False(t, f.nodes.IsRegistered("node1"))

	t.Run("removing an unknown node fails", func(t *testing.T) {
		assert.ErrorIs(t, f.exec.Execute(deregister), nodes.ErrNodeNotFound)
	})
}

func TestExecuteInvestmentQuote(t *testing.T) {
	f := newFixture(t, token.NewSystem(), 10_000)

	p := proposal(governance.KindInvestment, governance.Action{
		Kind: governance.ActionTransferFunds, Target: "venture", Value: 1_000,
		Params: map[string]string{"token": valueToken, "asset": "VENT"},
	})

	t.Run("missing quote", func(t *testing.T) {
		assert.ErrorIs(t, f.exec.Execute(p), pricefeed.ErrUnknownAsset)
	})

	t.Run("stale quote", func(t *testing.T) {
		f.feed.Set("VENT", 42, 6, time.Now().Add(-2*time.Hour))
		assert.Error(t, f.exec.Execute(p))
		assert.Zero(t, f.ledger.BalanceOf("venture"))
	})

	t.Run("fresh quote clears", func(t *testing.T) {
		f.feed.Set("VENT", 42, 6, time.Now())
		assert.NoError(t, f.exec.Execute(p))
		assert.Equal(t, uint64(1_000), f.ledger.BalanceOf("venture"))
	})
}

func TestExecuteUnwindsOnRefusedTransfer(t *testing.T) {
	ledger := &blockingLedger{System: token.NewSystem(), blocked: "grantee"}
	f := newFixture(t, ledger, 10_000)

	p := proposal(governance.KindTokenAllocation,
		governance.Action{
			Kind:   governance.ActionUpdateRewardConfig,
			Params: map[string]string{"base_reward": "999"},
		},
		governance.Action{
			Kind: governance.ActionTransferFunds, Target: "grantee", Value: 1_000,
			Params: map[string]string{"token": valueToken},
		},
	)
	assert.Error(t, f.exec.Execute(p))

	// nothing moved and no config step was applied
	assert.Zero(t, f.ledger.BalanceOf("grantee"))
	assert.Equal(t, uint64(10_000), f.custody.Balance(valueToken))
	assert.Equal(t, uint64(100), f.rewards.Config().BaseReward)
}
