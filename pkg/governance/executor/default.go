package executor

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"github.com/janteras/d-loop-sub002/pkg/fees"
	"github.com/janteras/d-loop-sub002/pkg/governance"
	"github.com/janteras/d-loop-sub002/pkg/nodes"
	"github.com/janteras/d-loop-sub002/pkg/pricefeed"
	"github.com/janteras/d-loop-sub002/pkg/rewards"
	"github.com/janteras/d-loop-sub002/pkg/treasury"
)

// allowedActions maps each proposal kind to the action kinds it may carry
var allowedActions = map[governance.ProposalKind]map[governance.ActionKind]bool{
	governance.KindParameterChange: {
		governance.ActionSetParam:           true,
		governance.ActionSetFeeRate:         true,
		governance.ActionUpdateRewardConfig: true,
	},
	governance.KindTokenAllocation: {
		governance.ActionTransferFunds:      true,
		governance.ActionUpdateRewardConfig: true,
	},
	governance.KindInvestment: {
		governance.ActionTransferFunds: true,
	},
	governance.KindDivestment: {
		governance.ActionTransferFunds: true,
	},
	governance.KindNodeRegistration: {
		governance.ActionRegisterNode: true,
	},
	governance.KindNodeDeregistration: {
		governance.ActionRemoveNode: true,
	},
}

// Default implements governance.ActionExecutor. Execution runs in two
// phases: every action is checked first, then applied; fund transfers go
// last through the treasury's all-or-nothing batch, so a refused transfer
// unwinds the already applied actions and nothing partial survives.
type Default struct {
	nodes    *nodes.Manager
	treasury *treasury.Treasury
	feeCalc  *fees.Calculator
	rewards  *rewards.Distributor
	params   *governance.Params
	feed     pricefeed.Feed
	// maxQuoteAge bounds how stale an asset quote may be before an
	// investment or divestment transfer is refused
	maxQuoteAge time.Duration
	// operator is the identity the executor acts under; it must hold the
	// treasurer and admin roles
	operator string
	log      zerolog.Logger
	now      func() time.Time
}

// New creates the default action executor
func New(
	nodeManager *nodes.Manager,
	custody *treasury.Treasury,
	feeCalc *fees.Calculator,
	distributor *rewards.Distributor,
	params *governance.Params,
	feed pricefeed.Feed,
	maxQuoteAge time.Duration,
	operator string,
	log zerolog.Logger,
) *Default {
	return &Default{
		nodes:       nodeManager,
		treasury:    custody,
		feeCalc:     feeCalc,
		rewards:     distributor,
		params:      params,
		feed:        feed,
		maxQuoteAge: maxQuoteAge,
		operator:    operator,
		log:         log,
		now:         time.Now,
	}
}

// Validate checks kind/action compatibility and parameter shape at
// proposal creation time.
func (e *Default) Validate(proposal *governance.Proposal) error {
	allowed, known := allowedActions[proposal.Kind]
	if !known {
		return fmt.Errorf("unknown proposal kind: %s", proposal.Kind)
	}
	for i, action := range proposal.Actions {
		if !allowed[action.Kind] {
			return fmt.Errorf("action %d: kind %s not permitted on a %s proposal", i, action.Kind, proposal.Kind)
		}
		if err := e.validateAction(proposal.Kind, action); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}

// Execute dispatches every action atomically
func (e *Default) Execute(proposal *governance.Proposal) error {
	if err := e.Validate(proposal); err != nil {
		return err
	}

	// check phase: anything that can be refused is refused here, before
	// any effect is applied
	var transferTokens []string
	var transferRecipients []string
	var transferAmounts []uint64
	required := make(map[string]uint64)
	for _, action := range proposal.Actions {
		if action.Kind != governance.ActionTransferFunds {
			continue
		}
		tok := action.Params["token"]
		if proposal.Kind == governance.KindInvestment || proposal.Kind == governance.KindDivestment {
			if err := e.checkQuote(action.Params["asset"]); err != nil {
				return err
			}
		}
		required[tok] += action.Value
		transferTokens = append(transferTokens, tok)
		transferRecipients = append(transferRecipients, action.Target)
		transferAmounts = append(transferAmounts, action.Value)
	}
	for tok, total := range required {
		if e.treasury.Balance(tok) < total {
			return treasury.ErrInsufficientFunds
		}
	}
	for _, action := range proposal.Actions {
		if err := e.checkAction(action); err != nil {
			return err
		}
	}

	// apply phase: silent undoable steps first, then the all-or-nothing
	// transfer batch; a refused batch unwinds the applied steps
	var undo []func()
	unwind := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}
	for _, action := range proposal.Actions {
		switch action.Kind {
		case governance.ActionSetParam:
			restore, err := e.params.Set(action.Params["name"], action.Params["value"])
			if err != nil {
				unwind()
				return err
			}
			undo = append(undo, restore)
		case governance.ActionRegisterNode:
			addr := action.Target
			if _, err := e.nodes.Register(addr, action.Value, cast.ToInt64(action.Params["reputation"])); err != nil {
				unwind()
				return err
			}
			undo = append(undo, func() {
				if err := e.nodes.Remove(addr); err != nil {
					e.log.Error().Err(err).Str("node", addr).Msg("failed to unwind node registration")
				}
			})
		case governance.ActionRemoveNode:
			addr := action.Target
			prev, err := e.nodes.Get(addr)
			if err != nil {
				unwind()
				return err
			}
			if err := e.nodes.Remove(addr); err != nil {
				unwind()
				return err
			}
			undo = append(undo, func() {
				if _, err := e.nodes.Register(prev.Address, prev.Staked, prev.Reputation); err != nil {
					e.log.Error().Err(err).Str("node", addr).Msg("failed to unwind node removal")
				}
			})
		}
	}

	if len(transferTokens) > 0 {
		if err := e.treasury.BatchTransfer(transferTokens, transferRecipients, transferAmounts, e.operator); err != nil {
			unwind()
			return err
		}
	}

	// config steps were fully validated in the check phase and the
	// operator holds the admin role, so these cannot be refused
	for _, action := range proposal.Actions {
		switch action.Kind {
		case governance.ActionSetFeeRate:
			kind := fees.OperationKind(action.Params["kind"])
			if err := e.feeCalc.SetRate(kind, cast.ToUint64(action.Params["bps"]), e.operator); err != nil {
				return err
			}
		case governance.ActionUpdateRewardConfig:
			cfg := rewardConfigFromParams(action.Params, e.rewards.Config())
			if err := e.rewards.UpdateConfig(cfg, e.operator); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Default) validateAction(kind governance.ProposalKind, action governance.Action) error {
	switch action.Kind {
	case governance.ActionTransferFunds:
		if action.Params["token"] == "" {
			return fmt.Errorf("transfer requires a token parameter")
		}
		if kind == governance.KindInvestment || kind == governance.KindDivestment {
			if action.Params["asset"] == "" {
				return fmt.Errorf("%s transfer requires an asset parameter", kind)
			}
		}
	case governance.ActionSetParam:
		return e.params.Validate(action.Params["name"], action.Params["value"])
	case governance.ActionSetFeeRate:
		switch fees.OperationKind(action.Params["kind"]) {
		case fees.OpInvest, fees.OpDivest, fees.OpEmergencyExit:
		default:
			return fmt.Errorf("unknown fee operation kind: %s", action.Params["kind"])
		}
		bps, err := cast.ToUint64E(action.Params["bps"])
		if err != nil {
			return fmt.Errorf("fee rate requires an integer bps value, got %q", action.Params["bps"])
		}
		if bps > fees.MaxFeeBps {
			return fees.ErrExcessiveFeeSetting
		}
	case governance.ActionUpdateRewardConfig:
		for _, key := range []string{"base_reward", "participation_bonus_bps", "quality_multiplier_bps", "privileged_multiplier_bps", "reward_cap"} {
			if raw, ok := action.Params[key]; ok {
				if _, err := cast.ToUint64E(raw); err != nil {
					return fmt.Errorf("reward config %s requires an integer value, got %q", key, raw)
				}
			}
		}
		if err := rewardConfigFromParams(action.Params, e.rewards.Config()).Validate(); err != nil {
			return err
		}
	case governance.ActionRegisterNode:
		if raw, ok := action.Params["reputation"]; ok {
			if _, err := cast.ToInt64E(raw); err != nil {
				return fmt.Errorf("node reputation requires an integer value, got %q", raw)
			}
		}
	case governance.ActionRemoveNode:
	default:
		return fmt.Errorf("unknown action kind: %s", action.Kind)
	}
	return nil
}

// checkAction re-verifies state-dependent preconditions at execution time
func (e *Default) checkAction(action governance.Action) error {
	switch action.Kind {
	case governance.ActionRegisterNode:
		if e.nodes.IsRegistered(action.Target) {
			return nodes.ErrNodeExists
		}
	case governance.ActionRemoveNode:
		if !e.nodes.IsRegistered(action.Target) {
			return nodes.ErrNodeNotFound
		}
	case governance.ActionSetParam:
		return e.params.Validate(action.Params["name"], action.Params["value"])
	}
	return nil
}

func (e *Default) checkQuote(asset string) error {
	quote, err := e.feed.PriceOf(asset)
	if err != nil {
		return err
	}
	if e.now().Sub(quote.Timestamp) > e.maxQuoteAge {
		return fmt.Errorf("quote for %s is stale", asset)
	}
	return nil
}

// rewardConfigFromParams overlays the provided parameters onto the current
// reward configuration, leaving omitted fields untouched.
func rewardConfigFromParams(params map[string]string, current rewards.Config) rewards.Config {
	cfg := current
	if raw, ok := params["base_reward"]; ok {
		cfg.BaseReward = cast.ToUint64(raw)
	}
	if raw, ok := params["participation_bonus_bps"]; ok {
		cfg.ParticipationBonusBps = cast.ToUint64(raw)
	}
	if raw, ok := params["quality_multiplier_bps"]; ok {
		cfg.QualityMultiplierBps = cast.ToUint64(raw)
	}
	if raw, ok := params["privileged_multiplier_bps"]; ok {
		cfg.PrivilegedMultiplierBps = cast.ToUint64(raw)
	}
	if raw, ok := params["reward_cap"]; ok {
		cfg.RewardCap = cast.ToUint64(raw)
	}
	return cfg
}
