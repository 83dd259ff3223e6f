package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janteras/d-loop-sub002/pkg/api"
	"github.com/janteras/d-loop-sub002/pkg/events"
	"github.com/janteras/d-loop-sub002/pkg/fees"
	"github.com/janteras/d-loop-sub002/pkg/governance"
	"github.com/janteras/d-loop-sub002/pkg/governance/executor"
	"github.com/janteras/d-loop-sub002/pkg/governance/store"
	"github.com/janteras/d-loop-sub002/pkg/nodes"
	"github.com/janteras/d-loop-sub002/pkg/pricefeed"
	"github.com/janteras/d-loop-sub002/pkg/rewards"
	"github.com/janteras/d-loop-sub002/pkg/roles"
	"github.com/janteras/d-loop-sub002/pkg/token"
	"github.com/janteras/d-loop-sub002/pkg/treasury"
)

const (
	admin    = "admin"
	operator = "executor"
)

func newServer(t *testing.T) (*api.Server, *token.System) {
	log := zerolog.Nop()
	recorder := events.NewRecorder(log)
	registry := roles.NewRegistry(admin, recorder)
	for _, role := range []roles.Role{roles.RoleAdmin, roles.RoleTreasurer, roles.RoleDistributor} {
		require.NoError(t, registry.Grant(role, operator, admin))
	}
	require.NoError(t, registry.Grant(roles.RoleProposer, "alice", admin))

	valueLedger := token.NewSystem()
	valueLedger.Mint("holder1", 1_000_000)

	nodeManager := nodes.NewManager(1000, 100)
	feed := pricefeed.NewStatic()
	custody := treasury.New("treasury", registry, recorder, log)
	custody.RegisterLedger("dloop", valueLedger)

	feeCalc, err := fees.NewCalculator(map[fees.OperationKind]uint64{fees.OpInvest: 100}, registry, recorder)
	require.NoError(t, err)
	feeProc, err := fees.NewProcessor(feeCalc, registry, recorder, log, "treasury", "reward-pool", 7000, 3000)
	require.NoError(t, err)

	distributor, err := rewards.NewDistributor(registry, nodeManager, valueLedger, recorder, log,
		"reward-pool", time.Hour, rewards.Config{BaseReward: 100, ParticipationBonusBps: 2000,
			QualityMultiplierBps: 15000, PrivilegedMultiplierBps: 12000, RewardCap: 500})
	require.NoError(t, err)

	params := governance.NewParams(time.Hour, 1000, time.Hour, 2*time.Hour)
	dispatcher := executor.New(nodeManager, custody, feeCalc, distributor, params, feed, time.Hour, operator, log)
	gov := governance.NewService(store.NewMemoryStore(), registry, valueLedger, dispatcher, recorder, params, log)

	return api.NewServer(gov, distributor, feeCalc, feeProc, custody, registry,
		nodeManager, feed, valueLedger, recorder, 0, log), valueLedger
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	server, _ := newServer(t)
	rec := doJSON(t, server.Handler(), http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProposalEndpoints(t *testing.T) {
	server, _ := newServer(t)
	handler := server.Handler()

	create := map[string]interface{}{
		"kind": "token_allocation",
		"actions": []map[string]interface{}{{
			"kind":   "transfer_funds",
			"target": "grantee",
			"value":  100,
			"params": map[string]string{"token": "dloop"},
		}},
		"description": "fund the grantee",
		"caller":      "alice",
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/proposals", create)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		ID uint64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, uint64(1), created.ID)

	t.Run("vote", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/proposals/%d/vote", created.ID),
			map[string]interface{}{"support": true, "weight": 200_000, "caller": "holder1"})
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("double vote maps to conflict", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/proposals/%d/vote", created.ID),
			map[string]interface{}{"support": true, "weight": 1, "caller": "holder1"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("get reflects the tally", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodGet, fmt.Sprintf("/api/proposals/%d", created.ID), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var proposal governance.Proposal
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &proposal))
		assert.Equal(t, uint64(200_000), proposal.ForVotes)
	})

	t.Run("unknown proposal maps to not found", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodGet, "/api/proposals/99", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unauthorized creation maps to forbidden", func(t *testing.T) {
		bad := map[string]interface{}{}
		for k, v := range create {
			bad[k] = v
		}
		bad["caller"] = "mallory"
		rec := doJSON(t, handler, http.MethodPost, "/api/proposals", bad)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("deciding before the deadline maps to conflict", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/proposals/%d/decide", created.ID), nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("events were recorded", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodGet, "/api/events?type=vote_cast", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var evs []events.Event
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evs))
		assert.Len(t, evs, 1)
	})
}

func TestRewardAndRoleEndpoints(t *testing.T) {
	server, ledger := newServer(t)
	handler := server.Handler()
	ledger.Mint("reward-pool", 10_000)

	t.Run("distribute", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/api/rewards/distribute", map[string]interface{}{
			"recipient": "alice", "for_votes": 300_000, "against_votes": 50_000,
			"total_supply": 1_000_000, "reason": "proposal 1", "caller": operator,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp map[string]uint64
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, uint64(180), resp["amount"])
	})

	t.Run("cooldown maps to conflict", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/api/rewards/distribute", map[string]interface{}{
			"recipient": "alice", "for_votes": 300_000, "against_votes": 50_000,
			"total_supply": 1_000_000, "caller": operator,
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("update reward config", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPut, "/api/rewards/config", map[string]interface{}{
			"config": rewards.Config{BaseReward: 200, ParticipationBonusBps: 2000,
				QualityMultiplierBps: 15000, PrivilegedMultiplierBps: 12000, RewardCap: 800},
			"caller": admin,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = doJSON(t, handler, http.MethodGet, "/api/rewards/config", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var cfg rewards.Config
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
		assert.Equal(t, uint64(200), cfg.BaseReward)
	})

	t.Run("unauthorized config update maps to forbidden", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPut, "/api/rewards/config", map[string]interface{}{
			"config": rewards.Config{BaseReward: 1}, "caller": "mallory",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("grant and query a role", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/api/roles/grant",
			map[string]string{"role": "proposer", "identity": "bob", "caller": admin})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, handler, http.MethodGet, "/api/roles/proposer/members", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var members []string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &members))
		assert.Contains(t, members, "bob")
	})

	t.Run("has role", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodGet, "/api/roles/proposer/has/alice", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]bool
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp["has_role"])

		rec = doJSON(t, handler, http.MethodGet, "/api/roles/proposer/has/mallory", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp["has_role"])
	})
}

func TestFeeEndpoints(t *testing.T) {
	server, _ := newServer(t)
	handler := server.Handler()

	t.Run("set then read a rate", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPut, "/api/fees/rates/invest",
			map[string]interface{}{"bps": 250, "caller": admin})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = doJSON(t, handler, http.MethodGet, "/api/fees/rates/invest", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]uint64
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, uint64(250), resp["bps"])
	})

	t.Run("unauthorized rate change maps to forbidden", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPut, "/api/fees/rates/invest",
			map[string]interface{}{"bps": 250, "caller": "mallory"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("set then read the split", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPut, "/api/fees/split",
			map[string]interface{}{"treasury_bps": 6000, "reward_bps": 4000, "caller": admin})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = doJSON(t, handler, http.MethodGet, "/api/fees/split", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]uint64
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, uint64(6000), resp["treasury_bps"])
		assert.Equal(t, uint64(4000), resp["reward_bps"])
	})

	t.Run("mismatched split is rejected", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPut, "/api/fees/split",
			map[string]interface{}{"treasury_bps": 6000, "reward_bps": 3000, "caller": admin})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTreasuryEndpoints(t *testing.T) {
	server, _ := newServer(t)
	handler := server.Handler()

	t.Run("approve then receive", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/api/balances/approve",
			map[string]interface{}{"owner": "holder1", "spender": "treasury", "amount": 50_000})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = doJSON(t, handler, http.MethodPost, "/api/treasury/receive",
			map[string]interface{}{"token": "dloop", "amount": 50_000, "from": "holder1", "caller": operator})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = doJSON(t, handler, http.MethodGet, "/api/treasury/dloop/balance", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]uint64
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, uint64(50_000), resp["balance"])
	})

	t.Run("batch transfer", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/api/treasury/batch", map[string]interface{}{
			"tokens":     []string{"dloop", "dloop"},
			"recipients": []string{"grantee1", "grantee2"},
			"amounts":    []uint64{1_000, 2_000},
			"caller":     operator,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = doJSON(t, handler, http.MethodGet, "/api/balances/grantee2", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]uint64
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, uint64(2_000), resp["balance"])
	})

	t.Run("batch exceeding custody maps to conflict", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/api/treasury/batch", map[string]interface{}{
			"tokens":     []string{"dloop"},
			"recipients": []string{"grantee1"},
			"amounts":    []uint64{10_000_000},
			"caller":     operator,
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unauthorized batch maps to forbidden", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/api/treasury/batch", map[string]interface{}{
			"tokens":     []string{"dloop"},
			"recipients": []string{"grantee1"},
			"amounts":    []uint64{1},
			"caller":     "mallory",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestNodeEndpoints(t *testing.T) {
	server, _ := newServer(t)
	handler := server.Handler()

	t.Run("register then get", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/api/nodes",
			map[string]interface{}{"address": "node1", "stake": 5_000, "reputation": 10})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		rec = doJSON(t, handler, http.MethodGet, "/api/nodes/node1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var node nodes.Node
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &node))
		assert.Equal(t, uint64(5_000), node.Staked)
	})

	t.Run("duplicate registration maps to conflict", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/api/nodes",
			map[string]interface{}{"address": "node1", "stake": 5_000, "reputation": 10})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}
