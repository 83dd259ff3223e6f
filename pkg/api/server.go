package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/janteras/d-loop-sub002/pkg/events"
	"github.com/janteras/d-loop-sub002/pkg/fees"
	"github.com/janteras/d-loop-sub002/pkg/governance"
	"github.com/janteras/d-loop-sub002/pkg/nodes"
	"github.com/janteras/d-loop-sub002/pkg/pricefeed"
	"github.com/janteras/d-loop-sub002/pkg/rewards"
	"github.com/janteras/d-loop-sub002/pkg/roles"
	"github.com/janteras/d-loop-sub002/pkg/token"
	"github.com/janteras/d-loop-sub002/pkg/treasury"
)

// Server exposes the engine over HTTP
type Server struct {
	governance  *governance.Service
	rewards     *rewards.Distributor
	feeCalc     *fees.Calculator
	feeProc     *fees.Processor
	treasury    *treasury.Treasury
	roles       *roles.Registry
	nodes       *nodes.Manager
	feed        pricefeed.Feed
	valueLedger token.Ledger
	events      *events.Recorder

	port   int
	router *mux.Router
	server *http.Server
	log    zerolog.Logger
}

// NewServer creates a new API server instance
func NewServer(
	gov *governance.Service,
	distributor *rewards.Distributor,
	feeCalc *fees.Calculator,
	feeProc *fees.Processor,
	custody *treasury.Treasury,
	registry *roles.Registry,
	nodeManager *nodes.Manager,
	feed pricefeed.Feed,
	valueLedger token.Ledger,
	recorder *events.Recorder,
	port int,
	log zerolog.Logger,
) *Server {
	s := &Server{
		governance:  gov,
		rewards:     distributor,
		feeCalc:     feeCalc,
		feeProc:     feeProc,
		treasury:    custody,
		roles:       registry,
		nodes:       nodeManager,
		feed:        feed,
		valueLedger: valueLedger,
		events:      recorder,
		port:        port,
		log:         log,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	s.router.HandleFunc("/api/health", s.getHealth).Methods("GET")

	// Governance routes
	s.router.HandleFunc("/api/proposals", s.createProposal).Methods("POST")
	s.router.HandleFunc("/api/proposals", s.listProposals).Methods("GET")
	s.router.HandleFunc("/api/proposals/{id}", s.getProposal).Methods("GET")
	s.router.HandleFunc("/api/proposals/{id}/vote", s.castVote).Methods("POST")
	s.router.HandleFunc("/api/proposals/{id}/decide", s.decideProposal).Methods("POST")
	s.router.HandleFunc("/api/proposals/{id}/execute", s.executeProposal).Methods("POST")
	s.router.HandleFunc("/api/proposals/{id}/cancel", s.cancelProposal).Methods("POST")
	s.router.HandleFunc("/api/proposals/{id}/expire", s.expireProposal).Methods("POST")
	s.router.HandleFunc("/api/proposals/{id}/votes", s.listVotes).Methods("GET")

	// Reward routes
	s.router.HandleFunc("/api/rewards/distribute", s.distributeReward).Methods("POST")
	s.router.HandleFunc("/api/rewards/config", s.getRewardConfig).Methods("GET")
	s.router.HandleFunc("/api/rewards/config", s.updateRewardConfig).Methods("PUT")
	s.router.HandleFunc("/api/rewards/{recipient}", s.getRewardHistory).Methods("GET")

	// Fee routes
	s.router.HandleFunc("/api/fees/collect", s.collectFee).Methods("POST")
	s.router.HandleFunc("/api/fees/rates/{kind}", s.getFeeRate).Methods("GET")
	s.router.HandleFunc("/api/fees/rates/{kind}", s.setFeeRate).Methods("PUT")
	s.router.HandleFunc("/api/fees/split", s.getFeeSplit).Methods("GET")
	s.router.HandleFunc("/api/fees/split", s.setFeeSplit).Methods("PUT")

	// Treasury routes
	s.router.HandleFunc("/api/treasury/{token}/balance", s.getTreasuryBalance).Methods("GET")
	s.router.HandleFunc("/api/treasury/receive", s.treasuryReceive).Methods("POST")
	s.router.HandleFunc("/api/treasury/withdraw", s.treasuryWithdraw).Methods("POST")
	s.router.HandleFunc("/api/treasury/batch", s.treasuryBatchTransfer).Methods("POST")

	// Role routes
	s.router.HandleFunc("/api/roles/grant", s.grantRole).Methods("POST")
	s.router.HandleFunc("/api/roles/revoke", s.revokeRole).Methods("POST")
	s.router.HandleFunc("/api/roles/{role}/members", s.listRoleMembers).Methods("GET")
	s.router.HandleFunc("/api/roles/{role}/has/{identity}", s.hasRole).Methods("GET")

	// Node routes
	s.router.HandleFunc("/api/nodes", s.listNodes).Methods("GET")
	s.router.HandleFunc("/api/nodes", s.registerNode).Methods("POST")
	s.router.HandleFunc("/api/nodes/{address}", s.getNode).Methods("GET")

	// Price and balance routes
	s.router.HandleFunc("/api/prices/{asset}", s.getPrice).Methods("GET")
	s.router.HandleFunc("/api/balances/{address}", s.getBalance).Methods("GET")
	s.router.HandleFunc("/api/balances/approve", s.approveSpender).Methods("POST")

	// Event routes
	s.router.HandleFunc("/api/events", s.listEvents).Methods("GET")
}

// Handler returns the configured route handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.log.Info().Str("addr", addr).Msg("api server listening")
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	return s.server.ListenAndServe()
}

// Stop shuts the server down, allowing in-flight requests to finish
func (s *Server) Stop() error {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps the error kind onto an HTTP status: authorization 403,
// not-found 404, state and temporal conflicts 409, everything else a
// validation failure at 400.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, roles.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, governance.ErrProposalNotFound),
		errors.Is(err, nodes.ErrNodeNotFound),
		errors.Is(err, pricefeed.ErrUnknownAsset),
		errors.Is(err, treasury.ErrUnknownToken):
		status = http.StatusNotFound
	case errors.Is(err, governance.ErrProposalNotActive),
		errors.Is(err, governance.ErrAlreadyVoted),
		errors.Is(err, governance.ErrAlreadyDecided),
		errors.Is(err, governance.ErrAlreadyExecuted),
		errors.Is(err, governance.ErrNotSucceeded),
		errors.Is(err, governance.ErrAlreadyTerminal),
		errors.Is(err, governance.ErrVotingPeriodEnded),
		errors.Is(err, governance.ErrVotingPeriodNotEnded),
		errors.Is(err, governance.ErrTimelockNotElapsed),
		errors.Is(err, governance.ErrProposalExpired),
		errors.Is(err, governance.ErrExecutionWindowOpen),
		errors.Is(err, rewards.ErrCooldownNotMet),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance),
		errors.Is(err, treasury.ErrInsufficientFunds),
		errors.Is(err, nodes.ErrNodeExists):
		status = http.StatusConflict
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func proposalID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createProposal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind        governance.ProposalKind `json:"kind"`
		Actions     []governance.Action     `json:"actions"`
		Description string                  `json:"description"`
		Caller      string                  `json:"caller"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.governance.Create(req.Kind, req.Actions, req.Description, req.Caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

func (s *Server) listProposals(w http.ResponseWriter, r *http.Request) {
	proposals, err := s.governance.ListProposals()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, proposals)
}

func (s *Server) getProposal(w http.ResponseWriter, r *http.Request) {
	id, err := proposalID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	proposal, err := s.governance.GetProposal(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, proposal)
}

func (s *Server) castVote(w http.ResponseWriter, r *http.Request) {
	id, err := proposalID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req struct {
		Support       bool   `json:"support"`
		Weight        uint64 `json:"weight"`
		Justification string `json:"justification"`
		Caller        string `json:"caller"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.governance.Vote(id, req.Support, req.Weight, req.Justification, req.Caller); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "voted"})
}

func (s *Server) decideProposal(w http.ResponseWriter, r *http.Request) {
	id, err := proposalID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	outcome, err := s.governance.Decide(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"outcome": outcome.String()})
}

func (s *Server) executeProposal(w http.ResponseWriter, r *http.Request) {
	id, err := proposalID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req struct {
		Caller string `json:"caller"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.governance.Execute(id, req.Caller); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "executed"})
}

func (s *Server) cancelProposal(w http.ResponseWriter, r *http.Request) {
	id, err := proposalID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req struct {
		Caller string `json:"caller"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.governance.Cancel(id, req.Caller); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

func (s *Server) expireProposal(w http.ResponseWriter, r *http.Request) {
	id, err := proposalID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.governance.Expire(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "expired"})
}

func (s *Server) listVotes(w http.ResponseWriter, r *http.Request) {
	id, err := proposalID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	votes, err := s.governance.ListVotes(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, votes)
}

func (s *Server) distributeReward(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipient    string `json:"recipient"`
		ForVotes     uint64 `json:"for_votes"`
		AgainstVotes uint64 `json:"against_votes"`
		TotalSupply  uint64 `json:"total_supply"`
		Reason       string `json:"reason"`
		Caller       string `json:"caller"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := s.rewards.Distribute(req.Recipient, req.ForVotes, req.AgainstVotes, req.TotalSupply, req.Reason, req.Caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{"amount": amount})
}

func (s *Server) getRewardConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.rewards.Config())
}

func (s *Server) updateRewardConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Config rewards.Config `json:"config"`
		Caller string         `json:"caller"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.rewards.UpdateConfig(req.Config, req.Caller); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.rewards.Config())
}

func (s *Server) getRewardHistory(w http.ResponseWriter, r *http.Request) {
	recipient := mux.Vars(r)["recipient"]
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_earned": s.rewards.TotalEarned(recipient),
		"records":      s.rewards.Records(recipient),
	})
}

func (s *Server) collectFee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Payer  string             `json:"payer"`
		Amount uint64             `json:"amount"`
		Kind   fees.OperationKind `json:"kind"`
		Caller string             `json:"caller"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	fee, err := s.feeProc.Collect(s.valueLedger, req.Payer, req.Amount, req.Kind, req.Caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{"fee": fee})
}

func (s *Server) getFeeRate(w http.ResponseWriter, r *http.Request) {
	kind := fees.OperationKind(mux.Vars(r)["kind"])
	rate, err := s.feeCalc.Rate(kind)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{"bps": rate})
}

func (s *Server) setFeeRate(w http.ResponseWriter, r *http.Request) {
	kind := fees.OperationKind(mux.Vars(r)["kind"])
	var req struct {
		Bps    uint64 `json:"bps"`
		Caller string `json:"caller"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.feeCalc.SetRate(kind, req.Bps, req.Caller); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{"bps": req.Bps})
}

func (s *Server) getFeeSplit(w http.ResponseWriter, r *http.Request) {
	treasuryBps, rewardBps := s.feeProc.Split()
	s.writeJSON(w, http.StatusOK, map[string]uint64{
		"treasury_bps": treasuryBps,
		"reward_bps":   rewardBps,
	})
}

func (s *Server) setFeeSplit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TreasuryBps uint64 `json:"treasury_bps"`
		RewardBps   uint64 `json:"reward_bps"`
		Caller      string `json:"caller"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.feeProc.SetSplit(req.TreasuryBps, req.RewardBps, req.Caller); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{
		"treasury_bps": req.TreasuryBps,
		"reward_bps":   req.RewardBps,
	})
}

func (s *Server) getTreasuryBalance(w http.ResponseWriter, r *http.Request) {
	tok := mux.Vars(r)["token"]
	s.writeJSON(w, http.StatusOK, map[string]uint64{"balance": s.treasury.Balance(tok)})
}

func (s *Server) treasuryReceive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token  string `json:"token"`
		Amount uint64 `json:"amount"`
		From   string `json:"from"`
		Caller string `json:"caller"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.treasury.Receive(req.Token, req.Amount, req.From, req.Caller); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func (s *Server) treasuryWithdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token  string `json:"token"`
		Amount uint64 `json:"amount"`
		To     string `json:"to"`
		Caller string `json:"caller"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.treasury.Withdraw(req.Token, req.Amount, req.To, req.Caller); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

func (s *Server) treasuryBatchTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tokens     []string `json:"tokens"`
		Recipients []string `json:"recipients"`
		Amounts    []uint64 `json:"amounts"`
		Caller     string   `json:"caller"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.treasury.BatchTransfer(req.Tokens, req.Recipients, req.Amounts, req.Caller); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

func (s *Server) grantRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role     roles.Role `json:"role"`
		Identity string     `json:"identity"`
		Caller   string     `json:"caller"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.roles.Grant(req.Role, req.Identity, req.Caller); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "granted"})
}

func (s *Server) revokeRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role     roles.Role `json:"role"`
		Identity string     `json:"identity"`
		Caller   string     `json:"caller"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.roles.Revoke(req.Role, req.Identity, req.Caller); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) listRoleMembers(w http.ResponseWriter, r *http.Request) {
	role := roles.Role(mux.Vars(r)["role"])
	s.writeJSON(w, http.StatusOK, s.roles.Members(role))
}

func (s *Server) hasRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	role := roles.Role(vars["role"])
	s.writeJSON(w, http.StatusOK, map[string]bool{
		"has_role": s.roles.HasRole(role, vars["identity"]),
	})
}

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.nodes.List())
}

func (s *Server) registerNode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address    string `json:"address"`
		Stake      uint64 `json:"stake"`
		Reputation int64  `json:"reputation"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	node, err := s.nodes.Register(req.Address, req.Stake, req.Reputation)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, node)
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.nodes.Get(mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, node)
}

func (s *Server) getPrice(w http.ResponseWriter, r *http.Request) {
	quote, err := s.feed.PriceOf(mux.Vars(r)["asset"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, quote)
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	s.writeJSON(w, http.StatusOK, map[string]uint64{"balance": s.valueLedger.BalanceOf(address)})
}

func (s *Server) approveSpender(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner   string `json:"owner"`
		Spender string `json:"spender"`
		Amount  uint64 `json:"amount"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.valueLedger.Approve(req.Owner, req.Spender, req.Amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if t := r.URL.Query().Get("type"); t != "" {
		s.writeJSON(w, http.StatusOK, s.events.ByType(events.Type(t)))
		return
	}
	s.writeJSON(w, http.StatusOK, s.events.Events())
}
