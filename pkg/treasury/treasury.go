package treasury

import (
	"errors"
	"strconv"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/janteras/d-loop-sub002/pkg/events"
	"github.com/janteras/d-loop-sub002/pkg/roles"
	"github.com/janteras/d-loop-sub002/pkg/token"
)

var (
	// ErrArrayLengthMismatch indicates batch arrays of unequal length
	ErrArrayLengthMismatch = errors.New("batch arrays must have equal length")

	// ErrUnknownToken indicates no ledger is registered for the token
	ErrUnknownToken = errors.New("unknown token")

	// ErrInsufficientFunds indicates the tracked balance cannot cover the amount
	ErrInsufficientFunds = errors.New("insufficient treasury funds")

	// ErrTokenTransferFailed indicates the underlying ledger refused a transfer
	ErrTokenTransferFailed = errors.New("token transfer failed")
)

// Treasury is the custody ledger. It tracks its own per-token balance and
// finalizes every balance mutation before issuing the external transfer
// call, so a reentrant call during the transfer observes spent state.
type Treasury struct {
	address string
	ledgers map[string]token.Ledger
	// balances is the tracked custody balance per token symbol. It is the
	// source of truth for withdrawal checks, decremented ahead of the
	// external call.
	balances map[string]uint64
	roles    *roles.Registry
	events   *events.Recorder
	log      zerolog.Logger
	mutex    sync.Mutex
}

// New creates a treasury custody ledger operating under the given identity
func New(address string, registry *roles.Registry, recorder *events.Recorder, log zerolog.Logger) *Treasury {
	return &Treasury{
		address:  address,
		ledgers:  make(map[string]token.Ledger),
		balances: make(map[string]uint64),
		roles:    registry,
		events:   recorder,
		log:      log,
	}
}

// Address returns the treasury's identity on the value ledgers
func (t *Treasury) Address() string {
	return t.address
}

// RegisterLedger binds a token symbol to its value ledger
func (t *Treasury) RegisterLedger(tok string, ledger token.Ledger) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.ledgers[tok] = ledger
}

// Balance returns the tracked custody balance for a token
func (t *Treasury) Balance(tok string) uint64 {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.balances[tok]
}

// Receive pulls funds from the payer into custody. Treasurer-gated; the
// payer must have approved the treasury address for the amount.
func (t *Treasury) Receive(tok string, amount uint64, from string, caller string) error {
	if err := t.roles.Require(roles.RoleTreasurer, caller); err != nil {
		return err
	}

	t.mutex.Lock()
	ledger, exists := t.ledgers[tok]
	if !exists {
		t.mutex.Unlock()
		return ErrUnknownToken
	}
	// effects before interaction: account the deposit, then pull it;
	// a refused pull takes the accounting back out
	t.balances[tok] += amount
	t.mutex.Unlock()

	if err := ledger.TransferFrom(t.address, from, t.address, amount); err != nil {
		t.mutex.Lock()
		t.balances[tok] -= amount
		t.mutex.Unlock()
		return pkgerrors.Wrap(ErrTokenTransferFailed, err.Error())
	}

	t.events.Emit(events.TypeFundsReceived, map[string]string{
		events.AttrToken:  tok,
		events.AttrAmount: strconv.FormatUint(amount, 10),
		"from":            from,
	})
	return nil
}

// Withdraw disburses funds from custody to the destination. Treasurer-gated.
func (t *Treasury) Withdraw(tok string, amount uint64, to string, caller string) error {
	if err := t.roles.Require(roles.RoleTreasurer, caller); err != nil {
		return err
	}
	if to == "" {
		return roles.ErrZeroIdentity
	}

	if err := t.debitAndTransfer(tok, amount, to); err != nil {
		return err
	}

	t.log.Info().Str("token", tok).Uint64("amount", amount).Str("to", to).Msg("treasury withdrawal")
	t.events.Emit(events.TypeFundsWithdrawn, map[string]string{
		events.AttrToken:     tok,
		events.AttrAmount:    strconv.FormatUint(amount, 10),
		events.AttrRecipient: to,
	})
	return nil
}

// BatchTransfer disburses several amounts in one all-or-nothing batch.
// Array lengths must match; every leg is checked against the tracked
// balances before any leg is applied.
func (t *Treasury) BatchTransfer(tokens []string, recipients []string, amounts []uint64, caller string) error {
	if err := t.roles.Require(roles.RoleTreasurer, caller); err != nil {
		return err
	}
	if len(tokens) != len(recipients) || len(tokens) != len(amounts) {
		return ErrArrayLengthMismatch
	}

	// check phase: all ledgers known, all recipients set, tracked balances
	// cover the per-token totals
	t.mutex.Lock()
	required := make(map[string]uint64)
	for i, tok := range tokens {
		if _, exists := t.ledgers[tok]; !exists {
			t.mutex.Unlock()
			return ErrUnknownToken
		}
		if recipients[i] == "" {
			t.mutex.Unlock()
			return roles.ErrZeroIdentity
		}
		required[tok] += amounts[i]
	}
	for tok, total := range required {
		if t.balances[tok] < total {
			t.mutex.Unlock()
			return ErrInsufficientFunds
		}
	}
	t.mutex.Unlock()

	// apply phase: debit-then-transfer per leg; a refused leg unwinds the
	// completed ones so the batch has no partial effect
	for i := range tokens {
		if err := t.debitAndTransfer(tokens[i], amounts[i], recipients[i]); err != nil {
			for j := i - 1; j >= 0; j-- {
				t.reclaim(tokens[j], amounts[j], recipients[j])
			}
			return err
		}
	}

	for i := range tokens {
		t.events.Emit(events.TypeFundsWithdrawn, map[string]string{
			events.AttrToken:     tokens[i],
			events.AttrAmount:    strconv.FormatUint(amounts[i], 10),
			events.AttrRecipient: recipients[i],
		})
	}
	return nil
}

// EnsureAllowance sets the treasury's spender allowance, skipping the
// approval call when the current allowance already matches.
func (t *Treasury) EnsureAllowance(tok string, spender string, amount uint64, caller string) error {
	if err := t.roles.Require(roles.RoleTreasurer, caller); err != nil {
		return err
	}

	t.mutex.Lock()
	ledger, exists := t.ledgers[tok]
	t.mutex.Unlock()
	if !exists {
		return ErrUnknownToken
	}

	if ledger.Allowance(t.address, spender) == amount {
		return nil
	}
	if err := ledger.Approve(t.address, spender, amount); err != nil {
		return pkgerrors.Wrap(ErrTokenTransferFailed, err.Error())
	}
	return nil
}

// debitAndTransfer decrements the tracked balance and then issues the
// external transfer. The decrement happens first so a reentrant caller
// cannot observe an unspent balance mid-transfer; a refused transfer
// restores the tracked balance and aborts.
func (t *Treasury) debitAndTransfer(tok string, amount uint64, to string) error {
	t.mutex.Lock()
	ledger, exists := t.ledgers[tok]
	if !exists {
		t.mutex.Unlock()
		return ErrUnknownToken
	}
	if t.balances[tok] < amount {
		t.mutex.Unlock()
		return ErrInsufficientFunds
	}
	t.balances[tok] -= amount
	t.mutex.Unlock()

	if err := ledger.Transfer(t.address, to, amount); err != nil {
		t.mutex.Lock()
		t.balances[tok] += amount
		t.mutex.Unlock()
		return pkgerrors.Wrap(ErrTokenTransferFailed, err.Error())
	}
	return nil
}

// reclaim reverses a completed batch leg during unwind
func (t *Treasury) reclaim(tok string, amount uint64, from string) {
	t.mutex.Lock()
	ledger := t.ledgers[tok]
	t.mutex.Unlock()

	if err := ledger.Transfer(from, t.address, amount); err != nil {
		t.log.Error().Err(err).Str("token", tok).Str("from", from).Msg("failed to reclaim batch leg")
		return
	}
	t.mutex.Lock()
	t.balances[tok] += amount
	t.mutex.Unlock()
}
