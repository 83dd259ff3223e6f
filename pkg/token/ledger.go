package token

import "errors"

var (
	// ErrInsufficientBalance indicates the sender balance cannot cover the amount
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientAllowance indicates the spender allowance cannot cover the amount
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Ledger defines the fungible value-ledger collaborator consumed by the
// engine. The engine never assumes a transfer succeeds; any error is
// surfaced to the caller as a token-transfer failure.
type Ledger interface {
	BalanceOf(identity string) uint64
	TotalSupply() uint64
	Transfer(from, to string, amount uint64) error
	TransferFrom(spender, from, to string, amount uint64) error
	Allowance(owner, spender string) uint64
	Approve(owner, spender string, amount uint64) error
}
