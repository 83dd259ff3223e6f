package token_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janteras/d-loop-sub002/pkg/token"
)

func TestTransfer(t *testing.T) {
	s := token.NewSystem()
	s.Mint("alice", 1000)

	t.Run("moves the balance", func(t *testing.T) {
		assert.NoError(t, s.Transfer("alice", "bob", 400))
		assert.Equal(t, uint64(600), s.BalanceOf("alice"))
		assert.Equal(t, uint64(400), s.BalanceOf("bob"))
	})

	t.Run("insufficient balance", func(t *testing.T) {
		assert.ErrorIs(t, s.Transfer("alice", "bob", 601), token.ErrInsufficientBalance)
		assert.Equal(t, uint64(600), s.BalanceOf("alice"))
	})

	t.Run("total supply is conserved", func(t *testing.T) {
		assert.Equal(t, uint64(1000), s.TotalSupply())
	})
}

func TestTransferFrom(t *testing.T) {
	s := token.NewSystem()
	s.Mint("alice", 1000)
	require.NoError(t, s.Approve("alice", "spender", 500))

	t.Run("consumes allowance", func(t *testing.T) {
		assert.NoError(t, s.TransferFrom("spender", "alice", "bob", 300))
		assert.Equal(t, uint64(300), s.BalanceOf("bob"))
		assert.Equal(t, uint64(200), s.Allowance("alice", "spender"))
	})

	t.Run("insufficient allowance", func(t *testing.T) {
		assert.ErrorIs(t, s.TransferFrom("spender", "alice", "bob", 201), token.ErrInsufficientAllowance)
	})

	t.Run("allowance intact when the balance cannot cover", func(t *testing.T) {
		require.NoError(t, s.Approve("alice", "spender", 10_000))
		assert.ErrorIs(t, s.TransferFrom("spender", "alice", "bob", 5_000), token.ErrInsufficientBalance)
		assert.Equal(t, uint64(10_000), s.Allowance("alice", "spender"))
	})
}
