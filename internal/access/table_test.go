package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yideng/edu-market/edu-market-backend/internal/chain"
)

var (
	component = chain.AddressFromSeed("registry")
	admin     = chain.AddressFromSeed("admin")
	outsider  = chain.AddressFromSeed("outsider")
	minter    = NewRole("MINTER_ROLE")
)

func setup(t *testing.T) (*chain.Executor, *Table) {
	t.Helper()
	exec := chain.NewExecutor(chain.NewMemoryStore(), nil)
	table := NewTable(component)
	_, err := exec.Submit(context.Background(), admin, "init", func(tx *chain.Tx) error {
		return table.Setup(tx, DefaultAdminRole, admin)
	})
	require.NoError(t, err)
	return exec, table
}

func has(t *testing.T, exec *chain.Executor, table *Table, role Role, account chain.Address) bool {
	t.Helper()
	var ok bool
	err := exec.Query(context.Background(), account, func(tx *chain.Tx) error {
		var err error
		ok, err = table.Has(tx, role, account)
		return err
	})
	require.NoError(t, err)
	return ok
}

func TestGrantIsIdempotent(t *testing.T) {
	exec, table := setup(t)
	ctx := context.Background()

	first, err := exec.Submit(ctx, admin, "grant", func(tx *chain.Tx) error {
		return table.Grant(tx, minter, outsider)
	})
	require.NoError(t, err)
	assert.Len(t, first.Events, 1)

	second, err := exec.Submit(ctx, admin, "grant", func(tx *chain.Tx) error {
		return table.Grant(tx, minter, outsider)
	})
	require.NoError(t, err)
	assert.Empty(t, second.Events)
	assert.True(t, has(t, exec, table, minter, outsider))
}

func TestGrantRequiresAdmin(t *testing.T) {
	exec, table := setup(t)
	_, err := exec.Submit(context.Background(), outsider, "grant", func(tx *chain.Tx) error {
		return table.Grant(tx, minter, outsider)
	})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, has(t, exec, table, minter, outsider))
}

func TestRevokeAndRenounce(t *testing.T) {
	exec, table := setup(t)
	ctx := context.Background()

	_, err := exec.Submit(ctx, admin, "grant", func(tx *chain.Tx) error {
		return table.Grant(tx, minter, outsider)
	})
	require.NoError(t, err)

	_, err = exec.Submit(ctx, admin, "revoke", func(tx *chain.Tx) error {
		return table.Revoke(tx, minter, outsider)
	})
	require.NoError(t, err)
	assert.False(t, has(t, exec, table, minter, outsider))

	_, err = exec.Submit(ctx, admin, "renounce", func(tx *chain.Tx) error {
		return table.Renounce(tx, DefaultAdminRole)
	})
	require.NoError(t, err)
	assert.False(t, has(t, exec, table, DefaultAdminRole, admin))
}

func TestRequireUsesNestedSender(t *testing.T) {
	exec, table := setup(t)
	market := chain.AddressFromSeed("market")
	ctx := context.Background()

	_, err := exec.Submit(ctx, admin, "grant", func(tx *chain.Tx) error {
		return table.Grant(tx, minter, market)
	})
	require.NoError(t, err)

	_, err = exec.Submit(ctx, outsider, "mint", func(tx *chain.Tx) error {
		if err := table.Require(tx, minter); err == nil {
			t.Fatal("outsider must not pass the minter check")
		}
		return table.Require(tx.Call(market), minter)
	})
	assert.NoError(t, err)
}
