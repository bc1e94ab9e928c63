package platform

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"yideng/edu-market/edu-market-backend/internal/chain"
	"yideng/edu-market/edu-market-backend/internal/market"
	"yideng/edu-market/edu-market-backend/internal/token"
)

var (
	deployer  = chain.AddressFromSeed("deployer")
	team      = chain.AddressFromSeed("team")
	marketing = chain.AddressFromSeed("marketing")
	community = chain.AddressFromSeed("community")
	student   = chain.AddressFromSeed("student")
)

func distribution() *Distribution {
	return &Distribution{Team: team, Marketing: marketing, Community: community}
}

func TestDeploy(t *testing.T) {
	ctx := context.Background()
	exec := chain.NewExecutor(chain.NewMemoryStore(), nil)

	d, err := Deploy(ctx, exec, deployer, Options{Distribution: distribution()})
	require.NoError(t, err)
	assert.Equal(t, chain.ContractAddress(deployer, 0), d.Record.Ledger)
	assert.True(t, d.Record.Distributed)
	assert.NotEmpty(t, d.Record.TxID)

	require.NoError(t, exec.Query(ctx, "", func(tx *chain.Tx) error {
		minter, err := d.Registry.IsMinter(tx, d.Market.Address())
		require.NoError(t, err)
		assert.True(t, minter)

		done, err := d.Ledger.InitialDistributionDone(tx)
		require.NoError(t, err)
		assert.True(t, done)

		supply, err := d.Ledger.TotalSupply(tx)
		assert.Equal(t, int64(token.InitialSupply), supply.Int64())
		return err
	}))

	_, err = Deploy(ctx, exec, deployer, Options{})
	assert.ErrorIs(t, err, ErrAlreadyDeployed)
}

func TestDeploy_FailedDistributionLeavesNothing(t *testing.T) {
	ctx := context.Background()
	store := chain.NewMemoryStore()
	exec := chain.NewExecutor(store, nil)

	_, err := Deploy(ctx, exec, deployer, Options{Distribution: &Distribution{Team: team}})
	require.Error(t, err)
	assert.Equal(t, 0, store.Len())

	_, err = Attach(ctx, exec)
	assert.ErrorIs(t, err, ErrNotDeployed)
}

func TestOpenAttachesToExistingDeployment(t *testing.T) {
	ctx := context.Background()
	exec := chain.NewExecutor(chain.NewMemoryStore(), nil)

	first, err := Open(ctx, exec, deployer, Options{Distribution: distribution()}, nil)
	require.NoError(t, err)

	second, err := Open(ctx, exec, deployer, Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Record, second.Record)
}

func TestOpenAppliesChangedMarketSettings(t *testing.T) {
	ctx := context.Background()
	exec := chain.NewExecutor(chain.NewMemoryStore(), nil)
	treasury := chain.AddressFromSeed("treasury")

	first, err := Open(ctx, exec, deployer, Options{}, nil)
	require.NoError(t, err)

	core, logs := observer.New(zap.InfoLevel)
	opts := Options{
		Token:  token.InitParams{PurchaseRate: big.NewInt(2000)},
		Market: market.Settings{Treasury: treasury, AllowRecertification: true},
	}
	second, err := Open(ctx, exec, deployer, opts, zap.New(core))
	require.NoError(t, err)
	assert.Equal(t, first.Record, second.Record)

	require.NoError(t, exec.Query(ctx, "", func(tx *chain.Tx) error {
		settings, err := second.Market.Settings(tx)
		require.NoError(t, err)
		assert.Equal(t, treasury, settings.Treasury)
		assert.True(t, settings.AllowRecertification)

		info, err := second.Ledger.Info(tx)
		require.NoError(t, err)
		assert.Equal(t, int64(token.DefaultPurchaseRate), info.PurchaseRate.Int64())
		return nil
	}))
	assert.Equal(t, 1, logs.FilterMessage("Configured purchase rate differs from the deployed ledger and is ignored").Len())
	assert.Equal(t, 1, logs.FilterMessage("Applied configured market settings").Len())

	// unchanged options leave state alone
	_, err = Open(ctx, exec, deployer, opts, zap.New(core))
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("Applied configured market settings").Len())
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	exec := chain.NewExecutor(chain.NewMemoryStore(), nil)
	_, err := Deploy(ctx, exec, deployer, Options{Distribution: distribution()})
	require.NoError(t, err)

	// a restarted process only knows the state
	d, err := Attach(ctx, exec)
	require.NoError(t, err)

	submit := func(caller chain.Address, fn func(tx *chain.Tx) error) {
		t.Helper()
		_, err := exec.Submit(ctx, caller, "test", fn)
		require.NoError(t, err)
	}

	submit(deployer, func(tx *chain.Tx) error {
		_, err := d.Market.AddCourse(tx, "WEB3-001", "Smart contracts", big.NewInt(100))
		return err
	})
	submit(student, func(tx *chain.Tx) error {
		if _, err := d.Ledger.PurchaseWithPayment(tx, big.NewInt(1)); err != nil {
			return err
		}
		if err := d.Ledger.Approve(tx, d.Market.Address(), big.NewInt(100)); err != nil {
			return err
		}
		return d.Market.PurchaseCourse(tx, "WEB3-001")
	})
	submit(deployer, func(tx *chain.Tx) error {
		_, err := d.Market.VerifyCourseCompletion(tx, student, "WEB3-001")
		return err
	})

	require.NoError(t, exec.Query(ctx, "", func(tx *chain.Tx) error {
		bal, err := d.Ledger.BalanceOf(tx, student)
		require.NoError(t, err)
		assert.Equal(t, int64(token.DefaultPurchaseRate-100), bal.Int64())

		ok, err := d.Registry.HasCertificate(tx, student, "WEB3-001")
		require.NoError(t, err)
		assert.True(t, ok)

		report, err := d.Ledger.Audit(tx)
		assert.True(t, report.Balanced)
		return err
	}))
}
