// Package platform deploys and reattaches the ledger, registry and market as one unit.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"yideng/edu-market/edu-market-backend/internal/certificate"
	"yideng/edu-market/edu-market-backend/internal/chain"
	"yideng/edu-market/edu-market-backend/internal/market"
	"yideng/edu-market/edu-market-backend/internal/token"
	"yideng/edu-market/edu-market-backend/pkg/apperr"
)

const deploymentKey = "platform/deployment"

var (
	ErrNotDeployed     = apperr.New(apperr.KindNotFound, "NotDeployed", "platform not deployed")
	ErrAlreadyDeployed = apperr.New(apperr.KindConflict, "AlreadyDeployed", "platform already deployed")
)

// Record is the persisted deployment
type Record struct {
	Deployer    chain.Address `json:"deployer"`
	Ledger      chain.Address `json:"ledger"`
	Registry    chain.Address `json:"registry"`
	Market      chain.Address `json:"market"`
	TxID        string        `json:"tx_id"`
	DeployedAt  time.Time     `json:"deployed_at"`
	Distributed bool          `json:"distributed"`
}

// Distribution names the recipients of the initial allocations
type Distribution struct {
	Team      chain.Address
	Marketing chain.Address
	Community chain.Address
}

type CertificateOptions struct {
	Name    string
	Symbol  string
	BaseURI string
}

type Options struct {
	Token       token.InitParams
	Certificate CertificateOptions
	Market      market.Settings
	// Distribution runs the initial distribution in the deploy transaction when set
	Distribution *Distribution
}

// Deployment is a live set of components bound to one executor
type Deployment struct {
	Record   Record
	Ledger   *token.Ledger
	Registry *certificate.Registry
	Market   *market.Market
}

func bind(rec Record) *Deployment {
	ledger := token.NewLedger(rec.Ledger)
	registry := certificate.NewRegistry(rec.Registry)
	return &Deployment{
		Record:   rec,
		Ledger:   ledger,
		Registry: registry,
		Market:   market.NewMarket(rec.Market, ledger, registry),
	}
}

// Deploy creates and wires all three components in a single transaction submitted by deployer.
// The deployer administers every component; the market receives the minting capability.
func Deploy(ctx context.Context, exec *chain.Executor, deployer chain.Address, opts Options) (*Deployment, error) {
	rec := Record{
		Deployer: deployer,
		Ledger:   chain.ContractAddress(deployer, 0),
		Registry: chain.ContractAddress(deployer, 1),
		Market:   chain.ContractAddress(deployer, 2),
	}
	d := bind(rec)

	_, err := exec.Submit(ctx, deployer, "platform.deploy", func(tx *chain.Tx) error {
		var existing Record
		ok, err := tx.GetJSON(deploymentKey, &existing)
		if err != nil {
			return err
		}
		if ok {
			return ErrAlreadyDeployed.Withf("deployed by %s", existing.Deployer)
		}

		if err := d.Ledger.Initialize(tx, opts.Token); err != nil {
			return fmt.Errorf("initialize ledger: %w", err)
		}
		c := opts.Certificate
		if err := d.Registry.Initialize(tx, c.Name, c.Symbol, c.BaseURI); err != nil {
			return fmt.Errorf("initialize registry: %w", err)
		}
		if err := d.Market.Initialize(tx, opts.Market); err != nil {
			return fmt.Errorf("initialize market: %w", err)
		}
		if err := d.Registry.GrantMintingCapability(tx, rec.Market); err != nil {
			return fmt.Errorf("grant market minting capability: %w", err)
		}
		if dist := opts.Distribution; dist != nil {
			if err := d.Ledger.DistributeInitialTokens(tx, dist.Team, dist.Marketing, dist.Community); err != nil {
				return fmt.Errorf("initial distribution: %w", err)
			}
			d.Record.Distributed = true
		}

		d.Record.TxID = tx.ID()
		d.Record.DeployedAt = tx.Timestamp()
		if err := tx.PutJSON(deploymentKey, d.Record); err != nil {
			return err
		}
		return tx.Emit(deployer, "PlatformDeployed", d.Record)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Attach binds to the deployment recorded in the executor's state
func Attach(ctx context.Context, exec *chain.Executor) (*Deployment, error) {
	var rec Record
	err := exec.Query(ctx, "", func(tx *chain.Tx) error {
		ok, err := tx.GetJSON(deploymentKey, &rec)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotDeployed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bind(rec), nil
}

// Open attaches to an existing deployment or deploys a new one
func Open(ctx context.Context, exec *chain.Executor, deployer chain.Address, opts Options, logger *zap.Logger) (*Deployment, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d, err := Attach(ctx, exec)
	if err == nil {
		logger.Info("Attached to existing deployment",
			zap.String("ledger", d.Record.Ledger.String()),
			zap.String("registry", d.Record.Registry.String()),
			zap.String("market", d.Record.Market.String()))
		if err := reconcile(ctx, exec, d, deployer, opts, logger); err != nil {
			return nil, err
		}
		return d, nil
	}
	if !errors.Is(err, ErrNotDeployed) {
		return nil, err
	}

	d, err = Deploy(ctx, exec, deployer, opts)
	if err != nil {
		return nil, fmt.Errorf("deploy platform: %w", err)
	}
	logger.Info("Deployed platform",
		zap.String("deployer", deployer.String()),
		zap.String("ledger", d.Record.Ledger.String()),
		zap.String("registry", d.Record.Registry.String()),
		zap.String("market", d.Record.Market.String()),
		zap.Bool("distributed", d.Record.Distributed))
	return d, nil
}

// reconcile applies configured market settings that differ from the stored ones.
// A mismatched purchase rate is only reported since the ledger fixes it at initialization.
func reconcile(ctx context.Context, exec *chain.Executor, d *Deployment, deployer chain.Address, opts Options, logger *zap.Logger) error {
	var (
		settings *market.Settings
		info     *token.Info
	)
	err := exec.Query(ctx, "", func(tx *chain.Tx) error {
		var err error
		if settings, err = d.Market.Settings(tx); err != nil {
			return err
		}
		info, err = d.Ledger.Info(tx)
		return err
	})
	if err != nil {
		return fmt.Errorf("read deployed settings: %w", err)
	}

	if rate := opts.Token.PurchaseRate; rate != nil && info.PurchaseRate != nil && rate.Cmp(info.PurchaseRate) != 0 {
		logger.Warn("Configured purchase rate differs from the deployed ledger and is ignored",
			zap.String("configured", rate.String()),
			zap.String("deployed", info.PurchaseRate.String()))
	}

	want := opts.Market
	updateTreasury := !want.Treasury.IsZero() && want.Treasury != settings.Treasury
	updateRecert := want.AllowRecertification != settings.AllowRecertification
	if !updateTreasury && !updateRecert {
		return nil
	}
	_, err = exec.Submit(ctx, deployer, "platform.reconcileSettings", func(tx *chain.Tx) error {
		if updateTreasury {
			if err := d.Market.SetTreasury(tx, want.Treasury); err != nil {
				return err
			}
		}
		if updateRecert {
			return d.Market.SetAllowRecertification(tx, want.AllowRecertification)
		}
		return nil
	})
	if err != nil {
		logger.Warn("Could not apply configured market settings",
			zap.String("deployer", deployer.String()),
			zap.Error(err))
		return nil
	}
	logger.Info("Applied configured market settings",
		zap.String("treasury", want.Treasury.String()),
		zap.Bool("allow_recertification", want.AllowRecertification))
	return nil
}
