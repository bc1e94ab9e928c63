package token

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"yideng/edu-market/edu-market-backend/internal/access"
	"yideng/edu-market/edu-market-backend/internal/chain"
	"yideng/edu-market/edu-market-backend/pkg/apperr"
	"yideng/edu-market/edu-market-backend/pkg/units"
)

const (
	DefaultName         = "YiDeng Token"
	DefaultSymbol       = "YD"
	DefaultPurchaseRate = 1000
	DefaultLogicVersion = "1.0.0"

	InitialSupply = 1_250_000
	// Allocation shares of InitialSupply in percent
	TeamShare      = 20
	MarketingShare = 10
	CommunityShare = 70
)

// InitParams configures a new ledger
type InitParams struct {
	Name         string
	Symbol       string
	PurchaseRate *big.Int
}

// Info is the public ledger summary
type Info struct {
	Address                 chain.Address `json:"address"`
	Name                    string        `json:"name"`
	Symbol                  string        `json:"symbol"`
	Decimals                uint8         `json:"decimals"`
	TotalSupply             *big.Int      `json:"total_supply"`
	PurchaseRate            *big.Int      `json:"purchase_rate"`
	InitialDistributionDone bool          `json:"initial_distribution_done"`
	TeamAllocation          *big.Int      `json:"team_allocation"`
	MarketingAllocation     *big.Int      `json:"marketing_allocation"`
	CommunityAllocation     *big.Int      `json:"community_allocation"`
	NativeReceived          *big.Int      `json:"native_received"`
	Implementation          string        `json:"implementation"`
	SchemaVersion           int           `json:"schema_version"`
	Paused                  bool          `json:"paused"`
}

// SupplyReport compares total supply against the sum of balances
type SupplyReport struct {
	TotalSupply   *big.Int `json:"total_supply"`
	SumOfBalances *big.Int `json:"sum_of_balances"`
	Holders       int      `json:"holders"`
	Balanced      bool     `json:"balanced"`
}

type upgradedEvent struct {
	Implementation string `json:"implementation"`
	SchemaVersion  int    `json:"schema_version"`
}

// migrations[v] moves state from schema v-1 to v
var migrations = map[int]func(*Meta) error{
	SchemaV2: func(m *Meta) error {
		m.Paused = false
		return nil
	},
}

// Ledger is the stable entry point of the credit ledger. It resolves the logic version
// recorded in state on every call, so upgrades replace behaviour and keep storage.
type Ledger struct {
	address chain.Address
	roles   *access.Table
	prefix  string
	logics  map[string]Logic
}

func NewLedger(address chain.Address) *Ledger {
	l := &Ledger{
		address: address,
		roles:   access.NewTable(address),
		prefix:  fmt.Sprintf("token/%s/", address),
		logics:  make(map[string]Logic),
	}
	l.Register(logicV1{})
	l.Register(logicV2{})
	return l
}

// Register makes a logic version available to UpgradeTo
func (l *Ledger) Register(logic Logic) {
	l.logics[logic.Version()] = logic
}

// Versions lists registered logic versions
func (l *Ledger) Versions() []string {
	out := make([]string, 0, len(l.logics))
	for v := range l.logics {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (l *Ledger) Address() chain.Address { return l.address }

func (l *Ledger) Roles() *access.Table { return l.roles }

func (l *Ledger) storage(tx *chain.Tx) *Storage {
	return &Storage{tx: tx, self: l.address, roles: l.roles, prefix: l.prefix}
}

func (l *Ledger) logic(tx *chain.Tx) (Logic, *Storage, error) {
	s := l.storage(tx)
	meta, err := s.Meta()
	if err != nil {
		return nil, nil, err
	}
	logic, ok := l.logics[meta.Implementation]
	if !ok {
		return nil, nil, ErrUnknownVersion.Withf("implementation %q is not registered", meta.Implementation)
	}
	if logic.SchemaVersion() > meta.SchemaVersion {
		return nil, nil, fmt.Errorf("logic %s needs schema %d, state is at %d",
			logic.Version(), logic.SchemaVersion(), meta.SchemaVersion)
	}
	return logic, s, nil
}

// Initialize creates the ledger state and makes the sender its administrator
func (l *Ledger) Initialize(tx *chain.Tx, params InitParams) error {
	s := l.storage(tx)
	if _, err := s.Meta(); err == nil {
		return ErrAlreadyInitialized
	} else if !errors.Is(err, ErrNotInitialized) {
		return err
	}

	rate := params.PurchaseRate
	if rate == nil {
		rate = big.NewInt(DefaultPurchaseRate)
	}
	if rate.Sign() <= 0 {
		return apperr.ErrInvalidArgument.Withf("purchase rate must be positive")
	}
	if !units.InRange(rate) {
		return ErrOverflow.Withf("purchase rate %s", rate)
	}
	name, symbol := params.Name, params.Symbol
	if name == "" {
		name = DefaultName
	}
	if symbol == "" {
		symbol = DefaultSymbol
	}

	logic := l.logics[DefaultLogicVersion]
	meta := &Meta{
		SchemaVersion:       logic.SchemaVersion(),
		Implementation:      logic.Version(),
		Name:                name,
		Symbol:              symbol,
		PurchaseRate:        new(big.Int).Set(rate),
		TotalSupply:         new(big.Int),
		TeamAllocation:      share(TeamShare),
		MarketingAllocation: share(MarketingShare),
		CommunityAllocation: share(CommunityShare),
		NativeReceived:      new(big.Int),
	}
	if err := s.SaveMeta(meta); err != nil {
		return err
	}
	return l.roles.Setup(tx, access.DefaultAdminRole, tx.Sender())
}

func share(percent int64) *big.Int {
	v := big.NewInt(InitialSupply)
	v.Mul(v, big.NewInt(percent))
	return v.Div(v, big.NewInt(100))
}

// DistributeInitialTokens credits the three fixed allocations once
func (l *Ledger) DistributeInitialTokens(tx *chain.Tx, team, marketing, community chain.Address) error {
	logic, s, err := l.logic(tx)
	if err != nil {
		return err
	}
	return logic.DistributeInitialTokens(s, team, marketing, community)
}

// PurchaseWithPayment mints payment*rate credits to the sender and returns the credited amount
func (l *Ledger) PurchaseWithPayment(tx *chain.Tx, payment *big.Int) (*big.Int, error) {
	logic, s, err := l.logic(tx)
	if err != nil {
		return nil, err
	}
	return logic.PurchaseWithPayment(s, payment)
}

func (l *Ledger) Transfer(tx *chain.Tx, to chain.Address, amount *big.Int) error {
	logic, s, err := l.logic(tx)
	if err != nil {
		return err
	}
	return logic.Transfer(s, to, amount)
}

// Approve lets spender move up to amount of the sender's credit
func (l *Ledger) Approve(tx *chain.Tx, spender chain.Address, amount *big.Int) error {
	logic, s, err := l.logic(tx)
	if err != nil {
		return err
	}
	return logic.Approve(s, spender, amount)
}

// TransferFrom moves amount from from to to, spending the sender's allowance
func (l *Ledger) TransferFrom(tx *chain.Tx, from, to chain.Address, amount *big.Int) error {
	logic, s, err := l.logic(tx)
	if err != nil {
		return err
	}
	return logic.TransferFrom(s, from, to, amount)
}

// WithdrawPayments releases collected native payments to to
func (l *Ledger) WithdrawPayments(tx *chain.Tx, to chain.Address) (*big.Int, error) {
	logic, s, err := l.logic(tx)
	if err != nil {
		return nil, err
	}
	return logic.WithdrawPayments(s, to)
}

func (l *Ledger) Pause(tx *chain.Tx) error {
	p, s, err := l.pausable(tx)
	if err != nil {
		return err
	}
	return p.Pause(s)
}

func (l *Ledger) Unpause(tx *chain.Tx) error {
	p, s, err := l.pausable(tx)
	if err != nil {
		return err
	}
	return p.Unpause(s)
}

func (l *Ledger) pausable(tx *chain.Tx) (Pausable, *Storage, error) {
	logic, s, err := l.logic(tx)
	if err != nil {
		return nil, nil, err
	}
	p, ok := logic.(Pausable)
	if !ok {
		return nil, nil, apperr.ErrNotSupported.Withf("logic %s cannot pause", logic.Version())
	}
	return p, s, nil
}

// UpgradeTo switches the ledger to another registered logic version, running any schema
// migrations the target needs first. Balances, allowances and the distribution flag are untouched.
func (l *Ledger) UpgradeTo(tx *chain.Tx, version string) error {
	if err := l.roles.Require(tx, access.DefaultAdminRole); err != nil {
		return err
	}
	target, ok := l.logics[version]
	if !ok {
		return ErrUnknownVersion.Withf("%q", version)
	}
	s := l.storage(tx)
	meta, err := s.Meta()
	if err != nil {
		return err
	}
	for v := meta.SchemaVersion + 1; v <= target.SchemaVersion(); v++ {
		migrate, ok := migrations[v]
		if !ok {
			return fmt.Errorf("no migration to schema %d", v)
		}
		if err := migrate(meta); err != nil {
			return fmt.Errorf("migrate to schema %d: %w", v, err)
		}
		meta.SchemaVersion = v
	}
	meta.Implementation = target.Version()
	if err := s.SaveMeta(meta); err != nil {
		return err
	}
	ev := upgradedEvent{Implementation: meta.Implementation, SchemaVersion: meta.SchemaVersion}
	return tx.Emit(l.address, "Upgraded", ev)
}

func (l *Ledger) BalanceOf(tx *chain.Tx, account chain.Address) (*big.Int, error) {
	return l.storage(tx).Balance(account)
}

func (l *Ledger) Allowance(tx *chain.Tx, owner, spender chain.Address) (*big.Int, error) {
	return l.storage(tx).Allowance(owner, spender)
}

func (l *Ledger) TotalSupply(tx *chain.Tx) (*big.Int, error) {
	meta, err := l.storage(tx).Meta()
	if err != nil {
		return nil, err
	}
	return orZero(meta.TotalSupply), nil
}

func (l *Ledger) InitialDistributionDone(tx *chain.Tx) (bool, error) {
	meta, err := l.storage(tx).Meta()
	if err != nil {
		return false, err
	}
	return meta.InitialDistributionDone, nil
}

// Version is the logic version currently serving the ledger
func (l *Ledger) Version(tx *chain.Tx) (string, error) {
	meta, err := l.storage(tx).Meta()
	if err != nil {
		return "", err
	}
	return meta.Implementation, nil
}

func (l *Ledger) Info(tx *chain.Tx) (*Info, error) {
	meta, err := l.storage(tx).Meta()
	if err != nil {
		return nil, err
	}
	return &Info{
		Address:                 l.address,
		Name:                    meta.Name,
		Symbol:                  meta.Symbol,
		Decimals:                meta.Decimals,
		TotalSupply:             orZero(meta.TotalSupply),
		PurchaseRate:            meta.PurchaseRate,
		InitialDistributionDone: meta.InitialDistributionDone,
		TeamAllocation:          meta.TeamAllocation,
		MarketingAllocation:     meta.MarketingAllocation,
		CommunityAllocation:     meta.CommunityAllocation,
		NativeReceived:          orZero(meta.NativeReceived),
		Implementation:          meta.Implementation,
		SchemaVersion:           meta.SchemaVersion,
		Paused:                  meta.Paused,
	}, nil
}

func (l *Ledger) Holdings(tx *chain.Tx) ([]Holding, error) {
	return l.storage(tx).Holdings()
}

// Audit checks that the balances add up to total supply
func (l *Ledger) Audit(tx *chain.Tx) (*SupplyReport, error) {
	s := l.storage(tx)
	meta, err := s.Meta()
	if err != nil {
		return nil, err
	}
	holdings, err := s.Holdings()
	if err != nil {
		return nil, err
	}
	sum := new(big.Int)
	for _, h := range holdings {
		sum.Add(sum, h.Balance)
	}
	supply := orZero(meta.TotalSupply)
	return &SupplyReport{
		TotalSupply:   supply,
		SumOfBalances: sum,
		Holders:       len(holdings),
		Balanced:      sum.Cmp(supply) == 0,
	}, nil
}
