package token

import (
	"math/big"

	"yideng/edu-market/edu-market-backend/internal/access"
	"yideng/edu-market/edu-market-backend/internal/chain"
	"yideng/edu-market/edu-market-backend/pkg/apperr"
	"yideng/edu-market/edu-market-backend/pkg/units"
)

// Logic is a stateless ledger implementation. The sender of s.Tx() is the caller.
type Logic interface {
	Version() string
	// SchemaVersion is the minimum state schema the logic reads and writes
	SchemaVersion() int

	DistributeInitialTokens(s *Storage, team, marketing, community chain.Address) error
	PurchaseWithPayment(s *Storage, payment *big.Int) (*big.Int, error)
	Transfer(s *Storage, to chain.Address, amount *big.Int) error
	Approve(s *Storage, spender chain.Address, amount *big.Int) error
	TransferFrom(s *Storage, from, to chain.Address, amount *big.Int) error
	WithdrawPayments(s *Storage, to chain.Address) (*big.Int, error)
}

// Pausable is implemented by logic versions that can halt credit movement
type Pausable interface {
	Pause(s *Storage) error
	Unpause(s *Storage) error
}

type transferEvent struct {
	From  chain.Address `json:"from"`
	To    chain.Address `json:"to"`
	Value string        `json:"value"`
}

type approvalEvent struct {
	Owner   chain.Address `json:"owner"`
	Spender chain.Address `json:"spender"`
	Value   string        `json:"value"`
}

type purchaseEvent struct {
	Buyer    chain.Address `json:"buyer"`
	Payment  string        `json:"payment"`
	Credited string        `json:"credited"`
}

type withdrawEvent struct {
	To     chain.Address `json:"to"`
	Amount string        `json:"amount"`
}

// logicV1 is the original ledger behaviour
type logicV1 struct{}

func (logicV1) Version() string    { return "1.0.0" }
func (logicV1) SchemaVersion() int { return SchemaV1 }

func (l logicV1) DistributeInitialTokens(s *Storage, team, marketing, community chain.Address) error {
	if err := s.Roles().Require(s.Tx(), access.DefaultAdminRole); err != nil {
		return err
	}
	meta, err := s.Meta()
	if err != nil {
		return err
	}
	if meta.InitialDistributionDone {
		return ErrAlreadyDistributed
	}
	if team.IsZero() || marketing.IsZero() || community.IsZero() {
		return apperr.ErrInvalidArgument.Withf("distribution recipients must be non-zero")
	}

	allocations := []struct {
		to     chain.Address
		amount *big.Int
	}{
		{team, meta.TeamAllocation},
		{marketing, meta.MarketingAllocation},
		{community, meta.CommunityAllocation},
	}
	for _, a := range allocations {
		if err := mint(s, meta, a.to, a.amount); err != nil {
			return err
		}
	}
	meta.InitialDistributionDone = true
	return s.SaveMeta(meta)
}

func (l logicV1) PurchaseWithPayment(s *Storage, payment *big.Int) (*big.Int, error) {
	if payment == nil || payment.Sign() <= 0 {
		return nil, ErrZeroPayment
	}
	if !units.InRange(payment) {
		return nil, ErrOverflow.Withf("payment %s", payment)
	}
	meta, err := s.Meta()
	if err != nil {
		return nil, err
	}

	buyer := s.Tx().Sender()
	credited := new(big.Int).Mul(payment, meta.PurchaseRate)
	if err := mint(s, meta, buyer, credited); err != nil {
		return nil, err
	}
	meta.NativeReceived = new(big.Int).Add(orZero(meta.NativeReceived), payment)
	if err := s.SaveMeta(meta); err != nil {
		return nil, err
	}

	ev := purchaseEvent{Buyer: buyer, Payment: payment.String(), Credited: credited.String()}
	if err := s.Tx().Emit(s.Self(), "TokensPurchased", ev, buyer); err != nil {
		return nil, err
	}
	return credited, nil
}

func (l logicV1) Transfer(s *Storage, to chain.Address, amount *big.Int) error {
	return move(s, s.Tx().Sender(), to, amount)
}

func (l logicV1) Approve(s *Storage, spender chain.Address, amount *big.Int) error {
	if spender.IsZero() {
		return apperr.ErrInvalidArgument.Withf("spender must be non-zero")
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	owner := s.Tx().Sender()
	if err := s.SetAllowance(owner, spender, amount); err != nil {
		return err
	}
	ev := approvalEvent{Owner: owner, Spender: spender, Value: amount.String()}
	return s.Tx().Emit(s.Self(), "Approval", ev, owner, spender)
}

func (l logicV1) TransferFrom(s *Storage, from, to chain.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	spender := s.Tx().Sender()
	allowance, err := s.Allowance(from, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance.Withf("%s may spend %s of %s, needs %s", spender, allowance, from, amount)
	}
	balance, err := s.Balance(from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance.Withf("%s holds %s, needs %s", from, balance, amount)
	}
	if err := s.SetAllowance(from, spender, new(big.Int).Sub(allowance, amount)); err != nil {
		return err
	}
	return move(s, from, to, amount)
}

func (l logicV1) WithdrawPayments(s *Storage, to chain.Address) (*big.Int, error) {
	if err := s.Roles().Require(s.Tx(), access.DefaultAdminRole); err != nil {
		return nil, err
	}
	if to.IsZero() {
		return nil, apperr.ErrInvalidArgument.Withf("withdrawal recipient must be non-zero")
	}
	meta, err := s.Meta()
	if err != nil {
		return nil, err
	}
	amount := orZero(meta.NativeReceived)
	if amount.Sign() == 0 {
		return nil, ErrNoPayments
	}
	meta.NativeReceived = new(big.Int)
	if err := s.SaveMeta(meta); err != nil {
		return nil, err
	}
	ev := withdrawEvent{To: to, Amount: amount.String()}
	if err := s.Tx().Emit(s.Self(), "PaymentsWithdrawn", ev, to); err != nil {
		return nil, err
	}
	return amount, nil
}

// mint credits to and grows total supply. meta is updated in place; callers save it.
func mint(s *Storage, meta *Meta, to chain.Address, amount *big.Int) error {
	supply := new(big.Int).Add(orZero(meta.TotalSupply), amount)
	if !units.InRange(supply) {
		return ErrOverflow.Withf("minting %s would raise total supply past uint256", amount)
	}
	balance, err := s.Balance(to)
	if err != nil {
		return err
	}
	if err := s.SetBalance(to, new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	meta.TotalSupply = supply
	ev := transferEvent{From: chain.ZeroAddress, To: to, Value: amount.String()}
	return s.Tx().Emit(s.Self(), "Transfer", ev, to)
}

func move(s *Storage, from, to chain.Address, amount *big.Int) error {
	if to.IsZero() {
		return apperr.ErrInvalidArgument.Withf("recipient must be non-zero")
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	fromBalance, err := s.Balance(from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance.Withf("%s holds %s, needs %s", from, fromBalance, amount)
	}
	if err := s.SetBalance(from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	toBalance, err := s.Balance(to)
	if err != nil {
		return err
	}
	credited := new(big.Int).Add(toBalance, amount)
	if !units.InRange(credited) {
		return ErrOverflow.Withf("balance of %s", to)
	}
	if err := s.SetBalance(to, credited); err != nil {
		return err
	}
	ev := transferEvent{From: from, To: to, Value: amount.String()}
	return s.Tx().Emit(s.Self(), "Transfer", ev, from, to)
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return apperr.ErrInvalidArgument.Withf("amount must be a non-negative integer")
	}
	if !units.InRange(amount) {
		return ErrOverflow.Withf("amount %s", amount)
	}
	return nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
