package token

import (
	"math/big"

	"yideng/edu-market/edu-market-backend/internal/access"
	"yideng/edu-market/edu-market-backend/internal/chain"
)

// logicV2 adds an owner-controlled pause over every path that creates or moves credit
type logicV2 struct {
	logicV1
}

func (logicV2) Version() string    { return "2.0.0" }
func (logicV2) SchemaVersion() int { return SchemaV2 }

func (l logicV2) DistributeInitialTokens(s *Storage, team, marketing, community chain.Address) error {
	if err := whenNotPaused(s); err != nil {
		return err
	}
	return l.logicV1.DistributeInitialTokens(s, team, marketing, community)
}

func (l logicV2) PurchaseWithPayment(s *Storage, payment *big.Int) (*big.Int, error) {
	if err := whenNotPaused(s); err != nil {
		return nil, err
	}
	return l.logicV1.PurchaseWithPayment(s, payment)
}

func (l logicV2) Transfer(s *Storage, to chain.Address, amount *big.Int) error {
	if err := whenNotPaused(s); err != nil {
		return err
	}
	return l.logicV1.Transfer(s, to, amount)
}

func (l logicV2) TransferFrom(s *Storage, from, to chain.Address, amount *big.Int) error {
	if err := whenNotPaused(s); err != nil {
		return err
	}
	return l.logicV1.TransferFrom(s, from, to, amount)
}

func (l logicV2) Pause(s *Storage) error {
	return l.setPaused(s, true, "Paused")
}

func (l logicV2) Unpause(s *Storage) error {
	return l.setPaused(s, false, "Unpaused")
}

func (l logicV2) setPaused(s *Storage, paused bool, event string) error {
	if err := s.Roles().Require(s.Tx(), access.DefaultAdminRole); err != nil {
		return err
	}
	meta, err := s.Meta()
	if err != nil {
		return err
	}
	if meta.Paused == paused {
		return nil
	}
	meta.Paused = paused
	if err := s.SaveMeta(meta); err != nil {
		return err
	}
	return s.Tx().Emit(s.Self(), event, map[string]chain.Address{"account": s.Tx().Sender()})
}

func whenNotPaused(s *Storage) error {
	meta, err := s.Meta()
	if err != nil {
		return err
	}
	if meta.Paused {
		return ErrPaused
	}
	return nil
}
