package token

import (
	"fmt"
	"math/big"
	"strings"

	"yideng/edu-market/edu-market-backend/internal/access"
	"yideng/edu-market/edu-market-backend/internal/chain"
)

// Schema versions of the persisted ledger state. New versions only add fields; existing
// fields are never renamed, reordered or removed.
const (
	SchemaV1 = 1
	// SchemaV2 adds Meta.Paused
	SchemaV2 = 2
)

// Meta is the singleton ledger record
type Meta struct {
	SchemaVersion           int      `json:"schema_version"`
	Implementation          string   `json:"implementation"`
	Name                    string   `json:"name"`
	Symbol                  string   `json:"symbol"`
	Decimals                uint8    `json:"decimals"`
	PurchaseRate            *big.Int `json:"purchase_rate"`
	InitialDistributionDone bool     `json:"initial_distribution_done"`
	TotalSupply             *big.Int `json:"total_supply"`
	TeamAllocation          *big.Int `json:"team_allocation"`
	MarketingAllocation     *big.Int `json:"marketing_allocation"`
	CommunityAllocation     *big.Int `json:"community_allocation"`
	// NativeReceived is native payment taken by purchases and not yet withdrawn
	NativeReceived *big.Int `json:"native_received"`

	Paused bool `json:"paused,omitempty"`
}

// Holding is one non-zero balance
type Holding struct {
	Account chain.Address `json:"account"`
	Balance *big.Int      `json:"balance"`
}

// Storage is the handle logic modules operate on. It owns the key layout; logic owns the rules.
type Storage struct {
	tx     *chain.Tx
	self   chain.Address
	roles  *access.Table
	prefix string
}

func (s *Storage) Tx() *chain.Tx { return s.tx }

// Self is the ledger address
func (s *Storage) Self() chain.Address { return s.self }

func (s *Storage) Roles() *access.Table { return s.roles }

func (s *Storage) metaKey() string { return s.prefix + "meta" }

func (s *Storage) balanceKey(a chain.Address) string { return s.prefix + "balance/" + string(a) }

func (s *Storage) allowanceKey(owner, spender chain.Address) string {
	return fmt.Sprintf("%sallowance/%s/%s", s.prefix, owner, spender)
}

func (s *Storage) Meta() (*Meta, error) {
	var m Meta
	ok, err := s.tx.GetJSON(s.metaKey(), &m)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return &m, nil
}

func (s *Storage) SaveMeta(m *Meta) error {
	return s.tx.PutJSON(s.metaKey(), m)
}

func (s *Storage) Balance(a chain.Address) (*big.Int, error) {
	return s.getAmount(s.balanceKey(a))
}

func (s *Storage) SetBalance(a chain.Address, v *big.Int) error {
	return s.putAmount(s.balanceKey(a), v)
}

func (s *Storage) Allowance(owner, spender chain.Address) (*big.Int, error) {
	return s.getAmount(s.allowanceKey(owner, spender))
}

func (s *Storage) SetAllowance(owner, spender chain.Address, v *big.Int) error {
	return s.putAmount(s.allowanceKey(owner, spender), v)
}

// Holdings lists every account with a non-zero balance
func (s *Storage) Holdings() ([]Holding, error) {
	prefix := s.prefix + "balance/"
	kvs, err := s.tx.Scan(prefix)
	if err != nil {
		return nil, err
	}
	out := make([]Holding, 0, len(kvs))
	for _, kv := range kvs {
		v, ok := new(big.Int).SetString(string(kv.Value), 10)
		if !ok {
			return nil, fmt.Errorf("corrupt balance at %s", kv.Key)
		}
		out = append(out, Holding{
			Account: chain.Address(strings.TrimPrefix(kv.Key, prefix)),
			Balance: v,
		})
	}
	return out, nil
}

func (s *Storage) getAmount(key string) (*big.Int, error) {
	raw, err := s.tx.GetState(key)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("corrupt amount at %s", key)
	}
	return v, nil
}

// putAmount deletes zero amounts so scans only see live entries
func (s *Storage) putAmount(key string, v *big.Int) error {
	if v == nil || v.Sign() == 0 {
		return s.tx.DelState(key)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("negative amount for %s", key)
	}
	return s.tx.PutState(key, []byte(v.String()))
}
