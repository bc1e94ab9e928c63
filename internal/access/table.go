// Package access keeps per-component capability grants in world state.
package access

import (
	"encoding/hex"
	"fmt"

	"yideng/edu-market/edu-market-backend/internal/chain"
	"yideng/edu-market/edu-market-backend/pkg/apperr"
)

var ErrUnauthorized = apperr.New(apperr.KindUnauthorized, "Unauthorized", "caller lacks the required capability")

// Role is the keccak256 id of a capability name
type Role string

// DefaultAdminRole administers every other role of a component
const DefaultAdminRole Role = "0x0000000000000000000000000000000000000000000000000000000000000000"

func NewRole(name string) Role {
	return Role("0x" + hex.EncodeToString(chain.Keccak256([]byte(name))))
}

// Table is the authorization table of one component
type Table struct {
	component chain.Address
	prefix    string
}

func NewTable(component chain.Address) *Table {
	return &Table{
		component: component,
		prefix:    fmt.Sprintf("access/%s/", component),
	}
}

type grantRecord struct {
	Role      Role          `json:"role"`
	Account   chain.Address `json:"account"`
	GrantedBy chain.Address `json:"granted_by"`
}

type roleChange struct {
	Role    Role          `json:"role"`
	Account chain.Address `json:"account"`
	Sender  chain.Address `json:"sender"`
}

func (t *Table) key(role Role, account chain.Address) string {
	return fmt.Sprintf("%s%s/%s", t.prefix, role, account)
}

func (t *Table) Has(tx *chain.Tx, role Role, account chain.Address) (bool, error) {
	raw, err := tx.GetState(t.key(role, account))
	if err != nil {
		return false, err
	}
	return raw != nil, nil
}

// Require fails with ErrUnauthorized unless the sender of tx holds role
func (t *Table) Require(tx *chain.Tx, role Role) error {
	ok, err := t.Has(tx, role, tx.Sender())
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized.Withf("%s does not hold role %s on %s", tx.Sender(), role, t.component)
	}
	return nil
}

// Setup grants role without an admin check. Only component initializers call it.
func (t *Table) Setup(tx *chain.Tx, role Role, account chain.Address) error {
	_, err := t.grant(tx, role, account)
	return err
}

// Grant gives account the role. The sender must hold DefaultAdminRole. Granting twice is a no-op.
func (t *Table) Grant(tx *chain.Tx, role Role, account chain.Address) error {
	if err := t.Require(tx, DefaultAdminRole); err != nil {
		return err
	}
	if account.IsZero() {
		return apperr.ErrInvalidArgument.Withf("cannot grant a role to the zero address")
	}
	_, err := t.grant(tx, role, account)
	return err
}

// Revoke removes the role from account. Revoking a missing grant is a no-op.
func (t *Table) Revoke(tx *chain.Tx, role Role, account chain.Address) error {
	if err := t.Require(tx, DefaultAdminRole); err != nil {
		return err
	}
	return t.revoke(tx, role, account)
}

// Renounce removes the role from the sender
func (t *Table) Renounce(tx *chain.Tx, role Role) error {
	return t.revoke(tx, role, tx.Sender())
}

func (t *Table) grant(tx *chain.Tx, role Role, account chain.Address) (bool, error) {
	held, err := t.Has(tx, role, account)
	if err != nil || held {
		return false, err
	}
	rec := grantRecord{Role: role, Account: account, GrantedBy: tx.Sender()}
	if err := tx.PutJSON(t.key(role, account), rec); err != nil {
		return false, err
	}
	ev := roleChange{Role: role, Account: account, Sender: tx.Sender()}
	return true, tx.Emit(t.component, "RoleGranted", ev, account)
}

func (t *Table) revoke(tx *chain.Tx, role Role, account chain.Address) error {
	held, err := t.Has(tx, role, account)
	if err != nil || !held {
		return err
	}
	if err := tx.DelState(t.key(role, account)); err != nil {
		return err
	}
	ev := roleChange{Role: role, Account: account, Sender: tx.Sender()}
	return tx.Emit(t.component, "RoleRevoked", ev, account)
}
