// Package certificate implements the append-only course completion registry.
package certificate

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"yideng/edu-market/edu-market-backend/internal/access"
	"yideng/edu-market/edu-market-backend/internal/chain"
	"yideng/edu-market/edu-market-backend/pkg/apperr"
)

var MinterRole = access.NewRole("MINTER_ROLE")

var (
	ErrCertificateNotFound = apperr.New(apperr.KindNotFound, "CertificateNotFound", "certificate not found")
	ErrAlreadyInitialized  = apperr.New(apperr.KindConflict, "AlreadyInitialized", "registry already initialized")
	ErrNotInitialized      = apperr.New(apperr.KindNotFound, "NotInitialized", "registry not initialized")
)

const (
	DefaultName   = "YiDeng Course Certificate"
	DefaultSymbol = "YDCC"
)

// Certificate proves that Holder completed the course identified by CourseID
type Certificate struct {
	TokenID     uint64        `json:"token_id"`
	Holder      chain.Address `json:"holder"`
	CourseID    string        `json:"web2_course_id"`
	IssuedAt    time.Time     `json:"issued_at"`
	MetadataURI string        `json:"metadata_uri,omitempty"`
}

type meta struct {
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
	BaseURI string `json:"base_uri"`
	// LastTokenID is the most recently issued id; ids start at 1
	LastTokenID uint64 `json:"last_token_id"`
}

// Info is the public registry summary
type Info struct {
	Address chain.Address `json:"address"`
	Name    string        `json:"name"`
	Symbol  string        `json:"symbol"`
	BaseURI string        `json:"base_uri"`
	Issued  uint64        `json:"issued"`
}

type mintedEvent struct {
	TokenID  uint64        `json:"token_id"`
	Holder   chain.Address `json:"holder"`
	CourseID string        `json:"web2_course_id"`
	Minter   chain.Address `json:"minter"`
}

type Registry struct {
	address chain.Address
	roles   *access.Table
	prefix  string
}

func NewRegistry(address chain.Address) *Registry {
	return &Registry{
		address: address,
		roles:   access.NewTable(address),
		prefix:  fmt.Sprintf("certificate/%s/", address),
	}
}

func (r *Registry) Address() chain.Address { return r.address }

func (r *Registry) Roles() *access.Table { return r.roles }

func (r *Registry) metaKey() string { return r.prefix + "meta" }

// zero padded so scans return certificates in id order
func (r *Registry) certKey(id uint64) string { return fmt.Sprintf("%scert/%020d", r.prefix, id) }

func (r *Registry) indexKey(holder chain.Address, courseID string) string {
	return fmt.Sprintf("%sindex/%s/%s", r.prefix, holder, url.PathEscape(courseID))
}

func (r *Registry) balanceKey(holder chain.Address) string { return r.prefix + "balance/" + string(holder) }

// Initialize records the registry metadata and makes the sender administrator and minter
func (r *Registry) Initialize(tx *chain.Tx, name, symbol, baseURI string) error {
	if _, err := r.meta(tx); err == nil {
		return ErrAlreadyInitialized
	} else if !errors.Is(err, ErrNotInitialized) {
		return err
	}
	if name == "" {
		name = DefaultName
	}
	if symbol == "" {
		symbol = DefaultSymbol
	}
	if err := tx.PutJSON(r.metaKey(), meta{Name: name, Symbol: symbol, BaseURI: baseURI}); err != nil {
		return err
	}
	if err := r.roles.Setup(tx, access.DefaultAdminRole, tx.Sender()); err != nil {
		return err
	}
	return r.roles.Setup(tx, MinterRole, tx.Sender())
}

func (r *Registry) meta(tx *chain.Tx) (*meta, error) {
	var m meta
	ok, err := tx.GetJSON(r.metaKey(), &m)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return &m, nil
}

// GrantMintingCapability lets account mint certificates. Administrator only.
func (r *Registry) GrantMintingCapability(tx *chain.Tx, account chain.Address) error {
	return r.roles.Grant(tx, MinterRole, account)
}

func (r *Registry) RevokeMintingCapability(tx *chain.Tx, account chain.Address) error {
	return r.roles.Revoke(tx, MinterRole, account)
}

func (r *Registry) IsMinter(tx *chain.Tx, account chain.Address) (bool, error) {
	return r.roles.Has(tx, MinterRole, account)
}

// MintCertificate issues the next certificate id to holder for courseID
func (r *Registry) MintCertificate(tx *chain.Tx, holder chain.Address, courseID string) (uint64, error) {
	if err := r.roles.Require(tx, MinterRole); err != nil {
		return 0, err
	}
	if holder.IsZero() {
		return 0, apperr.ErrInvalidArgument.Withf("certificate holder must be non-zero")
	}
	if strings.TrimSpace(courseID) == "" {
		return 0, apperr.ErrInvalidArgument.Withf("course id is required")
	}
	m, err := r.meta(tx)
	if err != nil {
		return 0, err
	}

	m.LastTokenID++
	id := m.LastTokenID
	cert := Certificate{
		TokenID:  id,
		Holder:   holder,
		CourseID: courseID,
		IssuedAt: tx.Timestamp(),
	}
	if m.BaseURI != "" {
		cert.MetadataURI = m.BaseURI + strconv.FormatUint(id, 10)
	}
	if err := tx.PutJSON(r.certKey(id), cert); err != nil {
		return 0, err
	}

	ids, err := r.GetStudentCertificates(tx, holder, courseID)
	if err != nil {
		return 0, err
	}
	if err := tx.PutJSON(r.indexKey(holder, courseID), append(ids, id)); err != nil {
		return 0, err
	}
	count, err := r.BalanceOf(tx, holder)
	if err != nil {
		return 0, err
	}
	if err := tx.PutState(r.balanceKey(holder), []byte(strconv.FormatUint(count+1, 10))); err != nil {
		return 0, err
	}
	if err := tx.PutJSON(r.metaKey(), m); err != nil {
		return 0, err
	}

	ev := mintedEvent{TokenID: id, Holder: holder, CourseID: courseID, Minter: tx.Sender()}
	if err := tx.Emit(r.address, "CertificateMinted", ev, holder); err != nil {
		return 0, err
	}
	return id, nil
}

// GetStudentCertificates returns the ids holder received for courseID in issue order
func (r *Registry) GetStudentCertificates(tx *chain.Tx, holder chain.Address, courseID string) ([]uint64, error) {
	var ids []uint64
	if _, err := tx.GetJSON(r.indexKey(holder, courseID), &ids); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []uint64{}
	}
	return ids, nil
}

func (r *Registry) HasCertificate(tx *chain.Tx, holder chain.Address, courseID string) (bool, error) {
	ids, err := r.GetStudentCertificates(tx, holder, courseID)
	if err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

func (r *Registry) Certificate(tx *chain.Tx, id uint64) (*Certificate, error) {
	var cert Certificate
	ok, err := tx.GetJSON(r.certKey(id), &cert)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCertificateNotFound.Withf("token %d", id)
	}
	return &cert, nil
}

func (r *Registry) OwnerOf(tx *chain.Tx, id uint64) (chain.Address, error) {
	cert, err := r.Certificate(tx, id)
	if err != nil {
		return "", err
	}
	return cert.Holder, nil
}

// BalanceOf counts the certificates held by holder
func (r *Registry) BalanceOf(tx *chain.Tx, holder chain.Address) (uint64, error) {
	raw, err := tx.GetState(r.balanceKey(holder))
	if err != nil || raw == nil {
		return 0, err
	}
	n, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt certificate balance for %s: %w", holder, err)
	}
	return n, nil
}

// CertificatesOf lists every certificate held by holder in id order
func (r *Registry) CertificatesOf(tx *chain.Tx, holder chain.Address) ([]Certificate, error) {
	kvs, err := tx.Scan(r.prefix + "cert/")
	if err != nil {
		return nil, err
	}
	out := []Certificate{}
	for _, kv := range kvs {
		var cert Certificate
		if err := json.Unmarshal(kv.Value, &cert); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kv.Key, err)
		}
		if cert.Holder == holder {
			out = append(out, cert)
		}
	}
	return out, nil
}

func (r *Registry) Info(tx *chain.Tx) (*Info, error) {
	m, err := r.meta(tx)
	if err != nil {
		return nil, err
	}
	return &Info{
		Address: r.address,
		Name:    m.Name,
		Symbol:  m.Symbol,
		BaseURI: m.BaseURI,
		Issued:  m.LastTokenID,
	}, nil
}
