// Package market sells courses for ledger credit and certifies their completion.
package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"yideng/edu-market/edu-market-backend/internal/access"
	"yideng/edu-market/edu-market-backend/internal/certificate"
	"yideng/edu-market/edu-market-backend/internal/chain"
	"yideng/edu-market/edu-market-backend/internal/token"
	"yideng/edu-market/edu-market-backend/pkg/apperr"
	"yideng/edu-market/edu-market-backend/pkg/units"
	"yideng/edu-market/edu-market-backend/pkg/workflows"
)

type Course struct {
	ID         uint64    `json:"id"`
	ExternalID string    `json:"web2_course_id"`
	Name       string    `json:"name"`
	Price      *big.Int  `json:"price"`
	Exists     bool      `json:"exists"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Purchase records that Buyer paid for a course. Records are never removed.
type Purchase struct {
	Buyer       chain.Address `json:"buyer"`
	ExternalID  string        `json:"web2_course_id"`
	Price       *big.Int      `json:"price"`
	TxID        string        `json:"tx_id"`
	PurchasedAt time.Time     `json:"purchased_at"`
}

// Settings are the administrator-controlled market parameters
type Settings struct {
	// Treasury receives course payments; empty means the market itself
	Treasury             chain.Address `json:"treasury,omitempty"`
	AllowRecertification bool          `json:"allow_recertification"`
}

type state struct {
	Settings
	CourseCount uint64 `json:"course_count"`
}

type courseEvent struct {
	ID         uint64   `json:"id"`
	ExternalID string   `json:"web2_course_id"`
	Name       string   `json:"name,omitempty"`
	Price      *big.Int `json:"price,omitempty"`
	Active     bool     `json:"active"`
}

type purchaseEvent struct {
	Buyer      chain.Address `json:"buyer"`
	ExternalID string        `json:"web2_course_id"`
	Price      *big.Int      `json:"price"`
	Treasury   chain.Address `json:"treasury"`
}

type completionEvent struct {
	Student    chain.Address `json:"student"`
	ExternalID string        `json:"web2_course_id"`
	TokenID    uint64        `json:"token_id"`
}

// Market holds references to the ledger it charges and the registry it mints on. Both
// calls run as the market's own address, so the market must hold the buyer's allowance
// and the registry's minting capability.
type Market struct {
	address  chain.Address
	roles    *access.Table
	prefix   string
	ledger   *token.Ledger
	registry *certificate.Registry
}

func NewMarket(address chain.Address, ledger *token.Ledger, registry *certificate.Registry) *Market {
	return &Market{
		address:  address,
		roles:    access.NewTable(address),
		prefix:   fmt.Sprintf("market/%s/", address),
		ledger:   ledger,
		registry: registry,
	}
}

func (m *Market) Address() chain.Address { return m.address }

func (m *Market) Roles() *access.Table { return m.roles }

func (m *Market) stateKey() string { return m.prefix + "state" }

func (m *Market) courseKey(id uint64) string { return fmt.Sprintf("%scourse/%020d", m.prefix, id) }

func (m *Market) externalKey(externalID string) string {
	return m.prefix + "external/" + url.PathEscape(externalID)
}

func (m *Market) purchaseKey(buyer chain.Address, externalID string) string {
	return fmt.Sprintf("%spurchase/%s/%s", m.prefix, buyer, url.PathEscape(externalID))
}

// Initialize stores the settings and makes the sender administrator
func (m *Market) Initialize(tx *chain.Tx, settings Settings) error {
	if _, err := m.state(tx); err == nil {
		return ErrAlreadyInitialized
	} else if !errors.Is(err, ErrNotInitialized) {
		return err
	}
	if err := tx.PutJSON(m.stateKey(), state{Settings: settings}); err != nil {
		return err
	}
	return m.roles.Setup(tx, access.DefaultAdminRole, tx.Sender())
}

func (m *Market) state(tx *chain.Tx) (*state, error) {
	var s state
	ok, err := tx.GetJSON(m.stateKey(), &s)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return &s, nil
}

func (m *Market) Settings(tx *chain.Tx) (*Settings, error) {
	s, err := m.state(tx)
	if err != nil {
		return nil, err
	}
	out := s.Settings
	if out.Treasury.IsZero() {
		out.Treasury = m.address
	}
	return &out, nil
}

func (m *Market) SetAllowRecertification(tx *chain.Tx, allow bool) error {
	return m.updateSettings(tx, func(s *Settings) error {
		s.AllowRecertification = allow
		return nil
	})
}

func (m *Market) SetTreasury(tx *chain.Tx, treasury chain.Address) error {
	return m.updateSettings(tx, func(s *Settings) error {
		if treasury.IsZero() {
			return apperr.ErrInvalidArgument.Withf("treasury must be non-zero")
		}
		s.Treasury = treasury
		return nil
	})
}

func (m *Market) updateSettings(tx *chain.Tx, update func(*Settings) error) error {
	if err := m.roles.Require(tx, access.DefaultAdminRole); err != nil {
		return err
	}
	s, err := m.state(tx)
	if err != nil {
		return err
	}
	if err := update(&s.Settings); err != nil {
		return err
	}
	if err := tx.PutJSON(m.stateKey(), s); err != nil {
		return err
	}
	return tx.Emit(m.address, "SettingsUpdated", s.Settings)
}

// AddCourse lists a course under the next sequential id. Administrator only.
func (m *Market) AddCourse(tx *chain.Tx, externalID, name string, price *big.Int) (*Course, error) {
	if err := m.roles.Require(tx, access.DefaultAdminRole); err != nil {
		return nil, err
	}
	if strings.TrimSpace(externalID) == "" {
		return nil, apperr.ErrInvalidArgument.Withf("course id is required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, apperr.ErrInvalidArgument.Withf("course name is required")
	}
	if !units.InRange(price) {
		return nil, apperr.ErrInvalidArgument.Withf("course price must be an integer in [0, 2^256)")
	}
	s, err := m.state(tx)
	if err != nil {
		return nil, err
	}
	if _, err := m.CourseByExternalID(tx, externalID); err == nil {
		return nil, ErrDuplicateCourseID.Withf("%q", externalID)
	} else if !errors.Is(err, ErrCourseNotFound) {
		return nil, err
	}

	s.CourseCount++
	course := &Course{
		ID:         s.CourseCount,
		ExternalID: externalID,
		Name:       name,
		Price:      new(big.Int).Set(price),
		Exists:     true,
		Active:     true,
		CreatedAt:  tx.Timestamp(),
	}
	if err := tx.PutJSON(m.courseKey(course.ID), course); err != nil {
		return nil, err
	}
	if err := tx.PutJSON(m.externalKey(externalID), course.ID); err != nil {
		return nil, err
	}
	if err := tx.PutJSON(m.stateKey(), s); err != nil {
		return nil, err
	}
	ev := courseEvent{ID: course.ID, ExternalID: externalID, Name: name, Price: course.Price, Active: true}
	if err := tx.Emit(m.address, "CourseAdded", ev); err != nil {
		return nil, err
	}
	return course, nil
}

// SetCourseActive opens or closes a course for new purchases
func (m *Market) SetCourseActive(tx *chain.Tx, externalID string, active bool) error {
	if err := m.roles.Require(tx, access.DefaultAdminRole); err != nil {
		return err
	}
	course, err := m.CourseByExternalID(tx, externalID)
	if err != nil {
		return err
	}
	if course.Active == active {
		return nil
	}
	course.Active = active
	if err := tx.PutJSON(m.courseKey(course.ID), course); err != nil {
		return err
	}
	ev := courseEvent{ID: course.ID, ExternalID: externalID, Active: active}
	return tx.Emit(m.address, "CourseStatusChanged", ev)
}

// PurchaseCourse charges the sender the course price through the ledger allowance and records
// the purchase. Ledger failures propagate unchanged.
func (m *Market) PurchaseCourse(tx *chain.Tx, externalID string) error {
	buyer := tx.Sender()
	course, err := m.CourseByExternalID(tx, externalID)
	if err != nil {
		return err
	}
	settings, err := m.Settings(tx)
	if err != nil {
		return err
	}
	status, err := m.Status(tx, buyer, externalID)
	if err != nil {
		return err
	}
	if !workflows.NewEnrollmentMachine(settings.AllowRecertification).CanTransition(status, workflows.StatePurchased) {
		return ErrAlreadyPurchased.Withf("%s already owns %q", buyer, externalID)
	}
	if !course.Active {
		return ErrCourseInactive.Withf("%q", externalID)
	}

	if err := m.ledger.TransferFrom(tx.Call(m.address), buyer, settings.Treasury, course.Price); err != nil {
		return err
	}
	rec := Purchase{
		Buyer:       buyer,
		ExternalID:  externalID,
		Price:       course.Price,
		TxID:        tx.ID(),
		PurchasedAt: tx.Timestamp(),
	}
	if err := tx.PutJSON(m.purchaseKey(buyer, externalID), rec); err != nil {
		return err
	}
	ev := purchaseEvent{Buyer: buyer, ExternalID: externalID, Price: course.Price, Treasury: settings.Treasury}
	return tx.Emit(m.address, "CoursePurchased", ev, buyer)
}

// VerifyCourseCompletion mints a completion certificate for a student who bought the course.
// Administrator only. A second verification fails with ErrAlreadyCertified unless
// recertification is allowed.
func (m *Market) VerifyCourseCompletion(tx *chain.Tx, student chain.Address, externalID string) (uint64, error) {
	if err := m.roles.Require(tx, access.DefaultAdminRole); err != nil {
		return 0, err
	}
	if _, err := m.CourseByExternalID(tx, externalID); err != nil {
		return 0, err
	}
	settings, err := m.Settings(tx)
	if err != nil {
		return 0, err
	}
	status, err := m.Status(tx, student, externalID)
	if err != nil {
		return 0, err
	}
	if status == workflows.StateNone {
		return 0, ErrNotPurchased.Withf("%s has not purchased %q", student, externalID)
	}
	if !workflows.NewEnrollmentMachine(settings.AllowRecertification).CanTransition(status, workflows.StateCertified) {
		return 0, ErrAlreadyCertified.Withf("%s already holds a certificate for %q", student, externalID)
	}

	id, err := m.registry.MintCertificate(tx.Call(m.address), student, externalID)
	if err != nil {
		return 0, err
	}
	ev := completionEvent{Student: student, ExternalID: externalID, TokenID: id}
	if err := tx.Emit(m.address, "CourseCompleted", ev, student); err != nil {
		return 0, err
	}
	return id, nil
}

// HasCourse reports whether account purchased the course
func (m *Market) HasCourse(tx *chain.Tx, account chain.Address, externalID string) (bool, error) {
	raw, err := tx.GetState(m.purchaseKey(account, externalID))
	if err != nil {
		return false, err
	}
	return raw != nil, nil
}

// PurchaseOf returns the purchase record, or nil when account never bought the course
func (m *Market) PurchaseOf(tx *chain.Tx, account chain.Address, externalID string) (*Purchase, error) {
	var rec Purchase
	ok, err := tx.GetJSON(m.purchaseKey(account, externalID), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

// Status is the enrollment state of account for the course
func (m *Market) Status(tx *chain.Tx, account chain.Address, externalID string) (string, error) {
	purchased, err := m.HasCourse(tx, account, externalID)
	if err != nil {
		return "", err
	}
	if !purchased {
		return workflows.StateNone, nil
	}
	certified, err := m.registry.HasCertificate(tx, account, externalID)
	if err != nil {
		return "", err
	}
	if certified {
		return workflows.StateCertified, nil
	}
	return workflows.StatePurchased, nil
}

func (m *Market) Course(tx *chain.Tx, id uint64) (*Course, error) {
	var c Course
	ok, err := tx.GetJSON(m.courseKey(id), &c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCourseNotFound.Withf("id %d", id)
	}
	return &c, nil
}

func (m *Market) CourseByExternalID(tx *chain.Tx, externalID string) (*Course, error) {
	var id uint64
	ok, err := tx.GetJSON(m.externalKey(externalID), &id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCourseNotFound.Withf("%q", externalID)
	}
	return m.Course(tx, id)
}

// ListCourses returns every course in id order
func (m *Market) ListCourses(tx *chain.Tx) ([]Course, error) {
	kvs, err := tx.Scan(m.prefix + "course/")
	if err != nil {
		return nil, err
	}
	out := make([]Course, 0, len(kvs))
	for _, kv := range kvs {
		var c Course
		if err := json.Unmarshal(kv.Value, &c); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kv.Key, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *Market) CourseCount(tx *chain.Tx) (uint64, error) {
	s, err := m.state(tx)
	if err != nil {
		return 0, err
	}
	return s.CourseCount, nil
}
