package history

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"yideng/edu-market/edu-market-backend/internal/chain"
)

// Transaction is one committed submission as shown to API clients
type Transaction struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	Caller      string      `db:"caller" json:"caller"`
	Method      string      `db:"method" json:"method"`
	Events      JSONArray   `db:"events" json:"events"`
	Accounts    StringArray `db:"accounts" json:"accounts"`
	CommittedAt time.Time   `db:"committed_at" json:"committed_at"`
}

// Filters narrow a transaction listing
type Filters struct {
	Account string
	Method  string
	Since   *time.Time
	Limit   int
	Offset  int
}

// JSONArray is a jsonb array column kept as raw JSON
type JSONArray json.RawMessage

// Value implements driver.Valuer
func (j JSONArray) Value() (driver.Value, error) {
	if j == nil {
		return []byte("[]"), nil
	}
	return []byte(j), nil
}

// Scan implements sql.Scanner
func (j *JSONArray) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = JSONArray("[]")
	case []byte:
		*j = append(JSONArray(nil), v...)
	case string:
		*j = JSONArray(v)
	default:
		return fmt.Errorf("unsupported jsonb value %T", value)
	}
	return nil
}

func (j JSONArray) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("[]"), nil
	}
	return j, nil
}

func (j *JSONArray) UnmarshalJSON(data []byte) error {
	*j = append(JSONArray(nil), data...)
	return nil
}

// StringArray is a jsonb array of strings
type StringArray []string

// Value implements driver.Valuer
func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(s))
}

// Scan implements sql.Scanner
func (s *StringArray) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*s = StringArray{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported jsonb value %T", value)
	}
	return json.Unmarshal(raw, (*[]string)(s))
}

// FromReceipt converts an executor receipt
func FromReceipt(r chain.Receipt) (*Transaction, error) {
	id, err := uuid.Parse(r.TxID)
	if err != nil {
		return nil, fmt.Errorf("receipt id %q: %w", r.TxID, err)
	}
	events, err := json.Marshal(r.Events)
	if err != nil {
		return nil, fmt.Errorf("encode events: %w", err)
	}
	accounts := make(StringArray, 0, len(r.Accounts))
	for _, a := range r.Accounts {
		accounts = append(accounts, a.String())
	}
	return &Transaction{
		ID:          id,
		Caller:      r.Caller.String(),
		Method:      r.Method,
		Events:      JSONArray(events),
		Accounts:    accounts,
		CommittedAt: r.CommittedAt,
	}, nil
}
