package chain

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StateEntry is one world-state key
type StateEntry struct {
	Key       string    `gorm:"column:state_key;primaryKey;size:512"`
	Value     []byte    `gorm:"column:state_value;type:bytea;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (StateEntry) TableName() string { return "world_state" }

// TransactionRecord is the committed receipt of one submission
type TransactionRecord struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Caller      string         `gorm:"size:42;not null;index"`
	Method      string         `gorm:"size:128;not null"`
	Events      datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"`
	Accounts    datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"`
	CommittedAt time.Time      `gorm:"not null;index"`
}

func (TransactionRecord) TableName() string { return "chain_transactions" }

// GormStore keeps world state in postgres through gorm
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates the world_state and chain_transactions tables
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&StateEntry{}, &TransactionRecord{})
}

func (s *GormStore) Get(ctx context.Context, key string) ([]byte, error) {
	var entry StateEntry
	err := s.db.WithContext(ctx).Where("state_key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry.Value, nil
}

func (s *GormStore) Scan(ctx context.Context, prefix string) ([]KV, error) {
	var entries []StateEntry
	err := s.db.WithContext(ctx).
		Where("state_key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%").
		Order("state_key").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	out := make([]KV, 0, len(entries))
	for _, e := range entries {
		out = append(out, KV{Key: e.Key, Value: e.Value})
	}
	return out, nil
}

// Snapshot runs fn inside a read-only REPEATABLE READ transaction
func (s *GormStore) Snapshot(ctx context.Context, fn func(view Store) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	}, opts)
}

func (s *GormStore) Commit(ctx context.Context, batch *Batch) error {
	record, err := newTransactionRecord(batch.Receipt)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, w := range batch.Writes {
			if w.Delete {
				if err := tx.Where("state_key = ?", w.Key).Delete(&StateEntry{}).Error; err != nil {
					return fmt.Errorf("delete %s: %w", w.Key, err)
				}
				continue
			}
			entry := StateEntry{Key: w.Key, Value: w.Value}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "state_key"}},
				DoUpdates: clause.AssignmentColumns([]string{"state_value", "updated_at"}),
			}).Create(&entry).Error
			if err != nil {
				return fmt.Errorf("upsert %s: %w", w.Key, err)
			}
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("record transaction: %w", err)
		}
		return nil
	})
}

func newTransactionRecord(r Receipt) (*TransactionRecord, error) {
	id, err := uuid.Parse(r.TxID)
	if err != nil {
		return nil, fmt.Errorf("transaction id %q: %w", r.TxID, err)
	}
	events, err := json.Marshal(r.Events)
	if err != nil {
		return nil, err
	}
	accounts, err := json.Marshal(r.Accounts)
	if err != nil {
		return nil, err
	}
	return &TransactionRecord{
		ID:          id,
		Caller:      r.Caller.String(),
		Method:      r.Method,
		Events:      datatypes.JSON(events),
		Accounts:    datatypes.JSON(accounts),
		CommittedAt: r.CommittedAt,
	}, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
