package chain

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store persists world state. Commit must apply a batch atomically.
type Store interface {
	// Get returns nil, nil when the key is absent
	Get(ctx context.Context, key string) ([]byte, error)
	// Scan returns every entry under prefix in key order
	Scan(ctx context.Context, prefix string) ([]KV, error)
	Commit(ctx context.Context, batch *Batch) error
}

// Snapshotter is implemented by stores shared with other processes. Snapshot runs fn against a
// view in which every read observes the same committed state.
type Snapshotter interface {
	Snapshot(ctx context.Context, fn func(view Store) error) error
}

type KV struct {
	Key   string
	Value []byte
}

// Write is a pending mutation. Delete wins over Value.
type Write struct {
	Key    string
	Value  []byte
	Delete bool
}

// Batch is everything a successful submission commits
type Batch struct {
	Writes  []Write
	Receipt Receipt
}

// Event is a notification emitted by a component during a submission
type Event struct {
	Emitter  Address         `json:"emitter"`
	Name     string          `json:"name"`
	Payload  json.RawMessage `json:"payload"`
	Accounts []Address       `json:"accounts,omitempty"`
}

// Receipt describes a committed submission
type Receipt struct {
	TxID        string    `json:"tx_id"`
	Caller      Address   `json:"caller"`
	Method      string    `json:"method"`
	Events      []Event   `json:"events"`
	Accounts    []Address `json:"accounts"`
	CommittedAt time.Time `json:"committed_at"`
}

// Involves reports whether account is the caller or named by any event
func (r Receipt) Involves(account Address) bool {
	for _, a := range r.Accounts {
		if a == account {
			return true
		}
	}
	return false
}

// MemoryStore keeps state in process. Used by tests and the "memory" chain store setting.
type MemoryStore struct {
	mu       sync.RWMutex
	state    map[string][]byte
	receipts []Receipt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: make(map[string][]byte)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) Scan(ctx context.Context, prefix string) ([]KV, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []KV
	for k, v := range s.state {
		if strings.HasPrefix(k, prefix) {
			out = append(out, KV{Key: k, Value: append([]byte(nil), v...)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) Commit(ctx context.Context, batch *Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range batch.Writes {
		if w.Delete {
			delete(s.state, w.Key)
			continue
		}
		s.state[w.Key] = append([]byte(nil), w.Value...)
	}
	s.receipts = append(s.receipts, batch.Receipt)
	return nil
}

// Receipts returns committed receipts, oldest first
func (s *MemoryStore) Receipts() []Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Receipt(nil), s.receipts...)
}

// Len returns the number of stored keys
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state)
}
