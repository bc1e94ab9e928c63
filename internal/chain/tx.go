package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Tx is the view a component gets of one submission. Writes are buffered until the executor
// commits; nested views created with Call share the same buffer.
type Tx struct {
	ctx       context.Context
	store     Store
	id        string
	origin    Address
	sender    Address
	method    string
	timestamp time.Time
	readOnly  bool
	buf       *buffer
}

type buffer struct {
	writes map[string]Write
	events []Event
}

func newBuffer() *buffer {
	return &buffer{writes: make(map[string]Write)}
}

func (b *buffer) sortedWrites() []Write {
	keys := make([]string, 0, len(b.writes))
	for k := range b.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Write, 0, len(keys))
	for _, k := range keys {
		out = append(out, b.writes[k])
	}
	return out
}

func (t *Tx) Context() context.Context { return t.ctx }

// ID is the submission id, shared by nested calls
func (t *Tx) ID() string { return t.id }

// Origin is the account that submitted the transaction
func (t *Tx) Origin() Address { return t.origin }

// Sender is the immediate caller: the origin, or the component that made a nested call
func (t *Tx) Sender() Address { return t.sender }

func (t *Tx) Method() string { return t.method }

func (t *Tx) Timestamp() time.Time { return t.timestamp }

func (t *Tx) ReadOnly() bool { return t.readOnly }

// Call returns a view of the same submission in which from is the sender.
// Components use it when invoking another component on their own behalf.
func (t *Tx) Call(from Address) *Tx {
	nested := *t
	nested.sender = from
	return &nested
}

func (t *Tx) GetState(key string) ([]byte, error) {
	if w, ok := t.buf.writes[key]; ok {
		if w.Delete {
			return nil, nil
		}
		return append([]byte(nil), w.Value...), nil
	}
	v, err := t.store.Get(t.ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", key, err)
	}
	return v, nil
}

func (t *Tx) PutState(key string, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if key == "" {
		return fmt.Errorf("empty state key")
	}
	t.buf.writes[key] = Write{Key: key, Value: append([]byte(nil), value...)}
	return nil
}

func (t *Tx) DelState(key string) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.buf.writes[key] = Write{Key: key, Delete: true}
	return nil
}

// GetJSON decodes the value at key into v and reports whether the key exists
func (t *Tx) GetJSON(key string, v interface{}) (bool, error) {
	raw, err := t.GetState(key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode state %s: %w", key, err)
	}
	return true, nil
}

func (t *Tx) PutJSON(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", key, err)
	}
	return t.PutState(key, raw)
}

// Scan lists committed and buffered entries under prefix in key order
func (t *Tx) Scan(prefix string) ([]KV, error) {
	base, err := t.store.Scan(t.ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("scan state %s: %w", prefix, err)
	}
	merged := make(map[string][]byte, len(base))
	for _, kv := range base {
		merged[kv.Key] = kv.Value
	}
	for k, w := range t.buf.writes {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if w.Delete {
			delete(merged, k)
			continue
		}
		merged[k] = w.Value
	}
	out := make([]KV, 0, len(merged))
	for k, v := range merged {
		out = append(out, KV{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Emit records an event that is published only if the submission commits
func (t *Tx) Emit(emitter Address, name string, payload interface{}, accounts ...Address) error {
	if t.readOnly {
		return ErrReadOnly
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", name, err)
	}
	t.buf.events = append(t.buf.events, Event{
		Emitter:  emitter,
		Name:     name,
		Payload:  raw,
		Accounts: accounts,
	})
	return nil
}
