package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"yideng/edu-market/edu-market-backend/pkg/apperr"
)

var (
	ErrReadOnly = apperr.New(apperr.KindInternal, "ReadOnly", "state writes are not allowed in a query")
	ErrNoCaller = apperr.New(apperr.KindUnauthorized, "Unauthorized", "transaction has no caller")
)

// Executor serializes submissions against a Store. A submission either commits every buffered
// write and event or, when its function returns an error, discards all of them.
type Executor struct {
	mu     sync.RWMutex
	store  Store
	logger *zap.Logger
	now    func() time.Time

	subMu       sync.RWMutex
	subscribers map[int]func(Receipt)
	nextSub     int
}

func NewExecutor(store Store, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		store:       store,
		logger:      logger,
		now:         time.Now,
		subscribers: make(map[int]func(Receipt)),
	}
}

// SetClock overrides the timestamp source
func (e *Executor) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

func (e *Executor) Store() Store {
	return e.store
}

// Submit runs fn as one atomic state transition on behalf of caller
func (e *Executor) Submit(ctx context.Context, caller Address, method string, fn func(tx *Tx) error) (*Receipt, error) {
	if caller.IsZero() {
		return nil, ErrNoCaller
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx := e.newTx(ctx, caller, method, false)
	if err := fn(tx); err != nil {
		e.logger.Debug("Transaction reverted",
			zap.String("tx_id", tx.id),
			zap.String("method", method),
			zap.String("caller", caller.String()),
			zap.Error(err))
		return nil, err
	}

	receipt := Receipt{
		TxID:        tx.id,
		Caller:      caller,
		Method:      method,
		Events:      tx.buf.events,
		Accounts:    involvedAccounts(caller, tx.buf.events),
		CommittedAt: tx.timestamp,
	}
	if receipt.Events == nil {
		receipt.Events = []Event{}
	}

	batch := &Batch{Writes: tx.buf.sortedWrites(), Receipt: receipt}
	if err := e.store.Commit(ctx, batch); err != nil {
		e.logger.Error("Failed to commit transaction",
			zap.String("tx_id", tx.id),
			zap.String("method", method),
			zap.Error(err))
		return nil, fmt.Errorf("commit transaction %s: %w", tx.id, err)
	}

	e.logger.Info("Transaction committed",
		zap.String("tx_id", tx.id),
		zap.String("method", method),
		zap.String("caller", caller.String()),
		zap.Int("writes", len(batch.Writes)),
		zap.Int("events", len(receipt.Events)))

	e.publish(receipt)
	return &receipt, nil
}

// Query runs fn against committed state. Writes and events are rejected. On a Snapshotter
// store every read in fn comes from one snapshot, so commits made by other processes while fn
// runs are not observed halfway.
func (e *Executor) Query(ctx context.Context, caller Address, fn func(tx *Tx) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap, ok := e.store.(Snapshotter)
	if !ok {
		return fn(e.newTx(ctx, caller, "query", true))
	}
	return snap.Snapshot(ctx, func(view Store) error {
		tx := e.newTx(ctx, caller, "query", true)
		tx.store = view
		return fn(tx)
	})
}

// Subscribe registers fn for every committed receipt. Subscribers run while submissions are
// serialized, so they must not block or submit.
func (e *Executor) Subscribe(fn func(Receipt)) (unsubscribe func()) {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = fn
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		delete(e.subscribers, id)
		e.subMu.Unlock()
	}
}

func (e *Executor) publish(r Receipt) {
	e.subMu.RLock()
	defer e.subMu.RUnlock()
	for _, fn := range e.subscribers {
		fn(r)
	}
}

func (e *Executor) newTx(ctx context.Context, caller Address, method string, readOnly bool) *Tx {
	return &Tx{
		ctx:       ctx,
		store:     e.store,
		id:        uuid.New().String(),
		origin:    caller,
		sender:    caller,
		method:    method,
		timestamp: e.now().UTC(),
		readOnly:  readOnly,
		buf:       newBuffer(),
	}
}

func involvedAccounts(caller Address, events []Event) []Address {
	seen := map[Address]bool{caller: true}
	out := []Address{caller}
	for _, ev := range events {
		for _, a := range ev.Accounts {
			if a.IsZero() || seen[a] {
				continue
			}
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}
