package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"yideng/edu-market/edu-market-backend/internal/chain"
	"yideng/edu-market/edu-market-backend/pkg/apperr"
)

var ErrTransactionNotFound = apperr.New(apperr.KindNotFound, "TransactionNotFound", "transaction not found")

// Repository defines read access to committed transactions
type Repository interface {
	ListTransactions(ctx context.Context, filters *Filters) ([]*Transaction, int, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error)
}

// PostgresRepository reads the chain_transactions table written by the gorm world-state store
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ListTransactions(ctx context.Context, filters *Filters) ([]*Transaction, int, error) {
	where, args := buildWhere(filters)

	var total int
	countQuery := "SELECT COUNT(*) FROM chain_transactions" + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	query := `
		SELECT id, caller, method, events, accounts, committed_at
		FROM chain_transactions` + where + `
		ORDER BY committed_at DESC, id
		LIMIT $` + fmt.Sprint(len(args)+1) + ` OFFSET $` + fmt.Sprint(len(args)+2)
	args = append(args, filters.Limit, filters.Offset)

	txs := []*Transaction{}
	if err := r.db.SelectContext(ctx, &txs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, total, nil
}

func (r *PostgresRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	query := `
		SELECT id, caller, method, events, accounts, committed_at
		FROM chain_transactions
		WHERE id = $1
	`
	var tx Transaction
	if err := r.db.GetContext(ctx, &tx, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound.Withf("%s", id)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &tx, nil
}

func buildWhere(filters *Filters) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if filters.Account != "" {
		args = append(args, filters.Account)
		conds = append(conds, fmt.Sprintf("accounts @> jsonb_build_array($%d::text)", len(args)))
	}
	if filters.Method != "" {
		args = append(args, filters.Method)
		conds = append(conds, fmt.Sprintf("method = $%d", len(args)))
	}
	if filters.Since != nil {
		args = append(args, *filters.Since)
		conds = append(conds, fmt.Sprintf("committed_at >= $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ReceiptSource is satisfied by chain.MemoryStore
type ReceiptSource interface {
	Receipts() []chain.Receipt
}

// ReceiptRepository serves history from an in-process receipt log
type ReceiptRepository struct {
	source ReceiptSource
}

func NewReceiptRepository(source ReceiptSource) *ReceiptRepository {
	return &ReceiptRepository{source: source}
}

func (r *ReceiptRepository) ListTransactions(ctx context.Context, filters *Filters) ([]*Transaction, int, error) {
	receipts := r.source.Receipts()
	matched := make([]*Transaction, 0, len(receipts))
	// newest first
	for i := len(receipts) - 1; i >= 0; i-- {
		rc := receipts[i]
		if filters.Account != "" && !rc.Involves(chain.Address(filters.Account)) {
			continue
		}
		if filters.Method != "" && rc.Method != filters.Method {
			continue
		}
		if filters.Since != nil && rc.CommittedAt.Before(*filters.Since) {
			continue
		}
		tx, err := FromReceipt(rc)
		if err != nil {
			return nil, 0, err
		}
		matched = append(matched, tx)
	}

	total := len(matched)
	start := min(filters.Offset, total)
	end := min(start+filters.Limit, total)
	return matched[start:end], total, nil
}

func (r *ReceiptRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	for _, rc := range r.source.Receipts() {
		if rc.TxID == id.String() {
			return FromReceipt(rc)
		}
	}
	return nil, ErrTransactionNotFound.Withf("%s", id)
}
