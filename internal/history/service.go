package history

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Page is one page of a transaction listing
type Page struct {
	Transactions []*Transaction `json:"transactions"`
	Total        int            `json:"total"`
	Limit        int            `json:"limit"`
	Offset       int            `json:"offset"`
}

type Service struct {
	repo   Repository
	logger *zap.Logger
}

func NewService(repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger}
}

// List normalizes paging and returns matching transactions, newest first
func (s *Service) List(ctx context.Context, filters Filters) (*Page, error) {
	if filters.Limit <= 0 {
		filters.Limit = defaultLimit
	}
	if filters.Limit > maxLimit {
		filters.Limit = maxLimit
	}
	if filters.Offset < 0 {
		filters.Offset = 0
	}

	txs, total, err := s.repo.ListTransactions(ctx, &filters)
	if err != nil {
		s.logger.Error("Failed to list transactions",
			zap.String("account", filters.Account),
			zap.Error(err))
		return nil, err
	}
	return &Page{Transactions: txs, Total: total, Limit: filters.Limit, Offset: filters.Offset}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}
