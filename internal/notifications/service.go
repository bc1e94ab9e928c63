package notifications

import (
	"go.uber.org/zap"

	"yideng/edu-market/edu-market-backend/internal/chain"
)

// Broadcaster delivers messages to connected clients
type Broadcaster interface {
	Broadcast(message Message) error
}

// Service forwards committed transactions to live subscribers
type Service struct {
	broadcaster Broadcaster
	logger      *zap.Logger
}

func NewService(broadcaster Broadcaster, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{broadcaster: broadcaster, logger: logger}
}

// Attach subscribes to exec and returns the function that detaches it
func (s *Service) Attach(exec *chain.Executor) func() {
	return exec.Subscribe(s.Publish)
}

// Publish never blocks; a full buffer drops the message
func (s *Service) Publish(r chain.Receipt) {
	if err := s.broadcaster.Broadcast(TransactionMessage(r)); err != nil {
		s.logger.Warn("Dropped transaction notification",
			zap.String("tx_id", r.TxID),
			zap.String("method", r.Method),
			zap.Error(err))
	}
}
