package token

import "yideng/edu-market/edu-market-backend/pkg/apperr"

var (
	ErrAlreadyDistributed    = apperr.New(apperr.KindConflict, "AlreadyDistributed", "initial distribution already done")
	ErrZeroPayment           = apperr.New(apperr.KindInvalid, "ZeroPayment", "payment must be greater than zero")
	ErrInsufficientBalance   = apperr.New(apperr.KindFailedPrecondition, "InsufficientBalance", "insufficient balance")
	ErrInsufficientAllowance = apperr.New(apperr.KindFailedPrecondition, "InsufficientAllowance", "insufficient allowance")
	ErrPaused                = apperr.New(apperr.KindFailedPrecondition, "Paused", "ledger is paused")
	ErrNoPayments            = apperr.New(apperr.KindFailedPrecondition, "NoPayments", "no payments to withdraw")
	ErrAlreadyInitialized    = apperr.New(apperr.KindConflict, "AlreadyInitialized", "ledger already initialized")
	ErrNotInitialized        = apperr.New(apperr.KindNotFound, "NotInitialized", "ledger not initialized")
	ErrOverflow              = apperr.New(apperr.KindInvalid, "Overflow", "amount exceeds uint256")
	ErrUnknownVersion        = apperr.New(apperr.KindInvalid, "UnknownVersion", "unknown logic version")
)
