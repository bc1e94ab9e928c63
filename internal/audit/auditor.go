// Package audit periodically checks ledger supply against the sum of balances.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"yideng/edu-market/edu-market-backend/internal/chain"
	"yideng/edu-market/edu-market-backend/internal/token"
)

const DefaultSchedule = "0 */5 * * * *"

// Ledger is the part of the credit ledger the auditor reads
type Ledger interface {
	Audit(tx *chain.Tx) (*token.SupplyReport, error)
}

// Result is one completed check
type Result struct {
	Report    *token.SupplyReport `json:"report"`
	CheckedAt time.Time           `json:"checked_at"`
}

// Auditor runs supply checks on a cron schedule with seconds precision
type Auditor struct {
	exec     *chain.Executor
	ledger   Ledger
	logger   *zap.Logger
	schedule string
	cron     *cron.Cron

	mu      sync.RWMutex
	running bool
	entry   cron.EntryID
	last    *Result
}

func NewAuditor(exec *chain.Executor, ledger Ledger, logger *zap.Logger, schedule string) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Auditor{
		exec:     exec,
		ledger:   ledger,
		logger:   logger,
		schedule: schedule,
		cron:     cron.New(cron.WithSeconds()),
	}
}

// Start schedules the check and runs it once immediately
func (a *Auditor) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("auditor already running")
	}
	a.running = true
	schedule := a.schedule
	a.mu.Unlock()

	entry, err := a.cron.AddFunc(schedule, func() {
		if _, err := a.Check(ctx); err != nil {
			a.logger.Error("Supply audit failed", zap.Error(err))
		}
	})
	a.mu.Lock()
	if err != nil {
		a.running = false
		a.mu.Unlock()
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	a.entry = entry
	a.mu.Unlock()

	a.logger.Info("Starting supply auditor", zap.String("cron", schedule))
	a.cron.Start()

	if _, err := a.Check(ctx); err != nil {
		a.logger.Error("Supply audit failed", zap.Error(err))
	}
	return nil
}

// Stop waits for a running check to finish. The lock is released first because that check
// stores its result under it.
func (a *Auditor) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	entry := a.entry
	a.mu.Unlock()

	a.logger.Info("Stopping supply auditor")
	<-a.cron.Stop().Done()
	a.cron.Remove(entry)
}

// SetSchedule replaces the cron expression used by the next Start
func (a *Auditor) SetSchedule(schedule string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.schedule = schedule
}

// Check audits the committed ledger state now
func (a *Auditor) Check(ctx context.Context) (*Result, error) {
	var report *token.SupplyReport
	err := a.exec.Query(ctx, "", func(tx *chain.Tx) error {
		var err error
		report, err = a.ledger.Audit(tx)
		return err
	})
	if err != nil {
		return nil, err
	}

	result := &Result{Report: report, CheckedAt: time.Now().UTC()}
	a.mu.Lock()
	a.last = result
	a.mu.Unlock()

	if !report.Balanced {
		a.logger.Error("Ledger supply mismatch",
			zap.String("total_supply", report.TotalSupply.String()),
			zap.String("sum_of_balances", report.SumOfBalances.String()),
			zap.Int("holders", report.Holders))
	} else {
		a.logger.Debug("Ledger supply balanced",
			zap.String("total_supply", report.TotalSupply.String()),
			zap.Int("holders", report.Holders))
	}
	return result, nil
}

// Last returns the most recent result, or nil before the first check
func (a *Auditor) Last() *Result {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last
}
