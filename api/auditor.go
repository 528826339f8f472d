/*
auditor.go - Periodic balance audit

PURPOSE:
  Every mutation is checked before it commits, so no pair should ever be
  negative. The auditor re-reads the full balance on an interval and reports
  any pair that is, which can only happen through writes that bypass the
  ledger (manual SQL, a restored backup).

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Logs each negative pair at error level
  - Reports counts to an AuditObserver (metrics.Recorder)

USAGE:
  auditor := NewBalanceAuditor(handler.Ledger, logger, recorder)
  auditor.Start()
  // ... later
  auditor.Stop()
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/warehouse-ledger/warehouse"
)

// AuditObserver receives the outcome of each audit run.
type AuditObserver interface {
	ObserveAudit(pairs, negative int)
}

// AuditReport is the result of one audit run.
type AuditReport struct {
	CheckedAt time.Time
	Pairs     int
	Negative  []warehouse.BalanceEntry
}

// BalanceAuditor periodically verifies that no balance is negative.
type BalanceAuditor struct {
	Ledger        *warehouse.Ledger
	CheckInterval time.Duration

	logger   *zap.Logger
	observer AuditObserver

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	last   *AuditReport
}

// NewBalanceAuditor creates an auditor. observer may be nil.
func NewBalanceAuditor(ledger *warehouse.Ledger, logger *zap.Logger, observer AuditObserver) *BalanceAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BalanceAuditor{
		Ledger:        ledger,
		CheckInterval: 1 * time.Hour,
		logger:        logger,
		observer:      observer,
	}
}

// Start begins the audit loop. A non-positive interval disables it.
func (a *BalanceAuditor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.CheckInterval <= 0 || a.ticker != nil {
		a.logger.Info("balance auditor not started", zap.Duration("interval", a.CheckInterval))
		return
	}

	a.ticker = time.NewTicker(a.CheckInterval)
	a.stop = make(chan struct{})
	a.wg.Add(1)
	go a.run(a.ticker, a.stop)

	a.logger.Info("balance auditor started", zap.Duration("interval", a.CheckInterval))
}

// Stop stops the audit loop and waits for a running check to finish.
func (a *BalanceAuditor) Stop() {
	a.mu.Lock()
	if a.ticker == nil {
		a.mu.Unlock()
		return
	}
	a.ticker.Stop()
	close(a.stop)
	a.ticker = nil
	a.mu.Unlock()

	a.wg.Wait()
	a.logger.Info("balance auditor stopped")
}

func (a *BalanceAuditor) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer a.wg.Done()

	// Run immediately on start
	a.RunNow(context.Background())

	for {
		select {
		case <-ticker.C:
			a.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow performs one audit and returns its report.
func (a *BalanceAuditor) RunNow(ctx context.Context) (AuditReport, error) {
	entries, err := a.Ledger.GetBalance(ctx, warehouse.BalanceFilter{})
	if err != nil {
		a.logger.Error("balance audit failed", zap.Error(err))
		return AuditReport{}, err
	}

	report := AuditReport{CheckedAt: time.Now().UTC(), Pairs: len(entries)}
	for _, e := range entries {
		if e.Quantity < 0 {
			report.Negative = append(report.Negative, e)
			a.logger.Error("negative balance found",
				zap.Int64("resource_id", e.ResourceID),
				zap.String("resource", e.ResourceName),
				zap.Int64("unit_id", e.UnitID),
				zap.String("unit", e.UnitName),
				zap.Int64("quantity", e.Quantity))
		}
	}
	if a.observer != nil {
		a.observer.ObserveAudit(report.Pairs, len(report.Negative))
	}

	a.mu.Lock()
	a.last = &report
	a.mu.Unlock()
	return report, nil
}

// LastReport returns the most recent report, or nil before the first run.
func (a *BalanceAuditor) LastReport() *AuditReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}
