// Package monitor runs the scheduled collateral sweep over active loans.
package monitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"avelon-ledger/internal/domain/event"
	domain "avelon-ledger/internal/domain/loan"
	"avelon-ledger/internal/domain/uow"
	"avelon-ledger/internal/infrastructure/metrics"
	loanuc "avelon-ledger/internal/usecase/loan"
	"avelon-ledger/internal/usecase/reconcile"
	"avelon-ledger/pkg/loanmath"
)

// Ledger is the part of the loan service the sweep drives.
type Ledger interface {
	LiquidateLoan(ctx context.Context, loanID string, actor loanuc.Actor) (*loanuc.LiquidationResult, error)
	ExpireLoan(ctx context.Context, loanID string, actor loanuc.Actor) (*loanuc.LoanView, error)
	Thresholds() loanmath.Thresholds
}

type Reconciler interface {
	Sweep(ctx context.Context, status domain.Status, limit int) ([]reconcile.Report, error)
}

type Config struct {
	Schedule      string
	AutoLiquidate bool
	ExpireOverdue bool
	// BatchSize caps loans per sweep; zero means all.
	BatchSize int
}

// Summary counts what one sweep did.
type Summary struct {
	Checked    int
	Warned     int
	Liquidated int
	Expired    int
	Drifted    int
	Failed     int
}

type Monitor struct {
	uow        uow.UnitOfWork
	ledger     Ledger
	reconciler Reconciler
	events     event.Publisher
	log        logrus.FieldLogger
	metrics    *metrics.LedgerMetrics
	cfg        Config
	now        func() time.Time
	cron       *cron.Cron
}

func New(tx uow.UnitOfWork, ledger Ledger, rec Reconciler, pub event.Publisher, log logrus.FieldLogger, m *metrics.LedgerMetrics, cfg Config) *Monitor {
	return &Monitor{
		uow:        tx,
		ledger:     ledger,
		reconciler: rec,
		events:     pub,
		log:        log.WithField("component", "monitor"),
		metrics:    m,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// Start schedules Sweep. Overlapping runs are skipped, not queued.
func (m *Monitor) Start() error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(m.cfg.Schedule, func() { m.Sweep(context.Background()) }); err != nil {
		return err
	}
	m.cron = c
	c.Start()
	m.log.WithField("schedule", m.cfg.Schedule).Info("risk sweep scheduled")
	return nil
}

// Stop waits for a running sweep to finish or ctx to expire.
func (m *Monitor) Stop(ctx context.Context) {
	if m.cron == nil {
		return
	}
	select {
	case <-m.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Sweep walks every active loan once. A failure on one loan is logged and
// the sweep moves on.
func (m *Monitor) Sweep(ctx context.Context) Summary {
	start := time.Now()
	defer func() { m.metrics.Sweep(time.Since(start)) }()

	var sum Summary
	r := m.uow.Repos()
	loans, err := r.Loans.ListByStatus(ctx, domain.StatusActive, m.cfg.BatchSize)
	if err != nil {
		m.log.WithError(err).Error("list active loans")
		sum.Failed++
		return sum
	}

	th := m.ledger.Thresholds()
	grace := map[string]uint32{}
	for i := range loans {
		l := &loans[i]
		sum.Checked++
		log := m.log.WithField("loan_id", l.LoanID)
		now := m.now()
		ratio := l.RatioBps()
		risk := loanmath.Assess(ratio, th)

		if risk.Liquidatable && m.cfg.AutoLiquidate {
			if _, err := m.ledger.LiquidateLoan(ctx, l.LoanID, loanuc.System); err != nil {
				log.WithError(err).Error("auto-liquidation failed")
				sum.Failed++
			} else {
				sum.Liquidated++
			}
			continue
		}

		if m.cfg.ExpireOverdue && !risk.Liquidatable {
			days, ok := grace[l.PlanID]
			if !ok {
				p, err := r.Plans.GetByPlanID(ctx, l.PlanID)
				if err != nil {
					log.WithError(err).Error("load plan")
					sum.Failed++
					continue
				}
				days = p.GracePeriodDays
				grace[l.PlanID] = days
			}
			if l.Overdue(now, days) {
				if _, err := m.ledger.ExpireLoan(ctx, l.LoanID, loanuc.System); err != nil {
					log.WithError(err).Error("expiry failed")
					sum.Failed++
				} else {
					sum.Expired++
				}
				continue
			}
		}

		if risk.Warning || risk.Liquidatable {
			m.events.Publish(ctx, event.New(event.TypeCollateralWarning, l.LoanID, now, event.Payload{
				BorrowerID:    l.BorrowerID,
				WalletAddress: l.WalletAddress,
				Status:        string(l.Status),
				RatioBps:      event.Bps(ratio),
				TotalOwed:     event.Wei(l.TotalOwed()),
			}))
			sum.Warned++
		}
	}

	if m.reconciler != nil {
		drifted, err := m.reconciler.Sweep(ctx, domain.StatusActive, m.cfg.BatchSize)
		if err != nil {
			m.log.WithError(err).Error("reconcile sweep")
			sum.Failed++
		}
		sum.Drifted = len(drifted)
	}

	m.log.WithFields(logrus.Fields{
		"checked":    sum.Checked,
		"warned":     sum.Warned,
		"liquidated": sum.Liquidated,
		"expired":    sum.Expired,
		"drifted":    sum.Drifted,
		"failed":     sum.Failed,
	}).Info("risk sweep done")
	return sum
}
