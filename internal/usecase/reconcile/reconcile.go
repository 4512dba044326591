// Package reconcile compares the three views of a loan: its cached owed
// fields, the fold of its transaction log, and the on-chain copy. Drift is
// reported and never corrected here.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"avelon-ledger/internal/apperr"
	"avelon-ledger/internal/domain/chain"
	domain "avelon-ledger/internal/domain/loan"
	"avelon-ledger/internal/domain/loantx"
	"avelon-ledger/internal/domain/uow"
	"avelon-ledger/pkg/money"
)

type Report struct {
	LoanID     string    `json:"loan_id"`
	Status     string    `json:"status"`
	CheckedAt  time.Time `json:"checked_at"`
	LogDrift   []string  `json:"log_drift,omitempty"`
	ChainDrift []string  `json:"chain_drift,omitempty"`
}

func (r Report) Consistent() bool { return len(r.LogDrift) == 0 && len(r.ChainDrift) == 0 }

type Service struct {
	uow   uow.UnitOfWork
	chain chain.Ledger
	log   logrus.FieldLogger
	now   func() time.Time
}

// NewService builds a reconciler. A nil ledger skips the on-chain comparison.
func NewService(tx uow.UnitOfWork, ledger chain.Ledger, log logrus.FieldLogger) *Service {
	return &Service{uow: tx, chain: ledger, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Check holds the loan lock while it reads the row and its log, so a
// mutation in flight is seen entirely or not at all. Nothing is written.
func (s *Service) Check(ctx context.Context, loanID string) (*Report, error) {
	var (
		l   *domain.Loan
		txs []loantx.Transaction
	)
	err := s.uow.WithinLoanTx(ctx, loanID, func(r uow.Repos, locked *domain.Loan) error {
		var err error
		txs, err = r.Transactions.ListByLoanID(ctx, loanID)
		l = locked
		return err
	})
	if err != nil {
		return nil, err
	}
	rep := &Report{LoanID: l.LoanID, Status: string(l.Status), CheckedAt: s.now()}

	if st, err := domain.Replay(l, txs); err != nil {
		rep.LogDrift = append(rep.LogDrift, fmt.Sprintf("log does not replay: %v", err))
	} else {
		rep.LogDrift = st.Drift(l)
	}

	if s.chain != nil {
		cs, err := s.chain.LoanState(ctx, loanID)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			rep.ChainDrift = append(rep.ChainDrift, "loan is missing on chain")
		case err != nil:
			return nil, err
		default:
			rep.ChainDrift = compare(l, cs)
		}
	}

	if !rep.Consistent() {
		s.log.WithFields(logrus.Fields{
			"loan_id":     loanID,
			"log_drift":   rep.LogDrift,
			"chain_drift": rep.ChainDrift,
		}).Warn("ledger drift")
	}
	return rep, nil
}

func compare(l *domain.Loan, cs chain.LoanState) []string {
	var out []string
	if cs.Status != string(l.Status) {
		out = append(out, fmt.Sprintf("status: off-chain %s, on-chain %s", l.Status, cs.Status))
	}
	wei := func(field string, off, on money.Wei) {
		if !off.Equal(on) {
			out = append(out, fmt.Sprintf("%s: off-chain %s, on-chain %s", field, off, on))
		}
	}
	wei("fees_owed", l.FeesOwed, cs.Owed.Fees)
	wei("interest_owed", l.InterestOwed, cs.Owed.Interest)
	wei("principal_owed", l.PrincipalOwed, cs.Owed.Principal)
	wei("collateral", l.CollateralDeposited, cs.Collateral)
	if ratio := l.RatioBps(); ratio != cs.RatioBps {
		out = append(out, fmt.Sprintf("collateral_ratio_bps: off-chain %d, on-chain %d", ratio, cs.RatioBps))
	}
	return out
}

// Sweep checks every loan in status and returns only the inconsistent
// reports. A loan that cannot be read is logged and skipped.
func (s *Service) Sweep(ctx context.Context, status domain.Status, limit int) ([]Report, error) {
	loans, err := s.uow.Repos().Loans.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, err
	}
	var out []Report
	for _, l := range loans {
		rep, err := s.Check(ctx, l.LoanID)
		if err != nil {
			s.log.WithError(err).WithField("loan_id", l.LoanID).Error("reconcile failed")
			continue
		}
		if !rep.Consistent() {
			out = append(out, *rep)
		}
	}
	return out, nil
}
