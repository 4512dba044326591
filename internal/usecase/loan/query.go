package loan

import (
	"context"

	"avelon-ledger/internal/apperr"
	"avelon-ledger/internal/domain/audit"
	domain "avelon-ledger/internal/domain/loan"
	"avelon-ledger/internal/domain/loantx"
	"avelon-ledger/internal/domain/plan"
)

func (u *Usecase) GetLoan(ctx context.Context, loanID string) (*LoanView, error) {
	l, err := u.uow.Repos().Loans.GetByLoanID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	v := viewOf(l, u.cfg.Thresholds)
	return &v, nil
}

// ListBorrowerLoans returns newest first. An empty status lists every loan.
func (u *Usecase) ListBorrowerLoans(ctx context.Context, borrowerID, status string) ([]LoanView, error) {
	var st domain.Status
	if status != "" {
		parsed, err := domain.ParseStatus(status)
		if err != nil {
			return nil, apperr.Validation("invalid_status", "unknown loan status %q", status)
		}
		st = parsed
	}
	loans, err := u.uow.Repos().Loans.ListByBorrower(ctx, borrowerID, st)
	if err != nil {
		return nil, err
	}
	out := make([]LoanView, 0, len(loans))
	for i := range loans {
		out = append(out, viewOf(&loans[i], u.cfg.Thresholds))
	}
	return out, nil
}

// History is the loan's transaction log in application order.
func (u *Usecase) History(ctx context.Context, loanID string) ([]loantx.Transaction, error) {
	r := u.uow.Repos()
	if _, err := r.Loans.GetByLoanID(ctx, loanID); err != nil {
		return nil, err
	}
	return r.Transactions.ListByLoanID(ctx, loanID)
}

func (u *Usecase) AuditTrail(ctx context.Context, loanID string) ([]audit.Record, error) {
	r := u.uow.Repos()
	if _, err := r.Loans.GetByLoanID(ctx, loanID); err != nil {
		return nil, err
	}
	return r.Audits.ListByLoanID(ctx, loanID)
}

func (u *Usecase) Plans(ctx context.Context) ([]plan.Plan, error) {
	return u.uow.Repos().Plans.ListActive(ctx)
}
