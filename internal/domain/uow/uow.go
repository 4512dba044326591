package uow

import (
	"context"

	"avelon-ledger/internal/domain/audit"
	"avelon-ledger/internal/domain/borrower"
	"avelon-ledger/internal/domain/loan"
	"avelon-ledger/internal/domain/loantx"
	"avelon-ledger/internal/domain/plan"
)

// Repos are bound to one transaction.
type Repos struct {
	Loans        loan.Repository
	Transactions loantx.Repository
	Borrowers    borrower.Repository
	Plans        plan.Repository
	Audits       audit.Repository
}

type UnitOfWork interface {
	// Repos are not bound to a transaction; use them for reads.
	Repos() Repos
	// plain tx
	WithinTx(ctx context.Context, fn func(r Repos) error) error
	// WithinLoanTx serializes on loanID for the whole of fn and hands over the
	// locked loan. A returned error rolls everything back.
	WithinLoanTx(ctx context.Context, loanID string, fn func(r Repos, l *loan.Loan) error) error
}
