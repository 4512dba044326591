package loan

import "context"

type Repository interface {
	Create(ctx context.Context, l *Loan) error
	GetByLoanID(ctx context.Context, loanID string) (*Loan, error)
	// GetByLoanIDForUpdate locks the row until the surrounding transaction ends.
	GetByLoanIDForUpdate(ctx context.Context, loanID string) (*Loan, error)
	Save(ctx context.Context, l *Loan) error
	// ListByBorrower returns the borrower's loans, newest first. An empty
	// status matches every status.
	ListByBorrower(ctx context.Context, borrowerID string, status Status) ([]Loan, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Loan, error)
}
