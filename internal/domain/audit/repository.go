package audit

import "context"

type Repository interface {
	Append(ctx context.Context, r *Record) error
	ListByLoanID(ctx context.Context, loanID string) ([]Record, error)
}
