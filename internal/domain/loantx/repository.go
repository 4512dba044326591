package loantx

import "context"

type Repository interface {
	// Append inserts t; a TxHash already present anywhere fails the insert.
	Append(ctx context.Context, t *Transaction) error
	ExistsByTxHash(ctx context.Context, txHash string) (bool, error)
	// ListByLoanID returns the loan's log in application order.
	ListByLoanID(ctx context.Context, loanID string) ([]Transaction, error)
}
