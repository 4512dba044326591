package borrower

import "context"

type Repository interface {
	// GetOrCreate returns the stats row for borrowerID, inserting an empty one
	// on first use.
	GetOrCreate(ctx context.Context, borrowerID string) (*Borrower, error)
	// Apply adds d to the stats row, creating it if needed. Concurrent
	// applies for one borrower never lose an update.
	Apply(ctx context.Context, borrowerID string, d Delta) error
	CreateWallet(ctx context.Context, w *Wallet) error
	GetWallet(ctx context.Context, walletID string) (*Wallet, error)
}
