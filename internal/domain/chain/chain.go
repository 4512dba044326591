// Package chain describes what the ledger consumes from the blockchain side.
package chain

import (
	"context"

	"github.com/shopspring/decimal"

	"avelon-ledger/pkg/loanmath"
	"avelon-ledger/pkg/money"
)

// Verification is what a verifier learned about a transaction hash. Valid is
// false for anything not mined, reverted, or short of the confirmation depth.
type Verification struct {
	Valid       bool
	BlockNumber uint64
	From        string
	To          string
	Value       money.Wei
}

// Verifier confirms a transaction hash. An error means the node could not be
// asked; Valid == false is a definite rejection.
type Verifier interface {
	Verify(ctx context.Context, txHash string) (Verification, error)
}

// PriceFeed supplies the ETH price snapshotted at loan creation.
type PriceFeed interface {
	ETHPrice(ctx context.Context) (decimal.Decimal, error)
}

// LoanState is the on-chain view of a loan.
type LoanState struct {
	Status     string
	Owed       loanmath.Buckets
	Collateral money.Wei
	RatioBps   uint32
	Risk       loanmath.Risk
}

// Ledger reads the on-chain copy of a loan.
type Ledger interface {
	LoanState(ctx context.Context, loanID string) (LoanState, error)
}
