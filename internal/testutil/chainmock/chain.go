// Package chainmock holds function-backed fakes for the blockchain
// collaborators.
package chainmock

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"avelon-ledger/internal/domain/chain"
)

var (
	_ chain.Verifier  = (*Verifier)(nil)
	_ chain.PriceFeed = (*PriceFeed)(nil)
	_ chain.Ledger    = (*Ledger)(nil)
)

var errUnimplemented = errors.New("chainmock: method not implemented")

type Verifier struct {
	VerifyFn func(ctx context.Context, txHash string) (chain.Verification, error)
	calls    atomic.Int64
}

// Calls reports how many times Verify ran.
func (m *Verifier) Calls() int { return int(m.calls.Load()) }

func (m *Verifier) Verify(ctx context.Context, txHash string) (chain.Verification, error) {
	m.calls.Add(1)
	if m.VerifyFn != nil {
		return m.VerifyFn(ctx, txHash)
	}
	return chain.Verification{}, errUnimplemented
}

// Fixed answers every hash with v.
func Fixed(v chain.Verification) *Verifier {
	return &Verifier{VerifyFn: func(context.Context, string) (chain.Verification, error) { return v, nil }}
}

// ByHash answers from a table and rejects unknown hashes as unconfirmed.
func ByHash(table map[string]chain.Verification) *Verifier {
	return &Verifier{VerifyFn: func(_ context.Context, h string) (chain.Verification, error) {
		return table[h], nil
	}}
}

type PriceFeed struct {
	Price decimal.Decimal
	Err   error
}

func (m *PriceFeed) ETHPrice(context.Context) (decimal.Decimal, error) { return m.Price, m.Err }

type Ledger struct {
	LoanStateFn func(ctx context.Context, loanID string) (chain.LoanState, error)
}

func (m *Ledger) LoanState(ctx context.Context, loanID string) (chain.LoanState, error) {
	if m.LoanStateFn != nil {
		return m.LoanStateFn(ctx, loanID)
	}
	return chain.LoanState{}, errUnimplemented
}
