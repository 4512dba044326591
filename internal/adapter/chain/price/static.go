// Package price supplies the ETH/USD snapshot taken at loan creation. Live
// oracles are out of scope; the price is operator supplied.
package price

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"avelon-ledger/internal/domain/chain"
)

var _ chain.PriceFeed = (*Static)(nil)

type Static struct {
	mu    sync.RWMutex
	price decimal.Decimal
}

// NewStatic parses a positive decimal such as "2456.50".
func NewStatic(usd string) (*Static, error) {
	p, err := decimal.NewFromString(usd)
	if err != nil {
		return nil, fmt.Errorf("eth price %q: %w", usd, err)
	}
	if !p.IsPositive() {
		return nil, fmt.Errorf("eth price %s must be positive", p)
	}
	return &Static{price: p}, nil
}

func (s *Static) ETHPrice(context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.price, nil
}

// Set replaces the price for loans created from now on. Existing loans keep
// their snapshot.
func (s *Static) Set(p decimal.Decimal) error {
	if !p.IsPositive() {
		return fmt.Errorf("eth price %s must be positive", p)
	}
	s.mu.Lock()
	s.price = p
	s.mu.Unlock()
	return nil
}
