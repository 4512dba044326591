package contract

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Transfer is an outgoing ETH movement made by the escrow.
type Transfer struct {
	LoanID string
	To     common.Address
	Amount *uint256.Int
	Reason string
}

// CollateralManager escrows ETH per loan. Only the lending contract moves
// funds out.
type CollateralManager struct {
	mu        sync.RWMutex
	balances  map[string]*uint256.Int
	transfers []Transfer
}

func NewCollateralManager() *CollateralManager {
	return &CollateralManager{balances: make(map[string]*uint256.Int)}
}

func (c *CollateralManager) balance(loanID string) *uint256.Int {
	if b, ok := c.balances[loanID]; ok {
		return b
	}
	return new(uint256.Int)
}

func (c *CollateralManager) Deposit(loanID string, value *uint256.Int) error {
	if value == nil || value.IsZero() {
		return revert("zero deposit")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := add(c.balance(loanID), value)
	if err != nil {
		return err
	}
	c.balances[loanID] = b
	return nil
}

func (c *CollateralManager) move(loanID string, to common.Address, amount *uint256.Int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := sub(c.balance(loanID), amount)
	if err != nil {
		return revert("insufficient collateral")
	}
	c.balances[loanID] = b
	if !amount.IsZero() {
		c.transfers = append(c.transfers, Transfer{LoanID: loanID, To: to, Amount: amount.Clone(), Reason: reason})
	}
	return nil
}

// Release returns collateral to the borrower.
func (c *CollateralManager) Release(loanID string, to common.Address, amount *uint256.Int) error {
	return c.move(loanID, to, amount, "release")
}

// Seize sends the liquidation penalty to the treasury.
func (c *CollateralManager) Seize(loanID string, treasury common.Address, amount *uint256.Int) error {
	return c.move(loanID, treasury, amount, "seize")
}

func (c *CollateralManager) CollateralOf(loanID string) *uint256.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balance(loanID).Clone()
}

// Transfers returns a copy of every outgoing movement so far.
func (c *CollateralManager) Transfers() []Transfer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Transfer(nil), c.transfers...)
}
