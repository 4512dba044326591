// Package contract is an in-process mirror of the AvelonLending,
// CollateralManager and RepaymentSchedule contracts. Arithmetic is checked
// uint256 with truncating division, exactly as the EVM executes it.
package contract

import (
	"errors"
	"math"

	"github.com/holiman/uint256"
)

// ErrRevert matches every revert raised by the mirror.
var ErrRevert = errors.New("execution reverted")

type RevertError struct{ Reason string }

func (e *RevertError) Error() string        { return ErrRevert.Error() + ": " + e.Reason }
func (e *RevertError) Is(target error) bool { return target == ErrRevert }

func revert(reason string) error { return &RevertError{Reason: reason} }

const (
	basisPoints    = 10_000
	daysPerYear    = 365
	secondsPerDay  = 86_400
	maxRatioBps    = math.MaxUint32
	installmentLen = 30
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func add(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, revert("arithmetic overflow")
	}
	return z, nil
}

func sub(a, b *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, revert("arithmetic underflow")
	}
	return z, nil
}

// mulDiv computes a*num/den the way a contract without mulDiv helpers does:
// multiply first (reverting on overflow), then divide.
func mulDiv(a *uint256.Int, num, den uint64) (*uint256.Int, error) {
	if den == 0 {
		return nil, revert("division by zero")
	}
	z, overflow := new(uint256.Int).MulOverflow(a, u(num))
	if overflow {
		return nil, revert("arithmetic overflow")
	}
	return z.Div(z, u(den)), nil
}

func minU(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// ratioBps is floor(collateral * 10000 / owed) with the same edge cases as
// the off-chain ledger.
func ratioBps(collateral, owed *uint256.Int) uint32 {
	if collateral.IsZero() {
		return 0
	}
	if owed.IsZero() {
		return maxRatioBps
	}
	num, overflow := new(uint256.Int).MulOverflow(collateral, u(basisPoints))
	if overflow {
		return maxRatioBps
	}
	r := num.Div(num, owed)
	if !r.IsUint64() || r.Uint64() > maxRatioBps {
		return maxRatioBps
	}
	return uint32(r.Uint64())
}

func simpleInterest(principal *uint256.Int, rateBps, days uint32) (*uint256.Int, error) {
	return mulDiv(principal, uint64(rateBps)*uint64(days), basisPoints*daysPerYear)
}

// allocate walks fees, interest, principal. It reverts on overpayment.
func allocate(payment *uint256.Int, owed [3]*uint256.Int) ([3]*uint256.Int, [3]*uint256.Int, error) {
	total, err := add(owed[0], owed[1])
	if err == nil {
		total, err = add(total, owed[2])
	}
	if err != nil {
		return owed, owed, err
	}
	if payment.Gt(total) {
		return owed, owed, revert("payment exceeds total owed")
	}
	remaining := payment.Clone()
	var left, applied [3]*uint256.Int
	for i, bucket := range owed {
		applied[i] = minU(remaining, bucket)
		remaining.Sub(remaining, applied[i])
		left[i] = new(uint256.Int).Sub(bucket, applied[i])
	}
	return left, applied, nil
}
