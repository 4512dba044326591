// Package loanmath holds the arithmetic both ledgers must agree on: collateral
// ratio, risk bands, simple interest, the repayment waterfall and the
// liquidation split. Every function is pure and works in whole wei with
// truncating division, matching uint256 contract arithmetic.
package loanmath

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"avelon-ledger/pkg/money"
)

const (
	BasisPoints = 10_000
	DaysPerYear = 365
	// MaxRatioBps is reported when nothing is owed but collateral is posted.
	MaxRatioBps uint32 = math.MaxUint32
)

var (
	ErrNegativeAmount = errors.New("loanmath: amount must not be negative")
	ErrOverpayment    = errors.New("loanmath: payment exceeds total owed")
	ErrThresholds     = errors.New("loanmath: invalid risk thresholds")
)

// CollateralRatioBps is floor(collateral * 10000 / totalOwed), saturating at
// MaxRatioBps. No collateral is always 0; collateral with no debt is MaxRatioBps.
func CollateralRatioBps(collateral, totalOwed money.Wei) uint32 {
	if collateral.Sign() <= 0 {
		return 0
	}
	if totalOwed.Sign() <= 0 {
		return MaxRatioBps
	}
	num := new(big.Int).Mul(collateral.BigInt(), big.NewInt(BasisPoints))
	ratio := num.Quo(num, totalOwed.BigInt())
	if !ratio.IsUint64() || ratio.Uint64() > uint64(MaxRatioBps) {
		return MaxRatioBps
	}
	return uint32(ratio.Uint64())
}

// Thresholds configure liquidation eligibility and borrower alerts.
type Thresholds struct {
	MinCollateralRatioBps     uint32 `json:"min_collateral_ratio_bps"`
	WarningCollateralRatioBps uint32 `json:"warning_collateral_ratio_bps"`
	LiquidationPenaltyBps     uint32 `json:"liquidation_penalty_bps"`
}

func (t Thresholds) Validate() error {
	if t.MinCollateralRatioBps == 0 || t.WarningCollateralRatioBps <= t.MinCollateralRatioBps {
		return fmt.Errorf("%w: need 0 < min (%d) < warning (%d)", ErrThresholds, t.MinCollateralRatioBps, t.WarningCollateralRatioBps)
	}
	if t.LiquidationPenaltyBps > BasisPoints {
		return fmt.Errorf("%w: penalty %d exceeds %d bps", ErrThresholds, t.LiquidationPenaltyBps, BasisPoints)
	}
	return nil
}

// Risk is the outcome of checking a ratio against Thresholds.
type Risk struct {
	Warning      bool `json:"warning"`
	Liquidatable bool `json:"liquidatable"`
}

func Assess(ratioBps uint32, t Thresholds) Risk {
	return Risk{
		Liquidatable: ratioBps < t.MinCollateralRatioBps,
		Warning:      ratioBps >= t.MinCollateralRatioBps && ratioBps < t.WarningCollateralRatioBps,
	}
}

// PercentBps returns floor(amount * bps / 10000).
func PercentBps(amount money.Wei, bps uint32) money.Wei {
	return amount.MulDiv(uint64(bps), BasisPoints)
}

// SimpleInterest returns floor(principal * rateBps * days / (10000 * 365)).
// The single division keeps the result identical to the contract's.
func SimpleInterest(principal money.Wei, rateBps, durationDays uint32) money.Wei {
	return principal.MulDiv(uint64(rateBps)*uint64(durationDays), BasisPoints*DaysPerYear)
}

// LiquidationSplit divides seized collateral into the treasury penalty and
// the share returned to the borrower.
func LiquidationSplit(collateral money.Wei, penaltyBps uint32) (returned, penalty money.Wei) {
	penalty = PercentBps(collateral, penaltyBps)
	return collateral.Sub(penalty), penalty
}

// Buckets are the three owed amounts in waterfall order.
type Buckets struct {
	Fees      money.Wei `json:"fees_owed"`
	Interest  money.Wei `json:"interest_owed"`
	Principal money.Wei `json:"principal_owed"`
}

func (b Buckets) Total() money.Wei { return b.Fees.Add(b.Interest).Add(b.Principal) }

// Allocation reports how a payment was split and what remains owed.
type Allocation struct {
	Remaining   Buckets
	ToFees      money.Wei
	ToInterest  money.Wei
	ToPrincipal money.Wei
	Applied     money.Wei
}

// Settled reports whether nothing remains owed after the payment.
func (a Allocation) Settled() bool { return a.Remaining.Total().IsZero() }

// Allocate applies payment to fees, then interest, then principal. A payment
// larger than the total owed is rejected rather than partially refunded.
func Allocate(payment money.Wei, owed Buckets) (Allocation, error) {
	if payment.Sign() < 0 || owed.Fees.Sign() < 0 || owed.Interest.Sign() < 0 || owed.Principal.Sign() < 0 {
		return Allocation{}, ErrNegativeAmount
	}
	if payment.GreaterThan(owed.Total()) {
		return Allocation{}, fmt.Errorf("%w: payment %s, owed %s", ErrOverpayment, payment, owed.Total())
	}

	remaining := payment
	take := func(bucket money.Wei) (left, applied money.Wei) {
		applied = money.Min(remaining, bucket)
		remaining = remaining.Sub(applied)
		return bucket.Sub(applied), applied
	}

	var a Allocation
	a.Remaining.Fees, a.ToFees = take(owed.Fees)
	a.Remaining.Interest, a.ToInterest = take(owed.Interest)
	a.Remaining.Principal, a.ToPrincipal = take(owed.Principal)
	a.Applied = payment.Sub(remaining)
	return a, nil
}
