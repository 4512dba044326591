package loan

import (
	"time"

	"github.com/shopspring/decimal"

	"avelon-ledger/internal/apperr"
	"avelon-ledger/internal/domain/borrower"
	"avelon-ledger/internal/domain/loantx"
	"avelon-ledger/internal/domain/plan"
	"avelon-ledger/pkg/loanmath"
	"avelon-ledger/pkg/money"
)

const day = 24 * time.Hour

// Application is an eligibility-checked request to open a loan.
type Application struct {
	LoanID       string
	Identity     borrower.Identity
	Wallet       *borrower.Wallet
	Plan         *plan.Plan
	Principal    money.Wei
	DurationDays uint32
	EthPrice     decimal.Decimal
}

// New opens a loan in PendingCollateral. Credit score, price and terms are
// snapshotted here and never recomputed.
func New(a Application, at time.Time) (*Loan, error) {
	switch {
	case a.Wallet == nil || a.Wallet.BorrowerID != a.Identity.UserID:
		return nil, apperr.Forbidden("wallet_not_owned", "wallet does not belong to borrower %s", a.Identity.UserID)
	case a.Identity.WalletAddress != "" && !borrower.SameAddress(a.Wallet.Address, a.Identity.WalletAddress):
		return nil, apperr.Forbidden("wallet_not_owned", "wallet address does not match the authenticated wallet")
	case a.Plan == nil || !a.Plan.Active:
		return nil, apperr.Validation("plan_inactive", "plan is not available")
	case a.Principal.Sign() <= 0:
		return nil, apperr.Validation("invalid_amount", "principal must be positive")
	case !a.Plan.AllowsAmount(a.Principal):
		return nil, apperr.Validation("amount_out_of_range", "principal %s outside plan range [%s, %s]", a.Principal, a.Plan.MinAmount, a.Plan.MaxAmount)
	case !a.Plan.AllowsDuration(a.DurationDays):
		return nil, apperr.Validation("duration_not_offered", "duration %d days is not offered by plan %s", a.DurationDays, a.Plan.PlanID)
	case a.Identity.CreditScore == nil:
		return nil, apperr.Forbidden("credit_score_missing", "borrower has no credit score")
	case *a.Identity.CreditScore < a.Plan.MinCreditScore:
		return nil, apperr.Forbidden("credit_score_too_low", "credit score %d below plan minimum %d", *a.Identity.CreditScore, a.Plan.MinCreditScore)
	}

	fee := loanmath.PercentBps(a.Principal, a.Plan.OriginationFeeBps)
	return &Loan{
		LoanID:              a.LoanID,
		BorrowerID:          a.Identity.UserID,
		WalletID:            a.Wallet.WalletID,
		WalletAddress:       a.Wallet.Address,
		PlanID:              a.Plan.PlanID,
		Principal:           a.Principal,
		CollateralRequired:  loanmath.PercentBps(a.Principal, a.Plan.CollateralRatioBps),
		OriginationFee:      fee,
		PrincipalOwed:       a.Principal,
		FeesOwed:            fee,
		CreditScoreSnapshot: *a.Identity.CreditScore,
		EthPriceSnapshot:    a.EthPrice,
		InterestRateBps:     a.Plan.InterestRateBps,
		DurationDays:        a.DurationDays,
		Status:              StatusPendingCollateral,
		StatusUpdatedAt:     at,
		CreatedAt:           at,
	}, nil
}

func (l *Loan) entry(typ loantx.Type, amount money.Wei, md loantx.Metadata) loantx.Transaction {
	return loantx.Transaction{
		LoanID:   l.LoanID,
		Seq:      l.NextSeq(),
		Type:     typ,
		Amount:   amount,
		Metadata: loantx.NewMetadata(md),
	}
}

// DepositCollateral credits a verified deposit. A first deposit happens in
// PendingCollateral; once the requirement is met the loan moves to
// CollateralDeposited. In Active it is a top-up.
// AcceptsDeposit reports whether a collateral deposit may be recorded now.
func (l *Loan) AcceptsDeposit() error {
	return requireStatus(l, "deposit_collateral", StatusPendingCollateral, StatusActive)
}

func (l *Loan) DepositCollateral(from string, amount money.Wei, at time.Time) (loantx.Transaction, error) {
	if err := l.AcceptsDeposit(); err != nil {
		return loantx.Transaction{}, err
	}
	if amount.Sign() <= 0 {
		return loantx.Transaction{}, apperr.Validation("invalid_amount", "deposit amount must be positive")
	}
	if !borrower.SameAddress(from, l.WalletAddress) {
		return loantx.Transaction{}, apperr.Forbidden("wallet_mismatch", "deposit sender %s is not the loan wallet", from)
	}

	typ := loantx.TypeCollateralDeposit
	if l.Status == StatusActive {
		typ = loantx.TypeCollateralTopup
	}
	l.CollateralDeposited = l.CollateralDeposited.Add(amount)

	if l.Status == StatusPendingCollateral && !l.CollateralDeposited.LessThan(l.CollateralRequired) {
		if err := l.transition("deposit_collateral", StatusCollateralDeposited, at); err != nil {
			return loantx.Transaction{}, err
		}
		t := at
		l.CollateralDepositedAt = &t
	}
	return l.entry(typ, amount, loantx.Metadata{From: from}), nil
}

// Activate disburses the principal, fixes interest and sets the due date.
func (l *Loan) Activate(at time.Time) (loantx.Transaction, error) {
	if err := l.transition("activate", StatusActive, at); err != nil {
		return loantx.Transaction{}, err
	}
	l.InterestOwed = loanmath.SimpleInterest(l.Principal, l.InterestRateBps, l.DurationDays)
	disbursed, due := at, at.Add(time.Duration(l.DurationDays)*day)
	l.DisbursedAt, l.DueDate = &disbursed, &due
	return l.entry(loantx.TypeLoanDisbursement, l.Principal, loantx.Metadata{To: l.WalletAddress}), nil
}

// Repayment is the outcome of ApplyRepayment. Release is set when the payment
// settled the loan and the collateral went back to the borrower.
type Repayment struct {
	Entry      loantx.Transaction
	Allocation loanmath.Allocation
	Release    *loantx.Transaction
}

func (r Repayment) Repaid() bool { return r.Allocation.Settled() }

func (l *Loan) AcceptsRepayment() error {
	return requireStatus(l, "record_repayment", StatusActive)
}

func (l *Loan) ApplyRepayment(amount money.Wei, at time.Time) (Repayment, error) {
	if err := l.AcceptsRepayment(); err != nil {
		return Repayment{}, err
	}
	if amount.Sign() <= 0 {
		return Repayment{}, apperr.Validation("invalid_amount", "repayment amount must be positive")
	}
	alloc, err := loanmath.Allocate(amount, l.Owed())
	if err != nil {
		return Repayment{}, apperr.Validation("amount_exceeds_owed", "repayment %s exceeds total owed %s", amount, l.TotalOwed())
	}
	l.setOwed(alloc.Remaining)

	out := Repayment{
		Allocation: alloc,
		Entry: l.entry(loantx.TypeRepayment, amount, loantx.Metadata{
			From:        l.WalletAddress,
			ToFees:      alloc.ToFees,
			ToInterest:  alloc.ToInterest,
			ToPrincipal: alloc.ToPrincipal,
		}),
	}
	if !alloc.Settled() {
		return out, nil
	}
	if err := l.transition("record_repayment", StatusRepaid, at); err != nil {
		return Repayment{}, err
	}
	repaid := at
	l.RepaidAt = &repaid
	if l.CollateralDeposited.Sign() > 0 {
		rel := l.entry(loantx.TypeCollateralReturn, l.CollateralDeposited, loantx.Metadata{To: l.WalletAddress, Note: "repaid"})
		out.Release = &rel
		l.CollateralDeposited = money.Zero()
	}
	return out, nil
}

func (l *Loan) RatioBps() uint32 {
	return loanmath.CollateralRatioBps(l.CollateralDeposited, l.TotalOwed())
}

func (l *Loan) Risk(th loanmath.Thresholds) loanmath.Risk {
	return loanmath.Assess(l.RatioBps(), th)
}

// Liquidation is the outcome of Liquidate.
type Liquidation struct {
	Returned money.Wei
	Penalty  money.Wei
	Entries  []loantx.Transaction
}

// Liquidate seizes the collateral of an undercollateralized Active loan.
// The owed buckets are left as they were; the debt is settled off-ledger.
func (l *Loan) Liquidate(th loanmath.Thresholds, treasury string, at time.Time) (Liquidation, error) {
	if err := requireStatus(l, "liquidate", StatusActive); err != nil {
		return Liquidation{}, err
	}
	if ratio := l.RatioBps(); !loanmath.Assess(ratio, th).Liquidatable {
		return Liquidation{}, apperr.Conflict("not_liquidatable", "collateral ratio %d bps is not below %d bps", ratio, th.MinCollateralRatioBps)
	}
	returned, penalty := loanmath.LiquidationSplit(l.CollateralDeposited, th.LiquidationPenaltyBps)
	if err := l.transition("liquidate", StatusLiquidated, at); err != nil {
		return Liquidation{}, err
	}
	liquidated := at
	l.LiquidatedAt = &liquidated
	l.CollateralDeposited = money.Zero()

	out := Liquidation{Returned: returned, Penalty: penalty}
	if penalty.Sign() > 0 {
		out.Entries = append(out.Entries, l.entry(loantx.TypeLiquidation, penalty, loantx.Metadata{To: treasury, Note: "penalty"}))
	}
	if returned.Sign() > 0 {
		out.Entries = append(out.Entries, l.entry(loantx.TypeCollateralReturn, returned, loantx.Metadata{To: l.WalletAddress, Note: "liquidation"}))
	}
	return out, nil
}

// Cancel closes a loan that never received funds.
func (l *Loan) Cancel(at time.Time) error {
	if err := requireStatus(l, "cancel", StatusPendingCollateral); err != nil {
		return err
	}
	if l.CollateralDeposited.Sign() > 0 {
		return apperr.Conflict("collateral_posted", "loan %s already holds %s wei of collateral", l.LoanID, l.CollateralDeposited)
	}
	return l.transition("cancel", StatusCancelled, at)
}

// Overdue reports whether now is past the due date plus grace.
func (l *Loan) Overdue(now time.Time, graceDays uint32) bool {
	return l.DueDate != nil && now.After(l.DueDate.Add(time.Duration(graceDays)*day))
}

// Expire closes an overdue Active loan that has no liquidation path. The
// collateral stays escrowed for manual resolution.
func (l *Loan) Expire(now time.Time, graceDays uint32, th loanmath.Thresholds) error {
	if err := requireStatus(l, "expire", StatusActive); err != nil {
		return err
	}
	if !l.Overdue(now, graceDays) {
		return apperr.Conflict("not_overdue", "loan %s is not past its due date and grace period", l.LoanID)
	}
	if l.Risk(th).Liquidatable {
		return apperr.Conflict("liquidation_path", "loan %s is liquidatable and must be liquidated instead", l.LoanID)
	}
	return l.transition("expire", StatusExpired, now)
}
