package loan

import (
	"avelon-ledger/internal/domain/borrower"
	domain "avelon-ledger/internal/domain/loan"
	"avelon-ledger/pkg/loanmath"
	"avelon-ledger/pkg/money"
)

// Actor is who asked for a mutation. Borrowers may only act on their own
// loans; admins and the risk monitor may act on any.
type Actor struct {
	ID    string
	Admin bool
}

// System is the actor for scheduled jobs.
var System = Actor{ID: "system", Admin: true}

type CreateLoanInput struct {
	Identity     borrower.Identity
	WalletID     string
	PlanID       string
	Principal    money.Wei
	DurationDays uint32
}

type DepositInput struct {
	LoanID string
	TxHash string
	Actor  Actor
}

type RepaymentInput struct {
	LoanID string
	TxHash string
	Amount money.Wei
	Actor  Actor
}

type RegisterWalletInput struct {
	BorrowerID string
	Address    string
}

type CreatePlanInput struct {
	Name               string
	MinCreditScore     int
	MinAmount          money.Wei
	MaxAmount          money.Wei
	DurationOptions    []uint32
	InterestRateBps    uint32
	CollateralRatioBps uint32
	OriginationFeeBps  uint32
	LatePenaltyRateBps uint32
	GracePeriodDays    uint32
}

// LoanView is a loan with its derived collateral position.
type LoanView struct {
	domain.Loan
	TotalOwed money.Wei     `json:"total_owed"`
	RatioBps  uint32        `json:"collateral_ratio_bps"`
	Risk      loanmath.Risk `json:"risk"`
}

type LiquidationResult struct {
	LoanView
	Returned money.Wei `json:"returned_to_borrower"`
	Penalty  money.Wei `json:"penalty_to_treasury"`
}

func viewOf(l *domain.Loan, th loanmath.Thresholds) LoanView {
	return LoanView{Loan: *l.Clone(), TotalOwed: l.TotalOwed(), RatioBps: l.RatioBps(), Risk: l.Risk(th)}
}
