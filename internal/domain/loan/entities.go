package loan

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"avelon-ledger/pkg/loanmath"
	"avelon-ledger/pkg/money"
)

type Status string

const (
	StatusPendingCollateral   Status = "pending_collateral"
	StatusCollateralDeposited Status = "collateral_deposited"
	StatusActive              Status = "active"
	StatusRepaid              Status = "repaid"
	StatusLiquidated          Status = "liquidated"
	StatusCancelled           Status = "cancelled"
	StatusExpired             Status = "expired"
)

var statuses = []Status{
	StatusPendingCollateral, StatusCollateralDeposited, StatusActive,
	StatusRepaid, StatusLiquidated, StatusCancelled, StatusExpired,
}

func (s Status) Valid() bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusRepaid, StatusLiquidated, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("loan: unknown status %q", s)
	}
	return st, nil
}

func (s *Status) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("loan: cannot scan %T into Status", src)
	}
	st, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

func (s Status) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("loan: unknown status %q", string(s))
	}
	return string(s), nil
}

// Loan is the central ledger entity. Owed buckets are a cache of the fold over
// the loan's transaction log; see Replay.
type Loan struct {
	ID            uint64 `gorm:"primaryKey;column:id" json:"-"`
	LoanID        string `gorm:"size:32;uniqueIndex:ux_loans_loan_id" json:"loan_id"`
	BorrowerID    string `gorm:"size:32;index:idx_loans_borrower_status" json:"borrower_id"`
	WalletID      string `gorm:"size:32;not null" json:"wallet_id"`
	WalletAddress string `gorm:"size:42;not null" json:"wallet_address"`
	PlanID        string `gorm:"size:32;not null" json:"plan_id"`

	Principal           money.Wei `json:"principal"`
	CollateralRequired  money.Wei `json:"collateral_required"`
	CollateralDeposited money.Wei `json:"collateral_deposited"`
	OriginationFee      money.Wei `json:"origination_fee"`
	PrincipalOwed       money.Wei `json:"principal_owed"`
	InterestOwed        money.Wei `json:"interest_owed"`
	FeesOwed            money.Wei `json:"fees_owed"`

	// snapshots, fixed at creation
	CreditScoreSnapshot int             `gorm:"not null" json:"credit_score_snapshot"`
	EthPriceSnapshot    decimal.Decimal `gorm:"type:decimal(36,18)" json:"eth_price_snapshot"`
	InterestRateBps     uint32          `gorm:"not null" json:"interest_rate_bps"`
	DurationDays        uint32          `gorm:"not null" json:"duration_days"`

	Status          Status    `gorm:"type:varchar(32);not null;index:idx_loans_borrower_status" json:"status"`
	StatusUpdatedAt time.Time `json:"status_updated_at"`
	// TxSeq is the sequence number of the last appended transaction.
	TxSeq uint32 `gorm:"not null;default:0" json:"-"`

	CreatedAt             time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	CollateralDepositedAt *time.Time `json:"collateral_deposited_at,omitempty"`
	DisbursedAt           *time.Time `json:"disbursed_at,omitempty"`
	DueDate               *time.Time `json:"due_date,omitempty"`
	RepaidAt              *time.Time `json:"repaid_at,omitempty"`
	LiquidatedAt          *time.Time `json:"liquidated_at,omitempty"`
}

func (Loan) TableName() string { return "loans" }

func (l *Loan) Owed() loanmath.Buckets {
	return loanmath.Buckets{Fees: l.FeesOwed, Interest: l.InterestOwed, Principal: l.PrincipalOwed}
}

func (l *Loan) setOwed(b loanmath.Buckets) {
	l.FeesOwed, l.InterestOwed, l.PrincipalOwed = b.Fees, b.Interest, b.Principal
}

func (l *Loan) TotalOwed() money.Wei { return l.Owed().Total() }

// NextSeq reserves the sequence number for the next appended transaction.
func (l *Loan) NextSeq() uint32 {
	l.TxSeq++
	return l.TxSeq
}

// Clone returns a copy safe to mutate independently. Wei values are immutable,
// so only the time pointers need copying.
func (l *Loan) Clone() *Loan {
	c := *l
	for _, p := range []**time.Time{&c.CollateralDepositedAt, &c.DisbursedAt, &c.DueDate, &c.RepaidAt, &c.LiquidatedAt} {
		if *p != nil {
			t := **p
			*p = &t
		}
	}
	return &c
}
