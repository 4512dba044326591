// Package event defines the domain events emitted after a ledger mutation
// commits. Delivery is fire-and-forget; a failed delivery never touches the
// ledger.
package event

import (
	"context"
	"time"

	"github.com/google/uuid"

	"avelon-ledger/pkg/money"
)

type Type string

const (
	TypeLoanCreated         Type = "LoanCreated"
	TypeCollateralDeposited Type = "CollateralDeposited"
	TypeLoanActivated       Type = "LoanActivated"
	TypeRepaymentReceived   Type = "RepaymentReceived"
	TypeLoanRepaid          Type = "LoanRepaid"
	TypeLoanLiquidated      Type = "LoanLiquidated"
	TypeLoanCancelled       Type = "LoanCancelled"
	TypeLoanExpired         Type = "LoanExpired"
	TypeCollateralWarning   Type = "CollateralWarning"
)

// Payload carries the fields a consumer needs to follow the loan without
// reading the ledger. Unused fields are left empty.
type Payload struct {
	BorrowerID    string     `json:"borrower_id,omitempty"`
	WalletAddress string     `json:"wallet_address,omitempty"`
	Status        string     `json:"status,omitempty"`
	TxHash        string     `json:"tx_hash,omitempty"`
	Amount        *money.Wei `json:"amount,omitempty"`
	TotalOwed     *money.Wei `json:"total_owed,omitempty"`
	RatioBps      *uint32    `json:"ratio_bps,omitempty"`
	Returned      *money.Wei `json:"returned,omitempty"`
	Penalty       *money.Wei `json:"penalty,omitempty"`
	Terms         *Terms     `json:"terms,omitempty"`
}

// Terms are the creation terms, published with LoanCreated so that a mirror
// of the loan can be opened from the event alone.
type Terms struct {
	Principal          money.Wei `json:"principal"`
	CollateralRequired money.Wei `json:"collateral_required"`
	OriginationFee     money.Wei `json:"origination_fee"`
	InterestRateBps    uint32    `json:"interest_rate_bps"`
	DurationDays       uint32    `json:"duration_days"`
	GracePeriodDays    uint32    `json:"grace_period_days"`
}

type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	LoanID     string    `json:"loan_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    Payload   `json:"payload"`
}

func New(typ Type, loanID string, at time.Time, p Payload) Event {
	return Event{ID: uuid.NewString(), Type: typ, LoanID: loanID, OccurredAt: at.UTC(), Payload: p}
}

// Publisher accepts events for asynchronous delivery. Publish must not block
// on the downstream transport.
type Publisher interface {
	Publish(ctx context.Context, evs ...Event)
}

// Sink is a downstream consumer driven by a dispatcher.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e Event) error
}

// Wei returns a pointer for optional payload fields.
func Wei(w money.Wei) *money.Wei { return &w }

func Bps(v uint32) *uint32 { return &v }
