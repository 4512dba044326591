package audit

import (
	"time"

	"gorm.io/datatypes"
)

type Action string

const (
	ActionLoanCreated         Action = "loan.created"
	ActionCollateralDeposited Action = "collateral.deposited"
	ActionLoanActivated       Action = "loan.activated"
	ActionRepaymentRecorded   Action = "repayment.recorded"
	ActionLoanRepaid          Action = "loan.repaid"
	ActionLoanLiquidated      Action = "loan.liquidated"
	ActionLoanCancelled       Action = "loan.cancelled"
	ActionLoanExpired         Action = "loan.expired"
)

type Record struct {
	ID        uint64            `gorm:"primaryKey;column:id" json:"-"`
	LoanID    string            `gorm:"size:32;index:idx_audit_loan" json:"loan_id"`
	Actor     string            `gorm:"size:64" json:"actor"`
	Action    Action            `gorm:"type:varchar(32);not null" json:"action"`
	Detail    datatypes.JSONMap `json:"detail,omitempty"`
	CreatedAt time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

func (Record) TableName() string { return "audit_records" }
