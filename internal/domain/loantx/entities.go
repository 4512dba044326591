// Package loantx is the append-only transaction log behind every loan.
package loantx

import (
	"database/sql/driver"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"avelon-ledger/pkg/money"
)

type Type string

const (
	TypeCollateralDeposit Type = "collateral_deposit"
	TypeLoanDisbursement  Type = "loan_disbursement"
	TypeRepayment         Type = "repayment"
	TypeCollateralTopup   Type = "collateral_topup"
	TypeCollateralReturn  Type = "collateral_return"
	TypeLiquidation       Type = "liquidation"
	TypeFeePayment        Type = "fee_payment"
)

var types = map[Type]struct{}{
	TypeCollateralDeposit: {}, TypeLoanDisbursement: {}, TypeRepayment: {},
	TypeCollateralTopup: {}, TypeCollateralReturn: {}, TypeLiquidation: {}, TypeFeePayment: {},
}

func (t Type) Valid() bool {
	_, ok := types[t]
	return ok
}

func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("loantx: unknown transaction type %q", s)
	}
	return t, nil
}

// Scan refuses values outside the closed set.
func (t *Type) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("loantx: cannot scan %T into Type", src)
	}
	parsed, err := ParseType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Type) Value() (driver.Value, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("loantx: unknown transaction type %q", string(t))
	}
	return string(t), nil
}

// MetadataVersion is bumped whenever Metadata changes shape.
const MetadataVersion = 1

// Metadata is the structured, versioned detail stored with a transaction.
type Metadata struct {
	Version     int       `json:"v"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to,omitempty"`
	ToFees      money.Wei `json:"to_fees,omitempty"`
	ToInterest  money.Wei `json:"to_interest,omitempty"`
	ToPrincipal money.Wei `json:"to_principal,omitempty"`
	Actor       string    `json:"actor,omitempty"`
	Note        string    `json:"note,omitempty"`
}

// Transaction is a ledger entry. TxHash, when present, is globally unique and
// is the idempotency key for on-chain funds.
type Transaction struct {
	ID          uint64                       `gorm:"primaryKey;column:id" json:"-"`
	LoanID      string                       `gorm:"size:32;not null;uniqueIndex:ux_loan_tx_seq,priority:1" json:"loan_id"`
	Seq         uint32                       `gorm:"not null;uniqueIndex:ux_loan_tx_seq,priority:2" json:"seq"`
	Type        Type                         `gorm:"type:varchar(32);not null" json:"type"`
	Amount      money.Wei                    `json:"amount"`
	TxHash      *string                      `gorm:"size:66;uniqueIndex:ux_loan_tx_hash" json:"tx_hash,omitempty"`
	BlockNumber *uint64                      `json:"block_number,omitempty"`
	Confirmed   bool                         `gorm:"not null" json:"confirmed"`
	Metadata    datatypes.JSONType[Metadata] `json:"metadata"`
	CreatedAt   time.Time                    `gorm:"autoCreateTime" json:"created_at"`
}

func (Transaction) TableName() string { return "loan_transactions" }

func NewMetadata(m Metadata) datatypes.JSONType[Metadata] {
	m.Version = MetadataVersion
	return datatypes.NewJSONType(m)
}
