package plan

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"gorm.io/datatypes"

	"avelon-ledger/pkg/money"
)

// Plan is a terms template. Rows are never updated once created; new terms
// mean a new plan. Percentages are stored in basis points (150% = 15000).
type Plan struct {
	ID                 uint64                      `gorm:"primaryKey;column:id" json:"-"`
	PlanID             string                      `gorm:"size:32;uniqueIndex:ux_plans_plan_id" json:"plan_id"`
	Name               string                      `gorm:"size:128" json:"name"`
	Active             bool                        `gorm:"not null;default:true" json:"active"`
	MinCreditScore     int                         `gorm:"not null" json:"min_credit_score"`
	MinAmount          money.Wei                   `json:"min_amount"`
	MaxAmount          money.Wei                   `json:"max_amount"`
	DurationOptions    datatypes.JSONSlice[uint32] `json:"duration_options"`
	InterestRateBps    uint32                      `gorm:"not null" json:"interest_rate_bps"`
	CollateralRatioBps uint32                      `gorm:"not null" json:"collateral_ratio_bps"`
	OriginationFeeBps  uint32                      `gorm:"not null" json:"origination_fee_bps"`
	LatePenaltyRateBps uint32                      `gorm:"not null" json:"late_penalty_rate_bps"`
	GracePeriodDays    uint32                      `gorm:"not null" json:"grace_period_days"`
	CreatedAt          time.Time                   `gorm:"autoCreateTime" json:"created_at"`
}

func (Plan) TableName() string { return "loan_plans" }

func (p *Plan) AllowsDuration(days uint32) bool {
	return slices.Contains([]uint32(p.DurationOptions), days)
}

// AllowsAmount reports whether principal is within [MinAmount, MaxAmount].
func (p *Plan) AllowsAmount(principal money.Wei) bool {
	return principal.Cmp(p.MinAmount) >= 0 && principal.Cmp(p.MaxAmount) <= 0
}

// Validate checks a new plan's terms before it is stored.
func (p *Plan) Validate() error {
	switch {
	case p.MinAmount.Sign() <= 0 || p.MaxAmount.LessThan(p.MinAmount):
		return fmt.Errorf("amount range [%s, %s] is empty", p.MinAmount, p.MaxAmount)
	case len(p.DurationOptions) == 0 || slices.Contains([]uint32(p.DurationOptions), 0):
		return errors.New("duration options must be positive")
	case p.CollateralRatioBps < 10000:
		return fmt.Errorf("collateral ratio %d bps does not over-collateralize", p.CollateralRatioBps)
	case p.OriginationFeeBps > 10000:
		return fmt.Errorf("origination fee %d bps exceeds 100%%", p.OriginationFeeBps)
	}
	return nil
}
