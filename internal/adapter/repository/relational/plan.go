package relational

import (
	"context"

	"gorm.io/gorm"

	"avelon-ledger/internal/domain/plan"
)

type PlanRepository struct{ db *gorm.DB }

func NewPlanRepository(db *gorm.DB) *PlanRepository { return &PlanRepository{db: db} }

func (r *PlanRepository) Create(ctx context.Context, p *plan.Plan) error {
	return translate(r.db.WithContext(ctx).Create(p).Error, "plan", p.PlanID)
}

func (r *PlanRepository) GetByPlanID(ctx context.Context, planID string) (*plan.Plan, error) {
	var out plan.Plan
	if err := r.db.WithContext(ctx).Where("plan_id = ?", planID).First(&out).Error; err != nil {
		return nil, translate(err, "plan", planID)
	}
	return &out, nil
}

func (r *PlanRepository) ListActive(ctx context.Context) ([]plan.Plan, error) {
	var out []plan.Plan
	err := r.db.WithContext(ctx).Where("active = ?", true).Order("id ASC").Find(&out).Error
	return out, err
}
