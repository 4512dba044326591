package plan

import "context"

type Repository interface {
	Create(ctx context.Context, p *Plan) error
	GetByPlanID(ctx context.Context, planID string) (*Plan, error)
	ListActive(ctx context.Context) ([]Plan, error)
}
