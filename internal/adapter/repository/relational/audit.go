package relational

import (
	"context"

	"gorm.io/gorm"

	"avelon-ledger/internal/domain/audit"
)

type AuditRepository struct{ db *gorm.DB }

func NewAuditRepository(db *gorm.DB) *AuditRepository { return &AuditRepository{db: db} }

func (r *AuditRepository) Append(ctx context.Context, rec *audit.Record) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *AuditRepository) ListByLoanID(ctx context.Context, loanID string) ([]audit.Record, error) {
	var out []audit.Record
	err := r.db.WithContext(ctx).Where("loan_id = ?", loanID).Order("id ASC").Find(&out).Error
	return out, err
}
