package relational

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"avelon-ledger/internal/domain/borrower"
)

type BorrowerRepository struct{ db *gorm.DB }

func NewBorrowerRepository(db *gorm.DB) *BorrowerRepository { return &BorrowerRepository{db: db} }

// ensure inserts an empty stats row unless one exists. Two first-time
// writers both succeed; the loser's insert is a no-op.
func (r *BorrowerRepository) ensure(ctx context.Context, borrowerID string) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "borrower_id"}}, DoNothing: true}).
		Create(&borrower.Borrower{BorrowerID: borrowerID}).Error
	return translate(err, "borrower", borrowerID)
}

func (r *BorrowerRepository) GetOrCreate(ctx context.Context, borrowerID string) (*borrower.Borrower, error) {
	if err := r.ensure(ctx, borrowerID); err != nil {
		return nil, err
	}
	var out borrower.Borrower
	if err := r.db.WithContext(ctx).Where("borrower_id = ?", borrowerID).First(&out).Error; err != nil {
		return nil, translate(err, "borrower", borrowerID)
	}
	return &out, nil
}

// Apply locks the stats row for the rest of the surrounding transaction, so
// a concurrent Apply waits and then adds onto the committed counts.
func (r *BorrowerRepository) Apply(ctx context.Context, borrowerID string, d borrower.Delta) error {
	if err := r.ensure(ctx, borrowerID); err != nil {
		return err
	}
	q := r.db.WithContext(ctx)
	if q.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var b borrower.Borrower
	if err := q.Where("borrower_id = ?", borrowerID).First(&b).Error; err != nil {
		return translate(err, "borrower", borrowerID)
	}
	d.ApplyTo(&b)
	err := r.db.WithContext(ctx).Model(&b).
		Select("active_loans", "completed_loans", "liquidated_loans", "total_borrowed", "total_repaid", "updated_at").
		Updates(&b).Error
	return translate(err, "borrower", borrowerID)
}

func (r *BorrowerRepository) CreateWallet(ctx context.Context, w *borrower.Wallet) error {
	return translate(r.db.WithContext(ctx).Create(w).Error, "wallet", w.WalletID)
}

func (r *BorrowerRepository) GetWallet(ctx context.Context, walletID string) (*borrower.Wallet, error) {
	var out borrower.Wallet
	if err := r.db.WithContext(ctx).Where("wallet_id = ?", walletID).First(&out).Error; err != nil {
		return nil, translate(err, "wallet", walletID)
	}
	return &out, nil
}
