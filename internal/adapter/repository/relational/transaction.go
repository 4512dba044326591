package relational

import (
	"context"
	"errors"
	"strconv"

	"gorm.io/gorm"

	"avelon-ledger/internal/apperr"
	"avelon-ledger/internal/domain/loantx"
)

type TransactionRepository struct{ db *gorm.DB }

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Append relies on ux_loan_tx_hash as the last line against double-applying
// an on-chain transfer.
func (r *TransactionRepository) Append(ctx context.Context, t *loantx.Transaction) error {
	err := r.db.WithContext(ctx).Create(t).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		if t.TxHash != nil {
			return apperr.Conflict("duplicate_tx_hash", "transaction %s has already been recorded", *t.TxHash)
		}
		return apperr.Conflict("duplicate_transaction", "loan %s already has entry %d", t.LoanID, t.Seq)
	}
	return translate(err, "transaction", t.LoanID+"/"+strconv.FormatUint(uint64(t.Seq), 10))
}

func (r *TransactionRepository) ExistsByTxHash(ctx context.Context, txHash string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&loantx.Transaction{}).Where("tx_hash = ?", txHash).Count(&n).Error
	return n > 0, err
}

func (r *TransactionRepository) ListByLoanID(ctx context.Context, loanID string) ([]loantx.Transaction, error) {
	var out []loantx.Transaction
	err := r.db.WithContext(ctx).Where("loan_id = ?", loanID).Order("seq ASC").Find(&out).Error
	return out, err
}
