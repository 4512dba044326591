package relational

import (
	"context"

	"gorm.io/gorm"

	"avelon-ledger/internal/domain/audit"
	"avelon-ledger/internal/domain/borrower"
	"avelon-ledger/internal/domain/loan"
	"avelon-ledger/internal/domain/loantx"
	"avelon-ledger/internal/domain/plan"
	"avelon-ledger/internal/domain/uow"
)

// Models lists every table the ledger owns, in migration order.
func Models() []any {
	return []any{&plan.Plan{}, &borrower.Borrower{}, &borrower.Wallet{}, &loan.Loan{}, &loantx.Transaction{}, &audit.Record{}}
}

func Migrate(db *gorm.DB) error { return db.AutoMigrate(Models()...) }

type GormUoW struct{ db *gorm.DB }

var _ uow.UnitOfWork = (*GormUoW)(nil)

func NewGormUoW(db *gorm.DB) *GormUoW { return &GormUoW{db: db} }

func reposFor(tx *gorm.DB) uow.Repos {
	return uow.Repos{
		Loans:        &LoanRepository{db: tx},
		Transactions: &TransactionRepository{db: tx},
		Borrowers:    &BorrowerRepository{db: tx},
		Plans:        &PlanRepository{db: tx},
		Audits:       &AuditRepository{db: tx},
	}
}

// Repos returns repositories outside any transaction, for reads.
func (u *GormUoW) Repos() uow.Repos { return reposFor(u.db) }

func (u *GormUoW) WithinTx(ctx context.Context, fn func(r uow.Repos) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(reposFor(tx))
	})
}

func (u *GormUoW) WithinLoanTx(ctx context.Context, loanID string, fn func(r uow.Repos, l *loan.Loan) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := reposFor(tx)
		// lock the loan row up-front; the lock is held until commit
		l, err := r.Loans.GetByLoanIDForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		return fn(r, l)
	})
}
