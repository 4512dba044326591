package relational

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"avelon-ledger/internal/apperr"
	"avelon-ledger/internal/domain/audit"
	"avelon-ledger/internal/domain/borrower"
	loanDomain "avelon-ledger/internal/domain/loan"
	"avelon-ledger/internal/domain/loantx"
	"avelon-ledger/internal/domain/plan"
	"avelon-ledger/internal/domain/uow"
	"avelon-ledger/internal/testutil/sqlitedb"
	"avelon-ledger/pkg/id"
	"avelon-ledger/pkg/money"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return sqlitedb.Open(t, Models()...)
}

func makeLoan(loanID, borrowerID string, status loanDomain.Status) *loanDomain.Loan {
	principal, _ := money.ParseWei("123456789012345678901234567890")
	return &loanDomain.Loan{
		LoanID:             loanID,
		BorrowerID:         borrowerID,
		WalletID:           id.NewID32(),
		WalletAddress:      "0x1111111111111111111111111111111111111111",
		PlanID:             id.NewID32(),
		Principal:          principal,
		CollateralRequired: principal.MulDiv(15_000, 10_000),
		PrincipalOwed:      principal,
		EthPriceSnapshot:   decimal.RequireFromString("2456.5"),
		InterestRateBps:    500,
		DurationDays:       30,
		Status:             status,
		StatusUpdatedAt:    time.Now().UTC(),
	}
}

func TestLoanRepository_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewLoanRepository(db)

	l := makeLoan(id.NewID32(), "BR-1", loanDomain.StatusPendingCollateral)
	if err := repo.Create(ctx, l); err != nil {
		t.Fatalf("create: %v", err)
	}
	if l.ID == 0 {
		t.Fatalf("auto ID not set")
	}

	got, err := repo.GetByLoanID(ctx, l.LoanID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Principal.Equal(l.Principal) || got.Principal.String() != "123456789012345678901234567890" {
		t.Fatalf("principal = %s", got.Principal)
	}
	if !got.CollateralRequired.Equal(l.CollateralRequired) || !got.FeesOwed.IsZero() {
		t.Fatalf("money fields drifted: %+v", got)
	}
	if !got.EthPriceSnapshot.Equal(l.EthPriceSnapshot) {
		t.Fatalf("price = %s", got.EthPriceSnapshot)
	}
	if got.Status != loanDomain.StatusPendingCollateral {
		t.Fatalf("status = %s", got.Status)
	}

	got.Status = loanDomain.StatusCancelled
	got.TxSeq = 3
	if err := repo.Save(ctx, got); err != nil {
		t.Fatalf("save: %v", err)
	}
	locked, err := repo.GetByLoanIDForUpdate(ctx, l.LoanID)
	if err != nil {
		t.Fatalf("get for update: %v", err)
	}
	if locked.Status != loanDomain.StatusCancelled || locked.TxSeq != 3 {
		t.Fatalf("save not persisted: %+v", locked)
	}
}

func TestLoanRepository_Errors(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewLoanRepository(db)

	if _, err := repo.GetByLoanID(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
	if _, err := repo.GetByLoanIDForUpdate(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("want not found, got %v", err)
	}

	loanID := id.NewID32()
	if err := repo.Create(ctx, makeLoan(loanID, "BR-1", loanDomain.StatusActive)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, makeLoan(loanID, "BR-1", loanDomain.StatusActive)); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("want conflict, got %v", err)
	}
}

func TestLoanRepository_Listing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewLoanRepository(db)

	base := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	seed := []struct {
		borrower string
		status   loanDomain.Status
	}{
		{"BR-1", loanDomain.StatusActive},
		{"BR-1", loanDomain.StatusRepaid},
		{"BR-1", loanDomain.StatusActive},
		{"BR-2", loanDomain.StatusActive},
	}
	var ids []string
	for i, s := range seed {
		l := makeLoan(id.NewID32(), s.borrower, s.status)
		l.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if err := repo.Create(ctx, l); err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, l.LoanID)
	}

	all, err := repo.ListByBorrower(ctx, "BR-1", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].LoanID != ids[2] {
		t.Fatalf("expected newest first, got %d loans", len(all))
	}
	active, err := repo.ListByBorrower(ctx, "BR-1", loanDomain.StatusActive)
	if err != nil || len(active) != 2 {
		t.Fatalf("active loans = %d, err %v", len(active), err)
	}

	sweep, err := repo.ListByStatus(ctx, loanDomain.StatusActive, 2)
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(sweep) != 2 || sweep[0].LoanID != ids[0] {
		t.Fatalf("unexpected sweep page %+v", sweep)
	}
}

func hashOf(b byte) *string {
	s := "0x" + strings.Repeat(fmt.Sprintf("%02x", b), 32)
	return &s
}

func TestTransactionRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewTransactionRepository(db)

	block := uint64(100)
	deposit := &loantx.Transaction{
		LoanID:      "L1",
		Seq:         1,
		Type:        loantx.TypeCollateralDeposit,
		Amount:      money.Ether(2),
		TxHash:      hashOf(0xab),
		BlockNumber: &block,
		Confirmed:   true,
		Metadata:    loantx.NewMetadata(loantx.Metadata{From: "0xabc"}),
	}
	if err := repo.Append(ctx, deposit); err != nil {
		t.Fatalf("append: %v", err)
	}
	disbursement := &loantx.Transaction{LoanID: "L1", Seq: 2, Type: loantx.TypeLoanDisbursement, Amount: money.Ether(1)}
	if err := repo.Append(ctx, disbursement); err != nil {
		t.Fatalf("append without hash: %v", err)
	}

	replay := &loantx.Transaction{LoanID: "L2", Seq: 1, Type: loantx.TypeRepayment, Amount: money.Ether(1), TxHash: hashOf(0xab)}
	err := repo.Append(ctx, replay)
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Kind != apperr.KindConflict || ae.Code != "duplicate_tx_hash" {
		t.Fatalf("want duplicate_tx_hash conflict, got %v", err)
	}
	sameSeq := &loantx.Transaction{LoanID: "L1", Seq: 2, Type: loantx.TypeRepayment, Amount: money.Ether(1)}
	if err := repo.Append(ctx, sameSeq); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("want conflict on repeated seq, got %v", err)
	}

	ok, err := repo.ExistsByTxHash(ctx, *hashOf(0xab))
	if err != nil || !ok {
		t.Fatalf("exists = %v, err %v", ok, err)
	}
	ok, err = repo.ExistsByTxHash(ctx, *hashOf(0xcd))
	if err != nil || ok {
		t.Fatalf("exists = %v, err %v", ok, err)
	}

	txs, err := repo.ListByLoanID(ctx, "L1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 2 || txs[0].Seq != 1 || txs[1].Type != loantx.TypeLoanDisbursement {
		t.Fatalf("unexpected log %+v", txs)
	}
	md := txs[0].Metadata.Data()
	if md.From != "0xabc" || md.Version != loantx.MetadataVersion {
		t.Fatalf("metadata = %+v", md)
	}
	if txs[0].BlockNumber == nil || *txs[0].BlockNumber != 100 || !txs[0].Amount.Equal(money.Ether(2)) {
		t.Fatalf("entry = %+v", txs[0])
	}
}

func TestBorrowerRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewBorrowerRepository(db)

	b, err := repo.GetOrCreate(ctx, "BR-1")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if err := repo.Apply(ctx, "BR-1", borrower.Delta{ActiveLoans: 1, Borrowed: money.Ether(3)}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	again, err := repo.GetOrCreate(ctx, "BR-1")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if again.ID != b.ID || again.ActiveLoans != 1 || !again.TotalBorrowed.Equal(money.Ether(3)) {
		t.Fatalf("stats not persisted: %+v", again)
	}

	w := &borrower.Wallet{WalletID: id.NewID32(), BorrowerID: "BR-1", Address: "0x1111111111111111111111111111111111111111"}
	if err := repo.CreateWallet(ctx, w); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	got, err := repo.GetWallet(ctx, w.WalletID)
	if err != nil || got.Address != w.Address {
		t.Fatalf("wallet = %+v, err %v", got, err)
	}
	if _, err := repo.GetWallet(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestPlanRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewPlanRepository(db)

	p := &plan.Plan{PlanID: id.NewID32(), Name: "30/90", Active: true, MinAmount: money.Ether(1), MaxAmount: money.Ether(10), DurationOptions: []uint32{30, 90}, InterestRateBps: 500, CollateralRatioBps: 15_000}
	retired := &plan.Plan{PlanID: id.NewID32(), Name: "old", DurationOptions: []uint32{30}}
	for _, x := range []*plan.Plan{p, retired} {
		if err := repo.Create(ctx, x); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	// a false Active is omitted on insert and picks up the column default
	if err := db.Model(&plan.Plan{}).Where("plan_id = ?", retired.PlanID).Update("active", false).Error; err != nil {
		t.Fatalf("retire: %v", err)
	}

	got, err := repo.GetByPlanID(ctx, p.PlanID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.AllowsDuration(90) || got.AllowsDuration(60) || !got.MaxAmount.Equal(money.Ether(10)) {
		t.Fatalf("plan = %+v", got)
	}
	active, err := repo.ListActive(ctx)
	if err != nil || len(active) != 1 || active[0].PlanID != p.PlanID {
		t.Fatalf("active = %+v, err %v", active, err)
	}
}

func TestGormUoW_WithinLoanTx(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	u := NewGormUoW(db)

	loanID := id.NewID32()
	if err := u.WithinTx(ctx, func(r uow.Repos) error {
		return r.Loans.Create(ctx, makeLoan(loanID, "BR-1", loanDomain.StatusActive))
	}); err != nil {
		t.Fatalf("WithinTx: %v", err)
	}

	// commit
	err := u.WithinLoanTx(ctx, loanID, func(r uow.Repos, l *loanDomain.Loan) error {
		l.TxSeq++
		if err := r.Transactions.Append(ctx, &loantx.Transaction{LoanID: loanID, Seq: l.TxSeq, Type: loantx.TypeRepayment, Amount: money.FromUint64(1)}); err != nil {
			return err
		}
		if err := r.Audits.Append(ctx, &audit.Record{LoanID: loanID, Action: audit.ActionRepaymentRecorded}); err != nil {
			return err
		}
		return r.Loans.Save(ctx, l)
	})
	if err != nil {
		t.Fatalf("WithinLoanTx commit: %v", err)
	}

	// rollback
	boom := errors.New("boom")
	err = u.WithinLoanTx(ctx, loanID, func(r uow.Repos, l *loanDomain.Loan) error {
		l.TxSeq++
		if err := r.Transactions.Append(ctx, &loantx.Transaction{LoanID: loanID, Seq: l.TxSeq, Type: loantx.TypeRepayment, Amount: money.FromUint64(1)}); err != nil {
			return err
		}
		if err := r.Loans.Save(ctx, l); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}

	reads := u.Repos()
	l, err := reads.Loans.GetByLoanID(ctx, loanID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if l.TxSeq != 1 {
		t.Fatalf("rolled back save leaked: seq %d", l.TxSeq)
	}
	txs, _ := reads.Transactions.ListByLoanID(ctx, loanID)
	if len(txs) != 1 {
		t.Fatalf("rolled back append leaked: %d entries", len(txs))
	}
	recs, _ := reads.Audits.ListByLoanID(ctx, loanID)
	if len(recs) != 1 {
		t.Fatalf("audit records = %d", len(recs))
	}

	if err := u.WithinLoanTx(ctx, "missing", func(uow.Repos, *loanDomain.Loan) error { return nil }); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestBorrowerApply_AddsOntoStoredRow(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	u := NewGormUoW(db)

	// first use creates the row
	if err := u.Repos().Borrowers.Apply(ctx, "BR-2", borrower.Delta{ActiveLoans: 1, Borrowed: money.Ether(2)}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	err := u.WithinTx(ctx, func(r uow.Repos) error {
		return r.Borrowers.Apply(ctx, "BR-2", borrower.Delta{ActiveLoans: -1, CompletedLoans: 1, Repaid: money.Ether(2)})
	})
	if err != nil {
		t.Fatalf("apply in tx: %v", err)
	}
	boom := errors.New("boom")
	err = u.WithinTx(ctx, func(r uow.Repos) error {
		if err := r.Borrowers.Apply(ctx, "BR-2", borrower.Delta{LiquidatedLoans: 1}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}

	b, err := u.Repos().Borrowers.GetOrCreate(ctx, "BR-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if b.ActiveLoans != 0 || b.CompletedLoans != 1 || b.LiquidatedLoans != 0 ||
		!b.TotalBorrowed.Equal(money.Ether(2)) || !b.TotalRepaid.Equal(money.Ether(2)) {
		t.Fatalf("stats = %+v", b)
	}
	var rows int64
	db.Model(&borrower.Borrower{}).Where("borrower_id = ?", "BR-2").Count(&rows)
	if rows != 1 {
		t.Fatalf("borrower rows = %d, want 1", rows)
	}
}

func TestBorrowerApply_ConcurrentUnits(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	u := NewGormUoW(db)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := u.WithinTx(ctx, func(r uow.Repos) error {
				if _, err := r.Borrowers.GetOrCreate(ctx, "BR-3"); err != nil {
					return err
				}
				return r.Borrowers.Apply(ctx, "BR-3", borrower.Delta{ActiveLoans: 1, Borrowed: money.Ether(1)})
			})
			if err != nil {
				t.Errorf("apply: %v", err)
			}
		}()
	}
	wg.Wait()

	b, err := u.Repos().Borrowers.GetOrCreate(ctx, "BR-3")
	if err != nil || b.ActiveLoans != n || !b.TotalBorrowed.Equal(money.Ether(n)) {
		t.Fatalf("stats = %+v, %v", b, err)
	}
}
