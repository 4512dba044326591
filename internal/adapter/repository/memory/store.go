// Package memory is an in-process ledger store. Writes inside a unit of work
// are staged and applied atomically on commit; each loan is serialized by its
// own mutex so different loans never contend.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"avelon-ledger/internal/apperr"
	"avelon-ledger/internal/domain/audit"
	"avelon-ledger/internal/domain/borrower"
	"avelon-ledger/internal/domain/loan"
	"avelon-ledger/internal/domain/loantx"
	"avelon-ledger/internal/domain/plan"
	"avelon-ledger/internal/domain/uow"
)

type Store struct {
	mu        sync.RWMutex
	nextID    uint64
	loans     map[string]*loan.Loan
	txs       map[string][]loantx.Transaction
	hashes    map[string]string
	borrowers map[string]borrower.Borrower
	wallets   map[string]borrower.Wallet
	plans     map[string]plan.Plan
	audits    map[string][]audit.Record

	locksMu   sync.Mutex
	loanLocks map[string]*loanLock
}

// loanLock is dropped from the map once no caller holds or waits on it.
type loanLock struct {
	mu   sync.Mutex
	refs int
}

var _ uow.UnitOfWork = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		loans:     make(map[string]*loan.Loan),
		txs:       make(map[string][]loantx.Transaction),
		hashes:    make(map[string]string),
		borrowers: make(map[string]borrower.Borrower),
		wallets:   make(map[string]borrower.Wallet),
		plans:     make(map[string]plan.Plan),
		audits:    make(map[string][]audit.Record),
		loanLocks: make(map[string]*loanLock),
	}
}

// lockLoan blocks until the caller owns loanID and returns the release func.
func (s *Store) lockLoan(loanID string) (unlock func()) {
	s.locksMu.Lock()
	l, ok := s.loanLocks[loanID]
	if !ok {
		l = &loanLock{}
		s.loanLocks[loanID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		if l.refs--; l.refs == 0 {
			delete(s.loanLocks, loanID)
		}
		s.locksMu.Unlock()
	}
}

func (s *Store) id() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

// Repos returns repositories whose writes commit immediately.
func (s *Store) Repos() uow.Repos {
	return reposOf(func() *txn {
		t := newTxn(s)
		t.auto = true
		return t
	})
}

func (s *Store) WithinTx(ctx context.Context, fn func(r uow.Repos) error) error {
	t := newTxn(s)
	if err := fn(t.repos()); err != nil {
		return err
	}
	return t.commit()
}

func (s *Store) WithinLoanTx(ctx context.Context, loanID string, fn func(r uow.Repos, l *loan.Loan) error) error {
	defer s.lockLoan(loanID)()

	t := newTxn(s)
	l, err := t.getLoan(loanID)
	if err != nil {
		return err
	}
	if err := fn(t.repos(), l); err != nil {
		return err
	}
	return t.commit()
}

// txn stages writes until commit.
type txn struct {
	s    *Store
	auto bool

	loans     map[string]*loan.Loan
	created   map[string]bool
	txs       []loantx.Transaction
	borrowers map[string]borrower.Borrower
	deltas    map[string]borrower.Delta
	wallets   []borrower.Wallet
	plans     []plan.Plan
	audits    []audit.Record
}

func newTxn(s *Store) *txn {
	t := &txn{s: s}
	t.reset()
	return t
}

func (t *txn) reset() {
	t.loans = make(map[string]*loan.Loan)
	t.created = make(map[string]bool)
	t.txs = nil
	t.borrowers = make(map[string]borrower.Borrower)
	t.deltas = make(map[string]borrower.Delta)
	t.wallets = nil
	t.plans = nil
	t.audits = nil
}

func (t *txn) repos() uow.Repos { return reposOf(func() *txn { return t }) }

// reposOf binds repositories to a txn source. Staged repos share one txn;
// auto-commit repos take a fresh one per call so they are safe to share.
func reposOf(tx func() *txn) uow.Repos {
	return uow.Repos{
		Loans:        loanRepo{tx},
		Transactions: txRepo{tx},
		Borrowers:    borrowerRepo{tx},
		Plans:        planRepo{tx},
		Audits:       auditRepo{tx},
	}
}

// written is called after every staged write.
func (t *txn) written() error {
	if !t.auto {
		return nil
	}
	return t.commit()
}

func (t *txn) getLoan(loanID string) (*loan.Loan, error) {
	if l, ok := t.loans[loanID]; ok {
		return l.Clone(), nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	l, ok := t.s.loans[loanID]
	if !ok {
		return nil, apperr.NotFound("loan", loanID)
	}
	return l.Clone(), nil
}

func (t *txn) hashTaken(hash string) bool {
	for _, x := range t.txs {
		if x.TxHash != nil && *x.TxHash == hash {
			return true
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	_, ok := t.s.hashes[hash]
	return ok
}

// commit re-checks the unique constraints under the store lock, then applies
// every staged write or none of them.
func (t *txn) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range t.created {
		if _, ok := s.loans[id]; ok {
			return apperr.Conflict("duplicate_loan", "loan %q already exists", id)
		}
	}
	for _, w := range t.wallets {
		if _, ok := s.wallets[w.WalletID]; ok {
			return apperr.Conflict("duplicate_wallet", "wallet %q already exists", w.WalletID)
		}
	}
	for _, p := range t.plans {
		if _, ok := s.plans[p.PlanID]; ok {
			return apperr.Conflict("duplicate_plan", "plan %q already exists", p.PlanID)
		}
	}
	for _, x := range t.txs {
		if x.TxHash != nil {
			if _, ok := s.hashes[*x.TxHash]; ok {
				return apperr.Conflict("duplicate_tx_hash", "transaction %s has already been recorded", *x.TxHash)
			}
		}
		for _, have := range s.txs[x.LoanID] {
			if have.Seq == x.Seq {
				return apperr.Conflict("duplicate_transaction", "loan %s already has entry %d", x.LoanID, x.Seq)
			}
		}
	}

	for id, l := range t.loans {
		s.loans[id] = l
	}
	for _, x := range t.txs {
		s.txs[x.LoanID] = append(s.txs[x.LoanID], x)
		if x.TxHash != nil {
			s.hashes[*x.TxHash] = x.LoanID
		}
	}
	for id, b := range t.borrowers {
		if _, ok := s.borrowers[id]; !ok {
			s.borrowers[id] = b
		}
	}
	// deltas add onto the committed row, never onto the snapshot this unit
	// of work read
	for id, d := range t.deltas {
		b, ok := s.borrowers[id]
		if !ok {
			s.nextID++
			b = borrower.Borrower{ID: s.nextID, BorrowerID: id, CreatedAt: time.Now().UTC()}
		}
		d.ApplyTo(&b)
		b.UpdatedAt = time.Now().UTC()
		s.borrowers[id] = b
	}
	for _, w := range t.wallets {
		s.wallets[w.WalletID] = w
	}
	for _, p := range t.plans {
		s.plans[p.PlanID] = p
	}
	for _, r := range t.audits {
		s.audits[r.LoanID] = append(s.audits[r.LoanID], r)
	}
	t.reset()
	return nil
}

func stamp(created *time.Time) {
	if created.IsZero() {
		*created = time.Now().UTC()
	}
}

// ---- loans

type loanRepo struct{ tx func() *txn }

func (r loanRepo) Create(_ context.Context, l *loan.Loan) error {
	t := r.tx()
	if _, err := t.getLoan(l.LoanID); err == nil || t.created[l.LoanID] {
		return apperr.Conflict("duplicate_loan", "loan %q already exists", l.LoanID)
	}
	l.ID = t.s.id()
	stamp(&l.CreatedAt)
	l.UpdatedAt = l.CreatedAt
	t.loans[l.LoanID] = l.Clone()
	t.created[l.LoanID] = true
	return t.written()
}

func (r loanRepo) Save(_ context.Context, l *loan.Loan) error {
	t := r.tx()
	if _, err := t.getLoan(l.LoanID); err != nil {
		return err
	}
	l.UpdatedAt = time.Now().UTC()
	t.loans[l.LoanID] = l.Clone()
	return t.written()
}

func (r loanRepo) GetByLoanID(_ context.Context, loanID string) (*loan.Loan, error) {
	return r.tx().getLoan(loanID)
}

// GetByLoanIDForUpdate relies on the per-loan mutex taken by WithinLoanTx.
func (r loanRepo) GetByLoanIDForUpdate(_ context.Context, loanID string) (*loan.Loan, error) {
	return r.tx().getLoan(loanID)
}

func (t *txn) allLoans() []loan.Loan {
	t.s.mu.RLock()
	merged := make(map[string]*loan.Loan, len(t.s.loans)+len(t.loans))
	for id, l := range t.s.loans {
		merged[id] = l
	}
	t.s.mu.RUnlock()
	for id, l := range t.loans {
		merged[id] = l
	}
	out := make([]loan.Loan, 0, len(merged))
	for _, l := range merged {
		out = append(out, *l.Clone())
	}
	return out
}

func (r loanRepo) ListByBorrower(_ context.Context, borrowerID string, status loan.Status) ([]loan.Loan, error) {
	t := r.tx()
	var out []loan.Loan
	for _, l := range t.allLoans() {
		if l.BorrowerID == borrowerID && (status == "" || l.Status == status) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r loanRepo) ListByStatus(_ context.Context, status loan.Status, limit int) ([]loan.Loan, error) {
	t := r.tx()
	var out []loan.Loan
	for _, l := range t.allLoans() {
		if l.Status == status {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- transactions

type txRepo struct{ tx func() *txn }

func (r txRepo) Append(_ context.Context, x *loantx.Transaction) error {
	t := r.tx()
	if x.TxHash != nil && t.hashTaken(*x.TxHash) {
		return apperr.Conflict("duplicate_tx_hash", "transaction %s has already been recorded", *x.TxHash)
	}
	x.ID = t.s.id()
	stamp(&x.CreatedAt)
	t.txs = append(t.txs, *x)
	return t.written()
}

func (r txRepo) ExistsByTxHash(_ context.Context, txHash string) (bool, error) {
	return r.tx().hashTaken(txHash), nil
}

func (r txRepo) ListByLoanID(_ context.Context, loanID string) ([]loantx.Transaction, error) {
	t := r.tx()
	t.s.mu.RLock()
	out := append([]loantx.Transaction(nil), t.s.txs[loanID]...)
	t.s.mu.RUnlock()
	for _, x := range t.txs {
		if x.LoanID == loanID {
			out = append(out, x)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// ---- borrowers

type borrowerRepo struct{ tx func() *txn }

func (r borrowerRepo) GetOrCreate(_ context.Context, borrowerID string) (*borrower.Borrower, error) {
	t := r.tx()
	b, ok := t.borrowers[borrowerID]
	if !ok {
		t.s.mu.RLock()
		b, ok = t.s.borrowers[borrowerID]
		t.s.mu.RUnlock()
	}
	if !ok {
		b = borrower.Borrower{ID: t.s.id(), BorrowerID: borrowerID}
		stamp(&b.CreatedAt)
		b.UpdatedAt = b.CreatedAt
		t.borrowers[borrowerID] = b
		if err := t.written(); err != nil {
			return nil, err
		}
	}
	if d, staged := t.deltas[borrowerID]; staged {
		d.ApplyTo(&b)
	}
	return &b, nil
}

func (r borrowerRepo) Apply(_ context.Context, borrowerID string, d borrower.Delta) error {
	t := r.tx()
	t.deltas[borrowerID] = t.deltas[borrowerID].Plus(d)
	return t.written()
}

func (r borrowerRepo) CreateWallet(_ context.Context, w *borrower.Wallet) error {
	t := r.tx()
	if _, err := t.wallet(w.WalletID); err == nil {
		return apperr.Conflict("duplicate_wallet", "wallet %q already exists", w.WalletID)
	}
	w.ID = t.s.id()
	stamp(&w.CreatedAt)
	t.wallets = append(t.wallets, *w)
	return t.written()
}

func (r borrowerRepo) GetWallet(_ context.Context, walletID string) (*borrower.Wallet, error) {
	return r.tx().wallet(walletID)
}

func (t *txn) wallet(walletID string) (*borrower.Wallet, error) {
	for _, w := range t.wallets {
		if w.WalletID == walletID {
			return &w, nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	w, ok := t.s.wallets[walletID]
	if !ok {
		return nil, apperr.NotFound("wallet", walletID)
	}
	return &w, nil
}

// ---- plans

type planRepo struct{ tx func() *txn }

func (r planRepo) Create(_ context.Context, p *plan.Plan) error {
	t := r.tx()
	if _, err := t.plan(p.PlanID); err == nil {
		return apperr.Conflict("duplicate_plan", "plan %q already exists", p.PlanID)
	}
	p.ID = t.s.id()
	stamp(&p.CreatedAt)
	t.plans = append(t.plans, *p)
	return t.written()
}

func (r planRepo) GetByPlanID(_ context.Context, planID string) (*plan.Plan, error) {
	return r.tx().plan(planID)
}

func (t *txn) plan(planID string) (*plan.Plan, error) {
	for _, p := range t.plans {
		if p.PlanID == planID {
			return &p, nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	p, ok := t.s.plans[planID]
	if !ok {
		return nil, apperr.NotFound("plan", planID)
	}
	return &p, nil
}

func (r planRepo) ListActive(_ context.Context) ([]plan.Plan, error) {
	t := r.tx()
	t.s.mu.RLock()
	out := make([]plan.Plan, 0, len(t.s.plans))
	for _, p := range t.s.plans {
		if p.Active {
			out = append(out, p)
		}
	}
	t.s.mu.RUnlock()
	for _, p := range t.plans {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- audit

type auditRepo struct{ tx func() *txn }

func (r auditRepo) Append(_ context.Context, rec *audit.Record) error {
	t := r.tx()
	rec.ID = t.s.id()
	stamp(&rec.CreatedAt)
	t.audits = append(t.audits, *rec)
	return t.written()
}

func (r auditRepo) ListByLoanID(_ context.Context, loanID string) ([]audit.Record, error) {
	t := r.tx()
	t.s.mu.RLock()
	out := append([]audit.Record(nil), t.s.audits[loanID]...)
	t.s.mu.RUnlock()
	for _, rec := range t.audits {
		if rec.LoanID == loanID {
			out = append(out, rec)
		}
	}
	return out, nil
}
