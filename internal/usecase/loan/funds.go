package loan

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"avelon-ledger/internal/apperr"
	"avelon-ledger/internal/domain/audit"
	"avelon-ledger/internal/domain/borrower"
	"avelon-ledger/internal/domain/chain"
	"avelon-ledger/internal/domain/event"
	domain "avelon-ledger/internal/domain/loan"
	"avelon-ledger/internal/domain/loantx"
	"avelon-ledger/internal/domain/uow"
)

func normalizeHash(h string) string { return strings.ToLower(strings.TrimSpace(h)) }

func duplicateTx(h string) error {
	return apperr.Conflict("duplicate_tx_hash", "transaction %s has already been recorded", h)
}

// verify asks the chain about txHash. A hash the ledger already holds is
// rejected before any network round-trip.
func (u *Usecase) verify(ctx context.Context, txHash string) (chain.Verification, error) {
	if txHash == "" {
		return chain.Verification{}, apperr.Validation("missing_tx_hash", "tx hash is required")
	}
	seen, err := u.uow.Repos().Transactions.ExistsByTxHash(ctx, txHash)
	if err != nil {
		return chain.Verification{}, err
	}
	if seen {
		return chain.Verification{}, duplicateTx(txHash)
	}
	v, err := u.verifier.Verify(ctx, txHash)
	if err != nil {
		return chain.Verification{}, apperr.Blockchain("verifier_unavailable", err, "could not verify %s", txHash)
	}
	if !v.Valid {
		return chain.Verification{}, apperr.Blockchain("tx_not_confirmed", nil, "transaction %s is not a confirmed success", txHash)
	}
	return v, nil
}

// precheck rejects a request the loan cannot take before the verifier is
// asked. It reads without a lock; the check inside the unit of work decides.
func (u *Usecase) precheck(ctx context.Context, loanID string, actor Actor, accepts func(*domain.Loan) error) error {
	l, err := u.uow.Repos().Loans.GetByLoanID(ctx, loanID)
	if err != nil {
		return err
	}
	if err := authorize(l, actor); err != nil {
		return err
	}
	return accepts(l)
}

// recheck repeats the duplicate check under the loan lock. The unique index
// on tx_hash remains the final backstop.
func recheck(ctx context.Context, r uow.Repos, txHash string) error {
	seen, err := r.Transactions.ExistsByTxHash(ctx, txHash)
	if err != nil {
		return err
	}
	if seen {
		return duplicateTx(txHash)
	}
	return nil
}

func onChain(t *loantx.Transaction, txHash string, v chain.Verification) {
	block := v.BlockNumber
	t.TxHash = &txHash
	t.BlockNumber = &block
	t.Confirmed = true
}

// RecordCollateralDeposit credits a verified deposit. When it completes the
// required collateral the loan is activated in the same unit of work.
func (u *Usecase) RecordCollateralDeposit(ctx context.Context, in DepositInput) (*LoanView, error) {
	const op = "record_collateral_deposit"
	txHash := normalizeHash(in.TxHash)
	log := u.log.WithFields(logrus.Fields{"op": op, "loan_id": in.LoanID, "tx_hash": txHash})

	if err := u.precheck(ctx, in.LoanID, in.Actor, (*domain.Loan).AcceptsDeposit); err != nil {
		return nil, u.done(ctx, op, log, err, nil)
	}
	v, err := u.verify(ctx, txHash)
	if err != nil {
		return nil, u.done(ctx, op, log, err, nil)
	}
	if u.cfg.EscrowAddress != "" && !borrower.SameAddress(v.To, u.cfg.EscrowAddress) {
		return nil, u.done(ctx, op, log, apperr.Validation("wrong_recipient", "deposit %s was not sent to the escrow", txHash), nil)
	}

	var (
		view LoanView
		evs  []event.Event
	)
	err = u.uow.WithinLoanTx(ctx, in.LoanID, func(r uow.Repos, l *domain.Loan) error {
		if err := authorize(l, in.Actor); err != nil {
			return err
		}
		if err := recheck(ctx, r, txHash); err != nil {
			return err
		}
		now := u.now()
		entry, err := l.DepositCollateral(v.From, v.Value, now)
		if err != nil {
			return err
		}
		onChain(&entry, txHash, v)
		if err := r.Transactions.Append(ctx, &entry); err != nil {
			return err
		}
		if err := u.audit(ctx, r, l.LoanID, in.Actor, audit.ActionCollateralDeposited, map[string]any{
			"tx_hash": txHash,
			"amount":  v.Value.String(),
			"total":   l.CollateralDeposited.String(),
		}); err != nil {
			return err
		}
		evs = append(evs, event.New(event.TypeCollateralDeposited, l.LoanID, now, event.Payload{
			BorrowerID:    l.BorrowerID,
			WalletAddress: l.WalletAddress,
			Status:        string(l.Status),
			TxHash:        txHash,
			Amount:        event.Wei(v.Value),
		}))

		if l.Status == domain.StatusCollateralDeposited {
			disbursement, err := l.Activate(now)
			if err != nil {
				return err
			}
			if err := r.Transactions.Append(ctx, &disbursement); err != nil {
				return err
			}
			if err := r.Borrowers.Apply(ctx, l.BorrowerID, borrower.Delta{ActiveLoans: 1, Borrowed: l.Principal}); err != nil {
				return err
			}
			if err := u.audit(ctx, r, l.LoanID, in.Actor, audit.ActionLoanActivated, map[string]any{
				"interest_owed": l.InterestOwed.String(),
				"due_date":      l.DueDate,
			}); err != nil {
				return err
			}
			evs = append(evs, event.New(event.TypeLoanActivated, l.LoanID, now, event.Payload{
				BorrowerID:    l.BorrowerID,
				WalletAddress: l.WalletAddress,
				Status:        string(l.Status),
				Amount:        event.Wei(l.Principal),
				TotalOwed:     event.Wei(l.TotalOwed()),
				RatioBps:      event.Bps(l.RatioBps()),
			}))
		}
		if err := r.Loans.Save(ctx, l); err != nil {
			return err
		}
		view = viewOf(l, u.cfg.Thresholds)
		return nil
	})
	if err := u.done(ctx, op, log, err, evs); err != nil {
		return nil, err
	}
	return &view, nil
}

// RecordRepayment applies a verified repayment along the fees, interest,
// principal waterfall. Settling the loan releases its collateral.
func (u *Usecase) RecordRepayment(ctx context.Context, in RepaymentInput) (*LoanView, error) {
	const op = "record_repayment"
	txHash := normalizeHash(in.TxHash)
	log := u.log.WithFields(logrus.Fields{"op": op, "loan_id": in.LoanID, "tx_hash": txHash})

	if in.Amount.Sign() <= 0 {
		return nil, u.done(ctx, op, log, apperr.Validation("invalid_amount", "repayment amount must be positive"), nil)
	}
	if err := u.precheck(ctx, in.LoanID, in.Actor, (*domain.Loan).AcceptsRepayment); err != nil {
		return nil, u.done(ctx, op, log, err, nil)
	}
	v, err := u.verify(ctx, txHash)
	if err != nil {
		return nil, u.done(ctx, op, log, err, nil)
	}
	if !v.Value.Equal(in.Amount) {
		return nil, u.done(ctx, op, log, apperr.Validation("amount_mismatch", "transaction carries %s wei, request says %s", v.Value, in.Amount), nil)
	}

	var (
		view LoanView
		evs  []event.Event
	)
	err = u.uow.WithinLoanTx(ctx, in.LoanID, func(r uow.Repos, l *domain.Loan) error {
		if err := authorize(l, in.Actor); err != nil {
			return err
		}
		if err := recheck(ctx, r, txHash); err != nil {
			return err
		}
		if !borrower.SameAddress(v.From, l.WalletAddress) {
			return apperr.Forbidden("wallet_mismatch", "repayment sender %s is not the loan wallet", v.From)
		}
		now := u.now()
		rep, err := l.ApplyRepayment(in.Amount, now)
		if err != nil {
			return err
		}
		onChain(&rep.Entry, txHash, v)
		if err := r.Transactions.Append(ctx, &rep.Entry); err != nil {
			return err
		}
		if rep.Release != nil {
			if err := r.Transactions.Append(ctx, rep.Release); err != nil {
				return err
			}
		}
		d := borrower.Delta{Repaid: in.Amount}
		if rep.Repaid() {
			d.ActiveLoans, d.CompletedLoans = -1, 1
		}
		if err := r.Borrowers.Apply(ctx, l.BorrowerID, d); err != nil {
			return err
		}
		if err := u.audit(ctx, r, l.LoanID, in.Actor, audit.ActionRepaymentRecorded, map[string]any{
			"tx_hash":      txHash,
			"amount":       in.Amount.String(),
			"to_fees":      rep.Allocation.ToFees.String(),
			"to_interest":  rep.Allocation.ToInterest.String(),
			"to_principal": rep.Allocation.ToPrincipal.String(),
		}); err != nil {
			return err
		}
		evs = append(evs, event.New(event.TypeRepaymentReceived, l.LoanID, now, event.Payload{
			BorrowerID:    l.BorrowerID,
			WalletAddress: l.WalletAddress,
			Status:        string(l.Status),
			TxHash:        txHash,
			Amount:        event.Wei(in.Amount),
			TotalOwed:     event.Wei(l.TotalOwed()),
		}))
		if rep.Repaid() {
			if err := u.audit(ctx, r, l.LoanID, in.Actor, audit.ActionLoanRepaid, nil); err != nil {
				return err
			}
			p := event.Payload{BorrowerID: l.BorrowerID, WalletAddress: l.WalletAddress, Status: string(l.Status)}
			if rep.Release != nil {
				p.Returned = event.Wei(rep.Release.Amount)
			}
			evs = append(evs, event.New(event.TypeLoanRepaid, l.LoanID, now, p))
		}
		if err := r.Loans.Save(ctx, l); err != nil {
			return err
		}
		view = viewOf(l, u.cfg.Thresholds)
		return nil
	})
	if err := u.done(ctx, op, log, err, evs); err != nil {
		return nil, err
	}
	return &view, nil
}
