package loan

import (
	"fmt"

	"avelon-ledger/internal/domain/loantx"
	"avelon-ledger/pkg/loanmath"
	"avelon-ledger/pkg/money"
)

// Ledger is the state derived from a loan's creation terms and its
// transaction log.
type Ledger struct {
	Owed       loanmath.Buckets
	Collateral money.Wei
	LastSeq    uint32
}

// Replay folds txs, which must be in Seq order, over the loan's creation
// terms. The cached fields on Loan must always equal the result.
func Replay(l *Loan, txs []loantx.Transaction) (Ledger, error) {
	st := Ledger{Owed: loanmath.Buckets{Fees: l.OriginationFee, Principal: l.Principal}}

	for _, t := range txs {
		if t.LoanID != l.LoanID {
			return Ledger{}, fmt.Errorf("replay %s: transaction %d belongs to loan %s", l.LoanID, t.Seq, t.LoanID)
		}
		if t.Seq <= st.LastSeq {
			return Ledger{}, fmt.Errorf("replay %s: seq %d after %d", l.LoanID, t.Seq, st.LastSeq)
		}
		if t.Amount.Sign() < 0 {
			return Ledger{}, fmt.Errorf("replay %s: negative amount at seq %d", l.LoanID, t.Seq)
		}
		st.LastSeq = t.Seq

		switch t.Type {
		case loantx.TypeCollateralDeposit, loantx.TypeCollateralTopup:
			st.Collateral = st.Collateral.Add(t.Amount)
		case loantx.TypeLoanDisbursement:
			st.Owed.Interest = loanmath.SimpleInterest(l.Principal, l.InterestRateBps, l.DurationDays)
		case loantx.TypeRepayment:
			a, err := loanmath.Allocate(t.Amount, st.Owed)
			if err != nil {
				return Ledger{}, fmt.Errorf("replay %s: seq %d: %w", l.LoanID, t.Seq, err)
			}
			st.Owed = a.Remaining
		case loantx.TypeFeePayment:
			st.Owed.Fees = st.Owed.Fees.Sub(money.Min(t.Amount, st.Owed.Fees))
		case loantx.TypeLiquidation, loantx.TypeCollateralReturn:
			st.Collateral = st.Collateral.Sub(t.Amount)
			if st.Collateral.Sign() < 0 {
				return Ledger{}, fmt.Errorf("replay %s: collateral below zero at seq %d", l.LoanID, t.Seq)
			}
		default:
			return Ledger{}, fmt.Errorf("replay %s: unknown transaction type %q", l.LoanID, t.Type)
		}
	}
	return st, nil
}

// Drift lists the cached fields on l that disagree with the fold.
func (st Ledger) Drift(l *Loan) []string {
	var out []string
	check := func(field string, cached, folded money.Wei) {
		if !cached.Equal(folded) {
			out = append(out, fmt.Sprintf("%s: cached %s, replayed %s", field, cached, folded))
		}
	}
	check("fees_owed", l.FeesOwed, st.Owed.Fees)
	check("interest_owed", l.InterestOwed, st.Owed.Interest)
	check("principal_owed", l.PrincipalOwed, st.Owed.Principal)
	check("collateral_deposited", l.CollateralDeposited, st.Collateral)
	if l.TxSeq != st.LastSeq {
		out = append(out, fmt.Sprintf("tx_seq: cached %d, replayed %d", l.TxSeq, st.LastSeq))
	}
	return out
}
