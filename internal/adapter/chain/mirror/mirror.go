// Package mirror keeps the in-process contract mirror in step with the
// off-chain ledger by replaying committed domain events against it, and
// exposes the mirrored state for reconciliation.
package mirror

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"avelon-ledger/internal/apperr"
	"avelon-ledger/internal/chain/contract"
	"avelon-ledger/internal/domain/chain"
	"avelon-ledger/internal/domain/event"
	"avelon-ledger/pkg/loanmath"
	"avelon-ledger/pkg/money"
)

type Mirror struct {
	lending *contract.AvelonLending
	th      loanmath.Thresholds
}

var (
	_ event.Sink   = (*Mirror)(nil)
	_ chain.Ledger = (*Mirror)(nil)
)

func New(th loanmath.Thresholds, treasury string) *Mirror {
	lending := contract.NewAvelonLending(contract.Params{
		MinCollateralRatioBps:     th.MinCollateralRatioBps,
		WarningCollateralRatioBps: th.WarningCollateralRatioBps,
		LiquidationPenaltyBps:     th.LiquidationPenaltyBps,
		Treasury:                  common.HexToAddress(treasury),
	}, contract.NewCollateralManager(), contract.NewRepaymentSchedule())
	return &Mirror{lending: lending, th: th}
}

func (m *Mirror) Lending() *contract.AvelonLending { return m.lending }

func (m *Mirror) Name() string { return "contract-mirror" }

func toU256(w *money.Wei) (*uint256.Int, error) {
	if w == nil {
		return nil, fmt.Errorf("missing amount")
	}
	v, overflow := uint256.FromBig(w.BigInt())
	if overflow || w.Sign() < 0 {
		return nil, fmt.Errorf("amount %s does not fit uint256", w)
	}
	return v, nil
}

func fromU256(v *uint256.Int) money.Wei { return money.FromBig(v.ToBig()) }

// Deliver applies one event. Events that the contract derives on its own,
// such as LoanRepaid, are ignored.
func (m *Mirror) Deliver(_ context.Context, e event.Event) error {
	p := e.Payload
	now := uint64(e.OccurredAt.Unix())
	switch e.Type {
	case event.TypeLoanCreated:
		if p.Terms == nil {
			return fmt.Errorf("%s %s: missing terms", e.Type, e.LoanID)
		}
		principal, err := toU256(&p.Terms.Principal)
		if err != nil {
			return err
		}
		required, err := toU256(&p.Terms.CollateralRequired)
		if err != nil {
			return err
		}
		fee, err := toU256(&p.Terms.OriginationFee)
		if err != nil {
			return err
		}
		return m.lending.CreateLoan(e.LoanID, contract.Terms{
			Borrower:           common.HexToAddress(p.WalletAddress),
			Principal:          principal,
			CollateralRequired: required,
			OriginationFee:     fee,
			InterestRateBps:    p.Terms.InterestRateBps,
			DurationDays:       p.Terms.DurationDays,
			GracePeriodDays:    p.Terms.GracePeriodDays,
		})
	case event.TypeCollateralDeposited:
		v, err := toU256(p.Amount)
		if err != nil {
			return err
		}
		return m.lending.DepositCollateral(e.LoanID, common.HexToAddress(p.WalletAddress), v)
	case event.TypeLoanActivated:
		return m.lending.ActivateLoan(e.LoanID, now)
	case event.TypeRepaymentReceived:
		v, err := toU256(p.Amount)
		if err != nil {
			return err
		}
		return m.lending.RecordRepayment(e.LoanID, common.HexToAddress(p.WalletAddress), v)
	case event.TypeLoanLiquidated:
		return m.lending.LiquidateLoan(e.LoanID)
	case event.TypeLoanCancelled:
		return m.lending.CancelLoan(e.LoanID)
	case event.TypeLoanExpired:
		return m.lending.ExpireLoan(e.LoanID, now)
	}
	return nil
}

func (m *Mirror) LoanState(_ context.Context, loanID string) (chain.LoanState, error) {
	l, err := m.lending.GetLoan(loanID)
	if err != nil {
		return chain.LoanState{}, apperr.NotFound("chain_loan", loanID)
	}
	ratio, err := m.lending.GetCollateralRatio(loanID)
	if err != nil {
		return chain.LoanState{}, apperr.Blockchain("mirror_read_failed", err, "read collateral ratio for %s", loanID)
	}
	return chain.LoanState{
		Status: l.Status.String(),
		Owed: loanmath.Buckets{
			Fees:      fromU256(l.FeesOwed),
			Interest:  fromU256(l.InterestOwed),
			Principal: fromU256(l.PrincipalOwed),
		},
		Collateral: fromU256(m.lending.Collateral().CollateralOf(loanID)),
		RatioBps:   ratio,
		Risk:       loanmath.Assess(ratio, m.th),
	}, nil
}
