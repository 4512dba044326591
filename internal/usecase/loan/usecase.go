// Package loan is the Loan Ledger Service. It checks preconditions, asks the
// verifier about on-chain funds, mutates the ledger inside one unit of work
// per operation, and publishes domain events once the mutation commits.
package loan

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"avelon-ledger/internal/apperr"
	"avelon-ledger/internal/domain/audit"
	"avelon-ledger/internal/domain/borrower"
	"avelon-ledger/internal/domain/chain"
	"avelon-ledger/internal/domain/event"
	domain "avelon-ledger/internal/domain/loan"
	"avelon-ledger/internal/domain/loantx"
	"avelon-ledger/internal/domain/plan"
	"avelon-ledger/internal/domain/uow"
	"avelon-ledger/internal/infrastructure/metrics"
	"avelon-ledger/pkg/id"
	"avelon-ledger/pkg/loanmath"
)

type Config struct {
	Thresholds      loanmath.Thresholds
	TreasuryAddress string
	// EscrowAddress, when set, is the only accepted recipient of deposits.
	EscrowAddress string
	ExpireOverdue bool
}

type Usecase struct {
	uow      uow.UnitOfWork
	verifier chain.Verifier
	prices   chain.PriceFeed
	events   event.Publisher
	log      logrus.FieldLogger
	metrics  *metrics.LedgerMetrics
	cfg      Config
	now      func() time.Time
}

func NewUsecase(tx uow.UnitOfWork, v chain.Verifier, prices chain.PriceFeed, pub event.Publisher, log logrus.FieldLogger, m *metrics.LedgerMetrics, cfg Config) *Usecase {
	return &Usecase{
		uow:      tx,
		verifier: v,
		prices:   prices,
		events:   pub,
		log:      log,
		metrics:  m,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the wall clock, for tests and replays.
func (u *Usecase) WithClock(now func() time.Time) *Usecase {
	u.now = now
	return u
}

func (u *Usecase) Thresholds() loanmath.Thresholds { return u.cfg.Thresholds }

// done records the outcome of op and logs it at a level matching the error
// kind. Events are published only for committed mutations.
func (u *Usecase) done(ctx context.Context, op string, log logrus.FieldLogger, err error, evs []event.Event) error {
	if err == nil {
		u.metrics.Operation(op, "ok")
		log.Info("committed")
		if len(evs) > 0 {
			u.events.Publish(ctx, evs...)
		}
		return nil
	}
	kind := apperr.KindOf(err)
	u.metrics.Operation(op, string(kind))
	if kind == apperr.KindInternal {
		log.WithError(err).Error("failed")
		var e *apperr.Error
		if !errors.As(err, &e) {
			err = apperr.Internal(err, "%s failed", op)
		}
		return err
	}
	log.WithError(err).Warn("rejected")
	return err
}

func (u *Usecase) audit(ctx context.Context, r uow.Repos, loanID string, actor Actor, action audit.Action, detail map[string]any) error {
	return r.Audits.Append(ctx, &audit.Record{
		LoanID: loanID,
		Actor:  actor.ID,
		Action: action,
		Detail: datatypes.JSONMap(detail),
	})
}

func (u *Usecase) appendAll(ctx context.Context, r uow.Repos, txs ...loantx.Transaction) error {
	for i := range txs {
		if err := r.Transactions.Append(ctx, &txs[i]); err != nil {
			return err
		}
	}
	return nil
}

func authorize(l *domain.Loan, a Actor) error {
	if a.Admin || a.ID == l.BorrowerID {
		return nil
	}
	return apperr.Forbidden("not_loan_owner", "loan %s does not belong to %s", l.LoanID, a.ID)
}

func (u *Usecase) CreateLoan(ctx context.Context, in CreateLoanInput) (*LoanView, error) {
	const op = "create_loan"
	log := u.log.WithFields(logrus.Fields{"op": op, "borrower_id": in.Identity.UserID, "plan_id": in.PlanID})

	price, err := u.prices.ETHPrice(ctx)
	if err != nil {
		return nil, u.done(ctx, op, log, apperr.Blockchain("price_unavailable", err, "eth price snapshot unavailable"), nil)
	}

	var (
		view LoanView
		evs  []event.Event
	)
	err = u.uow.WithinTx(ctx, func(r uow.Repos) error {
		w, err := r.Borrowers.GetWallet(ctx, in.WalletID)
		if err != nil {
			return err
		}
		p, err := r.Plans.GetByPlanID(ctx, in.PlanID)
		if err != nil {
			return err
		}
		now := u.now()
		l, err := domain.New(domain.Application{
			LoanID:       id.NewID32(),
			Identity:     in.Identity,
			Wallet:       w,
			Plan:         p,
			Principal:    in.Principal,
			DurationDays: in.DurationDays,
			EthPrice:     price,
		}, now)
		if err != nil {
			return err
		}
		if err := r.Loans.Create(ctx, l); err != nil {
			return err
		}
		if _, err := r.Borrowers.GetOrCreate(ctx, l.BorrowerID); err != nil {
			return err
		}
		if err := u.audit(ctx, r, l.LoanID, Actor{ID: l.BorrowerID}, audit.ActionLoanCreated, map[string]any{
			"principal":           l.Principal.String(),
			"collateral_required": l.CollateralRequired.String(),
			"plan_id":             l.PlanID,
		}); err != nil {
			return err
		}
		evs = append(evs, event.New(event.TypeLoanCreated, l.LoanID, now, event.Payload{
			BorrowerID:    l.BorrowerID,
			WalletAddress: l.WalletAddress,
			Status:        string(l.Status),
			Terms: &event.Terms{
				Principal:          l.Principal,
				CollateralRequired: l.CollateralRequired,
				OriginationFee:     l.OriginationFee,
				InterestRateBps:    l.InterestRateBps,
				DurationDays:       l.DurationDays,
				GracePeriodDays:    p.GracePeriodDays,
			},
		}))
		view = viewOf(l, u.cfg.Thresholds)
		log = log.WithField("loan_id", l.LoanID)
		return nil
	})
	if err := u.done(ctx, op, log, err, evs); err != nil {
		return nil, err
	}
	return &view, nil
}

func (u *Usecase) CancelLoan(ctx context.Context, loanID string, actor Actor) (*LoanView, error) {
	const op = "cancel_loan"
	log := u.log.WithFields(logrus.Fields{"op": op, "loan_id": loanID, "actor": actor.ID})

	var (
		view LoanView
		evs  []event.Event
	)
	err := u.uow.WithinLoanTx(ctx, loanID, func(r uow.Repos, l *domain.Loan) error {
		if err := authorize(l, actor); err != nil {
			return err
		}
		now := u.now()
		if err := l.Cancel(now); err != nil {
			return err
		}
		if err := r.Loans.Save(ctx, l); err != nil {
			return err
		}
		if err := u.audit(ctx, r, l.LoanID, actor, audit.ActionLoanCancelled, nil); err != nil {
			return err
		}
		evs = append(evs, event.New(event.TypeLoanCancelled, l.LoanID, now, event.Payload{
			BorrowerID: l.BorrowerID,
			Status:     string(l.Status),
		}))
		view = viewOf(l, u.cfg.Thresholds)
		return nil
	})
	if err := u.done(ctx, op, log, err, evs); err != nil {
		return nil, err
	}
	return &view, nil
}

// LiquidateLoan seizes the collateral of an undercollateralized loan. The
// penalty goes to the treasury and the rest back to the borrower wallet.
func (u *Usecase) LiquidateLoan(ctx context.Context, loanID string, actor Actor) (*LiquidationResult, error) {
	const op = "liquidate_loan"
	log := u.log.WithFields(logrus.Fields{"op": op, "loan_id": loanID, "actor": actor.ID})
	if !actor.Admin {
		return nil, u.done(ctx, op, log, apperr.Forbidden("admin_only", "liquidation requires an admin"), nil)
	}

	var (
		out LiquidationResult
		evs []event.Event
	)
	err := u.uow.WithinLoanTx(ctx, loanID, func(r uow.Repos, l *domain.Loan) error {
		now := u.now()
		ratio := l.RatioBps()
		liq, err := l.Liquidate(u.cfg.Thresholds, u.cfg.TreasuryAddress, now)
		if err != nil {
			return err
		}
		if err := u.appendAll(ctx, r, liq.Entries...); err != nil {
			return err
		}
		if err := r.Borrowers.Apply(ctx, l.BorrowerID, borrower.Delta{ActiveLoans: -1, LiquidatedLoans: 1}); err != nil {
			return err
		}
		if err := r.Loans.Save(ctx, l); err != nil {
			return err
		}
		if err := u.audit(ctx, r, l.LoanID, actor, audit.ActionLoanLiquidated, map[string]any{
			"ratio_bps": ratio,
			"returned":  liq.Returned.String(),
			"penalty":   liq.Penalty.String(),
		}); err != nil {
			return err
		}
		evs = append(evs, event.New(event.TypeLoanLiquidated, l.LoanID, now, event.Payload{
			BorrowerID:    l.BorrowerID,
			WalletAddress: l.WalletAddress,
			Status:        string(l.Status),
			RatioBps:      event.Bps(ratio),
			Returned:      event.Wei(liq.Returned),
			Penalty:       event.Wei(liq.Penalty),
		}))
		out = LiquidationResult{LoanView: viewOf(l, u.cfg.Thresholds), Returned: liq.Returned, Penalty: liq.Penalty}
		return nil
	})
	if err := u.done(ctx, op, log, err, evs); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExpireLoan closes an overdue loan with no liquidation path. It is refused
// unless expiry is enabled.
func (u *Usecase) ExpireLoan(ctx context.Context, loanID string, actor Actor) (*LoanView, error) {
	const op = "expire_loan"
	log := u.log.WithFields(logrus.Fields{"op": op, "loan_id": loanID, "actor": actor.ID})
	if !u.cfg.ExpireOverdue {
		return nil, u.done(ctx, op, log, apperr.Conflict("expiry_disabled", "expiring overdue loans is disabled"), nil)
	}
	if !actor.Admin {
		return nil, u.done(ctx, op, log, apperr.Forbidden("admin_only", "expiry requires an admin"), nil)
	}

	var (
		view LoanView
		evs  []event.Event
	)
	err := u.uow.WithinLoanTx(ctx, loanID, func(r uow.Repos, l *domain.Loan) error {
		p, err := r.Plans.GetByPlanID(ctx, l.PlanID)
		if err != nil {
			return err
		}
		now := u.now()
		if err := l.Expire(now, p.GracePeriodDays, u.cfg.Thresholds); err != nil {
			return err
		}
		if err := r.Borrowers.Apply(ctx, l.BorrowerID, borrower.Delta{ActiveLoans: -1}); err != nil {
			return err
		}
		if err := r.Loans.Save(ctx, l); err != nil {
			return err
		}
		if err := u.audit(ctx, r, l.LoanID, actor, audit.ActionLoanExpired, map[string]any{
			"total_owed": l.TotalOwed().String(),
			"collateral": l.CollateralDeposited.String(),
		}); err != nil {
			return err
		}
		evs = append(evs, event.New(event.TypeLoanExpired, l.LoanID, now, event.Payload{
			BorrowerID: l.BorrowerID,
			Status:     string(l.Status),
			TotalOwed:  event.Wei(l.TotalOwed()),
		}))
		view = viewOf(l, u.cfg.Thresholds)
		return nil
	})
	if err := u.done(ctx, op, log, err, evs); err != nil {
		return nil, err
	}
	return &view, nil
}

func (u *Usecase) RegisterWallet(ctx context.Context, in RegisterWalletInput) (*borrower.Wallet, error) {
	const op = "register_wallet"
	log := u.log.WithFields(logrus.Fields{"op": op, "borrower_id": in.BorrowerID})
	if !common.IsHexAddress(in.Address) {
		return nil, u.done(ctx, op, log, apperr.Validation("invalid_address", "%q is not a hex address", in.Address), nil)
	}
	w := &borrower.Wallet{WalletID: id.NewID32(), BorrowerID: in.BorrowerID, Address: in.Address}
	err := u.uow.WithinTx(ctx, func(r uow.Repos) error {
		if _, err := r.Borrowers.GetOrCreate(ctx, in.BorrowerID); err != nil {
			return err
		}
		return r.Borrowers.CreateWallet(ctx, w)
	})
	if err := u.done(ctx, op, log, err, nil); err != nil {
		return nil, err
	}
	return w, nil
}

func (u *Usecase) CreatePlan(ctx context.Context, in CreatePlanInput, actor Actor) (*plan.Plan, error) {
	const op = "create_plan"
	log := u.log.WithFields(logrus.Fields{"op": op, "actor": actor.ID})
	if !actor.Admin {
		return nil, u.done(ctx, op, log, apperr.Forbidden("admin_only", "plans are managed by admins"), nil)
	}
	p := &plan.Plan{
		PlanID:             id.NewID32(),
		Name:               in.Name,
		Active:             true,
		MinCreditScore:     in.MinCreditScore,
		MinAmount:          in.MinAmount,
		MaxAmount:          in.MaxAmount,
		DurationOptions:    datatypes.JSONSlice[uint32](in.DurationOptions),
		InterestRateBps:    in.InterestRateBps,
		CollateralRatioBps: in.CollateralRatioBps,
		OriginationFeeBps:  in.OriginationFeeBps,
		LatePenaltyRateBps: in.LatePenaltyRateBps,
		GracePeriodDays:    in.GracePeriodDays,
	}
	if err := p.Validate(); err != nil {
		return nil, u.done(ctx, op, log, apperr.Validation("invalid_plan", "%v", err), nil)
	}
	err := u.uow.WithinTx(ctx, func(r uow.Repos) error { return r.Plans.Create(ctx, p) })
	if err := u.done(ctx, op, log.WithField("plan_id", p.PlanID), err, nil); err != nil {
		return nil, err
	}
	return p, nil
}
