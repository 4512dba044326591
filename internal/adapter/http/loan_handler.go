package http

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"avelon-ledger/internal/apperr"
	"avelon-ledger/internal/usecase/loan"
	"avelon-ledger/internal/usecase/reconcile"
	"avelon-ledger/pkg/money"
)

type Reconciler interface {
	Check(ctx context.Context, loanID string) (*reconcile.Report, error)
}

type LoanHandler struct {
	uc  *loan.Usecase
	rec Reconciler
	dev bool
}

// NewLoanHandler wires the loan routes. rec may be nil, which disables the
// reconcile route.
func NewLoanHandler(uc *loan.Usecase, rec Reconciler, dev bool) *LoanHandler {
	return &LoanHandler{uc: uc, rec: rec, dev: dev}
}

type createLoanReq struct {
	WalletID     string `json:"wallet_id"     validate:"required,hex32"`
	PlanID       string `json:"plan_id"       validate:"required,hex32"`
	Principal    string `json:"principal"     validate:"required,wei"`
	DurationDays uint32 `json:"duration_days" validate:"required,gt=0"`
}

type depositReq struct {
	TxHash string `json:"tx_hash" validate:"required,txhash"`
}

type repaymentReq struct {
	TxHash string `json:"tx_hash" validate:"required,txhash"`
	Amount string `json:"amount"  validate:"required,wei"`
}

type registerWalletReq struct {
	Address string `json:"address" validate:"required,ethaddr"`
}

type createPlanReq struct {
	Name               string   `json:"name"                  validate:"required,max=128"`
	MinCreditScore     int      `json:"min_credit_score"      validate:"gte=0"`
	MinAmount          string   `json:"min_amount"            validate:"required,wei"`
	MaxAmount          string   `json:"max_amount"            validate:"required,wei"`
	DurationOptions    []uint32 `json:"duration_options"      validate:"required,min=1,dive,gt=0"`
	InterestRateBps    uint32   `json:"interest_rate_bps"`
	CollateralRatioBps uint32   `json:"collateral_ratio_bps"  validate:"required"`
	OriginationFeeBps  uint32   `json:"origination_fee_bps"`
	LatePenaltyRateBps uint32   `json:"late_penalty_rate_bps"`
	GracePeriodDays    uint32   `json:"grace_period_days"`
}

func (h *LoanHandler) fail(c echo.Context, err error) error { return writeError(c, err, h.dev) }

// visible loads a loan the caller may see: their own, or any for admins.
func (h *LoanHandler) visible(c echo.Context) (*loan.LoanView, error) {
	v, err := h.uc.GetLoan(c.Request().Context(), c.Param("loan_id"))
	if err != nil {
		return nil, err
	}
	if who := callerOf(c); !who.admin && v.BorrowerID != who.UserID {
		return nil, apperr.Forbidden("not_loan_owner", "loan %s belongs to another borrower", v.LoanID)
	}
	return v, nil
}

func (h *LoanHandler) CreateLoan(c echo.Context) error {
	var req createLoanReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	principal, _ := money.ParseWei(req.Principal)
	v, err := h.uc.CreateLoan(c.Request().Context(), loan.CreateLoanInput{
		Identity:     callerOf(c).Identity,
		WalletID:     req.WalletID,
		PlanID:       req.PlanID,
		Principal:    principal,
		DurationDays: req.DurationDays,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *LoanHandler) GetLoan(c echo.Context) error {
	v, err := h.visible(c)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *LoanHandler) History(c echo.Context) error {
	v, err := h.visible(c)
	if err != nil {
		return h.fail(c, err)
	}
	txs, err := h.uc.History(c.Request().Context(), v.LoanID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"loan_id": v.LoanID, "transactions": txs})
}

func (h *LoanHandler) AuditTrail(c echo.Context) error {
	v, err := h.visible(c)
	if err != nil {
		return h.fail(c, err)
	}
	recs, err := h.uc.AuditTrail(c.Request().Context(), v.LoanID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"loan_id": v.LoanID, "records": recs})
}

func (h *LoanHandler) DepositCollateral(c echo.Context) error {
	var req depositReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	v, err := h.uc.RecordCollateralDeposit(c.Request().Context(), loan.DepositInput{
		LoanID: c.Param("loan_id"),
		TxHash: req.TxHash,
		Actor:  actorOf(c),
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *LoanHandler) RecordRepayment(c echo.Context) error {
	var req repaymentReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	amount, _ := money.ParseWei(req.Amount)
	v, err := h.uc.RecordRepayment(c.Request().Context(), loan.RepaymentInput{
		LoanID: c.Param("loan_id"),
		TxHash: req.TxHash,
		Amount: amount,
		Actor:  actorOf(c),
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *LoanHandler) CancelLoan(c echo.Context) error {
	v, err := h.uc.CancelLoan(c.Request().Context(), c.Param("loan_id"), actorOf(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *LoanHandler) LiquidateLoan(c echo.Context) error {
	v, err := h.uc.LiquidateLoan(c.Request().Context(), c.Param("loan_id"), actorOf(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *LoanHandler) ExpireLoan(c echo.Context) error {
	v, err := h.uc.ExpireLoan(c.Request().Context(), c.Param("loan_id"), actorOf(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *LoanHandler) Reconcile(c echo.Context) error {
	if h.rec == nil {
		return h.fail(c, apperr.Conflict("reconcile_disabled", "no on-chain ledger is configured"))
	}
	if !callerOf(c).admin {
		return h.fail(c, apperr.Forbidden("admin_only", "reconciliation is restricted to admins"))
	}
	rep, err := h.rec.Check(c.Request().Context(), c.Param("loan_id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"report": rep, "consistent": rep.Consistent()})
}

func (h *LoanHandler) ListBorrowerLoans(c echo.Context) error {
	borrowerID := c.Param("borrower_id")
	if who := callerOf(c); !who.admin && borrowerID != who.UserID {
		return h.fail(c, apperr.Forbidden("not_borrower", "cannot list loans of another borrower"))
	}
	views, err := h.uc.ListBorrowerLoans(c.Request().Context(), borrowerID, c.QueryParam("status"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"borrower_id": borrowerID, "loans": views})
}

func (h *LoanHandler) Plans(c echo.Context) error {
	plans, err := h.uc.Plans(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"plans": plans})
}

func (h *LoanHandler) CreatePlan(c echo.Context) error {
	var req createPlanReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	minAmount, _ := money.ParseWei(req.MinAmount)
	maxAmount, _ := money.ParseWei(req.MaxAmount)
	p, err := h.uc.CreatePlan(c.Request().Context(), loan.CreatePlanInput{
		Name:               req.Name,
		MinCreditScore:     req.MinCreditScore,
		MinAmount:          minAmount,
		MaxAmount:          maxAmount,
		DurationOptions:    req.DurationOptions,
		InterestRateBps:    req.InterestRateBps,
		CollateralRatioBps: req.CollateralRatioBps,
		OriginationFeeBps:  req.OriginationFeeBps,
		LatePenaltyRateBps: req.LatePenaltyRateBps,
		GracePeriodDays:    req.GracePeriodDays,
	}, actorOf(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *LoanHandler) RegisterWallet(c echo.Context) error {
	var req registerWalletReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	w, err := h.uc.RegisterWallet(c.Request().Context(), loan.RegisterWalletInput{
		BorrowerID: callerOf(c).UserID,
		Address:    req.Address,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, w)
}
