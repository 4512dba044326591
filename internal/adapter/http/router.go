package http

import (
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"avelon-ledger/internal/adapter/middleware"
)

type RouterDeps struct {
	Health *Handler
	Loans  *LoanHandler
	// Redis backs request idempotency; nil turns it off.
	Redis          redis.Cmdable
	IdempotencyTTL time.Duration
	Log            logrus.FieldLogger
}

func NewRouter(d RouterDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()
	e.Use(echomw.Logger(), echomw.Recover())

	e.GET("/health", d.Health.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	mws := []echo.MiddlewareFunc{Identity()}
	if d.Redis != nil {
		mws = append(mws, middleware.Idempotency(d.Redis, d.IdempotencyTTL, d.Log))
	}
	api := e.Group("", mws...)

	h := d.Loans
	api.GET("/plans", h.Plans)
	api.POST("/plans", h.CreatePlan)
	api.POST("/wallets", h.RegisterWallet)
	api.POST("/loans", h.CreateLoan)
	api.GET("/loans/:loan_id", h.GetLoan)
	api.GET("/loans/:loan_id/transactions", h.History)
	api.GET("/loans/:loan_id/audit", h.AuditTrail)
	api.GET("/loans/:loan_id/reconcile", h.Reconcile)
	api.POST("/loans/:loan_id/collateral", h.DepositCollateral)
	api.POST("/loans/:loan_id/repayments", h.RecordRepayment)
	api.POST("/loans/:loan_id/cancel", h.CancelLoan)
	api.POST("/loans/:loan_id/liquidate", h.LiquidateLoan)
	api.POST("/loans/:loan_id/expire", h.ExpireLoan)
	api.GET("/borrowers/:borrower_id/loans", h.ListBorrowerLoans)
	return e
}
