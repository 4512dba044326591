package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/echo/v4"

	"avelon-ledger/internal/domain/borrower"
	"avelon-ledger/internal/usecase/loan"
	"avelon-ledger/pkg/id"
)

// Headers set by the gateway after it has authenticated the caller.
const (
	HeaderBorrowerID    = "X-Borrower-Id"
	HeaderCreditScore   = "X-Credit-Score"
	HeaderWalletAddress = "X-Wallet-Address"
	HeaderActorRole     = "X-Actor-Role"

	identityKey = "identity"
	roleAdmin   = "admin"
)

type caller struct {
	borrower.Identity
	admin bool
}

// Identity reads the gateway headers into the request context. Requests
// without a well-formed borrower id are rejected.
func Identity() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header
			who := caller{admin: strings.EqualFold(h.Get(HeaderActorRole), roleAdmin)}
			who.UserID = strings.TrimSpace(h.Get(HeaderBorrowerID))
			if !id.Valid(who.UserID) {
				return c.JSON(http.StatusUnauthorized, ErrorResponse{Code: "unauthenticated", Message: "missing or invalid " + HeaderBorrowerID})
			}
			if raw := strings.TrimSpace(h.Get(HeaderCreditScore)); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil {
					return c.JSON(http.StatusBadRequest, ErrorResponse{Code: "invalid_credit_score", Message: HeaderCreditScore + " must be an integer"})
				}
				who.CreditScore = &n
			}
			if addr := strings.TrimSpace(h.Get(HeaderWalletAddress)); addr != "" {
				if !common.IsHexAddress(addr) {
					return c.JSON(http.StatusBadRequest, ErrorResponse{Code: "invalid_address", Message: HeaderWalletAddress + " is not a hex address"})
				}
				who.WalletAddress = addr
			}
			c.Set(identityKey, who)
			return next(c)
		}
	}
}

func callerOf(c echo.Context) caller {
	who, _ := c.Get(identityKey).(caller)
	return who
}

func actorOf(c echo.Context) loan.Actor {
	who := callerOf(c)
	return loan.Actor{ID: who.UserID, Admin: who.admin}
}
