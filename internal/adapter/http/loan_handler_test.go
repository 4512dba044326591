package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdhttp "net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"gorm.io/datatypes"

	"avelon-ledger/internal/adapter/repository/memory"
	"avelon-ledger/internal/domain/borrower"
	"avelon-ledger/internal/domain/chain"
	"avelon-ledger/internal/domain/plan"
	"avelon-ledger/internal/testutil/chainmock"
	"avelon-ledger/internal/testutil/eventmock"
	"avelon-ledger/internal/usecase/loan"
	"avelon-ledger/internal/usecase/reconcile"
	"avelon-ledger/pkg/id"
	"avelon-ledger/pkg/loanmath"
	"avelon-ledger/pkg/money"
)

const (
	borrowerID = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	strangerID = "cccccccccccccccccccccccccccccccc"
	adminID    = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	walletID   = "dddddddddddddddddddddddddddddddd"
	planID     = "eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"
	walletAddr = "0x1111111111111111111111111111111111111111"

	oneETH = "1000000000000000000"
)

type api struct {
	e        *echo.Echo
	verifier *chainmock.Verifier

	mu    sync.Mutex
	chain map[string]chain.Verification
}

type apiOpts struct {
	redis redis.Cmdable
	rec   Reconciler
}

func newAPI(t *testing.T, opts apiOpts) *api {
	t.Helper()
	a := &api{chain: map[string]chain.Verification{}}
	a.verifier = &chainmock.Verifier{VerifyFn: func(_ context.Context, h string) (chain.Verification, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.chain[h], nil
	}}

	store := memory.NewStore()
	ctx := context.Background()
	r := store.Repos()
	if err := r.Plans.Create(ctx, &plan.Plan{
		PlanID: planID, Name: "standard", Active: true, MinCreditScore: 600,
		MinAmount: money.FromUint64(1), MaxAmount: money.Ether(10),
		DurationOptions: datatypes.JSONSlice[uint32]{30}, InterestRateBps: 500, CollateralRatioBps: 15000, GracePeriodDays: 7,
	}); err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	if err := r.Borrowers.CreateWallet(ctx, &borrower.Wallet{WalletID: walletID, BorrowerID: borrowerID, Address: walletAddr}); err != nil {
		t.Fatalf("seed wallet: %v", err)
	}

	log, _ := test.NewNullLogger()
	uc := loan.NewUsecase(store, a.verifier, &chainmock.PriceFeed{Price: decimal.NewFromInt(2500)}, &eventmock.Recorder{}, log, nil, loan.Config{
		Thresholds:      loanmath.Thresholds{MinCollateralRatioBps: 12000, WarningCollateralRatioBps: 13000, LiquidationPenaltyBps: 500},
		TreasuryAddress: "0x3333333333333333333333333333333333333333",
	})
	if opts.rec == nil {
		opts.rec = reconcile.NewService(store, nil, log)
	}
	a.e = NewRouter(RouterDeps{
		Health:         NewHandler(),
		Loans:          NewLoanHandler(uc, opts.rec, false),
		Redis:          opts.redis,
		IdempotencyTTL: time.Minute,
		Log:            log,
	})
	return a
}

type header func(stdhttp.Header)

func as(userID string) header {
	return func(h stdhttp.Header) { h.Set(HeaderBorrowerID, userID) }
}

func admin(h stdhttp.Header) {
	h.Set(HeaderBorrowerID, adminID)
	h.Set(HeaderActorRole, "admin")
}

func score(n int) header {
	return func(h stdhttp.Header) { h.Set(HeaderCreditScore, strconv.Itoa(n)) }
}

func requestID(rid string) header {
	return func(h stdhttp.Header) {
		h.Set("X-Request-Id", rid)
		h.Set("X-Request-At", time.Now().UTC().Format(time.RFC3339))
	}
}

func (a *api) do(t *testing.T, method, path string, body any, hs ...header) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(HeaderBorrowerID, borrowerID)
	req.Header.Set(HeaderCreditScore, "700")
	requestID(id.NewID32())(req.Header)
	for _, h := range hs {
		h(req.Header)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("bad json (%d): %s", rec.Code, rec.Body.String())
	}
	return out
}

func wantError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d; body=%s", rec.Code, status, rec.Body.String())
	}
	var er ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &er); err != nil || er.Code != code {
		t.Fatalf("code = %q (%v), want %q; body=%s", er.Code, err, code, rec.Body.String())
	}
}

func txHash(n int) string { return fmt.Sprintf("0x%064x", n) }

func (a *api) onChain(n int, value string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, _ := money.ParseWei(value)
	a.chain[txHash(n)] = chain.Verification{Valid: true, BlockNumber: 9, From: walletAddr, Value: v}
	return txHash(n)
}

func (a *api) createLoan(t *testing.T) string {
	t.Helper()
	rec := a.do(t, stdhttp.MethodPost, "/loans", map[string]any{
		"wallet_id": walletID, "plan_id": planID, "principal": oneETH, "duration_days": 30,
	})
	if rec.Code != stdhttp.StatusCreated {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body.String())
	}
	return decode(t, rec)["loan_id"].(string)
}

func TestCreateLoan_Success(t *testing.T) {
	a := newAPI(t, apiOpts{})
	rec := a.do(t, stdhttp.MethodPost, "/loans", map[string]any{
		"wallet_id": walletID, "plan_id": planID, "principal": oneETH, "duration_days": 30,
	})
	if rec.Code != stdhttp.StatusCreated {
		t.Fatalf("status = %d, want 201; body=%s", rec.Code, rec.Body.String())
	}
	got := decode(t, rec)
	if got["status"] != "pending_collateral" || got["borrower_id"] != borrowerID {
		t.Fatalf("unexpected loan: %v", got)
	}
	if got["collateral_required"] != "1500000000000000000" || got["principal"] != oneETH {
		t.Fatalf("amounts: %v", got)
	}
	if !id.Valid(got["loan_id"].(string)) {
		t.Fatalf("loan id %v", got["loan_id"])
	}
}

func TestCreateLoan_BindError(t *testing.T) {
	a := newAPI(t, apiOpts{})
	req := httptest.NewRequest(stdhttp.MethodPost, "/loans", bytes.NewReader([]byte(`{"wallet_id":`)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(HeaderBorrowerID, borrowerID)
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	wantError(t, rec, stdhttp.StatusBadRequest, "invalid_body")
}

func TestCreateLoan_ValidationError(t *testing.T) {
	a := newAPI(t, apiOpts{})
	rec := a.do(t, stdhttp.MethodPost, "/loans", map[string]any{
		"wallet_id": "NOT_HEX", "plan_id": planID, "principal": "1.5",
	})
	wantError(t, rec, stdhttp.StatusUnprocessableEntity, "validation_failed")

	var er ErrorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &er)
	for _, f := range []string{"wallet_id", "principal", "duration_days"} {
		found := false
		for _, d := range er.Details {
			found = found || d.Field == f
		}
		if !found {
			t.Fatalf("no detail for %s: %+v", f, er.Details)
		}
	}
}

func TestCreateLoan_DomainRejections(t *testing.T) {
	a := newAPI(t, apiOpts{})
	body := map[string]any{"wallet_id": walletID, "plan_id": planID, "principal": oneETH, "duration_days": 30}

	wantError(t, a.do(t, stdhttp.MethodPost, "/loans", body, score(550)), stdhttp.StatusForbidden, "credit_score_too_low")
	wantError(t, a.do(t, stdhttp.MethodPost, "/loans", body, as(strangerID)), stdhttp.StatusForbidden, "wallet_not_owned")

	body["duration_days"] = 45
	wantError(t, a.do(t, stdhttp.MethodPost, "/loans", body), stdhttp.StatusBadRequest, "duration_not_offered")
}

func TestIdentityRequired(t *testing.T) {
	a := newAPI(t, apiOpts{})
	wantError(t, a.do(t, stdhttp.MethodGet, "/plans", nil, as("")), stdhttp.StatusUnauthorized, "unauthenticated")
	wantError(t, a.do(t, stdhttp.MethodGet, "/plans", nil, as("not-hex")), stdhttp.StatusUnauthorized, "unauthenticated")
	wantError(t, a.do(t, stdhttp.MethodGet, "/plans", nil, score(-1), func(h stdhttp.Header) { h.Set(HeaderCreditScore, "high") }),
		stdhttp.StatusBadRequest, "invalid_credit_score")
}

func TestLoanLifecycle_OverHTTP(t *testing.T) {
	a := newAPI(t, apiOpts{})
	loanID := a.createLoan(t)
	base := "/loans/" + loanID

	rec := a.do(t, stdhttp.MethodPost, base+"/collateral", map[string]string{"tx_hash": a.onChain(1, "1500000000000000000")})
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("deposit = %d: %s", rec.Code, rec.Body.String())
	}
	got := decode(t, rec)
	if got["status"] != "active" || got["total_owed"] != "1004109589041095890" || got["collateral_ratio_bps"] != float64(14938) {
		t.Fatalf("after deposit: %v", got)
	}

	wantError(t, a.do(t, stdhttp.MethodPost, base+"/collateral", map[string]string{"tx_hash": txHash(1)}),
		stdhttp.StatusConflict, "duplicate_tx_hash")

	wantError(t, a.do(t, stdhttp.MethodPost, base+"/repayments", map[string]string{"tx_hash": a.onChain(2, "5"), "amount": "6"}),
		stdhttp.StatusBadGateway, "amount_mismatch")

	rec = a.do(t, stdhttp.MethodPost, base+"/repayments", map[string]string{
		"tx_hash": a.onChain(3, "1004109589041095890"), "amount": "1004109589041095890",
	})
	if rec.Code != stdhttp.StatusOK || decode(t, rec)["status"] != "repaid" {
		t.Fatalf("repay = %d: %s", rec.Code, rec.Body.String())
	}

	rec = a.do(t, stdhttp.MethodGet, base+"/transactions", nil)
	txs, _ := decode(t, rec)["transactions"].([]any)
	if rec.Code != stdhttp.StatusOK || len(txs) != 4 {
		t.Fatalf("history = %d, %d entries: %s", rec.Code, len(txs), rec.Body.String())
	}

	rec = a.do(t, stdhttp.MethodGet, base+"/audit", nil)
	if recs, _ := decode(t, rec)["records"].([]any); rec.Code != stdhttp.StatusOK || len(recs) == 0 {
		t.Fatalf("audit = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetLoan_Visibility(t *testing.T) {
	a := newAPI(t, apiOpts{})
	loanID := a.createLoan(t)

	if rec := a.do(t, stdhttp.MethodGet, "/loans/"+loanID, nil); rec.Code != stdhttp.StatusOK {
		t.Fatalf("owner = %d", rec.Code)
	}
	wantError(t, a.do(t, stdhttp.MethodGet, "/loans/"+loanID, nil, as(strangerID)), stdhttp.StatusForbidden, "not_loan_owner")
	wantError(t, a.do(t, stdhttp.MethodGet, "/loans/"+loanID+"/transactions", nil, as(strangerID)), stdhttp.StatusForbidden, "not_loan_owner")
	if rec := a.do(t, stdhttp.MethodGet, "/loans/"+loanID, nil, admin); rec.Code != stdhttp.StatusOK {
		t.Fatalf("admin = %d", rec.Code)
	}
	wantError(t, a.do(t, stdhttp.MethodGet, "/loans/"+id.NewID32(), nil), stdhttp.StatusNotFound, "loan_not_found")
}

func TestCancelAndLiquidate(t *testing.T) {
	a := newAPI(t, apiOpts{})
	loanID := a.createLoan(t)

	wantError(t, a.do(t, stdhttp.MethodPost, "/loans/"+loanID+"/cancel", nil, as(strangerID)), stdhttp.StatusForbidden, "not_loan_owner")
	wantError(t, a.do(t, stdhttp.MethodPost, "/loans/"+loanID+"/liquidate", nil), stdhttp.StatusForbidden, "admin_only")
	wantError(t, a.do(t, stdhttp.MethodPost, "/loans/"+loanID+"/liquidate", nil, admin), stdhttp.StatusConflict, "invalid_transition")

	rec := a.do(t, stdhttp.MethodPost, "/loans/"+loanID+"/cancel", nil)
	if rec.Code != stdhttp.StatusOK || decode(t, rec)["status"] != "cancelled" {
		t.Fatalf("cancel = %d: %s", rec.Code, rec.Body.String())
	}
	wantError(t, a.do(t, stdhttp.MethodPost, "/loans/"+loanID+"/cancel", nil), stdhttp.StatusConflict, "invalid_transition")
}

func TestListBorrowerLoans(t *testing.T) {
	a := newAPI(t, apiOpts{})
	a.createLoan(t)

	rec := a.do(t, stdhttp.MethodGet, "/borrowers/"+borrowerID+"/loans?status=pending_collateral", nil)
	if loans, _ := decode(t, rec)["loans"].([]any); rec.Code != stdhttp.StatusOK || len(loans) != 1 {
		t.Fatalf("list = %d: %s", rec.Code, rec.Body.String())
	}
	rec = a.do(t, stdhttp.MethodGet, "/borrowers/"+borrowerID+"/loans?status=active", nil)
	if loans, _ := decode(t, rec)["loans"].([]any); len(loans) != 0 {
		t.Fatalf("active list = %s", rec.Body.String())
	}
	wantError(t, a.do(t, stdhttp.MethodGet, "/borrowers/"+borrowerID+"/loans?status=bogus", nil), stdhttp.StatusBadRequest, "invalid_status")
	wantError(t, a.do(t, stdhttp.MethodGet, "/borrowers/"+borrowerID+"/loans", nil, as(strangerID)), stdhttp.StatusForbidden, "not_borrower")
}

func TestPlansAndWallets(t *testing.T) {
	a := newAPI(t, apiOpts{})

	rec := a.do(t, stdhttp.MethodGet, "/plans", nil)
	if plans, _ := decode(t, rec)["plans"].([]any); rec.Code != stdhttp.StatusOK || len(plans) != 1 {
		t.Fatalf("plans = %d: %s", rec.Code, rec.Body.String())
	}

	body := map[string]any{
		"name": "short", "min_credit_score": 650, "min_amount": "1000", "max_amount": oneETH,
		"duration_options": []int{7, 14}, "interest_rate_bps": 300, "collateral_ratio_bps": 20000, "grace_period_days": 3,
	}
	wantError(t, a.do(t, stdhttp.MethodPost, "/plans", body), stdhttp.StatusForbidden, "admin_only")
	rec = a.do(t, stdhttp.MethodPost, "/plans", body, admin)
	if rec.Code != stdhttp.StatusCreated || decode(t, rec)["collateral_ratio_bps"] != float64(20000) {
		t.Fatalf("create plan = %d: %s", rec.Code, rec.Body.String())
	}
	body["collateral_ratio_bps"] = 9000
	wantError(t, a.do(t, stdhttp.MethodPost, "/plans", body, admin), stdhttp.StatusBadRequest, "invalid_plan")

	rec = a.do(t, stdhttp.MethodPost, "/wallets", map[string]string{"address": "0x4444444444444444444444444444444444444444"})
	if rec.Code != stdhttp.StatusCreated {
		t.Fatalf("wallet = %d: %s", rec.Code, rec.Body.String())
	}
	wantError(t, a.do(t, stdhttp.MethodPost, "/wallets", map[string]string{"address": "nope"}), stdhttp.StatusUnprocessableEntity, "validation_failed")
}

func TestReconcileRoute(t *testing.T) {
	a := newAPI(t, apiOpts{})
	loanID := a.createLoan(t)

	wantError(t, a.do(t, stdhttp.MethodGet, "/loans/"+loanID+"/reconcile", nil), stdhttp.StatusForbidden, "admin_only")
	rec := a.do(t, stdhttp.MethodGet, "/loans/"+loanID+"/reconcile", nil, admin)
	if rec.Code != stdhttp.StatusOK || decode(t, rec)["consistent"] != true {
		t.Fatalf("reconcile = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestIdempotentDepositReplay(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	a := newAPI(t, apiOpts{redis: rdb})
	loanID := a.createLoan(t)

	body := map[string]string{"tx_hash": a.onChain(7, "1500000000000000000")}
	rid := requestID("3f9a6a1b-3d54-4fbe-8b3a-6b3e8d6b2c88")
	first := a.do(t, stdhttp.MethodPost, "/loans/"+loanID+"/collateral", body, rid)
	second := a.do(t, stdhttp.MethodPost, "/loans/"+loanID+"/collateral", body, rid)

	if first.Code != stdhttp.StatusOK || second.Code != stdhttp.StatusOK {
		t.Fatalf("codes = %d, %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() || second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("second response was not a replay")
	}
	if a.verifier.Calls() != 1 {
		t.Fatalf("verifier called %d times, want 1", a.verifier.Calls())
	}

	// a fresh request id reaches the ledger, which rejects the reused hash
	wantError(t, a.do(t, stdhttp.MethodPost, "/loans/"+loanID+"/collateral", body), stdhttp.StatusConflict, "duplicate_tx_hash")
}

func TestMetricsEndpoint(t *testing.T) {
	a := newAPI(t, apiOpts{})
	req := httptest.NewRequest(stdhttp.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
}

func TestWriteError_HidesInternalDetails(t *testing.T) {
	e := echo.New()
	for _, dev := range []bool{false, true} {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(stdhttp.MethodGet, "/", nil), rec)
		_ = writeError(c, errors.New("dial tcp 10.0.0.5:3306: refused"), dev)

		var er ErrorResponse
		_ = json.Unmarshal(rec.Body.Bytes(), &er)
		if rec.Code != stdhttp.StatusInternalServerError || er.Code != "internal_error" {
			t.Fatalf("dev=%v: %d %+v", dev, rec.Code, er)
		}
		leaked := bytes.Contains(rec.Body.Bytes(), []byte("10.0.0.5"))
		if leaked != dev {
			t.Fatalf("dev=%v: leaked=%v body=%s", dev, leaked, rec.Body.String())
		}
	}
}
