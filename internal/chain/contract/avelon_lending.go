package contract

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type Status uint8

const (
	StatusPendingCollateral Status = iota
	StatusCollateralDeposited
	StatusActive
	StatusRepaid
	StatusLiquidated
	StatusCancelled
	StatusExpired
)

var statusNames = [...]string{
	"pending_collateral", "collateral_deposited", "active",
	"repaid", "liquidated", "cancelled", "expired",
}

// String uses the same names as the off-chain ledger so the two can be
// compared directly.
func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

type Params struct {
	MinCollateralRatioBps     uint32
	WarningCollateralRatioBps uint32
	LiquidationPenaltyBps     uint32
	Treasury                  common.Address
}

// Terms open a loan.
type Terms struct {
	Borrower           common.Address
	Principal          *uint256.Int
	CollateralRequired *uint256.Int
	OriginationFee     *uint256.Int
	InterestRateBps    uint32
	DurationDays       uint32
	GracePeriodDays    uint32
}

type Loan struct {
	ID string
	Terms
	FeesOwed      *uint256.Int
	InterestOwed  *uint256.Int
	PrincipalOwed *uint256.Int
	Status        Status
	StartTime     uint64
	DueDate       uint64
}

func (l *Loan) clone() Loan {
	c := *l
	c.Principal = l.Principal.Clone()
	c.CollateralRequired = l.CollateralRequired.Clone()
	c.OriginationFee = l.OriginationFee.Clone()
	c.FeesOwed = l.FeesOwed.Clone()
	c.InterestOwed = l.InterestOwed.Clone()
	c.PrincipalOwed = l.PrincipalOwed.Clone()
	return c
}

func (l *Loan) totalOwed() (*uint256.Int, error) {
	t, err := add(l.FeesOwed, l.InterestOwed)
	if err != nil {
		return nil, err
	}
	return add(t, l.PrincipalOwed)
}

// AvelonLending holds the authoritative on-chain copy of every loan. Calls are
// serialized, as transactions within a block are.
type AvelonLending struct {
	mu         sync.Mutex
	params     Params
	loans      map[string]*Loan
	collateral *CollateralManager
	schedule   *RepaymentSchedule
}

func NewAvelonLending(p Params, cm *CollateralManager, rs *RepaymentSchedule) *AvelonLending {
	return &AvelonLending{params: p, loans: make(map[string]*Loan), collateral: cm, schedule: rs}
}

func (a *AvelonLending) Collateral() *CollateralManager { return a.collateral }
func (a *AvelonLending) Schedule() *RepaymentSchedule   { return a.schedule }

func (a *AvelonLending) get(id string) (*Loan, error) {
	l, ok := a.loans[id]
	if !ok {
		return nil, revert("unknown loan")
	}
	return l, nil
}

func requireStatus(l *Loan, want Status) error {
	if l.Status != want {
		return revert("loan is " + l.Status.String() + ", need " + want.String())
	}
	return nil
}

func (a *AvelonLending) CreateLoan(id string, t Terms) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.loans[id]; ok {
		return revert("loan exists")
	}
	if t.Principal == nil || t.Principal.IsZero() {
		return revert("zero principal")
	}
	if t.CollateralRequired == nil || t.OriginationFee == nil {
		return revert("incomplete terms")
	}
	a.loans[id] = &Loan{
		ID:            id,
		Terms:         t,
		FeesOwed:      t.OriginationFee.Clone(),
		InterestOwed:  new(uint256.Int),
		PrincipalOwed: t.Principal.Clone(),
		Status:        StatusPendingCollateral,
	}
	return nil
}

// DepositCollateral escrows value. Reaching the requirement in
// PendingCollateral moves the loan to CollateralDeposited.
func (a *AvelonLending) DepositCollateral(id string, from common.Address, value *uint256.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, err := a.get(id)
	if err != nil {
		return err
	}
	if l.Status != StatusPendingCollateral && l.Status != StatusActive {
		return revert("deposits closed")
	}
	if from != l.Borrower {
		return revert("not borrower")
	}
	if err := a.collateral.Deposit(id, value); err != nil {
		return err
	}
	if l.Status == StatusPendingCollateral && !a.collateral.CollateralOf(id).Lt(l.CollateralRequired) {
		l.Status = StatusCollateralDeposited
	}
	return nil
}

func (a *AvelonLending) ActivateLoan(id string, now uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, err := a.get(id)
	if err != nil {
		return err
	}
	if err := requireStatus(l, StatusCollateralDeposited); err != nil {
		return err
	}
	interest, err := simpleInterest(l.Principal, l.InterestRateBps, l.DurationDays)
	if err != nil {
		return err
	}
	total, err := add(l.FeesOwed, interest)
	if err == nil {
		total, err = add(total, l.PrincipalOwed)
	}
	if err != nil {
		return err
	}
	if err := a.schedule.Create(id, total, now, l.DurationDays); err != nil {
		return err
	}
	l.InterestOwed = interest
	l.StartTime = now
	l.DueDate = now + uint64(l.DurationDays)*secondsPerDay
	l.Status = StatusActive
	return nil
}

// RecordRepayment applies value through the waterfall and releases the
// collateral once nothing is owed.
func (a *AvelonLending) RecordRepayment(id string, from common.Address, value *uint256.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, err := a.get(id)
	if err != nil {
		return err
	}
	if err := requireStatus(l, StatusActive); err != nil {
		return err
	}
	if from != l.Borrower {
		return revert("not borrower")
	}
	if value == nil || value.IsZero() {
		return revert("zero repayment")
	}
	left, _, err := allocate(value, [3]*uint256.Int{l.FeesOwed, l.InterestOwed, l.PrincipalOwed})
	if err != nil {
		return err
	}
	if err := a.schedule.ApplyPayment(id, value); err != nil {
		return err
	}
	l.FeesOwed, l.InterestOwed, l.PrincipalOwed = left[0], left[1], left[2]

	if l.FeesOwed.IsZero() && l.InterestOwed.IsZero() && l.PrincipalOwed.IsZero() {
		l.Status = StatusRepaid
		return a.collateral.Release(id, l.Borrower, a.collateral.CollateralOf(id))
	}
	return nil
}

func (a *AvelonLending) LiquidateLoan(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, err := a.get(id)
	if err != nil {
		return err
	}
	if err := requireStatus(l, StatusActive); err != nil {
		return err
	}
	_, liquidatable, err := a.isAtRisk(l)
	if err != nil {
		return err
	}
	if !liquidatable {
		return revert("not liquidatable")
	}
	held := a.collateral.CollateralOf(id)
	penalty, err := mulDiv(held, uint64(a.params.LiquidationPenaltyBps), basisPoints)
	if err != nil {
		return err
	}
	returned, err := sub(held, penalty)
	if err != nil {
		return err
	}
	if err := a.collateral.Seize(id, a.params.Treasury, penalty); err != nil {
		return err
	}
	if err := a.collateral.Release(id, l.Borrower, returned); err != nil {
		return err
	}
	l.Status = StatusLiquidated
	return nil
}

func (a *AvelonLending) CancelLoan(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, err := a.get(id)
	if err != nil {
		return err
	}
	if err := requireStatus(l, StatusPendingCollateral); err != nil {
		return err
	}
	if !a.collateral.CollateralOf(id).IsZero() {
		return revert("collateral posted")
	}
	l.Status = StatusCancelled
	return nil
}

// ExpireLoan closes an Active loan past its due date and grace period that
// cannot be liquidated.
func (a *AvelonLending) ExpireLoan(id string, now uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, err := a.get(id)
	if err != nil {
		return err
	}
	if err := requireStatus(l, StatusActive); err != nil {
		return err
	}
	if now <= l.DueDate+uint64(l.GracePeriodDays)*secondsPerDay {
		return revert("not overdue")
	}
	if _, liquidatable, err := a.isAtRisk(l); err != nil {
		return err
	} else if liquidatable {
		return revert("liquidatable")
	}
	l.Status = StatusExpired
	return nil
}

func (a *AvelonLending) GetLoan(id string) (Loan, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, err := a.get(id)
	if err != nil {
		return Loan{}, err
	}
	return l.clone(), nil
}

func (a *AvelonLending) GetTotalOwed(id string) (*uint256.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, err := a.get(id)
	if err != nil {
		return nil, err
	}
	return l.totalOwed()
}

func (a *AvelonLending) ratio(l *Loan) (uint32, error) {
	owed, err := l.totalOwed()
	if err != nil {
		return 0, err
	}
	return ratioBps(a.collateral.CollateralOf(l.ID), owed), nil
}

func (a *AvelonLending) GetCollateralRatio(id string) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, err := a.get(id)
	if err != nil {
		return 0, err
	}
	return a.ratio(l)
}

func (a *AvelonLending) isAtRisk(l *Loan) (warning, liquidatable bool, err error) {
	r, err := a.ratio(l)
	if err != nil {
		return false, false, err
	}
	liquidatable = r < a.params.MinCollateralRatioBps
	warning = !liquidatable && r < a.params.WarningCollateralRatioBps
	return warning, liquidatable, nil
}

func (a *AvelonLending) IsAtRisk(id string) (warning, liquidatable bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, err := a.get(id)
	if err != nil {
		return false, false, err
	}
	return a.isAtRisk(l)
}
