package contract

import (
	"sync"

	"github.com/holiman/uint256"
)

type Installment struct {
	DueAt  uint64
	Amount *uint256.Int
	Paid   *uint256.Int
}

func (i Installment) Settled() bool { return !i.Paid.Lt(i.Amount) }

// RepaymentSchedule splits a loan's total due into equal installments, one
// per started 30-day period. The last installment absorbs the remainder.
type RepaymentSchedule struct {
	mu    sync.RWMutex
	plans map[string][]Installment
}

func NewRepaymentSchedule() *RepaymentSchedule {
	return &RepaymentSchedule{plans: make(map[string][]Installment)}
}

func installmentCount(durationDays uint32) uint64 {
	n := (uint64(durationDays) + installmentLen - 1) / installmentLen
	if n == 0 {
		return 1
	}
	return n
}

func (s *RepaymentSchedule) Create(loanID string, total *uint256.Int, start uint64, durationDays uint32) error {
	if durationDays == 0 {
		return revert("zero duration")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[loanID]; ok {
		return revert("schedule exists")
	}

	n := installmentCount(durationDays)
	each := new(uint256.Int).Div(total, u(n))
	span := uint64(durationDays) * secondsPerDay
	out := make([]Installment, n)
	allocated := new(uint256.Int)
	for i := uint64(0); i < n; i++ {
		amount := each.Clone()
		if i == n-1 {
			amount = new(uint256.Int).Sub(total, allocated)
		}
		allocated.Add(allocated, amount)
		out[i] = Installment{
			DueAt:  start + span*(i+1)/n,
			Amount: amount,
			Paid:   new(uint256.Int),
		}
	}
	s.plans[loanID] = out
	return nil
}

// ApplyPayment fills installments in order. Anything beyond the schedule
// reverts.
func (s *RepaymentSchedule) ApplyPayment(loanID string, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[loanID]
	if !ok {
		return revert("no schedule")
	}
	remaining := amount.Clone()
	next := make([]Installment, len(plan))
	for i, inst := range plan {
		gap := new(uint256.Int).Sub(inst.Amount, inst.Paid)
		take := minU(remaining, gap)
		remaining.Sub(remaining, take)
		next[i] = Installment{DueAt: inst.DueAt, Amount: inst.Amount, Paid: new(uint256.Int).Add(inst.Paid, take)}
	}
	if !remaining.IsZero() {
		return revert("payment exceeds schedule")
	}
	s.plans[loanID] = next
	return nil
}

// IsOverdue reports whether any installment due before now is unpaid.
func (s *RepaymentSchedule) IsOverdue(loanID string, now uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inst := range s.plans[loanID] {
		if inst.DueAt < now && !inst.Settled() {
			return true
		}
	}
	return false
}

func (s *RepaymentSchedule) Installments(loanID string) []Installment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Installment(nil), s.plans[loanID]...)
}
