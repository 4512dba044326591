package loan

import (
	"time"

	"avelon-ledger/internal/apperr"
)

// transitions is the complete legal graph; anything absent is illegal.
var transitions = map[Status][]Status{
	StatusPendingCollateral:   {StatusCollateralDeposited, StatusCancelled},
	StatusCollateralDeposited: {StatusActive},
	StatusActive:              {StatusRepaid, StatusLiquidated, StatusExpired},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// sourcesOf lists the statuses from which to is reachable.
func sourcesOf(to Status) []string {
	var out []string
	for _, from := range statuses {
		if CanTransition(from, to) {
			out = append(out, string(from))
		}
	}
	return out
}

// transition moves l to the target status or leaves it untouched and returns
// an InvalidState error naming what was required.
func (l *Loan) transition(op string, to Status, at time.Time) error {
	if !CanTransition(l.Status, to) {
		return apperr.InvalidState(op, sourcesOf(to), string(l.Status))
	}
	l.Status = to
	l.StatusUpdatedAt = at
	return nil
}

func requireStatus(l *Loan, op string, allowed ...Status) error {
	for _, s := range allowed {
		if l.Status == s {
			return nil
		}
	}
	req := make([]string, len(allowed))
	for i, s := range allowed {
		req[i] = string(s)
	}
	return apperr.InvalidState(op, req, string(l.Status))
}
