package borrower

import (
	"strings"
	"time"

	"avelon-ledger/pkg/money"
)

// Identity is what the upstream identity provider vouches for. The ledger
// trusts it as given.
type Identity struct {
	UserID        string
	CreditScore   *int
	WalletAddress string
}

// Borrower carries the aggregate statistics the ledger maintains alongside
// loan mutations.
type Borrower struct {
	ID              uint64    `gorm:"primaryKey;column:id" json:"-"`
	BorrowerID      string    `gorm:"size:32;uniqueIndex:ux_borrowers_borrower_id" json:"borrower_id"`
	ActiveLoans     int       `gorm:"not null;default:0" json:"active_loans"`
	CompletedLoans  int       `gorm:"not null;default:0" json:"completed_loans"`
	LiquidatedLoans int       `gorm:"not null;default:0" json:"liquidated_loans"`
	TotalBorrowed   money.Wei `json:"total_borrowed"`
	TotalRepaid     money.Wei `json:"total_repaid"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Borrower) TableName() string { return "borrowers" }

// Delta is a change to a borrower's statistics. Repositories add it to the
// stored row instead of overwriting the row, so loans of one borrower can
// commit concurrently without losing counts.
type Delta struct {
	ActiveLoans     int
	CompletedLoans  int
	LiquidatedLoans int
	Borrowed        money.Wei
	Repaid          money.Wei
}

func (d Delta) Plus(o Delta) Delta {
	return Delta{
		ActiveLoans:     d.ActiveLoans + o.ActiveLoans,
		CompletedLoans:  d.CompletedLoans + o.CompletedLoans,
		LiquidatedLoans: d.LiquidatedLoans + o.LiquidatedLoans,
		Borrowed:        d.Borrowed.Add(o.Borrowed),
		Repaid:          d.Repaid.Add(o.Repaid),
	}
}

// ApplyTo adds d to b in place.
func (d Delta) ApplyTo(b *Borrower) {
	b.ActiveLoans += d.ActiveLoans
	b.CompletedLoans += d.CompletedLoans
	b.LiquidatedLoans += d.LiquidatedLoans
	b.TotalBorrowed = b.TotalBorrowed.Add(d.Borrowed)
	b.TotalRepaid = b.TotalRepaid.Add(d.Repaid)
}

// Wallet is a borrower-registered address used for collateral and
// disbursement.
type Wallet struct {
	ID         uint64    `gorm:"primaryKey;column:id" json:"-"`
	WalletID   string    `gorm:"size:32;uniqueIndex:ux_wallets_wallet_id" json:"wallet_id"`
	BorrowerID string    `gorm:"size:32;not null;index:idx_wallets_borrower" json:"borrower_id"`
	Address    string    `gorm:"size:42;not null" json:"address"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Wallet) TableName() string { return "wallets" }

// SameAddress compares hex addresses case-insensitively (EIP-55 casing is
// presentation only).
func SameAddress(a, b string) bool {
	return a != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
