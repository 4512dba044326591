// Package golden holds hand-checked vectors that both the off-chain math and
// the contract mirror must reproduce exactly. Amounts are wei strings.
package golden

type Ratio struct {
	Name       string
	Collateral string
	Owed       string
	WantBps    uint32
}

var Ratios = []Ratio{
	{"warning band", "1500000000000000000", "1200000000000000000", 12500},
	{"fully collateralised", "1500000000000000000", "1000000000000000000", 15000},
	{"exactly at minimum", "1200000000000000000", "1000000000000000000", 12000},
	{"with interest", "1000000000000000000", "1004109589041095890", 9959},
	{"floors", "1", "3", 3333},
	{"uneven", "12345678901234567890", "9876543210987654321", 12499},
	{"no collateral", "0", "1000000000000000000", 0},
	{"no debt", "1000000000000000000", "0", 4294967295},
	{"saturates", "1000000000000000000000000000000", "1", 4294967295},
	// 2^128-1 wei is the largest amount the ledger accepts
	{"max amount over one wei", "340282366920938463463374607431768211455", "1", 4294967295},
	{"max amount over itself", "340282366920938463463374607431768211455", "340282366920938463463374607431768211455", 10000},
	{"max amount over half", "340282366920938463463374607431768211455", "170141183460469231731687303715884105727", 20000},
}

type Allocation struct {
	Name          string
	Payment       string
	Fees          string
	Interest      string
	Principal     string
	WantFees      string
	WantInterest  string
	WantPrincipal string
	WantErr       bool
}

var Allocations = []Allocation{
	{"zero payment", "0", "5", "7", "11", "5", "7", "11", false},
	{"partial fees", "3", "5", "7", "11", "2", "7", "11", false},
	{"fees then interest", "9", "5", "7", "11", "0", "3", "11", false},
	{"into principal", "15", "5", "7", "11", "0", "0", "8", false},
	{"exact total", "23", "5", "7", "11", "0", "0", "0", false},
	{"overpayment", "24", "5", "7", "11", "", "", "", true},
	{"thirty day loan", "1004109589041095890", "0", "4109589041095890", "1000000000000000000", "0", "0", "0", false},
	{"nothing owed", "1", "0", "0", "0", "", "", "", true},
}

type Interest struct {
	Name      string
	Principal string
	RateBps   uint32
	Days      uint32
	Want      string
}

var Interests = []Interest{
	{"5pct 30 days", "1000000000000000000", 500, 30, "4109589041095890"},
	{"12pct one year", "2500000000000000000", 1200, 365, "300000000000000000"},
	{"8.75pct 90 days", "7000000000000000000", 875, 90, "151027397260273972"},
	{"dust", "1", 500, 30, "0"},
	{"zero rate", "1000000000000000000", 0, 30, "0"},
}

type Liquidation struct {
	Name         string
	Collateral   string
	PenaltyBps   uint32
	WantReturned string
	WantPenalty  string
}

var Liquidations = []Liquidation{
	{"5pct penalty", "1500000000000000000", 500, "1425000000000000000", "75000000000000000"},
	{"rounds toward borrower", "3", 5000, "2", "1"},
	{"empty escrow", "0", 500, "0", "0"},
	{"full seizure", "42", 10000, "0", "42"},
}
