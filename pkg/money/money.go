// Package money implements the fixed-point ETH amount used across the ledger.
// Amounts are integers in wei (10^-18 ETH); there is no fractional wei.
package money

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Decimals is the number of fractional ETH digits representable in wei.
const Decimals = 18

var (
	ErrInvalidAmount = errors.New("money: invalid amount")
	ErrTooPrecise    = errors.New("money: more than 18 fractional digits")
	ErrTooLarge      = errors.New("money: amount exceeds 2^128-1 wei")

	// maxAmount bounds every parsed amount. The contract multiplies wei by
	// basis points and day counts in uint256, which stays exact below it.
	maxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

	weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)
	zero        = new(big.Int)
)

// Wei is an immutable wei amount. The zero value is 0 and every operation
// returns a new value, so Wei can be copied and compared freely.
type Wei struct{ v *big.Int }

func Zero() Wei { return Wei{} }

func FromUint64(n uint64) Wei { return Wei{v: new(big.Int).SetUint64(n)} }

// FromBig copies b; a nil b is 0.
func FromBig(b *big.Int) Wei {
	if b == nil {
		return Wei{}
	}
	return Wei{v: new(big.Int).Set(b)}
}

// Ether returns n whole ETH.
func Ether(n int64) Wei {
	return Wei{v: new(big.Int).Mul(big.NewInt(n), weiPerEther)}
}

// FromETH converts an ETH decimal to wei, truncating beyond 18 places.
func FromETH(d decimal.Decimal) Wei {
	return Wei{v: d.Shift(Decimals).Truncate(0).BigInt()}
}

// MaxAmount is the largest amount ParseWei and ParseETH accept.
func MaxAmount() Wei { return FromBig(maxAmount) }

func bounded(w Wei, s string) (Wei, error) {
	if w.raw().CmpAbs(maxAmount) > 0 {
		return Wei{}, fmt.Errorf("%w: %q", ErrTooLarge, s)
	}
	return w, nil
}

// ParseWei parses a base-10 integer wei string no larger than MaxAmount.
func ParseWei(s string) (Wei, error) {
	w, err := parseInt(s)
	if err != nil {
		return Wei{}, err
	}
	return bounded(w, s)
}

// parseInt reads stored values, which are sums and may exceed MaxAmount.
func parseInt(s string) (Wei, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Wei{}, ErrInvalidAmount
	}
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Wei{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Wei{v: b}, nil
}

// ParseETH parses a decimal ETH string such as "1.004109589041095890".
func ParseETH(s string) (Wei, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Wei{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if !d.Truncate(Decimals).Equal(d) {
		return Wei{}, fmt.Errorf("%w: %q", ErrTooPrecise, s)
	}
	return bounded(FromETH(d), s)
}

func (w Wei) raw() *big.Int {
	if w.v == nil {
		return zero
	}
	return w.v
}

// BigInt returns a copy of the underlying integer.
func (w Wei) BigInt() *big.Int { return new(big.Int).Set(w.raw()) }

func (w Wei) Add(o Wei) Wei { return Wei{v: new(big.Int).Add(w.raw(), o.raw())} }

func (w Wei) Sub(o Wei) Wei { return Wei{v: new(big.Int).Sub(w.raw(), o.raw())} }

func (w Wei) Cmp(o Wei) int { return w.raw().Cmp(o.raw()) }

func (w Wei) Sign() int { return w.raw().Sign() }

func (w Wei) IsZero() bool { return w.Sign() == 0 }

func (w Wei) Equal(o Wei) bool { return w.Cmp(o) == 0 }

func (w Wei) LessThan(o Wei) bool { return w.Cmp(o) < 0 }

func (w Wei) GreaterThan(o Wei) bool { return w.Cmp(o) > 0 }

// MulDiv returns w*num/den truncated toward zero. den must be non-zero.
func (w Wei) MulDiv(num, den uint64) Wei {
	if den == 0 {
		panic("money: division by zero")
	}
	out := new(big.Int).Mul(w.raw(), new(big.Int).SetUint64(num))
	return Wei{v: out.Quo(out, new(big.Int).SetUint64(den))}
}

func Min(a, b Wei) Wei {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// String renders the amount in wei.
func (w Wei) String() string { return w.raw().String() }

// ETH renders the amount as an ETH decimal with 18 places of precision.
func (w Wei) ETH() decimal.Decimal { return decimal.NewFromBigInt(w.raw(), -Decimals) }

// Scan reads decimal(65,0) / numeric / text / integer columns.
func (w *Wei) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*w = Wei{}
		return nil
	case int64:
		*w = Wei{v: big.NewInt(v)}
		return nil
	case []byte:
		return w.scanString(string(v))
	case string:
		return w.scanString(v)
	default:
		return fmt.Errorf("money: cannot scan %T into Wei", src)
	}
}

func (w *Wei) scanString(s string) error {
	// numeric drivers may render a scale even for integral values ("15.000").
	if i := strings.IndexByte(s, '.'); i >= 0 && strings.Trim(s[i+1:], "0") == "" {
		s = s[:i]
	}
	parsed, err := parseInt(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

func (w Wei) Value() (driver.Value, error) { return w.String(), nil }

// GormDBDataType keeps wei columns exact on every dialect.
func (Wei) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql":
		return "decimal(65,0)"
	case "postgres":
		return "numeric(78,0)"
	default:
		return "text"
	}
}

func (w Wei) MarshalJSON() ([]byte, error) { return []byte(`"` + w.String() + `"`), nil }

func (w *Wei) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "null" {
		*w = Wei{}
		return nil
	}
	parsed, err := parseInt(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
