// Package fixedpoint implements the unsigned 96-bit-fraction ("Q96") number
// type used for every price, rate, tax and pool amount in the market.
//
// A Q96 value v represents the real number v / 2^96. Storage is a 256-bit
// unsigned integer; intermediate products are computed at full width so no
// operation overflows silently.
package fixedpoint

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Resolution is the number of fractional bits.
const Resolution = 96

// ──────────────────────────────────────────────────────────────────────────────
// Errors
// ──────────────────────────────────────────────────────────────────────────────

var (
	// ErrDivisionByZero is returned by every operation with a zero divisor.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")

	// ErrOverflow is returned when a result does not fit in 256 bits.
	ErrOverflow = errors.New("fixedpoint: overflow")

	// ErrUnderflow is returned when a subtraction would go below zero.
	ErrUnderflow = errors.New("fixedpoint: underflow")

	// ErrNegative is returned when a negative input is converted.
	ErrNegative = errors.New("fixedpoint: negative value")
)

var (
	q96Big  = new(big.Int).Lsh(big.NewInt(1), Resolution)
	q96Dec  = decimal.NewFromBigInt(q96Big, 0)
	maxBig  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	tenBig  = big.NewInt(10)
	twoBig  = big.NewInt(2)
	oneUint = new(uint256.Int).Lsh(uint256.NewInt(1), Resolution)
)

// ──────────────────────────────────────────────────────────────────────────────
// Q96
// ──────────────────────────────────────────────────────────────────────────────

// Q96 is an unsigned fixed-point number scaled by 2^96. The zero value is 0.
type Q96 struct {
	v uint256.Int
}

// One returns 1.0.
func One() Q96 {
	return Q96{v: *oneUint}
}

// FromUint64 returns the whole number n.
func FromUint64(n uint64) Q96 {
	var q Q96
	q.v.Lsh(uint256.NewInt(n), Resolution)
	return q
}

// FromRaw wraps an already-scaled integer.
func FromRaw(raw *uint256.Int) Q96 {
	var q Q96
	if raw != nil {
		q.v.Set(raw)
	}
	return q
}

// FromBig wraps an already-scaled big integer.
func FromBig(raw *big.Int) (Q96, error) {
	if raw.Sign() < 0 {
		return Q96{}, ErrNegative
	}
	u, overflow := uint256.FromBig(raw)
	if overflow {
		return Q96{}, ErrOverflow
	}
	return Q96{v: *u}, nil
}

// FromDecimal converts a decimal number, rounding the last fractional bit to
// nearest (ties away from zero).
func FromDecimal(d decimal.Decimal) (Q96, error) {
	if d.IsNegative() {
		return Q96{}, ErrNegative
	}
	return FromBig(d.Mul(q96Dec).Round(0).BigInt())
}

// MustDecimal is FromDecimal for constants; it panics on invalid input.
func MustDecimal(s string) Q96 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("fixedpoint: bad decimal %q: %v", s, err))
	}
	q, err := FromDecimal(d)
	if err != nil {
		panic(fmt.Sprintf("fixedpoint: bad decimal %q: %v", s, err))
	}
	return q
}

// Percent converts a percentage (e.g. 25 for 25 %) to a Q96 fraction.
func Percent(pct decimal.Decimal) (Q96, error) {
	return FromDecimal(pct.Div(decimal.NewFromInt(100)))
}

// Raw returns a copy of the scaled integer.
func (q Q96) Raw() *uint256.Int { return q.v.Clone() }

// Big returns the scaled integer as a big.Int.
func (q Q96) Big() *big.Int { return q.v.ToBig() }

// IsZero reports whether q == 0.
func (q Q96) IsZero() bool { return q.v.IsZero() }

// Cmp compares q and r and returns -1, 0 or +1.
func (q Q96) Cmp(r Q96) int { return q.v.Cmp(&r.v) }

// Eq reports whether q == r.
func (q Q96) Eq(r Q96) bool { return q.v.Eq(&r.v) }

// Lt reports whether q < r.
func (q Q96) Lt(r Q96) bool { return q.v.Lt(&r.v) }

// Gt reports whether q > r.
func (q Q96) Gt(r Q96) bool { return q.v.Gt(&r.v) }

// Add returns q + r.
func (q Q96) Add(r Q96) (Q96, error) {
	var z Q96
	if _, overflow := z.v.AddOverflow(&q.v, &r.v); overflow {
		return Q96{}, ErrOverflow
	}
	return z, nil
}

// Sub returns q - r, failing with ErrUnderflow when r > q.
func (q Q96) Sub(r Q96) (Q96, error) {
	var z Q96
	if _, underflow := z.v.SubOverflow(&q.v, &r.v); underflow {
		return Q96{}, ErrUnderflow
	}
	return z, nil
}

// Mul returns q * r rounded down.
func (q Q96) Mul(r Q96) (Q96, error) {
	return fromBigResult(mulDiv(q.Big(), r.Big(), q96Big, roundDown))
}

// Div returns q / r rounded down.
func (q Q96) Div(r Q96) (Q96, error) {
	if r.IsZero() {
		return Q96{}, ErrDivisionByZero
	}
	return fromBigResult(mulDiv(q.Big(), q96Big, r.Big(), roundDown))
}

// Half returns q / 2 rounded down.
func (q Q96) Half() Q96 {
	var z Q96
	z.v.Rsh(&q.v, 1)
	return z
}

// Sqrt returns the square root of q rounded down.
func (q Q96) Sqrt() (Q96, error) {
	x := new(big.Int).Mul(q.Big(), q96Big)
	return fromBigResult(x.Sqrt(x))
}

// Floor returns the largest multiple of step that is ≤ q.
func (q Q96) Floor(step Q96) (Q96, error) {
	if step.IsZero() {
		return Q96{}, ErrDivisionByZero
	}
	var n, z Q96
	n.v.Div(&q.v, &step.v)
	z.v.Mul(&n.v, &step.v)
	return z, nil
}

// Decimal returns q as a decimal with 18 fractional digits.
func (q Q96) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(q.Big(), 0).DivRound(q96Dec, 18)
}

// String formats q as a human-readable decimal.
func (q Q96) String() string {
	return q.Decimal().String()
}

// MarshalJSON encodes the scaled integer as a JSON string, losslessly.
func (q Q96) MarshalJSON() ([]byte, error) {
	return []byte(`"` + q.v.Dec() + `"`), nil
}

// UnmarshalJSON decodes a scaled integer string produced by MarshalJSON.
func (q *Q96) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	u, err := uint256.FromDecimal(s)
	if err != nil {
		return fmt.Errorf("fixedpoint: unmarshal %q: %w", s, err)
	}
	q.v.Set(u)
	return nil
}

// Value implements driver.Valuer; Q96 is stored as a decimal text column.
func (q Q96) Value() (driver.Value, error) {
	return q.v.Dec(), nil
}

// Scan implements sql.Scanner.
func (q *Q96) Scan(src interface{}) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case int64:
		if v < 0 {
			return ErrNegative
		}
		q.v.SetUint64(uint64(v))
		return nil
	case nil:
		q.v.Clear()
		return nil
	default:
		return fmt.Errorf("fixedpoint: cannot scan %T", src)
	}
	u, err := uint256.FromDecimal(s)
	if err != nil {
		return fmt.Errorf("fixedpoint: scan %q: %w", s, err)
	}
	q.v.Set(u)
	return nil
}
