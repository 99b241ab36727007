package fixedpoint

import (
	"math/big"
)

type rounding int

const (
	roundDown rounding = iota
	roundNearest
	roundUp
)

// mulDiv computes x*y/d at arbitrary precision. d must be non-zero.
func mulDiv(x, y, d *big.Int, mode rounding) *big.Int {
	prod := new(big.Int).Mul(x, y)
	q, r := new(big.Int).QuoRem(prod, d, new(big.Int))
	if r.Sign() == 0 {
		return q
	}
	switch mode {
	case roundNearest:
		// Operands are non-negative, so "ties away from zero" is "ties up".
		if new(big.Int).Mul(r, twoBig).Cmp(d) >= 0 {
			q.Add(q, big.NewInt(1))
		}
	case roundUp:
		q.Add(q, big.NewInt(1))
	}
	return q
}

func fromBigResult(b *big.Int) (Q96, error) {
	if b.Cmp(maxBig) > 0 {
		return Q96{}, ErrOverflow
	}
	return FromBig(b)
}

func unitScale(decimals uint8) *big.Int {
	return new(big.Int).Exp(tenBig, big.NewInt(int64(decimals)), nil)
}

// ToFixed converts a raw token amount with the given number of decimals into
// Q96 token units, rounding to nearest.
func ToFixed(raw *big.Int, decimals uint8) (Q96, error) {
	if raw.Sign() < 0 {
		return Q96{}, ErrNegative
	}
	return fromBigResult(mulDiv(raw, q96Big, unitScale(decimals), roundNearest))
}

// FromFixed converts Q96 token units into a raw token amount, rounding to the
// nearest unit with ties away from zero.
func FromFixed(q Q96, decimals uint8) *big.Int {
	return mulDiv(q.Big(), unitScale(decimals), q96Big, roundNearest)
}

// FromFixedDown is FromFixed rounding toward zero. Used for outbound
// distributions so the holder of the funds can never be short.
func FromFixedDown(q Q96, decimals uint8) *big.Int {
	return mulDiv(q.Big(), unitScale(decimals), q96Big, roundDown)
}

// FromFixedUp is FromFixed rounding away from zero.
func FromFixedUp(q Q96, decimals uint8) *big.Int {
	return mulDiv(q.Big(), unitScale(decimals), q96Big, roundUp)
}

// MulDiv returns q*m/d rounded down, at full precision.
func MulDiv(q, m, d Q96) (Q96, error) {
	if d.IsZero() {
		return Q96{}, ErrDivisionByZero
	}
	return fromBigResult(mulDiv(q.Big(), m.Big(), d.Big(), roundDown))
}
