package math

import (
	"PredictLedger/internal/errs"

	"github.com/holiman/uint256"
)

// BpsDenominator is 100% expressed in basis points.
const BpsDenominator = 10_000

// wide lifts a native amount into 256-bit space for intermediate products.
func wide(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// narrow truncates a 256-bit result back to the native width.
// Values that do not fit are rejected rather than wrapped.
func narrow(v *uint256.Int) (uint64, error) {
	if !v.IsUint64() {
		return 0, errs.ErrMathOverflow
	}
	return v.Uint64(), nil
}

// Isqrt returns the largest x such that x*x <= n (Newton's method).
// The starting estimate (n+1)/2 is formed as n>>1 + n&1 so that the maximum
// 256-bit value does not overflow.
func Isqrt(n *uint256.Int) *uint256.Int {
	if n.IsZero() {
		return new(uint256.Int)
	}

	x := new(uint256.Int).Set(n)
	y := new(uint256.Int).Rsh(n, 1)
	if n[0]&1 == 1 {
		y.AddUint64(y, 1)
	}

	q := new(uint256.Int)
	for y.Lt(x) {
		x.Set(y)
		q.Div(n, x)
		y.Add(x, q)
		y.Rsh(y, 1)
	}
	return x
}

// CheckedAdd returns a+b or ErrMathOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, errs.ErrMathOverflow
	}
	return sum, nil
}

// CheckedSub returns a-b or ErrMathOverflow on underflow.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, errs.ErrMathOverflow
	}
	return a - b, nil
}

// MulDiv computes a*b/d with a 256-bit intermediate, truncating toward zero.
func MulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, errs.ErrMathOverflow
	}
	prod := new(uint256.Int).Mul(wide(a), wide(b))
	return narrow(prod.Div(prod, wide(d)))
}

// ApplyBps returns amount*bps/10000, truncated.
func ApplyBps(amount uint64, bps uint16) (uint64, error) {
	if bps > BpsDenominator {
		return 0, errs.ErrInvalidRakeBps
	}
	return MulDiv(amount, uint64(bps), BpsDenominator)
}

// bpsOf is ApplyBps over an already widened amount.
func bpsOf(amount *uint256.Int, bps uint16) (*uint256.Int, error) {
	if bps > BpsDenominator {
		return nil, errs.ErrInvalidConfigParam
	}
	out, overflow := new(uint256.Int).MulOverflow(amount, uint256.NewInt(uint64(bps)))
	if overflow {
		return nil, errs.ErrMathOverflow
	}
	return out.Div(out, uint256.NewInt(BpsDenominator)), nil
}

// sub is a checked 256-bit subtraction.
func sub(x, y *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, errs.ErrMathOverflow
	}
	return out, nil
}

// add is a checked 256-bit addition.
func add(x, y *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, errs.ErrMathOverflow
	}
	return out, nil
}

// mul is a checked 256-bit multiplication.
func mul(x, y *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, errs.ErrMathOverflow
	}
	return out, nil
}
