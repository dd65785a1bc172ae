package math

import (
	"PredictLedger/internal/errs"

	"github.com/holiman/uint256"
)

// Trade is the outcome of a buy or sell against the pool.
// For a buy, Amount is the shares credited to the trader; for a sell it is
// the value paid out. Fee stays with the market (in the pool on buys, in the
// vault on sells).
type Trade struct {
	Amount     uint64
	Fee        uint64
	YesReserve uint64
	NoReserve  uint64
}

// BuyYes mints amount complete sets and swaps the NO half into the pool.
func BuyYes(amount, yesReserve, noReserve uint64, feeBps uint16) (Trade, error) {
	shares, fee, newYes, newNo, err := buy(amount, yesReserve, noReserve, feeBps)
	if err != nil {
		return Trade{}, err
	}
	return Trade{Amount: shares, Fee: fee, YesReserve: newYes, NoReserve: newNo}, nil
}

// BuyNo mints amount complete sets and swaps the YES half into the pool.
func BuyNo(amount, yesReserve, noReserve uint64, feeBps uint16) (Trade, error) {
	shares, fee, newNo, newYes, err := buy(amount, noReserve, yesReserve, feeBps)
	if err != nil {
		return Trade{}, err
	}
	return Trade{Amount: shares, Fee: fee, YesReserve: newYes, NoReserve: newNo}, nil
}

// SellYes redeems YES shares for value.
func SellYes(shares, yesReserve, noReserve uint64, feeBps uint16) (Trade, error) {
	out, fee, newYes, newNo, err := sell(shares, yesReserve, noReserve, feeBps)
	if err != nil {
		return Trade{}, err
	}
	return Trade{Amount: out, Fee: fee, YesReserve: newYes, NoReserve: newNo}, nil
}

// SellNo redeems NO shares for value.
func SellNo(shares, yesReserve, noReserve uint64, feeBps uint16) (Trade, error) {
	out, fee, newNo, newYes, err := sell(shares, noReserve, yesReserve, feeBps)
	if err != nil {
		return Trade{}, err
	}
	return Trade{Amount: out, Fee: fee, YesReserve: newYes, NoReserve: newNo}, nil
}

// buy works on (side, other) reserves; callers map YES/NO onto them.
//
//	raw    = Rs - k/(Ro + amount)
//	net    = raw - raw*fee/10000
//	shares = amount + net
//	Rs'    = Rs - net,  Ro' = Ro + amount
func buy(amount, rSide, rOther uint64, feeBps uint16) (shares, fee, newSide, newOther uint64, err error) {
	side, other, amt := wide(rSide), wide(rOther), wide(amount)

	k, err := mul(side, other)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	otherAfter, err := add(other, amt)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if otherAfter.IsZero() {
		return 0, 0, 0, 0, errs.ErrEmptyPool
	}

	raw, err := sub(side, new(uint256.Int).Div(k, otherAfter))
	if err != nil {
		return 0, 0, 0, 0, err
	}
	feeW, err := bpsOf(raw, feeBps)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	net, err := sub(raw, feeW)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	sharesW, err := add(amt, net)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	sideAfter, err := sub(side, net)
	if err != nil {
		return 0, 0, 0, 0, err
	}

	if shares, err = narrow(sharesW); err != nil {
		return 0, 0, 0, 0, err
	}
	if fee, err = narrow(feeW); err != nil {
		return 0, 0, 0, 0, err
	}
	if newSide, err = narrow(sideAfter); err != nil {
		return 0, 0, 0, 0, err
	}
	if newOther, err = narrow(otherAfter); err != nil {
		return 0, 0, 0, 0, err
	}
	return shares, fee, newSide, newOther, nil
}

// sell solves for the portion A of S shares swapped through the pool so that
// the remaining S-A pair up with the swap output into burnable complete sets:
//
//	A^2 + A*(Rs + Ro - S) - S*Rs = 0
//	disc = (Rs + Ro + S)^2 - 4*S*Ro
//
// The fee is taken from the gross payout S-A after solving the fee-free curve.
func sell(shares, rSide, rOther uint64, feeBps uint16) (out, fee, newSide, newOther uint64, err error) {
	s, side, other := wide(shares), wide(rSide), wide(rOther)

	sum, err := add(side, other)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	b, err := add(sum, s)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	bSq, err := mul(b, b)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	fourSRo, err := mul(new(uint256.Int).Lsh(s, 2), other)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	disc, err := sub(bSq, fourSRo)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	root := Isqrt(disc)

	var a *uint256.Int
	if !s.Lt(sum) {
		numer, err := add(new(uint256.Int).Sub(s, sum), root)
		if err != nil {
			return 0, 0, 0, 0, err
		}
		a = numer.Rsh(numer, 1)
	} else {
		gap := new(uint256.Int).Sub(sum, s)
		if root.Lt(gap) {
			return 0, 0, 0, 0, errs.ErrInvalidRoot
		}
		a = new(uint256.Int).Sub(root, gap)
		a.Rsh(a, 1)
	}

	gross, err := sub(s, a)
	if err != nil {
		return 0, 0, 0, 0, errs.ErrInvalidRoot
	}
	feeW, err := bpsOf(gross, feeBps)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	outW, err := sub(gross, feeW)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	sideAfter, err := add(side, a)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	otherAfter, err := sub(other, gross)
	if err != nil {
		return 0, 0, 0, 0, err
	}

	if out, err = narrow(outW); err != nil {
		return 0, 0, 0, 0, err
	}
	if fee, err = narrow(feeW); err != nil {
		return 0, 0, 0, 0, err
	}
	if newSide, err = narrow(sideAfter); err != nil {
		return 0, 0, 0, 0, err
	}
	if newOther, err = narrow(otherAfter); err != nil {
		return 0, 0, 0, 0, err
	}
	return out, fee, newSide, newOther, nil
}

// PriceYesBps is the implied YES probability in basis points.
func PriceYesBps(yesReserve, noReserve uint64) uint64 {
	total := new(uint256.Int).Add(wide(yesReserve), wide(noReserve))
	if total.IsZero() {
		return BpsDenominator / 2
	}
	p := new(uint256.Int).Mul(wide(noReserve), uint256.NewInt(BpsDenominator))
	return p.Div(p, total).Uint64()
}

// PriceNoBps is the complement of PriceYesBps.
func PriceNoBps(yesReserve, noReserve uint64) uint64 {
	if yesReserve == 0 && noReserve == 0 {
		return BpsDenominator / 2
	}
	return BpsDenominator - PriceYesBps(yesReserve, noReserve)
}
