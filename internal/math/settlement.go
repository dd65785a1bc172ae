package math

import (
	"PredictLedger/internal/errs"

	"github.com/holiman/uint256"
)

// FeeSplit holds the rake amounts frozen at resolution.
type FeeSplit struct {
	TreasuryFee uint64
	CreatorFee  uint64
}

// Total returns the combined rake.
func (f FeeSplit) Total() (uint64, error) {
	return CheckedAdd(f.TreasuryFee, f.CreatorFee)
}

// FreezeFees computes both rakes from the pot. Division truncates, so the sum
// never exceeds pot*(treasuryBps+creatorBps)/10000.
func FreezeFees(totalPot uint64, treasuryBps, creatorBps uint16) (FeeSplit, error) {
	if uint32(treasuryBps)+uint32(creatorBps) > BpsDenominator {
		return FeeSplit{}, errs.ErrInvalidRakeBps
	}
	treasury, err := ApplyBps(totalPot, treasuryBps)
	if err != nil {
		return FeeSplit{}, err
	}
	creator, err := ApplyBps(totalPot, creatorBps)
	if err != nil {
		return FeeSplit{}, err
	}
	return FeeSplit{TreasuryFee: treasury, CreatorFee: creator}, nil
}

// PrizePool is what remains of the pot for share holders after both rakes.
func PrizePool(totalPot uint64, fees FeeSplit) (uint64, error) {
	rake, err := fees.Total()
	if err != nil {
		return 0, err
	}
	return CheckedSub(totalPot, rake)
}

// ProRata returns stake*prizePool/denominator. Used for both winning positions
// and the creator's leftover pool liquidity, always against total_minted.
func ProRata(stake, prizePool, denominator uint64) (uint64, error) {
	return MulDiv(stake, prizePool, denominator)
}

// VoidRefund values every share at half a unit: (yes+no)/2, truncated.
func VoidRefund(yesShares, noShares uint64) uint64 {
	total := new(uint256.Int).Add(wide(yesShares), wide(noShares))
	return total.Rsh(total, 1).Uint64()
}
