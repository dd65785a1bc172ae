package query

import (
	"errors"
	"fmt"

	"PredictLedger/internal/errs"
	pmath "PredictLedger/internal/math"
	"PredictLedger/internal/state"
)

// ErrInvalidArgument marks a malformed query parameter.
var ErrInvalidArgument = errors.New("invalid argument")

// Direction is which way a quoted trade goes.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// ParseDirection accepts "buy" or "sell".
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionBuy, DirectionSell:
		return Direction(s), nil
	}
	return "", fmt.Errorf("direction %q: %w", s, ErrInvalidArgument)
}

// Quote previews a trade against a market's current pool. It runs the same
// curve the engine runs, but ignores the betting cutoff, the pause flag and
// the minimum trade, which depend on the time the command is applied.
type Quote struct {
	MarketID       uint64    `json:"market_id"`
	Direction      Direction `json:"direction"`
	Side           string    `json:"side"`
	In             uint64    `json:"in"`  // value for buys, shares for sells
	Out            uint64    `json:"out"` // shares for buys, value for sells
	Fee            uint64    `json:"fee"`
	AvgPrice       string    `json:"avg_price"` // value per share
	PriceYesBefore uint64    `json:"price_yes_bps_before"`
	PriceYesAfter  uint64    `json:"price_yes_bps_after"`
	ProbabilityYes string    `json:"probability_yes_after"`
	YesReserve     uint64    `json:"yes_reserve_after"`
	NoReserve      uint64    `json:"no_reserve_after"`
	AsOfSequence   int64     `json:"as_of_sequence"`
}

// QuoteTrade prices amount (value to spend, or shares to sell) on side.
func QuoteTrade(m *state.Market, dir Direction, side state.Side, amount uint64) (Quote, error) {
	if m.Status() != state.MarketStatusOpen {
		return Quote{}, fmt.Errorf("market %d is %s: %w", m.ID, m.Status(), errs.ErrMarketNotOpen)
	}
	if !side.Valid() {
		return Quote{}, errs.ErrInvalidSide
	}
	if amount == 0 {
		return Quote{}, errs.ErrZeroAmount
	}

	var (
		trade pmath.Trade
		err   error
	)
	switch {
	case dir == DirectionBuy && side == state.SideYes:
		trade, err = pmath.BuyYes(amount, m.YesReserve, m.NoReserve, m.SwapFeeBps)
	case dir == DirectionBuy:
		trade, err = pmath.BuyNo(amount, m.YesReserve, m.NoReserve, m.SwapFeeBps)
	case dir == DirectionSell && side == state.SideYes:
		trade, err = pmath.SellYes(amount, m.YesReserve, m.NoReserve, m.SwapFeeBps)
	case dir == DirectionSell:
		trade, err = pmath.SellNo(amount, m.YesReserve, m.NoReserve, m.SwapFeeBps)
	default:
		return Quote{}, fmt.Errorf("direction %q: %w", dir, ErrInvalidArgument)
	}
	if err != nil {
		return Quote{}, err
	}

	q := Quote{
		MarketID:       m.ID,
		Direction:      dir,
		Side:           side.String(),
		In:             amount,
		Out:            trade.Amount,
		Fee:            trade.Fee,
		PriceYesBefore: pmath.PriceYesBps(m.YesReserve, m.NoReserve),
		PriceYesAfter:  pmath.PriceYesBps(trade.YesReserve, trade.NoReserve),
		YesReserve:     trade.YesReserve,
		NoReserve:      trade.NoReserve,
	}
	q.ProbabilityYes = Probability(q.PriceYesAfter)
	if dir == DirectionBuy {
		q.AvgPrice = ratio(amount, trade.Amount)
	} else {
		q.AvgPrice = ratio(trade.Amount, amount)
	}
	return q, nil
}

// PayoutKind names the claim a position has against its market.
type PayoutKind string

const (
	PayoutNone     PayoutKind = "none"
	PayoutWinnings PayoutKind = "winnings"
	PayoutRefund   PayoutKind = "refund"
	PayoutPending  PayoutKind = "pending" // market still open
)

// PayoutPreview is what a position would collect.
type PayoutPreview struct {
	Kind        PayoutKind `json:"kind"`
	Amount      uint64     `json:"amount"`
	ClaimableAt int64      `json:"claimable_at,omitempty"`
	Claimed     bool       `json:"claimed"`

	// Set while the market is open: the payout if each side won with the
	// pool as it stands now.
	IfYes *uint64 `json:"if_yes,omitempty"`
	IfNo  *uint64 `json:"if_no,omitempty"`
}

// PreviewPayout mirrors the claim arithmetic: winning shares share the pot
// net of both rakes pro rata to total_minted, and a void pays half a unit
// per share.
func PreviewPayout(m *state.Market, pos *state.Position) (PayoutPreview, error) {
	preview := PayoutPreview{Kind: PayoutNone, Claimed: pos.Claimed}

	switch p := m.Phase.(type) {
	case state.Resolved:
		stake := pos.Shares(p.Outcome)
		if stake == 0 {
			return preview, nil
		}
		prize, err := pmath.PrizePool(m.TotalMinted, pmath.FeeSplit{TreasuryFee: p.TreasuryFee, CreatorFee: p.CreatorFee})
		if err != nil {
			return PayoutPreview{}, err
		}
		amount, err := pmath.ProRata(stake, prize, m.TotalMinted)
		if err != nil {
			return PayoutPreview{}, err
		}
		preview.Kind, preview.Amount, preview.ClaimableAt = PayoutWinnings, amount, p.ChallengeEndsAt

	case state.Voided:
		preview.Kind = PayoutRefund
		preview.Amount = pmath.VoidRefund(pos.YesShares, pos.NoShares)

	case state.Closed:

	default:
		fees, err := pmath.FreezeFees(m.TotalMinted, m.TreasuryRakeBps, m.CreatorRakeBps)
		if err != nil {
			return PayoutPreview{}, err
		}
		prize, err := pmath.PrizePool(m.TotalMinted, fees)
		if err != nil {
			return PayoutPreview{}, err
		}
		ifYes, err := pmath.ProRata(pos.YesShares, prize, m.TotalMinted)
		if err != nil {
			return PayoutPreview{}, err
		}
		ifNo, err := pmath.ProRata(pos.NoShares, prize, m.TotalMinted)
		if err != nil {
			return PayoutPreview{}, err
		}
		preview.Kind, preview.IfYes, preview.IfNo = PayoutPending, &ifYes, &ifNo
	}
	return preview, nil
}
