package event

import "github.com/google/uuid"

// Result carries the values an operation computed. Only the fields relevant
// to the command are set.
type Result struct {
	MarketID    *uint64    `json:"market_id,omitempty"`
	Recipient   *uuid.UUID `json:"recipient,omitempty"`
	Side        string     `json:"side,omitempty"`
	Shares      uint64     `json:"shares,omitempty"`
	Amount      uint64     `json:"amount,omitempty"` // value moved: deposit, payout, sweep
	Fee         uint64     `json:"fee,omitempty"`
	YesReserve  uint64     `json:"yes_reserve,omitempty"`
	NoReserve   uint64     `json:"no_reserve,omitempty"`
	PriceYesBps uint64     `json:"price_yes_bps,omitempty"`
	Outcome     string     `json:"outcome,omitempty"`
	TotalPot    uint64     `json:"total_pot,omitempty"`
	TreasuryFee uint64     `json:"treasury_fee,omitempty"`
	CreatorFee  uint64     `json:"creator_fee,omitempty"`
	Paused      *bool      `json:"paused,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}
