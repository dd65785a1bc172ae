package state

import (
	"fmt"

	"PredictLedger/internal/errs"

	"github.com/google/uuid"
)

const bpsMax = 10_000

// PlatformConfig is the process-wide parameter set. It is passed explicitly to
// every operation that reads it; only the authority may replace it.
type PlatformConfig struct {
	Authority              uuid.UUID `json:"authority"`
	Treasury               uuid.UUID `json:"treasury"`
	MinLiquidity           uint64    `json:"min_liquidity"` // smallest initial pool a creator may seed
	MinTrade               uint64    `json:"min_trade"`     // smallest buy accepted
	TreasuryRakeBps        uint16    `json:"treasury_rake_bps"`
	CreatorRakeBps         uint16    `json:"creator_rake_bps"`
	SwapFeeBps             uint16    `json:"swap_fee_bps"`
	BettingCutoffSeconds   int64     `json:"betting_cutoff_seconds"`   // trading stops this long before resolution
	ChallengePeriodSeconds int64     `json:"challenge_period_seconds"` // void window and claim lock after resolution
	MarketCount            uint64    `json:"market_count"`
	Paused                 bool      `json:"paused"`
}

// Validate checks every bound the platform relies on.
func (c *PlatformConfig) Validate() error {
	if c.TreasuryRakeBps > bpsMax || c.CreatorRakeBps > bpsMax {
		return fmt.Errorf("rake treasury=%d creator=%d: %w", c.TreasuryRakeBps, c.CreatorRakeBps, errs.ErrInvalidRakeBps)
	}
	if uint32(c.TreasuryRakeBps)+uint32(c.CreatorRakeBps) > bpsMax {
		return fmt.Errorf("rake sum %d: %w", uint32(c.TreasuryRakeBps)+uint32(c.CreatorRakeBps), errs.ErrInvalidRakeBps)
	}
	if c.SwapFeeBps > bpsMax {
		return fmt.Errorf("swap fee %d: %w", c.SwapFeeBps, errs.ErrInvalidConfigParam)
	}
	if c.MinTrade == 0 {
		return fmt.Errorf("min trade must be positive: %w", errs.ErrInvalidConfigParam)
	}
	if c.BettingCutoffSeconds <= 0 {
		return fmt.Errorf("betting cutoff %d: %w", c.BettingCutoffSeconds, errs.ErrInvalidConfigParam)
	}
	if c.ChallengePeriodSeconds <= 0 {
		return fmt.Errorf("challenge period %d: %w", c.ChallengePeriodSeconds, errs.ErrInvalidConfigParam)
	}
	if c.Authority == uuid.Nil || c.Treasury == uuid.Nil {
		return fmt.Errorf("authority and treasury are required: %w", errs.ErrInvalidConfigParam)
	}
	return nil
}

// ConfigUpdate carries the optional fields of an authority update.
type ConfigUpdate struct {
	Treasury               *uuid.UUID `json:"treasury,omitempty"`
	MinLiquidity           *uint64    `json:"min_liquidity,omitempty"`
	MinTrade               *uint64    `json:"min_trade,omitempty"`
	TreasuryRakeBps        *uint16    `json:"treasury_rake_bps,omitempty"`
	CreatorRakeBps         *uint16    `json:"creator_rake_bps,omitempty"`
	SwapFeeBps             *uint16    `json:"swap_fee_bps,omitempty"`
	BettingCutoffSeconds   *int64     `json:"betting_cutoff_seconds,omitempty"`
	ChallengePeriodSeconds *int64     `json:"challenge_period_seconds,omitempty"`
}

// Merged returns a copy of c with the update applied. The result is validated
// as a whole, so a pair of rakes can be moved in one update.
func (c PlatformConfig) Merged(u ConfigUpdate) (PlatformConfig, error) {
	if u.Treasury != nil {
		c.Treasury = *u.Treasury
	}
	if u.MinLiquidity != nil {
		c.MinLiquidity = *u.MinLiquidity
	}
	if u.MinTrade != nil {
		c.MinTrade = *u.MinTrade
	}
	if u.TreasuryRakeBps != nil {
		c.TreasuryRakeBps = *u.TreasuryRakeBps
	}
	if u.CreatorRakeBps != nil {
		c.CreatorRakeBps = *u.CreatorRakeBps
	}
	if u.SwapFeeBps != nil {
		c.SwapFeeBps = *u.SwapFeeBps
	}
	if u.BettingCutoffSeconds != nil {
		c.BettingCutoffSeconds = *u.BettingCutoffSeconds
	}
	if u.ChallengePeriodSeconds != nil {
		c.ChallengePeriodSeconds = *u.ChallengePeriodSeconds
	}
	if err := c.Validate(); err != nil {
		return PlatformConfig{}, err
	}
	return c, nil
}

// CanonicalBytes returns deterministic serialization for hashing.
func (c *PlatformConfig) CanonicalBytes() []byte {
	buf := make([]byte, 0, 96)
	buf = append(buf, c.Authority[:]...)
	buf = append(buf, c.Treasury[:]...)
	buf = appendUint64LE(buf, c.MinLiquidity)
	buf = appendUint64LE(buf, c.MinTrade)
	buf = appendUint16LE(buf, c.TreasuryRakeBps)
	buf = appendUint16LE(buf, c.CreatorRakeBps)
	buf = appendUint16LE(buf, c.SwapFeeBps)
	buf = appendInt64LE(buf, c.BettingCutoffSeconds)
	buf = appendInt64LE(buf, c.ChallengePeriodSeconds)
	buf = appendUint64LE(buf, c.MarketCount)
	buf = appendBool(buf, c.Paused)
	return buf
}
