package event

import "PredictLedger/internal/state"

// CreateMarket opens a new question seeded with the creator's liquidity.
type CreateMarket struct {
	Meta
	Question            string `json:"question"`
	ResolutionSource    string `json:"resolution_source"`
	ResolutionTimestamp int64  `json:"resolution_timestamp"`
	Liquidity           uint64 `json:"liquidity"`
}

func (c *CreateMarket) CommandType() CommandType { return CommandTypeCreateMarket }

// MarketID is nil: the id is assigned from the platform counter.
func (c *CreateMarket) MarketID() *uint64 { return nil }

// Buy deposits Amount and credits shares of Side.
type Buy struct {
	Meta
	Market uint64     `json:"market_id"`
	Side   state.Side `json:"side" validate:"required"`
	Amount uint64     `json:"amount"`
}

func (c *Buy) CommandType() CommandType { return CommandTypeBuy }
func (c *Buy) MarketID() *uint64        { return marketRef(c.Market) }

// Sell redeems Shares of Side for value.
type Sell struct {
	Meta
	Market uint64     `json:"market_id"`
	Side   state.Side `json:"side" validate:"required"`
	Shares uint64     `json:"shares"`
}

func (c *Sell) CommandType() CommandType { return CommandTypeSell }
func (c *Sell) MarketID() *uint64        { return marketRef(c.Market) }

// ResolveMarket records the authoritative outcome.
type ResolveMarket struct {
	Meta
	Market  uint64     `json:"market_id"`
	Outcome state.Side `json:"outcome" validate:"required"`
}

func (c *ResolveMarket) CommandType() CommandType { return CommandTypeResolveMarket }
func (c *ResolveMarket) MarketID() *uint64        { return marketRef(c.Market) }

// VoidMarket cancels an open market, or a resolved one inside its challenge window.
type VoidMarket struct {
	Meta
	Market uint64 `json:"market_id"`
	Reason string `json:"reason"`
}

func (c *VoidMarket) CommandType() CommandType { return CommandTypeVoidMarket }
func (c *VoidMarket) MarketID() *uint64        { return marketRef(c.Market) }

// ReclaimStaleMarket voids a market left unresolved past the grace period.
type ReclaimStaleMarket struct {
	Meta
	Market uint64 `json:"market_id"`
}

func (c *ReclaimStaleMarket) CommandType() CommandType { return CommandTypeReclaimStaleMarket }
func (c *ReclaimStaleMarket) MarketID() *uint64        { return marketRef(c.Market) }

// CloseMarket reclaims a settled market record.
type CloseMarket struct {
	Meta
	Market uint64 `json:"market_id"`
}

func (c *CloseMarket) CommandType() CommandType { return CommandTypeCloseMarket }
func (c *CloseMarket) MarketID() *uint64        { return marketRef(c.Market) }
