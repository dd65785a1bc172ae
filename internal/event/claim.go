package event

// ClaimWinnings pays the caller's winning shares out of the prize pool.
type ClaimWinnings struct {
	Meta
	Market uint64 `json:"market_id"`
}

func (c *ClaimWinnings) CommandType() CommandType { return CommandTypeClaimWinnings }
func (c *ClaimWinnings) MarketID() *uint64        { return marketRef(c.Market) }

// ClaimRefund returns half a unit per share held in a voided market.
type ClaimRefund struct {
	Meta
	Market uint64 `json:"market_id"`
}

func (c *ClaimRefund) CommandType() CommandType { return CommandTypeClaimRefund }
func (c *ClaimRefund) MarketID() *uint64        { return marketRef(c.Market) }

// ClaimCreatorFee pays the creator rake plus leftover pool liquidity.
type ClaimCreatorFee struct {
	Meta
	Market uint64 `json:"market_id"`
}

func (c *ClaimCreatorFee) CommandType() CommandType { return CommandTypeClaimCreatorFee }
func (c *ClaimCreatorFee) MarketID() *uint64        { return marketRef(c.Market) }

// ClaimTreasuryFee pays the treasury rake. Anyone may trigger it; the
// payout always goes to the configured treasury.
type ClaimTreasuryFee struct {
	Meta
	Market uint64 `json:"market_id"`
}

func (c *ClaimTreasuryFee) CommandType() CommandType { return CommandTypeClaimTreasuryFee }
func (c *ClaimTreasuryFee) MarketID() *uint64        { return marketRef(c.Market) }

// ClosePosition reclaims a claimed position record.
type ClosePosition struct {
	Meta
	Market uint64 `json:"market_id"`
}

func (c *ClosePosition) CommandType() CommandType { return CommandTypeClosePosition }
func (c *ClosePosition) MarketID() *uint64        { return marketRef(c.Market) }
