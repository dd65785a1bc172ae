package query

import (
	"PredictLedger/internal/state"

	"github.com/google/uuid"
)

// MarketView is a market as served to clients. Amounts are base units with
// a display string next to the ones people read.
type MarketView struct {
	MarketID            uint64    `json:"market_id"`
	Creator             uuid.UUID `json:"creator"`
	Question            string    `json:"question"`
	ResolutionSource    string    `json:"resolution_source"`
	Status              string    `json:"status"`
	YesReserve          uint64    `json:"yes_reserve"`
	NoReserve           uint64    `json:"no_reserve"`
	TotalMinted         uint64    `json:"total_minted"`
	TotalMintedDisplay  string    `json:"total_minted_display"`
	InitialLiquidity    uint64    `json:"initial_liquidity"`
	SwapFeeBps          uint16    `json:"swap_fee_bps"`
	TreasuryRakeBps     uint16    `json:"treasury_rake_bps"`
	CreatorRakeBps      uint16    `json:"creator_rake_bps"`
	PriceYesBps         uint64    `json:"price_yes_bps"`
	ProbabilityYes      string    `json:"probability_yes"`
	ResolutionTimestamp int64     `json:"resolution_timestamp"`
	CreatedAt           int64     `json:"created_at"`

	Resolution *state.Resolved `json:"resolution,omitempty"`
	Void       *state.Voided   `json:"void,omitempty"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// PositionView is a user's shares in one market with the payout they imply.
type PositionView struct {
	MarketID     uint64        `json:"market_id"`
	UserID       uuid.UUID     `json:"user_id"`
	YesShares    uint64        `json:"yes_shares"`
	NoShares     uint64        `json:"no_shares"`
	Claimed      bool          `json:"claimed"`
	Closed       bool          `json:"closed"`
	CreatedAt    int64         `json:"created_at"`
	Payout       PayoutPreview `json:"payout"`
	AsOfSequence int64         `json:"as_of_sequence"`
}

// ConfigView is the platform config as last projected.
type ConfigView struct {
	state.PlatformConfig
	AsOfSequence int64 `json:"as_of_sequence"`
}

// JournalHistoryEntry is one journal line touching an account.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        uint64 `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`

	// Internal balances must equal deposits minus withdrawals.
	InternalTotal string `json:"internal_total"`
	NetExternal   string `json:"net_external"`
	AsOfSequence  int64  `json:"as_of_sequence"`
}

// TradeView is one AMM trade from the trade projection.
type TradeView struct {
	Sequence    int64     `json:"sequence"`
	MarketID    uint64    `json:"market_id"`
	UserID      uuid.UUID `json:"user_id"`
	Direction   string    `json:"direction"`
	Side        string    `json:"side"`
	Amount      uint64    `json:"amount"`
	Shares      uint64    `json:"shares"`
	Fee         uint64    `json:"fee"`
	PriceYesBps uint64    `json:"price_yes_bps"`
	Timestamp   int64     `json:"timestamp"`
}
