package event

import (
	"PredictLedger/internal/state"

	"github.com/google/uuid"
)

// InitializeConfig creates the platform config. The caller becomes authority.
type InitializeConfig struct {
	Meta
	Treasury               uuid.UUID `json:"treasury" validate:"required"`
	MinLiquidity           uint64    `json:"min_liquidity"`
	MinTrade               uint64    `json:"min_trade"`
	TreasuryRakeBps        uint16    `json:"treasury_rake_bps"`
	CreatorRakeBps         uint16    `json:"creator_rake_bps"`
	SwapFeeBps             uint16    `json:"swap_fee_bps"`
	BettingCutoffSeconds   int64     `json:"betting_cutoff_seconds"`
	ChallengePeriodSeconds int64     `json:"challenge_period_seconds"`
}

func (c *InitializeConfig) CommandType() CommandType { return CommandTypeInitializeConfig }
func (c *InitializeConfig) MarketID() *uint64        { return nil }

// Params returns the requested config with the caller as authority.
func (c *InitializeConfig) Params() state.PlatformConfig {
	return state.PlatformConfig{
		Authority:              c.Caller,
		Treasury:               c.Treasury,
		MinLiquidity:           c.MinLiquidity,
		MinTrade:               c.MinTrade,
		TreasuryRakeBps:        c.TreasuryRakeBps,
		CreatorRakeBps:         c.CreatorRakeBps,
		SwapFeeBps:             c.SwapFeeBps,
		BettingCutoffSeconds:   c.BettingCutoffSeconds,
		ChallengePeriodSeconds: c.ChallengePeriodSeconds,
	}
}

// UpdateConfig changes any subset of the platform parameters.
type UpdateConfig struct {
	Meta
	Update state.ConfigUpdate `json:"update"`
}

func (c *UpdateConfig) CommandType() CommandType { return CommandTypeUpdateConfig }
func (c *UpdateConfig) MarketID() *uint64        { return nil }

// TogglePause flips the platform pause flag.
type TogglePause struct {
	Meta
}

func (c *TogglePause) CommandType() CommandType { return CommandTypeTogglePause }
func (c *TogglePause) MarketID() *uint64        { return nil }

// TransferAuthority hands the authority role to another identity.
type TransferAuthority struct {
	Meta
	NewAuthority uuid.UUID `json:"new_authority" validate:"required"`
}

func (c *TransferAuthority) CommandType() CommandType { return CommandTypeTransferAuthority }
func (c *TransferAuthority) MarketID() *uint64        { return nil }

// Deposit credits the caller's custodial wallet from outside the ledger.
type Deposit struct {
	Meta
	Amount uint64 `json:"amount"`
}

func (c *Deposit) CommandType() CommandType { return CommandTypeDeposit }
func (c *Deposit) MarketID() *uint64        { return nil }

// Withdraw moves value out of the caller's custodial wallet.
type Withdraw struct {
	Meta
	Amount uint64 `json:"amount"`
}

func (c *Withdraw) CommandType() CommandType { return CommandTypeWithdraw }
func (c *Withdraw) MarketID() *uint64        { return nil }
