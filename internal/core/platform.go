package core

import (
	"fmt"

	"PredictLedger/internal/errs"
	"PredictLedger/internal/event"
	"PredictLedger/internal/ledger"
	"PredictLedger/internal/state"

	"github.com/google/uuid"
)

// InitializeConfig creates the platform config once. The caller becomes the
// authority and pays the config record's reserve floor.
func (e *Engine) InitializeConfig(
	caller uuid.UUID,
	current *state.PlatformConfig,
	params state.PlatformConfig,
) (state.PlatformConfig, event.Result, error) {
	if current != nil {
		return state.PlatformConfig{}, event.Result{}, errs.ErrConfigExists
	}

	params.Authority = caller
	params.MarketCount = 0
	params.Paused = false
	if err := params.Validate(); err != nil {
		return state.PlatformConfig{}, event.Result{}, err
	}

	floor := e.ledger.MinimumReserveFloor(ledger.KindConfig)
	if err := e.ledger.Transfer(ledger.Leg{
		From: ledger.WalletKey(caller), To: ledger.ConfigRecordKey(), Amount: floor, Type: ledger.JournalTypeRecordFloor,
	}); err != nil {
		return state.PlatformConfig{}, event.Result{}, fmt.Errorf("initialize config: %w", err)
	}

	return params, event.Result{Amount: floor}, nil
}

// UpdateConfig applies a partial update. Markets already created keep their
// fee and rake snapshots.
func (e *Engine) UpdateConfig(caller uuid.UUID, cfg *state.PlatformConfig, update state.ConfigUpdate) (event.Result, error) {
	if err := e.auth.Authorize(caller, cfg.Authority, RoleAuthority); err != nil {
		return event.Result{}, err
	}

	next, err := cfg.Merged(update)
	if err != nil {
		return event.Result{}, err
	}
	*cfg = next
	return event.Result{}, nil
}

func (e *Engine) TogglePause(caller uuid.UUID, cfg *state.PlatformConfig) (event.Result, error) {
	if err := e.auth.Authorize(caller, cfg.Authority, RoleAuthority); err != nil {
		return event.Result{}, err
	}

	cfg.Paused = !cfg.Paused
	paused := cfg.Paused
	return event.Result{Paused: &paused}, nil
}

func (e *Engine) TransferAuthority(caller uuid.UUID, cfg *state.PlatformConfig, newAuthority uuid.UUID) (event.Result, error) {
	if err := e.auth.Authorize(caller, cfg.Authority, RoleAuthority); err != nil {
		return event.Result{}, err
	}
	if newAuthority == uuid.Nil {
		return event.Result{}, fmt.Errorf("new authority is empty: %w", errs.ErrInvalidConfigParam)
	}

	cfg.Authority = newAuthority
	return event.Result{Recipient: &newAuthority}, nil
}

// Deposit credits the caller's wallet from outside the ledger.
func (e *Engine) Deposit(caller uuid.UUID, amount uint64) (event.Result, error) {
	if amount == 0 {
		return event.Result{}, errs.ErrZeroAmount
	}
	if err := e.ledger.Transfer(ledger.Leg{
		From: ledger.ExternalDepositsKey(), To: ledger.WalletKey(caller), Amount: amount, Type: ledger.JournalTypeDeposit,
	}); err != nil {
		return event.Result{}, fmt.Errorf("deposit: %w", err)
	}
	return event.Result{Recipient: &caller, Amount: amount}, nil
}

// Withdraw pays value out of the caller's wallet.
func (e *Engine) Withdraw(caller uuid.UUID, amount uint64) (event.Result, error) {
	if amount == 0 {
		return event.Result{}, errs.ErrZeroAmount
	}
	if err := e.ledger.Transfer(ledger.Leg{
		From: ledger.WalletKey(caller), To: ledger.ExternalWithdrawalsKey(), Amount: amount, Type: ledger.JournalTypeWithdrawal,
	}); err != nil {
		return event.Result{}, fmt.Errorf("withdraw: %w", err)
	}
	return event.Result{Recipient: &caller, Amount: amount}, nil
}
