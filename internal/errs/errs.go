// Package errs defines the failure taxonomy shared by the engine and its shell.
//
// Every rejection carries a Kind so the transport layer can map it to a status
// without string matching, and a stable Code that is surfaced to end users.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindState
	KindAuthorization
	KindAccounting
	KindSolvency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindAuthorization:
		return "authorization"
	case KindAccounting:
		return "accounting"
	case KindSolvency:
		return "solvency"
	default:
		return "unknown"
	}
}

// Error is a classified, comparable failure. Sentinels below are *Error values;
// wrap them with fmt.Errorf("...: %w", ErrX) to add context.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func newErr(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the Code of the first *Error in err's chain, or "Internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "Internal"
}

// Validation
var (
	ErrQuestionTooLong    = newErr(KindValidation, "QuestionTooLong", "question exceeds 256 bytes")
	ErrSourceTooLong      = newErr(KindValidation, "SourceTooLong", "resolution source exceeds 512 bytes")
	ErrInvalidSourceURL   = newErr(KindValidation, "InvalidSourceUrl", "resolution source must start with http:// or https://")
	ErrResolutionTooSoon  = newErr(KindValidation, "ResolutionTooSoon", "resolution time must be more than 60 seconds ahead")
	ErrZeroAmount         = newErr(KindValidation, "ZeroAmount", "amount must be positive")
	ErrBelowMinTrade      = newErr(KindValidation, "BelowMinTrade", "amount below minimum trade size")
	ErrBelowMinLiquidity  = newErr(KindValidation, "BelowMinLiquidity", "liquidity below platform minimum")
	ErrInvalidRakeBps     = newErr(KindValidation, "InvalidRakeBps", "rake basis points out of range")
	ErrInvalidConfigParam = newErr(KindValidation, "InvalidConfigParam", "config parameter out of range")
	ErrInvalidSide        = newErr(KindValidation, "InvalidSide", "side must be yes or no")
)

// State
var (
	ErrConfigExists             = newErr(KindState, "ConfigExists", "platform config already initialized")
	ErrConfigMissing            = newErr(KindState, "ConfigMissing", "platform config not initialized")
	ErrPlatformPaused           = newErr(KindState, "PlatformPaused", "platform is paused")
	ErrMarketNotFound           = newErr(KindState, "MarketNotFound", "market does not exist")
	ErrPositionNotFound         = newErr(KindState, "PositionNotFound", "position does not exist")
	ErrMarketNotOpen            = newErr(KindState, "MarketNotOpen", "market is not open")
	ErrMarketNotReady           = newErr(KindState, "MarketNotReady", "resolution time has not been reached")
	ErrBettingClosed            = newErr(KindState, "BettingClosed", "trading window has closed")
	ErrEmptyPool                = newErr(KindState, "EmptyPool", "pool reserves are empty")
	ErrMarketNotResolved        = newErr(KindState, "MarketNotResolved", "market is not resolved")
	ErrMarketNotVoided          = newErr(KindState, "MarketNotVoided", "market is not voided")
	ErrChallengePeriodActive    = newErr(KindState, "ChallengePeriodActive", "challenge period has not elapsed")
	ErrMarketNotVoidable        = newErr(KindState, "MarketNotVoidable", "market can no longer be voided")
	ErrMarketNotStale           = newErr(KindState, "MarketNotStale", "market is not past the stale grace period")
	ErrMarketNotCloseable       = newErr(KindState, "MarketNotCloseable", "market still holds unclaimed fees")
	ErrAlreadyClaimed           = newErr(KindState, "AlreadyClaimed", "position already claimed")
	ErrPositionNotClaimed       = newErr(KindState, "PositionNotClaimed", "position must be claimed before closing")
	ErrPositionClosed           = newErr(KindState, "PositionClosed", "position is closed")
	ErrCreatorFeeAlreadyClaimed = newErr(KindState, "CreatorFeeAlreadyClaimed", "creator fee already claimed")
	ErrTreasuryFeeAlreadyClaimed = newErr(KindState, "TreasuryFeeAlreadyClaimed", "treasury fee already claimed")
	ErrNotAWinner               = newErr(KindState, "NotAWinner", "position holds no winning shares")
	ErrInvalidTransition        = newErr(KindState, "InvalidTransition", "lifecycle transition not allowed")
	ErrClockRegressed           = newErr(KindState, "ClockRegressed", "command timestamp is earlier than the ledger clock")
)

// Authorization
var (
	ErrUnauthorized     = newErr(KindAuthorization, "Unauthorized", "caller is not the platform authority")
	ErrNotMarketCreator = newErr(KindAuthorization, "NotMarketCreator", "caller is not the market creator")
	ErrNotPositionOwner = newErr(KindAuthorization, "NotPositionOwner", "caller does not own the position")
	ErrNotTreasury      = newErr(KindAuthorization, "NotTreasury", "caller is not the treasury")
)

// Accounting
var (
	ErrMathOverflow        = newErr(KindAccounting, "MathOverflow", "arithmetic overflow or underflow")
	ErrInvalidRoot         = newErr(KindAccounting, "InvalidRoot", "sell quadratic has no admissible root")
	ErrInsufficientShares  = newErr(KindAccounting, "InsufficientShares", "not enough shares to sell")
	ErrInsufficientBalance = newErr(KindAccounting, "InsufficientBalance", "account balance too low")
)

// Solvency
var (
	ErrInsufficientRentBalance = newErr(KindSolvency, "InsufficientRentBalance", "payout would breach the record's reserve floor")
)
