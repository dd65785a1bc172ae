package state

import (
	"fmt"
	"strings"

	"PredictLedger/internal/errs"

	"github.com/google/uuid"
)

const (
	MaxQuestionLen = 256
	MaxSourceLen   = 512

	// MinResolutionLead is how far ahead of creation resolution must be.
	MinResolutionLead int64 = 60

	// StaleGracePeriod is how long past its resolution time an unresolved
	// market may sit before anyone can void it.
	StaleGracePeriod int64 = 30 * 24 * 60 * 60
)

// MarketStatus tracks the market lifecycle
type MarketStatus uint8

const (
	MarketStatusOpen MarketStatus = iota
	MarketStatusResolved
	MarketStatusVoided
	MarketStatusClosed
)

func (s MarketStatus) String() string {
	switch s {
	case MarketStatusOpen:
		return "Open"
	case MarketStatusResolved:
		return "Resolved"
	case MarketStatusVoided:
		return "Voided"
	case MarketStatusClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates lifecycle transitions. Time and fee guards are
// checked separately by the gate methods on Market.
func (s MarketStatus) CanTransitionTo(next MarketStatus) bool {
	validTransitions := map[MarketStatus][]MarketStatus{
		MarketStatusOpen: {
			MarketStatusResolved,
			MarketStatusVoided,
		},
		MarketStatusResolved: {
			MarketStatusVoided, // challenge window only
			MarketStatusClosed, // after both fee claims
		},
		MarketStatusVoided: {
			MarketStatusClosed,
		},
	}

	for _, allowed := range validTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// Phase is the lifecycle-specific part of a market. Only Resolved carries an
// outcome and frozen fees.
type Phase interface {
	Status() MarketStatus
}

// Open markets trade.
type Open struct{}

// Resolved markets pay out against the frozen fee split.
type Resolved struct {
	Outcome            Side   `json:"outcome"`
	ResolvedAt         int64  `json:"resolved_at"`
	ChallengeEndsAt    int64  `json:"challenge_ends_at"` // fixed at resolution from the period then in force
	TreasuryFee        uint64 `json:"treasury_fee"`
	CreatorFee         uint64 `json:"creator_fee"`
	TreasuryFeeClaimed bool   `json:"treasury_fee_claimed"`
	CreatorFeeClaimed  bool   `json:"creator_fee_claimed"`
}

// Voided markets refund every share at half a unit.
type Voided struct {
	VoidedAt int64  `json:"voided_at"`
	Reason   string `json:"reason"`
}

// Closed markets have had their record reclaimed.
type Closed struct {
	ClosedAt int64
	From     MarketStatus
}

func (Open) Status() MarketStatus     { return MarketStatusOpen }
func (Resolved) Status() MarketStatus { return MarketStatusResolved }
func (Voided) Status() MarketStatus   { return MarketStatusVoided }
func (Closed) Status() MarketStatus   { return MarketStatusClosed }

// Market is one binary question with its AMM pool.
type Market struct {
	ID                  uint64
	Creator             uuid.UUID
	Question            string
	ResolutionSource    string
	YesReserve          uint64
	NoReserve           uint64
	TotalMinted         uint64 // value deposited net of value withdrawn; settlement denominator
	InitialLiquidity    uint64
	SwapFeeBps          uint16
	TreasuryRakeBps     uint16 // snapshot at creation
	CreatorRakeBps      uint16 // snapshot at creation
	ResolutionTimestamp int64
	CreatedAt           int64
	Phase               Phase
}

// Status derives the lifecycle status from the phase.
func (m *Market) Status() MarketStatus {
	if m.Phase == nil {
		return MarketStatusOpen
	}
	return m.Phase.Status()
}

// Resolution returns the resolved phase, if any.
func (m *Market) Resolution() (Resolved, bool) {
	r, ok := m.Phase.(Resolved)
	return r, ok
}

// Outcome returns the winning side once resolved.
func (m *Market) Outcome() (Side, bool) {
	r, ok := m.Resolution()
	if !ok {
		return 0, false
	}
	return r.Outcome, true
}

// Reserve returns the pool reserve for side.
func (m *Market) Reserve(side Side) uint64 {
	if side == SideYes {
		return m.YesReserve
	}
	return m.NoReserve
}

// Enter moves the market into next, enforcing the transition table.
// Updating fields within the same phase (fee-claim flags) is always allowed.
func (m *Market) Enter(next Phase) error {
	from, to := m.Status(), next.Status()
	if from != to && !from.CanTransitionTo(to) {
		return fmt.Errorf("market %d %s -> %s: %w", m.ID, from, to, errs.ErrInvalidTransition)
	}
	m.Phase = next
	return nil
}

// ValidateMarketText checks question and resolution source bounds.
func ValidateMarketText(question, source string) error {
	if len(question) > MaxQuestionLen {
		return fmt.Errorf("question length %d: %w", len(question), errs.ErrQuestionTooLong)
	}
	if len(source) > MaxSourceLen {
		return fmt.Errorf("source length %d: %w", len(source), errs.ErrSourceTooLong)
	}
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		return errs.ErrInvalidSourceURL
	}
	return nil
}

// CheckTradable gates Buy and Sell.
func (m *Market) CheckTradable(cfg *PlatformConfig, now int64) error {
	if cfg.Paused {
		return errs.ErrPlatformPaused
	}
	if m.Status() != MarketStatusOpen {
		return fmt.Errorf("market %d is %s: %w", m.ID, m.Status(), errs.ErrMarketNotOpen)
	}
	if m.YesReserve == 0 || m.NoReserve == 0 {
		return errs.ErrEmptyPool
	}
	if now >= m.ResolutionTimestamp-cfg.BettingCutoffSeconds {
		return fmt.Errorf("market %d closes at %d: %w", m.ID, m.ResolutionTimestamp-cfg.BettingCutoffSeconds, errs.ErrBettingClosed)
	}
	return nil
}

// CheckResolvable gates Resolve.
func (m *Market) CheckResolvable(now int64) error {
	if m.Status() != MarketStatusOpen {
		return fmt.Errorf("market %d is %s: %w", m.ID, m.Status(), errs.ErrMarketNotOpen)
	}
	if now < m.ResolutionTimestamp {
		return fmt.Errorf("market %d resolves at %d: %w", m.ID, m.ResolutionTimestamp, errs.ErrMarketNotReady)
	}
	return nil
}

// CheckVoidable gates an authority void: any time while Open, or within the
// challenge window after resolution.
func (m *Market) CheckVoidable(now int64) error {
	switch p := m.Phase.(type) {
	case nil, Open:
		return nil
	case Resolved:
		if now < p.ChallengeEndsAt {
			return nil
		}
	}
	return fmt.Errorf("market %d is %s: %w", m.ID, m.Status(), errs.ErrMarketNotVoidable)
}

// CheckStale gates the permissionless reclaim of abandoned markets.
func (m *Market) CheckStale(now int64) error {
	if m.Status() != MarketStatusOpen {
		return fmt.Errorf("market %d is %s: %w", m.ID, m.Status(), errs.ErrMarketNotOpen)
	}
	if now <= m.ResolutionTimestamp+StaleGracePeriod {
		return errs.ErrMarketNotStale
	}
	return nil
}

// CheckClaimable returns the resolution once the challenge window has passed.
func (m *Market) CheckClaimable(now int64) (Resolved, error) {
	r, ok := m.Resolution()
	if !ok {
		return Resolved{}, fmt.Errorf("market %d is %s: %w", m.ID, m.Status(), errs.ErrMarketNotResolved)
	}
	if now < r.ChallengeEndsAt {
		return Resolved{}, fmt.Errorf("market %d claimable at %d: %w", m.ID, r.ChallengeEndsAt, errs.ErrChallengePeriodActive)
	}
	return r, nil
}

// CheckCloseable gates CloseMarket.
func (m *Market) CheckCloseable() error {
	switch p := m.Phase.(type) {
	case Voided:
		return nil
	case Resolved:
		if p.CreatorFeeClaimed && p.TreasuryFeeClaimed {
			return nil
		}
	}
	return fmt.Errorf("market %d is %s: %w", m.ID, m.Status(), errs.ErrMarketNotCloseable)
}

// CanonicalBytes returns deterministic serialization for hashing.
func (m *Market) CanonicalBytes() []byte {
	buf := make([]byte, 0, 160+len(m.Question)+len(m.ResolutionSource))

	buf = appendUint64LE(buf, m.ID)
	buf = append(buf, m.Creator[:]...)
	buf = appendString(buf, m.Question)
	buf = appendString(buf, m.ResolutionSource)
	buf = appendUint64LE(buf, m.YesReserve)
	buf = appendUint64LE(buf, m.NoReserve)
	buf = appendUint64LE(buf, m.TotalMinted)
	buf = appendUint64LE(buf, m.InitialLiquidity)
	buf = appendUint16LE(buf, m.SwapFeeBps)
	buf = appendUint16LE(buf, m.TreasuryRakeBps)
	buf = appendUint16LE(buf, m.CreatorRakeBps)
	buf = appendInt64LE(buf, m.ResolutionTimestamp)
	buf = appendInt64LE(buf, m.CreatedAt)
	buf = append(buf, byte(m.Status()))

	switch p := m.Phase.(type) {
	case Resolved:
		buf = append(buf, byte(p.Outcome))
		buf = appendInt64LE(buf, p.ResolvedAt)
		buf = appendInt64LE(buf, p.ChallengeEndsAt)
		buf = appendUint64LE(buf, p.TreasuryFee)
		buf = appendUint64LE(buf, p.CreatorFee)
		buf = appendBool(buf, p.TreasuryFeeClaimed)
		buf = appendBool(buf, p.CreatorFeeClaimed)
	case Voided:
		buf = appendInt64LE(buf, p.VoidedAt)
		buf = appendString(buf, p.Reason)
	case Closed:
		buf = appendInt64LE(buf, p.ClosedAt)
		buf = append(buf, byte(p.From))
	}

	return buf
}
