package core

import (
	"fmt"

	"PredictLedger/internal/errs"
	"PredictLedger/internal/event"
	"PredictLedger/internal/ledger"
	pmath "PredictLedger/internal/math"
	"PredictLedger/internal/state"

	"github.com/google/uuid"
)

// ClaimWinnings pays winning_shares * prize_pool / total_minted once per
// position, after the challenge window.
func (e *Engine) ClaimWinnings(caller uuid.UUID, m *state.Market, pos *state.Position) (event.Result, error) {
	now := e.clock.Now()

	r, err := m.CheckClaimable(now)
	if err != nil {
		return event.Result{}, err
	}
	if err := e.checkPosition(caller, pos); err != nil {
		return event.Result{}, err
	}

	stake := pos.Shares(r.Outcome)
	if stake == 0 {
		return event.Result{}, fmt.Errorf("no %s shares: %w", r.Outcome, errs.ErrNotAWinner)
	}

	prizePool, err := pmath.PrizePool(m.TotalMinted, pmath.FeeSplit{TreasuryFee: r.TreasuryFee, CreatorFee: r.CreatorFee})
	if err != nil {
		return event.Result{}, err
	}
	payout, err := pmath.ProRata(stake, prizePool, m.TotalMinted)
	if err != nil {
		return event.Result{}, err
	}

	vault := ledger.MarketVaultKey(m.ID)
	if err := e.checkFloor(vault, payout); err != nil {
		return event.Result{}, err
	}
	if err := e.ledger.Transfer(ledger.Leg{
		From: vault, To: ledger.WalletKey(pos.User), Amount: payout, Type: ledger.JournalTypeWinnings,
	}); err != nil {
		return event.Result{}, fmt.Errorf("winnings on market %d: %w", m.ID, err)
	}

	pos.Claimed = true

	user := pos.User
	res := marketResult(m)
	res.Recipient = &user
	res.Outcome = r.Outcome.String()
	res.Shares = stake
	res.Amount = payout
	return res, nil
}

// ClaimRefund pays (yes + no) / 2 once per position in a voided market.
// A position with nothing to refund is still marked claimed.
func (e *Engine) ClaimRefund(caller uuid.UUID, m *state.Market, pos *state.Position) (event.Result, error) {
	if m.Status() != state.MarketStatusVoided {
		return event.Result{}, fmt.Errorf("market %d is %s: %w", m.ID, m.Status(), errs.ErrMarketNotVoided)
	}
	if err := e.checkPosition(caller, pos); err != nil {
		return event.Result{}, err
	}

	held, err := pmath.CheckedAdd(pos.YesShares, pos.NoShares)
	if err != nil {
		return event.Result{}, fmt.Errorf("shares held on market %d: %w", m.ID, err)
	}
	refund := pmath.VoidRefund(pos.YesShares, pos.NoShares)
	if refund > 0 {
		vault := ledger.MarketVaultKey(m.ID)
		if err := e.checkFloor(vault, refund); err != nil {
			return event.Result{}, err
		}
		if err := e.ledger.Transfer(ledger.Leg{
			From: vault, To: ledger.WalletKey(pos.User), Amount: refund, Type: ledger.JournalTypeRefund,
		}); err != nil {
			return event.Result{}, fmt.Errorf("refund on market %d: %w", m.ID, err)
		}
	}

	pos.Claimed = true

	user := pos.User
	res := marketResult(m)
	res.Recipient = &user
	res.Shares = held
	res.Amount = refund
	return res, nil
}

// ClaimCreatorFee pays the creator rake plus the value of the winning shares
// the creator's liquidity left in the pool.
func (e *Engine) ClaimCreatorFee(caller uuid.UUID, m *state.Market, profile *state.CreatorProfile) (event.Result, error) {
	now := e.clock.Now()

	if err := e.auth.Authorize(caller, m.Creator, RoleCreator); err != nil {
		return event.Result{}, err
	}
	r, err := m.CheckClaimable(now)
	if err != nil {
		return event.Result{}, err
	}
	if r.CreatorFeeClaimed {
		return event.Result{}, errs.ErrCreatorFeeAlreadyClaimed
	}

	prizePool, err := pmath.PrizePool(m.TotalMinted, pmath.FeeSplit{TreasuryFee: r.TreasuryFee, CreatorFee: r.CreatorFee})
	if err != nil {
		return event.Result{}, err
	}
	lpValue, err := pmath.ProRata(m.Reserve(r.Outcome), prizePool, m.TotalMinted)
	if err != nil {
		return event.Result{}, err
	}
	payout, err := pmath.CheckedAdd(r.CreatorFee, lpValue)
	if err != nil {
		return event.Result{}, err
	}
	nextProfile, err := profile.WithFeesEarned(payout)
	if err != nil {
		return event.Result{}, err
	}

	next := *m
	r.CreatorFeeClaimed = true
	if err := next.Enter(r); err != nil {
		return event.Result{}, err
	}

	vault := ledger.MarketVaultKey(m.ID)
	if err := e.checkFloor(vault, payout); err != nil {
		return event.Result{}, err
	}
	if err := e.ledger.Transfer(ledger.Leg{
		From: vault, To: ledger.WalletKey(m.Creator), Amount: payout, Type: ledger.JournalTypeCreatorFee,
	}); err != nil {
		return event.Result{}, fmt.Errorf("creator fee on market %d: %w", m.ID, err)
	}

	*m = next
	*profile = nextProfile

	creator := m.Creator
	res := marketResult(m)
	res.Recipient = &creator
	res.Amount = payout
	res.CreatorFee = r.CreatorFee
	return res, nil
}

// ClaimTreasuryFee pays the frozen treasury rake to the configured treasury.
// Any caller may trigger it.
func (e *Engine) ClaimTreasuryFee(cfg *state.PlatformConfig, m *state.Market) (event.Result, error) {
	now := e.clock.Now()

	r, err := m.CheckClaimable(now)
	if err != nil {
		return event.Result{}, err
	}
	if r.TreasuryFeeClaimed {
		return event.Result{}, errs.ErrTreasuryFeeAlreadyClaimed
	}

	next := *m
	r.TreasuryFeeClaimed = true
	if err := next.Enter(r); err != nil {
		return event.Result{}, err
	}

	vault := ledger.MarketVaultKey(m.ID)
	if err := e.checkFloor(vault, r.TreasuryFee); err != nil {
		return event.Result{}, err
	}
	if err := e.ledger.Transfer(ledger.Leg{
		From: vault, To: ledger.WalletKey(cfg.Treasury), Amount: r.TreasuryFee, Type: ledger.JournalTypeTreasuryFee,
	}); err != nil {
		return event.Result{}, fmt.Errorf("treasury fee on market %d: %w", m.ID, err)
	}

	*m = next

	treasury := cfg.Treasury
	res := marketResult(m)
	res.Recipient = &treasury
	res.Amount = r.TreasuryFee
	res.TreasuryFee = r.TreasuryFee
	return res, nil
}

// CloseMarket reclaims a settled market record and sweeps everything it
// still holds, reserve floor included, to the authority.
func (e *Engine) CloseMarket(caller uuid.UUID, cfg *state.PlatformConfig, m *state.Market) (event.Result, error) {
	now := e.clock.Now()

	if err := e.auth.Authorize(caller, cfg.Authority, RoleAuthority); err != nil {
		return event.Result{}, err
	}
	if err := m.CheckCloseable(); err != nil {
		return event.Result{}, err
	}

	next := *m
	if err := next.Enter(state.Closed{ClosedAt: now, From: m.Status()}); err != nil {
		return event.Result{}, err
	}

	vault := ledger.MarketVaultKey(m.ID)
	swept := e.ledger.Balance(vault)
	if err := e.ledger.Transfer(ledger.Leg{
		From: vault, To: ledger.WalletKey(cfg.Authority), Amount: swept, Type: ledger.JournalTypeRecordClose,
	}); err != nil {
		return event.Result{}, fmt.Errorf("close market %d: %w", m.ID, err)
	}

	*m = next

	authority := cfg.Authority
	res := marketResult(m)
	res.Recipient = &authority
	res.Amount = swept
	return res, nil
}

// ClosePosition reclaims a settled position and returns its reserve floor to
// the owner. A position that still has something to collect must claim it
// first; losers and positions in a closed market close directly.
func (e *Engine) ClosePosition(caller uuid.UUID, m *state.Market, pos *state.Position) (event.Result, error) {
	if pos.User == uuid.Nil {
		return event.Result{}, errs.ErrPositionNotFound
	}
	if err := e.auth.Authorize(caller, pos.User, RoleOwner); err != nil {
		return event.Result{}, err
	}
	if pos.Closed {
		return event.Result{}, errs.ErrPositionClosed
	}
	switch m.Status() {
	case state.MarketStatusResolved, state.MarketStatusVoided, state.MarketStatusClosed:
	default:
		return event.Result{}, fmt.Errorf("market %d is %s: %w", m.ID, m.Status(), errs.ErrMarketNotResolved)
	}
	if !pos.Claimed && payable(m, pos) {
		return event.Result{}, errs.ErrPositionNotClaimed
	}

	record := ledger.PositionRecordKey(pos.Key().EntityID())
	refund := e.ledger.Balance(record)
	if err := e.ledger.Transfer(ledger.Leg{
		From: record, To: ledger.WalletKey(pos.User), Amount: refund, Type: ledger.JournalTypeRecordClose,
	}); err != nil {
		return event.Result{}, fmt.Errorf("close position: %w", err)
	}

	pos.Closed = true

	user, id := pos.User, m.ID
	return event.Result{MarketID: &id, Recipient: &user, Amount: refund}, nil
}

// payable reports whether pos can still collect from m: winning shares in a
// resolved market or a non-zero refund in a voided one. A closed market has
// been swept, so nothing is payable.
func payable(m *state.Market, pos *state.Position) bool {
	switch m.Status() {
	case state.MarketStatusResolved:
		outcome, _ := m.Outcome()
		return pos.Shares(outcome) > 0
	case state.MarketStatusVoided:
		return pmath.VoidRefund(pos.YesShares, pos.NoShares) > 0
	}
	return false
}

// checkPosition gates the per-position claims.
func (e *Engine) checkPosition(caller uuid.UUID, pos *state.Position) error {
	if pos.User == uuid.Nil {
		return errs.ErrPositionNotFound
	}
	if err := e.auth.Authorize(caller, pos.User, RoleOwner); err != nil {
		return err
	}
	if pos.Claimed {
		return errs.ErrAlreadyClaimed
	}
	return nil
}
