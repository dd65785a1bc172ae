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

// StaleVoidReason is recorded when an abandoned market is reclaimed.
const StaleVoidReason = "Auto-voided: unresolved for 30+ days past resolution time"

// Engine implements one operation per lifecycle, trade and claim action.
//
// Every operation follows the same order: authorize, gate, compute the next
// record values on copies, run the ledger transfer as the last fallible step,
// then assign. A returned error leaves every record and balance untouched.
type Engine struct {
	ledger Ledger
	clock  Clock
	auth   AuthorityCheck
}

func NewEngine(l Ledger, clock Clock, auth AuthorityCheck) *Engine {
	if auth == nil {
		auth = IdentityCheck{}
	}
	return &Engine{ledger: l, clock: clock, auth: auth}
}

// CreateMarket opens a market seeded with the creator's liquidity. profile is
// the creator's profile record; a blank one is initialized and its reserve
// floor charged to the creator.
func (e *Engine) CreateMarket(
	caller uuid.UUID,
	cfg *state.PlatformConfig,
	profile *state.CreatorProfile,
	cmd *event.CreateMarket,
) (*state.Market, event.Result, error) {
	now := e.clock.Now()

	if cfg.Paused {
		return nil, event.Result{}, errs.ErrPlatformPaused
	}
	if err := state.ValidateMarketText(cmd.Question, cmd.ResolutionSource); err != nil {
		return nil, event.Result{}, err
	}
	if cmd.ResolutionTimestamp <= now+state.MinResolutionLead {
		return nil, event.Result{}, fmt.Errorf("resolution %d at now %d: %w",
			cmd.ResolutionTimestamp, now, errs.ErrResolutionTooSoon)
	}
	if cmd.Liquidity == 0 {
		return nil, event.Result{}, errs.ErrZeroAmount
	}
	if cmd.Liquidity < cfg.MinLiquidity {
		return nil, event.Result{}, fmt.Errorf("liquidity %d below %d: %w",
			cmd.Liquidity, cfg.MinLiquidity, errs.ErrBelowMinLiquidity)
	}

	nextCount, err := pmath.CheckedAdd(cfg.MarketCount, 1)
	if err != nil {
		return nil, event.Result{}, err
	}

	market := &state.Market{
		ID:                  cfg.MarketCount,
		Creator:             caller,
		Question:            cmd.Question,
		ResolutionSource:    cmd.ResolutionSource,
		YesReserve:          cmd.Liquidity,
		NoReserve:           cmd.Liquidity,
		TotalMinted:         cmd.Liquidity,
		InitialLiquidity:    cmd.Liquidity,
		SwapFeeBps:          cfg.SwapFeeBps,
		TreasuryRakeBps:     cfg.TreasuryRakeBps,
		CreatorRakeBps:      cfg.CreatorRakeBps,
		ResolutionTimestamp: cmd.ResolutionTimestamp,
		CreatedAt:           now,
		Phase:               state.Open{},
	}

	wallet := ledger.WalletKey(caller)
	vault := ledger.MarketVaultKey(market.ID)
	legs := []ledger.Leg{
		{From: wallet, To: vault, Amount: cmd.Liquidity, Type: ledger.JournalTypeMarketSeed},
		{From: wallet, To: vault, Amount: e.ledger.MinimumReserveFloor(ledger.KindMarket), Type: ledger.JournalTypeRecordFloor},
	}

	nextProfile := *profile
	if nextProfile.Creator == uuid.Nil {
		nextProfile = state.NewCreatorProfile(caller)
		legs = append(legs, ledger.Leg{
			From:   wallet,
			To:     ledger.ProfileRecordKey(caller),
			Amount: e.ledger.MinimumReserveFloor(ledger.KindCreatorProfile),
			Type:   ledger.JournalTypeRecordFloor,
		})
	}
	nextProfile = nextProfile.WithCreated()

	if err := e.ledger.Transfer(legs...); err != nil {
		return nil, event.Result{}, fmt.Errorf("seed market %d: %w", market.ID, err)
	}

	cfg.MarketCount = nextCount
	*profile = nextProfile

	res := marketResult(market)
	res.Amount = cmd.Liquidity
	return market, res, nil
}

// Buy mints amount complete sets and swaps the opposite half into side.
// pos may be blank, in which case it is initialized for the caller and its
// reserve floor charged to the buyer.
func (e *Engine) Buy(
	caller uuid.UUID,
	cfg *state.PlatformConfig,
	m *state.Market,
	pos *state.Position,
	side state.Side,
	amount uint64,
) (event.Result, error) {
	now := e.clock.Now()

	if !side.Valid() {
		return event.Result{}, errs.ErrInvalidSide
	}
	if err := m.CheckTradable(cfg, now); err != nil {
		return event.Result{}, err
	}
	if amount == 0 {
		return event.Result{}, errs.ErrZeroAmount
	}
	if amount < cfg.MinTrade {
		return event.Result{}, fmt.Errorf("amount %d below %d: %w", amount, cfg.MinTrade, errs.ErrBelowMinTrade)
	}

	isNew := pos.User == uuid.Nil
	next := *pos
	if isNew {
		next = state.Position{MarketID: m.ID, User: caller, CreatedAt: now}
	} else {
		if err := e.auth.Authorize(caller, pos.User, RoleOwner); err != nil {
			return event.Result{}, err
		}
		if pos.Closed {
			return event.Result{}, errs.ErrPositionClosed
		}
	}

	var trade pmath.Trade
	var err error
	if side == state.SideYes {
		trade, err = pmath.BuyYes(amount, m.YesReserve, m.NoReserve, m.SwapFeeBps)
	} else {
		trade, err = pmath.BuyNo(amount, m.YesReserve, m.NoReserve, m.SwapFeeBps)
	}
	if err != nil {
		return event.Result{}, fmt.Errorf("buy %s on market %d: %w", side, m.ID, err)
	}

	minted, err := pmath.CheckedAdd(m.TotalMinted, amount)
	if err != nil {
		return event.Result{}, err
	}
	next, err = next.WithCredit(side, trade.Amount)
	if err != nil {
		return event.Result{}, err
	}

	wallet := ledger.WalletKey(caller)
	legs := []ledger.Leg{
		{From: wallet, To: ledger.MarketVaultKey(m.ID), Amount: amount, Type: ledger.JournalTypeBuy},
	}
	if isNew {
		legs = append(legs, ledger.Leg{
			From:   wallet,
			To:     ledger.PositionRecordKey(next.Key().EntityID()),
			Amount: e.ledger.MinimumReserveFloor(ledger.KindPosition),
			Type:   ledger.JournalTypeRecordFloor,
		})
	}
	if err := e.ledger.Transfer(legs...); err != nil {
		return event.Result{}, fmt.Errorf("buy on market %d: %w", m.ID, err)
	}

	m.YesReserve, m.NoReserve = trade.YesReserve, trade.NoReserve
	m.TotalMinted = minted
	*pos = next

	res := marketResult(m)
	res.Side = side.String()
	res.Shares = trade.Amount
	res.Amount = amount
	res.Fee = trade.Fee
	return res, nil
}

// Sell burns shares of side back through the pool and pays the caller.
func (e *Engine) Sell(
	caller uuid.UUID,
	cfg *state.PlatformConfig,
	m *state.Market,
	pos *state.Position,
	side state.Side,
	shares uint64,
) (event.Result, error) {
	now := e.clock.Now()

	if !side.Valid() {
		return event.Result{}, errs.ErrInvalidSide
	}
	if shares == 0 {
		return event.Result{}, errs.ErrZeroAmount
	}
	if err := m.CheckTradable(cfg, now); err != nil {
		return event.Result{}, err
	}
	if pos.User == uuid.Nil {
		return event.Result{}, errs.ErrPositionNotFound
	}
	if err := e.auth.Authorize(caller, pos.User, RoleOwner); err != nil {
		return event.Result{}, err
	}

	next, err := pos.WithDebit(side, shares)
	if err != nil {
		return event.Result{}, fmt.Errorf("sell %d %s, holding %d: %w", shares, side, pos.Shares(side), err)
	}

	var trade pmath.Trade
	if side == state.SideYes {
		trade, err = pmath.SellYes(shares, m.YesReserve, m.NoReserve, m.SwapFeeBps)
	} else {
		trade, err = pmath.SellNo(shares, m.YesReserve, m.NoReserve, m.SwapFeeBps)
	}
	if err != nil {
		return event.Result{}, fmt.Errorf("sell %s on market %d: %w", side, m.ID, err)
	}

	minted, err := pmath.CheckedSub(m.TotalMinted, trade.Amount)
	if err != nil {
		return event.Result{}, err
	}

	vault := ledger.MarketVaultKey(m.ID)
	if err := e.checkFloor(vault, trade.Amount); err != nil {
		return event.Result{}, err
	}
	if err := e.ledger.Transfer(ledger.Leg{
		From: vault, To: ledger.WalletKey(caller), Amount: trade.Amount, Type: ledger.JournalTypeSell,
	}); err != nil {
		return event.Result{}, fmt.Errorf("sell on market %d: %w", m.ID, err)
	}

	m.YesReserve, m.NoReserve = trade.YesReserve, trade.NoReserve
	m.TotalMinted = minted
	*pos = next

	res := marketResult(m)
	res.Side = side.String()
	res.Shares = shares
	res.Amount = trade.Amount
	res.Fee = trade.Fee
	return res, nil
}

// Resolve records the outcome and freezes both fees. No value moves.
func (e *Engine) Resolve(
	caller uuid.UUID,
	cfg *state.PlatformConfig,
	m *state.Market,
	profile *state.CreatorProfile,
	outcome state.Side,
) (event.Result, error) {
	now := e.clock.Now()

	if err := e.auth.Authorize(caller, cfg.Authority, RoleAuthority); err != nil {
		return event.Result{}, err
	}
	if !outcome.Valid() {
		return event.Result{}, errs.ErrInvalidSide
	}
	if err := m.CheckResolvable(now); err != nil {
		return event.Result{}, err
	}

	totalPot := m.TotalMinted
	fees, err := pmath.FreezeFees(totalPot, m.TreasuryRakeBps, m.CreatorRakeBps)
	if err != nil {
		return event.Result{}, err
	}
	challengeEnds, err := checkedDeadline(now, cfg.ChallengePeriodSeconds)
	if err != nil {
		return event.Result{}, err
	}
	nextProfile, err := profile.WithResolved(totalPot)
	if err != nil {
		return event.Result{}, err
	}

	next := *m
	if err := next.Enter(state.Resolved{
		Outcome:         outcome,
		ResolvedAt:      now,
		ChallengeEndsAt: challengeEnds,
		TreasuryFee:     fees.TreasuryFee,
		CreatorFee:      fees.CreatorFee,
	}); err != nil {
		return event.Result{}, err
	}

	*m = next
	*profile = nextProfile

	res := marketResult(m)
	res.Outcome = outcome.String()
	res.TotalPot = totalPot
	res.TreasuryFee = fees.TreasuryFee
	res.CreatorFee = fees.CreatorFee
	return res, nil
}

// Void cancels an open market, or a resolved one still inside its challenge
// window. The outcome and frozen fees go away with the Resolved phase.
func (e *Engine) Void(
	caller uuid.UUID,
	cfg *state.PlatformConfig,
	m *state.Market,
	profile *state.CreatorProfile,
	reason string,
) (event.Result, error) {
	now := e.clock.Now()

	if err := e.auth.Authorize(caller, cfg.Authority, RoleAuthority); err != nil {
		return event.Result{}, err
	}
	if err := m.CheckVoidable(now); err != nil {
		return event.Result{}, err
	}

	next := *m
	if err := next.Enter(state.Voided{VoidedAt: now, Reason: reason}); err != nil {
		return event.Result{}, err
	}

	*m = next
	*profile = profile.WithVoided()

	res := marketResult(m)
	res.Reason = reason
	return res, nil
}

// ReclaimStale voids a market nobody resolved within the grace period.
// Anyone may call it.
func (e *Engine) ReclaimStale(m *state.Market) (event.Result, error) {
	now := e.clock.Now()

	if err := m.CheckStale(now); err != nil {
		return event.Result{}, err
	}

	next := *m
	if err := next.Enter(state.Voided{VoidedAt: now, Reason: StaleVoidReason}); err != nil {
		return event.Result{}, err
	}
	*m = next

	res := marketResult(m)
	res.Reason = StaleVoidReason
	return res, nil
}

// checkFloor fails when paying payout out of key would leave less than the
// record's reserve floor.
func (e *Engine) checkFloor(key ledger.AccountKey, payout uint64) error {
	balance := e.ledger.Balance(key)
	floor := e.ledger.MinimumReserveFloor(key.Kind)
	if balance < payout || balance-payout < floor {
		return fmt.Errorf("%s holds %d, paying %d leaves less than %d: %w",
			key.AccountPath(), balance, payout, floor, errs.ErrInsufficientRentBalance)
	}
	return nil
}

func checkedDeadline(start, period int64) (int64, error) {
	end := start + period
	if period < 0 || end < start {
		return 0, errs.ErrMathOverflow
	}
	return end, nil
}

func marketResult(m *state.Market) event.Result {
	id := m.ID
	return event.Result{
		MarketID:    &id,
		YesReserve:  m.YesReserve,
		NoReserve:   m.NoReserve,
		PriceYesBps: pmath.PriceYesBps(m.YesReserve, m.NoReserve),
	}
}
