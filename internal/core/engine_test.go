package core_test

import (
	"errors"
	"strings"
	"testing"

	"PredictLedger/internal/core"
	"PredictLedger/internal/errs"
	"PredictLedger/internal/event"
	"PredictLedger/internal/ledger"
	"PredictLedger/internal/state"

	"github.com/google/uuid"
)

const (
	t0        int64 = 1_700_000_000
	resolveAt       = t0 + 86_400
	challenge int64 = 86_400
	cutoff    int64 = 3_600

	seed uint64 = 1_000_000_000
)

// fixture wires an Engine to an in-memory tracker with a funded cast.
type fixture struct {
	t       *testing.T
	tracker *ledger.BalanceTracker
	clock   *core.FixedClock
	engine  *core.Engine
	cfg     *state.PlatformConfig
	floors  map[ledger.RecordKind]uint64

	authority uuid.UUID
	treasury  uuid.UUID
	creator   uuid.UUID
	alice     uuid.UUID
	bob       uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	floors := core.DefaultFloors()
	tracker := ledger.NewBalanceTracker(floors)
	clock := &core.FixedClock{At: t0}
	f := &fixture{
		t:         t,
		tracker:   tracker,
		clock:     clock,
		engine:    core.NewEngine(tracker, clock, nil),
		floors:    floors,
		authority: uuid.MustParse("00000000-0000-0000-0000-00000000000a"),
		treasury:  uuid.MustParse("00000000-0000-0000-0000-00000000000b"),
		creator:   uuid.MustParse("00000000-0000-0000-0000-00000000000c"),
		alice:     uuid.MustParse("00000000-0000-0000-0000-0000000000a1"),
		bob:       uuid.MustParse("00000000-0000-0000-0000-0000000000b0"),
	}

	f.fund(f.authority, floors[ledger.KindConfig])
	f.fund(f.creator, 2*seed)
	f.fund(f.alice, seed)
	f.fund(f.bob, seed)

	cfg, _, err := f.engine.InitializeConfig(f.authority, nil, state.PlatformConfig{
		Treasury:               f.treasury,
		MinLiquidity:           1_000_000,
		MinTrade:               1_000,
		TreasuryRakeBps:        200,
		CreatorRakeBps:         100,
		SwapFeeBps:             30,
		BettingCutoffSeconds:   cutoff,
		ChallengePeriodSeconds: challenge,
	})
	if err != nil {
		t.Fatalf("InitializeConfig: %v", err)
	}
	f.cfg = &cfg
	return f
}

func (f *fixture) fund(owner uuid.UUID, amount uint64) {
	f.t.Helper()
	if _, err := f.engine.Deposit(owner, amount); err != nil {
		f.t.Fatalf("deposit: %v", err)
	}
}

func (f *fixture) wallet(owner uuid.UUID) uint64 {
	return f.tracker.Balance(ledger.WalletKey(owner))
}

func (f *fixture) vault(m *state.Market) uint64 {
	return f.tracker.Balance(ledger.MarketVaultKey(m.ID))
}

func (f *fixture) assertConservation() {
	f.t.Helper()
	if err := ledger.NewInvariantValidator(f.tracker).ValidateConservation(); err != nil {
		f.t.Fatalf("conservation: %v", err)
	}
}

func createCmd() *event.CreateMarket {
	return &event.CreateMarket{
		Question:            "Will it rain in Hanoi tomorrow?",
		ResolutionSource:    "https://weather.example.com/hanoi",
		ResolutionTimestamp: resolveAt,
		Liquidity:           seed,
	}
}

func (f *fixture) mustCreate(profile *state.CreatorProfile) *state.Market {
	f.t.Helper()
	m, _, err := f.engine.CreateMarket(f.creator, f.cfg, profile, createCmd())
	if err != nil {
		f.t.Fatalf("CreateMarket: %v", err)
	}
	return m
}

func (f *fixture) mustBuy(user uuid.UUID, m *state.Market, pos *state.Position, side state.Side, amount uint64) event.Result {
	f.t.Helper()
	res, err := f.engine.Buy(user, f.cfg, m, pos, side, amount)
	if err != nil {
		f.t.Fatalf("Buy: %v", err)
	}
	return res
}

// scenario creates a market, then Alice buys YES for 1e8 and Bob buys NO for
// 5e7.
type scenario struct {
	*fixture
	market   *state.Market
	profile  *state.CreatorProfile
	alicePos *state.Position
	bobPos   *state.Position
}

func newScenario(t *testing.T) *scenario {
	f := newFixture(t)
	s := &scenario{fixture: f, profile: &state.CreatorProfile{}, alicePos: &state.Position{}, bobPos: &state.Position{}}
	s.market = f.mustCreate(s.profile)
	f.mustBuy(f.alice, s.market, s.alicePos, state.SideYes, 100_000_000)
	f.mustBuy(f.bob, s.market, s.bobPos, state.SideNo, 50_000_000)
	return s
}

func (s *scenario) mustResolve(outcome state.Side) {
	s.t.Helper()
	s.clock.At = resolveAt
	if _, err := s.engine.Resolve(s.authority, s.cfg, s.market, s.profile, outcome); err != nil {
		s.t.Fatalf("Resolve: %v", err)
	}
}

// ============================================================================
// Test: Platform Config
// ============================================================================

func TestInitializeConfig_OnlyOnce(t *testing.T) {
	f := newFixture(t)

	if f.cfg.Authority != f.authority {
		t.Errorf("authority = %s, want %s", f.cfg.Authority, f.authority)
	}
	if got := f.tracker.Balance(ledger.ConfigRecordKey()); got != f.floors[ledger.KindConfig] {
		t.Errorf("config record holds %d, want floor %d", got, f.floors[ledger.KindConfig])
	}

	_, _, err := f.engine.InitializeConfig(f.authority, f.cfg, *f.cfg)
	if !errors.Is(err, errs.ErrConfigExists) {
		t.Fatalf("expected ErrConfigExists, got %v", err)
	}
}

func TestInitializeConfig_RejectsRakeAboveTotal(t *testing.T) {
	f := newFixture(t)
	f.fund(f.bob, f.floors[ledger.KindConfig])

	_, _, err := f.engine.InitializeConfig(f.bob, nil, state.PlatformConfig{
		Treasury:               f.treasury,
		MinTrade:               1,
		TreasuryRakeBps:        6_000,
		CreatorRakeBps:         5_000,
		BettingCutoffSeconds:   1,
		ChallengePeriodSeconds: 1,
	})
	if !errors.Is(err, errs.ErrInvalidRakeBps) {
		t.Fatalf("expected ErrInvalidRakeBps, got %v", err)
	}
}

func TestUpdateConfig_RequiresAuthority(t *testing.T) {
	f := newFixture(t)
	fee := uint16(50)

	_, err := f.engine.UpdateConfig(f.alice, f.cfg, state.ConfigUpdate{SwapFeeBps: &fee})
	if !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if f.cfg.SwapFeeBps != 30 {
		t.Errorf("swap fee changed to %d on rejected update", f.cfg.SwapFeeBps)
	}

	if _, err := f.engine.UpdateConfig(f.authority, f.cfg, state.ConfigUpdate{SwapFeeBps: &fee}); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if f.cfg.SwapFeeBps != 50 {
		t.Errorf("swap fee = %d, want 50", f.cfg.SwapFeeBps)
	}
}

func TestUpdateConfig_InvalidLeavesConfigUntouched(t *testing.T) {
	f := newFixture(t)
	before := *f.cfg
	rake := uint16(9_900)

	_, err := f.engine.UpdateConfig(f.authority, f.cfg, state.ConfigUpdate{TreasuryRakeBps: &rake})
	if !errors.Is(err, errs.ErrInvalidRakeBps) {
		t.Fatalf("expected ErrInvalidRakeBps, got %v", err)
	}
	if *f.cfg != before {
		t.Errorf("config changed on rejected update: %+v", *f.cfg)
	}
}

func TestTogglePause_BlocksTradingAndCreation(t *testing.T) {
	f := newFixture(t)
	m := f.mustCreate(&state.CreatorProfile{})

	res, err := f.engine.TogglePause(f.authority, f.cfg)
	if err != nil {
		t.Fatalf("TogglePause: %v", err)
	}
	if res.Paused == nil || !*res.Paused {
		t.Fatalf("expected paused=true in result, got %+v", res.Paused)
	}

	if _, err := f.engine.Buy(f.alice, f.cfg, m, &state.Position{}, state.SideYes, 10_000); !errors.Is(err, errs.ErrPlatformPaused) {
		t.Errorf("Buy: expected ErrPlatformPaused, got %v", err)
	}
	if _, _, err := f.engine.CreateMarket(f.creator, f.cfg, &state.CreatorProfile{}, createCmd()); !errors.Is(err, errs.ErrPlatformPaused) {
		t.Errorf("CreateMarket: expected ErrPlatformPaused, got %v", err)
	}

	if _, err := f.engine.TogglePause(f.authority, f.cfg); err != nil {
		t.Fatalf("TogglePause: %v", err)
	}
	f.mustBuy(f.alice, m, &state.Position{}, state.SideYes, 10_000)
}

func TestTransferAuthority(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.TransferAuthority(f.authority, f.cfg, uuid.Nil); !errors.Is(err, errs.ErrInvalidConfigParam) {
		t.Fatalf("expected ErrInvalidConfigParam for nil authority, got %v", err)
	}
	if _, err := f.engine.TransferAuthority(f.authority, f.cfg, f.bob); err != nil {
		t.Fatalf("TransferAuthority: %v", err)
	}
	if _, err := f.engine.TogglePause(f.authority, f.cfg); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("old authority: expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.engine.TogglePause(f.bob, f.cfg); err != nil {
		t.Errorf("new authority: %v", err)
	}
}

// ============================================================================
// Test: Wallets
// ============================================================================

func TestDepositWithdraw(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.Deposit(f.alice, 0); !errors.Is(err, errs.ErrZeroAmount) {
		t.Errorf("zero deposit: expected ErrZeroAmount, got %v", err)
	}
	if _, err := f.engine.Withdraw(f.alice, seed+1); !errors.Is(err, errs.ErrInsufficientBalance) {
		t.Errorf("overdraw: expected ErrInsufficientBalance, got %v", err)
	}
	if _, err := f.engine.Withdraw(f.alice, 400); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if got := f.wallet(f.alice); got != seed-400 {
		t.Errorf("wallet = %d, want %d", got, seed-400)
	}
	f.assertConservation()
}

// ============================================================================
// Test: Market Creation
// ============================================================================

func TestCreateMarket_SeedsPoolAndChargesFloors(t *testing.T) {
	f := newFixture(t)
	profile := &state.CreatorProfile{}

	m, res, err := f.engine.CreateMarket(f.creator, f.cfg, profile, createCmd())
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}

	if m.ID != 0 || f.cfg.MarketCount != 1 {
		t.Errorf("id=%d count=%d, want 0 and 1", m.ID, f.cfg.MarketCount)
	}
	if m.YesReserve != seed || m.NoReserve != seed || m.TotalMinted != seed {
		t.Errorf("reserves %d/%d minted %d, want %d each", m.YesReserve, m.NoReserve, m.TotalMinted, seed)
	}
	if m.Status() != state.MarketStatusOpen {
		t.Errorf("status = %s, want Open", m.Status())
	}
	if m.SwapFeeBps != 30 || m.TreasuryRakeBps != 200 || m.CreatorRakeBps != 100 {
		t.Errorf("fee snapshots %d/%d/%d", m.SwapFeeBps, m.TreasuryRakeBps, m.CreatorRakeBps)
	}
	if res.PriceYesBps != 5_000 {
		t.Errorf("price = %d bps, want 5000", res.PriceYesBps)
	}

	marketFloor, profileFloor := f.floors[ledger.KindMarket], f.floors[ledger.KindCreatorProfile]
	if got := f.vault(m); got != seed+marketFloor {
		t.Errorf("vault = %d, want %d", got, seed+marketFloor)
	}
	if got := f.tracker.Balance(ledger.ProfileRecordKey(f.creator)); got != profileFloor {
		t.Errorf("profile record = %d, want %d", got, profileFloor)
	}
	if got, want := f.wallet(f.creator), 2*seed-seed-marketFloor-profileFloor; got != want {
		t.Errorf("creator wallet = %d, want %d", got, want)
	}

	if profile.Creator != f.creator || profile.MarketsCreated != 1 || profile.ReputationScore != state.InitialReputation {
		t.Errorf("profile = %+v", *profile)
	}
	f.assertConservation()
}

func TestCreateMarket_ExistingProfileSkipsFloor(t *testing.T) {
	f := newFixture(t)
	f.fund(f.creator, seed)
	profile := &state.CreatorProfile{}
	f.mustCreate(profile)
	before := f.wallet(f.creator)

	m := f.mustCreate(profile)

	if m.ID != 1 {
		t.Errorf("second market id = %d, want 1", m.ID)
	}
	if got, want := before-f.wallet(f.creator), seed+f.floors[ledger.KindMarket]; got != want {
		t.Errorf("second creation cost %d, want %d", got, want)
	}
	if profile.MarketsCreated != 2 {
		t.Errorf("markets created = %d, want 2", profile.MarketsCreated)
	}
}

func TestCreateMarket_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*event.CreateMarket)
		want   error
	}{
		{"question too long", func(c *event.CreateMarket) { c.Question = strings.Repeat("q", state.MaxQuestionLen+1) }, errs.ErrQuestionTooLong},
		{"source too long", func(c *event.CreateMarket) { c.ResolutionSource = "https://" + strings.Repeat("s", state.MaxSourceLen) }, errs.ErrSourceTooLong},
		{"source not a url", func(c *event.CreateMarket) { c.ResolutionSource = "ftp://weather" }, errs.ErrInvalidSourceURL},
		{"resolution too soon", func(c *event.CreateMarket) { c.ResolutionTimestamp = t0 + state.MinResolutionLead }, errs.ErrResolutionTooSoon},
		{"zero liquidity", func(c *event.CreateMarket) { c.Liquidity = 0 }, errs.ErrZeroAmount},
		{"below min liquidity", func(c *event.CreateMarket) { c.Liquidity = 999_999 }, errs.ErrBelowMinLiquidity},
		{"unaffordable", func(c *event.CreateMarket) { c.Liquidity = 3 * seed }, errs.ErrInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			cmd := createCmd()
			tt.mutate(cmd)
			profile := &state.CreatorProfile{}
			before := f.wallet(f.creator)

			_, _, err := f.engine.CreateMarket(f.creator, f.cfg, profile, cmd)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if f.wallet(f.creator) != before || f.cfg.MarketCount != 0 || profile.Creator != uuid.Nil {
				t.Errorf("rejected creation changed state")
			}
		})
	}
}

func TestCreateMarket_TextAtLimitsAccepted(t *testing.T) {
	f := newFixture(t)
	cmd := createCmd()
	cmd.Question = strings.Repeat("q", state.MaxQuestionLen)
	cmd.ResolutionSource = "https://" + strings.Repeat("s", state.MaxSourceLen-len("https://"))
	cmd.ResolutionTimestamp = t0 + state.MinResolutionLead + 1

	if _, _, err := f.engine.CreateMarket(f.creator, f.cfg, &state.CreatorProfile{}, cmd); err != nil {
		t.Fatalf("CreateMarket at limits: %v", err)
	}
}

// ============================================================================
// Test: Trading
// ============================================================================

func TestBuy_Yes(t *testing.T) {
	f := newFixture(t)
	m := f.mustCreate(&state.CreatorProfile{})
	pos := &state.Position{}

	res := f.mustBuy(f.alice, m, pos, state.SideYes, 100_000_000)

	if res.Shares != 190_636_364 || res.Fee != 272_727 {
		t.Errorf("shares=%d fee=%d, want 190636364 and 272727", res.Shares, res.Fee)
	}
	if m.YesReserve != 909_363_636 || m.NoReserve != 1_100_000_000 {
		t.Errorf("reserves %d/%d", m.YesReserve, m.NoReserve)
	}
	if m.TotalMinted != 1_100_000_000 {
		t.Errorf("total minted = %d", m.TotalMinted)
	}
	if res.PriceYesBps != 5_474 {
		t.Errorf("price = %d bps, want 5474", res.PriceYesBps)
	}
	if pos.User != f.alice || pos.MarketID != m.ID || pos.YesShares != 190_636_364 || pos.NoShares != 0 {
		t.Errorf("position = %+v", *pos)
	}

	posFloor := f.floors[ledger.KindPosition]
	if got := f.tracker.Balance(ledger.PositionRecordKey(pos.Key().EntityID())); got != posFloor {
		t.Errorf("position record = %d, want floor %d", got, posFloor)
	}
	if got, want := f.wallet(f.alice), seed-100_000_000-posFloor; got != want {
		t.Errorf("alice wallet = %d, want %d", got, want)
	}
	f.assertConservation()
}

func TestBuy_SecondBuyReusesPosition(t *testing.T) {
	f := newFixture(t)
	m := f.mustCreate(&state.CreatorProfile{})
	pos := &state.Position{}
	f.mustBuy(f.alice, m, pos, state.SideYes, 10_000)
	before := f.wallet(f.alice)

	f.mustBuy(f.alice, m, pos, state.SideNo, 10_000)

	if got := before - f.wallet(f.alice); got != 10_000 {
		t.Errorf("second buy cost %d, want 10000 with no floor", got)
	}
	if pos.YesShares == 0 || pos.NoShares == 0 {
		t.Errorf("position should hold both sides: %+v", *pos)
	}
}

func TestBuy_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		side   state.Side
		amount uint64
		at     int64
		want   error
	}{
		{"invalid side", state.Side(7), 10_000, t0, errs.ErrInvalidSide},
		{"zero amount", state.SideYes, 0, t0, errs.ErrZeroAmount},
		{"below min trade", state.SideYes, 999, t0, errs.ErrBelowMinTrade},
		{"at cutoff", state.SideYes, 10_000, resolveAt - cutoff, errs.ErrBettingClosed},
		{"unaffordable", state.SideNo, 2 * seed, t0, errs.ErrInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			m := f.mustCreate(&state.CreatorProfile{})
			before := *m
			pos := &state.Position{}
			f.clock.At = tt.at

			_, err := f.engine.Buy(f.alice, f.cfg, m, pos, tt.side, tt.amount)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if m.YesReserve != before.YesReserve || m.NoReserve != before.NoReserve || m.TotalMinted != before.TotalMinted {
				t.Errorf("rejected buy moved the pool")
			}
			if pos.User != uuid.Nil || f.wallet(f.alice) != seed {
				t.Errorf("rejected buy changed position or wallet")
			}
		})
	}
}

func TestBuy_JustBeforeCutoffAccepted(t *testing.T) {
	f := newFixture(t)
	m := f.mustCreate(&state.CreatorProfile{})
	f.clock.At = resolveAt - cutoff - 1

	f.mustBuy(f.alice, m, &state.Position{}, state.SideYes, 10_000)
}

func TestBuy_OtherUsersPosition(t *testing.T) {
	f := newFixture(t)
	m := f.mustCreate(&state.CreatorProfile{})
	pos := &state.Position{}
	f.mustBuy(f.alice, m, pos, state.SideYes, 10_000)

	_, err := f.engine.Buy(f.bob, f.cfg, m, pos, state.SideYes, 10_000)
	if !errors.Is(err, errs.ErrNotPositionOwner) {
		t.Fatalf("expected ErrNotPositionOwner, got %v", err)
	}
}

func TestSell_RoundTrip(t *testing.T) {
	f := newFixture(t)
	m := f.mustCreate(&state.CreatorProfile{})
	pos := &state.Position{}
	f.mustBuy(f.alice, m, pos, state.SideYes, 100_000_000)
	before := f.wallet(f.alice)

	res, err := f.engine.Sell(f.alice, f.cfg, m, pos, state.SideYes, 190_636_364)
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}

	if res.Amount != 99_550_462 || res.Fee != 299_550 {
		t.Errorf("out=%d fee=%d, want 99550462 and 299550", res.Amount, res.Fee)
	}
	if m.YesReserve != 1_000_149_988 || m.NoReserve != 1_000_149_988 {
		t.Errorf("reserves %d/%d, want 1000149988 each", m.YesReserve, m.NoReserve)
	}
	if m.TotalMinted != 1_100_000_000-99_550_462 {
		t.Errorf("total minted = %d", m.TotalMinted)
	}
	if pos.YesShares != 0 {
		t.Errorf("yes shares = %d, want 0", pos.YesShares)
	}
	if got := f.wallet(f.alice) - before; got != 99_550_462 {
		t.Errorf("alice received %d", got)
	}
	f.assertConservation()
}

func TestSell_Rejections(t *testing.T) {
	f := newFixture(t)
	m := f.mustCreate(&state.CreatorProfile{})
	pos := &state.Position{}
	f.mustBuy(f.alice, m, pos, state.SideYes, 10_000)

	if _, err := f.engine.Sell(f.alice, f.cfg, m, pos, state.SideYes, 0); !errors.Is(err, errs.ErrZeroAmount) {
		t.Errorf("zero shares: expected ErrZeroAmount, got %v", err)
	}
	if _, err := f.engine.Sell(f.alice, f.cfg, m, pos, state.SideNo, 1); !errors.Is(err, errs.ErrInsufficientShares) {
		t.Errorf("no NO shares: expected ErrInsufficientShares, got %v", err)
	}
	if _, err := f.engine.Sell(f.bob, f.cfg, m, pos, state.SideYes, 1); !errors.Is(err, errs.ErrNotPositionOwner) {
		t.Errorf("foreign position: expected ErrNotPositionOwner, got %v", err)
	}
	if _, err := f.engine.Sell(f.bob, f.cfg, m, &state.Position{}, state.SideYes, 1); !errors.Is(err, errs.ErrPositionNotFound) {
		t.Errorf("blank position: expected ErrPositionNotFound, got %v", err)
	}
}

// ============================================================================
// Test: Resolution
// ============================================================================

func TestResolve_FreezesFees(t *testing.T) {
	s := newScenario(t)
	if s.market.TotalMinted != 1_150_000_000 {
		t.Fatalf("total minted = %d, want 1150000000", s.market.TotalMinted)
	}

	s.clock.At = resolveAt
	res, err := s.engine.Resolve(s.authority, s.cfg, s.market, s.profile, state.SideYes)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if res.TreasuryFee != 23_000_000 || res.CreatorFee != 11_500_000 || res.TotalPot != 1_150_000_000 {
		t.Errorf("fees %d/%d pot %d", res.TreasuryFee, res.CreatorFee, res.TotalPot)
	}
	r, ok := s.market.Resolution()
	if !ok {
		t.Fatalf("market is %s, want Resolved", s.market.Status())
	}
	if r.Outcome != state.SideYes || r.ResolvedAt != resolveAt || r.ChallengeEndsAt != resolveAt+challenge {
		t.Errorf("resolution = %+v", r)
	}
	if s.profile.MarketsResolved != 1 || s.profile.TotalVolumeGenerated != 1_150_000_000 {
		t.Errorf("profile = %+v", *s.profile)
	}
}

func TestResolve_UsesRakeSnapshotFromCreation(t *testing.T) {
	s := newScenario(t)
	rake := uint16(1_000)
	if _, err := s.engine.UpdateConfig(s.authority, s.cfg, state.ConfigUpdate{TreasuryRakeBps: &rake}); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	s.mustResolve(state.SideYes)

	r, _ := s.market.Resolution()
	if r.TreasuryFee != 23_000_000 {
		t.Errorf("treasury fee = %d, want 23000000 from the 200 bps snapshot", r.TreasuryFee)
	}
}

func TestResolve_Rejections(t *testing.T) {
	s := newScenario(t)

	s.clock.At = resolveAt - 1
	if _, err := s.engine.Resolve(s.authority, s.cfg, s.market, s.profile, state.SideYes); !errors.Is(err, errs.ErrMarketNotReady) {
		t.Errorf("early: expected ErrMarketNotReady, got %v", err)
	}
	s.clock.At = resolveAt
	if _, err := s.engine.Resolve(s.creator, s.cfg, s.market, s.profile, state.SideYes); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("creator: expected ErrUnauthorized, got %v", err)
	}
	if _, err := s.engine.Resolve(s.authority, s.cfg, s.market, s.profile, state.Side(0)); !errors.Is(err, errs.ErrInvalidSide) {
		t.Errorf("bad outcome: expected ErrInvalidSide, got %v", err)
	}

	s.mustResolve(state.SideNo)
	if _, err := s.engine.Resolve(s.authority, s.cfg, s.market, s.profile, state.SideYes); !errors.Is(err, errs.ErrMarketNotOpen) {
		t.Errorf("twice: expected ErrMarketNotOpen, got %v", err)
	}
	if _, err := s.engine.Buy(s.alice, s.cfg, s.market, s.alicePos, state.SideYes, 10_000); !errors.Is(err, errs.ErrMarketNotOpen) {
		t.Errorf("buy after resolve: expected ErrMarketNotOpen, got %v", err)
	}
}

// ============================================================================
// Test: Claims
// ============================================================================

func TestClaimWinnings(t *testing.T) {
	s := newScenario(t)
	s.mustResolve(state.SideYes)

	s.clock.At = resolveAt + challenge - 1
	if _, err := s.engine.ClaimWinnings(s.alice, s.market, s.alicePos); !errors.Is(err, errs.ErrChallengePeriodActive) {
		t.Fatalf("inside window: expected ErrChallengePeriodActive, got %v", err)
	}

	s.clock.At = resolveAt + challenge
	before := s.wallet(s.alice)
	res, err := s.engine.ClaimWinnings(s.alice, s.market, s.alicePos)
	if err != nil {
		t.Fatalf("ClaimWinnings: %v", err)
	}
	if res.Amount != 184_917_273 {
		t.Errorf("payout = %d, want 184917273", res.Amount)
	}
	if got := s.wallet(s.alice) - before; got != 184_917_273 {
		t.Errorf("alice received %d", got)
	}
	if !s.alicePos.Claimed {
		t.Errorf("position not marked claimed")
	}

	if _, err := s.engine.ClaimWinnings(s.alice, s.market, s.alicePos); !errors.Is(err, errs.ErrAlreadyClaimed) {
		t.Errorf("second claim: expected ErrAlreadyClaimed, got %v", err)
	}
	if _, err := s.engine.ClaimWinnings(s.bob, s.market, s.bobPos); !errors.Is(err, errs.ErrNotAWinner) {
		t.Errorf("loser: expected ErrNotAWinner, got %v", err)
	}
	if _, err := s.engine.ClaimWinnings(s.bob, s.market, s.alicePos); !errors.Is(err, errs.ErrNotPositionOwner) {
		t.Errorf("foreign position: expected ErrNotPositionOwner, got %v", err)
	}
	s.assertConservation()
}

func TestClaimCreatorFee(t *testing.T) {
	s := newScenario(t)
	s.mustResolve(state.SideYes)
	s.clock.At = resolveAt + challenge

	if _, err := s.engine.ClaimCreatorFee(s.alice, s.market, s.profile); !errors.Is(err, errs.ErrNotMarketCreator) {
		t.Fatalf("non-creator: expected ErrNotMarketCreator, got %v", err)
	}

	before := s.wallet(s.creator)
	res, err := s.engine.ClaimCreatorFee(s.creator, s.market, s.profile)
	if err != nil {
		t.Fatalf("ClaimCreatorFee: %v", err)
	}
	want := uint64(11_500_000 + 930_582_726)
	if res.Amount != want {
		t.Errorf("payout = %d, want %d", res.Amount, want)
	}
	if got := s.wallet(s.creator) - before; got != want {
		t.Errorf("creator received %d", got)
	}
	if s.profile.TotalFeesEarned != want {
		t.Errorf("fees earned = %d", s.profile.TotalFeesEarned)
	}
	if r, _ := s.market.Resolution(); !r.CreatorFeeClaimed {
		t.Errorf("creator fee flag not set")
	}

	if _, err := s.engine.ClaimCreatorFee(s.creator, s.market, s.profile); !errors.Is(err, errs.ErrCreatorFeeAlreadyClaimed) {
		t.Errorf("second claim: expected ErrCreatorFeeAlreadyClaimed, got %v", err)
	}
}

func TestClaimTreasuryFee_AnyCaller(t *testing.T) {
	s := newScenario(t)
	s.mustResolve(state.SideNo)
	s.clock.At = resolveAt + challenge

	res, err := s.engine.ClaimTreasuryFee(s.cfg, s.market)
	if err != nil {
		t.Fatalf("ClaimTreasuryFee: %v", err)
	}
	if res.Amount != 23_000_000 || s.wallet(s.treasury) != 23_000_000 {
		t.Errorf("treasury paid %d, wallet %d", res.Amount, s.wallet(s.treasury))
	}
	if _, err := s.engine.ClaimTreasuryFee(s.cfg, s.market); !errors.Is(err, errs.ErrTreasuryFeeAlreadyClaimed) {
		t.Errorf("second claim: expected ErrTreasuryFeeAlreadyClaimed, got %v", err)
	}
}

func TestSettlement_PaysOutWithoutBreachingFloor(t *testing.T) {
	s := newScenario(t)
	s.mustResolve(state.SideYes)
	s.clock.At = resolveAt + challenge

	if _, err := s.engine.ClaimWinnings(s.alice, s.market, s.alicePos); err != nil {
		t.Fatalf("ClaimWinnings: %v", err)
	}
	if _, err := s.engine.ClaimCreatorFee(s.creator, s.market, s.profile); err != nil {
		t.Fatalf("ClaimCreatorFee: %v", err)
	}
	if _, err := s.engine.ClaimTreasuryFee(s.cfg, s.market); err != nil {
		t.Fatalf("ClaimTreasuryFee: %v", err)
	}

	// 184917273 + 942082726 + 23000000 = 1149999999 of 1150000000 deposited.
	marketFloor := s.floors[ledger.KindMarket]
	if got := s.vault(s.market); got != marketFloor+1 {
		t.Errorf("vault = %d, want floor+1 = %d", got, marketFloor+1)
	}

	before := s.wallet(s.authority)
	res, err := s.engine.CloseMarket(s.authority, s.cfg, s.market)
	if err != nil {
		t.Fatalf("CloseMarket: %v", err)
	}
	if res.Amount != marketFloor+1 || s.wallet(s.authority)-before != marketFloor+1 {
		t.Errorf("swept %d", res.Amount)
	}
	if s.vault(s.market) != 0 || s.market.Status() != state.MarketStatusClosed {
		t.Errorf("vault %d status %s after close", s.vault(s.market), s.market.Status())
	}
	s.assertConservation()
}

func TestCloseMarket_Rejections(t *testing.T) {
	s := newScenario(t)

	if _, err := s.engine.CloseMarket(s.authority, s.cfg, s.market); !errors.Is(err, errs.ErrMarketNotCloseable) {
		t.Errorf("open: expected ErrMarketNotCloseable, got %v", err)
	}
	s.mustResolve(state.SideYes)
	s.clock.At = resolveAt + challenge
	if _, err := s.engine.ClaimTreasuryFee(s.cfg, s.market); err != nil {
		t.Fatalf("ClaimTreasuryFee: %v", err)
	}
	if _, err := s.engine.CloseMarket(s.authority, s.cfg, s.market); !errors.Is(err, errs.ErrMarketNotCloseable) {
		t.Errorf("creator fee unclaimed: expected ErrMarketNotCloseable, got %v", err)
	}
	if _, err := s.engine.CloseMarket(s.creator, s.cfg, s.market); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("creator: expected ErrUnauthorized, got %v", err)
	}
}

// ============================================================================
// Test: Void
// ============================================================================

func TestVoid_RefundsHalfOfEveryShare(t *testing.T) {
	s := newScenario(t)
	s.clock.At = t0 + 100

	if _, err := s.engine.Void(s.authority, s.cfg, s.market, s.profile, "source went offline"); err != nil {
		t.Fatalf("Void: %v", err)
	}
	if s.profile.MarketsVoided != 1 || s.profile.ReputationScore != state.InitialReputation-state.VoidPenalty {
		t.Errorf("profile = %+v", *s.profile)
	}

	res, err := s.engine.ClaimRefund(s.alice, s.market, s.alicePos)
	if err != nil {
		t.Fatalf("ClaimRefund alice: %v", err)
	}
	if res.Amount != 95_318_182 {
		t.Errorf("alice refund = %d, want 95318182", res.Amount)
	}
	if want := s.alicePos.YesShares + s.alicePos.NoShares; res.Shares != want {
		t.Errorf("alice shares reported = %d, want %d", res.Shares, want)
	}
	res, err = s.engine.ClaimRefund(s.bob, s.market, s.bobPos)
	if err != nil {
		t.Fatalf("ClaimRefund bob: %v", err)
	}
	if res.Amount != 53_578_840 {
		t.Errorf("bob refund = %d, want 53578840", res.Amount)
	}

	if _, err := s.engine.ClaimRefund(s.alice, s.market, s.alicePos); !errors.Is(err, errs.ErrAlreadyClaimed) {
		t.Errorf("second refund: expected ErrAlreadyClaimed, got %v", err)
	}
	if _, err := s.engine.ClaimWinnings(s.alice, s.market, s.alicePos); !errors.Is(err, errs.ErrMarketNotResolved) {
		t.Errorf("winnings on voided: expected ErrMarketNotResolved, got %v", err)
	}
	s.assertConservation()
}

func TestVoid_InsideChallengeWindow(t *testing.T) {
	s := newScenario(t)
	s.mustResolve(state.SideYes)

	s.clock.At = resolveAt + challenge - 1
	if _, err := s.engine.Void(s.authority, s.cfg, s.market, s.profile, "disputed"); err != nil {
		t.Fatalf("Void inside window: %v", err)
	}
	if _, ok := s.market.Resolution(); ok {
		t.Errorf("resolution survived the void")
	}
	if _, err := s.engine.ClaimRefund(s.bob, s.market, s.bobPos); err != nil {
		t.Errorf("ClaimRefund: %v", err)
	}
}

func TestVoid_ChallengeEndFixedAtResolution(t *testing.T) {
	s := newScenario(t)
	s.mustResolve(state.SideYes)

	longer := 10 * challenge
	if _, err := s.engine.UpdateConfig(s.authority, s.cfg, state.ConfigUpdate{ChallengePeriodSeconds: &longer}); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	s.clock.At = resolveAt + challenge
	if _, err := s.engine.Void(s.authority, s.cfg, s.market, s.profile, "late"); !errors.Is(err, errs.ErrMarketNotVoidable) {
		t.Errorf("after window: expected ErrMarketNotVoidable, got %v", err)
	}
	if _, err := s.engine.ClaimWinnings(s.alice, s.market, s.alicePos); err != nil {
		t.Errorf("claim at original window end: %v", err)
	}
}

func TestVoid_RequiresAuthority(t *testing.T) {
	s := newScenario(t)
	if _, err := s.engine.Void(s.creator, s.cfg, s.market, s.profile, "mine"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestReclaimStale(t *testing.T) {
	s := newScenario(t)

	s.clock.At = resolveAt + state.StaleGracePeriod
	if _, err := s.engine.ReclaimStale(s.market); !errors.Is(err, errs.ErrMarketNotStale) {
		t.Fatalf("at grace end: expected ErrMarketNotStale, got %v", err)
	}

	s.clock.At++
	res, err := s.engine.ReclaimStale(s.market)
	if err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	if res.Reason != core.StaleVoidReason || s.market.Status() != state.MarketStatusVoided {
		t.Errorf("status %s reason %q", s.market.Status(), res.Reason)
	}
	if s.profile.MarketsVoided != 0 {
		t.Errorf("stale reclaim should not touch the profile")
	}
	if _, err := s.engine.ClaimRefund(s.alice, s.market, s.alicePos); err != nil {
		t.Errorf("ClaimRefund: %v", err)
	}
}

func TestClaimRefund_EmptyPositionStillClaimed(t *testing.T) {
	s := newScenario(t)
	if _, err := s.engine.Sell(s.alice, s.cfg, s.market, s.alicePos, state.SideYes, s.alicePos.YesShares); err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if _, err := s.engine.Void(s.authority, s.cfg, s.market, s.profile, "cancelled"); err != nil {
		t.Fatalf("Void: %v", err)
	}

	res, err := s.engine.ClaimRefund(s.alice, s.market, s.alicePos)
	if err != nil {
		t.Fatalf("ClaimRefund: %v", err)
	}
	if res.Amount != 0 || !s.alicePos.Claimed {
		t.Errorf("refund %d claimed %v, want 0 and true", res.Amount, s.alicePos.Claimed)
	}
}

// ============================================================================
// Test: Position Close
// ============================================================================

func TestClosePosition(t *testing.T) {
	s := newScenario(t)
	if _, err := s.engine.Void(s.authority, s.cfg, s.market, s.profile, "cancelled"); err != nil {
		t.Fatalf("Void: %v", err)
	}

	if _, err := s.engine.ClosePosition(s.alice, s.market, s.alicePos); !errors.Is(err, errs.ErrPositionNotClaimed) {
		t.Fatalf("unclaimed: expected ErrPositionNotClaimed, got %v", err)
	}
	if _, err := s.engine.ClaimRefund(s.alice, s.market, s.alicePos); err != nil {
		t.Fatalf("ClaimRefund: %v", err)
	}

	before := s.wallet(s.alice)
	res, err := s.engine.ClosePosition(s.alice, s.market, s.alicePos)
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	posFloor := s.floors[ledger.KindPosition]
	if res.Amount != posFloor || s.wallet(s.alice)-before != posFloor {
		t.Errorf("returned %d, want floor %d", res.Amount, posFloor)
	}
	if !s.alicePos.Closed {
		t.Errorf("position not marked closed")
	}
	if _, err := s.engine.ClosePosition(s.alice, s.market, s.alicePos); !errors.Is(err, errs.ErrPositionClosed) {
		t.Errorf("second close: expected ErrPositionClosed, got %v", err)
	}
	s.assertConservation()
}

func TestClosePosition_LoserClosesWithoutClaim(t *testing.T) {
	s := newScenario(t)
	s.mustResolve(state.SideYes)
	s.clock.At = resolveAt + challenge

	if _, err := s.engine.ClaimWinnings(s.bob, s.market, s.bobPos); !errors.Is(err, errs.ErrNotAWinner) {
		t.Fatalf("loser claim: expected ErrNotAWinner, got %v", err)
	}

	before := s.wallet(s.bob)
	res, err := s.engine.ClosePosition(s.bob, s.market, s.bobPos)
	if err != nil {
		t.Fatalf("ClosePosition loser: %v", err)
	}
	posFloor := s.floors[ledger.KindPosition]
	if res.Amount != posFloor || s.wallet(s.bob)-before != posFloor {
		t.Errorf("returned %d, want floor %d", res.Amount, posFloor)
	}
	if !s.bobPos.Closed {
		t.Errorf("position not marked closed")
	}

	// The winner still has a payout to collect.
	if _, err := s.engine.ClosePosition(s.alice, s.market, s.alicePos); !errors.Is(err, errs.ErrPositionNotClaimed) {
		t.Errorf("unclaimed winner: expected ErrPositionNotClaimed, got %v", err)
	}
	s.assertConservation()
}

func TestClosePosition_UnclaimedWinnerAfterMarketClosed(t *testing.T) {
	s := newScenario(t)
	s.mustResolve(state.SideYes)
	s.clock.At = resolveAt + challenge

	if _, err := s.engine.ClaimCreatorFee(s.creator, s.market, s.profile); err != nil {
		t.Fatalf("ClaimCreatorFee: %v", err)
	}
	if _, err := s.engine.ClaimTreasuryFee(s.cfg, s.market); err != nil {
		t.Fatalf("ClaimTreasuryFee: %v", err)
	}
	if _, err := s.engine.CloseMarket(s.authority, s.cfg, s.market); err != nil {
		t.Fatalf("CloseMarket: %v", err)
	}

	res, err := s.engine.ClosePosition(s.alice, s.market, s.alicePos)
	if err != nil {
		t.Fatalf("ClosePosition after market close: %v", err)
	}
	if res.Amount != s.floors[ledger.KindPosition] {
		t.Errorf("returned %d, want floor %d", res.Amount, s.floors[ledger.KindPosition])
	}
	s.assertConservation()
}

func TestClosePosition_OpenMarket(t *testing.T) {
	s := newScenario(t)
	s.alicePos.Claimed = true

	if _, err := s.engine.ClosePosition(s.alice, s.market, s.alicePos); !errors.Is(err, errs.ErrMarketNotResolved) {
		t.Fatalf("expected ErrMarketNotResolved, got %v", err)
	}
}

// ============================================================================
// Test: Reserve floor guard on payouts
// ============================================================================

// drainVault moves value out of the market vault until it holds exactly its
// reserve floor plus leave.
func (s *scenario) drainVault(leave uint64) {
	s.t.Helper()
	sink := uuid.MustParse("00000000-0000-0000-0000-0000000000dd")
	target := s.floors[ledger.KindMarket] + leave
	excess := s.vault(s.market) - target
	if err := s.tracker.Transfer(ledger.Leg{
		From: ledger.MarketVaultKey(s.market.ID), To: ledger.WalletKey(sink), Amount: excess, Type: ledger.JournalTypeWithdrawal,
	}); err != nil {
		s.t.Fatalf("drain vault: %v", err)
	}
}

func TestSettlementClaims_RejectPayoutBelowFloor(t *testing.T) {
	s := newScenario(t)
	s.mustResolve(state.SideYes)
	s.clock.At = resolveAt + challenge
	s.drainVault(1)

	vault := s.vault(s.market)
	alice, creator, treasury := s.wallet(s.alice), s.wallet(s.creator), s.wallet(s.treasury)
	profile := *s.profile

	if _, err := s.engine.ClaimWinnings(s.alice, s.market, s.alicePos); !errors.Is(err, errs.ErrInsufficientRentBalance) {
		t.Errorf("ClaimWinnings: expected ErrInsufficientRentBalance, got %v", err)
	}
	if _, err := s.engine.ClaimCreatorFee(s.creator, s.market, s.profile); !errors.Is(err, errs.ErrInsufficientRentBalance) {
		t.Errorf("ClaimCreatorFee: expected ErrInsufficientRentBalance, got %v", err)
	}
	if _, err := s.engine.ClaimTreasuryFee(s.cfg, s.market); !errors.Is(err, errs.ErrInsufficientRentBalance) {
		t.Errorf("ClaimTreasuryFee: expected ErrInsufficientRentBalance, got %v", err)
	}
	if errs.KindOf(errs.ErrInsufficientRentBalance) != errs.KindSolvency {
		t.Errorf("floor breach must be a solvency error")
	}

	if s.alicePos.Claimed {
		t.Errorf("failed claim marked the position claimed")
	}
	r, ok := s.market.Resolution()
	if !ok || r.CreatorFeeClaimed || r.TreasuryFeeClaimed {
		t.Errorf("failed fee claims changed the resolution: %+v", r)
	}
	if *s.profile != profile {
		t.Errorf("failed creator claim changed the profile: %+v", *s.profile)
	}
	if s.vault(s.market) != vault || s.wallet(s.alice) != alice ||
		s.wallet(s.creator) != creator || s.wallet(s.treasury) != treasury {
		t.Errorf("failed claims moved value")
	}
	s.assertConservation()
}

func TestClaimRefund_RejectsPayoutBelowFloor(t *testing.T) {
	s := newScenario(t)
	if _, err := s.engine.Void(s.authority, s.cfg, s.market, s.profile, "cancelled"); err != nil {
		t.Fatalf("Void: %v", err)
	}
	s.drainVault(0)
	alice := s.wallet(s.alice)

	if _, err := s.engine.ClaimRefund(s.alice, s.market, s.alicePos); !errors.Is(err, errs.ErrInsufficientRentBalance) {
		t.Fatalf("expected ErrInsufficientRentBalance, got %v", err)
	}
	if s.alicePos.Claimed {
		t.Errorf("failed refund marked the position claimed")
	}
	if s.wallet(s.alice) != alice || s.vault(s.market) != s.floors[ledger.KindMarket] {
		t.Errorf("failed refund moved value")
	}
}
