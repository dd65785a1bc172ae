package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"PredictLedger/internal/core"
	"PredictLedger/internal/errs"
	"PredictLedger/internal/event"
	"PredictLedger/internal/ledger"
	"PredictLedger/internal/state"

	"github.com/google/uuid"
)

// --- Test helpers ---

var (
	authorityID = uuid.MustParse("10000000-0000-0000-0000-000000000001")
	treasuryID  = uuid.MustParse("10000000-0000-0000-0000-000000000002")
	creatorID   = uuid.MustParse("10000000-0000-0000-0000-000000000003")
	traderID    = uuid.MustParse("10000000-0000-0000-0000-000000000004")
)

// newTestProcessor creates a Processor with buffered channels and no DB checker.
func newTestProcessor() (*core.Processor, chan core.CoreOutput, chan core.CoreOutput) {
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	p := core.NewProcessor(0, core.Outputs{Persist: persistChan, Projection: projChan}, 1_000, nil, nil, nil)
	return p, persistChan, projChan
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

// cmdID derives a stable command id so two processors see identical payloads.
func cmdID(n int) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte{byte(n >> 8), byte(n)})
}

func meta(n int, caller uuid.UUID, ts int64) event.Meta {
	return event.Meta{CommandID: cmdID(n), Caller: caller, Timestamp: ts}
}

func mustProcess(t *testing.T, p *core.Processor, cmd event.Command) *core.CoreOutput {
	t.Helper()
	out, err := p.Process(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Process %s: %v", cmd.CommandType(), err)
	}
	if out == nil {
		t.Fatalf("Process %s: treated as duplicate", cmd.CommandType())
	}
	return out
}

// bootstrapCommands funds the cast, initializes config and opens market 0.
func bootstrapCommands() []event.Command {
	floors := core.DefaultFloors()
	return []event.Command{
		&event.Deposit{Meta: meta(1, authorityID, t0), Amount: floors[ledger.KindConfig]},
		&event.InitializeConfig{
			Meta:                   meta(2, authorityID, t0),
			Treasury:               treasuryID,
			MinLiquidity:           1_000_000,
			MinTrade:               1_000,
			TreasuryRakeBps:        200,
			CreatorRakeBps:         100,
			SwapFeeBps:             30,
			BettingCutoffSeconds:   cutoff,
			ChallengePeriodSeconds: challenge,
		},
		&event.Deposit{Meta: meta(3, creatorID, t0), Amount: 2 * seed},
		&event.Deposit{Meta: meta(4, traderID, t0), Amount: seed},
		&event.CreateMarket{
			Meta:                meta(5, creatorID, t0),
			Question:            "Will it rain in Hanoi tomorrow?",
			ResolutionSource:    "https://weather.example.com/hanoi",
			ResolutionTimestamp: resolveAt,
			Liquidity:           seed,
		},
		&event.Buy{Meta: meta(6, traderID, t0+10), Market: 0, Side: state.SideYes, Amount: 100_000_000},
	}
}

func bootstrap(t *testing.T, p *core.Processor) {
	t.Helper()
	for _, cmd := range bootstrapCommands() {
		mustProcess(t, p, cmd)
	}
}

// ============================================================================
// Test: Envelope
// ============================================================================

func TestProcess_DepositEnvelope(t *testing.T) {
	p, persistCh, projCh := newTestProcessor()

	cmd := &event.Deposit{Meta: meta(1, traderID, t0), Amount: 5_000}
	cmd.Locate("commands", 7)
	mustProcess(t, p, cmd)

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	if len(drainOutputs(projCh)) != 1 {
		t.Errorf("expected 1 projection output")
	}

	env := outputs[0].Envelope
	if env.Sequence != 0 || env.CommandType != event.CommandTypeDeposit {
		t.Errorf("seq=%d type=%s", env.Sequence, env.CommandType)
	}
	if env.IdempotencyKey != cmdID(1).String() || env.Caller != traderID || env.Timestamp != t0 {
		t.Errorf("envelope identity fields wrong: %+v", env)
	}
	if env.Source != "commands" || env.SourceSequence != 7 {
		t.Errorf("source = %s/%d", env.Source, env.SourceSequence)
	}
	if env.PrevHash != core.GenesisHash() {
		t.Errorf("first envelope must chain from genesis")
	}
	if env.StateHash == env.PrevHash {
		t.Errorf("state hash did not advance")
	}

	decoded, err := event.Decode(env.CommandType, env.Payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if d := decoded.(*event.Deposit); d.Amount != 5_000 || d.Caller != traderID {
		t.Errorf("decoded payload = %+v", d)
	}

	batch := outputs[0].Batch
	if len(batch.Journals) != 1 || batch.Journals[0].JournalType != ledger.JournalTypeDeposit {
		t.Fatalf("expected one deposit journal, got %+v", batch.Journals)
	}
	if got := outputs[0].Touched.Balances[ledger.WalletKey(traderID)]; got != 5_000 {
		t.Errorf("touched wallet balance = %d, want 5000", got)
	}
}

func TestProcess_CreateMarketCarriesMarketID(t *testing.T) {
	p, persistCh, _ := newTestProcessor()
	bootstrap(t, p)

	outputs := drainOutputs(persistCh)
	create := outputs[4]
	if create.Envelope.CommandType != event.CommandTypeCreateMarket {
		t.Fatalf("output 4 is %s", create.Envelope.CommandType)
	}
	if create.Envelope.MarketID == nil || *create.Envelope.MarketID != 0 {
		t.Errorf("create envelope market id = %v, want 0", create.Envelope.MarketID)
	}
	if create.Touched.Market == nil || create.Touched.Profile == nil || create.Touched.Config == nil {
		t.Errorf("create should touch market, profile and config")
	}
}

// ============================================================================
// Test: Rejections
// ============================================================================

func TestProcess_RejectedCommandLeavesNoTrace(t *testing.T) {
	p, persistCh, _ := newTestProcessor()

	_, err := p.Process(context.Background(), &event.Buy{Meta: meta(1, traderID, t0), Market: 0, Side: state.SideYes, Amount: 10_000})
	if !errors.Is(err, errs.ErrConfigMissing) {
		t.Fatalf("expected ErrConfigMissing, got %v", err)
	}
	if p.Sequence() != 0 || p.StateHash() != core.GenesisHash() {
		t.Errorf("rejected command advanced the chain")
	}
	if len(drainOutputs(persistCh)) != 0 {
		t.Errorf("rejected command emitted output")
	}
}

func TestProcess_UnknownMarket(t *testing.T) {
	p, _, _ := newTestProcessor()
	bootstrap(t, p)

	_, err := p.Process(context.Background(), &event.ClaimWinnings{Meta: meta(100, traderID, t0+20), Market: 42})
	if !errors.Is(err, errs.ErrMarketNotFound) {
		t.Fatalf("expected ErrMarketNotFound, got %v", err)
	}
}

func TestProcess_FailedBuyDoesNotStorePosition(t *testing.T) {
	p, _, _ := newTestProcessor()
	bootstrap(t, p)
	broke := uuid.MustParse("10000000-0000-0000-0000-0000000000ff")

	_, err := p.Process(context.Background(), &event.Buy{Meta: meta(100, broke, t0+20), Market: 0, Side: state.SideNo, Amount: 10_000})
	if !errors.Is(err, errs.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if p.Book().GetPosition(0, broke) != nil {
		t.Errorf("rejected buy stored a position")
	}
}

// ============================================================================
// Test: Idempotency
// ============================================================================

func TestIdempotency_DuplicateIgnored(t *testing.T) {
	p, persistCh, _ := newTestProcessor()
	cmd := &event.Deposit{Meta: meta(1, traderID, t0), Amount: 1_000}

	mustProcess(t, p, cmd)
	out, err := p.Process(context.Background(), cmd)
	if err != nil || out != nil {
		t.Fatalf("duplicate: got (%v, %v), want (nil, nil)", out, err)
	}

	if len(drainOutputs(persistCh)) != 1 {
		t.Errorf("duplicate emitted output")
	}
	if got := p.Balance(ledger.WalletKey(traderID)); got != 1_000 {
		t.Errorf("wallet = %d, want 1000", got)
	}
}

// ============================================================================
// Test: Sequence Validation
// ============================================================================

func TestSequenceValidation_OutOfOrderRejected(t *testing.T) {
	p, _, _ := newTestProcessor()

	first := &event.Deposit{Meta: meta(1, traderID, t0), Amount: 1_000}
	first.Locate("commands", 5)
	mustProcess(t, p, first)

	gap := &event.Deposit{Meta: meta(2, traderID, t0), Amount: 1_000}
	gap.Locate("commands", 9)
	mustProcess(t, p, gap)

	stale := &event.Deposit{Meta: meta(3, traderID, t0), Amount: 1_000}
	stale.Locate("commands", 8)
	if _, err := p.Process(context.Background(), stale); err == nil {
		t.Fatalf("expected out-of-order rejection")
	}

	redelivered := &event.Deposit{Meta: meta(1, traderID, t0), Amount: 1_000}
	redelivered.Locate("commands", 5)
	if out, err := p.Process(context.Background(), redelivered); err != nil || out != nil {
		t.Errorf("redelivered duplicate: got (%v, %v), want (nil, nil)", out, err)
	}
}

// ============================================================================
// Test: Ledger Clock
// ============================================================================

func TestProcess_RegressedTimestampRejected(t *testing.T) {
	p, persistCh, _ := newTestProcessor()
	bootstrap(t, p)
	drainOutputs(persistCh)
	seq, hash := p.Sequence(), p.StateHash()

	_, err := p.Process(context.Background(), &event.Deposit{Meta: meta(30, traderID, t0+5), Amount: 1_000})
	if !errors.Is(err, errs.ErrClockRegressed) {
		t.Fatalf("expected ErrClockRegressed, got %v", err)
	}
	if errs.KindOf(err) != errs.KindState {
		t.Errorf("kind = %s, want State", errs.KindOf(err))
	}
	if p.Sequence() != seq || p.StateHash() != hash || len(drainOutputs(persistCh)) != 0 {
		t.Errorf("regressed command changed the chain")
	}

	// The same second as the last applied command is fine.
	mustProcess(t, p, &event.Deposit{Meta: meta(31, traderID, t0+10), Amount: 1_000})
}

func TestProcess_BuyCannotBackdateBeforeCutoff(t *testing.T) {
	p, _, _ := newTestProcessor()
	bootstrap(t, p)

	pastCutoff := resolveAt - cutoff + 5
	mustProcess(t, p, &event.Deposit{Meta: meta(30, traderID, pastCutoff), Amount: 1_000})
	shares := p.Book().GetPosition(0, traderID).YesShares

	_, err := p.Process(context.Background(), &event.Buy{Meta: meta(31, traderID, t0+20), Market: 0, Side: state.SideYes, Amount: 10_000})
	if !errors.Is(err, errs.ErrClockRegressed) {
		t.Fatalf("backdated buy: expected ErrClockRegressed, got %v", err)
	}
	_, err = p.Process(context.Background(), &event.Buy{Meta: meta(32, traderID, pastCutoff), Market: 0, Side: state.SideYes, Amount: 10_000})
	if !errors.Is(err, errs.ErrBettingClosed) {
		t.Fatalf("buy at ledger time: expected ErrBettingClosed, got %v", err)
	}
	if got := p.Book().GetPosition(0, traderID).YesShares; got != shares {
		t.Errorf("yes shares = %d, want %d", got, shares)
	}
}

func TestProcess_ClaimAndVoidCannotInterleaveTimes(t *testing.T) {
	p, _, _ := newTestProcessor()
	bootstrap(t, p)

	mustProcess(t, p, &event.ResolveMarket{Meta: meta(10, authorityID, resolveAt), Market: 0, Outcome: state.SideYes})
	mustProcess(t, p, &event.ClaimWinnings{Meta: meta(11, traderID, resolveAt+challenge), Market: 0})

	// Once a claim has moved the ledger past the window, a void stamped
	// inside it is refused.
	_, err := p.Process(context.Background(), &event.VoidMarket{Meta: meta(12, authorityID, resolveAt+10), Market: 0, Reason: "late"})
	if !errors.Is(err, errs.ErrClockRegressed) {
		t.Fatalf("expected ErrClockRegressed, got %v", err)
	}
	if m := p.Book().GetMarket(0); m.Status() != state.MarketStatusResolved {
		t.Errorf("market status = %s, want Resolved", m.Status())
	}

	_, err = p.Process(context.Background(), &event.VoidMarket{Meta: meta(13, authorityID, resolveAt+challenge), Market: 0, Reason: "late"})
	if !errors.Is(err, errs.ErrMarketNotVoidable) {
		t.Fatalf("void after window: expected ErrMarketNotVoidable, got %v", err)
	}
}

func TestSnapshot_CarriesLedgerClock(t *testing.T) {
	live, _, _ := newTestProcessor()
	bootstrap(t, live)

	snap := live.CreateSnapshotState()
	if snap.LastTime != t0+10 {
		t.Fatalf("snapshot clock = %d, want %d", snap.LastTime, t0+10)
	}

	restored, _, _ := newTestProcessor()
	if err := restored.RestoreFromSnapshot(snap); err != nil {
		t.Fatalf("RestoreFromSnapshot: %v", err)
	}
	_, err := restored.Process(context.Background(), &event.Deposit{Meta: meta(30, traderID, t0), Amount: 1_000})
	if !errors.Is(err, errs.ErrClockRegressed) {
		t.Fatalf("expected ErrClockRegressed after restore, got %v", err)
	}
}

// ============================================================================
// Test: Full Lifecycle
// ============================================================================

func TestFullLifecycle_CreateTradeResolveClaimClose(t *testing.T) {
	p, persistCh, _ := newTestProcessor()
	bootstrap(t, p)
	claimAt := resolveAt + challenge

	mustProcess(t, p, &event.ResolveMarket{Meta: meta(10, authorityID, resolveAt), Market: 0, Outcome: state.SideYes})
	win := mustProcess(t, p, &event.ClaimWinnings{Meta: meta(11, traderID, claimAt), Market: 0})
	mustProcess(t, p, &event.ClaimCreatorFee{Meta: meta(12, creatorID, claimAt), Market: 0})
	mustProcess(t, p, &event.ClaimTreasuryFee{Meta: meta(13, traderID, claimAt), Market: 0})
	mustProcess(t, p, &event.ClosePosition{Meta: meta(14, traderID, claimAt), Market: 0})
	mustProcess(t, p, &event.CloseMarket{Meta: meta(15, authorityID, claimAt), Market: 0})

	// Only the trader bought, so the pot is 1.1e9 and the prize pool 1.067e9.
	if want := uint64(190_636_364) * 1_067_000_000 / 1_100_000_000; win.Result.Amount != want {
		t.Errorf("winnings = %d, want %d", win.Result.Amount, want)
	}

	if m := p.Book().GetMarket(0); m.Status() != state.MarketStatusClosed {
		t.Errorf("market status = %s, want Closed", m.Status())
	}
	if p.Book().GetPosition(0, traderID) != nil {
		t.Errorf("closed position still in book")
	}
	if p.Balance(ledger.MarketVaultKey(0)) != 0 {
		t.Errorf("vault not swept")
	}
	if got := p.Balance(ledger.WalletKey(treasuryID)); got != 22_000_000 {
		t.Errorf("treasury = %d, want 22000000", got)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 12 {
		t.Fatalf("expected 12 outputs, got %d", len(outputs))
	}
	for i, o := range outputs {
		if o.Envelope.Sequence != int64(i) {
			t.Errorf("output %d has sequence %d", i, o.Envelope.Sequence)
		}
		if i > 0 && o.Envelope.PrevHash != outputs[i-1].Envelope.StateHash {
			t.Errorf("output %d does not chain from %d", i, i-1)
		}
	}
}

// ============================================================================
// Test: State Hash Chain
// ============================================================================

func TestStateHashChain_Deterministic(t *testing.T) {
	a, _, _ := newTestProcessor()
	b, _, _ := newTestProcessor()

	bootstrap(t, a)
	bootstrap(t, b)

	if a.StateHash() != b.StateHash() {
		t.Fatalf("identical command streams produced different hashes: %x vs %x", a.StateHash(), b.StateHash())
	}
}

func TestStateHashChain_DivergesOnDifferentInput(t *testing.T) {
	a, _, _ := newTestProcessor()
	b, _, _ := newTestProcessor()

	mustProcess(t, a, &event.Deposit{Meta: meta(1, traderID, t0), Amount: 1_000})
	mustProcess(t, b, &event.Deposit{Meta: meta(1, traderID, t0), Amount: 1_001})

	if a.StateHash() == b.StateHash() {
		t.Fatalf("different deposits produced the same hash")
	}
}

// ============================================================================
// Test: Replay and Snapshot
// ============================================================================

func TestReplay_ReproducesChain(t *testing.T) {
	live, persistCh, _ := newTestProcessor()
	bootstrap(t, live)
	mustProcess(t, live, &event.ResolveMarket{Meta: meta(10, authorityID, resolveAt), Market: 0, Outcome: state.SideNo})

	replica, _, _ := newTestProcessor()
	for _, o := range drainOutputs(persistCh) {
		if err := replica.Replay(o.Envelope); err != nil {
			t.Fatalf("Replay: %v", err)
		}
	}

	if replica.StateHash() != live.StateHash() || replica.Sequence() != live.Sequence() {
		t.Fatalf("replica at %d/%x, live at %d/%x", replica.Sequence(), replica.StateHash(), live.Sequence(), live.StateHash())
	}
	if replica.Balance(ledger.WalletKey(traderID)) != live.Balance(ledger.WalletKey(traderID)) {
		t.Errorf("replica balances differ")
	}
}

func TestReplay_DetectsTamperedHash(t *testing.T) {
	live, persistCh, _ := newTestProcessor()
	mustProcess(t, live, &event.Deposit{Meta: meta(1, traderID, t0), Amount: 1_000})

	env := drainOutputs(persistCh)[0].Envelope
	env.StateHash[0] ^= 0xff

	replica, _, _ := newTestProcessor()
	if err := replica.Replay(env); err == nil {
		t.Fatalf("expected hash mismatch")
	}
}

func TestSnapshot_RestoreResumesChain(t *testing.T) {
	live, _, _ := newTestProcessor()
	bootstrap(t, live)

	raw, err := json.Marshal(live.CreateSnapshotState())
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	var snap core.SnapshotState
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}

	restored, _, _ := newTestProcessor()
	if err := restored.RestoreFromSnapshot(&snap); err != nil {
		t.Fatalf("RestoreFromSnapshot: %v", err)
	}

	next := &event.Buy{Meta: meta(20, traderID, t0+30), Market: 0, Side: state.SideNo, Amount: 50_000_000}
	mustProcess(t, live, next)
	mustProcess(t, restored, next)

	if restored.StateHash() != live.StateHash() {
		t.Fatalf("restored processor diverged")
	}
	if got := restored.Book().GetPosition(0, traderID); got == nil || got.NoShares == 0 {
		t.Errorf("restored position = %+v", got)
	}

	// Keys warmed from the snapshot still deduplicate.
	if out, err := restored.Process(context.Background(), bootstrapCommands()[0]); err != nil || out != nil {
		t.Errorf("warmed key: got (%v, %v), want duplicate", out, err)
	}
}

// ============================================================================
// Test: Output Channels
// ============================================================================

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	persistChan := make(chan core.CoreOutput, 16)
	projChan := make(chan core.CoreOutput, 1)
	p := core.NewProcessor(0, core.Outputs{Persist: persistChan, Projection: projChan}, 100, nil, nil, nil)

	for i := 0; i < 3; i++ {
		mustProcess(t, p, &event.Deposit{Meta: meta(i+1, traderID, t0), Amount: 1_000})
	}

	if got := len(drainOutputs(persistChan)); got != 3 {
		t.Errorf("persist got %d outputs, want 3", got)
	}
	if got := len(drainOutputs(projChan)); got != 1 {
		t.Errorf("projection got %d outputs, want 1", got)
	}
}
