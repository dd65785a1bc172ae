package core

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"PredictLedger/internal/errs"
	"PredictLedger/internal/event"
	"PredictLedger/internal/ledger"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Touched carries the records a command changed, as they stand after it.
type Touched struct {
	Config   *state.PlatformConfig
	Market   *state.Market
	Position *state.Position
	Profile  *state.CreatorProfile
	Balances map[ledger.AccountKey]uint64
}

// detached copies the records so consumers on other goroutines never share
// memory with the book.
func (t Touched) detached() Touched {
	if t.Config != nil {
		c := *t.Config
		t.Config = &c
	}
	if t.Market != nil {
		m := *t.Market
		t.Market = &m
	}
	if t.Position != nil {
		pos := *t.Position
		t.Position = &pos
	}
	if t.Profile != nil {
		profile := *t.Profile
		t.Profile = &profile
	}
	return t
}

// CoreOutput is what the processor emits per applied command.
type CoreOutput struct {
	Envelope *event.Envelope
	Batch    *ledger.Batch
	Result   event.Result
	Touched  Touched
}

// Outputs are the channels the processor fans out to. Persist blocks;
// projection and publish drop when full.
type Outputs struct {
	Persist    chan<- CoreOutput
	Projection chan<- CoreOutput
	Publish    chan<- CoreOutput
}

// Processor is the single-writer command pipeline.
// CRITICAL: This struct MUST NOT read wall-clock time for any state decision.
// All time comes from command timestamps through the FixedClock.
// Not thread-safe: only accessed from one goroutine.
type Processor struct {
	sequence int64
	// lastTime is the timestamp of the last applied command. The ledger
	// clock never moves backwards.
	lastTime int64

	hasher            *StateHasher
	tracker           *ledger.BalanceTracker
	validator         *ledger.InvariantValidator
	book              *state.Book
	clock             *FixedClock
	engine            *Engine
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator

	outputs Outputs
	metrics *observability.Metrics
	log     zerolog.Logger
}

// DefaultFloors derives each record kind's reserve floor from its size.
func DefaultFloors() map[ledger.RecordKind]uint64 {
	return map[ledger.RecordKind]uint64{
		ledger.KindConfig:         ledger.ReserveFloorForSize(state.ConfigRecordSize),
		ledger.KindMarket:         ledger.ReserveFloorForSize(state.MarketRecordSize),
		ledger.KindPosition:       ledger.ReserveFloorForSize(state.PositionRecordSize),
		ledger.KindCreatorProfile: ledger.ReserveFloorForSize(state.CreatorProfileRecordSize),
	}
}

// NewProcessor creates a processor starting at startSequence. dbChecker and
// metrics may be nil.
func NewProcessor(
	startSequence int64,
	outputs Outputs,
	lruCapacity int,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	auth AuthorityCheck,
) *Processor {
	tracker := ledger.NewBalanceTracker(DefaultFloors())
	clock := &FixedClock{}

	return &Processor{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		tracker:           tracker,
		validator:         ledger.NewInvariantValidator(tracker),
		book:              state.NewBook(),
		clock:             clock,
		engine:            NewEngine(tracker, clock, auth),
		idempotency:       NewIdempotencyChecker(lruCapacity, dbChecker, metrics),
		sequenceValidator: NewSequenceValidator(metrics),
		outputs:           outputs,
		metrics:           metrics,
		log:               observability.NewLogger("processor"),
	}
}

// Process applies one command. It returns (nil, nil) for a duplicate and the
// engine's error for a rejected command; neither changes state.
func (p *Processor) Process(ctx context.Context, cmd event.Command) (*CoreOutput, error) {
	start := time.Now()
	commandType := cmd.CommandType().String()
	key := cmd.IdempotencyKey()

	isDuplicate := p.idempotency.IsDuplicate(ctx, commandType, key)

	if err := p.sequenceValidator.ValidateSequence(cmd.SourcePartition(), cmd.SourceSequence(), isDuplicate); err != nil {
		p.reject(commandType, "sequence")
		return nil, err
	}

	if isDuplicate {
		p.sequenceValidator.Advance(cmd.SourcePartition(), cmd.SourceSequence())
		p.reject(commandType, "duplicate")
		return nil, nil
	}

	return p.apply(cmd, start)
}

// apply runs a command that passed deduplication and ordering checks.
func (p *Processor) apply(cmd event.Command, start time.Time) (*CoreOutput, error) {
	commandType := cmd.CommandType().String()
	key := cmd.IdempotencyKey()
	prior := p.priorStatus(cmd)

	if cmd.Time() < p.lastTime {
		p.sequenceValidator.Advance(cmd.SourcePartition(), cmd.SourceSequence())
		p.reject(commandType, errs.ErrClockRegressed.Code)
		return nil, fmt.Errorf("%s at %d, ledger clock at %d: %w",
			commandType, cmd.Time(), p.lastTime, errs.ErrClockRegressed)
	}

	p.clock.At = cmd.Time()
	p.tracker.Begin(key, p.sequence, cmd.Time())

	res, touched, err := p.dispatch(cmd)
	if err != nil {
		p.tracker.Commit() // discard; a rejected command moves no value
		p.sequenceValidator.Advance(cmd.SourcePartition(), cmd.SourceSequence())
		p.reject(commandType, errs.CodeOf(err))
		cmdLog := observability.WithCommand(p.log, commandType, key, cmd.MarketID())
		cmdLog.Debug().
			Err(err).
			Str("kind", errs.KindOf(err).String()).
			Msg("command rejected")
		return nil, err
	}

	batch := p.tracker.Commit()

	// Invariant failures mean the engine itself is wrong. Halt rather than
	// persist corrupted state.
	if err := p.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: batch validation failed at seq %d: %v", p.sequence, err))
	}
	if err := p.validator.ValidateConservation(); err != nil {
		panic(fmt.Sprintf("FATAL: conservation violated at seq %d: %v", p.sequence, err))
	}
	for _, acct := range liveRecords(touched) {
		if err := p.validator.ValidateRecordFloor(acct); err != nil {
			panic(fmt.Sprintf("FATAL: reserve floor breached at seq %d: %v", p.sequence, err))
		}
	}

	touched = touched.detached()
	touched.Balances = p.affectedBalances(batch)

	digest := p.computeStateDigest(batch, touched)
	prevHash := p.hasher.PrevHash()
	stateHash := p.hasher.ComputeHash(p.sequence, digest)

	payload, err := json.Marshal(cmd)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode %s at seq %d: %v", commandType, p.sequence, err))
	}
	result, err := json.Marshal(res)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode result at seq %d: %v", p.sequence, err))
	}

	envelope := &event.Envelope{
		Sequence:       p.sequence,
		IdempotencyKey: key,
		CommandType:    cmd.CommandType(),
		MarketID:       marketOf(cmd, touched),
		Caller:         cmd.CallerID(),
		Timestamp:      cmd.Time(),
		Source:         cmd.SourcePartition(),
		SourceSequence: cmd.SourceSequence(),
		Payload:        payload,
		Result:         result,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	out := CoreOutput{
		Envelope: envelope,
		Batch:    batch,
		Result:   res,
		Touched:  touched,
	}
	p.emit(out)

	p.idempotency.MarkProcessed(commandType, key)
	p.sequenceValidator.Advance(cmd.SourcePartition(), cmd.SourceSequence())
	p.sequence++
	p.lastTime = cmd.Time()

	if p.metrics != nil {
		p.metrics.CoreCommandsApplied.WithLabelValues(commandType).Inc()
		p.metrics.CoreCommandDuration.WithLabelValues(commandType).Observe(time.Since(start).Seconds())
		p.metrics.CoreSequence.Set(float64(p.sequence))
		for _, j := range batch.Journals {
			p.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
		p.recordDomainMetrics(cmd, res, batch, prior)
	}

	return &out, nil
}

// Replay re-applies a logged envelope during recovery and checks that the
// resulting state hash matches the one recorded.
func (p *Processor) Replay(env *event.Envelope) error {
	_, err := p.ReplayOutput(env)
	return err
}

// ReplayOutput is Replay returning what the command produced, for rebuilding
// read models. Nothing is sent to the output channels.
func (p *Processor) ReplayOutput(env *event.Envelope) (*CoreOutput, error) {
	cmd, err := event.Decode(env.CommandType, env.Payload)
	if err != nil {
		return nil, fmt.Errorf("replay seq %d: %w", env.Sequence, err)
	}
	if l, ok := cmd.(event.Locatable); ok {
		l.Locate(env.Source, env.SourceSequence)
	}
	if env.Sequence != p.sequence {
		return nil, fmt.Errorf("replay seq %d but processor is at %d", env.Sequence, p.sequence)
	}

	saved := p.outputs
	p.outputs = Outputs{}
	defer func() { p.outputs = saved }()

	// Logged commands were deduplicated when first applied, so replay skips
	// the idempotency lookup that would now find them in the log.
	out, err := p.apply(cmd, time.Now())
	if err != nil {
		return nil, fmt.Errorf("replay seq %d (%s): %w", env.Sequence, env.CommandType, err)
	}
	if out.Envelope.StateHash != env.StateHash {
		return nil, fmt.Errorf("replay seq %d: state hash %x, logged %x",
			env.Sequence, out.Envelope.StateHash, env.StateHash)
	}
	if p.metrics != nil {
		p.metrics.ReplayCommands.Inc()
	}
	return out, nil
}

// dispatch routes a command to its engine operation, loading and storing the
// records it works on.
func (p *Processor) dispatch(cmd event.Command) (event.Result, Touched, error) {
	caller := cmd.CallerID()
	book := p.book

	switch c := cmd.(type) {
	case *event.Deposit:
		res, err := p.engine.Deposit(caller, c.Amount)
		return res, Touched{}, err

	case *event.Withdraw:
		res, err := p.engine.Withdraw(caller, c.Amount)
		return res, Touched{}, err

	case *event.InitializeConfig:
		cfg, res, err := p.engine.InitializeConfig(caller, book.Config(), c.Params())
		if err != nil {
			return res, Touched{}, err
		}
		book.SetConfig(cfg)
		return res, Touched{Config: book.Config()}, nil
	}

	cfg := book.Config()
	if cfg == nil {
		return event.Result{}, Touched{}, errs.ErrConfigMissing
	}

	switch c := cmd.(type) {
	case *event.UpdateConfig:
		res, err := p.engine.UpdateConfig(caller, cfg, c.Update)
		return res, Touched{Config: cfg}, err

	case *event.TogglePause:
		res, err := p.engine.TogglePause(caller, cfg)
		return res, Touched{Config: cfg}, err

	case *event.TransferAuthority:
		res, err := p.engine.TransferAuthority(caller, cfg, c.NewAuthority)
		return res, Touched{Config: cfg}, err

	case *event.CreateMarket:
		profile := book.ProfileOrBlank(caller)
		m, res, err := p.engine.CreateMarket(caller, cfg, profile, c)
		if err != nil {
			return res, Touched{}, err
		}
		book.PutMarket(m)
		book.PutProfile(profile)
		return res, Touched{Config: cfg, Market: m, Profile: profile}, nil
	}

	id := cmd.MarketID()
	if id == nil {
		return event.Result{}, Touched{}, fmt.Errorf("%s carries no market", cmd.CommandType())
	}
	m := book.GetMarket(*id)
	if m == nil {
		return event.Result{}, Touched{}, fmt.Errorf("market %d: %w", *id, errs.ErrMarketNotFound)
	}

	switch c := cmd.(type) {
	case *event.Buy:
		pos := book.PositionOrBlank(m.ID, caller)
		res, err := p.engine.Buy(caller, cfg, m, pos, c.Side, c.Amount)
		if err != nil {
			return res, Touched{}, err
		}
		book.PutPosition(pos)
		return res, Touched{Market: m, Position: pos}, nil

	case *event.Sell:
		pos, err := p.position(m.ID, caller)
		if err != nil {
			return event.Result{}, Touched{}, err
		}
		res, err := p.engine.Sell(caller, cfg, m, pos, c.Side, c.Shares)
		return res, Touched{Market: m, Position: pos}, err

	case *event.ResolveMarket:
		profile, err := p.profile(m)
		if err != nil {
			return event.Result{}, Touched{}, err
		}
		res, err := p.engine.Resolve(caller, cfg, m, profile, c.Outcome)
		return res, Touched{Market: m, Profile: profile}, err

	case *event.VoidMarket:
		profile, err := p.profile(m)
		if err != nil {
			return event.Result{}, Touched{}, err
		}
		res, err := p.engine.Void(caller, cfg, m, profile, c.Reason)
		return res, Touched{Market: m, Profile: profile}, err

	case *event.ReclaimStaleMarket:
		res, err := p.engine.ReclaimStale(m)
		return res, Touched{Market: m}, err

	case *event.ClaimWinnings:
		pos, err := p.position(m.ID, caller)
		if err != nil {
			return event.Result{}, Touched{}, err
		}
		res, err := p.engine.ClaimWinnings(caller, m, pos)
		return res, Touched{Market: m, Position: pos}, err

	case *event.ClaimRefund:
		pos, err := p.position(m.ID, caller)
		if err != nil {
			return event.Result{}, Touched{}, err
		}
		res, err := p.engine.ClaimRefund(caller, m, pos)
		return res, Touched{Market: m, Position: pos}, err

	case *event.ClaimCreatorFee:
		profile, err := p.profile(m)
		if err != nil {
			return event.Result{}, Touched{}, err
		}
		res, err := p.engine.ClaimCreatorFee(caller, m, profile)
		return res, Touched{Market: m, Profile: profile}, err

	case *event.ClaimTreasuryFee:
		res, err := p.engine.ClaimTreasuryFee(cfg, m)
		return res, Touched{Market: m}, err

	case *event.CloseMarket:
		res, err := p.engine.CloseMarket(caller, cfg, m)
		return res, Touched{Market: m}, err

	case *event.ClosePosition:
		pos, err := p.position(m.ID, caller)
		if err != nil {
			return event.Result{}, Touched{}, err
		}
		res, err := p.engine.ClosePosition(caller, m, pos)
		if err != nil {
			return res, Touched{}, err
		}
		book.RemovePosition(pos.Key())
		return res, Touched{Market: m, Position: pos}, nil
	}

	return event.Result{}, Touched{}, fmt.Errorf("unhandled command type %s", cmd.CommandType())
}

func (p *Processor) position(marketID uint64, user uuid.UUID) (*state.Position, error) {
	pos := p.book.GetPosition(marketID, user)
	if pos == nil {
		return nil, fmt.Errorf("market %d user %s: %w", marketID, user, errs.ErrPositionNotFound)
	}
	return pos, nil
}

func (p *Processor) profile(m *state.Market) (*state.CreatorProfile, error) {
	profile := p.book.GetProfile(m.Creator)
	if profile == nil {
		return nil, fmt.Errorf("creator profile for market %d is missing", m.ID)
	}
	return profile, nil
}

// liveRecords lists the record accounts that must still hold their floor.
// A closed market or position has been reclaimed and holds nothing.
func liveRecords(t Touched) []ledger.AccountKey {
	var keys []ledger.AccountKey
	if t.Config != nil {
		keys = append(keys, ledger.ConfigRecordKey())
	}
	if t.Market != nil && t.Market.Status() != state.MarketStatusClosed {
		keys = append(keys, ledger.MarketVaultKey(t.Market.ID))
	}
	if t.Position != nil && !t.Position.Closed {
		keys = append(keys, ledger.PositionRecordKey(t.Position.Key().EntityID()))
	}
	if t.Profile != nil {
		keys = append(keys, ledger.ProfileRecordKey(t.Profile.Creator))
	}
	return keys
}

func (p *Processor) affectedBalances(batch *ledger.Batch) map[ledger.AccountKey]uint64 {
	balances := make(map[ledger.AccountKey]uint64, 2*len(batch.Journals))
	for _, j := range batch.Journals {
		balances[j.DebitAccount] = p.tracker.Balance(j.DebitAccount)
		balances[j.CreditAccount] = p.tracker.Balance(j.CreditAccount)
	}
	return balances
}

// computeStateDigest builds a deterministic digest of the command's effect:
// each journal's accounts and amount, the resulting balances, then the
// canonical bytes of every touched record. Journal ids are random and left out.
func (p *Processor) computeStateDigest(batch *ledger.Batch, t Touched) []byte {
	var digest []byte
	for _, j := range batch.Journals {
		digest = append(digest, j.DebitAccount.AccountPath()...)
		digest = append(digest, j.CreditAccount.AccountPath()...)
		digest = binary.LittleEndian.AppendUint64(digest, j.Amount)
		digest = binary.LittleEndian.AppendUint32(digest, uint32(j.JournalType))
		digest = binary.LittleEndian.AppendUint64(digest, p.tracker.Balance(j.DebitAccount))
		digest = binary.LittleEndian.AppendUint64(digest, p.tracker.Balance(j.CreditAccount))
	}
	if t.Config != nil {
		digest = append(digest, t.Config.CanonicalBytes()...)
	}
	if t.Market != nil {
		digest = append(digest, t.Market.CanonicalBytes()...)
	}
	if t.Position != nil {
		digest = append(digest, t.Position.CanonicalBytes()...)
	}
	if t.Profile != nil {
		digest = append(digest, t.Profile.CanonicalBytes()...)
	}
	return digest
}

// emit sends to persistence (blocking), then projection and publish
// (non-blocking).
func (p *Processor) emit(out CoreOutput) {
	if p.outputs.Persist != nil {
		select {
		case p.outputs.Persist <- out:
		default:
			if p.metrics != nil {
				p.metrics.PersistBackpressure.Inc()
			}
			p.outputs.Persist <- out
		}
	}

	if p.outputs.Projection != nil {
		select {
		case p.outputs.Projection <- out:
		default:
			if p.metrics != nil {
				p.metrics.ProjectionDrops.Inc()
			}
		}
	}

	if p.outputs.Publish != nil {
		select {
		case p.outputs.Publish <- out:
		default:
			if p.metrics != nil {
				p.metrics.PublishDrops.Inc()
			}
		}
	}
}

func (p *Processor) reject(commandType, reason string) {
	if p.metrics != nil {
		p.metrics.CoreCommandsRejected.WithLabelValues(commandType, reason).Inc()
	}
}

// priorStatus is the market's status before cmd runs, if it names one.
func (p *Processor) priorStatus(cmd event.Command) state.MarketStatus {
	if id := cmd.MarketID(); id != nil {
		if m := p.book.GetMarket(*id); m != nil {
			return m.Status()
		}
	}
	return state.MarketStatusOpen
}

func (p *Processor) recordDomainMetrics(cmd event.Command, res event.Result, batch *ledger.Batch, prior state.MarketStatus) {
	m := p.metrics
	switch c := cmd.(type) {
	case *event.CreateMarket:
		m.MarketsCreated.Inc()
		m.OpenMarkets.Inc()
	case *event.Buy:
		m.TradeVolume.WithLabelValues(c.Side.String(), "buy").Add(float64(res.Amount))
		m.SwapFees.Add(float64(res.Fee))
	case *event.Sell:
		m.TradeVolume.WithLabelValues(c.Side.String(), "sell").Add(float64(res.Amount))
		m.SwapFees.Add(float64(res.Fee))
	case *event.ResolveMarket:
		m.MarketsSettled.WithLabelValues("resolved").Inc()
		m.OpenMarkets.Dec()
	case *event.VoidMarket:
		m.MarketsSettled.WithLabelValues("voided").Inc()
		if prior == state.MarketStatusOpen {
			m.OpenMarkets.Dec()
		}
	case *event.ReclaimStaleMarket:
		m.MarketsSettled.WithLabelValues("voided").Inc()
		m.StaleReclaimed.Inc()
		m.OpenMarkets.Dec()
	case *event.CloseMarket:
		m.MarketsSettled.WithLabelValues("closed").Inc()
	}

	for _, t := range []ledger.JournalType{
		ledger.JournalTypeWinnings,
		ledger.JournalTypeRefund,
		ledger.JournalTypeCreatorFee,
		ledger.JournalTypeTreasuryFee,
	} {
		if total := batch.TotalFor(t); total > 0 {
			m.Payouts.WithLabelValues(t.String()).Add(float64(total))
		}
	}
}

func marketOf(cmd event.Command, t Touched) *uint64 {
	if id := cmd.MarketID(); id != nil {
		return id
	}
	if t.Market != nil {
		id := t.Market.ID
		return &id
	}
	return nil
}

// --- Accessors ---

// Sequence returns the next sequence to assign.
func (p *Processor) Sequence() int64 {
	return p.sequence
}

// StateHash returns the chain tip.
func (p *Processor) StateHash() [32]byte {
	return p.hasher.PrevHash()
}

// Book exposes the record store to single-goroutine callers (tests, snapshots).
func (p *Processor) Book() *state.Book {
	return p.book
}

// Balance reads an account balance.
func (p *Processor) Balance(key ledger.AccountKey) uint64 {
	return p.tracker.Balance(key)
}

// WarmLRU pre-populates the idempotency cache after a restart.
func (p *Processor) WarmLRU(keys []string) {
	p.idempotency.Warm(keys)
}
