package core

import (
	"PredictLedger/internal/ledger"
	"PredictLedger/internal/state"
)

// SnapshotState captures everything the processor needs to resume without
// replaying from genesis.
type SnapshotState struct {
	Sequence        int64                        `json:"sequence"` // next sequence to assign
	StateHash       [32]byte                     `json:"state_hash"`
	LastTime        int64                        `json:"last_time"` // ledger clock
	Config          *state.PlatformConfig        `json:"config,omitempty"`
	Markets         []state.Market               `json:"markets"`
	Positions       []state.Position             `json:"positions"`
	Profiles        []state.CreatorProfile       `json:"profiles"`
	Balances        map[ledger.AccountKey]uint64 `json:"balances"`
	SequenceState   map[string]int64             `json:"sequence_state"`
	IdempotencyKeys []string                     `json:"idempotency_keys"`
}

// CreateSnapshotState copies the processor's state. Call it from the
// processor goroutine.
func (p *Processor) CreateSnapshotState() *SnapshotState {
	snap := &SnapshotState{
		Sequence:        p.sequence,
		StateHash:       p.hasher.PrevHash(),
		LastTime:        p.lastTime,
		Balances:        p.tracker.Snapshot(),
		SequenceState:   p.sequenceValidator.Partitions(),
		IdempotencyKeys: p.idempotency.Keys(),
	}
	if cfg := p.book.Config(); cfg != nil {
		c := *cfg
		snap.Config = &c
	}
	for _, m := range p.book.Markets() {
		snap.Markets = append(snap.Markets, *m)
	}
	for _, pos := range p.book.Positions() {
		snap.Positions = append(snap.Positions, *pos)
	}
	for _, profile := range p.book.Profiles() {
		snap.Profiles = append(snap.Profiles, *profile)
	}
	return snap
}

// RestoreFromSnapshot replaces the processor's state. It runs before the
// processor goroutine starts.
func (p *Processor) RestoreFromSnapshot(snap *SnapshotState) error {
	p.sequence = snap.Sequence
	p.hasher.SetPrevHash(snap.StateHash)
	p.lastTime = snap.LastTime
	p.tracker.Restore(snap.Balances)

	book := state.NewBook()
	if snap.Config != nil {
		book.SetConfig(*snap.Config)
	}
	for i := range snap.Markets {
		m := snap.Markets[i]
		book.PutMarket(&m)
	}
	for i := range snap.Positions {
		pos := snap.Positions[i]
		book.PutPosition(&pos)
	}
	for i := range snap.Profiles {
		profile := snap.Profiles[i]
		book.PutProfile(&profile)
	}
	p.book = book

	for partition, seq := range snap.SequenceState {
		p.sequenceValidator.RestorePartition(partition, seq)
	}
	p.idempotency.Warm(snap.IdempotencyKeys)

	return p.validator.ValidateConservation()
}
