package ledger

import (
	"fmt"
	"sort"

	"PredictLedger/internal/errs"
)

// BalanceTracker maintains in-memory custodial balances and records every
// movement as a journal in the open batch.
//
// External boundary accounts never go negative: they count value that has
// entered (deposits) or left (withdrawals), so the internal total always
// equals deposits minus withdrawals.
type BalanceTracker struct {
	balances map[AccountKey]uint64
	floors   map[RecordKind]uint64
	batch    *Batch
}

// NewBalanceTracker creates a tracker with per-kind reserve floors.
func NewBalanceTracker(floors map[RecordKind]uint64) *BalanceTracker {
	f := make(map[RecordKind]uint64, len(floors))
	for k, v := range floors {
		f[k] = v
	}
	return &BalanceTracker{
		balances: make(map[AccountKey]uint64),
		floors:   f,
	}
}

// Begin opens a batch that collects journals until Commit.
func (bt *BalanceTracker) Begin(eventRef string, sequence, timestamp int64) {
	bt.batch = NewBatch(eventRef, sequence, timestamp)
}

// Commit returns the open batch and closes it.
func (bt *BalanceTracker) Commit() *Batch {
	b := bt.batch
	bt.batch = nil
	if b == nil {
		b = NewBatch("", 0, 0)
	}
	return b
}

// Balance returns the current balance for an account.
func (bt *BalanceTracker) Balance(key AccountKey) uint64 {
	return bt.balances[key]
}

// MinimumReserveFloor returns the balance a record of kind must retain.
func (bt *BalanceTracker) MinimumReserveFloor(kind RecordKind) uint64 {
	return bt.floors[kind]
}

// Transfer applies all legs atomically: either every leg lands or none does.
// Zero-amount legs are skipped.
func (bt *BalanceTracker) Transfer(legs ...Leg) error {
	next := make(map[AccountKey]uint64, 2*len(legs))
	get := func(k AccountKey) uint64 {
		if v, ok := next[k]; ok {
			return v
		}
		return bt.balances[k]
	}

	for _, leg := range legs {
		if leg.Amount == 0 {
			continue
		}
		if leg.From == leg.To {
			return fmt.Errorf("transfer %s to itself", leg.From.AccountPath())
		}

		if leg.From.IsExternal() {
			if leg.From != ExternalDepositsKey() {
				return fmt.Errorf("value cannot enter from %s", leg.From.AccountPath())
			}
			in := get(leg.From) + leg.Amount
			if in < leg.Amount {
				return errs.ErrMathOverflow
			}
			next[leg.From] = in
		} else {
			have := get(leg.From)
			if have < leg.Amount {
				return fmt.Errorf("%s has %d, needs %d: %w",
					leg.From.AccountPath(), have, leg.Amount, errs.ErrInsufficientBalance)
			}
			next[leg.From] = have - leg.Amount
		}

		if leg.To.IsExternal() && leg.To != ExternalWithdrawalsKey() {
			return fmt.Errorf("value cannot leave to %s", leg.To.AccountPath())
		}
		to := get(leg.To) + leg.Amount
		if to < leg.Amount {
			return errs.ErrMathOverflow
		}
		next[leg.To] = to
	}

	for k, v := range next {
		bt.balances[k] = v
	}
	if bt.batch == nil {
		bt.batch = NewBatch("", 0, 0)
	}
	for _, leg := range legs {
		if leg.Amount > 0 {
			bt.batch.append(leg)
		}
	}
	return nil
}

// ComputeConservation returns the internal total alongside net external flow.
func (bt *BalanceTracker) ComputeConservation() (internal, netExternal uint64) {
	for key, balance := range bt.balances {
		if !key.IsExternal() {
			internal += balance
		}
	}
	return internal, bt.balances[ExternalDepositsKey()] - bt.balances[ExternalWithdrawalsKey()]
}

// Snapshot returns a copy of all balances
func (bt *BalanceTracker) Snapshot() map[AccountKey]uint64 {
	snapshot := make(map[AccountKey]uint64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances, used when loading a snapshot.
func (bt *BalanceTracker) Restore(balances map[AccountKey]uint64) {
	bt.balances = make(map[AccountKey]uint64, len(balances))
	for k, v := range balances {
		bt.balances[k] = v
	}
}

// SortedKeys returns every account with a balance entry in a stable order.
func (bt *BalanceTracker) SortedKeys() []AccountKey {
	keys := make([]AccountKey, 0, len(bt.balances))
	for k := range bt.balances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		return string(keys[i].EntityID[:]) < string(keys[j].EntityID[:])
	})
	return keys
}
