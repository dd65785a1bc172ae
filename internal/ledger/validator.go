package ledger

import "fmt"

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies every journal in the batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateConservation verifies internal balances equal deposits minus withdrawals
func (v *InvariantValidator) ValidateConservation() error {
	internal, external := v.tracker.ComputeConservation()
	if internal != external {
		return fmt.Errorf("internal balances %d != net external flow %d", internal, external)
	}
	return nil
}

// ValidateRecordFloor verifies a live record still holds its reserve floor
func (v *InvariantValidator) ValidateRecordFloor(key AccountKey) error {
	floor := v.tracker.MinimumReserveFloor(key.Kind)
	if balance := v.tracker.Balance(key); balance < floor {
		return fmt.Errorf("%s holds %d below floor %d", key.AccountPath(), balance, floor)
	}
	return nil
}
