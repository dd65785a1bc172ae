package core

import (
	"fmt"

	"PredictLedger/internal/errs"
	"PredictLedger/internal/ledger"

	"github.com/google/uuid"
)

// Ledger moves value between custodial records.
type Ledger interface {
	// Transfer applies every leg or none of them.
	Transfer(legs ...ledger.Leg) error
	Balance(key ledger.AccountKey) uint64
	MinimumReserveFloor(kind ledger.RecordKind) uint64
}

// Clock supplies the current time in unix seconds.
type Clock interface {
	Now() int64
}

// FixedClock always reports the same instant. The processor sets it to each
// command's versioned timestamp; the engine never reads wall-clock time.
type FixedClock struct {
	At int64
}

func (c *FixedClock) Now() int64 { return c.At }

// Role names the identity an operation requires.
type Role uint8

const (
	RoleAuthority Role = iota + 1
	RoleCreator
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleAuthority:
		return "authority"
	case RoleCreator:
		return "creator"
	case RoleOwner:
		return "owner"
	default:
		return "unknown"
	}
}

// AuthorityCheck is evaluated at the start of every privileged operation.
type AuthorityCheck interface {
	Authorize(caller, required uuid.UUID, role Role) error
}

// IdentityCheck authorizes a caller whose verified identity equals the
// required one. Signature verification happens upstream of the processor.
type IdentityCheck struct{}

func (IdentityCheck) Authorize(caller, required uuid.UUID, role Role) error {
	if caller != uuid.Nil && caller == required {
		return nil
	}

	var err error
	switch role {
	case RoleCreator:
		err = errs.ErrNotMarketCreator
	case RoleOwner:
		err = errs.ErrNotPositionOwner
	default:
		err = errs.ErrUnauthorized
	}
	return fmt.Errorf("caller %s is not the %s: %w", caller, role, err)
}
