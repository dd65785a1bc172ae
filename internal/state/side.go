package state

import (
	"fmt"
	"strings"

	"PredictLedger/internal/errs"
)

// Side is one half of a binary market. It doubles as the resolved outcome.
type Side uint8

const (
	SideYes Side = iota + 1
	SideNo
)

func (s Side) String() string {
	switch s {
	case SideYes:
		return "yes"
	case SideNo:
		return "no"
	default:
		return "unknown"
	}
}

// Valid reports whether s is YES or NO.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// ParseSide accepts "yes"/"no" (any case) and "true"/"false".
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true":
		return SideYes, nil
	case "no", "false":
		return SideNo, nil
	}
	return 0, fmt.Errorf("side %q: %w", v, errs.ErrInvalidSide)
}

// MarshalText encodes the side as "yes" or "no".
func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("side %d: %w", uint8(s), errs.ErrInvalidSide)
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
