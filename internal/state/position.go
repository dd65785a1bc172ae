package state

import (
	"encoding/binary"

	"PredictLedger/internal/errs"

	"github.com/google/uuid"
)

// positionNamespace scopes the deterministic ids derived for position records.
var positionNamespace = uuid.MustParse("6f1c8f9e-3b0a-4d55-9a4e-2f7b8c1d0e55")

// PositionKey addresses one (market, user) pair.
type PositionKey struct {
	MarketID uint64
	User     uuid.UUID
}

// EntityID derives a stable record id for ledger accounting.
func (k PositionKey) EntityID() uuid.UUID {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[:8], k.MarketID)
	copy(buf[8:], k.User[:])
	return uuid.NewSHA1(positionNamespace, buf[:])
}

// Position holds a user's shares in one market.
type Position struct {
	MarketID  uint64    `json:"market_id"`
	User      uuid.UUID `json:"user"`
	YesShares uint64    `json:"yes_shares"`
	NoShares  uint64    `json:"no_shares"`
	Claimed   bool      `json:"claimed"`
	Closed    bool      `json:"closed"`
	CreatedAt int64     `json:"created_at"`
}

// Key returns the position's address.
func (p *Position) Key() PositionKey {
	return PositionKey{MarketID: p.MarketID, User: p.User}
}

// Shares returns the balance held on side.
func (p *Position) Shares(side Side) uint64 {
	if side == SideYes {
		return p.YesShares
	}
	return p.NoShares
}

// WithCredit returns a copy holding n more shares of side.
func (p Position) WithCredit(side Side, n uint64) (Position, error) {
	cur := p.Shares(side)
	next := cur + n
	if next < cur {
		return Position{}, errs.ErrMathOverflow
	}
	p.setShares(side, next)
	return p, nil
}

// WithDebit returns a copy holding n fewer shares of side.
func (p Position) WithDebit(side Side, n uint64) (Position, error) {
	cur := p.Shares(side)
	if n > cur {
		return Position{}, errs.ErrInsufficientShares
	}
	p.setShares(side, cur-n)
	return p, nil
}

func (p *Position) setShares(side Side, n uint64) {
	if side == SideYes {
		p.YesShares = n
	} else {
		p.NoShares = n
	}
}

// CanonicalBytes returns deterministic serialization for hashing.
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 64)
	buf = appendUint64LE(buf, p.MarketID)
	buf = append(buf, p.User[:]...)
	buf = appendUint64LE(buf, p.YesShares)
	buf = appendUint64LE(buf, p.NoShares)
	buf = appendBool(buf, p.Claimed)
	buf = appendBool(buf, p.Closed)
	buf = appendInt64LE(buf, p.CreatedAt)
	return buf
}
