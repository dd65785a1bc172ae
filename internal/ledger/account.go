package ledger

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// RecordKind identifies what an account belongs to. Record accounts (config,
// market, position, profile) carry a minimum-reserve floor; wallets do not.
type RecordKind uint8

const (
	KindWallet RecordKind = iota
	KindConfig
	KindMarket
	KindPosition
	KindCreatorProfile
	KindExternal
)

func (k RecordKind) String() string {
	switch k {
	case KindWallet:
		return "wallet"
	case KindConfig:
		return "config"
	case KindMarket:
		return "market"
	case KindPosition:
		return "position"
	case KindCreatorProfile:
		return "profile"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// External boundary accounts
var (
	externalDeposits    = [16]byte{'d', 'e', 'p', 'o', 's', 'i', 't', 's'}
	externalWithdrawals = [16]byte{'w', 'i', 't', 'h', 'd', 'r', 'a', 'w', 'a', 'l', 's'}
)

// AccountKey is the in-memory key for balance tracking (17 bytes, comparable)
type AccountKey struct {
	Kind     RecordKind
	EntityID [16]byte
}

// WalletKey is a user's custodial balance.
func WalletKey(owner uuid.UUID) AccountKey {
	return AccountKey{Kind: KindWallet, EntityID: owner}
}

// MarketVaultKey is the market record's balance: pool value, frozen fees and
// its own reserve floor.
func MarketVaultKey(marketID uint64) AccountKey {
	var id [16]byte
	binary.LittleEndian.PutUint64(id[:8], marketID)
	return AccountKey{Kind: KindMarket, EntityID: id}
}

// PositionRecordKey holds the reserve floor paid for a position record.
func PositionRecordKey(entity uuid.UUID) AccountKey {
	return AccountKey{Kind: KindPosition, EntityID: entity}
}

// ProfileRecordKey holds the reserve floor paid for a creator profile.
func ProfileRecordKey(creator uuid.UUID) AccountKey {
	return AccountKey{Kind: KindCreatorProfile, EntityID: creator}
}

// ConfigRecordKey holds the reserve floor of the platform config record.
func ConfigRecordKey() AccountKey {
	return AccountKey{Kind: KindConfig}
}

// ExternalDepositsKey is where value enters the ledger.
func ExternalDepositsKey() AccountKey {
	return AccountKey{Kind: KindExternal, EntityID: externalDeposits}
}

// ExternalWithdrawalsKey is where value leaves the ledger.
func ExternalWithdrawalsKey() AccountKey {
	return AccountKey{Kind: KindExternal, EntityID: externalWithdrawals}
}

// IsExternal reports whether k sits on the ledger boundary.
func (k AccountKey) IsExternal() bool {
	return k.Kind == KindExternal
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Kind {
	case KindWallet, KindPosition, KindCreatorProfile:
		return fmt.Sprintf("%s:%s", k.Kind, uuid.UUID(k.EntityID))
	case KindMarket:
		return fmt.Sprintf("market:%d", binary.LittleEndian.Uint64(k.EntityID[:8]))
	case KindConfig:
		return "config"
	case KindExternal:
		switch k.EntityID {
		case externalDeposits:
			return "external:deposits"
		case externalWithdrawals:
			return "external:withdrawals"
		}
	}
	return "unknown"
}

// ReserveFloorForSize is the balance a record of size bytes must retain:
// (128 + size) bytes at 3480 units per byte-year, for two years.
func ReserveFloorForSize(size int) uint64 {
	return uint64(128+size) * 3480 * 2
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	switch path {
	case "config":
		return ConfigRecordKey(), nil
	case "external:deposits":
		return ExternalDepositsKey(), nil
	case "external:withdrawals":
		return ExternalWithdrawalsKey(), nil
	}

	prefix, rest, ok := strings.Cut(path, ":")
	if !ok {
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}
	switch prefix {
	case "market":
		id, err := strconv.ParseUint(rest, 10, 64)
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		return MarketVaultKey(id), nil
	case "wallet", "position", "profile":
		id, err := uuid.Parse(rest)
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		switch prefix {
		case "wallet":
			return WalletKey(id), nil
		case "position":
			return PositionRecordKey(id), nil
		default:
			return ProfileRecordKey(id), nil
		}
	}
	return AccountKey{}, fmt.Errorf("unknown account kind in %q", path)
}

// MarshalText lets account keys serve as JSON object keys.
func (k AccountKey) MarshalText() ([]byte, error) {
	return []byte(k.AccountPath()), nil
}

func (k *AccountKey) UnmarshalText(b []byte) error {
	key, err := ParseAccountPath(string(b))
	if err != nil {
		return err
	}
	*k = key
	return nil
}
