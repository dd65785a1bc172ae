package event

import (
	"github.com/google/uuid"
)

// CommandType discriminator for command payloads
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeInitializeConfig
	CommandTypeUpdateConfig
	CommandTypeTogglePause
	CommandTypeTransferAuthority
	CommandTypeDeposit
	CommandTypeWithdraw
	CommandTypeCreateMarket
	CommandTypeBuy
	CommandTypeSell
	CommandTypeResolveMarket
	CommandTypeVoidMarket
	CommandTypeReclaimStaleMarket
	CommandTypeClaimWinnings
	CommandTypeClaimRefund
	CommandTypeClaimCreatorFee
	CommandTypeClaimTreasuryFee
	CommandTypeCloseMarket
	CommandTypeClosePosition
)

var commandTypeNames = map[CommandType]string{
	CommandTypeInitializeConfig:   "InitializeConfig",
	CommandTypeUpdateConfig:       "UpdateConfig",
	CommandTypeTogglePause:        "TogglePause",
	CommandTypeTransferAuthority:  "TransferAuthority",
	CommandTypeDeposit:            "Deposit",
	CommandTypeWithdraw:           "Withdraw",
	CommandTypeCreateMarket:       "CreateMarket",
	CommandTypeBuy:                "Buy",
	CommandTypeSell:               "Sell",
	CommandTypeResolveMarket:      "ResolveMarket",
	CommandTypeVoidMarket:         "VoidMarket",
	CommandTypeReclaimStaleMarket: "ReclaimStaleMarket",
	CommandTypeClaimWinnings:      "ClaimWinnings",
	CommandTypeClaimRefund:        "ClaimRefund",
	CommandTypeClaimCreatorFee:    "ClaimCreatorFee",
	CommandTypeClaimTreasuryFee:   "ClaimTreasuryFee",
	CommandTypeCloseMarket:        "CloseMarket",
	CommandTypeClosePosition:      "ClosePosition",
}

func (ct CommandType) String() string {
	if name, ok := commandTypeNames[ct]; ok {
		return name
	}
	return "Unknown"
}

// ParseCommandType maps a wire name back to its CommandType.
func ParseCommandType(name string) (CommandType, bool) {
	for ct, n := range commandTypeNames {
		if n == name {
			return ct, true
		}
	}
	return CommandTypeUnknown, false
}

// AllCommandTypes lists every command in declaration order.
func AllCommandTypes() []CommandType {
	out := make([]CommandType, 0, len(commandTypeNames))
	for ct := CommandTypeInitializeConfig; ct <= CommandTypeClosePosition; ct++ {
		out = append(out, ct)
	}
	return out
}

// Envelope wraps every applied command in the log
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	CommandType CommandType

	// Market context (nil for platform and wallet commands)
	MarketID *uint64

	Caller uuid.UUID

	// Versioned input timestamp, unix seconds (NOT wall-clock)
	Timestamp int64

	// Upstream partition and sequence for ordering validation
	Source         string
	SourceSequence int64

	// JSON-encoded command and result
	Payload []byte
	Result  []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Command is the interface all command payloads must implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() CommandType

	// MarketID returns the market context (nil for global commands)
	MarketID() *uint64

	// CallerID is the authenticated identity issuing the command
	CallerID() uuid.UUID

	// Time is the versioned input timestamp in unix seconds
	Time() int64

	// SourcePartition and SourceSequence locate the command upstream
	SourcePartition() string
	SourceSequence() int64
}

// Meta carries the fields every command shares.
type Meta struct {
	CommandID uuid.UUID `json:"command_id" validate:"required"`
	Caller    uuid.UUID `json:"caller" validate:"required"`
	Timestamp int64     `json:"timestamp" validate:"gt=0"`
	Source    string    `json:"-"`
	Sequence  int64     `json:"-"`
}

func (m *Meta) IdempotencyKey() string  { return m.CommandID.String() }
func (m *Meta) CallerID() uuid.UUID     { return m.Caller }
func (m *Meta) Time() int64             { return m.Timestamp }
func (m *Meta) SourcePartition() string { return m.Source }
func (m *Meta) SourceSequence() int64   { return m.Sequence }

// Stamp sets the command time, replacing whatever the producer sent.
func (m *Meta) Stamp(unixSeconds int64) {
	m.Timestamp = unixSeconds
}

// Locate records where the command was read from.
func (m *Meta) Locate(source string, sequence int64) {
	m.Source = source
	m.Sequence = sequence
}

func marketRef(id uint64) *uint64 {
	return &id
}
