package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeMarketSeed
	JournalTypeRecordFloor
	JournalTypeBuy
	JournalTypeSell
	JournalTypeWinnings
	JournalTypeRefund
	JournalTypeTreasuryFee
	JournalTypeCreatorFee
	JournalTypeRecordClose
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeWithdrawal:
		return "withdrawal"
	case JournalTypeMarketSeed:
		return "market_seed"
	case JournalTypeRecordFloor:
		return "record_floor"
	case JournalTypeBuy:
		return "buy"
	case JournalTypeSell:
		return "sell"
	case JournalTypeWinnings:
		return "winnings"
	case JournalTypeRefund:
		return "refund"
	case JournalTypeTreasuryFee:
		return "treasury_fee"
	case JournalTypeCreatorFee:
		return "creator_fee"
	case JournalTypeRecordClose:
		return "record_close"
	default:
		return "unknown"
	}
}

// Leg is one requested movement of value.
type Leg struct {
	From   AccountKey
	To     AccountKey
	Amount uint64
	Type   JournalType
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string      // Idempotency key of source command
	Sequence      int64       // Global command sequence
	DebitAccount  AccountKey  // balance increases
	CreditAccount AccountKey  // balance decreases
	Amount        uint64      // always positive
	JournalType   JournalType
	Timestamp     int64 // command timestamp (unix seconds)
}

// Batch represents the journals produced by one command
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// NewBatch opens an empty batch for one command.
func NewBatch(eventRef string, sequence, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
	}
}

// Validate ensures the batch is well-formed. Each journal moves one positive
// amount between two distinct accounts, so debits equal credits per entry.
// State-only commands produce empty batches, which are valid.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount == 0 {
			return fmt.Errorf("journal %s has zero amount", j.JournalID)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
	}
	return nil
}

// TotalFor sums the journals of one type.
func (b *Batch) TotalFor(t JournalType) uint64 {
	var total uint64
	for _, j := range b.Journals {
		if j.JournalType == t {
			total += j.Amount
		}
	}
	return total
}

func (b *Batch) append(leg Leg) {
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  leg.To,
		CreditAccount: leg.From,
		Amount:        leg.Amount,
		JournalType:   leg.Type,
		Timestamp:     b.Timestamp,
	})
}
