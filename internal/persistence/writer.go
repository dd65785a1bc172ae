package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"PredictLedger/internal/core"
)

// Execer is satisfied by *sql.DB and *sql.Tx, so batches can be written
// inside the caller's transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes the command log and its journals to Postgres using
// multi-row INSERTs. Rows that already exist are skipped, so a retried batch
// is harmless.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.commands
type EventRow struct {
	Sequence       int64
	CommandType    string
	IdempotencyKey string
	MarketID       *int64
	Caller         string
	Payload        []byte // JSON-encoded command
	Result         []byte // JSON-encoded result
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	Source         string
	SourceSequence int64
}

// JournalRow represents a row in event_log.journal. Amount is the decimal
// text of a uint64 so the full range fits a NUMERIC column.
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Amount        string
	JournalType   string
	Timestamp     time.Time
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// RowsFromOutput flattens one applied command into its log rows.
func RowsFromOutput(out core.CoreOutput) (EventRow, []JournalRow) {
	env := out.Envelope
	row := EventRow{
		Sequence:       env.Sequence,
		CommandType:    env.CommandType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Caller:         env.Caller.String(),
		Payload:        env.Payload,
		Result:         env.Result,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      time.Unix(env.Timestamp, 0).UTC(),
		Source:         env.Source,
		SourceSequence: env.SourceSequence,
	}
	if env.MarketID != nil {
		id := int64(*env.MarketID)
		row.MarketID = &id
	}

	if out.Batch == nil {
		return row, nil
	}
	journals := make([]JournalRow, 0, len(out.Batch.Journals))
	for _, j := range out.Batch.Journals {
		journals = append(journals, JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			Amount:        strconv.FormatUint(j.Amount, 10),
			JournalType:   j.JournalType.String(),
			Timestamp:     time.Unix(j.Timestamp, 0).UTC(),
		})
	}
	return row, journals
}

// WriteEventBatch writes a batch of commands to event_log.commands.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, exec Execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	const cols = 12
	query := `INSERT INTO event_log.commands
		(sequence, command_type, idempotency_key, market_id, caller, payload, result,
		 state_hash, prev_hash, timestamp, source, source_sequence)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*cols)

	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			e.Sequence, e.CommandType, e.IdempotencyKey, e.MarketID, e.Caller,
			e.Payload, e.Result, e.StateHash, e.PrevHash, e.Timestamp,
			e.Source, e.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	if _, err := exec.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert commands: %w", err)
	}
	return nil
}

// WriteJournalBatch writes a batch of journals to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, exec Execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	const cols = 9
	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account,
		 amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]any, 0, len(journals)*cols)

	for i, j := range journals {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.Amount, j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	if _, err := exec.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert journals: %w", err)
	}
	return nil
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for k := 1; k <= n; k++ {
		if k > 1 {
			b.WriteString(", ")
		}
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(base + k))
	}
	b.WriteByte(')')
	return b.String()
}
