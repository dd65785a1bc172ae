package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"PredictLedger/internal/core"
	"PredictLedger/internal/event"

	"github.com/google/uuid"
)

// snapshotFormatVersion tags the JSON layout of core.SnapshotState.
const snapshotFormatVersion = 1

// SnapshotManager stores processor snapshots and reads the command log back
// for recovery. On warm restart the latest verified snapshot is loaded and
// commands from its sequence onward are replayed.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotRecord is a stored snapshot and its encoded form.
type SnapshotRecord struct {
	ID        uuid.UUID
	Sequence  int64
	Data      []byte
	CreatedAt time.Time
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot as unverified and returns what was stored.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *core.SnapshotState, createdAt time.Time) (*SnapshotRecord, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	rec := &SnapshotRecord{
		ID:        uuid.New(),
		Sequence:  snap.Sequence,
		Data:      data,
		CreatedAt: createdAt,
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, rec.ID, snap.Sequence, data, snap.StateHash[:], snapshotFormatVersion, len(data), createdAt)
	if err != nil {
		return nil, fmt.Errorf("insert snapshot %d: %w", snap.Sequence, err)
	}
	return rec, nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error) {
	var data []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE AND format_version = $1
		ORDER BY sequence DESC
		LIMIT 1
	`, snapshotFormatVersion).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as safe to restore from.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// SetArchivedKey records where a snapshot was archived.
func (sm *SnapshotManager) SetArchivedKey(ctx context.Context, sequence int64, key string) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET archived_key = $2 WHERE sequence = $1
	`, sequence, key)
	if err != nil {
		return fmt.Errorf("set archived key %d: %w", sequence, err)
	}
	return nil
}

// LoadCommandsFrom loads logged envelopes from fromSequence onward, in order.
func (sm *SnapshotManager) LoadCommandsFrom(ctx context.Context, fromSequence int64, limit int) ([]*event.Envelope, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, command_type, idempotency_key, market_id, caller, payload, result,
		       state_hash, prev_hash, timestamp, source, source_sequence
		FROM event_log.commands
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var envelopes []*event.Envelope
	for rows.Next() {
		var (
			r        EventRow
			marketID sql.NullInt64
		)
		if err := rows.Scan(
			&r.Sequence, &r.CommandType, &r.IdempotencyKey, &marketID, &r.Caller,
			&r.Payload, &r.Result, &r.StateHash, &r.PrevHash, &r.Timestamp,
			&r.Source, &r.SourceSequence,
		); err != nil {
			return nil, err
		}
		if marketID.Valid {
			r.MarketID = &marketID.Int64
		}
		env, err := r.Envelope()
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, rows.Err()
}

// RecentIdempotencyKeys returns the newest keys in the log, oldest first, for
// warming the dedup cache.
func (sm *SnapshotManager) RecentIdempotencyKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT command_type, idempotency_key FROM (
			SELECT sequence, command_type, idempotency_key
			FROM event_log.commands
			ORDER BY sequence DESC
			LIMIT $1
		) recent ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var commandType, key string
		if err := rows.Scan(&commandType, &key); err != nil {
			return nil, err
		}
		keys = append(keys, core.CompositeKey(commandType, key))
	}
	return keys, rows.Err()
}

// GetLatestSequence returns the highest sequence in the log, or -1 when the
// log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.commands
	`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// Envelope rebuilds the logged envelope from its row.
func (r EventRow) Envelope() (*event.Envelope, error) {
	ct, ok := event.ParseCommandType(r.CommandType)
	if !ok {
		return nil, fmt.Errorf("seq %d: unknown command type %q", r.Sequence, r.CommandType)
	}
	caller, err := uuid.Parse(r.Caller)
	if err != nil {
		return nil, fmt.Errorf("seq %d caller: %w", r.Sequence, err)
	}

	env := &event.Envelope{
		Sequence:       r.Sequence,
		IdempotencyKey: r.IdempotencyKey,
		CommandType:    ct,
		Caller:         caller,
		Timestamp:      r.Timestamp.Unix(),
		Source:         r.Source,
		SourceSequence: r.SourceSequence,
		Payload:        r.Payload,
		Result:         r.Result,
	}
	if r.MarketID != nil {
		id := uint64(*r.MarketID)
		env.MarketID = &id
	}
	if copy(env.StateHash[:], r.StateHash) != len(env.StateHash) {
		return nil, fmt.Errorf("seq %d: state hash has %d bytes", r.Sequence, len(r.StateHash))
	}
	if copy(env.PrevHash[:], r.PrevHash) != len(env.PrevHash) {
		return nil, fmt.Errorf("seq %d: prev hash has %d bytes", r.Sequence, len(r.PrevHash))
	}
	return env, nil
}
