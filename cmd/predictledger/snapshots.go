package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"PredictLedger/internal/archive"
	"PredictLedger/internal/core"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/persistence"
	"PredictLedger/internal/projection"

	"github.com/rs/zerolog"
)

const replayPageSize = 1000

// snapshotter takes snapshots from the running processor and serves the
// admin endpoints.
type snapshotter struct {
	db       *sql.DB
	runner   *core.Runner
	snapMgr  *persistence.SnapshotManager
	archiver *archive.Archiver // nil when archiving is off
	metrics  *observability.Metrics
	log      zerolog.Logger
}

// TakeSnapshot captures the processor state, waits for the command log to
// reach it, then marks it verified and archives it.
func (s *snapshotter) TakeSnapshot(ctx context.Context) (int64, error) {
	snap, err := s.runner.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("capture snapshot: %w", err)
	}

	rec, err := s.snapMgr.SaveSnapshot(ctx, snap, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	// A snapshot ahead of the durable log would skip commands on restore.
	if err := s.awaitLog(ctx, snap.Sequence-1); err != nil {
		return 0, err
	}
	if err := s.snapMgr.MarkVerified(ctx, snap.Sequence); err != nil {
		return 0, fmt.Errorf("mark snapshot %d verified: %w", snap.Sequence, err)
	}

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotSizeBytes.Set(float64(len(rec.Data)))
		s.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}

	if s.archiver != nil {
		if _, err := s.archiver.Archive(ctx, rec); err != nil {
			s.log.Warn().Err(err).Int64("sequence", snap.Sequence).Msg("snapshot archive failed")
		}
	}
	return snap.Sequence, nil
}

func (s *snapshotter) awaitLog(ctx context.Context, seq int64) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		latest, err := s.snapMgr.GetLatestSequence(ctx)
		if err != nil {
			return fmt.Errorf("latest sequence: %w", err)
		}
		if latest >= seq {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *snapshotter) RebuildProjections(ctx context.Context) error {
	return projection.RebuildProjections(ctx, s.db, s.snapMgr, replayPageSize)
}

// runPeriodicSnapshots snapshots whenever interval commands have been
// applied since the last one.
func (s *snapshotter) runPeriodicSnapshots(ctx context.Context, interval int64, checkEvery time.Duration) {
	if interval <= 0 {
		return
	}

	last := s.runner.Sequence()
	ticker := time.NewTicker(checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.runner.Sequence()-last < interval {
				continue
			}
			seq, err := s.TakeSnapshot(ctx)
			if err != nil {
				s.log.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			last = seq
			s.log.Info().Int64("sequence", seq).Msg("periodic snapshot")
		}
	}
}

// recoverProcessor rebuilds the processor from the latest verified snapshot plus the
// command log after it. Every replayed command is hash-checked.
func recoverProcessor(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	outputs core.Outputs,
	lruCapacity int,
	dbChecker core.DBIdempotencyChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) (*core.Processor, error) {
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var start int64
	if snap != nil {
		start = snap.Sequence
	}
	p := core.NewProcessor(start, outputs, lruCapacity, dbChecker, metrics, core.IdentityCheck{})

	if snap != nil {
		if err := p.RestoreFromSnapshot(snap); err != nil {
			return nil, fmt.Errorf("restore snapshot %d: %w", snap.Sequence, err)
		}
		log.Info().Int64("sequence", snap.Sequence).Msg("restored snapshot")
	} else {
		log.Info().Msg("no snapshot found, replaying from sequence 0")
	}

	// Keys newer than the snapshot come from the log itself.
	keys, err := snapMgr.RecentIdempotencyKeys(ctx, lruCapacity)
	if err != nil {
		return nil, fmt.Errorf("warm idempotency cache: %w", err)
	}
	p.WarmLRU(keys)

	var replayed int64
	from := start
	for {
		envelopes, err := snapMgr.LoadCommandsFrom(ctx, from, replayPageSize)
		if err != nil {
			return nil, fmt.Errorf("load commands from %d: %w", from, err)
		}
		for _, env := range envelopes {
			if err := p.Replay(env); err != nil {
				return nil, err
			}
			replayed++
		}
		if len(envelopes) < replayPageSize {
			break
		}
		from = envelopes[len(envelopes)-1].Sequence + 1
	}

	if replayed > 0 {
		log.Info().Int64("replayed", replayed).Int64("sequence", p.Sequence()).Msg("command log replayed")
	}
	return p, nil
}
