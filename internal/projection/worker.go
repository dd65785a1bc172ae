package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"PredictLedger/internal/core"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/persistence"
	"PredictLedger/internal/state"

	"github.com/rs/zerolog"
)

const watermarkWorker = "main"

// ProjectionWorker updates the read-model tables from applied commands.
// The projection channel is non-blocking with drop, so a lagging worker
// loses updates; RebuildProjections restores them from the command log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	history   *TradeHistory
	metrics   *observability.Metrics
	log       zerolog.Logger
	lastSeq   int64
}

// NewProjectionWorker creates a worker. history and metrics may be nil.
func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, history *TradeHistory, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		history:   history,
		metrics:   metrics,
		log:       observability.NewLogger("projection"),
		lastSeq:   -1,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			seq := output.Envelope.Sequence
			if pw.lastSeq >= 0 && seq > pw.lastSeq+1 {
				pw.log.Warn().Int64("from", pw.lastSeq+1).Int64("to", seq-1).
					Msg("projection gap; outputs were dropped, rebuild to recover")
			}

			if err := pw.Apply(ctx, output); err != nil {
				// Projections are eventually consistent and can be rebuilt
				// from the command log.
				pw.log.Warn().Err(err).Int64("sequence", seq).Msg("projection update failed")
				if pw.metrics != nil {
					pw.metrics.ProjectionErrors.WithLabelValues("apply").Inc()
				}
			}
			pw.lastSeq = seq
		}
	}
}

// Apply writes one output's effects to the projection tables in a single
// transaction.
func (pw *ProjectionWorker) Apply(ctx context.Context, out core.CoreOutput) error {
	start := time.Now()
	seq := out.Envelope.Sequence

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := applyTouched(ctx, tx, seq, out.Touched); err != nil {
		return err
	}

	trade, isTrade := TradeFromOutput(out)
	if isTrade {
		if err := insertTrade(ctx, tx, trade); err != nil {
			return fmt.Errorf("trade projection: %w", err)
		}
	}

	if err := setWatermark(ctx, tx, seq); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if isTrade && pw.history != nil {
		pw.history.Add(trade)
	}
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(out.Envelope.CommandType.String()).
			Observe(time.Since(start).Seconds())
	}
	return nil
}

func applyTouched(ctx context.Context, tx *sql.Tx, seq int64, t core.Touched) error {
	for key, balance := range t.Balances {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (account_path, balance, last_sequence)
			VALUES ($1, $2, $3)
			ON CONFLICT (account_path)
			DO UPDATE SET balance = $2, last_sequence = $3
		`, key.AccountPath(), strconv.FormatUint(balance, 10), seq); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if t.Config != nil {
		if err := upsertJSON(ctx, tx, `
			INSERT INTO projections.config (id, record, last_sequence)
			VALUES (1, $1, $2)
			ON CONFLICT (id) DO UPDATE SET record = $1, last_sequence = $2
		`, t.Config, seq); err != nil {
			return fmt.Errorf("config projection: %w", err)
		}
	}

	if t.Market != nil {
		if err := upsertMarket(ctx, tx, seq, t.Market); err != nil {
			return fmt.Errorf("market projection: %w", err)
		}
	}

	if t.Position != nil {
		if err := upsertPosition(ctx, tx, seq, t.Position); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
	}

	if t.Profile != nil {
		if err := upsertJSON(ctx, tx, `
			INSERT INTO projections.profiles (creator, record, last_sequence)
			VALUES ($3, $1, $2)
			ON CONFLICT (creator) DO UPDATE SET record = $1, last_sequence = $2
		`, t.Profile, seq, t.Profile.Creator); err != nil {
			return fmt.Errorf("profile projection: %w", err)
		}
	}
	return nil
}

func upsertJSON(ctx context.Context, tx *sql.Tx, query string, record any, seq int64, extra ...any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	args := append([]any{data, seq}, extra...)
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}

func upsertMarket(ctx context.Context, tx *sql.Tx, seq int64, m *state.Market) error {
	record, err := json.Marshal(m)
	if err != nil {
		return err
	}

	var (
		outcome         sql.NullString
		challengeEndsAt sql.NullInt64
		treasuryFee     sql.NullString
		creatorFee      sql.NullString
	)
	if r, ok := m.Resolution(); ok {
		outcome = sql.NullString{String: r.Outcome.String(), Valid: true}
		challengeEndsAt = sql.NullInt64{Int64: r.ChallengeEndsAt, Valid: true}
		treasuryFee = sql.NullString{String: strconv.FormatUint(r.TreasuryFee, 10), Valid: true}
		creatorFee = sql.NullString{String: strconv.FormatUint(r.CreatorFee, 10), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projections.markets
			(market_id, creator, question, resolution_source, status,
			 yes_reserve, no_reserve, total_minted, initial_liquidity,
			 swap_fee_bps, treasury_rake_bps, creator_rake_bps,
			 resolution_timestamp, created_at,
			 outcome, challenge_ends_at, treasury_fee, creator_fee,
			 record, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (market_id) DO UPDATE SET
			status = EXCLUDED.status,
			yes_reserve = EXCLUDED.yes_reserve,
			no_reserve = EXCLUDED.no_reserve,
			total_minted = EXCLUDED.total_minted,
			outcome = EXCLUDED.outcome,
			challenge_ends_at = EXCLUDED.challenge_ends_at,
			treasury_fee = EXCLUDED.treasury_fee,
			creator_fee = EXCLUDED.creator_fee,
			record = EXCLUDED.record,
			last_sequence = EXCLUDED.last_sequence
	`,
		int64(m.ID), m.Creator, m.Question, m.ResolutionSource, m.Status().String(),
		strconv.FormatUint(m.YesReserve, 10), strconv.FormatUint(m.NoReserve, 10),
		strconv.FormatUint(m.TotalMinted, 10), strconv.FormatUint(m.InitialLiquidity, 10),
		int(m.SwapFeeBps), int(m.TreasuryRakeBps), int(m.CreatorRakeBps),
		m.ResolutionTimestamp, m.CreatedAt,
		outcome, challengeEndsAt, treasuryFee, creatorFee,
		record, seq,
	)
	return err
}

func upsertPosition(ctx context.Context, tx *sql.Tx, seq int64, p *state.Position) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions
			(market_id, user_id, yes_shares, no_shares, claimed, closed, created_at, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (market_id, user_id) DO UPDATE SET
			yes_shares = EXCLUDED.yes_shares,
			no_shares = EXCLUDED.no_shares,
			claimed = EXCLUDED.claimed,
			closed = EXCLUDED.closed,
			last_sequence = EXCLUDED.last_sequence
	`,
		int64(p.MarketID), p.User,
		strconv.FormatUint(p.YesShares, 10), strconv.FormatUint(p.NoShares, 10),
		p.Claimed, p.Closed, p.CreatedAt, seq,
	)
	return err
}

func insertTrade(ctx context.Context, tx *sql.Tx, t Trade) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.trades
			(sequence, market_id, user_id, direction, side, amount, shares, fee, price_yes_bps, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (sequence) DO NOTHING
	`,
		t.Sequence, int64(t.MarketID), t.UserID, t.Direction, t.Side,
		strconv.FormatUint(t.Amount, 10), strconv.FormatUint(t.Shares, 10),
		strconv.FormatUint(t.Fee, 10), int64(t.PriceYesBps), t.Timestamp,
	)
	return err
}

func setWatermark(ctx context.Context, tx *sql.Tx, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, watermarkWorker, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}

// RebuildProjections truncates every projection table and rebuilds it by
// replaying the command log through a fresh processor. Each replayed command
// is hash-checked against the log.
func RebuildProjections(ctx context.Context, db *sql.DB, snapMgr *persistence.SnapshotManager, pageSize int) error {
	log := observability.NewLogger("projection")

	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.markets`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.profiles`,
		`TRUNCATE projections.config`,
		`TRUNCATE projections.trades`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	worker := NewProjectionWorker(db, nil, nil, nil)
	replayer := core.NewProcessor(0, core.Outputs{}, 1, nil, nil, nil)

	var from int64
	for {
		envelopes, err := snapMgr.LoadCommandsFrom(ctx, from, pageSize)
		if err != nil {
			return fmt.Errorf("load commands from %d: %w", from, err)
		}
		for _, env := range envelopes {
			out, err := replayer.ReplayOutput(env)
			if err != nil {
				return err
			}
			if err := worker.Apply(ctx, *out); err != nil {
				return fmt.Errorf("apply seq %d: %w", env.Sequence, err)
			}
		}
		if len(envelopes) < pageSize {
			break
		}
		from = envelopes[len(envelopes)-1].Sequence + 1
	}

	log.Info().Int64("sequence", replayer.Sequence()).Msg("projection rebuild complete")
	return nil
}
