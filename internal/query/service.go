package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"PredictLedger/internal/errs"
	pmath "PredictLedger/internal/math"
	"PredictLedger/internal/state"

	"github.com/google/uuid"
)

// QueryService provides read-only access to projection tables. Every
// response carries as_of_sequence, the last sequence the projections have
// applied, so clients can judge freshness.
type QueryService struct {
	db    *sql.DB
	units Units
}

func NewQueryService(db *sql.DB, units Units) *QueryService {
	return &QueryService{db: db, units: units}
}

// GetMarket returns one market.
func (qs *QueryService) GetMarket(ctx context.Context, marketID uint64) (*MarketView, error) {
	m, seq, err := qs.loadMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	view := qs.marketView(m)
	view.AsOfSequence = seq
	return &view, nil
}

// ListMarkets returns markets in id order, optionally filtered by status.
func (qs *QueryService) ListMarkets(ctx context.Context, status string, limit int, afterID *uint64) ([]MarketView, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT record FROM projections.markets WHERE TRUE`
	var args []any
	if status != "" {
		s, err := state.ParseMarketStatus(status)
		if err != nil {
			return nil, fmt.Errorf("status %q: %w", status, ErrInvalidArgument)
		}
		args = append(args, s.String())
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if afterID != nil {
		args = append(args, int64(*afterID))
		query += fmt.Sprintf(" AND market_id > $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY market_id LIMIT $%d", len(args))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []MarketView
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		var m state.Market
		if err := json.Unmarshal(record, &m); err != nil {
			return nil, fmt.Errorf("decode market record: %w", err)
		}
		view := qs.marketView(&m)
		view.AsOfSequence = asOfSeq
		markets = append(markets, view)
	}
	return markets, rows.Err()
}

// GetQuote prices a prospective trade on the projected pool.
func (qs *QueryService) GetQuote(ctx context.Context, marketID uint64, dir Direction, side state.Side, amount uint64) (*Quote, error) {
	m, seq, err := qs.loadMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	q, err := QuoteTrade(m, dir, side, amount)
	if err != nil {
		return nil, err
	}
	q.AsOfSequence = seq
	return &q, nil
}

// GetPosition returns a user's position in one market with a payout preview.
func (qs *QueryService) GetPosition(ctx context.Context, marketID uint64, userID uuid.UUID) (*PositionView, error) {
	m, _, err := qs.loadMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}

	row := qs.db.QueryRowContext(ctx, `
		SELECT market_id, user_id, yes_shares::TEXT, no_shares::TEXT, claimed, closed, created_at, last_sequence
		FROM projections.positions
		WHERE market_id = $1 AND user_id = $2
	`, int64(marketID), userID)
	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("market %d user %s: %w", marketID, userID, errs.ErrPositionNotFound)
	}
	if err != nil {
		return nil, err
	}
	return qs.positionView(m, pos)
}

// ListPositions returns every open record a user holds, newest market first.
func (qs *QueryService) ListPositions(ctx context.Context, userID uuid.UUID) ([]PositionView, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT p.market_id, p.user_id, p.yes_shares::TEXT, p.no_shares::TEXT,
		       p.claimed, p.closed, p.created_at, p.last_sequence, m.record
		FROM projections.positions p
		JOIN projections.markets m ON m.market_id = p.market_id
		WHERE p.user_id = $1 AND NOT p.closed
		ORDER BY p.market_id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionView
	for rows.Next() {
		var record []byte
		pos, err := scanPosition(rows, &record)
		if err != nil {
			return nil, err
		}
		var m state.Market
		if err := json.Unmarshal(record, &m); err != nil {
			return nil, fmt.Errorf("decode market record: %w", err)
		}
		view, err := qs.positionView(&m, pos)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *view)
	}
	return positions, rows.Err()
}

// GetConfig returns the projected platform config.
func (qs *QueryService) GetConfig(ctx context.Context) (*ConfigView, error) {
	var (
		record []byte
		seq    int64
	)
	err := qs.db.QueryRowContext(ctx, `
		SELECT record, last_sequence FROM projections.config WHERE id = 1
	`).Scan(&record, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrConfigMissing
	}
	if err != nil {
		return nil, err
	}

	view := &ConfigView{AsOfSequence: seq}
	if err := json.Unmarshal(record, &view.PlatformConfig); err != nil {
		return nil, fmt.Errorf("decode config record: %w", err)
	}
	return view, nil
}

// ListTrades returns a market's trades, newest first, before the given
// sequence when paging.
func (qs *QueryService) ListTrades(ctx context.Context, marketID uint64, limit int, beforeSeq *int64) ([]TradeView, error) {
	query := `
		SELECT sequence, market_id, user_id, direction, side,
		       amount::TEXT, shares::TEXT, fee::TEXT, price_yes_bps, timestamp
		FROM projections.trades
		WHERE market_id = $1
	`
	args := []any{int64(marketID)}
	if beforeSeq != nil {
		args = append(args, *beforeSeq)
		query += fmt.Sprintf(" AND sequence < $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", len(args))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeView
	for rows.Next() {
		var (
			t                   TradeView
			marketID            int64
			amount, shares, fee string
		)
		if err := rows.Scan(&t.Sequence, &marketID, &t.UserID, &t.Direction, &t.Side,
			&amount, &shares, &fee, &t.PriceYesBps, &t.Timestamp); err != nil {
			return nil, err
		}
		t.MarketID = uint64(marketID)
		if t.Amount, err = strconv.ParseUint(amount, 10, 64); err != nil {
			return nil, err
		}
		if t.Shares, err = strconv.ParseUint(shares, 10, 64); err != nil {
			return nil, err
		}
		if t.Fee, err = strconv.ParseUint(fee, 10, 64); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// GetJournalHistory returns journal entries touching an account with
// pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	accountPath string,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, amount::TEXT, journal_type,
		       EXTRACT(EPOCH FROM timestamp)::BIGINT
		FROM event_log.journal
		WHERE (debit_account = $1 OR credit_account = $1)
	`
	args := []any{accountPath}

	if beforeSequence != nil {
		args = append(args, *beforeSequence)
		query += fmt.Sprintf(" AND sequence < $%d", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", len(args))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var (
			e      JournalHistoryEntry
			amount string
		)
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		if e.Amount, err = strconv.ParseUint(amount, 10, 64); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the command log and the
// conservation of projected balances.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	report.AsOfSequence = asOfSeq

	rows, err := qs.db.QueryContext(ctx, `
		SELECT c.sequence
		FROM event_log.commands c
		JOIN event_log.commands p ON p.sequence = c.sequence - 1
		WHERE c.prev_hash <> p.state_hash
		ORDER BY c.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := qs.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(balance) FILTER (WHERE account_path NOT LIKE 'external:%'), 0)::TEXT,
			(COALESCE(SUM(balance) FILTER (WHERE account_path = 'external:deposits'), 0)
			 - COALESCE(SUM(balance) FILTER (WHERE account_path = 'external:withdrawals'), 0))::TEXT
		FROM projections.balances
	`).Scan(&report.InternalTotal, &report.NetExternal); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && report.InternalTotal == report.NetExternal
	return report, nil
}

// --- helpers ---

func (qs *QueryService) loadMarket(ctx context.Context, marketID uint64) (*state.Market, int64, error) {
	var (
		record []byte
		seq    int64
	)
	err := qs.db.QueryRowContext(ctx, `
		SELECT record, last_sequence FROM projections.markets WHERE market_id = $1
	`, int64(marketID)).Scan(&record, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("market %d: %w", marketID, errs.ErrMarketNotFound)
	}
	if err != nil {
		return nil, 0, err
	}

	var m state.Market
	if err := json.Unmarshal(record, &m); err != nil {
		return nil, 0, fmt.Errorf("decode market %d: %w", marketID, err)
	}
	return &m, seq, nil
}

func (qs *QueryService) marketView(m *state.Market) MarketView {
	price := pmath.PriceYesBps(m.YesReserve, m.NoReserve)
	v := MarketView{
		MarketID:            m.ID,
		Creator:             m.Creator,
		Question:            m.Question,
		ResolutionSource:    m.ResolutionSource,
		Status:              m.Status().String(),
		YesReserve:          m.YesReserve,
		NoReserve:           m.NoReserve,
		TotalMinted:         m.TotalMinted,
		TotalMintedDisplay:  qs.units.Amount(m.TotalMinted),
		InitialLiquidity:    m.InitialLiquidity,
		SwapFeeBps:          m.SwapFeeBps,
		TreasuryRakeBps:     m.TreasuryRakeBps,
		CreatorRakeBps:      m.CreatorRakeBps,
		PriceYesBps:         price,
		ProbabilityYes:      Probability(price),
		ResolutionTimestamp: m.ResolutionTimestamp,
		CreatedAt:           m.CreatedAt,
	}
	switch p := m.Phase.(type) {
	case state.Resolved:
		v.Resolution = &p
	case state.Voided:
		v.Void = &p
	}
	return v
}

func (qs *QueryService) positionView(m *state.Market, pos *projectedPosition) (*PositionView, error) {
	payout, err := PreviewPayout(m, &pos.Position)
	if err != nil {
		return nil, fmt.Errorf("payout preview for market %d: %w", m.ID, err)
	}
	return &PositionView{
		MarketID:     pos.MarketID,
		UserID:       pos.User,
		YesShares:    pos.YesShares,
		NoShares:     pos.NoShares,
		Claimed:      pos.Claimed,
		Closed:       pos.Closed,
		CreatedAt:    pos.CreatedAt,
		Payout:       payout,
		AsOfSequence: pos.lastSequence,
	}, nil
}

type projectedPosition struct {
	state.Position
	lastSequence int64
}

type scanner interface {
	Scan(dest ...any) error
}

// scanPosition reads the position columns, then any extra columns.
func scanPosition(row scanner, extra ...any) (*projectedPosition, error) {
	var (
		p        projectedPosition
		marketID int64
		yes, no  string
	)
	dest := append([]any{&marketID, &p.User, &yes, &no, &p.Claimed, &p.Closed, &p.CreatedAt, &p.lastSequence}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	p.MarketID = uint64(marketID)

	var err error
	if p.YesShares, err = strconv.ParseUint(yes, 10, 64); err != nil {
		return nil, err
	}
	if p.NoShares, err = strconv.ParseUint(no, 10, 64); err != nil {
		return nil, err
	}
	return &p, nil
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}
