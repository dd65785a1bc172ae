// Package sweeper reclaims markets left unresolved past the stale grace
// period by submitting ReclaimStaleMarket through the processor queue.
package sweeper

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"PredictLedger/internal/core"
	"PredictLedger/internal/errs"
	"PredictLedger/internal/event"
	"PredictLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine is the slice of the runner the sweeper needs.
type Engine interface {
	StaleMarkets(ctx context.Context, now int64) ([]uint64, error)
	Submit(ctx context.Context, cmd event.Command) (core.Outcome, error)
}

// reclaimNamespace keys reclaim command ids. One market is reclaimed at
// most once, so the id depends only on the market.
var reclaimNamespace = uuid.MustParse("0b6f1f0e-8c2d-4a57-b1e4-3d9a7c5e2f10")

// ReclaimCommandID is the idempotency key used for market's reclaim.
func ReclaimCommandID(market uint64) uuid.UUID {
	return uuid.NewSHA1(reclaimNamespace, []byte("reclaim:"+strconv.FormatUint(market, 10)))
}

// Sweeper periodically voids stale markets. Reclaim is permissionless; the
// operator identity only appears as the caller in the command log.
type Sweeper struct {
	engine   Engine
	operator uuid.UUID
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger

	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func New(engine Engine, operator uuid.UUID, interval time.Duration) *Sweeper {
	return &Sweeper{
		engine:   engine,
		operator: operator,
		interval: interval,
		now:      time.Now,
		log:      observability.NewLogger("sweeper"),
		stopCh:   make(chan struct{}),
	}
}

// WithClock replaces the wall clock, for tests.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Start runs the sweep loop in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop ends the loop and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("sweep failed")
			}
		}
	}
}

// SweepOnce reclaims every market stale at the current time and returns the
// ids it reclaimed. A market another caller reclaimed first is skipped.
func (s *Sweeper) SweepOnce(ctx context.Context) ([]uint64, error) {
	now := s.now().Unix()
	stale, err := s.engine.StaleMarkets(ctx, now)
	if err != nil {
		return nil, err
	}

	var reclaimed []uint64
	for _, id := range stale {
		cmd := &event.ReclaimStaleMarket{
			Meta: event.Meta{
				CommandID: ReclaimCommandID(id),
				Caller:    s.operator,
				Timestamp: now,
			},
			Market: id,
		}

		outcome, err := s.engine.Submit(ctx, cmd)
		if err != nil {
			return reclaimed, err
		}
		switch {
		case outcome.Duplicate:
			s.log.Debug().Uint64("market_id", id).Msg("reclaim already applied")
		case outcome.Err != nil:
			if errors.Is(outcome.Err, errs.ErrMarketNotOpen) || errors.Is(outcome.Err, errs.ErrMarketNotStale) {
				s.log.Debug().Err(outcome.Err).Uint64("market_id", id).Msg("market no longer reclaimable")
				continue
			}
			s.log.Error().Err(outcome.Err).Uint64("market_id", id).Msg("reclaim rejected")
		default:
			reclaimed = append(reclaimed, id)
			s.log.Info().Uint64("market_id", id).Int64("sequence", outcome.Output.Envelope.Sequence).Msg("stale market reclaimed")
		}
	}
	return reclaimed, nil
}

// RunnerEngine adapts a core.Runner to Engine.
type RunnerEngine struct {
	*core.Runner
}

// StaleMarkets lists stale market ids, read between commands.
func (r RunnerEngine) StaleMarkets(ctx context.Context, now int64) ([]uint64, error) {
	var ids []uint64
	err := r.Read(ctx, func(p *core.Processor) {
		for _, m := range p.Book().StaleMarkets(now) {
			ids = append(ids, m.ID)
		}
	})
	return ids, err
}
