package projection

import (
	"sync"

	"PredictLedger/internal/core"
	"PredictLedger/internal/event"

	"github.com/google/uuid"
)

// Trade is one applied Buy or Sell as the read side sees it.
type Trade struct {
	Sequence    int64     `json:"sequence"`
	MarketID    uint64    `json:"market_id"`
	UserID      uuid.UUID `json:"user_id"`
	Direction   string    `json:"direction"` // buy or sell
	Side        string    `json:"side"`
	Amount      uint64    `json:"amount"` // value paid in (buy) or out (sell)
	Shares      uint64    `json:"shares"`
	Fee         uint64    `json:"fee"`
	PriceYesBps uint64    `json:"price_yes_bps"` // after the trade
	Timestamp   int64     `json:"timestamp"`
}

// TradeFromOutput extracts the trade an output records, if it is one.
func TradeFromOutput(out core.CoreOutput) (Trade, bool) {
	env := out.Envelope
	var direction string
	switch env.CommandType {
	case event.CommandTypeBuy:
		direction = "buy"
	case event.CommandTypeSell:
		direction = "sell"
	default:
		return Trade{}, false
	}
	if env.MarketID == nil {
		return Trade{}, false
	}
	res := out.Result
	return Trade{
		Sequence:    env.Sequence,
		MarketID:    *env.MarketID,
		UserID:      env.Caller,
		Direction:   direction,
		Side:        res.Side,
		Amount:      res.Amount,
		Shares:      res.Shares,
		Fee:         res.Fee,
		PriceYesBps: res.PriceYesBps,
		Timestamp:   env.Timestamp,
	}, true
}

// TradeHistory keeps the most recent trades in memory for the query side.
// Older trades are served from projections.trades.
type TradeHistory struct {
	mu       sync.RWMutex
	capacity int
	entries  []Trade
}

func NewTradeHistory(capacity int) *TradeHistory {
	if capacity <= 0 {
		capacity = 1
	}
	return &TradeHistory{capacity: capacity, entries: make([]Trade, 0, capacity)}
}

// Add records a trade, dropping the oldest once full.
func (h *TradeHistory) Add(t Trade) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == h.capacity {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:len(h.entries)-1]
	}
	h.entries = append(h.entries, t)
}

// QueryByUser returns up to limit of a user's trades, newest first.
func (h *TradeHistory) QueryByUser(userID uuid.UUID, limit int) []Trade {
	return h.query(limit, func(t Trade) bool { return t.UserID == userID })
}

// QueryByMarket returns up to limit of a market's trades, newest first.
func (h *TradeHistory) QueryByMarket(marketID uint64, limit int) []Trade {
	return h.query(limit, func(t Trade) bool { return t.MarketID == marketID })
}

func (h *TradeHistory) query(limit int, match func(Trade) bool) []Trade {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]Trade, 0)
	for i := len(h.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if match(h.entries[i]) {
			result = append(result, h.entries[i])
		}
	}
	return result
}
