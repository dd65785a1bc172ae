package state

import (
	"sort"

	"github.com/google/uuid"
)

// Book holds every live record the processor mutates.
// Not thread-safe: only accessed from the single-threaded processor.
type Book struct {
	config    *PlatformConfig
	markets   map[uint64]*Market
	positions map[PositionKey]*Position
	profiles  map[uuid.UUID]*CreatorProfile
}

func NewBook() *Book {
	return &Book{
		markets:   make(map[uint64]*Market),
		positions: make(map[PositionKey]*Position),
		profiles:  make(map[uuid.UUID]*CreatorProfile),
	}
}

// Config returns the platform config, or nil before initialization.
func (b *Book) Config() *PlatformConfig {
	return b.config
}

// SetConfig installs the platform config (initialization and snapshot restore).
func (b *Book) SetConfig(cfg PlatformConfig) {
	b.config = &cfg
}

// GetMarket returns an existing market or nil
func (b *Book) GetMarket(id uint64) *Market {
	return b.markets[id]
}

// PutMarket stores a market record.
func (b *Book) PutMarket(m *Market) {
	b.markets[m.ID] = m
}

// GetPosition returns existing position or nil
func (b *Book) GetPosition(marketID uint64, user uuid.UUID) *Position {
	return b.positions[PositionKey{MarketID: marketID, User: user}]
}

// PositionOrBlank returns the stored position, or a blank record the engine
// initializes on first trade. Blank records are not stored until PutPosition.
func (b *Book) PositionOrBlank(marketID uint64, user uuid.UUID) *Position {
	if pos := b.GetPosition(marketID, user); pos != nil {
		return pos
	}
	return &Position{}
}

// PutPosition stores a position record.
func (b *Book) PutPosition(pos *Position) {
	b.positions[pos.Key()] = pos
}

// RemovePosition drops a closed position.
func (b *Book) RemovePosition(key PositionKey) {
	delete(b.positions, key)
}

// GetProfile returns a creator profile or nil
func (b *Book) GetProfile(creator uuid.UUID) *CreatorProfile {
	return b.profiles[creator]
}

// ProfileOrBlank returns the stored profile or a blank one.
func (b *Book) ProfileOrBlank(creator uuid.UUID) *CreatorProfile {
	if p := b.profiles[creator]; p != nil {
		return p
	}
	return &CreatorProfile{}
}

// PutProfile stores a creator profile.
func (b *Book) PutProfile(p *CreatorProfile) {
	b.profiles[p.Creator] = p
}

// Markets returns all markets ordered by id.
func (b *Book) Markets() []*Market {
	result := make([]*Market, 0, len(b.markets))
	for _, m := range b.markets {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Positions returns all positions ordered by market, then user.
func (b *Book) Positions() []*Position {
	result := make([]*Position, 0, len(b.positions))
	for _, pos := range b.positions {
		result = append(result, pos)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].MarketID != result[j].MarketID {
			return result[i].MarketID < result[j].MarketID
		}
		return result[i].User.String() < result[j].User.String()
	})
	return result
}

// MarketPositions returns the positions held in one market.
func (b *Book) MarketPositions(marketID uint64) []*Position {
	result := make([]*Position, 0)
	for _, pos := range b.Positions() {
		if pos.MarketID == marketID {
			result = append(result, pos)
		}
	}
	return result
}

// Profiles returns all creator profiles ordered by creator.
func (b *Book) Profiles() []*CreatorProfile {
	result := make([]*CreatorProfile, 0, len(b.profiles))
	for _, p := range b.profiles {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Creator.String() < result[j].Creator.String()
	})
	return result
}

// StaleMarkets returns open markets past the reclaim grace period at now.
func (b *Book) StaleMarkets(now int64) []*Market {
	result := make([]*Market, 0)
	for _, m := range b.Markets() {
		if m.CheckStale(now) == nil {
			result = append(result, m)
		}
	}
	return result
}
