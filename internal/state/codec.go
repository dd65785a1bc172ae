package state

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// marketJSON flattens the phase into optional blocks so snapshots and
// projections can round-trip a Market.
type marketJSON struct {
	ID                  uint64      `json:"id"`
	Creator             uuid.UUID   `json:"creator"`
	Question            string      `json:"question"`
	ResolutionSource    string      `json:"resolution_source"`
	YesReserve          uint64      `json:"yes_reserve"`
	NoReserve           uint64      `json:"no_reserve"`
	TotalMinted         uint64      `json:"total_minted"`
	InitialLiquidity    uint64      `json:"initial_liquidity"`
	SwapFeeBps          uint16      `json:"swap_fee_bps"`
	TreasuryRakeBps     uint16      `json:"treasury_rake_bps"`
	CreatorRakeBps      uint16      `json:"creator_rake_bps"`
	ResolutionTimestamp int64       `json:"resolution_timestamp"`
	CreatedAt           int64       `json:"created_at"`
	Status              string      `json:"status"`
	Resolved            *Resolved   `json:"resolved,omitempty"`
	Voided              *Voided     `json:"voided,omitempty"`
	Closed              *closedJSON `json:"closed,omitempty"`
}

type closedJSON struct {
	ClosedAt int64  `json:"closed_at"`
	From     string `json:"from"`
}

func (m Market) MarshalJSON() ([]byte, error) {
	out := marketJSON{
		ID:                  m.ID,
		Creator:             m.Creator,
		Question:            m.Question,
		ResolutionSource:    m.ResolutionSource,
		YesReserve:          m.YesReserve,
		NoReserve:           m.NoReserve,
		TotalMinted:         m.TotalMinted,
		InitialLiquidity:    m.InitialLiquidity,
		SwapFeeBps:          m.SwapFeeBps,
		TreasuryRakeBps:     m.TreasuryRakeBps,
		CreatorRakeBps:      m.CreatorRakeBps,
		ResolutionTimestamp: m.ResolutionTimestamp,
		CreatedAt:           m.CreatedAt,
		Status:              m.Status().String(),
	}
	switch p := m.Phase.(type) {
	case Resolved:
		out.Resolved = &p
	case Voided:
		out.Voided = &p
	case Closed:
		out.Closed = &closedJSON{ClosedAt: p.ClosedAt, From: p.From.String()}
	}
	return json.Marshal(out)
}

func (m *Market) UnmarshalJSON(b []byte) error {
	var in marketJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*m = Market{
		ID:                  in.ID,
		Creator:             in.Creator,
		Question:            in.Question,
		ResolutionSource:    in.ResolutionSource,
		YesReserve:          in.YesReserve,
		NoReserve:           in.NoReserve,
		TotalMinted:         in.TotalMinted,
		InitialLiquidity:    in.InitialLiquidity,
		SwapFeeBps:          in.SwapFeeBps,
		TreasuryRakeBps:     in.TreasuryRakeBps,
		CreatorRakeBps:      in.CreatorRakeBps,
		ResolutionTimestamp: in.ResolutionTimestamp,
		CreatedAt:           in.CreatedAt,
	}

	status, err := ParseMarketStatus(in.Status)
	if err != nil {
		return err
	}
	switch status {
	case MarketStatusOpen:
		m.Phase = Open{}
	case MarketStatusResolved:
		if in.Resolved == nil {
			return fmt.Errorf("market %d: resolved without resolution block", in.ID)
		}
		m.Phase = *in.Resolved
	case MarketStatusVoided:
		if in.Voided == nil {
			return fmt.Errorf("market %d: voided without void block", in.ID)
		}
		m.Phase = *in.Voided
	case MarketStatusClosed:
		if in.Closed == nil {
			return fmt.Errorf("market %d: closed without close block", in.ID)
		}
		from, err := ParseMarketStatus(in.Closed.From)
		if err != nil {
			return err
		}
		m.Phase = Closed{ClosedAt: in.Closed.ClosedAt, From: from}
	}
	return nil
}

// ParseMarketStatus maps a status name back to its value.
func ParseMarketStatus(name string) (MarketStatus, error) {
	for _, s := range []MarketStatus{MarketStatusOpen, MarketStatusResolved, MarketStatusVoided, MarketStatusClosed} {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown market status %q", name)
}
