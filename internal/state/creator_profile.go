package state

import (
	"PredictLedger/internal/errs"

	"github.com/google/uuid"
)

const (
	InitialReputation uint32 = 100
	VoidPenalty       uint32 = 10
)

// CreatorProfile keeps per-creator counters.
type CreatorProfile struct {
	Creator              uuid.UUID `json:"creator"`
	MarketsCreated       uint32    `json:"markets_created"`
	MarketsResolved      uint32    `json:"markets_resolved"`
	MarketsVoided        uint32    `json:"markets_voided"`
	TotalVolumeGenerated uint64    `json:"total_volume_generated"`
	TotalFeesEarned      uint64    `json:"total_fees_earned"`
	ReputationScore      uint32    `json:"reputation_score"`
}

// NewCreatorProfile starts a creator at full reputation.
func NewCreatorProfile(creator uuid.UUID) CreatorProfile {
	return CreatorProfile{Creator: creator, ReputationScore: InitialReputation}
}

func (p CreatorProfile) WithCreated() CreatorProfile {
	p.MarketsCreated++
	return p
}

func (p CreatorProfile) WithResolved(volume uint64) (CreatorProfile, error) {
	total := p.TotalVolumeGenerated + volume
	if total < p.TotalVolumeGenerated {
		return CreatorProfile{}, errs.ErrMathOverflow
	}
	p.MarketsResolved++
	p.TotalVolumeGenerated = total
	return p, nil
}

// WithVoided applies the reputation penalty, saturating at zero.
func (p CreatorProfile) WithVoided() CreatorProfile {
	p.MarketsVoided++
	if p.ReputationScore > VoidPenalty {
		p.ReputationScore -= VoidPenalty
	} else {
		p.ReputationScore = 0
	}
	return p
}

func (p CreatorProfile) WithFeesEarned(amount uint64) (CreatorProfile, error) {
	total := p.TotalFeesEarned + amount
	if total < p.TotalFeesEarned {
		return CreatorProfile{}, errs.ErrMathOverflow
	}
	p.TotalFeesEarned = total
	return p, nil
}

// CanonicalBytes returns deterministic serialization for hashing.
func (p *CreatorProfile) CanonicalBytes() []byte {
	buf := make([]byte, 0, 48)
	buf = append(buf, p.Creator[:]...)
	buf = appendUint32LE(buf, p.MarketsCreated)
	buf = appendUint32LE(buf, p.MarketsResolved)
	buf = appendUint32LE(buf, p.MarketsVoided)
	buf = appendUint64LE(buf, p.TotalVolumeGenerated)
	buf = appendUint64LE(buf, p.TotalFeesEarned)
	buf = appendUint32LE(buf, p.ReputationScore)
	return buf
}
