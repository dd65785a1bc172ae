package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "PredictLedger:genesis:v1"

// GenesisHash is the chain tip before the first command.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// StateHasher chains a hash over every applied command.
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: GenesisHash()}
}

// ChainHash computes SHA-256(prev || sequence LE || digest) without mutating
// any hasher. Replay verification uses it directly.
func ChainHash(prev [32]byte, sequence int64, stateDigest []byte) [32]byte {
	h := sha256.New()
	h.Write(prev[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	h.Write(seqBuf[:])

	h.Write(stateDigest)

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ComputeHash extends the chain and returns the new tip.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hash := ChainHash(h.prevHash, sequence, stateDigest)
	h.prevHash = hash
	return hash
}

// PrevHash returns current chain tip
func (h *StateHasher) PrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash resumes the chain from a snapshot.
func (h *StateHasher) SetPrevHash(tip [32]byte) {
	h.prevHash = tip
}
