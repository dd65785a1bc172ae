package state

import "encoding/binary"

// Record sizes in bytes, as laid out in persistent account storage. They feed
// the ledger's minimum-reserve floor: a record must keep enough value to pay
// for its own storage for as long as it exists.
const (
	discriminatorSize = 8
	identitySize      = 32

	ConfigRecordSize = discriminatorSize +
		identitySize + // authority
		identitySize + // treasury
		8 + // min_liquidity
		2 + 2 + // treasury/creator rake
		8 + // market_count
		1 + // paused
		8 + // min_trade
		8 + 8 + // cutoff, challenge period
		2 + // swap fee
		1 // bump

	MarketRecordSize = discriminatorSize +
		identitySize + // creator
		4 + MaxQuestionLen +
		4 + MaxSourceLen +
		8 + 8 + 8 + 8 + // reserves, total_minted, initial_liquidity
		2 + // swap fee snapshot
		8 + // resolution timestamp
		1 + // status
		1 + 1 + // optional outcome
		1 + 1 + // fee claimed flags
		8 + // market id
		8 + // resolved_at
		8 + // challenge_ends_at
		1 + // bump
		8 + 8 + // frozen fees
		2 + 2 // rake snapshots

	PositionRecordSize = discriminatorSize +
		identitySize + identitySize + // market, user
		8 + 8 + // shares
		1 + // claimed
		1 // bump

	CreatorProfileRecordSize = discriminatorSize +
		identitySize +
		4 + 4 + 4 + // created/resolved/voided
		8 + 8 + // volume, fees
		4 + // reputation
		1 // bump
)

func appendInt64LE(buf []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint64(buf, uint64(v))
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, v)
}

func appendUint32LE(buf []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(buf, v)
}

func appendUint16LE(buf []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(buf, v)
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// appendString writes a u32 length prefix followed by the bytes.
func appendString(buf []byte, s string) []byte {
	buf = appendUint32LE(buf, uint32(len(s)))
	return append(buf, s...)
}
