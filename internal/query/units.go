package query

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// DefaultDecimals matches a lamport-denominated base unit (1e9 per whole).
const DefaultDecimals int32 = 9

// Units renders base-unit integers for people. Engine arithmetic never goes
// through here; responses always carry the raw integer alongside.
type Units struct {
	Decimals int32
}

// Amount formats v base units as a decimal string, e.g. 1500000000 -> "1.5".
func (u Units) Amount(v uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -u.Decimals).String()
}

// Probability renders basis points as a fraction with four places.
func Probability(bps uint64) string {
	return decimal.New(int64(bps), -4).StringFixed(4)
}

// ratio is num/den rounded to six places, "0" when den is zero.
func ratio(num, den uint64) string {
	if den == 0 {
		return "0"
	}
	n := decimal.NewFromBigInt(new(big.Int).SetUint64(num), 0)
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(den), 0)
	return n.DivRound(d, 6).String()
}
