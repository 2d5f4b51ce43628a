package revshare

import "math/bits"

// Distribution is the entitlement computed for one beneficiary.
type Distribution struct {
	Address Address
	Amount  uint64
}

// Entitlement returns floor(received * share / totalShares), the all-time
// amount a beneficiary holding share is owed once received has entered the
// pool. The product is taken in 128 bits, so any uint64 inputs are safe.
// The remainder is never paid to anyone; it stays in the pool as dust.
func Entitlement(received, share, totalShares uint64) uint64 {
	if totalShares == 0 || share == 0 {
		return 0
	}
	if share > totalShares {
		share = totalShares
	}
	hi, lo := bits.Mul64(received, share)
	// share <= totalShares keeps the quotient within 64 bits, so hi < totalShares.
	q, _ := bits.Div64(hi, lo, totalShares)
	return q
}

// Entitlements computes every beneficiary's entitlement for received.
// The amounts never sum to more than received.
func Entitlements(received uint64, entries []RevShareEntry, totalShares uint64) []Distribution {
	out := make([]Distribution, len(entries))
	for i, e := range entries {
		out[i] = Distribution{
			Address: e.Address,
			Amount:  Entitlement(received, e.Share, totalShares),
		}
	}
	return out
}
