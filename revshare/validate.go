package revshare

import (
	"fmt"
	"math/bits"
)

// ValidateSnapshot checks the ledger invariants on a snapshot:
// per-beneficiary releases sum to the total, each entitlement is the floor
// share of the funds received, and entitlements never exceed those funds.
func ValidateSnapshot(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: snapshot", ErrNilParam)
	}

	var released uint64
	entries := make([]RevShareEntry, len(snap.Beneficiaries))
	dists := make([]Distribution, len(snap.Beneficiaries))
	for i, b := range snap.Beneficiaries {
		var carry uint64
		released, carry = bits.Add64(released, b.Released, 0)
		if carry != 0 {
			return fmt.Errorf("%w: released amounts", ErrAmountOverflow)
		}
		entries[i] = RevShareEntry{Address: b.Address, Share: b.Share}
		dists[i] = Distribution{Address: b.Address, Amount: b.Entitlement}
	}
	if released != snap.TotalReleased {
		return fmt.Errorf("%w: releases sum to %d, total is %d", ErrReleaseConservation, released, snap.TotalReleased)
	}
	accounted, carry := bits.Add64(snap.PoolBalance, snap.TotalReleased, 0)
	if carry != 0 || accounted != snap.TotalReceived {
		return fmt.Errorf("%w: balance %d + released %d != received %d",
			ErrReleaseConservation, snap.PoolBalance, snap.TotalReleased, snap.TotalReceived)
	}
	return ValidateDistribution(dists, entries, snap.TotalReceived, snap.TotalShares)
}

// ValidateDistribution checks that distributions are exactly the floor
// entitlements of entries for received, and that they fit in received.
func ValidateDistribution(distributions []Distribution, entries []RevShareEntry, received, totalShares uint64) error {
	if len(distributions) != len(entries) {
		return fmt.Errorf("distribution count %d != entry count %d", len(distributions), len(entries))
	}

	expected := Entitlements(received, entries, totalShares)
	var sum uint64
	for i := range distributions {
		if distributions[i].Address != expected[i].Address {
			return fmt.Errorf("entry %d: address mismatch", i)
		}
		if distributions[i].Amount != expected[i].Amount {
			return fmt.Errorf("entry %d: amount %d != expected %d", i, distributions[i].Amount, expected[i].Amount)
		}
		var carry uint64
		sum, carry = bits.Add64(sum, distributions[i].Amount, 0)
		if carry != 0 || sum > received {
			return fmt.Errorf("%w: %d entitled from %d received", ErrOverEntitlement, sum, received)
		}
	}
	return nil
}
