package revshare

import (
	"context"
	"errors"
	"fmt"
)

// BeneficiaryStatus is one row of a Snapshot.
type BeneficiaryStatus struct {
	Address     Address
	Share       uint64
	Released    uint64
	Entitlement uint64
	Releasable  uint64
}

// Snapshot is a consistent view of the ledger and the pool balance.
type Snapshot struct {
	PoolBalance   uint64
	TotalReceived uint64
	TotalReleased uint64
	TotalShares   uint64
	Beneficiaries []BeneficiaryStatus

	// Pending lists releases whose transfers could not be settled yet.
	// Their amounts are included in the released totals.
	Pending []PendingRelease
}

// Snapshot reads the pool balance and the bookkeeping under the operation
// lock, so no release is in flight while it is taken. Pending releases are
// settled first where the treasury can answer; the rest are reported.
func (l *Ledger) Snapshot(ctx context.Context) (*Snapshot, error) {
	ctx, unlock := l.acquire(ctx)
	defer unlock()

	if err := l.settlePending(ctx); err != nil && !errors.Is(err, ErrReleasePending) {
		return nil, err
	}
	pending := l.Pending()

	balance, err := l.treasury.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("revshare: pool balance: %w", err)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := &Snapshot{
		PoolBalance:   balance,
		TotalReleased: l.totalReleased,
		TotalShares:   l.registry.TotalShares(),
		Beneficiaries: make([]BeneficiaryStatus, l.registry.Len()),
		Pending:       pending,
	}
	snap.TotalReceived = balance + l.totalReleased
	if snap.TotalReceived < balance {
		return nil, fmt.Errorf("%w: balance %d + released %d", ErrAmountOverflow, balance, l.totalReleased)
	}

	for i, e := range l.registry.entries {
		row := BeneficiaryStatus{
			Address:     e.Address,
			Share:       e.Share,
			Released:    l.released[i],
			Entitlement: Entitlement(snap.TotalReceived, e.Share, snap.TotalShares),
		}
		if row.Entitlement < row.Released {
			return nil, fmt.Errorf("%w: %s entitled to %d but released %d",
				ErrInconsistentState, e.Address, row.Entitlement, row.Released)
		}
		row.Releasable = row.Entitlement - row.Released
		snap.Beneficiaries[i] = row
	}
	return snap, nil
}
