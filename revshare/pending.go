package revshare

import (
	"context"
	"fmt"
)

// TransferState is a treasury's verdict on a prepared transfer.
type TransferState uint8

const (
	// TransferNotFound means the funds did not move and the transfer can no
	// longer execute.
	TransferNotFound TransferState = iota + 1

	// TransferDone means the funds left the pool.
	TransferDone
)

func (s TransferState) String() string {
	switch s {
	case TransferNotFound:
		return "not-found"
	case TransferDone:
		return "done"
	default:
		return fmt.Sprintf("TransferState(%d)", uint8(s))
	}
}

// PreparedTransfer is a transfer that is fully built but not yet executed.
type PreparedTransfer struct {
	// Ref names the transfer for LookupTransfer and is persisted with the
	// release before Execute runs.
	Ref string

	// Execute moves the funds. An error wrapping ErrTransferUnconfirmed
	// means the funds may have moved; any other error means they did not.
	Execute func(ctx context.Context) error
}

// Preparer is implemented by treasuries that can name a transfer before
// executing it and later tell whether it happened. Release persists the
// name together with the committed bookkeeping, so a release cut short by
// a crash or by an unanswered transfer is settled against the treasury
// rather than guessed.
type Preparer interface {
	PrepareTransfer(ctx context.Context, to Address, amount uint64) (*PreparedTransfer, error)
	LookupTransfer(ctx context.Context, ref string) (TransferState, error)
}

// PendingRelease is a committed release whose transfer is not confirmed.
type PendingRelease struct {
	Address Address
	Amount  uint64
	Ref     string
}

// Pending returns the unsettled releases in registry order.
func (l *Ledger) Pending() []PendingRelease {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.pending) == 0 {
		return nil
	}
	out := make([]PendingRelease, 0, len(l.pending))
	for _, e := range l.registry.entries {
		if p, ok := l.pending[e.Address]; ok {
			out = append(out, p)
		}
	}
	return out
}

// ResolvePending settles releases left unconfirmed by an interrupted or
// ambiguous transfer. A release whose transfer the treasury reports done is
// kept; one it reports not found is reversed. Release, Releasable and
// Snapshot settle first on their own. Returns ErrReleasePending while a
// release remains unsettled.
func (l *Ledger) ResolvePending(ctx context.Context) error {
	ctx, unlock := l.acquire(ctx)
	defer unlock()
	return l.settlePending(ctx)
}

func (l *Ledger) settlePending(ctx context.Context) error {
	pending := l.Pending()
	if len(pending) == 0 {
		return nil
	}
	prep, ok := l.treasury.(Preparer)
	if !ok {
		return fmt.Errorf("%w: treasury cannot look up %d transfer(s)", ErrReleasePending, len(pending))
	}
	for _, p := range pending {
		state, err := prep.LookupTransfer(ctx, p.Ref)
		if err != nil {
			return fmt.Errorf("%w: %s: lookup %s: %w", ErrReleasePending, p.Address, p.Ref, err)
		}
		if err := l.settle(ctx, p, state); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) settle(ctx context.Context, p PendingRelease, state TransferState) error {
	i := l.registry.FindEntry(p.Address)
	switch state {
	case TransferDone:
		if err := l.clearPending(i, p); err != nil {
			return err
		}
		l.logger.Info("pending release confirmed",
			"beneficiary", p.Address.String(),
			"amount", p.Amount,
			"ref", p.Ref,
		)
		l.emit(ctx, EventRelease, p.Address, p.Amount, p.Ref)
		return nil

	case TransferNotFound:
		releasedOf, total := l.apply(i, p.Amount, false)
		if l.store != nil {
			if err := l.store.PutReleased(p.Address, releasedOf, total, nil); err != nil {
				l.apply(i, p.Amount, true)
				return fmt.Errorf("revshare: persist rollback: %w", err)
			}
		}
		l.forget(p.Address)
		l.logger.Warn("pending release reversed",
			"beneficiary", p.Address.String(),
			"amount", p.Amount,
			"ref", p.Ref,
		)
		return nil

	default:
		return fmt.Errorf("%w: %s: treasury reported %s", ErrReleasePending, p.Address, state)
	}
}

// clearPending persists the current bookkeeping of beneficiary i without
// its pending record and forgets the record in memory.
func (l *Ledger) clearPending(i int, p PendingRelease) error {
	if l.store != nil {
		l.mu.RLock()
		releasedOf, total := l.released[i], l.totalReleased
		l.mu.RUnlock()
		if err := l.store.PutReleased(p.Address, releasedOf, total, nil); err != nil {
			return fmt.Errorf("revshare: persist settled release: %w", err)
		}
	}
	l.forget(p.Address)
	return nil
}

func (l *Ledger) remember(p PendingRelease) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending[p.Address] = p
}

func (l *Ledger) forget(addr Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pending, addr)
}
