package revshare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sync"
	"time"
)

// Treasury holds the pool funds and moves them out on behalf of the ledger.
//
// Transfer must either move the whole amount or report an error; it must
// debit the pool before running any code on behalf of the recipient.
// Treasuries that can lose track of a transfer's outcome should also
// implement Preparer, otherwise a failed Transfer is always rolled back.
type Treasury interface {
	// Balance returns the funds currently held by the pool.
	Balance(ctx context.Context) (uint64, error)

	// Transfer pays amount from the pool to the given address.
	Transfer(ctx context.Context, to Address, amount uint64) error
}

// Depositor is implemented by treasuries that accept deposits through the
// ledger. Treasuries funded externally (e.g. on-chain payments to the pool
// address) need not implement it.
type Depositor interface {
	Deposit(ctx context.Context, from Address, amount uint64) error
}

// Ledger is a proportional pull-payment ledger over a fixed registry.
// All mutation goes through Deposit and Release, which are serialized by a
// per-instance lock.
type Ledger struct {
	registry *Registry
	treasury Treasury
	store    StateStore
	sink     EventSink
	logger   *slog.Logger
	now      func() time.Time

	// opMu serializes Deposit and Release. See acquire.
	opMu sync.Mutex

	// mu guards the bookkeeping below; accessors only take mu.
	mu            sync.RWMutex
	totalReleased uint64
	released      []uint64 // aligned with registry.entries

	// pending holds committed releases awaiting settlement. A release whose
	// transfer is still executing is not listed.
	pending map[Address]PendingRelease
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithStore persists the registry and release bookkeeping.
func WithStore(s StateStore) Option {
	return func(l *Ledger) { l.store = s }
}

// WithEventSink sets the audit sink for deposit and release records.
func WithEventSink(s EventSink) Option {
	return func(l *Ledger) { l.sink = s }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock sets the time source for audit records.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func newLedger(reg *Registry, treasury Treasury, opts []Option) (*Ledger, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: registry", ErrNilParam)
	}
	if treasury == nil {
		return nil, fmt.Errorf("%w: treasury", ErrNilParam)
	}
	l := &Ledger{
		registry: reg,
		treasury: treasury,
		logger:   slog.Default(),
		now:      time.Now,
		released: make([]uint64, reg.Len()),
		pending:  make(map[Address]PendingRelease),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// New creates a ledger for a freshly constructed registry. When a store is
// configured the registry is persisted first; a store that already holds a
// registry is rejected with ErrRegistryExists.
func New(reg *Registry, treasury Treasury, opts ...Option) (*Ledger, error) {
	l, err := newLedger(reg, treasury, opts)
	if err != nil {
		return nil, err
	}
	if l.store != nil {
		if err := l.store.PutRegistry(reg); err != nil {
			return nil, fmt.Errorf("revshare: persist registry: %w", err)
		}
	}
	l.logger.Info("ledger created",
		"beneficiaries", reg.Len(),
		"total_shares", reg.TotalShares(),
	)
	return l, nil
}

// Open restores a ledger from store. The persisted per-beneficiary releases
// must belong to registered beneficiaries and sum to the persisted total.
// Pending releases left by an interrupted Release are restored unsettled;
// the first Release, Releasable, Snapshot or ResolvePending settles them.
func Open(store StateStore, treasury Treasury, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store", ErrNilParam)
	}
	reg, err := store.GetRegistry()
	if err != nil {
		return nil, err
	}
	st, err := store.LoadReleased()
	if err != nil {
		return nil, err
	}

	l, err := newLedger(reg, treasury, append(opts, WithStore(store)))
	if err != nil {
		return nil, err
	}

	var sum uint64
	for addr, amount := range st.Released {
		i := reg.FindEntry(addr)
		if i < 0 {
			return nil, fmt.Errorf("%w: release recorded for unregistered %s", ErrInconsistentState, addr)
		}
		var carry uint64
		sum, carry = bits.Add64(sum, amount, 0)
		if carry != 0 {
			return nil, fmt.Errorf("%w: persisted releases", ErrAmountOverflow)
		}
		l.released[i] = amount
	}
	if sum != st.TotalReleased {
		return nil, fmt.Errorf("%w: releases sum to %d, total is %d", ErrInconsistentState, sum, st.TotalReleased)
	}
	l.totalReleased = st.TotalReleased

	for addr, p := range st.Pending {
		i := reg.FindEntry(addr)
		if i < 0 || p.Address != addr || p.Amount > l.released[i] {
			return nil, fmt.Errorf("%w: pending release of %d to %s", ErrInconsistentState, p.Amount, addr)
		}
		l.pending[addr] = p
	}

	l.logger.Info("ledger opened",
		"beneficiaries", reg.Len(),
		"total_shares", reg.TotalShares(),
		"total_released", l.totalReleased,
		"pending", len(l.pending),
	)
	return l, nil
}

// heldKey marks a context derived inside a locked Deposit or Release of
// one specific ledger.
type heldKey struct{ l *Ledger }

// acquire takes the operation lock unless ctx shows this ledger already
// holds it. The returned context carries that marker into collaborator
// calls, so a nested Release made with it (for example from a recipient's
// receipt hook) runs against the already-committed bookkeeping instead of
// deadlocking. The marked context must not be used from other goroutines.
func (l *Ledger) acquire(ctx context.Context) (context.Context, func()) {
	if held, _ := ctx.Value(heldKey{l}).(bool); held {
		return ctx, func() {}
	}
	l.opMu.Lock()
	return context.WithValue(ctx, heldKey{l}, true), l.opMu.Unlock
}

// Registry returns the ledger's beneficiary registry.
func (l *Ledger) Registry() *Registry { return l.registry }

// TotalShares returns the sum of all share weights.
func (l *Ledger) TotalShares() uint64 { return l.registry.TotalShares() }

// SharesOf returns the weight of addr, or 0 if it is not a beneficiary.
func (l *Ledger) SharesOf(addr Address) uint64 { return l.registry.SharesOf(addr) }

// BeneficiaryAt returns the beneficiary registered at position i.
func (l *Ledger) BeneficiaryAt(i int) (Address, error) { return l.registry.BeneficiaryAt(i) }

// BeneficiaryCount returns the number of beneficiaries.
func (l *Ledger) BeneficiaryCount() int { return l.registry.Len() }

// TotalReleased returns the cumulative amount paid to all beneficiaries.
func (l *Ledger) TotalReleased() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalReleased
}

// ReleasedOf returns the cumulative amount paid to addr.
func (l *Ledger) ReleasedOf(addr Address) uint64 {
	i := l.registry.FindEntry(addr)
	if i < 0 {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.released[i]
}

// TotalReceived returns every deposit ever made: pool balance plus releases.
func (l *Ledger) TotalReceived(ctx context.Context) (uint64, error) {
	balance, err := l.treasury.Balance(ctx)
	if err != nil {
		return 0, fmt.Errorf("revshare: pool balance: %w", err)
	}
	return l.received(balance)
}

func (l *Ledger) received(balance uint64) (uint64, error) {
	received, carry := bits.Add64(balance, l.TotalReleased(), 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: balance %d + released", ErrAmountOverflow, balance)
	}
	return received, nil
}

// due returns what the beneficiary at position i is owed now.
func (l *Ledger) due(ctx context.Context, i int) (uint64, error) {
	received, err := l.TotalReceived(ctx)
	if err != nil {
		return 0, err
	}
	entitlement := Entitlement(received, l.registry.entries[i].Share, l.registry.TotalShares())

	l.mu.RLock()
	released := l.released[i]
	l.mu.RUnlock()

	if entitlement < released {
		return 0, fmt.Errorf("%w: %s entitled to %d but released %d",
			ErrInconsistentState, l.registry.entries[i].Address, entitlement, released)
	}
	return entitlement - released, nil
}

// Releasable returns the amount Release would pay addr right now.
func (l *Ledger) Releasable(ctx context.Context, addr Address) (uint64, error) {
	i := l.registry.FindEntry(addr)
	if i < 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotBeneficiary, addr)
	}
	ctx, unlock := l.acquire(ctx)
	defer unlock()
	if err := l.settlePending(ctx); err != nil {
		return 0, err
	}
	return l.due(ctx, i)
}

// Deposit records amount entering the pool from any address. If the
// treasury implements Depositor the funds are credited through it.
// Zero amounts are accepted and recorded.
func (l *Ledger) Deposit(ctx context.Context, from Address, amount uint64) error {
	ctx, unlock := l.acquire(ctx)
	defer unlock()

	if dep, ok := l.treasury.(Depositor); ok {
		if err := dep.Deposit(ctx, from, amount); err != nil {
			return fmt.Errorf("revshare: deposit from %s: %w", from, err)
		}
	}
	l.logger.Info("deposit", "from", from.String(), "amount", amount)
	l.emit(ctx, EventDeposit, from, amount, "")
	return nil
}

// Release pays beneficiary everything it is currently owed and returns the
// amount paid.
//
// The bookkeeping is committed (and persisted) before the treasury transfer
// starts; a failed transfer reverses it. With a Preparer treasury the
// persisted commit also carries the transfer's reference, and a transfer
// whose outcome is unknown leaves the release pending instead of reversing
// it. Errors: ErrNotBeneficiary, ErrNothingDue when there is nothing to pay
// yet, ErrTransferFailed when the treasury failed and the ledger is back to
// its prior state, ErrReleasePending when an earlier or this release could
// not be settled.
func (l *Ledger) Release(ctx context.Context, beneficiary Address) (uint64, error) {
	i := l.registry.FindEntry(beneficiary)
	if i < 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotBeneficiary, beneficiary)
	}

	ctx, unlock := l.acquire(ctx)
	defer unlock()

	if err := l.settlePending(ctx); err != nil {
		return 0, err
	}
	payment, err := l.due(ctx, i)
	if err != nil {
		return 0, err
	}
	if payment == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNothingDue, beneficiary)
	}

	execute := func(ctx context.Context) error {
		return l.treasury.Transfer(ctx, beneficiary, payment)
	}
	var pending *PendingRelease
	if prep, ok := l.treasury.(Preparer); ok {
		pt, err := prep.PrepareTransfer(ctx, beneficiary, payment)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: prepare: %w", ErrTransferFailed, beneficiary, err)
		}
		execute = pt.Execute
		pending = &PendingRelease{Address: beneficiary, Amount: payment, Ref: pt.Ref}
	}

	releasedOf, total := l.apply(i, payment, true)
	if l.store != nil {
		if err := l.store.PutReleased(beneficiary, releasedOf, total, pending); err != nil {
			l.apply(i, payment, false)
			return 0, fmt.Errorf("revshare: persist release: %w", err)
		}
	}

	if err := execute(ctx); err != nil {
		if pending != nil && errors.Is(err, ErrTransferUnconfirmed) {
			l.remember(*pending)
			l.logger.Warn("release transfer unconfirmed, left pending",
				"beneficiary", beneficiary.String(),
				"amount", payment,
				"ref", pending.Ref,
				"error", err,
			)
			return 0, fmt.Errorf("%w: %s: %w", ErrReleasePending, beneficiary, err)
		}
		l.logger.Warn("release transfer failed, rolling back",
			"beneficiary", beneficiary.String(),
			"amount", payment,
			"error", err,
		)
		transferErr := fmt.Errorf("%w: %s: %w", ErrTransferFailed, beneficiary, err)
		return 0, errors.Join(transferErr, l.rollback(i, payment))
	}

	var ref string
	if pending != nil {
		ref = pending.Ref
		if err := l.clearPending(i, *pending); err != nil {
			// The funds moved; the record is settled on a later call.
			l.remember(*pending)
			l.logger.Error("settled release not persisted",
				"beneficiary", beneficiary.String(),
				"ref", ref,
				"error", err,
			)
		}
	}

	l.logger.Info("release",
		"beneficiary", beneficiary.String(),
		"amount", payment,
		"released_of", releasedOf,
		"total_released", total,
		"ref", ref,
	)
	l.emit(ctx, EventRelease, beneficiary, payment, ref)
	return payment, nil
}

// apply adds (or, for a rollback, subtracts) payment to the bookkeeping of
// beneficiary i and returns the resulting cumulative and total releases.
// Rollbacks subtract rather than restore a snapshot so that releases
// committed by nested calls during the transfer survive.
func (l *Ledger) apply(i int, payment uint64, add bool) (releasedOf, total uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if add {
		l.released[i] += payment
		l.totalReleased += payment
	} else {
		l.released[i] -= payment
		l.totalReleased -= payment
	}
	return l.released[i], l.totalReleased
}

// rollback reverses a committed release whose transfer failed.
func (l *Ledger) rollback(i int, payment uint64) error {
	releasedOf, total := l.apply(i, payment, false)
	if l.store == nil {
		return nil
	}
	addr := l.registry.entries[i].Address
	if err := l.store.PutReleased(addr, releasedOf, total, nil); err != nil {
		l.logger.Error("release rollback not persisted",
			"beneficiary", addr.String(),
			"released_of", releasedOf,
			"total_released", total,
			"error", err,
		)
		return fmt.Errorf("revshare: persist rollback: %w", err)
	}
	return nil
}

// emit hands an audit record to the sink. Sink failures are logged only.
func (l *Ledger) emit(ctx context.Context, kind EventKind, addr Address, amount uint64, ref string) {
	if l.sink == nil {
		return
	}
	ev := &Event{Kind: kind, Address: addr, Amount: amount, Ref: ref, Time: l.now()}
	if err := l.sink.Record(ctx, ev); err != nil {
		l.logger.Warn("audit record dropped",
			"kind", kind.String(),
			"address", addr.String(),
			"amount", amount,
			"error", err,
		)
	}
}
