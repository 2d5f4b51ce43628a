// Package treasury provides the fund holders a revshare.Ledger pays out of.
package treasury

import (
	"context"
	"fmt"
	"math/bits"
	"sync"

	"github.com/bitfsorg/libpayshare-go/revshare"
)

// ReceiveHook runs after a MemPool transfer has debited the pool. A non-nil
// error reverts the transfer.
type ReceiveHook func(ctx context.Context, to revshare.Address, amount uint64) error

// MemPool is an in-process pool. It is used in tests and simulations, and
// models recipients that run code on receipt through OnReceive.
type MemPool struct {
	mu        sync.Mutex
	balance   uint64
	received  map[revshare.Address]uint64
	deposited uint64
	failNext  error
	seq       uint64
	executed  map[string]bool // prepared refs; true once executed

	// OnReceive, if set, is called after the debit with the pool unlocked,
	// so the hook may call back into the ledger.
	OnReceive ReceiveHook
}

// Compile-time interface checks.
var (
	_ revshare.Treasury  = (*MemPool)(nil)
	_ revshare.Depositor = (*MemPool)(nil)
	_ revshare.Preparer  = (*MemPool)(nil)
)

// NewMemPool creates an empty pool.
func NewMemPool() *MemPool {
	return &MemPool{
		received: make(map[revshare.Address]uint64),
		executed: make(map[string]bool),
	}
}

// Balance returns the funds currently held.
func (p *MemPool) Balance(_ context.Context) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

// Deposit credits amount to the pool.
func (p *MemPool) Deposit(_ context.Context, _ revshare.Address, amount uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sum, carry := bits.Add64(p.balance, amount, 0)
	if carry != 0 {
		return fmt.Errorf("%w: %d + %d", ErrBalanceOverflow, p.balance, amount)
	}
	p.balance = sum
	p.deposited += amount
	return nil
}

// Transfer debits amount and credits it to the recipient, then runs
// OnReceive. A hook error refunds the pool and is returned.
func (p *MemPool) Transfer(ctx context.Context, to revshare.Address, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}

	p.mu.Lock()
	if p.failNext != nil {
		err := p.failNext
		p.failNext = nil
		p.mu.Unlock()
		return err
	}
	if p.balance < amount {
		bal := p.balance
		p.mu.Unlock()
		return fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, amount, bal)
	}
	p.balance -= amount
	p.received[to] += amount
	hook := p.OnReceive
	p.mu.Unlock()

	if hook == nil {
		return nil
	}
	if err := hook(ctx, to, amount); err != nil {
		p.mu.Lock()
		p.balance += amount
		p.received[to] -= amount
		p.mu.Unlock()
		return fmt.Errorf("treasury: recipient %s rejected payment: %w", to, err)
	}
	return nil
}

// PrepareTransfer names a transfer of amount to to. Executing it runs
// Transfer and marks the reference done on success.
func (p *MemPool) PrepareTransfer(_ context.Context, to revshare.Address, amount uint64) (*revshare.PreparedTransfer, error) {
	if amount == 0 {
		return nil, ErrZeroAmount
	}
	p.mu.Lock()
	p.seq++
	ref := fmt.Sprintf("mem-%d", p.seq)
	p.executed[ref] = false
	p.mu.Unlock()

	return &revshare.PreparedTransfer{
		Ref: ref,
		Execute: func(ctx context.Context) error {
			if err := p.Transfer(ctx, to, amount); err != nil {
				return err
			}
			p.mu.Lock()
			p.executed[ref] = true
			p.mu.Unlock()
			return nil
		},
	}, nil
}

// LookupTransfer reports whether a prepared transfer was executed.
// References this pool never issued are not found.
func (p *MemPool) LookupTransfer(_ context.Context, ref string) (revshare.TransferState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.executed[ref] {
		return revshare.TransferDone, nil
	}
	return revshare.TransferNotFound, nil
}

// FailNext makes the next Transfer return err without moving funds.
func (p *MemPool) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = err
}

// Received returns the total paid to addr.
func (p *MemPool) Received(addr revshare.Address) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.received[addr]
}

// Deposited returns the total ever deposited.
func (p *MemPool) Deposited() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deposited
}
