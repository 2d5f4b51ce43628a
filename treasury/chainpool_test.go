package treasury

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libpayshare-go/network"
	"github.com/bitfsorg/libpayshare-go/revshare"
	"github.com/bitfsorg/libpayshare-go/tx"
)

// fakeChain is an in-memory UTXO set behind a MockBlockchainService.
// Broadcast transactions spend their inputs and create outputs for the
// addresses it knows; payments to other hashes are tallied in paid.
type fakeChain struct {
	mu      sync.Mutex
	utxos   map[string][]*network.UTXO // by address
	owners  map[string]string          // pkh hex -> address
	paid    map[revshare.Address]uint64
	known   map[string]bool // accepted txids
	nextTx  byte
	imports []string
	mock    *network.MockBlockchainService
}

func newFakeChain() *fakeChain {
	c := &fakeChain{
		utxos:  make(map[string][]*network.UTXO),
		owners: make(map[string]string),
		paid:   make(map[revshare.Address]uint64),
		known:  make(map[string]bool),
	}
	c.mock = &network.MockBlockchainService{
		ListUnspentFn: func(_ context.Context, address string) ([]*network.UTXO, error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			return append([]*network.UTXO(nil), c.utxos[address]...), nil
		},
		BroadcastTxFn: c.broadcast,
		GetTxStatusFn: func(_ context.Context, txid string) (*network.TxStatus, error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if !c.known[txid] {
				return nil, fmt.Errorf("%w: %s", network.ErrTxNotFound, txid)
			}
			return &network.TxStatus{}, nil
		},
		ImportAddressFn: func(_ context.Context, address string) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.imports = append(c.imports, address)
			return nil
		},
	}
	return c
}

func (c *fakeChain) watch(addr string, pkh []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners[hex.EncodeToString(pkh)] = addr
}

// fund adds an output paying amount to addr.
func (c *fakeChain) fund(addr string, amount uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextTx++
	txid := fmt.Sprintf("%064x", c.nextTx)
	c.utxos[addr] = append(c.utxos[addr], &network.UTXO{TxID: txid, Vout: 0, Amount: amount, Address: addr})
}

func (c *fakeChain) broadcast(_ context.Context, rawHex string) (string, error) {
	parsed, err := transaction.NewTransactionFromHex(rawHex)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, in := range parsed.Inputs {
		spent := false
		for addr, list := range c.utxos {
			for i, u := range list {
				if u.TxID == in.SourceTXID.String() && u.Vout == in.SourceTxOutIndex {
					c.utxos[addr] = append(list[:i], list[i+1:]...)
					spent = true
					break
				}
			}
			if spent {
				break
			}
		}
		if !spent {
			return "", errors.New("missing inputs")
		}
	}

	txid := parsed.TxID().String()
	c.known[txid] = true
	for vout, out := range parsed.Outputs {
		pkh, err := out.LockingScript.PublicKeyHash()
		if err != nil {
			return "", err
		}
		if addr, ok := c.owners[hex.EncodeToString(pkh)]; ok {
			c.utxos[addr] = append(c.utxos[addr], &network.UTXO{
				TxID:         txid,
				Vout:         uint32(vout),
				Amount:       out.Satoshis,
				Address:      addr,
				ScriptPubKey: hex.EncodeToString([]byte(*out.LockingScript)),
			})
			continue
		}
		a, err := revshare.AddressFromHash(pkh)
		if err != nil {
			return "", err
		}
		c.paid[a] += out.Satoshis
	}
	return txid, nil
}

// forget drops txid from the node's index, as a node without txindex does
// once a transaction confirms.
func (c *fakeChain) forget(txid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.known, txid)
}

func (c *fakeChain) paidTo(a revshare.Address) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paid[a]
}

func newTestChainPool(t *testing.T, chain *fakeChain, opts ...ChainPoolOption) *ChainPool {
	t.Helper()
	poolKey, err := ec.NewPrivateKey()
	require.NoError(t, err)
	feeKey, err := ec.NewPrivateKey()
	require.NoError(t, err)

	opts = append([]ChainPoolOption{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	p, err := NewChainPool(chain.mock, poolKey, feeKey, false, opts...)
	require.NoError(t, err)
	chain.watch(p.PoolAddress(), []byte(p.pool.addr.PublicKeyHash))
	chain.watch(p.FeeAddress(), []byte(p.fee.addr.PublicKeyHash))
	return p
}

// ---------------------------------------------------------------------------
// ChainPool
// ---------------------------------------------------------------------------

func TestNewChainPool_Errors(t *testing.T) {
	key, err := ec.NewPrivateKey()
	require.NoError(t, err)

	_, err = NewChainPool(nil, key, key, false)
	assert.ErrorIs(t, err, ErrNilParam)
	_, err = NewChainPool(&network.MockBlockchainService{}, nil, key, false)
	assert.ErrorIs(t, err, ErrNilParam)
	_, err = NewChainPool(&network.MockBlockchainService{}, key, key, false)
	assert.Error(t, err, "pool and fee keys must differ")
}

func TestChainPool_Addresses(t *testing.T) {
	chain := newFakeChain()
	p := newTestChainPool(t, chain)

	assert.NotEqual(t, p.PoolAddress(), p.FeeAddress())
	parsed, err := revshare.ParseAddress(p.PoolAddress())
	require.NoError(t, err)
	assert.Equal(t, p.PoolHash(), parsed)

	require.NoError(t, p.ImportAddresses(context.Background()))
	assert.Equal(t, []string{p.PoolAddress(), p.FeeAddress()}, chain.imports)
}

func TestChainPool_BalanceAndTransfer(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain()
	p := newTestChainPool(t, chain)
	beneficiary := testAddr(0xBE)

	chain.fund(p.PoolAddress(), 700)
	chain.fund(p.PoolAddress(), 500)
	chain.fund(p.FeeAddress(), 10000)

	bal, err := p.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1200), bal)

	require.NoError(t, p.Transfer(ctx, beneficiary, 900))
	assert.Equal(t, uint64(900), chain.paidTo(beneficiary))
	require.Len(t, chain.mock.Broadcasts(), 1)

	bal, err = p.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), bal, "the pool loses exactly the payout")

	fees, err := p.FeeBalance(ctx)
	require.NoError(t, err)
	assert.Less(t, fees, uint64(10000))
	assert.Greater(t, fees, tx.DustLimit)

	first := p.LastTxID()
	assert.Len(t, first, 64)

	// Pool change is spendable by the next payout.
	require.NoError(t, p.Transfer(ctx, beneficiary, 300))
	assert.NotEqual(t, first, p.LastTxID())
	assert.Equal(t, uint64(1200), chain.paidTo(beneficiary))
	bal, err = p.Balance(ctx)
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestChainPool_TransferFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("zero amount", func(t *testing.T) {
		p := newTestChainPool(t, newFakeChain())
		assert.ErrorIs(t, p.Transfer(ctx, testAddr(1), 0), ErrZeroAmount)
	})

	t.Run("pool short", func(t *testing.T) {
		chain := newFakeChain()
		p := newTestChainPool(t, chain)
		chain.fund(p.PoolAddress(), 100)
		chain.fund(p.FeeAddress(), 10000)
		assert.ErrorIs(t, p.Transfer(ctx, testAddr(1), 101), ErrInsufficientFunds)
		assert.Empty(t, chain.mock.Broadcasts())
	})

	t.Run("no fee funds", func(t *testing.T) {
		chain := newFakeChain()
		p := newTestChainPool(t, chain)
		chain.fund(p.PoolAddress(), 100)
		err := p.Transfer(ctx, testAddr(1), 50)
		assert.ErrorIs(t, err, tx.ErrInsufficientFunds)
		assert.Empty(t, chain.mock.Broadcasts())
	})

	t.Run("broadcast rejected", func(t *testing.T) {
		chain := newFakeChain()
		p := newTestChainPool(t, chain)
		chain.fund(p.PoolAddress(), 100)
		chain.fund(p.FeeAddress(), 10000)
		chain.mock.BroadcastTxFn = func(context.Context, string) (string, error) {
			return "", network.ErrBroadcastRejected
		}
		err := p.Transfer(ctx, testAddr(1), 50)
		assert.ErrorIs(t, err, ErrBroadcastFailed)
		assert.ErrorIs(t, err, network.ErrBroadcastRejected)

		bal, err := p.Balance(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), bal)
	})

	t.Run("list error", func(t *testing.T) {
		chain := newFakeChain()
		p := newTestChainPool(t, chain)
		chain.mock.ListUnspentFn = func(context.Context, string) ([]*network.UTXO, error) {
			return nil, network.ErrConnectionFailed
		}
		_, err := p.Balance(ctx)
		assert.ErrorIs(t, err, network.ErrConnectionFailed)
	})
}

func TestChainPool_FeeRate(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain()
	p := newTestChainPool(t, chain, WithFeeRate(1000))
	chain.fund(p.PoolAddress(), 1000)
	chain.fund(p.FeeAddress(), 5000)

	require.NoError(t, p.Transfer(ctx, testAddr(7), 1000))
	fees, err := p.FeeBalance(ctx)
	require.NoError(t, err)
	// Two inputs, beneficiary and fee change outputs at 1 sat/byte.
	assert.Equal(t, uint64(5000)-uint64(tx.EstimateTxSize(2, 2)), fees)
}

func TestChainPool_WithLedger(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain()
	p := newTestChainPool(t, chain)
	alice, bob := testAddr(0xA1), testAddr(0xB2)

	reg, err := revshare.NewRegistry([]revshare.RevShareEntry{
		{Address: alice, Share: 3},
		{Address: bob, Share: 1},
	})
	require.NoError(t, err)
	l, err := revshare.New(reg, p, revshare.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	chain.fund(p.PoolAddress(), 10000)
	chain.fund(p.FeeAddress(), 50000)
	require.NoError(t, l.Deposit(ctx, testAddr(0xD0), 10000))

	paid, err := l.Release(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(7500), paid)
	assert.Equal(t, uint64(7500), chain.paidTo(alice))

	chain.fund(p.PoolAddress(), 2000)
	paid, err = l.Release(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(3000), paid)

	_, err = l.Release(ctx, bob)
	assert.ErrorIs(t, err, revshare.ErrNothingDue)

	due, err := l.Releasable(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), due)

	snap, err := l.Snapshot(ctx)
	require.NoError(t, err)
	require.NoError(t, revshare.ValidateSnapshot(snap))
	assert.Equal(t, uint64(12000), snap.TotalReceived)
}

// ---------------------------------------------------------------------------
// Broadcast outcomes
// ---------------------------------------------------------------------------

// fundedPool returns a pool holding 10000 sat with 50000 sat of fee funds.
func fundedPool(t *testing.T) (*ChainPool, *fakeChain) {
	t.Helper()
	chain := newFakeChain()
	p := newTestChainPool(t, chain)
	chain.fund(p.PoolAddress(), 10000)
	chain.fund(p.FeeAddress(), 50000)
	return p, chain
}

func TestChainPool_BroadcastErrorAfterAcceptance(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		err  error
	}{
		{"reply lost", fmt.Errorf("%w: %w", network.ErrConnectionFailed, context.DeadlineExceeded)},
		{"caller canceled", context.Canceled},
		{"already known", fmt.Errorf("%w: rpc error -27", network.ErrTxAlreadyKnown)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, chain := fundedPool(t)
			chain.mock.BroadcastTxFn = func(ctx context.Context, raw string) (string, error) {
				if _, err := chain.broadcast(ctx, raw); err != nil {
					return "", err
				}
				return "", tc.err
			}

			require.NoError(t, p.Transfer(ctx, testAddr(1), 4000))
			assert.Equal(t, uint64(4000), chain.paidTo(testAddr(1)))
			assert.True(t, chain.known[p.LastTxID()])

			bal, err := p.Balance(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(6000), bal)
		})
	}
}

func TestChainPool_BroadcastLostIsUnconfirmed(t *testing.T) {
	ctx := context.Background()
	p, chain := fundedPool(t)
	chain.mock.BroadcastTxFn = func(context.Context, string) (string, error) {
		return "", fmt.Errorf("%w: connection reset", network.ErrConnectionFailed)
	}

	err := p.Transfer(ctx, testAddr(1), 4000)
	assert.ErrorIs(t, err, revshare.ErrTransferUnconfirmed)
	assert.ErrorIs(t, err, network.ErrConnectionFailed)
	assert.NotErrorIs(t, err, ErrBroadcastFailed)
	assert.Empty(t, p.LastTxID())
	assert.Zero(t, chain.paidTo(testAddr(1)))
}

func TestChainPool_LookupTransfer(t *testing.T) {
	ctx := context.Background()
	p, chain := fundedPool(t)

	pt, err := p.PrepareTransfer(ctx, testAddr(1), 2500)
	require.NoError(t, err)
	assert.Empty(t, chain.mock.Broadcasts(), "prepare does not broadcast")

	state, err := p.LookupTransfer(ctx, pt.Ref)
	require.NoError(t, err)
	assert.Equal(t, revshare.TransferNotFound, state)

	require.NoError(t, pt.Execute(ctx))
	txid := p.LastTxID()
	assert.Equal(t, txid, RefTxID(pt.Ref))

	state, err = p.LookupTransfer(ctx, pt.Ref)
	require.NoError(t, err)
	assert.Equal(t, revshare.TransferDone, state)

	// Still done once the node forgets the txid: its pool input is spent.
	chain.forget(txid)
	state, err = p.LookupTransfer(ctx, pt.Ref)
	require.NoError(t, err)
	assert.Equal(t, revshare.TransferDone, state)

	chain.mock.GetTxStatusFn = func(context.Context, string) (*network.TxStatus, error) {
		return nil, network.ErrConnectionFailed
	}
	_, err = p.LookupTransfer(ctx, pt.Ref)
	assert.ErrorIs(t, err, network.ErrConnectionFailed)

	_, err = p.LookupTransfer(ctx, "not-a-ref")
	assert.ErrorIs(t, err, ErrInvalidRef)
}

func TestPayoutRef(t *testing.T) {
	ref := payoutRef{
		TxID: fmt.Sprintf("%064x", 0xab),
		Inputs: []outpoint{
			{TxID: fmt.Sprintf("%064x", 1), Vout: 0},
			{TxID: fmt.Sprintf("%064x", 2), Vout: 7},
		},
	}
	parsed, err := parsePayoutRef(ref.String())
	require.NoError(t, err)
	assert.Equal(t, ref, parsed)
	assert.Equal(t, ref.TxID, RefTxID(ref.String()))
	assert.Equal(t, "mem-3", RefTxID("mem-3"))

	for _, bad := range []string{"", "abc", "abc;", fmt.Sprintf("%064x;zz:1", 1), fmt.Sprintf("%064x;%064x", 1, 2), fmt.Sprintf("%064x;%064x:x", 1, 2)} {
		_, err := parsePayoutRef(bad)
		assert.ErrorIs(t, err, ErrInvalidRef, bad)
	}
}

func TestChainPool_LedgerKeepsReleaseWhenBroadcastErrorsAfterAcceptance(t *testing.T) {
	ctx := context.Background()
	p, chain := fundedPool(t)
	alice, bob := testAddr(0xA1), testAddr(0xB2)
	l := chainLedger(t, p, alice, bob)

	chain.mock.BroadcastTxFn = func(ctx context.Context, raw string) (string, error) {
		if _, err := chain.broadcast(ctx, raw); err != nil {
			return "", err
		}
		return "", context.DeadlineExceeded
	}
	paid, err := l.Release(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(7500), paid)
	assert.Equal(t, uint64(7500), chain.paidTo(alice))
	assert.Equal(t, uint64(7500), l.ReleasedOf(alice))
	requireConserved(t, l, 10000)

	chain.mock.BroadcastTxFn = chain.broadcast
	paid, err = l.Release(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(2500), paid)
	requireConserved(t, l, 10000)
}

func TestChainPool_LedgerSettlesUnconfirmedRelease(t *testing.T) {
	ctx := context.Background()
	alice, bob := testAddr(0xA1), testAddr(0xB2)
	nodeDown := func(context.Context, string) (*network.TxStatus, error) {
		return nil, network.ErrConnectionFailed
	}

	t.Run("payout never reached the node", func(t *testing.T) {
		p, chain := fundedPool(t)
		l := chainLedger(t, p, alice, bob)
		statusFn := chain.mock.GetTxStatusFn

		chain.mock.BroadcastTxFn = func(context.Context, string) (string, error) {
			return "", network.ErrConnectionFailed
		}
		chain.mock.GetTxStatusFn = nodeDown
		_, err := l.Release(ctx, alice)
		assert.ErrorIs(t, err, revshare.ErrReleasePending)
		assert.ErrorIs(t, err, revshare.ErrTransferUnconfirmed)
		assert.Equal(t, uint64(7500), l.ReleasedOf(alice), "kept until the node answers")
		require.Len(t, l.Pending(), 1)

		// Payouts stay blocked while the node cannot answer.
		_, err = l.Release(ctx, bob)
		assert.ErrorIs(t, err, revshare.ErrReleasePending)

		chain.mock.BroadcastTxFn = chain.broadcast
		chain.mock.GetTxStatusFn = statusFn
		paid, err := l.Release(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(7500), paid)
		assert.Equal(t, uint64(7500), chain.paidTo(alice))
		assert.Empty(t, l.Pending())
		requireConserved(t, l, 10000)
	})

	t.Run("payout landed later", func(t *testing.T) {
		p, chain := fundedPool(t)
		l := chainLedger(t, p, alice, bob)
		statusFn := chain.mock.GetTxStatusFn

		chain.mock.BroadcastTxFn = func(context.Context, string) (string, error) {
			return "", network.ErrConnectionFailed
		}
		chain.mock.GetTxStatusFn = nodeDown
		_, err := l.Release(ctx, alice)
		assert.ErrorIs(t, err, revshare.ErrReleasePending)

		// The node processed the lost request after all.
		broadcasts := chain.mock.Broadcasts()
		_, err = chain.broadcast(ctx, broadcasts[len(broadcasts)-1])
		require.NoError(t, err)

		chain.mock.BroadcastTxFn = chain.broadcast
		chain.mock.GetTxStatusFn = statusFn
		paid, err := l.Release(ctx, bob)
		require.NoError(t, err)
		assert.Equal(t, uint64(2500), paid)
		assert.Equal(t, uint64(7500), chain.paidTo(alice))
		assert.Equal(t, uint64(7500), l.ReleasedOf(alice))
		assert.Empty(t, l.Pending())
		requireConserved(t, l, 10000)
	})
}

func chainLedger(t *testing.T, p *ChainPool, alice, bob revshare.Address) *revshare.Ledger {
	t.Helper()
	reg, err := revshare.NewRegistry([]revshare.RevShareEntry{
		{Address: alice, Share: 3},
		{Address: bob, Share: 1},
	})
	require.NoError(t, err)
	l, err := revshare.New(reg, p, revshare.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return l
}

// requireConserved checks the ledger against the chain: everything that
// entered the pool is either still there or was released.
func requireConserved(t *testing.T, l *revshare.Ledger, received uint64) {
	t.Helper()
	snap, err := l.Snapshot(context.Background())
	require.NoError(t, err)
	require.NoError(t, revshare.ValidateSnapshot(snap))
	assert.Equal(t, received, snap.TotalReceived)
	assert.Empty(t, snap.Pending)
}
