package treasury

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"

	"github.com/bitfsorg/libpayshare-go/network"
	"github.com/bitfsorg/libpayshare-go/revshare"
	"github.com/bitfsorg/libpayshare-go/tx"
)

// payoutOutputs is the output count assumed when sizing the fee:
// beneficiary, pool change and fee change.
const payoutOutputs = 3

// ChainPool is a pool held on chain by a single P2PKH pool key. Network fees
// are paid from a separate fee key, so a payout lowers the pool balance by
// exactly the amount released.
type ChainPool struct {
	chain   network.BlockchainService
	feeRate uint64
	logger  *slog.Logger

	pool ownedKey
	fee  ownedKey

	// mu serializes payout building and broadcasting. Outputs picked by a
	// prepared payout are not reserved until it is broadcast.
	mu       sync.Mutex
	lastTxID string
}

type ownedKey struct {
	priv *ec.PrivateKey
	addr *script.Address
	lock []byte
}

// ChainPoolOption configures a ChainPool.
type ChainPoolOption func(*ChainPool)

// WithFeeRate sets the payout fee rate in sat/KB.
func WithFeeRate(rate uint64) ChainPoolOption {
	return func(p *ChainPool) { p.feeRate = rate }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ChainPoolOption {
	return func(p *ChainPool) { p.logger = logger }
}

// VerifyTimeout bounds the node lookup made after a broadcast failed
// without a verdict.
var VerifyTimeout = 30 * time.Second

// Compile-time interface checks.
var (
	_ revshare.Treasury = (*ChainPool)(nil)
	_ revshare.Preparer = (*ChainPool)(nil)
)

// NewChainPool creates a pool spending outputs locked to poolKey, paying
// fees from outputs locked to feeKey.
func NewChainPool(chain network.BlockchainService, poolKey, feeKey *ec.PrivateKey, mainnet bool, opts ...ChainPoolOption) (*ChainPool, error) {
	if chain == nil {
		return nil, fmt.Errorf("%w: blockchain service", ErrNilParam)
	}
	if poolKey == nil || feeKey == nil {
		return nil, fmt.Errorf("%w: pool and fee keys", ErrNilParam)
	}

	p := &ChainPool{
		chain:   chain,
		feeRate: tx.DefaultFeeRate,
		logger:  slog.Default(),
	}
	var err error
	if p.pool, err = newOwnedKey(poolKey, mainnet); err != nil {
		return nil, err
	}
	if p.fee, err = newOwnedKey(feeKey, mainnet); err != nil {
		return nil, err
	}
	if p.pool.addr.AddressString == p.fee.addr.AddressString {
		return nil, fmt.Errorf("treasury: pool and fee keys must differ")
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func newOwnedKey(priv *ec.PrivateKey, mainnet bool) (ownedKey, error) {
	addr, err := script.NewAddressFromPublicKey(priv.PubKey(), mainnet)
	if err != nil {
		return ownedKey{}, fmt.Errorf("treasury: address from pubkey: %w", err)
	}
	lock, err := tx.BuildP2PKHScript(priv.PubKey())
	if err != nil {
		return ownedKey{}, err
	}
	return ownedKey{priv: priv, addr: addr, lock: lock}, nil
}

// PoolAddress returns the address deposits are paid to.
func (p *ChainPool) PoolAddress() string { return p.pool.addr.AddressString }

// FeeAddress returns the address that funds payout fees.
func (p *ChainPool) FeeAddress() string { return p.fee.addr.AddressString }

// PoolHash returns the pool's public key hash.
func (p *ChainPool) PoolHash() revshare.Address {
	a, _ := revshare.AddressFromHash([]byte(p.pool.addr.PublicKeyHash))
	return a
}

// ImportAddresses registers the pool and fee addresses with the node as
// watch-only so that ListUnspent can see their outputs.
func (p *ChainPool) ImportAddresses(ctx context.Context) error {
	for _, addr := range []string{p.PoolAddress(), p.FeeAddress()} {
		if err := p.chain.ImportAddress(ctx, addr); err != nil {
			return err
		}
	}
	return nil
}

// Balance sums the spendable outputs of the pool address, including
// unconfirmed ones.
func (p *ChainPool) Balance(ctx context.Context) (uint64, error) {
	utxos, err := p.spendable(ctx, p.pool)
	if err != nil {
		return 0, err
	}
	total, err := tx.SumAmounts(utxos)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBalanceOverflow, err)
	}
	return total, nil
}

// FeeBalance sums the unspent outputs of the fee address.
func (p *ChainPool) FeeBalance(ctx context.Context) (uint64, error) {
	utxos, err := p.spendable(ctx, p.fee)
	if err != nil {
		return 0, err
	}
	return tx.SumAmounts(utxos)
}

// Transfer builds, signs and broadcasts a payout of amount to the
// beneficiary. A broadcast that fails without a node verdict is checked
// against the node; if the node still does not hold the payout the error
// wraps revshare.ErrTransferUnconfirmed.
func (p *ChainPool) Transfer(ctx context.Context, to revshare.Address, amount uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	payout, err := p.prepare(ctx, to, amount)
	if err != nil {
		return err
	}
	return p.execute(ctx, payout)
}

// PrepareTransfer builds and signs a payout without broadcasting it. The
// reference names the payout txid and the pool outputs it spends.
func (p *ChainPool) PrepareTransfer(ctx context.Context, to revshare.Address, amount uint64) (*revshare.PreparedTransfer, error) {
	p.mu.Lock()
	payout, err := p.prepare(ctx, to, amount)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &revshare.PreparedTransfer{
		Ref: payout.ref.String(),
		Execute: func(ctx context.Context) error {
			p.mu.Lock()
			defer p.mu.Unlock()
			return p.execute(ctx, payout)
		},
	}, nil
}

// LookupTransfer asks the node about a prepared payout. A payout the node
// knows, or whose pool outputs are already spent, is done; one whose pool
// outputs are all still unspent is not found.
func (p *ChainPool) LookupTransfer(ctx context.Context, ref string) (revshare.TransferState, error) {
	r, err := parsePayoutRef(ref)
	if err != nil {
		return 0, err
	}
	return p.lookup(ctx, r)
}

// LastTxID returns the txid of the most recent payout this pool broadcast,
// or "" if there is none.
func (p *ChainPool) LastTxID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTxID
}

type signedPayout struct {
	to         revshare.Address
	amount     uint64
	rawHex     string
	fee        uint64
	poolChange uint64
	ref        payoutRef
}

func (p *ChainPool) prepare(ctx context.Context, to revshare.Address, amount uint64) (*signedPayout, error) {
	if amount == 0 {
		return nil, ErrZeroAmount
	}

	poolUTXOs, err := p.spendable(ctx, p.pool)
	if err != nil {
		return nil, err
	}
	poolInputs, _, err := tx.SelectCoins(poolUTXOs, amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
	}

	feeUTXOs, err := p.spendable(ctx, p.fee)
	if err != nil {
		return nil, err
	}
	feeInputs, _, err := tx.SelectFeeCoins(feeUTXOs, len(poolInputs), payoutOutputs, p.feeRate)
	if err != nil {
		return nil, fmt.Errorf("treasury: fee address %s underfunded: %w", p.FeeAddress(), err)
	}

	payout, err := tx.BuildPayout(&tx.PayoutParams{
		PoolInputs:  poolInputs,
		FeeInputs:   feeInputs,
		Beneficiary: to[:],
		Amount:      amount,
		PoolChange:  []byte(p.pool.addr.PublicKeyHash),
		FeeChange:   []byte(p.fee.addr.PublicKeyHash),
		FeeRate:     p.feeRate,
	})
	if err != nil {
		return nil, fmt.Errorf("treasury: build payout: %w", err)
	}
	rawHex, err := tx.SignPayout(payout)
	if err != nil {
		return nil, fmt.Errorf("treasury: sign payout: %w", err)
	}

	ref := payoutRef{TxID: chainhash.Hash(payout.TxID).String()}
	for _, u := range poolInputs {
		ref.Inputs = append(ref.Inputs, outpoint{TxID: chainhash.Hash(u.TxID).String(), Vout: u.Vout})
	}
	return &signedPayout{
		to:         to,
		amount:     amount,
		rawHex:     rawHex,
		fee:        payout.Fee,
		poolChange: payout.PoolChange,
		ref:        ref,
	}, nil
}

// execute broadcasts a signed payout. The caller holds p.mu.
func (p *ChainPool) execute(ctx context.Context, s *signedPayout) error {
	_, err := p.chain.BroadcastTx(ctx, s.rawHex)
	switch {
	case err == nil:
	case errors.Is(err, network.ErrTxAlreadyKnown):
		p.logger.Info("payout already known to node", "txid", s.ref.TxID)
	case errors.Is(err, network.ErrBroadcastRejected), errors.Is(err, network.ErrAuthFailed):
		return fmt.Errorf("%w: %w", ErrBroadcastFailed, err)
	default:
		if verr := p.verify(ctx, s.ref); verr != nil {
			return fmt.Errorf("%w: payout %s: %w", revshare.ErrTransferUnconfirmed, s.ref.TxID, errors.Join(err, verr))
		}
		p.logger.Warn("payout broadcast reported an error but the node holds it",
			"txid", s.ref.TxID,
			"error", err,
		)
	}

	p.lastTxID = s.ref.TxID
	p.logger.Info("payout broadcast",
		"txid", s.ref.TxID,
		"beneficiary", s.to.String(),
		"amount", s.amount,
		"fee", s.fee,
		"pool_change", s.poolChange,
	)
	return nil
}

// verify checks, on a context detached from the caller's cancellation,
// that the node holds the payout.
func (p *ChainPool) verify(ctx context.Context, ref payoutRef) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), VerifyTimeout)
	defer cancel()
	state, err := p.lookup(ctx, ref)
	if err != nil {
		return err
	}
	if state != revshare.TransferDone {
		return fmt.Errorf("%w: %s", network.ErrTxNotFound, ref.TxID)
	}
	return nil
}

func (p *ChainPool) lookup(ctx context.Context, ref payoutRef) (revshare.TransferState, error) {
	_, err := p.chain.GetTxStatus(ctx, ref.TxID)
	if err == nil {
		return revshare.TransferDone, nil
	}
	if !errors.Is(err, network.ErrTxNotFound) {
		return 0, fmt.Errorf("treasury: payout %s status: %w", ref.TxID, err)
	}

	// Nodes without a transaction index forget confirmed transactions,
	// so fall back to the pool outputs the payout spends.
	listed, err := p.chain.ListUnspent(ctx, p.PoolAddress())
	if err != nil {
		return 0, fmt.Errorf("treasury: list outputs of %s: %w", p.PoolAddress(), err)
	}
	unspent := make(map[outpoint]bool, len(listed))
	for _, u := range listed {
		unspent[outpoint{TxID: u.TxID, Vout: u.Vout}] = true
	}
	for _, in := range ref.Inputs {
		if !unspent[in] {
			return revshare.TransferDone, nil
		}
	}
	return revshare.TransferNotFound, nil
}

// spendable lists the outputs of k's address as signable UTXOs.
func (p *ChainPool) spendable(ctx context.Context, k ownedKey) ([]*tx.UTXO, error) {
	listed, err := p.chain.ListUnspent(ctx, k.addr.AddressString)
	if err != nil {
		return nil, fmt.Errorf("treasury: list outputs of %s: %w", k.addr.AddressString, err)
	}
	lockHex := hex.EncodeToString(k.lock)

	out := make([]*tx.UTXO, 0, len(listed))
	for _, u := range listed {
		if u.ScriptPubKey != "" && u.ScriptPubKey != lockHex {
			p.logger.Warn("skipping output with foreign script", "txid", u.TxID, "vout", u.Vout)
			continue
		}
		hash, err := chainhash.NewHashFromHex(u.TxID)
		if err != nil {
			return nil, fmt.Errorf("treasury: output %s:%d: %w", u.TxID, u.Vout, err)
		}
		out = append(out, &tx.UTXO{
			TxID:         hash.CloneBytes(),
			Vout:         u.Vout,
			Amount:       u.Amount,
			ScriptPubKey: k.lock,
			PrivateKey:   k.priv,
		})
	}
	return out, nil
}
