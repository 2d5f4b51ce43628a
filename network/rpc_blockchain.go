package network

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Compile-time interface check.
var _ BlockchainService = (*RPCClient)(nil)

const (
	// rpcInvalidAddressOrKey is bitcoind's RPC_INVALID_ADDRESS_OR_KEY, returned
	// by getrawtransaction for unknown txids.
	rpcInvalidAddressOrKey = -5

	// rpcAlreadyInChain is RPC_VERIFY_ALREADY_IN_CHAIN.
	rpcAlreadyInChain = -27
)

// btcToSat converts a BTC float64 amount (as returned by the RPC node) to satoshis.
func btcToSat(btc float64) uint64 {
	return uint64(math.Round(btc * 1e8))
}

type listUnspentResult struct {
	TxID          string  `json:"txid"`
	Vout          uint32  `json:"vout"`
	Amount        float64 `json:"amount"`
	ScriptPubKey  string  `json:"scriptPubKey"`
	Address       string  `json:"address"`
	Confirmations int64   `json:"confirmations"`
}

// ListUnspent calls `listunspent 0 9999999 ["address"]` and converts BTC
// amounts to satoshis. Unconfirmed outputs are included so that the pool
// change of a recent payout is counted.
func (c *RPCClient) ListUnspent(ctx context.Context, address string) ([]*UTXO, error) {
	params := []any{0, 9999999, []string{address}}
	var results []listUnspentResult
	if err := c.Call(ctx, "listunspent", params, &results); err != nil {
		return nil, err
	}

	utxos := make([]*UTXO, len(results))
	for i, r := range results {
		utxos[i] = &UTXO{
			TxID:          r.TxID,
			Vout:          r.Vout,
			Amount:        btcToSat(r.Amount),
			ScriptPubKey:  r.ScriptPubKey,
			Address:       r.Address,
			Confirmations: r.Confirmations,
		}
	}
	return utxos, nil
}

// BroadcastTx calls `sendrawtransaction "hex"`. A node that already holds
// the transaction yields ErrTxAlreadyKnown; any other node error is wrapped
// with ErrBroadcastRejected. Transport failures are returned as they are,
// since the node may have accepted the transaction before the reply was lost.
func (c *RPCClient) BroadcastTx(ctx context.Context, rawTxHex string) (string, error) {
	var txid string
	err := c.Call(ctx, "sendrawtransaction", []any{rawTxHex}, &txid)
	if err == nil {
		return txid, nil
	}
	var rerr *rpcError
	if !errors.As(err, &rerr) {
		return "", err
	}
	if alreadyKnown(rerr) {
		return "", fmt.Errorf("%w: %w", ErrTxAlreadyKnown, err)
	}
	return "", fmt.Errorf("%w: %w", ErrBroadcastRejected, err)
}

func alreadyKnown(e *rpcError) bool {
	if e.Code == rpcAlreadyInChain {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "txn-already-known") || strings.Contains(msg, "txn-already-in-mempool")
}

type verboseTxResult struct {
	Confirmations int64  `json:"confirmations"`
	BlockHash     string `json:"blockhash"`
	BlockHeight   uint64 `json:"blockheight"`
}

// GetTxStatus calls `getrawtransaction "txid" true`. An unknown txid
// returns ErrTxNotFound.
func (c *RPCClient) GetTxStatus(ctx context.Context, txid string) (*TxStatus, error) {
	var result verboseTxResult
	if err := c.Call(ctx, "getrawtransaction", []any{txid, true}, &result); err != nil {
		var rerr *rpcError
		if errors.As(err, &rerr) && rerr.Code == rpcInvalidAddressOrKey {
			return nil, fmt.Errorf("%w: %s: %w", ErrTxNotFound, txid, err)
		}
		return nil, err
	}
	return &TxStatus{
		Confirmed:     result.Confirmations > 0,
		Confirmations: result.Confirmations,
		BlockHash:     result.BlockHash,
		BlockHeight:   result.BlockHeight,
	}, nil
}

// ImportAddress calls `importaddress "address" "paysplit" true` so the node
// rescans for outputs already paid to the address.
func (c *RPCClient) ImportAddress(ctx context.Context, address string) error {
	if err := c.Call(ctx, "importaddress", []any{address, ImportLabel, true}, nil); err != nil {
		return fmt.Errorf("network: import %s: %w", address, err)
	}
	return nil
}

// ImportLabel is the node wallet label given to imported pool addresses.
const ImportLabel = "paysplit"
