package tx

import (
	"cmp"
	"fmt"
	"math/bits"
	"slices"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
)

// UTXO represents a spendable output owned by the pool or fee key.
type UTXO struct {
	TxID         []byte         `json:"txid"` // 32 bytes, internal byte order
	Vout         uint32         `json:"vout"`
	Amount       uint64         `json:"amount"`        // satoshis
	ScriptPubKey []byte         `json:"script_pubkey"` // locking script bytes
	PrivateKey   *ec.PrivateKey `json:"-"`             // signing key (not serialized)
}

// SumAmounts returns the total value of utxos, failing on overflow.
func SumAmounts(utxos []*UTXO) (uint64, error) {
	var total uint64
	for i, u := range utxos {
		if u == nil {
			return 0, fmt.Errorf("%w: utxo[%d]", ErrNilParam, i)
		}
		var carry uint64
		total, carry = bits.Add64(total, u.Amount, 0)
		if carry != 0 {
			return 0, fmt.Errorf("%w: input total overflows", ErrInvalidParams)
		}
	}
	return total, nil
}

// SelectCoins picks outputs largest-first until their sum reaches target.
// It returns the selection and its total.
func SelectCoins(utxos []*UTXO, target uint64) ([]*UTXO, uint64, error) {
	sorted := largestFirst(utxos)
	var (
		picked []*UTXO
		total  uint64
	)
	for _, u := range sorted {
		if total >= target && len(picked) > 0 {
			break
		}
		var carry uint64
		total, carry = bits.Add64(total, u.Amount, 0)
		if carry != 0 {
			return nil, 0, fmt.Errorf("%w: input total overflows", ErrInvalidParams)
		}
		picked = append(picked, u)
	}
	if total < target || len(picked) == 0 {
		return nil, 0, fmt.Errorf("%w: need %d sat, have %d sat", ErrInsufficientFunds, target, total)
	}
	return picked, total, nil
}

// SelectFeeCoins picks fee outputs largest-first until they cover the fee
// of a transaction with otherInputs further inputs and numOutputs outputs.
// The fee estimate grows with every fee input picked.
func SelectFeeCoins(utxos []*UTXO, otherInputs, numOutputs int, feeRate uint64) ([]*UTXO, uint64, error) {
	sorted := largestFirst(utxos)
	var (
		picked []*UTXO
		total  uint64
	)
	for _, u := range sorted {
		var carry uint64
		total, carry = bits.Add64(total, u.Amount, 0)
		if carry != 0 {
			return nil, 0, fmt.Errorf("%w: fee input total overflows", ErrInvalidParams)
		}
		picked = append(picked, u)
		fee := EstimateFee(EstimateTxSize(otherInputs+len(picked), numOutputs), feeRate)
		if total >= fee {
			return picked, total, nil
		}
	}
	fee := EstimateFee(EstimateTxSize(otherInputs+len(picked)+1, numOutputs), feeRate)
	return nil, 0, fmt.Errorf("%w: fee inputs hold %d sat, fee needs at least %d sat", ErrInsufficientFunds, total, fee)
}

// largestFirst returns the non-empty utxos sorted by descending amount,
// leaving the input slice untouched.
func largestFirst(utxos []*UTXO) []*UTXO {
	out := make([]*UTXO, 0, len(utxos))
	for _, u := range utxos {
		if u != nil && u.Amount > 0 {
			out = append(out, u)
		}
	}
	slices.SortStableFunc(out, func(a, b *UTXO) int { return cmp.Compare(b.Amount, a.Amount) })
	return out
}
