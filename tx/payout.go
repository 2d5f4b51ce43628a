package tx

import (
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

// PayoutParams describes one release paid out of the pool.
type PayoutParams struct {
	PoolInputs  []*UTXO // spent first; must cover Amount
	FeeInputs   []*UTXO // spent after the pool inputs; must cover the fee
	Beneficiary []byte  // 20-byte P2PKH hash receiving Amount
	Amount      uint64
	PoolChange  []byte // 20-byte P2PKH hash of the pool address
	FeeChange   []byte // 20-byte P2PKH hash of the fee address
	FeeRate     uint64 // sat/KB, DefaultFeeRate when zero
}

// Payout is an unsigned (or, after SignPayout, signed) payout transaction.
//
// Output layout:
//
//	[0] P2PKH -> beneficiary (Amount)
//	[1] P2PKH -> pool change (omitted when zero)
//	[2] P2PKH -> fee change  (omitted when at or below DustLimit)
type Payout struct {
	RawTx  []byte
	TxID   []byte  // internal byte order
	Inputs []*UTXO // in input order, for signing

	Amount     uint64
	Fee        uint64 // fee inputs minus fee change, including dropped dust
	PoolChange uint64
	FeeChange  uint64

	PoolChangeVout int // -1 when omitted
	FeeChangeVout  int // -1 when omitted
}

// BuildPayout constructs the payout transaction. The pool inputs pay the
// beneficiary and return their remainder to the pool address; the fee
// inputs alone pay the network fee, so the pool only ever loses Amount.
func BuildPayout(p *PayoutParams) (*Payout, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: payout params", ErrNilParam)
	}
	if p.Amount == 0 {
		return nil, fmt.Errorf("%w: zero payout amount", ErrInvalidParams)
	}
	if len(p.PoolInputs) == 0 {
		return nil, fmt.Errorf("%w: no pool inputs", ErrNilParam)
	}
	if len(p.FeeInputs) == 0 {
		return nil, fmt.Errorf("%w: no fee inputs", ErrNilParam)
	}
	for _, h := range []struct {
		name string
		hash []byte
	}{
		{"beneficiary", p.Beneficiary},
		{"pool change", p.PoolChange},
		{"fee change", p.FeeChange},
	} {
		if len(h.hash) != PubKeyHashLen {
			return nil, fmt.Errorf("%w: %s hash must be %d bytes, got %d", ErrInvalidParams, h.name, PubKeyHashLen, len(h.hash))
		}
	}

	poolIn, err := SumAmounts(p.PoolInputs)
	if err != nil {
		return nil, err
	}
	feeIn, err := SumAmounts(p.FeeInputs)
	if err != nil {
		return nil, err
	}
	if poolIn < p.Amount {
		return nil, fmt.Errorf("%w: pool inputs hold %d sat, payout is %d sat", ErrInsufficientFunds, poolIn, p.Amount)
	}

	poolChange := poolIn - p.Amount
	numInputs := len(p.PoolInputs) + len(p.FeeInputs)
	numOutputs := 2 // beneficiary + fee change
	if poolChange > 0 {
		numOutputs++
	}
	fee := EstimateFee(EstimateTxSize(numInputs, numOutputs), p.FeeRate)
	if feeIn < fee {
		return nil, fmt.Errorf("%w: fee inputs hold %d sat, fee is %d sat", ErrInsufficientFunds, feeIn, fee)
	}
	feeChange := feeIn - fee
	if feeChange <= DustLimit {
		fee, feeChange = feeIn, 0
	}

	sdkTx := transaction.NewTransaction()
	inputs := make([]*UTXO, 0, numInputs)
	for _, group := range [][]*UTXO{p.PoolInputs, p.FeeInputs} {
		for _, u := range group {
			hash, err := chainhash.NewHash(u.TxID)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid UTXO TxID: %w", ErrInvalidParams, err)
			}
			sdkTx.AddInput(&transaction.TransactionInput{
				SourceTXID:       hash,
				SourceTxOutIndex: u.Vout,
				SequenceNumber:   transaction.DefaultSequenceNumber,
			})
			inputs = append(inputs, u)
		}
	}

	out := &Payout{
		Inputs:         inputs,
		Amount:         p.Amount,
		Fee:            fee,
		PoolChange:     poolChange,
		FeeChange:      feeChange,
		PoolChangeVout: -1,
		FeeChangeVout:  -1,
	}

	addOutput := func(hash []byte, satoshis uint64) (int, error) {
		o, err := BuildP2PKHOutput(hash, satoshis)
		if err != nil {
			return 0, err
		}
		sdkTx.AddOutput(o)
		return len(sdkTx.Outputs) - 1, nil
	}
	if _, err := addOutput(p.Beneficiary, p.Amount); err != nil {
		return nil, err
	}
	if poolChange > 0 {
		if out.PoolChangeVout, err = addOutput(p.PoolChange, poolChange); err != nil {
			return nil, err
		}
	}
	if feeChange > 0 {
		if out.FeeChangeVout, err = addOutput(p.FeeChange, feeChange); err != nil {
			return nil, err
		}
	}

	out.RawTx = sdkTx.Bytes()
	out.TxID = sdkTx.TxID().CloneBytes()
	return out, nil
}
