// Package tx builds and signs payout transactions that move released
// funds out of the pool address.
package tx

const (
	// DustLimit is the minimum P2PKH change value in satoshis. Fee change at
	// or below it is left to the miner.
	DustLimit = uint64(546)

	// DefaultFeeRate is the default fee rate in sat/KB.
	DefaultFeeRate = uint64(1)

	// TxIDLen is the length of a transaction ID.
	TxIDLen = 32

	// PubKeyHashLen is the length of a P2PKH public key hash.
	PubKeyHashLen = 20
)

// EstimateFee estimates the transaction fee for a given size and fee rate.
// Returns ceil(txSizeBytes * feeRate / 1000).
func EstimateFee(txSizeBytes int, feeRate uint64) uint64 {
	if feeRate == 0 {
		feeRate = DefaultFeeRate
	}
	if txSizeBytes <= 0 {
		return 0
	}
	fee := uint64(txSizeBytes) * feeRate
	return (fee + 999) / 1000
}

// EstimateTxSize estimates the size in bytes of a transaction with P2PKH
// inputs and outputs only.
//
//	base:   version(4) + locktime(4) + input count(1) + output count(1) = 10
//	input:  prevhash(32) + index(4) + scriptlen(1) + sig+pubkey(~107) + sequence(4) = 148
//	output: value(8) + scriptlen(1) + P2PKH script(25) = 34
func EstimateTxSize(numInputs, numOutputs int) int {
	return 10 + numInputs*148 + numOutputs*34
}
