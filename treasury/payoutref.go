package treasury

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bsv-blockchain/go-sdk/chainhash"
)

// outpoint names a transaction output; TxID is in display (RPC) order.
type outpoint struct {
	TxID string
	Vout uint32
}

// payoutRef identifies a ChainPool payout as "<txid>;<txid>:<vout>,...",
// the payout txid followed by the pool outputs it spends.
type payoutRef struct {
	TxID   string
	Inputs []outpoint
}

func (r payoutRef) String() string {
	var b strings.Builder
	b.WriteString(r.TxID)
	b.WriteByte(';')
	for i, in := range r.Inputs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(in.TxID)
		b.WriteByte(':')
		b.WriteString(strconv.FormatUint(uint64(in.Vout), 10))
	}
	return b.String()
}

func parsePayoutRef(s string) (payoutRef, error) {
	txid, inputs, ok := strings.Cut(s, ";")
	if !ok || inputs == "" {
		return payoutRef{}, fmt.Errorf("%w: %q", ErrInvalidRef, s)
	}
	if _, err := chainhash.NewHashFromHex(txid); err != nil {
		return payoutRef{}, fmt.Errorf("%w: txid: %w", ErrInvalidRef, err)
	}
	ref := payoutRef{TxID: txid}
	for _, part := range strings.Split(inputs, ",") {
		h, v, ok := strings.Cut(part, ":")
		if !ok {
			return payoutRef{}, fmt.Errorf("%w: input %q", ErrInvalidRef, part)
		}
		if _, err := chainhash.NewHashFromHex(h); err != nil {
			return payoutRef{}, fmt.Errorf("%w: input %q: %w", ErrInvalidRef, part, err)
		}
		vout, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return payoutRef{}, fmt.Errorf("%w: input %q: %w", ErrInvalidRef, part, err)
		}
		ref.Inputs = append(ref.Inputs, outpoint{TxID: h, Vout: uint32(vout)})
	}
	return ref, nil
}

// RefTxID returns the transaction id named by a transfer reference. For
// references that are not ChainPool payouts it returns ref unchanged.
func RefTxID(ref string) string {
	txid, _, _ := strings.Cut(ref, ";")
	return txid
}
