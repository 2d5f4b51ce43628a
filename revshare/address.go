package revshare

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/bsv-blockchain/go-sdk/script"
)

// AddressSize is the length of a P2PKH public key hash.
const AddressSize = 20

// Address identifies a beneficiary or depositor by its P2PKH public key hash.
type Address [AddressSize]byte

// IsZero reports whether the address is all zero bytes.
func (a Address) IsZero() bool {
	return a == Address{}
}

// String returns the hex encoding of the public key hash.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// Encode renders the address in base58check form for the given network.
func (a Address) Encode(mainnet bool) (string, error) {
	addr, err := script.NewAddressFromPublicKeyHash(a[:], mainnet)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	return addr.AddressString, nil
}

// AddressFromHash copies a 20-byte public key hash into an Address.
func AddressFromHash(pkh []byte) (Address, error) {
	var a Address
	if len(pkh) != AddressSize {
		return a, fmt.Errorf("%w: hash must be %d bytes, got %d", ErrInvalidAddress, AddressSize, len(pkh))
	}
	copy(a[:], pkh)
	return a, nil
}

// ParseAddress accepts either a 40-character hex public key hash or a
// base58check BSV address (mainnet or testnet). The zero hash is rejected.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)

	var a Address
	if len(s) == 2*AddressSize {
		if raw, err := hex.DecodeString(s); err == nil {
			copy(a[:], raw)
			if a.IsZero() {
				return a, fmt.Errorf("%w: zero hash", ErrInvalidAddress)
			}
			return a, nil
		}
	}

	addr, err := script.NewAddressFromString(s)
	if err != nil {
		return a, fmt.Errorf("%w: %q: %w", ErrInvalidAddress, s, err)
	}
	a, err = AddressFromHash([]byte(addr.PublicKeyHash))
	if err != nil {
		return a, err
	}
	if a.IsZero() {
		return a, fmt.Errorf("%w: zero hash", ErrInvalidAddress)
	}
	return a, nil
}
