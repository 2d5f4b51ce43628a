package wallet

import "errors"

var (
	// ErrInvalidMnemonic indicates the mnemonic fails BIP39 validation.
	ErrInvalidMnemonic = errors.New("wallet: invalid BIP39 mnemonic")

	// ErrInvalidEntropy indicates entropy bits is not 128 or 256.
	ErrInvalidEntropy = errors.New("wallet: entropy bits must be 128 or 256")

	// ErrIndexOutOfRange indicates a key index reaches the BIP32 hardened range.
	ErrIndexOutOfRange = errors.New("wallet: key index exceeds maximum (2^31-1)")

	// ErrInvalidChain indicates a chain other than external (0) or internal (1).
	ErrInvalidChain = errors.New("wallet: chain must be 0 or 1")

	// ErrDecryptionFailed indicates wrong password or corrupted wallet data.
	ErrDecryptionFailed = errors.New("wallet: seed decryption failed (wrong password or corrupted data)")

	// ErrChecksumMismatch indicates seed checksum verification failed after decryption.
	ErrChecksumMismatch = errors.New("wallet: seed checksum mismatch")

	// ErrInvalidNetwork indicates an unknown network name.
	ErrInvalidNetwork = errors.New("wallet: invalid network name")

	// ErrInvalidSeed indicates the seed is empty or invalid.
	ErrInvalidSeed = errors.New("wallet: invalid seed")

	// ErrDerivationFailed indicates BIP32 key derivation failed.
	ErrDerivationFailed = errors.New("wallet: key derivation failed")

	// ErrWalletExists indicates a seed file is already present.
	ErrWalletExists = errors.New("wallet: seed file already exists")

	// ErrWalletNotFound indicates no seed file is present.
	ErrWalletNotFound = errors.New("wallet: seed file not found")
)
