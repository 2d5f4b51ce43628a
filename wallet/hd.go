package wallet

import (
	"fmt"

	bip32 "github.com/bsv-blockchain/go-sdk/compat/bip32"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"
	chaincfg "github.com/bsv-blockchain/go-sdk/transaction/chaincfg"
)

const (
	// BIP44 path constants.
	PurposeBIP44  = 44
	CoinType      = 236
	FeeAccount    = 0
	PoolAccount   = 1
	ExternalChain = 0 // receive addresses
	InternalChain = 1 // change addresses

	// MaxKeyIndex is the largest non-hardened child index.
	MaxKeyIndex = 1<<31 - 1

	// Hardened is the BIP32 hardened offset.
	Hardened = 0x80000000
)

// Wallet is an HD wallet for one payout pool.
type Wallet struct {
	masterKey *bip32.ExtendedKey
	network   *NetworkConfig
}

// KeyPair holds a derived public/private key pair.
type KeyPair struct {
	PrivateKey *ec.PrivateKey `json:"-"`
	PublicKey  *ec.PublicKey  `json:"public_key"`
	Path       string         `json:"path"`
}

// NewWallet creates a wallet from a BIP39 seed. A nil network means mainnet.
func NewWallet(seed []byte, network *NetworkConfig) (*Wallet, error) {
	if len(seed) == 0 {
		return nil, ErrInvalidSeed
	}
	if network == nil {
		network = &MainNet
	}

	net := &chaincfg.TestNet
	if network.IsMainnet() {
		net = &chaincfg.MainNet
	}
	masterKey, err := bip32.NewMaster(seed, net)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDerivationFailed, err)
	}
	return &Wallet{masterKey: masterKey, network: network}, nil
}

// Network returns the wallet's network configuration.
func (w *Wallet) Network() *NetworkConfig {
	return w.network
}

// DerivePoolKey derives the pool key that receives deposits and signs
// payouts.
//
//	Path: m/44'/236'/1'/0/index
func (w *Wallet) DerivePoolKey(index uint32) (*KeyPair, error) {
	return w.derive(PoolAccount, ExternalChain, index)
}

// DeriveFeeKey derives a key from the fee key chain.
//
//	Path: m/44'/236'/0'/chain/index
func (w *Wallet) DeriveFeeKey(chain, index uint32) (*KeyPair, error) {
	if chain != ExternalChain && chain != InternalChain {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChain, chain)
	}
	return w.derive(FeeAccount, chain, index)
}

// derive walks m/44'/236'/account'/chain/index.
func (w *Wallet) derive(account, chain, index uint32) (*KeyPair, error) {
	if index > MaxKeyIndex {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}

	steps := []struct {
		name  string
		child uint32
	}{
		{"purpose", PurposeBIP44 + Hardened},
		{"coin type", CoinType + Hardened},
		{"account", account + Hardened},
		{"chain", chain},
		{"index", index},
	}
	key := w.masterKey
	for _, s := range steps {
		next, err := key.Child(s.child)
		if err != nil {
			return nil, fmt.Errorf("%w: %s derivation: %w", ErrDerivationFailed, s.name, err)
		}
		key = next
	}

	privKey, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to extract EC private key: %w", ErrDerivationFailed, err)
	}
	return &KeyPair{
		PrivateKey: privKey,
		PublicKey:  privKey.PubKey(),
		Path:       fmt.Sprintf("m/%d'/%d'/%d'/%d/%d", PurposeBIP44, CoinType, account, chain, index),
	}, nil
}

// Address returns the P2PKH address of the key on the wallet's network.
func (w *Wallet) Address(kp *KeyPair) (*script.Address, error) {
	if kp == nil || kp.PublicKey == nil {
		return nil, fmt.Errorf("%w: nil key pair", ErrDerivationFailed)
	}
	addr, err := script.NewAddressFromPublicKey(kp.PublicKey, w.network.IsMainnet())
	if err != nil {
		return nil, fmt.Errorf("wallet: address from pubkey: %w", err)
	}
	return addr, nil
}
