package network

import (
	"context"
	"sync"
)

// MockBlockchainService is a test double for BlockchainService.
// A nil function field makes the method return a zero value and no error.
// BroadcastTx always records the hex it was given.
type MockBlockchainService struct {
	ListUnspentFn   func(ctx context.Context, address string) ([]*UTXO, error)
	BroadcastTxFn   func(ctx context.Context, rawTxHex string) (string, error)
	GetTxStatusFn   func(ctx context.Context, txid string) (*TxStatus, error)
	ImportAddressFn func(ctx context.Context, address string) error

	mu        sync.Mutex
	broadcast []string
}

// Compile-time interface check.
var _ BlockchainService = (*MockBlockchainService)(nil)

func (m *MockBlockchainService) ListUnspent(ctx context.Context, address string) ([]*UTXO, error) {
	if m.ListUnspentFn == nil {
		return nil, nil
	}
	return m.ListUnspentFn(ctx, address)
}

func (m *MockBlockchainService) BroadcastTx(ctx context.Context, rawTxHex string) (string, error) {
	m.mu.Lock()
	m.broadcast = append(m.broadcast, rawTxHex)
	m.mu.Unlock()
	if m.BroadcastTxFn == nil {
		return "", nil
	}
	return m.BroadcastTxFn(ctx, rawTxHex)
}

func (m *MockBlockchainService) GetTxStatus(ctx context.Context, txid string) (*TxStatus, error) {
	if m.GetTxStatusFn == nil {
		return &TxStatus{}, nil
	}
	return m.GetTxStatusFn(ctx, txid)
}

func (m *MockBlockchainService) ImportAddress(ctx context.Context, address string) error {
	if m.ImportAddressFn == nil {
		return nil
	}
	return m.ImportAddressFn(ctx, address)
}

// Broadcasts returns every raw transaction hex passed to BroadcastTx.
func (m *MockBlockchainService) Broadcasts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.broadcast...)
}
