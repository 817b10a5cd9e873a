package chainntfs

import (
	"context"
	"sync"
)

// MockOracle is an in-memory ChainOracle for tests: confirmations and the
// chain tip are set directly by the test rather than observed from a real
// chain client.
type MockOracle struct {
	mu            sync.Mutex
	confirmations map[[32]byte]Confirmation
	epoch         Epoch
	feeRate       uint64
	broadcast     [][]byte
}

func NewMockOracle() *MockOracle {
	return &MockOracle{
		confirmations: make(map[[32]byte]Confirmation),
		feeRate:       1,
	}
}

func (m *MockOracle) SetConfirmation(txid [32]byte, c Confirmation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmations[txid] = c
}

func (m *MockOracle) SetEpoch(e Epoch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch = e
}

func (m *MockOracle) Confirm(_ context.Context, txid [32]byte) (Confirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.confirmations[txid]
	if !ok {
		return Confirmation{}, errNotFound
	}
	return c, nil
}

func (m *MockOracle) Broadcast(_ context.Context, rawTx []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcast = append(m.broadcast, rawTx)
	return nil
}

func (m *MockOracle) CurrentEpoch(_ context.Context) (Epoch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch, nil
}

func (m *MockOracle) EstimateFeeRate(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.feeRate, nil
}

// Broadcasted returns every raw transaction handed to Broadcast, for test
// assertions.
func (m *MockOracle) Broadcasted() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.broadcast))
	copy(out, m.broadcast)
	return out
}

var errNotFound = mockError("chainntfs: transaction not found")

type mockError string

func (e mockError) Error() string { return string(e) }
