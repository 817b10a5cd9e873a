// Package htlcswitch tracks the forwarding state a multi-hop TLC needs to
// propagate its eventual Fulfill or Fail back to the hop it arrived from.
// Grounded on the teacher's Switch/htlcPacket plumbing (a central map from
// outgoing HTLC identity back to the incoming one) but narrowed to pure
// bookkeeping: this package never owns a link or a peer connection, it only
// records and looks up circuits for whoever is forwarding (the network
// package, per spec.md 4.5).
package htlcswitch

import (
	"fmt"
	"sync"

	"github.com/EthanYuan/fiber/fbtypes"
)

// CircuitKey identifies one TLC on one channel.
type CircuitKey struct {
	ChannelID fbtypes.Hash256
	TlcID     uint64
}

// Circuit records that a TLC received on Incoming was forwarded as a TLC
// offered on Outgoing, so a later Fulfill/Fail arriving on Outgoing can be
// mapped back to the Incoming TLC it must resolve.
type Circuit struct {
	Incoming    CircuitKey
	Outgoing    CircuitKey
	PaymentHash fbtypes.Hash256
}

// ErrDuplicateCircuit is returned by Add when a circuit already exists for
// the given outgoing key, mirroring the teacher's ControlTower duplicate
// protection for payment hashes.
var ErrDuplicateCircuit = fmt.Errorf("htlcswitch: circuit already exists for outgoing key")

// ErrCircuitNotFound is returned by LookupByOutgoing when no circuit is
// registered for the given key.
var ErrCircuitNotFound = fmt.Errorf("htlcswitch: no circuit for key")

// CircuitMap is the in-memory forwarding table. It is not persisted and
// starts empty: it is not rebuilt from the TLCs' PreviousHop records in
// channeldb, so circuits added before a restart are not restored.
type CircuitMap struct {
	mu         sync.Mutex
	byOutgoing map[CircuitKey]*Circuit
}

// NewCircuitMap builds an empty CircuitMap.
func NewCircuitMap() *CircuitMap {
	return &CircuitMap{byOutgoing: make(map[CircuitKey]*Circuit)}
}

// Add registers a new circuit, keyed by its outgoing leg.
func (m *CircuitMap) Add(c *Circuit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byOutgoing[c.Outgoing]; exists {
		return ErrDuplicateCircuit
	}
	m.byOutgoing[c.Outgoing] = c
	return nil
}

// LookupByOutgoing finds the circuit whose outgoing leg matches key, used
// when a Fulfill or Fail arrives on that channel/tlc and must be propagated
// back to the incoming hop.
func (m *CircuitMap) LookupByOutgoing(key CircuitKey) (*Circuit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byOutgoing[key]
	if !ok {
		return nil, ErrCircuitNotFound
	}
	return c, nil
}

// Remove deletes the circuit keyed by its outgoing leg, once its Fulfill or
// Fail has been propagated back.
func (m *CircuitMap) Remove(key CircuitKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byOutgoing, key)
}

// Count returns the number of in-flight circuits, for diagnostics.
func (m *CircuitMap) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byOutgoing)
}
