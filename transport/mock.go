package transport

import (
	"context"
	"sync"

	"github.com/EthanYuan/fiber/fbtypes"
	"github.com/EthanYuan/fiber/lnwire"
)

// outgoingQueueLen mirrors peer.go's buffered outgoingQueue: callers outside
// the transport can enqueue sends without blocking on the wire write.
const outgoingQueueLen = 50

// MockTransport is an in-memory PeerTransport for tests: two MockTransports
// wired to each other's inbox simulate a connected pair of peers without a
// real network.
type MockTransport struct {
	self fbtypes.PeerId

	mu   sync.Mutex
	sent []Frame

	peerOf map[fbtypes.PeerId]*MockTransport

	incoming     chan Frame
	disconnected chan fbtypes.PeerId
}

// NewMockTransport builds a transport identified as self, with no peers
// wired yet.
func NewMockTransport(self fbtypes.PeerId) *MockTransport {
	return &MockTransport{
		self:         self,
		peerOf:       make(map[fbtypes.PeerId]*MockTransport),
		incoming:     make(chan Frame, outgoingQueueLen),
		disconnected: make(chan fbtypes.PeerId, 1),
	}
}

// Connect wires t and other so each can Send to the other's peer id.
func Connect(t, other *MockTransport) {
	t.peerOf[other.self] = other
	other.peerOf[t.self] = t
}

func (t *MockTransport) Send(ctx context.Context, peer fbtypes.PeerId, msg lnwire.Message) error {
	t.mu.Lock()
	t.sent = append(t.sent, Frame{PeerID: peer, Message: msg})
	t.mu.Unlock()

	dest, ok := t.peerOf[peer]
	if !ok {
		return nil
	}
	select {
	case dest.incoming <- Frame{PeerID: t.self, Message: msg}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (t *MockTransport) Incoming() <-chan Frame { return t.incoming }

func (t *MockTransport) Disconnected() <-chan fbtypes.PeerId { return t.disconnected }

// Disconnect simulates peer dropping its connection to t.
func (t *MockTransport) Disconnect(peer fbtypes.PeerId) {
	t.disconnected <- peer
}

// Sent returns every frame this transport has been asked to send, for test
// assertions.
func (t *MockTransport) Sent() []Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Frame, len(t.sent))
	copy(out, t.sent)
	return out
}
