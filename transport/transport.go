// Package transport defines PeerTransport, the out-of-scope peer-to-peer
// transport and secure session layer from spec.md 1: "treated as a message
// bus delivering framed messages to named peers." Only the interface, an
// in-memory test double, and the send-queue plumbing the NetworkActor uses
// to talk to it live here -- a real implementation (handshake, framing,
// encryption) belongs to a deployment's transport collaborator, not this
// module.
package transport

import (
	"context"

	"github.com/EthanYuan/fiber/fbtypes"
	"github.com/EthanYuan/fiber/lnwire"
)

// Frame is one inbound message from a peer, paired with the peer it
// arrived from, matching spec.md 4.5's "incoming: stream<(peer_id, frame)>".
type Frame struct {
	PeerID  fbtypes.PeerId
	Message lnwire.Message
}

// PeerTransport is the message-bus collaborator spec.md 1/4.5 names: a
// send(peer_id, frame) operation plus a stream of inbound frames. Grounded
// on peer.go's sendQueue/outgoingQueue split (an unbuffered write path fed
// by a buffered request queue) and server.go's newPeers/donePeers channel
// pair for connection lifecycle, but reduced to the narrow interface the
// NetworkActor actually needs: this module never dials or accepts
// connections itself.
type PeerTransport interface {
	// Send queues msg for delivery to peer, returning once it's been
	// handed to the transport (not once the remote peer has processed it).
	Send(ctx context.Context, peer fbtypes.PeerId, msg lnwire.Message) error

	// Incoming returns the channel of frames arriving from any connected
	// peer. Closed when the transport shuts down.
	Incoming() <-chan Frame

	// Disconnected returns the channel of peer ids that have dropped their
	// connection; the NetworkActor removes its connected-peer record for
	// each one.
	Disconnected() <-chan fbtypes.PeerId
}
