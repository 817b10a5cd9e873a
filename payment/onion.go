// onion.go builds and peels the Sphinx mix-net packet a PaymentSession
// attaches to its first AddTlc, per spec.md 4.4 step 3: "for hops h1..hN,
// the packet for hop hi contains the forwarding instructions for hi+1 and
// is encrypted with the shared secret derived from an ephemeral key and
// hi.node_id. Payload layers are fixed-size and padded so intermediate
// hops cannot infer route length." Grounded on peer.go's use of
// sphinx.Router/OnionPacket/ProcessOnionPacket (NewRouter at startup,
// Decode+ProcessOnionPacket per inbound AddTlc, branching on
// sphinx.ExitNode vs sphinx.MoreHops) -- we reuse the same router and
// packet types, supplying our own per-hop payload (next channel id and
// forwarding amount/expiry) in place of the teacher's legacy fixed-size
// HopData, since this module's hops are identified by channel id rather
// than a short channel id + output index pair.
package payment

import (
	"bytes"
	"encoding/json"

	"github.com/btcsuite/btcd/btcec/v2"
	sphinx "github.com/lightningnetwork/lightning-onion"

	"github.com/EthanYuan/fiber/fbtypes"
	"github.com/EthanYuan/fiber/routing"
)

// HopPayload is the forwarding instruction carried in one onion layer.
// The final hop's payload has IsFinalHop set and no NextChannelID.
type HopPayload struct {
	NextChannelID  fbtypes.Hash256 `json:"next_channel_id,omitempty"`
	ForwardAmount  fbtypes.Amount  `json:"forward_amount"`
	OutgoingCltv   uint64          `json:"outgoing_cltv"`
	IsFinalHop     bool            `json:"is_final_hop,omitempty"`
}

// BuildPacket constructs the layered onion packet for a route, where
// path[i] is the identity pubkey of hop i and payloads[i] is the
// instruction that hop decrypts and acts on. sessionKey is a fresh
// ephemeral key generated per payment attempt so the route can't be
// linked across attempts.
func BuildPacket(path []*fbtypes.Pubkey, payloads []HopPayload,
	sessionKey *btcec.PrivateKey, assocData []byte) (*sphinx.OnionPacket, error) {

	if len(path) != len(payloads) {
		return nil, errHopMismatch
	}

	hopPubKeys := make([]*btcec.PublicKey, len(path))
	for i, p := range path {
		hopPubKeys[i] = p.Key()
	}

	hopsData := make([]sphinx.HopData, len(payloads))
	for i, payload := range payloads {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		hopsData[i] = sphinx.HopData{ForwardAmount: payload.ForwardAmount.Uint64()}
		copy(hopsData[i].ExtraBytes[:], raw)
	}

	return sphinx.NewOnionPacket(hopPubKeys, sessionKey, hopsData, assocData)
}

// Peel decodes and processes a received onion packet against this node's
// Sphinx router, returning the HopPayload this hop should act on, whether
// this node is the final recipient, and -- when it isn't -- the
// re-encoded packet to attach to the TLC offered on the next hop.
func Peel(router *sphinx.Router, raw []byte, paymentHash fbtypes.Hash256) (payload HopPayload, isFinalHop bool, nextPacket []byte, err error) {
	var pkt sphinx.OnionPacket
	if err := pkt.Decode(bytes.NewReader(raw)); err != nil {
		return HopPayload{}, false, nil, err
	}

	processed, err := router.ProcessOnionPacket(&pkt, paymentHash[:])
	if err != nil {
		return HopPayload{}, false, nil, err
	}

	if err := json.Unmarshal(processed.ForwardingInstructions.ExtraBytes[:], &payload); err != nil {
		return HopPayload{}, false, nil, err
	}

	if processed.Action == sphinx.ExitNode {
		return payload, true, nil, nil
	}

	var buf bytes.Buffer
	if err := processed.Packet.Encode(&buf); err != nil {
		return HopPayload{}, false, nil, err
	}
	return payload, false, buf.Bytes(), nil
}

// NewSphinxOnionBuilder returns an OnionBuilder that layers a real
// Sphinx packet over route, addressing one layer per hop
// (routing.Hop.NextNode) with a fresh session key per call so routes
// can't be linked across payment attempts. Each hop's payload carries
// only what that hop needs to keep forwarding -- the amount and cltv it
// should pass to the next hop, and the channel to pass it on -- never
// the full route, matching spec.md 4.4 step 3.
func NewSphinxOnionBuilder() OnionBuilder {
	return func(route []routing.Hop, paymentHash fbtypes.Hash256,
		finalAmount fbtypes.Amount, finalCltvDelta uint16) ([]byte, error) {

		if len(route) == 0 {
			return nil, sphinxError("payment: sphinx onion requires at least one hop")
		}

		path := make([]*fbtypes.Pubkey, len(route))
		payloads := make([]HopPayload, len(route))

		amount := finalAmount
		cltv := uint64(finalCltvDelta)
		for i := len(route) - 1; i >= 0; i-- {
			hop := route[i]
			nextNode := hop.NextNode
			path[i] = &nextNode
			payloads[i] = HopPayload{ForwardAmount: amount, OutgoingCltv: cltv}
			if i == len(route)-1 {
				payloads[i].IsFinalHop = true
			} else {
				payloads[i].NextChannelID = route[i+1].ChannelID
			}
			amount = amount.Add(hop.FeeAmount)
			cltv += uint64(hop.CltvExpiryDelta)
		}

		sessionKey, err := btcec.NewPrivateKey()
		if err != nil {
			return nil, err
		}
		pkt, err := BuildPacket(path, payloads, sessionKey, paymentHash[:])
		if err != nil {
			return nil, err
		}

		var buf bytes.Buffer
		if err := pkt.Encode(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}

var errHopMismatch = sphinxError("payment: path and payload length mismatch")

type sphinxError string

func (e sphinxError) Error() string { return string(e) }
