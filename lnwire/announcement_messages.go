package lnwire

import "github.com/EthanYuan/fiber/fbtypes"

// NodeAnnouncementMsg gossips one node's identity and reachable addresses.
// Field set mirrors routing.NodeInfo -- the transport carries the same
// signed record the NetworkGraph stores, rather than a distinct wire shape.
type NodeAnnouncementMsg struct {
	NodeID    fbtypes.Pubkey `json:"node_id"`
	Alias     string         `json:"alias"`
	Addresses []string       `json:"addresses"`
	Timestamp uint64         `json:"timestamp"`
	Signature []byte         `json:"signature"`
}

func (m *NodeAnnouncementMsg) MsgType() MessageType { return MsgNodeAnnouncementMsg }

// ChannelAnnouncementMsg gossips a newly opened channel's two endpoints and
// on-chain funding reference, co-signed by both parties.
type ChannelAnnouncementMsg struct {
	ChannelID   fbtypes.Hash256 `json:"channel_id"`
	Node1       fbtypes.Pubkey  `json:"node_1"`
	Node2       fbtypes.Pubkey  `json:"node_2"`
	Capacity    fbtypes.Amount  `json:"capacity"`
	BlockHeight uint64          `json:"block_height"`
	Node1Sig    []byte          `json:"node_1_signature"`
	Node2Sig    []byte          `json:"node_2_signature"`
}

func (m *ChannelAnnouncementMsg) MsgType() MessageType { return MsgChannelAnnouncementMsg }

// ChannelUpdateMsg gossips one direction's forwarding policy for a channel.
type ChannelUpdateMsg struct {
	ChannelID       fbtypes.Hash256 `json:"channel_id"`
	Timestamp       uint64          `json:"timestamp"`
	Disabled        bool            `json:"disabled"`
	CltvExpiryDelta uint16          `json:"cltv_expiry_delta"`
	HtlcMinimum     fbtypes.Amount  `json:"htlc_minimum"`
	FeeBaseMsat     uint32          `json:"fee_base"`
	FeeProportional uint32          `json:"fee_proportional_millionths"`
	Signature       []byte          `json:"signature"`
}

func (m *ChannelUpdateMsg) MsgType() MessageType { return MsgChannelUpdateMsg }
