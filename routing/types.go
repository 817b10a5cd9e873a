// Package routing implements the NetworkGraph component from spec.md 4.2:
// an in-memory view of every known node and channel, kept up to date from
// signed announcements and persisted via channeldb.Store, plus the bounded
// route search used by the payment engine.
package routing

import (
	"encoding/json"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/EthanYuan/fiber/fbtypes"
)

// sign computes a DER signature over digest under priv, using the same
// double-sha256 construction verifySignature checks against.
func sign(priv *btcec.PrivateKey, digest []byte) []byte {
	hash := chainhash.DoubleHashB(digest)
	return ecdsa.Sign(priv, hash).Serialize()
}

// NodeInfo is the last-seen announcement for a node: its identity, the
// addresses it can be reached at, and the signature binding them together.
// Grounded on lnwire.NodeAnnouncement's field set, trimmed to what
// spec.md's GLOSSARY defines for a node.
type NodeInfo struct {
	NodeID    fbtypes.Pubkey `json:"node_id"`
	Alias     string         `json:"alias"`
	Addresses []string       `json:"addresses"`
	Timestamp uint64         `json:"timestamp"`
	Signature []byte         `json:"signature"`
}

func (n *NodeInfo) signingDigest() []byte {
	buf, _ := json.Marshal(struct {
		NodeID    string   `json:"node_id"`
		Alias     string   `json:"alias"`
		Addresses []string `json:"addresses"`
		Timestamp uint64   `json:"timestamp"`
	}{n.NodeID.String(), n.Alias, n.Addresses, n.Timestamp})
	return buf
}

// Sign attaches a signature over n's identity fields under priv, which must
// correspond to n.NodeID.
func (n *NodeInfo) Sign(priv *btcec.PrivateKey) {
	n.Signature = sign(priv, n.signingDigest())
}

func (n *NodeInfo) MarshalBinary() ([]byte, error) { return json.Marshal(n) }
func (n *NodeInfo) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, n)
}

// ChannelInfo is the announced, channel-level (non-directional) record: the
// two endpoints and the on-chain funding reference. Per-direction fee
// policies live in ChannelUpdate, which can change far more often than the
// channel's existence.
type ChannelInfo struct {
	ChannelID   fbtypes.Hash256       `json:"channel_id"`
	Node1       fbtypes.Pubkey        `json:"node_1"`
	Node2       fbtypes.Pubkey        `json:"node_2"`
	Capacity    fbtypes.Amount        `json:"capacity"`
	BlockHeight uint64                `json:"block_height"`
	Node1Sig    []byte                `json:"node_1_signature"`
	Node2Sig    []byte                `json:"node_2_signature"`
	Update1     *ChannelUpdate        `json:"update_1,omitempty"`
	Update2     *ChannelUpdate        `json:"update_2,omitempty"`
}

func (c *ChannelInfo) signingDigest() []byte {
	buf, _ := json.Marshal(struct {
		ChannelID   string `json:"channel_id"`
		Node1       string `json:"node_1"`
		Node2       string `json:"node_2"`
		Capacity    string `json:"capacity"`
		BlockHeight uint64 `json:"block_height"`
	}{c.ChannelID.String(), c.Node1.String(), c.Node2.String(), c.Capacity.String(), c.BlockHeight})
	return buf
}

// SignNode1/SignNode2 attach each endpoint's signature over the channel's
// funding-binding fields, under the respective node's private key.
func (c *ChannelInfo) SignNode1(priv *btcec.PrivateKey) { c.Node1Sig = sign(priv, c.signingDigest()) }
func (c *ChannelInfo) SignNode2(priv *btcec.PrivateKey) { c.Node2Sig = sign(priv, c.signingDigest()) }

func (c *ChannelInfo) MarshalBinary() ([]byte, error) { return json.Marshal(c) }
func (c *ChannelInfo) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, c)
}

// directionFor returns which of the channel's two directional updates node
// would publish, used when applying a newly received ChannelUpdate.
func (c *ChannelInfo) directionFor(node fbtypes.Pubkey) (isNode1 bool, ok bool) {
	switch {
	case node.Equal(c.Node1):
		return true, true
	case node.Equal(c.Node2):
		return false, true
	default:
		return false, false
	}
}

// ChannelUpdate is a directional fee/policy announcement for one side of a
// channel, mirroring lnwire.ChannelUpdate's field set.
type ChannelUpdate struct {
	ChannelID       fbtypes.Hash256 `json:"channel_id"`
	Timestamp       uint64          `json:"timestamp"`
	Disabled        bool            `json:"disabled"`
	CltvExpiryDelta uint16          `json:"cltv_expiry_delta"`
	HtlcMinimum     fbtypes.Amount  `json:"htlc_minimum"`
	FeeBaseMsat     uint32          `json:"fee_base"`
	FeeProportional uint32          `json:"fee_proportional_millionths"`
	Signature       []byte          `json:"signature"`
}

func (u *ChannelUpdate) signingDigest() []byte {
	buf, _ := json.Marshal(struct {
		ChannelID       string `json:"channel_id"`
		Timestamp       uint64 `json:"timestamp"`
		Disabled        bool   `json:"disabled"`
		CltvExpiryDelta uint16 `json:"cltv_expiry_delta"`
		HtlcMinimum     string `json:"htlc_minimum"`
		FeeBaseMsat     uint32 `json:"fee_base"`
		FeeProportional uint32 `json:"fee_proportional_millionths"`
	}{u.ChannelID.String(), u.Timestamp, u.Disabled, u.CltvExpiryDelta,
		u.HtlcMinimum.String(), u.FeeBaseMsat, u.FeeProportional})
	return buf
}

// Sign attaches a signature over u's policy fields under priv, which must
// belong to the node on the side of the channel this update describes.
func (u *ChannelUpdate) Sign(priv *btcec.PrivateKey) {
	u.Signature = sign(priv, u.signingDigest())
}

// fee computes the fee this hop charges to forward amount, matching lnd's
// base + proportional*amount/1e6 formula.
func (u *ChannelUpdate) fee(amount fbtypes.Amount) fbtypes.Amount {
	proportional := new(big.Int).Mul(amount.BigInt(), big.NewInt(int64(u.FeeProportional)))
	proportional.Div(proportional, big.NewInt(1_000_000))

	total := new(big.Int).Add(big.NewInt(int64(u.FeeBaseMsat)), proportional)
	return fbtypes.NewAmountFromBigInt(total)
}
