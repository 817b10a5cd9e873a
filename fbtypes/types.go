package fbtypes

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Pubkey identifies a node in the network graph by its serialized
// elliptic-curve public key. Grounded on the teacher's use of
// *btcec.PublicKey throughout channeldb/lnwallet for node identities.
type Pubkey struct {
	key *btcec.PublicKey
}

func NewPubkey(key *btcec.PublicKey) Pubkey {
	return Pubkey{key: key}
}

func ParsePubkey(raw []byte) (Pubkey, error) {
	key, err := btcec.ParsePubKey(raw)
	if err != nil {
		return Pubkey{}, fmt.Errorf("fbtypes: invalid pubkey: %w", err)
	}
	return Pubkey{key: key}, nil
}

func (p Pubkey) Serialize() []byte {
	if p.key == nil {
		return nil
	}
	return p.key.SerializeCompressed()
}

func (p Pubkey) Key() *btcec.PublicKey {
	return p.key
}

func (p Pubkey) IsValid() bool {
	return p.key != nil
}

func (p Pubkey) String() string {
	return hex.EncodeToString(p.Serialize())
}

func (p Pubkey) Equal(other Pubkey) bool {
	return p.String() == other.String()
}

func (p Pubkey) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

func (p *Pubkey) UnmarshalJSON(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("fbtypes: invalid pubkey json")
	}
	raw, err := hex.DecodeString(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	parsed, err := ParsePubkey(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// PeerId is the transport-layer identity of a peer, independent of the
// node Pubkey it may or may not be associated with (spec.md 3: "a peer
// hosts zero or more channels").
type PeerId string

func (p PeerId) String() string { return string(p) }

// LockTime is a CLTV-style expiry height/timestamp carried by a TLC or a
// route's final hop constraint.
type LockTime uint64

// ShortChannelID is a compact (block, tx-index, output-index) encoding of a
// channel's funding outpoint, used as a human-legible channel identifier in
// route hops and RPC output, mirroring lnwire.ShortChannelID.
type ShortChannelID struct {
	BlockHeight uint32
	TxIndex     uint32
	OutputIndex uint16
}

func (s ShortChannelID) ToUint64() uint64 {
	return (uint64(s.BlockHeight) << 40) | (uint64(s.TxIndex) << 16) |
		uint64(s.OutputIndex)
}

func (s ShortChannelID) String() string {
	return fmt.Sprintf("%dx%dx%d", s.BlockHeight, s.TxIndex, s.OutputIndex)
}
