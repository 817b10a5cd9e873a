package channeldb

import "encoding/binary"

// Key prefixes. These mirror original_source's store.rs byte-for-byte so
// that the on-disk layout documented in spec.md 3 ("Store") is the same
// single-byte-prefix partitioning regardless of which KV engine sits under
// it -- the teacher's channeldb split this information across many bolt
// buckets instead, which doesn't match spec.md's prefix table.
const (
	prefixChannelActorState     byte = 0
	prefixCkbInvoice            byte = 32
	prefixCkbInvoicePreimage    byte = 33
	prefixPeerIDChannelID       byte = 64
	prefixChannelInfo           byte = 96
	prefixChannelAnnounceIndex  byte = 97
	prefixChannelUpdateIndex    byte = 98
	prefixNodeInfo              byte = 128
	prefixNodeAnnounceIndex     byte = 129
	prefixPeerIDMultiaddr       byte = 160
	prefixPaymentSession        byte = 192
)

// byteOrder is the encoding used for every fixed-width integer embedded in
// a key, so that bucket cursor scans over those keys iterate in numeric
// order.
var byteOrder = binary.BigEndian

func channelActorStateKey(channelID []byte) []byte {
	return append([]byte{prefixChannelActorState}, channelID...)
}

func ckbInvoiceKey(paymentHash []byte) []byte {
	return append([]byte{prefixCkbInvoice}, paymentHash...)
}

func ckbInvoicePreimageKey(paymentHash []byte) []byte {
	return append([]byte{prefixCkbInvoicePreimage}, paymentHash...)
}

// peerIDChannelIDKey indexes a channel under its owning peer, so that
// "channels by peer" is a prefix scan rather than a full table scan.
func peerIDChannelIDKey(peerID, channelID []byte) []byte {
	key := make([]byte, 0, 1+len(peerID)+len(channelID))
	key = append(key, prefixPeerIDChannelID)
	key = append(key, peerID...)
	key = append(key, channelID...)
	return key
}

func peerIDChannelIDPrefix(peerID []byte) []byte {
	return append([]byte{prefixPeerIDChannelID}, peerID...)
}

func channelInfoKey(channelID []byte) []byte {
	return append([]byte{prefixChannelInfo}, channelID...)
}

// channelAnnounceIndexKey orders channel announcements by block height so
// the network graph can be replayed in arrival order on restart.
func channelAnnounceIndexKey(blockHeight uint64, channelID []byte) []byte {
	key := make([]byte, 1+8+len(channelID))
	key[0] = prefixChannelAnnounceIndex
	byteOrder.PutUint64(key[1:9], blockHeight)
	copy(key[9:], channelID)
	return key
}

func channelUpdateIndexKey(timestamp uint64, channelID []byte) []byte {
	key := make([]byte, 1+8+len(channelID))
	key[0] = prefixChannelUpdateIndex
	byteOrder.PutUint64(key[1:9], timestamp)
	copy(key[9:], channelID)
	return key
}

func nodeInfoKey(nodeID []byte) []byte {
	return append([]byte{prefixNodeInfo}, nodeID...)
}

func nodeAnnounceIndexKey(timestamp uint64, nodeID []byte) []byte {
	key := make([]byte, 1+8+len(nodeID))
	key[0] = prefixNodeAnnounceIndex
	byteOrder.PutUint64(key[1:9], timestamp)
	copy(key[9:], nodeID)
	return key
}

func peerIDMultiaddrKey(peerID []byte) []byte {
	return append([]byte{prefixPeerIDMultiaddr}, peerID...)
}

func paymentSessionKey(paymentHash []byte) []byte {
	return append([]byte{prefixPaymentSession}, paymentHash...)
}
