package channeldb

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// blob is a minimal Marshaler/Unmarshaler used to exercise the Store
// without depending on any domain package (channeldb must not import
// lnwallet/routing/payment, or those packages could not import it back).
type blob struct {
	Value string `json:"value"`
}

func (b *blob) MarshalBinary() ([]byte, error) { return json.Marshal(b) }
func (b *blob) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, b)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "fiber-store-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestChannelActorStateRoundTrip(t *testing.T) {
	store := openTestStore(t)
	channelID := []byte{0xaa, 0xbb}

	ok, err := store.GetChannelActorState(channelID, &blob{})
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.InsertChannelActorState(channelID, &blob{Value: "open"}))

	var out blob
	ok, err = store.GetChannelActorState(channelID, &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "open", out.Value)

	require.NoError(t, store.DeleteChannelActorState(channelID))
	ok, err = store.GetChannelActorState(channelID, &out)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChannelIDsByPeer(t *testing.T) {
	store := openTestStore(t)
	peerA := []byte("peer-a")
	peerB := []byte("peer-b")

	require.NoError(t, store.IndexChannelByPeer(peerA, []byte{1}))
	require.NoError(t, store.IndexChannelByPeer(peerA, []byte{2}))
	require.NoError(t, store.IndexChannelByPeer(peerB, []byte{3}))

	ids, err := store.GetChannelIDsByPeer(peerA)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	require.NoError(t, store.RemoveChannelPeerIndex(peerA, []byte{1}))
	ids, err = store.GetChannelIDsByPeer(peerA)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	require.Equal(t, []byte{2}, ids[0])
}

func TestInvoiceDuplicateRejected(t *testing.T) {
	store := openTestStore(t)
	hash := []byte("payment-hash")

	require.NoError(t, store.InsertInvoice(hash, &blob{Value: "first"}))

	err := store.InsertInvoice(hash, &blob{Value: "second"})
	require.Error(t, err)

	var out blob
	ok, err := store.GetInvoice(hash, &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "first", out.Value)
}

func TestInvoicePreimage(t *testing.T) {
	store := openTestStore(t)
	hash := []byte("payment-hash")

	_, found, err := store.GetInvoicePreimage(hash)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.InsertInvoicePreimage(hash, []byte("preimage")))

	preimage, found, err := store.GetInvoicePreimage(hash)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("preimage"), preimage)
}

func TestChannelAnnounceIndexOrdering(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.IndexChannelAnnouncement(200, []byte{0x02}))
	require.NoError(t, store.IndexChannelAnnouncement(100, []byte{0x01}))
	require.NoError(t, store.IndexChannelAnnouncement(300, []byte{0x03}))

	ids, err := store.ListChannelIDs()
	require.NoError(t, err)
	require.Equal(t, [][]byte{{0x01}, {0x02}, {0x03}}, ids)
}

func TestConnectedPeerLifecycle(t *testing.T) {
	store := openTestStore(t)
	peerID := []byte("peer-id")

	_, found, err := store.GetConnectedPeer(peerID)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.InsertConnectedPeer(peerID, []byte("/ip4/127.0.0.1/tcp/8119")))
	addr, found, err := store.GetConnectedPeer(peerID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "/ip4/127.0.0.1/tcp/8119", string(addr))

	require.NoError(t, store.RemoveConnectedPeer(peerID))
	_, found, err = store.GetConnectedPeer(peerID)
	require.NoError(t, err)
	require.False(t, found)
}

func TestPaymentSessionRoundTrip(t *testing.T) {
	store := openTestStore(t)
	hash := []byte("payment-hash")

	ok, err := store.GetPaymentSession(hash, &blob{})
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.InsertPaymentSession(hash, &blob{Value: "inflight"}))

	var out blob
	ok, err = store.GetPaymentSession(hash, &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "inflight", out.Value)
}
