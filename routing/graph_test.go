package routing

import (
	"crypto/rand"
	"os"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/EthanYuan/fiber/channeldb"
	"github.com/EthanYuan/fiber/fbtypes"
)

// testNode bundles a generated keypair with its fbtypes.Pubkey, so tests
// can sign announcements the way a real node would before handing them to
// the graph.
type testNode struct {
	priv *btcec.PrivateKey
	pub  fbtypes.Pubkey
}

func newTestNode(t *testing.T) testNode {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return testNode{priv: priv, pub: fbtypes.NewPubkey(priv.PubKey())}
}

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	dir, err := os.MkdirTemp("", "fiber-graph-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := channeldb.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewGraph(store)
}

func announceNode(t *testing.T, g *Graph, n testNode, alias string, ts uint64) {
	t.Helper()
	info := &NodeInfo{NodeID: n.pub, Alias: alias, Timestamp: ts}
	info.Signature = sign(n.priv, info.signingDigest())
	require.NoError(t, g.ApplyNodeAnnouncement(info))
}

func announceChannel(t *testing.T, g *Graph, a, b testNode, channelID fbtypes.Hash256, capacity uint64, blockHeight uint64) *ChannelInfo {
	t.Helper()
	c := &ChannelInfo{
		ChannelID:   channelID,
		Node1:       a.pub,
		Node2:       b.pub,
		Capacity:    fbtypes.NewAmount(capacity),
		BlockHeight: blockHeight,
	}
	digest := c.signingDigest()
	c.Node1Sig = sign(a.priv, digest)
	c.Node2Sig = sign(b.priv, digest)
	require.NoError(t, g.ApplyChannelAnnouncement(c))
	return c
}

func publishUpdate(t *testing.T, g *Graph, signer testNode, channelID fbtypes.Hash256, feeBase, feeProp uint32, cltvDelta uint16, ts uint64) {
	t.Helper()
	u := &ChannelUpdate{
		ChannelID:       channelID,
		Timestamp:       ts,
		CltvExpiryDelta: cltvDelta,
		HtlcMinimum:     fbtypes.NewAmount(1),
		FeeBaseMsat:     feeBase,
		FeeProportional: feeProp,
	}
	u.Signature = sign(signer.priv, u.signingDigest())
	require.NoError(t, g.ApplyChannelUpdateFrom(signer.pub, u))
}

func randomChannelID(t *testing.T) fbtypes.Hash256 {
	t.Helper()
	var id fbtypes.Hash256
	_, err := rand.Read(id[:])
	require.NoError(t, err)
	return id
}

func TestApplyNodeAnnouncementRejectsBadSignature(t *testing.T) {
	g := newTestGraph(t)
	n := newTestNode(t)

	info := &NodeInfo{NodeID: n.pub, Alias: "bob", Timestamp: 1, Signature: []byte("garbage")}
	err := g.ApplyNodeAnnouncement(info)
	require.Error(t, err)
	_, ok := g.Node(n.pub)
	require.False(t, ok)
}

func TestApplyNodeAnnouncementLastWriterWins(t *testing.T) {
	g := newTestGraph(t)
	n := newTestNode(t)

	announceNode(t, g, n, "alice", 10)
	announceNode(t, g, n, "stale", 5)

	got, ok := g.Node(n.pub)
	require.True(t, ok)
	require.Equal(t, "alice", got.Alias)

	announceNode(t, g, n, "alice-v2", 20)
	got, ok = g.Node(n.pub)
	require.True(t, ok)
	require.Equal(t, "alice-v2", got.Alias)
}

func TestApplyChannelUpdateRejectsWrongSigner(t *testing.T) {
	g := newTestGraph(t)
	a, b, stranger := newTestNode(t), newTestNode(t), newTestNode(t)
	channelID := randomChannelID(t)
	announceChannel(t, g, a, b, channelID, 100000, 1)

	u := &ChannelUpdate{ChannelID: channelID, Timestamp: 1, FeeBaseMsat: 1000}
	u.Signature = sign(stranger.priv, u.signingDigest())
	err := g.ApplyChannelUpdateFrom(stranger.pub, u)
	require.Error(t, err)
}

func TestFindRouteSimplePath(t *testing.T) {
	g := newTestGraph(t)
	alice, bob, carol := newTestNode(t), newTestNode(t), newTestNode(t)
	announceNode(t, g, alice, "alice", 1)
	announceNode(t, g, bob, "bob", 1)
	announceNode(t, g, carol, "carol", 1)

	chanAB := randomChannelID(t)
	chanBC := randomChannelID(t)
	announceChannel(t, g, alice, bob, chanAB, 1_000_000, 1)
	announceChannel(t, g, bob, carol, chanBC, 1_000_000, 2)

	publishUpdate(t, g, alice, chanAB, 1000, 1, 40, 1)
	publishUpdate(t, g, bob, chanAB, 1000, 1, 40, 1)
	publishUpdate(t, g, bob, chanBC, 2000, 1, 40, 1)
	publishUpdate(t, g, carol, chanBC, 2000, 1, 40, 1)

	hops, err := g.FindRoute(alice.pub, carol.pub, fbtypes.NewAmount(50000),
		RouteConstraints{FinalCltvDelta: 9})
	require.NoError(t, err)
	require.Len(t, hops, 2)
	require.Equal(t, chanAB, hops[0].ChannelID)
	require.Equal(t, chanBC, hops[1].ChannelID)
	require.True(t, hops[0].NextNode.Equal(bob.pub))
	require.True(t, hops[1].NextNode.Equal(carol.pub))
}

func TestFindRoutePrefersCheaperPath(t *testing.T) {
	g := newTestGraph(t)
	alice, bob, carol, dave := newTestNode(t), newTestNode(t), newTestNode(t), newTestNode(t)
	announceNode(t, g, alice, "alice", 1)
	announceNode(t, g, bob, "bob", 1)
	announceNode(t, g, carol, "carol", 1)
	announceNode(t, g, dave, "dave", 1)

	cheapAB := randomChannelID(t)
	cheapBD := randomChannelID(t)
	pricyAC := randomChannelID(t)
	pricyCD := randomChannelID(t)

	announceChannel(t, g, alice, bob, cheapAB, 1_000_000, 1)
	announceChannel(t, g, bob, dave, cheapBD, 1_000_000, 2)
	announceChannel(t, g, alice, carol, pricyAC, 1_000_000, 3)
	announceChannel(t, g, carol, dave, pricyCD, 1_000_000, 4)

	publishUpdate(t, g, alice, cheapAB, 100, 0, 40, 1)
	publishUpdate(t, g, bob, cheapAB, 100, 0, 40, 1)
	publishUpdate(t, g, bob, cheapBD, 100, 0, 40, 1)
	publishUpdate(t, g, dave, cheapBD, 100, 0, 40, 1)

	publishUpdate(t, g, alice, pricyAC, 5000, 0, 40, 1)
	publishUpdate(t, g, carol, pricyAC, 5000, 0, 40, 1)
	publishUpdate(t, g, carol, pricyCD, 5000, 0, 40, 1)
	publishUpdate(t, g, dave, pricyCD, 5000, 0, 40, 1)

	hops, err := g.FindRoute(alice.pub, dave.pub, fbtypes.NewAmount(10000),
		RouteConstraints{FinalCltvDelta: 9})
	require.NoError(t, err)
	require.Len(t, hops, 2)
	require.Equal(t, cheapAB, hops[0].ChannelID)
}

func TestFindRouteNoRoute(t *testing.T) {
	g := newTestGraph(t)
	alice, bob := newTestNode(t), newTestNode(t)
	announceNode(t, g, alice, "alice", 1)
	announceNode(t, g, bob, "bob", 1)

	_, err := g.FindRoute(alice.pub, bob.pub, fbtypes.NewAmount(1000), RouteConstraints{})
	require.Error(t, err)
}

func TestFindRoutePrunesInsufficientCapacity(t *testing.T) {
	g := newTestGraph(t)
	alice, bob := newTestNode(t), newTestNode(t)
	announceNode(t, g, alice, "alice", 1)
	announceNode(t, g, bob, "bob", 1)
	channelID := randomChannelID(t)
	announceChannel(t, g, alice, bob, channelID, 100, 1)
	publishUpdate(t, g, alice, channelID, 10, 0, 40, 1)
	publishUpdate(t, g, bob, channelID, 10, 0, 40, 1)

	_, err := g.FindRoute(alice.pub, bob.pub, fbtypes.NewAmount(1000), RouteConstraints{})
	require.Error(t, err)
}
