package network

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	sphinx "github.com/lightningnetwork/lightning-onion"
	"github.com/stretchr/testify/require"

	"github.com/EthanYuan/fiber/chainntfs"
	"github.com/EthanYuan/fiber/channelactor"
	"github.com/EthanYuan/fiber/channeldb"
	"github.com/EthanYuan/fiber/fbtypes"
	"github.com/EthanYuan/fiber/lnwallet"
	"github.com/EthanYuan/fiber/lnwire"
	"github.com/EthanYuan/fiber/payment"
	"github.com/EthanYuan/fiber/routing"
	"github.com/EthanYuan/fiber/transport"
)

func testParams() lnwallet.ChannelParams {
	return lnwallet.ChannelParams{
		TlcMinValue:               fbtypes.NewAmount(1),
		TlcMaxValue:               fbtypes.NewAmount(1_000_000),
		MaxTlcValueInFlight:       fbtypes.NewAmount(1_000_000),
		MaxTlcNumberInFlight:      10,
		FeeProportionalMillionths: 0,
		FeeBaseMsat:               0,
		LocktimeExpiryDelta:       40,
		MinFeeRate:                1,
	}
}

func openTestStore(t *testing.T) *channeldb.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "fiber-network-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	store, err := channeldb.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testIdentity(t *testing.T) fbtypes.Pubkey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return fbtypes.NewPubkey(priv.PubKey())
}

func newTestNode(t *testing.T, self fbtypes.PeerId, tp transport.PeerTransport) *Node {
	t.Helper()
	store := openTestStore(t)
	graph := routing.NewGraph(store)
	oracle := chainntfs.NewMockOracle()
	oracle.SetEpoch(chainntfs.Epoch{Height: 100})
	return New(testIdentity(t), self, store, graph, oracle, tp, testParams(), nil)
}

// readyChannel builds a bilateral channel already in StateChannelReady,
// registering one side's actor on node and returning the channel id.
func readyChannel(t *testing.T, node *Node, remotePeer fbtypes.PeerId, asFunder bool, fundingAmount fbtypes.Amount, channelID fbtypes.Hash256) fbtypes.Hash256 {
	t.Helper()
	var state *lnwallet.ChannelActorState
	var err error
	if asFunder {
		state, err = lnwallet.NewOpeningChannel(channelID, remotePeer, fundingAmount, testParams(), 1)
	} else {
		state, err = lnwallet.NewAcceptingChannel(channelID, remotePeer, fundingAmount, fbtypes.NewAmount(0), testParams(), 1)
	}
	require.NoError(t, err)
	require.NoError(t, state.MarkFundingSigned("test-outpoint"))
	require.NoError(t, state.MarkChannelReady())

	require.NoError(t, node.store.InsertChannelActorState(state.ID[:], state))
	node.RegisterChannel(remotePeer, channelactor.New(state, node.store))
	return state.ID
}

func drain(t *testing.T, tp *transport.MockTransport) transport.Frame {
	t.Helper()
	select {
	case f := <-tp.Incoming():
		return f
	default:
		t.Fatal("expected a queued frame, found none")
		return transport.Frame{}
	}
}

func TestOpenChannelHandshake(t *testing.T) {
	ctx := context.Background()
	peerA, peerB := fbtypes.PeerId("peerA"), fbtypes.PeerId("peerB")
	tA := transport.NewMockTransport(peerA)
	tB := transport.NewMockTransport(peerB)
	transport.Connect(tA, tB)

	nodeA := newTestNode(t, peerA, tA)
	nodeB := newTestNode(t, peerB, tB)

	channelID, err := nodeA.OpenChannelLocal(ctx, peerB, fbtypes.NewAmount(1_000_000), testParams())
	require.NoError(t, err)
	_, ok := nodeA.Channel(channelID)
	require.True(t, ok)

	openFrame := drain(t, tB)
	require.NoError(t, nodeB.dispatch(ctx, openFrame.PeerID, openFrame.Message))

	// B hasn't decided its own contribution yet, so no channel exists on
	// B until it calls accept_channel.
	_, ok = nodeB.Channel(channelID)
	require.False(t, ok)

	_, err = nodeB.AcceptChannelLocal(ctx, channelID, fbtypes.NewAmount(500_000))
	require.NoError(t, err)
	actorB, ok := nodeB.Channel(channelID)
	require.True(t, ok)
	snapB := actorB.Snapshot()
	require.Equal(t, fbtypes.NewAmount(500_000), snapB.LocalBalance)
	require.Equal(t, fbtypes.NewAmount(1_000_000), snapB.RemoteBalance)
	require.Equal(t, fbtypes.NewAmount(1_500_000), snapB.Capacity)

	acceptFrame := drain(t, tA)
	require.NoError(t, nodeA.dispatch(ctx, acceptFrame.PeerID, acceptFrame.Message))

	actorA, ok := nodeA.Channel(channelID)
	require.True(t, ok)
	snapA := actorA.Snapshot()
	require.Equal(t, fbtypes.NewAmount(1_000_000), snapA.LocalBalance)
	require.Equal(t, fbtypes.NewAmount(500_000), snapA.RemoteBalance)
	require.Equal(t, fbtypes.NewAmount(1_500_000), snapA.Capacity)
}

// TestCooperativeShutdownReachesClosed exercises the full
// Shutdown/ClosingSigned round trip between two nodes, confirming a
// channel with no pending TLCs actually reaches Closed rather than
// stalling in ShuttingDown.
func TestCooperativeShutdownReachesClosed(t *testing.T) {
	ctx := context.Background()
	peerA, peerB := fbtypes.PeerId("peerA"), fbtypes.PeerId("peerB")
	tA := transport.NewMockTransport(peerA)
	tB := transport.NewMockTransport(peerB)
	transport.Connect(tA, tB)

	nodeA := newTestNode(t, peerA, tA)
	nodeB := newTestNode(t, peerB, tB)

	var channelID fbtypes.Hash256
	channelID[0] = 0x55
	readyChannel(t, nodeA, peerB, true, fbtypes.NewAmount(100_000), channelID)
	readyChannel(t, nodeB, peerA, false, fbtypes.NewAmount(100_000), channelID)

	require.NoError(t, nodeA.ShutdownChannelLocal(ctx, channelID, []byte("addr-a"), false))

	// A -> B: Shutdown.
	frame := drain(t, tB)
	require.NoError(t, nodeB.dispatch(ctx, frame.PeerID, frame.Message))
	// B -> A: ClosingSigned (B had no pending TLCs either).
	frame = drain(t, tA)
	require.NoError(t, nodeA.dispatch(ctx, frame.PeerID, frame.Message))
	// A -> B: ClosingSigned, sent once A itself entered ShuttingDown.
	frame = drain(t, tB)
	require.NoError(t, nodeB.dispatch(ctx, frame.PeerID, frame.Message))

	actorA, _ := nodeA.Channel(channelID)
	actorB, _ := nodeB.Channel(channelID)
	require.Equal(t, lnwallet.StateClosed, actorA.Snapshot().State)
	require.Equal(t, lnwallet.StateClosed, actorB.Snapshot().State)
}

func TestForwardAndSettleTlc(t *testing.T) {
	ctx := context.Background()

	peerA := fbtypes.PeerId("peerA")
	peerB := fbtypes.PeerId("peerB")
	peerC := fbtypes.PeerId("peerC")

	tA := transport.NewMockTransport(peerA)
	tB := transport.NewMockTransport(peerB)
	tC := transport.NewMockTransport(peerC)
	transport.Connect(tA, tB)
	transport.Connect(tB, tC)

	nodeA := newTestNode(t, peerA, tA)
	nodeB := newTestNode(t, peerB, tB)
	nodeC := newTestNode(t, peerC, tC)

	var channelAB, channelBC fbtypes.Hash256
	channelAB[0] = 0xAB
	channelBC[0] = 0xBC

	readyChannel(t, nodeA, peerB, true, fbtypes.NewAmount(100_000), channelAB)
	readyChannel(t, nodeB, peerA, false, fbtypes.NewAmount(100_000), channelAB)
	readyChannel(t, nodeB, peerC, true, fbtypes.NewAmount(100_000), channelBC)
	readyChannel(t, nodeC, peerB, false, fbtypes.NewAmount(100_000), channelBC)

	var preimage fbtypes.Hash256
	preimage[0] = 0x42
	paymentHash := fbtypes.HashAlgorithmSha256.Digest(preimage)
	require.NoError(t, nodeC.store.InsertInvoicePreimage(paymentHash[:], preimage[:]))

	fee := fbtypes.NewAmount(10)
	finalAmount := fbtypes.NewAmount(990)
	totalAmount := finalAmount.Add(fee)

	env := payment.DefaultEnvelope{
		Route: []routing.Hop{
			{ChannelID: channelBC, FeeAmount: fee, CltvExpiryDelta: 40},
		},
		PaymentHash:    paymentHash,
		FinalAmount:    finalAmount,
		FinalCltvDelta: 40,
	}
	onionPacket, err := env.Encode()
	require.NoError(t, err)

	tlcID, err := nodeA.AddTlc(channelAB, totalAmount, paymentHash, fbtypes.LockTime(1000), fbtypes.HashAlgorithmSha256, onionPacket)
	require.NoError(t, err)
	require.Equal(t, uint64(0), tlcID)

	// A -> B: add_tlc on channel AB.
	frame := drain(t, tB)
	require.NoError(t, nodeB.dispatch(ctx, frame.PeerID, frame.Message))

	// B -> C: forwarded add_tlc on channel BC.
	frame = drain(t, tC)
	require.NoError(t, nodeC.dispatch(ctx, frame.PeerID, frame.Message))

	// C -> B: remove_tlc fulfilling the final hop.
	frame = drain(t, tB)
	require.NoError(t, nodeB.dispatch(ctx, frame.PeerID, frame.Message))

	// B -> A: remove_tlc propagated back to the originator.
	frame = drain(t, tA)
	require.NoError(t, nodeA.dispatch(ctx, frame.PeerID, frame.Message))

	abActorA, _ := nodeA.Channel(channelAB)
	snapA := abActorA.Snapshot()
	require.Empty(t, snapA.OfferedTlcs)
	require.True(t, snapA.RemoteBalance.GreaterThan(fbtypes.NewAmount(0)))

	bcActorB, _ := nodeB.Channel(channelBC)
	snapBCB := bcActorB.Snapshot()
	require.Empty(t, snapBCB.OfferedTlcs)

	bcActorC, _ := nodeC.Channel(channelBC)
	snapBCC := bcActorC.Snapshot()
	require.Empty(t, snapBCC.ReceivedTlcs)
	require.True(t, snapBCC.LocalBalance.GreaterThan(fbtypes.NewAmount(0)))
}

// newTestNodeWithOnion builds a Node whose sphinxRouter is keyed to its
// own private key, for tests exercising the real Sphinx forward path
// rather than the plaintext DefaultEnvelope fallback.
func newTestNodeWithOnion(t *testing.T, self fbtypes.PeerId, tp transport.PeerTransport) (*Node, *btcec.PrivateKey) {
	t.Helper()
	store := openTestStore(t)
	graph := routing.NewGraph(store)
	oracle := chainntfs.NewMockOracle()
	oracle.SetEpoch(chainntfs.Epoch{Height: 100})

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	router := sphinx.NewRouter(priv, &chaincfg.MainNetParams)

	return New(fbtypes.NewPubkey(priv.PubKey()), self, store, graph, oracle, tp, testParams(), router), priv
}

// TestForwardAndSettleTlcWithSphinxOnion mirrors TestForwardAndSettleTlc
// but routes a payment through a real layered Sphinx packet instead of
// the plaintext DefaultEnvelope fallback, confirming the forwarding node
// (B) only ever sees its own hop's instructions.
func TestForwardAndSettleTlcWithSphinxOnion(t *testing.T) {
	ctx := context.Background()

	peerA := fbtypes.PeerId("peerA")
	peerB := fbtypes.PeerId("peerB")
	peerC := fbtypes.PeerId("peerC")

	tA := transport.NewMockTransport(peerA)
	tB := transport.NewMockTransport(peerB)
	tC := transport.NewMockTransport(peerC)
	transport.Connect(tA, tB)
	transport.Connect(tB, tC)

	nodeA, _ := newTestNodeWithOnion(t, peerA, tA)
	nodeB, bPriv := newTestNodeWithOnion(t, peerB, tB)
	nodeC, cPriv := newTestNodeWithOnion(t, peerC, tC)

	var channelAB, channelBC fbtypes.Hash256
	channelAB[0] = 0xAB
	channelBC[0] = 0xBC

	readyChannel(t, nodeA, peerB, true, fbtypes.NewAmount(100_000), channelAB)
	readyChannel(t, nodeB, peerA, false, fbtypes.NewAmount(100_000), channelAB)
	readyChannel(t, nodeB, peerC, true, fbtypes.NewAmount(100_000), channelBC)
	readyChannel(t, nodeC, peerB, false, fbtypes.NewAmount(100_000), channelBC)

	var preimage fbtypes.Hash256
	preimage[0] = 0x43
	paymentHash := fbtypes.HashAlgorithmSha256.Digest(preimage)
	require.NoError(t, nodeC.store.InsertInvoicePreimage(paymentHash[:], preimage[:]))

	fee := fbtypes.NewAmount(10)
	finalAmount := fbtypes.NewAmount(990)
	totalAmount := finalAmount.Add(fee)

	bPub := fbtypes.NewPubkey(bPriv.PubKey())
	cPub := fbtypes.NewPubkey(cPriv.PubKey())
	sessionKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	pkt, err := payment.BuildPacket(
		[]*fbtypes.Pubkey{&bPub, &cPub},
		[]payment.HopPayload{
			{NextChannelID: channelBC, ForwardAmount: finalAmount},
			{ForwardAmount: finalAmount, IsFinalHop: true},
		},
		sessionKey, paymentHash[:])
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, pkt.Encode(&buf))

	tlcID, err := nodeA.AddTlc(channelAB, totalAmount, paymentHash, fbtypes.LockTime(1000), fbtypes.HashAlgorithmSha256, buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, uint64(0), tlcID)

	// A -> B: add_tlc on channel AB.
	frame := drain(t, tB)
	require.NoError(t, nodeB.dispatch(ctx, frame.PeerID, frame.Message))

	// B -> C: forwarded add_tlc on channel BC, carrying a re-encrypted
	// packet B could only peel one layer of.
	frame = drain(t, tC)
	require.NoError(t, nodeC.dispatch(ctx, frame.PeerID, frame.Message))

	// C -> B: remove_tlc fulfilling the final hop.
	frame = drain(t, tB)
	require.NoError(t, nodeB.dispatch(ctx, frame.PeerID, frame.Message))

	// B -> A: remove_tlc propagated back to the originator.
	frame = drain(t, tA)
	require.NoError(t, nodeA.dispatch(ctx, frame.PeerID, frame.Message))

	abActorA, _ := nodeA.Channel(channelAB)
	require.Empty(t, abActorA.Snapshot().OfferedTlcs)

	bcActorC, _ := nodeC.Channel(channelBC)
	snapBCC := bcActorC.Snapshot()
	require.Empty(t, snapBCC.ReceivedTlcs)
	require.True(t, snapBCC.LocalBalance.GreaterThan(fbtypes.NewAmount(0)))
}

func TestHandleChannelUpdateTriesBothEndpoints(t *testing.T) {
	peerA := fbtypes.PeerId("peerA")
	tA := transport.NewMockTransport(peerA)
	nodeA := newTestNode(t, peerA, tA)

	srcPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	dstPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	src := fbtypes.NewPubkey(srcPriv.PubKey())
	dst := fbtypes.NewPubkey(dstPriv.PubKey())

	var channelID fbtypes.Hash256
	channelID[0] = 0x09
	info := &routing.ChannelInfo{
		ChannelID: channelID, Node1: src, Node2: dst,
		Capacity: fbtypes.NewAmount(1_000), BlockHeight: 10,
	}
	info.SignNode1(srcPriv)
	info.SignNode2(dstPriv)
	require.NoError(t, nodeA.graph.ApplyChannelAnnouncement(info))

	update := &routing.ChannelUpdate{
		ChannelID: channelID, Timestamp: 5, CltvExpiryDelta: 20,
		HtlcMinimum: fbtypes.NewAmount(1), FeeBaseMsat: 5, FeeProportional: 0,
	}
	update.Sign(dstPriv)

	msg := &lnwire.ChannelUpdateMsg{
		ChannelID: update.ChannelID, Timestamp: update.Timestamp, Disabled: update.Disabled,
		CltvExpiryDelta: update.CltvExpiryDelta, HtlcMinimum: update.HtlcMinimum,
		FeeBaseMsat: update.FeeBaseMsat, FeeProportional: update.FeeProportional, Signature: update.Signature,
	}
	require.NoError(t, nodeA.HandleChannelUpdate(msg))

	got, ok := nodeA.graph.Channel(channelID)
	require.True(t, ok)
	require.NotNil(t, got.Update2)
}

// fakePaymentResultHandler records the outcomes Node reports for TLCs it
// originated, standing in for a wired payment.Manager.
type fakePaymentResultHandler struct {
	fulfilled []fbtypes.Hash256
	failed    []fbtypes.Hash256
}

func (f *fakePaymentResultHandler) HandleFulfill(paymentHash fbtypes.Hash256, nowMicros uint64) error {
	f.fulfilled = append(f.fulfilled, paymentHash)
	return nil
}

func (f *fakePaymentResultHandler) HandleFail(paymentHash fbtypes.Hash256, reason string, currentHeight, nowMicros uint64) error {
	f.failed = append(f.failed, paymentHash)
	return nil
}

// TestHandleRemoveTlcReportsFailureToPaymentHandler confirms a TLC this
// node originated (no circuit recorded for it) reports its failure to
// the attached payment result handler instead of being silently dropped.
func TestHandleRemoveTlcReportsFailureToPaymentHandler(t *testing.T) {
	ctx := context.Background()
	peerA := fbtypes.PeerId("peerA")
	peerB := fbtypes.PeerId("peerB")

	tA := transport.NewMockTransport(peerA)
	tB := transport.NewMockTransport(peerB)
	transport.Connect(tA, tB)

	nodeA := newTestNode(t, peerA, tA)
	nodeB := newTestNode(t, peerB, tB)

	handler := &fakePaymentResultHandler{}
	nodeA.SetPaymentResultHandler(handler)

	var channelID fbtypes.Hash256
	channelID[0] = 0x77
	readyChannel(t, nodeA, peerB, true, fbtypes.NewAmount(100_000), channelID)
	readyChannel(t, nodeB, peerA, false, fbtypes.NewAmount(100_000), channelID)

	var preimage fbtypes.Hash256
	preimage[0] = 0x64
	paymentHash := fbtypes.HashAlgorithmSha256.Digest(preimage)
	// Deliberately no invoice registered on nodeB, so it fails the TLC.

	env := payment.DefaultEnvelope{PaymentHash: paymentHash, FinalAmount: fbtypes.NewAmount(1000), FinalCltvDelta: 40}
	onionPacket, err := env.Encode()
	require.NoError(t, err)

	_, err = nodeA.AddTlc(channelID, fbtypes.NewAmount(1000), paymentHash, fbtypes.LockTime(1000), fbtypes.HashAlgorithmSha256, onionPacket)
	require.NoError(t, err)

	frame := drain(t, tB)
	require.NoError(t, nodeB.dispatch(ctx, frame.PeerID, frame.Message))

	frame = drain(t, tA)
	require.NoError(t, nodeA.dispatch(ctx, frame.PeerID, frame.Message))

	require.Equal(t, []fbtypes.Hash256{paymentHash}, handler.failed)
	require.Empty(t, handler.fulfilled)
}
