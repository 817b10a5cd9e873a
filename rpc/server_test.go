package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/EthanYuan/fiber/chainntfs"
	"github.com/EthanYuan/fiber/channelactor"
	"github.com/EthanYuan/fiber/channeldb"
	"github.com/EthanYuan/fiber/fbtypes"
	"github.com/EthanYuan/fiber/lnwallet"
	"github.com/EthanYuan/fiber/network"
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

func testIdentity(t *testing.T) fbtypes.Pubkey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return fbtypes.NewPubkey(priv.PubKey())
}

// harness bundles a node, its payment manager and RPC server behind an
// httptest server, wired over a pair of connected mock transports.
type harness struct {
	node   *network.Node
	store  *channeldb.Store
	peer   *transport.MockTransport
	server *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dir, err := os.MkdirTemp("", "fiber-rpc-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	store, err := channeldb.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	graph := routing.NewGraph(store)
	oracle := chainntfs.NewMockOracle()
	oracle.SetEpoch(chainntfs.Epoch{Height: 100})

	self := fbtypes.PeerId("self")
	peer := fbtypes.PeerId("peer")
	tSelf := transport.NewMockTransport(self)
	tPeer := transport.NewMockTransport(peer)
	transport.Connect(tSelf, tPeer)

	identity := testIdentity(t)
	node := network.New(identity, self, store, graph, oracle, tSelf, testParams(), nil)
	mgr := payment.NewManager(store, graph, node, identity, nil)

	srv := NewServer(node, mgr)
	httpSrv := httptest.NewServer(srv)
	t.Cleanup(httpSrv.Close)

	return &harness{node: node, store: store, peer: tPeer, server: httpSrv}
}

// registerReadyChannel builds a channel already in StateChannelReady and
// registers it on the harness's node, mirroring how a real daemon would
// load one back from the store at startup. asFunder false gives the
// node a nonzero remote_balance, needed to accept an inbound TLC.
func (h *harness) registerReadyChannel(t *testing.T, peerID fbtypes.PeerId, channelID fbtypes.Hash256, funding fbtypes.Amount, asFunder bool) {
	t.Helper()
	var state *lnwallet.ChannelActorState
	var err error
	if asFunder {
		state, err = lnwallet.NewOpeningChannel(channelID, peerID, funding, testParams(), 1)
	} else {
		state, err = lnwallet.NewAcceptingChannel(channelID, peerID, funding, fbtypes.NewAmount(0), testParams(), 1)
	}
	require.NoError(t, err)
	require.NoError(t, state.MarkFundingSigned("test-outpoint"))
	require.NoError(t, state.MarkChannelReady())
	require.NoError(t, h.store.InsertChannelActorState(state.ID[:], state))
	h.node.RegisterChannel(peerID, channelactor.New(state, h.store))
}

func (h *harness) call(t *testing.T, method string, params interface{}, out interface{}) *rpcError {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)

	body, err := json.Marshal(request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: method, Params: raw})
	require.NoError(t, err)

	resp, err := http.Post(h.server.URL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var env struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	if env.Error != nil {
		return env.Error
	}
	if out != nil {
		require.NoError(t, json.Unmarshal(env.Result, out))
	}
	return nil
}

func TestOpenChannelAndListChannels(t *testing.T) {
	h := newHarness(t)

	var openResult openChannelResult
	rpcErr := h.call(t, "open_channel", openChannelParams{
		PeerID:        "peer",
		FundingAmount: fbtypes.NewAmount(50_000),
	}, &openResult)
	require.Nil(t, rpcErr)
	require.False(t, openResult.TemporaryChannelID.IsZero())

	var listResult listChannelsResult
	rpcErr = h.call(t, "list_channels", listChannelsParams{}, &listResult)
	require.Nil(t, rpcErr)
	require.Len(t, listResult.Channels, 1)
	require.Equal(t, openResult.TemporaryChannelID, listResult.Channels[0].ChannelID)
	require.Equal(t, fbtypes.PeerId("peer"), listResult.Channels[0].PeerID)
}

func TestUnknownMethod(t *testing.T) {
	h := newHarness(t)
	rpcErr := h.call(t, "not_a_method", struct{}{}, nil)
	require.NotNil(t, rpcErr)
	require.Equal(t, -32601, rpcErr.Code)
}

func TestAddTlcRPC(t *testing.T) {
	h := newHarness(t)

	var channelID fbtypes.Hash256
	channelID[0] = 0x01
	h.registerReadyChannel(t, "peer", channelID, fbtypes.NewAmount(100_000), true)

	var preimage fbtypes.Hash256
	preimage[0] = 0x42
	paymentHash := fbtypes.HashAlgorithmSha256.Digest(preimage)

	var addResult addTlcResult
	rpcErr := h.call(t, "add_tlc", addTlcParams{
		ChannelID:   channelID,
		Amount:      fbtypes.NewAmount(100),
		PaymentHash: paymentHash,
		Expiry:      fbtypes.LockTime(1000),
	}, &addResult)
	require.Nil(t, rpcErr)
	require.Equal(t, uint64(0), addResult.TlcID)

	actor, ok := h.node.Channel(channelID)
	require.True(t, ok)
	require.Contains(t, actor.Snapshot().OfferedTlcs, addResult.TlcID)
}

// TestRemoveTlcRPC exercises the operator-driven manual resolution path:
// a TLC this node received (not one it offered) gets fulfilled directly
// via the remove_tlc RPC rather than the automatic settleFinalHop flow.
func TestRemoveTlcRPC(t *testing.T) {
	h := newHarness(t)

	var channelID fbtypes.Hash256
	channelID[0] = 0x02
	h.registerReadyChannel(t, "peer", channelID, fbtypes.NewAmount(100_000), false)

	actor, ok := h.node.Channel(channelID)
	require.True(t, ok)

	var preimage fbtypes.Hash256
	preimage[0] = 0x42
	paymentHash := fbtypes.HashAlgorithmSha256.Digest(preimage)
	require.NoError(t, actor.ReceiveTlc(0, fbtypes.NewAmount(100), paymentHash, fbtypes.LockTime(1000), fbtypes.HashAlgorithmSha256, nil))

	removeParams := removeTlcParams{ChannelID: channelID, TlcID: 0}
	removeParams.Reason.PaymentPreimage = &preimage
	rpcErr := h.call(t, "remove_tlc", removeParams, nil)
	require.Nil(t, rpcErr)
	require.Empty(t, actor.Snapshot().ReceivedTlcs)
}

func TestUpdateChannelAndCommitmentSignedAndShutdown(t *testing.T) {
	h := newHarness(t)

	var channelID fbtypes.Hash256
	channelID[0] = 0x03
	h.registerReadyChannel(t, "peer", channelID, fbtypes.NewAmount(100_000), true)

	newFee := uint32(5)
	rpcErr := h.call(t, "update_channel", updateChannelParams{ChannelID: channelID, FeeBaseMsat: &newFee}, nil)
	require.Nil(t, rpcErr)
	actor, ok := h.node.Channel(channelID)
	require.True(t, ok)
	require.Equal(t, newFee, actor.Snapshot().Params.FeeBaseMsat)

	rpcErr = h.call(t, "commitment_signed", commitmentSignedParams{ChannelID: channelID}, nil)
	require.Nil(t, rpcErr)
	require.Equal(t, uint64(1), actor.Snapshot().CommitmentNumberLocal)

	rpcErr = h.call(t, "shutdown_channel", shutdownChannelParams{ChannelID: channelID, CloseScript: []byte("addr")}, nil)
	require.Nil(t, rpcErr)
	require.Equal(t, lnwallet.StateShuttingDown, actor.Snapshot().State)
}

func TestGetPaymentNotFound(t *testing.T) {
	h := newHarness(t)
	var paymentHash fbtypes.Hash256
	paymentHash[0] = 0x09
	rpcErr := h.call(t, "get_payment", getPaymentParams{PaymentHash: paymentHash}, nil)
	require.NotNil(t, rpcErr)
}
