// Package network implements the NetworkActor from spec.md 4.5: the
// top-level per-node dispatcher that owns every ChannelActor, routes
// inbound wire frames to the right one by (peer_id, channel_id),
// originates and forwards TLCs across the circuit table, and folds
// gossip messages into the NetworkGraph. Grounded on server.go's
// peers map plus its routingMgrConfig.SendMessage dispatch-by-vertex
// pattern, and peer.go's readHandler per-message-type switch --
// generalized from one goroutine per peer connection into a single
// dispatcher serving many transport.PeerTransport peers.
package network

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	sphinx "github.com/lightningnetwork/lightning-onion"

	"github.com/EthanYuan/fiber/chainntfs"
	"github.com/EthanYuan/fiber/channelactor"
	"github.com/EthanYuan/fiber/channeldb"
	"github.com/EthanYuan/fiber/fbtypes"
	"github.com/EthanYuan/fiber/ferrors"
	"github.com/EthanYuan/fiber/htlcswitch"
	"github.com/EthanYuan/fiber/lnwallet"
	"github.com/EthanYuan/fiber/lnwire"
	"github.com/EthanYuan/fiber/payment"
	"github.com/EthanYuan/fiber/routing"
	"github.com/EthanYuan/fiber/transport"
)

// channelEntry bundles a live actor with the peer it negotiated with,
// since inbound per-channel messages (AddTlc, CommitmentSigned, ...)
// don't repeat the peer id once a channel is open.
type channelEntry struct {
	actor  *channelactor.Actor
	peerID fbtypes.PeerId
}

// PaymentResultHandler is the narrow slice of payment.Manager that Node
// needs once a TLC it originated itself (as opposed to one forwarded on
// behalf of an upstream hop) reaches a terminal Fulfill or Fail. Kept as
// an interface, not a direct payment dependency, since payment.Manager
// already depends on Node as its ChannelDispatcher -- a direct import
// back would cycle.
type PaymentResultHandler interface {
	HandleFulfill(paymentHash fbtypes.Hash256, nowMicros uint64) error
	HandleFail(paymentHash fbtypes.Hash256, reason string, currentHeight, nowMicros uint64) error
}

// pendingOpen is an inbound OpenChannel proposal that hasn't been
// accepted yet: the responder's own funding contribution isn't known
// until an operator calls accept_channel (spec.md 6), so no
// ChannelActorState can be built from the proposal alone.
type pendingOpen struct {
	peerID fbtypes.PeerId
	msg    *lnwire.OpenChannel
	params lnwallet.ChannelParams
}

// Node is the NetworkActor: one instance per running daemon, wired to
// exactly one transport.PeerTransport, one routing.Graph, and one
// channeldb.Store. It also implements payment.ChannelDispatcher, so a
// payment.Manager built over the same Node can hand off originated
// payments to it directly.
type Node struct {
	Identity fbtypes.Pubkey
	Self     fbtypes.PeerId

	store     *channeldb.Store
	graph     *routing.Graph
	oracle    chainntfs.ChainOracle
	transport transport.PeerTransport
	circuits  *htlcswitch.CircuitMap

	// sphinxRouter peels inbound onion layers when set (spec.md 4.4 step
	// 3). nil falls back to the plaintext DefaultEnvelope format, which
	// is what tests and single-process deployments without per-hop
	// mix-net privacy use -- see payment.DefaultEnvelope.
	sphinxRouter *sphinx.Router

	// paymentResults receives the terminal outcome of a TLC this node
	// originated itself, letting a wired payment.Manager retry or
	// finalize the session (spec.md 4.4 step 6). nil means no payment
	// manager is attached -- e.g. a node that only forwards.
	paymentResults PaymentResultHandler

	defaultParams lnwallet.ChannelParams

	mu           sync.RWMutex
	channels     map[fbtypes.Hash256]*channelEntry
	pendingOpens map[fbtypes.Hash256]*pendingOpen

	// Logf receives one line per dropped or failed inbound message; the
	// dispatch loop can't return an error to anyone, so this is its only
	// visibility hook. Defaults to a no-op; cmd/fibernode wires this to
	// its btclog logger.
	Logf func(format string, args ...interface{})

	quit chan struct{}
}

// New builds a Node around its collaborators. defaultParams is the
// channel policy/bounds this node proposes when opening channels, and its
// LocktimeExpiryDelta bounds the expiry of TLCs this node offers; an
// accepted channel keeps the funder's proposed params.
// sphinxRouter may be nil, in which case onion payloads fall back to
// the plaintext DefaultEnvelope format (see payment.DefaultEnvelope).
func New(identity fbtypes.Pubkey, self fbtypes.PeerId, store *channeldb.Store, graph *routing.Graph,
	oracle chainntfs.ChainOracle, pt transport.PeerTransport, defaultParams lnwallet.ChannelParams,
	sphinxRouter *sphinx.Router) *Node {

	return &Node{
		Identity:      identity,
		Self:          self,
		store:         store,
		graph:         graph,
		oracle:        oracle,
		transport:     pt,
		circuits:      htlcswitch.NewCircuitMap(),
		sphinxRouter:  sphinxRouter,
		defaultParams: defaultParams,
		channels:      make(map[fbtypes.Hash256]*channelEntry),
		pendingOpens:  make(map[fbtypes.Hash256]*pendingOpen),
		Logf:          func(string, ...interface{}) {},
		quit:          make(chan struct{}),
	}
}

// SetPaymentResultHandler attaches the payment.Manager that should learn
// the outcome of TLCs this node originates. Wired once at startup
// (cmd/fibernode), after both Node and the Manager are constructed --
// Manager needs a live Node to dispatch through, so Node can't take one
// as a constructor argument without cycling.
func (n *Node) SetPaymentResultHandler(h PaymentResultHandler) {
	n.paymentResults = h
}

// Run drains incoming frames until the transport's channel closes, the
// context is cancelled, or Stop is called. Callers typically run this
// in its own goroutine.
func (n *Node) Run(ctx context.Context) {
	for {
		select {
		case frame, ok := <-n.transport.Incoming():
			if !ok {
				return
			}
			if err := n.store.InsertConnectedPeer([]byte(frame.PeerID), nil); err != nil {
				n.Logf("network: record connected peer %s: %v", frame.PeerID, err)
			}
			if err := n.dispatch(ctx, frame.PeerID, frame.Message); err != nil {
				n.Logf("network: handling message from %s: %v", frame.PeerID, err)
			}
		case peerID := <-n.transport.Disconnected():
			if err := n.store.RemoveConnectedPeer([]byte(peerID)); err != nil {
				n.Logf("network: remove connected peer %s: %v", peerID, err)
			}
		case <-n.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop terminates Run.
func (n *Node) Stop() { close(n.quit) }

// RegisterChannel adds an already-constructed actor (e.g. loaded from
// the store at startup, or just created by OpenChannelLocal) to the
// dispatch table.
func (n *Node) RegisterChannel(peerID fbtypes.PeerId, actor *channelactor.Actor) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels[actor.ID()] = &channelEntry{actor: actor, peerID: peerID}
}

// Channel returns the actor owning channelID, if this node knows it.
func (n *Node) Channel(channelID fbtypes.Hash256) (*channelactor.Actor, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	e, ok := n.channels[channelID]
	if !ok {
		return nil, false
	}
	return e.actor, true
}

// Channels returns every actor this node currently owns, for RPC
// introspection (list_channels) and startup reconciliation.
func (n *Node) Channels() []*channelactor.Actor {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*channelactor.Actor, 0, len(n.channels))
	for _, e := range n.channels {
		out = append(out, e.actor)
	}
	return out
}

// DefaultParams returns the channel policy/bounds this node proposes
// when opening channels, for RPC callers building an
// open_channel request that only overrides a few fields.
func (n *Node) DefaultParams() lnwallet.ChannelParams {
	return n.defaultParams
}

// ChannelRecord pairs a channel actor with the peer it was opened with,
// for callers (RPC's list_channels) that need the peer id alongside the
// actor's own state.
type ChannelRecord struct {
	Actor  *channelactor.Actor
	PeerID fbtypes.PeerId
}

// ListChannels returns every channel this node owns, optionally filtered
// to those open with one peer.
func (n *Node) ListChannels(peerID *fbtypes.PeerId) []ChannelRecord {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]ChannelRecord, 0, len(n.channels))
	for _, e := range n.channels {
		if peerID != nil && e.peerID != *peerID {
			continue
		}
		out = append(out, ChannelRecord{Actor: e.actor, PeerID: e.peerID})
	}
	return out
}

func (n *Node) lookup(channelID fbtypes.Hash256) (*channelEntry, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	e, ok := n.channels[channelID]
	return e, ok
}

func nowMicros() uint64 { return uint64(time.Now().UnixMicro()) }

func (n *Node) dispatch(ctx context.Context, peerID fbtypes.PeerId, msg lnwire.Message) error {
	n.Logf("network: %T from %s: %s", msg, peerID, newLogClosure(func() string {
		return spew.Sdump(msg)
	}))

	switch m := msg.(type) {
	case *lnwire.OpenChannel:
		return n.HandleOpenChannel(ctx, peerID, m)
	case *lnwire.AcceptChannel:
		return n.HandleAcceptChannel(ctx, peerID, m)
	case *lnwire.ChannelReady:
		return n.HandleChannelReady(peerID, m)
	case *lnwire.CommitmentSigned:
		return n.HandleCommitmentSigned(peerID, m)
	case *lnwire.AddTlc:
		return n.HandleAddTlc(ctx, peerID, m)
	case *lnwire.RemoveTlc:
		return n.HandleRemoveTlc(peerID, m)
	case *lnwire.Shutdown:
		return n.HandleShutdown(peerID, m)
	case *lnwire.ClosingSigned:
		return n.HandleClosingSigned(peerID, m)
	case *lnwire.Ping:
		return n.transport.Send(ctx, peerID, &lnwire.Pong{Nonce: m.Nonce})
	case *lnwire.Pong:
		return nil
	case *lnwire.NodeAnnouncementMsg:
		return n.HandleNodeAnnouncement(m)
	case *lnwire.ChannelAnnouncementMsg:
		return n.HandleChannelAnnouncement(m)
	case *lnwire.ChannelUpdateMsg:
		return n.HandleChannelUpdate(m)
	default:
		return fmt.Errorf("network: unhandled message type %T", msg)
	}
}

// --- channel lifecycle -------------------------------------------------

// OpenChannelLocal originates a new channel toward peerID, registering
// the resulting actor under the temporary channel id it generates and
// sending the OpenChannel proposal. This implementation treats the
// funder's temporary_channel_id as the channel's permanent id rather
// than deriving a separate final id at accept time: the funder generates
// it from 32 bytes of randomness, so a collision-resistant
// value exists before either side signs anything, and lnwire.AcceptChannel
// still carries a ChannelID field (echoing the same value) for wire
// compatibility with a design that does derive one.
func (n *Node) OpenChannelLocal(ctx context.Context, peerID fbtypes.PeerId,
	fundingAmount fbtypes.Amount, params lnwallet.ChannelParams) (fbtypes.Hash256, error) {

	var channelID fbtypes.Hash256
	if err := randomHash(&channelID); err != nil {
		return fbtypes.Hash256{}, err
	}

	state, err := lnwallet.NewOpeningChannel(channelID, peerID, fundingAmount, params, nowMicros())
	if err != nil {
		return fbtypes.Hash256{}, err
	}
	if err := n.persistNewChannel(peerID, state); err != nil {
		return fbtypes.Hash256{}, err
	}

	msg := &lnwire.OpenChannel{
		TemporaryChannelID:        channelID,
		FundingAmount:             fundingAmount,
		TlcMinValue:               params.TlcMinValue,
		TlcMaxValue:               params.TlcMaxValue,
		MaxTlcValueInFlight:       params.MaxTlcValueInFlight,
		MaxTlcNumberInFlight:      params.MaxTlcNumberInFlight,
		FeeProportionalMillionths: params.FeeProportionalMillionths,
		FeeBaseMsat:               params.FeeBaseMsat,
		LocktimeExpiryDelta:       params.LocktimeExpiryDelta,
		FundingFeeRate:            params.MinFeeRate,
	}
	return channelID, n.transport.Send(ctx, peerID, msg)
}

// HandleOpenChannel records an inbound channel proposal as pending. The
// responder's own funding contribution isn't known yet -- it arrives
// separately via an operator's accept_channel call (AcceptChannelLocal)
// -- so no ChannelActorState is built and nothing is sent back here.
func (n *Node) HandleOpenChannel(ctx context.Context, peerID fbtypes.PeerId, m *lnwire.OpenChannel) error {
	if m.FundingAmount.IsZero() {
		return ferrors.New(ferrors.CodeInvalidParameter, "open_channel: funding_amount must be positive")
	}
	params := lnwallet.ChannelParams{
		TlcMinValue:               m.TlcMinValue,
		TlcMaxValue:               m.TlcMaxValue,
		MaxTlcValueInFlight:       m.MaxTlcValueInFlight,
		MaxTlcNumberInFlight:      m.MaxTlcNumberInFlight,
		FeeProportionalMillionths: m.FeeProportionalMillionths,
		FeeBaseMsat:               m.FeeBaseMsat,
		LocktimeExpiryDelta:       m.LocktimeExpiryDelta,
		MinFeeRate:                m.FundingFeeRate,
	}
	if err := params.Validate(); err != nil {
		return err
	}

	n.mu.Lock()
	n.pendingOpens[m.TemporaryChannelID] = &pendingOpen{peerID: peerID, msg: m, params: params}
	n.mu.Unlock()
	n.Logf("network: %s proposed channel %s, awaiting accept_channel", peerID, m.TemporaryChannelID)
	return nil
}

// AcceptChannelLocal completes a pending inbound proposal with this
// node's own funding contribution (spec.md 6's accept_channel command).
// Only now, with both sides' amounts known, is the responder-side
// ChannelActorState built (spec.md 8 scenario 1: each side's
// local_balance reflects only its own contribution).
func (n *Node) AcceptChannelLocal(ctx context.Context, tempID fbtypes.Hash256, fundingAmount fbtypes.Amount) (fbtypes.Hash256, error) {
	n.mu.Lock()
	pending, ok := n.pendingOpens[tempID]
	if ok {
		delete(n.pendingOpens, tempID)
	}
	n.mu.Unlock()
	if !ok {
		return fbtypes.Hash256{}, ferrors.New(ferrors.CodeUnknownChannel, "accept_channel: no pending channel %s", tempID)
	}

	state, err := lnwallet.NewAcceptingChannel(tempID, pending.peerID, pending.msg.FundingAmount, fundingAmount, pending.params, nowMicros())
	if err != nil {
		return fbtypes.Hash256{}, err
	}
	if err := n.persistNewChannel(pending.peerID, state); err != nil {
		return fbtypes.Hash256{}, err
	}

	reply := &lnwire.AcceptChannel{
		TemporaryChannelID:   tempID,
		ChannelID:            tempID,
		FundingAmount:        fundingAmount,
		TlcMinValue:          pending.params.TlcMinValue,
		TlcMaxValue:          pending.params.TlcMaxValue,
		MaxTlcValueInFlight:  pending.params.MaxTlcValueInFlight,
		MaxTlcNumberInFlight: pending.params.MaxTlcNumberInFlight,
	}
	return tempID, n.transport.Send(ctx, pending.peerID, reply)
}

func (n *Node) persistNewChannel(peerID fbtypes.PeerId, state *lnwallet.ChannelActorState) error {
	if err := n.store.InsertChannelActorState(state.ID[:], state); err != nil {
		return err
	}
	if err := n.store.IndexChannelByPeer([]byte(peerID), state.ID[:]); err != nil {
		return err
	}
	n.RegisterChannel(peerID, channelactor.New(state, n.store))
	return nil
}

// HandleAcceptChannel records the responder's own funding contribution
// against the funder's channel state; per OpenChannelLocal's
// simplification the channel id doesn't change between propose and
// accept, so lookup is by the same id m.TemporaryChannelID was created
// under.
func (n *Node) HandleAcceptChannel(ctx context.Context, peerID fbtypes.PeerId, m *lnwire.AcceptChannel) error {
	entry, ok := n.lookup(m.TemporaryChannelID)
	if !ok || entry.peerID != peerID {
		return ferrors.New(ferrors.CodeUnknownChannel, "accept_channel: no pending channel %s with %s", m.TemporaryChannelID, peerID)
	}
	return entry.actor.ApplyAcceptFunding(m.FundingAmount)
}

// HandleChannelReady marks a channel ready once the remote side signals
// it has seen sufficient funding confirmations, per spec.md 4.3.
func (n *Node) HandleChannelReady(peerID fbtypes.PeerId, m *lnwire.ChannelReady) error {
	entry, ok := n.lookup(m.ChannelID)
	if !ok || entry.peerID != peerID {
		return ferrors.New(ferrors.CodeUnknownChannel, "channel_ready: unknown channel %s", m.ChannelID)
	}
	return entry.actor.MarkChannelReady()
}

// HandleCommitmentSigned applies a counterparty's commitment signature.
func (n *Node) HandleCommitmentSigned(peerID fbtypes.PeerId, m *lnwire.CommitmentSigned) error {
	entry, ok := n.lookup(m.ChannelID)
	if !ok || entry.peerID != peerID {
		return ferrors.New(ferrors.CodeUnknownChannel, "commitment_signed: unknown channel %s", m.ChannelID)
	}
	return entry.actor.CommitmentSigned()
}

// SignCommitment locally advances a channel's commitment number and
// notifies the counterparty, for the operator-triggered commitment_signed
// command (as opposed to HandleCommitmentSigned, which reacts to the
// counterparty doing the same thing to us).
func (n *Node) SignCommitment(ctx context.Context, channelID fbtypes.Hash256) error {
	entry, ok := n.lookup(channelID)
	if !ok {
		return ferrors.New(ferrors.CodeUnknownChannel, "commitment_signed: unknown channel %s", channelID)
	}
	if err := entry.actor.CommitmentSigned(); err != nil {
		return err
	}
	return n.transport.Send(ctx, entry.peerID, &lnwire.CommitmentSigned{ChannelID: channelID})
}

// ResolveReceivedTlc manually settles or fails a TLC this node holds as
// the receiving side, bypassing the automatic settleFinalHop path. It
// exists for operator-driven recovery of a stuck TLC (spec.md 6's
// remove_tlc command), not for ordinary payment flow.
func (n *Node) ResolveReceivedTlc(ctx context.Context, channelID fbtypes.Hash256, tlcID uint64, reason lnwallet.RemoveTlcReason) error {
	entry, ok := n.lookup(channelID)
	if !ok {
		return ferrors.New(ferrors.CodeUnknownChannel, "remove_tlc: unknown channel %s", channelID)
	}
	if _, err := entry.actor.RemoveReceivedTlc(tlcID, reason); err != nil {
		return err
	}
	msg := &lnwire.RemoveTlc{ChannelID: channelID, TlcID: tlcID, Fulfill: reason.Fulfill}
	if reason.FailCode != nil {
		code := uint32(*reason.FailCode)
		msg.FailCode = &code
	}
	return n.transport.Send(ctx, entry.peerID, msg)
}

// HandleShutdown begins cooperative closure of a channel at the
// counterparty's request.
func (n *Node) HandleShutdown(peerID fbtypes.PeerId, m *lnwire.Shutdown) error {
	entry, ok := n.lookup(m.ChannelID)
	if !ok || entry.peerID != peerID {
		return ferrors.New(ferrors.CodeUnknownChannel, "shutdown: unknown channel %s", m.ChannelID)
	}
	if err := entry.actor.Shutdown(m.CloseScript, m.Force); err != nil {
		return err
	}
	return n.sendClosingSignedIfReady(context.Background(), m.ChannelID)
}

// ShutdownChannelLocal begins cooperative closure at this node's own
// request (spec.md 6's shutdown_channel command), notifying the
// counterparty once the local state transition succeeds.
func (n *Node) ShutdownChannelLocal(ctx context.Context, channelID fbtypes.Hash256, closeScript []byte, force bool) error {
	entry, ok := n.lookup(channelID)
	if !ok {
		return ferrors.New(ferrors.CodeUnknownChannel, "shutdown_channel: unknown channel %s", channelID)
	}
	if err := entry.actor.Shutdown(closeScript, force); err != nil {
		return err
	}
	if err := n.transport.Send(ctx, entry.peerID, &lnwire.Shutdown{ChannelID: channelID, CloseScript: closeScript, Force: force}); err != nil {
		return err
	}
	return n.sendClosingSignedIfReady(ctx, channelID)
}

// sendClosingSignedIfReady sends this side's ClosingSigned once a
// channel has reached ShuttingDown with no pending TLCs, completing
// this side's half of the closing-signature exchange spec.md 4.3
// requires before ShuttingDown can advance to Closed. It is a no-op if
// the channel force-closed straight to Closed, already sent its
// signature, or still has pending TLCs.
func (n *Node) sendClosingSignedIfReady(ctx context.Context, channelID fbtypes.Hash256) error {
	entry, ok := n.lookup(channelID)
	if !ok {
		return nil
	}
	snap := entry.actor.Snapshot()
	if snap.State != lnwallet.StateShuttingDown {
		return nil
	}
	if len(snap.OfferedTlcs) > 0 || len(snap.ReceivedTlcs) > 0 {
		return nil
	}
	sent, err := entry.actor.MarkClosingSigSent()
	if err != nil || !sent {
		return err
	}
	return n.transport.Send(ctx, entry.peerID, &lnwire.ClosingSigned{ChannelID: channelID})
}

// HandleClosingSigned records the peer's half of the closing-signature
// exchange and finishes the shutdown once this side has sent its own
// (spec.md 4.3: ShuttingDown -> Closed "when no pending TLCs remain and
// a closing signature has been exchanged").
func (n *Node) HandleClosingSigned(peerID fbtypes.PeerId, m *lnwire.ClosingSigned) error {
	entry, ok := n.lookup(m.ChannelID)
	if !ok || entry.peerID != peerID {
		return ferrors.New(ferrors.CodeUnknownChannel, "closing_signed: unknown channel %s", m.ChannelID)
	}
	ready, err := entry.actor.ReceiveClosingSigned()
	if err != nil {
		return err
	}
	if !ready {
		return nil
	}
	return entry.actor.FinishShutdown()
}

// --- TLC forwarding ------------------------------------------------------

// AddTlc implements payment.ChannelDispatcher: it looks up the local
// actor for channelID and offers a TLC with no previous hop, since this
// is always a payment this node itself originated.
func (n *Node) AddTlc(channelID fbtypes.Hash256, amount fbtypes.Amount, paymentHash fbtypes.Hash256,
	expiry fbtypes.LockTime, algo fbtypes.HashAlgorithm, onionPacket []byte) (uint64, error) {

	entry, ok := n.lookup(channelID)
	if !ok {
		return 0, ferrors.New(ferrors.CodeUnknownChannel, "add_tlc: unknown channel %s", channelID)
	}

	ctx := context.Background()
	currentHeight, err := n.currentHeight(ctx)
	if err != nil {
		return 0, err
	}

	tlcID, err := entry.actor.AddTlc(amount, paymentHash, expiry, algo, onionPacket, nil,
		n.defaultParams.LocktimeExpiryDelta, currentHeight)
	if err != nil {
		return 0, err
	}
	if err := n.transport.Send(ctx, entry.peerID, &lnwire.AddTlc{
		ChannelID: channelID, TlcID: tlcID, Amount: amount, PaymentHash: paymentHash,
		ExpiryLocktime: expiry, HashAlgorithm: algo, OnionPacket: onionPacket,
	}); err != nil {
		return 0, err
	}
	return tlcID, nil
}

var _ payment.ChannelDispatcher = (*Node)(nil)

func (n *Node) currentHeight(ctx context.Context) (uint64, error) {
	epoch, err := n.oracle.CurrentEpoch(ctx)
	if err != nil {
		return 0, err
	}
	return epoch.Height, nil
}

// CurrentHeight exposes the chain oracle's current height to callers
// outside this package (the rpc server's send_payment handler needs it
// to resolve a route's CLTV constraints).
func (n *Node) CurrentHeight(ctx context.Context) (uint64, error) {
	return n.currentHeight(ctx)
}

// Identity's Pubkey is exported directly; Graph exposes the underlying
// NetworkGraph for read-only introspection.
func (n *Node) Graph() *routing.Graph { return n.graph }

// HandleAddTlc processes an inbound TLC offer: it records our side of
// the TLC, peels the onion packet, and either resolves it locally (if
// we're the final hop) or forwards it per the peeled instructions
// (spec.md 4.4). With no sphinxRouter configured it falls back to the
// plaintext DefaultEnvelope format instead of a layered Sphinx packet.
func (n *Node) HandleAddTlc(ctx context.Context, peerID fbtypes.PeerId, m *lnwire.AddTlc) error {
	entry, ok := n.lookup(m.ChannelID)
	if !ok || entry.peerID != peerID {
		return ferrors.New(ferrors.CodeUnknownChannel, "add_tlc: unknown channel %s", m.ChannelID)
	}

	if err := entry.actor.ReceiveTlc(m.TlcID, m.Amount, m.PaymentHash, m.ExpiryLocktime, m.HashAlgorithm, m.OnionPacket); err != nil {
		return err
	}

	if n.sphinxRouter != nil {
		payload, isFinalHop, nextPacket, err := payment.Peel(n.sphinxRouter, m.OnionPacket, m.PaymentHash)
		if err != nil {
			return err
		}
		if isFinalHop {
			return n.settleFinalHop(ctx, m)
		}
		return n.forwardTlcOnion(ctx, peerID, m, payload, nextPacket)
	}

	env, err := payment.DecodeDefaultEnvelope(m.OnionPacket)
	if err != nil {
		return err
	}
	if len(env.Route) == 0 {
		return n.settleFinalHop(ctx, m)
	}
	return n.forwardTlc(ctx, peerID, m, env)
}

// settleFinalHop releases the preimage for a TLC addressed to this
// node, if one is on file (spec.md 4.4: the recipient fulfills once it
// recognizes payment_hash as its own invoice).
func (n *Node) settleFinalHop(ctx context.Context, m *lnwire.AddTlc) error {
	preimageRaw, found, err := n.store.GetInvoicePreimage(m.PaymentHash[:])
	if err != nil {
		return err
	}

	entry, _ := n.lookup(m.ChannelID)
	if !found {
		code := ferrors.CodeUnknownTlc
		reason := lnwallet.RemoveTlcReason{FailCode: &code}
		if _, err := entry.actor.RemoveReceivedTlc(m.TlcID, reason); err != nil {
			return err
		}
		wireCode := uint32(code)
		return n.transport.Send(ctx, entry.peerID, &lnwire.RemoveTlc{ChannelID: m.ChannelID, TlcID: m.TlcID, FailCode: &wireCode})
	}

	var preimage fbtypes.Hash256
	copy(preimage[:], preimageRaw)
	reason := lnwallet.RemoveTlcReason{Fulfill: &preimage}
	if _, err := entry.actor.RemoveReceivedTlc(m.TlcID, reason); err != nil {
		return err
	}
	return n.transport.Send(ctx, entry.peerID, &lnwire.RemoveTlc{ChannelID: m.ChannelID, TlcID: m.TlcID, Fulfill: &preimage})
}

// forwardTlc offers a TLC on the next hop's channel, recording a
// circuit so the eventual Fulfill/Fail can be propagated back to
// whoever sent us this one. peerID is whoever sent us m, recorded as
// the circuit's previous hop.
func (n *Node) forwardTlc(ctx context.Context, peerID fbtypes.PeerId, m *lnwire.AddTlc, env payment.DefaultEnvelope) error {
	nextHop := env.Route[0]
	nextEntry, ok := n.lookup(nextHop.ChannelID)
	if !ok {
		return n.failInbound(ctx, m, ferrors.CodeUnknownChannel)
	}

	remainder := payment.DefaultEnvelope{
		Route:          env.Route[1:],
		PaymentHash:    env.PaymentHash,
		FinalAmount:    env.FinalAmount,
		FinalCltvDelta: env.FinalCltvDelta,
	}
	nextPacket, err := remainder.Encode()
	if err != nil {
		return err
	}

	currentHeight, err := n.currentHeight(ctx)
	if err != nil {
		return err
	}
	forwardAmount := m.Amount.Sub(nextHop.FeeAmount)
	previousHop := &lnwallet.PreviousHop{PeerID: peerID, ChannelID: m.ChannelID, TlcID: m.TlcID}

	outgoingTlcID, err := nextEntry.actor.AddTlc(forwardAmount, m.PaymentHash, m.ExpiryLocktime, m.HashAlgorithm,
		nextPacket, previousHop, n.defaultParams.LocktimeExpiryDelta, currentHeight)
	if err != nil {
		return n.failInbound(ctx, m, ferrors.CodeInsufficientBalance)
	}

	if err := n.circuits.Add(&htlcswitch.Circuit{
		Incoming:    htlcswitch.CircuitKey{ChannelID: m.ChannelID, TlcID: m.TlcID},
		Outgoing:    htlcswitch.CircuitKey{ChannelID: nextHop.ChannelID, TlcID: outgoingTlcID},
		PaymentHash: m.PaymentHash,
	}); err != nil {
		return err
	}

	return n.transport.Send(ctx, nextEntry.peerID, &lnwire.AddTlc{
		ChannelID: nextHop.ChannelID, TlcID: outgoingTlcID, Amount: forwardAmount,
		PaymentHash: m.PaymentHash, ExpiryLocktime: m.ExpiryLocktime, HashAlgorithm: m.HashAlgorithm,
		OnionPacket: nextPacket,
	})
}

// forwardTlcOnion offers a TLC on the next hop's channel using a
// peeled Sphinx payload, mirroring forwardTlc but driven by what the
// onion told us rather than a plaintext route: payload.ForwardAmount
// is already net of our own fee, and nextPacket is the re-encrypted
// packet for the hop after us -- we never see the amounts or channels
// beyond the next one (spec.md 4.4 step 3).
func (n *Node) forwardTlcOnion(ctx context.Context, peerID fbtypes.PeerId, m *lnwire.AddTlc, payload payment.HopPayload, nextPacket []byte) error {
	nextEntry, ok := n.lookup(payload.NextChannelID)
	if !ok {
		return n.failInbound(ctx, m, ferrors.CodeUnknownChannel)
	}

	currentHeight, err := n.currentHeight(ctx)
	if err != nil {
		return err
	}
	previousHop := &lnwallet.PreviousHop{PeerID: peerID, ChannelID: m.ChannelID, TlcID: m.TlcID}

	outgoingTlcID, err := nextEntry.actor.AddTlc(payload.ForwardAmount, m.PaymentHash, m.ExpiryLocktime, m.HashAlgorithm,
		nextPacket, previousHop, n.defaultParams.LocktimeExpiryDelta, currentHeight)
	if err != nil {
		return n.failInbound(ctx, m, ferrors.CodeInsufficientBalance)
	}

	if err := n.circuits.Add(&htlcswitch.Circuit{
		Incoming:    htlcswitch.CircuitKey{ChannelID: m.ChannelID, TlcID: m.TlcID},
		Outgoing:    htlcswitch.CircuitKey{ChannelID: payload.NextChannelID, TlcID: outgoingTlcID},
		PaymentHash: m.PaymentHash,
	}); err != nil {
		return err
	}

	return n.transport.Send(ctx, nextEntry.peerID, &lnwire.AddTlc{
		ChannelID: payload.NextChannelID, TlcID: outgoingTlcID, Amount: payload.ForwardAmount,
		PaymentHash: m.PaymentHash, ExpiryLocktime: m.ExpiryLocktime, HashAlgorithm: m.HashAlgorithm,
		OnionPacket: nextPacket,
	})
}

func (n *Node) failInbound(ctx context.Context, m *lnwire.AddTlc, code ferrors.Code) error {
	entry, ok := n.lookup(m.ChannelID)
	if !ok {
		return ferrors.New(ferrors.CodeUnknownChannel, "unknown channel %s", m.ChannelID)
	}
	reason := lnwallet.RemoveTlcReason{FailCode: &code}
	if _, err := entry.actor.RemoveReceivedTlc(m.TlcID, reason); err != nil {
		return err
	}
	failCode := uint32(code)
	return n.transport.Send(ctx, entry.peerID, &lnwire.RemoveTlc{ChannelID: m.ChannelID, TlcID: m.TlcID, FailCode: &failCode})
}

// HandleRemoveTlc resolves a TLC this node offered, propagating the
// outcome back along the circuit it was forwarded on, or -- if it has
// no circuit -- treating it as the resolution of a payment this node
// itself originated.
func (n *Node) HandleRemoveTlc(peerID fbtypes.PeerId, m *lnwire.RemoveTlc) error {
	entry, ok := n.lookup(m.ChannelID)
	if !ok || entry.peerID != peerID {
		return ferrors.New(ferrors.CodeUnknownChannel, "remove_tlc: unknown channel %s", m.ChannelID)
	}

	reason := lnwallet.RemoveTlcReason{Fulfill: m.Fulfill}
	if m.FailCode != nil {
		code := ferrors.Code(*m.FailCode)
		reason = lnwallet.RemoveTlcReason{FailCode: &code}
	}
	tlc, err := entry.actor.RemoveOfferedTlc(m.TlcID, reason)
	if err != nil {
		return err
	}

	outgoingKey := htlcswitch.CircuitKey{ChannelID: m.ChannelID, TlcID: m.TlcID}
	circuit, err := n.circuits.LookupByOutgoing(outgoingKey)
	if err != nil {
		// No circuit: this TLC was originated locally by a payment
		// session, not forwarded on behalf of an upstream hop.
		return n.reportPaymentResult(context.Background(), tlc.PaymentHash, m)
	}
	defer n.circuits.Remove(outgoingKey)

	upstream, ok := n.lookup(circuit.Incoming.ChannelID)
	if !ok {
		return ferrors.New(ferrors.CodeUnknownChannel, "remove_tlc: upstream channel %s gone", circuit.Incoming.ChannelID)
	}
	if _, err := upstream.actor.RemoveReceivedTlc(circuit.Incoming.TlcID, reason); err != nil {
		return err
	}

	return n.transport.Send(context.Background(), upstream.peerID, &lnwire.RemoveTlc{
		ChannelID: circuit.Incoming.ChannelID, TlcID: circuit.Incoming.TlcID,
		Fulfill: m.Fulfill, FailCode: m.FailCode,
	})
}

// reportPaymentResult notifies the attached payment.Manager, if any, of
// the terminal outcome of a TLC this node originated. A nil handler
// means no payment manager is attached (e.g. a pure forwarding node),
// which isn't an error.
func (n *Node) reportPaymentResult(ctx context.Context, paymentHash fbtypes.Hash256, m *lnwire.RemoveTlc) error {
	if n.paymentResults == nil {
		return nil
	}
	if m.FailCode != nil {
		height, err := n.currentHeight(ctx)
		if err != nil {
			return err
		}
		reason := fmt.Sprintf("hop reported failure code %d", *m.FailCode)
		return n.paymentResults.HandleFail(paymentHash, reason, height, nowMicros())
	}
	return n.paymentResults.HandleFulfill(paymentHash, nowMicros())
}

// --- gossip --------------------------------------------------------------

// HandleNodeAnnouncement folds a gossiped node record into the graph.
func (n *Node) HandleNodeAnnouncement(m *lnwire.NodeAnnouncementMsg) error {
	return n.graph.ApplyNodeAnnouncement(&routing.NodeInfo{
		NodeID: m.NodeID, Alias: m.Alias, Addresses: m.Addresses,
		Timestamp: m.Timestamp, Signature: m.Signature,
	})
}

// HandleChannelAnnouncement folds a gossiped channel record into the
// graph.
func (n *Node) HandleChannelAnnouncement(m *lnwire.ChannelAnnouncementMsg) error {
	return n.graph.ApplyChannelAnnouncement(&routing.ChannelInfo{
		ChannelID: m.ChannelID, Node1: m.Node1, Node2: m.Node2,
		Capacity: m.Capacity, BlockHeight: m.BlockHeight,
		Node1Sig: m.Node1Sig, Node2Sig: m.Node2Sig,
	})
}

// HandleChannelUpdate folds a gossiped policy update into the graph.
// ChannelUpdateMsg doesn't carry its signer's pubkey directly (only the
// channel id), so this tries the channel's two endpoints in turn and
// applies against whichever one the signature verifies against.
func (n *Node) HandleChannelUpdate(m *lnwire.ChannelUpdateMsg) error {
	info, ok := n.graph.Channel(m.ChannelID)
	if !ok {
		return ferrors.New(ferrors.CodeUnknownChannel, "channel_update: unknown channel %s", m.ChannelID)
	}

	update := &routing.ChannelUpdate{
		ChannelID: m.ChannelID, Timestamp: m.Timestamp, Disabled: m.Disabled,
		CltvExpiryDelta: m.CltvExpiryDelta, HtlcMinimum: m.HtlcMinimum,
		FeeBaseMsat: m.FeeBaseMsat, FeeProportional: m.FeeProportional, Signature: m.Signature,
	}

	err1 := n.graph.ApplyChannelUpdateFrom(info.Node1, update)
	if err1 == nil {
		return nil
	}
	err2 := n.graph.ApplyChannelUpdateFrom(info.Node2, update)
	if err2 == nil {
		return nil
	}
	return err1
}

func randomHash(out *fbtypes.Hash256) error {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return ferrors.NewFatal("network: generate channel id: %v", err)
	}
	*out = sha256.Sum256(seed)
	return nil
}

// logClosure defers an expensive dump (spew.Sdump on a whole wire
// message) until the logger actually formats it, so the cost isn't
// paid when the subsystem is below trace level.
type logClosure func() string

func (c logClosure) String() string { return c() }

func newLogClosure(c func() string) logClosure { return logClosure(c) }
