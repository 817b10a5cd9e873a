// Package payment implements PaymentSession, the per-payment orchestrator
// from spec.md 4.4: consult the graph for a route, build an onion packet,
// issue the first-hop AddTlc, and track the session through to Success or
// Failed. Grounded on htlcswitch's pendingPayment/ControlTower idea (track
// one outstanding attempt per payment hash, transition on Fulfill/Fail) but
// rebuilt around this module's route search and channel-actor dispatch
// instead of the teacher's lnrpc-era SendPayment RPC loop.
package payment

import (
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/EthanYuan/fiber/fbtypes"
	"github.com/EthanYuan/fiber/ferrors"
	"github.com/EthanYuan/fiber/routing"
)

// Status is a payment session's lifecycle phase.
type Status uint8

const (
	StatusInflight Status = iota
	StatusSuccess
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusInflight:
		return "Inflight"
	case StatusSuccess:
		return "Success"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Request carries SendPayment's parameters, per spec.md 4.4: "Request
// carries either an invoice (from which payment_hash, amount, target are
// extracted) or explicit fields. keysend mode allows omitting payment_hash
// and generates one from a fresh random preimage. allow_self_payment gates
// the source==target case."
type Request struct {
	TargetPubkey        fbtypes.Pubkey
	Amount              fbtypes.Amount
	PaymentHash         *fbtypes.Hash256
	Keysend             bool
	AllowSelfPayment    bool
	MaxFeeAmount        fbtypes.Amount
	MaxParts            uint32
	FinalCltvDelta      uint16
	TimeoutMicroseconds uint64
}

// Session is the persisted record of one payment attempt.
type Session struct {
	PaymentHash             fbtypes.Hash256 `json:"payment_hash"`
	Amount                  fbtypes.Amount  `json:"amount"`
	TargetPubkey            fbtypes.Pubkey  `json:"target_pubkey"`
	Status                  Status          `json:"status"`
	Route                   []routing.Hop   `json:"route,omitempty"`
	FirstHopChannelID       fbtypes.Hash256 `json:"first_hop_channel_id,omitempty"`
	FirstHopTlcID           uint64          `json:"first_hop_tlc_id,omitempty"`
	KeysendPreimage         *fbtypes.Hash256 `json:"keysend_preimage,omitempty"`
	FailedError             string          `json:"failed_error,omitempty"`
	CreatedAtMicroseconds   uint64          `json:"created_at_microseconds"`
	LastUpdatedAtMicroseconds uint64        `json:"last_updated_at_microseconds"`
	TimeoutMicroseconds     uint64          `json:"timeout_microseconds,omitempty"`
	// RetryPolicy bounds how many times HandleFail will re-route this
	// session instead of giving up. Attempts counts every AddTlc issued
	// so far, including the first; ExcludedChannels accumulates the
	// first-hop channel id of each failed attempt so the next route search
	// avoids it. The hop that actually failed is not identified.
	RetryPolicy      RetryPolicy       `json:"retry_policy"`
	Attempts         uint32            `json:"attempts"`
	ExcludedChannels []fbtypes.Hash256 `json:"excluded_channels,omitempty"`
	FinalCltvDelta   uint16            `json:"final_cltv_delta,omitempty"`
	MaxFeeAmount     fbtypes.Amount    `json:"max_fee_amount,omitempty"`
}

// RetryPolicy bounds SendPayment's retry behavior after a downstream
// failure, per spec.md 4.4 step 6: "bounded retry with pruned routes."
// MaxAttempts counts the first attempt, so MaxAttempts of 1 disables
// retrying entirely.
type RetryPolicy struct {
	MaxAttempts uint32
}

// defaultMaxAttempts caps retries when the caller didn't ask for a
// specific number of parallel attempts via max_parts.
const defaultMaxAttempts = 3

// retryPolicyFor derives a RetryPolicy from Request.MaxParts: a caller
// that asked for up to N parts is understood to tolerate up to N routing
// attempts for this (non-MPP) session before giving up.
func retryPolicyFor(maxParts uint32) RetryPolicy {
	if maxParts > 1 {
		return RetryPolicy{MaxAttempts: maxParts}
	}
	return RetryPolicy{MaxAttempts: defaultMaxAttempts}
}

func (s *Session) MarshalBinary() ([]byte, error)  { return json.Marshal(s) }
func (s *Session) UnmarshalBinary(data []byte) error { return json.Unmarshal(data, s) }

// Result is what SendPayment/GetPayment return to the RPC layer.
type Result struct {
	PaymentHash               fbtypes.Hash256
	Status                    Status
	FailedError               string
	CreatedAtMicroseconds     uint64
	LastUpdatedAtMicroseconds uint64
}

// Store is the persistence surface Manager needs; satisfied by
// *channeldb.Store.
type Store interface {
	InsertPaymentSession(paymentHash []byte, session interface {
		MarshalBinary() ([]byte, error)
	}) error
	GetPaymentSession(paymentHash []byte, out interface {
		UnmarshalBinary([]byte) error
	}) (bool, error)
}

// ChannelDispatcher is the first-hop handoff Manager needs: issuing an
// AddTlc against the ChannelActor owning a given channel id. Kept as a
// narrow interface rather than a direct channelactor dependency so payment
// doesn't need to know how channel actors are looked up -- that's the
// NetworkActor's job (spec.md 4.5).
type ChannelDispatcher interface {
	AddTlc(channelID fbtypes.Hash256, amount fbtypes.Amount, paymentHash fbtypes.Hash256,
		expiry fbtypes.LockTime, algo fbtypes.HashAlgorithm, onionPacket []byte) (uint64, error)
}

// OnionBuilder constructs the onion packet for a resolved route, addressed
// to paymentHash with the given final-hop amount and cltv delta.
type OnionBuilder func(route []routing.Hop, paymentHash fbtypes.Hash256,
	finalAmount fbtypes.Amount, finalCltvDelta uint16) ([]byte, error)

// Manager orchestrates SendPayment/GetPayment over a NetworkGraph, a
// ChannelDispatcher for the first hop, and the Store for session records.
type Manager struct {
	store      Store
	graph      *routing.Graph
	dispatch   ChannelDispatcher
	buildOnion OnionBuilder
	source     fbtypes.Pubkey
}

// NewManager builds a payment Manager. buildOnion may be nil, in which case
// onion payloads are a plain JSON encoding of the route (suitable for tests
// and single-process deployments without per-hop mix-net privacy).
func NewManager(store Store, graph *routing.Graph, dispatch ChannelDispatcher,
	source fbtypes.Pubkey, buildOnion OnionBuilder) *Manager {

	if buildOnion == nil {
		buildOnion = defaultOnionBuilder
	}
	return &Manager{store: store, graph: graph, dispatch: dispatch, source: source, buildOnion: buildOnion}
}

// DefaultEnvelope is the wire shape defaultOnionBuilder produces: the
// entire remaining route in the clear, rather than a layered Sphinx
// packet. A forwarding node decodes it with DecodeDefaultEnvelope,
// peels off its own hop, and re-encodes the remainder for the next one.
// Suitable for tests and single-process deployments without per-hop
// mix-net privacy; real deployments should supply a sphinx-backed
// OnionBuilder (see onion.go) instead.
type DefaultEnvelope struct {
	Route          []routing.Hop   `json:"route"`
	PaymentHash    fbtypes.Hash256 `json:"payment_hash"`
	FinalAmount    fbtypes.Amount  `json:"final_amount"`
	FinalCltvDelta uint16          `json:"final_cltv_delta"`
}

// DecodeDefaultEnvelope parses an onion packet produced by
// defaultOnionBuilder.
func DecodeDefaultEnvelope(raw []byte) (DefaultEnvelope, error) {
	var env DefaultEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return DefaultEnvelope{}, ferrors.New(ferrors.CodeProtocolViolation, "decode onion envelope: %v", err)
	}
	return env, nil
}

// Encode re-serializes env, used by a forwarding hop to pass the
// remaining route on to the next one.
func (env DefaultEnvelope) Encode() ([]byte, error) {
	return json.Marshal(env)
}

func defaultOnionBuilder(route []routing.Hop, paymentHash fbtypes.Hash256,
	finalAmount fbtypes.Amount, finalCltvDelta uint16) ([]byte, error) {

	return DefaultEnvelope{
		Route:          route,
		PaymentHash:    paymentHash,
		FinalAmount:    finalAmount,
		FinalCltvDelta: finalCltvDelta,
	}.Encode()
}

// totalAmountAndExpiry sums the fees and cltv deltas a route accumulates,
// returning what the sender must commit at the first hop: amount plus every
// downstream fee, and the total locktime delta plus the final cltv delta.
func totalAmountAndExpiry(route []routing.Hop, amount fbtypes.Amount, finalCltvDelta uint16, currentHeight uint64) (fbtypes.Amount, fbtypes.LockTime) {
	total := amount
	var cltv uint64 = uint64(finalCltvDelta)
	for _, hop := range route {
		total = total.Add(hop.FeeAmount)
		cltv += uint64(hop.CltvExpiryDelta)
	}
	return total, fbtypes.LockTime(currentHeight + cltv)
}

// SendPayment creates a new session and issues the first-hop AddTlc, per
// spec.md 4.4's lifecycle.
func (m *Manager) SendPayment(req Request, currentHeight, nowMicros uint64) (*Result, error) {
	if req.PaymentHash != nil && req.Keysend {
		return nil, ferrors.New(ferrors.CodeInvalidParameter, "send_payment: payment_hash and keysend are mutually exclusive")
	}
	if req.PaymentHash == nil && !req.Keysend {
		return nil, ferrors.New(ferrors.CodeInvalidParameter, "send_payment: requires payment_hash or keysend")
	}
	if m.source.Equal(req.TargetPubkey) && !req.AllowSelfPayment {
		return nil, ferrors.New(ferrors.CodeInvalidParameter, "send_payment: self-payment requires allow_self_payment")
	}

	var paymentHash fbtypes.Hash256
	var keysendPreimage *fbtypes.Hash256
	if req.Keysend {
		var preimage fbtypes.Hash256
		if _, err := rand.Read(preimage[:]); err != nil {
			return nil, ferrors.NewFatal("send_payment: generate keysend preimage: %v", err)
		}
		keysendPreimage = &preimage
		paymentHash = fbtypes.HashAlgorithmSha256.Digest(preimage)
	} else {
		paymentHash = *req.PaymentHash
	}

	route, err := m.graph.FindRoute(m.source, req.TargetPubkey, req.Amount, routing.RouteConstraints{
		MaxFeeAmount:   req.MaxFeeAmount,
		FinalCltvDelta: req.FinalCltvDelta,
	})
	if err != nil {
		return nil, err
	}

	session := &Session{
		PaymentHash:               paymentHash,
		Amount:                    req.Amount,
		TargetPubkey:              req.TargetPubkey,
		Status:                    StatusInflight,
		Route:                     route,
		KeysendPreimage:           keysendPreimage,
		CreatedAtMicroseconds:     nowMicros,
		LastUpdatedAtMicroseconds: nowMicros,
		TimeoutMicroseconds:       req.TimeoutMicroseconds,
		RetryPolicy:               retryPolicyFor(req.MaxParts),
		Attempts:                  1,
		FinalCltvDelta:            req.FinalCltvDelta,
		MaxFeeAmount:              req.MaxFeeAmount,
	}
	if len(route) > 0 {
		session.FirstHopChannelID = route[0].ChannelID
	}

	if err := m.store.InsertPaymentSession(paymentHash[:], session); err != nil {
		return nil, err
	}

	firstHopAmount, expiry := totalAmountAndExpiry(route, req.Amount, req.FinalCltvDelta, currentHeight)
	onionPacket, err := m.buildOnion(route, paymentHash, req.Amount, req.FinalCltvDelta)
	if err != nil {
		return m.fail(session, fmt.Sprintf("build onion packet: %v", err))
	}

	tlcID, err := m.dispatch.AddTlc(session.FirstHopChannelID, firstHopAmount, paymentHash,
		expiry, fbtypes.HashAlgorithmSha256, onionPacket)
	if err != nil {
		return m.fail(session, err.Error())
	}
	session.FirstHopTlcID = tlcID

	if err := m.store.InsertPaymentSession(paymentHash[:], session); err != nil {
		return nil, err
	}

	return &Result{
		PaymentHash:               paymentHash,
		Status:                    StatusInflight,
		CreatedAtMicroseconds:     nowMicros,
		LastUpdatedAtMicroseconds: nowMicros,
	}, nil
}

// GetPayment returns the latest known state for paymentHash.
func (m *Manager) GetPayment(paymentHash fbtypes.Hash256) (*Result, error) {
	var session Session
	found, err := m.store.GetPaymentSession(paymentHash[:], &session)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ferrors.New(ferrors.CodeInvalidParameter, "no payment session for hash %s", paymentHash)
	}
	return &Result{
		PaymentHash:               session.PaymentHash,
		Status:                    session.Status,
		FailedError:               session.FailedError,
		CreatedAtMicroseconds:     session.CreatedAtMicroseconds,
		LastUpdatedAtMicroseconds: session.LastUpdatedAtMicroseconds,
	}, nil
}

// HandleFulfill transitions an Inflight session to Success once the
// preimage has propagated back through every hop.
func (m *Manager) HandleFulfill(paymentHash fbtypes.Hash256, nowMicros uint64) error {
	var session Session
	found, err := m.store.GetPaymentSession(paymentHash[:], &session)
	if err != nil {
		return err
	}
	if !found {
		return ferrors.New(ferrors.CodeInvalidParameter, "no payment session for hash %s", paymentHash)
	}
	session.Status = StatusSuccess
	session.LastUpdatedAtMicroseconds = nowMicros
	return m.store.InsertPaymentSession(paymentHash[:], &session)
}

// HandleFail reports that the attempt currently in flight for paymentHash
// failed. Per spec.md 4.4 step 6, a failure doesn't fail the whole
// payment outright: the failed attempt's first-hop channel is excluded
// from the next route search and, if the session's RetryPolicy still
// allows another attempt, a fresh route is found around it and a new TLC
// is issued. The onion error is not decoded, so the failing hop itself
// is not identified. Only once retries
// are exhausted or no route remains does the session move to Failed.
func (m *Manager) HandleFail(paymentHash fbtypes.Hash256, reason string, currentHeight, nowMicros uint64) error {
	var session Session
	found, err := m.store.GetPaymentSession(paymentHash[:], &session)
	if err != nil {
		return err
	}
	if !found {
		return ferrors.New(ferrors.CodeInvalidParameter, "no payment session for hash %s", paymentHash)
	}
	if session.Status != StatusInflight {
		// A resolution already landed for this payment hash (another
		// part settled or this is a duplicate/late failure report);
		// nothing left to retry.
		return nil
	}

	if !session.FirstHopChannelID.IsZero() {
		session.ExcludedChannels = append(session.ExcludedChannels, session.FirstHopChannelID)
	}
	session.LastUpdatedAtMicroseconds = nowMicros

	if session.RetryPolicy.MaxAttempts == 0 {
		session.RetryPolicy = retryPolicyFor(0)
	}
	if session.Attempts >= session.RetryPolicy.MaxAttempts {
		return m.failSession(&session, reason)
	}

	excluded := make(map[fbtypes.Hash256]bool, len(session.ExcludedChannels))
	for _, id := range session.ExcludedChannels {
		excluded[id] = true
	}

	route, err := m.graph.FindRoute(m.source, session.TargetPubkey, session.Amount, routing.RouteConstraints{
		MaxFeeAmount:    session.MaxFeeAmount,
		FinalCltvDelta:  session.FinalCltvDelta,
		ExcludeChannels: excluded,
	})
	if err != nil {
		return m.failSession(&session, fmt.Sprintf("retry: %v", err))
	}

	onionPacket, err := m.buildOnion(route, paymentHash, session.Amount, session.FinalCltvDelta)
	if err != nil {
		return m.failSession(&session, fmt.Sprintf("retry: build onion packet: %v", err))
	}

	firstHopAmount, expiry := totalAmountAndExpiry(route, session.Amount, session.FinalCltvDelta, currentHeight)
	tlcID, err := m.dispatch.AddTlc(route[0].ChannelID, firstHopAmount, paymentHash,
		expiry, fbtypes.HashAlgorithmSha256, onionPacket)
	if err != nil {
		return m.failSession(&session, fmt.Sprintf("retry: %v", err))
	}

	session.Route = route
	session.FirstHopChannelID = route[0].ChannelID
	session.FirstHopTlcID = tlcID
	session.Attempts++
	return m.store.InsertPaymentSession(paymentHash[:], &session)
}

// ExpireIfTimedOut fails an Inflight session whose timeout has elapsed as
// of nowMicros, per spec.md 4.4 step 7. Returns whether it expired the
// session.
func (m *Manager) ExpireIfTimedOut(paymentHash fbtypes.Hash256, nowMicros uint64) (bool, error) {
	var session Session
	found, err := m.store.GetPaymentSession(paymentHash[:], &session)
	if err != nil {
		return false, err
	}
	if !found || session.Status != StatusInflight || session.TimeoutMicroseconds == 0 {
		return false, nil
	}
	if nowMicros < session.CreatedAtMicroseconds+session.TimeoutMicroseconds {
		return false, nil
	}
	session.LastUpdatedAtMicroseconds = nowMicros
	return true, m.failSession(&session, "payment timed out")
}

func (m *Manager) fail(session *Session, reason string) (*Result, error) {
	if err := m.failSession(session, reason); err != nil {
		return nil, err
	}
	return &Result{PaymentHash: session.PaymentHash, Status: StatusFailed, FailedError: reason}, nil
}

// failSession marks session Failed and persists it, used both by
// SendPayment's initial-attempt failures and by HandleFail once retries
// are exhausted or no further route exists.
func (m *Manager) failSession(session *Session, reason string) error {
	session.Status = StatusFailed
	session.FailedError = reason
	return m.store.InsertPaymentSession(session.PaymentHash[:], session)
}
